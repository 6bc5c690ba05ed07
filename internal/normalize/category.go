package normalize

import (
	"strings"

	"github.com/alfredjeanlab/listings/internal/model"
)

// defaultCategories maps folded source category strings to the taxonomy.
// Multi-word keys are matched before single tokens.
var defaultCategories = map[string]model.Category{
	"concert":         model.CategoryConcerts,
	"concerts":        model.CategoryConcerts,
	"music":           model.CategoryConcerts,
	"live music":      model.CategoryConcerts,
	"music shows":     model.CategoryConcerts,
	"music festival":  model.CategoryConcerts,
	"gig":             model.CategoryConcerts,
	"gigs":            model.CategoryConcerts,
	"band":            model.CategoryConcerts,
	"orchestra":       model.CategoryConcerts,
	"classical music": model.CategoryConcerts,
	"concert hall":    model.CategoryConcerts,

	"comedy":          model.CategoryComedy,
	"stand up":        model.CategoryComedy,
	"standup":         model.CategoryComedy,
	"stand up comedy": model.CategoryComedy,
	"comedy shows":    model.CategoryComedy,
	"comedy club":     model.CategoryComedy,
	"open mic":        model.CategoryComedy,
	"improv":          model.CategoryComedy,

	"workshop":      model.CategoryWorkshops,
	"workshops":     model.CategoryWorkshops,
	"class":         model.CategoryWorkshops,
	"classes":       model.CategoryWorkshops,
	"masterclass":   model.CategoryWorkshops,
	"course":        model.CategoryWorkshops,
	"training":      model.CategoryWorkshops,
	"art and craft": model.CategoryWorkshops,
	"arts crafts":   model.CategoryWorkshops,

	"nightlife":  model.CategoryNightlife,
	"party":      model.CategoryNightlife,
	"parties":    model.CategoryNightlife,
	"club":       model.CategoryNightlife,
	"clubbing":   model.CategoryNightlife,
	"night club": model.CategoryNightlife,
	"dj":         model.CategoryNightlife,
	"bar":        model.CategoryNightlife,
	"pub":        model.CategoryNightlife,
	"lounge":     model.CategoryNightlife,

	"theatre":                 model.CategoryTheatre,
	"theater":                 model.CategoryTheatre,
	"theatre shows":           model.CategoryTheatre,
	"play":                    model.CategoryTheatre,
	"plays":                   model.CategoryTheatre,
	"drama":                   model.CategoryTheatre,
	"musical":                 model.CategoryTheatre,
	"dance":                   model.CategoryTheatre,
	"performing arts":         model.CategoryTheatre,
	"performing arts theater": model.CategoryTheatre,

	"sports":     model.CategorySports,
	"sport":      model.CategorySports,
	"cricket":    model.CategorySports,
	"football":   model.CategorySports,
	"marathon":   model.CategorySports,
	"running":    model.CategorySports,
	"fitness":    model.CategorySports,
	"stadium":    model.CategorySports,
	"esports":    model.CategorySports,
	"sports bar": model.CategoryNightlife,

	"movie":         model.CategoryOther,
	"movies":        model.CategoryOther,
	"film":          model.CategoryOther,
	"cinema":        model.CategoryOther,
	"movie theater": model.CategoryOther,
	"exhibition":    model.CategoryOther,
	"other":         model.CategoryOther,
}

// CategoryMapper resolves source categories into the closed taxonomy.
type CategoryMapper struct {
	table map[string]model.Category
}

// NewCategoryMapper returns a mapper over the default table extended by
// overrides. Override keys are folded; values must be taxonomy members.
func NewCategoryMapper(overrides map[string]model.Category) *CategoryMapper {
	table := make(map[string]model.Category, len(defaultCategories)+len(overrides))
	for k, v := range defaultCategories {
		table[k] = v
	}
	for k, v := range overrides {
		if v.IsValid() {
			table[Fold(k)] = v
		}
	}
	return &CategoryMapper{table: table}
}

// Map returns the taxonomy category for raw. known is false when nothing in
// the table matched and the record fell back to "other".
func (m *CategoryMapper) Map(raw string) (cat model.Category, known bool) {
	folded := Fold(raw)
	if folded == "" {
		return model.CategoryOther, false
	}
	if c, ok := m.table[folded]; ok {
		return c, true
	}
	tokens := strings.Fields(folded)
	// Longest phrases first, then single tokens, left to right.
	for size := len(tokens) - 1; size >= 1; size-- {
		for i := 0; i+size <= len(tokens); i++ {
			if c, ok := m.table[strings.Join(tokens[i:i+size], " ")]; ok {
				return c, true
			}
		}
	}
	return model.CategoryOther, false
}
