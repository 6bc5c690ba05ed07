package normalize

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// YearlessPolicy decides what happens to dates like "Sat, 14 Mar" that carry
// no year.
type YearlessPolicy string

const (
	// YearlessInferNext picks the next occurrence on or after the reference day.
	// A named weekday must agree with the chosen year.
	YearlessInferNext YearlessPolicy = "infer_next"
	// YearlessReject rejects the record as unparseable.
	YearlessReject YearlessPolicy = "reject"
)

// IsValid reports whether p is a known policy.
func (p YearlessPolicy) IsValid() bool {
	return p == YearlessInferNext || p == YearlessReject
}

type dateLayout struct {
	layout  string
	hasTime bool
	hasYear bool
	zoned   bool
}

// Order matters: the first layout that parses wins.
var dateLayouts = []dateLayout{
	{layout: time.RFC3339, hasTime: true, hasYear: true, zoned: true},
	{layout: "2006-01-02T15:04:05Z0700", hasTime: true, hasYear: true, zoned: true},
	{layout: time.RFC1123Z, hasTime: true, hasYear: true, zoned: true},
	{layout: time.RFC1123, hasTime: true, hasYear: true, zoned: true},
	{layout: "2006-01-02T15:04:05", hasTime: true, hasYear: true},
	{layout: "2006-01-02T15:04", hasTime: true, hasYear: true},
	{layout: "2006-01-02 15:04:05", hasTime: true, hasYear: true},
	{layout: "2006-01-02 15:04", hasTime: true, hasYear: true},
	{layout: "2006-01-02", hasYear: true},

	{layout: "Mon, 2 Jan 2006, 3:04 PM", hasTime: true, hasYear: true},
	{layout: "Mon, 2 Jan 2006 3:04 PM", hasTime: true, hasYear: true},
	{layout: "Mon 2 Jan 2006 3:04 PM", hasTime: true, hasYear: true},
	{layout: "2 Jan 2006, 3:04 PM", hasTime: true, hasYear: true},
	{layout: "2 Jan 2006 3:04 PM", hasTime: true, hasYear: true},
	{layout: "2 Jan 2006, 3 PM", hasTime: true, hasYear: true},
	{layout: "2 Jan 2006 3 PM", hasTime: true, hasYear: true},
	{layout: "2 Jan 2006 15:04", hasTime: true, hasYear: true},
	{layout: "Jan 2, 2006, 3:04 PM", hasTime: true, hasYear: true},
	{layout: "Jan 2, 2006 3:04 PM", hasTime: true, hasYear: true},
	{layout: "Mon, Jan 2, 2006, 3:04 PM", hasTime: true, hasYear: true},
	{layout: "Mon, Jan 2, 2006 3:04 PM", hasTime: true, hasYear: true},
	{layout: "Mon, 2 Jan 2006", hasYear: true},
	{layout: "Mon 2 Jan 2006", hasYear: true},
	{layout: "Mon, Jan 2, 2006", hasYear: true},
	{layout: "2 Jan 2006", hasYear: true},
	{layout: "2 Jan, 2006", hasYear: true},
	{layout: "Jan 2, 2006", hasYear: true},
	{layout: "Jan 2 2006", hasYear: true},
	{layout: "02/01/2006", hasYear: true},
	{layout: "02-01-2006", hasYear: true},

	{layout: "Mon, 2 Jan, 3:04 PM", hasTime: true},
	{layout: "Mon, 2 Jan 3:04 PM", hasTime: true},
	{layout: "Mon 2 Jan 3:04 PM", hasTime: true},
	{layout: "Mon, 2 Jan, 3 PM", hasTime: true},
	{layout: "2 Jan, 3:04 PM", hasTime: true},
	{layout: "2 Jan, 3 PM", hasTime: true},
	{layout: "2 Jan 3:04 PM", hasTime: true},
	{layout: "Mon, Jan 2, 3:04 PM", hasTime: true},
	{layout: "Jan 2, 3:04 PM", hasTime: true},
	{layout: "Jan 2 3:04 PM", hasTime: true},
	{layout: "Mon, 2 Jan"},
	{layout: "Mon 2 Jan"},
	{layout: "Mon, Jan 2"},
	{layout: "2 Jan"},
	{layout: "Jan 2"},
}

var (
	ordinalRe  = regexp.MustCompile(`(?i)\b(\d{1,2})(st|nd|rd|th)\b`)
	meridiemRe = regexp.MustCompile(`(?i)(\d)\s*(am|pm)\b`)
	dashRe     = regexp.MustCompile(`\s+[-–—|·]\s+|\s+to\s+`)
	epochRe    = regexp.MustCompile(`^\d{10}(\d{3})?$`)
	longNameRe = regexp.MustCompile(`(?i)\b(jan(uary)?|feb(ruary)?|mar(ch)?|apr(il)?|june?|july?|aug(ust)?|sep(t|tember)?|oct(ober)?|nov(ember)?|dec(ember)?|mon(day)?|tue(s|sday)?|wed(nesday)?|thu(rs|rsday)?|fri(day)?|sat(urday)?|sun(day)?)\b\.?`)
)

// ParsedDate is the outcome of ParseDate.
type ParsedDate struct {
	Time    time.Time
	HasTime bool
}

// ParseDate parses a source date string in loc. ref anchors year inference
// for dates without a year. Ranges such as "14 Mar - 16 Mar" resolve to
// their first date.
func ParseDate(raw string, ref time.Time, loc *time.Location, policy YearlessPolicy) (ParsedDate, error) {
	if loc == nil {
		loc = time.UTC
	}
	s := cleanDate(raw)
	if s == "" {
		return ParsedDate{}, fmt.Errorf("empty date")
	}
	if epochRe.MatchString(s) {
		n, err := strconv.ParseInt(s, 10, 64)
		if err == nil {
			if len(s) == 13 {
				return ParsedDate{Time: time.UnixMilli(n).In(loc), HasTime: true}, nil
			}
			return ParsedDate{Time: time.Unix(n, 0).In(loc), HasTime: true}, nil
		}
	}

	pd, err := parseLayouts(s, ref, loc, policy)
	if err == nil {
		return pd, nil
	}
	if parts := dashRe.Split(s, 2); len(parts) == 2 {
		if first, ferr := parseLayouts(strings.TrimSpace(parts[0]), ref, loc, policy); ferr == nil {
			return first, nil
		}
	}
	return ParsedDate{}, err
}

func parseLayouts(s string, ref time.Time, loc *time.Location, policy YearlessPolicy) (ParsedDate, error) {
	for _, l := range dateLayouts {
		t, err := time.ParseInLocation(l.layout, s, loc)
		if err != nil {
			continue
		}
		if l.zoned {
			t = t.In(loc)
		}
		if !l.hasYear {
			if policy != YearlessInferNext {
				return ParsedDate{}, fmt.Errorf("date %q has no year", s)
			}
			if wd, ok := leadingWeekday(s); ok && strings.HasPrefix(l.layout, "Mon") {
				t, err = inferYearOnWeekday(t, ref.In(loc), wd)
				if err != nil {
					return ParsedDate{}, fmt.Errorf("date %q: %w", s, err)
				}
			} else {
				t = inferYear(t, ref.In(loc))
			}
		}
		return ParsedDate{Time: t, HasTime: l.hasTime}, nil
	}
	return ParsedDate{}, fmt.Errorf("unrecognized date %q", s)
}

// inferYear places a year-less date on its next occurrence on or after
// ref's calendar day. Feb 29 moves to the next leap year.
func inferYear(t, ref time.Time) time.Time {
	refDay := time.Date(ref.Year(), ref.Month(), ref.Day(), 0, 0, 0, 0, ref.Location())
	for y := ref.Year(); y <= ref.Year()+8; y++ {
		c := time.Date(y, t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), 0, t.Location())
		if c.Month() != t.Month() {
			continue
		}
		day := time.Date(y, t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
		if !day.Before(refDay) {
			return c
		}
	}
	return time.Date(ref.Year()+1, t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), 0, t.Location())
}

// inferYearOnWeekday resolves a year-less date that names its weekday. Of
// the years around ref whose calendar puts the date on wd, it picks the
// first on or after ref's day, else the latest before it.
func inferYearOnWeekday(t, ref time.Time, wd time.Weekday) (time.Time, error) {
	refDay := time.Date(ref.Year(), ref.Month(), ref.Day(), 0, 0, 0, 0, ref.Location())
	var past *time.Time
	for y := ref.Year() - 1; y <= ref.Year()+1; y++ {
		c := time.Date(y, t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), 0, t.Location())
		if c.Month() != t.Month() || c.Weekday() != wd {
			continue
		}
		day := time.Date(y, t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
		if !day.Before(refDay) {
			return c, nil
		}
		past = &c
	}
	if past != nil {
		return *past, nil
	}
	return time.Time{}, fmt.Errorf("%d %s is not a %s in %d-%d", t.Day(), t.Month(), wd, ref.Year()-1, ref.Year()+1)
}

var weekdays = map[string]time.Weekday{
	"Sun": time.Sunday, "Mon": time.Monday, "Tue": time.Tuesday, "Wed": time.Wednesday,
	"Thu": time.Thursday, "Fri": time.Friday, "Sat": time.Saturday,
}

// leadingWeekday reads the abbreviated weekday a cleaned date starts with.
func leadingWeekday(s string) (time.Weekday, bool) {
	if len(s) < 3 {
		return 0, false
	}
	wd, ok := weekdays[s[:3]]
	return wd, ok
}

func cleanDate(raw string) string {
	s := CleanText(raw)
	s = ordinalRe.ReplaceAllString(s, "$1")
	s = longNameRe.ReplaceAllStringFunc(s, func(m string) string {
		return strings.ToUpper(m[:1]) + strings.ToLower(m[1:3])
	})
	s = meridiemRe.ReplaceAllStringFunc(s, func(m string) string {
		sub := meridiemRe.FindStringSubmatch(m)
		return sub[1] + " " + strings.ToUpper(sub[2])
	})
	return s
}

// FormatDate renders the human-readable display string for a parsed date.
func FormatDate(pd ParsedDate) string {
	if pd.HasTime {
		return pd.Time.Format("Mon, 2 Jan 2006, 3:04 PM")
	}
	return pd.Time.Format("Mon, 2 Jan 2006")
}
