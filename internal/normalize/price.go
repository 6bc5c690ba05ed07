package normalize

import (
	"regexp"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// DefaultCurrency prefixes formatted prices.
const DefaultCurrency = "₹"

var (
	amountRe = regexp.MustCompile(`\d[\d,]*(?:\.\d+)?`)
	// Text between the two ends of a range: "499 - 1299", "₹499 to ₹999".
	rangeGapRe = regexp.MustCompile(`^\s*(?:-|–|—|to)\s*(?:₹|rs\.?|inr|\$|€|£)?\s*$`)
	// Numbers that count something rather than price it.
	countAfterRe  = regexp.MustCompile(`^\s*%|^\s*(?:people|persons?|pax|adults?|kids?|guests?|tickets?|seats?|nights?|hours?|hrs?|mins?)\b`)
	countBeforeRe = regexp.MustCompile(`\bfor\s*$`)
	markerRe      = regexp.MustCompile(`₹|\brs\b|\binr\b|\$|€|£`)
)

var currencyMarkers = []string{"₹", "rs.", "rs", "inr", "$", "€", "£"}

// FormatPrice turns a source price string into a display string, or nil when
// the source gave nothing usable. An unknown price is never rendered as zero.
//
//	"499"              -> "₹499"
//	"INR 499 - 1299"   -> "₹499 - ₹1,299"
//	"₹750 onwards"     -> "₹750 onwards"
//	"Free entry"       -> "Free"
//	"₹1,499 for 2 people" -> "₹1,499"
//
// A number counts as an amount when a currency marker precedes it, when it
// closes a range opened by an amount, or when it is the first number of a
// text that carries no currency marker at all. Percentages and counts
// ("for 2", "4 people") never do.
func FormatPrice(raw, currency string) *string {
	s := CleanText(raw)
	if s == "" {
		return nil
	}
	lower := strings.ToLower(s)
	amounts := priceAmounts(lower, strings.ToLower(currency))
	if len(amounts) == 0 {
		if strings.Contains(lower, "free") {
			return strPtr("Free")
		}
		return nil
	}

	lo, hi := amounts[0], amounts[0]
	for _, v := range amounts[1:] {
		lo = min(lo, v)
		hi = max(hi, v)
	}
	if hi == 0 {
		return strPtr("Free")
	}

	p := message.NewPrinter(language.English)
	out := currency + formatAmount(p, lo)
	if hi != lo {
		out += " - " + currency + formatAmount(p, hi)
	} else if strings.Contains(lower, "onward") {
		out += " onwards"
	}
	return &out
}

func priceAmounts(lower, currency string) []float64 {
	var (
		amounts []float64
		prevEnd = -1
		marked  = markerRe.MatchString(lower) || (currency != "" && strings.Contains(lower, currency))
	)
	for i, loc := range amountRe.FindAllStringIndex(lower, -1) {
		before, after := lower[:loc[0]], lower[loc[1]:]
		if countAfterRe.MatchString(after) || countBeforeRe.MatchString(before) {
			continue
		}
		accepted := (i == 0 && !marked) ||
			hasCurrencyMarker(before, currency) ||
			(prevEnd >= 0 && rangeGapRe.MatchString(lower[prevEnd:loc[0]]))
		if !accepted {
			continue
		}
		v, err := strconv.ParseFloat(strings.ReplaceAll(lower[loc[0]:loc[1]], ",", ""), 64)
		if err != nil {
			continue
		}
		amounts = append(amounts, v)
		prevEnd = loc[1]
	}
	return amounts
}

// hasCurrencyMarker reports whether before ends with a currency sign or code.
func hasCurrencyMarker(before, currency string) bool {
	before = strings.TrimRight(before, " :")
	markers := currencyMarkers
	if currency != "" {
		markers = append([]string{currency}, markers...)
	}
	for _, m := range markers {
		if !strings.HasSuffix(before, m) {
			continue
		}
		rest := before[:len(before)-len(m)]
		if r, _ := utf8.DecodeLastRuneInString(rest); rest == "" || !unicode.IsLetter(r) {
			return true
		}
	}
	return false
}

func formatAmount(p *message.Printer, v float64) string {
	if v == float64(int64(v)) {
		return p.Sprintf("%d", int64(v))
	}
	return p.Sprintf("%.2f", v)
}

func strPtr(s string) *string { return &s }
