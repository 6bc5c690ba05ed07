package normalize

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/alfredjeanlab/listings/internal/model"
)

var ist = time.FixedZone("IST", 5*3600+1800)

// ref is the reference "now" for year inference: 18 Oct 2026, 10:00 IST.
var ref = time.Date(2026, 10, 18, 10, 0, 0, 0, ist)

func TestFold(t *testing.T) {
	for _, tc := range []struct{ a, b string }{
		{"Standup Night — Forum Mall", "standup night, FORUM  mall"},
		{"Café Mocha", "cafe mocha"},
		{"  Rock   &  Roll! ", "rock roll"},
	} {
		if Fold(tc.a) != Fold(tc.b) {
			t.Errorf("Fold(%q) = %q, Fold(%q) = %q", tc.a, Fold(tc.a), tc.b, Fold(tc.b))
		}
	}
	if got := Fold("Standup Night — Forum Mall"); got != "standup night forum mall" {
		t.Errorf("Fold() = %q", got)
	}
}

func TestCategoryMapper(t *testing.T) {
	m := NewCategoryMapper(map[string]model.Category{
		"Pottery":  model.CategoryWorkshops,
		"Ignored!": model.Category("nope"),
	})
	for _, tc := range []struct {
		raw   string
		want  model.Category
		known bool
	}{
		{"Stand-up Comedy", model.CategoryComedy, true},
		{"Comedy Shows", model.CategoryComedy, true},
		{"performing_arts_theater", model.CategoryTheatre, true},
		{"LIVE MUSIC", model.CategoryConcerts, true},
		{"Sports Bar", model.CategoryNightlife, true},
		{"Weekend Cricket Screening", model.CategorySports, true},
		{"pottery", model.CategoryWorkshops, true},
		{"Ignored", model.CategoryOther, false},
		{"Astrology", model.CategoryOther, false},
		{"", model.CategoryOther, false},
	} {
		got, known := m.Map(tc.raw)
		if got != tc.want || known != tc.known {
			t.Errorf("Map(%q) = %s, %v; want %s, %v", tc.raw, got, known, tc.want, tc.known)
		}
	}
}

func TestParseDate(t *testing.T) {
	for _, tc := range []struct {
		name    string
		raw     string
		want    time.Time
		hasTime bool
	}{
		{"RFC3339", "2026-03-01T19:30:00+05:30", time.Date(2026, 3, 1, 19, 30, 0, 0, ist), true},
		{"RFC3339UTC", "2026-03-01T14:00:00Z", time.Date(2026, 3, 1, 19, 30, 0, 0, ist), true},
		{"ISODate", "2026-03-01", time.Date(2026, 3, 1, 0, 0, 0, 0, ist), false},
		{"Display", "Sun, 1st March 2026, 7:30pm", time.Date(2026, 3, 1, 19, 30, 0, 0, ist), true},
		{"MonthFirst", "March 1, 2026", time.Date(2026, 3, 1, 0, 0, 0, 0, ist), false},
		{"Range", "14 Mar 2026 - 16 Mar 2026", time.Date(2026, 3, 14, 0, 0, 0, 0, ist), false},
		{"YearlessNextYear", "14 Mar", time.Date(2027, 3, 14, 0, 0, 0, 0, ist), false},
		{"YearlessWeekdayNextYear", "Sun, 14 Mar", time.Date(2027, 3, 14, 0, 0, 0, 0, ist), false},
		{"YearlessWeekdayPastYear", "Sat, 14 Mar", time.Date(2026, 3, 14, 0, 0, 0, 0, ist), false},
		{"YearlessWeekdayWithTime", "Fri, 23 Oct, 9 PM", time.Date(2026, 10, 23, 21, 0, 0, 0, ist), true},
		{"YearlessThisYear", "20 Oct, 8 PM", time.Date(2026, 10, 20, 20, 0, 0, 0, ist), true},
		{"YearlessToday", "Sunday 18 October", time.Date(2026, 10, 18, 0, 0, 0, 0, ist), false},
		{"YearlessLeapDay", "29 Feb", time.Date(2028, 2, 29, 0, 0, 0, 0, ist), false},
		{"EpochSeconds", "1772373600", time.Unix(1772373600, 0).In(ist), true},
		{"EpochMillis", "1772373600000", time.Unix(1772373600, 0).In(ist), true},
	} {
		t.Run(tc.name, func(t *testing.T) {
			pd, err := ParseDate(tc.raw, ref, ist, YearlessInferNext)
			if err != nil {
				t.Fatalf("ParseDate(%q): %v", tc.raw, err)
			}
			if !pd.Time.Equal(tc.want) {
				t.Errorf("ParseDate(%q) = %v, want %v", tc.raw, pd.Time, tc.want)
			}
			if pd.HasTime != tc.hasTime {
				t.Errorf("ParseDate(%q).HasTime = %v, want %v", tc.raw, pd.HasTime, tc.hasTime)
			}
		})
	}
}

func TestParseDate_Errors(t *testing.T) {
	for _, raw := range []string{"", "soon", "next weekend", "32 Jan 2026"} {
		if _, err := ParseDate(raw, ref, ist, YearlessInferNext); err == nil {
			t.Errorf("ParseDate(%q) succeeded, want error", raw)
		}
	}
	if _, err := ParseDate("Mon, 14 Mar", ref, ist, YearlessInferNext); err == nil {
		t.Error("weekday that fits no nearby year accepted")
	}
	if _, err := ParseDate("Sat, 14 Mar", ref, ist, YearlessReject); err == nil {
		t.Error("year-less date accepted under reject policy")
	}
	if _, err := ParseDate("14 Mar 2027", ref, ist, YearlessReject); err != nil {
		t.Errorf("dated input rejected under reject policy: %v", err)
	}
}

func TestFormatDate(t *testing.T) {
	at := time.Date(2026, 3, 1, 19, 30, 0, 0, ist)
	if got := FormatDate(ParsedDate{Time: at, HasTime: true}); got != "Sun, 1 Mar 2026, 7:30 PM" {
		t.Errorf("FormatDate(with time) = %q", got)
	}
	if got := FormatDate(ParsedDate{Time: at}); got != "Sun, 1 Mar 2026" {
		t.Errorf("FormatDate(date only) = %q", got)
	}
}

func TestFormatPrice(t *testing.T) {
	for _, tc := range []struct {
		raw  string
		want string // "" means nil
	}{
		{"499", "₹499"},
		{"INR 499 - 1299", "₹499 - ₹1,299"},
		{"₹750 onwards", "₹750 onwards"},
		{"Rs. 1,299.50", "₹1,299.50"},
		{"Free entry", "Free"},
		{"0", "Free"},
		{"", ""},
		{"   ", ""},
		{"TBA", ""},
		{"₹499 onwards (incl. 18% GST)", "₹499 onwards"},
		{"₹1,499 for 2 people", "₹1,499"},
		{"2 people: ₹1,499", "₹1,499"},
		{"Doors 7pm, ₹300 - ₹600", "₹300 - ₹600"},
		{"Rs 250 to 400, 10% off", "₹250 - ₹400"},
		{"Starting 350", "₹350"},
		{"50% off", ""},
	} {
		got := FormatPrice(tc.raw, DefaultCurrency)
		switch {
		case tc.want == "" && got != nil:
			t.Errorf("FormatPrice(%q) = %q, want nil", tc.raw, *got)
		case tc.want != "" && got == nil:
			t.Errorf("FormatPrice(%q) = nil, want %q", tc.raw, tc.want)
		case tc.want != "" && *got != tc.want:
			t.Errorf("FormatPrice(%q) = %q, want %q", tc.raw, *got, tc.want)
		}
	}
}

func TestDerivedKey(t *testing.T) {
	day := time.Date(2026, 3, 1, 19, 30, 0, 0, ist)
	sameDayLater := time.Date(2026, 3, 1, 22, 0, 0, 0, ist)
	nextDay := day.Add(24 * time.Hour)

	k := DerivedKey("Standup Night", "Forum Mall", &day, ist)
	if !strings.HasPrefix(k, "h1:") || len(k) != 3+32 {
		t.Fatalf("DerivedKey() = %q", k)
	}
	if k2 := DerivedKey("STANDUP  night!", "forum mall", &sameDayLater, ist); k2 != k {
		t.Errorf("cosmetic differences changed the key: %q vs %q", k, k2)
	}
	if k3 := DerivedKey("Standup Night", "Forum Mall", &nextDay, ist); k3 == k {
		t.Error("different day produced the same key")
	}
	if DerivedKey("PVR Forum", "", nil, ist) == DerivedKey("PVR Forum", "Koramangala", nil, ist) {
		t.Error("different venue produced the same key")
	}
}

func TestKeyVersion(t *testing.T) {
	for _, tc := range []struct {
		key string
		ver int
		ok  bool
	}{
		{"h1:abcdef", 1, true},
		{"h12:abcdef", 12, true},
		{"bookmyshow:ET00412", 0, false},
		{"h:abc", 0, false},
		{"hx:abc", 0, false},
		{"noseparator", 0, false},
	} {
		ver, ok := DerivedKeyVersion(tc.key)
		if ver != tc.ver || ok != tc.ok {
			t.Errorf("DerivedKeyVersion(%q) = %d, %v", tc.key, ver, ok)
		}
	}
	if StableKey("tmdb", " 603 ") != "tmdb:603" {
		t.Errorf("StableKey() = %q", StableKey("tmdb", " 603 "))
	}
	if !ReservedSourceName("h2") || ReservedSourceName("insider") {
		t.Error("ReservedSourceName misclassified")
	}
}

func newTestNormalizer(policy YearlessPolicy) *Normalizer {
	return New(Options{
		Location:       ist,
		YearlessPolicy: policy,
		Now:            func() time.Time { return ref },
	})
}

func TestNormalize_Event(t *testing.T) {
	n := newTestNormalizer(YearlessInferNext)
	fetched := ref.Add(-time.Minute)
	res, err := n.Normalize("bookmyshow", model.RawRecord{
		SourceID:    "ET00412",
		Title:       "  Standup   Night ",
		RawDate:     "Sun, 1 Mar 2026, 7:30 PM",
		RawPrice:    "499",
		RawCategory: "Comedy Shows",
		RawURL:      "https://in.bookmyshow.com/events/standup-night/ET00412",
		VenueText:   "Forum Mall",
		Details:     map[string]string{"language": "Hindi"},
		FetchedAt:   fetched,
	})
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	r := res.Record
	if r.NaturalKey != "bookmyshow:ET00412" || r.Title != "Standup Night" || r.Category != model.CategoryComedy {
		t.Errorf("unexpected record: %+v", r)
	}
	if r.Kind != model.KindEvent || r.SourceName != "bookmyshow" || !r.IsActive || r.AffiliateURL != "" {
		t.Errorf("unexpected record: %+v", r)
	}
	if r.DateDisplay != "Sun, 1 Mar 2026, 7:30 PM" || r.Price() != "₹499" || !r.FetchedAt.Equal(fetched) {
		t.Errorf("unexpected display fields: %q %q", r.DateDisplay, r.Price())
	}
	if res.UnknownCategory {
		t.Error("known category flagged as unknown")
	}
	if err := model.ValidateRecord(r); err != nil {
		t.Errorf("normalized record fails validation: %v", err)
	}
}

func TestNormalize_DerivedKeyAndUnknownCategory(t *testing.T) {
	n := newTestNormalizer(YearlessInferNext)
	res, err := n.Normalize("insider", model.RawRecord{
		Title:       "Standup Night",
		RawDate:     "2026-03-01",
		RawCategory: "Astrology",
		RawURL:      "https://insider.in/standup-night",
		VenueText:   "Forum Mall",
	})
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	start := time.Date(2026, 3, 1, 0, 0, 0, 0, ist)
	if want := DerivedKey("Standup Night", "Forum Mall", &start, ist); res.Record.NaturalKey != want {
		t.Errorf("NaturalKey = %q, want %q", res.Record.NaturalKey, want)
	}
	if !res.UnknownCategory || res.Record.Category != model.CategoryOther {
		t.Errorf("expected unknown category fallback, got %s/%v", res.Record.Category, res.UnknownCategory)
	}
	if res.Record.PriceDisplay != nil {
		t.Errorf("missing price rendered as %q", *res.Record.PriceDisplay)
	}
}

func TestNormalize_VenueIsUndated(t *testing.T) {
	n := newTestNormalizer(YearlessInferNext)
	res, err := n.Normalize("places", model.RawRecord{
		SourceID:    "ChIJ123",
		Kind:        model.KindVenue,
		Title:       "Toit",
		RawCategory: "bar",
		RawURL:      "https://maps.google.com/?cid=1",
	})
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if res.Record.DateStart != nil || res.Record.DateDisplay != "" {
		t.Errorf("venue got a date: %+v", res.Record)
	}
	if res.Record.Category != model.CategoryNightlife {
		t.Errorf("Category = %s", res.Record.Category)
	}
}

func TestNormalize_Rejections(t *testing.T) {
	base := model.RawRecord{
		Title:   "Standup Night",
		RawDate: "2026-03-01",
		RawURL:  "https://insider.in/standup-night",
	}
	for _, tc := range []struct {
		name   string
		policy YearlessPolicy
		mutate func(r *model.RawRecord)
		reason model.NormalizationReason
	}{
		{"MissingTitle", YearlessInferNext, func(r *model.RawRecord) { r.Title = "  " }, model.ReasonMissingRequiredField},
		{"MissingURL", YearlessInferNext, func(r *model.RawRecord) { r.RawURL = "" }, model.ReasonMissingRequiredField},
		{"MissingDate", YearlessInferNext, func(r *model.RawRecord) { r.RawDate = "" }, model.ReasonMissingRequiredField},
		{"BadDate", YearlessInferNext, func(r *model.RawRecord) { r.RawDate = "soon" }, model.ReasonUnparseableDate},
		{"YearlessRejected", YearlessReject, func(r *model.RawRecord) { r.RawDate = "Sat, 14 Mar" }, model.ReasonUnparseableDate},
	} {
		t.Run(tc.name, func(t *testing.T) {
			raw := base
			tc.mutate(&raw)
			_, err := newTestNormalizer(tc.policy).Normalize("insider", raw)
			var ne *model.NormalizationError
			if !errors.As(err, &ne) {
				t.Fatalf("expected *NormalizationError, got %v", err)
			}
			if ne.Reason != tc.reason {
				t.Errorf("Reason = %s, want %s", ne.Reason, tc.reason)
			}
		})
	}
}

func TestSameDay(t *testing.T) {
	a := time.Date(2026, 3, 1, 23, 0, 0, 0, ist)
	b := time.Date(2026, 3, 1, 1, 0, 0, 0, ist)
	if !SameDay(a, b, ist) {
		t.Error("same IST day reported different")
	}
	// 20:00 UTC on 1 Mar is 01:30 on 2 Mar in IST.
	c := time.Date(2026, 3, 1, 20, 0, 0, 0, time.UTC)
	if SameDay(b, c, ist) {
		t.Error("different IST days reported same")
	}
}
