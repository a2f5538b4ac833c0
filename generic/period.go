package generic

import (
	"fmt"
	"time"

	"golang.org/x/text/language"
)

// =============================================================================
// PERIOD - Inclusive time window
// =============================================================================

// Period is an inclusive [Start, End] window.
type Period struct {
	Start time.Time
	End   time.Time
}

// Contains returns true if t is within [Start, End].
func (p Period) Contains(t time.Time) bool {
	return !t.Before(p.Start) && !t.After(p.End)
}

func (p Period) String() string {
	return "[" + p.Start.Format(time.RFC3339Nano) + ", " + p.End.Format(time.RFC3339Nano) + "]"
}

// =============================================================================
// QUARTER CALCULATOR
// =============================================================================

// Quarter identifies a calendar quarter.
type Quarter struct {
	Quarter int `json:"quarter"`
	Year    int `json:"year"`
}

// Valid reports whether the quarter number is 1..4 and the year is positive.
func (q Quarter) Valid() bool {
	return q.Quarter >= 1 && q.Quarter <= 4 && q.Year > 0
}

// QuarterRange returns the quarter window in the local time zone.
func QuarterRange(quarter, year int) (Period, error) {
	return QuarterRangeIn(quarter, year, time.Local)
}

// QuarterRangeIn returns the quarter window in loc. Start is the first instant
// of the quarter's first month; End is 23:59:59.999 on the last day of its
// third month.
func QuarterRangeIn(quarter, year int, loc *time.Location) (Period, error) {
	if quarter < 1 || quarter > 4 {
		return Period{}, fmt.Errorf("%w: %d", ErrInvalidQuarter, quarter)
	}
	if loc == nil {
		loc = time.UTC
	}
	firstMonth := time.Month((quarter-1)*3 + 1)
	start := time.Date(year, firstMonth, 1, 0, 0, 0, 0, loc)
	end := start.AddDate(0, 3, 0).Add(-time.Millisecond)
	return Period{Start: start, End: end}, nil
}

// CurrentQuarter returns the quarter containing now.
func CurrentQuarter(now time.Time) Quarter {
	return Quarter{Quarter: (int(now.Month())-1)/3 + 1, Year: now.Year()}
}

// PreviousQuarter rolls Q1 back to Q4 of the previous year.
func PreviousQuarter(quarter, year int) Quarter {
	if quarter <= 1 {
		return Quarter{Quarter: 4, Year: year - 1}
	}
	return Quarter{Quarter: quarter - 1, Year: year}
}

// NextQuarter rolls Q4 forward to Q1 of the next year.
func NextQuarter(quarter, year int) Quarter {
	if quarter >= 4 {
		return Quarter{Quarter: 1, Year: year + 1}
	}
	return Quarter{Quarter: quarter + 1, Year: year}
}

// IsInQuarter reports whether t falls in the quarter, evaluated in t's location.
func IsInQuarter(t time.Time, quarter, year int) bool {
	p, err := QuarterRangeIn(quarter, year, t.Location())
	if err != nil {
		return false
	}
	return p.Contains(t)
}

// Range is QuarterRange for q.
func (q Quarter) Range() (Period, error) {
	return QuarterRange(q.Quarter, q.Year)
}

// Reference is the compact form written on reward payments, e.g. "Q1/2025".
func (q Quarter) Reference() string {
	return fmt.Sprintf("Q%d/%d", q.Quarter, q.Year)
}

func (q Quarter) String() string {
	return q.Label(language.English)
}

// =============================================================================
// LABELS
// =============================================================================

var supportedLabelLanguages = []language.Tag{language.English, language.Arabic}

var labelMatcher = language.NewMatcher(supportedLabelLanguages)

var arabicOrdinals = [...]string{"", "الأول", "الثاني", "الثالث", "الرابع"}

// MatchLanguage picks English or Arabic from an Accept-Language style list.
// Unparseable or unknown input falls back to English.
func MatchLanguage(accept string) language.Tag {
	tags, _, err := language.ParseAcceptLanguage(accept)
	if err != nil || len(tags) == 0 {
		return language.English
	}
	_, idx, conf := labelMatcher.Match(tags...)
	if conf == language.No {
		return language.English
	}
	return supportedLabelLanguages[idx]
}

// Label renders the quarter for display: "Q1 2025" or "الربع الأول 2025".
func (q Quarter) Label(lang language.Tag) string {
	base, _ := lang.Base()
	arabic, _ := language.Arabic.Base()
	if base == arabic && q.Quarter >= 1 && q.Quarter <= 4 {
		return fmt.Sprintf("الربع %s %d", arabicOrdinals[q.Quarter], q.Year)
	}
	return fmt.Sprintf("Q%d %d", q.Quarter, q.Year)
}
