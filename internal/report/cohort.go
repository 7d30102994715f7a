package report

import (
	"slices"
	"strings"

	"calreport/internal/model"
)

// MonthNames are the labels used on charts, January first.
var MonthNames = [12]string{
	"Janvier", "Février", "Mars", "Avril", "Mai", "Juin",
	"Juillet", "Août", "Septembre", "Octobre", "Novembre", "Décembre",
}

// Filter selects records by substring and optional start date constraints.
// Empty substrings match everything.
type Filter struct {
	SummaryContains     string
	DescriptionContains string
	// Year, when positive, requires a parsed Start in that year.
	Year int
	// Months, when non-empty, requires a parsed Start in one of them.
	Months []int
}

// Match reports whether rec satisfies every constraint of f.
func (f Filter) Match(rec model.Record) bool {
	if !strings.Contains(rec.Summary, f.SummaryContains) {
		return false
	}
	if !strings.Contains(rec.Description, f.DescriptionContains) {
		return false
	}
	if f.Year <= 0 && len(f.Months) == 0 {
		return true
	}
	if !rec.Start.Parsed {
		return false
	}
	if f.Year > 0 && rec.Start.Time.Year() != f.Year {
		return false
	}
	if len(f.Months) > 0 && !slices.Contains(f.Months, int(rec.Start.Time.Month())) {
		return false
	}
	return true
}

// Select returns the records matching f, in input order.
func Select(records []model.Record, f Filter) []model.Record {
	out := make([]model.Record, 0)
	for _, rec := range records {
		if f.Match(rec) {
			out = append(out, rec)
		}
	}
	return out
}

// Bar is one labelled value of a chart.
type Bar struct {
	Label string
	Value float64
}

// MonthCounts holds record counts per start month, index 0 = January.
type MonthCounts [12]int

// CountByMonth buckets records by the month of their parsed Start. Records
// without a parsed Start are not counted.
func CountByMonth(records []model.Record) MonthCounts {
	var mc MonthCounts
	for _, rec := range records {
		if !rec.Start.Parsed {
			continue
		}
		mc[rec.Start.Time.Month()-1]++
	}
	return mc
}

// Total is the number of counted records.
func (mc MonthCounts) Total() int {
	n := 0
	for _, c := range mc {
		n += c
	}
	return n
}

// Only returns one bar per requested month (1-12) in the given order,
// including months with a zero count. Out-of-range months are skipped.
func (mc MonthCounts) Only(months []int) []Bar {
	bars := make([]Bar, 0, len(months))
	for _, m := range months {
		if m < 1 || m > 12 {
			continue
		}
		bars = append(bars, Bar{Label: MonthNames[m-1], Value: float64(mc[m-1])})
	}
	return bars
}

// NonZero returns a bar for every month with at least one record.
func (mc MonthCounts) NonZero() []Bar {
	bars := make([]Bar, 0)
	for i, c := range mc {
		if c > 0 {
			bars = append(bars, Bar{Label: MonthNames[i], Value: float64(c)})
		}
	}
	return bars
}
