package report

import (
	"encoding/csv"
	"fmt"
	"io"

	"calreport/internal/model"
)

const (
	DefaultPlaceholder = "vide"
	DefaultTimeLayout  = "2006-01-02 15:04"
)

// TableOptions controls how records are rendered as rows.
type TableOptions struct {
	// Headers are the column labels, one per model.Fields entry. Empty means
	// the field names themselves.
	Headers []string
	// Placeholder fills absent values.
	Placeholder string
	// TimeLayout formats parsed Start/End instants.
	TimeLayout string
}

func (o TableOptions) withDefaults() TableOptions {
	if len(o.Headers) != len(model.Fields) {
		o.Headers = make([]string, 0, len(model.Fields))
		for _, f := range model.Fields {
			o.Headers = append(o.Headers, string(f))
		}
	}
	if o.Placeholder == "" {
		o.Placeholder = DefaultPlaceholder
	}
	if o.TimeLayout == "" {
		o.TimeLayout = DefaultTimeLayout
	}
	return o
}

// Rows renders records as a header row followed by one row per record.
func Rows(records []model.Record, opts TableOptions) (header []string, rows [][]string) {
	opts = opts.withDefaults()

	rows = make([][]string, 0, len(records))
	for _, rec := range records {
		row := make([]string, 0, len(model.Fields))
		for _, f := range model.Fields {
			row = append(row, rec.Value(f, opts.TimeLayout, opts.Placeholder))
		}
		rows = append(rows, row)
	}
	return opts.Headers, rows
}

// WriteCSV writes records as CSV: the header row, then one row per record.
func WriteCSV(w io.Writer, records []model.Record, opts TableOptions) error {
	header, rows := Rows(records, opts)

	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("report: write csv header: %w", err)
	}
	if err := cw.WriteAll(rows); err != nil {
		return fmt.Errorf("report: write csv rows: %w", err)
	}
	return nil
}
