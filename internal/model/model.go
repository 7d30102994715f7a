package model

import "time"

// Field names one of the five event attributes carried by a Record.
type Field string

const (
	FieldSummary     Field = "Summary"
	FieldStart       Field = "Start"
	FieldEnd         Field = "End"
	FieldLocation    Field = "Location"
	FieldDescription Field = "Description"
)

// Fields lists every Field in table column order.
var Fields = []Field{FieldSummary, FieldStart, FieldEnd, FieldLocation, FieldDescription}

// Timestamp holds a date-like value as it was found in the source. When the
// raw token matched the expected layout, Parsed is true and Time carries the
// UTC instant; otherwise only Raw is meaningful.
//
// The zero value means "absent".
type Timestamp struct {
	Raw    string
	Time   time.Time
	Parsed bool
}

// IsZero reports whether the timestamp was never set.
func (t Timestamp) IsZero() bool {
	return t.Raw == "" && !t.Parsed
}

// Format renders a parsed instant with layout, an unparsed value verbatim and
// an absent value as placeholder.
func (t Timestamp) Format(layout, placeholder string) string {
	switch {
	case t.Parsed:
		return t.Time.Format(layout)
	case t.Raw != "":
		return t.Raw
	default:
		return placeholder
	}
}

// Record is one event block after extraction. Text fields use the empty
// string for "absent"; extraction never stores an empty value.
type Record struct {
	Summary     string
	Start       Timestamp
	End         Timestamp
	Location    string
	Description string
}

// Value renders field f, using layout for parsed timestamps and placeholder
// for anything absent.
func (r Record) Value(f Field, layout, placeholder string) string {
	var s string
	switch f {
	case FieldSummary:
		s = r.Summary
	case FieldStart:
		return r.Start.Format(layout, placeholder)
	case FieldEnd:
		return r.End.Format(layout, placeholder)
	case FieldLocation:
		s = r.Location
	case FieldDescription:
		s = r.Description
	}
	if s == "" {
		return placeholder
	}
	return s
}
