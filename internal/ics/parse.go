package ics

import (
	"fmt"
	"io"
	"strings"

	ical "github.com/arran4/golang-ical"

	"calreport/internal/model"
)

// Backend selects how an export file is turned into records.
type Backend string

const (
	// BackendLines is the line-oriented block extractor (default).
	BackendLines Backend = "lines"
	// BackendICal parses the payload as a full iCalendar document first.
	// It understands folded lines and parameters but rejects anything that
	// is not a well-formed VCALENDAR.
	BackendICal Backend = "ical"
)

// ParseBackend validates a backend name from configuration.
func ParseBackend(s string) (Backend, error) {
	switch b := Backend(strings.ToLower(strings.TrimSpace(s))); b {
	case "", BackendLines:
		return BackendLines, nil
	case BackendICal:
		return BackendICal, nil
	default:
		return "", fmt.Errorf("ics: unknown parser backend %q", s)
	}
}

// Parse reads r with the chosen backend.
func Parse(r io.Reader, backend Backend, opts Options) (Result, error) {
	switch backend {
	case "", BackendLines:
		return Extract(r, opts)
	case BackendICal:
		return ParseCalendar(r, opts)
	default:
		return Result{}, fmt.Errorf("ics: unknown parser backend %q", backend)
	}
}

var calendarProps = []struct {
	tag  string
	prop ical.ComponentProperty
}{
	{"SUMMARY", ical.ComponentPropertySummary},
	{"DTSTART", ical.ComponentPropertyDtStart},
	{"DTEND", ical.ComponentPropertyDtEnd},
	{"LOCATION", ical.ComponentPropertyLocation},
	{"DESCRIPTION", ical.ComponentPropertyDescription},
}

// ParseCalendar decodes r with golang-ical and maps every VEVENT through the
// same field handlers as Extract, so both backends yield identical records
// for simple inputs. Structural diagnostics are not available here; only
// malformed timestamps are counted.
func ParseCalendar(r io.Reader, opts Options) (Result, error) {
	cal, err := ical.ParseCalendar(r)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrUnreadableInput, err)
	}

	ex := newExtractor(opts)
	for _, ve := range cal.Events() {
		var rec model.Record
		for _, cp := range calendarProps {
			if p := ve.GetProperty(cp.prop); p != nil {
				ex.apply(&rec, cp.tag, p.Value)
			}
		}
		ex.emit(rec)
	}

	return ex.finish(), nil
}
