package ics

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"
	"unicode/utf8"

	appLog "calreport/internal/log"
	"calreport/internal/model"
)

const (
	BlockOpen  = "BEGIN:VEVENT"
	BlockClose = "END:VEVENT"

	// TimestampLayout is the only date form recognized, e.g. 20230915T090000Z.
	TimestampLayout = "20060102T150405Z"

	DefaultExportMarker           = "Date d'exportation"
	DefaultDescriptionPlaceholder = "no description available"
)

// ErrUnreadableInput is returned when the source cannot be read or decoded
// as text. It is the only error extraction reports.
var ErrUnreadableInput = errors.New("ics: unreadable input")

// Options tunes field post-processing.
type Options struct {
	// ExportMarker truncates descriptions at its first occurrence.
	ExportMarker string
	// DescriptionPlaceholder replaces a missing description once the whole
	// input has been scanned.
	DescriptionPlaceholder string
	// RawTimestamps keeps DTSTART/DTEND as raw tokens without parsing.
	RawTimestamps bool
}

func (o Options) withDefaults() Options {
	if o.ExportMarker == "" {
		o.ExportMarker = DefaultExportMarker
	}
	if o.DescriptionPlaceholder == "" {
		o.DescriptionPlaceholder = DefaultDescriptionPlaceholder
	}
	return o
}

// Diagnostics collects structural anomalies that extraction absorbed.
// Line numbers are 1-based.
type Diagnostics struct {
	// OrphanCloses are close delimiters seen while no block was open.
	OrphanCloses []int
	// DiscardedBlocks are open lines of blocks abandoned by a new open delimiter.
	DiscardedBlocks []int
	// TruncatedBlocks are open lines of blocks still open at end of input.
	TruncatedBlocks []int
	// MalformedTimestamps counts Start/End values of emitted records that
	// were kept as raw text because they did not parse.
	MalformedTimestamps int
}

// Clean reports whether no anomaly was recorded.
func (d Diagnostics) Clean() bool {
	return len(d.OrphanCloses) == 0 &&
		len(d.DiscardedBlocks) == 0 &&
		len(d.TruncatedBlocks) == 0 &&
		d.MalformedTimestamps == 0
}

// Result is the ordered record sequence plus what was dropped on the way.
type Result struct {
	Records     []model.Record
	Diagnostics Diagnostics
}

type fieldHandler func(ex *extractor, rec *model.Record, value string)

// fieldHandlers maps each recognized tag to the record field it fills.
// An empty value clears the field.
var fieldHandlers = map[string]fieldHandler{
	"SUMMARY":  func(_ *extractor, rec *model.Record, v string) { rec.Summary = v },
	"DTSTART":  func(ex *extractor, rec *model.Record, v string) { rec.Start = ex.timestamp(v) },
	"DTEND":    func(ex *extractor, rec *model.Record, v string) { rec.End = ex.timestamp(v) },
	"LOCATION": func(_ *extractor, rec *model.Record, v string) { rec.Location = v },
	"DESCRIPTION": func(ex *extractor, rec *model.Record, v string) {
		rec.Description = cleanDescription(v, ex.opts.ExportMarker)
	},
}

// extractor is the fold state: the output so far and the open record, if any.
type extractor struct {
	opts     Options
	records  []model.Record
	open     *model.Record
	openLine int
	diag     Diagnostics
}

func newExtractor(opts Options) *extractor {
	return &extractor{opts: opts.withDefaults(), records: make([]model.Record, 0)}
}

// ExtractLines runs the extractor over an in-memory line sequence.
func ExtractLines(lines []string, opts Options) Result {
	ex := newExtractor(opts)
	for i, line := range lines {
		ex.step(i+1, line)
	}
	return ex.finish()
}

// Extract scans r line by line. Lines may be of any length. Only a read
// failure or invalid UTF-8 is an error; every per-line anomaly ends up in
// Result.Diagnostics.
func Extract(r io.Reader, opts Options) (Result, error) {
	ex := newExtractor(opts)
	br := bufio.NewReader(r)

	n := 0
	for {
		line, err := br.ReadString('\n')
		if line != "" {
			n++
			line = strings.TrimSuffix(strings.TrimSuffix(line, "\n"), "\r")
			if n == 1 {
				line = strings.TrimPrefix(line, "\ufeff")
			}
			if !utf8.ValidString(line) {
				return Result{}, fmt.Errorf("%w: line %d is not valid UTF-8", ErrUnreadableInput, n)
			}
			ex.step(n, line)
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return Result{}, fmt.Errorf("%w: %v", ErrUnreadableInput, err)
		}
	}

	return ex.finish(), nil
}

func (ex *extractor) step(n int, line string) {
	line = strings.TrimSpace(line)

	switch line {
	case BlockOpen:
		if ex.open != nil {
			ex.diag.DiscardedBlocks = append(ex.diag.DiscardedBlocks, ex.openLine)
			appLog.Debug("ics: unterminated block discarded", "open_line", ex.openLine, "line", n)
		}
		ex.open = &model.Record{}
		ex.openLine = n
		return
	case BlockClose:
		if ex.open == nil {
			ex.diag.OrphanCloses = append(ex.diag.OrphanCloses, n)
			appLog.Debug("ics: close delimiter without open block", "line", n)
			return
		}
		ex.emit(*ex.open)
		ex.open = nil
		return
	}

	if ex.open == nil {
		return
	}
	tag, value, ok := strings.Cut(line, ":")
	if !ok {
		return
	}
	ex.apply(ex.open, tag, value)
}

// apply stores value under tag if the tag is recognized.
func (ex *extractor) apply(rec *model.Record, tag, value string) bool {
	h, ok := fieldHandlers[tag]
	if !ok {
		return false
	}
	h(ex, rec, strings.TrimSpace(value))
	return true
}

// emit appends a completed record. Malformed timestamps are counted here so
// abandoned blocks and overwritten values don't show up in Diagnostics.
func (ex *extractor) emit(rec model.Record) {
	if !ex.opts.RawTimestamps {
		for _, ts := range []model.Timestamp{rec.Start, rec.End} {
			if ts.Raw != "" && !ts.Parsed {
				ex.diag.MalformedTimestamps++
			}
		}
	}
	ex.records = append(ex.records, rec)
}

func (ex *extractor) finish() Result {
	if ex.open != nil {
		ex.diag.TruncatedBlocks = append(ex.diag.TruncatedBlocks, ex.openLine)
		appLog.Debug("ics: block still open at end of input", "open_line", ex.openLine)
		ex.open = nil
	}

	for i := range ex.records {
		if ex.records[i].Description == "" {
			ex.records[i].Description = ex.opts.DescriptionPlaceholder
		}
	}

	return Result{Records: ex.records, Diagnostics: ex.diag}
}

func (ex *extractor) timestamp(v string) model.Timestamp {
	if v == "" {
		return model.Timestamp{}
	}
	if ex.opts.RawTimestamps {
		return model.Timestamp{Raw: v}
	}
	t, ok := ParseTimestamp(v)
	if !ok {
		return model.Timestamp{Raw: v}
	}
	return model.Timestamp{Raw: v, Time: t, Parsed: true}
}

// ParseTimestamp parses v as TimestampLayout. ok is false for anything else,
// including fractional seconds that time.Parse would otherwise accept.
func ParseTimestamp(v string) (time.Time, bool) {
	v = strings.TrimSpace(v)
	if len(v) != len(TimestampLayout) {
		return time.Time{}, false
	}
	t, err := time.Parse(TimestampLayout, v)
	if err != nil {
		return time.Time{}, false
	}
	return t.UTC(), true
}

var newlineMarkers = strings.NewReplacer(
	"\r\n", " ",
	"\n", " ",
	"\r", " ",
	`\n`, " ",
	`\N`, " ",
)

// cleanDescription turns newline markers into spaces and cuts the value at
// the first export marker.
func cleanDescription(v, marker string) string {
	v = strings.TrimSpace(newlineMarkers.Replace(v))
	if marker != "" {
		if before, _, found := strings.Cut(v, marker); found {
			v = before
		}
	}
	return strings.TrimSpace(v)
}
