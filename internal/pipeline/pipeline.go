package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"calreport/internal/capture"
	"calreport/internal/config"
	"calreport/internal/ics"
	appLog "calreport/internal/log"
	"calreport/internal/metrics"
	"calreport/internal/model"
	"calreport/internal/report"
	"calreport/internal/source"
)

// Run statuses.
const (
	StatusOK      = "ok"
	StatusPartial = "partial"
	StatusFailed  = "failed"
)

// ErrNoSources is returned when neither the config nor the input names a source.
var ErrNoSources = errors.New("pipeline: no sources configured")

// Artifacts are the files produced for one source. Chart paths are empty
// when the chart had no data.
type Artifacts struct {
	EventsCSV   string
	SubjectCSV  string
	CohortChart string
	PieChart    string
	Markdown    string
	HTML        string
	Snapshot    string
}

// SourceResult is the outcome for one source.
type SourceResult struct {
	Source      source.Source
	FromCache   bool
	Records     []model.Record
	Diagnostics ics.Diagnostics
	Artifacts   Artifacts
	Err         error
}

// Summary describes one pipeline run.
type Summary struct {
	RunID      string
	StartedAt  time.Time
	FinishedAt time.Time
	Status     string
	Sources    []SourceResult
}

// Records returns every extracted record across sources, in source order.
func (s Summary) Records() []model.Record {
	var out []model.Record
	for _, sr := range s.Sources {
		out = append(out, sr.Records...)
	}
	return out
}

// Input overrides parts of the configuration for a single run.
type Input struct {
	// Sources replaces cfg.Sources when non-empty.
	Sources []source.Source
}

// CaptureFunc renders a report page to PNG.
type CaptureFunc func(ctx context.Context, opts capture.CaptureOptions) error

// Runner executes pipeline runs.
type Runner struct {
	loader  *source.Loader
	capture CaptureFunc
	now     func() time.Time
}

// NewRunner creates a Runner that reads sources through loader.
func NewRunner(loader *source.Loader) *Runner {
	return &Runner{
		loader:  loader,
		capture: capture.CapturePNG,
		now:     time.Now,
	}
}

// WithCapture replaces the snapshot renderer.
func (r *Runner) WithCapture(fn CaptureFunc) *Runner {
	r.capture = fn
	return r
}

// SourcesFromConfig converts configured sources.
func SourcesFromConfig(cfg *config.Config) []source.Source {
	out := make([]source.Source, 0, len(cfg.Sources))
	for _, s := range cfg.Sources {
		if s.Path == "" && s.URL == "" {
			continue
		}
		out = append(out, source.Source{ID: s.ID, Name: s.Name, Path: s.Path, URL: s.URL})
	}
	return out
}

// Run loads every source, extracts its records and writes the reports.
// A source that cannot be read is recorded in its SourceResult and skipped;
// Run only fails when no source produced output.
func (r *Runner) Run(ctx context.Context, cfg *config.Config, in Input) (Summary, error) {
	sum := Summary{RunID: uuid.NewString(), StartedAt: r.now()}
	defer func() {
		sum.FinishedAt = r.now()
		metrics.Runs.WithLabelValues(sum.Status).Inc()
		metrics.RunDuration.Observe(sum.FinishedAt.Sub(sum.StartedAt).Seconds())
	}()

	sources := in.Sources
	if len(sources) == 0 {
		sources = SourcesFromConfig(cfg)
	}
	if len(sources) == 0 {
		sum.Status = StatusFailed
		return sum, ErrNoSources
	}

	backend, err := ics.ParseBackend(cfg.Parser)
	if err != nil {
		sum.Status = StatusFailed
		return sum, err
	}
	if err := os.MkdirAll(cfg.OutputDir, 0o755); err != nil {
		sum.Status = StatusFailed
		return sum, fmt.Errorf("pipeline: create output dir: %w", err)
	}

	appLog.Info("pipeline run start", "run_id", sum.RunID, "sources", len(sources), "parser", backend)

	failed := 0
	total := 0
	for _, src := range sources {
		if err := ctx.Err(); err != nil {
			sum.Status = StatusFailed
			return sum, err
		}

		sr := r.runSource(ctx, cfg, backend, src)
		if sr.Err != nil {
			failed++
			metrics.SourceErrors.Inc()
			appLog.Error("pipeline source failed", sr.Err, "run_id", sum.RunID, "source", src.Label())
		}
		total += len(sr.Records)
		sum.Sources = append(sum.Sources, sr)
	}
	metrics.LastRunRecords.Set(float64(total))

	switch {
	case failed == len(sources):
		sum.Status = StatusFailed
		return sum, fmt.Errorf("pipeline: all %d sources failed: %w", failed, sum.Sources[0].Err)
	case failed > 0:
		sum.Status = StatusPartial
	default:
		sum.Status = StatusOK
	}

	appLog.Info("pipeline run done", "run_id", sum.RunID, "status", sum.Status, "records", total)
	return sum, nil
}

func (r *Runner) runSource(ctx context.Context, cfg *config.Config, backend ics.Backend, src source.Source) SourceResult {
	sr := SourceResult{Source: src}

	payload, err := r.loader.Load(ctx, src)
	if err != nil {
		sr.Err = fmt.Errorf("%w: %s: %v", ics.ErrUnreadableInput, src.Label(), err)
		return sr
	}
	sr.FromCache = payload.FromCache

	res, err := ics.Parse(bytes.NewReader(payload.Body), backend, ics.Options{
		ExportMarker:           cfg.Description.ExportMarker,
		DescriptionPlaceholder: cfg.Description.Placeholder,
		RawTimestamps:          cfg.RawTimestamps,
	})
	if err != nil {
		sr.Err = fmt.Errorf("%s: %w", src.Label(), err)
		return sr
	}
	sr.Records = res.Records
	sr.Diagnostics = res.Diagnostics
	recordMetrics(src, res)

	if !res.Diagnostics.Clean() {
		appLog.Warn("extraction absorbed anomalies",
			"source", src.Label(),
			"orphan_closes", len(res.Diagnostics.OrphanCloses),
			"discarded_blocks", len(res.Diagnostics.DiscardedBlocks),
			"truncated_blocks", len(res.Diagnostics.TruncatedBlocks),
			"malformed_timestamps", res.Diagnostics.MalformedTimestamps,
		)
	}

	art, err := r.writeReports(ctx, cfg, src, res.Records)
	sr.Artifacts = art
	if err != nil {
		sr.Err = fmt.Errorf("%s: %w", src.Label(), err)
	}
	return sr
}

func recordMetrics(src source.Source, res ics.Result) {
	metrics.RecordsExtracted.WithLabelValues(src.Label()).Add(float64(len(res.Records)))
	d := res.Diagnostics
	metrics.Anomalies.WithLabelValues("orphan_close").Add(float64(len(d.OrphanCloses)))
	metrics.Anomalies.WithLabelValues("discarded_block").Add(float64(len(d.DiscardedBlocks)))
	metrics.Anomalies.WithLabelValues("truncated_block").Add(float64(len(d.TruncatedBlocks)))
	metrics.Anomalies.WithLabelValues("malformed_timestamp").Add(float64(d.MalformedTimestamps))
}

func (r *Runner) writeReports(ctx context.Context, cfg *config.Config, src source.Source, records []model.Record) (Artifacts, error) {
	var art Artifacts
	base := filepath.Join(cfg.OutputDir, FileStem(src))
	table := report.TableOptions{
		Headers:     cfg.Table.Headers,
		Placeholder: cfg.Table.Placeholder,
		TimeLayout:  cfg.Table.TimeLayout,
	}

	art.EventsCSV = base + "_events.csv"
	if err := writeFile(art.EventsCSV, func(w io.Writer) error {
		return report.WriteCSV(w, records, table)
	}); err != nil {
		return art, err
	}

	subject := report.Select(records, filterFromConfig(cfg.Subject))
	art.SubjectCSV = base + "_subject.csv"
	if err := writeFile(art.SubjectCSV, func(w io.Writer) error {
		return report.WriteCSV(w, subject, table)
	}); err != nil {
		return art, err
	}

	cohort := report.Select(records, filterFromConfig(cfg.Cohort))
	cohortCounts := report.CountByMonth(cohort)
	cohortBars := cohortCounts.Only(cfg.Cohort.Months)
	cohortPath := base + "_cohort_bar.png"
	ok, err := writeChart(cohortPath, func(w io.Writer) error {
		return report.BarChart(w, cohortBars, report.ChartOptions{Title: cohortTitle(cfg.Cohort), Width: 800, Height: 500})
	})
	if err != nil {
		return art, err
	}
	if ok {
		art.CohortChart = cohortPath
	}

	group := report.Select(records, report.Filter{DescriptionContains: cfg.PieGroup})
	pieBars := report.CountByMonth(group).NonZero()
	piePath := base + "_group_pie.png"
	ok, err = writeChart(piePath, func(w io.Writer) error {
		return report.PieChart(w, pieBars, report.ChartOptions{
			Title: fmt.Sprintf("Répartition des séances par mois (Groupe %s)", cfg.PieGroup),
			Width: 600,
		})
	})
	if err != nil {
		return art, err
	}
	if ok {
		art.PieChart = piePath
	}

	md := buildMarkdown(cfg, src, records, subject, cohortCounts, table, art)
	art.Markdown = base + "_report.md"
	if err := os.WriteFile(art.Markdown, md, 0o644); err != nil {
		return art, fmt.Errorf("write markdown: %w", err)
	}

	page, err := report.RenderHTML(reportTitle(src), md)
	if err != nil {
		return art, err
	}
	art.HTML = base + "_report.html"
	if err := os.WriteFile(art.HTML, page, 0o644); err != nil {
		return art, fmt.Errorf("write html: %w", err)
	}

	if cfg.Capture.Enabled && r.capture != nil {
		snap := base + "_report.png"
		err := r.capture(ctx, capture.CaptureOptions{
			HTMLPath:   art.HTML,
			OutputPath: snap,
			Width:      cfg.Capture.Width,
			Height:     cfg.Capture.Height,
			Timeout:    time.Duration(cfg.Capture.TimeoutSeconds) * time.Second,
		})
		if err != nil {
			// A missing snapshot doesn't fail the source.
			appLog.Error("report snapshot failed", err, "source", src.Label())
		} else {
			art.Snapshot = snap
		}
	}

	return art, nil
}

func buildMarkdown(cfg *config.Config, src source.Source, all, subject []model.Record, cohort report.MonthCounts, table report.TableOptions, art Artifacts) []byte {
	var m report.Markdown
	m.Heading(1, reportTitle(src))

	m.Heading(2, "Résumé")
	m.List(
		fmt.Sprintf("Événements extraits : **%d**", len(all)),
		fmt.Sprintf("Séances du tableau : **%d**", len(subject)),
		fmt.Sprintf("Séances de la cohorte : **%d**", cohort.Total()),
	)

	m.Heading(2, fmt.Sprintf("Tableau des Séances (%s)", describeFilter(cfg.Subject)))
	header, rows := report.Rows(subject, table)
	m.Table(header, rows)

	if art.CohortChart != "" {
		m.Heading(2, cohortTitle(cfg.Cohort))
		m.Image("Séances par mois", filepath.Base(art.CohortChart))
	}
	if art.PieChart != "" {
		m.Heading(2, fmt.Sprintf("Diagramme Circulaire (Répartition par mois pour le groupe %s)", cfg.PieGroup))
		m.Image("Diagramme Circulaire", filepath.Base(art.PieChart))
	}
	return m.Bytes()
}

func filterFromConfig(fc config.FilterConfig) report.Filter {
	return report.Filter{
		SummaryContains:     fc.SummaryContains,
		DescriptionContains: fc.DescriptionContains,
		Year:                fc.Year,
		Months:              fc.Months,
	}
}

func describeFilter(fc config.FilterConfig) string {
	parts := make([]string, 0, 3)
	if fc.SummaryContains != "" {
		parts = append(parts, "résumé contient "+fc.SummaryContains)
	}
	if fc.DescriptionContains != "" {
		parts = append(parts, "groupe "+fc.DescriptionContains)
	}
	if fc.Year != 0 {
		parts = append(parts, fmt.Sprint(fc.Year))
	}
	if len(parts) == 0 {
		return "tous"
	}
	return strings.Join(parts, ", ")
}

func cohortTitle(fc config.FilterConfig) string {
	return "Nombre de séances par mois (" + describeFilter(fc) + ")"
}

func reportTitle(src source.Source) string {
	if src.Name != "" {
		return "Résultats : " + src.Name
	}
	return "Résultats : " + src.Label()
}

// FileStem derives a file-name-safe prefix for a source's artifacts.
func FileStem(src source.Source) string {
	name := src.ID
	if name == "" && src.Path != "" {
		name = strings.TrimSuffix(filepath.Base(src.Path), filepath.Ext(src.Path))
	}
	if name == "" {
		name = src.Name
	}
	if name == "" {
		return "calendar"
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			return r
		default:
			return '_'
		}
	}, name)
}

func writeFile(path string, render func(io.Writer) error) error {
	var buf bytes.Buffer
	if err := render(&buf); err != nil {
		return err
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	return nil
}

// writeChart is writeFile for charts: ErrNoData is logged and reported as
// ok=false instead of failing the run.
func writeChart(path string, render func(io.Writer) error) (bool, error) {
	err := writeFile(path, render)
	if errors.Is(err, report.ErrNoData) {
		appLog.Warn("chart skipped: no data", "file", filepath.Base(path))
		return false, nil
	}
	return err == nil, err
}
