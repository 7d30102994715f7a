package pipeline_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"calreport/internal/capture"
	"calreport/internal/config"
	"calreport/internal/ics"
	"calreport/internal/pipeline"
	"calreport/internal/source"
)

const sample = `BEGIN:VCALENDAR
BEGIN:VEVENT
SUMMARY:TP Réseaux
DTSTART:20231005T080000Z
DTEND:20231005T100000Z
LOCATION:Salle 12
DESCRIPTION:Groupe A1\nDate d'exportation: 01/09/2023
END:VEVENT
BEGIN:VEVENT
SUMMARY:TP Systèmes
DTSTART:20231107T130000Z
DTEND:20231107T150000Z
DESCRIPTION:Groupe A1
END:VEVENT
BEGIN:VEVENT
SUMMARY:Cours 7
DTSTART:20231110T090000Z
DESCRIPTION:Groupe B1
END:VEVENT
END:VEVENT
END:VCALENDAR
`

func writeSample(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "planning.ics")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0o644))
	return path
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.OutputDir = filepath.Join(t.TempDir(), "out")
	cfg.CacheDir = filepath.Join(t.TempDir(), "cache")
	return cfg
}

func TestRun_WritesReportsForLocalSource(t *testing.T) {
	cfg := testConfig(t)
	path := writeSample(t, t.TempDir())

	r := pipeline.NewRunner(source.NewLoader(cfg.CacheDir))
	sum, err := r.Run(context.Background(), cfg, pipeline.Input{
		Sources: []source.Source{{ID: "s1", Name: "Planning", Path: path}},
	})
	require.NoError(t, err)

	assert.Equal(t, pipeline.StatusOK, sum.Status)
	assert.NotEmpty(t, sum.RunID)
	require.Len(t, sum.Sources, 1)

	sr := sum.Sources[0]
	require.NoError(t, sr.Err)
	require.Len(t, sr.Records, 3)
	assert.Equal(t, "Groupe A1", sr.Records[0].Description)
	assert.Equal(t, []int{20}, sr.Diagnostics.OrphanCloses)

	art := sr.Artifacts
	for _, p := range []string{art.EventsCSV, art.SubjectCSV, art.CohortChart, art.PieChart, art.Markdown, art.HTML} {
		assert.FileExists(t, p)
		assert.Equal(t, cfg.OutputDir, filepath.Dir(p))
	}
	assert.Empty(t, art.Snapshot)
	assert.Equal(t, "s1_events.csv", filepath.Base(art.EventsCSV))

	events, err := os.ReadFile(art.EventsCSV)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(events)), "\n")
	assert.Len(t, lines, 4)
	assert.Equal(t, "Summary,Start,End,Location,Description", lines[0])
	assert.Equal(t, "Cours 7,2023-11-10 09:00,vide,vide,Groupe B1", lines[3])

	subject, err := os.ReadFile(art.SubjectCSV)
	require.NoError(t, err)
	assert.Contains(t, string(subject), "Cours 7")
	assert.NotContains(t, string(subject), "TP Réseaux")

	md, err := os.ReadFile(art.Markdown)
	require.NoError(t, err)
	assert.Contains(t, string(md), "# Résultats : Planning")
	assert.Contains(t, string(md), "](s1_cohort_bar.png)")
	assert.Contains(t, string(md), "Séances de la cohorte : **2**", "default cohort year keeps both 2023 TP A1 sessions")

	assert.Len(t, sum.Records(), 3)
}

func TestRun_SkipsChartsWithoutData(t *testing.T) {
	cfg := testConfig(t)
	cfg.Cohort.SummaryContains = "nothing matches this"
	cfg.PieGroup = "Z9"
	path := writeSample(t, t.TempDir())

	sum, err := pipeline.NewRunner(source.NewLoader(cfg.CacheDir)).Run(context.Background(), cfg, pipeline.Input{
		Sources: []source.Source{{Path: path}},
	})
	require.NoError(t, err)

	art := sum.Sources[0].Artifacts
	assert.Empty(t, art.CohortChart)
	assert.Empty(t, art.PieChart)
	assert.FileExists(t, art.HTML)
	assert.Equal(t, "planning_report.html", filepath.Base(art.HTML))
}

func TestRun_PartialWhenOneSourceFails(t *testing.T) {
	cfg := testConfig(t)
	dir := t.TempDir()
	path := writeSample(t, dir)

	sum, err := pipeline.NewRunner(source.NewLoader(cfg.CacheDir)).Run(context.Background(), cfg, pipeline.Input{
		Sources: []source.Source{
			{ID: "missing", Path: filepath.Join(dir, "missing.ics")},
			{ID: "ok", Path: path},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, pipeline.StatusPartial, sum.Status)
	require.Len(t, sum.Sources, 2)
	assert.ErrorIs(t, sum.Sources[0].Err, ics.ErrUnreadableInput)
	assert.NoError(t, sum.Sources[1].Err)
}

func TestRun_FailsWhenEverySourceFails(t *testing.T) {
	cfg := testConfig(t)

	sum, err := pipeline.NewRunner(source.NewLoader(cfg.CacheDir)).Run(context.Background(), cfg, pipeline.Input{
		Sources: []source.Source{{ID: "missing", Path: filepath.Join(t.TempDir(), "missing.ics")}},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ics.ErrUnreadableInput)
	assert.Equal(t, pipeline.StatusFailed, sum.Status)
}

func TestRun_NoSources(t *testing.T) {
	cfg := testConfig(t)

	_, err := pipeline.NewRunner(source.NewLoader(cfg.CacheDir)).Run(context.Background(), cfg, pipeline.Input{})
	assert.ErrorIs(t, err, pipeline.ErrNoSources)
}

func TestRun_UsesConfiguredSources(t *testing.T) {
	cfg := testConfig(t)
	cfg.Sources = []config.SourceConfig{
		{ID: "conf", Path: writeSample(t, t.TempDir())},
		{ID: "empty"},
	}

	sum, err := pipeline.NewRunner(source.NewLoader(cfg.CacheDir)).Run(context.Background(), cfg, pipeline.Input{})
	require.NoError(t, err)
	require.Len(t, sum.Sources, 1)
	assert.Equal(t, "conf", sum.Sources[0].Source.ID)
}

func TestRun_SnapshotFailureKeepsReport(t *testing.T) {
	cfg := testConfig(t)
	cfg.Capture.Enabled = true
	path := writeSample(t, t.TempDir())

	var got capture.CaptureOptions
	r := pipeline.NewRunner(source.NewLoader(cfg.CacheDir)).WithCapture(func(_ context.Context, opts capture.CaptureOptions) error {
		got = opts
		return errors.New("no browser")
	})

	sum, err := r.Run(context.Background(), cfg, pipeline.Input{Sources: []source.Source{{ID: "s", Path: path}}})
	require.NoError(t, err)

	art := sum.Sources[0].Artifacts
	assert.Equal(t, art.HTML, got.HTMLPath)
	assert.Equal(t, 1280, got.Width)
	assert.Empty(t, art.Snapshot)
	assert.Equal(t, pipeline.StatusOK, sum.Status)
}

func TestRun_ICalBackend(t *testing.T) {
	cfg := testConfig(t)
	cfg.Parser = "ical"
	path := filepath.Join(t.TempDir(), "clean.ics")
	require.NoError(t, os.WriteFile(path, []byte(strings.Replace(sample, "END:VEVENT\nEND:VCALENDAR", "END:VCALENDAR", 1)), 0o644))

	sum, err := pipeline.NewRunner(source.NewLoader(cfg.CacheDir)).Run(context.Background(), cfg, pipeline.Input{
		Sources: []source.Source{{ID: "ical", Path: path}},
	})
	require.NoError(t, err)
	assert.Len(t, sum.Sources[0].Records, 3)
}

func TestFileStem(t *testing.T) {
	assert.Equal(t, "a_b", pipeline.FileStem(source.Source{ID: "a/b"}))
	assert.Equal(t, "planning", pipeline.FileStem(source.Source{Path: "/x/planning.ics"}))
	assert.Equal(t, "calendar", pipeline.FileStem(source.Source{URL: "https://example.com/cal"}))
}

func TestStore(t *testing.T) {
	var s pipeline.Store
	_, ok := s.Latest()
	assert.False(t, ok)

	s.Set(pipeline.Summary{RunID: "r1"})
	got, ok := s.Latest()
	assert.True(t, ok)
	assert.Equal(t, "r1", got.RunID)
}
