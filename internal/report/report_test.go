package report_test

import (
	"bytes"
	"image/png"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"calreport/internal/model"
	"calreport/internal/report"
)

func at(year int, month time.Month, day, hour int) model.Timestamp {
	t := time.Date(year, month, day, hour, 0, 0, 0, time.UTC)
	return model.Timestamp{Raw: t.Format("20060102T150405Z"), Time: t, Parsed: true}
}

func sampleRecords() []model.Record {
	return []model.Record{
		{Summary: "TP Algo", Start: at(2023, 9, 20, 8), End: at(2023, 9, 20, 10), Location: "Room 1", Description: "Group A1 session"},
		{Summary: "TP Réseaux", Start: at(2023, 10, 4, 13), Description: "Groupe A1, B1"},
		{Summary: "CM 7 Maths", Start: at(2023, 10, 5, 8), Location: "Amphi", Description: "B1"},
		{Summary: "TP Algo", Start: at(2024, 9, 18, 8), Description: "A1"},
		{Summary: "TP sans date", Start: model.Timestamp{Raw: "TBD"}, Description: "A1"},
	}
}

func TestWriteCSV(t *testing.T) {
	var buf bytes.Buffer
	records := []model.Record{
		sampleRecords()[0],
		{Summary: "Réunion, bilan", Start: model.Timestamp{Raw: "not-a-date"}},
	}

	err := report.WriteCSV(&buf, records, report.TableOptions{})
	require.NoError(t, err)

	want := "Summary,Start,End,Location,Description\n" +
		"TP Algo,2023-09-20 08:00,2023-09-20 10:00,Room 1,Group A1 session\n" +
		"\"Réunion, bilan\",not-a-date,vide,vide,vide\n"
	assert.Equal(t, want, buf.String())
}

func TestWriteCSV_CustomHeadersAndLayout(t *testing.T) {
	var buf bytes.Buffer
	opts := report.TableOptions{
		Headers:     []string{"Résumé", "Début", "Fin", "Lieu", "Description"},
		Placeholder: "-",
		TimeLayout:  time.RFC3339,
	}

	require.NoError(t, report.WriteCSV(&buf, sampleRecords()[:1], opts))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "Résumé,Début,Fin,Lieu,Description", lines[0])
	assert.Equal(t, "TP Algo,2023-09-20T08:00:00Z,2023-09-20T10:00:00Z,Room 1,Group A1 session", lines[1])
}

func TestWriteCSV_EmptyHasHeaderOnly(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, report.WriteCSV(&buf, nil, report.TableOptions{}))
	assert.Equal(t, "Summary,Start,End,Location,Description\n", buf.String())
}

func TestSelect(t *testing.T) {
	records := sampleRecords()

	tests := []struct {
		name   string
		filter report.Filter
		want   []string
	}{
		{
			name:   "substring only keeps undated records",
			filter: report.Filter{SummaryContains: "TP", DescriptionContains: "A1"},
			want:   []string{"TP Algo", "TP Réseaux", "TP Algo", "TP sans date"},
		},
		{
			name:   "year and months require a parsed start",
			filter: report.Filter{SummaryContains: "TP", DescriptionContains: "A1", Year: 2023, Months: []int{9, 10, 11, 12}},
			want:   []string{"TP Algo", "TP Réseaux"},
		},
		{
			name:   "negative year means any year",
			filter: report.Filter{SummaryContains: "TP", DescriptionContains: "A1", Year: -1, Months: []int{9}},
			want:   []string{"TP Algo", "TP Algo"},
		},
		{
			name:   "subject table",
			filter: report.Filter{SummaryContains: "7", DescriptionContains: "B1"},
			want:   []string{"CM 7 Maths"},
		},
		{
			name:   "empty filter matches all",
			filter: report.Filter{},
			want:   []string{"TP Algo", "TP Réseaux", "CM 7 Maths", "TP Algo", "TP sans date"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := make([]string, 0)
			for _, r := range report.Select(records, tt.filter) {
				got = append(got, r.Summary)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCountByMonth(t *testing.T) {
	mc := report.CountByMonth(sampleRecords())

	assert.Equal(t, 2, mc[8], "September")
	assert.Equal(t, 2, mc[9], "October")
	assert.Equal(t, 4, mc.Total(), "unparsed start is skipped")

	assert.Equal(t, []report.Bar{
		{Label: "Septembre", Value: 2},
		{Label: "Octobre", Value: 2},
		{Label: "Novembre", Value: 0},
		{Label: "Décembre", Value: 0},
	}, mc.Only([]int{9, 10, 11, 12, 13}))

	assert.Equal(t, []report.Bar{
		{Label: "Septembre", Value: 2},
		{Label: "Octobre", Value: 2},
	}, mc.NonZero())
}

func TestBarChart(t *testing.T) {
	var buf bytes.Buffer
	bars := []report.Bar{{Label: "Septembre", Value: 3}, {Label: "Octobre", Value: 3}, {Label: "Novembre", Value: 0}}

	err := report.BarChart(&buf, bars, report.ChartOptions{Title: "Séances de TP", Width: 200, Height: 300})
	require.NoError(t, err)

	img, err := png.Decode(&buf)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, img.Bounds().Dx(), 3*100, "width grows with bar count")
	assert.Equal(t, 300, img.Bounds().Dy())
}

func TestBarChart_NoData(t *testing.T) {
	var buf bytes.Buffer
	err := report.BarChart(&buf, []report.Bar{{Label: "Septembre"}}, report.ChartOptions{})
	assert.ErrorIs(t, err, report.ErrNoData)
	assert.Zero(t, buf.Len())
}

func TestPieChart(t *testing.T) {
	var buf bytes.Buffer
	bars := []report.Bar{{Label: "Septembre", Value: 4}, {Label: "Octobre", Value: 0}, {Label: "Novembre", Value: 2}}

	require.NoError(t, report.PieChart(&buf, bars, report.ChartOptions{Title: "Groupe A1", Width: 400}))

	img, err := png.Decode(&buf)
	require.NoError(t, err)
	assert.Equal(t, 400, img.Bounds().Dx())

	err = report.PieChart(&bytes.Buffer{}, []report.Bar{{Label: "x"}}, report.ChartOptions{})
	assert.ErrorIs(t, err, report.ErrNoData)
}

func TestSideBySide(t *testing.T) {
	var left, right bytes.Buffer
	require.NoError(t, report.BarChart(&left, []report.Bar{{Label: "a", Value: 1}}, report.ChartOptions{Width: 400, Height: 300}))
	require.NoError(t, report.BarChart(&right, []report.Bar{{Label: "b", Value: 2}}, report.ChartOptions{Width: 500, Height: 200}))

	var out bytes.Buffer
	require.NoError(t, report.SideBySide(&out, left.Bytes(), right.Bytes()))

	img, err := png.Decode(&out)
	require.NoError(t, err)
	assert.Equal(t, 900, img.Bounds().Dx())
	assert.Equal(t, 300, img.Bounds().Dy())

	assert.ErrorIs(t, report.SideBySide(&out), report.ErrNoData)
	assert.Error(t, report.SideBySide(&out, []byte("not a png")))
}

func TestMarkdownAndHTML(t *testing.T) {
	var m report.Markdown
	m.Heading(1, "Résultats des Travaux")
	m.Paragraph("Deux séances.")
	m.List("first", "second")
	m.Table([]string{"Résumé", "Lieu"}, [][]string{{"TP | Algo", "Room\n1"}})
	m.Image("Diagramme", "chart.png")

	doc := string(m.Bytes())
	assert.Contains(t, doc, "# Résultats des Travaux\n")
	assert.Contains(t, doc, "| Résumé | Lieu |\n| --- | --- |\n| TP \\| Algo | Room 1 |\n")
	assert.Contains(t, doc, "![Diagramme](chart.png)")

	page, err := report.RenderHTML("Travaux <Go>", m.Bytes())
	require.NoError(t, err)

	html := string(page)
	assert.Contains(t, html, "<title>Travaux &lt;Go&gt;</title>")
	assert.Contains(t, html, `data-ready="true"`)
	assert.Contains(t, html, "<h1>Résultats des Travaux</h1>")
	assert.Contains(t, html, "<th>Résumé</th>")
	assert.Contains(t, html, "<td>TP | Algo</td>")
	assert.Contains(t, html, `<img src="chart.png" alt="Diagramme">`)
	assert.Contains(t, html, "<li>second</li>")
}

func TestRenderHTML_DropsRawHTML(t *testing.T) {
	page, err := report.RenderHTML("x", []byte("<script>alert(1)</script>\n\ntext"))
	require.NoError(t, err)
	assert.NotContains(t, string(page), "<script>")
}

func TestMarkdown_EscapesInlineSyntax(t *testing.T) {
	var m report.Markdown
	m.Heading(2, "Salle *B* [TD]")
	m.Table([]string{"Résumé"}, [][]string{
		{"<b>x</b> *y* _z_ `c` ~~s~~ &amp; [l](u)"},
	})
	m.Image("chart [v2]", "chart.png")

	doc := string(m.Bytes())
	assert.Contains(t, doc, "## Salle \\*B\\* \\[TD\\]\n")
	assert.Contains(t, doc, "| \\<b\\>x\\</b\\> \\*y\\* \\_z\\_")
	assert.Contains(t, doc, "![chart \\[v2\\]](chart.png)")

	page, err := report.RenderHTML("x", m.Bytes())
	require.NoError(t, err)

	html := string(page)
	assert.Contains(t, html, "<h2>Salle *B* [TD]</h2>")
	assert.Contains(t, html, "<td>&lt;b&gt;x&lt;/b&gt; *y* _z_ `c` ~~s~~ &amp;amp; [l](u)</td>")
	assert.Contains(t, html, `alt="chart [v2]"`)
	for _, tag := range []string{"<em>", "<strong>", "<code>", "<del>", "<a "} {
		assert.NotContains(t, html, tag)
	}
}

func TestRows(t *testing.T) {
	header, rows := report.Rows(sampleRecords()[2:3], report.TableOptions{Headers: []string{"too", "short"}})
	assert.Equal(t, []string{"Summary", "Start", "End", "Location", "Description"}, header)
	assert.Equal(t, [][]string{{"CM 7 Maths", "2023-10-05 08:00", "vide", "Amphi", "B1"}}, rows)
}
