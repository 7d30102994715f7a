package packets

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	appLog "calreport/internal/log"
	"calreport/internal/report"
)

const (
	CSVFile      = "network_traffic.csv"
	MarkdownFile = "suspicious_activity_report.md"
	GraphFile    = "network_traffic_graphs.png"
	HTMLFile     = "network_traffic_report.html"

	reportTitle = "Rapport de Détection de Menaces Réseau"
)

var csvHeader = []string{"Heure", "IP Source", "IP Destination", "Flags", "Longueur"}

// Artifacts lists the files written by WriteReport. Graph is empty when
// there was nothing to chart.
type Artifacts struct {
	CSV      string
	Markdown string
	Graph    string
	HTML     string
}

// WriteReport writes the CSV, Markdown, chart and HTML outputs into dir.
func WriteReport(dir string, pkts []Packet, a Analysis, th Thresholds, topN int) (Artifacts, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Artifacts{}, err
	}
	var out Artifacts

	var csvData bytes.Buffer
	if err := WriteCSV(&csvData, pkts); err != nil {
		return Artifacts{}, err
	}
	out.CSV = filepath.Join(dir, CSVFile)
	if err := os.WriteFile(out.CSV, csvData.Bytes(), 0o644); err != nil {
		return Artifacts{}, fmt.Errorf("packets: write csv: %w", err)
	}

	graph, err := graphs(a, topN)
	switch {
	case errors.Is(err, report.ErrNoData):
		appLog.Warn("packets: nothing to chart", "packets", a.Total)
	case err != nil:
		return Artifacts{}, err
	default:
		out.Graph = filepath.Join(dir, GraphFile)
		if err := os.WriteFile(out.Graph, graph, 0o644); err != nil {
			return Artifacts{}, fmt.Errorf("packets: write graph: %w", err)
		}
	}

	md := Markdown(a, th, topN, filepath.Base(out.Graph), out.Graph != "")
	out.Markdown = filepath.Join(dir, MarkdownFile)
	if err := os.WriteFile(out.Markdown, md, 0o644); err != nil {
		return Artifacts{}, fmt.Errorf("packets: write markdown: %w", err)
	}

	page, err := report.RenderHTML(reportTitle, md)
	if err != nil {
		return Artifacts{}, err
	}
	out.HTML = filepath.Join(dir, HTMLFile)
	if err := os.WriteFile(out.HTML, page, 0o644); err != nil {
		return Artifacts{}, fmt.Errorf("packets: write html: %w", err)
	}

	return out, nil
}

// WriteCSV writes one row per packet after a header row.
func WriteCSV(w io.Writer, pkts []Packet) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return fmt.Errorf("packets: write csv header: %w", err)
	}
	for _, p := range pkts {
		if err := cw.Write([]string{p.Time, p.Source, p.Destination, p.Flags, strconv.Itoa(p.Length)}); err != nil {
			return fmt.Errorf("packets: write csv row: %w", err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("packets: write csv: %w", err)
	}
	return nil
}

// Markdown renders the threat report.
func Markdown(a Analysis, th Thresholds, topN int, graph string, withGraph bool) []byte {
	var m report.Markdown
	m.Heading(1, reportTitle)

	m.Heading(2, "Résumé des Résultats")
	m.List(
		fmt.Sprintf("Nombre total de paquets analysés : **%d**", a.Total),
		fmt.Sprintf("Nombre d'adresses IP sources uniques : **%d**", a.UniqueSources),
		fmt.Sprintf("Nombre d'adresses IP destinations uniques : **%d**", a.UniqueDestinations),
	)

	m.Heading(2, "Menaces Potentielles Détectées")
	if len(a.DDoSSuspects) > 0 {
		m.Paragraph(fmt.Sprintf("**DDoS possible :** IP(s) source avec plus de %d connexions", th.DDoS))
		m.List(countItems(a.DDoSSuspects, "connexions détectées")...)
	}
	if len(a.FloodSuspects) > 0 {
		m.Paragraph(fmt.Sprintf("**Flood possible :** IP(s) envoyant plus de %d paquets de moins de %d octets", th.Flood, th.ShortLength))
		m.List(countItems(a.FloodSuspects, "paquets courts détectés")...)
	}
	if len(a.DDoSSuspects) == 0 && len(a.FloodSuspects) == 0 {
		m.Paragraph("Aucune source au-delà des seuils configurés.")
	}
	m.Paragraph("**Statistiques des flags TCP :**")
	m.List(countItems(a.Flags, "occurrences")...)

	if withGraph {
		m.Heading(2, "Graphiques")
		m.Image("Graphiques de détection de menaces réseau", graph)
	}

	m.Heading(2, "Statistiques Complètes")
	m.Heading(3, fmt.Sprintf("Connexions par IP Source (Top %d)", topN))
	m.Table([]string{"IP Source", "Connexions"}, countRows(Top(a.PerSource, topN)))
	m.Heading(3, fmt.Sprintf("Paquets Courts par IP Source (Top %d)", topN))
	m.Table([]string{"IP Source", "Paquets courts"}, countRows(Top(a.ShortPerSource, topN)))

	return m.Bytes()
}

func countItems(counts []Count, unit string) []string {
	items := make([]string, 0, len(counts))
	for _, c := range counts {
		items = append(items, fmt.Sprintf("%s : %d %s", c.Key, c.Count, unit))
	}
	return items
}

func countRows(counts []Count) [][]string {
	rows := make([][]string, 0, len(counts))
	for _, c := range counts {
		rows = append(rows, []string{c.Key, strconv.Itoa(c.Count)})
	}
	return rows
}

func bars(counts []Count) []report.Bar {
	out := make([]report.Bar, 0, len(counts))
	for _, c := range counts {
		out = append(out, report.Bar{Label: c.Key, Value: float64(c.Count)})
	}
	return out
}

// graphs renders the top sources and top short-packet sources side by side.
// A panel without data is left out; ErrNoData if both are empty.
func graphs(a Analysis, topN int) ([]byte, error) {
	panels := make([][]byte, 0, 2)

	specs := []struct {
		counts []Count
		title  string
		color  string
	}{
		{Top(a.PerSource, topN), fmt.Sprintf("Top %d des Connexions par IP Source", topN), "87ceeb"},
		{Top(a.ShortPerSource, topN), fmt.Sprintf("Top %d des Paquets Courts par IP Source", topN), "ffa500"},
	}
	for _, s := range specs {
		var buf bytes.Buffer
		err := report.BarChart(&buf, bars(s.counts), report.ChartOptions{Title: s.title, Width: 600, Height: 480, Color: s.color})
		if errors.Is(err, report.ErrNoData) {
			continue
		}
		if err != nil {
			return nil, err
		}
		panels = append(panels, buf.Bytes())
	}

	var out bytes.Buffer
	if err := report.SideBySide(&out, panels...); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}
