package packets_test

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"calreport/internal/packets"
)

const dump = `tcpdump: verbose output suppressed, use -v or -vv for full protocol decode
listening on eth0, link-type EN10MB (Ethernet), capture size 262144 bytes
12:00:00.000001 IP 10.0.0.1.51000 > 10.0.0.9.443: Flags [S], seq 100, win 64240, length 0
12:00:00.000002 IP 10.0.0.9.443 > 10.0.0.1.51000: Flags [S.], seq 200, ack 101, win 65160, length 0
12:00:00.000003 IP 10.0.0.1.51000 > 10.0.0.9.443: Flags [P.], seq 101:618, ack 201, win 502, length 517
12:00:00.000004 ARP, Request who-has 10.0.0.254 tell 10.0.0.1, length 28
12:00:00.000005 IP 10.0.0.2.40000 > 10.0.0.9.80: Flags [S], seq 1, win 1024, length 0
`

func TestParse(t *testing.T) {
	pkts, err := packets.Parse(strings.NewReader(dump))
	require.NoError(t, err)

	require.Len(t, pkts, 4)
	assert.Equal(t, packets.Packet{
		Time:        "12:00:00.000003",
		Source:      "10.0.0.1.51000",
		Destination: "10.0.0.9.443",
		Flags:       "P.",
		Length:      517,
	}, pkts[2])
}

func TestParseLine_Rejects(t *testing.T) {
	_, ok := packets.ParseLine("12:00:00 IP 1.2.3.4 > 5.6.7.8: Flags [S], length 0")
	assert.False(t, ok, "timestamp needs fractional seconds")

	_, ok = packets.ParseLine("12:00:00.1 IP6 ::1.1 > ::1.2: Flags [S], length 0")
	assert.False(t, ok)
}

// synthetic builds n packets from src with the given length.
func synthetic(src string, n, length int) []packets.Packet {
	out := make([]packets.Packet, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, packets.Packet{
			Time:        fmt.Sprintf("12:00:%02d.000000", i%60),
			Source:      src,
			Destination: "10.0.0.9.80",
			Flags:       "S",
			Length:      length,
		})
	}
	return out
}

func TestAnalyze(t *testing.T) {
	var pkts []packets.Packet
	pkts = append(pkts, synthetic("10.0.0.3.1", 2, 100)...)
	pkts = append(pkts, synthetic("10.0.0.1.1", 5, 10)...)
	pkts = append(pkts, synthetic("10.0.0.2.1", 5, 1000)...)
	pkts = append(pkts, packets.Packet{Source: "10.0.0.3.1", Destination: "10.0.0.8.22", Flags: "P.", Length: 20})

	a := packets.Analyze(pkts, packets.Thresholds{DDoS: 4, Flood: 3, ShortLength: 50})

	assert.Equal(t, 13, a.Total)
	assert.Equal(t, 3, a.UniqueSources)
	assert.Equal(t, 2, a.UniqueDestinations)

	assert.Equal(t, []packets.Count{
		{Key: "10.0.0.1.1", Count: 5},
		{Key: "10.0.0.2.1", Count: 5},
		{Key: "10.0.0.3.1", Count: 3},
	}, a.PerSource, "count desc, ties by first seen")

	assert.Equal(t, []packets.Count{
		{Key: "10.0.0.1.1", Count: 5},
		{Key: "10.0.0.3.1", Count: 1},
	}, a.ShortPerSource)

	assert.Equal(t, []packets.Count{{Key: "S", Count: 12}, {Key: "P.", Count: 1}}, a.Flags)

	assert.Equal(t, []packets.Count{{Key: "10.0.0.1.1", Count: 5}, {Key: "10.0.0.2.1", Count: 5}}, a.DDoSSuspects)
	assert.Equal(t, []packets.Count{{Key: "10.0.0.1.1", Count: 5}}, a.FloodSuspects)
}

func TestAnalyze_ThresholdIsExclusive(t *testing.T) {
	a := packets.Analyze(synthetic("10.0.0.1.1", 100, 10), packets.Thresholds{DDoS: 100, Flood: 50, ShortLength: 50})

	assert.Empty(t, a.DDoSSuspects)
	assert.Len(t, a.FloodSuspects, 1)
}

func TestTop(t *testing.T) {
	counts := []packets.Count{{Key: "a", Count: 3}, {Key: "b", Count: 2}, {Key: "c", Count: 1}}
	assert.Len(t, packets.Top(counts, 2), 2)
	assert.Len(t, packets.Top(counts, 10), 3)
}

func TestWriteReport(t *testing.T) {
	pkts, err := packets.Parse(strings.NewReader(dump))
	require.NoError(t, err)
	th := packets.Thresholds{DDoS: 1, Flood: 1, ShortLength: 50}
	a := packets.Analyze(pkts, th)

	dir := t.TempDir()
	art, err := packets.WriteReport(dir, pkts, a, th, 10)
	require.NoError(t, err)

	csvData, err := os.ReadFile(art.CSV)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(csvData)), "\n")
	require.Len(t, lines, 5)
	assert.Equal(t, "Heure,IP Source,IP Destination,Flags,Longueur", lines[0])
	assert.Equal(t, "12:00:00.000001,10.0.0.1.51000,10.0.0.9.443,S,0", lines[1])

	md, err := os.ReadFile(art.Markdown)
	require.NoError(t, err)
	assert.Contains(t, string(md), "Nombre total de paquets analysés : **4**")
	assert.Contains(t, string(md), "**DDoS possible :**")
	assert.Contains(t, string(md), "- 10.0.0.1.51000 : 2 connexions détectées")
	assert.Contains(t, string(md), "| 10.0.0.1.51000 | 2 |")
	assert.Contains(t, string(md), "![Graphiques de détection de menaces réseau](network_traffic_graphs.png)")

	assert.Equal(t, filepath.Join(dir, packets.GraphFile), art.Graph)
	info, err := os.Stat(art.Graph)
	require.NoError(t, err)
	assert.Positive(t, info.Size())

	page, err := os.ReadFile(art.HTML)
	require.NoError(t, err)
	assert.Contains(t, string(page), "<h1>Rapport de Détection de Menaces Réseau</h1>")
}

type brokenWriter struct{}

func (brokenWriter) Write([]byte) (int, error) { return 0, errors.New("disk full") }

func TestWriteCSV_PropagatesWriteErrors(t *testing.T) {
	pkts, err := packets.Parse(strings.NewReader(dump))
	require.NoError(t, err)

	err = packets.WriteCSV(brokenWriter{}, pkts)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
}

func TestWriteReport_EmptyCapture(t *testing.T) {
	th := packets.Thresholds{DDoS: 100, Flood: 50, ShortLength: 50}
	art, err := packets.WriteReport(t.TempDir(), nil, packets.Analyze(nil, th), th, 10)

	require.NoError(t, err)
	assert.Empty(t, art.Graph)
	md, err := os.ReadFile(art.Markdown)
	require.NoError(t, err)
	assert.Contains(t, string(md), "Aucune source au-delà des seuils configurés.")
	assert.NotContains(t, string(md), "![")
}
