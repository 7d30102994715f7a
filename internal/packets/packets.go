// Package packets extracts TCP packet summaries from tcpdump text output and
// flags sources that look like DDoS or flood traffic.
package packets

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"regexp"
	"sort"
	"strconv"
)

// ErrUnreadableInput is returned when the dump cannot be read.
var ErrUnreadableInput = errors.New("packets: unreadable input")

// linePattern is the one tcpdump shape recognized:
//
//	12:00:00.000001 IP 10.0.0.1.443 > 10.0.0.2.51000: Flags [S.], seq 0, ack 1, win 0, length 0
var linePattern = regexp.MustCompile(`(\d{2}:\d{2}:\d{2}\.\d+)\s+IP\s+(\S+)\s>\s(\S+):\sFlags\s+\[(\S+)\],.*length\s+(\d+)`)

// Packet is one matched line.
type Packet struct {
	Time        string
	Source      string
	Destination string
	Flags       string
	Length      int
}

// Parse returns the packets of every matching line, in input order.
// Other lines are skipped.
func Parse(r io.Reader) ([]Packet, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)

	out := make([]Packet, 0)
	for sc.Scan() {
		if p, ok := ParseLine(sc.Text()); ok {
			out = append(out, p)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreadableInput, err)
	}
	return out, nil
}

// ParseLine matches a single line.
func ParseLine(line string) (Packet, bool) {
	m := linePattern.FindStringSubmatch(line)
	if m == nil {
		return Packet{}, false
	}
	n, err := strconv.Atoi(m[5])
	if err != nil {
		return Packet{}, false
	}
	return Packet{Time: m[1], Source: m[2], Destination: m[3], Flags: m[4], Length: n}, true
}

// Thresholds configure Analyze. Counts must be strictly greater than a
// threshold to be flagged.
type Thresholds struct {
	DDoS        int
	Flood       int
	ShortLength int
}

// Count is a key with its number of occurrences.
type Count struct {
	Key   string
	Count int
}

// Analysis summarizes a capture.
type Analysis struct {
	Total              int
	UniqueSources      int
	UniqueDestinations int

	// PerSource is sorted by count descending, ties in first-seen order.
	PerSource []Count
	// ShortPerSource counts packets shorter than ShortLength, same order rules.
	ShortPerSource []Count
	// Flags counts each flag set in first-seen order.
	Flags []Count

	DDoSSuspects  []Count
	FloodSuspects []Count
}

// Analyze aggregates packets.
func Analyze(pkts []Packet, th Thresholds) Analysis {
	perSource := newCounter()
	short := newCounter()
	flags := newCounter()
	dests := make(map[string]struct{})

	for _, p := range pkts {
		perSource.add(p.Source)
		flags.add(p.Flags)
		dests[p.Destination] = struct{}{}
		if p.Length < th.ShortLength {
			short.add(p.Source)
		}
	}

	a := Analysis{
		Total:              len(pkts),
		UniqueSources:      len(perSource.order),
		UniqueDestinations: len(dests),
		PerSource:          perSource.sorted(),
		ShortPerSource:     short.sorted(),
		Flags:              flags.inOrder(),
	}
	a.DDoSSuspects = above(a.PerSource, th.DDoS)
	a.FloodSuspects = above(a.ShortPerSource, th.Flood)
	return a
}

// Top returns at most n leading entries.
func Top(counts []Count, n int) []Count {
	if n < 0 || len(counts) <= n {
		return counts
	}
	return counts[:n]
}

func above(counts []Count, threshold int) []Count {
	out := make([]Count, 0)
	for _, c := range counts {
		if c.Count > threshold {
			out = append(out, c)
		}
	}
	return out
}

type counter struct {
	counts map[string]int
	order  []string
}

func newCounter() *counter {
	return &counter{counts: make(map[string]int)}
}

func (c *counter) add(key string) {
	if _, ok := c.counts[key]; !ok {
		c.order = append(c.order, key)
	}
	c.counts[key]++
}

func (c *counter) inOrder() []Count {
	out := make([]Count, 0, len(c.order))
	for _, k := range c.order {
		out = append(out, Count{Key: k, Count: c.counts[k]})
	}
	return out
}

func (c *counter) sorted() []Count {
	out := c.inOrder()
	sort.SliceStable(out, func(i, j int) bool { return out[i].Count > out[j].Count })
	return out
}
