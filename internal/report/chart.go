package report

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"io"

	chart "github.com/wcharczuk/go-chart/v2"
	"github.com/wcharczuk/go-chart/v2/drawing"
)

// ErrNoData is returned when a chart would have nothing to plot.
var ErrNoData = errors.New("report: no data to chart")

const (
	barWidth   = 60
	barSpacing = 40
	chartPad   = 160
)

var barColor = drawing.ColorFromHex("87ceeb")

// ChartOptions describes a single chart.
type ChartOptions struct {
	Title  string
	Width  int
	Height int
	// Color overrides the bar fill (hex, without '#').
	Color string
}

// BarChart renders bars as a PNG. All-zero input yields ErrNoData.
func BarChart(w io.Writer, bars []Bar, opts ChartOptions) error {
	maxVal := 0.0
	for _, b := range bars {
		if b.Value > maxVal {
			maxVal = b.Value
		}
	}
	if maxVal <= 0 {
		return ErrNoData
	}

	fill := barColor
	if opts.Color != "" {
		fill = drawing.ColorFromHex(opts.Color)
	}

	values := make([]chart.Value, 0, len(bars))
	for _, b := range bars {
		values = append(values, chart.Value{
			Label: b.Label,
			Value: b.Value,
			Style: chart.Style{FillColor: fill, StrokeColor: fill},
		})
	}

	width := opts.Width
	if minWidth := len(bars)*(barWidth+barSpacing) + chartPad; width < minWidth {
		width = minWidth
	}
	height := opts.Height
	if height <= 0 {
		height = 480
	}

	graph := chart.BarChart{
		Title:      opts.Title,
		Background: chart.Style{Padding: chart.Box{Top: 48, Left: 16, Right: 16, Bottom: 16}},
		Width:      width,
		Height:     height,
		BarWidth:   barWidth,
		BarSpacing: barSpacing,
		// Anchor the axis at zero; go-chart otherwise starts at the smallest bar.
		YAxis: chart.YAxis{Range: &chart.ContinuousRange{Min: 0, Max: maxVal * 1.1}},
		Bars:  values,
	}
	if err := graph.Render(chart.PNG, w); err != nil {
		return fmt.Errorf("report: render bar chart: %w", err)
	}
	return nil
}

// PieChart renders the non-zero bars as pie slices in a PNG.
func PieChart(w io.Writer, bars []Bar, opts ChartOptions) error {
	values := make([]chart.Value, 0, len(bars))
	for _, b := range bars {
		if b.Value <= 0 {
			continue
		}
		values = append(values, chart.Value{Label: b.Label, Value: b.Value})
	}
	if len(values) == 0 {
		return ErrNoData
	}

	size := opts.Width
	if size <= 0 {
		size = 600
	}

	pie := chart.PieChart{
		Title:  opts.Title,
		Width:  size,
		Height: size,
		Values: values,
	}
	if err := pie.Render(chart.PNG, w); err != nil {
		return fmt.Errorf("report: render pie chart: %w", err)
	}
	return nil
}

// SideBySide lays PNG images out left to right on a white canvas, top
// aligned, and writes the result as a PNG.
func SideBySide(w io.Writer, pngs ...[]byte) error {
	if len(pngs) == 0 {
		return ErrNoData
	}

	imgs := make([]image.Image, 0, len(pngs))
	width, height := 0, 0
	for i, data := range pngs {
		img, err := png.Decode(bytes.NewReader(data))
		if err != nil {
			return fmt.Errorf("report: decode panel %d: %w", i, err)
		}
		b := img.Bounds()
		width += b.Dx()
		if b.Dy() > height {
			height = b.Dy()
		}
		imgs = append(imgs, img)
	}

	canvas := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(canvas, canvas.Bounds(), &image.Uniform{C: color.White}, image.Point{}, draw.Src)

	x := 0
	for _, img := range imgs {
		b := img.Bounds()
		draw.Draw(canvas, image.Rect(x, 0, x+b.Dx(), b.Dy()), img, b.Min, draw.Over)
		x += b.Dx()
	}

	return png.Encode(w, canvas)
}
