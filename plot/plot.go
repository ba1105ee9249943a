// Package plot renders the temperature readings of a finished session as an SVG
// line graph.
package plot

import (
	"bytes"
	"errors"
	"fmt"
	"image/color"
	"math"

	gonumplot "gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"

	"github.com/mtraver/rc-thermometer/measurement"
)

var ErrNoPoints = errors.New("plot: no points to plot")

const (
	DefaultTitle  = "Temperature Readings Graph"
	DefaultXLabel = "Time in seconds"
	DefaultYLabel = "Temperature in Celsius"
)

// Opts sizes and labels a plot. Width and Height are in points.
type Opts struct {
	Width  int
	Height int
	Title  string
	XLabel string
	YLabel string
}

var DefaultOpts = Opts{
	Width:  640,
	Height: 480,
	Title:  DefaultTitle,
	XLabel: DefaultXLabel,
	YLabel: DefaultYLabel,
}

// Smallest plot that still leaves room for the axes and labels.
const minSize = 100

var lineColor = color.RGBA{R: 0x1f, G: 0x77, B: 0xb4, A: 0xff}

// SVG renders points as a line graph of temperature against elapsed seconds. The x
// axis starts at zero and the temperature axis is padded by half a degree and rounded
// out to whole degrees.
func SVG(points []measurement.Point, opts Opts) ([]byte, error) {
	if len(points) == 0 {
		return nil, ErrNoPoints
	}
	if opts.Width < minSize || opts.Height < minSize {
		return nil, fmt.Errorf("plot: %dx%d is too small", opts.Width, opts.Height)
	}

	xys := make(plotter.XYs, len(points))
	ymin, ymax := math.Inf(1), math.Inf(-1)
	for i, p := range points {
		if math.IsNaN(p.Celsius) || math.IsInf(p.Celsius, 0) {
			return nil, fmt.Errorf("plot: invalid temperature %v at %v", p.Celsius, p.Elapsed)
		}
		xys[i].X = p.Elapsed.Seconds()
		xys[i].Y = p.Celsius
		ymin = math.Min(ymin, p.Celsius)
		ymax = math.Max(ymax, p.Celsius)
	}

	p := gonumplot.New()
	p.Title.Text = opts.Title
	p.X.Label.Text = opts.XLabel
	p.Y.Label.Text = opts.YLabel
	p.Add(plotter.NewGrid())

	line, err := plotter.NewLine(xys)
	if err != nil {
		return nil, fmt.Errorf("plot: %w", err)
	}
	line.LineStyle.Width = vg.Points(2)
	line.LineStyle.Color = lineColor

	markers, err := plotter.NewScatter(xys)
	if err != nil {
		return nil, fmt.Errorf("plot: %w", err)
	}
	markers.GlyphStyle.Shape = draw.CircleGlyph{}
	markers.GlyphStyle.Radius = vg.Points(3)
	markers.GlyphStyle.Color = lineColor

	p.Add(line, markers)

	// Set after Add, which widens the ranges to fit the data.
	p.X.Min = 0
	if p.X.Max <= 0 {
		p.X.Max = 10
	}
	p.Y.Min = math.Floor(ymin - 0.5)
	p.Y.Max = math.Ceil(ymax + 0.5)

	wt, err := p.WriterTo(vg.Points(float64(opts.Width)), vg.Points(float64(opts.Height)), "svg")
	if err != nil {
		return nil, fmt.Errorf("plot: %w", err)
	}

	var b bytes.Buffer
	if _, err := wt.WriteTo(&b); err != nil {
		return nil, fmt.Errorf("plot: failed to render: %w", err)
	}
	return b.Bytes(), nil
}
