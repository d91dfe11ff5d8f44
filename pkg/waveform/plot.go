// Package waveform renders simulation results as PNG line plots.
package waveform

import (
	"fmt"
	"io"
	"os"
	"slices"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"

	"github.com/edp1096/spicecore/pkg/analysis"
)

// Trace is one named curve.
type Trace struct {
	Name string
	X, Y []float64
}

type Options struct {
	Title  string
	XLabel string
	YLabel string
	Width  vg.Length // 0 means 16cm
	Height vg.Length // 0 means 10cm
}

// FromTransient picks unknowns by name (e.g. "V(out)", "I(V1)") out of a
// transient result, against time.
func FromTransient(res *analysis.TransientResult, names ...string) ([]Trace, error) {
	times := res.Times()
	traces := make([]Trace, 0, len(names))
	for _, name := range names {
		idx := slices.Index(res.Names, name)
		if idx < 0 {
			return nil, fmt.Errorf("no unknown named %s", name)
		}
		traces = append(traces, Trace{Name: name, X: times, Y: res.Trace(idx)})
	}
	return traces, nil
}

// FromResults picks series out of a named result map against the series
// xKey, usually "TIME" or "SWEEP1".
func FromResults(results map[string][]float64, xKey string, names ...string) ([]Trace, error) {
	x, ok := results[xKey]
	if !ok {
		return nil, fmt.Errorf("no %s series in results", xKey)
	}
	traces := make([]Trace, 0, len(names))
	for _, name := range names {
		y, ok := results[name]
		if !ok {
			return nil, fmt.Errorf("no %s series in results", name)
		}
		traces = append(traces, Trace{Name: name, X: x, Y: y})
	}
	return traces, nil
}

// Plot draws every trace on one set of axes.
func Plot(traces []Trace, opts Options) (*plot.Plot, error) {
	if len(traces) == 0 {
		return nil, fmt.Errorf("nothing to plot")
	}

	p := plot.New()
	p.Title.Text = opts.Title
	p.X.Label.Text = opts.XLabel
	p.Y.Label.Text = opts.YLabel
	p.Add(plotter.NewGrid())

	for i, tr := range traces {
		if len(tr.X) != len(tr.Y) {
			return nil, fmt.Errorf("trace %s: %d x values, %d y values", tr.Name, len(tr.X), len(tr.Y))
		}
		xys := make(plotter.XYs, len(tr.X))
		for k := range tr.X {
			xys[k].X = tr.X[k]
			xys[k].Y = tr.Y[k]
		}

		line, err := plotter.NewLine(xys)
		if err != nil {
			return nil, fmt.Errorf("trace %s: %w", tr.Name, err)
		}
		line.Color = plotutil.Color(i)
		p.Add(line)
		p.Legend.Add(tr.Name, line)
	}
	p.Legend.Top = true
	return p, nil
}

func size(opts Options) (vg.Length, vg.Length) {
	w, h := opts.Width, opts.Height
	if w == 0 {
		w = 16 * vg.Centimeter
	}
	if h == 0 {
		h = 10 * vg.Centimeter
	}
	return w, h
}

// WritePNG renders the traces as a PNG image to w.
func WritePNG(w io.Writer, traces []Trace, opts Options) error {
	p, err := Plot(traces, opts)
	if err != nil {
		return err
	}
	width, height := size(opts)
	wt, err := p.WriterTo(width, height, "png")
	if err != nil {
		return fmt.Errorf("rendering plot: %w", err)
	}
	if _, err := wt.WriteTo(w); err != nil {
		return fmt.Errorf("writing plot: %w", err)
	}
	return nil
}

// SavePNG renders the traces into the file at path.
func SavePNG(path string, traces []Trace, opts Options) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := WritePNG(f, traces, opts); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
