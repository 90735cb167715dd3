// Package render turns catalog results into the scatter and Hess panels.
package render

import (
	"fmt"
	"log/slog"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/hessmap/server/internal/catalog"
	"github.com/hessmap/server/internal/params"
	"github.com/hessmap/server/internal/query"
	"github.com/hessmap/server/pkg/colormap"
)

// Config contains pipeline configuration.
type Config struct {
	DefaultColormap string
	DefaultGridSize int
	Logger          *slog.Logger
}

// Pipeline computes render states. It holds no per-cycle state and is
// safe for concurrent use.
type Pipeline struct {
	config Config
	logger *slog.Logger
}

// NewPipeline creates a new render pipeline.
func NewPipeline(cfg Config) *Pipeline {
	if !colormap.Valid(cfg.DefaultColormap) {
		cfg.DefaultColormap = "viridis"
	}
	if cfg.DefaultGridSize <= 0 {
		cfg.DefaultGridSize = 100
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Pipeline{
		config: cfg,
		logger: cfg.Logger.With("component", "render"),
	}
}

// Render builds the panels for outcome. Empty and failed outcomes, and
// rows that cannot be plotted, all yield blank panels with the standard
// axes; Status and Cause tell them apart.
func (p *Pipeline) Render(outcome catalog.Outcome, display params.Display) State {
	cmap := display.Colormap
	if !colormap.Valid(cmap) {
		cmap = p.config.DefaultColormap
	}
	gridSize := display.GridSize
	if gridSize <= 0 {
		gridSize = p.config.DefaultGridSize
	}

	switch outcome.Kind {
	case catalog.KindEmpty:
		return Blank(StatusEmpty, nil, cmap)
	case catalog.KindFailed:
		return Blank(StatusFailed, outcome.Err, cmap)
	case catalog.KindRows:
		if len(outcome.Rows) == 0 {
			return Blank(StatusEmpty, nil, cmap)
		}
		st, err := p.plot(outcome.Rows, gridSize, cmap)
		if err != nil {
			p.logger.Warn("rows could not be plotted", "error", err, "rows", len(outcome.Rows))
			return Blank(StatusRenderFault, err, cmap)
		}
		return st
	default:
		return Blank(StatusFailed, fmt.Errorf("unknown outcome kind %v", outcome.Kind), cmap)
	}
}

func (p *Pipeline) plot(rows []catalog.Row, gridSize int, cmap string) (State, error) {
	n := len(rows)
	ras := make([]float64, n)
	decs := make([]float64, n)
	colors := make([]float64, n)
	mags := make([]float64, n)

	for i, r := range rows {
		for _, f := range []struct {
			name string
			v    float64
		}{
			{"ra", r.RA}, {"dec", r.Dec}, {"g", r.G}, {"r", r.R},
		} {
			if math.IsNaN(f.v) || math.IsInf(f.v, 0) {
				return State{}, &RenderError{Row: i, Field: f.name, Value: f.v}
			}
		}
		ras[i] = r.RA
		decs[i] = r.Dec
		colors[i] = r.G - r.R
		mags[i] = r.G
		if !finite(colors[i]) {
			return State{}, &RenderError{Row: i, Field: "color", Value: colors[i]}
		}
	}

	points := make([]Point, n)
	for i := range rows {
		points[i] = Point{X: ras[i], Y: decs[i]}
	}

	hexes, grid := Hexbin(colors, mags, gridSize)
	maxCount := 0
	for _, h := range hexes {
		if h.Count > maxCount {
			maxCount = h.Count
		}
	}

	colorMean, colorStd := stat.MeanStdDev(colors, nil)
	magMean, magStd := stat.MeanStdDev(mags, nil)
	if n == 1 {
		colorStd, magStd = 0, 0
	}

	scatterX := withMargin(floats.Min(ras), floats.Max(ras), 0.05)
	scatterY := withMargin(floats.Min(decs), floats.Max(decs), 0.05)
	hessX := withMargin(grid.XMin, grid.XMax, 0.05)
	for _, c := range []struct {
		name string
		vals []float64
	}{
		{"scatter extent", []float64{scatterX[0], scatterX[1], scatterY[0], scatterY[1]}},
		{"hess extent", []float64{hessX[0], hessX[1], grid.YMin, grid.YMax}},
		{"hex size", []float64{grid.SX, grid.SY}},
		{"summary", []float64{colorMean, colorStd, magMean, magStd}},
	} {
		if !finite(c.vals...) {
			return State{}, fmt.Errorf("%s is not finite: %v", c.name, c.vals)
		}
	}

	return State{
		Status: StatusOK,
		Scatter: Panel{
			XLabel: LabelRA,
			YLabel: LabelDec,
			XRange: scatterX,
			YRange: scatterY,
			Points: points,
		},
		Hess: Panel{
			XLabel:    LabelColor,
			YLabel:    LabelMag,
			XRange:    hessX,
			YRange:    HessYRange,
			Hexes:     hexes,
			HexWidth:  grid.SX,
			HexHeight: grid.SY,
			MaxCount:  maxCount,
			Colormap:  cmap,
		},
		Summary: &Summary{
			N:         n,
			ColorMean: colorMean,
			ColorStd:  colorStd,
			MagMean:   magMean,
			MagStd:    magStd,
		},
	}, nil
}

func finite(vals ...float64) bool {
	for _, v := range vals {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// Blank returns the fallback state: both panels with their standard axes
// and no data layer.
func Blank(status Status, cause error, cmap string) State {
	return State{
		Status: status,
		Cause:  cause,
		Scatter: Panel{
			XLabel: LabelRA,
			YLabel: LabelDec,
			XRange: Range{0, 1},
			YRange: Range{0, 1},
		},
		Hess: Panel{
			XLabel:   LabelColor,
			YLabel:   LabelMag,
			XRange:   Range{query.ColorMin, query.ColorMax},
			YRange:   HessYRange,
			Colormap: cmap,
		},
	}
}
