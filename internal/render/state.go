package render

import (
	"fmt"
	"time"

	"github.com/hessmap/server/internal/params"
)

// Status describes how a State was produced.
type Status string

const (
	StatusOK Status = "ok"
	// StatusEmpty means the query succeeded and matched no stars.
	StatusEmpty Status = "empty"
	// StatusFailed means the query could not be built or executed.
	StatusFailed Status = "failed"
	// StatusRenderFault means rows arrived but could not be plotted.
	StatusRenderFault Status = "render_fault"
)

// Fixed axis labels.
const (
	LabelRA    = "RA"
	LabelDec   = "Dec"
	LabelColor = "G-R"
	LabelMag   = "G"
)

// MarkerSize is the scatter marker radius in points.
const MarkerSize = 0.8

// HessYRange is the magnitude axis of the Hess panel. Brighter stars
// (smaller magnitudes) are at the top.
var HessYRange = Range{24, 14}

// Range is an axis range. Range[0] sits at the axis origin (left or
// bottom), so Range[0] > Range[1] is an inverted axis.
type Range [2]float64

// Point is a scatter marker position.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Hex is one occupied hexagonal cell.
type Hex struct {
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Count int     `json:"count"`
}

// Panel is one rendered figure.
type Panel struct {
	XLabel string  `json:"x_label"`
	YLabel string  `json:"y_label"`
	XRange Range   `json:"x_range"`
	YRange Range   `json:"y_range"`
	Points []Point `json:"-"`
	Hexes  []Hex   `json:"-"`

	// Hexagon geometry, set when Hexes is non-empty.
	HexWidth  float64 `json:"hex_width,omitempty"`
	HexHeight float64 `json:"hex_height,omitempty"`
	MaxCount  int     `json:"max_count,omitempty"`
	Colormap  string  `json:"colormap,omitempty"`
}

// TotalCount returns the number of stars binned into the panel's hexes.
func (p Panel) TotalCount() int {
	n := 0
	for _, h := range p.Hexes {
		n += h.Count
	}
	return n
}

// Summary holds descriptive statistics of a non-empty result.
type Summary struct {
	N         int     `json:"n"`
	ColorMean float64 `json:"color_mean"`
	ColorStd  float64 `json:"color_std"`
	MagMean   float64 `json:"mag_mean"`
	MagStd    float64 `json:"mag_std"`
}

// State is the pair of rendered panels for one cycle. A State is built
// once and never modified after it is published.
type State struct {
	Generation uint64          `json:"generation"`
	Status     Status          `json:"status"`
	Cause      error           `json:"-"`
	Params     params.Snapshot `json:"params"`
	Query      string          `json:"query,omitempty"`
	Scatter    Panel           `json:"scatter"`
	Hess       Panel           `json:"hess"`
	Summary    *Summary        `json:"summary,omitempty"`
	RenderedAt time.Time       `json:"rendered_at"`
}

// Blank reports whether the state has no data layer.
func (s *State) Blank() bool {
	return len(s.Scatter.Points) == 0 && len(s.Hess.Hexes) == 0
}

// RenderError reports a row that could not be plotted.
type RenderError struct {
	Row   int
	Field string
	Value float64
}

func (e *RenderError) Error() string {
	return fmt.Sprintf("row %d: %s is not finite (%v)", e.Row, e.Field, e.Value)
}
