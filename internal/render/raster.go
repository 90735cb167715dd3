package render

import (
	"bytes"
	"fmt"
	"image/color"
	"image/png"
	"math"
	"strconv"
	"sync"

	"github.com/fogleman/gg"

	"github.com/hessmap/server/internal/cache"
	"github.com/hessmap/server/pkg/colormap"
)

// PanelKind selects one of the two panels.
type PanelKind string

const (
	PanelScatter PanelKind = "scatter"
	PanelHess    PanelKind = "hess"
)

// ParsePanelKind validates a panel name.
func ParsePanelKind(s string) (PanelKind, error) {
	switch PanelKind(s) {
	case PanelScatter, PanelHess:
		return PanelKind(s), nil
	}
	return "", fmt.Errorf("unknown panel %q", s)
}

// Panel returns the selected panel of s.
func (s *State) Panel(kind PanelKind) Panel {
	if kind == PanelHess {
		return s.Hess
	}
	return s.Scatter
}

const lutSize = 256

// Plot area margins in pixels.
const (
	marginLeft   = 70.0
	marginRight  = 20.0
	marginTop    = 20.0
	marginBottom = 55.0
)

var (
	markerColor = color.RGBA{31, 119, 180, 255}
	frameColor  = color.RGBA{0, 0, 0, 255}
)

// RasterConfig contains rasterizer configuration.
type RasterConfig struct {
	Width  int
	Height int
	// MarkerScale converts points to pixels.
	MarkerScale float64
	Cache       *cache.Manager
}

// Rasterizer draws panels to PNG using fogleman/gg.
type Rasterizer struct {
	config      RasterConfig
	contextPool sync.Pool
	bufferPool  sync.Pool
	lutMu       sync.Mutex
	luts        map[string][]color.RGBA
}

// NewRasterizer creates a new panel rasterizer.
func NewRasterizer(cfg RasterConfig) *Rasterizer {
	if cfg.Width <= 0 {
		cfg.Width = 800
	}
	if cfg.Height <= 0 {
		cfg.Height = 800
	}
	if cfg.MarkerScale <= 0 {
		cfg.MarkerScale = 1.5
	}
	r := &Rasterizer{
		config: cfg,
		contextPool: sync.Pool{
			New: func() interface{} {
				return gg.NewContext(cfg.Width, cfg.Height)
			},
		},
		bufferPool: sync.Pool{
			New: func() interface{} {
				return bytes.NewBuffer(make([]byte, 0, 64*1024))
			},
		},
		luts: make(map[string][]color.RGBA),
	}
	return r
}

// Size returns the default panel size in pixels.
func (r *Rasterizer) Size() (int, int) {
	return r.config.Width, r.config.Height
}

// PNG renders one panel of s. A zero width or height uses the default size.
func (r *Rasterizer) PNG(s *State, kind PanelKind, w, h int) ([]byte, error) {
	if w <= 0 {
		w = r.config.Width
	}
	if h <= 0 {
		h = r.config.Height
	}

	var key string
	if r.config.Cache != nil {
		key = cache.PanelKey(s.Generation, string(kind), w, h)
		if data, ok := r.config.Cache.GetPanel(key); ok {
			return data, nil
		}
	}

	var dc *gg.Context
	if w == r.config.Width && h == r.config.Height {
		dc = r.contextPool.Get().(*gg.Context)
		defer r.contextPool.Put(dc)
		dc.ResetClip()
		dc.Identity()
	} else {
		dc = gg.NewContext(w, h)
	}

	dc.SetColor(color.White)
	dc.Clear()

	panel := s.Panel(kind)
	plot := newPlotArea(panel, float64(w), float64(h))

	dc.DrawRectangle(plot.left, plot.top, plot.width, plot.height)
	dc.Clip()
	switch kind {
	case PanelScatter:
		r.drawPoints(dc, plot, panel)
	case PanelHess:
		r.drawHexes(dc, plot, panel)
	}
	dc.ResetClip()

	drawAxes(dc, plot, panel)

	data, err := r.encodeContext(dc)
	if err != nil {
		return nil, err
	}
	if key != "" {
		// Oversized panels are simply not cached.
		_ = r.config.Cache.SetPanel(key, data)
	}
	return data, nil
}

func (r *Rasterizer) drawPoints(dc *gg.Context, plot plotArea, panel Panel) {
	if len(panel.Points) == 0 {
		return
	}
	radius := MarkerSize * r.config.MarkerScale / 2
	dc.SetColor(markerColor)
	for _, p := range panel.Points {
		x, y := plot.toPixel(p.X, p.Y)
		dc.DrawRectangle(x-radius, y-radius, 2*radius, 2*radius)
	}
	dc.Fill()
}

func (r *Rasterizer) drawHexes(dc *gg.Context, plot plotArea, panel Panel) {
	if len(panel.Hexes) == 0 {
		return
	}
	lut := r.lut(panel.Colormap)
	for _, h := range panel.Hexes {
		t := LogIntensity(h.Count, panel.MaxCount)
		dc.SetColor(lut[int(math.Round(t*float64(len(lut)-1)))])

		verts := HexVertices(h.X, h.Y, panel.HexWidth, panel.HexHeight)
		for i, v := range verts {
			x, y := plot.toPixel(v.X, v.Y)
			if i == 0 {
				dc.MoveTo(x, y)
			} else {
				dc.LineTo(x, y)
			}
		}
		dc.ClosePath()
		dc.Fill()
	}
}

// lut returns the sampled palette, from the shared cache when configured.
func (r *Rasterizer) lut(name string) []color.RGBA {
	cmap, ok := colormap.ByName(name)
	if !ok {
		name = "viridis"
		cmap = colormap.Viridis
	}
	key := cache.LUTKey(name, lutSize)

	if r.config.Cache != nil {
		if lut, ok := r.config.Cache.GetLUT(key); ok {
			return lut
		}
		lut := cmap.LUT(lutSize)
		r.config.Cache.SetLUT(key, lut)
		return lut
	}

	r.lutMu.Lock()
	defer r.lutMu.Unlock()
	lut, ok := r.luts[key]
	if !ok {
		lut = cmap.LUT(lutSize)
		r.luts[key] = lut
	}
	return lut
}

func drawAxes(dc *gg.Context, plot plotArea, panel Panel) {
	dc.SetColor(frameColor)
	dc.SetLineWidth(1)
	dc.DrawRectangle(plot.left, plot.top, plot.width, plot.height)
	dc.Stroke()

	for _, v := range Ticks(panel.XRange[0], panel.XRange[1], 6) {
		x, _ := plot.toPixel(v.Value, panel.YRange[0])
		bottom := plot.top + plot.height
		dc.DrawLine(x, bottom, x, bottom+5)
		dc.Stroke()
		dc.DrawStringAnchored(v.Label, x, bottom+8, 0.5, 1)
	}
	for _, v := range Ticks(panel.YRange[0], panel.YRange[1], 6) {
		_, y := plot.toPixel(panel.XRange[0], v.Value)
		dc.DrawLine(plot.left-5, y, plot.left, y)
		dc.Stroke()
		dc.DrawStringAnchored(v.Label, plot.left-8, y, 1, 0.5)
	}

	dc.DrawStringAnchored(panel.XLabel, plot.left+plot.width/2, plot.top+plot.height+35, 0.5, 1)

	cx, cy := 18.0, plot.top+plot.height/2
	dc.Push()
	dc.RotateAbout(-math.Pi/2, cx, cy)
	dc.DrawStringAnchored(panel.YLabel, cx, cy, 0.5, 0.5)
	dc.Pop()
}

func (r *Rasterizer) encodeContext(dc *gg.Context) ([]byte, error) {
	buf := r.bufferPool.Get().(*bytes.Buffer)
	defer func() {
		buf.Reset()
		r.bufferPool.Put(buf)
	}()

	encoder := png.Encoder{CompressionLevel: png.BestSpeed}
	if err := encoder.Encode(buf, dc.Image()); err != nil {
		return nil, err
	}

	// Copy buffer contents (buffer will be reused)
	result := make([]byte, buf.Len())
	copy(result, buf.Bytes())
	return result, nil
}

// plotArea maps data coordinates to pixels inside the axes frame.
type plotArea struct {
	left, top     float64
	width, height float64
	xr, yr        Range
}

func newPlotArea(p Panel, w, h float64) plotArea {
	return plotArea{
		left:   marginLeft,
		top:    marginTop,
		width:  math.Max(1, w-marginLeft-marginRight),
		height: math.Max(1, h-marginTop-marginBottom),
		xr:     p.XRange,
		yr:     p.YRange,
	}
}

func (a plotArea) toPixel(x, y float64) (float64, float64) {
	fx := (x - a.xr[0]) / (a.xr[1] - a.xr[0])
	fy := (y - a.yr[0]) / (a.yr[1] - a.yr[0])
	return a.left + fx*a.width, a.top + a.height - fy*a.height
}

// Tick is an axis tick position and its label.
type Tick struct {
	Value float64
	Label string
}

// Ticks returns about n evenly spaced round values within the range.
// The range may be inverted.
func Ticks(a, b float64, n int) []Tick {
	lo, hi := math.Min(a, b), math.Max(a, b)
	if hi <= lo || n < 2 {
		return nil
	}
	step := niceStep((hi - lo) / float64(n-1))

	var ticks []Tick
	for v := math.Ceil(lo/step) * step; v <= hi+step*1e-9; v += step {
		rv := math.Round(math.Round(v/step)*step*1e9) / 1e9
		if rv == 0 {
			rv = 0 // no "-0" labels
		}
		ticks = append(ticks, Tick{
			Value: rv,
			Label: strconv.FormatFloat(rv, 'f', -1, 64),
		})
	}
	return ticks
}

func niceStep(raw float64) float64 {
	exp := math.Floor(math.Log10(raw))
	base := math.Pow(10, exp)
	switch f := raw / base; {
	case f <= 1:
		return base
	case f <= 2:
		return 2 * base
	case f <= 2.5:
		return 2.5 * base
	case f <= 5:
		return 5 * base
	}
	return 10 * base
}
