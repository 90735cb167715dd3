// Package colormap provides color schemes for visualization.
package colormap

import (
	"image/color"
	"sort"
)

// Colormap maps normalized values [0, 1] to colors.
type Colormap interface {
	At(t float64) color.Color
}

// LinearColormap is a linear interpolation colormap over evenly spaced stops.
type LinearColormap struct {
	colors []color.RGBA
}

// At returns the color at position t (0-1).
func (c LinearColormap) At(t float64) color.Color {
	return c.rgba(t)
}

func (c LinearColormap) rgba(t float64) color.RGBA {
	if t <= 0 || t != t {
		return c.colors[0]
	}
	if t >= 1 {
		return c.colors[len(c.colors)-1]
	}

	idx := t * float64(len(c.colors)-1)
	lower := int(idx)
	upper := lower + 1
	if upper >= len(c.colors) {
		upper = len(c.colors) - 1
	}

	frac := idx - float64(lower)
	return interpolate(c.colors[lower], c.colors[upper], frac)
}

// LUT samples the colormap into n evenly spaced entries.
func (c LinearColormap) LUT(n int) []color.RGBA {
	if n < 2 {
		n = 2
	}
	out := make([]color.RGBA, n)
	for i := range out {
		out[i] = c.rgba(float64(i) / float64(n-1))
	}
	return out
}

func interpolate(c1, c2 color.RGBA, t float64) color.RGBA {
	return color.RGBA{
		R: uint8(float64(c1.R) + t*(float64(c2.R)-float64(c1.R))),
		G: uint8(float64(c1.G) + t*(float64(c2.G)-float64(c1.G))),
		B: uint8(float64(c1.B) + t*(float64(c2.B)-float64(c1.B))),
		A: 255,
	}
}

// Viridis colormap (matplotlib viridis)
var Viridis = LinearColormap{
	colors: []color.RGBA{
		{68, 1, 84, 255},
		{72, 35, 116, 255},
		{64, 67, 135, 255},
		{52, 94, 141, 255},
		{41, 120, 142, 255},
		{32, 144, 140, 255},
		{34, 167, 132, 255},
		{68, 190, 112, 255},
		{121, 209, 81, 255},
		{189, 222, 38, 255},
		{253, 231, 37, 255},
	},
}

// Plasma colormap
var Plasma = LinearColormap{
	colors: []color.RGBA{
		{13, 8, 135, 255},
		{75, 3, 161, 255},
		{125, 3, 168, 255},
		{168, 34, 150, 255},
		{203, 70, 121, 255},
		{229, 107, 93, 255},
		{248, 148, 65, 255},
		{253, 195, 40, 255},
		{240, 249, 33, 255},
	},
}

// Inferno colormap
var Inferno = LinearColormap{
	colors: []color.RGBA{
		{0, 0, 4, 255},
		{40, 11, 84, 255},
		{101, 21, 110, 255},
		{159, 42, 99, 255},
		{212, 72, 66, 255},
		{245, 125, 21, 255},
		{250, 193, 39, 255},
		{252, 255, 164, 255},
	},
}

// Magma colormap
var Magma = LinearColormap{
	colors: []color.RGBA{
		{0, 0, 4, 255},
		{28, 16, 68, 255},
		{79, 18, 123, 255},
		{129, 37, 129, 255},
		{181, 54, 122, 255},
		{229, 80, 100, 255},
		{251, 135, 97, 255},
		{254, 194, 135, 255},
		{252, 253, 191, 255},
	},
}

// Hot colormap (black, red, yellow, white), sampled at t = k/8.
var Hot = LinearColormap{
	colors: []color.RGBA{
		{11, 0, 0, 255},
		{94, 0, 0, 255},
		{178, 0, 0, 255},
		{255, 7, 0, 255},
		{255, 90, 0, 255},
		{255, 174, 0, 255},
		{255, 255, 4, 255},
		{255, 255, 130, 255},
		{255, 255, 255, 255},
	},
}

// Winter colormap
var Winter = LinearColormap{
	colors: []color.RGBA{
		{0, 0, 255, 255},
		{0, 255, 128, 255},
	},
}

// Ocean colormap, breakpoints at thirds.
var Ocean = LinearColormap{
	colors: []color.RGBA{
		{0, 128, 0, 255},
		{0, 0, 85, 255},
		{0, 128, 170, 255},
		{255, 255, 255, 255},
	},
}

// Gray colormap
var Gray = LinearColormap{
	colors: []color.RGBA{
		{0, 0, 0, 255},
		{255, 255, 255, 255},
	},
}

// Binary colormap (white to black)
var Binary = LinearColormap{
	colors: []color.RGBA{
		{255, 255, 255, 255},
		{0, 0, 0, 255},
	},
}

var byName = map[string]LinearColormap{
	"viridis": Viridis,
	"plasma":  Plasma,
	"inferno": Inferno,
	"magma":   Magma,
	"hot":     Hot,
	"winter":  Winter,
	"ocean":   Ocean,
	"gray":    Gray,
	"binary":  Binary,
}

// order matches the colormap dropdown.
var names = []string{"viridis", "plasma", "inferno", "magma", "hot", "winter", "ocean", "gray", "binary"}

// ByName returns the named palette.
func ByName(name string) (LinearColormap, bool) {
	c, ok := byName[name]
	return c, ok
}

// Names returns the palette names in display order.
func Names() []string {
	out := make([]string, len(names))
	copy(out, names)
	return out
}

// Valid reports whether name is a known palette.
func Valid(name string) bool {
	i := sort.SearchStrings(sortedNames, name)
	return i < len(sortedNames) && sortedNames[i] == name
}

var sortedNames = func() []string {
	s := Names()
	sort.Strings(s)
	return s
}()
