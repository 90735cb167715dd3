package render

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// Grid is the geometry of a hexagonal binning.
type Grid struct {
	XMin, XMax float64
	YMin, YMax float64
	NX, NY     int
	SX, SY     float64
}

// Hexbin counts (xs[i], ys[i]) into hexagonal cells with n divisions on
// each axis over the data extent. Cells lie on two interleaved lattices:
// corners at (XMin+i*SX, YMin+j*SY) and centers offset by half a cell;
// each point goes to the nearest cell center. Only occupied cells are
// returned and their counts sum to len(xs).
func Hexbin(xs, ys []float64, n int) ([]Hex, Grid) {
	if n < 1 {
		n = 1
	}
	g := Grid{NX: n, NY: n}
	if len(xs) == 0 {
		return nil, g
	}

	g.XMin, g.XMax = nonsingular(floats.Min(xs), floats.Max(xs))
	g.YMin, g.YMax = nonsingular(floats.Min(ys), floats.Max(ys))

	// Pad so the upper edge falls strictly inside the last cell.
	pad := 1e-9 * (g.XMax - g.XMin)
	g.XMin -= pad
	g.XMax += pad
	pad = 1e-9 * (g.YMax - g.YMin)
	g.YMin -= pad
	g.YMax += pad

	g.SX = (g.XMax - g.XMin) / float64(g.NX)
	g.SY = (g.YMax - g.YMin) / float64(g.NY)

	nx1, ny1 := g.NX+1, g.NY+1
	nx2, ny2 := g.NX, g.NY
	lattice1 := make([]int, nx1*ny1)
	lattice2 := make([]int, nx2*ny2)

	for i := range xs {
		ix := (xs[i] - g.XMin) / g.SX
		iy := (ys[i] - g.YMin) / g.SY

		ix1, iy1 := math.Round(ix), math.Round(iy)
		ix2, iy2 := math.Floor(ix), math.Floor(iy)

		d1 := (ix-ix1)*(ix-ix1) + 3*(iy-iy1)*(iy-iy1)
		d2 := (ix-ix2-0.5)*(ix-ix2-0.5) + 3*(iy-iy2-0.5)*(iy-iy2-0.5)

		if d1 < d2 {
			a, b := clampIndex(ix1, nx1), clampIndex(iy1, ny1)
			lattice1[a*ny1+b]++
		} else {
			a, b := clampIndex(ix2, nx2), clampIndex(iy2, ny2)
			lattice2[a*ny2+b]++
		}
	}

	hexes := make([]Hex, 0, 256)
	for a := 0; a < nx1; a++ {
		for b := 0; b < ny1; b++ {
			if c := lattice1[a*ny1+b]; c > 0 {
				hexes = append(hexes, Hex{
					X:     g.XMin + float64(a)*g.SX,
					Y:     g.YMin + float64(b)*g.SY,
					Count: c,
				})
			}
		}
	}
	for a := 0; a < nx2; a++ {
		for b := 0; b < ny2; b++ {
			if c := lattice2[a*ny2+b]; c > 0 {
				hexes = append(hexes, Hex{
					X:     g.XMin + (float64(a)+0.5)*g.SX,
					Y:     g.YMin + (float64(b)+0.5)*g.SY,
					Count: c,
				})
			}
		}
	}
	return hexes, g
}

// HexVertices returns the six corners of a cell centred on (x, y).
func HexVertices(x, y, sx, sy float64) [6]Point {
	return [6]Point{
		{x + 0.5*sx, y - sy/6},
		{x + 0.5*sx, y + sy/6},
		{x, y + sy/3},
		{x - 0.5*sx, y + sy/6},
		{x - 0.5*sx, y - sy/6},
		{x, y - sy/3},
	}
}

// LogIntensity maps a cell count onto [0, 1] on a logarithmic scale
// relative to the fullest cell.
func LogIntensity(count, maxCount int) float64 {
	if count <= 1 || maxCount <= 1 {
		return 0
	}
	return math.Log10(float64(count)) / math.Log10(float64(maxCount))
}

func clampIndex(v float64, n int) int {
	i := int(v)
	if i < 0 {
		return 0
	}
	if i >= n {
		return n - 1
	}
	return i
}

// nonsingular widens a degenerate interval.
func nonsingular(lo, hi float64) (float64, float64) {
	if hi-lo > 1e-12*math.Max(1, math.Abs(lo)) {
		return lo, hi
	}
	d := 0.1 * math.Abs(lo)
	if d == 0 {
		d = 0.1
	}
	return lo - d, hi + d
}

// withMargin pads [lo, hi] by frac of its span on each side.
func withMargin(lo, hi, frac float64) Range {
	lo, hi = nonsingular(lo, hi)
	m := (hi - lo) * frac
	return Range{lo - m, hi + m}
}
