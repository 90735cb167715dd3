package catalog

import (
	"context"
	"hash/fnv"
	"log/slog"
	"math"
	"math/rand/v2"
	"time"

	"github.com/hessmap/server/internal/params"
	"github.com/hessmap/server/internal/query"
)

// Void is a sky region the synthetic catalog treats as unsurveyed.
type Void struct {
	Position params.SkyPosition
	Radius   float64 // arcminutes
}

// SyntheticConfig contains synthetic catalog configuration.
type SyntheticConfig struct {
	Seed uint64
	// Density is the number of stars per square arcminute.
	Density float64
	MaxRows int
	Latency time.Duration
	Voids   []Void
	Logger  *slog.Logger
}

// Synthetic is an offline catalog that generates stars deterministically
// from the cone in the query. Identical queries yield identical rows.
type Synthetic struct {
	cfg    SyntheticConfig
	logger *slog.Logger
}

// NewSynthetic creates a synthetic catalog.
func NewSynthetic(cfg SyntheticConfig) *Synthetic {
	if cfg.Density <= 0 {
		cfg.Density = 0.5
	}
	if cfg.MaxRows <= 0 {
		cfg.MaxRows = 50000
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Synthetic{cfg: cfg, logger: cfg.Logger.With("component", "synthetic_catalog")}
}

// Execute generates the rows for the cone named in query.
func (s *Synthetic) Execute(ctx context.Context, q string, timeout time.Duration) Outcome {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	pos, radius, err := query.Cone(q)
	if err != nil {
		return Failed("decode", err)
	}

	if s.cfg.Latency > 0 {
		t := time.NewTimer(s.cfg.Latency)
		defer t.Stop()
		select {
		case <-t.C:
		case <-ctx.Done():
			return Failed("fetch", ctx.Err())
		}
	}

	for _, v := range s.cfg.Voids {
		if separationArcmin(pos, v.Position) <= v.Radius {
			s.logger.Debug("cone inside void", "ra", pos.RA, "dec", pos.Dec)
			return Outcome{Kind: KindEmpty}
		}
	}

	n := int(math.Round(s.cfg.Density * math.Pi * radius * radius))
	if n > s.cfg.MaxRows {
		n = s.cfg.MaxRows
	}

	h := fnv.New64a()
	h.Write([]byte(q))
	rng := rand.New(rand.NewPCG(s.cfg.Seed, h.Sum64()))

	rows := make([]Row, 0, n)
	cosDec := math.Cos(pos.Dec * math.Pi / 180)
	if cosDec < 1e-6 {
		cosDec = 1e-6
	}
	for i := 0; i < n; i++ {
		r := radius * math.Sqrt(rng.Float64()) / 60
		theta := 2 * math.Pi * rng.Float64()
		dec := pos.Dec + r*math.Cos(theta)
		ra := pos.RA + r*math.Sin(theta)/cosDec
		ra = math.Mod(ra+360, 360)

		g, color := sampleColorMagnitude(rng)
		rows = append(rows, Row{
			RA:    ra,
			Dec:   math.Max(-90, math.Min(90, dec)),
			G:     g,
			R:     g - color,
			ErrG:  0.01 + 0.02*math.Exp(g-22),
			ErrR:  0.01 + 0.02*math.Exp(g-color-22),
			Flags: rng.Int64N(1 << 16),
		})
	}
	return RowsOutcome(rows)
}

// sampleColorMagnitude draws a (g, g-r) pair inside the query windows.
// Two thirds of the stars follow a main-sequence-like ridge, the rest are
// uniform field stars.
func sampleColorMagnitude(rng *rand.Rand) (g, color float64) {
	if rng.IntN(3) == 0 {
		return query.MagMin + rng.Float64()*(query.MagMax-query.MagMin),
			query.ColorMin + rng.Float64()*(query.ColorMax-query.ColorMin)
	}
	g = 16 + rng.Float64()*(query.MagMax-16)
	color = 0.2 + 0.12*(g-16) + rng.NormFloat64()*0.08
	return g, math.Max(query.ColorMin, math.Min(query.ColorMax, color))
}

// separationArcmin is the great-circle distance between a and b.
func separationArcmin(a, b params.SkyPosition) float64 {
	const rad = math.Pi / 180
	ra1, dec1 := a.RA*rad, a.Dec*rad
	ra2, dec2 := b.RA*rad, b.Dec*rad
	sdd := math.Sin((dec2 - dec1) / 2)
	sdr := math.Sin((ra2 - ra1) / 2)
	h := sdd*sdd + math.Cos(dec1)*math.Cos(dec2)*sdr*sdr
	return 2 * math.Asin(math.Min(1, math.Sqrt(h))) / rad * 60
}
