// Package query builds the SkyServer cone-search SQL for a sky region.
package query

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/hessmap/server/internal/params"
)

// Color and magnitude windows applied server-side. Only stars with
// dereddened g-r in [ColorMin, ColorMax] and dereddened g in [MagMin, MagMax]
// are returned.
const (
	ColorMin = -0.5
	ColorMax = 2.5
	MagMin   = 14.0
	MagMax   = 24.0
)

// InvalidParameterError reports a non-finite query input.
type InvalidParameterError struct {
	Field string
	Value float64
}

func (e *InvalidParameterError) Error() string {
	return fmt.Sprintf("invalid query parameter %s: %v", e.Field, e.Value)
}

const template = `SELECT
    s.ra, s.dec,
    s.dered_g AS g, s.dered_r AS r,
    s.err_g, s.err_r,
    s.flags
FROM
    dbo.fGetNearbyObjEq({ra}, {dec}, {radius}) AS n
JOIN Star AS s ON n.objID = s.objID
WHERE
    s.dered_g - s.dered_r BETWEEN {cmin} AND {cmax}
    AND s.dered_g BETWEEN {mmin} AND {mmax}`

// Build returns the cone-search query selecting catalog stars within
// radius arcminutes of pos. Domain checks are left to the controls; only
// NaN and infinite values are rejected.
func Build(pos params.SkyPosition, radius float64) (string, error) {
	for _, f := range []struct {
		name string
		v    float64
	}{
		{"ra", pos.RA},
		{"dec", pos.Dec},
		{"radius", radius},
	} {
		if math.IsNaN(f.v) || math.IsInf(f.v, 0) {
			return "", &InvalidParameterError{Field: f.name, Value: f.v}
		}
	}

	r := strings.NewReplacer(
		"{ra}", formatNumber(pos.RA),
		"{dec}", formatNumber(pos.Dec),
		"{radius}", formatNumber(radius),
		"{cmin}", formatNumber(ColorMin),
		"{cmax}", formatNumber(ColorMax),
		"{mmin}", formatNumber(MagMin),
		"{mmax}", formatNumber(MagMax),
	)
	return r.Replace(template), nil
}

// formatNumber uses the shortest representation that parses back to v.
func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// Cone extracts the (ra, dec, radius) arguments of fGetNearbyObjEq from a
// query produced by Build.
func Cone(q string) (params.SkyPosition, float64, error) {
	const fn = "fGetNearbyObjEq("
	i := strings.Index(q, fn)
	if i < 0 {
		return params.SkyPosition{}, 0, fmt.Errorf("query has no cone search")
	}
	rest := q[i+len(fn):]
	j := strings.IndexByte(rest, ')')
	if j < 0 {
		return params.SkyPosition{}, 0, fmt.Errorf("unterminated cone search arguments")
	}
	parts := strings.Split(rest[:j], ",")
	if len(parts) != 3 {
		return params.SkyPosition{}, 0, fmt.Errorf("expected 3 cone arguments, got %d", len(parts))
	}
	var vals [3]float64
	for k, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return params.SkyPosition{}, 0, fmt.Errorf("failed to parse cone argument %d: %w", k, err)
		}
		vals[k] = v
	}
	return params.SkyPosition{RA: vals[0], Dec: vals[1]}, vals[2], nil
}
