package region

import (
	"math"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// TestBuild_GeometryProperty checks the rectangle size and corner anchoring
// for arbitrary image sizes and percentages.
func TestBuild_GeometryProperty(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("mask is a bottom-right rectangle of rounded size", prop.ForAll(
		func(w, h int, wp, hp float64) bool {
			r, m := Build(w, h, wp, hp)

			wantW := int(math.Round(float64(w) * wp / 100))
			wantH := int(math.Round(float64(h) * hp / 100))
			if r.Dx() != wantW || r.Dy() != wantH {
				return false
			}
			if r.X1 != w || r.Y1 != h {
				return false
			}
			if r.X0 < 0 || r.Y0 < 0 || r.X0 > r.X1 || r.Y0 > r.Y1 {
				return false
			}
			return m.Count() == wantW*wantH
		},
		gen.IntRange(1, 300),
		gen.IntRange(1, 300),
		gen.Float64Range(0, 100),
		gen.Float64Range(0, 100),
	))

	properties.Property("out of range percentages clamp to the nearest bound", prop.ForAll(
		func(w, h int, over float64) bool {
			hi := Compute(w, h, 100+over, 100+over)
			lo := Compute(w, h, -over, -over)
			return hi == Compute(w, h, 100, 100) && lo == Compute(w, h, 0, 0)
		},
		gen.IntRange(1, 300),
		gen.IntRange(1, 300),
		gen.Float64Range(0.001, 1e6),
	))

	properties.TestingRun(t)
}
