// Package region computes the bottom-right watermark rectangle and its binary mask.
package region

import (
	"fmt"
	"image"
	"math"
)

// MaskOn is the value stored in a Mask for pixels eligible for reconstruction.
const MaskOn = 255

// Region is a pixel rectangle anchored to the bottom-right corner of an image.
// Coordinates are half-open: X0 <= x < X1, Y0 <= y < Y1.
type Region struct {
	X0, Y0 int
	X1, Y1 int
}

// Rect returns the region as an image.Rectangle.
func (r Region) Rect() image.Rectangle {
	return image.Rect(r.X0, r.Y0, r.X1, r.Y1)
}

// Dx returns the region width.
func (r Region) Dx() int { return r.X1 - r.X0 }

// Dy returns the region height.
func (r Region) Dy() int { return r.Y1 - r.Y0 }

// Empty reports whether the region covers no pixels.
func (r Region) Empty() bool {
	return r.X0 >= r.X1 || r.Y0 >= r.Y1
}

func (r Region) String() string {
	return fmt.Sprintf("[%d,%d)x[%d,%d)", r.X0, r.X1, r.Y0, r.Y1)
}

// ClampPercent maps p into [0,100]. NaN becomes 0.
func ClampPercent(p float64) float64 {
	switch {
	case math.IsNaN(p), p < 0:
		return 0
	case p > 100:
		return 100
	default:
		return p
	}
}

// span returns round(total*pct/100), rounding halves away from zero.
func span(total int, pct float64) int {
	n := int(math.Round(float64(total) * ClampPercent(pct) / 100))
	if n > total {
		n = total
	}
	return n
}

// Compute returns the corner region for an image of size w x h.
func Compute(w, h int, widthPct, heightPct float64) Region {
	if w < 0 {
		w = 0
	}
	if h < 0 {
		h = 0
	}
	return Region{
		X0: w - span(w, widthPct),
		Y0: h - span(h, heightPct),
		X1: w,
		Y1: h,
	}
}

// Build computes the region and its mask for an image of size w x h.
func Build(w, h int, widthPct, heightPct float64) (Region, *Mask) {
	r := Compute(w, h, widthPct, heightPct)
	return r, NewRectMask(w, h, r)
}
