package testutil

import (
	"image"
	"image/color"
	"path/filepath"
	"testing"

	"github.com/MeKo-Tech/wmclean/internal/region"
	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/require"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// Gradient returns an opaque image whose red channel ramps left to right and
// green channel top to bottom.
func Gradient(w, h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := range h {
		for x := range w {
			img.SetNRGBA(x, y, color.NRGBA{
				R: uint8(255 * x / max(w-1, 1)),
				G: uint8(255 * y / max(h-1, 1)),
				B: 96,
				A: 255,
			})
		}
	}
	return img
}

// Textured returns a gradient overlaid with a checkerboard of the given cell size,
// which gives inpainting algorithms edges to follow.
func Textured(w, h, cell int) *image.NRGBA {
	img := Gradient(w, h)
	for y := range h {
		for x := range w {
			if (x/cell+y/cell)%2 == 0 {
				continue
			}
			c := img.NRGBAAt(x, y)
			c.B = 220
			c.R /= 2
			img.SetNRGBA(x, y, c)
		}
	}
	return img
}

// Uniform returns a w x h image filled with c.
func Uniform(w, h int, c color.NRGBA) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := range h {
		for x := range w {
			img.SetNRGBA(x, y, c)
		}
	}
	return img
}

// Watermarked stamps a white text label into the bottom-right corner region
// of a copy of img. Drawing is clipped to the region.
func Watermarked(img image.Image, widthPct, heightPct float64, label string) *image.NRGBA {
	out := imaging.Clone(img)
	b := out.Bounds()
	r := region.Compute(b.Dx(), b.Dy(), widthPct, heightPct)
	if r.Empty() {
		return out
	}
	d := &font.Drawer{
		Dst:  out.SubImage(r.Rect()).(*image.NRGBA),
		Src:  image.NewUniform(color.White),
		Face: basicfont.Face7x13,
		Dot:  fixed.P(r.X0+1, r.Y1-2),
	}
	d.DrawString(label)
	return out
}

// SaveImage encodes img to path, choosing the format from the extension.
func SaveImage(t *testing.T, img image.Image, path string) {
	t.Helper()
	require.NoError(t, EnsureDir(filepath.Dir(path)))
	require.NoError(t, imaging.Save(img, path), "Failed to save image %s", path)
}

// LoadImage decodes the image at path.
func LoadImage(t *testing.T, path string) *image.NRGBA {
	t.Helper()
	img, err := imaging.Open(path)
	require.NoError(t, err, "Failed to open image %s", path)
	return imaging.Clone(img)
}

// RequireUnchangedOutside fails unless got equals want on every pixel the mask
// leaves unset.
func RequireUnchangedOutside(t *testing.T, want, got image.Image, mask *region.Mask) {
	t.Helper()
	a, b := imaging.Clone(want), imaging.Clone(got)
	require.Equal(t, a.Bounds().Size(), b.Bounds().Size())
	for y := range mask.Height {
		for x := range mask.Width {
			if mask.At(x, y) {
				continue
			}
			require.Equal(t, a.NRGBAAt(x, y), b.NRGBAAt(x, y), "pixel (%d,%d) outside the mask changed", x, y)
		}
	}
}

// MeanAbsDiff returns the mean absolute RGB difference inside the mask.
func MeanAbsDiff(a, b image.Image, mask *region.Mask) float64 {
	na, nb := imaging.Clone(a), imaging.Clone(b)
	var sum float64
	n := 0
	for y := range mask.Height {
		for x := range mask.Width {
			if !mask.At(x, y) {
				continue
			}
			ca, cb := na.NRGBAAt(x, y), nb.NRGBAAt(x, y)
			sum += absDiff(ca.R, cb.R) + absDiff(ca.G, cb.G) + absDiff(ca.B, cb.B)
			n += 3
		}
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

func absDiff(a, b uint8) float64 {
	if a > b {
		return float64(a - b)
	}
	return float64(b - a)
}
