package inpaint

import (
	"image"
	"math"

	"github.com/MeKo-Tech/wmclean/internal/mempool"
)

const channels = 3

// planes holds the RGB channels of an image as separate float32 rasters.
type planes struct {
	w, h int
	c    [channels][]float32
}

func newPlanes(img *image.NRGBA) *planes {
	b := img.Bounds()
	p := &planes{w: b.Dx(), h: b.Dy()}
	for ch := range channels {
		p.c[ch] = mempool.GetFloat32(p.w * p.h)
	}
	for y := range p.h {
		row := img.Pix[y*img.Stride:]
		for x := range p.w {
			i := y*p.w + x
			for ch := range channels {
				p.c[ch][i] = float32(row[x*4+ch])
			}
		}
	}
	return p
}

func (p *planes) release() {
	for ch := range channels {
		mempool.PutFloat32(p.c[ch])
		p.c[ch] = nil
	}
}

// toImage writes the planes back over a copy of base, keeping its alpha.
func (p *planes) toImage(base *image.NRGBA) *image.NRGBA {
	out := image.NewNRGBA(image.Rect(0, 0, p.w, p.h))
	copy(out.Pix, base.Pix)
	for y := range p.h {
		row := out.Pix[y*out.Stride:]
		for x := range p.w {
			i := y*p.w + x
			for ch := range channels {
				row[x*4+ch] = toByte(p.c[ch][i])
			}
		}
	}
	return out
}

func toByte(v float32) uint8 {
	switch {
	case v != v, v <= 0:
		return 0
	case v >= 255:
		return 255
	}
	return uint8(math.Round(float64(v)))
}
