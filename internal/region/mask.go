package region

import (
	"errors"
	"fmt"
	"image"
	"image/draw"

	"github.com/disintegration/imaging"
)

// Mask is a binary raster the size of the image it belongs to. A nonzero value
// marks a pixel for reconstruction.
type Mask struct {
	Width  int
	Height int
	Pix    []uint8 // row-major, len == Width*Height
}

// NewMask returns an all-zero mask.
func NewMask(w, h int) *Mask {
	if w < 0 {
		w = 0
	}
	if h < 0 {
		h = 0
	}
	return &Mask{Width: w, Height: h, Pix: make([]uint8, w*h)}
}

// NewRectMask returns a mask that is MaskOn inside r and zero elsewhere.
func NewRectMask(w, h int, r Region) *Mask {
	m := NewMask(w, h)
	rect := r.Rect().Intersect(image.Rect(0, 0, m.Width, m.Height))
	for y := rect.Min.Y; y < rect.Max.Y; y++ {
		row := m.Pix[y*m.Width : (y+1)*m.Width]
		for x := rect.Min.X; x < rect.Max.X; x++ {
			row[x] = MaskOn
		}
	}
	return m
}

// Bounds returns the mask rectangle anchored at the origin.
func (m *Mask) Bounds() image.Rectangle {
	return image.Rect(0, 0, m.Width, m.Height)
}

// At reports whether (x, y) is marked. Out-of-range coordinates are unmarked.
func (m *Mask) At(x, y int) bool {
	if x < 0 || y < 0 || x >= m.Width || y >= m.Height {
		return false
	}
	return m.Pix[y*m.Width+x] != 0
}

// Count returns the number of marked pixels.
func (m *Mask) Count() int {
	n := 0
	for _, v := range m.Pix {
		if v != 0 {
			n++
		}
	}
	return n
}

// IsEmpty reports whether no pixel is marked.
func (m *Mask) IsEmpty() bool {
	for _, v := range m.Pix {
		if v != 0 {
			return false
		}
	}
	return true
}

// IsFull reports whether every pixel is marked.
func (m *Mask) IsFull() bool {
	for _, v := range m.Pix {
		if v == 0 {
			return false
		}
	}
	return true
}

// ToImage returns the mask as an 8-bit grayscale image.
func (m *Mask) ToImage() *image.Gray {
	g := image.NewGray(m.Bounds())
	copy(g.Pix, m.Pix)
	return g
}

// FromImage builds a mask from any image: pixels with nonzero luminance are marked.
func FromImage(img image.Image) *Mask {
	b := img.Bounds()
	g := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(g, g.Bounds(), img, b.Min, draw.Src)
	m := NewMask(b.Dx(), b.Dy())
	for i, v := range g.Pix {
		if v != 0 {
			m.Pix[i] = MaskOn
		}
	}
	return m
}

// Resize scales the mask with nearest-neighbour sampling so edges stay binary.
func (m *Mask) Resize(w, h int) *Mask {
	if w == m.Width && h == m.Height {
		out := NewMask(w, h)
		copy(out.Pix, m.Pix)
		return out
	}
	if m.Width == 0 || m.Height == 0 || w <= 0 || h <= 0 {
		return NewMask(w, h)
	}
	resized := imaging.Resize(m.ToImage(), w, h, imaging.NearestNeighbor)
	out := NewMask(w, h)
	// NRGBA from imaging: take the red channel.
	for y := range h {
		for x := range w {
			if resized.Pix[y*resized.Stride+x*4] != 0 {
				out.Pix[y*w+x] = MaskOn
			}
		}
	}
	return out
}

// Composite returns src where the mask is zero and recon where it is set.
// Both images must match the mask size; the result is a fresh NRGBA image with
// its origin at (0, 0).
func (m *Mask) Composite(src, recon image.Image) (*image.NRGBA, error) {
	if src == nil || recon == nil {
		return nil, errors.New("composite: nil image")
	}
	sb, rb := src.Bounds(), recon.Bounds()
	if sb.Dx() != m.Width || sb.Dy() != m.Height {
		return nil, fmt.Errorf("composite: source %dx%d does not match mask %dx%d",
			sb.Dx(), sb.Dy(), m.Width, m.Height)
	}
	if rb.Dx() != m.Width || rb.Dy() != m.Height {
		return nil, fmt.Errorf("composite: reconstruction %dx%d does not match mask %dx%d",
			rb.Dx(), rb.Dy(), m.Width, m.Height)
	}

	out := imaging.Clone(src)
	rec := imaging.Clone(recon)
	for y := range m.Height {
		row := m.Pix[y*m.Width : (y+1)*m.Width]
		for x, v := range row {
			if v == 0 {
				continue
			}
			i := y*out.Stride + x*4
			j := y*rec.Stride + x*4
			// Color channels come from the reconstruction, alpha stays with the source.
			out.Pix[i+0] = rec.Pix[j+0]
			out.Pix[i+1] = rec.Pix[j+1]
			out.Pix[i+2] = rec.Pix[j+2]
		}
	}
	return out, nil
}
