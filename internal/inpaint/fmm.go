package inpaint

import (
	"container/heap"
	"math"

	"github.com/MeKo-Tech/wmclean/internal/mempool"
	"github.com/MeKo-Tech/wmclean/internal/region"
)

// pixel states during marching
const (
	known uint8 = iota
	band
	inside
)

const farAway = float32(1e6)

type bandItem struct {
	t   float32
	idx int32
}

// narrowBand is a min-heap on arrival time. Ties break on pixel index so the
// fill order, and with it the output, is reproducible.
type narrowBand []bandItem

func (b narrowBand) Len() int { return len(b) }
func (b narrowBand) Less(i, j int) bool {
	if b[i].t != b[j].t {
		return b[i].t < b[j].t
	}
	return b[i].idx < b[j].idx
}
func (b narrowBand) Swap(i, j int) { b[i], b[j] = b[j], b[i] }
func (b *narrowBand) Push(x any)   { *b = append(*b, x.(bandItem)) }
func (b *narrowBand) Pop() any {
	old := *b
	n := len(old)
	it := old[n-1]
	*b = old[:n-1]
	return it
}

// field is the arrival time map plus the per-pixel marching state.
type field struct {
	w, h  int
	t     []float32
	flags []uint8
	front narrowBand
}

// fillFunc reconstructs pixel (x, y) from the already known pixels within radius.
type fillFunc func(f *field, p *planes, x, y, radius int)

func newField(mask *region.Mask) *field {
	w, h := mask.Width, mask.Height
	f := &field{
		w:     w,
		h:     h,
		t:     mempool.GetFloat32(w * h),
		flags: mempool.GetUint8(w * h),
	}
	for i, v := range mask.Pix {
		if v != 0 {
			f.flags[i] = inside
			f.t[i] = farAway
		}
	}
	// Known pixels touching the hole seed the front at T = 0.
	for y := range h {
		for x := range w {
			i := y*w + x
			if f.flags[i] != known || !f.touchesInside(x, y) {
				continue
			}
			f.flags[i] = band
			f.front = append(f.front, bandItem{t: 0, idx: int32(i)})
		}
	}
	heap.Init(&f.front)
	return f
}

func (f *field) release() {
	mempool.PutFloat32(f.t)
	mempool.PutUint8(f.flags)
	f.t, f.flags, f.front = nil, nil, nil
}

func (f *field) in(x, y int) bool {
	return x >= 0 && y >= 0 && x < f.w && y < f.h
}

func (f *field) flag(x, y int) uint8 {
	if !f.in(x, y) {
		return inside
	}
	return f.flags[y*f.w+x]
}

func (f *field) touchesInside(x, y int) bool {
	for _, d := range neighbours4 {
		nx, ny := x+d[0], y+d[1]
		if f.in(nx, ny) && f.flags[ny*f.w+nx] == inside {
			return true
		}
	}
	return false
}

var neighbours4 = [4][2]int{{0, -1}, {-1, 0}, {0, 1}, {1, 0}}

// march advances the front until every inside pixel has been reached, calling
// fill exactly once per pixel at the moment it joins the band.
func (f *field) march(p *planes, radius int, fill fillFunc) {
	for f.front.Len() > 0 {
		cur := heap.Pop(&f.front).(bandItem)
		ci := int(cur.idx)
		cx, cy := ci%f.w, ci/f.w
		f.flags[ci] = known

		for _, d := range neighbours4 {
			nx, ny := cx+d[0], cy+d[1]
			if !f.in(nx, ny) {
				continue
			}
			ni := ny*f.w + nx
			if f.flags[ni] != inside {
				continue
			}
			t := min(
				f.solve(nx-1, ny, nx, ny-1),
				f.solve(nx+1, ny, nx, ny-1),
				f.solve(nx-1, ny, nx, ny+1),
				f.solve(nx+1, ny, nx, ny+1),
			)
			f.t[ni] = t
			fill(f, p, nx, ny, radius)
			f.flags[ni] = band
			heap.Push(&f.front, bandItem{t: t, idx: int32(ni)})
		}
	}
}

// solve is the first-order upwind solution of |grad T| = 1 from two
// perpendicular neighbours. Unreached neighbours do not contribute.
func (f *field) solve(x1, y1, x2, y2 int) float32 {
	sol := farAway
	ok1 := f.flag(x1, y1) != inside
	ok2 := f.flag(x2, y2) != inside
	switch {
	case ok1 && ok2:
		t1, t2 := f.t[y1*f.w+x1], f.t[y2*f.w+x2]
		d := t1 - t2
		disc := 2 - d*d
		if disc < 0 {
			return 1 + min(t1, t2)
		}
		r := float32(math.Sqrt(float64(disc)))
		s := (t1 + t2 - r) / 2
		if s >= t1 && s >= t2 {
			sol = s
		} else if s += r; s >= t1 && s >= t2 {
			sol = s
		}
	case ok1:
		sol = 1 + f.t[y1*f.w+x1]
	case ok2:
		sol = 1 + f.t[y2*f.w+x2]
	}
	return sol
}

// gradT is the arrival-time gradient at (x, y), using one-sided differences
// where a neighbour is still unreached.
func (f *field) gradT(x, y int) (gx, gy float32) {
	i := y*f.w + x
	gx = f.diff(x-1, y, x+1, y, i)
	gy = f.diff(x, y-1, x, y+1, i)
	return gx, gy
}

func (f *field) diff(xa, ya, xb, yb, i int) float32 {
	okA := f.flag(xa, ya) != inside
	okB := f.flag(xb, yb) != inside
	switch {
	case okA && okB:
		return (f.t[yb*f.w+xb] - f.t[ya*f.w+xa]) * 0.5
	case okB:
		return f.t[yb*f.w+xb] - f.t[i]
	case okA:
		return f.t[i] - f.t[ya*f.w+xa]
	}
	return 0
}

// gradI is the image gradient of one channel at a reached pixel (x, y).
func (f *field) gradI(plane []float32, x, y int) (gx, gy float32) {
	i := y*f.w + x
	okL, okR := f.flag(x-1, y) != inside, f.flag(x+1, y) != inside
	switch {
	case okL && okR:
		gx = (plane[i+1] - plane[i-1]) * 0.5
	case okR:
		gx = plane[i+1] - plane[i]
	case okL:
		gx = plane[i] - plane[i-1]
	}
	okU, okD := f.flag(x, y-1) != inside, f.flag(x, y+1) != inside
	switch {
	case okU && okD:
		gy = (plane[i+f.w] - plane[i-f.w]) * 0.5
	case okD:
		gy = plane[i+f.w] - plane[i]
	case okU:
		gy = plane[i] - plane[i-f.w]
	}
	return gx, gy
}
