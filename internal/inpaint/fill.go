package inpaint

import "math"

const minDirWeight = 1e-6

// fillTelea estimates (x, y) as a weighted first-order extrapolation from reached
// pixels within radius. Weights combine direction along grad T, inverse cubed
// distance and level-set proximity.
func fillTelea(f *field, p *planes, x, y, radius int) {
	i := y*f.w + x
	gtx, gty := f.gradT(x, y)
	ti := f.t[i]

	for ch := range channels {
		plane := p.c[ch]
		var ia, jx, jy, s float64
		forEachReached(f, x, y, radius, func(k, l int, rx, ry float64) {
			j := l*f.w + k
			r2 := rx*rx + ry*ry
			dst := 1 / (r2 * math.Sqrt(r2))
			lev := 1 / (1 + math.Abs(float64(f.t[j]-ti)))
			dir := math.Abs(rx*float64(gtx) + ry*float64(gty))
			if dir <= minDirWeight {
				dir = minDirWeight
			}
			w := dst * lev * dir

			gix, giy := f.gradI(plane, k, l)
			ia += w * float64(plane[j])
			jx -= w * float64(gix) * rx
			jy -= w * float64(giy) * ry
			s += w
		})
		if s == 0 {
			continue
		}
		plane[i] = clamp255(ia/s + (jx+jy)/(math.Sqrt(jx*jx+jy*jy)+1e-20))
	}
}

// fillIsophote estimates (x, y) as a weighted mean of reached pixels, favouring
// those lying along the isophote (perpendicular to the image gradient) through
// the neighbour. Flat neighbours get a minimal direction weight.
func fillIsophote(f *field, p *planes, x, y, radius int) {
	i := y*f.w + x
	ti := f.t[i]

	for ch := range channels {
		plane := p.c[ch]
		var ia, s float64
		forEachReached(f, x, y, radius, func(k, l int, rx, ry float64) {
			j := l*f.w + k
			r2 := rx*rx + ry*ry
			dst := 1 / (r2 * math.Sqrt(r2))
			lev := 1 / (1 + math.Abs(float64(f.t[j]-ti)))

			gix, giy := f.gradI(plane, k, l)
			// isophote direction is (-giy, gix)
			g2 := float64(gix)*float64(gix) + float64(giy)*float64(giy)
			dir := minDirWeight
			if g2 >= 1e-4 {
				dir = math.Abs(-rx*float64(giy)+ry*float64(gix)) / math.Sqrt(r2*g2)
				dir = max(dir, minDirWeight)
			}
			w := dst * lev * dir
			ia += w * float64(plane[j])
			s += w
		})
		if s == 0 {
			continue
		}
		plane[i] = clamp255(ia / s)
	}
}

// forEachReached visits every non-inside pixel (k, l) in the disc of radius
// around (x, y), excluding (x, y) itself. rx, ry is the offset from (k, l) to (x, y).
func forEachReached(f *field, x, y, radius int, visit func(k, l int, rx, ry float64)) {
	r2 := radius * radius
	for l := y - radius; l <= y+radius; l++ {
		if l < 0 || l >= f.h {
			continue
		}
		for k := x - radius; k <= x+radius; k++ {
			if k < 0 || k >= f.w {
				continue
			}
			dx, dy := x-k, y-l
			if (dx == 0 && dy == 0) || dx*dx+dy*dy > r2 {
				continue
			}
			if f.flags[l*f.w+k] == inside {
				continue
			}
			visit(k, l, float64(dx), float64(dy))
		}
	}
}

func clamp255(v float64) float32 {
	return float32(min(max(v, 0), 255))
}
