package inpaint

import (
	"context"
	"fmt"
	"math"

	"github.com/MeKo-Tech/wmclean/internal/mempool"
	"github.com/MeKo-Tech/wmclean/internal/region"
)

const (
	// diffusionStep is the explicit scheme step; 0.25 is the 4-neighbour stability limit.
	diffusionStep = 0.25
	// edgeScale is the Perona-Malik contrast in 8-bit intensity units.
	edgeScale = 12.0
)

// diffuse runs Perona-Malik Jacobi sweeps over the masked pixels only. Pixels
// outside the mask act as fixed boundary values. Sweeps stop early once the
// largest update falls below tol.
func diffuse(ctx context.Context, p *planes, mask *region.Mask, iterations int, tol float64) error {
	active := mempool.GetInt32(mask.Count())
	defer mempool.PutInt32(active)
	n := 0
	for i, v := range mask.Pix {
		if v != 0 {
			active[n] = int32(i)
			n++
		}
	}

	next := mempool.GetFloat32(n)
	defer mempool.PutFloat32(next)

	for it := range iterations {
		if it%16 == 0 {
			if err := ctx.Err(); err != nil {
				return fmt.Errorf("classical inpaint: %w", err)
			}
		}
		var maxDelta float64
		for ch := range channels {
			plane := p.c[ch]
			for a, idx := range active {
				next[a] = plane[idx] + diffusionUpdate(plane, int(idx), p.w, p.h)
			}
			for a, idx := range active {
				maxDelta = max(maxDelta, math.Abs(float64(next[a]-plane[idx])))
				plane[idx] = next[a]
			}
		}
		if maxDelta < tol {
			break
		}
	}
	return nil
}

func diffusionUpdate(plane []float32, i, w, h int) float32 {
	x, y := i%w, i/w
	c := plane[i]
	var sum float64
	for _, d := range neighbours4 {
		nx, ny := x+d[0], y+d[1]
		if nx < 0 || ny < 0 || nx >= w || ny >= h {
			continue
		}
		g := float64(plane[ny*w+nx] - c)
		sum += conductance(g) * g
	}
	return float32(diffusionStep * sum)
}

func conductance(g float64) float64 {
	r := g / edgeScale
	return 1 / (1 + r*r)
}
