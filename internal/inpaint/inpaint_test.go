package inpaint

import (
	"context"
	"image"
	"image/color"
	"testing"

	"github.com/MeKo-Tech/wmclean/internal/apperr"
	"github.com/MeKo-Tech/wmclean/internal/region"
	"github.com/MeKo-Tech/wmclean/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAlgorithm(t *testing.T) {
	tests := []struct {
		in   string
		want Algorithm
	}{
		{"fast", Fast},
		{"", Fast},
		{"Telea", Fast},
		{"diffusion", Diffusion},
		{"ns", Diffusion},
		{"navier-stokes", Diffusion},
	}
	for _, tt := range tests {
		got, err := ParseAlgorithm(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got)
	}

	_, err := ParseAlgorithm("patchmatch")
	assert.ErrorIs(t, err, apperr.ErrInvalidOption)
}

func TestInpaint_UntouchedOutsideMask(t *testing.T) {
	src := testutil.Watermarked(testutil.Textured(80, 60, 5), 30, 15, "wm")
	_, mask := region.Build(80, 60, 30, 15)

	for _, alg := range []Algorithm{Fast, Diffusion} {
		t.Run(string(alg), func(t *testing.T) {
			out, err := Inpaint(src, mask, Options{Algorithm: alg})
			require.NoError(t, err)
			testutil.RequireUnchangedOutside(t, src, out, mask)
		})
	}
}

func TestInpaint_UniformImageStaysUniform(t *testing.T) {
	c := color.NRGBA{R: 40, G: 120, B: 200, A: 255}
	src := testutil.Uniform(40, 30, c)
	// scribble into the corner so the hole has something to remove
	for y := 25; y < 30; y++ {
		for x := 28; x < 40; x++ {
			src.SetNRGBA(x, y, color.NRGBA{255, 255, 255, 255})
		}
	}
	_, mask := region.Build(40, 30, 30, 15)

	for _, alg := range []Algorithm{Fast, Diffusion} {
		out, err := Inpaint(src, mask, Options{Algorithm: alg})
		require.NoError(t, err)
		for y := range 30 {
			for x := range 40 {
				got := out.NRGBAAt(x, y)
				assert.InDelta(t, c.R, got.R, 1, "%s (%d,%d)", alg, x, y)
				assert.InDelta(t, c.G, got.G, 1, "%s (%d,%d)", alg, x, y)
				assert.InDelta(t, c.B, got.B, 1, "%s (%d,%d)", alg, x, y)
			}
		}
	}
}

func TestInpaint_KeepsAlpha(t *testing.T) {
	src := testutil.Uniform(20, 20, color.NRGBA{R: 10, G: 20, B: 30, A: 128})
	_, mask := region.Build(20, 20, 30, 30)

	out, err := Inpaint(src, mask, DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, uint8(128), out.NRGBAAt(19, 19).A)
}

func TestInpaint_FastAndDiffusionDiffer(t *testing.T) {
	src := testutil.Watermarked(testutil.Textured(96, 64, 4), 30, 15, "wm")
	_, mask := region.Build(96, 64, 30, 15)

	fast, err := Inpaint(src, mask, Options{Algorithm: Fast})
	require.NoError(t, err)
	diff, err := Inpaint(src, mask, Options{Algorithm: Diffusion})
	require.NoError(t, err)

	assert.NotEqual(t, fast.Pix, diff.Pix)
}

func TestInpaint_Deterministic(t *testing.T) {
	src := testutil.Textured(64, 48, 3)
	_, mask := region.Build(64, 48, 30, 15)

	for _, alg := range []Algorithm{Fast, Diffusion} {
		a, err := Inpaint(src, mask, Options{Algorithm: alg})
		require.NoError(t, err)
		b, err := Inpaint(src, mask, Options{Algorithm: alg})
		require.NoError(t, err)
		assert.Equal(t, a.Pix, b.Pix, string(alg))
	}
}

func TestInpaint_RemovesWatermark(t *testing.T) {
	clean := testutil.Gradient(120, 80)
	marked := testutil.Watermarked(clean, 30, 15, "wm")
	_, mask := region.Build(120, 80, 30, 15)

	out, err := Inpaint(marked, mask, DefaultOptions())
	require.NoError(t, err)

	before := testutil.MeanAbsDiff(clean, marked, mask)
	after := testutil.MeanAbsDiff(clean, out, mask)
	assert.Less(t, after, before)
}

func TestInpaint_InvalidRegion(t *testing.T) {
	src := testutil.Gradient(10, 10)

	tests := []struct {
		name string
		mask *region.Mask
	}{
		{"nil mask", nil},
		{"empty mask", region.NewMask(10, 10)},
		{"full mask", region.NewRectMask(10, 10, region.Region{X1: 10, Y1: 10})},
		{"size mismatch", region.NewRectMask(10, 9, region.Region{X0: 5, Y0: 5, X1: 10, Y1: 9})},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Inpaint(src, tt.mask, DefaultOptions())
			assert.ErrorIs(t, err, apperr.ErrInvalidRegion)
		})
	}
}

func TestInpaint_InvalidOptions(t *testing.T) {
	src := testutil.Gradient(10, 10)
	_, mask := region.Build(10, 10, 30, 30)

	_, err := Inpaint(src, mask, Options{Algorithm: "median"})
	assert.ErrorIs(t, err, apperr.ErrInvalidOption)
	_, err = Inpaint(src, mask, Options{Radius: -1})
	assert.ErrorIs(t, err, apperr.ErrInvalidOption)
}

func TestInpaint_NonZeroOrigin(t *testing.T) {
	full := testutil.Textured(40, 40, 4)
	sub := full.SubImage(image.Rect(10, 10, 40, 40))
	_, mask := region.Build(30, 30, 30, 15)

	out, err := Inpaint(sub, mask, DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 30, 30), out.Bounds())
	testutil.RequireUnchangedOutside(t, sub, out, mask)
}

func TestInpaintContext_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	src := testutil.Textured(30, 30, 3)
	_, mask := region.Build(30, 30, 30, 30)
	_, err := InpaintContext(ctx, src, mask, Options{Algorithm: Diffusion})
	assert.ErrorIs(t, err, context.Canceled)
}
