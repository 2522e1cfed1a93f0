package remover

import (
	"context"
	"errors"
	"image"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MeKo-Tech/wmclean/internal/apperr"
	"github.com/MeKo-Tech/wmclean/internal/inpaint"
	"github.com/MeKo-Tech/wmclean/internal/lama"
	"github.com/MeKo-Tech/wmclean/internal/onnx"
	"github.com/MeKo-Tech/wmclean/internal/region"
	"github.com/MeKo-Tech/wmclean/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// invertSession is a model stand-in that returns 1-x for every input value.
type invertSession struct {
	path   string
	closed atomic.Bool
	runs   atomic.Int32
}

func (s *invertSession) InputSize() int { return 32 }

func (s *invertSession) Run(img, _ onnx.Tensor) (onnx.Tensor, error) {
	s.runs.Add(1)
	data := make([]float32, len(img.Data))
	for i, v := range img.Data {
		data[i] = 1 - v
	}
	return onnx.Tensor{Data: data, Shape: append([]int64(nil), img.Shape...)}, nil
}

func (s *invertSession) Close() error {
	s.closed.Store(true)
	return nil
}

type countingFactory struct {
	mu       sync.Mutex
	calls    int
	failures int // number of leading calls that fail
	delay    time.Duration
	built    []*invertSession
}

func (f *countingFactory) build(cfg lama.Config) (ModelSession, error) {
	time.Sleep(f.delay)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls <= f.failures {
		return nil, errors.New("weights corrupt")
	}
	s := &invertSession{path: cfg.ModelPath}
	f.built = append(f.built, s)
	return s, nil
}

func newTestDispatcher(f *countingFactory) *Dispatcher {
	cfg := DefaultConfig()
	cfg.Learned.ModelPath = "/models/lama_fp32.onnx"
	cfg.NewSession = f.build
	return New(cfg)
}

func TestRemoveWatermark_ClassicalScenario(t *testing.T) {
	d := New(DefaultConfig())
	defer func() { _ = d.Close() }()

	src := testutil.Watermarked(testutil.Textured(100, 100, 5), 30, 15, "wm")
	out, err := d.RemoveWatermark(context.Background(), src, ClassicalRequest(30, 15, inpaint.Fast))
	require.NoError(t, err)

	r, mask := region.Build(100, 100, 30, 15)
	assert.Equal(t, region.Region{X0: 70, Y0: 85, X1: 100, Y1: 100}, r)
	assert.Equal(t, image.Rect(0, 0, 100, 100), out.Bounds())
	testutil.RequireUnchangedOutside(t, src, out, mask)
}

func TestRemoveWatermark_ZeroPercentIsIdentity(t *testing.T) {
	f := &countingFactory{}
	d := newTestDispatcher(f)
	defer func() { _ = d.Close() }()
	src := testutil.Textured(40, 30, 3)

	for _, req := range []Request{
		ClassicalRequest(0, 15, inpaint.Fast),
		ClassicalRequest(30, 0, inpaint.Diffusion),
		{WidthPct: 0, HeightPct: 50, Strategy: Learned{}},
	} {
		out, err := d.RemoveWatermark(context.Background(), src, req)
		require.NoError(t, err)
		assert.Equal(t, src.Pix, out.Pix)
	}
	assert.Zero(t, f.calls, "empty regions never load a model")
}

func TestRemoveWatermark_FullMaskClassicalIsInvalidRegion(t *testing.T) {
	d := New(DefaultConfig())
	defer func() { _ = d.Close() }()

	_, err := d.RemoveWatermark(context.Background(), testutil.Gradient(20, 20), ClassicalRequest(100, 100, inpaint.Fast))
	assert.ErrorIs(t, err, apperr.ErrInvalidRegion)

	// clamped above 100 too
	_, err = d.RemoveWatermark(context.Background(), testutil.Gradient(20, 20), ClassicalRequest(250, 101, inpaint.Diffusion))
	assert.ErrorIs(t, err, apperr.ErrInvalidRegion)
}

func TestRemoveWatermark_FastAndDiffusionDiffer(t *testing.T) {
	d := New(DefaultConfig())
	defer func() { _ = d.Close() }()
	src := testutil.Watermarked(testutil.Textured(90, 60, 4), 30, 15, "wm")

	fast, err := d.RemoveWatermark(context.Background(), src, ClassicalRequest(30, 15, inpaint.Fast))
	require.NoError(t, err)
	diff, err := d.RemoveWatermark(context.Background(), src, ClassicalRequest(30, 15, inpaint.Diffusion))
	require.NoError(t, err)

	assert.Equal(t, fast.Bounds(), diff.Bounds())
	assert.NotEqual(t, fast.Pix, diff.Pix)
}

func TestRemoveWatermark_LearnedDeterministicAndUntouched(t *testing.T) {
	f := &countingFactory{}
	d := newTestDispatcher(f)
	defer func() { _ = d.Close() }()

	src := testutil.Watermarked(testutil.Textured(64, 64, 4), 15, 15, "wm")
	req := LearnedRequest("")

	a, err := d.RemoveWatermark(context.Background(), src, req)
	require.NoError(t, err)
	b, err := d.RemoveWatermark(context.Background(), src, req)
	require.NoError(t, err)

	assert.Equal(t, a.Pix, b.Pix)
	_, mask := region.Build(64, 64, 15, 15)
	testutil.RequireUnchangedOutside(t, src, a, mask)
	assert.Equal(t, 1, f.calls, "session built once and reused")
	assert.Equal(t, int32(2), f.built[0].runs.Load())
}

func TestRemoveWatermark_LearnedFailureHasNoFallback(t *testing.T) {
	f := &countingFactory{failures: 1}
	d := newTestDispatcher(f)
	defer func() { _ = d.Close() }()

	out, err := d.RemoveWatermark(context.Background(), testutil.Gradient(30, 30), LearnedRequest(""))
	assert.Nil(t, out)
	assert.ErrorIs(t, err, apperr.ErrModelLoad)
	assert.Contains(t, err.Error(), "weights corrupt")
}

func TestRemoveWatermark_MissingModelIsModelLoad(t *testing.T) {
	d := New(DefaultConfig())
	defer func() { _ = d.Close() }()

	missing := filepath.Join(t.TempDir(), "absent.onnx")
	_, err := d.RemoveWatermark(context.Background(), testutil.Gradient(30, 30), LearnedRequest(missing))
	assert.ErrorIs(t, err, apperr.ErrModelLoad)
	assert.Empty(t, d.LoadedModels())
}

func TestRemoveWatermark_BadRequests(t *testing.T) {
	d := New(DefaultConfig())
	defer func() { _ = d.Close() }()

	_, err := d.RemoveWatermark(context.Background(), nil, ClassicalRequest(30, 15, inpaint.Fast))
	assert.ErrorIs(t, err, apperr.ErrInvalidRegion)

	_, err = d.RemoveWatermark(context.Background(), testutil.Gradient(10, 10), Request{WidthPct: 30, HeightPct: 15})
	assert.ErrorIs(t, err, apperr.ErrInvalidOption)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = d.RemoveWatermark(ctx, testutil.Gradient(10, 10), ClassicalRequest(30, 15, inpaint.Fast))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSession_ConcurrentCallersShareOneBuild(t *testing.T) {
	f := &countingFactory{delay: 20 * time.Millisecond}
	d := newTestDispatcher(f)
	defer func() { _ = d.Close() }()

	var wg sync.WaitGroup
	got := make([]ModelSession, 16)
	for i := range got {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s, err := d.Session("")
			assert.NoError(t, err)
			got[i] = s
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, f.calls)
	for _, s := range got {
		assert.Same(t, got[0], s)
	}
}

func TestSession_KeyedByPath(t *testing.T) {
	f := &countingFactory{}
	d := newTestDispatcher(f)
	defer func() { _ = d.Close() }()

	a, err := d.Session("/models/a.onnx")
	require.NoError(t, err)
	b, err := d.Session("/models/b.onnx")
	require.NoError(t, err)
	a2, err := d.Session("/models/./a.onnx")
	require.NoError(t, err)

	assert.NotSame(t, a, b)
	assert.Same(t, a, a2)
	assert.Equal(t, 2, f.calls)
	assert.Equal(t, []string{"/models/a.onnx", "/models/b.onnx"}, d.LoadedModels())
}

func TestSession_FailuresAreNotCached(t *testing.T) {
	f := &countingFactory{failures: 1}
	d := newTestDispatcher(f)
	defer func() { _ = d.Close() }()

	_, err := d.Session("")
	require.ErrorIs(t, err, apperr.ErrModelLoad)

	s, err := d.Session("")
	require.NoError(t, err)
	assert.NotNil(t, s)
	assert.Equal(t, 2, f.calls)
}

func TestClose_ReleasesSessions(t *testing.T) {
	f := &countingFactory{}
	d := newTestDispatcher(f)

	_, err := d.Session("")
	require.NoError(t, err)
	require.NoError(t, d.Close())
	require.NoError(t, d.Close())

	assert.True(t, f.built[0].closed.Load())
	_, err = d.Session("")
	assert.ErrorIs(t, err, apperr.ErrModelLoad)
}

func TestProcessFile(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "in.png")
	testutil.SaveImage(t, testutil.Watermarked(testutil.Textured(100, 100, 5), 30, 15, "wm"), in)

	t.Run("classical writes output", func(t *testing.T) {
		out := filepath.Join(dir, "out.png")
		require.NoError(t, RemoveWatermarkClassical(context.Background(), in, out, 30, 15, inpaint.Fast))

		src := testutil.LoadImage(t, in)
		got := testutil.LoadImage(t, out)
		_, mask := region.Build(100, 100, 30, 15)
		testutil.RequireUnchangedOutside(t, src, got, mask)
	})

	t.Run("missing model writes nothing", func(t *testing.T) {
		out := filepath.Join(dir, "learned.png")
		err := RemoveWatermarkLearned(context.Background(), in, out, filepath.Join(dir, "nope.onnx"))
		assert.ErrorIs(t, err, apperr.ErrModelLoad)
		assert.NoFileExists(t, out)
	})

	t.Run("model is checked before the input", func(t *testing.T) {
		out := filepath.Join(dir, "learned.png")
		err := RemoveWatermarkLearned(context.Background(), filepath.Join(dir, "missing.png"), out, filepath.Join(dir, "nope.onnx"))
		assert.ErrorIs(t, err, apperr.ErrModelLoad)
	})

	t.Run("full region writes nothing", func(t *testing.T) {
		out := filepath.Join(dir, "full.png")
		err := RemoveWatermarkClassical(context.Background(), in, out, 100, 100, inpaint.Fast)
		assert.ErrorIs(t, err, apperr.ErrInvalidRegion)
		assert.NoFileExists(t, out)
	})

	t.Run("unsupported output", func(t *testing.T) {
		out := filepath.Join(dir, "out.webp")
		err := RemoveWatermarkClassical(context.Background(), in, out, 30, 15, inpaint.Fast)
		assert.ErrorIs(t, err, apperr.ErrUnsupportedFormat)
		assert.NoFileExists(t, out)
	})

	t.Run("missing input", func(t *testing.T) {
		err := RemoveWatermarkClassical(context.Background(), filepath.Join(dir, "nope.png"), filepath.Join(dir, "x.png"), 30, 15, inpaint.Fast)
		assert.ErrorIs(t, err, apperr.ErrInvalidInputPath)
	})

	t.Run("learned through a fake session", func(t *testing.T) {
		d := newTestDispatcher(&countingFactory{})
		defer func() { _ = d.Close() }()
		out := filepath.Join(dir, "fake.jpg")
		require.NoError(t, d.ProcessFile(context.Background(), in, out, LearnedRequest("")))
		info, err := os.Stat(out)
		require.NoError(t, err)
		assert.Positive(t, info.Size())
	})
}
