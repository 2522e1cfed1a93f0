package remover

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/MeKo-Tech/wmclean/internal/apperr"
	"github.com/MeKo-Tech/wmclean/internal/inpaint"
	"github.com/MeKo-Tech/wmclean/internal/lama"
	"github.com/MeKo-Tech/wmclean/internal/onnx"
	"github.com/MeKo-Tech/wmclean/internal/region"
	"github.com/disintegration/imaging"
)

// ModelSession is a loaded learned model shared by concurrent requests.
type ModelSession interface {
	lama.Runner
	Close() error
}

// SessionFactory builds a model session from a LaMa config.
type SessionFactory func(cfg lama.Config) (ModelSession, error)

func newLamaSession(cfg lama.Config) (ModelSession, error) {
	s, err := lama.NewSession(cfg)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Config configures a Dispatcher.
type Config struct {
	// Classical tunes the classical inpainter. Its Algorithm is overridden per request.
	Classical inpaint.Options
	// Learned is the template for model sessions. ModelPath is the default
	// used by Learned requests that do not name a model.
	Learned lama.Config
	// JPEGQuality applies to JPEG output written by the file operations.
	JPEGQuality int
	// NewSession overrides how model sessions are built. Nil means ONNX Runtime.
	NewSession SessionFactory
}

// DefaultConfig returns the classical defaults and the bundled LaMa model.
func DefaultConfig() Config {
	return Config{
		Classical:   inpaint.DefaultOptions(),
		Learned:     lama.DefaultConfig(),
		JPEGQuality: 95,
	}
}

type sessionEntry struct {
	mu   sync.Mutex
	sess ModelSession
}

// Dispatcher executes removal requests. It is safe for concurrent use and
// keeps at most one model session per model path for its lifetime.
type Dispatcher struct {
	cfg     Config
	factory SessionFactory

	mu       sync.Mutex
	sessions map[string]*sessionEntry
	closed   bool
	usedORT  bool
}

// New returns a dispatcher without any loaded model.
func New(cfg Config) *Dispatcher {
	f := cfg.NewSession
	if f == nil {
		f = newLamaSession
	}
	return &Dispatcher{cfg: cfg, factory: f, sessions: make(map[string]*sessionEntry)}
}

// Config returns the dispatcher configuration.
func (d *Dispatcher) Config() Config {
	return d.cfg
}

func (d *Dispatcher) modelKey(path string) string {
	if path == "" {
		path = d.cfg.Learned.ModelPath
	}
	if path == "" {
		return ""
	}
	return filepath.Clean(path)
}

// Session returns the cached session for path, building it on first use.
// Concurrent callers for the same path wait for a single construction.
// A failed construction is not cached; the next call tries again.
func (d *Dispatcher) Session(path string) (ModelSession, error) {
	key := d.modelKey(path)
	if key == "" {
		return nil, apperr.New(apperr.KindModelLoad, "load model", errors.New("no model path configured"))
	}

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil, apperr.WithPath(apperr.KindModelLoad, "load model", key, errors.New("dispatcher closed"))
	}
	e, ok := d.sessions[key]
	if !ok {
		e = &sessionEntry{}
		d.sessions[key] = e
	}
	d.mu.Unlock()

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.sess != nil {
		return e.sess, nil
	}

	cfg := d.cfg.Learned
	cfg.ModelPath = key
	start := time.Now()
	sess, err := d.factory(cfg)
	if err != nil {
		if apperr.KindOf(err) == apperr.KindUnknown {
			err = apperr.WithPath(apperr.KindModelLoad, "load model", key, err)
		}
		return nil, err
	}
	e.sess = sess

	d.mu.Lock()
	d.usedORT = d.usedORT || d.cfg.NewSession == nil
	d.mu.Unlock()
	slog.Info("Model session loaded", "model", key, "duration", time.Since(start))
	return sess, nil
}

// LoadedModels lists the model paths with a live session.
func (d *Dispatcher) LoadedModels() []string {
	d.mu.Lock()
	entries := make(map[string]*sessionEntry, len(d.sessions))
	for k, e := range d.sessions {
		entries[k] = e
	}
	d.mu.Unlock()

	var out []string
	for k, e := range entries {
		if e.mu.TryLock() {
			if e.sess != nil {
				out = append(out, k)
			}
			e.mu.Unlock()
		}
	}
	slices.Sort(out)
	return out
}

// RemoveWatermark computes the corner region of img and reconstructs it with
// the requested strategy. A zero-area region returns an unchanged copy. A
// learned failure is returned as is; there is no classical fallback.
func (d *Dispatcher) RemoveWatermark(ctx context.Context, img image.Image, req Request) (*image.NRGBA, error) {
	const op = "remove watermark"

	if img == nil {
		return nil, apperr.New(apperr.KindInvalidRegion, op, errors.New("nil image"))
	}
	if req.Strategy == nil {
		return nil, apperr.New(apperr.KindInvalidOption, op, errors.New("no strategy"))
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	b := img.Bounds()
	r, mask := region.Build(b.Dx(), b.Dy(), req.WidthPct, req.HeightPct)
	log := slog.With("strategy", req.Strategy.Name(), "region", r.String(), "size", fmt.Sprintf("%dx%d", b.Dx(), b.Dy()))
	if r.Empty() {
		log.Debug("Empty region, returning input unchanged")
		return imaging.Clone(img), nil
	}

	start := time.Now()
	var (
		out *image.NRGBA
		err error
	)
	switch s := req.Strategy.(type) {
	case Classical:
		out, err = d.classical(ctx, img, mask, s)
	case Learned:
		out, err = d.learned(ctx, img, mask, s)
	default:
		return nil, apperr.New(apperr.KindInvalidOption, op, fmt.Errorf("unknown strategy %T", req.Strategy))
	}
	if err != nil {
		return nil, err
	}
	log.Debug("Watermark removed", "duration", time.Since(start))
	return out, nil
}

func (d *Dispatcher) classical(ctx context.Context, img image.Image, mask *region.Mask, s Classical) (*image.NRGBA, error) {
	if mask.IsFull() {
		return nil, apperr.New(apperr.KindInvalidRegion, "classical inpaint",
			errors.New("mask covers the whole image, nothing to propagate from"))
	}
	opts := d.cfg.Classical
	opts.Algorithm = s.Algorithm
	return inpaint.InpaintContext(ctx, img, mask, opts)
}

func (d *Dispatcher) learned(ctx context.Context, img image.Image, mask *region.Mask, s Learned) (*image.NRGBA, error) {
	sess, err := d.Session(s.ModelPath)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("learned inpaint: %w", err)
	}
	return lama.InpaintWithRange(img, mask, sess, d.cfg.Learned.OutputRange)
}

// Close releases every cached session. Later Session calls fail. When the
// sessions came from ONNX Runtime the runtime environment is torn down too.
func (d *Dispatcher) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	entries := d.sessions
	d.sessions = nil
	usedORT := d.usedORT
	d.mu.Unlock()

	var errs []error
	for key, e := range entries {
		e.mu.Lock()
		if e.sess != nil {
			if err := e.sess.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close %s: %w", key, err))
			}
			e.sess = nil
		}
		e.mu.Unlock()
	}
	if usedORT {
		if err := onnx.ShutdownEnvironment(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
