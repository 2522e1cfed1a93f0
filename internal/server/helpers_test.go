package server

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MeKo-Tech/wmclean/internal/lama"
	"github.com/MeKo-Tech/wmclean/internal/onnx"
	"github.com/MeKo-Tech/wmclean/internal/remover"
	"github.com/MeKo-Tech/wmclean/internal/testutil"
	"github.com/stretchr/testify/require"
)

const testModelPath = "/models/lama_fp32.onnx"

// invertSession returns 1-x for every input value.
type invertSession struct {
	closed atomic.Bool
}

func (s *invertSession) InputSize() int { return 32 }

func (s *invertSession) Run(img, _ onnx.Tensor) (onnx.Tensor, error) {
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

// fakeFactory builds invert sessions for testModelPath and fails for any
// other path.
func fakeFactory(cfg lama.Config) (remover.ModelSession, error) {
	if cfg.ModelPath != testModelPath {
		return nil, errors.New("model file not found")
	}
	return &invertSession{}, nil
}

func newTestServer(t *testing.T, mutate func(*Config)) *Server {
	t.Helper()
	dc := remover.DefaultConfig()
	dc.Learned.ModelPath = testModelPath
	dc.NewSession = fakeFactory

	cfg := Config{
		CORSOrigin:  "*",
		MaxUploadMB: 5,
		TimeoutSec:  5,
		ModelsDir:   t.TempDir(),
		Version:     "test",
		Dispatcher:  dc,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	s, err := NewServer(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newTestMux(s *Server) *http.ServeMux {
	mux := http.NewServeMux()
	s.SetupRoutes(mux)
	return mux
}

func pngBytes(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func sampleImage() *image.NRGBA {
	return testutil.Watermarked(testutil.Textured(100, 100, 5), 30, 15, "wm")
}

// multipartRequest builds a POST /watermark/remove request. A nil image
// omits the file part.
func multipartRequest(t *testing.T, imageData []byte, fields map[string]string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if imageData != nil {
		fw, err := mw.CreateFormFile("image", "input.png")
		require.NoError(t, err)
		_, err = fw.Write(imageData)
		require.NoError(t, err)
	}
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/watermark/remove", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

// stubRemover lets tests control the dispatcher result and timing.
type stubRemover struct {
	delay  time.Duration
	err    error
	loaded []string
}

func (s *stubRemover) RemoveWatermark(_ context.Context, img image.Image, _ remover.Request) (*image.NRGBA, error) {
	time.Sleep(s.delay)
	if s.err != nil {
		return nil, s.err
	}
	b := img.Bounds()
	out := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	return out, nil
}

func (s *stubRemover) LoadedModels() []string { return s.loaded }
func (s *stubRemover) Close() error           { return nil }
