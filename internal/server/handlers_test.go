package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/MeKo-Tech/wmclean/internal/apperr"
	"github.com/MeKo-Tech/wmclean/internal/models"
	"github.com/MeKo-Tech/wmclean/internal/region"
	"github.com/MeKo-Tech/wmclean/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServer_HealthHandler(t *testing.T) {
	s := &Server{remover: &stubRemover{loaded: []string{testModelPath}}, version: "1.2.3"}

	tests := []struct {
		name           string
		method         string
		expectedStatus int
	}{
		{"GET request success", http.MethodGet, http.StatusOK},
		{"POST request not allowed", http.MethodPost, http.StatusMethodNotAllowed},
		{"PUT request not allowed", http.MethodPut, http.StatusMethodNotAllowed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			s.healthHandler(w, httptest.NewRequest(tt.method, "/health", nil))
			assert.Equal(t, tt.expectedStatus, w.Code)

			if tt.expectedStatus == http.StatusOK {
				var resp HealthResponse
				require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
				assert.Equal(t, "healthy", resp.Status)
				assert.Equal(t, "1.2.3", resp.Version)
				assert.NotEmpty(t, resp.Time)
				assert.Equal(t, []string{testModelPath}, resp.LoadedModels)
				assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
			}
		})
	}
}

func TestServer_ModelsHandler(t *testing.T) {
	dir := t.TempDir()
	path := models.ResolveModelPath(dir, models.TypeInpainting, models.LamaFP32)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("weights"), 0o644))

	s := &Server{remover: &stubRemover{loaded: []string{path}}, modelsDir: dir}

	w := httptest.NewRecorder()
	s.modelsHandler(w, httptest.NewRequest(http.MethodGet, "/models", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var resp ModelsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, len(models.ListAvailableModels()), resp.Count)
	require.Len(t, resp.Models, resp.Count)

	var lama *ModelInfo
	for i := range resp.Models {
		if resp.Models[i].Path == path {
			lama = &resp.Models[i]
		}
	}
	require.NotNil(t, lama, "bundled LaMa model missing from listing")
	assert.True(t, lama.Present)
	assert.True(t, lama.Loaded)
	assert.Equal(t, int64(len("weights")), lama.Size)
	assert.Equal(t, models.TypeInpainting, lama.Type)

	w = httptest.NewRecorder()
	s.modelsHandler(w, httptest.NewRequest(http.MethodPost, "/models", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestRemoveHandler_Classical(t *testing.T) {
	s := newTestServer(t, nil)
	src := sampleImage()

	w := httptest.NewRecorder()
	s.removeHandler(w, multipartRequest(t, pngBytes(t, src), map[string]string{
		"strategy":  "classical",
		"algorithm": "fast",
	}))

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "image/png", w.Header().Get("Content-Type"))
	assert.Equal(t, "classical", w.Header().Get("X-Watermark-Strategy"))
	assert.Equal(t, "[70,100)x[85,100)", w.Header().Get("X-Watermark-Region"))

	out, _, err := image.Decode(bytes.NewReader(w.Body.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, src.Bounds().Size(), out.Bounds().Size())

	_, mask := region.Build(100, 100, 30, 15)
	testutil.RequireUnchangedOutside(t, src, out, mask)
	assert.Greater(t, testutil.MeanAbsDiff(src, out, mask), 0.0)
}

func TestRemoveHandler_LearnedWithFakeModel(t *testing.T) {
	s := newTestServer(t, nil)
	src := sampleImage()

	w := httptest.NewRecorder()
	s.removeHandler(w, multipartRequest(t, pngBytes(t, src), map[string]string{"strategy": "learned"}))

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "learned", w.Header().Get("X-Watermark-Strategy"))
	assert.Equal(t, "[85,100)x[85,100)", w.Header().Get("X-Watermark-Region"))

	out, _, err := image.Decode(bytes.NewReader(w.Body.Bytes()))
	require.NoError(t, err)
	_, mask := region.Build(100, 100, 15, 15)
	testutil.RequireUnchangedOutside(t, src, out, mask)
}

func TestRemoveHandler_OutputFormat(t *testing.T) {
	s := newTestServer(t, nil)
	src := sampleImage()

	var jpg bytes.Buffer
	require.NoError(t, jpeg.Encode(&jpg, src, &jpeg.Options{Quality: 90}))

	// input format is kept by default
	w := httptest.NewRecorder()
	s.removeHandler(w, multipartRequest(t, jpg.Bytes(), nil))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "image/jpeg", w.Header().Get("Content-Type"))

	// explicit format wins
	w = httptest.NewRecorder()
	s.removeHandler(w, multipartRequest(t, jpg.Bytes(), map[string]string{"format": "png"}))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "image/png", w.Header().Get("Content-Type"))
}

func TestRemoveHandler_Errors(t *testing.T) {
	src := pngBytes(t, sampleImage())

	tests := []struct {
		name       string
		image      []byte
		fields     map[string]string
		wantStatus int
		wantKind   string
	}{
		{"missing image", nil, nil, http.StatusBadRequest, "invalid_option"},
		{"undecodable image", []byte("not an image"), nil, http.StatusBadRequest, "unsupported_format"},
		{"unknown field", src, map[string]string{"quality": "9"}, http.StatusBadRequest, "invalid_option"},
		{"option not valid for strategy", src, map[string]string{"model_path": "x.onnx"}, http.StatusBadRequest, "invalid_option"},
		{"unknown strategy", src, map[string]string{"strategy": "magic"}, http.StatusBadRequest, "invalid_option"},
		{"bad percentage", src, map[string]string{"width_pct": "wide"}, http.StatusBadRequest, "invalid_option"},
		{"bad algorithm", src, map[string]string{"algorithm": "blur"}, http.StatusBadRequest, "invalid_option"},
		{"unsupported output format", src, map[string]string{"format": "webp"}, http.StatusBadRequest, "unsupported_format"},
		{"full image mask", src, map[string]string{"width_pct": "100", "height_pct": "100"}, http.StatusBadRequest, "invalid_region"},
		{
			"missing model", src,
			map[string]string{"strategy": "learned", "model_path": "/nope/missing.onnx"},
			http.StatusServiceUnavailable, "model_load_error",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t, nil)
			w := httptest.NewRecorder()
			s.removeHandler(w, multipartRequest(t, tt.image, tt.fields))

			assert.Equal(t, tt.wantStatus, w.Code, w.Body.String())
			var resp ErrorResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.False(t, resp.Success)
			assert.NotEmpty(t, resp.Error)
			assert.Equal(t, tt.wantKind, resp.Kind)
		})
	}
}

func TestRemoveHandler_MethodNotAllowed(t *testing.T) {
	s := newTestServer(t, nil)
	w := httptest.NewRecorder()
	s.removeHandler(w, httptest.NewRequest(http.MethodGet, "/watermark/remove", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestRemoveHandler_TooLarge(t *testing.T) {
	s := newTestServer(t, func(c *Config) { c.MaxUploadMB = 1 })
	big := bytes.Repeat([]byte{0xAB}, 2*1024*1024)

	w := httptest.NewRecorder()
	s.removeHandler(w, multipartRequest(t, big, nil))
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}

func TestRemoveHandler_Timeout(t *testing.T) {
	s := newTestServer(t, func(c *Config) { c.Remover = &stubRemover{delay: 300 * time.Millisecond} })
	s.timeout = 20 * time.Millisecond

	start := time.Now()
	w := httptest.NewRecorder()
	s.removeHandler(w, multipartRequest(t, pngBytes(t, sampleImage()), nil))

	assert.Equal(t, http.StatusGatewayTimeout, w.Code)
	assert.Less(t, time.Since(start), 250*time.Millisecond)
}

func TestRemoveHandler_InferenceFailure(t *testing.T) {
	failure := apperr.New(apperr.KindInference, "learned inpaint", errors.New("NaN in output"))
	s := newTestServer(t, func(c *Config) { c.Remover = &stubRemover{err: failure} })

	w := httptest.NewRecorder()
	s.removeHandler(w, multipartRequest(t, pngBytes(t, sampleImage()), map[string]string{"strategy": "learned"}))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "inference_error")
}

func TestRemoveHandler_RequestDefaults(t *testing.T) {
	var seen map[string]string
	s := newTestServer(t, func(c *Config) {
		c.Defaults = func(strategy string, opts map[string]string) map[string]string {
			out := map[string]string{"width_pct": "10", "height_pct": "10"}
			for k, v := range opts {
				out[k] = v
			}
			seen = out
			return out
		}
	})

	w := httptest.NewRecorder()
	s.removeHandler(w, multipartRequest(t, pngBytes(t, sampleImage()), map[string]string{"height_pct": "20"}))

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "20", seen["height_pct"])
	assert.Equal(t, "[90,100)x[80,100)", w.Header().Get("X-Watermark-Region"))
}

func TestStatusForError(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{apperr.ErrInvalidRegion, http.StatusBadRequest},
		{apperr.ErrInvalidOption, http.StatusBadRequest},
		{apperr.ErrUnsupportedFormat, http.StatusBadRequest},
		{apperr.ErrInvalidInputPath, http.StatusBadRequest},
		{apperr.ErrModelLoad, http.StatusServiceUnavailable},
		{apperr.ErrInference, http.StatusInternalServerError},
		{apperr.ErrIOWrite, http.StatusInternalServerError},
		{fmt.Errorf("remove: %w", context.DeadlineExceeded), http.StatusGatewayTimeout},
		{context.Canceled, http.StatusRequestTimeout},
		{errUploadTooLarge, http.StatusRequestEntityTooLarge},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			assert.Equal(t, tt.want, statusForError(tt.err))
		})
	}
}

func TestSetupRoutes_Metrics(t *testing.T) {
	s := newTestServer(t, nil)
	mux := newTestMux(s)

	w := httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	body, err := io.ReadAll(w.Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), "wmclean_http_requests_total"))
}
