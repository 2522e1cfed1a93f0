package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/MeKo-Tech/wmclean/internal/apperr"
	"github.com/MeKo-Tech/wmclean/internal/models"
	"github.com/MeKo-Tech/wmclean/internal/region"
	"github.com/MeKo-Tech/wmclean/internal/remover"
	"github.com/MeKo-Tech/wmclean/internal/utils"
	"github.com/disintegration/imaging"
)

// Form fields accepted by POST /watermark/remove besides the image file.
const (
	fieldImage    = "image"
	fieldStrategy = "strategy"
	fieldFormat   = "format"
)

var optionFields = []string{
	remover.OptWidthPct,
	remover.OptHeightPct,
	remover.OptAlgorithm,
	remover.OptModelPath,
}

var contentTypes = map[imaging.Format]string{
	imaging.JPEG: "image/jpeg",
	imaging.PNG:  "image/png",
	imaging.GIF:  "image/gif",
	imaging.BMP:  "image/bmp",
	imaging.TIFF: "image/tiff",
}

// healthHandler returns server health status.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	response := HealthResponse{
		Status:       "healthy",
		Version:      s.version,
		Time:         time.Now().UTC().Format(time.RFC3339),
		LoadedModels: []string{},
	}
	if s.remover != nil {
		if loaded := s.remover.LoadedModels(); loaded != nil {
			response.LoadedModels = loaded
		}
	}
	s.writeJSON(w, http.StatusOK, response)
}

// modelsHandler lists the known models, whether their files exist and
// whether a session is currently loaded.
func (s *Server) modelsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var loaded []string
	if s.remover != nil {
		loaded = s.remover.LoadedModels()
	}

	statuses := models.ModelStatuses(s.modelsDir)
	list := make([]ModelInfo, len(statuses))
	for i, st := range statuses {
		list[i] = ModelInfo{
			Name:        st.Name,
			Type:        st.Type,
			Description: st.Description,
			Path:        st.Path,
			InputSize:   st.InputSize,
			Present:     st.Present,
			Size:        st.Size,
			Loaded:      slices.Contains(loaded, st.Path),
		}
	}
	s.writeJSON(w, http.StatusOK, ModelsResponse{Models: list, Count: len(list)})
}

// removeHandler processes POST /watermark/remove. The response body is the
// cleaned image encoded in the requested format, or the input format when
// it can be written, else PNG.
func (s *Server) removeHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	data, strategy, opts, format, err := s.parseRemoveRequest(w, r)
	if err != nil {
		removalRequestsTotal.WithLabelValues("http", strategyLabel(strategy), "error").Inc()
		s.writeError(w, err)
		return
	}

	res, err := s.runRemoval(r.Context(), data, strategy, opts, format, nil)
	if err != nil {
		removalRequestsTotal.WithLabelValues("http", strategyLabel(strategy), "error").Inc()
		slog.Warn("Watermark removal failed", "error", err, "kind", apperr.KindOf(err).String())
		s.writeError(w, err)
		return
	}
	removalRequestsTotal.WithLabelValues("http", res.Strategy, "success").Inc()

	w.Header().Set("Content-Type", res.ContentType)
	w.Header().Set("X-Watermark-Strategy", res.Strategy)
	w.Header().Set("X-Watermark-Region", res.Region.String())
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(res.Data); err != nil {
		slog.Error("Failed to write image response", "error", err)
	}
}

// parseRemoveRequest reads the multipart form. Unknown fields are rejected.
func (s *Server) parseRemoveRequest(
	w http.ResponseWriter,
	r *http.Request,
) ([]byte, string, map[string]string, string, error) {
	const op = "parse request"
	limit := s.maxUploadMB * 1024 * 1024

	r.Body = http.MaxBytesReader(w, r.Body, limit)
	if err := r.ParseMultipartForm(limit); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) || strings.Contains(err.Error(), "request body too large") {
			return nil, "", nil, "", errUploadTooLarge
		}
		return nil, "", nil, "", apperr.New(apperr.KindInvalidOption, op, fmt.Errorf("failed to parse form data: %w", err))
	}

	form := r.MultipartForm
	for name := range form.File {
		if name != fieldImage {
			return nil, "", nil, "", apperr.Newf(apperr.KindInvalidOption, op, "unexpected file field %q", name)
		}
	}

	opts := make(map[string]string)
	var strategy, format string
	for name, values := range form.Value {
		v := ""
		if len(values) > 0 {
			v = values[0]
		}
		switch {
		case name == fieldStrategy:
			strategy = v
		case name == fieldFormat:
			format = v
		case slices.Contains(optionFields, name):
			opts[name] = v
		default:
			return nil, "", nil, "", apperr.Newf(apperr.KindInvalidOption, op, "unknown field %q", name)
		}
	}
	if format == "" {
		format = r.URL.Query().Get(fieldFormat)
	}

	file, header, err := r.FormFile(fieldImage)
	if err != nil {
		return nil, strategy, nil, "", apperr.New(apperr.KindInvalidOption, op, errors.New("no image file provided"))
	}
	defer func() { _ = file.Close() }()
	uploadSizeBytes.Observe(float64(header.Size))

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, strategy, nil, "", fmt.Errorf("read image data: %w", err)
	}
	return data, strategy, opts, format, nil
}

// removalResult is an encoded removal response.
type removalResult struct {
	Data        []byte
	Format      imaging.Format
	ContentType string
	Strategy    string
	Region      region.Region
	Width       int
	Height      int
	Duration    time.Duration
}

// progressFunc reports a processing stage and its completion fraction.
type progressFunc func(stage string, progress float64)

// runRemoval decodes data, removes the watermark within the request timeout
// and encodes the result.
func (s *Server) runRemoval(
	ctx context.Context,
	data []byte,
	strategy string,
	opts map[string]string,
	format string,
	progress progressFunc,
) (*removalResult, error) {
	if progress == nil {
		progress = func(string, float64) {}
	}

	if s.requestDefaults != nil {
		opts = s.requestDefaults(strategy, opts)
	}
	req, err := remover.ParseRequest(strategy, opts)
	if err != nil {
		return nil, err
	}

	img, srcFormat, err := utils.DecodeImage(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	outFormat, err := responseFormat(format, srcFormat)
	if err != nil {
		return nil, err
	}
	b := img.Bounds()
	progress("decoded", 0.2)

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	out, err := s.removeWithContext(ctx, img, req)
	if err != nil {
		return nil, err
	}
	elapsed := time.Since(start)
	progress("reconstructed", 0.8)

	name := req.Strategy.Name()
	r := region.Compute(b.Dx(), b.Dy(), req.WidthPct, req.HeightPct)
	removalDuration.WithLabelValues(name).Observe(elapsed.Seconds())
	removalRegionPixels.WithLabelValues(name).Observe(float64(r.Dx() * r.Dy()))

	var buf bytes.Buffer
	if err := utils.EncodeImage(&buf, out, outFormat, s.jpegQuality); err != nil {
		return nil, err
	}
	progress("encoded", 1.0)

	return &removalResult{
		Data:        buf.Bytes(),
		Format:      outFormat,
		ContentType: contentTypes[outFormat],
		Strategy:    name,
		Region:      r,
		Width:       b.Dx(),
		Height:      b.Dy(),
		Duration:    elapsed,
	}, nil
}

// removeWithContext returns when the removal finishes or ctx is done,
// whichever comes first. A removal still running after ctx expires finishes
// in the background and its result is dropped.
func (s *Server) removeWithContext(ctx context.Context, img image.Image, req remover.Request) (*image.NRGBA, error) {
	type result struct {
		img *image.NRGBA
		err error
	}
	done := make(chan result, 1)
	go func() {
		out, err := s.remover.RemoveWatermark(ctx, img, req)
		done <- result{out, err}
	}()

	select {
	case res := <-done:
		return res.img, res.err
	case <-ctx.Done():
		return nil, fmt.Errorf("remove watermark: %w", ctx.Err())
	}
}

// responseFormat picks the encoder for the response.
func responseFormat(requested, source string) (imaging.Format, error) {
	if requested != "" {
		return utils.ParseFormat(requested)
	}
	if f, err := utils.ParseFormat(source); err == nil {
		return f, nil
	}
	return imaging.PNG, nil
}

var errUploadTooLarge = errors.New("file too large")

// statusForError maps a failure to an HTTP status code.
func statusForError(err error) int {
	switch {
	case errors.Is(err, errUploadTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, context.Canceled):
		return http.StatusRequestTimeout
	}
	switch apperr.KindOf(err) {
	case apperr.KindInvalidRegion, apperr.KindInvalidOption, apperr.KindUnsupportedFormat, apperr.KindInvalidInputPath:
		return http.StatusBadRequest
	case apperr.KindModelLoad:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func strategyLabel(strategy string) string {
	s := strings.ToLower(strings.TrimSpace(strategy))
	switch s {
	case "":
		return remover.StrategyClassical
	case remover.StrategyClassical, remover.StrategyLearned:
		return s
	default:
		return "unknown"
	}
}

// writeError writes a JSON error response with the status for err.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	resp := ErrorResponse{Success: false, Error: err.Error()}
	if k := apperr.KindOf(err); k != apperr.KindUnknown {
		resp.Kind = k.String()
	}
	s.writeJSON(w, statusForError(err), resp)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode JSON response", "error", err)
	}
}
