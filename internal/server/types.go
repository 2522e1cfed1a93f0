// Package server exposes watermark removal over HTTP and WebSocket.
package server

import (
	"context"
	"image"
	"net/http"
	"time"

	"github.com/MeKo-Tech/wmclean/internal/remover"
	"github.com/MeKo-Tech/wmclean/internal/utils"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// watermarkRemover defines the methods needed by the server from a dispatcher.
type watermarkRemover interface {
	RemoveWatermark(ctx context.Context, img image.Image, req remover.Request) (*image.NRGBA, error)
	LoadedModels() []string
	Close() error
}

// RequestDefaults fills in options a client left out before the request is parsed.
type RequestDefaults func(strategy string, opts map[string]string) map[string]string

// Server holds the HTTP server state and dependencies.
type Server struct {
	remover         watermarkRemover
	corsOrigin      string
	maxUploadMB     int64
	timeout         time.Duration
	jpegQuality     int
	modelsDir       string
	version         string
	rateLimiter     *RateLimiter
	requestDefaults RequestDefaults
}

// Config holds server configuration.
type Config struct {
	Host        string
	Port        int
	CORSOrigin  string
	MaxUploadMB int64
	TimeoutSec  int
	ModelsDir   string
	Version     string
	RateLimit   RateLimitConfig
	// Dispatcher configures the shared dispatcher. Ignored when Remover is set.
	Dispatcher remover.Config
	// Remover replaces the dispatcher, mainly for tests.
	Remover watermarkRemover
	// Defaults is applied to form and WebSocket options. Nil keeps the
	// strategy defaults.
	Defaults RequestDefaults
}

// RateLimitConfig holds per-client limits. Zero disables a limit.
type RateLimitConfig struct {
	Enabled           bool
	RequestsPerMinute int
	RequestsPerHour   int
	MaxRequestsPerDay int
	MaxDataPerDay     int64 // bytes
}

// Response types for API endpoints.
type HealthResponse struct {
	Status       string   `json:"status"`
	Version      string   `json:"version,omitempty"`
	Time         string   `json:"time"`
	LoadedModels []string `json:"loaded_models"`
}

type ModelInfo struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Description string `json:"description"`
	Path        string `json:"path"`
	InputSize   int    `json:"input_size"`
	Present     bool   `json:"present"`
	Size        int64  `json:"size,omitempty"`
	Loaded      bool   `json:"loaded"`
}

type ModelsResponse struct {
	Models []ModelInfo `json:"models"`
	Count  int         `json:"count"`
}

// ErrorResponse is the JSON body of every failed request.
type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Kind    string `json:"kind,omitempty"`
}

// NewServer creates a server with its own dispatcher.
func NewServer(config Config) (*Server, error) {
	rm := config.Remover
	if rm == nil {
		rm = remover.New(config.Dispatcher)
	}

	maxUpload := config.MaxUploadMB
	if maxUpload <= 0 {
		maxUpload = 50
	}
	timeout := time.Duration(config.TimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	quality := config.Dispatcher.JPEGQuality
	if quality <= 0 {
		quality = utils.DefaultJPEGQuality
	}

	s := &Server{
		remover:         rm,
		corsOrigin:      config.CORSOrigin,
		maxUploadMB:     maxUpload,
		timeout:         timeout,
		jpegQuality:     quality,
		modelsDir:       config.ModelsDir,
		version:         config.Version,
		requestDefaults: config.Defaults,
	}
	if s.corsOrigin == "" {
		s.corsOrigin = "*"
	}
	if config.RateLimit.Enabled {
		s.rateLimiter = NewRateLimiter(config.RateLimit)
	}
	return s, nil
}

// Close releases server resources, including any loaded model sessions.
func (s *Server) Close() error {
	if s.remover != nil {
		return s.remover.Close()
	}
	return nil
}

// SetupRoutes configures the HTTP routes.
func (s *Server) SetupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", s.corsMiddleware(s.healthHandler))
	mux.HandleFunc("/models", s.corsMiddleware(s.modelsHandler))
	mux.HandleFunc("/watermark/remove", s.corsMiddleware(s.rateLimitMiddleware(s.removeHandler)))
	// Not wrapped in corsMiddleware: the upgrade needs the raw ResponseWriter.
	mux.HandleFunc("/ws/remove", s.rateLimitMiddleware(s.removeWebSocketHandler))
	mux.Handle("/metrics", promhttp.Handler())
}
