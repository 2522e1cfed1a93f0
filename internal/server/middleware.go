package server

import (
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// statusRecorder wraps http.ResponseWriter to capture the status code.
type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (rw *statusRecorder) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// corsMiddleware adds CORS headers and records request metrics.
func (s *Server) corsMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", s.corsOrigin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Expose-Headers", "X-Watermark-Strategy, X-Watermark-Region")
		w.Header().Set("Access-Control-Max-Age", "86400")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		rw := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}

		start := time.Now()
		next(rw, r)
		duration := time.Since(start)

		httpRequestsTotal.WithLabelValues(r.Method, r.URL.Path, strconv.Itoa(rw.statusCode)).Inc()
		httpRequestDuration.WithLabelValues(r.Method, r.URL.Path).Observe(duration.Seconds())
	}
}

// rateLimitMiddleware enforces per-client rate limits and daily quotas.
func (s *Server) rateLimitMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.rateLimiter == nil || r.Method == http.MethodOptions {
			next(w, r)
			return
		}

		var dataSize int64
		if r.ContentLength > 0 {
			dataSize = r.ContentLength
		}

		if err := s.rateLimiter.Allow(getClientIP(r), dataSize); err != nil {
			s.handleRateLimitError(w, err)
			return
		}
		next(w, r)
	}
}

// handleRateLimitError writes a 429 response describing the exceeded limit.
func (s *Server) handleRateLimitError(w http.ResponseWriter, err error) {
	var rle *RateLimitError
	var qe *QuotaExceededError
	switch {
	case errors.As(err, &rle):
		rateLimitHits.WithLabelValues(rle.Type).Inc()
		w.Header().Set("X-RateLimit-Type", rle.Type)
		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(rle.Limit))
		w.Header().Set("Retry-After", strconv.Itoa(int(rle.RetryAfter.Round(time.Second).Seconds())))
		s.writeJSON(w, http.StatusTooManyRequests, map[string]any{
			"success":     false,
			"error":       rle.Error(),
			"kind":        "rate_limit_exceeded",
			"type":        rle.Type,
			"limit":       rle.Limit,
			"retry_after": rle.RetryAfter.Seconds(),
		})
	case errors.As(err, &qe):
		rateLimitHits.WithLabelValues(qe.Type).Inc()
		w.Header().Set("X-Quota-Type", qe.Type)
		w.Header().Set("X-Quota-Limit", strconv.FormatInt(qe.Limit, 10))
		w.Header().Set("X-Quota-Used", strconv.FormatInt(qe.Used, 10))
		w.Header().Set("X-Quota-Resets", qe.Resets.UTC().Format(http.TimeFormat))
		s.writeJSON(w, http.StatusTooManyRequests, map[string]any{
			"success": false,
			"error":   qe.Error(),
			"kind":    "quota_exceeded",
			"type":    qe.Type,
			"limit":   qe.Limit,
			"used":    qe.Used,
			"resets":  qe.Resets.Format(time.RFC3339),
		})
	default:
		s.writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "rate limiting check failed"})
	}
}

// getClientIP extracts the client IP address from the request.
func getClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		// first hop is the client
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}
