package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/MeKo-Tech/wmclean/internal/apperr"
	"github.com/gorilla/websocket"
)

const (
	wsReadTimeout  = 60 * time.Second
	wsPingInterval = 30 * time.Second
	wsMaxMessageMB = 4 // base64 and JSON framing on top of maxUploadMB
)

// WebSocket upgrader with reasonable defaults.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// WebSocketRemoveRequest is a removal request sent over WebSocket. Image
// holds the encoded input, base64 in JSON.
type WebSocketRemoveRequest struct {
	Type     string         `json:"type"` // "remove"
	Image    []byte         `json:"image"`
	Strategy string         `json:"strategy,omitempty"`
	Format   string         `json:"format,omitempty"`
	Options  map[string]any `json:"options,omitempty"`
}

// WebSocketConnWriter is an interface for writing WebSocket messages.
type WebSocketConnWriter interface {
	WriteMessage(messageType int, data []byte) error
}

// WebSocketRemoveResult is the payload of a completed response.
type WebSocketRemoveResult struct {
	Image       []byte `json:"image"`
	Format      string `json:"format"`
	ContentType string `json:"content_type"`
	Width       int    `json:"width"`
	Height      int    `json:"height"`
	Strategy    string `json:"strategy"`
	Region      string `json:"region"`
	DurationMs  int64  `json:"duration_ms"`
}

// WebSocketRemoveResponse is a progress, completion or error message.
type WebSocketRemoveResponse struct {
	Type      string                 `json:"type"`
	Status    string                 `json:"status"` // "processing", "completed", "error"
	Stage     string                 `json:"stage,omitempty"`
	Progress  float64                `json:"progress,omitempty"`
	Result    *WebSocketRemoveResult `json:"result,omitempty"`
	Error     string                 `json:"error,omitempty"`
	ErrorType string                 `json:"error_type,omitempty"`
	RequestID string                 `json:"request_id,omitempty"`
}

// removeWebSocketHandler handles WebSocket connections for streamed removal.
func (s *Server) removeWebSocketHandler(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("Failed to upgrade connection to WebSocket", "error", err)
		return
	}
	defer func() { _ = conn.Close() }()

	websocketConnections.Inc()
	defer websocketConnections.Dec()

	slog.Info("WebSocket connection established", "remote_addr", r.RemoteAddr)
	s.handleWebSocketConnection(r.Context(), conn)
}

// handleWebSocketConnection serves requests from conn until it closes.
// Requests on one connection are processed in order.
func (s *Server) handleWebSocketConnection(ctx context.Context, conn *websocket.Conn) {
	conn.SetReadLimit((s.maxUploadMB + wsMaxMessageMB) * 1024 * 1024 * 4 / 3)
	_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		return nil
	})

	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(wsPingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(10*time.Second)); err != nil {
					return
				}
			}
		}
	}()

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Error("WebSocket error", "error", err)
			}
			return
		}
		websocketMessagesTotal.WithLabelValues("received").Inc()

		if messageType == websocket.TextMessage {
			s.handleWebSocketMessage(ctx, conn, data)
			_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		}
	}
}

// handleWebSocketMessage processes one removal request.
func (s *Server) handleWebSocketMessage(ctx context.Context, conn WebSocketConnWriter, data []byte) {
	var req WebSocketRemoveRequest
	if err := json.Unmarshal(data, &req); err != nil {
		s.sendWebSocketError(conn, "", "invalid_request", fmt.Sprintf("Failed to parse request: %v", err))
		return
	}
	if req.Type != "" && req.Type != "remove" {
		s.sendWebSocketError(conn, "", "invalid_request", "Unsupported request type: "+req.Type)
		return
	}
	if len(req.Image) == 0 {
		s.sendWebSocketError(conn, "", "invalid_request", "No image data provided")
		return
	}

	opts, err := stringOptions(req.Options)
	if err != nil {
		s.sendWebSocketError(conn, "", apperr.KindInvalidOption.String(), err.Error())
		return
	}

	requestID := strconv.FormatInt(time.Now().UnixNano(), 10)
	progress := func(stage string, p float64) {
		s.sendWebSocketResponse(conn, WebSocketRemoveResponse{
			Type:      "remove_response",
			Status:    "processing",
			Stage:     stage,
			Progress:  p,
			RequestID: requestID,
		})
	}
	progress("received", 0)

	res, err := s.runRemoval(ctx, req.Image, req.Strategy, opts, req.Format, progress)
	if err != nil {
		removalRequestsTotal.WithLabelValues("websocket", strategyLabel(req.Strategy), "error").Inc()
		errType := "processing_error"
		if k := apperr.KindOf(err); k != apperr.KindUnknown {
			errType = k.String()
		}
		s.sendWebSocketError(conn, requestID, errType, err.Error())
		return
	}
	removalRequestsTotal.WithLabelValues("websocket", res.Strategy, "success").Inc()

	s.sendWebSocketResponse(conn, WebSocketRemoveResponse{
		Type:     "remove_response",
		Status:   "completed",
		Progress: 1.0,
		Result: &WebSocketRemoveResult{
			Image:       res.Data,
			Format:      res.Format.String(),
			ContentType: res.ContentType,
			Width:       res.Width,
			Height:      res.Height,
			Strategy:    res.Strategy,
			Region:      res.Region.String(),
			DurationMs:  res.Duration.Milliseconds(),
		},
		RequestID: requestID,
	})
}

// stringOptions flattens JSON option values to the strings ParseRequest takes.
func stringOptions(options map[string]any) (map[string]string, error) {
	out := make(map[string]string, len(options))
	for k, v := range options {
		switch val := v.(type) {
		case string:
			out[k] = val
		case float64:
			out[k] = strconv.FormatFloat(val, 'f', -1, 64)
		case bool:
			out[k] = strconv.FormatBool(val)
		default:
			return nil, fmt.Errorf("option %q has unsupported type %T", k, v)
		}
	}
	return out, nil
}

// sendWebSocketResponse sends a response message over WebSocket.
func (s *Server) sendWebSocketResponse(conn WebSocketConnWriter, response WebSocketRemoveResponse) {
	data, err := json.Marshal(response)
	if err != nil {
		slog.Error("Failed to marshal WebSocket response", "error", err)
		return
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		slog.Error("Failed to send WebSocket message", "error", err)
		return
	}
	websocketMessagesTotal.WithLabelValues("sent").Inc()
}

// sendWebSocketError sends an error message over WebSocket.
func (s *Server) sendWebSocketError(conn WebSocketConnWriter, requestID, errorType, message string) {
	s.sendWebSocketResponse(conn, WebSocketRemoveResponse{
		Type:      "error",
		Status:    "error",
		Error:     message,
		ErrorType: errorType,
		RequestID: requestID,
	})
}
