package server

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/MeKo-Tech/wmclean/internal/region"
	"github.com/MeKo-Tech/wmclean/internal/testutil"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockWebSocketConn records written messages.
type mockWebSocketConn struct {
	sent [][]byte
}

func (m *mockWebSocketConn) WriteMessage(_ int, data []byte) error {
	m.sent = append(m.sent, data)
	return nil
}

func (m *mockWebSocketConn) responses(t *testing.T) []WebSocketRemoveResponse {
	t.Helper()
	out := make([]WebSocketRemoveResponse, len(m.sent))
	for i, data := range m.sent {
		require.NoError(t, json.Unmarshal(data, &out[i]))
	}
	return out
}

func TestHandleWebSocketMessage_InvalidRequests(t *testing.T) {
	tests := []struct {
		name     string
		payload  string
		wantType string
		wantMsg  string
	}{
		{"malformed json", `{"type":`, "invalid_request", "Failed to parse request"},
		{"unsupported type", `{"type":"ocr","image":"AAAA"}`, "invalid_request", "Unsupported request type"},
		{"no image", `{"type":"remove"}`, "invalid_request", "No image data"},
		{"nested option", `{"image":"AAAA","options":{"width_pct":[1]}}`, "invalid_option", "unsupported type"},
		{"undecodable image", `{"image":"AAAA"}`, "unsupported_format", "decode image"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t, nil)
			conn := &mockWebSocketConn{}
			s.handleWebSocketMessage(context.Background(), conn, []byte(tt.payload))

			resps := conn.responses(t)
			require.NotEmpty(t, resps)
			last := resps[len(resps)-1]
			assert.Equal(t, "error", last.Status)
			assert.Equal(t, tt.wantType, last.ErrorType)
			assert.Contains(t, last.Error, tt.wantMsg)
		})
	}
}

func TestHandleWebSocketMessage_ProgressAndResult(t *testing.T) {
	s := newTestServer(t, nil)
	src := sampleImage()

	payload, err := json.Marshal(WebSocketRemoveRequest{
		Type:     "remove",
		Image:    pngBytes(t, src),
		Strategy: "classical",
		Options:  map[string]any{"width_pct": 30.0, "height_pct": "15", "algorithm": "diffusion"},
	})
	require.NoError(t, err)

	conn := &mockWebSocketConn{}
	s.handleWebSocketMessage(context.Background(), conn, payload)

	resps := conn.responses(t)
	require.GreaterOrEqual(t, len(resps), 2)

	var stages []string
	for _, r := range resps[:len(resps)-1] {
		assert.Equal(t, "processing", r.Status)
		stages = append(stages, r.Stage)
	}
	assert.Equal(t, []string{"received", "decoded", "reconstructed", "encoded"}, stages)

	final := resps[len(resps)-1]
	require.Equal(t, "completed", final.Status, final.Error)
	require.NotNil(t, final.Result)
	assert.Equal(t, "PNG", final.Result.Format)
	assert.Equal(t, 100, final.Result.Width)
	assert.Equal(t, "[70,100)x[85,100)", final.Result.Region)
	assert.Equal(t, resps[0].RequestID, final.RequestID)

	out, _, err := image.Decode(bytes.NewReader(final.Result.Image))
	require.NoError(t, err)
	_, mask := region.Build(100, 100, 30, 15)
	testutil.RequireUnchangedOutside(t, src, out, mask)
}

func TestWebSocket_EndToEnd(t *testing.T) {
	s := newTestServer(t, nil)
	ts := httptest.NewServer(newTestMux(s))
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/remove"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	defer func() { _ = conn.Close() }()

	req := WebSocketRemoveRequest{Image: pngBytes(t, sampleImage()), Strategy: "learned"}
	require.NoError(t, conn.WriteJSON(req))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(10*time.Second)))
	for {
		var msg WebSocketRemoveResponse
		require.NoError(t, conn.ReadJSON(&msg))
		if msg.Status == "processing" {
			continue
		}
		require.Equal(t, "completed", msg.Status, msg.Error)
		assert.Equal(t, "learned", msg.Result.Strategy)
		assert.Equal(t, "[85,100)x[85,100)", msg.Result.Region)
		assert.NotEmpty(t, msg.Result.Image)
		break
	}
}

func TestStringOptions(t *testing.T) {
	got, err := stringOptions(map[string]any{"a": "x", "b": 12.5, "c": true, "d": 30.0})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"a": "x", "b": "12.5", "c": "true", "d": "30"}, got)

	got, err = stringOptions(nil)
	require.NoError(t, err)
	assert.Empty(t, got)

	_, err = stringOptions(map[string]any{"a": map[string]any{}})
	assert.Error(t, err)
}
