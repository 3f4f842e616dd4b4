package video

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	model "github.com/zhouzirui/mindscreen/backend/internal/model/video"
)

type fakeVideoService struct {
	mu      sync.Mutex
	frames  [][]byte
	results map[string]*model.SessionResults
	cleaned chan string
}

func newFakeVideoService() *fakeVideoService {
	return &fakeVideoService{
		results: map[string]*model.SessionResults{},
		cleaned: make(chan string, 4),
	}
}

func (f *fakeVideoService) ProcessFrame(_ context.Context, raw []byte, sessionID string) model.FrameResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frames = append(f.frames, raw)
	if string(raw) == "garbage" {
		return model.FrameResult{Error: "Invalid frame data", Timestamp: time.Now()}
	}
	return model.FrameResult{Emotion: "sad", Score: 0.8, Timestamp: time.Now()}
}

func (f *fakeVideoService) SessionResults(sessionID string) (*model.SessionResults, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.results[sessionID]
	return r, ok
}

func (f *fakeVideoService) CleanupSession(sessionID string) {
	f.cleaned <- sessionID
}

func newServer(t *testing.T, svc VideoService) *httptest.Server {
	t.Helper()
	r := chi.NewRouter()
	r.Route("/api", func(api chi.Router) {
		New(svc).RegisterRoutes(api)
	})
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func TestResultsEndpoint(t *testing.T) {
	svc := newFakeVideoService()
	svc.results["s1"] = &model.SessionResults{DominantEmotion: "sad", Score: 0.8, TotalSamples: 3, SessionID: "s1"}
	srv := newServer(t, svc)

	resp, err := http.Get(srv.URL + "/api/video/results/s1")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Status  string               `json:"status"`
		Results model.SessionResults `json:"results"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "success", body.Status)
	assert.Equal(t, "sad", body.Results.DominantEmotion)
	assert.Equal(t, 3, body.Results.TotalSamples)
}

func TestResultsEndpointUnknownSession(t *testing.T) {
	srv := newServer(t, newFakeVideoService())

	resp, err := http.Get(srv.URL + "/api/video/results/nope")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "error", body["status"])
	assert.Equal(t, "No results found for this session", body["message"])
}

func dial(t *testing.T, srv *httptest.Server, path string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + path
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	return conn
}

func TestWebSocketFrames(t *testing.T) {
	svc := newFakeVideoService()
	srv := newServer(t, svc)
	conn := dial(t, srv, "/api/video/ws/video/s1")

	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, []byte("jpeg")))
	var analysis map[string]any
	require.NoError(t, conn.ReadJSON(&analysis))
	assert.Equal(t, "analysis", analysis["type"])
	assert.Equal(t, "sad", analysis["emotion"])
	assert.Equal(t, 0.8, analysis["score"])
	assert.NotEmpty(t, analysis["timestamp"])

	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, []byte("garbage")))
	var failure map[string]string
	require.NoError(t, conn.ReadJSON(&failure))
	assert.Equal(t, "error", failure["type"])
	assert.Equal(t, "Invalid frame data", failure["message"])

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("hello")))
	require.NoError(t, conn.ReadJSON(&failure))
	assert.Equal(t, "error", failure["type"])

	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, []byte("jpeg")))
	require.NoError(t, conn.ReadJSON(&analysis))
	assert.Equal(t, "analysis", analysis["type"], "connection stays open after errors")

	require.NoError(t, conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
	conn.Close()

	select {
	case id := <-svc.cleaned:
		assert.Equal(t, "s1", id)
	case <-time.After(2 * time.Second):
		t.Fatal("session was not cleaned up on disconnect")
	}
}

func TestWebSocketOversizedFrameClosesConnection(t *testing.T) {
	svc := newFakeVideoService()
	r := chi.NewRouter()
	r.Route("/api", func(api chi.Router) {
		New(svc).WithReadLimit(1024).RegisterRoutes(api)
	})
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	conn := dial(t, srv, "/api/video/ws/video/s1")

	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, make([]byte, 4096)))
	_, _, err := conn.ReadMessage()
	require.Error(t, err)
	// 服务端可能先发 1009 关闭帧，也可能因未读数据直接复位连接。
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		assert.Equal(t, websocket.CloseMessageTooBig, closeErr.Code)
	}

	select {
	case id := <-svc.cleaned:
		assert.Equal(t, "s1", id)
	case <-time.After(2 * time.Second):
		t.Fatal("session was not cleaned up after oversized frame")
	}
	svc.mu.Lock()
	defer svc.mu.Unlock()
	assert.Empty(t, svc.frames)
}
