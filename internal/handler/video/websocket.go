package video

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/zhouzirui/mindscreen/backend/pkg/utils"
)

const binaryOnlyMessage = "Expected binary frame data"

type analysisMessage struct {
	Type      string    `json:"type"`
	Emotion   string    `json:"emotion"`
	Score     float64   `json:"score"`
	Timestamp time.Time `json:"timestamp"`
}

type errorMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// handleWebSocket 逐帧接收二进制图像并返回分析结果，断开时清理会话。
func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "session_id")
	logger := h.log.WithField("session_id", sessionID)

	raw, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.WithError(err).Warn("websocket upgrade failed")
		return
	}
	raw.SetReadLimit(h.readLimit)
	conn := utils.NewWSConn(raw, logger)
	defer conn.Close()
	defer h.videoSvc.CleanupSession(sessionID)

	logger.Info("video websocket connected")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go conn.PingLoop(ctx)

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			if utils.IsUnexpectedClose(err) {
				logger.WithError(err).Warn("video websocket read error")
			} else {
				logger.Info("video websocket disconnected")
			}
			return
		}
		conn.ExtendDeadline()

		if messageType != websocket.BinaryMessage {
			_ = conn.SendJSON(errorMessage{Type: "error", Message: binaryOnlyMessage})
			continue
		}

		result := h.videoSvc.ProcessFrame(ctx, data, sessionID)
		if result.Failed() {
			_ = conn.SendJSON(errorMessage{Type: "error", Message: result.Error})
			continue
		}

		if err := conn.SendJSON(analysisMessage{
			Type:      "analysis",
			Emotion:   result.Emotion,
			Score:     result.Score,
			Timestamp: result.Timestamp,
		}); err != nil {
			return
		}
	}
}
