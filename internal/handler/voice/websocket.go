package voice

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/zhouzirui/mindscreen/backend/pkg/utils"
)

const (
	transcriptionFailedMessage = "Could not understand the audio. Please speak clearly and try again."
	internalErrorMessage       = "Internal server error"
)

type inboundMessage struct {
	Type          string `json:"type"`
	Transcription string `json:"transcription"`
	Audio         string `json:"audio"`
}

type aiResponseMessage struct {
	Type            string   `json:"type"`
	TextResponse    string   `json:"text_response"`
	AudioResponse   string   `json:"audio_response"`
	IsDepressed     bool     `json:"is_depressed"`
	ConfidenceScore float64  `json:"confidence_score"`
	Transcription   string   `json:"transcription"`
	Indicators      []string `json:"indicators,omitempty"`
}

type statusMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// handleWebSocket 接收 base64 WAV 录音，返回分析结果与合成语音。
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
	defer h.voiceSvc.CleanupSession(sessionID)

	logger.Info("voice websocket connected")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go conn.PingLoop(ctx)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if utils.IsUnexpectedClose(err) {
				logger.WithError(err).Warn("voice websocket read error")
			} else {
				logger.Info("voice websocket disconnected")
			}
			return
		}
		conn.ExtendDeadline()

		reply, err := h.handleMessage(ctx, logger, sessionID, data)
		if err != nil {
			logger.WithError(err).Error("voice message failed")
			reply = statusMessage{Type: "error", Message: internalErrorMessage}
		}
		if reply == nil {
			continue
		}
		if err := conn.SendJSON(reply); err != nil {
			return
		}
	}
}

// handleMessage 处理一条消息。返回 nil 回复表示无需应答。
func (h *Handler) handleMessage(ctx context.Context, logger *logrus.Entry, sessionID string, data []byte) (any, error) {
	var msg inboundMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("decode message: %w", err)
	}
	logger.WithField("type", msg.Type).Debug("received websocket message")

	if msg.Type != "audio" {
		return nil, nil
	}

	audio, err := base64.StdEncoding.DecodeString(msg.Audio)
	if err != nil {
		return nil, fmt.Errorf("decode audio: %w", err)
	}
	if len(audio) == 0 {
		logger.Warn("no audio data received")
		return nil, nil
	}

	wavPath, err := h.writeTemp(audio)
	if err != nil {
		return nil, err
	}
	defer os.Remove(wavPath)

	outcome := h.voiceSvc.ProcessAudio(ctx, sessionID, wavPath)
	if len(outcome.Audio) == 0 {
		return statusMessage{Type: "transcription_failed", Message: transcriptionFailedMessage}, nil
	}

	transcription := msg.Transcription
	if transcription == "" {
		transcription = outcome.Transcript
	}

	return aiResponseMessage{
		Type:            "ai_response",
		TextResponse:    outcome.Response,
		AudioResponse:   base64.StdEncoding.EncodeToString(outcome.Audio),
		IsDepressed:     outcome.IsDepressed,
		ConfidenceScore: outcome.Confidence,
		Transcription:   transcription,
		Indicators:      outcome.Indicators,
	}, nil
}

func (h *Handler) writeTemp(audio []byte) (string, error) {
	path := filepath.Join(h.tempDir, "mindscreen-"+uuid.NewString()+".wav")
	if err := os.WriteFile(path, audio, 0o600); err != nil {
		return "", fmt.Errorf("write temp audio: %w", err)
	}
	return path, nil
}
