package voice

import (
	"context"
	"net/http"
	"os"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	voicesvc "github.com/zhouzirui/mindscreen/backend/internal/service/voice"
)

// DefaultReadLimit 是单条语音消息（base64 编码后）的默认大小上限。
const DefaultReadLimit int64 = 40 << 20

// VoiceService 抽象语音会话编排器
type VoiceService interface {
	ProcessAudio(ctx context.Context, sessionID, wavPath string) voicesvc.Outcome
	CleanupSession(sessionID string)
}

// Handler 语音对话的WebSocket处理器
type Handler struct {
	voiceSvc  VoiceService
	upgrader  websocket.Upgrader
	tempDir   string
	readLimit int64
	log       *logrus.Entry
}

// New 创建语音处理器
func New(voiceSvc VoiceService) *Handler {
	return &Handler{
		voiceSvc: voiceSvc,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
		},
		tempDir:   os.TempDir(),
		readLimit: DefaultReadLimit,
		log:       logrus.WithField("component", "voice-handler"),
	}
}

// WithReadLimit 设置单条 WebSocket 消息的字节上限。
func (h *Handler) WithReadLimit(limit int64) *Handler {
	if limit > 0 {
		h.readLimit = limit
	}
	return h
}

// RegisterRoutes 注册语音相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/voice", func(voiceRouter chi.Router) {
		voiceRouter.Get("/ws/conversation/{session_id}", h.handleWebSocket)
	})
}
