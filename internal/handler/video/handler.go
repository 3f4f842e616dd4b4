package video

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	model "github.com/zhouzirui/mindscreen/backend/internal/model/video"
	"github.com/zhouzirui/mindscreen/backend/pkg/utils"
)

const noResultsMessage = "No results found for this session"

// DefaultReadLimit 是单帧消息的默认大小上限。
const DefaultReadLimit int64 = 8 << 20

// VideoService 抽象视频会话聚合器，便于测试与替换实现
type VideoService interface {
	ProcessFrame(ctx context.Context, raw []byte, sessionID string) model.FrameResult
	SessionResults(sessionID string) (*model.SessionResults, bool)
	CleanupSession(sessionID string)
}

// Handler 视频分析的HTTP处理器
type Handler struct {
	videoSvc  VideoService
	upgrader  websocket.Upgrader
	readLimit int64
	log       *logrus.Entry
}

// New 创建视频处理器
func New(videoSvc VideoService) *Handler {
	return &Handler{
		videoSvc: videoSvc,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 1024,
		},
		readLimit: DefaultReadLimit,
		log:       logrus.WithField("component", "video-handler"),
	}
}

// WithReadLimit 设置单条 WebSocket 消息的字节上限，超出时连接以 1009 关闭。
func (h *Handler) WithReadLimit(limit int64) *Handler {
	if limit > 0 {
		h.readLimit = limit
	}
	return h
}

// RegisterRoutes 注册视频相关的路由，rest 中间件只作用于 REST 接口。
func (h *Handler) RegisterRoutes(r chi.Router, rest ...func(http.Handler) http.Handler) {
	r.Route("/video", func(videoRouter chi.Router) {
		videoRouter.With(rest...).Get("/results/{session_id}", h.handleResults)
		videoRouter.Get("/ws/video/{session_id}", h.handleWebSocket)
	})
}

// handleResults 返回会话的汇总结果
func (h *Handler) handleResults(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "session_id")

	results, ok := h.videoSvc.SessionResults(sessionID)
	if !ok {
		utils.RespondStatusError(w, noResultsMessage)
		return
	}
	utils.RespondSuccess(w, "results", results)
}
