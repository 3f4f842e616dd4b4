package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/zhouzirui/mindscreen/backend/internal/handler/screening"
	"github.com/zhouzirui/mindscreen/backend/internal/handler/video"
	"github.com/zhouzirui/mindscreen/backend/internal/handler/voice"
	"github.com/zhouzirui/mindscreen/backend/internal/metrics"
	middlewarePkg "github.com/zhouzirui/mindscreen/backend/internal/middleware"
	"github.com/zhouzirui/mindscreen/backend/pkg/utils"
)

// VideoService 视频会话聚合器需要暴露的能力。
type VideoService interface {
	video.VideoService
	screening.VideoResults
	ActiveSessions() int
}

// VoiceService 语音会话编排器需要暴露的能力。
type VoiceService interface {
	voice.VoiceService
	screening.VoiceResults
	ActiveSessions() int
}

// Options 控制路由层的横切配置。
type Options struct {
	AllowedOrigins []string
	RateLimit      float64
	RateBurst      int
	// Limiter 为空时按 RateLimit/RateBurst 新建。
	Limiter *middlewarePkg.RateLimiter
	// FrameReadLimit/AudioReadLimit 限制单条 WebSocket 消息大小，0 表示使用默认值。
	FrameReadLimit int64
	AudioReadLimit int64
	// Checks 是启动时收集的依赖状态，原样返回给 /api/health。
	Checks map[string]string
}

// NewRouter wires HTTP routes to core services.
func NewRouter(videoSvc VideoService, voiceSvc VoiceService, opts Options) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.NewCORS(opts.AllowedOrigins))

	limiter := opts.Limiter
	if limiter == nil {
		limiter = middlewarePkg.NewRateLimiter(opts.RateLimit, opts.RateBurst)
	}
	started := time.Now()

	r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
		utils.RespondJSON(w, http.StatusOK, map[string]any{
			"message": "Depression Detection System API",
			"endpoints": map[string]any{
				"health":    "/api/health",
				"metrics":   "/metrics",
				"voice":     "/api/voice/ws/conversation/{session_id}",
				"video":     "/api/video/ws/video/{session_id}",
				"results":   "/api/video/results/{session_id}",
				"screening": "/api/screening/{session_id}",
			},
		})
	})
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/api", func(api chi.Router) {
		api.With(limiter.Middleware).Get("/health", func(w http.ResponseWriter, _ *http.Request) {
			utils.RespondJSON(w, http.StatusOK, map[string]any{
				"status":         "ok",
				"uptime_seconds": int(time.Since(started).Seconds()),
				"sessions": map[string]int{
					metrics.Video: videoSvc.ActiveSessions(),
					metrics.Voice: voiceSvc.ActiveSessions(),
				},
				"dependencies": opts.Checks,
			})
		})

		video.New(videoSvc).WithReadLimit(opts.FrameReadLimit).RegisterRoutes(api, limiter.Middleware)
		voice.New(voiceSvc).WithReadLimit(opts.AudioReadLimit).RegisterRoutes(api)
		screening.New(voiceSvc, videoSvc).RegisterRoutes(api, limiter.Middleware)
	})

	return r
}
