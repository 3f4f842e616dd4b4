package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/zhouzirui/mindscreen/backend/internal/config"
	"github.com/zhouzirui/mindscreen/backend/internal/handler"
	"github.com/zhouzirui/mindscreen/backend/internal/metrics"
	"github.com/zhouzirui/mindscreen/backend/internal/middleware"
	"github.com/zhouzirui/mindscreen/backend/internal/service/ai"
	"github.com/zhouzirui/mindscreen/backend/internal/service/depression"
	"github.com/zhouzirui/mindscreen/backend/internal/service/emotion"
	"github.com/zhouzirui/mindscreen/backend/internal/service/janitor"
	"github.com/zhouzirui/mindscreen/backend/internal/service/speech"
	"github.com/zhouzirui/mindscreen/backend/internal/service/video"
	"github.com/zhouzirui/mindscreen/backend/internal/service/voice"
)

const historyLimit = 3

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env file
	if err := godotenv.Load(); err != nil {
		logrus.WithError(err).Warn("failed to load .env file, continuing with system environment variables only")
	}

	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("failed to load configuration")
	}
	setupLogging(cfg.Log)
	metrics.InitMetrics()

	checks := make(map[string]string)

	// LLM 不可用时分析器仍然工作，只是每次都返回固定的兜底判断
	var chatModel model.ChatModel
	if cfg.LLM.Enabled() {
		chatModel, err = ai.NewChatModel(ctx, cfg.LLM)
		if err != nil {
			logrus.WithError(err).Warn("failed to initialize chat model, continuing without LLM analysis")
			checks["llm"] = "error: " + err.Error()
		} else {
			logrus.WithFields(logrus.Fields{"provider": cfg.LLM.Provider, "model": cfg.LLM.Model}).Info("chat model initialized")
			checks["llm"] = cfg.LLM.Provider
		}
	} else {
		logrus.Warn("LLM credentials not configured, skipping chat model initialization")
		checks["llm"] = "disabled"
	}

	analyzer, err := depression.NewAnalyzer(ctx, chatModel, depression.Config{
		Temperature:  float32(cfg.LLM.Temperature),
		Timeout:      cfg.LLM.Timeout,
		HistoryLimit: historyLimit,
	})
	if err != nil {
		logrus.WithError(err).Fatal("failed to initialize depression analyzer")
	}

	speechSvc, err := speech.NewServiceFromConfig(cfg.Speech)
	if err != nil {
		logrus.WithError(err).Warn("speech provider unavailable, falling back to sidecar backends")
		cfg.Speech.STTProvider = config.BackendSidecar
		cfg.Speech.TTSProvider = config.BackendSidecar
		if speechSvc, err = speech.NewServiceFromConfig(cfg.Speech); err != nil {
			logrus.WithError(err).Fatal("failed to initialize speech service")
		}
	}
	checks["stt"] = cfg.Speech.STTProvider
	checks["tts"] = cfg.Speech.TTSProvider
	checks["emotion"] = cfg.Video.EmotionURL

	classifier := emotion.NewService(emotion.Config{
		BaseURL: cfg.Video.EmotionURL,
		Timeout: cfg.Video.Timeout,
	})
	videoAgg := video.NewAggregator(classifier, video.Config{MaxDim: cfg.Video.MaxDim})
	orchestrator := voice.NewOrchestrator(speechSvc, analyzer, speechSvc)

	limiter := middleware.NewRateLimiter(cfg.Server.RateLimit, cfg.Server.RateBurst)

	sweeper := janitor.New(
		janitor.Config{IdleTTL: cfg.Session.IdleTTL, Schedule: cfg.Session.SweepSchedule},
		janitor.Target{Modality: metrics.Video, Sessions: videoAgg},
		janitor.Target{Modality: metrics.Voice, Sessions: orchestrator},
		janitor.Target{Name: "rate_limit", Sessions: limiter, IdleTTL: cfg.Server.RateLimitIdleTTL},
	)

	router := handler.NewRouter(videoAgg, orchestrator, handler.Options{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Limiter:        limiter,
		FrameReadLimit: cfg.Video.MaxFrameBytes,
		AudioReadLimit: cfg.Speech.MaxMessageBytes,
		Checks:         checks,
	})

	logrus.WithFields(logrus.Fields{
		"llm":     checks["llm"],
		"stt":     checks["stt"],
		"tts":     checks["tts"],
		"emotion": checks["emotion"],
	}).Info("dependencies resolved")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return startServer(gctx, cfg.Server, router)
	})
	g.Go(func() error {
		return sweeper.Run(gctx)
	})
	if err := g.Wait(); err != nil {
		logrus.WithError(err).Fatal("server error")
	}
	logrus.Info("mindscreen backend stopped")
}

func setupLogging(cfg config.LogConfig) {
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		logrus.WithField("level", cfg.Level).Warn("unknown LOG_LEVEL, using info")
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)

	if strings.EqualFold(cfg.Format, "json") {
		logrus.SetFormatter(&logrus.JSONFormatter{})
		return
	}
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler) error {
	srv := &http.Server{
		Addr:              serverCfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	logrus.WithField("addr", serverCfg.Addr).Info("mindscreen backend listening")
	return runServer(ctx, srv)
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
