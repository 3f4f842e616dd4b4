package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Modality labels.
const (
	Video = "video"
	Voice = "voice"
)

var (
	framesProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mindscreen_frames_processed_total",
			Help: "Video frames classified, by emotion",
		},
		[]string{"emotion"},
	)

	frameErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mindscreen_frame_errors_total",
			Help: "Video frames that produced an error payload",
		},
		[]string{"reason"},
	)

	utterances = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mindscreen_utterances_total",
			Help: "Voice utterances processed, by outcome status",
		},
		[]string{"status"},
	)

	llmDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mindscreen_llm_request_duration_seconds",
			Help:    "Depression analyzer LLM call duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"kind"},
	)

	activeSessions = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "mindscreen_active_sessions",
			Help: "Sessions currently held in memory",
		},
		[]string{"modality"},
	)

	evictedSessions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mindscreen_evicted_sessions_total",
			Help: "Sessions removed by the idle janitor",
		},
		[]string{"modality"},
	)

	initOnce sync.Once
)

// InitMetrics registers the collectors with the default registry.
func InitMetrics() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			framesProcessed,
			frameErrors,
			utterances,
			llmDuration,
			activeSessions,
			evictedSessions,
		)
	})
}

// Handler returns an HTTP handler for Prometheus metrics
func Handler() http.Handler {
	return promhttp.Handler()
}

func RecordFrame(emotion string) {
	framesProcessed.WithLabelValues(emotion).Inc()
}

func RecordFrameError(reason string) {
	frameErrors.WithLabelValues(reason).Inc()
}

func RecordUtterance(status string) {
	utterances.WithLabelValues(status).Inc()
}

// RecordLLMCall records one analyzer call and the kind of result it produced.
func RecordLLMCall(kind string, duration time.Duration) {
	llmDuration.WithLabelValues(kind).Observe(duration.Seconds())
}

func SetActiveSessions(modality string, count int) {
	activeSessions.WithLabelValues(modality).Set(float64(count))
}

func RecordEvicted(modality string, count int) {
	if count <= 0 {
		return
	}
	evictedSessions.WithLabelValues(modality).Add(float64(count))
}
