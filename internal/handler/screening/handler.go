package screening

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/mindscreen/backend/internal/analysis/depression"
	"github.com/zhouzirui/mindscreen/backend/internal/analysis/emotion"
	"github.com/zhouzirui/mindscreen/backend/internal/model/voice"
	"github.com/zhouzirui/mindscreen/backend/pkg/utils"
)

const noResultsMessage = "No results found for this session"

// VoiceResults 提供语音会话最近一次判断。
type VoiceResults interface {
	LastJudgment(sessionID string) (voice.Judgment, bool)
}

// VideoResults 提供视频会话主导情绪。
type VideoResults interface {
	DominantEmotion(sessionID string) (emotion.Label, bool)
}

// Handler 融合语音与视频结果的综合筛查接口
type Handler struct {
	voice VoiceResults
	video VideoResults
	now   func() time.Time
}

func New(voiceResults VoiceResults, videoResults VideoResults) *Handler {
	return &Handler{voice: voiceResults, video: videoResults, now: time.Now}
}

func (h *Handler) RegisterRoutes(r chi.Router, rest ...func(http.Handler) http.Handler) {
	r.With(rest...).Get("/screening/{session_id}", h.handleScreening)
}

type voiceSummary struct {
	Available   bool    `json:"available"`
	IsDepressed bool    `json:"is_depressed"`
	Confidence  float64 `json:"confidence"`
	Reason      string  `json:"reason,omitempty"`
}

type videoSummary struct {
	Available       bool    `json:"available"`
	DominantEmotion string  `json:"dominant_emotion"`
	EmotionScore    float64 `json:"emotion_score"`
}

type screeningResult struct {
	SessionID       string       `json:"session_id"`
	DepressionScore float64      `json:"depression_score"`
	Voice           voiceSummary `json:"voice"`
	Video           videoSummary `json:"video"`
	Timestamp       time.Time    `json:"timestamp"`
}

// handleScreening 缺失的一侧按“未抑郁”/neutral 计入融合分数。
func (h *Handler) handleScreening(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "session_id")

	judgment, hasVoice := h.voice.LastJudgment(sessionID)
	dominant, hasVideo := h.video.DominantEmotion(sessionID)
	if !hasVoice && !hasVideo {
		utils.RespondStatusError(w, noResultsMessage)
		return
	}
	if !hasVideo {
		dominant = emotion.Neutral
	}

	utils.RespondSuccess(w, "results", screeningResult{
		SessionID:       sessionID,
		DepressionScore: depression.CalculateDepressionScore(hasVoice && judgment.IsDepressed, dominant),
		Voice: voiceSummary{
			Available:   hasVoice,
			IsDepressed: judgment.IsDepressed,
			Confidence:  judgment.Confidence,
			Reason:      judgment.Reason,
		},
		Video: videoSummary{
			Available:       hasVideo,
			DominantEmotion: string(dominant),
			EmotionScore:    depression.EmotionScore(dominant),
		},
		Timestamp: h.now().UTC(),
	})
}
