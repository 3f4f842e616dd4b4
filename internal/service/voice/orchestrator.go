package voice

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/zhouzirui/mindscreen/backend/internal/metrics"
	"github.com/zhouzirui/mindscreen/backend/internal/model/voice"
	"github.com/zhouzirui/mindscreen/backend/internal/service/depression"
	"github.com/zhouzirui/mindscreen/backend/internal/service/speech"
)

// Status 描述一次语音处理的结果类别。
type Status string

const (
	StatusAssessed       Status = "assessed"
	StatusUnintelligible Status = "unintelligible"
	StatusUnknown        Status = "unknown"
)

const (
	neutralConfidence   = 0.5
	unintelligibleReply = "Audio could not be understood."
	unknownFailureReply = "Error analyzing depression status."
	// 分析器只看最近几轮对话，会话本身保留全部历史。
	contextWindow = 3
)

// Transcriber 校验并识别音频文件。
type Transcriber interface {
	Transcribe(ctx context.Context, wavPath string) (speech.Transcription, error)
}

// Synthesizer 合成回复音频。
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
}

// Analyzer 对转写文本给出抑郁判断。
type Analyzer interface {
	Analyze(ctx context.Context, transcript string, history []voice.Exchange) depression.Assessment
}

// Outcome 是一次发言的处理结果。
type Outcome struct {
	Status      Status
	IsDepressed bool
	Confidence  float64
	Response    string
	Audio       []byte
	Reason      string
	Transcript  string
	Indicators  []string
}

// Orchestrator 串联识别、分析与合成，并维护每个会话的对话历史。
type Orchestrator struct {
	transcriber Transcriber
	analyzer    Analyzer
	synthesizer Synthesizer
	store       *store
	now         func() time.Time
	log         *logrus.Entry
}

// NewOrchestrator 创建语音会话编排器。
func NewOrchestrator(transcriber Transcriber, analyzer Analyzer, synthesizer Synthesizer) *Orchestrator {
	return &Orchestrator{
		transcriber: transcriber,
		analyzer:    analyzer,
		synthesizer: synthesizer,
		store:       newStore(),
		now:         time.Now,
		log:         logrus.WithField("component", "voice"),
	}
}

// ProcessAudio 处理一段 WAV 录音。不返回错误，失败以 Status 区分。
func (o *Orchestrator) ProcessAudio(ctx context.Context, sessionID, wavPath string) (outcome Outcome) {
	logger := o.log.WithField("session_id", sessionID)

	defer func() {
		if r := recover(); r != nil {
			logger.WithField("panic", r).Error("voice processing panicked")
			outcome = unknownOutcome(fmt.Sprint(r))
		}
		metrics.RecordUtterance(string(outcome.Status))
	}()

	if o.store.touch(sessionID, o.now()) {
		logger.Info("voice session started")
		metrics.SetActiveSessions(metrics.Voice, o.store.count())
	}

	transcription, err := o.transcriber.Transcribe(ctx, wavPath)
	if err != nil {
		logger.WithError(err).Error("transcription failed")
		return unknownOutcome(err.Error())
	}
	if !transcription.OK {
		logger.WithField("reason", transcription.Reason).Warn("audio could not be understood")
		return Outcome{
			Status:     StatusUnintelligible,
			Confidence: neutralConfidence,
			Response:   unintelligibleReply,
			Reason:     transcription.Reason,
		}
	}

	assessment := o.analyzer.Analyze(ctx, transcription.Text, o.store.recent(sessionID, contextWindow))

	var exchange *voice.Exchange
	if assessment.Recorded() {
		exchange = &voice.Exchange{
			Input:     transcription.Text,
			Output:    assessment.Response,
			CreatedAt: o.now(),
		}
	}
	o.store.record(sessionID, assessment.Judgment, exchange, o.now())

	audio, err := o.synthesizer.Synthesize(ctx, assessment.Response)
	if err != nil {
		logger.WithError(err).Error("speech synthesis failed")
		audio = nil
	}

	logger.WithFields(logrus.Fields{
		"kind":         assessment.Kind,
		"is_depressed": assessment.IsDepressed,
		"confidence":   assessment.Confidence,
		"audio_bytes":  len(audio),
	}).Info("utterance assessed")

	return Outcome{
		Status:      StatusAssessed,
		IsDepressed: assessment.IsDepressed,
		Confidence:  assessment.Confidence,
		Response:    assessment.Response,
		Audio:       audio,
		Reason:      assessment.Reason,
		Transcript:  transcription.Text,
		Indicators:  assessment.Indicators,
	}
}

func unknownOutcome(reason string) Outcome {
	return Outcome{
		Status:     StatusUnknown,
		Confidence: neutralConfidence,
		Response:   unknownFailureReply,
		Reason:     reason,
	}
}

// LastJudgment 返回会话最近一次判断。
func (o *Orchestrator) LastJudgment(sessionID string) (voice.Judgment, bool) {
	return o.store.lastJudgment(sessionID)
}

// History 返回会话全部对话历史的副本。
func (o *Orchestrator) History(sessionID string) []voice.Exchange {
	return o.store.history(sessionID)
}

// CleanupSession 删除会话状态，重复调用无副作用。
func (o *Orchestrator) CleanupSession(sessionID string) {
	removed, active := o.store.remove(sessionID)
	if removed {
		o.log.WithField("session_id", sessionID).Info("voice session cleaned up")
	}
	metrics.SetActiveSessions(metrics.Voice, active)
}

// EvictIdle 删除空闲超过 ttl 的会话。
func (o *Orchestrator) EvictIdle(now time.Time, ttl time.Duration) []string {
	if ttl <= 0 {
		return nil
	}
	evicted, active := o.store.evictIdle(now.Add(-ttl))
	metrics.SetActiveSessions(metrics.Voice, active)
	return evicted
}

// ActiveSessions 返回当前会话数量。
func (o *Orchestrator) ActiveSessions() int {
	return o.store.count()
}
