package speech

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/zhouzirui/mindscreen/backend/internal/config"
)

// Transcription 是一次识别的结果。OK 为 false 时 Reason 说明原因。
type Transcription struct {
	Text     string
	OK       bool
	Reason   string
	Duration time.Duration
}

// Options 控制音频校验。
type Options struct {
	MinDuration time.Duration
	MaxDuration time.Duration
}

// Service 语音服务：校验、识别与合成
type Service struct {
	transcriber Transcriber
	synthesizer Synthesizer
	opts        Options
	log         *logrus.Entry
}

// NewService 创建语音服务实例
func NewService(transcriber Transcriber, synthesizer Synthesizer, opts Options) *Service {
	return &Service{
		transcriber: transcriber,
		synthesizer: synthesizer,
		opts:        opts,
		log:         logrus.WithField("component", "speech"),
	}
}

// NewServiceFromConfig 按配置选择识别与合成后端。
func NewServiceFromConfig(cfg config.SpeechConfig) (*Service, error) {
	httpClient := &http.Client{Timeout: cfg.Timeout}

	var audioClient AudioClient
	if cfg.STTProvider == config.BackendOpenAI || cfg.TTSProvider == config.BackendOpenAI {
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("speech provider openai requires SPEECH_API_KEY, GROQ_API_KEY or OPENAI_API_KEY")
		}
		audioClient = NewAudioClient(cfg.APIKey, cfg.BaseURL)
	}
	if (cfg.STTProvider == config.BackendVolcengine || cfg.TTSProvider == config.BackendVolcengine) && !cfg.Volcengine.Enabled() {
		return nil, ErrVolcengineCredentials
	}

	var transcriber Transcriber
	switch cfg.STTProvider {
	case config.BackendSidecar:
		transcriber = NewSidecarTranscriber(cfg.STTURL, cfg.STTLanguage, httpClient)
	case config.BackendVolcengine:
		transcriber = NewVolcengineTranscriber(cfg.Volcengine, cfg.Timeout)
	default:
		transcriber = NewOpenAITranscriber(audioClient, cfg.STTModel, cfg.STTLanguage)
	}

	var synthesizer Synthesizer
	switch cfg.TTSProvider {
	case config.BackendSidecar:
		synthesizer = NewSidecarSynthesizer(cfg.TTSURL, cfg.TTSLanguage, httpClient)
	case config.BackendVolcengine:
		synthesizer = NewVolcengineSynthesizer(cfg.Volcengine, cfg.Timeout)
	default:
		synthesizer = NewOpenAISynthesizer(audioClient, cfg.TTSModel, cfg.TTSVoice)
	}

	return NewService(transcriber, synthesizer, Options{
		MinDuration: cfg.MinDuration,
		MaxDuration: cfg.MaxDuration,
	}), nil
}

// Transcribe 校验音频后识别。输入问题作为软失败返回（error 为 nil），
// 后端故障返回 error。
func (s *Service) Transcribe(ctx context.Context, wavPath string) (Transcription, error) {
	duration, err := ValidateWAV(wavPath, s.opts.MinDuration, s.opts.MaxDuration)
	if err != nil {
		if IsSoftFailure(err) {
			s.log.WithError(err).Warn("audio validation failed")
			return Transcription{Reason: err.Error(), Duration: duration}, nil
		}
		return Transcription{}, err
	}

	text, err := s.transcriber.Transcribe(ctx, wavPath)
	if err != nil {
		return Transcription{}, err
	}

	text = strings.TrimSpace(text)
	if text == "" {
		s.log.Warn("transcriber returned empty text")
		return Transcription{Reason: ErrNoSpeech.Error(), Duration: duration}, nil
	}

	s.log.WithField("duration", duration).Debug("transcription successful")
	return Transcription{Text: text, OK: true, Duration: duration}, nil
}

// Synthesize 合成回复音频。空文本直接返回空音频。
func (s *Service) Synthesize(ctx context.Context, text string) ([]byte, error) {
	if strings.TrimSpace(text) == "" {
		s.log.Warn("empty text provided to synthesizer")
		return nil, nil
	}
	audio, err := s.synthesizer.Synthesize(ctx, text)
	if err != nil {
		return nil, err
	}
	return audio, nil
}
