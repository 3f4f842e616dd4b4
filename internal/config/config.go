package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config 聚合整个服务的配置项。
type Config struct {
	Server  ServerConfig
	LLM     LLMConfig
	Speech  SpeechConfig
	Video   VideoConfig
	Session SessionConfig
	Log     LogConfig
}

// Load 从环境变量加载配置。CONFIG_FILE 指向的 YAML 文件提供默认值，环境变量优先。
func Load() (*Config, error) {
	src, err := newSource(strings.TrimSpace(os.Getenv("CONFIG_FILE")))
	if err != nil {
		return nil, err
	}
	return load(src)
}

func load(src *source) (*Config, error) {
	server, err := loadServerConfig(src)
	if err != nil {
		return nil, err
	}

	llm, err := loadLLMConfig(src)
	if err != nil {
		return nil, err
	}

	speech, err := loadSpeechConfig(src)
	if err != nil {
		return nil, err
	}

	video, err := loadVideoConfig(src)
	if err != nil {
		return nil, err
	}

	session, err := loadSessionConfig(src)
	if err != nil {
		return nil, err
	}

	return &Config{
		Server:  server,
		LLM:     llm,
		Speech:  speech,
		Video:   video,
		Session: session,
		Log: LogConfig{
			Level:  src.getOrDefault("LOG_LEVEL", "info"),
			Format: strings.ToLower(src.getOrDefault("LOG_FORMAT", "text")),
		},
	}, nil
}

// ServerConfig 描述 HTTP 服务配置。
type ServerConfig struct {
	Addr           string
	AllowedOrigins []string
	RateLimit      float64
	RateBurst      int

	// RateLimitIdleTTL 是限流器回收空闲客户端的阈值。
	RateLimitIdleTTL time.Duration
}

// loadServerConfig 解析服务器监听地址与 REST 限流。
func loadServerConfig(src *source) (ServerConfig, error) {
	port := src.get("PORT")
	if port == "" {
		port = "8000"
	}

	var addr string
	switch {
	case strings.Contains(port, ":"):
		// 允许用户直接传入 ":8000" 或 "127.0.0.1:8000"。
		addr = port
	case strings.Contains(port, " "):
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	default:
		addr = ":" + port
	}

	rateLimit, err := src.parseFloat("API_RATE_LIMIT", 20)
	if err != nil {
		return ServerConfig{}, err
	}
	rateBurst, err := src.parseInt("API_RATE_BURST", 40)
	if err != nil {
		return ServerConfig{}, err
	}
	rateIdle, err := src.parseDuration("API_RATE_LIMIT_IDLE_TTL", 10*time.Minute)
	if err != nil {
		return ServerConfig{}, err
	}

	return ServerConfig{
		Addr:             addr,
		AllowedOrigins:   splitList(src.getOrDefault("CORS_ALLOWED_ORIGINS", "*")),
		RateLimit:        rateLimit,
		RateBurst:        rateBurst,
		RateLimitIdleTTL: rateIdle,
	}, nil
}

// LLM providers.
const (
	ProviderGroq   = "groq"
	ProviderOpenAI = "openai"
	ProviderArk    = "ark"
)

// LLMConfig 描述大模型相关配置。
type LLMConfig struct {
	Provider    string
	APIKey      string
	Model       string
	BaseURL     string
	Region      string
	Temperature float64
	MaxTokens   *int
	Timeout     time.Duration
}

// Enabled 表示是否提供了必需的密钥。
func (c LLMConfig) Enabled() bool {
	return c.APIKey != "" && c.Model != ""
}

func loadLLMConfig(src *source) (LLMConfig, error) {
	provider := strings.ToLower(src.getOrDefault("LLM_PROVIDER", ProviderGroq))

	temperature, err := src.parseFloat("LLM_TEMPERATURE", 0.3)
	if err != nil {
		return LLMConfig{}, err
	}
	maxTokens, err := src.parseOptionalInt("LLM_MAX_TOKENS")
	if err != nil {
		return LLMConfig{}, err
	}
	timeout, err := src.parseDuration("LLM_TIMEOUT", 10*time.Second)
	if err != nil {
		return LLMConfig{}, err
	}

	cfg := LLMConfig{
		Provider:    provider,
		Temperature: temperature,
		MaxTokens:   maxTokens,
		Timeout:     timeout,
	}

	switch provider {
	case ProviderGroq:
		cfg.APIKey = src.get("GROQ_API_KEY")
		cfg.Model = src.getOrDefault("GROQ_MODEL_NAME", "meta-llama/llama-4-scout-17b-16e-instruct")
		cfg.BaseURL = src.getOrDefault("GROQ_BASE_URL", "https://api.groq.com/openai/v1")
	case ProviderOpenAI:
		cfg.APIKey = src.get("OPENAI_API_KEY")
		cfg.Model = src.getOrDefault("OPENAI_MODEL", "gpt-4o-mini")
		cfg.BaseURL = src.getOrDefault("OPENAI_BASE_URL", "https://api.openai.com/v1")
	case ProviderArk:
		cfg.APIKey = src.get("ARK_API_KEY")
		cfg.Model = src.get("Model")
		cfg.BaseURL = src.getOrDefault("ARK_BASE_URL", "https://ark.cn-beijing.volces.com/api/v3")
		cfg.Region = src.getOrDefault("ARK_REGION", "cn-beijing")
	default:
		return LLMConfig{}, fmt.Errorf("invalid LLM_PROVIDER value %q", provider)
	}

	return cfg, nil
}

// Speech backends.
const (
	BackendOpenAI     = "openai"
	BackendSidecar    = "sidecar"
	BackendVolcengine = "volcengine"
)

// SpeechConfig 描述语音识别与合成配置。
type SpeechConfig struct {
	STTProvider string
	STTURL      string
	STTModel    string
	STTLanguage string
	TTSProvider string
	TTSURL      string
	TTSModel    string
	TTSVoice    string
	TTSLanguage string
	// APIKey/BaseURL 复用 LLM 提供方的凭证（openai 后端）。
	APIKey      string
	BaseURL     string
	MinDuration time.Duration
	MaxDuration time.Duration
	Timeout     time.Duration

	// MaxMessageBytes 限制语音 WebSocket 单条消息大小（base64 编码后）。
	MaxMessageBytes int64
	Volcengine      VolcengineConfig
}

// VolcengineConfig 火山引擎大模型语音识别/合成（WebSocket 二进制协议）。
type VolcengineConfig struct {
	AppID       string
	AccessToken string
	ASRURL      string
	ASRResource string
	ASRLanguage string
	TTSURL      string
	TTSVoice    string
	TTSLanguage string
	TTSEncoding string
}

// Enabled 表示是否提供了 AppID 与 AccessToken。
func (c VolcengineConfig) Enabled() bool {
	return c.AppID != "" && c.AccessToken != ""
}

func loadVolcengineConfig(src *source) VolcengineConfig {
	// 与 Ark 同属火山引擎，未单独配置时复用 ARK_API_KEY。
	token := src.get("SPEECH_ACCESS_TOKEN")
	if token == "" {
		token = src.get("ARK_API_KEY")
	}
	return VolcengineConfig{
		AppID:       src.get("SPEECH_APP_ID"),
		AccessToken: token,
		ASRURL:      src.getOrDefault("SPEECH_ASR_WS_URL", "wss://openspeech.bytedance.com/api/v3/sauc/bigmodel_nostream"),
		ASRResource: src.getOrDefault("SPEECH_ASR_RESOURCE", "volc.bigasr.sauc.duration"),
		ASRLanguage: src.getOrDefault("SPEECH_ASR_LANGUAGE", "en-US"),
		TTSURL:      src.getOrDefault("SPEECH_TTS_WS_URL", "wss://openspeech.bytedance.com/api/v3/tts/unidirectional/stream"),
		TTSVoice:    src.getOrDefault("SPEECH_TTS_VOICE", "en_female_amy_jupiter_bigtts"),
		TTSLanguage: src.getOrDefault("SPEECH_TTS_LANGUAGE", "en-US"),
		TTSEncoding: strings.ToLower(src.getOrDefault("SPEECH_TTS_ENCODING", "mp3")),
	}
}

func loadSpeechConfig(src *source) (SpeechConfig, error) {
	minDuration, err := src.parseDuration("AUDIO_MIN_DURATION", 500*time.Millisecond)
	if err != nil {
		return SpeechConfig{}, err
	}
	maxDuration, err := src.parseDuration("AUDIO_MAX_DURATION", 300*time.Second)
	if err != nil {
		return SpeechConfig{}, err
	}
	timeout, err := src.parseDuration("SPEECH_TIMEOUT", 30*time.Second)
	if err != nil {
		return SpeechConfig{}, err
	}
	// 默认约等于 300s 的 48kHz 16bit 单声道 WAV 经 base64 编码后的大小。
	maxMessage, err := src.parseInt("AUDIO_MAX_MESSAGE_BYTES", 40<<20)
	if err != nil {
		return SpeechConfig{}, err
	}

	sttProvider := strings.ToLower(src.getOrDefault("STT_PROVIDER", BackendOpenAI))
	ttsProvider := strings.ToLower(src.getOrDefault("TTS_PROVIDER", BackendOpenAI))
	for key, val := range map[string]string{"STT_PROVIDER": sttProvider, "TTS_PROVIDER": ttsProvider} {
		if val != BackendOpenAI && val != BackendSidecar && val != BackendVolcengine {
			return SpeechConfig{}, fmt.Errorf("invalid %s value %q", key, val)
		}
	}

	// 语音转写默认走与 LLM 相同的 OpenAI 兼容端点（Groq 同样提供 Whisper）。
	apiKey := src.get("SPEECH_API_KEY")
	baseURL := src.get("SPEECH_BASE_URL")
	sttModel := "whisper-1"
	if apiKey == "" {
		if key := src.get("GROQ_API_KEY"); key != "" {
			apiKey = key
			if baseURL == "" {
				baseURL = src.getOrDefault("GROQ_BASE_URL", "https://api.groq.com/openai/v1")
			}
			sttModel = "whisper-large-v3"
		} else {
			apiKey = src.get("OPENAI_API_KEY")
		}
	}

	return SpeechConfig{
		STTProvider: sttProvider,
		STTURL:      strings.TrimRight(src.getOrDefault("STT_URL", "http://localhost:8501"), "/"),
		STTModel:    src.getOrDefault("STT_MODEL", sttModel),
		STTLanguage: src.getOrDefault("STT_LANGUAGE", "en"),
		TTSProvider: ttsProvider,
		TTSURL:      strings.TrimRight(src.getOrDefault("TTS_URL", "http://localhost:8502"), "/"),
		TTSModel:    src.getOrDefault("TTS_MODEL", "tts-1"),
		TTSVoice:    src.getOrDefault("TTS_VOICE", "alloy"),
		TTSLanguage: src.getOrDefault("TTS_LANGUAGE", "en"),
		APIKey:      apiKey,
		BaseURL:     baseURL,
		MinDuration: minDuration,
		MaxDuration: maxDuration,
		Timeout:     timeout,

		MaxMessageBytes: int64(maxMessage),
		Volcengine:      loadVolcengineConfig(src),
	}, nil
}

// VideoConfig 描述表情识别服务配置。
type VideoConfig struct {
	EmotionURL string
	MaxDim     int
	Timeout    time.Duration

	// MaxFrameBytes 限制视频 WebSocket 单帧大小。
	MaxFrameBytes int64
}

func loadVideoConfig(src *source) (VideoConfig, error) {
	maxDim, err := src.parseInt("FRAME_MAX_DIM", 640)
	if err != nil {
		return VideoConfig{}, err
	}
	timeout, err := src.parseDuration("EMOTION_TIMEOUT", 15*time.Second)
	if err != nil {
		return VideoConfig{}, err
	}
	maxFrame, err := src.parseInt("FRAME_MAX_BYTES", 8<<20)
	if err != nil {
		return VideoConfig{}, err
	}
	return VideoConfig{
		EmotionURL:    strings.TrimRight(src.getOrDefault("EMOTION_URL", "http://localhost:8500"), "/"),
		MaxDim:        maxDim,
		Timeout:       timeout,
		MaxFrameBytes: int64(maxFrame),
	}, nil
}

// SessionConfig 控制会话空闲回收。IdleTTL 为 0 时不回收。
type SessionConfig struct {
	IdleTTL       time.Duration
	SweepSchedule string
}

func loadSessionConfig(src *source) (SessionConfig, error) {
	ttl, err := src.parseDuration("SESSION_IDLE_TTL", 0)
	if err != nil {
		return SessionConfig{}, err
	}
	if ttl < 0 {
		return SessionConfig{}, fmt.Errorf("invalid SESSION_IDLE_TTL value %q: must not be negative", ttl)
	}
	return SessionConfig{
		IdleTTL:       ttl,
		SweepSchedule: src.getOrDefault("SESSION_SWEEP_SCHEDULE", "@every 1m"),
	}, nil
}

// LogConfig 描述日志输出。
type LogConfig struct {
	Level  string
	Format string
}

// source 按优先级读取配置：环境变量 > YAML 文件。
type source struct {
	file map[string]string
}

func newSource(path string) (*source, error) {
	src := &source{file: map[string]string{}}
	if path == "" {
		return src, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file %s: %w", path, err)
	}

	raw := map[string]any{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse config file %s: %w", path, err)
	}
	for key, val := range raw {
		if val == nil {
			continue
		}
		src.file[key] = fmt.Sprint(val)
	}
	return src, nil
}

func (s *source) get(key string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return strings.TrimSpace(s.file[key])
}

func (s *source) getOrDefault(key, defaultValue string) string {
	if value := s.get(key); value != "" {
		return value
	}
	return defaultValue
}

func (s *source) parseFloat(key string, defaultValue float64) (float64, error) {
	raw := s.get(key)
	if raw == "" {
		return defaultValue, nil
	}
	val, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return val, nil
}

func (s *source) parseInt(key string, defaultValue int) (int, error) {
	val, err := s.parseOptionalInt(key)
	if err != nil {
		return 0, err
	}
	if val == nil {
		return defaultValue, nil
	}
	return *val, nil
}

func (s *source) parseOptionalInt(key string) (*int, error) {
	raw := s.get(key)
	if raw == "" {
		return nil, nil
	}
	val, err := strconv.Atoi(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return &val, nil
}

// parseDuration 接受 Go duration 字符串，纯数字按秒处理。
func (s *source) parseDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	raw := s.get(key)
	if raw == "" {
		return defaultValue, nil
	}
	if secs, err := strconv.ParseFloat(raw, 64); err == nil {
		return time.Duration(secs * float64(time.Second)), nil
	}
	val, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return val, nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
