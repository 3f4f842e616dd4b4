package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/google/uuid"
	"github.com/sashabaranov/go-openai"
)

// Synthesizer 将文本合成为音频。
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
}

// OpenAISynthesizer 使用 OpenAI speech 接口合成 WAV。
type OpenAISynthesizer struct {
	client AudioClient
	model  string
	voice  string
}

func NewOpenAISynthesizer(client AudioClient, model, voice string) *OpenAISynthesizer {
	return &OpenAISynthesizer{client: client, model: model, voice: voice}
}

func (s *OpenAISynthesizer) Synthesize(ctx context.Context, text string) ([]byte, error) {
	resp, err := s.client.CreateSpeech(ctx, openai.CreateSpeechRequest{
		Model:          openai.SpeechModel(s.model),
		Input:          text,
		Voice:          openai.SpeechVoice(s.voice),
		ResponseFormat: openai.SpeechResponseFormatWav,
	})
	if err != nil {
		return nil, fmt.Errorf("speech request: %w", err)
	}
	defer resp.Close()

	audio, err := io.ReadAll(resp)
	if err != nil {
		return nil, fmt.Errorf("read speech audio: %w", err)
	}
	return audio, nil
}

// SidecarSynthesizer 调用本地推理服务的 /synthesize 接口。
type SidecarSynthesizer struct {
	baseURL  string
	language string
	client   *http.Client
}

func NewSidecarSynthesizer(baseURL, language string, client *http.Client) *SidecarSynthesizer {
	if client == nil {
		client = http.DefaultClient
	}
	return &SidecarSynthesizer{baseURL: baseURL, language: language, client: client}
}

type synthesizeRequest struct {
	Text string `json:"text"`
	Lang string `json:"lang"`
}

func (s *SidecarSynthesizer) Synthesize(ctx context.Context, text string) ([]byte, error) {
	b, _ := json.Marshal(synthesizeRequest{Text: text, Lang: s.language})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/synthesize", bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-Id", uuid.NewString())

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("tts request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("tts %s: %s", resp.Status, string(body))
	}
	return io.ReadAll(resp.Body)
}
