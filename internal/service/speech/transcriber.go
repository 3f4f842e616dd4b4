package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/sashabaranov/go-openai"
)

// Transcriber 将 WAV 文件识别为文本。
type Transcriber interface {
	Transcribe(ctx context.Context, wavPath string) (string, error)
}

// AudioClient 是 go-openai 客户端中语音相关的子集，便于测试替换。
type AudioClient interface {
	CreateTranscription(ctx context.Context, request openai.AudioRequest) (openai.AudioResponse, error)
	CreateSpeech(ctx context.Context, request openai.CreateSpeechRequest) (openai.RawResponse, error)
}

// NewAudioClient 创建 OpenAI 兼容的语音客户端，baseURL 为空时使用官方地址。
func NewAudioClient(apiKey, baseURL string) *openai.Client {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return openai.NewClientWithConfig(cfg)
}

// OpenAITranscriber 通过 Whisper 兼容接口识别语音（OpenAI 或 Groq）。
type OpenAITranscriber struct {
	client   AudioClient
	model    string
	language string
}

func NewOpenAITranscriber(client AudioClient, model, language string) *OpenAITranscriber {
	return &OpenAITranscriber{client: client, model: model, language: language}
}

func (t *OpenAITranscriber) Transcribe(ctx context.Context, wavPath string) (string, error) {
	resp, err := t.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    t.model,
		FilePath: wavPath,
		Language: t.language,
		Format:   openai.AudioResponseFormatJSON,
	})
	if err != nil {
		return "", fmt.Errorf("transcription request: %w", err)
	}
	return resp.Text, nil
}

// SidecarTranscriber 调用本地推理服务的 /transcribe 接口。
type SidecarTranscriber struct {
	baseURL  string
	language string
	client   *http.Client
}

func NewSidecarTranscriber(baseURL, language string, client *http.Client) *SidecarTranscriber {
	if client == nil {
		client = http.DefaultClient
	}
	return &SidecarTranscriber{baseURL: baseURL, language: language, client: client}
}

type transcribeResponse struct {
	Text     string `json:"text"`
	Language string `json:"language"`
}

func (t *SidecarTranscriber) Transcribe(ctx context.Context, wavPath string) (string, error) {
	var b bytes.Buffer
	w := multipart.NewWriter(&b)

	fw, err := w.CreateFormFile("file", filepath.Base(wavPath))
	if err != nil {
		return "", err
	}
	fd, err := os.Open(wavPath)
	if err != nil {
		return "", err
	}
	defer fd.Close()

	if _, err = io.Copy(fw, fd); err != nil {
		return "", err
	}
	if t.language != "" {
		if err = w.WriteField("language", t.language); err != nil {
			return "", err
		}
	}
	if err = w.Close(); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+"/transcribe", &b)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	req.Header.Set("X-Request-Id", uuid.NewString())

	resp, err := t.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("stt request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", fmt.Errorf("stt %s: %s", resp.Status, string(body))
	}

	var out transcribeResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("stt decode: %w", err)
	}
	return out.Text, nil
}
