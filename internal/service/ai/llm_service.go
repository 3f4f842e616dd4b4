package ai

import (
	"context"
	"errors"
	"fmt"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"
	"github.com/sirupsen/logrus"

	"github.com/zhouzirui/mindscreen/backend/internal/config"
)

// ErrNotConfigured 表示未提供大模型密钥或模型名。
var ErrNotConfigured = errors.New("llm credentials or model missing")

// NewChatModel 按 LLM_PROVIDER 创建聊天模型。
func NewChatModel(ctx context.Context, cfg config.LLMConfig) (model.ChatModel, error) {
	if !cfg.Enabled() {
		return nil, fmt.Errorf("%w: provider %s", ErrNotConfigured, cfg.Provider)
	}

	temperature := float32(cfg.Temperature)

	switch cfg.Provider {
	case config.ProviderArk:
		arkCfg := &ark.ChatModelConfig{
			BaseURL:     cfg.BaseURL,
			Region:      cfg.Region,
			APIKey:      cfg.APIKey,
			Model:       cfg.Model,
			MaxTokens:   cfg.MaxTokens,
			Temperature: &temperature,
		}
		chatModel, err := ark.NewChatModel(ctx, arkCfg)
		if err != nil {
			return nil, fmt.Errorf("failed to create ark chat model: %w", err)
		}
		return chatModel, nil
	case config.ProviderGroq, config.ProviderOpenAI:
		logrus.WithFields(logrus.Fields{
			"component": "ai",
			"provider":  cfg.Provider,
			"model":     cfg.Model,
		}).Info("chat model configured")
		return NewOpenAIChatModel(NewOpenAIClient(cfg.APIKey, cfg.BaseURL), OpenAIModelConfig{
			Model:       cfg.Model,
			Temperature: &temperature,
			MaxTokens:   cfg.MaxTokens,
			JSONMode:    true,
		}), nil
	default:
		return nil, fmt.Errorf("unsupported llm provider %q", cfg.Provider)
	}
}
