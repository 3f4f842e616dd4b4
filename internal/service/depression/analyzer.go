package depression

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"github.com/sirupsen/logrus"

	analysis "github.com/zhouzirui/mindscreen/backend/internal/analysis/depression"
	"github.com/zhouzirui/mindscreen/backend/internal/metrics"
	"github.com/zhouzirui/mindscreen/backend/internal/model/voice"
)

// Kind 描述一次分析结果的来源。
type Kind string

const (
	KindParsed        Kind = "parsed"
	KindInvalidFormat Kind = "invalid_format"
	KindIncomplete    Kind = "incomplete"
	KindFailed        Kind = "failed"
)

// 各类失败时使用的固定判断。
var (
	invalidFormatJudgment = voice.Judgment{
		Response: "I'm having trouble understanding right now.",
		Reason:   "LLM returned invalid format",
	}
	incompleteJudgment = voice.Judgment{
		Response: "Let's continue our conversation.",
		Reason:   "Incomplete response from AI",
	}
	failedJudgment = voice.Judgment{
		Response: "Let's continue our conversation.",
		Reason:   "Error occurred",
	}
)

var errNoModel = errors.New("no chat model configured")

// Assessment 是一次分析的结果。
type Assessment struct {
	voice.Judgment
	Kind       Kind
	Indicators []string
}

// Recorded 表示该结果是否应写入会话历史。调用失败时不记录。
func (a Assessment) Recorded() bool {
	return a.Kind != KindFailed
}

// Config 控制分析器行为。
type Config struct {
	Temperature  float32
	Timeout      time.Duration
	HistoryLimit int
}

// Analyzer 通过大模型判断发言是否有抑郁倾向。
type Analyzer struct {
	chain        compose.Runnable[map[string]any, *schema.Message]
	temperature  float32
	timeout      time.Duration
	historyLimit int
	log          *logrus.Entry
}

// NewAnalyzer 编译 prompt -> ChatModel 链。chatModel 为 nil 时分析器可用，
// 但每次调用都返回 KindFailed。
func NewAnalyzer(ctx context.Context, chatModel model.ChatModel, cfg Config) (*Analyzer, error) {
	a := &Analyzer{
		temperature:  cfg.Temperature,
		timeout:      cfg.Timeout,
		historyLimit: cfg.HistoryLimit,
		log:          logrus.WithField("component", "depression"),
	}
	if a.timeout <= 0 {
		a.timeout = 10 * time.Second
	}
	if a.historyLimit <= 0 {
		a.historyLimit = 3
	}

	if chatModel == nil {
		a.log.Warn("no chat model configured, depression analysis will fall back to defaults")
		return a, nil
	}

	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage(systemPrompt),
		schema.UserMessage(userPrompt),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile depression analyzer chain: %w", err)
	}
	a.chain = runnable
	return a, nil
}

// Enabled 返回是否配置了模型。
func (a *Analyzer) Enabled() bool {
	return a != nil && a.chain != nil
}

// Analyze 结合最近几轮对话分析 transcript。不会返回错误，失败时使用固定的默认判断。
func (a *Analyzer) Analyze(ctx context.Context, transcript string, history []voice.Exchange) Assessment {
	start := time.Now()
	assessment := a.analyze(ctx, transcript, history)
	assessment.Indicators = analysis.Indicators(transcript)
	metrics.RecordLLMCall(string(assessment.Kind), time.Since(start))
	return assessment
}

func (a *Analyzer) analyze(ctx context.Context, transcript string, history []voice.Exchange) Assessment {
	raw, err := a.invoke(ctx, transcript, history)
	if err != nil {
		a.log.WithError(err).Error("llm analysis failed")
		return Assessment{Judgment: failedJudgment, Kind: KindFailed}
	}
	a.log.WithField("raw", raw).Debug("llm output received")

	obj, ok := extractObject(raw)
	if !ok {
		a.log.Error("invalid response format from llm")
		return Assessment{Judgment: invalidFormatJudgment, Kind: KindInvalidFormat}
	}

	judgment, ok := judgmentFromObject(obj)
	if !ok {
		a.log.Error("missing required fields in llm response")
		return Assessment{Judgment: incompleteJudgment, Kind: KindIncomplete}
	}

	return Assessment{Judgment: judgment, Kind: KindParsed}
}

func (a *Analyzer) invoke(ctx context.Context, transcript string, history []voice.Exchange) (string, error) {
	if !a.Enabled() {
		return "", errNoModel
	}

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	input := map[string]any{
		"history":    formatHistory(history, a.historyLimit),
		"transcript": strings.TrimSpace(transcript),
		"schema":     responseSchema,
	}

	msg, err := a.chain.Invoke(ctx, input, compose.WithChatModelOption(model.WithTemperature(a.temperature)))
	if err != nil {
		return "", fmt.Errorf("failed to run depression chain: %w", err)
	}
	if msg == nil {
		return "", errors.New("llm returned empty message")
	}
	return strings.TrimSpace(msg.Content), nil
}
