package depression

import (
	"fmt"
	"strings"

	"github.com/zhouzirui/mindscreen/backend/internal/model/voice"
)

const systemPrompt = "You are a supportive mental-health screening assistant. You read short spoken messages, judge whether they show signs of depression, and reply to the user in one or two warm, natural sentences. You never diagnose and you always answer with a single JSON object."

const userPrompt = `Analyze this conversation for depression symptoms. Consider the context:
{history}
Latest message: {transcript}

Respond with ONLY the following JSON structure, without any additional text or formatting:
{schema}`

// responseSchema 作为模板变量传入，避免与 FString 的花括号冲突。
const responseSchema = `{
    "is_depressed": bool,
    "confidence": float,
    "response": str,
    "reason": str
}`

const noHistory = "(no earlier exchanges)"

// formatHistory 取最近 limit 轮对话，格式为 "User: ...\nAI: ..."。
func formatHistory(history []voice.Exchange, limit int) string {
	if limit < 1 {
		limit = 1
	}
	start := max(0, len(history)-limit)
	recent := history[start:]
	if len(recent) == 0 {
		return noHistory
	}

	lines := make([]string, 0, len(recent))
	for _, ex := range recent {
		lines = append(lines, fmt.Sprintf("User: %s\nAI: %s", strings.TrimSpace(ex.Input), strings.TrimSpace(ex.Output)))
	}
	return strings.Join(lines, "\n")
}
