package depression

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/zhouzirui/mindscreen/backend/internal/model/voice"
)

var fencedBlock = regexp.MustCompile("(?s)```(?:json)?\\s*\\n(.*?)\\n\\s*```")

var requiredFields = []string{"is_depressed", "confidence", "response", "reason"}

// extractObject 依次尝试：严格 JSON、宽松的 Python 字面量、```json 代码块。
func extractObject(text string) (map[string]any, bool) {
	trimmed := strings.TrimSpace(text)
	if obj, ok := decodeObject(trimmed); ok {
		return obj, true
	}
	if m := fencedBlock.FindStringSubmatch(trimmed); m != nil {
		return decodeObject(strings.TrimSpace(m[1]))
	}
	return nil, false
}

func decodeObject(text string) (map[string]any, bool) {
	if text == "" {
		return nil, false
	}
	var obj map[string]any
	if err := json.Unmarshal([]byte(text), &obj); err == nil && obj != nil {
		return obj, true
	}
	normalized, ok := normalizePythonLiteral(text)
	if !ok {
		return nil, false
	}
	if err := json.Unmarshal([]byte(normalized), &obj); err == nil && obj != nil {
		return obj, true
	}
	return nil, false
}

// normalizePythonLiteral 将 Python dict 字面量改写为 JSON：单引号字符串、
// True/False/None 以及尾随逗号。
func normalizePythonLiteral(text string) (string, bool) {
	var b strings.Builder
	b.Grow(len(text))

	runes := []rune(text)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		switch {
		case r == '"' || r == '\'':
			end, ok := writeString(&b, runes, i)
			if !ok {
				return "", false
			}
			i = end
		case r == ',':
			j := i + 1
			for j < len(runes) && isSpace(runes[j]) {
				j++
			}
			if j < len(runes) && (runes[j] == '}' || runes[j] == ']') {
				continue
			}
			b.WriteRune(r)
		case isIdentStart(r):
			j := i
			for j < len(runes) && isIdentPart(runes[j]) {
				j++
			}
			switch word := string(runes[i:j]); word {
			case "True":
				b.WriteString("true")
			case "False":
				b.WriteString("false")
			case "None":
				b.WriteString("null")
			default:
				b.WriteString(word)
			}
			i = j - 1
		default:
			b.WriteRune(r)
		}
	}
	return b.String(), true
}

// writeString 从 runes[start] 处的引号开始，输出等价的 JSON 字符串，返回结束引号下标。
func writeString(b *strings.Builder, runes []rune, start int) (int, bool) {
	quote := runes[start]
	var content strings.Builder
	for i := start + 1; i < len(runes); i++ {
		r := runes[i]
		switch {
		case r == '\\' && i+1 < len(runes):
			next := runes[i+1]
			i++
			switch next {
			case '\'':
				content.WriteRune('\'')
			case '"':
				content.WriteRune('"')
			case 'n':
				content.WriteRune('\n')
			case 't':
				content.WriteRune('\t')
			case 'r':
				content.WriteRune('\r')
			case '\\':
				content.WriteRune('\\')
			default:
				content.WriteRune('\\')
				content.WriteRune(next)
			}
		case r == quote:
			encoded, err := json.Marshal(content.String())
			if err != nil {
				return 0, false
			}
			b.Write(encoded)
			return i, true
		default:
			content.WriteRune(r)
		}
	}
	return 0, false
}

func isSpace(r rune) bool {
	return r == ' ' || r == '\n' || r == '\t' || r == '\r'
}

func isIdentStart(r rune) bool {
	return r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')
}

func isIdentPart(r rune) bool {
	return isIdentStart(r) || (r >= '0' && r <= '9')
}

// judgmentFromObject 校验必需字段并做宽松类型转换，缺失或无法转换时返回 false。
func judgmentFromObject(obj map[string]any) (voice.Judgment, bool) {
	for _, field := range requiredFields {
		if _, ok := obj[field]; !ok {
			return voice.Judgment{}, false
		}
	}

	depressed, ok := toBool(obj["is_depressed"])
	if !ok {
		return voice.Judgment{}, false
	}
	confidence, ok := toFloat(obj["confidence"])
	if !ok {
		return voice.Judgment{}, false
	}
	response, ok := toText(obj["response"])
	if !ok {
		return voice.Judgment{}, false
	}
	reason, ok := toText(obj["reason"])
	if !ok {
		return voice.Judgment{}, false
	}

	return voice.Judgment{
		IsDepressed: depressed,
		Confidence:  clamp01(confidence),
		Response:    response,
		Reason:      reason,
	}, true
}

func toBool(v any) (bool, bool) {
	switch val := v.(type) {
	case bool:
		return val, true
	case float64:
		return val != 0, true
	case string:
		switch strings.ToLower(strings.TrimSpace(val)) {
		case "true", "yes", "1":
			return true, true
		case "false", "no", "0":
			return false, true
		}
	}
	return false, false
}

func toFloat(v any) (float64, bool) {
	switch val := v.(type) {
	case float64:
		return val, !math.IsNaN(val)
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
		if err != nil || math.IsNaN(f) {
			return 0, false
		}
		return f, true
	case bool:
		if val {
			return 1, true
		}
		return 0, true
	}
	return 0, false
}

func toText(v any) (string, bool) {
	switch val := v.(type) {
	case string:
		return val, true
	case float64, bool:
		return fmt.Sprint(val), true
	}
	return "", false
}

func clamp01(v float64) float64 {
	return math.Min(1, math.Max(0, v))
}
