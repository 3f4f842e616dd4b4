package depression

import (
	"math"
	"strings"

	"github.com/zhouzirui/mindscreen/backend/internal/analysis/emotion"
)

// Fusion weights for the combined screening score.
const (
	VoiceWeight = 0.7
	VideoWeight = 0.3
)

// ConfidenceThreshold 是判定为抑郁倾向的最低置信度参考值。
const ConfidenceThreshold = 0.6

// 视为抑郁信号的视频主导情绪。
var depressiveEmotions = map[emotion.Label]struct{}{
	emotion.Sad:   {},
	emotion.Fear:  {},
	emotion.Angry: {},
}

// Keywords 是转写文本中需要标记的抑郁相关词汇。
var Keywords = []string{
	"sad", "depressed", "hopeless", "worthless", "tired",
	"empty", "lonely", "anxious", "worried", "stressed",
}

// EmotionScore returns the likelihood table value for a video label.
func EmotionScore(label emotion.Label) float64 {
	return emotion.Score(label)
}

// DepressiveEmotion reports whether the dominant video emotion counts as a
// depression signal.
func DepressiveEmotion(label emotion.Label) bool {
	_, ok := depressiveEmotions[label]
	return ok
}

// CalculateDepressionScore 融合语音判断与视频主导情绪，结果保留两位小数。
func CalculateDepressionScore(voiceDepressed bool, dominant emotion.Label) float64 {
	voice := 0.0
	if voiceDepressed {
		voice = 1
	}
	video := 0.0
	if DepressiveEmotion(dominant) {
		video = 1
	}
	return Round2(VoiceWeight*voice + VideoWeight*video)
}

// Round2 rounds half away from zero to two decimals.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// Indicators 返回转写文本中命中的关键词，按 Keywords 顺序去重。
func Indicators(transcript string) []string {
	normalized := strings.ToLower(strings.TrimSpace(transcript))
	if normalized == "" {
		return nil
	}

	words := strings.FieldsFunc(normalized, func(r rune) bool {
		return !(r >= 'a' && r <= 'z') && r != '\''
	})
	present := make(map[string]struct{}, len(words))
	for _, word := range words {
		present[word] = struct{}{}
	}

	var hits []string
	for _, keyword := range Keywords {
		if _, ok := present[keyword]; ok {
			hits = append(hits, keyword)
		}
	}
	return hits
}
