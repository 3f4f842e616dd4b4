package emotion

import (
	"strings"
)

// Label 表示表情分类器输出的情绪标签。
type Label string

const (
	Angry    Label = "angry"
	Disgust  Label = "disgust"
	Fear     Label = "fear"
	Happy    Label = "happy"
	Neutral  Label = "neutral"
	Sad      Label = "sad"
	Surprise Label = "surprise"
)

// DefaultScore is the likelihood used for labels outside the table.
const DefaultScore = 0.5

// Labels lists the classifier labels in classifier index order.
var Labels = []Label{Angry, Disgust, Fear, Happy, Neutral, Sad, Surprise}

// 各情绪对应的抑郁可能性。
var likelihood = map[Label]float64{
	Happy:    0.1,
	Neutral:  0.5,
	Sad:      0.8,
	Angry:    0.9,
	Fear:     0.85,
	Disgust:  0.8,
	Surprise: 0.4,
}

// 分类器可能输出的别名。
var aliases = map[string]Label{
	"disgusted": Disgust,
	"fearful":   Fear,
	"surprised": Surprise,
	"anger":     Angry,
	"happiness": Happy,
	"sadness":   Sad,
}

// Parse normalises a classifier label. The second return value is false
// when the text is not one of the seven labels.
func Parse(raw string) (Label, bool) {
	normalized := strings.ToLower(strings.TrimSpace(raw))
	if normalized == "" {
		return Neutral, false
	}
	if _, ok := likelihood[Label(normalized)]; ok {
		return Label(normalized), true
	}
	if label, ok := aliases[normalized]; ok {
		return label, true
	}
	return Label(normalized), false
}

// Valid reports whether l is one of the seven classifier labels.
func (l Label) Valid() bool {
	_, ok := likelihood[l]
	return ok
}

// Score 返回情绪标签对应的抑郁可能性，未知标签为 DefaultScore。
func Score(label Label) float64 {
	if score, ok := likelihood[label]; ok {
		return score
	}
	return DefaultScore
}

// Dominant 返回历史中出现次数最多的情绪，并列时取最先出现的一个。
// 空历史返回 Neutral。
func Dominant(history []Label) Label {
	if len(history) == 0 {
		return Neutral
	}

	counts := make(map[Label]int, len(Labels))
	order := make([]Label, 0, len(Labels))
	for _, label := range history {
		if counts[label] == 0 {
			order = append(order, label)
		}
		counts[label]++
	}

	best := order[0]
	for _, label := range order[1:] {
		if counts[label] > counts[best] {
			best = label
		}
	}
	return best
}
