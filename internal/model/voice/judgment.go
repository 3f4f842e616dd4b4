package voice

import "time"

// Judgment 是对一次发言的抑郁判断。
type Judgment struct {
	IsDepressed bool    `json:"is_depressed"`
	Confidence  float64 `json:"confidence"`
	Response    string  `json:"response"`
	Reason      string  `json:"reason"`
}

// Exchange 记录一轮用户输入与 AI 回复。
type Exchange struct {
	Input     string    `json:"input"`
	Output    string    `json:"output"`
	CreatedAt time.Time `json:"created_at"`
}
