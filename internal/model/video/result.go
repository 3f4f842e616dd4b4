package video

import "time"

// FrameResult is the outcome of classifying one frame. Error is set
// instead of Emotion/Score when the frame could not be processed.
type FrameResult struct {
	Emotion   string    `json:"emotion,omitempty"`
	Score     float64   `json:"score,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Error     string    `json:"error,omitempty"`
}

// Failed reports whether the frame produced an error payload.
func (r FrameResult) Failed() bool {
	return r.Error != ""
}

// SessionResults summarises a video session.
type SessionResults struct {
	DominantEmotion string    `json:"dominant_emotion"`
	Score           float64   `json:"score"`
	TotalSamples    int       `json:"total_samples"`
	SessionID       string    `json:"session_id"`
	StartedAt       time.Time `json:"started_at"`
	LastFrameAt     time.Time `json:"last_frame_at"`
	Timestamp       time.Time `json:"timestamp"`
}
