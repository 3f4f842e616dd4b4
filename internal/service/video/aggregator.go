package video

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/zhouzirui/mindscreen/backend/internal/analysis/depression"
	analysis "github.com/zhouzirui/mindscreen/backend/internal/analysis/emotion"
	"github.com/zhouzirui/mindscreen/backend/internal/metrics"
	model "github.com/zhouzirui/mindscreen/backend/internal/model/video"
	"github.com/zhouzirui/mindscreen/backend/internal/service/emotion"
)

const invalidFrameMessage = "Invalid frame data"

// Config 控制帧预处理。
type Config struct {
	MaxDim int
}

type session struct {
	emotions  []analysis.Label
	createdAt time.Time
	updatedAt time.Time
}

// Aggregator 维护每个视频会话的情绪历史。
type Aggregator struct {
	classifier emotion.Classifier
	maxDim     int
	now        func() time.Time
	log        *logrus.Entry

	mu       sync.Mutex
	sessions map[string]*session
}

// NewAggregator 创建视频会话聚合器。
func NewAggregator(classifier emotion.Classifier, cfg Config) *Aggregator {
	return &Aggregator{
		classifier: classifier,
		maxDim:     cfg.MaxDim,
		now:        time.Now,
		log:        logrus.WithField("component", "video"),
		sessions:   make(map[string]*session),
	}
}

// ProcessFrame 对一帧图像完成解码、分类并追加到会话历史。
// 失败时返回带 Error 的结果，会话保持不变。
func (a *Aggregator) ProcessFrame(ctx context.Context, raw []byte, sessionID string) model.FrameResult {
	frame, err := prepareFrame(raw, a.maxDim)
	if err != nil {
		a.log.WithField("session_id", sessionID).WithError(err).Warn("frame decode failed")
		metrics.RecordFrameError("decode")
		return model.FrameResult{Error: invalidFrameMessage, Timestamp: a.now()}
	}

	detection, err := a.classifier.Classify(ctx, frame)
	if err != nil {
		a.log.WithField("session_id", sessionID).WithError(err).Error("frame classification failed")
		reason := "classifier"
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			reason = "timeout"
		}
		metrics.RecordFrameError(reason)
		return model.FrameResult{Error: err.Error(), Timestamp: a.now()}
	}

	now := a.now()
	a.mu.Lock()
	sess, ok := a.sessions[sessionID]
	if !ok {
		sess = &session{createdAt: now}
		a.sessions[sessionID] = sess
	}
	sess.emotions = append(sess.emotions, detection.Label)
	sess.updatedAt = now
	active := len(a.sessions)
	a.mu.Unlock()

	if !ok {
		a.log.WithField("session_id", sessionID).Info("video session started")
	}
	metrics.RecordFrame(string(detection.Label))
	metrics.SetActiveSessions(metrics.Video, active)

	return model.FrameResult{
		Emotion:   string(detection.Label),
		Score:     analysis.Score(detection.Label),
		Timestamp: now,
	}
}

// SessionResults 汇总会话的主导情绪。会话不存在时返回 false。
func (a *Aggregator) SessionResults(sessionID string) (*model.SessionResults, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	sess, ok := a.sessions[sessionID]
	if !ok || len(sess.emotions) == 0 {
		return nil, false
	}

	dominant := analysis.Dominant(sess.emotions)
	return &model.SessionResults{
		DominantEmotion: string(dominant),
		Score:           depression.Round2(analysis.Score(dominant)),
		TotalSamples:    len(sess.emotions),
		SessionID:       sessionID,
		StartedAt:       sess.createdAt,
		LastFrameAt:     sess.updatedAt,
		Timestamp:       a.now(),
	}, true
}

// DominantEmotion 返回会话主导情绪，供融合评分使用。
func (a *Aggregator) DominantEmotion(sessionID string) (analysis.Label, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	sess, ok := a.sessions[sessionID]
	if !ok || len(sess.emotions) == 0 {
		return analysis.Neutral, false
	}
	return analysis.Dominant(sess.emotions), true
}

// CleanupSession 删除会话，重复调用无副作用。
func (a *Aggregator) CleanupSession(sessionID string) {
	a.mu.Lock()
	_, ok := a.sessions[sessionID]
	delete(a.sessions, sessionID)
	active := len(a.sessions)
	a.mu.Unlock()

	if ok {
		a.log.WithField("session_id", sessionID).Info("video session cleaned up")
	}
	metrics.SetActiveSessions(metrics.Video, active)
}

// EvictIdle 删除最近一次更新早于 now-ttl 的会话，返回被删除的会话ID。
func (a *Aggregator) EvictIdle(now time.Time, ttl time.Duration) []string {
	if ttl <= 0 {
		return nil
	}
	cutoff := now.Add(-ttl)

	a.mu.Lock()
	var evicted []string
	for id, sess := range a.sessions {
		if sess.updatedAt.Before(cutoff) {
			delete(a.sessions, id)
			evicted = append(evicted, id)
		}
	}
	active := len(a.sessions)
	a.mu.Unlock()

	metrics.SetActiveSessions(metrics.Video, active)
	return evicted
}

// ActiveSessions 返回当前会话数量。
func (a *Aggregator) ActiveSessions() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.sessions)
}
