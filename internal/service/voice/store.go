package voice

import (
	"sync"
	"time"

	"github.com/zhouzirui/mindscreen/backend/internal/model/voice"
)

type session struct {
	history   []voice.Exchange
	last      *voice.Judgment
	createdAt time.Time
	updatedAt time.Time
}

// store keeps per-session conversation state in memory.
type store struct {
	mu       sync.Mutex
	sessions map[string]*session
}

func newStore() *store {
	return &store{sessions: make(map[string]*session)}
}

// touch 创建或刷新会话，返回是否为新会话。
func (s *store) touch(sessionID string, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		sess = &session{createdAt: now}
		s.sessions[sessionID] = sess
	}
	sess.updatedAt = now
	return !ok
}

// history 返回会话全部历史的副本。
func (s *store) history(sessionID string) []voice.Exchange {
	return s.recent(sessionID, 0)
}

// recent 返回最近 n 轮历史的副本，n <= 0 表示全部。
func (s *store) recent(sessionID string, n int) []voice.Exchange {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok || len(sess.history) == 0 {
		return nil
	}
	start := 0
	if n > 0 && len(sess.history) > n {
		start = len(sess.history) - n
	}
	return append([]voice.Exchange(nil), sess.history[start:]...)
}

func (s *store) record(sessionID string, judgment voice.Judgment, exchange *voice.Exchange, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		sess = &session{createdAt: now}
		s.sessions[sessionID] = sess
	}
	if exchange != nil {
		sess.history = append(sess.history, *exchange)
	}
	j := judgment
	sess.last = &j
	sess.updatedAt = now
}

func (s *store) lastJudgment(sessionID string) (voice.Judgment, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok || sess.last == nil {
		return voice.Judgment{}, false
	}
	return *sess.last, true
}

func (s *store) remove(sessionID string) (bool, int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.sessions[sessionID]
	delete(s.sessions, sessionID)
	return ok, len(s.sessions)
}

func (s *store) evictIdle(cutoff time.Time) ([]string, int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var evicted []string
	for id, sess := range s.sessions {
		if sess.updatedAt.Before(cutoff) {
			delete(s.sessions, id)
			evicted = append(evicted, id)
		}
	}
	return evicted, len(s.sessions)
}

func (s *store) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}
