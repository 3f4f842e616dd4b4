package janitor

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/zhouzirui/mindscreen/backend/internal/metrics"
)

// Evicter 是支持空闲回收的会话聚合器。
type Evicter interface {
	EvictIdle(now time.Time, ttl time.Duration) []string
}

// Target 将聚合器与其模态名关联。
// IdleTTL 大于 0 时覆盖全局阈值；Modality 为空的目标不计入会话回收指标。
type Target struct {
	Modality string
	Name     string
	Sessions Evicter
	IdleTTL  time.Duration
}

func (t Target) label() string {
	if t.Name != "" {
		return t.Name
	}
	return t.Modality
}

// Config 控制回收周期与空闲阈值。
type Config struct {
	IdleTTL  time.Duration
	Schedule string
}

// Janitor 按 cron 计划回收空闲会话。
type Janitor struct {
	ttl      time.Duration
	schedule string
	targets  []Target
	now      func() time.Time
	log      *logrus.Entry
}

func New(cfg Config, targets ...Target) *Janitor {
	schedule := cfg.Schedule
	if schedule == "" {
		schedule = "@every 1m"
	}
	return &Janitor{
		ttl:      cfg.IdleTTL,
		schedule: schedule,
		targets:  targets,
		now:      time.Now,
		log:      logrus.WithField("component", "janitor"),
	}
}

func (j *Janitor) ttlFor(target Target) time.Duration {
	if target.IdleTTL > 0 {
		return target.IdleTTL
	}
	return j.ttl
}

// Enabled reports whether idle eviction is configured for any target.
func (j *Janitor) Enabled() bool {
	for _, target := range j.targets {
		if j.ttlFor(target) > 0 {
			return true
		}
	}
	return false
}

// Sweep 执行一次回收，返回被删除的会话总数。
func (j *Janitor) Sweep() int {
	if !j.Enabled() {
		return 0
	}
	now := j.now()
	total := 0
	for _, target := range j.targets {
		ttl := j.ttlFor(target)
		if ttl <= 0 {
			continue
		}
		evicted := target.Sessions.EvictIdle(now, ttl)
		if len(evicted) == 0 {
			continue
		}
		total += len(evicted)
		if target.Modality != "" {
			metrics.RecordEvicted(target.Modality, len(evicted))
		}
		j.log.WithFields(logrus.Fields{
			"target":  target.label(),
			"evicted": evicted,
		}).Info("evicted idle entries")
	}
	return total
}

// Run 启动计划任务并阻塞到 ctx 结束。未启用时直接等待 ctx。
func (j *Janitor) Run(ctx context.Context) error {
	if !j.Enabled() {
		<-ctx.Done()
		return nil
	}

	c := cron.New()
	if _, err := c.AddFunc(j.schedule, func() { j.Sweep() }); err != nil {
		return fmt.Errorf("invalid SESSION_SWEEP_SCHEDULE %q: %w", j.schedule, err)
	}
	c.Start()
	j.log.WithFields(logrus.Fields{"schedule": j.schedule, "idle_ttl": j.ttl, "targets": len(j.targets)}).Info("session janitor started")

	<-ctx.Done()
	<-c.Stop().Done()
	j.log.Info("session janitor stopped")
	return nil
}
