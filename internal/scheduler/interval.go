package scheduler

import (
	"context"
	"time"

	"riskcore/internal/logger"
)

// IntervalScheduler runs a task on a fixed interval until its context is
// cancelled. Task panics are not recovered; tasks own their error handling.
type IntervalScheduler struct {
	Name           string
	Interval       time.Duration
	RunImmediately bool

	ctx context.Context
}

func NewIntervalScheduler(ctx context.Context, name string, interval time.Duration) *IntervalScheduler {
	if ctx == nil {
		ctx = context.Background()
	}
	return &IntervalScheduler{Name: name, Interval: interval, ctx: ctx}
}

func (s *IntervalScheduler) Start(task func()) {
	if s == nil || task == nil {
		return
	}
	if s.Interval <= 0 {
		logger.Warnf("IntervalScheduler(%s): invalid interval=%s, exit", s.Name, s.Interval)
		return
	}
	logger.Infof("IntervalScheduler(%s): started interval=%s run_immediately=%v", s.Name, s.Interval, s.RunImmediately)
	if s.RunImmediately {
		task()
	}
	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.ctx.Done():
			logger.Infof("IntervalScheduler(%s): ctx done, exit", s.Name)
			return
		case <-ticker.C:
			task()
		}
	}
}
