package scheduler

import (
	"context"
	"runtime/debug"
	"time"

	"github.com/google/uuid"

	"automail/pkg/logx"
)

// ruleJob is the cron callback for one registered trigger. It carries the
// rule id string as its only payload; any scheduler substituted in must
// preserve that shape.
type ruleJob struct {
	svc    *Service
	ruleID string
}

func (j *ruleJob) Run() {
	j.svc.enqueue(task{ruleID: j.ruleID, firedAt: time.Now()})
}

func (s *Service) enqueue(t task) {
	s.mu.Lock()
	q := s.queue
	s.mu.Unlock()
	if q == nil {
		s.log.Debug("scheduler not running; dropping firing", logx.String("rule", t.ruleID))
		return
	}
	select {
	case q <- t:
	default:
		s.log.Warn("scheduler queue full; dropping firing",
			logx.String("rule", t.ruleID), logx.Int("queue_len", len(q)), logx.Int("queue_cap", cap(q)))
	}
}

func (s *Service) worker(ctx context.Context, queue <-chan task, idx int) {
	for {
		select {
		case <-ctx.Done():
			return
		case t := <-queue:
			s.runOne(ctx, t, idx)
		}
	}
}

// runOne executes a single firing. Failures are contained here: a bad
// payload or a panicking execution aborts this firing only, never the
// worker or the cron runner.
func (s *Service) runOne(ctx context.Context, t task, idx int) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("panic executing trigger",
				logx.Int("worker", idx), logx.String("rule", t.ruleID),
				logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
		}
	}()

	id, err := uuid.Parse(t.ruleID)
	if err != nil {
		s.log.Warn("unparseable rule id in trigger payload; firing aborted",
			logx.String("payload", t.ruleID), logx.Err(err))
		return
	}

	s.mu.Lock()
	timeout := s.cfg.RunTimeout
	s.mu.Unlock()

	runCtx := ctx
	var cancel context.CancelFunc
	if timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	start := time.Now()
	if err := s.runner.ExecuteScheduledRule(runCtx, id); err != nil {
		s.log.Warn("scheduled rule execution failed",
			logx.String("rule", t.ruleID), logx.Duration("dur", time.Since(start)), logx.Err(err))
		return
	}
	s.log.Debug("scheduled rule executed",
		logx.String("rule", t.ruleID), logx.Duration("dur", time.Since(start)))
}
