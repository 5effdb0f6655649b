package scheduler

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"automail/pkg/logx"
)

func New(cfg Config, runner Runner, log logx.Logger) *Service {
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	// SecondOptional allows both 5-field and 6-field (with seconds) cron specs.
	// Dow/Dom accept Quartz-style "?" as an alias for "*".
	parser := cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	return &Service{
		cfg:     cfg,
		log:     log,
		runner:  runner,
		parser:  parser,
		c:       cron.New(cron.WithParser(parser), cron.WithLocation(time.UTC)),
		entries: map[string]entry{},
	}
}

// Apply updates execution knobs that are safe to change at runtime.
// Worker count and queue size are fixed after Start.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.cfg.RunTimeout = cfg.RunTimeout
	s.mu.Unlock()
}

// Start launches the cron runner and the worker pool. The service is
// single-shot: once stopped it is not restarted (the process is).
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.queue = make(chan task, s.cfg.QueueSize)
	s.runCtx, s.runCancel = context.WithCancel(ctx)
	workers := s.cfg.Workers
	runCtx := s.runCtx
	queue := s.queue
	triggers := len(s.entries)
	s.mu.Unlock()

	s.workerWG.Add(workers)
	for i := 0; i < workers; i++ {
		idx := i
		go func() {
			defer s.workerWG.Done()
			s.worker(runCtx, queue, idx)
		}()
	}
	s.c.Start()
	s.log.Info("scheduler started",
		logx.Int("workers", workers), logx.Int("triggers", triggers))
}

// Stop halts the cron runner and drains the workers. In-flight executions
// get their context cancelled; waiting is bounded by ctx.
func (s *Service) Stop(ctx context.Context) {
	start := time.Now()
	s.mu.Lock()
	if !s.started || s.runCancel == nil {
		s.mu.Unlock()
		return
	}
	cancel := s.runCancel
	s.runCancel = nil
	s.mu.Unlock()

	<-s.c.Stop().Done()
	cancel()

	done := make(chan struct{})
	go func() {
		s.workerWG.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.log.Info("scheduler stopped", logx.Duration("took", time.Since(start)))
	case <-ctx.Done():
		s.log.Warn("scheduler stop timed out; workers abandoned", logx.Duration("took", time.Since(start)))
	}
}
