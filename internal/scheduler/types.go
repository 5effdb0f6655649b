package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"automail/pkg/logx"
)

// Config controls the trigger registry and its worker pool.
type Config struct {
	Workers    int           // default 2
	QueueSize  int           // default 64
	RunTimeout time.Duration // per-firing timeout; 0 disables
}

// Runner executes one fired rule. The engine implements it.
type Runner interface {
	ExecuteScheduledRule(ctx context.Context, id uuid.UUID) error
}

// entry is one live registration in the cron runner.
type entry struct {
	cronID cron.EntryID
	spec   string
	tz     string
}

// task is the payload a fired trigger places on the queue. Per the job
// payload contract it carries the rule id in string form and nothing else.
type task struct {
	ruleID  string
	firedAt time.Time
}

// Service is the scheduler adapter. Safe for concurrent use; Schedule and
// Unschedule may be called while triggers are firing.
type Service struct {
	mu sync.Mutex

	cfg    Config
	log    logx.Logger
	runner Runner

	parser  cron.Parser
	c       *cron.Cron
	entries map[string]entry // rule id -> live registration

	queue     chan task
	started   bool
	runCtx    context.Context
	runCancel context.CancelFunc
	workerWG  sync.WaitGroup
}

// TriggerInfo describes one live trigger for status/tests.
type TriggerInfo struct {
	RuleID string
	Spec   string
	TZ     string
	Next   time.Time
	Prev   time.Time
}

// Snapshot is a point-in-time view of the registry.
type Snapshot struct {
	QueueLen int
	Triggers []TriggerInfo
}
