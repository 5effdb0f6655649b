package engine

import (
	"context"
	"fmt"

	"automail/internal/rule"
	"automail/pkg/logx"
)

// Scheduler is the registration surface the bootstrapper drives.
type Scheduler interface {
	Schedule(r rule.Rule)
}

// Bootstrap reconciles the live trigger registry with the rule store at
// process startup, before any triggering work is accepted.
//
// It is a full rebuild: the in-process cron runner holds no trigger state
// across restarts, so there is nothing to diff against. Each Schedule
// call is isolated — a rule with a bad cron expression is skipped by the
// adapter and cannot block the rest. Only total store unavailability is
// returned as a startup-blocking error; callers bound the whole run with
// a context timeout.
func Bootstrap(ctx context.Context, store RuleStore, sched Scheduler, log logx.Logger) error {
	rules, err := store.ListActiveScheduledRules(ctx)
	if err != nil {
		return fmt.Errorf("bootstrap: loading scheduled rules: %w", err)
	}

	registered, skipped := 0, 0
	for _, r := range rules {
		if !r.Schedulable() {
			// Active + Scheduled but no cron expression: a configuration
			// no-op until the author corrects it.
			skipped++
			log.Warn("scheduled rule has no cron expression; skipping",
				logx.String("rule", r.ID.String()), logx.String("name", r.Name))
			continue
		}
		sched.Schedule(r)
		registered++
	}

	log.Info("bootstrap complete",
		logx.Int("rules", len(rules)), logx.Int("registered", registered), logx.Int("skipped", skipped))
	return nil
}
