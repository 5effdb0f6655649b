package engine

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"automail/internal/rule"
	"automail/internal/scheduler"
	"automail/internal/storage"
	"automail/pkg/logx"
)

func schedFixture(name, cron string) rule.Rule {
	return rule.Rule{
		ID:          uuid.New(),
		Name:        name,
		Resource:    rule.ResourceFinance,
		Trigger:     rule.TriggerFinanceSummaryScheduled,
		Execution:   rule.ExecutionScheduled,
		TemplateKey: "finance_summary",
		CronExpr:    cron,
		Active:      true,
		Recipients:  []rule.Recipient{rule.EmailRecipient("cfo@example.com")},
	}
}

func TestBootstrapRegistersOnlyActiveScheduledRules(t *testing.T) {
	t.Parallel()

	good := schedFixture("digest", "0 9 * * *")
	blankCron := schedFixture("half-configured", "  ")
	inactive := schedFixture("paused", "0 9 * * *")
	inactive.Active = false
	event := eventRule(rule.EmailRecipient("ops@example.com"))

	store := newStubStore(good, blankCron, inactive, event)
	sched := scheduler.New(scheduler.Config{}, runnerFunc(nil), logx.Nop())

	require.NoError(t, Bootstrap(context.Background(), store, sched, logx.Nop()))

	assert.True(t, sched.HasTrigger(good.ID))
	assert.False(t, sched.HasTrigger(blankCron.ID), "blank cron is a no-op, not a trigger")
	assert.False(t, sched.HasTrigger(inactive.ID))
	assert.False(t, sched.HasTrigger(event.ID))
	assert.Len(t, sched.Snapshot().Triggers, 1)
}

func TestBootstrapIsolatesMalformedCron(t *testing.T) {
	t.Parallel()

	bad := schedFixture("broken", "not a cron")
	good := schedFixture("works", "0 9 * * *")

	store := newStubStore(bad, good)
	sched := scheduler.New(scheduler.Config{}, runnerFunc(nil), logx.Nop())

	require.NoError(t, Bootstrap(context.Background(), store, sched, logx.Nop()))
	assert.False(t, sched.HasTrigger(bad.ID))
	assert.True(t, sched.HasTrigger(good.ID), "one malformed rule must not block the rest")
}

// Create through the rule service, bootstrap, then deactivate: the live
// registry must follow the store at every step.
func TestRuleLifecycleAgainstLiveScheduler(t *testing.T) {
	t.Parallel()

	store := newLifecycleStore()
	sched := scheduler.New(scheduler.Config{}, runnerFunc(nil), logx.Nop())
	svc := rule.NewService(store, sched, logx.Nop())

	r, err := svc.Create(context.Background(), schedFixture("digest", "0 9 * * *"))
	require.NoError(t, err)
	require.True(t, sched.HasTrigger(r.ID), "create resynchronizes immediately")

	// Simulate a restart: a fresh scheduler rebuilt from the store.
	fresh := scheduler.New(scheduler.Config{}, runnerFunc(nil), logx.Nop())
	require.NoError(t, Bootstrap(context.Background(), store, fresh, logx.Nop()))
	assert.True(t, fresh.HasTrigger(r.ID))

	svc = rule.NewService(store, fresh, logx.Nop())
	_, err = svc.SetActive(context.Background(), r.ID, false)
	require.NoError(t, err)
	assert.False(t, fresh.HasTrigger(r.ID))

	// A second bootstrap against the deactivated store stays empty.
	again := scheduler.New(scheduler.Config{}, runnerFunc(nil), logx.Nop())
	require.NoError(t, Bootstrap(context.Background(), store, again, logx.Nop()))
	assert.False(t, again.HasTrigger(r.ID))
}

// lifecycleStore implements both the rule service store and the engine
// rule store over the same map.
type lifecycleStore struct {
	*stubStore
}

func newLifecycleStore() *lifecycleStore {
	return &lifecycleStore{stubStore: newStubStore()}
}

func (s *lifecycleStore) SaveRule(_ context.Context, r rule.Rule) error {
	s.rules[r.ID] = r
	return nil
}

func (s *lifecycleStore) DeleteRule(_ context.Context, id uuid.UUID) error {
	if _, ok := s.rules[id]; !ok {
		return storage.ErrNotFound
	}
	delete(s.rules, id)
	return nil
}

type runnerFunc func(ctx context.Context, id uuid.UUID) error

func (f runnerFunc) ExecuteScheduledRule(ctx context.Context, id uuid.UUID) error {
	if f == nil {
		return nil
	}
	return f(ctx, id)
}
