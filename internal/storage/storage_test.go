package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"automail/internal/rule"
	"automail/pkg/logx"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(Config{Path: filepath.Join(t.TempDir(), "automail.db")}, logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func testRule() rule.Rule {
	now := time.Now().UTC().Truncate(time.Millisecond)
	return rule.Rule{
		ID:          uuid.New(),
		Name:        "notify ops on delivery",
		Resource:    rule.ResourceShipment,
		Trigger:     rule.TriggerShipmentStatusChanged,
		Execution:   rule.ExecutionEventBased,
		TemplateKey: "shipment_status_changed",
		Active:      true,
		Metadata:    `{"statuses":"delivered"}`,
		Recipients: []rule.Recipient{
			rule.EmailRecipient("ops@example.com"),
			rule.RoleRecipient("Dispatcher"),
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestSaveAndGetRule(t *testing.T) {
	t.Parallel()
	db := openTestDB(t)
	ctx := context.Background()

	want := testRule()
	require.NoError(t, db.SaveRule(ctx, want))

	got, err := db.GetRule(ctx, want.ID)
	require.NoError(t, err)
	assert.Equal(t, want.Name, got.Name)
	assert.Equal(t, want.Trigger, got.Trigger)
	assert.Equal(t, want.Metadata, got.Metadata)
	assert.True(t, got.Active)
	require.Len(t, got.Recipients, 2)
	assert.Equal(t, rule.RecipientEmail, got.Recipients[0].Kind())
	assert.Equal(t, "ops@example.com", got.Recipients[0].Value())
	assert.Equal(t, rule.RecipientRole, got.Recipients[1].Kind())
}

func TestGetRuleMissingReturnsErrNotFound(t *testing.T) {
	t.Parallel()
	db := openTestDB(t)

	_, err := db.GetRule(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSaveRuleReplacesRecipientSet(t *testing.T) {
	t.Parallel()
	db := openTestDB(t)
	ctx := context.Background()

	r := testRule()
	require.NoError(t, db.SaveRule(ctx, r))

	r.Recipients = []rule.Recipient{rule.EmailRecipient("new@example.com")}
	require.NoError(t, db.SaveRule(ctx, r))

	got, err := db.GetRule(ctx, r.ID)
	require.NoError(t, err)
	require.Len(t, got.Recipients, 1, "the recipient set is replaced wholesale on save")
	assert.Equal(t, "new@example.com", got.Recipients[0].Value())
}

func TestDeleteRule(t *testing.T) {
	t.Parallel()
	db := openTestDB(t)
	ctx := context.Background()

	r := testRule()
	require.NoError(t, db.SaveRule(ctx, r))
	require.NoError(t, db.DeleteRule(ctx, r.ID))

	_, err := db.GetRule(ctx, r.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	assert.ErrorIs(t, db.DeleteRule(ctx, r.ID), ErrNotFound)
}

func TestListActiveScheduledRules(t *testing.T) {
	t.Parallel()
	db := openTestDB(t)
	ctx := context.Background()

	scheduled := testRule()
	scheduled.Trigger = rule.TriggerFinanceSummaryScheduled
	scheduled.Resource = rule.ResourceFinance
	scheduled.Execution = rule.ExecutionScheduled
	scheduled.CronExpr = "0 9 * * *"
	scheduled.TimeZone = "Europe/Berlin"
	require.NoError(t, db.SaveRule(ctx, scheduled))

	inactive := scheduled
	inactive.ID = uuid.New()
	inactive.Active = false
	require.NoError(t, db.SaveRule(ctx, inactive))

	event := testRule()
	require.NoError(t, db.SaveRule(ctx, event))

	got, err := db.ListActiveScheduledRules(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, scheduled.ID, got[0].ID)
	assert.Equal(t, "0 9 * * *", got[0].CronExpr)
	assert.Equal(t, "Europe/Berlin", got[0].TimeZone)
}

func TestListActiveEventRulesEntityScoping(t *testing.T) {
	t.Parallel()
	db := openTestDB(t)
	ctx := context.Background()

	global := testRule()
	require.NoError(t, db.SaveRule(ctx, global))

	scoped := testRule()
	scoped.ID = uuid.New()
	scoped.RelatedEntityID = "SHP-9"
	require.NoError(t, db.SaveRule(ctx, scoped))

	otherTrigger := testRule()
	otherTrigger.ID = uuid.New()
	otherTrigger.Resource = rule.ResourceTask
	otherTrigger.Trigger = rule.TriggerTaskAssigned
	otherTrigger.TemplateKey = "task_assigned"
	require.NoError(t, db.SaveRule(ctx, otherTrigger))

	got, err := db.ListActiveEventRules(ctx, rule.TriggerShipmentStatusChanged, "SHP-1")
	require.NoError(t, err)
	require.Len(t, got, 1, "scoped rule matches only its own entity")
	assert.Equal(t, global.ID, got[0].ID)

	got, err = db.ListActiveEventRules(ctx, rule.TriggerShipmentStatusChanged, "SHP-9")
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestDirectoryLookups(t *testing.T) {
	t.Parallel()
	db := openTestDB(t)
	ctx := context.Background()

	alice, bob, ghost := uuid.New(), uuid.New(), uuid.New()
	require.NoError(t, db.UpsertUser(ctx, alice, "alice@example.com", "Alice"))
	require.NoError(t, db.UpsertUser(ctx, bob, "", "Bob"))
	require.NoError(t, db.AssignRole(ctx, alice, "Dispatcher"))
	require.NoError(t, db.AssignRole(ctx, bob, "Dispatcher"))
	require.NoError(t, db.AssignRole(ctx, alice, "Dispatcher")) // idempotent

	addr, ok, err := db.EmailForUser(ctx, alice)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "alice@example.com", addr)

	_, ok, err = db.EmailForUser(ctx, bob)
	require.NoError(t, err)
	assert.False(t, ok, "a user without an address resolves to nothing")

	_, ok, err = db.EmailForUser(ctx, ghost)
	require.NoError(t, err)
	assert.False(t, ok)

	members, err := db.UsersInRole(ctx, "Dispatcher")
	require.NoError(t, err)
	require.Len(t, members, 2)

	members, err = db.UsersInRole(ctx, "NoSuchRole")
	require.NoError(t, err)
	assert.Empty(t, members)
}
