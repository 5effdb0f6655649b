// Package engine executes automation rules: it is the single pipeline both
// trigger sources converge on (cron firings and domain events), plus the
// recipient resolver and the startup bootstrapper.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"automail/internal/rule"
	"automail/internal/storage"
	"automail/pkg/logx"
)

// RuleStore is the persistence surface the engine reads from.
type RuleStore interface {
	GetRule(ctx context.Context, id uuid.UUID) (rule.Rule, error)
	ListActiveScheduledRules(ctx context.Context) ([]rule.Rule, error)
	ListActiveEventRules(ctx context.Context, trigger rule.TriggerType, entityID string) ([]rule.Rule, error)
}

// Directory resolves user and role recipients to email addresses.
type Directory interface {
	EmailForUser(ctx context.Context, id uuid.UUID) (string, bool, error)
	UsersInRole(ctx context.Context, role string) ([]storage.RoleMember, error)
}

// Renderer turns a template key plus placeholders into a subject/body pair.
type Renderer interface {
	Render(key string, placeholders map[string]string) (subject, body string, err error)
}

// Mailer hands one rendered notification to the transport.
type Mailer interface {
	Send(ctx context.Context, to, subject, htmlBody string) error
}

// Engine orchestrates one rule execution end to end. It guarantees
// at-most-one render/handoff per firing; it never retries delivery.
type Engine struct {
	store  RuleStore
	dir    Directory
	render Renderer
	mail   Mailer
	log    logx.Logger
}

func New(store RuleStore, dir Directory, render Renderer, mail Mailer, log logx.Logger) *Engine {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Engine{store: store, dir: dir, render: render, mail: mail, log: log}
}

// ExecuteScheduledRule is the entry point for fired cron triggers. A rule
// deleted or deactivated between scheduling and firing is a no-op, not an
// error, and is never re-scheduled from here.
func (e *Engine) ExecuteScheduledRule(ctx context.Context, id uuid.UUID) error {
	r, err := e.store.GetRule(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		e.log.Info("rule gone before firing; skipping", logx.String("rule", id.String()))
		return nil
	}
	if err != nil {
		return fmt.Errorf("load rule %s: %w", id, err)
	}
	if !r.Active {
		e.log.Debug("rule inactive at firing; skipping", logx.String("rule", id.String()))
		return nil
	}
	return e.execute(ctx, r, scheduledPlaceholders(r))
}

// ExecuteEventRule is the entry point for the event path. The caller has
// already matched the rule against the trigger; eventCtx carries the
// trigger-specific placeholder values.
func (e *Engine) ExecuteEventRule(ctx context.Context, r rule.Rule, eventCtx map[string]string) error {
	if !r.Active {
		e.log.Debug("rule inactive; skipping event execution", logx.String("rule", r.ID.String()))
		return nil
	}
	data := basePlaceholders(r)
	for k, v := range eventCtx {
		data[k] = v
	}
	return e.execute(ctx, r, data)
}

// execute is the shared pipeline: resolve, render, hand off one send per
// resolved address. A delivery failure for one address does not abort the
// remaining addresses and is never retried here.
func (e *Engine) execute(ctx context.Context, r rule.Rule, data map[string]string) error {
	addrs := e.resolveRecipients(ctx, r)
	if len(addrs) == 0 {
		e.log.Info("rule resolved zero recipients; nothing to send",
			logx.String("rule", r.ID.String()), logx.String("name", r.Name))
		return nil
	}

	subject, body, err := e.render.Render(r.TemplateKey, data)
	if err != nil {
		return fmt.Errorf("render rule %s: %w", r.ID, err)
	}

	sent, failed := 0, 0
	for _, to := range addrs {
		if ctx.Err() != nil {
			e.log.Warn("execution cancelled mid-dispatch",
				logx.String("rule", r.ID.String()), logx.Int("sent", sent), logx.Int("remaining", len(addrs)-sent-failed))
			return ctx.Err()
		}
		if err := e.mail.Send(ctx, to, subject, body); err != nil {
			failed++
			e.log.Error("delivery failed",
				logx.String("rule", r.ID.String()), logx.String("to", to), logx.Err(err))
			continue
		}
		sent++
	}
	e.log.Info("rule executed",
		logx.String("rule", r.ID.String()), logx.String("name", r.Name),
		logx.Int("sent", sent), logx.Int("failed", failed))
	return nil
}

func basePlaceholders(r rule.Rule) map[string]string {
	return map[string]string{
		"rule_name": r.Name,
		"resource":  string(r.Resource),
		"trigger":   string(r.Trigger),
	}
}

// scheduledPlaceholders derives template data for a timer-driven run. The
// rule's metadata is surfaced raw under "metadata"; when it parses as a
// flat JSON object of strings its keys are merged in as well, with the
// explicit keys winning on collision.
func scheduledPlaceholders(r rule.Rule) map[string]string {
	data := map[string]string{}
	if r.Metadata != "" {
		var kv map[string]string
		if err := json.Unmarshal([]byte(r.Metadata), &kv); err == nil {
			for k, v := range kv {
				data[k] = v
			}
		}
		data["metadata"] = r.Metadata
	}
	for k, v := range basePlaceholders(r) {
		data[k] = v
	}
	if r.RelatedEntityID != "" {
		data["entity_id"] = r.RelatedEntityID
	}
	return data
}
