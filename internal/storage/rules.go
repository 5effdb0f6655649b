package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"automail/internal/rule"
	"automail/pkg/logx"
)

// SaveRule upserts the rule row and replaces its recipient set wholesale
// (clear-and-reinsert, not diffed) in one transaction.
func (s *DB) SaveRule(ctx context.Context, r rule.Rule) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO rules(id, name, resource, trigger_type, execution, template_key,
		                   cron_expr, time_zone, related_entity_id, active, metadata,
		                   created_at, updated_at)
		 VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET
		     name=excluded.name, resource=excluded.resource,
		     trigger_type=excluded.trigger_type, execution=excluded.execution,
		     template_key=excluded.template_key, cron_expr=excluded.cron_expr,
		     time_zone=excluded.time_zone, related_entity_id=excluded.related_entity_id,
		     active=excluded.active, metadata=excluded.metadata,
		     updated_at=excluded.updated_at`,
		r.ID.String(), r.Name, string(r.Resource), string(r.Trigger), string(r.Execution),
		r.TemplateKey, nullStr(r.CronExpr), nullStr(r.TimeZone), nullStr(r.RelatedEntityID),
		boolInt(r.Active), nullStr(r.Metadata),
		r.CreatedAt.UTC().Format(time.RFC3339Nano), r.UpdatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM rule_recipients WHERE rule_id = ?`, r.ID.String()); err != nil {
		return err
	}
	for _, rc := range r.Recipients {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO rule_recipients(rule_id, kind, value) VALUES(?,?,?)`,
			r.ID.String(), string(rc.Kind()), rc.Value(),
		); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// GetRule loads one rule with its recipients. Returns ErrNotFound when the
// rule does not exist (a normal outcome for firings racing a delete).
func (s *DB) GetRule(ctx context.Context, id uuid.UUID) (rule.Rule, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, resource, trigger_type, execution, template_key,
		        cron_expr, time_zone, related_entity_id, active, metadata,
		        created_at, updated_at
		 FROM rules WHERE id = ?`, id.String())
	r, err := scanRule(row)
	if err != nil {
		return rule.Rule{}, err
	}
	if err := s.loadRecipients(ctx, &r); err != nil {
		return rule.Rule{}, err
	}
	return r, nil
}

func (s *DB) DeleteRule(ctx context.Context, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM rules WHERE id = ?`, id.String())
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListActiveScheduledRules returns every rule the bootstrapper must register.
func (s *DB) ListActiveScheduledRules(ctx context.Context) ([]rule.Rule, error) {
	return s.listRules(ctx,
		`SELECT id, name, resource, trigger_type, execution, template_key,
		        cron_expr, time_zone, related_entity_id, active, metadata,
		        created_at, updated_at
		 FROM rules WHERE execution = ? AND active = 1 ORDER BY created_at`,
		string(rule.ExecutionScheduled))
}

// ListActiveEventRules returns active event-based rules matching the trigger,
// scoped either to all entities (no related id) or to the given one.
func (s *DB) ListActiveEventRules(ctx context.Context, trigger rule.TriggerType, entityID string) ([]rule.Rule, error) {
	return s.listRules(ctx,
		`SELECT id, name, resource, trigger_type, execution, template_key,
		        cron_expr, time_zone, related_entity_id, active, metadata,
		        created_at, updated_at
		 FROM rules
		 WHERE execution = ? AND active = 1 AND trigger_type = ?
		   AND (related_entity_id IS NULL OR related_entity_id = ?)
		 ORDER BY created_at`,
		string(rule.ExecutionEventBased), string(trigger), entityID)
}

func (s *DB) listRules(ctx context.Context, query string, args ...any) ([]rule.Rule, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []rule.Rule
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range out {
		if err := s.loadRecipients(ctx, &out[i]); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (s *DB) loadRecipients(ctx context.Context, r *rule.Rule) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT kind, value FROM rule_recipients WHERE rule_id = ? ORDER BY rowid`, r.ID.String())
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var kind, value string
		if err := rows.Scan(&kind, &value); err != nil {
			return err
		}
		rc, err := rule.DecodeRecipient(kind, value)
		if err != nil {
			// A malformed stored recipient must not make the whole rule
			// unloadable; resolution skips it.
			s.log.Warn("skipping malformed stored recipient",
				logx.String("rule", r.ID.String()), logx.String("kind", kind), logx.Err(err))
			continue
		}
		r.Recipients = append(r.Recipients, rc)
	}
	return rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRule(row rowScanner) (rule.Rule, error) {
	var (
		r                       rule.Rule
		id                      string
		res, trig, exec         string
		cron, tz, related, meta sql.NullString
		active                  int
		createdRaw, updatedRaw  string
	)
	err := row.Scan(&id, &r.Name, &res, &trig, &exec, &r.TemplateKey,
		&cron, &tz, &related, &active, &meta, &createdRaw, &updatedRaw)
	if errors.Is(err, sql.ErrNoRows) {
		return rule.Rule{}, ErrNotFound
	}
	if err != nil {
		return rule.Rule{}, err
	}

	r.ID, err = uuid.Parse(id)
	if err != nil {
		return rule.Rule{}, fmt.Errorf("rules row %q: %w", id, err)
	}
	r.Resource = rule.ResourceType(res)
	r.Trigger = rule.TriggerType(trig)
	r.Execution = rule.ExecutionType(exec)
	r.CronExpr = strings.TrimSpace(cron.String)
	r.TimeZone = strings.TrimSpace(tz.String)
	r.RelatedEntityID = related.String
	r.Active = active != 0
	r.Metadata = meta.String
	r.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdRaw)
	r.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedRaw)
	return r, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
