package scheduler

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"automail/internal/rule"
	"automail/pkg/logx"
)

// Schedule registers (or replaces) the recurring trigger for a rule.
//
// It is a no-op unless the rule is active, scheduled and has a cron
// expression. Registration is keyed by the rule id, so repeated calls
// after edits always replace the previous trigger and never duplicate it.
// Configuration mistakes degrade instead of failing: an unknown time zone
// falls back to UTC, an unparseable cron expression leaves the rule
// unscheduled (and clears any previous registration so a bad edit cannot
// keep a stale trigger alive).
func (s *Service) Schedule(r rule.Rule) {
	if !r.Schedulable() {
		s.log.Debug("rule not schedulable; skipping",
			logx.String("rule", r.ID.String()),
			logx.Bool("active", r.Active),
			logx.String("execution", string(r.Execution)))
		return
	}

	key := r.ID.String()
	spec, tzName := s.specFor(r)

	s.mu.Lock()
	defer s.mu.Unlock()

	sched, err := s.parser.Parse(spec)
	if err != nil {
		s.log.Warn("invalid cron expression; rule left unscheduled",
			logx.String("rule", key), logx.String("name", r.Name),
			logx.String("spec", r.CronExpr), logx.Err(err))
		s.removeLocked(key)
		return
	}

	s.removeLocked(key)
	id := s.c.Schedule(sched, &ruleJob{svc: s, ruleID: key})
	s.entries[key] = entry{cronID: id, spec: r.CronExpr, tz: tzName}

	s.log.Debug("trigger registered",
		logx.String("rule", key), logx.String("name", r.Name),
		logx.String("spec", r.CronExpr), logx.String("tz", tzName),
		logx.Time("next", sched.Next(time.Now().In(time.UTC))))
}

// Unschedule removes the trigger registered under the rule's identity.
// It is an idempotent no-op when none exists.
func (s *Service) Unschedule(id uuid.UUID) {
	key := id.String()
	s.mu.Lock()
	removed := s.removeLocked(key)
	s.mu.Unlock()
	if removed {
		s.log.Debug("trigger removed", logx.String("rule", key))
	}
}

// HasTrigger reports whether a live trigger exists for the rule id.
func (s *Service) HasTrigger(id uuid.UUID) bool {
	s.mu.Lock()
	_, ok := s.entries[id.String()]
	s.mu.Unlock()
	return ok
}

func (s *Service) removeLocked(key string) bool {
	e, ok := s.entries[key]
	if !ok {
		return false
	}
	s.c.Remove(e.cronID)
	delete(s.entries, key)
	return true
}

// specFor resolves the rule's time zone and folds it into the cron spec.
//
// robfig/cron scopes a schedule's zone through a CRON_TZ prefix, so the
// resolved zone is prepended here. Rules that already carry an explicit
// TZ/CRON_TZ prefix in their expression are taken as written.
func (s *Service) specFor(r rule.Rule) (spec, tzName string) {
	expr := strings.TrimSpace(r.CronExpr)
	if strings.HasPrefix(expr, "TZ=") || strings.HasPrefix(expr, "CRON_TZ=") {
		return expr, "(inline)"
	}

	loc := time.UTC
	if tz := strings.TrimSpace(r.TimeZone); tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			s.log.Warn("unknown time zone; falling back to UTC",
				logx.String("rule", r.ID.String()), logx.String("tz", tz), logx.Err(err))
		} else {
			loc = l
		}
	}
	return "CRON_TZ=" + loc.String() + " " + expr, loc.String()
}

// Snapshot returns a point-in-time view of the registry.
func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{Triggers: make([]TriggerInfo, 0, len(s.entries))}
	if s.queue != nil {
		snap.QueueLen = len(s.queue)
	}
	for key, e := range s.entries {
		ce := s.c.Entry(e.cronID)
		snap.Triggers = append(snap.Triggers, TriggerInfo{
			RuleID: key,
			Spec:   e.spec,
			TZ:     e.tz,
			Next:   ce.Next,
			Prev:   ce.Prev,
		})
	}
	return snap
}
