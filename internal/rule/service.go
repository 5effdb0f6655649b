package rule

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"automail/pkg/logx"
)

// Store captures the persistence interactions needed by the service.
// Recipients are replaced wholesale with the rule on every save.
type Store interface {
	GetRule(ctx context.Context, id uuid.UUID) (Rule, error)
	SaveRule(ctx context.Context, r Rule) error
	DeleteRule(ctx context.Context, id uuid.UUID) error
}

// Scheduler is the live trigger registry the service keeps in sync.
type Scheduler interface {
	Schedule(r Rule)
	Unschedule(id uuid.UUID)
}

// Service owns rule mutations. Every mutation that can change scheduling
// eligibility resynchronizes the live scheduler after the store write
// commits, so the store stays the single source of truth for what should
// be scheduled and the scheduler only reflects it.
type Service struct {
	store Store
	sched Scheduler
	log   logx.Logger

	newID func() uuid.UUID
	now   func() time.Time
}

func NewService(store Store, sched Scheduler, log logx.Logger) *Service {
	return &Service{
		store: store,
		sched: sched,
		log:   log,
		newID: uuid.New,
		now:   time.Now,
	}
}

// Create validates and persists a new rule, then registers its trigger if
// the rule is schedulable.
func (s *Service) Create(ctx context.Context, r Rule) (Rule, error) {
	if r.ID == uuid.Nil {
		r.ID = s.newID()
	}
	now := s.now()
	r.CreatedAt = now
	r.UpdatedAt = now
	if err := r.Validate(); err != nil {
		return Rule{}, err
	}
	if err := s.store.SaveRule(ctx, r); err != nil {
		return Rule{}, fmt.Errorf("create rule: %w", err)
	}
	s.resync(r)
	return r, nil
}

// Update replaces the rule (recipients included) and resynchronizes its
// trigger: the old registration is always replaced or removed, never left
// stale, even when only the cron expression or time zone changed.
func (s *Service) Update(ctx context.Context, r Rule) (Rule, error) {
	if r.ID == uuid.Nil {
		return Rule{}, fmt.Errorf("update rule: id required")
	}
	if err := r.Validate(); err != nil {
		return Rule{}, err
	}
	prev, err := s.store.GetRule(ctx, r.ID)
	if err != nil {
		return Rule{}, fmt.Errorf("update rule: %w", err)
	}
	r.CreatedAt = prev.CreatedAt
	r.UpdatedAt = s.now()
	if err := s.store.SaveRule(ctx, r); err != nil {
		return Rule{}, fmt.Errorf("update rule: %w", err)
	}
	s.resync(r)
	return r, nil
}

// SetActive flips the activation gate and resynchronizes the trigger.
func (s *Service) SetActive(ctx context.Context, id uuid.UUID, active bool) (Rule, error) {
	r, err := s.store.GetRule(ctx, id)
	if err != nil {
		return Rule{}, fmt.Errorf("set active: %w", err)
	}
	if r.Active == active {
		return r, nil
	}
	r.Active = active
	r.UpdatedAt = s.now()
	if err := s.store.SaveRule(ctx, r); err != nil {
		return Rule{}, fmt.Errorf("set active: %w", err)
	}
	s.resync(r)
	return r, nil
}

// Delete removes the rule and always unschedules its trigger.
func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	if err := s.store.DeleteRule(ctx, id); err != nil {
		return fmt.Errorf("delete rule: %w", err)
	}
	s.sched.Unschedule(id)
	return nil
}

// resync makes the live scheduler reflect the rule's current eligibility.
// Schedule is a replace-if-exists upsert, so the ineligible branch is the
// only one that needs an explicit removal.
func (s *Service) resync(r Rule) {
	if r.Schedulable() {
		s.sched.Schedule(r)
		return
	}
	s.sched.Unschedule(r.ID)
	if r.Execution == ExecutionScheduled && r.Active {
		s.log.Warn("scheduled rule has no cron expression; left unscheduled",
			logx.String("rule", r.ID.String()), logx.String("name", r.Name))
	}
}
