package rule

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ResourceType is the domain area an automation rule concerns.
type ResourceType string

const (
	ResourceShipment  ResourceType = "shipment"
	ResourceFinance   ResourceType = "finance"
	ResourceTask      ResourceType = "task"
	ResourceCustomer  ResourceType = "customer"
	ResourceWarehouse ResourceType = "warehouse"
)

// TriggerType is the domain event a rule reacts to.
type TriggerType string

const (
	TriggerShipmentStatusChanged   TriggerType = "shipment_status_changed"
	TriggerShipmentNoteAdded       TriggerType = "shipment_note_added"
	TriggerFinanceSummaryScheduled TriggerType = "finance_summary_scheduled"
	TriggerTaskAssigned            TriggerType = "task_assigned"
	TriggerTaskCompleted           TriggerType = "task_completed"
	TriggerCustomerCreated         TriggerType = "customer_created"
	TriggerWarehouseCreated        TriggerType = "warehouse_created"
)

// ExecutionType selects how a rule is driven: by the live cron registry or
// by direct calls from the event path.
type ExecutionType string

const (
	ExecutionEventBased ExecutionType = "event"
	ExecutionScheduled  ExecutionType = "scheduled"
)

var validTriggers = map[TriggerType]ResourceType{
	TriggerShipmentStatusChanged:   ResourceShipment,
	TriggerShipmentNoteAdded:       ResourceShipment,
	TriggerFinanceSummaryScheduled: ResourceFinance,
	TriggerTaskAssigned:            ResourceTask,
	TriggerTaskCompleted:           ResourceTask,
	TriggerCustomerCreated:         ResourceCustomer,
	TriggerWarehouseCreated:        ResourceWarehouse,
}

// ResourceForTrigger returns the resource type a trigger belongs to.
func ResourceForTrigger(t TriggerType) (ResourceType, bool) {
	r, ok := validTriggers[t]
	return r, ok
}

// Rule is one declared notification policy.
//
// A Scheduled rule with a blank CronExpr is a configuration no-op: it is
// never registered with the live scheduler, but it is not an error either
// (the author fixes it through the rule-management surface).
type Rule struct {
	ID              uuid.UUID
	Name            string
	Resource        ResourceType
	Trigger         TriggerType
	Execution       ExecutionType
	TemplateKey     string
	CronExpr        string // required iff Execution == ExecutionScheduled
	TimeZone        string // IANA id; blank or unresolvable means UTC
	RelatedEntityID string // optional: scope to one entity instance
	Active          bool
	Metadata        string // opaque; surfaced to templates on scheduled runs
	Recipients      []Recipient

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Schedulable reports whether the rule is eligible for a live cron trigger.
func (r Rule) Schedulable() bool {
	return r.Active && r.Execution == ExecutionScheduled && strings.TrimSpace(r.CronExpr) != ""
}

// Validate checks structural consistency. Cron syntax and time-zone names are
// deliberately NOT validated here: the running scheduler degrades gracefully
// on both, and rejecting them belongs to the rule-authoring surface.
func (r Rule) Validate() error {
	if strings.TrimSpace(r.Name) == "" {
		return fmt.Errorf("rule: name required")
	}
	switch r.Execution {
	case ExecutionEventBased, ExecutionScheduled:
	default:
		return fmt.Errorf("rule: unknown execution type %q", r.Execution)
	}
	res, ok := ResourceForTrigger(r.Trigger)
	if !ok {
		return fmt.Errorf("rule: unknown trigger type %q", r.Trigger)
	}
	if r.Resource != res {
		return fmt.Errorf("rule: trigger %q belongs to resource %q, not %q", r.Trigger, res, r.Resource)
	}
	if strings.TrimSpace(r.TemplateKey) == "" {
		return fmt.Errorf("rule: template key required")
	}
	if len(r.Recipients) == 0 {
		return fmt.Errorf("rule: at least one recipient required")
	}
	for i, rc := range r.Recipients {
		if err := rc.validate(); err != nil {
			return fmt.Errorf("rule: recipient %d: %w", i, err)
		}
	}
	return nil
}
