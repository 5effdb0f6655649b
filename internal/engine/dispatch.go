package engine

import (
	"context"

	"automail/internal/eventbus"
	"automail/pkg/logx"
)

// Dispatcher is the event trigger path: it subscribes to the domain event
// bus, matches active event-based rules against each event, and executes
// them. Scheduling is bypassed entirely on this path.
type Dispatcher struct {
	engine *Engine
	store  RuleStore
	bus    eventbus.Bus
	log    logx.Logger
}

func NewDispatcher(engine *Engine, store RuleStore, bus eventbus.Bus, log logx.Logger) *Dispatcher {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Dispatcher{engine: engine, store: store, bus: bus, log: log}
}

// Run consumes events until ctx is cancelled. Intended to be run as a
// goroutine from the app wiring.
func (d *Dispatcher) Run(ctx context.Context) {
	ch, unsub := d.bus.Subscribe(64)
	defer unsub()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			d.handle(ctx, ev)
		}
	}
}

func (d *Dispatcher) handle(ctx context.Context, ev eventbus.Event) {
	rules, err := d.store.ListActiveEventRules(ctx, ev.Trigger, ev.EntityID)
	if err != nil {
		d.log.Warn("event rule lookup failed",
			logx.String("trigger", string(ev.Trigger)), logx.Err(err))
		return
	}
	if len(rules) == 0 {
		return
	}

	evCtx := make(map[string]string, len(ev.Fields)+1)
	for k, v := range ev.Fields {
		evCtx[k] = v
	}
	if ev.EntityID != "" {
		evCtx["entity_id"] = ev.EntityID
	}

	for _, r := range rules {
		if err := d.engine.ExecuteEventRule(ctx, r, evCtx); err != nil {
			d.log.Warn("event rule execution failed",
				logx.String("rule", r.ID.String()), logx.String("trigger", string(ev.Trigger)), logx.Err(err))
		}
	}
}
