// Package scheduler owns the live set of recurring email-automation
// triggers.
//
// The rule store is the single source of truth for what should be
// scheduled; this package only reflects it. The whole mutable surface is
// two idempotent operations: Schedule (a replace-if-exists upsert keyed by
// rule id) and Unschedule (a delete that tolerates absence). Fired
// triggers carry the rule id as their only payload and are executed on a
// small worker pool, isolated from rule-authoring mistakes: a bad cron
// expression leaves that one rule unscheduled, an unknown time zone
// degrades to UTC, and neither ever surfaces as an error to the caller.
package scheduler
