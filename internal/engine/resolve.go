package engine

import (
	"context"
	"strings"

	"automail/internal/rule"
	"automail/pkg/logx"
)

// resolveRecipients expands a rule's declared recipients into a flat,
// case-insensitively deduplicated address list.
//
// It is recomputed on every execution and never cached: role membership
// and user addresses change between firings. A single unresolvable
// recipient (deleted user, empty role, lookup error) is logged and
// skipped; it never aborts resolution for the rest.
func (e *Engine) resolveRecipients(ctx context.Context, r rule.Rule) []string {
	var out []string
	seen := map[string]struct{}{}
	add := func(addr string) {
		addr = strings.TrimSpace(addr)
		if addr == "" {
			return
		}
		key := strings.ToLower(addr)
		if _, dup := seen[key]; dup {
			return
		}
		seen[key] = struct{}{}
		out = append(out, addr)
	}

	log := e.log.With(logx.String("rule", r.ID.String()))
	for _, rc := range r.Recipients {
		switch rc.Kind() {
		case rule.RecipientEmail:
			addr, _ := rc.Address()
			add(addr)

		case rule.RecipientUser:
			id, _ := rc.UserID()
			addr, ok, err := e.dir.EmailForUser(ctx, id)
			if err != nil {
				log.Warn("user lookup failed; skipping recipient",
					logx.String("user", id.String()), logx.Err(err))
				continue
			}
			if !ok {
				log.Debug("user missing or has no email; skipping recipient",
					logx.String("user", id.String()))
				continue
			}
			add(addr)

		case rule.RecipientRole:
			role, _ := rc.Role()
			members, err := e.dir.UsersInRole(ctx, role)
			if err != nil {
				log.Warn("role lookup failed; skipping recipient",
					logx.String("role", role), logx.Err(err))
				continue
			}
			if len(members) == 0 {
				log.Debug("role has no members; skipping recipient", logx.String("role", role))
				continue
			}
			for _, m := range members {
				if strings.TrimSpace(m.Email) == "" {
					continue
				}
				add(m.Email)
			}
		}
	}
	return out
}
