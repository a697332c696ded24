package rbac

import (
	"context"
	"strings"
)

// Checker answers permission questions for a role policy. Patterns are either
// exact ("module:view"), a resource wildcard ("attempt:*") or "*".
type Checker struct {
	exact    map[string]map[string]bool
	prefixes map[string][]string
	all      map[string]bool
}

func NewChecker(rp map[string][]string) *Checker {
	if rp == nil {
		rp = RolePermissions
	}
	c := &Checker{
		exact:    map[string]map[string]bool{},
		prefixes: map[string][]string{},
		all:      map[string]bool{},
	}
	for role, perms := range rp {
		c.exact[role] = map[string]bool{}
		for _, p := range perms {
			switch {
			case p == "*":
				c.all[role] = true
			case strings.HasSuffix(p, "*"):
				c.prefixes[role] = append(c.prefixes[role], strings.TrimSuffix(p, "*"))
			default:
				c.exact[role][p] = true
			}
		}
	}
	return c
}

// Known reports whether the policy defines role.
func (c *Checker) Known(role string) bool {
	_, ok := c.exact[role]
	return ok
}

func (c *Checker) Has(role, perm string) bool {
	if c.all[role] || c.exact[role][perm] {
		return true
	}
	for _, prefix := range c.prefixes[role] {
		if strings.HasPrefix(perm, prefix) {
			return true
		}
	}
	return false
}

func (c *Checker) Any(role string, perms ...string) bool {
	for _, p := range perms {
		if c.Has(role, p) {
			return true
		}
	}
	return false
}

type roleKey struct{}

func WithRole(ctx context.Context, role string) context.Context {
	return context.WithValue(ctx, roleKey{}, role)
}

func RoleFromContext(ctx context.Context) string {
	role, _ := ctx.Value(roleKey{}).(string)
	return role
}
