// Package perms resolves workspace roles. Role evaluation is an external
// concern; the cache layer only consumes the resolved role through its
// permission gate.
package perms

import (
	"github.com/storyline-app/storyline/internal/types"
)

// Resolver answers "what is this user's role in this workspace".
type Resolver interface {
	ResolveRole(workspace, user string) types.Role
}

// StaticResolver resolves roles from a fixed table, keyed by
// "workspace/user". Used by the CLI (table comes from config) and by
// tests.
type StaticResolver struct {
	Roles   map[string]types.Role
	Default types.Role
}

// ResolveRole looks up the user's role, falling back on the default.
// An unset default resolves to guest: unknown callers get read-only.
func (r *StaticResolver) ResolveRole(workspace, user string) types.Role {
	if r == nil {
		return types.RoleGuest
	}
	if role, ok := r.Roles[workspace+"/"+user]; ok {
		return role
	}
	if r.Default != "" {
		return r.Default
	}
	return types.RoleGuest
}

// Fixed returns a resolver that answers the same role for everyone.
func Fixed(role types.Role) Resolver {
	return &StaticResolver{Default: role}
}
