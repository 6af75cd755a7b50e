// Package visibility answers whether an actor may see or change a record.
// Every function here is pure.
package visibility

import "agendahub/store"

// RoleAdmin is the admin role used when no other admin roles are configured.
const RoleAdmin = "admin"

// Actor is an authenticated user together with their role.
type Actor struct {
	ID   string `json:"id"`
	Role string `json:"role"`
}

type Resolver struct {
	adminRoles map[string]struct{}
}

// NewResolver builds a resolver treating the given roles as admin roles.
// With no roles it falls back to RoleAdmin.
func NewResolver(adminRoles ...string) *Resolver {
	r := &Resolver{adminRoles: make(map[string]struct{})}
	for _, role := range adminRoles {
		if role != "" {
			r.adminRoles[role] = struct{}{}
		}
	}
	if len(r.adminRoles) == 0 {
		r.adminRoles[RoleAdmin] = struct{}{}
	}
	return r
}

func (r *Resolver) IsAdmin(a Actor) bool {
	_, ok := r.adminRoles[a.Role]
	return ok
}

// CanView applies, first match wins: admin role, owner, listed in visibility,
// empty visibility (visible to every authenticated actor).
func (r *Resolver) CanView(a Actor, rec store.Record) bool {
	switch {
	case r.IsAdmin(a):
		return true
	case rec.OwnerID == a.ID:
		return true
	case contains(rec.Visibility, a.ID):
		return true
	case len(rec.Visibility) == 0:
		return true
	}
	return false
}

// CanMutate follows CanView; no record kind currently defines a stricter rule.
func (r *Resolver) CanMutate(a Actor, rec store.Record) bool {
	return r.CanView(a, rec)
}

// CanManage reports whether a may delete rec or change its visibility list.
func (r *Resolver) CanManage(a Actor, rec store.Record) bool {
	return r.IsAdmin(a) || rec.OwnerID == a.ID
}

// Filter keeps the records a may view, preserving order.
func (r *Resolver) Filter(a Actor, recs []store.Record) []store.Record {
	out := make([]store.Record, 0, len(recs))
	for _, rec := range recs {
		if r.CanView(a, rec) {
			out = append(out, rec)
		}
	}
	return out
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
