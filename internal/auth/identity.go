package auth

import (
	"sort"
	"strings"
)

// Identity is the authenticated caller attached to a request. It is built once
// per request and never mutated afterwards.
type Identity struct {
	UserID      int64
	Email       string
	Name        string
	roles       map[string]struct{}
	permissions map[string]struct{}
}

// NewIdentity constructs an identity from verified claims and resolved grants.
func NewIdentity(sub Subject, roles, permissions []string) Identity {
	return Identity{
		UserID:      sub.UserID,
		Email:       sub.Email,
		Name:        sub.Name,
		roles:       toSet(roles),
		permissions: toSet(permissions),
	}
}

// HasRole reports whether the identity holds the role.
func (i Identity) HasRole(role string) bool {
	_, ok := i.roles[normalizeName(role)]
	return ok
}

// HasPermission reports whether the identity holds the permission name.
func (i Identity) HasPermission(name string) bool {
	_, ok := i.permissions[normalizeName(name)]
	return ok
}

// Roles returns a sorted copy of the role names.
func (i Identity) Roles() []string { return sortedKeys(i.roles) }

// Permissions returns a sorted copy of the permission names.
func (i Identity) Permissions() []string { return sortedKeys(i.permissions) }

func toSet(values []string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		v = normalizeName(v)
		if v == "" {
			continue
		}
		set[v] = struct{}{}
	}
	return set
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// dedupeNames trims, lower-cases, removes duplicates and sorts.
func dedupeNames(values []string) []string {
	return sortedKeys(toSet(values))
}

func normalizeName(s string) string {
	return strings.TrimSpace(strings.ToLower(s))
}
