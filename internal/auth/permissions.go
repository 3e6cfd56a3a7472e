package auth

import "strings"

// Permission names guarding the administrative API.
const (
	PermRoleRead         = "role:read"
	PermRoleCreate       = "role:create"
	PermRoleUpdate       = "role:update"
	PermRoleDelete       = "role:delete"
	PermPermissionRead   = "permission:read"
	PermPermissionCreate = "permission:create"
	PermUserRead         = "user:read"
	PermUserWrite        = "user:write"
)

// Built-in role names.
const (
	RoleAdmin      = "admin"
	RoleSuperAdmin = "superadmin"
	RoleUser       = "user"
)

// PermissionName derives the unique "resource:action" name.
func PermissionName(resource, action string) string {
	return normalizeName(resource) + ":" + normalizeName(action)
}

// SplitPermissionName is the inverse of PermissionName.
func SplitPermissionName(name string) (resource, action string, ok bool) {
	resource, action, ok = strings.Cut(normalizeName(name), ":")
	if !ok || resource == "" || action == "" || strings.Contains(action, ":") {
		return "", "", false
	}
	return resource, action, true
}
