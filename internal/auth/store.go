package auth

import "context"

// PermissionSource is the persistence collaborator that knows which active
// roles and permissions a user currently holds.
type PermissionSource interface {
	UserRoles(ctx context.Context, userID int64) ([]string, error)
	UserPermissions(ctx context.Context, userID int64) ([]string, error)
}

// UserStore looks up login accounts.
type UserStore interface {
	UserByID(ctx context.Context, userID int64) (User, error)
	UserByEmail(ctx context.Context, email string) (User, error)
}

// RBACStore holds the administrative operations on roles and permissions.
type RBACStore interface {
	ListRoles(ctx context.Context) ([]Role, error)
	CreateRole(ctx context.Context, name, displayName string) (Role, error)
	DeleteRole(ctx context.Context, roleID int64) error
	SetRolePermissions(ctx context.Context, roleID int64, permissionNames []string) error

	ListPermissions(ctx context.Context) ([]Permission, error)
	CreatePermission(ctx context.Context, resource, action string) (Permission, error)

	AssignRole(ctx context.Context, userID, roleID int64) (UserRoleAssignment, error)
}
