package auth

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

var (
	roleNamePattern   = regexp.MustCompile(`^[a-z][a-z0-9_-]{1,49}$`)
	permissionSegment = regexp.MustCompile(`^[a-z][a-z0-9_.-]{0,49}$`)
)

// RBACService validates administrative changes before they reach the store.
type RBACService struct {
	store RBACStore
}

func NewRBACService(store RBACStore) (*RBACService, error) {
	if store == nil {
		return nil, errors.New("rbac store is required")
	}
	return &RBACService{store: store}, nil
}

func (s *RBACService) ListRoles(ctx context.Context) ([]Role, error) {
	return s.store.ListRoles(ctx)
}

func (s *RBACService) CreateRole(ctx context.Context, name, displayName string) (Role, error) {
	name = normalizeName(name)
	if !roleNamePattern.MatchString(name) {
		return Role{}, fmt.Errorf("%w: role name must be 2-50 lowercase letters, digits, '-' or '_'", ErrInvalidInput)
	}
	displayName = strings.TrimSpace(displayName)
	if displayName == "" {
		displayName = name
	}
	return s.store.CreateRole(ctx, name, displayName)
}

// DeleteRole removes a role. The store rejects it with ErrRoleInUse while users hold it.
func (s *RBACService) DeleteRole(ctx context.Context, roleID int64) error {
	if roleID <= 0 {
		return fmt.Errorf("%w: role_id is required", ErrInvalidInput)
	}
	return s.store.DeleteRole(ctx, roleID)
}

func (s *RBACService) SetRolePermissions(ctx context.Context, roleID int64, names []string) error {
	if roleID <= 0 {
		return fmt.Errorf("%w: role_id is required", ErrInvalidInput)
	}
	names = dedupeNames(names)
	for _, name := range names {
		if _, _, ok := SplitPermissionName(name); !ok {
			return fmt.Errorf("%w: permission %q is not of the form resource:action", ErrInvalidInput, name)
		}
	}
	return s.store.SetRolePermissions(ctx, roleID, names)
}

func (s *RBACService) ListPermissions(ctx context.Context) ([]Permission, error) {
	return s.store.ListPermissions(ctx)
}

// CreatePermission registers resource:action. The name is always derived.
func (s *RBACService) CreatePermission(ctx context.Context, resource, action string) (Permission, error) {
	resource = normalizeName(resource)
	action = normalizeName(action)
	if !permissionSegment.MatchString(resource) || !permissionSegment.MatchString(action) {
		return Permission{}, fmt.Errorf("%w: resource and action must be lowercase identifiers", ErrInvalidInput)
	}
	return s.store.CreatePermission(ctx, resource, action)
}

func (s *RBACService) AssignRole(ctx context.Context, userID, roleID int64) (UserRoleAssignment, error) {
	if userID <= 0 || roleID <= 0 {
		return UserRoleAssignment{}, fmt.Errorf("%w: user_id and role_id are required", ErrInvalidInput)
	}
	return s.store.AssignRole(ctx, userID, roleID)
}
