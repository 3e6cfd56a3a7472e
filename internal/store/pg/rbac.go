package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/GaussAA/fastify-react-app-enhance-sub003/internal/auth"
)

var (
	_ auth.RBACStore        = (*Store)(nil)
	_ auth.PermissionSource = (*Store)(nil)
)

// UserRoles returns the names of the active roles held by the user.
func (s *Store) UserRoles(ctx context.Context, userID int64) ([]string, error) {
	if s.db == nil {
		return nil, errNoDB
	}
	rows, err := s.db.QueryContext(ctx, `
		select r.name
		from user_roles ur
		join roles r on r.id = ur.role_id
		where ur.user_id = $1 and r.is_active
		order by r.name
	`, userID)
	if err != nil {
		return nil, err
	}
	return collectStrings(rows)
}

// UserPermissions returns the permission names granted through active roles.
// Inactive permissions are skipped.
func (s *Store) UserPermissions(ctx context.Context, userID int64) ([]string, error) {
	if s.db == nil {
		return nil, errNoDB
	}
	rows, err := s.db.QueryContext(ctx, `
		select distinct p.name
		from user_roles ur
		join roles r on r.id = ur.role_id
		join role_permissions rp on rp.role_id = r.id
		join permissions p on p.id = rp.permission_id
		where ur.user_id = $1 and r.is_active and p.is_active
		order by p.name
	`, userID)
	if err != nil {
		return nil, err
	}
	return collectStrings(rows)
}

func (s *Store) ListRoles(ctx context.Context) ([]auth.Role, error) {
	if s.db == nil {
		return nil, errNoDB
	}
	rows, err := s.db.QueryContext(ctx, `
		select id, name, display_name, is_active, created_at
		from roles
		order by name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var roles []auth.Role
	for rows.Next() {
		var r auth.Role
		if err := rows.Scan(&r.ID, &r.Name, &r.DisplayName, &r.Active, &r.CreatedAt); err != nil {
			return nil, err
		}
		roles = append(roles, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return roles, nil
}

func (s *Store) CreateRole(ctx context.Context, name, displayName string) (auth.Role, error) {
	if s.db == nil {
		return auth.Role{}, errNoDB
	}
	var role auth.Role
	err := s.db.QueryRowContext(ctx, `
		insert into roles (name, display_name)
		values ($1, $2)
		returning id, name, display_name, is_active, created_at
	`, name, displayName).Scan(&role.ID, &role.Name, &role.DisplayName, &role.Active, &role.CreatedAt)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return auth.Role{}, auth.ErrConflict
		}
		return auth.Role{}, err
	}
	return role, nil
}

// DeleteRole refuses to remove a role any user still holds. The user_roles
// foreign key is "on delete restrict", so a concurrent assignment surfaces
// as the same error.
func (s *Store) DeleteRole(ctx context.Context, roleID int64) error {
	if s.db == nil {
		return errNoDB
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var holders int
	if err := tx.QueryRowContext(ctx, `
		select count(ur.user_id)
		from roles r
		left join user_roles ur on ur.role_id = r.id
		where r.id = $1
		group by r.id
	`, roleID).Scan(&holders); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return auth.ErrNotFound
		}
		return err
	}
	if holders > 0 {
		return auth.ErrRoleInUse
	}

	if _, err := tx.ExecContext(ctx, `delete from roles where id = $1`, roleID); err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrForeignKeyViolation {
			return auth.ErrRoleInUse
		}
		return err
	}
	return tx.Commit()
}

// SetRolePermissions replaces the role's permission set atomically.
func (s *Store) SetRolePermissions(ctx context.Context, roleID int64, permissionNames []string) error {
	if s.db == nil {
		return errNoDB
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var exists int
	if err := tx.QueryRowContext(ctx, `select 1 from roles where id = $1`, roleID).Scan(&exists); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return auth.ErrNotFound
		}
		return err
	}

	if _, err := tx.ExecContext(ctx, `delete from role_permissions where role_id = $1`, roleID); err != nil {
		return err
	}

	for _, name := range permissionNames {
		var permID int64
		err := tx.QueryRowContext(ctx, `select id from permissions where name = $1`, name).Scan(&permID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("%w: permission %s not found", auth.ErrNotFound, name)
			}
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			insert into role_permissions (role_id, permission_id)
			values ($1, $2)
		`, roleID, permID); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *Store) ListPermissions(ctx context.Context) ([]auth.Permission, error) {
	if s.db == nil {
		return nil, errNoDB
	}
	rows, err := s.db.QueryContext(ctx, `
		select id, name, resource, action, is_active, created_at
		from permissions
		order by name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var perms []auth.Permission
	for rows.Next() {
		var p auth.Permission
		if err := rows.Scan(&p.ID, &p.Name, &p.Resource, &p.Action, &p.Active, &p.CreatedAt); err != nil {
			return nil, err
		}
		perms = append(perms, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return perms, nil
}

func (s *Store) CreatePermission(ctx context.Context, resource, action string) (auth.Permission, error) {
	if s.db == nil {
		return auth.Permission{}, errNoDB
	}
	var p auth.Permission
	err := s.db.QueryRowContext(ctx, `
		insert into permissions (name, resource, action)
		values ($1, $2, $3)
		returning id, name, resource, action, is_active, created_at
	`, auth.PermissionName(resource, action), resource, action).Scan(&p.ID, &p.Name, &p.Resource, &p.Action, &p.Active, &p.CreatedAt)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return auth.Permission{}, auth.ErrConflict
		}
		return auth.Permission{}, err
	}
	return p, nil
}

// AssignRole grants a role to a user. Unknown user or role ids map to
// ErrNotFound through the foreign keys.
func (s *Store) AssignRole(ctx context.Context, userID, roleID int64) (auth.UserRoleAssignment, error) {
	if s.db == nil {
		return auth.UserRoleAssignment{}, errNoDB
	}
	var a auth.UserRoleAssignment
	err := s.db.QueryRowContext(ctx, `
		insert into user_roles (user_id, role_id)
		values ($1, $2)
		returning user_id, role_id, created_at
	`, userID, roleID).Scan(&a.UserID, &a.RoleID, &a.CreatedAt)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok {
			switch pgErr.Code {
			case pgErrUniqueViolation:
				return auth.UserRoleAssignment{}, auth.ErrConflict
			case pgErrForeignKeyViolation:
				return auth.UserRoleAssignment{}, auth.ErrNotFound
			}
		}
		return auth.UserRoleAssignment{}, err
	}
	return a, nil
}
