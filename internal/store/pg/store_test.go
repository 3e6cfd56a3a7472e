package pg

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/GaussAA/fastify-react-app-enhance-sub003/internal/audit"
	"github.com/GaussAA/fastify-react-app-enhance-sub003/internal/auth"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return New(db), mock
}

func expectMet(t *testing.T, mock sqlmock.Sqlmock) {
	t.Helper()
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestUserRolesAndPermissions(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery("select r.name.*from user_roles ur.*r.is_active").
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("admin").AddRow("user"))
	mock.ExpectQuery("select distinct p.name.*p.is_active").
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("role:read").AddRow("user:read"))

	roles, err := store.UserRoles(context.Background(), 7)
	if err != nil {
		t.Fatalf("UserRoles: %v", err)
	}
	perms, err := store.UserPermissions(context.Background(), 7)
	if err != nil {
		t.Fatalf("UserPermissions: %v", err)
	}
	if len(roles) != 2 || roles[0] != "admin" {
		t.Fatalf("unexpected roles: %v", roles)
	}
	if len(perms) != 2 || perms[1] != "user:read" {
		t.Fatalf("unexpected permissions: %v", perms)
	}
	expectMet(t, mock)
}

func TestUserRolesPropagatesError(t *testing.T) {
	store, mock := newMockStore(t)
	boom := errors.New("connection reset")
	mock.ExpectQuery("select r.name").WithArgs(int64(1)).WillReturnError(boom)

	if _, err := store.UserRoles(context.Background(), 1); !errors.Is(err, boom) {
		t.Fatalf("expected driver error, got %v", err)
	}
	expectMet(t, mock)
}

func TestUserByEmail(t *testing.T) {
	store, mock := newMockStore(t)
	created := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery("select id, email, name, password_hash, is_active, created_at from users where lower").
		WithArgs("ada@example.com").
		WillReturnRows(sqlmock.NewRows([]string{"id", "email", "name", "password_hash", "is_active", "created_at"}).
			AddRow(int64(3), "ada@example.com", "Ada", "$2a$hash", true, created))
	mock.ExpectQuery("from users where id").
		WithArgs(int64(99)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "email", "name", "password_hash", "is_active", "created_at"}))

	u, err := store.UserByEmail(context.Background(), "ada@example.com")
	if err != nil {
		t.Fatalf("UserByEmail: %v", err)
	}
	if u.ID != 3 || u.PasswordHash != "$2a$hash" || !u.Active {
		t.Fatalf("unexpected user: %+v", u)
	}
	if _, err := store.UserByID(context.Background(), 99); !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	expectMet(t, mock)
}

func TestCreateRoleConflict(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery("insert into roles").
		WithArgs("editor", "Editor").
		WillReturnError(&pgconn.PgError{Code: pgErrUniqueViolation})

	if _, err := store.CreateRole(context.Background(), "editor", "Editor"); !errors.Is(err, auth.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	expectMet(t, mock)
}

func TestDeleteRole(t *testing.T) {
	t.Run("in use", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectBegin()
		mock.ExpectQuery("select count").WithArgs(int64(4)).
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))
		mock.ExpectRollback()

		if err := store.DeleteRole(context.Background(), 4); !errors.Is(err, auth.ErrRoleInUse) {
			t.Fatalf("expected ErrRoleInUse, got %v", err)
		}
		expectMet(t, mock)
	})

	t.Run("missing", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectBegin()
		mock.ExpectQuery("select count").WithArgs(int64(4)).
			WillReturnRows(sqlmock.NewRows([]string{"count"}))
		mock.ExpectRollback()

		if err := store.DeleteRole(context.Background(), 4); !errors.Is(err, auth.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
		expectMet(t, mock)
	})

	t.Run("foreign key race", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectBegin()
		mock.ExpectQuery("select count").WithArgs(int64(4)).
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
		mock.ExpectExec("delete from roles").WithArgs(int64(4)).
			WillReturnError(&pgconn.PgError{Code: pgErrForeignKeyViolation})
		mock.ExpectRollback()

		if err := store.DeleteRole(context.Background(), 4); !errors.Is(err, auth.ErrRoleInUse) {
			t.Fatalf("expected ErrRoleInUse, got %v", err)
		}
		expectMet(t, mock)
	})

	t.Run("deleted", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectBegin()
		mock.ExpectQuery("select count").WithArgs(int64(4)).
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
		mock.ExpectExec("delete from roles").WithArgs(int64(4)).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		if err := store.DeleteRole(context.Background(), 4); err != nil {
			t.Fatalf("DeleteRole: %v", err)
		}
		expectMet(t, mock)
	})
}

func TestSetRolePermissions(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectQuery("select 1 from roles").WithArgs(int64(2)).
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))
	mock.ExpectExec("delete from role_permissions").WithArgs(int64(2)).
		WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectQuery("select id from permissions").WithArgs("user:read").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(10)))
	mock.ExpectExec("insert into role_permissions").WithArgs(int64(2), int64(10)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("select id from permissions").WithArgs("user:fly").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectRollback()

	err := store.SetRolePermissions(context.Background(), 2, []string{"user:read", "user:fly"})
	if !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown permission, got %v", err)
	}
	expectMet(t, mock)
}

func TestAssignRoleClassifiesErrors(t *testing.T) {
	cases := []struct {
		code string
		want error
	}{
		{pgErrUniqueViolation, auth.ErrConflict},
		{pgErrForeignKeyViolation, auth.ErrNotFound},
	}
	for _, tc := range cases {
		store, mock := newMockStore(t)
		mock.ExpectQuery("insert into user_roles").WithArgs(int64(1), int64(2)).
			WillReturnError(&pgconn.PgError{Code: tc.code})
		if _, err := store.AssignRole(context.Background(), 1, 2); !errors.Is(err, tc.want) {
			t.Fatalf("code %s: expected %v, got %v", tc.code, tc.want, err)
		}
		expectMet(t, mock)
	}
}

func TestAppendAudit(t *testing.T) {
	store, mock := newMockStore(t)
	ts := time.Date(2026, 4, 2, 12, 0, 0, 0, time.UTC)
	mock.ExpectExec("insert into audit_logs").
		WithArgs(int64(5), audit.ActionAccessDenied, "user", nil, sqlmock.AnyArg(), "127.0.0.1", "curl", ts).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("insert into audit_logs").
		WithArgs(nil, audit.ActionAccessDenied, "role", "9", []byte("{}"), "", "", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(2, 1))

	err := store.Append(context.Background(), audit.Entry{
		UserID:    audit.UserRef(5),
		Action:    audit.ActionAccessDenied,
		Resource:  "user",
		Details:   map[string]any{"code": "INSUFFICIENT_PERMISSION"},
		IPAddress: "127.0.0.1",
		UserAgent: "curl",
		Timestamp: ts,
	})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	err = store.Append(context.Background(), audit.Entry{
		Action:     audit.ActionAccessDenied,
		Resource:   "role",
		ResourceID: audit.ResourceRef("9"),
	})
	if err != nil {
		t.Fatalf("Append anonymous: %v", err)
	}
	expectMet(t, mock)
}

func TestListAuditLogs(t *testing.T) {
	store, mock := newMockStore(t)
	ts := time.Date(2026, 4, 2, 12, 0, 0, 0, time.UTC)
	cols := []string{"id", "user_id", "action", "resource", "resource_id", "details", "ip_address", "user_agent", "timestamp"}
	mock.ExpectQuery("select id, user_id, action.*from audit_logs").
		WithArgs(maxAuditPage).
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow(int64(2), int64(5), audit.ActionAccessDenied, "user", nil, []byte(`{"code":"INSUFFICIENT_ROLE"}`), "10.0.0.1", "ua", ts).
			AddRow(int64(1), nil, audit.ActionAccessDenied, "session", "abc", []byte(`{}`), "", "", ts))

	entries, err := store.ListAuditLogs(context.Background(), 0)
	if err != nil {
		t.Fatalf("ListAuditLogs: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].UserID == nil || *entries[0].UserID != 5 || entries[0].Details["code"] != "INSUFFICIENT_ROLE" {
		t.Fatalf("unexpected first entry: %+v", entries[0])
	}
	if entries[1].UserID != nil || entries[1].ResourceID == nil || *entries[1].ResourceID != "abc" {
		t.Fatalf("unexpected second entry: %+v", entries[1])
	}
	expectMet(t, mock)
}
