package policyfile

import (
	"context"
	"os"
	"path/filepath"
	"slices"
	"testing"
)

func TestEmbeddedPolicyGrantsInheritedPermissions(t *testing.T) {
	src, err := New(Config{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	roles, err := src.UserRoles(context.Background(), 1)
	if err != nil {
		t.Fatalf("UserRoles: %v", err)
	}
	for _, want := range []string{"admin", "superadmin", "user"} {
		if !slices.Contains(roles, want) {
			t.Fatalf("expected role %q in %v", want, roles)
		}
	}
	perms, err := src.UserPermissions(context.Background(), 1)
	if err != nil {
		t.Fatalf("UserPermissions: %v", err)
	}
	for _, want := range []string{"role:delete", "role:read", "user:read"} {
		if !slices.Contains(perms, want) {
			t.Fatalf("expected permission %q in %v", want, perms)
		}
	}
}

func TestUnknownUserHasNothing(t *testing.T) {
	src, err := New(Config{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	roles, err := src.UserRoles(context.Background(), 404)
	if err != nil {
		t.Fatalf("UserRoles: %v", err)
	}
	perms, err := src.UserPermissions(context.Background(), 404)
	if err != nil {
		t.Fatalf("UserPermissions: %v", err)
	}
	if len(roles) != 0 || len(perms) != 0 {
		t.Fatalf("expected no grants, got %v %v", roles, perms)
	}
	if _, err := src.UserRoles(context.Background(), 0); err == nil {
		t.Fatal("expected error for non-positive user id")
	}
}

func TestInlinePolicy(t *testing.T) {
	src, err := NewFromString(`
		p, editor, Report, Export
		p, 9, audit, read
		g, 9, editor
	`)
	if err != nil {
		t.Fatalf("NewFromString: %v", err)
	}
	perms, err := src.UserPermissions(context.Background(), 9)
	if err != nil {
		t.Fatalf("UserPermissions: %v", err)
	}
	if !slices.Equal(perms, []string{"audit:read", "report:export"}) {
		t.Fatalf("unexpected permissions: %v", perms)
	}

	if _, err := NewFromString("p, editor, report"); err == nil {
		t.Fatal("expected error for short policy rule")
	}
	if _, err := NewFromString("x, a, b"); err == nil {
		t.Fatal("expected error for unknown rule type")
	}
}

func TestPolicyFileReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.csv")
	if err := os.WriteFile(path, []byte("p, viewer, user, read\ng, 3, viewer\n"), 0o600); err != nil {
		t.Fatalf("write policy: %v", err)
	}
	src, err := New(Config{PolicyPath: path})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	perms, err := src.UserPermissions(context.Background(), 3)
	if err != nil || !slices.Equal(perms, []string{"user:read"}) {
		t.Fatalf("initial permissions = %v, %v", perms, err)
	}

	if err := os.WriteFile(path, []byte("p, viewer, user, read\np, viewer, role, read\ng, 3, viewer\n"), 0o600); err != nil {
		t.Fatalf("rewrite policy: %v", err)
	}
	if err := src.Reload(); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	perms, err = src.UserPermissions(context.Background(), 3)
	if err != nil || !slices.Equal(perms, []string{"role:read", "user:read"}) {
		t.Fatalf("reloaded permissions = %v, %v", perms, err)
	}

	if _, err := New(Config{PolicyPath: filepath.Join(t.TempDir(), "missing.csv")}); err == nil {
		t.Fatal("expected error for missing policy file")
	}
}

func TestInlinePolicyHonoursQuotedFields(t *testing.T) {
	src, err := NewFromString(`
		# quoted fields are unwrapped by the CSV reader
		p, "auditor", "audit_log", "read"
		g, 4, "auditor"
	`)
	if err != nil {
		t.Fatalf("NewFromString: %v", err)
	}
	perms, err := src.UserPermissions(context.Background(), 4)
	if err != nil {
		t.Fatalf("UserPermissions: %v", err)
	}
	if !slices.Equal(perms, []string{"audit_log:read"}) {
		t.Fatalf("unexpected permissions: %v", perms)
	}
}

func TestEmptyInlinePolicy(t *testing.T) {
	src, err := NewFromString("\n# nothing here\n")
	if err != nil {
		t.Fatalf("NewFromString: %v", err)
	}
	roles, err := src.UserRoles(context.Background(), 1)
	if err != nil || len(roles) != 0 {
		t.Fatalf("expected no roles, got %v %v", roles, err)
	}
}
