// Package audit records authorization decisions as an append-only trail.
// Recording is a side channel: it never reports failure to the caller.
package audit

import (
	"context"
	"time"
)

// Actions written by the authorization chain.
const (
	ActionAccessDenied  = "access_denied"
	ActionAccessGranted = "access_granted"
)

// Administrative actions written by the RBAC API.
const (
	ActionRoleCreated            = "role_created"
	ActionRoleDeleted            = "role_deleted"
	ActionRolePermissionsUpdated = "role_permissions_updated"
	ActionPermissionCreated      = "permission_created"
	ActionRoleAssigned           = "role_assigned"
)

// Session actions written by the login endpoints.
const (
	ActionLogin       = "login"
	ActionLoginFailed = "login_failed"
)

// Entry is one immutable audit record.
type Entry struct {
	ID         int64          `json:"id,omitempty"`
	UserID     *int64         `json:"user_id"`
	Action     string         `json:"action"`
	Resource   string         `json:"resource"`
	ResourceID *string        `json:"resource_id"`
	Details    map[string]any `json:"details"`
	IPAddress  string         `json:"ip_address"`
	UserAgent  string         `json:"user_agent"`
	Timestamp  time.Time      `json:"timestamp"`
}

// Store persists entries.
type Store interface {
	Append(ctx context.Context, entry Entry) error
}

// Recorder accepts entries without blocking or failing the caller.
type Recorder interface {
	Record(ctx context.Context, entry Entry)
}

// UserRef returns a pointer suitable for Entry.UserID; zero means anonymous.
func UserRef(id int64) *int64 {
	if id <= 0 {
		return nil
	}
	return &id
}

// ResourceRef returns a pointer suitable for Entry.ResourceID.
func ResourceRef(id string) *string {
	if id == "" {
		return nil
	}
	return &id
}

type discard struct{}

func (discard) Record(context.Context, Entry) {}

// Discard is a Recorder that drops every entry.
var Discard Recorder = discard{}
