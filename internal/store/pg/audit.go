package pg

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/goccy/go-json"

	"github.com/GaussAA/fastify-react-app-enhance-sub003/internal/audit"
)

var _ audit.Store = (*Store)(nil)

const maxAuditPage = 500

// Append inserts one row into audit_logs.
func (s *Store) Append(ctx context.Context, e audit.Entry) error {
	if s.db == nil {
		return errNoDB
	}
	details := []byte("{}")
	if len(e.Details) > 0 {
		b, err := json.Marshal(e.Details)
		if err != nil {
			return fmt.Errorf("marshal audit details: %w", err)
		}
		details = b
	}
	ts := e.Timestamp
	if ts.IsZero() {
		ts = s.now()
	}
	_, err := s.db.ExecContext(ctx, `
		insert into audit_logs (user_id, action, resource, resource_id, details, ip_address, user_agent, timestamp)
		values ($1, $2, $3, $4, $5, $6, $7, $8)
	`, nullInt64(e.UserID), e.Action, e.Resource, nullString(e.ResourceID), details, e.IPAddress, e.UserAgent, ts.UTC())
	return err
}

// ListAuditLogs returns the newest entries first.
func (s *Store) ListAuditLogs(ctx context.Context, limit int) ([]audit.Entry, error) {
	if s.db == nil {
		return nil, errNoDB
	}
	if limit <= 0 || limit > maxAuditPage {
		limit = maxAuditPage
	}
	rows, err := s.db.QueryContext(ctx, `
		select id, user_id, action, resource, resource_id, details, ip_address, user_agent, timestamp
		from audit_logs
		order by timestamp desc, id desc
		limit $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []audit.Entry
	for rows.Next() {
		var (
			e          audit.Entry
			userID     sql.NullInt64
			resourceID sql.NullString
			raw        []byte
		)
		if err := rows.Scan(&e.ID, &userID, &e.Action, &e.Resource, &resourceID, &raw, &e.IPAddress, &e.UserAgent, &e.Timestamp); err != nil {
			return nil, err
		}
		if userID.Valid {
			e.UserID = &userID.Int64
		}
		if resourceID.Valid {
			e.ResourceID = &resourceID.String
		}
		e.Details = map[string]any{}
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &e.Details); err != nil {
				return nil, fmt.Errorf("decode audit details: %w", err)
			}
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

func nullInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

func nullString(v *string) sql.NullString {
	if v == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *v, Valid: true}
}
