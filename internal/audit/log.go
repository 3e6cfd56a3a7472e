package audit

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
)

// LogStore writes entries as structured audit lines. It backs the recorder
// when no database is configured.
type LogStore struct {
	log zerolog.Logger
}

// NewLogStore tags every line with type=audit.
func NewLogStore(l zerolog.Logger) *LogStore {
	return &LogStore{log: l.With().Str("type", "audit").Logger()}
}

// Append emits one line per entry.
func (s *LogStore) Append(_ context.Context, entry Entry) error {
	if strings.TrimSpace(entry.Action) == "" {
		return errors.New("audit action is required")
	}
	details, err := json.Marshal(entry.Details)
	if err != nil {
		return err
	}
	ev := s.log.Info().
		Str("action", entry.Action).
		Str("resource", entry.Resource).
		Str("ip_address", entry.IPAddress).
		Str("user_agent", entry.UserAgent).
		Str("occurred_at", entry.Timestamp.UTC().Format(time.RFC3339Nano)).
		RawJSON("details", details)
	if entry.UserID != nil {
		ev = ev.Int64("user_id", *entry.UserID)
	}
	if entry.ResourceID != nil {
		ev = ev.Str("resource_id", *entry.ResourceID)
	}
	ev.Msg("audit")
	return nil
}
