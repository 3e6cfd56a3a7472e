package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/GaussAA/fastify-react-app-enhance-sub003/internal/obs"
)

type memoryStore struct {
	mu      sync.Mutex
	entries []Entry
	err     error
	block   chan struct{}
}

func (m *memoryStore) Append(_ context.Context, e Entry) error {
	if m.block != nil {
		<-m.block
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.entries = append(m.entries, e)
	return nil
}

func (m *memoryStore) snapshot() []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Entry(nil), m.entries...)
}

func closeRecorder(t *testing.T, r *AsyncRecorder) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := r.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestAsyncRecorderWritesEntries(t *testing.T) {
	store := &memoryStore{}
	fixed := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	rec, err := NewAsyncRecorder(store, WithClock(func() time.Time { return fixed }))
	if err != nil {
		t.Fatalf("NewAsyncRecorder: %v", err)
	}

	details := map[string]any{"path": "/v1/roles"}
	ctx := obs.WithRequestID(context.Background(), "req-1")
	rec.Record(ctx, Entry{UserID: UserRef(7), Action: ActionAccessDenied, Resource: "role", Details: details})
	details["path"] = "mutated"
	closeRecorder(t, rec)

	entries := store.snapshot()
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	got := entries[0]
	if got.Action != ActionAccessDenied || *got.UserID != 7 || !got.Timestamp.Equal(fixed) {
		t.Fatalf("unexpected entry: %+v", got)
	}
	if got.Details["path"] != "/v1/roles" {
		t.Fatalf("details must be copied at record time, got %v", got.Details["path"])
	}
	if got.Details["request_id"] != "req-1" {
		t.Fatalf("request id missing: %v", got.Details)
	}
}

func TestAsyncRecorderSwallowsStoreFailure(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)
	store := &memoryStore{err: errors.New("disk full")}
	rec, err := NewAsyncRecorder(store, WithLogger(&logger))
	if err != nil {
		t.Fatalf("NewAsyncRecorder: %v", err)
	}

	rec.Record(context.Background(), Entry{Action: ActionAccessDenied, Resource: "user"})
	closeRecorder(t, rec)

	if !bytes.Contains(buf.Bytes(), []byte("audit write failed")) || !bytes.Contains(buf.Bytes(), []byte("disk full")) {
		t.Fatalf("expected operational log of the failure, got %q", buf.String())
	}
}

func TestAsyncRecorderDropsWhenFull(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)
	store := &memoryStore{block: make(chan struct{})}
	rec, err := NewAsyncRecorder(store, WithBufferSize(1), WithLogger(&logger))
	if err != nil {
		t.Fatalf("NewAsyncRecorder: %v", err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 10; i++ {
			rec.Record(context.Background(), Entry{Action: ActionAccessDenied, Resource: "user"})
		}
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Record blocked on a full buffer")
	}

	close(store.block)
	closeRecorder(t, rec)

	if !bytes.Contains(buf.Bytes(), []byte("audit entry dropped")) {
		t.Fatalf("expected drop warning, got %q", buf.String())
	}
	if n := len(store.snapshot()); n < 1 || n > 2 {
		t.Fatalf("expected 1-2 written entries, got %d", n)
	}
}

func TestAsyncRecorderAfterClose(t *testing.T) {
	store := &memoryStore{}
	rec, err := NewAsyncRecorder(store)
	if err != nil {
		t.Fatalf("NewAsyncRecorder: %v", err)
	}
	closeRecorder(t, rec)
	rec.Record(context.Background(), Entry{Action: ActionAccessDenied})
	closeRecorder(t, rec)
	if n := len(store.snapshot()); n != 0 {
		t.Fatalf("expected no writes after close, got %d", n)
	}
}

func TestLogStoreWritesAuditLine(t *testing.T) {
	var buf bytes.Buffer
	store := NewLogStore(zerolog.New(&buf))

	err := store.Append(context.Background(), Entry{
		UserID:     UserRef(42),
		Action:     ActionAccessDenied,
		Resource:   "user",
		ResourceID: ResourceRef("9"),
		Details:    map[string]any{"required_permissions": []string{"user:write"}},
		IPAddress:  "10.0.0.1",
		Timestamp:  time.Now(),
	})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("log not valid JSON: %v", err)
	}
	if line["type"] != "audit" || line["action"] != ActionAccessDenied {
		t.Fatalf("unexpected line: %v", line)
	}
	if line["user_id"] != float64(42) || line["resource_id"] != "9" {
		t.Fatalf("unexpected ids: %v %v", line["user_id"], line["resource_id"])
	}
	details, ok := line["details"].(map[string]any)
	if !ok || details["required_permissions"] == nil {
		t.Fatalf("details missing: %v", line["details"])
	}

	if err := store.Append(context.Background(), Entry{}); err == nil {
		t.Fatal("expected error for empty action")
	}
}
