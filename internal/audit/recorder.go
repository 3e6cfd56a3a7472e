package audit

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/GaussAA/fastify-react-app-enhance-sub003/internal/obs"
)

const (
	defaultBufferSize   = 1024
	defaultWriteTimeout = 5 * time.Second
)

// AsyncRecorder queues entries on a buffered channel and writes them to a
// Store from a single worker. A full queue drops the entry with a warning.
type AsyncRecorder struct {
	store        Store
	writeTimeout time.Duration
	log          *zerolog.Logger
	now          func() time.Time

	mu      sync.RWMutex
	closed  bool
	entries chan Entry
	done    chan struct{}
}

// Option configures an AsyncRecorder.
type Option func(*AsyncRecorder)

// WithBufferSize sets the queue capacity.
func WithBufferSize(n int) Option {
	return func(r *AsyncRecorder) {
		if n > 0 {
			r.entries = make(chan Entry, n)
		}
	}
}

// WithWriteTimeout bounds a single store write.
func WithWriteTimeout(d time.Duration) Option {
	return func(r *AsyncRecorder) {
		if d > 0 {
			r.writeTimeout = d
		}
	}
}

// WithLogger sets the operational logger used for write failures.
func WithLogger(l *zerolog.Logger) Option {
	return func(r *AsyncRecorder) {
		if l != nil {
			r.log = l
		}
	}
}

// WithClock overrides the timestamp source.
func WithClock(fn func() time.Time) Option {
	return func(r *AsyncRecorder) {
		if fn != nil {
			r.now = fn
		}
	}
}

// NewAsyncRecorder starts the worker. Call Close to drain and stop it.
func NewAsyncRecorder(store Store, opts ...Option) (*AsyncRecorder, error) {
	if store == nil {
		return nil, errors.New("audit store is required")
	}
	r := &AsyncRecorder{
		store:        store,
		writeTimeout: defaultWriteTimeout,
		log:          obs.Logger(),
		now:          time.Now,
		entries:      make(chan Entry, defaultBufferSize),
		done:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	go r.run()
	return r, nil
}

// Record enqueues the entry and returns immediately.
func (r *AsyncRecorder) Record(ctx context.Context, entry Entry) {
	entry = r.prepare(ctx, entry)

	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		r.drop(entry, "recorder closed")
		return
	}
	select {
	case r.entries <- entry:
	default:
		r.drop(entry, "audit buffer full")
	}
}

// Close stops intake and waits for queued entries to be written or ctx to end.
func (r *AsyncRecorder) Close(ctx context.Context) error {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.entries)
	}
	r.mu.Unlock()

	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *AsyncRecorder) run() {
	defer close(r.done)
	for entry := range r.entries {
		r.write(entry)
	}
}

func (r *AsyncRecorder) write(entry Entry) {
	ctx, cancel := context.WithTimeout(context.Background(), r.writeTimeout)
	defer cancel()
	if err := r.store.Append(ctx, entry); err != nil {
		obs.ObserveAudit("failed")
		r.log.Error().Err(err).
			Str("action", entry.Action).
			Str("resource", entry.Resource).
			Msg("audit write failed")
		return
	}
	obs.ObserveAudit("written")
}

func (r *AsyncRecorder) drop(entry Entry, reason string) {
	obs.ObserveAudit("dropped")
	r.log.Warn().
		Str("action", entry.Action).
		Str("resource", entry.Resource).
		Str("reason", reason).
		Msg("audit entry dropped")
}

// prepare copies the details map so later caller mutations cannot reach the
// queued entry, and stamps time and request id.
func (r *AsyncRecorder) prepare(ctx context.Context, entry Entry) Entry {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = r.now().UTC()
	}
	details := make(map[string]any, len(entry.Details)+1)
	for k, v := range entry.Details {
		details[k] = v
	}
	if rid := obs.RequestIDFromContext(ctx); rid != "" {
		if _, ok := details["request_id"]; !ok {
			details["request_id"] = rid
		}
	}
	entry.Details = details
	return entry
}
