package auth

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/GaussAA/fastify-react-app-enhance-sub003/internal/obs"
)

const (
	defaultBreakerFailures = 5
	defaultBreakerTimeout  = 15 * time.Second
	defaultLoadTimeout     = 5 * time.Second
	maxCachedUsers         = 10000
)

// PermissionResolver produces the effective roles and permissions of a user.
type PermissionResolver interface {
	GetUserPermissions(ctx context.Context, userID int64) ([]string, error)
	GetUserRoles(ctx context.Context, userID int64) ([]string, error)
	HasPermission(ctx context.Context, userID int64, resource, action string) (bool, error)
	Grants(ctx context.Context, userID int64) (roles, permissions []string, err error)
}

type grant struct {
	roles       []string
	permissions []string
	permSet     map[string]struct{}
	expiresAt   time.Time
}

func (g grant) has(name string) bool {
	_, ok := g.permSet[name]
	return ok
}

// Resolver reads through a PermissionSource with an optional short TTL cache.
// A cached answer may grant access but never deny it: a miss is re-checked
// against the source before HasPermission returns false.
type Resolver struct {
	source PermissionSource
	ttl    time.Duration
	now    func() time.Time

	breakerFailures uint32
	breakerTimeout  time.Duration
	breaker         *gobreaker.CircuitBreaker[grant]

	loadTimeout time.Duration
	group       singleflight.Group

	mu    sync.RWMutex
	cache map[int64]grant
}

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// WithCacheTTL enables caching of resolved grants. Zero disables the cache.
func WithCacheTTL(ttl time.Duration) ResolverOption {
	return func(r *Resolver) {
		if ttl > 0 {
			r.ttl = ttl
		}
	}
}

// WithBreaker tunes the circuit breaker guarding the source.
func WithBreaker(consecutiveFailures uint32, openTimeout time.Duration) ResolverOption {
	return func(r *Resolver) {
		if consecutiveFailures > 0 {
			r.breakerFailures = consecutiveFailures
		}
		if openTimeout > 0 {
			r.breakerTimeout = openTimeout
		}
	}
}

// WithLoadTimeout bounds a shared source load. The load outlives the caller
// that started it, so it runs under this deadline instead of the caller's.
func WithLoadTimeout(d time.Duration) ResolverOption {
	return func(r *Resolver) {
		if d > 0 {
			r.loadTimeout = d
		}
	}
}

// WithResolverClock overrides the time source (useful for tests).
func WithResolverClock(fn func() time.Time) ResolverOption {
	return func(r *Resolver) {
		if fn != nil {
			r.now = fn
		}
	}
}

// NewResolver constructs a Resolver over the given source.
func NewResolver(source PermissionSource, opts ...ResolverOption) (*Resolver, error) {
	if source == nil {
		return nil, errors.New("permission source is required")
	}
	r := &Resolver{
		source:          source,
		now:             time.Now,
		breakerFailures: defaultBreakerFailures,
		breakerTimeout:  defaultBreakerTimeout,
		loadTimeout:     defaultLoadTimeout,
		cache:           make(map[int64]grant),
	}
	for _, opt := range opts {
		opt(r)
	}
	failures := r.breakerFailures
	r.breaker = gobreaker.NewCircuitBreaker[grant](gobreaker.Settings{
		Name:    "permission-source",
		Timeout: r.breakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			obs.Logger().Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("permission source circuit breaker state changed")
		},
		IsSuccessful: func(err error) bool {
			// A caller giving up is not a source failure.
			return err == nil || errors.Is(err, context.Canceled)
		},
	})
	return r, nil
}

// Grants returns the roles and permissions of the user from a single
// snapshot.
func (r *Resolver) Grants(ctx context.Context, userID int64) (roles, permissions []string, err error) {
	g, _, err := r.lookup(ctx, userID, false)
	if err != nil {
		return nil, nil, err
	}
	return append([]string(nil), g.roles...), append([]string(nil), g.permissions...), nil
}

// GetUserPermissions returns the sorted permission names held by the user.
func (r *Resolver) GetUserPermissions(ctx context.Context, userID int64) ([]string, error) {
	g, _, err := r.lookup(ctx, userID, false)
	if err != nil {
		return nil, err
	}
	return append([]string(nil), g.permissions...), nil
}

// GetUserRoles returns the sorted role names held by the user.
func (r *Resolver) GetUserRoles(ctx context.Context, userID int64) ([]string, error) {
	g, _, err := r.lookup(ctx, userID, false)
	if err != nil {
		return nil, err
	}
	return append([]string(nil), g.roles...), nil
}

// HasPermission reports whether the user holds resource:action.
func (r *Resolver) HasPermission(ctx context.Context, userID int64, resource, action string) (bool, error) {
	name := PermissionName(resource, action)
	g, cached, err := r.lookup(ctx, userID, false)
	if err != nil {
		return false, err
	}
	if g.has(name) || !cached {
		return g.has(name), nil
	}
	g, _, err = r.lookup(ctx, userID, true)
	if err != nil {
		return false, err
	}
	return g.has(name), nil
}

// Invalidate drops the cached grant of one user.
func (r *Resolver) Invalidate(userID int64) {
	r.mu.Lock()
	delete(r.cache, userID)
	r.mu.Unlock()
}

// Purge drops every cached grant.
func (r *Resolver) Purge() {
	r.mu.Lock()
	r.cache = make(map[int64]grant)
	r.mu.Unlock()
}

func (r *Resolver) lookup(ctx context.Context, userID int64, fresh bool) (grant, bool, error) {
	if userID <= 0 {
		return grant{}, false, fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	if r.ttl > 0 && !fresh {
		r.mu.RLock()
		g, ok := r.cache[userID]
		r.mu.RUnlock()
		hit := ok && r.now().Before(g.expiresAt)
		obs.ObserveCache(hit)
		if hit {
			return g, true, nil
		}
	}

	// Joined callers share one load, so it must not die with whichever
	// request happened to start it. Each caller still stops waiting on its
	// own context.
	ch := r.group.DoChan(strconv.FormatInt(userID, 10), func() (any, error) {
		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.loadTimeout)
		defer cancel()
		return r.breaker.Execute(func() (grant, error) {
			return r.load(loadCtx, userID)
		})
	})
	var res singleflight.Result
	select {
	case <-ctx.Done():
		return grant{}, false, fmt.Errorf("resolve grants for user %d: %w", userID, ctx.Err())
	case res = <-ch:
	}
	if res.Err != nil {
		return grant{}, false, fmt.Errorf("resolve grants for user %d: %w", userID, res.Err)
	}
	g := res.Val.(grant)
	if r.ttl > 0 {
		r.store(userID, g)
	}
	return g, false, nil
}

func (r *Resolver) load(ctx context.Context, userID int64) (grant, error) {
	var roles, perms []string
	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		var err error
		roles, err = r.source.UserRoles(egCtx, userID)
		return err
	})
	eg.Go(func() error {
		var err error
		perms, err = r.source.UserPermissions(egCtx, userID)
		return err
	})
	if err := eg.Wait(); err != nil {
		return grant{}, err
	}
	g := grant{
		roles:       dedupeNames(roles),
		permissions: dedupeNames(perms),
		expiresAt:   r.now().Add(r.ttl),
	}
	g.permSet = toSet(g.permissions)
	return g, nil
}

func (r *Resolver) store(userID int64, g grant) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.cache) >= maxCachedUsers {
		now := r.now()
		for id, cached := range r.cache {
			if !now.Before(cached.expiresAt) {
				delete(r.cache, id)
			}
		}
		if len(r.cache) >= maxCachedUsers {
			r.cache = make(map[int64]grant)
		}
	}
	r.cache[userID] = g
}
