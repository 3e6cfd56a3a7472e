package httpapi

import (
	"context"
	"errors"
	"net/http"
	"net/netip"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/GaussAA/fastify-react-app-enhance-sub003/internal/audit"
	"github.com/GaussAA/fastify-react-app-enhance-sub003/internal/auth"
	"github.com/GaussAA/fastify-react-app-enhance-sub003/internal/obs"
)

const serviceName = "authz-api"

// ReadyProbe reports whether backing services are reachable.
type ReadyProbe interface {
	Ping(ctx context.Context) error
}

// CacheInvalidator drops cached grants after RBAC changes.
type CacheInvalidator interface {
	Invalidate(userID int64)
	Purge()
}

// AuditLister reads back the audit trail.
type AuditLister interface {
	ListAuditLogs(ctx context.Context, limit int) ([]audit.Entry, error)
}

// Deps wires the HTTP layer. Guard and Resolver are required; the other
// services are optional and their routes are not mounted when nil.
type Deps struct {
	Guard    *Guard
	Resolver auth.PermissionResolver
	Recorder audit.Recorder

	Sessions *auth.Service
	RBAC     *auth.RBACService
	Cache    CacheInvalidator
	AuditLog AuditLister
	Ready    ReadyProbe

	RateLimiter    *RateLimiter
	TrustedProxies []netip.Prefix
	CORSOrigins    []string
	MaxBodyBytes   int64
	Version        string
}

// API is the HTTP layer.
type API struct {
	deps   Deps
	router chi.Router
}

func New(deps Deps) (*API, error) {
	if deps.Guard == nil {
		return nil, errors.New("httpapi: guard is required")
	}
	if deps.Resolver == nil {
		return nil, errors.New("httpapi: resolver is required")
	}
	if deps.Recorder == nil {
		deps.Recorder = audit.Discard
	}
	if deps.MaxBodyBytes <= 0 {
		deps.MaxBodyBytes = 1 << 20
	}
	a := &API{deps: deps}
	a.router = a.routes()
	return a, nil
}

// Handler returns the root http.Handler.
func (a *API) Handler() http.Handler { return a.router }

func (a *API) routes() chi.Router {
	g := a.deps.Guard
	r := chi.NewRouter()

	r.Use(ClientIP(a.deps.TrustedProxies))
	r.Use(RequestID)
	r.Use(chimiddleware.Recoverer)
	r.Use(Logging)
	r.Use(obs.Instrument)
	r.Use(SecurityHeaders)
	r.Use(CORS(a.deps.CORSOrigins))
	r.Use(MaxBodyBytes(a.deps.MaxBodyBytes))

	r.Get("/healthz", a.healthz)
	r.Get("/readyz", a.readyz)
	r.Method(http.MethodGet, "/metrics", obs.Handler())

	r.Route("/v1", func(r chi.Router) {
		if a.deps.RateLimiter != nil {
			r.Use(a.deps.RateLimiter.Middleware)
		}

		r.Route("/auth", func(r chi.Router) {
			if a.deps.Sessions != nil {
				r.Post("/login", a.login)
				r.Post("/refresh", a.refresh)
			}
			r.With(g.Authenticate).Get("/me", a.me)
			r.With(g.OptionalAuth).Get("/session", a.session)
		})

		r.Group(func(r chi.Router) {
			r.Use(g.Authenticate)

			r.With(g.RequirePermission("user", "read")).Get("/users/{id}/permissions", a.userPermissions)

			if a.deps.RBAC != nil {
				r.With(g.RequirePermission("role", "read")).Get("/roles", a.listRoles)
				r.With(g.RequirePermission("role", "create")).Post("/roles", a.createRole)
				r.With(g.RequirePermissions(auth.CombinatorAll,
					auth.Require("role", "delete"),
					auth.Require("role", "update"),
				)).Delete("/roles/{id}", a.deleteRole)
				r.With(g.RequirePermissions(auth.CombinatorAll,
					auth.Require("role", "update"),
					auth.Require("permission", "read"),
				)).Put("/roles/{id}/permissions", a.setRolePermissions)

				r.With(g.RequirePermissions(auth.CombinatorAny,
					auth.Require("permission", "read"),
					auth.Require("role", "read"),
				)).Get("/permissions", a.listPermissions)
				r.With(g.RequirePermission("permission", "create")).Post("/permissions", a.createPermission)

				r.With(g.Require(RolePolicy(auth.RoleAdmin, auth.RoleSuperAdmin).OnResource("user_role"))).
					Post("/users/{id}/roles", a.assignRole)
			}

			if a.deps.AuditLog != nil {
				r.With(g.Require(RolePolicy(auth.RoleAdmin).OnResource("audit_log").WithGrantAudit())).
					Get("/audit-logs", a.listAuditLogs)
			}
		})
	})

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, CodeNotFound, "Route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed")
	})
	return r
}

func (a *API) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
		"version": a.deps.Version,
		"time":    time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) readyz(w http.ResponseWriter, r *http.Request) {
	if a.deps.Ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := a.deps.Ready.Ping(ctx); err != nil {
			obs.Ctx(r.Context()).Warn().Err(err).Msg("readiness check failed")
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "not_ready"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}
