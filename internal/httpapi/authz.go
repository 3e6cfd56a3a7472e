package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/GaussAA/fastify-react-app-enhance-sub003/internal/audit"
	"github.com/GaussAA/fastify-react-app-enhance-sub003/internal/auth"
	"github.com/GaussAA/fastify-react-app-enhance-sub003/internal/obs"
)

type policyKind int

const (
	kindAuthenticated policyKind = iota
	kindRoles
	kindPermissions
)

// Policy describes what a route requires of an authenticated caller.
// Construct it with RolePolicy, PermissionPolicy, PermissionsPolicy or
// Authenticated; the zero value only requires an identity.
type Policy struct {
	kind       policyKind
	roles      []string
	reqs       []auth.Requirement
	comb       auth.Combinator
	resource   string
	auditGrant bool
}

// Authenticated requires an identity and nothing else.
func Authenticated() Policy { return Policy{kind: kindAuthenticated} }

// RolePolicy passes when the caller holds any of roles. It panics on an
// empty set: a route without role requirements must not use a role guard.
func RolePolicy(roles ...string) Policy {
	if len(roles) == 0 {
		panic("httpapi: RolePolicy requires at least one role")
	}
	return Policy{kind: kindRoles, roles: append([]string(nil), roles...)}
}

// PermissionPolicy requires a single resource:action permission.
func PermissionPolicy(resource, action string) Policy {
	return PermissionsPolicy(auth.CombinatorAll, auth.Require(resource, action))
}

// PermissionsPolicy combines several permissions with ALL or ANY. It panics
// on an empty list or an unknown combinator.
func PermissionsPolicy(comb auth.Combinator, reqs ...auth.Requirement) Policy {
	if len(reqs) == 0 {
		panic("httpapi: PermissionsPolicy requires at least one permission")
	}
	if !comb.Valid() {
		panic(fmt.Sprintf("httpapi: unknown combinator %q", comb))
	}
	return Policy{
		kind:     kindPermissions,
		reqs:     append([]auth.Requirement(nil), reqs...),
		comb:     comb,
		resource: reqs[0].Resource,
	}
}

// WithGrantAudit records access_granted entries for allowed requests too.
func (p Policy) WithGrantAudit() Policy {
	p.auditGrant = true
	return p
}

// OnResource overrides the resource name written to audit entries.
func (p Policy) OnResource(resource string) Policy {
	p.resource = resource
	return p
}

func (p Policy) guardName() string {
	switch p.kind {
	case kindRoles:
		return "role"
	case kindPermissions:
		if len(p.reqs) == 1 {
			return "permission"
		}
		return "permissions"
	default:
		return "authenticated"
	}
}

// Require returns middleware enforcing p. It must run after Authenticate.
func (g *Guard) Require(p Policy) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, ok := auth.IdentityFromContext(r.Context())
			if !ok {
				g.deny(w, r, p.guardName(), nil, p, &denial{
					status:  http.StatusUnauthorized,
					code:    CodeAuthRequired,
					message: "Authentication required",
				})
				return
			}
			if d := g.evaluate(r.Context(), id, p); d != nil {
				g.deny(w, r, p.guardName(), &id, p, d)
				return
			}
			obs.ObserveDecision(p.guardName(), "allow", "")
			if p.auditGrant {
				g.recordSafe(r.Context(), g.entry(r, audit.ActionAccessGranted, &id, p, grantDetails(id, p)))
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireRole passes callers holding any of roles.
func (g *Guard) RequireRole(roles ...string) func(http.Handler) http.Handler {
	return g.Require(RolePolicy(roles...))
}

// RequirePermission passes callers holding resource:action.
func (g *Guard) RequirePermission(resource, action string) func(http.Handler) http.Handler {
	return g.Require(PermissionPolicy(resource, action))
}

// RequirePermissions passes callers satisfying reqs under comb.
func (g *Guard) RequirePermissions(comb auth.Combinator, reqs ...auth.Requirement) func(http.Handler) http.Handler {
	return g.Require(PermissionsPolicy(comb, reqs...))
}

// evaluate runs PolicyEvaluated for an identity. A nil result allows.
func (g *Guard) evaluate(ctx context.Context, id auth.Identity, p Policy) *denial {
	switch p.kind {
	case kindRoles:
		if auth.RoleCheck(id.Roles(), p.roles) {
			return nil
		}
		return &denial{
			status:  http.StatusForbidden,
			code:    CodeInsufficientRole,
			message: "Insufficient role. Required one of: " + strings.Join(p.roles, ", "),
			details: map[string]any{
				"required_roles": p.roles,
				"held_roles":     id.Roles(),
			},
		}
	case kindPermissions:
		var (
			ok  bool
			err error
		)
		if len(p.reqs) == 1 {
			ok, err = g.evaluator.PermissionCheck(ctx, id.UserID, p.reqs[0].Resource, p.reqs[0].Action)
		} else {
			ok, err = g.evaluator.MultiPermissionCheck(ctx, id.UserID, p.reqs, p.comb)
		}
		if err != nil {
			obs.Ctx(ctx).Error().Err(err).Int64("user_id", id.UserID).Msg("permission evaluation failed")
			return &denial{
				status:  http.StatusInternalServerError,
				code:    CodeAuthError,
				message: "Authorization check failed",
				details: permissionDetails(id, p),
			}
		}
		if ok {
			return nil
		}
		names := auth.RequirementNames(p.reqs)
		msg := "Insufficient permissions. Required: " + names[0]
		if len(names) > 1 {
			msg = fmt.Sprintf("Insufficient permissions. Required %s of: %s", p.comb, strings.Join(names, ", "))
		}
		return &denial{
			status:  http.StatusForbidden,
			code:    CodeInsufficientPermission,
			message: msg,
			details: permissionDetails(id, p),
		}
	default:
		return nil
	}
}

func permissionDetails(id auth.Identity, p Policy) map[string]any {
	return map[string]any{
		"required_permissions": auth.RequirementNames(p.reqs),
		"combinator":           string(p.comb),
		"held_permissions":     id.Permissions(),
	}
}

func grantDetails(id auth.Identity, p Policy) map[string]any {
	switch p.kind {
	case kindRoles:
		return map[string]any{"required_roles": p.roles, "held_roles": id.Roles()}
	case kindPermissions:
		return permissionDetails(id, p)
	default:
		return map[string]any{}
	}
}

// deny records exactly one access_denied entry and then writes the
// structured error.
func (g *Guard) deny(w http.ResponseWriter, r *http.Request, guard string, id *auth.Identity, p Policy, d *denial) {
	obs.ObserveDecision(guard, "deny", d.code)
	details := make(map[string]any, len(d.details)+4)
	for k, v := range d.details {
		details[k] = v
	}
	details["code"] = d.code
	details["guard"] = guard
	g.recordSafe(r.Context(), g.entry(r, audit.ActionAccessDenied, id, p, details))
	writeError(w, d.status, d.code, d.message)
}

func (g *Guard) entry(r *http.Request, action string, id *auth.Identity, p Policy, details map[string]any) audit.Entry {
	details["path"] = r.URL.Path
	details["method"] = r.Method
	e := audit.Entry{
		Action:     action,
		Resource:   p.resource,
		ResourceID: audit.ResourceRef(chi.URLParam(r, "id")),
		Details:    details,
		IPAddress:  clientIP(r),
		UserAgent:  r.UserAgent(),
	}
	if e.Resource == "" {
		e.Resource = obs.RoutePattern(r)
	}
	if id != nil {
		e.UserID = audit.UserRef(id.UserID)
	}
	return e
}
