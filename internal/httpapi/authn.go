package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/GaussAA/fastify-react-app-enhance-sub003/internal/audit"
	"github.com/GaussAA/fastify-react-app-enhance-sub003/internal/auth"
	"github.com/GaussAA/fastify-react-app-enhance-sub003/internal/obs"
)

const (
	authHeader = "Authorization"
	bearer     = "bearer "
)

// TokenVerifier is the part of auth.TokenCodec the guard needs.
type TokenVerifier interface {
	VerifyAccessToken(raw string) (*auth.Claims, error)
}

// GuardConfig lists the collaborators of a Guard. Every field is required.
type GuardConfig struct {
	Tokens    TokenVerifier
	Resolver  auth.PermissionResolver
	Evaluator *auth.PolicyEvaluator
	Recorder  audit.Recorder
}

// Guard is the authorization middleware chain. It authenticates bearer
// tokens, resolves the caller's grants, evaluates route policies and audits
// every denial.
type Guard struct {
	tokens    TokenVerifier
	resolver  auth.PermissionResolver
	evaluator *auth.PolicyEvaluator
	recorder  audit.Recorder
}

func NewGuard(cfg GuardConfig) (*Guard, error) {
	switch {
	case cfg.Tokens == nil:
		return nil, errors.New("httpapi: token verifier is required")
	case cfg.Resolver == nil:
		return nil, errors.New("httpapi: permission resolver is required")
	case cfg.Evaluator == nil:
		return nil, errors.New("httpapi: policy evaluator is required")
	case cfg.Recorder == nil:
		return nil, errors.New("httpapi: audit recorder is required")
	}
	return &Guard{
		tokens:    cfg.Tokens,
		resolver:  cfg.Resolver,
		evaluator: cfg.Evaluator,
		recorder:  cfg.Recorder,
	}, nil
}

// denial is a terminal decision of the chain.
type denial struct {
	status  int
	code    string
	message string
	details map[string]any
}

// Authenticate requires a valid access token and stores the caller's
// identity in the request context.
func (g *Guard) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := bearerToken(r.Header.Get(authHeader))
		id, d := g.identify(r.Context(), raw)
		if d != nil {
			g.deny(w, r, "authenticate", nil, Policy{}, d)
			return
		}
		obs.ObserveDecision("authenticate", "allow", "")
		ctx := auth.ContextWithIdentity(r.Context(), id)
		ctx = auth.ContextWithToken(ctx, raw)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// OptionalAuth attaches an identity when a valid token is present and
// otherwise continues anonymously.
func (g *Guard) OptionalAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := bearerToken(r.Header.Get(authHeader))
		if raw == "" {
			next.ServeHTTP(w, r)
			return
		}
		id, d := g.identify(r.Context(), raw)
		if d != nil {
			obs.Ctx(r.Context()).Debug().Str("code", d.code).Msg("optional auth skipped")
			next.ServeHTTP(w, r)
			return
		}
		ctx := auth.ContextWithIdentity(r.Context(), id)
		ctx = auth.ContextWithToken(ctx, raw)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// identify runs Unauthenticated -> TokenVerified -> IdentityResolved. The
// resolver is only consulted after the token verified.
func (g *Guard) identify(ctx context.Context, raw string) (auth.Identity, *denial) {
	if raw == "" {
		return auth.Identity{}, &denial{http.StatusUnauthorized, CodeMissingToken, "Access token is required", nil}
	}
	claims, err := g.tokens.VerifyAccessToken(raw)
	if err != nil {
		return auth.Identity{}, tokenDenial(ctx, err)
	}

	sub := claims.Subject()
	roles, perms, err := g.resolver.Grants(ctx, sub.UserID)
	if err != nil {
		obs.Ctx(ctx).Error().Err(err).Int64("user_id", sub.UserID).Msg("resolve grants failed")
		return auth.Identity{}, authError()
	}
	return auth.NewIdentity(sub, roles, perms), nil
}

func tokenDenial(ctx context.Context, err error) *denial {
	switch {
	case errors.Is(err, auth.ErrTokenExpired):
		return &denial{http.StatusUnauthorized, CodeTokenExpired, "Access token has expired", nil}
	case errors.Is(err, auth.ErrTokenMalformed),
		errors.Is(err, auth.ErrInvalidSignature),
		errors.Is(err, auth.ErrInvalidTokenType):
		return &denial{http.StatusUnauthorized, CodeInvalidToken, "Invalid access token", nil}
	default:
		obs.Ctx(ctx).Error().Err(err).Msg("token verification failed")
		return authError()
	}
}

func authError() *denial {
	return &denial{http.StatusInternalServerError, CodeAuthError, "Authentication failed", nil}
}

// bearerToken returns the token of a "Bearer <token>" header, or "".
func bearerToken(header string) string {
	header = strings.TrimSpace(header)
	if len(header) < len(bearer) || !strings.EqualFold(header[:len(bearer)], bearer) {
		return ""
	}
	return strings.TrimSpace(header[len(bearer):])
}

// recordSafe hands the entry to the recorder. A panicking recorder is
// contained here so it can never change the response.
func (g *Guard) recordSafe(ctx context.Context, entry audit.Entry) {
	defer func() {
		if rec := recover(); rec != nil {
			obs.Ctx(ctx).Error().Interface("panic", rec).Str("action", entry.Action).Msg("audit recorder panicked")
		}
	}()
	g.recorder.Record(ctx, entry)
}
