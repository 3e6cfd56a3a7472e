package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/GaussAA/fastify-react-app-enhance-sub003/internal/audit"
	"github.com/GaussAA/fastify-react-app-enhance-sub003/internal/auth"
	"github.com/GaussAA/fastify-react-app-enhance-sub003/internal/obs"
)

type loginRequest struct {
	Email    string `json:"email" validate:"required,email,max=255"`
	Password string `json:"password" validate:"required,max=128"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
}

type sessionResponse struct {
	User   auth.User      `json:"user"`
	Tokens auth.TokenPair `json:"tokens"`
}

type identityResponse struct {
	UserID      int64    `json:"user_id"`
	Email       string   `json:"email"`
	Name        string   `json:"name"`
	Roles       []string `json:"roles"`
	Permissions []string `json:"permissions"`
}

func identityView(id auth.Identity) identityResponse {
	return identityResponse{
		UserID:      id.UserID,
		Email:       id.Email,
		Name:        id.Name,
		Roles:       id.Roles(),
		Permissions: id.Permissions(),
	}
}

func (a *API) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeDecodeError(w, err)
		return
	}

	pair, user, err := a.deps.Sessions.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrUnauthorized) {
			a.record(r, audit.Entry{
				Action:   audit.ActionLoginFailed,
				Resource: "session",
				Details:  map[string]any{"email": strings.ToLower(strings.TrimSpace(req.Email))},
			})
			writeError(w, http.StatusUnauthorized, CodeInvalidCredentials, "Invalid email or password")
			return
		}
		writeServiceError(w, r, err)
		return
	}

	a.record(r, audit.Entry{
		UserID:   audit.UserRef(user.ID),
		Action:   audit.ActionLogin,
		Resource: "session",
		Details:  map[string]any{"access_expires_at": pair.AccessExpiresAt.Format(time.RFC3339)},
	})
	writeData(w, http.StatusOK, sessionResponse{User: user, Tokens: pair})
}

func (a *API) refresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := decodeJSON(r, &req); err != nil {
		writeDecodeError(w, err)
		return
	}

	pair, user, err := a.deps.Sessions.Refresh(r.Context(), req.RefreshToken)
	switch {
	case err == nil:
		writeData(w, http.StatusOK, sessionResponse{User: user, Tokens: pair})
	case errors.Is(err, auth.ErrTokenExpired):
		writeError(w, http.StatusUnauthorized, CodeTokenExpired, "Refresh token has expired")
	case errors.Is(err, auth.ErrTokenMalformed),
		errors.Is(err, auth.ErrInvalidSignature),
		errors.Is(err, auth.ErrInvalidTokenType):
		writeError(w, http.StatusUnauthorized, CodeInvalidToken, "Invalid refresh token")
	case errors.Is(err, auth.ErrUnauthorized):
		writeError(w, http.StatusUnauthorized, CodeInvalidCredentials, "Account is not active")
	default:
		writeServiceError(w, r, err)
	}
}

func (a *API) me(w http.ResponseWriter, r *http.Request) {
	id, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, CodeAuthRequired, "Authentication required")
		return
	}
	writeData(w, http.StatusOK, identityView(id))
}

func (a *API) session(w http.ResponseWriter, r *http.Request) {
	id, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		writeData(w, http.StatusOK, map[string]any{"authenticated": false})
		return
	}
	writeData(w, http.StatusOK, map[string]any{
		"authenticated": true,
		"identity":      identityView(id),
	})
}

// record stamps request metadata on an administrative or session entry.
// It shares the guard's panic containment.
func (a *API) record(r *http.Request, e audit.Entry) {
	if e.UserID == nil {
		if uid, ok := auth.UserIDFromContext(r.Context()); ok {
			e.UserID = audit.UserRef(uid)
		}
	}
	if e.Details == nil {
		e.Details = map[string]any{}
	}
	e.Details["path"] = r.URL.Path
	e.Details["method"] = r.Method
	e.IPAddress = clientIP(r)
	e.UserAgent = r.UserAgent()
	defer func() {
		if rec := recover(); rec != nil {
			obs.Ctx(r.Context()).Error().Interface("panic", rec).Str("action", e.Action).Msg("audit recorder panicked")
		}
	}()
	a.deps.Recorder.Record(r.Context(), e)
}
