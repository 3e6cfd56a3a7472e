package httpapi

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"

	"github.com/GaussAA/fastify-react-app-enhance-sub003/internal/auth"
	"github.com/GaussAA/fastify-react-app-enhance-sub003/internal/obs"
)

// Stable error codes returned in the "code" field.
const (
	CodeMissingToken           = "MISSING_TOKEN"
	CodeTokenExpired           = "TOKEN_EXPIRED"
	CodeInvalidToken           = "INVALID_TOKEN"
	CodeAuthError              = "AUTH_ERROR"
	CodeAuthRequired           = "AUTH_REQUIRED"
	CodeInsufficientRole       = "INSUFFICIENT_ROLE"
	CodeInsufficientPermission = "INSUFFICIENT_PERMISSION"
	CodeRateLimited            = "RATE_LIMITED"

	CodeInvalidCredentials = "INVALID_CREDENTIALS"
	CodeBadRequest         = "BAD_REQUEST"
	CodeValidation         = "VALIDATION_ERROR"
	CodeNotFound           = "NOT_FOUND"
	CodeConflict           = "CONFLICT"
	CodeRoleInUse          = "ROLE_IN_USE"
	CodeInternal           = "INTERNAL_ERROR"
	CodeUnavailable        = "SERVICE_UNAVAILABLE"
)

type errorBody struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

type dataBody struct {
	Success bool `json:"success"`
	Data    any  `json:"data"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeData(w http.ResponseWriter, code int, data any) {
	writeJSON(w, code, dataBody{Success: true, Data: data})
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorBody{Success: false, Message: message, Code: code})
}

// writeServiceError maps domain errors to responses. Unknown errors are
// logged and reported without their text.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, auth.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, CodeValidation, strings.TrimPrefix(err.Error(), "auth: "))
	case errors.Is(err, auth.ErrRoleInUse):
		writeError(w, http.StatusConflict, CodeRoleInUse, "Role is still assigned to users")
	case errors.Is(err, auth.ErrConflict):
		writeError(w, http.StatusConflict, CodeConflict, "Resource already exists")
	case errors.Is(err, auth.ErrNotFound):
		writeError(w, http.StatusNotFound, CodeNotFound, "Resource not found")
	default:
		obs.Ctx(r.Context()).Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
		writeError(w, http.StatusInternalServerError, CodeInternal, "Internal server error")
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// decodeJSON reads exactly one JSON document into dst and validates it.
func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return errors.New("request body too large")
		}
		return errors.New("invalid JSON body")
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return errors.New("unexpected data after JSON body")
	}
	if err := validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return &validationError{field: strings.ToLower(fe.Field()), tag: fe.Tag()}
		}
		return err
	}
	return nil
}

type validationError struct {
	field string
	tag   string
}

func (e *validationError) Error() string {
	return e.field + " failed " + e.tag + " validation"
}

func writeDecodeError(w http.ResponseWriter, err error) {
	var verr *validationError
	if errors.As(err, &verr) {
		writeError(w, http.StatusBadRequest, CodeValidation, verr.Error())
		return
	}
	writeError(w, http.StatusBadRequest, CodeBadRequest, err.Error())
}
