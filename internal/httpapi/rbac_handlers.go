package httpapi

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/GaussAA/fastify-react-app-enhance-sub003/internal/audit"
	"github.com/GaussAA/fastify-react-app-enhance-sub003/internal/auth"
)

const defaultAuditPage = 100

type createRoleRequest struct {
	Name        string `json:"name" validate:"required,min=2,max=50"`
	DisplayName string `json:"display_name" validate:"omitempty,max=100"`
}

type setRolePermissionsRequest struct {
	Permissions []string `json:"permissions" validate:"required,dive,required"`
}

type createPermissionRequest struct {
	Resource string `json:"resource" validate:"required,max=50"`
	Action   string `json:"action" validate:"required,max=50"`
}

type assignRoleRequest struct {
	RoleID int64 `json:"role_id" validate:"required,gt=0"`
}

type userGrantsResponse struct {
	UserID      int64    `json:"user_id"`
	Roles       []string `json:"roles"`
	Permissions []string `json:"permissions"`
}

func pathID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

func writeBadID(w http.ResponseWriter) {
	writeError(w, http.StatusBadRequest, CodeValidation, "id must be a positive integer")
}

func (a *API) listRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := a.deps.RBAC.ListRoles(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if roles == nil {
		roles = []auth.Role{}
	}
	writeData(w, http.StatusOK, roles)
}

func (a *API) createRole(w http.ResponseWriter, r *http.Request) {
	var req createRoleRequest
	if err := decodeJSON(r, &req); err != nil {
		writeDecodeError(w, err)
		return
	}
	role, err := a.deps.RBAC.CreateRole(r.Context(), req.Name, req.DisplayName)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	a.record(r, audit.Entry{
		Action:     audit.ActionRoleCreated,
		Resource:   "role",
		ResourceID: audit.ResourceRef(strconv.FormatInt(role.ID, 10)),
		Details:    map[string]any{"name": role.Name},
	})
	w.Header().Set("Location", "/v1/roles/"+strconv.FormatInt(role.ID, 10))
	writeData(w, http.StatusCreated, role)
}

func (a *API) deleteRole(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeBadID(w)
		return
	}
	if err := a.deps.RBAC.DeleteRole(r.Context(), id); err != nil {
		writeServiceError(w, r, err)
		return
	}
	a.purgeCache()
	a.record(r, audit.Entry{
		Action:     audit.ActionRoleDeleted,
		Resource:   "role",
		ResourceID: audit.ResourceRef(chi.URLParam(r, "id")),
	})
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) setRolePermissions(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeBadID(w)
		return
	}
	var req setRolePermissionsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeDecodeError(w, err)
		return
	}
	if err := a.deps.RBAC.SetRolePermissions(r.Context(), id, req.Permissions); err != nil {
		writeServiceError(w, r, err)
		return
	}
	a.purgeCache()
	a.record(r, audit.Entry{
		Action:     audit.ActionRolePermissionsUpdated,
		Resource:   "role",
		ResourceID: audit.ResourceRef(chi.URLParam(r, "id")),
		Details:    map[string]any{"permissions": req.Permissions},
	})
	writeData(w, http.StatusOK, map[string]any{"role_id": id, "permissions": req.Permissions})
}

func (a *API) listPermissions(w http.ResponseWriter, r *http.Request) {
	perms, err := a.deps.RBAC.ListPermissions(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if perms == nil {
		perms = []auth.Permission{}
	}
	writeData(w, http.StatusOK, perms)
}

func (a *API) createPermission(w http.ResponseWriter, r *http.Request) {
	var req createPermissionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeDecodeError(w, err)
		return
	}
	perm, err := a.deps.RBAC.CreatePermission(r.Context(), req.Resource, req.Action)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	a.record(r, audit.Entry{
		Action:     audit.ActionPermissionCreated,
		Resource:   "permission",
		ResourceID: audit.ResourceRef(strconv.FormatInt(perm.ID, 10)),
		Details:    map[string]any{"name": perm.Name},
	})
	writeData(w, http.StatusCreated, perm)
}

func (a *API) assignRole(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathID(r)
	if !ok {
		writeBadID(w)
		return
	}
	var req assignRoleRequest
	if err := decodeJSON(r, &req); err != nil {
		writeDecodeError(w, err)
		return
	}
	assignment, err := a.deps.RBAC.AssignRole(r.Context(), userID, req.RoleID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if a.deps.Cache != nil {
		a.deps.Cache.Invalidate(userID)
	}
	a.record(r, audit.Entry{
		Action:     audit.ActionRoleAssigned,
		Resource:   "user_role",
		ResourceID: audit.ResourceRef(chi.URLParam(r, "id")),
		Details:    map[string]any{"role_id": req.RoleID},
	})
	writeData(w, http.StatusCreated, assignment)
}

func (a *API) userPermissions(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathID(r)
	if !ok {
		writeBadID(w)
		return
	}
	roles, perms, err := a.deps.Resolver.Grants(r.Context(), userID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if roles == nil {
		roles = []string{}
	}
	if perms == nil {
		perms = []string{}
	}
	writeData(w, http.StatusOK, userGrantsResponse{UserID: userID, Roles: roles, Permissions: perms})
}

func (a *API) listAuditLogs(w http.ResponseWriter, r *http.Request) {
	limit := defaultAuditPage
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, CodeValidation, "limit must be a positive integer")
			return
		}
		limit = n
	}
	entries, err := a.deps.AuditLog.ListAuditLogs(r.Context(), limit)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if entries == nil {
		entries = []audit.Entry{}
	}
	writeData(w, http.StatusOK, entries)
}

// purgeCache drops every cached grant; role-wide changes can affect any user.
func (a *API) purgeCache() {
	if a.deps.Cache != nil {
		a.deps.Cache.Purge()
	}
}
