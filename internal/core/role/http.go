// Copyright (c) 2026 Castellan. All rights reserved.
// Author: ops@castellan.dev

package role

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/castellan/castellan/internal/core/rbac"
	"github.com/castellan/castellan/internal/platform/middleware"
	requestutil "github.com/castellan/castellan/internal/platform/request"
	"github.com/castellan/castellan/internal/platform/respond"
	"github.com/castellan/castellan/pkg/pagination"
)

type Handler struct {
	service *Service
	guard   middleware.Guard
}

func NewHandler(service *Service, guard middleware.Guard) *Handler {
	return &Handler{service: service, guard: guard}
}

func (handler *Handler) RegisterRoutes(router chi.Router) {
	router.With(handler.guard(rbac.PermRoleList)).Get("/", handler.list)
	router.With(handler.guard(rbac.PermRoleListAll)).Get("/all", handler.listAll)
	router.With(handler.guard(rbac.PermRoleList)).Get("/{id}", handler.get)
	router.With(handler.guard(rbac.PermRoleList)).Get("/{id}/permissions", handler.listPermissions)

	router.With(handler.guard(rbac.PermRoleCreate)).Post("/", handler.create)
	router.With(handler.guard(rbac.PermRoleUpdate)).Patch("/{id}", handler.update)
	router.With(handler.guard(rbac.PermRoleDisable)).Post("/disable", handler.disable)
	router.With(handler.guard(rbac.PermRoleDelete)).Delete("/{id}", handler.softDelete)
	router.With(handler.guard(rbac.PermRoleBulkDelete)).Post("/bulk_delete", handler.bulkDelete)
	router.With(handler.guard(rbac.PermRoleHardDelete)).Delete("/{id}/hard", handler.hardDelete)

	router.With(handler.guard(rbac.PermRoleBindPerms)).Post("/{id}/permissions/bind", handler.bindPermissions)
	router.With(handler.guard(rbac.PermRoleUnbindPerms)).Post("/{id}/permissions/unbind", handler.unbindPermissions)
	router.With(handler.guard(rbac.PermRoleBindBatch)).Post("/permissions/bind_batch", handler.bindBatch)
	router.With(handler.guard(rbac.PermRoleUnbindBatch)).Post("/permissions/unbind_batch", handler.unbindBatch)
}

func (handler *Handler) list(writer http.ResponseWriter, request *http.Request) {
	handler.listWith(writer, request, false)
}

func (handler *Handler) listAll(writer http.ResponseWriter, request *http.Request) {
	handler.listWith(writer, request, true)
}

func (handler *Handler) listWith(writer http.ResponseWriter, request *http.Request, includeAll bool) {
	paginationParams := pagination.FromRequest(request)

	filter := Filter{
		Query:      request.URL.Query().Get("q"),
		IncludeAll: includeAll,
	}

	roles, total, err := handler.service.List(request.Context(), filter, paginationParams.PageSize, paginationParams.Offset())
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	respond.Paginated(writer, roles, pagination.NewMeta(paginationParams.Page, paginationParams.PageSize, total))
}

func (handler *Handler) get(writer http.ResponseWriter, request *http.Request) {
	entity, err := handler.service.Get(request.Context(), requestutil.ID(request, "id"))
	if err != nil {
		respond.Error(writer, request, err)
		return
	}
	respond.OK(writer, entity)
}

func (handler *Handler) listPermissions(writer http.ResponseWriter, request *http.Request) {
	permissionIDs, err := handler.service.PermissionIDsOfRole(request.Context(), requestutil.ID(request, "id"))
	if err != nil {
		respond.Error(writer, request, err)
		return
	}
	respond.OK(writer, permissionIDs)
}

func (handler *Handler) create(writer http.ResponseWriter, request *http.Request) {
	var input Role
	if err := requestutil.DecodeJSON(request, &input); err != nil {
		respond.Error(writer, request, err)
		return
	}

	if err := handler.service.Create(request.Context(), &input); err != nil {
		respond.Error(writer, request, err)
		return
	}
	respond.Created(writer, input)
}

type updateRequest struct {
	Version int64 `json:"version"`
	UpdateInput
}

func (handler *Handler) update(writer http.ResponseWriter, request *http.Request) {
	var input updateRequest
	if err := requestutil.DecodeJSON(request, &input); err != nil {
		respond.Error(writer, request, err)
		return
	}

	id := requestutil.ID(request, "id")
	if err := handler.service.Update(request.Context(), id, input.Version, input.UpdateInput); err != nil {
		respond.Error(writer, request, err)
		return
	}

	entity, err := handler.service.Get(request.Context(), id)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}
	respond.OK(writer, entity)
}

func (handler *Handler) disable(writer http.ResponseWriter, request *http.Request) {
	ids, err := requestutil.DecodeIDs(request)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	if err := handler.service.Disable(request.Context(), ids); err != nil {
		respond.Error(writer, request, err)
		return
	}
	respond.NoContent(writer)
}

func (handler *Handler) softDelete(writer http.ResponseWriter, request *http.Request) {
	if err := handler.service.SoftDelete(request.Context(), requestutil.ID(request, "id")); err != nil {
		respond.Error(writer, request, err)
		return
	}
	respond.NoContent(writer)
}

func (handler *Handler) bulkDelete(writer http.ResponseWriter, request *http.Request) {
	ids, err := requestutil.DecodeIDs(request)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	if err := handler.service.BulkSoftDelete(request.Context(), ids); err != nil {
		respond.Error(writer, request, err)
		return
	}
	respond.NoContent(writer)
}

func (handler *Handler) hardDelete(writer http.ResponseWriter, request *http.Request) {
	if err := handler.service.HardDelete(request.Context(), requestutil.ID(request, "id")); err != nil {
		respond.Error(writer, request, err)
		return
	}
	respond.NoContent(writer)
}

type permissionIDsRequest struct {
	PermissionIDs []string `json:"permission_ids"`
}

func (handler *Handler) bindPermissions(writer http.ResponseWriter, request *http.Request) {
	var input permissionIDsRequest
	if err := requestutil.DecodeJSON(request, &input); err != nil {
		respond.Error(writer, request, err)
		return
	}

	result, err := handler.service.BindPermissions(
		request.Context(), []string{requestutil.ID(request, "id")}, input.PermissionIDs,
	)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}
	respond.OK(writer, result)
}

func (handler *Handler) unbindPermissions(writer http.ResponseWriter, request *http.Request) {
	var input permissionIDsRequest
	if err := requestutil.DecodeJSON(request, &input); err != nil {
		respond.Error(writer, request, err)
		return
	}

	result, err := handler.service.UnbindPermissions(
		request.Context(), []string{requestutil.ID(request, "id")}, input.PermissionIDs,
	)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}
	respond.OK(writer, result)
}

type batchBindRequest struct {
	RoleIDs       []string `json:"role_ids"`
	PermissionIDs []string `json:"permission_ids"`
}

func (handler *Handler) bindBatch(writer http.ResponseWriter, request *http.Request) {
	var input batchBindRequest
	if err := requestutil.DecodeJSON(request, &input); err != nil {
		respond.Error(writer, request, err)
		return
	}

	result, err := handler.service.BindPermissions(request.Context(), input.RoleIDs, input.PermissionIDs)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}
	respond.OK(writer, result)
}

func (handler *Handler) unbindBatch(writer http.ResponseWriter, request *http.Request) {
	var input batchBindRequest
	if err := requestutil.DecodeJSON(request, &input); err != nil {
		respond.Error(writer, request, err)
		return
	}

	result, err := handler.service.UnbindPermissions(request.Context(), input.RoleIDs, input.PermissionIDs)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}
	respond.OK(writer, result)
}
