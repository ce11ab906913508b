// Copyright (c) 2026 Castellan. All rights reserved.
// Author: ops@castellan.dev

package user

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/castellan/castellan/internal/core/rbac"
	"github.com/castellan/castellan/internal/platform/apperr"
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
	// Self-service endpoints need a valid session but no extra permission.
	router.With(middleware.RequireAuth).Get("/me", handler.me)
	router.With(middleware.RequireAuth).Post("/me/password", handler.selfChangePassword)

	router.With(handler.guard(rbac.PermUserList)).Get("/", handler.list)
	router.With(handler.guard(rbac.PermUserListAll)).Get("/all", handler.listAll)
	router.With(handler.guard(rbac.PermUserList)).Get("/{id}", handler.get)
	router.With(handler.guard(rbac.PermUserList)).Get("/{id}/roles", handler.rolesOfUser)

	router.With(handler.guard(rbac.PermUserCreate)).Post("/", handler.create)
	router.With(handler.guard(rbac.PermUserUpdate)).Patch("/{id}", handler.update)
	router.With(handler.guard(rbac.PermUserUpdate)).Post("/{id}/password", handler.adminChangePassword)
	router.With(handler.guard(rbac.PermUserUnlock)).Post("/{id}/unlock", handler.unlock)
	router.With(handler.guard(rbac.PermUserDisable)).Post("/disable", handler.disable)
	router.With(handler.guard(rbac.PermUserDelete)).Delete("/{id}", handler.softDelete)
	router.With(handler.guard(rbac.PermUserBulkDelete)).Post("/bulk_delete", handler.bulkDelete)
	router.With(handler.guard(rbac.PermUserHardDelete)).Delete("/{id}/hard", handler.hardDelete)

	router.With(handler.guard(rbac.PermUserBindRoles)).Post("/{id}/roles/bind", handler.bindRoles)
	router.With(handler.guard(rbac.PermUserUnbindRoles)).Post("/{id}/roles/unbind", handler.unbindRoles)
	router.With(handler.guard(rbac.PermUserBindBatch)).Post("/roles/bind_batch", handler.bindRolesBatch)
	router.With(handler.guard(rbac.PermUserUnbindBatch)).Post("/roles/unbind_batch", handler.unbindRolesBatch)
}

func (handler *Handler) me(writer http.ResponseWriter, request *http.Request) {
	userID, err := requestutil.RequiredUserID(request)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	entity, err := handler.service.Get(request.Context(), userID)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}
	respond.OK(writer, entity)
}

type selfPasswordRequest struct {
	OldPassword     string `json:"old_password"`
	NewPassword     string `json:"new_password"`
	ConfirmPassword string `json:"confirm_password"`
}

func (handler *Handler) selfChangePassword(writer http.ResponseWriter, request *http.Request) {
	userID, err := requestutil.RequiredUserID(request)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	var input selfPasswordRequest
	if err := requestutil.DecodeJSON(request, &input); err != nil {
		respond.Error(writer, request, err)
		return
	}
	if input.NewPassword != input.ConfirmPassword {
		respond.Error(writer, request, apperr.ValidationError("Passwords do not match"))
		return
	}

	if err := handler.service.SelfChangePassword(request.Context(), userID, input.OldPassword, input.NewPassword); err != nil {
		respond.Error(writer, request, err)
		return
	}
	respond.NoContent(writer)
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

	users, total, err := handler.service.List(request.Context(), filter, paginationParams.PageSize, paginationParams.Offset())
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	respond.Paginated(writer, users, pagination.NewMeta(paginationParams.Page, paginationParams.PageSize, total))
}

func (handler *Handler) get(writer http.ResponseWriter, request *http.Request) {
	entity, err := handler.service.Get(request.Context(), requestutil.ID(request, "id"))
	if err != nil {
		respond.Error(writer, request, err)
		return
	}
	respond.OK(writer, entity)
}

func (handler *Handler) rolesOfUser(writer http.ResponseWriter, request *http.Request) {
	roleIDs, err := handler.service.RoleIDsOfUser(request.Context(), requestutil.ID(request, "id"))
	if err != nil {
		respond.Error(writer, request, err)
		return
	}
	respond.OK(writer, roleIDs)
}

func (handler *Handler) create(writer http.ResponseWriter, request *http.Request) {
	var input CreateInput
	if err := requestutil.DecodeJSON(request, &input); err != nil {
		respond.Error(writer, request, err)
		return
	}

	entity, err := handler.service.Create(request.Context(), input)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}
	respond.Created(writer, entity)
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

type adminPasswordRequest struct {
	NewPassword     string `json:"new_password"`
	ConfirmPassword string `json:"confirm_password"`
}

func (handler *Handler) adminChangePassword(writer http.ResponseWriter, request *http.Request) {
	var input adminPasswordRequest
	if err := requestutil.DecodeJSON(request, &input); err != nil {
		respond.Error(writer, request, err)
		return
	}
	if input.NewPassword != input.ConfirmPassword {
		respond.Error(writer, request, apperr.ValidationError("Passwords do not match"))
		return
	}

	if err := handler.service.AdminChangePassword(request.Context(), requestutil.ID(request, "id"), input.NewPassword); err != nil {
		respond.Error(writer, request, err)
		return
	}
	respond.NoContent(writer)
}

func (handler *Handler) unlock(writer http.ResponseWriter, request *http.Request) {
	if err := handler.service.Unlock(request.Context(), requestutil.ID(request, "id")); err != nil {
		respond.Error(writer, request, err)
		return
	}
	respond.NoContent(writer)
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

type roleIDsRequest struct {
	RoleIDs []string `json:"role_ids"`
}

func (handler *Handler) bindRoles(writer http.ResponseWriter, request *http.Request) {
	var input roleIDsRequest
	if err := requestutil.DecodeJSON(request, &input); err != nil {
		respond.Error(writer, request, err)
		return
	}

	result, err := handler.service.BindRoles(request.Context(), []string{requestutil.ID(request, "id")}, input.RoleIDs)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}
	respond.OK(writer, result)
}

func (handler *Handler) unbindRoles(writer http.ResponseWriter, request *http.Request) {
	var input roleIDsRequest
	if err := requestutil.DecodeJSON(request, &input); err != nil {
		respond.Error(writer, request, err)
		return
	}

	result, err := handler.service.UnbindRoles(request.Context(), []string{requestutil.ID(request, "id")}, input.RoleIDs)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}
	respond.OK(writer, result)
}

type batchBindRequest struct {
	UserIDs []string `json:"user_ids"`
	RoleIDs []string `json:"role_ids"`
}

func (handler *Handler) bindRolesBatch(writer http.ResponseWriter, request *http.Request) {
	var input batchBindRequest
	if err := requestutil.DecodeJSON(request, &input); err != nil {
		respond.Error(writer, request, err)
		return
	}

	result, err := handler.service.BindRoles(request.Context(), input.UserIDs, input.RoleIDs)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}
	respond.OK(writer, result)
}

func (handler *Handler) unbindRolesBatch(writer http.ResponseWriter, request *http.Request) {
	var input batchBindRequest
	if err := requestutil.DecodeJSON(request, &input); err != nil {
		respond.Error(writer, request, err)
		return
	}

	result, err := handler.service.UnbindRoles(request.Context(), input.UserIDs, input.RoleIDs)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}
	respond.OK(writer, result)
}
