// Copyright (c) 2026 Castellan. All rights reserved.
// Author: ops@castellan.dev

package permission

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
	router.With(handler.guard(rbac.PermPermList)).Get("/", handler.list)
	router.With(handler.guard(rbac.PermPermListAll)).Get("/all", handler.listAll)
	router.With(handler.guard(rbac.PermPermList)).Get("/{id}", handler.get)

	router.With(handler.guard(rbac.PermPermCreate)).Post("/", handler.create)
	router.With(handler.guard(rbac.PermPermUpdate)).Patch("/{id}", handler.update)
	router.With(handler.guard(rbac.PermPermDisable)).Post("/disable", handler.disable)
	router.With(handler.guard(rbac.PermPermDelete)).Delete("/{id}", handler.softDelete)
	router.With(handler.guard(rbac.PermPermBulkDelete)).Post("/bulk_delete", handler.bulkDelete)
	router.With(handler.guard(rbac.PermPermHardDelete)).Delete("/{id}/hard", handler.hardDelete)
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

	permissions, total, err := handler.service.List(request.Context(), filter, paginationParams.PageSize, paginationParams.Offset())
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	respond.Paginated(writer, permissions, pagination.NewMeta(paginationParams.Page, paginationParams.PageSize, total))
}

func (handler *Handler) get(writer http.ResponseWriter, request *http.Request) {
	entity, err := handler.service.Get(request.Context(), requestutil.ID(request, "id"))
	if err != nil {
		respond.Error(writer, request, err)
		return
	}
	respond.OK(writer, entity)
}

func (handler *Handler) create(writer http.ResponseWriter, request *http.Request) {
	var input Permission
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
