// Copyright (c) 2026 Castellan. All rights reserved.
// Author: ops@castellan.dev

package audit

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
	store Store
	guard middleware.Guard
}

func NewHandler(store Store, guard middleware.Guard) *Handler {
	return &Handler{store: store, guard: guard}
}

func (handler *Handler) RegisterRoutes(router chi.Router) {
	router.With(handler.guard(rbac.PermLogList)).Get("/", handler.list)
	router.With(handler.guard(rbac.PermLogSelf)).Get("/me", handler.listOwn)
}

func (handler *Handler) list(writer http.ResponseWriter, request *http.Request) {
	filter := Filter{
		ActorID: request.URL.Query().Get("actor_id"),
		Action:  request.URL.Query().Get("action"),
		TraceID: request.URL.Query().Get("trace_id"),
	}
	handler.listWith(writer, request, filter)
}

// listOwn restricts the view to the caller's own records, whatever filters
// the query string carries.
func (handler *Handler) listOwn(writer http.ResponseWriter, request *http.Request) {
	userID, err := requestutil.RequiredUserID(request)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	filter := Filter{
		ActorID: userID,
		Action:  request.URL.Query().Get("action"),
	}
	handler.listWith(writer, request, filter)
}

func (handler *Handler) listWith(writer http.ResponseWriter, request *http.Request, filter Filter) {
	paginationParams := pagination.FromRequest(request)

	entries, total, err := handler.store.List(request.Context(), filter, paginationParams.PageSize, paginationParams.Offset())
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	respond.Paginated(writer, entries, pagination.NewMeta(paginationParams.Page, paginationParams.PageSize, total))
}
