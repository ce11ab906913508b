// Copyright (c) 2026 Castellan. All rights reserved.
// Author: ops@castellan.dev

package sysconfig

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/castellan/castellan/internal/core/rbac"
	"github.com/castellan/castellan/internal/platform/middleware"
	requestutil "github.com/castellan/castellan/internal/platform/request"
	"github.com/castellan/castellan/internal/platform/respond"
)

type Handler struct {
	service *Service
	guard   middleware.Guard
}

func NewHandler(service *Service, guard middleware.Guard) *Handler {
	return &Handler{service: service, guard: guard}
}

func (handler *Handler) RegisterRoutes(router chi.Router) {
	router.With(handler.guard(rbac.PermSysConfigRead)).Get("/", handler.get)
	router.With(handler.guard(rbac.PermSysConfigUpdate)).Patch("/", handler.update)
}

func (handler *Handler) get(writer http.ResponseWriter, request *http.Request) {
	entity, err := handler.service.Get(request.Context())
	if err != nil {
		respond.Error(writer, request, err)
		return
	}
	respond.OK(writer, entity)
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

	entity, err := handler.service.Update(request.Context(), input.Version, input.UpdateInput)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}
	respond.OK(writer, entity)
}
