// Copyright (c) 2026 Castellan. All rights reserved.
// Author: ops@castellan.dev

package auth

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/castellan/castellan/internal/platform/middleware"
	requestutil "github.com/castellan/castellan/internal/platform/request"
	"github.com/castellan/castellan/internal/platform/respond"
	"github.com/castellan/castellan/internal/platform/validate"
)

type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

func (handler *Handler) RegisterRoutes(router chi.Router) {
	router.Post("/login", handler.login)
	router.Post("/refresh", handler.refresh)
	router.With(middleware.RequireAuth).Post("/logout", handler.logout)
}

type loginRequest struct {
	// Username also accepts the account's phone number.
	Username string `json:"username"`
	Password string `json:"password"`
}

func (handler *Handler) login(writer http.ResponseWriter, request *http.Request) {
	var input loginRequest
	if err := requestutil.DecodeJSON(request, &input); err != nil {
		respond.Error(writer, request, err)
		return
	}

	validator := &validate.Validator{}
	validator.Required("username", input.Username)
	validator.Required("password", input.Password)
	if err := validator.Err(); err != nil {
		respond.Error(writer, request, err)
		return
	}

	pair, err := handler.service.Login(request.Context(), input.Username, input.Password)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}
	respond.OK(writer, pair)
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

func (handler *Handler) refresh(writer http.ResponseWriter, request *http.Request) {
	var input refreshRequest
	if err := requestutil.DecodeJSON(request, &input); err != nil {
		respond.Error(writer, request, err)
		return
	}

	validator := &validate.Validator{}
	validator.Required("refresh_token", input.RefreshToken)
	if err := validator.Err(); err != nil {
		respond.Error(writer, request, err)
		return
	}

	pair, err := handler.service.Refresh(request.Context(), input.RefreshToken)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}
	respond.OK(writer, pair)
}

func (handler *Handler) logout(writer http.ResponseWriter, request *http.Request) {
	userID, err := requestutil.RequiredUserID(request)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	if err := handler.service.Logout(request.Context(), userID); err != nil {
		respond.Error(writer, request, err)
		return
	}
	respond.NoContent(writer)
}
