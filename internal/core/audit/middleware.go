// Copyright (c) 2026 Castellan. All rights reserved.
// Author: ops@castellan.dev

package audit

import (
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/castellan/castellan/internal/platform/ctxkey"
	"github.com/castellan/castellan/internal/platform/middleware"
	"github.com/castellan/castellan/pkg/pointer"
)

/*
Middleware records every mutating request (POST, PUT, PATCH, DELETE) as an
audit entry after the handler finishes.

Description: The action is derived from the method and the chi route
pattern ("POST /api/v1/roles/{id}/permissions/bind"), so two requests to
the same endpoint share an action regardless of the concrete IDs. The
target, when the route carries an {id} parameter, is captured separately.
Reads are not recorded; the audit log answers "who changed what", not
"who looked at what".

Parameters:
  - recorder: *Recorder

Returns:
  - func(http.Handler) http.Handler: Middleware
*/
func Middleware(recorder *Recorder) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
			if !isMutating(request.Method) {
				next.ServeHTTP(writer, request)
				return
			}

			startedAt := time.Now()
			recording := &recordingWriter{ResponseWriter: writer, status: http.StatusOK}

			next.ServeHTTP(recording, request)

			entry := &Entry{
				ActorID:   actorID(request),
				Action:    action(request),
				TargetID:  targetID(request),
				Path:      request.URL.Path,
				Method:    request.Method,
				IP:        clientIP(request),
				UserAgent: request.UserAgent(),
				Status:    recording.status,
				LatencyMS: time.Since(startedAt).Milliseconds(),
				TraceID:   traceID(request),
			}
			if recording.status >= http.StatusBadRequest {
				entry.Error = pointer.To(http.StatusText(recording.status))
			}

			recorder.Record(request.Context(), entry)
		})
	}
}

func isMutating(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}

func action(request *http.Request) string {
	routeContext := chi.RouteContext(request.Context())
	if routeContext != nil {
		if pattern := routeContext.RoutePattern(); pattern != "" {
			return request.Method + " " + pattern
		}
	}
	return request.Method + " " + request.URL.Path
}

func actorID(request *http.Request) string {
	if claims := middleware.GetUser(request.Context()); claims != nil {
		return claims.UserID
	}
	// Unauthenticated mutations (login attempts) are recorded without an actor.
	return ""
}

func targetID(request *http.Request) *string {
	routeContext := chi.RouteContext(request.Context())
	if routeContext == nil {
		return nil
	}
	if id := routeContext.URLParam("id"); id != "" {
		return &id
	}
	return nil
}

func traceID(request *http.Request) string {
	if id, ok := request.Context().Value(ctxkey.KeyRequestID).(string); ok {
		return id
	}
	return "-"
}

func clientIP(request *http.Request) string {
	// The RealIP middleware has already rewritten RemoteAddr when a trusted
	// forwarding header was present.
	if host, _, err := net.SplitHostPort(request.RemoteAddr); err == nil {
		return host
	}
	return request.RemoteAddr
}

type recordingWriter struct {
	http.ResponseWriter
	status int
}

func (writer *recordingWriter) WriteHeader(status int) {
	writer.status = status
	writer.ResponseWriter.WriteHeader(status)
}
