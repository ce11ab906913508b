// Copyright (c) 2026 Castellan. All rights reserved.
// Author: ops@castellan.dev

package audit

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/castellan/castellan/internal/platform/ctxkey"
	"github.com/castellan/castellan/internal/platform/sec"
)

type memoryStore struct {
	entries []*Entry
	err     error
}

func (store *memoryStore) Insert(_ context.Context, entry *Entry) error {
	if store.err != nil {
		return store.err
	}
	store.entries = append(store.entries, entry)
	return nil
}

func (store *memoryStore) List(_ context.Context, _ Filter, _, _ int) ([]*Entry, int, error) {
	return store.entries, len(store.entries), nil
}

func newTestRouter(store *memoryStore) chi.Router {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	recorder := NewRecorder(store, logger)

	router := chi.NewRouter()
	router.Use(Middleware(recorder))
	router.Get("/roles/{id}", func(writer http.ResponseWriter, _ *http.Request) {
		writer.WriteHeader(http.StatusOK)
	})
	router.Post("/roles/{id}/bind", func(writer http.ResponseWriter, _ *http.Request) {
		writer.WriteHeader(http.StatusOK)
	})
	router.Delete("/roles/{id}", func(writer http.ResponseWriter, _ *http.Request) {
		writer.WriteHeader(http.StatusConflict)
	})
	return router
}

func TestMiddlewareRecordsMutations(t *testing.T) {
	store := &memoryStore{}
	router := newTestRouter(store)

	request := httptest.NewRequest(http.MethodPost, "/roles/role-1/bind", nil)
	request.RemoteAddr = "10.1.2.3:50000"
	ctx := context.WithValue(request.Context(), ctxkey.KeyUser, &sec.AuthClaims{UserID: "user-1"})
	ctx = context.WithValue(ctx, ctxkey.KeyRequestID, "trace-abc")
	router.ServeHTTP(httptest.NewRecorder(), request.WithContext(ctx))

	require.Len(t, store.entries, 1)
	entry := store.entries[0]
	assert.Equal(t, "POST /roles/{id}/bind", entry.Action)
	assert.Equal(t, "user-1", entry.ActorID)
	require.NotNil(t, entry.TargetID)
	assert.Equal(t, "role-1", *entry.TargetID)
	assert.Equal(t, "/roles/role-1/bind", entry.Path)
	assert.Equal(t, "10.1.2.3", entry.IP)
	assert.Equal(t, "trace-abc", entry.TraceID)
	assert.Equal(t, http.StatusOK, entry.Status)
	assert.NotEmpty(t, entry.ID)
	assert.Nil(t, entry.Error)
}

func TestMiddlewareSkipsReads(t *testing.T) {
	store := &memoryStore{}
	router := newTestRouter(store)

	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/roles/role-1", nil))

	assert.Empty(t, store.entries)
}

func TestMiddlewareRecordsFailureOutcome(t *testing.T) {
	store := &memoryStore{}
	router := newTestRouter(store)

	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodDelete, "/roles/role-9", nil))

	require.Len(t, store.entries, 1)
	entry := store.entries[0]
	assert.Equal(t, http.StatusConflict, entry.Status)
	require.NotNil(t, entry.Error)
	assert.Equal(t, "Conflict", *entry.Error)
	assert.Empty(t, entry.ActorID, "anonymous mutations carry no actor")
}

func TestRecorderSwallowsStoreFailures(t *testing.T) {
	store := &memoryStore{err: errors.New("sink down")}
	router := newTestRouter(store)

	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, httptest.NewRequest(http.MethodPost, "/roles/role-1/bind", nil))

	assert.Equal(t, http.StatusOK, recorder.Code, "audit failure must not fail the request")
}
