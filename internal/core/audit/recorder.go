// Copyright (c) 2026 Castellan. All rights reserved.
// Author: ops@castellan.dev

package audit

import (
	"context"
	"log/slog"

	"github.com/castellan/castellan/pkg/uuid"
)

// Recorder writes audit entries without ever failing the request that
// produced them. A broken audit sink degrades to a logged error; it must
// not take the write path down with it.
type Recorder struct {
	store  Store
	logger *slog.Logger
}

func NewRecorder(store Store, logger *slog.Logger) *Recorder {
	return &Recorder{store: store, logger: logger}
}

// Record assigns the entry an ID and persists it. Failures are logged and
// swallowed.
func (recorder *Recorder) Record(context context.Context, entry *Entry) {
	entry.ID = uuid.New()

	if err := recorder.store.Insert(context, entry); err != nil {
		recorder.logger.Error("audit_write_failed",
			slog.String("action", entry.Action),
			slog.String("actor_id", entry.ActorID),
			slog.Any("error", err),
		)
	}
}
