// Copyright (c) 2026 Castellan. All rights reserved.
// Author: ops@castellan.dev

// Package audit records who did what: every mutating request is written to
// an append-only log with the actor, route, outcome, and latency.
package audit

import "time"

// Entry is one audit record. Entries are immutable once written; there is
// no update or delete path.
type Entry struct {
	ID        string    `json:"id"`
	ActorID   string    `json:"actor_id"`
	Action    string    `json:"action"`
	TargetID  *string   `json:"target_id"`
	Path      string    `json:"path"`
	Method    string    `json:"method"`
	IP        string    `json:"ip"`
	UserAgent string    `json:"user_agent"`
	Status    int       `json:"status"`
	LatencyMS int64     `json:"latency_ms"`
	TraceID   string    `json:"trace_id"`
	Error     *string   `json:"error"`
	CreatedAt time.Time `json:"created_at"`
}

// Filter holds the parameters for a paginated audit search.
type Filter struct {
	ActorID string
	Action  string
	TraceID string
}
