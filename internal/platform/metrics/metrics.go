// Copyright (c) 2026 Castellan. All rights reserved.
// Author: ops@castellan.dev

// Package metrics defines and registers all custom Prometheus metrics for the
// Castellan API. It is the single source of truth for metric names, labels,
// and help strings.
//
// Metrics are registered with the default registry via promauto at package
// load time; expose them by mounting [Handler] on the router.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "castellan"

// ── HTTP metrics ──────────────────────────────────────────────────────────────

// HTTPRequestsTotal counts finished HTTP requests.
// Labels:
//   - method: HTTP method
//   - path: the matched route pattern, not the raw URL (bounds cardinality)
//   - status: numeric response status
var HTTPRequestsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "Total number of HTTP requests handled.",
	},
	[]string{"method", "path", "status"},
)

// HTTPRequestDuration measures request latency end-to-end.
var HTTPRequestDuration = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "Duration of HTTP requests from receipt to final byte.",
		Buckets:   prometheus.DefBuckets, // .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10
	},
	[]string{"method", "path"},
)

// HTTPRequestsInProgress tracks currently executing requests.
var HTTPRequestsInProgress = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "http_requests_in_progress",
		Help:      "Number of HTTP requests currently being served.",
	},
)

// ── Permission cache metrics ──────────────────────────────────────────────────

// PermissionCacheTotal counts permission lookups by cache outcome.
// Label:
//   - result: "hit", "miss", or "fallback" (cache unreachable, resolved from DB)
var PermissionCacheTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "permission_cache_total",
		Help:      "Total number of permission cache lookups, labelled by outcome.",
	},
	[]string{"result"},
)

// PermissionEpochBumpsTotal counts global permission epoch increments.
// Every RBAC mutation batch bumps the epoch exactly once.
var PermissionEpochBumpsTotal = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "permission_epoch_bumps_total",
		Help:      "Total number of global permission version increments.",
	},
)

// ── Authentication metrics ────────────────────────────────────────────────────

// LoginAttemptsTotal counts login attempts by outcome.
// Label:
//   - result: "success", "bad_credentials", "locked", or "disabled"
var LoginAttemptsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "login_attempts_total",
		Help:      "Total number of login attempts, labelled by outcome.",
	},
	[]string{"result"},
)

// TokenRevocationsTotal counts per-user token epoch bumps (logouts).
var TokenRevocationsTotal = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "token_revocations_total",
		Help:      "Total number of per-user token epoch increments.",
	},
)

// ── Cache infrastructure metrics ──────────────────────────────────────────────

// CacheOperationErrorsTotal counts failed Redis operations.
// Label:
//   - op: short operation name (e.g. "get", "incr", "sadd")
var CacheOperationErrorsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "cache_operation_errors_total",
		Help:      "Total number of failed cache operations, labelled by operation.",
	},
	[]string{"op"},
)

// ── Exposure ──────────────────────────────────────────────────────────────────

// Handler returns the HTTP handler serving the Prometheus text exposition.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RoutePatternFunc resolves the matched route pattern for a request. The
// router supplies this so metric labels use "/api/v1/users/{id}" instead of
// each concrete URL.
type RoutePatternFunc func(request *http.Request) string

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (writer *statusWriter) WriteHeader(code int) {
	writer.status = code
	writer.ResponseWriter.WriteHeader(code)
}

// Instrument records request count, latency, and in-flight gauge for every
// request passing through it.
func Instrument(pattern RoutePatternFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
			HTTPRequestsInProgress.Inc()
			defer HTTPRequestsInProgress.Dec()

			startTime := time.Now()
			wrapped := &statusWriter{ResponseWriter: writer, status: http.StatusOK}

			next.ServeHTTP(wrapped, request)

			path := pattern(request)
			HTTPRequestsTotal.WithLabelValues(
				request.Method, path, strconv.Itoa(wrapped.status),
			).Inc()
			HTTPRequestDuration.WithLabelValues(
				request.Method, path,
			).Observe(time.Since(startTime).Seconds())
		})
	}
}
