// Package shield is the HTTP middleware in front of the verifier: HEAD
// handling, security headers, body limits, request tracing, SQLite-backed
// rate limits and maintenance mode.
//
//	stack, mm, rl := shield.DefaultStack(db)
//	mm.StartReloader(done)
//	rl.StartReloader(done)
//	for _, mw := range stack {
//	    r.Use(mw)
//	}
package shield

import (
	"database/sql"
	"net/http"
)

type contextKey string

// LoggerKey is the context key for the per-request structured logger.
const LoggerKey contextKey = "shield_logger"

// MaxBodyBytes caps request bodies. Every body the service accepts (a
// license number, a webhook event) is far smaller.
const MaxBodyBytes = 64 * 1024

// DefaultStack returns the middleware stack in order: Maintenance,
// HeadToGet, SecurityHeaders, MaxBody, TraceID, RateLimiter. Health and
// metrics probes bypass maintenance and rate limits.
func DefaultStack(db *sql.DB) ([]func(http.Handler) http.Handler, *MaintenanceMode, *RateLimiter) {
	rl := NewRateLimiter(db, "/healthz", "/metrics", "/static/")
	mm := NewMaintenanceMode(db, "/healthz", "/metrics", "/webhook/")
	return []func(http.Handler) http.Handler{
		mm.Middleware,
		HeadToGet,
		SecurityHeaders(DefaultHeaders()),
		MaxBody(MaxBodyBytes),
		TraceID,
		rl.Middleware,
	}, mm, rl
}
