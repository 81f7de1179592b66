package shield

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"
)

// MaintenanceMode refuses requests while the maintenance flag is set, for
// instance while the registry changes its form. The flag lives in the
// single-row maintenance table (see Schema) and is cached in memory.
// A missing table or row means maintenance is off.
type MaintenanceMode struct {
	db      *sql.DB
	active  atomic.Bool
	message atomic.Value // string
	exclude []string
}

// NewMaintenanceMode creates a maintenance mode checker. Paths matching any of
// excludePrefixes are never blocked (useful for health checks, static assets).
func NewMaintenanceMode(db *sql.DB, excludePrefixes ...string) *MaintenanceMode {
	m := &MaintenanceMode{
		db:      db,
		exclude: excludePrefixes,
	}
	m.message.Store(defaultMaintenanceMessage)
	m.reload()
	return m
}

// Active reports whether maintenance mode is currently on.
func (m *MaintenanceMode) Active() bool {
	return m.active.Load()
}

// Message returns the current maintenance message.
func (m *MaintenanceMode) Message() string {
	s, _ := m.message.Load().(string)
	return s
}

// Set writes the flag and applies it at once. An empty message keeps the
// stored one.
func (m *MaintenanceMode) Set(ctx context.Context, active bool, message string) error {
	on := 0
	if active {
		on = 1
	}
	_, err := m.db.ExecContext(ctx, `
		INSERT INTO maintenance (id, active, message) VALUES (1, ?, COALESCE(NULLIF(?, ''), ?))
		ON CONFLICT(id) DO UPDATE SET active = excluded.active,
			message = COALESCE(NULLIF(?, ''), maintenance.message)`,
		on, message, defaultMaintenanceMessage, message)
	if err != nil {
		return err
	}
	m.reload()
	return nil
}

// Reload rereads the flag now.
func (m *MaintenanceMode) Reload() { m.reload() }

// StartReloader starts a background goroutine that reloads the maintenance
// flag every 5 seconds. Stops when done is closed.
func (m *MaintenanceMode) StartReloader(done <-chan struct{}) {
	tick := time.NewTicker(5 * time.Second)
	go func() {
		defer tick.Stop()
		for {
			select {
			case <-done:
				return
			case <-tick.C:
				m.reload()
			}
		}
	}()
}

func (m *MaintenanceMode) reload() {
	var active int
	var message string
	err := m.db.QueryRow(`SELECT active, message FROM maintenance WHERE id = 1`).Scan(&active, &message)
	if err != nil {
		// Table missing or empty → maintenance off (normal state).
		if m.active.Load() {
			slog.Info("maintenance: flag cleared (table missing or empty)")
		}
		m.active.Store(false)
		return
	}

	was := m.active.Load()
	m.active.Store(active == 1)
	if message != "" {
		m.message.Store(message)
	}

	if active == 1 && !was {
		slog.Warn("maintenance: mode ENABLED", "message", message)
	} else if active != 1 && was {
		slog.Info("maintenance: mode DISABLED")
	}
}

// Middleware answers 503 while maintenance is on. API clients get the
// status-code 999 JSON answer; excluded prefixes pass through.
func (m *MaintenanceMode) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !m.active.Load() {
			next.ServeHTTP(w, r)
			return
		}
		for _, prefix := range m.exclude {
			if strings.HasPrefix(r.URL.Path, prefix) {
				next.ServeHTTP(w, r)
				return
			}
		}
		refuse(w, r, http.StatusServiceUnavailable, "300", m.Message())
	})
}

const defaultMaintenanceMessage = "系統維護中，請稍後再試。"
