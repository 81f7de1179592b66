// Package httpapi is the verifier's HTTP front-end: the operator console,
// the status-code license API, the Trello webhook receiver and the
// operational endpoints.
package httpapi

import (
	"context"
	"crypto/subtle"
	"embed"
	"encoding/json"
	"io/fs"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/hazyhaar/agentcheck/jobs"
	"github.com/hazyhaar/agentcheck/observability"
	"github.com/hazyhaar/agentcheck/trello"
	"github.com/hazyhaar/agentcheck/verify"
)

//go:embed static
var staticFS embed.FS

// Enqueuer accepts card jobs. *jobs.Queue implements it.
type Enqueuer interface {
	Publish(ctx context.Context, card jobs.CardJob) (string, error)
}

// ProbeFunc captures the live CAPTCHA and reads it.
type ProbeFunc func(ctx context.Context) (image []byte, text string, err error)

// Console protects the operator pages with Basic Auth. An empty User
// leaves them open.
type Console struct {
	User         string
	PasswordHash string // bcrypt
}

// Deps wires the router.
type Deps struct {
	Service *verify.Service
	Queue   Enqueuer
	Webhook trello.Config
	Metrics *observability.Metrics
	// Probe enables /debug/ocr when set.
	Probe      ProbeFunc
	Console    Console
	Middleware []func(http.Handler) http.Handler
	// Ready reports readiness for /healthz. Nil means always ready.
	Ready  func(ctx context.Context) error
	Logger *slog.Logger
}

// NewRouter builds the HTTP handler.
func NewRouter(d Deps) http.Handler {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	h := &handlers{d: d}

	r := chi.NewRouter()
	for _, mw := range d.Middleware {
		r.Use(mw)
	}

	r.Get("/healthz", h.health)
	r.Handle("/metrics", d.Metrics.Handler())

	r.Post("/api/verify-agent-license", h.verifyLicense)

	r.Head("/webhook/trello", h.webhookOK)
	r.Get("/webhook/trello", h.webhookOK)
	r.Post("/webhook/trello", h.webhook)

	r.Group(func(r chi.Router) {
		r.Use(basicAuth(d.Console))

		static, _ := fs.Sub(staticFS, "static")
		r.Get("/", func(w http.ResponseWriter, r *http.Request) {
			http.ServeFileFS(w, r, static, "index.html")
		})
		r.Handle("/static/*", http.StripPrefix("/static/", http.FileServerFS(static)))

		r.Get("/check", h.check)
		if d.Probe != nil {
			r.Get("/debug/ocr", h.debugOCR)
		}
	})
	return r
}

func basicAuth(c Console) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if c.User == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, pass, ok := r.BasicAuth()
			if !ok || subtle.ConstantTimeCompare([]byte(user), []byte(c.User)) != 1 ||
				bcrypt.CompareHashAndPassword([]byte(c.PasswordHash), []byte(pass)) != nil {
				w.Header().Set("WWW-Authenticate", `Basic realm="agentcheck", charset="UTF-8"`)
				writeJSON(w, http.StatusUnauthorized, map[string]any{"success": false, "message": "需要登入"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}
