/*
server.go - HTTP router and middleware configuration

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request
  4. CORS:       Cross-origin requests for the frontend

ROUTE GROUPS:
  /api/assets/*         Assets, history, renewal, attachments
  /api/import/*         Import dry run and commit
  /api/admin/*          Notification settings, recipients, manual sweep
  /api/policies/*       Notification log per policy
  /api/dashboard        Portfolio summary
  /api/scenarios/*      Demo data (only with server.demo_scenarios)
  /metrics              Prometheus
  /*                    Static files (frontend)

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"
	"os"
	"path/filepath"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/warp/insurance-tracker/config"
)

// NewRouter creates a router with all routes configured. gatherer backs
// /metrics; nil uses the default registry.
func NewRouter(h *Handler, cfg config.ServerConfig, gatherer prometheus.Gatherer) *chi.Mux {
	r := chi.NewRouter()

	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:5173", "http://localhost:3000"}
	}

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Route("/assets", func(r chi.Router) {
			r.Get("/", h.ListAssets)
			r.Post("/", h.CreateAsset)
			r.Put("/{id}", h.UpdateAsset)
			r.Delete("/{id}", h.DeleteAsset)
			r.Get("/{id}/history", h.GetHistory)
			r.Post("/{id}/renew", h.RenewPolicy)
			r.Get("/{id}/files", h.ListFiles)
			r.Post("/{id}/files", h.AddFiles)
		})

		r.Route("/import", func(r chi.Router) {
			r.Post("/dry-run", h.ImportDryRun)
			r.Post("/commit", h.ImportCommit)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Get("/settings", h.GetSettings)
			r.Put("/settings", h.UpdateSettings)
			r.Get("/recipients", h.ListRecipients)
			r.Post("/recipients", h.AddRecipient)
			r.Delete("/recipients/{id}", h.DeleteRecipient)
			r.Post("/notifications/run", h.RunNotifications)
		})

		r.Get("/policies/{id}/notifications", h.ListPolicyNotifications)
		r.Get("/dashboard", h.GetDashboard)

		if cfg.DemoScenarios {
			r.Route("/scenarios", func(r chi.Router) {
				r.Get("/", h.ListScenarios)
				r.Post("/load", h.LoadScenario)
			})
		}
	})

	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	mountStatic(r)
	return r
}

// mountStatic serves the built frontend from ./web/dist (or next to the
// executable) with index.html as the SPA fallback.
func mountStatic(r chi.Router) {
	staticDir := "./web/dist"
	if _, err := os.Stat(staticDir); os.IsNotExist(err) {
		exe, _ := os.Executable()
		staticDir = filepath.Join(filepath.Dir(exe), "web", "dist")
	}
	if _, err := os.Stat(staticDir); err != nil {
		r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "text/html")
			_, _ = w.Write([]byte(`<!DOCTYPE html>
<html>
<head><title>Insurance Tracker</title></head>
<body style="font-family: system-ui; max-width: 800px; margin: 50px auto; padding: 20px;">
<h1>Insurance Tracker API</h1>
<ul>
<li><a href="/api/assets">/api/assets</a> - Assets with current policy</li>
<li><a href="/api/dashboard">/api/dashboard</a> - Dashboard</li>
<li><a href="/metrics">/metrics</a> - Prometheus metrics</li>
</ul>
</body>
</html>`))
		})
		return
	}

	fileServer := http.FileServer(http.Dir(staticDir))
	r.Get("/*", func(w http.ResponseWriter, r *http.Request) {
		fullPath := filepath.Join(staticDir, filepath.Clean(r.URL.Path))
		if _, err := os.Stat(fullPath); os.IsNotExist(err) {
			http.ServeFile(w, r, filepath.Join(staticDir, "index.html"))
			return
		}
		fileServer.ServeHTTP(w, r)
	})
}
