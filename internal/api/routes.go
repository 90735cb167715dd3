// Package api provides the HTTP control surface for a HessMap session.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/klauspost/compress/gzhttp"

	"github.com/hessmap/server/internal/cache"
	"github.com/hessmap/server/internal/controller"
	"github.com/hessmap/server/internal/metrics"
	"github.com/hessmap/server/internal/params"
	"github.com/hessmap/server/internal/query"
	"github.com/hessmap/server/internal/render"
)

// Refresher re-runs the current cycle.
type Refresher interface {
	Refresh()
}

// RouterConfig contains router configuration.
type RouterConfig struct {
	Params      *params.Set
	Surface     *controller.Surface
	Rasterizer  *render.Rasterizer
	Cache       *cache.Manager
	Refresher   Refresher
	CORSOrigins []string
	Title       string
	Static      fs.FS
	Logger      *slog.Logger
	// MaxWait bounds long-polling on /api/state.
	MaxWait time.Duration
}

type handlers struct {
	cfg    RouterConfig
	logger *slog.Logger
}

// NewRouter creates a new HTTP router.
func NewRouter(cfg RouterConfig) *chi.Mux {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.MaxWait <= 0 {
		cfg.MaxWait = 60 * time.Second
	}
	h := &handlers{cfg: cfg, logger: cfg.Logger.With("component", "api")}

	r := chi.NewRouter()

	// Middleware
	r.Use(metrics.Middleware)
	r.Use(loggingMiddleware(h.logger))
	r.Use(middleware.Recoverer)

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(func(next http.Handler) http.Handler { return gzhttp.GzipHandler(next) })

			r.Get("/session", h.session)
			r.Get("/controls", h.controls)
			r.Get("/params", h.getParams)
			r.Post("/params", h.updateParams)
			r.Put("/params/{name}", h.writeParam)
			r.Get("/state", h.state)
			r.Get("/query", h.query)
		})
		r.Post("/refresh", h.refresh)
		r.Get("/panels/{panel}.png", h.panel)
	})

	if cfg.Static != nil {
		r.Handle("/*", http.FileServer(http.FS(cfg.Static)))
	}

	return r
}

// ControlInfo describes one control for clients that draw the widgets.
type ControlInfo struct {
	Name    string   `json:"name"`
	Label   string   `json:"label"`
	Kind    string   `json:"kind"`
	Min     float64  `json:"min,omitempty"`
	Max     float64  `json:"max,omitempty"`
	Step    float64  `json:"step,omitempty"`
	Linked  bool     `json:"linked,omitempty"`
	Options []string `json:"options,omitempty"`
}

var controlLabels = []struct {
	name  params.Name
	label string
	kind  string
}{
	{params.RA, "Right ascension (degrees)", "float"},
	{params.Dec, "Declination (degrees)", "float"},
	{params.Radius, "Radius (arcminutes)", "float"},
	{params.GridSize, "Grid size", "int"},
}

// Controls returns the control descriptors in display order.
func Controls(colormaps []string) []ControlInfo {
	out := make([]ControlInfo, 0, len(controlLabels)+1)
	for _, c := range controlLabels {
		d := params.Domains[c.name]
		out = append(out, ControlInfo{
			Name:   string(c.name),
			Label:  c.label,
			Kind:   c.kind,
			Min:    d.Min,
			Max:    d.Max,
			Step:   d.Step,
			Linked: d.Linked,
		})
	}
	out = append(out, ControlInfo{
		Name:    string(params.Colormap),
		Label:   "Hess diagram colormap",
		Kind:    "choice",
		Options: colormaps,
	})
	return out
}

// writeJSON encodes v fully before the status is written.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		slog.Error("failed to encode response", "error", err)
		http.Error(w, "failed to encode response", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(append(data, '\n'))
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// loggingMiddleware logs each request with its status and duration.
func loggingMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			level := slog.LevelInfo
			if r.URL.Path == "/health" || r.URL.Path == "/metrics" || strings.HasPrefix(r.URL.Path, "/api/state") {
				level = slog.LevelDebug
			}
			logger.Log(r.Context(), level, "http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration_ms", time.Since(start).Milliseconds(),
			)
		})
	}
}

// parseWait reads a Go duration or a number of seconds.
func parseWait(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	if d, err := time.ParseDuration(s); err == nil {
		return d, nil
	}
	secs, err := strconv.Atoi(s)
	if err != nil {
		return 0, errors.New("invalid wait duration")
	}
	return time.Duration(secs) * time.Second, nil
}

// currentQuery builds the query text for the current parameters.
func currentQuery(set *params.Set) (string, error) {
	snap := set.Snapshot()
	return query.Build(snap.Position, snap.Radius)
}

var errNoState = errors.New("no render state yet")

func waitContext(r *http.Request, d time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), d)
}
