package rest

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"graphsync/infrastructure/observability"
	"graphsync/interfaces/http/rest/handlers"
	"graphsync/interfaces/http/rest/middleware"
)

// ReadinessCheck reports whether a dependency can serve traffic
type ReadinessCheck func(ctx context.Context) error

// Options configures the router
type Options struct {
	EnableAuth     bool
	JWTSecret      string
	JWTIssuer      string
	EnableCORS     bool
	AllowedOrigins []string
}

// Router creates and configures the HTTP router
type Router struct {
	engine  handlers.Engine
	metrics *observability.Collector
	ready   map[string]ReadinessCheck
	opts    Options
	logger  *zap.Logger
}

// NewRouter creates a new router instance. metrics may be nil.
func NewRouter(
	engine handlers.Engine,
	metrics *observability.Collector,
	ready map[string]ReadinessCheck,
	opts Options,
	logger *zap.Logger,
) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{
		engine:  engine,
		metrics: metrics,
		ready:   ready,
		opts:    opts,
		logger:  logger,
	}
}

// Setup configures all routes and middleware
func (rt *Router) Setup() (http.Handler, error) {
	router := chi.NewRouter()

	// Global middleware
	router.Use(chimiddleware.RequestID)
	router.Use(chimiddleware.RealIP)
	router.Use(chimiddleware.Recoverer)
	var observer middleware.HTTPObserver
	if rt.metrics != nil {
		observer = rt.metrics
	}
	router.Use(middleware.Logger(rt.logger, observer))

	if rt.opts.EnableCORS {
		router.Use(cors.Handler(cors.Options{
			AllowedOrigins:   rt.opts.AllowedOrigins,
			AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
			ExposedHeaders:   []string{"X-Request-ID"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}

	router.Get("/health", rt.healthCheck)
	router.Get("/ready", rt.readinessCheck)
	if rt.metrics != nil {
		router.Method(http.MethodGet, "/metrics", rt.metrics.Handler())
	}

	var auth func(http.Handler) http.Handler
	if rt.opts.EnableAuth {
		validator, err := middleware.NewJWTValidator(rt.opts.JWTSecret, rt.opts.JWTIssuer)
		if err != nil {
			return nil, err
		}
		auth = middleware.Authenticate(validator)
	}

	graphHandler := handlers.NewGraphHandler(rt.engine, rt.logger)
	entityHandler := handlers.NewEntityHandler(rt.engine, rt.logger)
	focusHandler := handlers.NewFocusHandler(rt.engine, rt.logger)
	timelineHandler := handlers.NewTimelineHandler(rt.engine, rt.logger)

	router.Route("/api/v1", func(r chi.Router) {
		if auth != nil {
			r.Use(auth)
		}

		r.Get("/graph", graphHandler.GetGraph)
		r.Post("/graph/reload", graphHandler.Reload)
		r.Get("/config", graphHandler.GetConfig)
		r.Post("/queries", graphHandler.RunQuery)

		r.Post("/entities", entityHandler.CreateEntity)
		r.Patch("/entities/{name}", entityHandler.UpdateEntity)
		r.Put("/relations/{source}/{target}/note", entityHandler.SetRelationNote)

		r.Route("/focus", func(r chi.Router) {
			r.Post("/search", focusHandler.Search)
			r.Post("/click", focusHandler.Click)
			r.Post("/clear", focusHandler.Clear)
		})
		r.Post("/activity", focusHandler.Activity)
		r.Put("/visibility", focusHandler.SetVisibility)
		r.Put("/positions", focusHandler.ReportPositions)

		r.Route("/timeline", func(r chi.Router) {
			r.Get("/bounds", timelineHandler.Bounds)
			r.Get("/snapshot", timelineHandler.Snapshot)
			r.Post("/enter", timelineHandler.Enter)
			r.Post("/step", timelineHandler.Step)
			r.Post("/now", timelineHandler.Now)
			r.Post("/seek", timelineHandler.Seek)
			r.Post("/leave", timelineHandler.Leave)
		})
	})

	return router, nil
}

// healthCheck handles health check requests
func (rt *Router) healthCheck(w http.ResponseWriter, req *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"healthy"}`))
}

// readinessCheck runs every registered check with a short deadline
func (rt *Router) readinessCheck(w http.ResponseWriter, req *http.Request) {
	ctx, cancel := context.WithTimeout(req.Context(), 2*time.Second)
	defer cancel()

	checks := make(map[string]string, len(rt.ready))
	status := http.StatusOK
	for name, check := range rt.ready {
		if err := check(ctx); err != nil {
			rt.logger.Warn("Readiness check failed", zap.String("check", name), zap.Error(err))
			checks[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		checks[name] = "ok"
	}

	body := map[string]interface{}{"status": "ready", "checks": checks}
	if status != http.StatusOK {
		body["status"] = "not ready"
	}
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
