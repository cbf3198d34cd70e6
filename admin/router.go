package admin

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"

	"github.com/jonwraymond/restcache/auth"
	"github.com/jonwraymond/restcache/cache"
	"github.com/jonwraymond/restcache/health"
	"github.com/jonwraymond/restcache/maintenance"
	"github.com/jonwraymond/restcache/observe"
)

// Jobs starts and reports maintenance jobs. *maintenance.Scheduler
// implements it.
type Jobs interface {
	Trigger(name string) (string, error)
	Statuses() []maintenance.Status
}

// Entries looks up cache records without touching them. *cache.Engine
// implements it.
type Entries interface {
	Lookup(ctx context.Context, rawURL string) (cache.Record, bool, error)
}

// Config wires the router's dependencies.
type Config struct {
	Health *health.Aggregator

	// Metrics serves /metrics when non-nil.
	Metrics http.Handler

	// Authenticator guards the /v1 routes. When nil the routes are not
	// mounted.
	Authenticator auth.Authenticator

	Exclusions *cache.ExclusionList
	Jobs       Jobs
	Entries    Entries

	Logger observe.Logger
}

type api struct {
	exclusions *cache.ExclusionList
	jobs       Jobs
	entries    Entries
	logger     observe.Logger
	validate   *validator.Validate
}

// NewRouter constructs the admin HTTP router.
func NewRouter(cfg Config) http.Handler {
	if cfg.Logger == nil {
		cfg.Logger = observe.NopLogger()
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	if cfg.Health != nil {
		health.Mount(r, cfg.Health)
	}
	if cfg.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", cfg.Metrics)
	}
	if cfg.Authenticator == nil {
		return r
	}

	a := &api{
		exclusions: cfg.Exclusions,
		jobs:       cfg.Jobs,
		entries:    cfg.Entries,
		logger:     cfg.Logger,
		validate:   validator.New(),
	}
	r.Route("/v1", func(r chi.Router) {
		r.Use(auth.Middleware(cfg.Authenticator, cfg.Logger))

		if a.exclusions != nil {
			r.Get("/exclusions", a.listExclusions)
			r.Post("/exclusions", a.addExclusion)
			r.Delete("/exclusions/{host}", a.removeExclusion)
		}
		if a.jobs != nil {
			r.Get("/jobs", a.listJobs)
			r.Post("/jobs/{name}/run", a.runJob)
		}
		if a.entries != nil {
			r.Get("/entries", a.getEntry)
		}
	})
	return r
}
