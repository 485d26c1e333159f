package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/starbuy/api/handlers"
	"github.com/angelmondragon/starbuy/api/middleware"
	"github.com/angelmondragon/starbuy/internal/policies"
	"github.com/angelmondragon/starbuy/pkg/config"
	"github.com/angelmondragon/starbuy/pkg/logger"
)

// Dependencies are the services the ops API reads from. Queue and Redis may be
// nil when Redis is not configured.
type Dependencies struct {
	Config   *config.Config
	Logger   *logger.Logger
	DB       handlers.Pinger
	Redis    handlers.Pinger
	Gatherer prometheus.Gatherer

	Policies policies.Service
	Ledger   handlers.LedgerReader
	Loop     interface {
		handlers.RoundRunner
		handlers.EligibilityPreviewer
	}
	Queue handlers.ReconciliationLister
}

// NewRouter mounts the worker's operator surface: health, metrics and the
// authenticated /v1 API.
func NewRouter(deps Dependencies) http.Handler {
	cfg, logg := deps.Config, deps.Logger

	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		chimiddleware.RealIP,
		middleware.Logging(logg),
		middleware.CORS(cfg.App.CORSOrigins),
	)

	r.Get("/healthz", handlers.Healthz(cfg, logg))
	r.Get("/readyz", handlers.Ready(cfg, logg, readinessDeps(deps)))
	if deps.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/v1", func(r chi.Router) {
		r.Use(middleware.OpsAuth(cfg.App.OpsToken, logg))

		r.Route("/users/{userID}", func(r chi.Router) {
			r.Get("/policy", handlers.PolicyGet(deps.Policies, logg))
			r.Put("/policy", handlers.PolicyPut(deps.Policies, logg))
			r.Get("/eligible-items", handlers.EligibleItems(deps.Policies, deps.Loop, logg))
			r.Get("/account", handlers.AccountGet(deps.Ledger, logg))
		})

		r.Get("/rounds/phase", handlers.RoundPhase(deps.Loop))
		r.Post("/rounds", handlers.RoundTrigger(deps.Loop, logg))
		r.Get("/reconciliations", handlers.Reconciliations(deps.Queue, logg))
	})

	return r
}

func readinessDeps(deps Dependencies) map[string]handlers.Pinger {
	out := map[string]handlers.Pinger{"database": deps.DB}
	if deps.Redis != nil {
		out["redis"] = deps.Redis
	}
	return out
}
