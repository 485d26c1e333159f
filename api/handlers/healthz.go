package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/angelmondragon/starbuy/api/responses"
	"github.com/angelmondragon/starbuy/pkg/config"
	pkgerrors "github.com/angelmondragon/starbuy/pkg/errors"
	"github.com/angelmondragon/starbuy/pkg/logger"
)

const readinessTimeout = 2 * time.Second

const envHeader = "X-Starbuy-Env"

// Pinger is satisfied by the database and redis clients.
type Pinger interface {
	Ping(ctx context.Context) error
}

func Healthz(cfg *config.Config, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := logg.WithFields(r.Context(), map[string]any{
			"env":  cfg.App.Env,
			"path": r.URL.Path,
		})
		logg.Debug(ctx, "health.check")

		w.Header().Set(envHeader, cfg.App.Env)
		responses.WriteSuccess(w, map[string]string{"status": "ok"})
	}
}

// Ready pings every configured dependency. Nil pingers are skipped.
func Ready(cfg *config.Config, logg *logger.Logger, deps map[string]Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(envHeader, cfg.App.Env)

		ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
		defer cancel()

		status := map[string]string{}
		failed := false
		for name, p := range deps {
			if p == nil {
				continue
			}
			if err := p.Ping(ctx); err != nil {
				logg.Error(logg.WithField(ctx, "dependency", name), "health.dependency_down", err)
				status[name] = "down"
				failed = true
				continue
			}
			status[name] = "up"
		}

		if failed {
			responses.WriteError(r.Context(), logg, w,
				pkgerrors.New(pkgerrors.CodeDependency, "dependency unavailable").WithDetails(status))
			return
		}
		status["status"] = "ready"
		responses.WriteSuccess(w, status)
	}
}
