package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/angelmondragon/notekeep-notifications/api/responses"
	"github.com/angelmondragon/notekeep-notifications/internal/realtime"
	"github.com/angelmondragon/notekeep-notifications/pkg/config"
	pkgerrors "github.com/angelmondragon/notekeep-notifications/pkg/errors"
	"github.com/angelmondragon/notekeep-notifications/pkg/logger"
)

const readyCheckTimeout = 2 * time.Second

// Pinger is satisfied by optional backing services such as redis.
type Pinger interface {
	Ping(context.Context) error
}

// StatusReporter exposes the push channel state.
type StatusReporter interface {
	Status() realtime.Status
}

func HealthLive(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-NoteKeep-Namespace", cfg.App.Namespace)
		responses.WriteSuccess(w, map[string]string{"status": "live"})
	}
}

// HealthReady reports ready once every configured dependency answers. The
// push channel state is informational: a dropped channel is covered by the
// poller, so it never fails readiness.
func HealthReady(cfg *config.Config, logg *logger.Logger, redisClient Pinger, rt StatusReporter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-NoteKeep-Namespace", cfg.App.Namespace)

		checks := map[string]string{}
		if redisClient != nil {
			ctx, cancel := context.WithTimeout(r.Context(), readyCheckTimeout)
			err := redisClient.Ping(ctx)
			cancel()
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "redis unavailable"))
				return
			}
			checks["redis"] = "ok"
		}
		payload := map[string]any{"status": "ready", "checks": checks}
		if rt != nil {
			payload["realtime"] = rt.Status()
		}
		responses.WriteSuccess(w, payload)
	}
}
