package routes

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/notekeep-notifications/api/controllers"
	"github.com/angelmondragon/notekeep-notifications/api/middleware"
	"github.com/angelmondragon/notekeep-notifications/internal/navigation"
	"github.com/angelmondragon/notekeep-notifications/pkg/config"
	"github.com/angelmondragon/notekeep-notifications/pkg/logger"
)

// Services are the collaborators the presentation API is built on. Redis,
// Usage and Tokens are optional.
type Services struct {
	Notifications controllers.NotificationsService
	Opener        controllers.Opener
	Routes        navigation.Table
	Realtime      controllers.RealtimeControl
	Usage         controllers.UsageReader
	Tokens        controllers.TokenStore
	Redis         controllers.Pinger
	Gatherer      prometheus.Gatherer
}

// NewRouter builds the local API. base bounds work that must outlive a
// request, such as push channel reconnects.
func NewRouter(base context.Context, cfg *config.Config, logg *logger.Logger, svc Services) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(cfg.Server.CORSOrigins),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, svc.Redis, svc.Realtime))
	})

	if svc.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(svc.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api", func(r chi.Router) {
		r.Route("/notifications", func(r chi.Router) {
			r.Get("/", controllers.ListNotifications(svc.Notifications, logg))
			r.Post("/refresh", controllers.RefreshNotifications(svc.Notifications, logg))
			r.Post("/read-all", controllers.MarkAllNotificationsRead(svc.Notifications, logg))
			r.Post("/{notificationId}/read", controllers.MarkNotificationRead(svc.Notifications, logg))
			r.Post("/{notificationId}/open", controllers.OpenNotification(svc.Notifications, svc.Opener, logg))
		})

		r.Route("/navigation", func(r chi.Router) {
			r.Get("/resolve", controllers.ResolveNavigation(svc.Routes, logg))
			r.Get("/routes", controllers.ListRoutes(svc.Routes))
		})

		r.Route("/realtime", func(r chi.Router) {
			r.Get("/", controllers.RealtimeStatus(svc.Realtime))
			r.Post("/connect", controllers.RealtimeConnect(base, svc.Realtime))
		})

		r.Get("/usage", controllers.GetUsage(svc.Usage, logg))

		if svc.Tokens != nil {
			r.Route("/session/token", func(r chi.Router) {
				r.Use(middleware.LocalOnly(logg))
				r.Put("/", controllers.SetSessionToken(base, svc.Tokens, svc.Realtime, logg))
				r.Delete("/", controllers.DeleteSessionToken(svc.Tokens, svc.Realtime, logg))
			})
		}
	})

	return r
}
