package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/angelmondragon/notekeep-notifications/api/routes"
	"github.com/angelmondragon/notekeep-notifications/internal/apiclient"
	"github.com/angelmondragon/notekeep-notifications/internal/events"
	"github.com/angelmondragon/notekeep-notifications/internal/namespace"
	"github.com/angelmondragon/notekeep-notifications/internal/notifications"
	"github.com/angelmondragon/notekeep-notifications/internal/poller"
	"github.com/angelmondragon/notekeep-notifications/internal/realtime"
	"github.com/angelmondragon/notekeep-notifications/internal/usage"
	"github.com/angelmondragon/notekeep-notifications/pkg/config"
	"github.com/angelmondragon/notekeep-notifications/pkg/credential"
	"github.com/angelmondragon/notekeep-notifications/pkg/enums"
	"github.com/angelmondragon/notekeep-notifications/pkg/logger"
	"github.com/angelmondragon/notekeep-notifications/pkg/metrics"
	"github.com/angelmondragon/notekeep-notifications/pkg/redis"
)

const readHeaderTimeout = 5 * time.Second

type app struct {
	cfg  *config.Config
	logg *logger.Logger

	bus        *events.Bus
	bridge     *events.Bridge
	redis      *redis.Client
	reconciler *notifications.Reconciler
	rt         *realtime.Client
	poller     *poller.Service
	usage      *usage.Cache
	server     *http.Server
}

func openTokenStore(ctx context.Context, cfg *config.Config, logg *logger.Logger) (*credential.Store, error) {
	ns, err := enums.ParseNamespace(cfg.App.Namespace)
	if err != nil {
		return nil, err
	}
	nsCtx, err := namespace.For(ns, cfg.Backend.BaseURL)
	if err != nil {
		return nil, err
	}
	if cfg.Credentials.KeyringDisable {
		return credential.NewStore(nil, nsCtx.TokenKey, cfg.Credentials.Token), nil
	}
	ring, err := credential.Open(cfg.Credentials)
	if err != nil {
		logg.Warn(logg.WithField(ctx, "error", err.Error()), "keyring unavailable; using environment token only")
		ring = nil
	}
	return credential.NewStore(ring, nsCtx.TokenKey, cfg.Credentials.Token), nil
}

func newApp(ctx context.Context, cfg *config.Config, logg *logger.Logger) (*app, error) {
	ns, err := enums.ParseNamespace(cfg.App.Namespace)
	if err != nil {
		return nil, err
	}
	nsCtx, err := namespace.For(ns, cfg.Backend.BaseURL)
	if err != nil {
		return nil, err
	}
	wsURL, err := cfg.Backend.WebSocketURL()
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, logg: logg}
	fail := func(err error) (*app, error) {
		return nil, multierr.Append(err, a.close())
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	tokens, err := openTokenStore(ctx, cfg, logg)
	if err != nil {
		return fail(err)
	}
	inspectToken(ctx, tokens, logg)

	a.bus = events.NewBus(logg)
	if cfg.Redis.Enabled() {
		a.redis, err = redis.New(ctx, cfg.Redis, logg)
		if err != nil {
			return fail(err)
		}
		channel := cfg.Redis.Channel
		if channel == "" {
			channel = a.redis.EventsChannel("notifications")
		}
		a.bridge, err = events.NewBridge(a.bus, a.redis, channel, logg)
		if err != nil {
			return fail(err)
		}
		if err = a.bridge.Start(ctx); err != nil {
			return fail(err)
		}
	}

	client, err := apiclient.New(nsCtx, tokens, apiclient.WithTimeout(cfg.Backend.RequestTimeout))
	if err != nil {
		return fail(err)
	}

	dispatcherOpts := notifications.DispatcherOptions{
		Toaster:   notifications.NewLogToaster(logg),
		Navigator: notifications.NewLogNavigator(logg),
		Bus:       a.bus,
		Routes:    nsCtx.Routes,
		Namespace: ns,
		Logger:    logg,
	}
	if cfg.Feedback.Chime {
		dispatcherOpts.Chime = notifications.NewBellChime(os.Stderr)
	}
	dispatcher := notifications.NewDispatcher(dispatcherOpts)

	a.reconciler, err = notifications.NewReconciler(notifications.Options{
		API:       client,
		Effects:   dispatcher,
		Bus:       a.bus,
		Namespace: ns,
		Capacity:  cfg.Store.Capacity,
		PageSize:  cfg.Store.PageSize,
		Logger:    logg,
		Metrics:   metrics.NewReconcilerMetrics(reg),
	})
	if err != nil {
		return fail(err)
	}

	registry := poller.NewRegistry()
	if cfg.Poller.Enabled {
		job, jobErr := poller.NewReconcileJob(a.reconciler)
		if jobErr != nil {
			return fail(jobErr)
		}
		registry.Register(job)
	}
	if ns == enums.NamespaceUser && cfg.Usage.Enabled {
		a.usage, err = usage.NewCache(client, cfg.Usage.Path, logg)
		if err != nil {
			return fail(err)
		}
		registry.Register(a.usage)
	}
	a.poller, err = poller.NewService(poller.ServiceParams{
		Logger:   logg,
		Registry: registry,
		Metrics:  metrics.NewJobMetrics(reg),
		Interval: cfg.Poller.Interval,
	})
	if err != nil {
		return fail(err)
	}
	if a.usage != nil {
		a.usage.Watch(a.bus, a.poller.Trigger)
	}

	a.rt, err = realtime.New(realtime.Options{
		URL:              wsURL,
		Tokens:           tokens,
		BaseDelay:        cfg.Realtime.BaseDelay,
		CapMultiplier:    cfg.Realtime.CapMultiplier,
		MaxAttempts:      cfg.Realtime.MaxAttempts,
		HandshakeTimeout: cfg.Realtime.HandshakeTimeout,
		Logger:           logg,
		Metrics:          metrics.NewRealtimeMetrics(reg),
	}, a.realtimeHandlers(ctx, ns))
	if err != nil {
		return fail(err)
	}

	svc := routes.Services{
		Notifications: a.reconciler,
		Opener:        dispatcher,
		Routes:        nsCtx.Routes,
		Realtime:      a.rt,
		Tokens:        tokens,
		Gatherer:      reg,
	}
	if a.usage != nil {
		svc.Usage = a.usage
	}
	if a.redis != nil {
		svc.Redis = a.redis
	}
	a.server = &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           routes.NewRouter(ctx, cfg, logg, svc),
		ReadHeaderTimeout: readHeaderTimeout,
	}
	return a, nil
}

func (a *app) realtimeHandlers(ctx context.Context, ns enums.Namespace) realtime.Handlers {
	return realtime.Handlers{
		OnMessage: a.reconciler.HandleFrame,
		OnOpen: func() {
			go func() {
				if err := a.reconciler.Refresh(ctx); err != nil {
					a.logg.Warn(a.logg.WithField(ctx, "error", err.Error()), "refresh after connect incomplete")
				}
			}()
		},
		OnError: func(err error) {
			a.logg.Warn(a.logg.WithField(ctx, "error", err.Error()), "push channel error")
		},
		OnStateChange: func(state realtime.State) {
			if err := a.bus.Publish(events.Event{
				Name:          events.RealtimeStateChanged,
				Namespace:     ns,
				RealtimeState: string(state),
			}); err != nil {
				a.logg.Error(ctx, "broadcast realtime state", err)
			}
			if state == realtime.StateGaveUp {
				a.poller.Trigger()
			}
		},
	}
}

// run blocks until ctx is cancelled or the HTTP server fails.
func (a *app) run(ctx context.Context) error {
	a.rt.Connect(ctx)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := a.poller.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		a.rt.Disconnect()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
		defer cancel()
		return a.server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func (a *app) close() error {
	var err error
	if a.rt != nil {
		a.rt.Disconnect()
	}
	if a.usage != nil {
		a.usage.Stop()
	}
	if a.reconciler != nil {
		a.reconciler.Close()
	}
	if a.bridge != nil {
		err = multierr.Append(err, a.bridge.Close())
	}
	if a.redis != nil {
		err = multierr.Append(err, a.redis.Close())
	}
	return err
}
