package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/multierr"

	"github.com/angelmondragon/notekeep-notifications/pkg/auth"
	"github.com/angelmondragon/notekeep-notifications/pkg/config"
	"github.com/angelmondragon/notekeep-notifications/pkg/credential"
	"github.com/angelmondragon/notekeep-notifications/pkg/logger"
)

const serviceName = "notifier"

func main() {
	logg := logger.New(logger.Options{ServiceName: serviceName})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cmd := flag.String("cmd", "serve", "command: serve|token-set|token-delete|token-inspect")
	token := flag.String("token", "", "bearer token (for token-set)")
	flag.Parse()

	cfg, err := config.Load()
	requireResource(context.Background(), logg, "config", err)

	logg = logger.New(logger.Options{
		ServiceName: serviceName,
		Namespace:   cfg.App.Namespace,
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env": cfg.App.Env,
		"cmd": *cmd,
	})

	switch *cmd {
	case "serve":
		runServe(ctx, cfg, logg)
	case "token-set", "token-delete", "token-inspect":
		runToken(ctx, cfg, logg, *cmd, *token)
	default:
		fmt.Fprintf(os.Stderr, "unknown -cmd %q\n", *cmd)
		os.Exit(2)
	}
}

func runServe(ctx context.Context, cfg *config.Config, logg *logger.Logger) {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logg)
	requireResource(ctx, logg, "notifier", err)

	ctx = logg.WithFields(ctx, map[string]any{
		"namespace": cfg.App.Namespace,
		"addr":      cfg.Server.Addr,
	})
	logg.Info(ctx, "starting notifier")

	runErr := a.run(ctx)
	closeErr := a.close()
	if err := multierr.Combine(runErr, closeErr); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "notifier stopped unexpectedly", err)
		os.Exit(1)
	}
	logg.Info(ctx, "notifier shut down gracefully")
}

func runToken(ctx context.Context, cfg *config.Config, logg *logger.Logger, cmd, token string) {
	store, err := openTokenStore(ctx, cfg, logg)
	requireResource(ctx, logg, "credential store", err)

	switch cmd {
	case "token-set":
		if token == "" {
			fmt.Fprintln(os.Stderr, "missing -token for token-set")
			os.Exit(1)
		}
		if err := store.Save(token); err != nil {
			fmt.Fprintf(os.Stderr, "failed to store token: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("stored token under", store.Key())
	case "token-delete":
		if err := store.Delete(); err != nil {
			fmt.Fprintf(os.Stderr, "failed to delete token: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("deleted token under", store.Key())
	case "token-inspect":
		value, err := store.Token(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "no token: %v\n", err)
			os.Exit(1)
		}
		info, err := auth.Inspect(value)
		if err != nil {
			fmt.Fprintf(os.Stderr, "token is not a readable JWT: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("subject=%s role=%s expires=%s expired=%t\n",
			info.Subject, info.Role, formatExpiry(info.ExpiresAt), info.Expired(time.Now()))
	}
}

// inspectToken logs who the stored credential belongs to and warns when it
// has expired. It never blocks startup.
func inspectToken(ctx context.Context, tokens credential.TokenSource, logg *logger.Logger) {
	value, err := tokens.Token(ctx)
	if err != nil {
		logg.Warn(logg.WithField(ctx, "error", err.Error()), "no bearer token available; requests will fail until one is stored")
		return
	}
	info, err := auth.Inspect(value)
	if err != nil {
		logg.Debug(logg.WithField(ctx, "error", err.Error()), "bearer token is opaque")
		return
	}
	ctx = logg.WithFields(ctx, map[string]any{
		"subject":    info.Subject,
		"role":       info.Role,
		"expires_at": formatExpiry(info.ExpiresAt),
	})
	if info.Expired(time.Now()) {
		logg.Warn(ctx, "bearer token has expired")
		return
	}
	logg.Info(ctx, "bearer token loaded")
}

func formatExpiry(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return t.UTC().Format(time.RFC3339)
}

func requireResource(ctx context.Context, logg *logger.Logger, name string, err error) {
	if err == nil {
		return
	}
	logg.Error(ctx, "failed to bootstrap "+name, err)
	os.Exit(1)
}
