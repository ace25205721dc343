package redis

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/angelmondragon/notekeep-notifications/pkg/config"
	"github.com/angelmondragon/notekeep-notifications/pkg/logger"
	"github.com/redis/go-redis/v9"
)

const (
	keyNamespace = "nk"
	eventsPrefix = "events"
)

var errNotInitialized = errors.New("redis client not initialized")

type cmdable interface {
	Ping(context.Context) *redis.StatusCmd
	Publish(context.Context, string, any) *redis.IntCmd
}

type subscriber interface {
	Subscribe(context.Context, ...string) *redis.PubSub
}

// Client wraps the redis connection helpers needed by the notifier.
type Client struct {
	store cmdable
	subs  subscriber
	raw   *redis.Client
}

// Pinger exposes the health-check surface.
type Pinger interface {
	Ping(context.Context) error
}

// New bootstraps a Redis client with pooling/timeouts and verifies connectivity.
func New(ctx context.Context, cfg config.RedisConfig, logg *logger.Logger) (*Client, error) {
	opts, err := optionsFromConfig(cfg)
	if err != nil {
		return nil, err
	}
	raw := redis.NewClient(opts)
	if err := raw.Ping(ctx).Err(); err != nil {
		_ = raw.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	if logg != nil {
		logg.Info(logg.WithField(ctx, "redis_addr", opts.Addr), "redis connection established")
	}
	return &Client{store: raw, subs: raw, raw: raw}, nil
}

func optionsFromConfig(cfg config.RedisConfig) (*redis.Options, error) {
	if cfg.URL == "" && cfg.Address == "" {
		return nil, errors.New("redis url or address is required")
	}
	var opts *redis.Options
	if cfg.URL != "" {
		parsed, err := redis.ParseURL(cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("parsing redis url: %w", err)
		}
		opts = parsed
	} else {
		opts = &redis.Options{
			Addr:     cfg.Address,
			Password: cfg.Password,
			DB:       cfg.DB,
		}
	}
	if opts.DB == 0 {
		opts.DB = cfg.DB
	}
	if opts.PoolSize == 0 {
		opts.PoolSize = cfg.PoolSize
	}
	if opts.MinIdleConns == 0 {
		opts.MinIdleConns = cfg.MinIdleConns
	}
	if opts.DialTimeout == 0 {
		opts.DialTimeout = cfg.DialTimeout
	}
	if opts.ReadTimeout == 0 {
		opts.ReadTimeout = cfg.ReadTimeout
	}
	if opts.WriteTimeout == 0 {
		opts.WriteTimeout = cfg.WriteTimeout
	}
	return opts, nil
}

// Publish sends a payload to a pub/sub channel.
func (c *Client) Publish(ctx context.Context, channel string, payload []byte) error {
	if c.store == nil {
		return errNotInitialized
	}
	return c.store.Publish(ctx, channel, payload).Err()
}

// Subscribe listens on channel and streams raw payloads until the returned
// closer is closed. The subscription is confirmed before returning.
func (c *Client) Subscribe(ctx context.Context, channel string) (<-chan []byte, io.Closer, error) {
	if c.subs == nil {
		return nil, nil, errNotInitialized
	}
	ps := c.subs.Subscribe(ctx, channel)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, nil, fmt.Errorf("subscribe %s: %w", channel, err)
	}
	out := make(chan []byte)
	go func() {
		defer close(out)
		for msg := range ps.Channel() {
			out <- []byte(msg.Payload)
		}
	}()
	return out, ps, nil
}

// EventsChannel returns the namespaced pub/sub channel for bus events.
func (c *Client) EventsChannel(scope string) string {
	return c.buildKey(eventsPrefix, scope)
}

// Ping verifies the connection.
func (c *Client) Ping(ctx context.Context) error {
	if c.store == nil {
		return errNotInitialized
	}
	return c.store.Ping(ctx).Err()
}

// Close shuts down the underlying client if available.
func (c *Client) Close() error {
	if c.raw == nil {
		return nil
	}
	return c.raw.Close()
}

func (c *Client) buildKey(parts ...string) string {
	if len(parts) == 0 {
		return keyNamespace
	}
	clean := []string{keyNamespace}
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		clean = append(clean, part)
	}
	return strings.Join(clean, ":")
}
