package usage

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/angelmondragon/notekeep-notifications/internal/events"
	"github.com/angelmondragon/notekeep-notifications/pkg/enums"
	"github.com/angelmondragon/notekeep-notifications/pkg/logger"
)

const jobName = "usage.refresh"

// Source fetches an opaque usage document.
type Source interface {
	GetRaw(ctx context.Context, path string) (json.RawMessage, error)
}

// Snapshot is the cached usage document and its freshness.
type Snapshot struct {
	Data      json.RawMessage `json:"data,omitempty"`
	FetchedAt time.Time       `json:"fetched_at,omitempty"`
	Stale     bool            `json:"stale"`
}

// Cache holds the subscription usage document and refreshes it when a
// subscription-affecting notification arrives.
type Cache struct {
	source Source
	path   string
	logg   *logger.Logger
	now    func() time.Time

	mu        sync.RWMutex
	data      json.RawMessage
	fetchedAt time.Time
	stale     bool
	gen       uint64
	watcher   *events.TypeCodeWatcher
}

func NewCache(source Source, path string, logg *logger.Logger) (*Cache, error) {
	if source == nil {
		return nil, fmt.Errorf("usage source required")
	}
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("usage path required")
	}
	if logg == nil {
		logg = logger.Nop()
	}
	return &Cache{source: source, path: path, logg: logg, now: time.Now, stale: true}, nil
}

// Watch marks the cache stale whenever the bus reports a user-namespace
// notification whose type code affects subscription state, then calls onStale.
// Events with no namespace are treated as local.
func (c *Cache) Watch(bus *events.Bus, onStale func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.watcher != nil {
		c.watcher.Stop()
	}
	c.watcher = events.WatchTypeCodes(bus, enums.NotificationType.AffectsSubscription, func(ev events.Event) {
		if ev.Namespace != "" && ev.Namespace != enums.NamespaceUser {
			return
		}
		c.Invalidate()
		c.logg.Debug(c.logg.WithField(context.Background(), "type_code", string(ev.TypeCode)), "usage cache invalidated")
		if onStale != nil {
			onStale()
		}
	})
}

// Stop detaches the bus watcher.
func (c *Cache) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.watcher != nil {
		c.watcher.Stop()
		c.watcher = nil
	}
}

// Invalidate marks the cached document stale.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	c.stale = true
	c.gen++
	c.mu.Unlock()
}

// Snapshot returns the cached document.
func (c *Cache) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Snapshot{
		Data:      append(json.RawMessage(nil), c.data...),
		FetchedAt: c.fetchedAt,
		Stale:     c.stale,
	}
}

// Refresh fetches the document when it is stale. An invalidation that lands
// while the fetch is in flight keeps the cache stale.
func (c *Cache) Refresh(ctx context.Context) error {
	c.mu.RLock()
	stale, gen := c.stale, c.gen
	c.mu.RUnlock()
	if !stale {
		return nil
	}

	data, err := c.source.GetRaw(ctx, c.path)
	if err != nil {
		return fmt.Errorf("refresh usage: %w", err)
	}

	c.mu.Lock()
	c.data = data
	c.fetchedAt = c.now().UTC()
	c.stale = c.gen != gen
	c.mu.Unlock()
	return nil
}

// Name implements the poller job contract.
func (c *Cache) Name() string { return jobName }

// Run implements the poller job contract.
func (c *Cache) Run(ctx context.Context) error {
	return c.Refresh(ctx)
}
