package events

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/angelmondragon/notekeep-notifications/pkg/enums"
	"github.com/angelmondragon/notekeep-notifications/pkg/logger"
)

// Name identifies one of the fixed bus events.
type Name string

const (
	NotificationReceived Name = "notification.received"
	NotificationRead     Name = "notification.read"
	NotificationsReadAll Name = "notifications.read_all"
	RealtimeStateChanged Name = "realtime.state_changed"
)

var knownNames = map[Name]struct{}{
	NotificationReceived: {},
	NotificationRead:     {},
	NotificationsReadAll: {},
	RealtimeStateChanged: {},
}

// IsValid reports whether the name is one of the enumerated bus events.
func (n Name) IsValid() bool {
	_, ok := knownNames[n]
	return ok
}

// Event is the single payload shape carried on the bus. Fields irrelevant to
// a given Name are left zero.
type Event struct {
	Name           Name                   `json:"name"`
	Namespace      enums.Namespace        `json:"namespace,omitempty"`
	NotificationID string                 `json:"notification_id,omitempty"`
	TypeCode       enums.NotificationType `json:"type_code,omitempty"`
	Title          string                 `json:"title,omitempty"`
	RealtimeState  string                 `json:"realtime_state,omitempty"`
	At             time.Time              `json:"at"`
	// Origin is set by the redis bridge to the publishing instance; empty for local events.
	Origin string `json:"origin,omitempty"`
}

// Handler receives bus events synchronously on the publisher's goroutine.
type Handler func(Event)

type subscription struct {
	name    Name
	handler Handler
}

// Bus is an in-process publish/subscribe hub with a closed set of event names.
type Bus struct {
	mu   sync.RWMutex
	subs map[uint64]subscription
	next uint64
	logg *logger.Logger
	now  func() time.Time
}

// NewBus builds an empty bus. logg may be nil.
func NewBus(logg *logger.Logger) *Bus {
	return &Bus{
		subs: make(map[uint64]subscription),
		logg: logg,
		now:  time.Now,
	}
}

// Subscribe registers handler for one event name. The returned func removes it.
func (b *Bus) Subscribe(name Name, handler Handler) func() {
	return b.add(name, handler)
}

// SubscribeAll registers handler for every event name.
func (b *Bus) SubscribeAll(handler Handler) func() {
	return b.add("", handler)
}

func (b *Bus) add(name Name, handler Handler) func() {
	if handler == nil {
		return func() {}
	}
	b.mu.Lock()
	b.next++
	id := b.next
	b.subs[id] = subscription{name: name, handler: handler}
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
		})
	}
}

// Publish delivers ev to matching subscribers in subscription order. A
// panicking handler is logged and does not stop delivery to the others.
func (b *Bus) Publish(ev Event) error {
	if !ev.Name.IsValid() {
		return fmt.Errorf("unknown event %q", ev.Name)
	}
	if ev.At.IsZero() {
		ev.At = b.now().UTC()
	}

	b.mu.RLock()
	ids := make([]uint64, 0, len(b.subs))
	for id, sub := range b.subs {
		if sub.name == "" || sub.name == ev.Name {
			ids = append(ids, id)
		}
	}
	handlers := make([]Handler, 0, len(ids))
	slices.Sort(ids)
	for _, id := range ids {
		handlers = append(handlers, b.subs[id].handler)
	}
	b.mu.RUnlock()

	for _, handler := range handlers {
		b.deliver(ev, handler)
	}
	return nil
}

func (b *Bus) deliver(ev Event, handler Handler) {
	defer func() {
		if rec := recover(); rec != nil && b.logg != nil {
			ctx := b.logg.WithFields(context.Background(), map[string]any{
				"event": string(ev.Name),
				"panic": rec,
			})
			b.logg.Error(ctx, "bus handler panicked", fmt.Errorf("panic: %v", rec))
		}
	}()
	handler(ev)
}
