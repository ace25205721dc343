package events

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/angelmondragon/notekeep-notifications/pkg/logger"
	"github.com/google/uuid"
	"go.uber.org/multierr"
)

const (
	bridgeQueueSize      = 64
	bridgePublishTimeout = 2 * time.Second
)

// Broker is the pub/sub surface the bridge relays through.
type Broker interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, io.Closer, error)
}

// Bridge mirrors local bus events onto a broker channel and replays remote
// ones locally. Events carrying this bridge's own instance id are ignored.
type Bridge struct {
	bus        *Bus
	broker     Broker
	channel    string
	instanceID string
	logg       *logger.Logger

	mu      sync.Mutex
	started bool
	unsub   func()
	sub     io.Closer
	queue   chan Event
	wg      sync.WaitGroup
}

// NewBridge builds a bridge bound to channel. Start must be called to relay.
func NewBridge(bus *Bus, broker Broker, channel string, logg *logger.Logger) (*Bridge, error) {
	if bus == nil {
		return nil, errors.New("bus is required")
	}
	if broker == nil {
		return nil, errors.New("broker is required")
	}
	if channel == "" {
		return nil, errors.New("channel is required")
	}
	if logg == nil {
		logg = logger.Nop()
	}
	return &Bridge{
		bus:        bus,
		broker:     broker,
		channel:    channel,
		instanceID: uuid.NewString(),
		logg:       logg,
	}, nil
}

// InstanceID returns the id stamped on every outbound event.
func (b *Bridge) InstanceID() string {
	return b.instanceID
}

// Start subscribes to the broker channel and begins relaying in both directions.
func (b *Bridge) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.started {
		return nil
	}

	inbound, sub, err := b.broker.Subscribe(ctx, b.channel)
	if err != nil {
		return err
	}
	b.sub = sub
	b.queue = make(chan Event, bridgeQueueSize)
	b.unsub = b.bus.SubscribeAll(b.enqueue)
	b.started = true

	b.wg.Add(2)
	go b.consume(inbound)
	go b.publishLoop(b.queue)

	b.logg.Info(b.logg.WithFields(ctx, map[string]any{
		"channel":     b.channel,
		"instance_id": b.instanceID,
	}), "event bridge started")
	return nil
}

// Close stops relaying and releases the broker subscription.
func (b *Bridge) Close() error {
	b.mu.Lock()
	if !b.started {
		b.mu.Unlock()
		return nil
	}
	b.started = false
	b.unsub()
	close(b.queue)
	sub := b.sub
	b.mu.Unlock()

	var err error
	if sub != nil {
		err = multierr.Append(err, sub.Close())
	}
	b.wg.Wait()
	return err
}

func (b *Bridge) enqueue(ev Event) {
	if ev.Origin != "" {
		return
	}
	ev.Origin = b.instanceID

	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.started {
		return
	}
	select {
	case b.queue <- ev:
	default:
		b.logg.Warn(b.logg.WithField(context.Background(), "event", string(ev.Name)), "event bridge queue full; dropping")
	}
}

func (b *Bridge) publishLoop(queue <-chan Event) {
	defer b.wg.Done()
	for ev := range queue {
		payload, err := json.Marshal(ev)
		if err != nil {
			b.logg.Error(context.Background(), "encode bridged event", err)
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), bridgePublishTimeout)
		if err := b.broker.Publish(ctx, b.channel, payload); err != nil {
			b.logg.Error(b.logg.WithField(ctx, "event", string(ev.Name)), "publish bridged event", err)
		}
		cancel()
	}
}

func (b *Bridge) consume(inbound <-chan []byte) {
	defer b.wg.Done()
	for payload := range inbound {
		var ev Event
		if err := json.Unmarshal(payload, &ev); err != nil {
			b.logg.Warn(b.logg.WithField(context.Background(), "error", err.Error()), "dropping undecodable bridged event")
			continue
		}
		if ev.Origin == "" || ev.Origin == b.instanceID {
			continue
		}
		if err := b.bus.Publish(ev); err != nil {
			b.logg.Warn(b.logg.WithField(context.Background(), "event", string(ev.Name)), "dropping unknown bridged event")
		}
	}
}
