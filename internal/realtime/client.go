package realtime

import (
	"context"
	"errors"
	"net/url"
	"sync"
	"time"

	"github.com/angelmondragon/notekeep-notifications/pkg/credential"
	"github.com/angelmondragon/notekeep-notifications/pkg/logger"
	"github.com/angelmondragon/notekeep-notifications/pkg/metrics"
	"github.com/gorilla/websocket"
)

const (
	defaultBaseDelay        = 5 * time.Second
	defaultCapMultiplier    = 5
	defaultMaxAttempts      = 10
	defaultHandshakeTimeout = 10 * time.Second
	tokenParam              = "token"
)

// Timer is a pending reconnect.
type Timer interface {
	Stop() bool
}

// AfterFunc schedules f after d.
type AfterFunc func(d time.Duration, f func()) Timer

func realAfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// Handlers receive channel events. Any of them may be nil.
type Handlers struct {
	OnMessage     func(Message)
	OnOpen        func()
	OnError       func(error)
	OnStateChange func(State)
}

// Options configures a Client.
type Options struct {
	URL              *url.URL
	Tokens           credential.TokenSource
	Dialer           Dialer
	BaseDelay        time.Duration
	CapMultiplier    int
	MaxAttempts      int
	HandshakeTimeout time.Duration
	AfterFunc        AfterFunc
	Logger           *logger.Logger
	Metrics          *metrics.RealtimeMetrics
}

// attempt is one dial and, if it succeeds, the lifetime of its connection.
type attempt struct {
	intentional bool
	conn        Conn
}

// Client maintains a reconnecting, receive-only push channel.
type Client struct {
	url       *url.URL
	tokens    credential.TokenSource
	dialer    Dialer
	base      time.Duration
	capMult   int
	maxTries  int
	handshake time.Duration
	afterFunc AfterFunc
	logg      *logger.Logger
	metrics   *metrics.RealtimeMetrics

	mu       sync.Mutex
	handlers Handlers
	state    State
	current  *attempt
	attempts int
	timer    Timer
	timerSeq uint64
	ctx      context.Context
}

// New validates options and builds an idle client.
func New(opts Options, handlers Handlers) (*Client, error) {
	if opts.URL == nil {
		return nil, errors.New("realtime url is required")
	}
	if opts.Tokens == nil {
		return nil, errors.New("token source is required")
	}
	c := &Client{
		url:       opts.URL,
		tokens:    opts.Tokens,
		dialer:    opts.Dialer,
		base:      opts.BaseDelay,
		capMult:   opts.CapMultiplier,
		maxTries:  opts.MaxAttempts,
		handshake: opts.HandshakeTimeout,
		afterFunc: opts.AfterFunc,
		logg:      opts.Logger,
		metrics:   opts.Metrics,
		handlers:  handlers,
		state:     StateIdle,
	}
	if c.dialer == nil {
		c.dialer = NewWebsocketDialer(&websocket.Dialer{HandshakeTimeout: defaultHandshakeTimeout})
	}
	if c.base <= 0 {
		c.base = defaultBaseDelay
	}
	if c.capMult <= 0 {
		c.capMult = defaultCapMultiplier
	}
	if c.maxTries <= 0 {
		c.maxTries = defaultMaxAttempts
	}
	if c.handshake <= 0 {
		c.handshake = defaultHandshakeTimeout
	}
	if c.afterFunc == nil {
		c.afterFunc = realAfterFunc
	}
	if c.logg == nil {
		c.logg = logger.Nop()
	}
	return c, nil
}

// SetHandlers replaces the event handlers.
func (c *Client) SetHandlers(h Handlers) {
	c.mu.Lock()
	c.handlers = h
	c.mu.Unlock()
}

// State returns the current lifecycle state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Status returns the state and the number of reconnect attempts used.
func (c *Client) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Status{State: c.state, Attempts: c.attempts}
}

// Connect starts the channel in the background. It is a no-op while a
// handshake is in flight or the channel is open. ctx bounds the lifetime of
// this and every subsequent automatic reconnect.
func (c *Client) Connect(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	c.mu.Lock()
	if c.state == StateConnecting || c.state == StateOpen {
		c.mu.Unlock()
		return
	}
	if c.state == StateGaveUp {
		c.attempts = 0
	}
	c.stopTimerLocked()
	c.ctx = ctx
	a := c.beginLocked()
	notify := c.setStateLocked(StateConnecting)
	c.mu.Unlock()

	notify()
	go c.run(ctx, a)
}

// Disconnect closes the channel intentionally with code 1000 and suppresses
// reconnection. A handshake in flight is closed as soon as it completes;
// message and error delivery stop immediately.
func (c *Client) Disconnect() {
	c.mu.Lock()
	c.stopTimerLocked()
	a := c.current
	var conn Conn
	var notify func()
	if a == nil {
		notify = c.setStateLocked(StateIdle)
	} else {
		a.intentional = true
		conn = a.conn
		notify = c.setStateLocked(StateClosing)
	}
	c.mu.Unlock()

	notify()
	if conn != nil {
		if err := closeNormal(conn); err != nil {
			c.logg.Debug(c.logg.WithField(context.Background(), "error", err.Error()), "push channel close returned error")
		}
	}
}

func (c *Client) beginLocked() *attempt {
	a := &attempt{}
	c.current = a
	return a
}

func (c *Client) run(ctx context.Context, a *attempt) {
	c.metrics.IncDial()

	conn, err := c.dial(ctx)
	if err != nil {
		c.emitError(a, err)
		c.finish(a)
		return
	}

	c.mu.Lock()
	if c.current != a || a.intentional {
		c.mu.Unlock()
		_ = closeNormal(conn)
		c.finish(a)
		return
	}
	a.conn = conn
	c.attempts = 0
	notify := c.setStateLocked(StateOpen)
	onOpen := c.handlers.OnOpen
	c.mu.Unlock()

	c.metrics.IncOpen()
	c.logg.Info(context.Background(), "push channel open")
	notify()
	if onOpen != nil {
		onOpen()
	}

	c.readLoop(a, conn)
	c.finish(a)
}

func (c *Client) dial(ctx context.Context) (Conn, error) {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, err
	}
	target := *c.url
	query := target.Query()
	query.Set(tokenParam, token)
	target.RawQuery = query.Encode()

	dialCtx, cancel := context.WithTimeout(ctx, c.handshake)
	defer cancel()
	conn, resp, err := c.dialer.DialContext(dialCtx, target.String(), nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, err
	}
	return conn, nil
}

func (c *Client) readLoop(a *attempt, conn Conn) {
	for {
		msgType, payload, err := conn.ReadMessage()
		if err != nil {
			var closeErr *websocket.CloseError
			if !errors.As(err, &closeErr) {
				c.emitError(a, err)
			}
			return
		}
		if msgType != websocket.TextMessage {
			c.metrics.IncFrameDropped()
			continue
		}
		c.deliver(a, payload)
	}
}

func (c *Client) deliver(a *attempt, payload []byte) {
	msg, err := ParseFrame(payload)
	if err != nil {
		c.metrics.IncFrameDropped()
		c.logg.Warn(c.logg.WithFields(context.Background(), map[string]any{
			"error":       err.Error(),
			"frame_bytes": len(payload),
		}), "dropping push frame")
		return
	}

	c.mu.Lock()
	detached := a.intentional || c.current != a
	onMessage := c.handlers.OnMessage
	c.mu.Unlock()
	if detached || onMessage == nil {
		c.metrics.IncFrameDropped()
		return
	}
	c.metrics.IncFrameDelivered()
	onMessage(msg)
}

func (c *Client) emitError(a *attempt, err error) {
	c.mu.Lock()
	detached := a.intentional || c.current != a
	onError := c.handlers.OnError
	c.mu.Unlock()
	if detached {
		return
	}
	c.logg.Warn(c.logg.WithField(context.Background(), "error", err.Error()), "push channel error")
	if onError != nil {
		onError(err)
	}
}

// finish handles the close of attempt a. Only the close, never the error,
// drives reconnection.
func (c *Client) finish(a *attempt) {
	c.mu.Lock()
	if c.current != a {
		c.mu.Unlock()
		return
	}
	c.current = nil
	opened := a.conn != nil
	if opened {
		c.metrics.IncClose(a.intentional)
	}

	var notify func()
	switch {
	case a.intentional:
		notify = c.setStateLocked(StateIdle)
	case c.ctx != nil && c.ctx.Err() != nil:
		notify = c.setStateLocked(StateIdle)
	default:
		notify = c.scheduleReconnectLocked()
	}
	c.mu.Unlock()
	notify()
}

func (c *Client) scheduleReconnectLocked() func() {
	if c.attempts >= c.maxTries {
		c.metrics.IncGiveUp()
		c.logg.Warn(c.logg.WithField(context.Background(), "attempts", c.attempts), "push channel reconnect budget exhausted")
		return c.setStateLocked(StateGaveUp)
	}
	c.attempts++
	delay := BackoffDelay(c.base, c.attempts, c.capMult)

	c.stopTimerLocked()
	c.timerSeq++
	seq := c.timerSeq
	c.timer = c.afterFunc(delay, func() { c.reconnect(seq) })
	c.metrics.IncReconnectScheduled()
	c.logg.Info(c.logg.WithFields(context.Background(), map[string]any{
		"attempt": c.attempts,
		"delay":   delay.String(),
	}), "push channel reconnect scheduled")
	return c.setStateLocked(StateReconnecting)
}

func (c *Client) reconnect(seq uint64) {
	c.mu.Lock()
	if seq != c.timerSeq || c.timer == nil || c.state != StateReconnecting {
		c.mu.Unlock()
		return
	}
	c.timer = nil
	ctx := c.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	if ctx.Err() != nil {
		notify := c.setStateLocked(StateIdle)
		c.mu.Unlock()
		notify()
		return
	}
	a := c.beginLocked()
	notify := c.setStateLocked(StateConnecting)
	c.mu.Unlock()

	notify()
	go c.run(ctx, a)
}

func (c *Client) stopTimerLocked() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.timerSeq++
}

// setStateLocked records the new state and returns the notification to run
// once the lock is released.
func (c *Client) setStateLocked(next State) func() {
	if c.state == next {
		return func() {}
	}
	c.state = next
	hook := c.handlers.OnStateChange
	if hook == nil {
		return func() {}
	}
	return func() { hook(next) }
}
