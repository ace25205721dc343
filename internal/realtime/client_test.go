package realtime

import (
	"context"
	"encoding/binary"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticToken string

func (s staticToken) Token(context.Context) (string, error) {
	return string(s), nil
}

type inbound struct {
	typ  int
	data []byte
	err  error
}

type fakeConn struct {
	frames    chan inbound
	closed    chan struct{}
	closeOnce sync.Once

	mu         sync.Mutex
	closeCodes []int
}

func newFakeConn() *fakeConn {
	return &fakeConn{frames: make(chan inbound, 16), closed: make(chan struct{})}
}

func (f *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case in := <-f.frames:
		return in.typ, in.data, in.err
	case <-f.closed:
		return 0, nil, errors.New("use of closed network connection")
	}
}

func (f *fakeConn) WriteControl(messageType int, data []byte, _ time.Time) error {
	if messageType == websocket.CloseMessage && len(data) >= 2 {
		f.mu.Lock()
		f.closeCodes = append(f.closeCodes, int(binary.BigEndian.Uint16(data[:2])))
		f.mu.Unlock()
	}
	return nil
}

func (f *fakeConn) Close() error {
	f.closeOnce.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeConn) text(s string) {
	f.frames <- inbound{typ: websocket.TextMessage, data: []byte(s)}
}

func (f *fakeConn) codes() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int(nil), f.closeCodes...)
}

type fakeDialer struct {
	mu    sync.Mutex
	urls  []string
	gate  chan struct{}
	next  func(n int) (Conn, error)
	calls int
}

func (d *fakeDialer) DialContext(ctx context.Context, urlStr string, _ http.Header) (Conn, *http.Response, error) {
	d.mu.Lock()
	d.urls = append(d.urls, urlStr)
	d.calls++
	n := d.calls
	gate := d.gate
	d.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, nil, ctx.Err()
		}
	}
	conn, err := d.next(n)
	return conn, nil, err
}

func (d *fakeDialer) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

type fakeTimer struct {
	stopped atomic.Bool
}

func (t *fakeTimer) Stop() bool {
	return !t.stopped.Swap(true)
}

type scheduled struct {
	delay time.Duration
	fire  func()
	timer *fakeTimer
}

type fakeClock struct {
	ch chan scheduled
}

func newFakeClock() *fakeClock {
	return &fakeClock{ch: make(chan scheduled, 32)}
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	timer := &fakeTimer{}
	c.ch <- scheduled{delay: d, fire: f, timer: timer}
	return timer
}

func (c *fakeClock) next(t *testing.T) scheduled {
	t.Helper()
	select {
	case s := <-c.ch:
		return s
	case <-time.After(2 * time.Second):
		t.Fatal("no reconnect scheduled")
		return scheduled{}
	}
}

func (c *fakeClock) assertNone(t *testing.T) {
	t.Helper()
	select {
	case s := <-c.ch:
		t.Fatalf("unexpected reconnect scheduled after %s", s.delay)
	case <-time.After(50 * time.Millisecond):
	}
}

func newTestClient(t *testing.T, dialer Dialer, clock *fakeClock, handlers Handlers, maxAttempts int) *Client {
	t.Helper()
	u, err := url.Parse("wss://api.notekeep.test/api/ws")
	require.NoError(t, err)
	client, err := New(Options{
		URL:           u,
		Tokens:        staticToken("tok-1"),
		Dialer:        dialer,
		BaseDelay:     5 * time.Second,
		CapMultiplier: 5,
		MaxAttempts:   maxAttempts,
		AfterFunc:     clock.AfterFunc,
	}, handlers)
	require.NoError(t, err)
	return client
}

func waitState(t *testing.T, c *Client, want State) {
	t.Helper()
	require.Eventually(t, func() bool { return c.State() == want }, 2*time.Second, 5*time.Millisecond, "state %s", want)
}

func TestNewValidatesOptions(t *testing.T) {
	_, err := New(Options{Tokens: staticToken("x")}, Handlers{})
	require.Error(t, err)

	u, _ := url.Parse("ws://localhost/api/ws")
	_, err = New(Options{URL: u}, Handlers{})
	require.Error(t, err)
}

func TestConnectDeliversFramesAndSurvivesMalformedOnes(t *testing.T) {
	conn := newFakeConn()
	dialer := &fakeDialer{next: func(int) (Conn, error) { return conn, nil }}
	clock := newFakeClock()

	opened := make(chan struct{}, 1)
	messages := make(chan Message, 8)
	client := newTestClient(t, dialer, clock, Handlers{
		OnOpen:    func() { opened <- struct{}{} },
		OnMessage: func(m Message) { messages <- m },
	}, 10)

	client.Connect(context.Background())
	<-opened
	assert.Equal(t, StateOpen, client.State())
	require.Len(t, dialer.urls, 1)
	assert.Equal(t, "wss://api.notekeep.test/api/ws?token=tok-1", dialer.urls[0])

	conn.text(`not json`)
	conn.text(`{"foo":"bar"}`)
	conn.frames <- inbound{typ: websocket.BinaryMessage, data: []byte(`{"type_code":"X"}`)}
	conn.text(`{"id":"n1","type_code":"REFUND_REQUESTED","title":"T"}`)
	conn.text(`{"data":{"id":"n2","type_code":"PLAN_UPDATED"}}`)

	first := <-messages
	assert.Equal(t, MessageTypeNotification, first.Type)
	assert.Contains(t, string(first.Data), `"n1"`)
	second := <-messages
	assert.Contains(t, string(second.Data), `"n2"`)
	assert.Empty(t, messages)
	assert.Equal(t, StateOpen, client.State())

	client.Disconnect()
	waitState(t, client, StateIdle)
}

func TestConnectIsIdempotentWhileOpen(t *testing.T) {
	conn := newFakeConn()
	dialer := &fakeDialer{next: func(int) (Conn, error) { return conn, nil }}
	opened := make(chan struct{}, 2)
	client := newTestClient(t, dialer, newFakeClock(), Handlers{OnOpen: func() { opened <- struct{}{} }}, 10)

	client.Connect(context.Background())
	<-opened
	client.Connect(context.Background())
	client.Connect(context.Background())

	assert.Equal(t, 1, dialer.count())
	client.Disconnect()
	waitState(t, client, StateIdle)
}

func TestReconnectBackoffSequenceThenGiveUp(t *testing.T) {
	dialer := &fakeDialer{next: func(int) (Conn, error) { return nil, errors.New("connection refused") }}
	clock := newFakeClock()
	var errorsSeen atomic.Int32
	client := newTestClient(t, dialer, clock, Handlers{OnError: func(error) { errorsSeen.Add(1) }}, 10)

	client.Connect(context.Background())

	var delays []time.Duration
	for i := 0; i < 10; i++ {
		s := clock.next(t)
		delays = append(delays, s.delay)
		s.fire()
	}

	waitState(t, client, StateGaveUp)
	clock.assertNone(t)

	want := []time.Duration{
		5 * time.Second, 10 * time.Second, 15 * time.Second, 20 * time.Second, 25 * time.Second,
		25 * time.Second, 25 * time.Second, 25 * time.Second, 25 * time.Second, 25 * time.Second,
	}
	assert.Equal(t, want, delays)
	assert.Equal(t, 11, dialer.count())
	assert.Equal(t, int32(11), errorsSeen.Load())
}

func TestExplicitConnectAfterGiveUpStartsFresh(t *testing.T) {
	dialer := &fakeDialer{next: func(int) (Conn, error) { return nil, errors.New("refused") }}
	clock := newFakeClock()
	client := newTestClient(t, dialer, clock, Handlers{}, 1)

	client.Connect(context.Background())
	clock.next(t).fire()
	waitState(t, client, StateGaveUp)

	client.Connect(context.Background())
	s := clock.next(t)
	assert.Equal(t, 5*time.Second, s.delay)
	assert.Equal(t, 3, dialer.count())
	client.Disconnect()
	assert.True(t, s.timer.stopped.Load())
	assert.Equal(t, StateIdle, client.State())
}

func TestOpenResetsAttemptsAndRemoteCloseReconnects(t *testing.T) {
	conn := newFakeConn()
	dialer := &fakeDialer{next: func(n int) (Conn, error) {
		if n < 3 {
			return nil, errors.New("refused")
		}
		return conn, nil
	}}
	clock := newFakeClock()
	opened := make(chan struct{}, 1)
	var errorsSeen atomic.Int32
	client := newTestClient(t, dialer, clock, Handlers{
		OnOpen:  func() { opened <- struct{}{} },
		OnError: func(error) { errorsSeen.Add(1) },
	}, 10)

	client.Connect(context.Background())
	first := clock.next(t)
	assert.Equal(t, 5*time.Second, first.delay)
	first.fire()
	second := clock.next(t)
	assert.Equal(t, 10*time.Second, second.delay)
	second.fire()

	<-opened
	assert.Equal(t, Status{State: StateOpen, Attempts: 0}, client.Status())

	conn.frames <- inbound{err: &websocket.CloseError{Code: websocket.CloseAbnormalClosure}}
	third := clock.next(t)
	assert.Equal(t, 5*time.Second, third.delay)
	assert.Equal(t, StateReconnecting, client.State())
	assert.Equal(t, int32(2), errorsSeen.Load())

	client.Disconnect()
	assert.True(t, third.timer.stopped.Load())
	third.fire()
	clock.assertNone(t)
	assert.Equal(t, 3, dialer.count())
}

func TestReadErrorSurfacesThenReconnects(t *testing.T) {
	conn := newFakeConn()
	dialer := &fakeDialer{next: func(int) (Conn, error) { return conn, nil }}
	clock := newFakeClock()
	opened := make(chan struct{}, 1)
	errs := make(chan error, 1)
	client := newTestClient(t, dialer, clock, Handlers{
		OnOpen:  func() { opened <- struct{}{} },
		OnError: func(err error) { errs <- err },
	}, 10)

	client.Connect(context.Background())
	<-opened
	conn.frames <- inbound{err: errors.New("read tcp: connection reset by peer")}

	assert.EqualError(t, <-errs, "read tcp: connection reset by peer")
	assert.Equal(t, 5*time.Second, clock.next(t).delay)
	client.Disconnect()
}

func TestDisconnectSuppressesReconnect(t *testing.T) {
	conn := newFakeConn()
	dialer := &fakeDialer{next: func(int) (Conn, error) { return conn, nil }}
	clock := newFakeClock()
	opened := make(chan struct{}, 1)
	var errorsSeen atomic.Int32
	var states []State
	var statesMu sync.Mutex
	client := newTestClient(t, dialer, clock, Handlers{
		OnOpen:  func() { opened <- struct{}{} },
		OnError: func(error) { errorsSeen.Add(1) },
		OnStateChange: func(s State) {
			statesMu.Lock()
			states = append(states, s)
			statesMu.Unlock()
		},
	}, 10)

	client.Connect(context.Background())
	<-opened
	client.Disconnect()

	waitState(t, client, StateIdle)
	clock.assertNone(t)
	assert.Equal(t, []int{websocket.CloseNormalClosure}, conn.codes())
	assert.Zero(t, errorsSeen.Load())

	statesMu.Lock()
	defer statesMu.Unlock()
	assert.Equal(t, []State{StateConnecting, StateOpen, StateClosing, StateIdle}, states)
}

func TestDisconnectDuringHandshakeDefersClose(t *testing.T) {
	conn := newFakeConn()
	gate := make(chan struct{})
	dialer := &fakeDialer{gate: gate, next: func(int) (Conn, error) { return conn, nil }}
	clock := newFakeClock()
	var openedCalls, messages atomic.Int32
	client := newTestClient(t, dialer, clock, Handlers{
		OnOpen:    func() { openedCalls.Add(1) },
		OnMessage: func(Message) { messages.Add(1) },
	}, 10)

	client.Connect(context.Background())
	assert.Equal(t, StateConnecting, client.State())
	require.Eventually(t, func() bool { return dialer.count() == 1 }, time.Second, 5*time.Millisecond)

	client.Disconnect()
	assert.Equal(t, StateClosing, client.State())
	conn.text(`{"data":{"id":"late"}}`)
	close(gate)

	waitState(t, client, StateIdle)
	assert.Equal(t, []int{websocket.CloseNormalClosure}, conn.codes())
	assert.Zero(t, openedCalls.Load())
	assert.Zero(t, messages.Load())
	clock.assertNone(t)
}

func TestCancelledContextStopsReconnecting(t *testing.T) {
	dialer := &fakeDialer{next: func(int) (Conn, error) { return nil, errors.New("refused") }}
	clock := newFakeClock()
	client := newTestClient(t, dialer, clock, Handlers{}, 10)

	ctx, cancel := context.WithCancel(context.Background())
	client.Connect(ctx)
	s := clock.next(t)
	cancel()
	s.fire()

	assert.Equal(t, StateIdle, client.State())
	clock.assertNone(t)
	assert.Equal(t, 1, dialer.count())
}

func TestClientAgainstWebsocketServer(t *testing.T) {
	upgrader := websocket.Upgrader{}
	closeCode := make(chan int, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/ws" || r.URL.Query().Get("token") != "tok-1" {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"id":"n1","type_code":"REFUND_REQUESTED","title":"T","message":"M"}`))
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				var ce *websocket.CloseError
				if errors.As(err, &ce) {
					closeCode <- ce.Code
				} else {
					closeCode <- -1
				}
				return
			}
		}
	}))
	defer srv.Close()

	u, err := url.Parse("ws" + strings.TrimPrefix(srv.URL, "http") + "/api/ws")
	require.NoError(t, err)

	messages := make(chan Message, 1)
	client, err := New(Options{URL: u, Tokens: staticToken("tok-1")}, Handlers{
		OnMessage: func(m Message) { messages <- m },
	})
	require.NoError(t, err)

	client.Connect(context.Background())
	select {
	case msg := <-messages:
		assert.Equal(t, MessageTypeNotification, msg.Type)
		assert.Contains(t, string(msg.Data), `"REFUND_REQUESTED"`)
	case <-time.After(3 * time.Second):
		t.Fatal("no message received")
	}

	client.Disconnect()
	select {
	case code := <-closeCode:
		assert.Equal(t, websocket.CloseNormalClosure, code)
	case <-time.After(3 * time.Second):
		t.Fatal("server did not observe close")
	}
	waitState(t, client, StateIdle)
}
