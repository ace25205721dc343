package realtime

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// Conn is the subset of a websocket connection the client drives.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteControl(messageType int, data []byte, deadline time.Time) error
	Close() error
}

// Dialer opens push channel connections.
type Dialer interface {
	DialContext(ctx context.Context, urlStr string, header http.Header) (Conn, *http.Response, error)
}

type wsDialer struct {
	dialer *websocket.Dialer
}

// NewWebsocketDialer adapts a gorilla dialer. A nil dialer uses websocket.DefaultDialer.
func NewWebsocketDialer(d *websocket.Dialer) Dialer {
	if d == nil {
		d = websocket.DefaultDialer
	}
	return wsDialer{dialer: d}
}

func (d wsDialer) DialContext(ctx context.Context, urlStr string, header http.Header) (Conn, *http.Response, error) {
	conn, resp, err := d.dialer.DialContext(ctx, urlStr, header)
	if err != nil {
		return nil, resp, err
	}
	return conn, resp, nil
}

func closeNormal(conn Conn) error {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	return conn.Close()
}
