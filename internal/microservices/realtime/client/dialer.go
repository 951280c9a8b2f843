package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

var errNonTextFrame = errors.New("non-text frame received")

// Conn is one live transport. ReadMessage is called from a single goroutine;
// the Manager serialises WriteMessage.
type Conn interface {
	ReadMessage() ([]byte, error)
	WriteMessage(data []byte) error
	Close() error
}

// Dialer opens a new transport for each (re)connection attempt.
type Dialer interface {
	Dial(ctx context.Context) (Conn, error)
}

// WSDialer dials the realtime server with gorilla websocket.
type WSDialer struct {
	URL       string
	Header    http.Header // e.g. Authorization: Bearer <jwt>
	Dialer    *websocket.Dialer
	WriteWait time.Duration
}

// NewWSDialer builds a dialer that authenticates with a bearer token.
func NewWSDialer(url, token string) *WSDialer {
	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}
	return &WSDialer{
		URL:       url,
		Header:    header,
		Dialer:    websocket.DefaultDialer,
		WriteWait: 10 * time.Second,
	}
}

func (d *WSDialer) Dial(ctx context.Context) (Conn, error) {
	dialer := d.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	conn, resp, err := dialer.DialContext(ctx, d.URL, d.Header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %d)", d.URL, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", d.URL, err)
	}
	return &wsConn{conn: conn, writeWait: d.WriteWait}, nil
}

type wsConn struct {
	conn      *websocket.Conn
	writeWait time.Duration
}

func (c *wsConn) ReadMessage() ([]byte, error) {
	msgType, data, err := c.conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	if msgType != websocket.TextMessage {
		return nil, errNonTextFrame
	}
	return data, nil
}

func (c *wsConn) WriteMessage(data []byte) error {
	if c.writeWait > 0 {
		c.conn.SetWriteDeadline(time.Now().Add(c.writeWait))
	}
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *wsConn) Close() error {
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	return c.conn.Close()
}

// cleanClose reports whether the peer closed the socket on purpose.
func cleanClose(err error) bool {
	return websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway)
}
