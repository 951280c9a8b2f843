package realtime

import (
	"errors"
	"time"

	"github.com/gorilla/websocket"
)

// ErrNonTextFrame is returned by ReadMessage when the peer sent a binary frame.
// The envelope protocol is text only; the frame is dropped and answered with an
// error envelope, the connection stays open.
var ErrNonTextFrame = errors.New("non-text frame received")

// Transport is the socket wrapped by a Connection.
// ReadMessage is only ever called from the connection's read goroutine,
// WriteMessage is serialised by the Connection.
type Transport interface {
	ReadMessage() ([]byte, error)
	WriteMessage(data []byte) error
	Close() error
}

type wsTransport struct {
	conn      *websocket.Conn
	writeWait time.Duration // max time to write one frame to the peer
}

// NewWSTransport adapts a gorilla websocket connection.
func NewWSTransport(conn *websocket.Conn, writeWait time.Duration, maxMessageSize int64) Transport {
	if maxMessageSize > 0 {
		conn.SetReadLimit(maxMessageSize)
	}
	return &wsTransport{conn: conn, writeWait: writeWait}
}

func (t *wsTransport) ReadMessage() ([]byte, error) {
	msgType, data, err := t.conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	if msgType != websocket.TextMessage {
		return nil, ErrNonTextFrame
	}
	return data, nil
}

func (t *wsTransport) WriteMessage(data []byte) error {
	if t.writeWait > 0 {
		t.conn.SetWriteDeadline(time.Now().Add(t.writeWait))
	}
	return t.conn.WriteMessage(websocket.TextMessage, data)
}

// Close sends a best-effort close frame, then drops the socket.
// WriteControl is safe to call concurrently with WriteMessage.
func (t *wsTransport) Close() error {
	deadline := time.Now().Add(time.Second)
	_ = t.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
	return t.conn.Close()
}
