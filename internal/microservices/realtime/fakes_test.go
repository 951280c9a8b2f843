package realtime

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"haulhub/internal/protocol"
)

var errWriteFailed = errors.New("write failed")

// fakeTransport records written frames and feeds queued inbound frames.
type fakeTransport struct {
	mu         sync.Mutex
	written    [][]byte
	closed     bool
	failWrites bool
	inbox      chan []byte
	closeOnce  sync.Once
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{inbox: make(chan []byte, 16)}
}

func (f *fakeTransport) ReadMessage() ([]byte, error) {
	frame, ok := <-f.inbox
	if !ok {
		return nil, io.EOF
	}
	return frame, nil
}

func (f *fakeTransport) WriteMessage(data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWrites || f.closed {
		return errWriteFailed
	}
	f.written = append(f.written, append([]byte(nil), data...))
	return nil
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	f.closeOnce.Do(func() { close(f.inbox) })
	return nil
}

func (f *fakeTransport) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeTransport) setFailWrites(fail bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failWrites = fail
}

func (f *fakeTransport) envelopes(t *testing.T) []protocol.Envelope {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]protocol.Envelope, 0, len(f.written))
	for _, frame := range f.written {
		env, err := protocol.Decode(frame)
		require.NoError(t, err)
		out = append(out, *env)
	}
	return out
}

func (f *fakeTransport) envelopesOfType(t *testing.T, msgType string) []protocol.Envelope {
	t.Helper()
	var out []protocol.Envelope
	for _, env := range f.envelopes(t) {
		if env.Type == msgType {
			out = append(out, env)
		}
	}
	return out
}

func errorData(t *testing.T, env protocol.Envelope) protocol.ErrorData {
	t.Helper()
	var data protocol.ErrorData
	require.NoError(t, json.Unmarshal(env.Data, &data))
	return data
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestRegistry(opts ...RegistryOption) *Registry {
	return NewRegistry(append([]RegistryOption{WithLogger(quietLogger())}, opts...)...)
}

// register adds a connection backed by a fake transport.
func register(r *Registry, userID, role string) (*Connection, *fakeTransport) {
	transport := newFakeTransport()
	conn := NewConnection(Identity{UserID: userID, UserName: userID, Role: role}, transport, nil)
	r.Register(conn)
	return conn, transport
}
