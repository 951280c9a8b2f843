package realtime

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"haulhub/internal/protocol"
)

var ErrConnectionClosed = errors.New("connection closed")

// Identity is what the authenticator established before the upgrade.
type Identity struct {
	UserID   string // from JWT claims
	UserName string // from JWT claims
	Role     string // "hauler", "client", "admin" or empty
}

// Connection is the server-side record of one open socket.
// It is owned by the Registry; collaborators only ever see its ID.
type Connection struct {
	ID          string // uuid, unique for the lifetime of the process
	UserID      string
	UserName    string
	Role        string
	ConnectedAt time.Time

	transport Transport
	limiter   *rate.Limiter // inbound frames, nil = unlimited

	alive    atomic.Bool
	lastSeen atomic.Int64 // unix nanos of the last inbound frame
	closed   atomic.Bool

	writeMu sync.Mutex // one writer at a time keeps per-connection send order
}

// constructor for Connection
func NewConnection(identity Identity, transport Transport, limiter *rate.Limiter) *Connection {
	now := time.Now()
	c := &Connection{
		ID:          uuid.NewString(),
		UserID:      identity.UserID,
		UserName:    identity.UserName,
		Role:        identity.Role,
		ConnectedAt: now,
		transport:   transport,
		limiter:     limiter,
	}
	c.alive.Store(true)
	c.lastSeen.Store(now.UnixNano())
	return c
}

// Send encodes the envelope and writes it as one text frame.
func (c *Connection) Send(env *protocol.Envelope) error {
	frame, err := env.Encode()
	if err != nil {
		return fmt.Errorf("failed to encode %q envelope: %w", env.Type, err)
	}
	return c.sendFrame(frame)
}

func (c *Connection) sendFrame(frame []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.closed.Load() {
		return ErrConnectionClosed
	}
	if err := c.transport.WriteMessage(frame); err != nil {
		return fmt.Errorf("failed to write frame: %w", err)
	}
	return nil
}

// Close releases the transport. Safe to call more than once.
func (c *Connection) Close() error {
	if !c.markClosed() {
		return nil
	}
	return c.transport.Close()
}

// markClosed flips the closed flag; only the first caller gets true and owns
// releasing the transport. Sends fail fast from this point on.
func (c *Connection) markClosed() bool {
	return c.closed.CompareAndSwap(false, true)
}

func (c *Connection) Closed() bool { return c.closed.Load() }

// Alive reports the liveness flag inspected by the heartbeat sweep.
func (c *Connection) Alive() bool { return c.alive.Load() }

// MarkAlive is called on every liveness response from the peer.
func (c *Connection) MarkAlive() { c.alive.Store(true) }

// MarkProbed clears the flag right before a probe is sent.
func (c *Connection) MarkProbed() { c.alive.Store(false) }

func (c *Connection) touch() { c.lastSeen.Store(time.Now().UnixNano()) }

// LastSeen is the arrival time of the most recent inbound frame.
func (c *Connection) LastSeen() time.Time { return time.Unix(0, c.lastSeen.Load()) }

// allow consumes one inbound token; true when the frame may be processed.
func (c *Connection) allow() bool {
	if c.limiter == nil {
		return true
	}
	return c.limiter.Allow()
}

func (c *Connection) source() Source {
	return Source{
		ConnectionID: c.ID,
		UserID:       c.UserID,
		UserName:     c.UserName,
		Role:         c.Role,
	}
}
