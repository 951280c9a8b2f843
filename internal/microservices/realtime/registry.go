package realtime

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

const presenceTimeout = 2 * time.Second

// Registry tracks every open connection.
// A record is present if and only if its transport is open: Unregister drops
// the entry and marks the record closed under the same lock, so no send can
// reach the transport after removal.
type Registry struct {
	mu       sync.RWMutex
	conns    map[string]*Connection // key: connection ID
	presence Presence
	metrics  *Metrics
	logger   *slog.Logger
}

type RegistryOption func(*Registry)

// WithPresence mirrors register/unregister into an external presence index.
func WithPresence(p Presence) RegistryOption {
	return func(r *Registry) {
		if p != nil {
			r.presence = p
		}
	}
}

func WithMetrics(m *Metrics) RegistryOption {
	return func(r *Registry) { r.metrics = m }
}

func WithLogger(logger *slog.Logger) RegistryOption {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// constructor for Registry
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		conns:    make(map[string]*Connection),
		presence: NopPresence{},
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register makes the record visible to broadcast and heartbeat immediately.
// IDs are generated, so a collision is a bug and panics.
func (r *Registry) Register(c *Connection) {
	r.mu.Lock()
	if _, exists := r.conns[c.ID]; exists {
		r.mu.Unlock()
		panic(fmt.Sprintf("realtime: connection %s registered twice", c.ID))
	}
	r.conns[c.ID] = c
	total := len(r.conns)
	r.mu.Unlock()

	r.metrics.connectionOpened()
	r.logger.Info("client_added",
		"client_id", c.ID,
		"user_id", c.UserID,
		"role", c.Role,
		"connections", total,
	)

	ctx, cancel := context.WithTimeout(context.Background(), presenceTimeout)
	defer cancel()
	if err := r.presence.Online(ctx, c); err != nil {
		r.logger.Warn("presence_online_failed", "client_id", c.ID, "error", err.Error())
	}
}

// Unregister removes and closes the record. Unknown IDs are a no-op, the
// read loop and the heartbeat may both try to remove the same connection.
func (r *Registry) Unregister(id string) bool {
	r.mu.Lock()
	c, exists := r.conns[id]
	if !exists {
		r.mu.Unlock()
		return false
	}
	delete(r.conns, id)
	release := c.markClosed()
	r.mu.Unlock()

	if release {
		if err := c.transport.Close(); err != nil {
			r.logger.Debug("transport_close_failed", "client_id", id, "error", err.Error())
		}
	}

	r.metrics.connectionClosed()
	r.logger.Info("client_removed",
		"client_id", id,
		"user_id", c.UserID,
	)

	ctx, cancel := context.WithTimeout(context.Background(), presenceTimeout)
	defer cancel()
	if err := r.presence.Offline(ctx, c); err != nil {
		r.logger.Warn("presence_offline_failed", "client_id", id, "error", err.Error())
	}
	return true
}

// Get returns the record for id, if registered.
func (r *Registry) Get(id string) (*Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conns[id]
	return c, ok
}

// Contains reports whether id is currently registered.
func (r *Registry) Contains(id string) bool {
	_, ok := r.Get(id)
	return ok
}

// ForEach visits every registered record. The visitor runs outside the lock
// on a snapshot, so it may unregister records; a record removed before it is
// reached is skipped and no record is visited twice.
func (r *Registry) ForEach(visit func(*Connection)) {
	r.each(func(*Connection) bool { return true }, visit)
}

// ForEachWithRole visits only records whose role equals role.
func (r *Registry) ForEachWithRole(role string, visit func(*Connection)) {
	r.each(func(c *Connection) bool { return c.Role == role }, visit)
}

func (r *Registry) forEachUser(userID string, visit func(*Connection)) {
	r.each(func(c *Connection) bool { return c.UserID == userID }, visit)
}

func (r *Registry) each(match func(*Connection) bool, visit func(*Connection)) {
	r.mu.RLock()
	snapshot := make([]*Connection, 0, len(r.conns))
	for _, c := range r.conns {
		if match(c) {
			snapshot = append(snapshot, c)
		}
	}
	r.mu.RUnlock()

	for _, c := range snapshot {
		if current, ok := r.Get(c.ID); !ok || current != c {
			continue
		}
		visit(c)
	}
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// CountByRole returns the number of connections per role.
func (r *Registry) CountByRole() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	counts := make(map[string]int)
	for _, c := range r.conns {
		counts[c.Role]++
	}
	return counts
}

// CloseAll closes and drops every record, used on server shutdown.
func (r *Registry) CloseAll() {
	r.mu.RLock()
	ids := make([]string, 0, len(r.conns))
	for id := range r.conns {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	for _, id := range ids {
		r.Unregister(id)
	}
}
