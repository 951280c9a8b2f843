package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"haulhub/internal/protocol"
)

var (
	ErrReservedType  = errors.New("message type is reserved by the realtime core")
	ErrHandlerExists = errors.New("handler already registered for message type")
)

// Error envelope messages sent back to the originating connection.
const (
	msgUnknownType   = "Unknown message type"
	msgInvalidFormat = "Invalid message format"
	msgRateLimited   = "Rate limit exceeded"
)

// Source identifies the connection an inbound envelope came from.
// Handlers address replies through the router using ConnectionID.
type Source struct {
	ConnectionID string
	UserID       string
	UserName     string
	Role         string
}

// Handler processes one inbound envelope payload. A returned error (or a
// panic) becomes an error envelope to the sender and goes nowhere else.
type Handler func(ctx context.Context, src Source, data json.RawMessage) error

// Router decodes inbound frames, dispatches them by type and provides the
// addressed and role-filtered delivery primitives.
type Router struct {
	registry *Registry
	mu       sync.RWMutex
	handlers map[string]Handler
	logger   *slog.Logger
}

// constructor for Router
func NewRouter(registry *Registry, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		registry: registry,
		handlers: make(map[string]Handler),
		logger:   logger,
	}
}

// RegisterHandler binds a collaborator to a message type.
func (r *Router) RegisterHandler(msgType string, h Handler) error {
	if msgType == "" || h == nil {
		return fmt.Errorf("register handler: type and handler are required")
	}
	if protocol.IsReserved(msgType) {
		return fmt.Errorf("%w: %q", ErrReservedType, msgType)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handlers[msgType]; exists {
		return fmt.Errorf("%w: %q", ErrHandlerExists, msgType)
	}
	r.handlers[msgType] = h
	return nil
}

func (r *Router) handler(msgType string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[msgType]
	return h, ok
}

// HandleFrame decodes one raw frame from connID and dispatches it.
// Frames that do not decode are answered with an error envelope; the
// connection stays open.
func (r *Router) HandleFrame(ctx context.Context, connID string, frame []byte) {
	env, err := protocol.Decode(frame)
	if err != nil {
		r.logger.Warn("invalid_envelope_received",
			"client_id", connID,
			"error", err.Error(),
		)
		r.registry.metrics.dispatched("invalid", outcomeMalformed)
		r.replyError(connID, msgInvalidFormat, "")
		return
	}
	r.Dispatch(ctx, connID, env)
}

// Dispatch routes a decoded envelope from connID.
// Unknown types always produce exactly one error envelope to the sender.
func (r *Router) Dispatch(ctx context.Context, connID string, env *protocol.Envelope) {
	conn, ok := r.registry.Get(connID)
	if !ok {
		return // sender went away mid-flight
	}

	switch env.Type {
	case protocol.TypePong:
		conn.MarkAlive()
		return
	case protocol.TypePing:
		conn.MarkAlive()
		pong, _ := protocol.New(protocol.TypePong, nil)
		r.deliver(conn, pong)
		return
	case protocol.TypeError:
		// never answer an error with an error, two peers could loop forever
		r.logger.Info("client_reported_error", "client_id", connID, "data", string(env.Data))
		return
	}

	h, ok := r.handler(env.Type)
	if !ok {
		r.logger.Warn("unknown_message_type",
			"client_id", connID,
			"message_type", env.Type,
		)
		r.registry.metrics.dispatched("unknown", outcomeUnknown)
		r.replyError(connID, msgUnknownType, env.Type)
		return
	}

	if err := r.invoke(ctx, h, conn.source(), env.Data); err != nil {
		r.logger.Error("handler_failed",
			"client_id", connID,
			"message_type", env.Type,
			"error", err.Error(),
		)
		r.registry.metrics.dispatched(env.Type, outcomeFailed)
		r.replyError(connID, err.Error(), env.Type)
		return
	}
	r.registry.metrics.dispatched(env.Type, outcomeOK)
}

// invoke contains handler failures, panics included, to this one call.
func (r *Router) invoke(ctx context.Context, h Handler, src Source, data json.RawMessage) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("handler panic: %v", rec)
		}
	}()
	return h(ctx, src, data)
}

func (r *Router) replyError(connID, message, msgType string) {
	if conn, ok := r.registry.Get(connID); ok {
		r.deliver(conn, protocol.NewError(message, msgType))
	}
}

func (r *Router) deliver(conn *Connection, env *protocol.Envelope) bool {
	if err := conn.Send(env); err != nil {
		r.logger.Debug("delivery_skipped",
			"client_id", conn.ID,
			"message_type", env.Type,
			"error", err.Error(),
		)
		return false
	}
	return true
}

// fanOut encodes once and writes to every visited connection; closed
// transports are skipped, never retried.
func (r *Router) fanOut(msgType string, data any, each func(func(*Connection))) (int, error) {
	env, err := protocol.New(msgType, data)
	if err != nil {
		return 0, err
	}
	frame, err := env.Encode()
	if err != nil {
		return 0, fmt.Errorf("failed to encode %q envelope: %w", msgType, err)
	}

	delivered := 0
	each(func(c *Connection) {
		if err := c.sendFrame(frame); err != nil {
			r.logger.Debug("delivery_skipped", "client_id", c.ID, "message_type", msgType, "error", err.Error())
			return
		}
		delivered++
	})
	return delivered, nil
}

// BroadcastToRole delivers to every connection whose role equals role and
// returns how many transports accepted the frame.
func (r *Router) BroadcastToRole(role, msgType string, data any) (int, error) {
	n, err := r.fanOut(msgType, data, func(visit func(*Connection)) {
		r.registry.ForEachWithRole(role, visit)
	})
	if err == nil {
		r.logger.Info("broadcast_to_role", "role", role, "message_type", msgType, "delivered", n)
	}
	return n, err
}

// Broadcast delivers to every registered connection regardless of role.
func (r *Router) Broadcast(msgType string, data any) (int, error) {
	return r.fanOut(msgType, data, r.registry.ForEach)
}

// SendToUser delivers to every connection opened by userID.
func (r *Router) SendToUser(userID, msgType string, data any) (int, error) {
	return r.fanOut(msgType, data, func(visit func(*Connection)) {
		r.registry.forEachUser(userID, visit)
	})
}

// SendToConnection delivers to exactly one connection. An unregistered id is
// a silent no-op: delivery is at-most-once with no confirmation.
func (r *Router) SendToConnection(connID, msgType string, data any) error {
	env, err := protocol.New(msgType, data)
	if err != nil {
		return err
	}
	conn, ok := r.registry.Get(connID)
	if !ok {
		return nil
	}
	r.deliver(conn, env)
	return nil
}
