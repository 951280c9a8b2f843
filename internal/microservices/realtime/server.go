package realtime

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

// TypeSystem carries server notices such as the shutdown announcement.
const TypeSystem = "system"

// Options are the transport settings read once from config.
type Options struct {
	WriteWait      time.Duration // max time to write a frame to the peer
	MaxMessageSize int64         // inbound frame limit in bytes
	RateLimit      rate.Limit    // inbound frames per second, 0 = unlimited
	RateBurst      int
	AllowedOrigins []string // empty allows every origin
}

func DefaultOptions() Options {
	return Options{
		WriteWait:      10 * time.Second,
		MaxMessageSize: 64 * 1024,
		RateLimit:      rate.Limit(10),
		RateBurst:      20,
	}
}

// Server accepts websocket connections into the registry and pumps inbound
// frames to the router. It is created once per process in main.
type Server struct {
	registry *Registry
	router   *Router
	monitor  *HeartbeatMonitor
	auth     Authenticator
	opts     Options
	upgrader websocket.Upgrader
	logger   *slog.Logger

	ctx    context.Context // cancelled by Shutdown, handed to handlers
	cancel context.CancelFunc
	wg     sync.WaitGroup // one per read loop
}

// constructor for Server
func NewServer(registry *Registry, router *Router, monitor *HeartbeatMonitor, auth Authenticator, opts Options, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		registry: registry,
		router:   router,
		monitor:  monitor,
		auth:     auth,
		opts:     opts,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(opts.AllowedOrigins),
	}
	return s
}

func originChecker(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		set[o] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true // non-browser clients
		}
		_, ok := set[origin]
		return ok
	}
}

func (s *Server) Registry() *Registry { return s.registry }
func (s *Server) Router() *Router     { return s.router }

// Handler authenticates the request and upgrades it to a websocket.
// Unauthenticated requests never reach the registry.
func (s *Server) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		identity, err := s.auth.Authenticate(c.Request)
		if err != nil {
			s.logger.Warn("websocket_auth_failed",
				"remote_addr", c.ClientIP(),
				"error", err.Error(),
			)
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
			return
		}

		conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			// the upgrader has already written an HTTP error
			s.logger.Warn("websocket_upgrade_failed", "error", err.Error())
			return
		}

		s.Accept(identity, NewWSTransport(conn, s.opts.WriteWait, s.opts.MaxMessageSize))
	}
}

// Accept registers a transport that has already been authenticated and
// starts its read loop. It returns the new connection ID.
func (s *Server) Accept(identity Identity, transport Transport) string {
	var limiter *rate.Limiter
	if s.opts.RateLimit > 0 {
		limiter = rate.NewLimiter(s.opts.RateLimit, s.opts.RateBurst)
	}
	conn := NewConnection(identity, transport, limiter)
	s.registry.Register(conn)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.readLoop(conn)
	}()
	return conn.ID
}

// readLoop is the only reader of the transport. Any read error ends the
// connection; the heartbeat may have unregistered it first.
func (s *Server) readLoop(conn *Connection) {
	defer s.registry.Unregister(conn.ID)

	for {
		frame, err := conn.transport.ReadMessage()
		if err != nil {
			if errors.Is(err, ErrNonTextFrame) {
				s.router.replyError(conn.ID, msgInvalidFormat, "")
				continue
			}
			s.logReadError(conn, err)
			return
		}
		conn.touch()

		if !conn.allow() {
			s.logger.Warn("rate_limit_exceeded", "client_id", conn.ID)
			s.registry.metrics.dispatched("limited", outcomeLimited)
			s.router.replyError(conn.ID, msgRateLimited, "")
			continue
		}
		s.router.HandleFrame(s.ctx, conn.ID, frame)
	}
}

func (s *Server) logReadError(conn *Connection, err error) {
	switch {
	case conn.Closed():
		// closed by us: eviction or shutdown
	case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway):
		s.logger.Info("client_disconnected", "client_id", conn.ID)
	default:
		s.logger.Warn("client_read_error", "client_id", conn.ID, "error", err.Error())
	}
}

// Run drives the heartbeat until ctx is cancelled or Shutdown is called.
func (s *Server) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-s.ctx.Done():
			cancel()
		case <-ctx.Done():
		}
	}()
	s.monitor.Run(ctx)
}

// Shutdown announces the shutdown, closes every connection, stops the
// heartbeat and waits for read loops to finish.
func (s *Server) Shutdown(ctx context.Context) error {
	if n, err := s.router.Broadcast(TypeSystem, map[string]string{"message": "Server is shutting down"}); err == nil {
		s.logger.Info("shutdown_announced", "delivered", n)
	}
	s.cancel()
	s.registry.CloseAll()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
