package realtime

import (
	"context"
	"log/slog"
	"time"

	"haulhub/internal/protocol"
)

// DefaultHeartbeatInterval is long enough to ride out normal jitter and short
// enough that a dead peer is gone within about a minute.
const DefaultHeartbeatInterval = 30 * time.Second

// HeartbeatMonitor evicts connections that miss two consecutive probes.
//
// Each tick, per connection: a record still marked not-alive from the
// previous tick is terminated and unregistered; any other record is marked
// not-alive and sent a ping. A pong in between flips it back (see Router).
type HeartbeatMonitor struct {
	registry *Registry
	interval time.Duration
	probe    []byte
	logger   *slog.Logger
}

// constructor for HeartbeatMonitor
func NewHeartbeatMonitor(registry *Registry, interval time.Duration, logger *slog.Logger) *HeartbeatMonitor {
	if interval <= 0 {
		interval = DefaultHeartbeatInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	env, _ := protocol.New(protocol.TypePing, nil)
	probe, _ := env.Encode()
	return &HeartbeatMonitor{
		registry: registry,
		interval: interval,
		probe:    probe,
		logger:   logger,
	}
}

func (m *HeartbeatMonitor) Interval() time.Duration { return m.interval }

// Sweep runs one tick and reports how many records were probed and evicted.
func (m *HeartbeatMonitor) Sweep() (probed, evicted int) {
	m.registry.ForEach(func(c *Connection) {
		if !c.Alive() {
			if m.registry.Unregister(c.ID) {
				evicted++
				m.registry.metrics.evicted()
				m.logger.Warn("connection_evicted",
					"client_id", c.ID,
					"user_id", c.UserID,
					"last_seen", c.LastSeen(),
				)
			}
			return
		}

		c.MarkProbed()
		if err := c.sendFrame(m.probe); err != nil {
			// left not-alive, the next tick evicts it
			m.logger.Debug("heartbeat_probe_failed", "client_id", c.ID, "error", err.Error())
			return
		}
		probed++
	})
	if evicted > 0 {
		m.logger.Info("heartbeat_sweep", "probed", probed, "evicted", evicted)
	}
	return probed, evicted
}

// Run sweeps every interval until ctx is cancelled. The ticker is stopped on
// return so nothing fires into a torn-down registry.
func (m *HeartbeatMonitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.logger.Info("heartbeat_started", "interval", m.interval.String())
	for {
		select {
		case <-ticker.C:
			m.Sweep()
		case <-ctx.Done():
			m.logger.Info("heartbeat_stopped")
			return
		}
	}
}
