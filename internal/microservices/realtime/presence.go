package realtime

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Presence mirrors the registry into an index other processes can read
// (e.g. HTTP routes listing online haulers). Dispatch never consults it.
type Presence interface {
	Online(ctx context.Context, c *Connection) error
	Offline(ctx context.Context, c *Connection) error
}

// NopPresence is the default when no presence store is configured.
type NopPresence struct{}

func (NopPresence) Online(context.Context, *Connection) error  { return nil }
func (NopPresence) Offline(context.Context, *Connection) error { return nil }

const presenceTTL = 24 * time.Hour

// RedisPresence stores presence:conn:<id> hashes and presence:role:<role> sets.
type RedisPresence struct {
	client *redis.Client
}

// NewRedisPresence connects and pings Redis.
func NewRedisPresence(addr, password string) (*RedisPresence, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           0,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return &RedisPresence{client: rdb}, nil
}

func connKey(id string) string   { return "presence:conn:" + id }
func roleKey(role string) string { return "presence:role:" + role }

func roleOrNone(role string) string {
	if role == "" {
		return "none"
	}
	return role
}

func (p *RedisPresence) Online(ctx context.Context, c *Connection) error {
	if p == nil || p.client == nil {
		return nil
	}
	key := connKey(c.ID)
	_, err := p.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, map[string]any{
			"user_id":      c.UserID,
			"user_name":    c.UserName,
			"role":         c.Role,
			"connected_at": c.ConnectedAt.Format(time.RFC3339Nano),
		})
		pipe.Expire(ctx, key, presenceTTL)
		pipe.SAdd(ctx, roleKey(roleOrNone(c.Role)), c.ID)
		return nil
	})
	return err
}

func (p *RedisPresence) Offline(ctx context.Context, c *Connection) error {
	if p == nil || p.client == nil {
		return nil
	}
	_, err := p.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, connKey(c.ID))
		pipe.SRem(ctx, roleKey(roleOrNone(c.Role)), c.ID)
		return nil
	})
	return err
}

// OnlineByRole lists connection IDs currently marked online for role.
func (p *RedisPresence) OnlineByRole(ctx context.Context, role string) ([]string, error) {
	if p == nil || p.client == nil {
		return nil, nil
	}
	return p.client.SMembers(ctx, roleKey(roleOrNone(role))).Result()
}

func (p *RedisPresence) Close() error {
	if p == nil || p.client == nil {
		return nil
	}
	return p.client.Close()
}
