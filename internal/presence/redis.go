package presence

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	keyPrefix = "dealroom:presence:"

	// DefaultTTL keeps a user online between heartbeats
	DefaultTTL = 2 * time.Minute
)

// Config holds Redis connection settings
type Config struct {
	Addr     string
	Password string
	DB       int
	PoolSize int
	TTL      time.Duration
}

// Tracker stores per-user online markers that expire without heartbeats
type Tracker struct {
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

// NewTracker creates a presence tracker
func NewTracker(cfg Config) *Tracker {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})
	return NewTrackerWithClient(client, cfg.TTL)
}

// NewTrackerWithClient wraps an existing client
func NewTrackerWithClient(client *redis.Client, ttl time.Duration) *Tracker {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Tracker{
		client: client,
		ttl:    ttl,
		logger: slog.Default(),
	}
}

func key(userID string) string {
	return keyPrefix + userID
}

// Heartbeat marks a user online for one TTL
func (t *Tracker) Heartbeat(ctx context.Context, userID string) error {
	if err := t.client.Set(ctx, key(userID), time.Now().Unix(), t.ttl).Err(); err != nil {
		return fmt.Errorf("setting presence: %w", err)
	}
	t.logger.Debug("presence refreshed", "user_id", userID)
	return nil
}

// Forget marks a user offline
func (t *Tracker) Forget(ctx context.Context, userID string) error {
	if err := t.client.Del(ctx, key(userID)).Err(); err != nil {
		return fmt.Errorf("deleting presence: %w", err)
	}
	return nil
}

// Online reports which of the given users have a live marker
func (t *Tracker) Online(ctx context.Context, userIDs []string) (map[string]bool, error) {
	out := make(map[string]bool, len(userIDs))
	if len(userIDs) == 0 {
		return out, nil
	}

	keys := make([]string, len(userIDs))
	for i, id := range userIDs {
		keys[i] = key(id)
	}

	vals, err := t.client.MGet(ctx, keys...).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("reading presence: %w", err)
	}
	for i, v := range vals {
		out[userIDs[i]] = v != nil
	}
	return out, nil
}

// Ping checks the connection
func (t *Tracker) Ping(ctx context.Context) error {
	return t.client.Ping(ctx).Err()
}

// Close closes the client
func (t *Tracker) Close() error {
	return t.client.Close()
}
