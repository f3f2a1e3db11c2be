// Package server implements Redis session registry.
package server

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"firestige.xyz/siphon/internal/config"
)

const shadowKeyTTL = 24 * time.Hour

// SessionRegistry mirrors live device sessions into Redis so other parts
// of the platform can see which gateway holds which device and route
// downlink traffic accordingly.
type SessionRegistry struct {
	client *redis.Client
	ttl    time.Duration
}

// NewSessionRegistry connects to Redis and verifies the connection.
func NewSessionRegistry(cfg config.RedisConfig) (*SessionRegistry, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping redis at %s: %w", cfg.Addr, err)
	}

	ttl := cfg.SessionTTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &SessionRegistry{client: client, ttl: ttl}, nil
}

// Register records a device session.
func (r *SessionRegistry) Register(ctx context.Context, device, gatewayID, clientIP string) error {
	key := fmt.Sprintf("siphon:sess:%s", device)
	value := fmt.Sprintf("%s:%s", gatewayID, clientIP)
	if err := r.client.Set(ctx, key, value, r.ttl).Err(); err != nil {
		return fmt.Errorf("failed to register session %s: %w", device, err)
	}
	return nil
}

// Touch refreshes the session TTL and updates the device shadow.
func (r *SessionRegistry) Touch(ctx context.Context, device string) {
	key := fmt.Sprintf("siphon:sess:%s", device)
	r.client.Expire(ctx, key, r.ttl)

	shadowKey := fmt.Sprintf("siphon:shadow:%s", device)
	r.client.HSet(ctx, shadowKey, "ts", time.Now().Unix())
	r.client.Expire(ctx, shadowKey, shadowKeyTTL)
}

// Unregister removes a device session.
func (r *SessionRegistry) Unregister(ctx context.Context, device string) {
	r.client.Del(ctx, fmt.Sprintf("siphon:sess:%s", device))
}

// Close releases the Redis connection.
func (r *SessionRegistry) Close() error {
	return r.client.Close()
}
