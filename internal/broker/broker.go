// Package broker provides the publish/subscribe transport used to stream raw
// rows into the pipeline and to expose failure records.
package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrClosed is returned when publishing on a closed bus.
var ErrClosed = errors.New("broker closed")

// Bus is a topic-based message transport.
type Bus interface {
	// Publish JSON-encodes message and sends it on channel.
	Publish(ctx context.Context, channel string, message interface{}) error
	// Subscribe returns a stream of raw payloads and a function that stops it.
	Subscribe(ctx context.Context, channel string) (<-chan []byte, func(), error)
	Close() error
}

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	PoolSize int
	Prefix   string
}

// RedisBus implements Bus over Redis pub/sub.
type RedisBus struct {
	client *redis.Client
	prefix string
}

// NewRedisBus connects to Redis and verifies the connection.
func NewRedisBus(ctx context.Context, cfg RedisConfig) (*RedisBus, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "pe:"
	}

	return &RedisBus{client: client, prefix: prefix}, nil
}

// Publish publishes a message to a Redis channel.
func (b *RedisBus) Publish(ctx context.Context, channel string, message interface{}) error {
	data, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	if err := b.client.Publish(ctx, b.prefix+channel, data).Err(); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	return nil
}

// Subscribe subscribes to a Redis channel. The returned stream closes when
// the stop function is called, ctx ends, or the subscription drops.
func (b *RedisBus) Subscribe(ctx context.Context, channel string) (<-chan []byte, func(), error) {
	sub := b.client.Subscribe(ctx, b.prefix+channel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, nil, fmt.Errorf("redis subscribe: %w", err)
	}

	out := make(chan []byte, 100)
	done := make(chan struct{})
	msgs := sub.Channel()

	go func() {
		defer close(out)
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				select {
				case out <- []byte(msg.Payload):
				case <-done:
					return
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	var once sync.Once
	stop := func() {
		once.Do(func() {
			close(done)
			_ = sub.Close()
		})
	}

	return out, stop, nil
}

// Close closes the Redis connection.
func (b *RedisBus) Close() error {
	return b.client.Close()
}

// MemoryBus is an in-process Bus for development and tests. Messages
// published before a subscriber exists are dropped, as with Redis.
type MemoryBus struct {
	mu     sync.RWMutex
	subs   map[string][]chan []byte
	closed bool
}

// NewMemoryBus creates an empty in-process bus.
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{subs: make(map[string][]chan []byte)}
}

// Publish delivers message to every current subscriber of channel.
func (b *MemoryBus) Publish(ctx context.Context, channel string, message interface{}) error {
	data, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrClosed
	}

	for _, ch := range b.subs[channel] {
		select {
		case ch <- data:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Subscribe registers a new subscriber on channel.
func (b *MemoryBus) Subscribe(ctx context.Context, channel string) (<-chan []byte, func(), error) {
	ch := make(chan []byte, 100)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, nil, ErrClosed
	}
	b.subs[channel] = append(b.subs[channel], ch)
	b.mu.Unlock()

	done := make(chan struct{})
	var once sync.Once
	stop := func() {
		once.Do(func() {
			close(done)
			b.mu.Lock()
			defer b.mu.Unlock()
			b.removeLocked(channel, ch)
		})
	}

	go func() {
		select {
		case <-ctx.Done():
			stop()
		case <-done:
		}
	}()

	return ch, stop, nil
}

// Close closes every subscription.
func (b *MemoryBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for channel, list := range b.subs {
		for _, ch := range list {
			close(ch)
		}
		delete(b.subs, channel)
	}
	return nil
}

func (b *MemoryBus) removeLocked(channel string, target chan []byte) {
	list := b.subs[channel]
	for i, ch := range list {
		if ch == target {
			b.subs[channel] = append(list[:i], list[i+1:]...)
			close(ch)
			return
		}
	}
}

// Ensure implementations satisfy interface.
var (
	_ Bus = (*RedisBus)(nil)
	_ Bus = (*MemoryBus)(nil)
)
