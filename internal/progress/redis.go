package progress

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// RedisBus shares events between server instances. Published events go
// through redis and come back to every instance's hub, this one included.
type RedisBus struct {
	rdb     *redis.Client
	channel string
	hub     *Hub
	log     *logrus.Entry
}

// NewRedisBus connects to url and verifies the connection
func NewRedisBus(ctx context.Context, url, channel string, hub *Hub, logger *logrus.Logger) (*RedisBus, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	if opts.DialTimeout == 0 {
		opts.DialTimeout = 5 * time.Second
	}
	rdb := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &RedisBus{
		rdb:     rdb,
		channel: channel,
		hub:     hub,
		log:     logger.WithField("component", "progress_bus"),
	}, nil
}

// Publish sends event to redis. If redis is unreachable the event is still
// delivered to local subscribers.
func (b *RedisBus) Publish(ctx context.Context, event Event) {
	raw, err := json.Marshal(event)
	if err == nil {
		err = b.rdb.Publish(ctx, b.channel, raw).Err()
	}
	if err != nil {
		b.log.WithError(err).Warn("Failed to publish progress event to redis, delivering locally")
		b.hub.Broadcast(event)
	}
}

// StartForwarder subscribes to redis and broadcasts every received event
// to the local hub until ctx is cancelled.
func (b *RedisBus) StartForwarder(ctx context.Context) error {
	sub := b.rdb.Subscribe(ctx, b.channel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return fmt.Errorf("redis subscribe: %w", err)
	}

	go func() {
		defer sub.Close()
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case m, ok := <-ch:
				if !ok || m == nil {
					return
				}
				var event Event
				if err := json.Unmarshal([]byte(m.Payload), &event); err != nil {
					b.log.WithError(err).Warn("Bad progress payload from redis")
					continue
				}
				b.hub.Broadcast(event)
			}
		}
	}()
	return nil
}

// Close closes the redis client
func (b *RedisBus) Close() error {
	if b == nil || b.rdb == nil {
		return nil
	}
	return b.rdb.Close()
}
