package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/kapardhi03/vibecoderz-proactive-agent/internal/domain"
)

var errRedisBusClosed = errors.New("redis bus not initialized")

// RedisConfig configures the Redis-backed bus.
type RedisConfig struct {
	Addr    string
	Channel string
}

// RedisBus publishes interventions on a Redis channel so every replica can
// deliver them to its own connected clients. Received messages are handed
// to a LocalBus.
type RedisBus struct {
	rdb     *goredis.Client
	channel string
	local   *LocalBus
	cancel  context.CancelFunc
	done    chan struct{}
	logger  *slog.Logger
}

// NewRedisBus connects to Redis and starts forwarding channel messages into
// local.
func NewRedisBus(ctx context.Context, cfg RedisConfig, local *LocalBus, logger *slog.Logger) (*RedisBus, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Addr == "" {
		return nil, errors.New("missing redis address")
	}
	if cfg.Channel == "" {
		cfg.Channel = "interventions"
	}
	if local == nil {
		local = NewLocalBus(0, logger)
	}

	rdb := goredis.NewClient(&goredis.Options{
		Addr:        cfg.Addr,
		DialTimeout: 5 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	fwdCtx, fwdCancel := context.WithCancel(context.Background())
	b := &RedisBus{
		rdb:     rdb,
		channel: cfg.Channel,
		local:   local,
		cancel:  fwdCancel,
		done:    make(chan struct{}),
		logger:  logger.With("service", "RedisBus"),
	}
	if err := b.startForwarder(fwdCtx); err != nil {
		fwdCancel()
		_ = rdb.Close()
		return nil, err
	}
	return b, nil
}

func (b *RedisBus) startForwarder(ctx context.Context) error {
	sub := b.rdb.Subscribe(ctx, b.channel)

	// Ensures the subscription actually started.
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return fmt.Errorf("redis subscribe: %w", err)
	}

	go func() {
		defer close(b.done)
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				_ = sub.Close()
				return
			case m, ok := <-ch:
				if !ok || m == nil {
					_ = sub.Close()
					return
				}
				var res domain.Result
				if err := json.Unmarshal([]byte(m.Payload), &res); err != nil {
					b.logger.Warn("bad redis intervention payload", "error", err)
					continue
				}
				b.local.Deliver(res)
			}
		}
	}()
	return nil
}

// Publish implements Bus.
func (b *RedisBus) Publish(ctx context.Context, res domain.Result) error {
	if b == nil || b.rdb == nil {
		return errRedisBusClosed
	}
	raw, err := json.Marshal(res)
	if err != nil {
		return err
	}
	return b.rdb.Publish(ctx, b.channel, raw).Err()
}

// Subscribe implements Bus.
func (b *RedisBus) Subscribe(userID string, afterID int64) ([]Message, <-chan Message, func()) {
	return b.local.Subscribe(userID, afterID)
}

// Forget implements Bus.
func (b *RedisBus) Forget(userID string) {
	b.local.Forget(userID)
}

// Subscribers implements Bus.
func (b *RedisBus) Subscribers() int {
	return b.local.Subscribers()
}

// Close stops the forwarder and closes the Redis client and local bus.
func (b *RedisBus) Close() error {
	if b == nil || b.rdb == nil {
		return nil
	}
	b.cancel()
	<-b.done
	err := b.rdb.Close()
	return errors.Join(err, b.local.Close())
}
