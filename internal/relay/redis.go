package relay

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/erilali/chathub/internal/logger"
	"github.com/erilali/chathub/internal/message"
)

const redisDialTimeout = 2 * time.Second

// Redis relays envelopes over a Redis pub/sub channel.
type Redis struct {
	client  *redis.Client
	channel string
	logger  *logger.Logger
}

// DialRedis connects to addr and checks the server answers PING.
func DialRedis(ctx context.Context, addr, channel string, log *logger.Logger) (*Redis, error) {
	if log == nil {
		log = logger.Nop()
	}
	client := redis.NewClient(&redis.Options{
		Addr:        addr,
		DialTimeout: redisDialTimeout,
	})
	pingCtx, cancel := context.WithTimeout(ctx, redisDialTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("relay: connect to redis at %s: %w", addr, err)
	}
	return &Redis{client: client, channel: channel, logger: log}, nil
}

func (r *Redis) Name() string { return "redis" }

// Connected pings the server.
func (r *Redis) Connected() bool {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	return r.client.Ping(ctx).Err() == nil
}

func (r *Redis) Publish(ctx context.Context, env message.Envelope) error {
	data, err := encode(env)
	if err != nil {
		return err
	}
	if err := r.client.Publish(ctx, r.channel, data).Err(); err != nil {
		return fmt.Errorf("relay: publish to redis: %w", err)
	}
	return nil
}

func (r *Redis) Subscribe(ctx context.Context) (<-chan message.Envelope, error) {
	pubsub := r.client.Subscribe(ctx, r.channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("relay: subscribe to %s: %w", r.channel, err)
	}

	raw := make(chan []byte)
	go func() {
		defer close(raw)
		defer pubsub.Close()
		msgs := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case m, ok := <-msgs:
				if !ok {
					return
				}
				select {
				case raw <- []byte(m.Payload):
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	out := make(chan message.Envelope, subscriptionBuffer)
	go pump(ctx, raw, out, r.logger)
	return out, nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}
