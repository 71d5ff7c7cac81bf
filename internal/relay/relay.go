// Package relay fans hub broadcasts out across instances over NATS or Redis
// pub/sub. Delivery is fire-and-forget: nothing is persisted or replayed.
package relay

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/erilali/chathub/internal/logger"
	"github.com/erilali/chathub/internal/message"
)

const subscriptionBuffer = 256

func encode(env message.Envelope) ([]byte, error) {
	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("relay: marshal envelope: %w", err)
	}
	return data, nil
}

func decode(data []byte) (message.Envelope, error) {
	var env message.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return env, fmt.Errorf("relay: unmarshal envelope: %w", err)
	}
	if env.Origin == "" || len(env.Frame) == 0 {
		return env, fmt.Errorf("relay: incomplete envelope")
	}
	return env, nil
}

// pump decodes raw payloads from in and forwards them on out until ctx is
// done or in closes. Malformed payloads are logged and skipped.
func pump(ctx context.Context, in <-chan []byte, out chan<- message.Envelope, log *logger.Logger) {
	defer close(out)
	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-in:
			if !ok {
				return
			}
			env, err := decode(data)
			if err != nil {
				log.Err(err).Warn("Dropping relayed payload")
				continue
			}
			select {
			case out <- env:
			case <-ctx.Done():
				return
			}
		}
	}
}
