package relay

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/erilali/chathub/internal/logger"
	"github.com/erilali/chathub/internal/message"
)

// NATS relays envelopes over a core NATS subject.
type NATS struct {
	conn    *nats.Conn
	subject string
	logger  *logger.Logger
}

// DialNATS connects to url. Reconnects are unlimited once connected.
func DialNATS(url, subject string, log *logger.Logger) (*NATS, error) {
	if log == nil {
		log = logger.Nop()
	}
	nc, err := nats.Connect(url,
		nats.Name("chathub"),
		nats.Timeout(2*time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Err(err).Warn("NATS disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Infof("NATS reconnected to %s", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("relay: connect to NATS at %s: %w", url, err)
	}
	return &NATS{conn: nc, subject: subject, logger: log}, nil
}

func (n *NATS) Name() string { return "nats" }

// Connected reports whether the NATS connection is currently up.
func (n *NATS) Connected() bool {
	return n.conn.Status() == nats.CONNECTED
}

func (n *NATS) Publish(_ context.Context, env message.Envelope) error {
	data, err := encode(env)
	if err != nil {
		return err
	}
	if err := n.conn.Publish(n.subject, data); err != nil {
		return fmt.Errorf("relay: publish to NATS: %w", err)
	}
	return nil
}

func (n *NATS) Subscribe(ctx context.Context) (<-chan message.Envelope, error) {
	msgs := make(chan *nats.Msg, subscriptionBuffer)
	sub, err := n.conn.ChanSubscribe(n.subject, msgs)
	if err != nil {
		return nil, fmt.Errorf("relay: subscribe to %s: %w", n.subject, err)
	}

	raw := make(chan []byte)
	go func() {
		defer close(raw)
		defer func() {
			if err := sub.Unsubscribe(); err != nil && n.conn.Status() != nats.CLOSED {
				n.logger.Warnf("Error unsubscribing from %s: %v", n.subject, err)
			}
		}()
		for {
			select {
			case <-ctx.Done():
				return
			case m := <-msgs:
				select {
				case raw <- m.Data:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	out := make(chan message.Envelope, subscriptionBuffer)
	go pump(ctx, raw, out, n.logger)
	return out, nil
}

func (n *NATS) Close() error {
	n.conn.Close()
	return nil
}
