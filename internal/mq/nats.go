package mq

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/exambook/apiserver/config"
	"github.com/exambook/apiserver/internal/logging"
)

const natsMessageIDHeader = "Nats-Msg-Id"

// NATSClient publishes on core NATS subjects. Subscribers join a queue group
// so that each message is handled by exactly one worker. Core NATS does not
// redeliver, so handler failures are logged and dropped.
type NATSClient struct {
	conn       *nats.Conn
	queueGroup string
}

func NewNATSClient(cfg config.NATSConfig) (*NATSClient, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, errors.New("nats url is required")
	}

	conn, err := nats.Connect(cfg.URL, nats.Name("exambook-apiserver"), nats.MaxReconnects(-1))
	if err != nil {
		return nil, err
	}

	group := cfg.QueueGroup
	if group == "" {
		group = "workers"
	}
	return &NATSClient{conn: conn, queueGroup: group}, nil
}

func (n *NATSClient) Publish(_ context.Context, subject string, data []byte, attrs map[string]string) (string, error) {
	if strings.TrimSpace(subject) == "" {
		return "", errors.New("nats subject is required")
	}

	id := uuid.NewString()
	msg := nats.NewMsg(subject)
	msg.Data = data
	msg.Header.Set(natsMessageIDHeader, id)
	for key, value := range attrs {
		msg.Header.Set(key, value)
	}
	if err := n.conn.PublishMsg(msg); err != nil {
		return "", err
	}
	return id, nil
}

func (n *NATSClient) Subscribe(ctx context.Context, subject string, handler Handler) error {
	if strings.TrimSpace(subject) == "" {
		return errors.New("nats subject is required")
	}

	msgs := make(chan *nats.Msg, 64)
	sub, err := n.conn.ChanQueueSubscribe(subject, n.queueGroup, msgs)
	if err != nil {
		return err
	}
	defer func() {
		_ = sub.Unsubscribe()
	}()

	log := logging.WithComponent("mq.nats")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg := <-msgs:
			message := Message{
				ID:         msg.Header.Get(natsMessageIDHeader),
				Data:       msg.Data,
				Attributes: headerToAttributes(msg.Header),
			}
			if err := handler(ctx, message); err != nil {
				log.Warn().Err(err).Str("subject", subject).Str("message_id", message.ID).Msg("dropping failed message")
			}
		}
	}
}

func (n *NATSClient) Close() error {
	if n.conn == nil {
		return nil
	}
	return n.conn.Drain()
}

func headerToAttributes(header nats.Header) map[string]string {
	if len(header) == 0 {
		return nil
	}
	attrs := make(map[string]string, len(header))
	for key := range header {
		if key == natsMessageIDHeader {
			continue
		}
		attrs[key] = header.Get(key)
	}
	return attrs
}
