package mail

import (
	"context"
	"fmt"

	"github.com/goccy/go-json"

	"github.com/exambook/apiserver/internal/metrics"
)

// QueueMailer hands messages to the mail worker through the broker instead
// of talking to SMTP inline.
type QueueMailer struct {
	publisher Publisher
	channel   string
}

func NewQueueMailer(publisher Publisher, channel string) *QueueMailer {
	if channel == "" {
		channel = "mail"
	}
	return &QueueMailer{publisher: publisher, channel: channel}
}

func (q *QueueMailer) Send(ctx context.Context, msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode mail: %w", err)
	}
	_, err = q.publisher.Publish(ctx, q.channel, data, map[string]string{"content-type": "application/json"})
	metrics.RecordMailDelivery("queue", err)
	if err != nil {
		return fmt.Errorf("enqueue mail: %w", err)
	}
	return nil
}
