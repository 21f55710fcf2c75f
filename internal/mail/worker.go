package mail

import (
	"context"
	"errors"
	"fmt"

	"github.com/goccy/go-json"

	"github.com/exambook/apiserver/internal/logging"
	"github.com/exambook/apiserver/internal/mq"
)

// Subscriber is the part of mq.MQ the worker needs.
type Subscriber interface {
	Subscribe(ctx context.Context, channel string, handler mq.Handler) error
}

// Worker drains the mail queue into a delivering Mailer.
type Worker struct {
	subscriber Subscriber
	channel    string
	mailer     Mailer
}

func NewWorker(subscriber Subscriber, channel string, mailer Mailer) *Worker {
	if channel == "" {
		channel = "mail"
	}
	return &Worker{subscriber: subscriber, channel: channel, mailer: mailer}
}

// Run blocks until ctx is cancelled or the subscription fails.
func (w *Worker) Run(ctx context.Context) error {
	log := logging.WithComponent("mail.worker")
	log.Info().Str("channel", w.channel).Msg("mail worker started")

	err := w.subscriber.Subscribe(ctx, w.channel, w.handle)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (w *Worker) handle(ctx context.Context, m mq.Message) error {
	var msg Message
	if err := json.Unmarshal(m.Data, &msg); err != nil {
		// Malformed payloads are acked so the broker drops them.
		logging.Ctx(ctx).Error().Err(err).Str("message_id", m.ID).Msg("discarding malformed mail message")
		return nil
	}
	if err := w.mailer.Send(ctx, msg); err != nil {
		logging.Ctx(ctx).Warn().Err(err).Str("message_id", m.ID).Str("to", msg.To).Msg("mail delivery failed")
		return fmt.Errorf("deliver %s: %w", m.ID, err)
	}
	return nil
}
