// Package mail renders and delivers transactional email: password reset
// links and contact form notifications.
package mail

import (
	"context"
	"fmt"
	"strings"

	"github.com/exambook/apiserver/config"
)

// Message is a rendered HTML email.
type Message struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	HTML    string `json:"html"`
}

// Mailer delivers a message.
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// Publisher is the part of mq.MQ the queue transport needs.
type Publisher interface {
	Publish(ctx context.Context, channel string, data []byte, attrs map[string]string) (string, error)
}

// New returns the mailer selected by cfg.Transport. publisher may be nil
// unless the transport is queue.
func New(cfg config.MailConfig, publisher Publisher) (Mailer, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Transport)) {
	case "", "smtp":
		return NewSMTPMailer(cfg), nil
	case "queue":
		if publisher == nil {
			return nil, fmt.Errorf("mail transport queue requires a message broker")
		}
		return NewQueueMailer(publisher, cfg.Queue), nil
	default:
		return nil, fmt.Errorf("unknown mail transport %q", cfg.Transport)
	}
}
