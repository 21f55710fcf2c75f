package mq

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"cloud.google.com/go/pubsub"
	"google.golang.org/api/option"

	"github.com/exambook/apiserver/config"
)

const (
	ackDeadline    = time.Minute
	minimumBackoff = 10 * time.Second
	maximumBackoff = 5 * time.Minute
)

// PubSubClient maps channels to Google Cloud Pub/Sub topics, each with a
// single shared subscription named <topic><suffix>.
type PubSubClient struct {
	client             *pubsub.Client
	projectID          string
	subscriptionSuffix string
	deadLetterTopic    string
	maxAttempts        int

	mu     sync.Mutex
	topics map[string]*pubsub.Topic
}

func NewPubSubClient(ctx context.Context, cfg config.PubSubConfig) (*PubSubClient, error) {
	if strings.TrimSpace(cfg.ProjectID) == "" {
		return nil, errors.New("pubsub project id is required")
	}

	var opts []option.ClientOption
	if strings.TrimSpace(cfg.CredentialsFile) != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	client, err := pubsub.NewClient(ctx, cfg.ProjectID, opts...)
	if err != nil {
		return nil, err
	}

	suffix := cfg.SubscriptionSuffix
	if suffix == "" {
		suffix = "-sub"
	}

	return &PubSubClient{
		client:             client,
		projectID:          cfg.ProjectID,
		subscriptionSuffix: suffix,
		deadLetterTopic:    strings.TrimSpace(cfg.DeadLetterTopic),
		maxAttempts:        cfg.MaxDeliveryAttempts,
		topics:             make(map[string]*pubsub.Topic),
	}, nil
}

func (p *PubSubClient) Publish(ctx context.Context, channel string, data []byte, attrs map[string]string) (string, error) {
	if strings.TrimSpace(channel) == "" {
		return "", errors.New("pubsub channel is required")
	}

	topic, err := p.topic(ctx, channel)
	if err != nil {
		return "", err
	}
	return topic.Publish(ctx, &pubsub.Message{Data: data, Attributes: attrs}).Get(ctx)
}

func (p *PubSubClient) Subscribe(ctx context.Context, channel string, handler Handler) error {
	if strings.TrimSpace(channel) == "" {
		return errors.New("pubsub channel is required")
	}

	topic, err := p.topic(ctx, channel)
	if err != nil {
		return err
	}

	sub, err := p.ensureSubscription(ctx, channel+p.subscriptionSuffix, topic)
	if err != nil {
		return err
	}

	// Bound concurrent SMTP sends.
	sub.ReceiveSettings.NumGoroutines = 1
	sub.ReceiveSettings.MaxOutstandingMessages = 10

	return sub.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		message := Message{ID: msg.ID, Data: msg.Data, Attributes: msg.Attributes}
		if msg.DeliveryAttempt != nil {
			message.Attributes = withAttempt(message.Attributes, *msg.DeliveryAttempt)
		}
		if err := handler(ctx, message); err != nil {
			msg.Nack()
			return
		}
		msg.Ack()
	})
}

func (p *PubSubClient) Close() error {
	p.mu.Lock()
	for _, topic := range p.topics {
		topic.Stop()
	}
	p.mu.Unlock()
	return p.client.Close()
}

func (p *PubSubClient) topic(ctx context.Context, name string) (*pubsub.Topic, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if topic, ok := p.topics[name]; ok {
		return topic, nil
	}

	topic := p.client.Topic(name)
	exists, err := topic.Exists(ctx)
	if err != nil {
		return nil, err
	}
	if !exists {
		if topic, err = p.client.CreateTopic(ctx, name); err != nil {
			return nil, err
		}
	}
	p.topics[name] = topic
	return topic, nil
}

func (p *PubSubClient) ensureSubscription(ctx context.Context, name string, topic *pubsub.Topic) (*pubsub.Subscription, error) {
	sub := p.client.Subscription(name)
	exists, err := sub.Exists(ctx)
	if err != nil {
		return nil, err
	}
	if !exists {
		return p.client.CreateSubscription(ctx, name, p.subscriptionConfig(topic))
	}
	return sub, nil
}

func (p *PubSubClient) subscriptionConfig(topic *pubsub.Topic) pubsub.SubscriptionConfig {
	cfg := pubsub.SubscriptionConfig{
		Topic:       topic,
		AckDeadline: ackDeadline,
		RetryPolicy: &pubsub.RetryPolicy{
			MinimumBackoff: minimumBackoff,
			MaximumBackoff: maximumBackoff,
		},
	}
	if p.deadLetterTopic != "" {
		cfg.DeadLetterPolicy = &pubsub.DeadLetterPolicy{
			DeadLetterTopic:     p.qualifiedTopic(p.deadLetterTopic),
			MaxDeliveryAttempts: p.maxAttempts,
		}
	}
	return cfg
}

// qualifiedTopic expands a short topic ID to projects/<id>/topics/<name>.
func (p *PubSubClient) qualifiedTopic(name string) string {
	if strings.HasPrefix(name, "projects/") {
		return name
	}
	return fmt.Sprintf("projects/%s/topics/%s", p.projectID, name)
}

func withAttempt(attrs map[string]string, attempt int) map[string]string {
	out := make(map[string]string, len(attrs)+1)
	for k, v := range attrs {
		out[k] = v
	}
	out["delivery-attempt"] = fmt.Sprint(attempt)
	return out
}
