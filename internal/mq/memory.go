package mq

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
)

// MemoryBroker delivers messages in-process. Messages published before a
// subscriber attaches are buffered per channel. A failed message is put back
// at the end of its channel.
type MemoryBroker struct {
	mu     sync.Mutex
	queues map[string]chan Message
	closed bool
}

func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{queues: make(map[string]chan Message)}
}

func (b *MemoryBroker) queue(channel string) (chan Message, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, errors.New("memory broker closed")
	}
	q, ok := b.queues[channel]
	if !ok {
		q = make(chan Message, 256)
		b.queues[channel] = q
	}
	return q, nil
}

func (b *MemoryBroker) Publish(ctx context.Context, channel string, data []byte, attrs map[string]string) (string, error) {
	q, err := b.queue(channel)
	if err != nil {
		return "", err
	}
	msg := Message{ID: uuid.NewString(), Data: append([]byte(nil), data...), Attributes: attrs}
	select {
	case q <- msg:
		return msg.ID, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (b *MemoryBroker) Subscribe(ctx context.Context, channel string, handler Handler) error {
	q, err := b.queue(channel)
	if err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg := <-q:
			if err := handler(ctx, msg); err != nil {
				select {
				case q <- msg:
				default:
				}
			}
		}
	}
}

// Pending reports how many messages wait on channel.
func (b *MemoryBroker) Pending(channel string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queues[channel])
}

func (b *MemoryBroker) Close() error {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	return nil
}
