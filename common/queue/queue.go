package queue

import (
	"context"
	"sync"

	"github.com/openartifacts/registry/common/logger"
)

// Queue carries artifact lifecycle notifications to interested consumers.
// Publication is fire-and-forget: a slow or absent consumer never blocks the
// operation that emitted the event.
type Queue interface {
	Publish(ctx context.Context, topic string, key string, message []byte) error
	Subscribe(ctx context.Context, topic string, handler MessageHandler) error
	Close() error
}

// MessageHandler processes messages
type MessageHandler func(ctx context.Context, key string, value []byte) error

// Message represents a queue message
type Message struct {
	Topic string
	Key   string
	Value []byte
}

// MemoryQueue is an in-process queue; each subscriber gets its own buffered
// channel and every published message is delivered to all of them.
type MemoryQueue struct {
	subscribers map[string][]chan *Message
	mu          sync.RWMutex
	closed      bool
	log         *logger.Logger
}

// NewMemoryQueue creates a new in-memory queue
func NewMemoryQueue(log *logger.Logger) *MemoryQueue {
	return &MemoryQueue{
		subscribers: make(map[string][]chan *Message),
		log:         log,
	}
}

// Publish publishes a message to a topic
func (q *MemoryQueue) Publish(ctx context.Context, topic string, key string, message []byte) error {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		return nil
	}

	msg := &Message{Topic: topic, Key: key, Value: message}

	for _, ch := range q.subscribers[topic] {
		select {
		case ch <- msg:
		default:
			// Subscriber backlog full: drop rather than stall the publisher.
			q.log.Warn("notification dropped", "topic", topic, "key", key)
		}
	}

	return nil
}

// Subscribe subscribes to a topic and processes messages
func (q *MemoryQueue) Subscribe(ctx context.Context, topic string, handler MessageHandler) error {
	ch := make(chan *Message, 1000)

	q.mu.Lock()
	q.subscribers[topic] = append(q.subscribers[topic], ch)
	q.mu.Unlock()

	q.log.Info("subscribing to topic", "topic", topic)

	go func() {
		for {
			select {
			case <-ctx.Done():
				q.log.Info("subscription cancelled", "topic", topic)
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				if err := handler(ctx, msg.Key, msg.Value); err != nil {
					q.log.Error("message handler error", "topic", topic, "key", msg.Key, "error", err)
				}
			}
		}
	}()

	return nil
}

// Close closes the queue
func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil
	}
	q.closed = true

	for topic, chans := range q.subscribers {
		for _, ch := range chans {
			close(ch)
		}
		q.log.Info("closed topic", "topic", topic)
	}

	return nil
}
