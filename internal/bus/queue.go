package bus

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
)

// DefaultQueueCapacity is used when a non-positive capacity is requested.
const DefaultQueueCapacity = 1000

var (
	ErrQueueFull     = errors.New("message queue full")
	ErrQueueClosed   = errors.New("message queue closed")
	ErrConsumerTaken = errors.New("message queue consumer already taken")
	ErrDuplicate     = errors.New("duplicate message")
)

// MessageQueue is a bounded multi-producer / single-consumer queue of inbound
// messages. The size counter tracks accepted-but-not-yet-received messages;
// it is incremented before a send is attempted and rolled back on failure so
// it never goes negative.
type MessageQueue struct {
	ch       chan GatewayMessage
	capacity int64
	size     atomic.Int64
	taken    atomic.Bool

	done      chan struct{}
	closeOnce sync.Once
}

// NewMessageQueue creates a queue holding at most capacity messages.
func NewMessageQueue(capacity int) *MessageQueue {
	if capacity <= 0 {
		capacity = DefaultQueueCapacity
	}
	return &MessageQueue{
		ch:       make(chan GatewayMessage, capacity),
		capacity: int64(capacity),
		done:     make(chan struct{}),
	}
}

// Send enqueues msg, waiting for space until ctx is done or the queue closes.
func (q *MessageQueue) Send(ctx context.Context, msg GatewayMessage) error {
	select {
	case <-q.done:
		return ErrQueueClosed
	default:
	}

	q.size.Add(1)
	select {
	case q.ch <- msg:
		return nil
	case <-ctx.Done():
		q.size.Add(-1)
		return ctx.Err()
	case <-q.done:
		q.size.Add(-1)
		return ErrQueueClosed
	}
}

// TrySend enqueues msg without blocking. A slot is reserved with a
// compare-and-swap on the size counter so concurrent producers can never
// push the counter past capacity.
func (q *MessageQueue) TrySend(msg GatewayMessage) error {
	select {
	case <-q.done:
		return ErrQueueClosed
	default:
	}

	for {
		cur := q.size.Load()
		if cur >= q.capacity {
			return ErrQueueFull
		}
		if q.size.CompareAndSwap(cur, cur+1) {
			break
		}
	}

	select {
	case q.ch <- msg:
		return nil
	default:
		q.size.Add(-1)
		return ErrQueueFull
	}
}

// TakeConsumer hands out the receiving side of the queue. Only the first call
// succeeds; later calls log and return ErrConsumerTaken.
func (q *MessageQueue) TakeConsumer() (*QueueConsumer, error) {
	if !q.taken.CompareAndSwap(false, true) {
		slog.Error("message queue consumer requested twice")
		return nil, ErrConsumerTaken
	}
	return &QueueConsumer{q: q}, nil
}

// Len returns the number of queued messages.
func (q *MessageQueue) Len() int {
	n := q.size.Load()
	if n < 0 {
		return 0
	}
	return int(n)
}

// Cap returns the queue capacity.
func (q *MessageQueue) Cap() int { return int(q.capacity) }

// Close stops accepting new messages. Already queued messages can still be received.
func (q *MessageQueue) Close() {
	q.closeOnce.Do(func() { close(q.done) })
}

// QueueConsumer is the single receiving end of a MessageQueue.
type QueueConsumer struct {
	q *MessageQueue
}

// Recv blocks until a message is available. It returns false once ctx is done,
// or once the queue is closed and drained.
func (c *QueueConsumer) Recv(ctx context.Context) (GatewayMessage, bool) {
	select {
	case msg := <-c.q.ch:
		c.q.size.Add(-1)
		return msg, true
	case <-ctx.Done():
		return GatewayMessage{}, false
	case <-c.q.done:
		select {
		case msg := <-c.q.ch:
			c.q.size.Add(-1)
			return msg, true
		default:
			return GatewayMessage{}, false
		}
	}
}
