package queue

import "context"

const (
	// DispatchQueue carries job dispatch requests from intake and the
	// scheduler sweep to the worker pool.
	DispatchQueue = "bulk.dispatch"

	// DispatchDLQ collects dispatch requests rejected as unparseable.
	DispatchDLQ = "dlq.bulk.dispatch"
)

// Publisher publishes job dispatch messages to a queue.
type Publisher interface {
	Publish(ctx context.Context, queue string, msg JobMessage) error
	Close() error
}

// MessageHandler handles a consumed queue message.
type MessageHandler func(ctx context.Context, msg JobMessage) error

// Consumer consumes job dispatch messages from a queue.
type Consumer interface {
	Consume(ctx context.Context, queue string, handler MessageHandler) error
	Close() error
}
