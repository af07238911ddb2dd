package events

import "context"

// Handler consumes one event. A non-nil error asks the queue to redeliver
// where the driver supports it.
type Handler func(ctx context.Context, evt Event) error

// Publisher is the producing side used by the feed.
type Publisher interface {
	Publish(ctx context.Context, evt Event) error
	Close() error
}

// Consumer is the side run by downstream workers such as a Telegram bot.
type Consumer interface {
	// Consume blocks until ctx ends or the queue fails.
	Consume(ctx context.Context, workerCount int, handler Handler) error
	Close() error
}

// Queue is one driver (memory, Redis, RabbitMQ) acting as both sides.
type Queue interface {
	Publisher
	Consumer
}

var (
	_ Queue = (*MemoryQueue)(nil)
	_ Queue = (*RedisQueue)(nil)
	_ Queue = (*RabbitMQQueue)(nil)
)
