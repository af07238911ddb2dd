package events

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"CoinKeep/pkg/logger"
)

// ErrQueueClosed 表示队列已关闭。
var ErrQueueClosed = errors.New("队列已关闭")

// MemoryQueue 是进程内的事件队列。处理失败的事件只记录日志，不会重试。
type MemoryQueue struct {
	events chan Event
	done   chan struct{}
	once   sync.Once
	log    *slog.Logger
}

// NewMemoryQueue 创建容量为 size 的内存队列。
func NewMemoryQueue(size int) *MemoryQueue {
	if size <= 0 {
		size = 64
	}
	return &MemoryQueue{
		events: make(chan Event, size),
		done:   make(chan struct{}),
		log:    logger.Named("events"),
	}
}

// Publish 投递事件，队列满时阻塞直到 ctx 结束。
func (q *MemoryQueue) Publish(ctx context.Context, evt Event) error {
	select {
	case <-q.done:
		return ErrQueueClosed
	default:
	}
	select {
	case q.events <- evt:
		return nil
	case <-q.done:
		return ErrQueueClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Consume 阻塞消费，直到 ctx 取消（返回 ctx 错误）或队列关闭（返回 ErrQueueClosed）。
func (q *MemoryQueue) Consume(ctx context.Context, workerCount int, handler Handler) error {
	return runWorkers(ctx, workerCount, func(ctx context.Context) error {
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-q.done:
				return ErrQueueClosed
			case evt := <-q.events:
				dispatch(ctx, q.log, handler, evt)
			}
		}
	})
}

// Close 关闭队列，可重复调用。尚未消费的事件会被丢弃。
func (q *MemoryQueue) Close() error {
	q.once.Do(func() { close(q.done) })
	return nil
}
