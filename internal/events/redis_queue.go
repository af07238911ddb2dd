package events

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	xerrors "CoinKeep/internal/errors"
	"CoinKeep/pkg/logger"

	"github.com/redis/go-redis/v9"
)

const (
	defaultRedisQueue = "coinkeep:agent-events"
	defaultBlockWait  = 5 * time.Second
)

// RedisQueueConfig 描述 Redis 队列的连接参数。
type RedisQueueConfig struct {
	Address   string
	Password  string
	DB        int
	Queue     string
	BlockWait time.Duration
}

// RedisQueue 把事件放在一个 Redis list 中：生产者 LPUSH，消费者 BRPOP。
// 处理失败的事件带着重试次数 LPUSH 回队列另一端，最多重投一次。
type RedisQueue struct {
	client *redis.Client
	key    string
	wait   time.Duration
	log    *slog.Logger
}

// NewRedisQueue 连接 Redis 并返回队列。
func NewRedisQueue(ctx context.Context, cfg RedisQueueConfig) (*RedisQueue, error) {
	if strings.TrimSpace(cfg.Address) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "Redis address 不能为空")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, xerrors.Wrap(CodeQueueFailure, err, "连接 Redis 失败")
	}

	q := &RedisQueue{client: client, key: cfg.Queue, wait: cfg.BlockWait, log: logger.Named("events")}
	if q.key == "" {
		q.key = defaultRedisQueue
	}
	if q.wait <= 0 {
		q.wait = defaultBlockWait
	}
	return q, nil
}

// Publish 序列化事件并 LPUSH。
func (q *RedisQueue) Publish(ctx context.Context, evt Event) error {
	payload, err := encode(evt)
	if err != nil {
		return err
	}
	if err := q.client.LPush(ctx, q.key, payload).Err(); err != nil {
		return xerrors.Wrap(CodeQueueFailure, err, "Redis 发布事件失败",
			xerrors.WithMetadata("event_id", evt.ID))
	}
	return nil
}

// Consume 阻塞消费，直到 ctx 取消或 Redis 返回不可恢复的错误。
func (q *RedisQueue) Consume(ctx context.Context, workerCount int, handler Handler) error {
	err := runWorkers(ctx, workerCount, func(ctx context.Context) error {
		for {
			raw, err := q.pop(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return err
			}
			if raw == "" {
				continue
			}
			q.handle(ctx, raw, handler)
		}
	})
	if err == nil {
		err = ctx.Err()
	}
	return err
}

// pop 等待下一条消息，超时返回空串。
func (q *RedisQueue) pop(ctx context.Context) (string, error) {
	values, err := q.client.BRPop(ctx, q.wait, q.key).Result()
	switch {
	case errors.Is(err, redis.Nil):
		return "", nil
	case err != nil:
		return "", xerrors.Wrap(CodeQueueFailure, err, "Redis 取事件失败")
	case len(values) != 2:
		return "", nil
	}
	return values[1], nil
}

func (q *RedisQueue) handle(ctx context.Context, raw string, handler Handler) {
	evt, err := decode([]byte(raw))
	if err != nil {
		q.log.Warn("丢弃无法解析的事件", "error", err)
		return
	}
	if dispatch(ctx, q.log, handler, evt) {
		return
	}
	next, ok := redeliver(evt)
	if !ok {
		q.log.Error("事件多次处理失败，已丢弃", "event_id", evt.ID, "type", evt.Type, "attempts", evt.Attempts)
		return
	}
	payload, err := encode(next)
	if err != nil {
		q.log.Error("事件重新编码失败", "event_id", evt.ID, "error", err)
		return
	}
	if err := q.client.LPush(ctx, q.key, payload).Err(); err != nil {
		q.log.Error("事件重新入队失败", "event_id", evt.ID, "error", err)
	}
}

// Close 关闭 Redis 连接。
func (q *RedisQueue) Close() error {
	if q == nil || q.client == nil {
		return nil
	}
	return q.client.Close()
}
