package events

import (
	"context"
	"log/slog"
	"strings"

	xerrors "CoinKeep/internal/errors"
	"CoinKeep/pkg/logger"

	amqp "github.com/rabbitmq/amqp091-go"
)

const defaultRabbitQueue = "coinkeep.agent-events"

// RabbitMQConfig 描述 RabbitMQ 队列的连接参数。
type RabbitMQConfig struct {
	URL        string
	Queue      string
	Prefetch   int
	Durable    bool
	AutoDelete bool
}

// RabbitMQQueue 通过默认交换机把事件路由到同名队列，消费端手动确认。
type RabbitMQQueue struct {
	conn  *amqp.Connection
	ch    *amqp.Channel
	queue string
	log   *slog.Logger
}

// NewRabbitMQQueue 建立连接、声明队列并设置预取数量。
func NewRabbitMQQueue(cfg RabbitMQConfig) (*RabbitMQQueue, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "RabbitMQ URL 不能为空")
	}
	if cfg.Queue == "" {
		cfg.Queue = defaultRabbitQueue
	}

	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, xerrors.Wrap(CodeQueueFailure, err, "连接 RabbitMQ 失败")
	}
	q := &RabbitMQQueue{conn: conn, queue: cfg.Queue, log: logger.Named("events")}
	if err := q.setup(cfg); err != nil {
		_ = q.Close()
		return nil, err
	}
	return q, nil
}

func (q *RabbitMQQueue) setup(cfg RabbitMQConfig) error {
	ch, err := q.conn.Channel()
	if err != nil {
		return xerrors.Wrap(CodeQueueFailure, err, "创建 RabbitMQ channel 失败")
	}
	q.ch = ch
	if cfg.Prefetch > 0 {
		if err := ch.Qos(cfg.Prefetch, 0, false); err != nil {
			return xerrors.Wrap(CodeQueueFailure, err, "设置 RabbitMQ QOS 失败")
		}
	}
	if _, err := ch.QueueDeclare(cfg.Queue, cfg.Durable, cfg.AutoDelete, false, false, nil); err != nil {
		return xerrors.Wrap(CodeQueueFailure, err, "声明 RabbitMQ 队列失败",
			xerrors.WithMetadata("queue", cfg.Queue))
	}
	return nil
}

// Publish 以持久化 JSON 消息发布事件。
func (q *RabbitMQQueue) Publish(ctx context.Context, evt Event) error {
	msg, err := publishing(evt)
	if err != nil {
		return err
	}
	if err := q.ch.PublishWithContext(ctx, "", q.queue, false, false, msg); err != nil {
		return xerrors.Wrap(CodeQueueFailure, err, "RabbitMQ 发布事件失败",
			xerrors.WithMetadata("event_id", evt.ID))
	}
	return nil
}

// publishing 构造 AMQP 消息，MessageId 与 Type 取自事件本身。
func publishing(evt Event) (amqp.Publishing, error) {
	body, err := encode(evt)
	if err != nil {
		return amqp.Publishing{}, err
	}
	return amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    evt.ID,
		Type:         string(evt.Type),
		Timestamp:    evt.OccurredAt,
		Body:         body,
	}, nil
}

// Consume 阻塞消费，直到 ctx 取消或 broker 关闭投递通道。
func (q *RabbitMQQueue) Consume(ctx context.Context, workerCount int, handler Handler) error {
	deliveries, err := q.ch.ConsumeWithContext(ctx, q.queue, "", false, false, false, false, nil)
	if err != nil {
		return xerrors.Wrap(CodeQueueFailure, err, "订阅 RabbitMQ 队列失败")
	}
	return runWorkers(ctx, workerCount, func(ctx context.Context) error {
		for {
			select {
			case <-ctx.Done():
				return nil
			case d, ok := <-deliveries:
				if !ok {
					return ErrQueueClosed
				}
				q.settle(ctx, d, handler)
			}
		}
	})
}

// settle 根据处理结果确认消息：无法解析的直接丢弃，首次失败的重新入队一次。
func (q *RabbitMQQueue) settle(ctx context.Context, d amqp.Delivery, handler Handler) {
	evt, err := decode(d.Body)
	if err != nil {
		q.log.Warn("丢弃无法解析的事件", "message_id", d.MessageId, "error", err)
		_ = d.Nack(false, false)
		return
	}
	if !dispatch(ctx, q.log, handler, evt) {
		_ = d.Nack(false, !d.Redelivered)
		return
	}
	_ = d.Ack(false)
}

// Close 关闭 channel 与连接。
func (q *RabbitMQQueue) Close() error {
	if q == nil {
		return nil
	}
	if q.ch != nil {
		_ = q.ch.Close()
	}
	if q.conn != nil {
		return q.conn.Close()
	}
	return nil
}
