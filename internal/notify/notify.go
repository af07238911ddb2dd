package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	xerrors "CoinKeep/internal/errors"
	"CoinKeep/internal/observability/metrics"
	"CoinKeep/pkg/logger"

	"github.com/google/uuid"
)

// Level 表示提示的类型。
type Level string

const (
	LevelSuccess Level = "success"
	LevelError   Level = "error"
	LevelInfo    Level = "info"
)

// Channel 表示通知渠道。
type Channel string

const (
	ChannelLog      Channel = "log"
	ChannelRecorder Channel = "recorder"
)

// Notification 描述一条提示消息。
type Notification struct {
	ID        string            `json:"id"`
	Level     Level             `json:"level"`
	Message   string            `json:"message"`
	Code      xerrors.Code      `json:"code,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"createdAt"`
}

// Success 构造成功提示。
func Success(message string) Notification { return newNotification(LevelSuccess, message) }

// Info 构造普通提示。
func Info(message string) Notification { return newNotification(LevelInfo, message) }

// Error 构造错误提示。
func Error(message string) Notification { return newNotification(LevelError, message) }

// FromError 将统一错误转换为错误提示，消息取错误码登记的用户可读文案。
func FromError(err error) Notification {
	n := newNotification(LevelError, err.Error())
	if e, ok := xerrors.From(err); ok {
		n.Code = e.Code()
		n.Message = e.Message()
		n.Metadata = e.Metadata()
	}
	return n
}

func newNotification(level Level, message string) Notification {
	return Notification{
		ID:        uuid.NewString(),
		Level:     level,
		Message:   message,
		CreatedAt: time.Now().UTC(),
	}
}

// Notifier 负责将提示发送到指定渠道。
type Notifier interface {
	Channel() Channel
	Notify(ctx context.Context, n Notification) error
}

// Fanout 将提示广播给多个通知器。
type Fanout struct {
	notifiers map[Channel]Notifier
}

// NewFanout 创建一个新的 Fanout。
func NewFanout(notifiers ...Notifier) *Fanout {
	set := make(map[Channel]Notifier, len(notifiers))
	for _, n := range notifiers {
		if n == nil {
			continue
		}
		set[n.Channel()] = n
	}
	return &Fanout{notifiers: set}
}

// Notify 将提示广播至所有注册渠道。
func (d *Fanout) Notify(ctx context.Context, n Notification) error {
	if d == nil {
		return nil
	}
	metrics.ObserveNotification(string(n.Level))
	var errs []error
	for _, notifier := range d.notifiers {
		if err := notifier.Notify(ctx, n); err != nil {
			errs = append(errs, fmt.Errorf("channel %s: %w", notifier.Channel(), err))
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// LogNotifier 把提示写入结构化日志。
type LogNotifier struct {
	Logger *slog.Logger
}

// Channel 返回日志渠道。
func (n *LogNotifier) Channel() Channel { return ChannelLog }

// Notify 写日志，错误提示使用 warn 级别。
func (n *LogNotifier) Notify(ctx context.Context, notification Notification) error {
	log := n.Logger
	if log == nil {
		log = logger.Named("notify")
	}
	level := slog.LevelInfo
	if notification.Level == LevelError {
		level = slog.LevelWarn
	}
	log.Log(ctx, level, notification.Message,
		slog.String("level", string(notification.Level)),
		slog.String("code", string(notification.Code)),
		slog.String("notification_id", notification.ID),
	)
	return nil
}

// Recorder 在内存中保留最近的提示，供 API 查询。
type Recorder struct {
	mu    sync.Mutex
	items []Notification
	next  int
	full  bool
}

// NewRecorder 创建保留 size 条提示的 Recorder。
func NewRecorder(size int) *Recorder {
	if size <= 0 {
		size = 50
	}
	return &Recorder{items: make([]Notification, size)}
}

// Channel 返回内存渠道。
func (r *Recorder) Channel() Channel { return ChannelRecorder }

// Notify 记录提示，满了以后覆盖最旧的一条。
func (r *Recorder) Notify(_ context.Context, n Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items[r.next] = n
	r.next = (r.next + 1) % len(r.items)
	if r.next == 0 {
		r.full = true
	}
	return nil
}

// Recent 返回最新的至多 limit 条提示，新的在前。limit <= 0 返回全部。
func (r *Recorder) Recent(limit int) []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := r.next
	if r.full {
		count = len(r.items)
	}
	if limit <= 0 || limit > count {
		limit = count
	}
	out := make([]Notification, 0, limit)
	for i := 1; i <= limit; i++ {
		idx := (r.next - i + len(r.items)) % len(r.items)
		out = append(out, r.items[idx])
	}
	return out
}
