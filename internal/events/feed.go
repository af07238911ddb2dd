package events

import (
	"context"
	"log/slog"

	"CoinKeep/internal/observability/metrics"
	"CoinKeep/pkg/logger"
)

// Feed announces registry changes. Publish failures are logged and never
// reach the caller.
type Feed struct {
	pub Publisher
	log *slog.Logger
}

// NewFeed wraps pub. A nil publisher makes every Announce a no-op.
func NewFeed(pub Publisher) *Feed {
	return &Feed{pub: pub, log: logger.Named("events")}
}

// Announce publishes evt.
func (f *Feed) Announce(ctx context.Context, evt Event) {
	if f == nil || f.pub == nil {
		return
	}
	if err := f.pub.Publish(ctx, evt); err != nil {
		metrics.ObserveEventPublished(string(evt.Type), metrics.OutcomeError)
		f.log.Warn("事件发布失败", "type", evt.Type, "agent_id", evt.AgentID, "error", err)
		return
	}
	metrics.ObserveEventPublished(string(evt.Type), metrics.OutcomeOK)
}

// LogHandler writes every consumed event to the audit log. It is the default
// downstream worker when no bot is attached to the queue.
func LogHandler() Handler {
	return func(_ context.Context, evt Event) error {
		logger.Audit().Info("agent event",
			"event_id", evt.ID,
			"type", evt.Type,
			"agent_id", evt.AgentID,
			"owner", evt.Owner,
			"merchant", evt.Merchant,
		)
		return nil
	}
}
