package events

import (
	"encoding/json"
	"fmt"
	"time"

	xerrors "CoinKeep/internal/errors"

	"github.com/google/uuid"
)

// CodeQueueFailure marks broker errors.
const CodeQueueFailure xerrors.Code = "EVENT_QUEUE_FAILURE"

func init() {
	xerrors.Register(CodeQueueFailure, xerrors.Attributes{
		Message:  "event queue unavailable",
		Severity: xerrors.SeverityWarning,
		Notify:   false,
	})
}

// Type names an agent event.
type Type string

const (
	TypeAgentRegistered     Type = "agent.registered"
	TypeMerchantWhitelisted Type = "merchant.whitelisted"
	TypeMerchantRemoved     Type = "merchant.removed"
)

// Event describes one registry change.
type Event struct {
	ID         string    `json:"id"`
	Type       Type      `json:"type"`
	AgentID    string    `json:"agentId"`
	Owner      string    `json:"owner"`
	Merchant   string    `json:"merchant,omitempty"`
	OccurredAt time.Time `json:"occurredAt"`
	// Attempts 统计处理失败后重新投递的次数，只有 Redis 队列使用。
	Attempts int `json:"attempts,omitempty"`
}

// maxRedeliveries 与 RabbitMQ 的行为一致：失败的事件最多再投递一次。
const maxRedeliveries = 1

// redeliver 返回重新入队用的事件；超过上限时 ok 为 false，事件应被丢弃。
func redeliver(evt Event) (next Event, ok bool) {
	if evt.Attempts >= maxRedeliveries {
		return evt, false
	}
	evt.Attempts++
	return evt, true
}

// New stamps an event with an id and the current time.
func New(typ Type, agentID, owner, merchant string) Event {
	return Event{
		ID:         uuid.NewString(),
		Type:       typ,
		AgentID:    agentID,
		Owner:      owner,
		Merchant:   merchant,
		OccurredAt: time.Now().UTC(),
	}
}

func encode(evt Event) ([]byte, error) {
	data, err := json.Marshal(evt)
	if err != nil {
		return nil, fmt.Errorf("编码事件失败: %w", err)
	}
	return data, nil
}

func decode(data []byte) (Event, error) {
	var evt Event
	if err := json.Unmarshal(data, &evt); err != nil {
		return Event{}, fmt.Errorf("解析事件失败: %w", err)
	}
	return evt, nil
}
