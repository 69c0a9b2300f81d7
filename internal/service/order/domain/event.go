// internal/service/order/domain/event.go
package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// EventData 是状态变更事件的可选负载
type EventData struct {
	Routing        *RoutingDecision `json:"routing,omitempty"`
	TxHash         string           `json:"txHash,omitempty"`
	ExecutionPrice *decimal.Decimal `json:"executionPrice,omitempty"`
	Error          string           `json:"error,omitempty"`
}

// OrderEvent 是一次成功状态迁移的通知, 不持久化
type OrderEvent struct {
	OrderID string     `json:"orderId"`
	Status  State      `json:"status"`
	Data    *EventData `json:"data,omitempty"`
	At      time.Time  `json:"timestamp"`
}

// AdvanceOrderJob 是任务队列中"推进订单一步"的消息体
type AdvanceOrderJob struct {
	OrderID    string    `json:"orderId"`
	EnqueuedAt time.Time `json:"enqueuedAt"`
}
