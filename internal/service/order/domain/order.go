// internal/service/order/domain/order.go
package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Payload 是订单的不可变输入
type Payload struct {
	SourceAsset string
	DestAsset   string
	Amount      decimal.Decimal
	Slippage    decimal.Decimal // 最大可接受滑点, 0.01 表示 1%
}

// Validate 校验兑换参数
func (p Payload) Validate() error {
	switch {
	case strings.TrimSpace(p.SourceAsset) == "" || strings.TrimSpace(p.DestAsset) == "":
		return fmt.Errorf("%w: source and destination assets are required", ErrInvalidPayload)
	case strings.EqualFold(p.SourceAsset, p.DestAsset):
		return fmt.Errorf("%w: source and destination assets must differ", ErrInvalidPayload)
	case !p.Amount.IsPositive():
		return fmt.Errorf("%w: amount must be positive", ErrInvalidPayload)
	case p.Slippage.IsNegative() || p.Slippage.GreaterThanOrEqual(decimal.NewFromInt(1)):
		return fmt.Errorf("%w: slippage must be in [0, 1)", ErrInvalidPayload)
	}
	return nil
}

// Order 是兑换订单聚合的根实体。
// Status 只能通过仓储的条件迁移修改。
type Order struct {
	ID        string
	Status    State
	Payload   Payload
	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewOrder 创建一个处于 pending 状态的新订单
func NewOrder(p Payload) (*Order, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	return &Order{
		ID:        uuid.NewString(),
		Status:    StatePending,
		Payload:   p,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// ExecutionAttempt 记录一次处理周期的路由与执行结果, 构成审计轨迹。
// 每个字段最多写入一次。
type ExecutionAttempt struct {
	ID             string
	OrderID        string
	AttemptNumber  int
	ChosenVenue    VenueID
	Routing        *RoutingDecision
	TxHash         string
	ExecutionPrice *decimal.Decimal
	FailureReason  string
	CreatedAt      time.Time
}

// NewExecutionAttempt 创建第 number 次执行记录
func NewExecutionAttempt(orderID string, number int) *ExecutionAttempt {
	return &ExecutionAttempt{
		ID:            uuid.NewString(),
		OrderID:       orderID,
		AttemptNumber: number,
		CreatedAt:     time.Now().UTC(),
	}
}

// IsActive 尚无最终结果 (既没有交易哈希也没有失败原因)
func (a *ExecutionAttempt) IsActive() bool {
	return a.TxHash == "" && a.FailureReason == ""
}

// HasSwapResult 兑换结果是否已落库
func (a *ExecutionAttempt) HasSwapResult() bool {
	return a.TxHash != "" && a.ExecutionPrice != nil
}
