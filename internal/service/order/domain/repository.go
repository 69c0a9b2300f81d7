// internal/service/order/domain/repository.go
package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// OrderRepository 定义了订单聚合及其执行记录的持久化接口。
// 它位于领域层，但由基础设施层实现。
type OrderRepository interface {
	CreateOrder(ctx context.Context, order *Order) error
	FindByID(ctx context.Context, id string) (*Order, error)

	// Transition 是唯一的并发控制手段: 仅当当前状态仍为 from 时才写入 to。
	// 竞争失败返回 (false, nil)。
	Transition(ctx context.Context, id string, from, to State) (bool, error)

	ListRecent(ctx context.Context, limit int) ([]*Order, error)
	ListByStatus(ctx context.Context, status State, limit int) ([]*Order, error)
	// ListStale 返回处于给定状态且 updated_at 早于 olderThan 的订单
	ListStale(ctx context.Context, states []State, olderThan time.Time, limit int) ([]*Order, error)

	CreateExecution(ctx context.Context, attempt *ExecutionAttempt) error
	LatestExecution(ctx context.Context, orderID string) (*ExecutionAttempt, error)
	ListExecutions(ctx context.Context, orderID string) ([]*ExecutionAttempt, error)
	CountExecutions(ctx context.Context, orderID string) (int, error)

	// 以下字段均为一次写入, 重复写入静默忽略
	UpdateExecutionRouting(ctx context.Context, attemptID string, decision RoutingDecision) error
	UpdateExecutionSuccess(ctx context.Context, attemptID, txHash string, price decimal.Decimal) error
	UpdateExecutionFailure(ctx context.Context, attemptID, reason string) error

	Ping(ctx context.Context) error
}
