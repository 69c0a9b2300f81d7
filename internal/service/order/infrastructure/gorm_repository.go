// internal/service/order/infrastructure/gorm_repository.go
package infrastructure

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	mysqldriver "github.com/go-sql-driver/mysql"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"swapflow/internal/pkg/logger"
	"swapflow/internal/service/order/domain"
)

// GormOrderRepository 是 domain.OrderRepository 的 GORM 实现
type GormOrderRepository struct {
	db  *gorm.DB
	now func() time.Time
}

var _ domain.OrderRepository = (*GormOrderRepository)(nil)

func NewGormOrderRepository(db *gorm.DB) *GormOrderRepository {
	return &GormOrderRepository{db: db, now: time.Now}
}

// AutoMigrate 创建或更新表结构
func (r *GormOrderRepository) AutoMigrate() error {
	return r.db.AutoMigrate(&OrderModel{}, &ExecutionModel{})
}

func (r *GormOrderRepository) CreateOrder(ctx context.Context, order *domain.Order) error {
	if err := r.db.WithContext(ctx).Create(FromDomainOrder(order)).Error; err != nil {
		return errors.Wrapf(err, "create order %s", order.ID)
	}
	return nil
}

func (r *GormOrderRepository) FindByID(ctx context.Context, id string) (*domain.Order, error) {
	var model OrderModel
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrOrderNotFound
		}
		return nil, errors.Wrapf(err, "find order %s", id)
	}
	return ToDomainOrder(&model), nil
}

// Transition 条件更新: WHERE id = ? AND status = from, 影响行数为 1 才算成功
func (r *GormOrderRepository) Transition(ctx context.Context, id string, from, to domain.State) (bool, error) {
	if !domain.CanTransition(from, to) {
		return false, fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, from, to)
	}
	res := r.db.WithContext(ctx).Model(&OrderModel{}).
		Where("id = ? AND status = ?", id, string(from)).
		Updates(map[string]interface{}{
			"status":     string(to),
			"updated_at": r.now().UTC(),
		})
	if res.Error != nil {
		return false, errors.Wrapf(res.Error, "transition order %s %s->%s", id, from, to)
	}
	return res.RowsAffected == 1, nil
}

func (r *GormOrderRepository) ListRecent(ctx context.Context, limit int) ([]*domain.Order, error) {
	var models []OrderModel
	err := r.db.WithContext(ctx).Order("created_at DESC").Limit(limit).Find(&models).Error
	if err != nil {
		return nil, errors.Wrap(err, "list recent orders")
	}
	return toDomainOrders(models), nil
}

func (r *GormOrderRepository) ListByStatus(ctx context.Context, status domain.State, limit int) ([]*domain.Order, error) {
	var models []OrderModel
	err := r.db.WithContext(ctx).Where("status = ?", string(status)).
		Order("created_at DESC").Limit(limit).Find(&models).Error
	if err != nil {
		return nil, errors.Wrapf(err, "list orders with status %s", status)
	}
	return toDomainOrders(models), nil
}

func (r *GormOrderRepository) ListStale(ctx context.Context, states []domain.State, olderThan time.Time, limit int) ([]*domain.Order, error) {
	if len(states) == 0 {
		return nil, nil
	}
	raw := make([]string, len(states))
	for i, s := range states {
		raw[i] = string(s)
	}
	var models []OrderModel
	err := r.db.WithContext(ctx).
		Where("status IN ? AND updated_at < ?", raw, olderThan.UTC()).
		Order("updated_at ASC").Limit(limit).Find(&models).Error
	if err != nil {
		return nil, errors.Wrap(err, "list stale orders")
	}
	return toDomainOrders(models), nil
}

func (r *GormOrderRepository) CreateExecution(ctx context.Context, attempt *domain.ExecutionAttempt) error {
	err := r.db.WithContext(ctx).Create(FromDomainExecution(attempt)).Error
	if err != nil {
		if isDuplicateKey(err) {
			return fmt.Errorf("%w: order %s attempt %d", domain.ErrDuplicateAttempt, attempt.OrderID, attempt.AttemptNumber)
		}
		return errors.Wrapf(err, "create execution for order %s", attempt.OrderID)
	}
	return nil
}

// LatestExecution 没有执行记录时返回 (nil, nil)
func (r *GormOrderRepository) LatestExecution(ctx context.Context, orderID string) (*domain.ExecutionAttempt, error) {
	var models []ExecutionModel
	err := r.db.WithContext(ctx).Where("order_id = ?", orderID).
		Order("attempt_number DESC").Limit(1).Find(&models).Error
	if err != nil {
		return nil, errors.Wrapf(err, "latest execution of order %s", orderID)
	}
	if len(models) == 0 {
		return nil, nil
	}
	return ToDomainExecution(&models[0])
}

func (r *GormOrderRepository) ListExecutions(ctx context.Context, orderID string) ([]*domain.ExecutionAttempt, error) {
	var models []ExecutionModel
	err := r.db.WithContext(ctx).Where("order_id = ?", orderID).
		Order("attempt_number ASC").Find(&models).Error
	if err != nil {
		return nil, errors.Wrapf(err, "list executions of order %s", orderID)
	}
	out := make([]*domain.ExecutionAttempt, 0, len(models))
	for i := range models {
		a, err := ToDomainExecution(&models[i])
		if err != nil {
			return nil, errors.Wrapf(err, "decode execution %s", models[i].ID)
		}
		out = append(out, a)
	}
	return out, nil
}

func (r *GormOrderRepository) CountExecutions(ctx context.Context, orderID string) (int, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&ExecutionModel{}).Where("order_id = ?", orderID).Count(&n).Error
	if err != nil {
		return 0, errors.Wrapf(err, "count executions of order %s", orderID)
	}
	return int(n), nil
}

func (r *GormOrderRepository) UpdateExecutionRouting(ctx context.Context, attemptID string, decision domain.RoutingDecision) error {
	raw, err := json.Marshal(decision)
	if err != nil {
		return errors.Wrap(err, "marshal routing decision")
	}
	return r.writeOnce(ctx, attemptID, "chosen_venue", map[string]interface{}{
		"chosen_venue":     nullString(string(decision.Chosen)),
		"routing_decision": nullString(string(raw)),
	})
}

func (r *GormOrderRepository) UpdateExecutionSuccess(ctx context.Context, attemptID, txHash string, price decimal.Decimal) error {
	return r.writeOnce(ctx, attemptID, "tx_hash", map[string]interface{}{
		"tx_hash":         nullString(txHash),
		"execution_price": nullDecimal(price),
	})
}

func (r *GormOrderRepository) UpdateExecutionFailure(ctx context.Context, attemptID, reason string) error {
	return r.writeOnce(ctx, attemptID, "failure_reason", map[string]interface{}{
		"failure_reason": nullString(reason),
	})
}

// writeOnce 仅当 guard 列仍为空时写入; 已写入过则静默忽略
func (r *GormOrderRepository) writeOnce(ctx context.Context, attemptID, guard string, values map[string]interface{}) error {
	res := r.db.WithContext(ctx).Model(&ExecutionModel{}).
		Where("id = ? AND "+guard+" IS NULL", attemptID).
		Updates(values)
	if res.Error != nil {
		return errors.Wrapf(res.Error, "update %s of execution %s", guard, attemptID)
	}
	if res.RowsAffected == 0 {
		logger.Ctx(ctx).Debug().Str("execution_id", attemptID).Str("field", guard).
			Msg("execution field already written, keeping the first value")
	}
	return nil
}

func (r *GormOrderRepository) Ping(ctx context.Context) error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func toDomainOrders(models []OrderModel) []*domain.Order {
	out := make([]*domain.Order, 0, len(models))
	for i := range models {
		out = append(out, ToDomainOrder(&models[i]))
	}
	return out
}

func isDuplicateKey(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var myErr *mysqldriver.MySQLError
	if errors.As(err, &myErr) && myErr.Number == 1062 {
		return true
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
