// internal/service/order/infrastructure/gorm_model.go
package infrastructure

import (
	"database/sql"
	"time"

	"github.com/shopspring/decimal"
)

// OrderModel 对应数据库中的 orders 表
type OrderModel struct {
	ID          string          `gorm:"primaryKey;type:varchar(36)"`
	Status      string          `gorm:"type:varchar(16);not null;index:idx_orders_status_updated,priority:1"`
	SourceAsset string          `gorm:"type:varchar(32);not null"`
	DestAsset   string          `gorm:"type:varchar(32);not null"`
	Amount      decimal.Decimal `gorm:"type:decimal(36,18);not null"`
	Slippage    decimal.Decimal `gorm:"type:decimal(10,6);not null"`
	CreatedAt   time.Time       `gorm:"index"`
	UpdatedAt   time.Time       `gorm:"index:idx_orders_status_updated,priority:2"`
}

func (OrderModel) TableName() string {
	return "orders"
}

// ExecutionModel 对应数据库中的 order_executions 表, 只追加不删除
type ExecutionModel struct {
	ID              string              `gorm:"primaryKey;type:varchar(36)"`
	OrderID         string              `gorm:"type:varchar(36);not null;uniqueIndex:uk_order_attempt,priority:1"`
	AttemptNumber   int                 `gorm:"not null;uniqueIndex:uk_order_attempt,priority:2"`
	ChosenVenue     sql.NullString      `gorm:"type:varchar(32)"`
	RoutingDecision sql.NullString      `gorm:"type:text"`
	TxHash          sql.NullString      `gorm:"type:varchar(128)"`
	ExecutionPrice  decimal.NullDecimal `gorm:"type:decimal(36,18)"`
	FailureReason   sql.NullString      `gorm:"type:text"`
	CreatedAt       time.Time
}

func (ExecutionModel) TableName() string {
	return "order_executions"
}
