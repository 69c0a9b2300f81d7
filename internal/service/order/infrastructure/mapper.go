// internal/service/order/infrastructure/mapper.go
package infrastructure

import (
	"database/sql"
	"encoding/json"

	"github.com/shopspring/decimal"

	"swapflow/internal/service/order/domain"
)

// ToDomainOrder 将数据库模型转换为领域模型
func ToDomainOrder(m *OrderModel) *domain.Order {
	if m == nil {
		return nil
	}
	return &domain.Order{
		ID:     m.ID,
		Status: domain.State(m.Status),
		Payload: domain.Payload{
			SourceAsset: m.SourceAsset,
			DestAsset:   m.DestAsset,
			Amount:      m.Amount,
			Slippage:    m.Slippage,
		},
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
}

// FromDomainOrder 将领域模型转换为数据库模型 (用于插入)
func FromDomainOrder(o *domain.Order) *OrderModel {
	return &OrderModel{
		ID:          o.ID,
		Status:      string(o.Status),
		SourceAsset: o.Payload.SourceAsset,
		DestAsset:   o.Payload.DestAsset,
		Amount:      o.Payload.Amount,
		Slippage:    o.Payload.Slippage,
		CreatedAt:   o.CreatedAt,
		UpdatedAt:   o.UpdatedAt,
	}
}

// ToDomainExecution 路由决策 JSON 损坏时返回错误
func ToDomainExecution(m *ExecutionModel) (*domain.ExecutionAttempt, error) {
	if m == nil {
		return nil, nil
	}
	a := &domain.ExecutionAttempt{
		ID:            m.ID,
		OrderID:       m.OrderID,
		AttemptNumber: m.AttemptNumber,
		ChosenVenue:   domain.VenueID(m.ChosenVenue.String),
		TxHash:        m.TxHash.String,
		FailureReason: m.FailureReason.String,
		CreatedAt:     m.CreatedAt,
	}
	if m.RoutingDecision.Valid && m.RoutingDecision.String != "" {
		var d domain.RoutingDecision
		if err := json.Unmarshal([]byte(m.RoutingDecision.String), &d); err != nil {
			return nil, err
		}
		a.Routing = &d
	}
	if m.ExecutionPrice.Valid {
		p := m.ExecutionPrice.Decimal
		a.ExecutionPrice = &p
	}
	return a, nil
}

// FromDomainExecution 只转换创建时已知的字段, 其余字段由各自的处理器单独写入
func FromDomainExecution(a *domain.ExecutionAttempt) *ExecutionModel {
	return &ExecutionModel{
		ID:            a.ID,
		OrderID:       a.OrderID,
		AttemptNumber: a.AttemptNumber,
		CreatedAt:     a.CreatedAt,
	}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullDecimal(d decimal.Decimal) decimal.NullDecimal {
	return decimal.NullDecimal{Decimal: d, Valid: true}
}
