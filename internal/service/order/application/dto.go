// internal/service/order/application/dto.go
package application

import (
	"time"

	"github.com/shopspring/decimal"

	"swapflow/internal/service/order/domain"
)

// CreateOrderRequest 是提交兑换订单的请求体
type CreateOrderRequest struct {
	SourceAsset string           `json:"tokenIn"`
	DestAsset   string           `json:"tokenOut"`
	Amount      decimal.Decimal  `json:"amount"`
	Slippage    *decimal.Decimal `json:"slippage,omitempty"`
}

type CreateOrderResponse struct {
	OrderID string       `json:"orderId"`
	Status  domain.State `json:"status"`
}

// ExecutionView 是执行记录的对外视图
type ExecutionView struct {
	ID             string                  `json:"id"`
	AttemptNumber  int                     `json:"attemptNumber"`
	ChosenVenue    domain.VenueID          `json:"chosenVenue,omitempty"`
	Routing        *domain.RoutingDecision `json:"routingDecision,omitempty"`
	TxHash         string                  `json:"txHash,omitempty"`
	ExecutionPrice *decimal.Decimal        `json:"executionPrice,omitempty"`
	FailureReason  string                  `json:"failureReason,omitempty"`
	CreatedAt      time.Time               `json:"createdAt"`
}

// OrderView 是订单的对外视图, 详情查询时附带全部执行记录
type OrderView struct {
	ID          string          `json:"id"`
	Status      domain.State    `json:"status"`
	SourceAsset string          `json:"tokenIn"`
	DestAsset   string          `json:"tokenOut"`
	Amount      decimal.Decimal `json:"amount"`
	Slippage    decimal.Decimal `json:"slippage"`
	CreatedAt   time.Time       `json:"createdAt"`
	UpdatedAt   time.Time       `json:"updatedAt"`
	Executions  []ExecutionView `json:"executions,omitempty"`
}

func toOrderView(o *domain.Order, executions []*domain.ExecutionAttempt) OrderView {
	v := OrderView{
		ID:          o.ID,
		Status:      o.Status,
		SourceAsset: o.Payload.SourceAsset,
		DestAsset:   o.Payload.DestAsset,
		Amount:      o.Payload.Amount,
		Slippage:    o.Payload.Slippage,
		CreatedAt:   o.CreatedAt,
		UpdatedAt:   o.UpdatedAt,
	}
	for _, e := range executions {
		v.Executions = append(v.Executions, ExecutionView{
			ID:             e.ID,
			AttemptNumber:  e.AttemptNumber,
			ChosenVenue:    e.ChosenVenue,
			Routing:        e.Routing,
			TxHash:         e.TxHash,
			ExecutionPrice: e.ExecutionPrice,
			FailureReason:  e.FailureReason,
			CreatedAt:      e.CreatedAt,
		})
	}
	return v
}
