package port

import "swapflow/internal/service/order/domain"

// EventPublisher 发布订单状态变更事件
type EventPublisher interface {
	Publish(orderID string, status domain.State, data *domain.EventData)
}
