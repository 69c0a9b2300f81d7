// internal/service/order/application/service.go
package application

import (
	"context"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"swapflow/internal/pkg/logger"
	"swapflow/internal/service/order/domain"
	"swapflow/internal/service/order/domain/port"
)

const (
	DefaultListLimit = 50
	MaxListLimit     = 200
)

// DefaultSlippage 请求未指定滑点时使用 1%
var DefaultSlippage = decimal.NewFromFloat(0.01)

// OrderApplicationService 提供订单提交与查询用例
type OrderApplicationService struct {
	repo      domain.OrderRepository
	scheduler port.StepScheduler
	policy    *AdmissionPolicy
	tracer    trace.Tracer
}

func NewOrderApplicationService(repo domain.OrderRepository, scheduler port.StepScheduler, policy *AdmissionPolicy, tracer trace.Tracer) *OrderApplicationService {
	return &OrderApplicationService{repo: repo, scheduler: scheduler, policy: policy, tracer: tracer}
}

type submitOptions struct {
	beforeEnqueue func(orderID string)
}

// SubmitOption 调整 SubmitOrder 的行为
type SubmitOption func(*submitOptions)

// WithBeforeEnqueue 在订单入库之后、第一步入队之前回调,
// 用于调用方在任何事件发布之前完成订阅。
func WithBeforeEnqueue(fn func(orderID string)) SubmitOption {
	return func(o *submitOptions) { o.beforeEnqueue = fn }
}

// SubmitOrder 校验并持久化新订单, 然后调度第一步
func (s *OrderApplicationService) SubmitOrder(ctx context.Context, req CreateOrderRequest, opts ...SubmitOption) (*CreateOrderResponse, error) {
	ctx, span := s.tracer.Start(ctx, "app.SubmitOrder")
	defer span.End()

	var options submitOptions
	for _, opt := range opts {
		opt(&options)
	}

	slippage := DefaultSlippage
	if req.Slippage != nil {
		slippage = *req.Slippage
	}
	payload := domain.Payload{
		SourceAsset: req.SourceAsset,
		DestAsset:   req.DestAsset,
		Amount:      req.Amount,
		Slippage:    slippage,
	}
	order, err := domain.NewOrder(payload)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid payload")
		return nil, err
	}
	if s.policy != nil {
		if err := s.policy.Admit(payload); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "rejected by admission policy")
			return nil, err
		}
	}
	span.SetAttributes(
		attribute.String("order.id", order.ID),
		attribute.String("order.pair", payload.SourceAsset+"/"+payload.DestAsset),
	)

	if err := s.repo.CreateOrder(ctx, order); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to save order")
		return nil, err
	}
	if options.beforeEnqueue != nil {
		options.beforeEnqueue(order.ID)
	}
	if err := s.scheduler.Enqueue(ctx, order.ID); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to enqueue order")
		return nil, err
	}

	logger.Ctx(ctx).Info().Str("order_id", order.ID).
		Str("pair", payload.SourceAsset+"/"+payload.DestAsset).
		Str("amount", payload.Amount.String()).
		Msg("order accepted")
	return &CreateOrderResponse{OrderID: order.ID, Status: order.Status}, nil
}

// GetOrder 返回订单及其全部执行记录
func (s *OrderApplicationService) GetOrder(ctx context.Context, id string) (*OrderView, error) {
	ctx, span := s.tracer.Start(ctx, "app.GetOrder", trace.WithAttributes(attribute.String("order.id", id)))
	defer span.End()

	order, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	executions, err := s.repo.ListExecutions(ctx, id)
	if err != nil {
		return nil, err
	}
	v := toOrderView(order, executions)
	return &v, nil
}

// ListOrders 返回最近的订单, status 非空时按状态过滤
func (s *OrderApplicationService) ListOrders(ctx context.Context, status string, limit int) ([]OrderView, error) {
	ctx, span := s.tracer.Start(ctx, "app.ListOrders")
	defer span.End()

	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}

	var (
		orders []*domain.Order
		err    error
	)
	if status == "" {
		orders, err = s.repo.ListRecent(ctx, limit)
	} else {
		st, perr := domain.ParseState(status)
		if perr != nil {
			return nil, perr
		}
		orders, err = s.repo.ListByStatus(ctx, st, limit)
	}
	if err != nil {
		return nil, err
	}

	views := make([]OrderView, 0, len(orders))
	for _, o := range orders {
		views = append(views, toOrderView(o, nil))
	}
	return views, nil
}

// Ready 检查存储是否可用
func (s *OrderApplicationService) Ready(ctx context.Context) error {
	return s.repo.Ping(ctx)
}
