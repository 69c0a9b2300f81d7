// internal/service/order/application/orchestrator.go
package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"swapflow/internal/pkg/logger"
	"swapflow/internal/pkg/metrics"
	"swapflow/internal/service/order/domain"
	"swapflow/internal/service/order/domain/port"
)

// stepHandler 处理订单在某个状态下的一步。
// 返回本次由当前 worker 推进到的新状态; 竞争失败或无事可做时返回空串。
type stepHandler func(ctx context.Context, order *domain.Order) (domain.State, error)

// Orchestrator 是任务队列的任务体: 加载订单, 按状态分派到处理器, 并调度下一步。
type Orchestrator struct {
	repo      domain.OrderRepository
	venues    port.VenueDirectory
	events    port.EventPublisher
	scheduler port.StepScheduler
	tracer    trace.Tracer
	metrics   *metrics.OrderMetrics

	steps map[domain.State]stepHandler
}

var _ port.StepRunner = (*Orchestrator)(nil)

// NewOrchestrator 创建编排器。每个非终态都必须有对应的处理器。
func NewOrchestrator(repo domain.OrderRepository, venues port.VenueDirectory, events port.EventPublisher,
	scheduler port.StepScheduler, tracer trace.Tracer, m *metrics.OrderMetrics) *Orchestrator {
	o := &Orchestrator{
		repo:      repo,
		venues:    venues,
		events:    events,
		scheduler: scheduler,
		tracer:    tracer,
		metrics:   m,
	}
	o.steps = map[domain.State]stepHandler{
		domain.StatePending:   o.handlePending,
		domain.StateRouting:   o.handleRouting,
		domain.StateBuilding:  o.handleBuilding,
		domain.StateSubmitted: o.handleSubmitted,
	}
	for _, s := range domain.NonTerminalStates() {
		if _, ok := o.steps[s]; !ok {
			panic(fmt.Sprintf("orchestrator: no handler registered for state %q", s))
		}
	}
	return o
}

// ProcessStep 推进订单一步。
// Fatal 错误在本地把订单置为 failed 并吞掉; 其他错误原样返回给队列做退避重试。
func (o *Orchestrator) ProcessStep(ctx context.Context, orderID string) error {
	ctx, span := o.tracer.Start(ctx, "app.ProcessStep",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(attribute.String("order.id", orderID)))
	defer span.End()

	order, err := o.repo.FindByID(ctx, orderID)
	if errors.Is(err, domain.ErrOrderNotFound) {
		logger.Ctx(ctx).Warn().Str("order_id", orderID).Msg("order not found for scheduled step, dropping job")
		return nil
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to load order")
		return err
	}
	span.SetAttributes(attribute.String("order.status", order.Status.String()))

	if order.Status.IsTerminal() {
		logger.Ctx(ctx).Debug().Str("order_id", orderID).Str("status", order.Status.String()).
			Msg("order already terminal, nothing to do")
		return nil
	}
	handler, ok := o.steps[order.Status]
	if !ok {
		logger.Ctx(ctx).Error().Str("order_id", orderID).Str("status", order.Status.String()).
			Msg("unrecognized order status, completing job without effect")
		return nil
	}

	started := time.Now()
	next, err := handler(ctx, order)
	o.metrics.ObserveStep(order.Status.String(), started)

	if err != nil {
		kind := domain.KindOf(err)
		o.metrics.StepError(order.Status.String(), kind.String())
		span.RecordError(err)

		if kind == domain.KindFatal {
			logger.Ctx(ctx).Warn().Err(err).Str("order_id", orderID).Str("status", order.Status.String()).
				Msg("fatal step error, failing order")
			if failErr := o.fail(ctx, order, err.Error()); failErr != nil {
				span.SetStatus(codes.Error, "failed to persist order failure")
				return failErr
			}
			return nil
		}

		span.SetStatus(codes.Error, "retriable step error")
		logger.Ctx(ctx).Error().Err(err).Str("order_id", orderID).Str("status", order.Status.String()).
			Msg("step failed, leaving retry to the queue")
		return err
	}

	if next != "" && !next.IsTerminal() {
		if err := o.scheduler.Enqueue(ctx, order.ID); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to enqueue next step")
			return domain.Retriable(fmt.Errorf("enqueue next step for order %s: %w", order.ID, err))
		}
	}
	return nil
}

// HandleRetryExhausted 在队列用尽重试次数后强制把订单置为 failed
func (o *Orchestrator) HandleRetryExhausted(ctx context.Context, orderID string, cause error) error {
	ctx, span := o.tracer.Start(ctx, "app.HandleRetryExhausted", trace.WithAttributes(attribute.String("order.id", orderID)))
	defer span.End()

	order, err := o.repo.FindByID(ctx, orderID)
	if errors.Is(err, domain.ErrOrderNotFound) {
		logger.Ctx(ctx).Warn().Str("order_id", orderID).Msg("retry exhausted for unknown order")
		return nil
	}
	if err != nil {
		span.RecordError(err)
		return err
	}
	if order.Status.IsTerminal() {
		logger.Ctx(ctx).Info().Str("order_id", orderID).Str("status", order.Status.String()).
			Msg("retry exhausted but order already terminal")
		return nil
	}

	msg := "unknown error"
	if cause != nil {
		msg = cause.Error()
	}
	return o.fail(ctx, order, "Retry limit exceeded: "+msg)
}

// fail 是共享的终止流程: 记录失败原因, 再从当前观测到的状态条件迁移到 failed。
func (o *Orchestrator) fail(ctx context.Context, order *domain.Order, reason string) error {
	if order.Status.IsTerminal() {
		return nil
	}
	attempt, err := o.repo.LatestExecution(ctx, order.ID)
	if err != nil {
		return err
	}
	if attempt != nil {
		if err := o.repo.UpdateExecutionFailure(ctx, attempt.ID, reason); err != nil {
			return err
		}
	}

	ok, err := o.transition(ctx, order.ID, order.Status, domain.StateFailed)
	if err != nil {
		return err
	}
	if !ok {
		logger.Ctx(ctx).Info().Str("order_id", order.ID).Str("observed", order.Status.String()).
			Msg("order moved on before it could be failed")
		return nil
	}
	logger.Ctx(ctx).Warn().Str("order_id", order.ID).Str("reason", reason).Msg("order failed")
	o.events.Publish(order.ID, domain.StateFailed, &domain.EventData{Error: reason})
	return nil
}

// transition 包装条件迁移并记录指标; 竞争失败不是错误。
func (o *Orchestrator) transition(ctx context.Context, orderID string, from, to domain.State) (bool, error) {
	ok, err := o.repo.Transition(ctx, orderID, from, to)
	if err != nil {
		return false, err
	}
	if !ok {
		o.metrics.Conflict(from.String(), to.String())
		logger.Ctx(ctx).Debug().Str("order_id", orderID).Str("from", from.String()).Str("to", to.String()).
			Msg("conditional transition lost to another worker")
		return false, nil
	}
	o.metrics.Transition(from.String(), to.String())
	logger.Ctx(ctx).Info().Str("order_id", orderID).Str("from", from.String()).Str("to", to.String()).
		Msg("order transitioned")
	return true, nil
}
