// internal/service/order/application/handlers.go
package application

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"swapflow/internal/pkg/logger"
	"swapflow/internal/service/order/domain"
	"swapflow/internal/service/order/domain/port"
)

// handlePending: 创建执行记录, pending -> routing
func (o *Orchestrator) handlePending(ctx context.Context, order *domain.Order) (domain.State, error) {
	ctx, span := o.tracer.Start(ctx, "app.handlePending")
	defer span.End()

	latest, err := o.repo.LatestExecution(ctx, order.ID)
	if err != nil {
		return "", err
	}
	// 上一次运行已创建但未完成迁移的执行记录直接复用
	if latest == nil || !latest.IsActive() {
		count, err := o.repo.CountExecutions(ctx, order.ID)
		if err != nil {
			return "", err
		}
		attempt := domain.NewExecutionAttempt(order.ID, count+1)
		if err := o.repo.CreateExecution(ctx, attempt); err != nil {
			if !errors.Is(err, domain.ErrDuplicateAttempt) {
				return "", err
			}
			logger.Ctx(ctx).Debug().Str("order_id", order.ID).Int("attempt", attempt.AttemptNumber).
				Msg("execution attempt created by a concurrent worker")
		} else {
			span.AddEvent("execution attempt created", trace.WithAttributes(attribute.Int("attempt", attempt.AttemptNumber)))
		}
	}

	ok, err := o.transition(ctx, order.ID, domain.StatePending, domain.StateRouting)
	if err != nil || !ok {
		return "", err
	}
	o.events.Publish(order.ID, domain.StateRouting, nil)
	return domain.StateRouting, nil
}

// handleRouting: 并发询价, 按净价选择场所, routing -> building
func (o *Orchestrator) handleRouting(ctx context.Context, order *domain.Order) (domain.State, error) {
	ctx, span := o.tracer.Start(ctx, "app.handleRouting")
	defer span.End()

	attempt, err := o.repo.LatestExecution(ctx, order.ID)
	if err != nil {
		return "", err
	}
	if attempt == nil {
		return "", domain.Fatalf("order %s is routing without an execution attempt", order.ID)
	}

	var decision domain.RoutingDecision
	if attempt.Routing != nil {
		decision = *attempt.Routing
		logger.Ctx(ctx).Info().Str("order_id", order.ID).Str("venue", string(decision.Chosen)).
			Msg("routing decision already recorded, reusing it")
	} else {
		quotes, err := o.collectQuotes(ctx, order)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "quote fan-out failed")
			return "", err
		}
		decision, err = domain.SelectVenue(quotes)
		if err != nil {
			return "", err
		}
		if err := o.repo.UpdateExecutionRouting(ctx, attempt.ID, decision); err != nil {
			return "", err
		}
		// 并发 worker 可能先写入了决策, 以落库结果为准
		stored, err := o.repo.LatestExecution(ctx, order.ID)
		if err != nil {
			return "", err
		}
		if stored != nil && stored.ID == attempt.ID && stored.Routing != nil {
			decision = *stored.Routing
		}
	}
	span.SetAttributes(attribute.String("venue.chosen", string(decision.Chosen)))

	ok, err := o.transition(ctx, order.ID, domain.StateRouting, domain.StateBuilding)
	if err != nil || !ok {
		return "", err
	}
	o.metrics.VenueSelected(string(decision.Chosen))
	logger.Ctx(ctx).Info().Str("order_id", order.ID).Str("venue", string(decision.Chosen)).
		Str("reason", decision.Reason).Msg("venue selected")
	o.events.Publish(order.ID, domain.StateBuilding, &domain.EventData{Routing: &decision})
	return domain.StateBuilding, nil
}

// collectQuotes 并发向所有场所询价, 任一失败都视为可重试错误。
// 返回的报价保持场所偏好顺序。
func (o *Orchestrator) collectQuotes(ctx context.Context, order *domain.Order) ([]domain.VenueQuote, error) {
	venues := o.venues.Preferred()
	quotes := make([]domain.VenueQuote, len(venues))
	req := port.QuoteRequest{
		SourceAsset: order.Payload.SourceAsset,
		DestAsset:   order.Payload.DestAsset,
		Amount:      order.Payload.Amount,
	}

	g, gctx := errgroup.WithContext(ctx)
	for i, v := range venues {
		g.Go(func() error {
			qctx, span := o.tracer.Start(gctx, "venue.Quote", trace.WithAttributes(attribute.String("venue", string(v.ID()))))
			defer span.End()

			q, err := v.Quote(qctx, req)
			if err != nil {
				span.RecordError(err)
				return domain.Retriable(fmt.Errorf("quote from %s: %w", v.ID(), err))
			}
			quotes[i] = domain.NewVenueQuote(v.ID(), q.Price, q.FeeRate)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return quotes, nil
}

// handleBuilding: 执行兑换并落库, building -> submitted -> confirmed
func (o *Orchestrator) handleBuilding(ctx context.Context, order *domain.Order) (domain.State, error) {
	ctx, span := o.tracer.Start(ctx, "app.handleBuilding")
	defer span.End()

	attempt, err := o.repo.LatestExecution(ctx, order.ID)
	if err != nil {
		return "", err
	}
	if attempt == nil {
		return "", domain.Fatalf("order %s is building without an execution attempt", order.ID)
	}
	if attempt.ChosenVenue == "" {
		return "", domain.Fatalf("execution attempt %d of order %s has no chosen venue", attempt.AttemptNumber, order.ID)
	}

	var result port.SwapResult
	if attempt.HasSwapResult() {
		result = port.SwapResult{TxHash: attempt.TxHash, ExecutedPrice: *attempt.ExecutionPrice}
		logger.Ctx(ctx).Info().Str("order_id", order.ID).Str("tx_hash", result.TxHash).
			Msg("swap result already recorded, skipping venue call")
	} else {
		venue, err := o.venues.Lookup(attempt.ChosenVenue)
		if err != nil {
			return "", domain.Fatal(err)
		}
		result, err = o.executeSwap(ctx, venue, attempt, order)
		if err != nil {
			if domain.IsFatal(err) {
				logger.Ctx(ctx).Warn().Err(err).Str("order_id", order.ID).Str("venue", string(venue.ID())).
					Msg("swap rejected")
				if failErr := o.fail(ctx, order, err.Error()); failErr != nil {
					return "", failErr
				}
				return domain.StateFailed, nil
			}
			return "", err
		}
		if err := o.repo.UpdateExecutionSuccess(ctx, attempt.ID, result.TxHash, result.ExecutedPrice); err != nil {
			return "", err
		}
		stored, err := o.repo.LatestExecution(ctx, order.ID)
		if err != nil {
			return "", err
		}
		if stored != nil && stored.ID == attempt.ID && stored.HasSwapResult() {
			result = port.SwapResult{TxHash: stored.TxHash, ExecutedPrice: *stored.ExecutionPrice}
		}
	}

	ok, err := o.transition(ctx, order.ID, domain.StateBuilding, domain.StateSubmitted)
	if err != nil || !ok {
		return "", err
	}
	o.events.Publish(order.ID, domain.StateSubmitted, nil)

	return o.confirm(ctx, order.ID, result)
}

func (o *Orchestrator) executeSwap(ctx context.Context, venue port.Venue, attempt *domain.ExecutionAttempt, order *domain.Order) (port.SwapResult, error) {
	ctx, span := o.tracer.Start(ctx, "venue.ExecuteSwap", trace.WithAttributes(
		attribute.String("venue", string(venue.ID())),
		attribute.String("attempt.id", attempt.ID),
	))
	defer span.End()

	result, err := venue.ExecuteSwap(ctx, port.SwapRequest{
		IdempotencyKey: attempt.ID,
		SourceAsset:    order.Payload.SourceAsset,
		DestAsset:      order.Payload.DestAsset,
		Amount:         order.Payload.Amount,
		Slippage:       order.Payload.Slippage,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, domain.KindOf(err).String())
		return port.SwapResult{}, err
	}
	span.SetAttributes(attribute.String("tx.hash", result.TxHash))
	return result, nil
}

// handleSubmitted 只在 building 两次迁移之间崩溃后被重投时触发
func (o *Orchestrator) handleSubmitted(ctx context.Context, order *domain.Order) (domain.State, error) {
	ctx, span := o.tracer.Start(ctx, "app.handleSubmitted")
	defer span.End()

	attempt, err := o.repo.LatestExecution(ctx, order.ID)
	if err != nil {
		return "", err
	}
	if attempt == nil || !attempt.HasSwapResult() {
		logger.Ctx(ctx).Warn().Str("order_id", order.ID).Msg("order submitted without a recorded swap result, nothing to recover")
		return "", nil
	}
	return o.confirm(ctx, order.ID, port.SwapResult{TxHash: attempt.TxHash, ExecutedPrice: *attempt.ExecutionPrice})
}

func (o *Orchestrator) confirm(ctx context.Context, orderID string, result port.SwapResult) (domain.State, error) {
	ok, err := o.transition(ctx, orderID, domain.StateSubmitted, domain.StateConfirmed)
	if err != nil || !ok {
		return "", err
	}
	price := result.ExecutedPrice
	o.events.Publish(orderID, domain.StateConfirmed, &domain.EventData{TxHash: result.TxHash, ExecutionPrice: &price})
	return domain.StateConfirmed, nil
}
