// internal/service/order/interfaces/step_consumer.go
package interfaces

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"

	"swapflow/internal/pkg/logger"
	"swapflow/internal/pkg/mq"
	"swapflow/internal/service/order/domain"
	"swapflow/internal/service/order/domain/port"
)

// MessageReader 是 *kafka.Reader 的最小子集
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// FailureRouter 接收处理失败的消息
type FailureRouter interface {
	Handle(ctx context.Context, msg kafka.Message, cause error) error
}

// StepConsumerAdapter 是一个驱动适配器，它监听任务主题并驱动编排器推进订单。
// 同一个消费组内启动多个实例即可获得并发 worker。
type StepConsumerAdapter struct {
	name           string
	reader         MessageReader
	runner         port.StepRunner
	failureHandler FailureRouter

	wg      sync.WaitGroup
	stopped atomic.Bool
	now     func() time.Time
}

// NewStepConsumerAdapter 创建一个新的Kafka消费者适配器。
func NewStepConsumerAdapter(name string, reader MessageReader, runner port.StepRunner, failureHandler FailureRouter) *StepConsumerAdapter {
	return &StepConsumerAdapter{
		name:           name,
		reader:         reader,
		runner:         runner,
		failureHandler: failureHandler,
		now:            time.Now,
	}
}

// Start 开始监听Kafka主题。这是一个长期运行的方法。
func (a *StepConsumerAdapter) Start(ctx context.Context) error {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		logger.Ctx(ctx).Info().Str("consumer", a.name).Msg("✅ step consumer started")
		for !a.stopped.Load() {
			if !a.consumeOne(ctx) {
				return
			}
		}
	}()
	return nil
}

// consumeOne 处理一条消息; 返回 false 表示应当退出
func (a *StepConsumerAdapter) consumeOne(ctx context.Context) bool {
	// 我们使用FetchMessage而不是ReadMessage，以便更好地控制提交时机
	msg, err := a.reader.FetchMessage(ctx)
	if err != nil {
		if ctx.Err() != nil || a.stopped.Load() {
			logger.Ctx(ctx).Info().Str("consumer", a.name).Msg("🛑 step consumer shutting down")
			return false
		}
		logger.Ctx(ctx).Error().Err(err).Str("consumer", a.name).Msg("could not fetch message, retrying")
		if !sleepCtx(ctx, time.Second) {
			return false
		}
		return true
	}

	// 重试消息在最早处理时间之前不处理
	if notBefore := mq.NotBeforeOf(msg); !notBefore.IsZero() {
		if wait := notBefore.Sub(a.now()); wait > 0 && !sleepCtx(ctx, wait) {
			return false
		}
	}

	msgCtx := mq.ExtractTraceContext(ctx, msg)
	if procErr := a.processMessage(msgCtx, msg); procErr != nil {
		if err := a.failureHandler.Handle(msgCtx, msg, procErr); err != nil {
			logger.Ctx(msgCtx).Error().Err(err).Str("key", string(msg.Key)).
				Msg("failed to hand off failed step, stale order sweeper will pick it up")
		}
	}

	// 无论成功或失败（已移交），都提交Offset
	if err := a.reader.CommitMessages(ctx, msg); err != nil {
		logger.Ctx(ctx).Error().Err(err).Msg("failed to commit message")
	}
	return true
}

// Stop 优雅地停止消费者。
func (a *StepConsumerAdapter) Stop(ctx context.Context) {
	a.stopped.Store(true)
	_ = a.reader.Close()
	a.wg.Wait()
	logger.Ctx(ctx).Info().Str("consumer", a.name).Msg("✅ step consumer stopped")
}

// processMessage 反序列化消息并调用编排器。
func (a *StepConsumerAdapter) processMessage(ctx context.Context, msg kafka.Message) error {
	var job domain.AdvanceOrderJob
	if err := json.Unmarshal(msg.Value, &job); err != nil || job.OrderID == "" {
		logger.Ctx(ctx).Error().Err(err).Str("value", string(msg.Value)).Msg("dropping malformed step message")
		return nil
	}
	return a.runner.ProcessStep(ctx, job.OrderID)
}

// ExhaustionHook 把队列的重试耗尽回调接到编排器
func ExhaustionHook(runner port.StepRunner) mq.ExhaustedFunc {
	return func(ctx context.Context, msg kafka.Message, cause error) {
		var job domain.AdvanceOrderJob
		if err := json.Unmarshal(msg.Value, &job); err != nil || job.OrderID == "" {
			job.OrderID = string(msg.Key)
		}
		if err := runner.HandleRetryExhausted(ctx, job.OrderID, cause); err != nil {
			logger.Ctx(ctx).Error().Err(err).Str("order_id", job.OrderID).Msg("failed to fail order after retry exhaustion")
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
