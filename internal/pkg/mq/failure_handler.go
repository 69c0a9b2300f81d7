// internal/pkg/mq/failure_handler.go
package mq

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"

	"swapflow/internal/pkg/logger"
)

// MessageWriter 是 *kafka.Writer 的最小子集
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// ExhaustedFunc 在消息用尽重试次数时回调
type ExhaustedFunc func(ctx context.Context, msg kafka.Message, cause error)

// FailureHandler 处理消费失败的消息:
// 未用尽重试的写入重试主题 (带下一次 attempt 与最早处理时间), 用尽的写入死信主题。
type FailureHandler struct {
	policy      RetryPolicy
	retryWriter MessageWriter
	dltWriter   MessageWriter
	onExhausted ExhaustedFunc
	now         func() time.Time
}

func NewFailureHandler(policy RetryPolicy, retryWriter, dltWriter MessageWriter, onExhausted ExhaustedFunc) *FailureHandler {
	return &FailureHandler{
		policy:      policy,
		retryWriter: retryWriter,
		dltWriter:   dltWriter,
		onExhausted: onExhausted,
		now:         time.Now,
	}
}

// Handle 根据消息已尝试次数决定重试或进入死信
func (h *FailureHandler) Handle(ctx context.Context, msg kafka.Message, cause error) error {
	attempt := AttemptOf(msg)
	headers := cloneHeaders(msg.Headers)
	headers = SetHeader(headers, HeaderExceptionFqcn, fmt.Sprintf("%T", cause))
	headers = SetHeader(headers, HeaderExceptionMessage, cause.Error())

	if !h.policy.Exhausted(attempt) {
		delay := h.policy.Backoff(attempt)
		headers = SetHeader(headers, HeaderAttempt, strconv.Itoa(attempt+1))
		headers = SetHeader(headers, HeaderNotBefore, h.now().Add(delay).UTC().Format(time.RFC3339Nano))
		retry := kafka.Message{Key: msg.Key, Value: msg.Value, Headers: headers}
		InjectTraceContext(ctx, &retry.Headers)

		logger.Ctx(ctx).Warn().Err(cause).
			Str("key", string(msg.Key)).
			Int("attempt", attempt).
			Dur("backoff", delay).
			Msg("message processing failed, scheduling retry")
		return h.retryWriter.WriteMessages(ctx, retry)
	}

	logger.Ctx(ctx).Error().Err(cause).
		Str("key", string(msg.Key)).
		Int("attempt", attempt).
		Msg("retry limit reached, moving message to dead letter topic")
	if h.onExhausted != nil {
		h.onExhausted(ctx, msg, cause)
	}

	headers = SetHeader(headers, HeaderOriginalTopic, msg.Topic)
	headers = SetHeader(headers, HeaderOriginalPartition, strconv.Itoa(msg.Partition))
	headers = SetHeader(headers, HeaderOriginalOffset, strconv.FormatInt(msg.Offset, 10))
	dead := kafka.Message{Key: msg.Key, Value: msg.Value, Headers: headers}
	return h.dltWriter.WriteMessages(ctx, dead)
}

func cloneHeaders(in []kafka.Header) []kafka.Header {
	out := make([]kafka.Header, len(in))
	copy(out, in)
	return out
}
