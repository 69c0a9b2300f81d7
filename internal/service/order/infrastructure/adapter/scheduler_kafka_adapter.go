package adapter

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"

	"swapflow/internal/pkg/mq"
	"swapflow/internal/service/order/domain"
	"swapflow/internal/service/order/domain/port"
)

// SchedulerKafkaAdapter 实现了 port.StepScheduler 接口, 把推进任务写入 Kafka。
type SchedulerKafkaAdapter struct {
	writer *kafka.Writer
}

var _ port.StepScheduler = (*SchedulerKafkaAdapter)(nil)

// NewSchedulerKafkaAdapter 创建一个新的任务调度器适配器。
func NewSchedulerKafkaAdapter(brokers []string, topic string) *SchedulerKafkaAdapter {
	return &SchedulerKafkaAdapter{writer: mq.NewKafkaWriter(brokers, topic)}
}

// Enqueue 以订单 ID 为 key 写入, 同一订单的任务落在同一分区。
func (a *SchedulerKafkaAdapter) Enqueue(ctx context.Context, orderID string) error {
	return a.writer.WriteMessages(ctx, NewStepMessage(ctx, orderID))
}

// Close 关闭底层的Kafka writer。
func (a *SchedulerKafkaAdapter) Close() error {
	return a.writer.Close()
}

// NewStepMessage 构造第一次投递的任务消息
func NewStepMessage(ctx context.Context, orderID string) kafka.Message {
	body, _ := json.Marshal(domain.AdvanceOrderJob{OrderID: orderID, EnqueuedAt: time.Now().UTC()})
	msg := kafka.Message{
		Key:     []byte(orderID),
		Value:   body,
		Headers: []kafka.Header{{Key: mq.HeaderAttempt, Value: []byte("1")}},
	}
	mq.InjectTraceContext(ctx, &msg.Headers)
	return msg
}
