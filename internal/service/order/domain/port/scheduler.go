package port

import "context"

// StepScheduler 是持久化任务队列的出站端口, 每个任务代表"推进订单一步"。
type StepScheduler interface {
	Enqueue(ctx context.Context, orderID string) error
}

// StepRunner 是任务队列的任务体
type StepRunner interface {
	ProcessStep(ctx context.Context, orderID string) error
	// HandleRetryExhausted 在重试次数耗尽后由队列回调
	HandleRetryExhausted(ctx context.Context, orderID string, cause error) error
}
