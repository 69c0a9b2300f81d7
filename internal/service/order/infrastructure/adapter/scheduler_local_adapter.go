package adapter

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"swapflow/internal/pkg/logger"
	"swapflow/internal/pkg/mq"
	"swapflow/internal/service/order/domain/port"
)

// LocalQueueOptions 是进程内任务队列的参数
type LocalQueueOptions struct {
	Concurrency      int
	Policy           mq.RetryPolicy
	RemoveOnComplete time.Duration // 已完成任务记录的保留时长
	RemoveOnFail     time.Duration // 最终失败任务记录的保留时长
	PruneInterval    time.Duration
}

func DefaultLocalQueueOptions() LocalQueueOptions {
	return LocalQueueOptions{
		Concurrency:      10,
		Policy:           mq.DefaultRetryPolicy(),
		RemoveOnComplete: time.Hour,
		RemoveOnFail:     24 * time.Hour,
		PruneInterval:    time.Minute,
	}
}

type localJob struct {
	id      string
	orderID string
	attempt int
}

type jobRecord struct {
	orderID    string
	attempts   int
	err        string
	finishedAt time.Time
}

// QueueStats 是队列的即时快照
type QueueStats struct {
	Waiting   int
	Delayed   int
	Active    int
	Completed int
	Failed    int
}

// LocalStepQueue 是 port.StepScheduler 的进程内实现:
// 无界等待队列 + 固定大小的 worker 池, 失败后按指数退避重投, 用尽次数后回调 HandleRetryExhausted。
type LocalStepQueue struct {
	opts   LocalQueueOptions
	runner port.StepRunner

	mu        sync.Mutex
	waiting   []localJob
	delayed   int
	active    int
	completed map[string]jobRecord
	failed    map[string]jobRecord
	signal    chan struct{}
	idle      *sync.Cond

	cancel context.CancelFunc
	wg     sync.WaitGroup
	now    func() time.Time
}

var _ port.StepScheduler = (*LocalStepQueue)(nil)

func NewLocalStepQueue(opts LocalQueueOptions) *LocalStepQueue {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	if opts.Policy.MaxAttempts <= 0 {
		opts.Policy = mq.DefaultRetryPolicy()
	}
	q := &LocalStepQueue{
		opts:      opts,
		completed: make(map[string]jobRecord),
		failed:    make(map[string]jobRecord),
		signal:    make(chan struct{}, 1),
		now:       time.Now,
	}
	q.idle = sync.NewCond(&q.mu)
	return q
}

// Attach 绑定任务体, 必须在 Start 之前调用
func (q *LocalStepQueue) Attach(runner port.StepRunner) {
	q.runner = runner
}

func (q *LocalStepQueue) Enqueue(_ context.Context, orderID string) error {
	q.push(localJob{id: uuid.NewString(), orderID: orderID, attempt: 1})
	return nil
}

func (q *LocalStepQueue) push(job localJob) {
	q.mu.Lock()
	q.waiting = append(q.waiting, job)
	q.mu.Unlock()
	select {
	case q.signal <- struct{}{}:
	default:
	}
}

func (q *LocalStepQueue) Start(ctx context.Context) error {
	if q.runner == nil {
		return errors.New("local step queue: no runner attached")
	}
	ctx, q.cancel = context.WithCancel(ctx)
	for i := 0; i < q.opts.Concurrency; i++ {
		q.wg.Add(1)
		go q.work(ctx)
	}
	if q.opts.PruneInterval > 0 {
		q.wg.Add(1)
		go q.janitor(ctx)
	}
	logger.Ctx(ctx).Info().Int("concurrency", q.opts.Concurrency).Msg("✅ local step queue started")
	return nil
}

func (q *LocalStepQueue) Stop(ctx context.Context) {
	if q.cancel != nil {
		q.cancel()
	}
	q.wg.Wait()
	logger.Ctx(ctx).Info().Msg("✅ local step queue stopped")
}

func (q *LocalStepQueue) work(ctx context.Context) {
	defer q.wg.Done()
	for {
		job, ok := q.next(ctx)
		if !ok {
			return
		}
		q.run(ctx, job)
	}
}

func (q *LocalStepQueue) next(ctx context.Context) (localJob, bool) {
	for {
		q.mu.Lock()
		if len(q.waiting) > 0 {
			job := q.waiting[0]
			q.waiting = q.waiting[1:]
			q.active++
			remaining := len(q.waiting)
			q.mu.Unlock()
			// 还有积压时唤醒其他 worker
			if remaining > 0 {
				select {
				case q.signal <- struct{}{}:
				default:
				}
			}
			return job, true
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return localJob{}, false
		case <-q.signal:
		}
	}
}

func (q *LocalStepQueue) run(ctx context.Context, job localJob) {
	err := q.runner.ProcessStep(ctx, job.orderID)

	q.mu.Lock()
	defer func() {
		q.active--
		q.idle.Broadcast()
		q.mu.Unlock()
	}()

	if err == nil {
		q.completed[job.id] = jobRecord{orderID: job.orderID, attempts: job.attempt, finishedAt: q.now()}
		return
	}
	if q.opts.Policy.Exhausted(job.attempt) {
		q.mu.Unlock()
		if exErr := q.runner.HandleRetryExhausted(ctx, job.orderID, err); exErr != nil {
			logger.Ctx(ctx).Error().Err(exErr).Str("order_id", job.orderID).Msg("failed to handle retry exhaustion")
		}
		q.mu.Lock()
		q.failed[job.id] = jobRecord{orderID: job.orderID, attempts: job.attempt, err: err.Error(), finishedAt: q.now()}
		return
	}

	delay := q.opts.Policy.Backoff(job.attempt)
	logger.Ctx(ctx).Warn().Err(err).Str("order_id", job.orderID).Int("attempt", job.attempt).
		Dur("backoff", delay).Msg("step failed, scheduling retry")
	q.delayed++
	retry := localJob{id: job.id, orderID: job.orderID, attempt: job.attempt + 1}
	time.AfterFunc(delay, func() {
		q.mu.Lock()
		q.delayed--
		q.mu.Unlock()
		q.push(retry)
	})
}

func (q *LocalStepQueue) janitor(ctx context.Context) {
	defer q.wg.Done()
	ticker := time.NewTicker(q.opts.PruneInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			q.Prune()
		}
	}
}

// Prune 清理超过保留时长的任务记录
func (q *LocalStepQueue) Prune() {
	q.mu.Lock()
	defer q.mu.Unlock()
	now := q.now()
	for id, rec := range q.completed {
		if now.Sub(rec.finishedAt) > q.opts.RemoveOnComplete {
			delete(q.completed, id)
		}
	}
	for id, rec := range q.failed {
		if now.Sub(rec.finishedAt) > q.opts.RemoveOnFail {
			delete(q.failed, id)
		}
	}
}

func (q *LocalStepQueue) Stats() QueueStats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return QueueStats{
		Waiting:   len(q.waiting),
		Delayed:   q.delayed,
		Active:    q.active,
		Completed: len(q.completed),
		Failed:    len(q.failed),
	}
}

// WaitIdle 阻塞直到没有等待、延迟或执行中的任务, 或 ctx 结束
func (q *LocalStepQueue) WaitIdle(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			q.mu.Lock()
			q.idle.Broadcast()
			q.mu.Unlock()
		case <-done:
		}
	}()
	defer close(done)

	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.waiting) > 0 || q.delayed > 0 || q.active > 0 {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		q.idle.Wait()
	}
	return nil
}
