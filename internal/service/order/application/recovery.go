// internal/service/order/application/recovery.go
package application

import (
	"context"
	"sync"
	"time"

	"swapflow/internal/pkg/logger"
	"swapflow/internal/service/order/domain"
	"swapflow/internal/service/order/domain/port"
)

// StaleOrderSweeper 定期把长时间未推进的非终态订单重新入队,
// 用于兜底丢失的任务 (例如迁移成功后、入队前进程崩溃)。
type StaleOrderSweeper struct {
	repo       domain.OrderRepository
	scheduler  port.StepScheduler
	locker     port.Locker
	interval   time.Duration
	staleAfter time.Duration
	batchSize  int
	now        func() time.Time

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewStaleOrderSweeper(repo domain.OrderRepository, scheduler port.StepScheduler, locker port.Locker,
	interval, staleAfter time.Duration, batchSize int) *StaleOrderSweeper {
	if locker == nil {
		locker = NewLocalLocker()
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	return &StaleOrderSweeper{
		repo:       repo,
		scheduler:  scheduler,
		locker:     locker,
		interval:   interval,
		staleAfter: staleAfter,
		batchSize:  batchSize,
		now:        time.Now,
	}
}

// SweepOnce 持锁扫描一次, 返回重新入队的订单数
func (s *StaleOrderSweeper) SweepOnce(ctx context.Context) (int, error) {
	if err := s.locker.Lock(); err != nil {
		return 0, err
	}
	defer func() {
		if err := s.locker.Unlock(); err != nil {
			logger.Ctx(ctx).Error().Err(err).Msg("failed to release sweeper lock")
		}
	}()

	cutoff := s.now().Add(-s.staleAfter)
	orders, err := s.repo.ListStale(ctx, domain.NonTerminalStates(), cutoff, s.batchSize)
	if err != nil {
		return 0, err
	}
	requeued := 0
	for _, o := range orders {
		if err := s.scheduler.Enqueue(ctx, o.ID); err != nil {
			logger.Ctx(ctx).Error().Err(err).Str("order_id", o.ID).Msg("failed to requeue stale order")
			continue
		}
		requeued++
	}
	if requeued > 0 {
		logger.Ctx(ctx).Warn().Int("count", requeued).Time("cutoff", cutoff).Msg("requeued stale orders")
	}
	return requeued, nil
}

// Start 启动后台扫描
func (s *StaleOrderSweeper) Start(ctx context.Context) error {
	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := s.SweepOnce(ctx); err != nil && ctx.Err() == nil {
					logger.Ctx(ctx).Error().Err(err).Msg("stale order sweep failed")
				}
			}
		}
	}()
	logger.Ctx(ctx).Info().Dur("interval", s.interval).Dur("stale_after", s.staleAfter).Msg("✅ stale order sweeper started")
	return nil
}

func (s *StaleOrderSweeper) Stop(ctx context.Context) {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	logger.Ctx(ctx).Info().Msg("✅ stale order sweeper stopped")
}

// localLocker 是单实例部署时的进程内锁
type localLocker struct {
	mu sync.Mutex
}

func NewLocalLocker() port.Locker {
	return &localLocker{}
}

func (l *localLocker) Lock() error {
	l.mu.Lock()
	return nil
}

func (l *localLocker) Unlock() error {
	l.mu.Unlock()
	return nil
}
