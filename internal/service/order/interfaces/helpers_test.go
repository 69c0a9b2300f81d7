package interfaces

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	"swapflow/internal/pkg/mq"
	"swapflow/internal/service/order/application"
	"swapflow/internal/service/order/domain/port"
	"swapflow/internal/service/order/infrastructure"
	"swapflow/internal/service/order/infrastructure/adapter"
	"swapflow/internal/service/order/infrastructure/venue"
	"swapflow/internal/service/order/lifecycle"
)

var testTracer = noop.NewTracerProvider().Tracer("test")

type recordingScheduler struct {
	mu  sync.Mutex
	ids []string
}

func (s *recordingScheduler) Enqueue(_ context.Context, orderID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ids = append(s.ids, orderID)
	return nil
}

func newTestRepo(t *testing.T) *infrastructure.GormOrderRepository {
	t.Helper()
	db, err := infrastructure.OpenDatabase(infrastructure.DBOptions{
		Driver:       "sqlite",
		DSN:          "file:" + uuid.NewString() + "?mode=memory&cache=shared",
		MaxOpenConns: 1,
		LogLevel:     "silent",
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	repo := infrastructure.NewGormOrderRepository(db)
	require.NoError(t, repo.AutoMigrate())
	return repo
}

func newTestService(t *testing.T, repo *infrastructure.GormOrderRepository, scheduler port.StepScheduler, rule string) *application.OrderApplicationService {
	t.Helper()
	policy, err := application.NewAdmissionPolicy(rule)
	require.NoError(t, err)
	return application.NewOrderApplicationService(repo, scheduler, policy, testTracer)
}

func instantVenue(cfg venue.MockConfig) *venue.MockVenue {
	cfg.QuoteLatency = 0
	cfg.SwapLatencyMin, cfg.SwapLatencyMax = 0, 0
	cfg.FailureRate = 0
	cfg.ExecVarianceMin, cfg.ExecVarianceMax = 1, 1
	cfg.Seed = 7
	return venue.NewMockVenue(cfg)
}

// liveStack 是带真实本地队列与编排器的完整后端
type liveStack struct {
	service  *application.OrderApplicationService
	notifier *lifecycle.Notifier
	queue    *adapter.LocalStepQueue
}

func newLiveStack(t *testing.T) *liveStack {
	t.Helper()
	repo := newTestRepo(t)
	notifier := lifecycle.New()

	opts := adapter.DefaultLocalQueueOptions()
	opts.PruneInterval = 0
	opts.Policy = mq.RetryPolicy{MaxAttempts: 3, BaseDelay: 5 * time.Millisecond, MaxDelay: 20 * time.Millisecond}
	queue := adapter.NewLocalStepQueue(opts)

	registry, err := venue.NewRegistry(venue.DefaultPreference,
		instantVenue(venue.RaydiumConfig()), instantVenue(venue.MeteoraConfig()))
	require.NoError(t, err)
	queue.Attach(application.NewOrchestrator(repo, registry, notifier, queue, testTracer, nil))
	require.NoError(t, queue.Start(context.Background()))
	t.Cleanup(func() { queue.Stop(context.Background()) })

	return &liveStack{service: newTestService(t, repo, queue, ""), notifier: notifier, queue: queue}
}
