package application

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	"swapflow/internal/service/order/domain"
	"swapflow/internal/service/order/domain/port"
	"swapflow/internal/service/order/infrastructure"
	"swapflow/internal/service/order/infrastructure/venue"
)

var testTracer = noop.NewTracerProvider().Tracer("test")

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func newSQLiteRepo(t *testing.T) *infrastructure.GormOrderRepository {
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

// recordingScheduler 只记录入队的订单, 由测试手动驱动
type recordingScheduler struct {
	mu  sync.Mutex
	ids []string
	err error
}

func (s *recordingScheduler) Enqueue(_ context.Context, orderID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.ids = append(s.ids, orderID)
	return nil
}

func (s *recordingScheduler) enqueued() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.ids...)
}

// eventLog 实现 port.EventPublisher
type eventLog struct {
	mu     sync.Mutex
	events []domain.OrderEvent
}

func (l *eventLog) Publish(orderID string, status domain.State, data *domain.EventData) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, domain.OrderEvent{OrderID: orderID, Status: status, Data: data})
}

func (l *eventLog) statuses() []domain.State {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]domain.State, 0, len(l.events))
	for _, e := range l.events {
		out = append(out, e.Status)
	}
	return out
}

func (l *eventLog) last() domain.OrderEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.events[len(l.events)-1]
}

// stubVenue 返回固定报价, 兑换行为可替换
type stubVenue struct {
	id       domain.VenueID
	price    decimal.Decimal
	fee      decimal.Decimal
	quoteErr error
	swap     func(req port.SwapRequest) (port.SwapResult, error)
	swaps    atomic.Int32
}

func (v *stubVenue) ID() domain.VenueID { return v.id }

func (v *stubVenue) Quote(context.Context, port.QuoteRequest) (port.Quote, error) {
	if v.quoteErr != nil {
		return port.Quote{}, v.quoteErr
	}
	return port.Quote{Price: v.price, FeeRate: v.fee}, nil
}

func (v *stubVenue) ExecuteSwap(_ context.Context, req port.SwapRequest) (port.SwapResult, error) {
	v.swaps.Add(1)
	if v.swap != nil {
		return v.swap(req)
	}
	return port.SwapResult{TxHash: "mock_" + string(v.id) + "_1_abcdefghi", ExecutedPrice: v.price}, nil
}

type harness struct {
	repo    domain.OrderRepository
	sched   *recordingScheduler
	events  *eventLog
	raydium *stubVenue
	meteora *stubVenue
	orch    *Orchestrator
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		repo:    newSQLiteRepo(t),
		sched:   &recordingScheduler{},
		events:  &eventLog{},
		raydium: &stubVenue{id: domain.VenueRaydium, price: d("100"), fee: d("0.003")},
		meteora: &stubVenue{id: domain.VenueMeteora, price: d("99.5"), fee: d("0.002")},
	}
	h.rebuild(t)
	return h
}

// rebuild 在替换 repo 之后重新装配编排器
func (h *harness) rebuild(t *testing.T) {
	t.Helper()
	registry, err := venue.NewRegistry(venue.DefaultPreference, h.raydium, h.meteora)
	require.NoError(t, err)
	h.orch = NewOrchestrator(h.repo, registry, h.events, h.sched, testTracer, nil)
}

func (h *harness) seed(t *testing.T) *domain.Order {
	t.Helper()
	o, err := domain.NewOrder(domain.Payload{SourceAsset: "SOL", DestAsset: "USDC", Amount: d("1"), Slippage: d("0.01")})
	require.NoError(t, err)
	require.NoError(t, h.repo.CreateOrder(context.Background(), o))
	return o
}

func (h *harness) status(t *testing.T, id string) domain.State {
	t.Helper()
	o, err := h.repo.FindByID(context.Background(), id)
	require.NoError(t, err)
	return o.Status
}

// step 执行一次 ProcessStep 并要求成功
func (h *harness) step(t *testing.T, id string) {
	t.Helper()
	require.NoError(t, h.orch.ProcessStep(context.Background(), id))
}
