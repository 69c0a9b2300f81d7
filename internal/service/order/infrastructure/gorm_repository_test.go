package infrastructure

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"swapflow/internal/service/order/domain"
)

func newTestRepo(t *testing.T) *GormOrderRepository {
	t.Helper()
	db, err := OpenDatabase(DBOptions{
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
	repo := NewGormOrderRepository(db)
	require.NoError(t, repo.AutoMigrate())
	return repo
}

func seedOrder(t *testing.T, repo *GormOrderRepository, status domain.State, updatedAt time.Time) *domain.Order {
	t.Helper()
	o, err := domain.NewOrder(domain.Payload{
		SourceAsset: "SOL",
		DestAsset:   "USDC",
		Amount:      decimal.RequireFromString("1.5"),
		Slippage:    decimal.RequireFromString("0.01"),
	})
	require.NoError(t, err)
	o.Status = status
	if !updatedAt.IsZero() {
		o.CreatedAt = updatedAt
		o.UpdatedAt = updatedAt
	}
	require.NoError(t, repo.CreateOrder(context.Background(), o))
	return o
}

func TestGormOrderRepository_CreateAndFind(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	o := seedOrder(t, repo, domain.StatePending, time.Time{})

	got, err := repo.FindByID(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, o.ID, got.ID)
	assert.Equal(t, domain.StatePending, got.Status)
	assert.Equal(t, "SOL", got.Payload.SourceAsset)
	assert.True(t, got.Payload.Amount.Equal(decimal.RequireFromString("1.5")))
	assert.True(t, got.Payload.Slippage.Equal(decimal.RequireFromString("0.01")))

	_, err = repo.FindByID(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrOrderNotFound)

	require.NoError(t, repo.Ping(ctx))
}

func TestGormOrderRepository_TransitionIsConditional(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	o := seedOrder(t, repo, domain.StatePending, time.Time{})

	ok, err := repo.Transition(ctx, o.ID, domain.StatePending, domain.StateRouting)
	require.NoError(t, err)
	assert.True(t, ok)

	// 过期的 from 状态: 不报错, 只是没有生效
	ok, err = repo.Transition(ctx, o.ID, domain.StatePending, domain.StateRouting)
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := repo.FindByID(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StateRouting, got.Status)
}

func TestGormOrderRepository_TransitionRejectsIllegalEdges(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	o := seedOrder(t, repo, domain.StatePending, time.Time{})

	_, err := repo.Transition(ctx, o.ID, domain.StatePending, domain.StateSubmitted)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
	_, err = repo.Transition(ctx, o.ID, domain.StateConfirmed, domain.StateFailed)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestGormOrderRepository_ConcurrentTransitionSucceedsOnce(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	o := seedOrder(t, repo, domain.StateRouting, time.Time{})

	const workers = 8
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := repo.Transition(ctx, o.ID, domain.StateRouting, domain.StateBuilding)
			assert.NoError(t, err)
			if ok {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
}

func TestGormOrderRepository_ExecutionFieldsAreWriteOnce(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	o := seedOrder(t, repo, domain.StateRouting, time.Time{})

	attempt := domain.NewExecutionAttempt(o.ID, 1)
	require.NoError(t, repo.CreateExecution(ctx, attempt))

	first := domain.RoutingDecision{
		Chosen: domain.VenueRaydium,
		Quotes: []domain.VenueQuote{domain.NewVenueQuote(domain.VenueRaydium, decimal.NewFromInt(100), decimal.RequireFromString("0.003"))},
		Reason: "raydium is the only quoted venue (net 99.7)",
	}
	second := first
	second.Chosen = domain.VenueMeteora
	require.NoError(t, repo.UpdateExecutionRouting(ctx, attempt.ID, first))
	require.NoError(t, repo.UpdateExecutionRouting(ctx, attempt.ID, second))

	require.NoError(t, repo.UpdateExecutionSuccess(ctx, attempt.ID, "mock_raydium_1_aaa", decimal.RequireFromString("99.5")))
	require.NoError(t, repo.UpdateExecutionSuccess(ctx, attempt.ID, "mock_raydium_2_bbb", decimal.RequireFromString("98")))

	got, err := repo.LatestExecution(ctx, o.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, domain.VenueRaydium, got.ChosenVenue)
	require.NotNil(t, got.Routing)
	assert.Equal(t, domain.VenueRaydium, got.Routing.Chosen)
	assert.Equal(t, first.Reason, got.Routing.Reason)
	assert.Equal(t, "mock_raydium_1_aaa", got.TxHash)
	require.NotNil(t, got.ExecutionPrice)
	assert.True(t, got.ExecutionPrice.Equal(decimal.RequireFromString("99.5")))
	assert.Empty(t, got.FailureReason)
}

func TestGormOrderRepository_DuplicateAttemptNumber(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	o := seedOrder(t, repo, domain.StatePending, time.Time{})

	require.NoError(t, repo.CreateExecution(ctx, domain.NewExecutionAttempt(o.ID, 1)))
	err := repo.CreateExecution(ctx, domain.NewExecutionAttempt(o.ID, 1))
	assert.ErrorIs(t, err, domain.ErrDuplicateAttempt)

	require.NoError(t, repo.CreateExecution(ctx, domain.NewExecutionAttempt(o.ID, 2)))
	n, err := repo.CountExecutions(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	all, err := repo.ListExecutions(ctx, o.ID)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, 1, all[0].AttemptNumber)
	assert.Equal(t, 2, all[1].AttemptNumber)

	latest, err := repo.LatestExecution(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, latest.AttemptNumber)
}

func TestGormOrderRepository_LatestExecutionEmpty(t *testing.T) {
	repo := newTestRepo(t)
	got, err := repo.LatestExecution(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestGormOrderRepository_Listing(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	base := time.Now().UTC().Add(-time.Hour)

	stale := seedOrder(t, repo, domain.StateBuilding, base)
	seedOrder(t, repo, domain.StateConfirmed, base.Add(time.Minute))
	fresh := seedOrder(t, repo, domain.StatePending, base.Add(50*time.Minute))

	recent, err := repo.ListRecent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, fresh.ID, recent[0].ID)

	pending, err := repo.ListByStatus(ctx, domain.StatePending, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, fresh.ID, pending[0].ID)

	olds, err := repo.ListStale(ctx, domain.NonTerminalStates(), base.Add(30*time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, olds, 1, "terminal and fresh orders are not stale")
	assert.Equal(t, stale.ID, olds[0].ID)
}
