package application

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"swapflow/internal/service/order/domain"
)

func newService(t *testing.T, rule string) (*OrderApplicationService, *recordingScheduler, domain.OrderRepository) {
	t.Helper()
	repo := newSQLiteRepo(t)
	sched := &recordingScheduler{}
	policy, err := NewAdmissionPolicy(rule)
	require.NoError(t, err)
	return NewOrderApplicationService(repo, sched, policy, testTracer), sched, repo
}

func TestSubmitOrder_PersistsAndSchedules(t *testing.T) {
	svc, sched, repo := newService(t, "")
	ctx := context.Background()

	resp, err := svc.SubmitOrder(ctx, CreateOrderRequest{SourceAsset: "SOL", DestAsset: "USDC", Amount: d("2.5")})
	require.NoError(t, err)
	assert.Equal(t, domain.StatePending, resp.Status)
	assert.Equal(t, []string{resp.OrderID}, sched.enqueued())

	o, err := repo.FindByID(ctx, resp.OrderID)
	require.NoError(t, err)
	assert.True(t, o.Payload.Slippage.Equal(d("0.01")), "default slippage")
	assert.True(t, o.Payload.Amount.Equal(d("2.5")))
}

func TestSubmitOrder_ExplicitSlippage(t *testing.T) {
	svc, _, repo := newService(t, "")
	slippage := d("0.05")
	resp, err := svc.SubmitOrder(context.Background(), CreateOrderRequest{
		SourceAsset: "SOL", DestAsset: "USDC", Amount: d("1"), Slippage: &slippage,
	})
	require.NoError(t, err)

	o, err := repo.FindByID(context.Background(), resp.OrderID)
	require.NoError(t, err)
	assert.True(t, o.Payload.Slippage.Equal(slippage))
}

func TestSubmitOrder_RejectsInvalidPayload(t *testing.T) {
	svc, sched, _ := newService(t, "")
	_, err := svc.SubmitOrder(context.Background(), CreateOrderRequest{SourceAsset: "SOL", DestAsset: "SOL", Amount: d("1")})
	assert.ErrorIs(t, err, domain.ErrInvalidPayload)

	_, err = svc.SubmitOrder(context.Background(), CreateOrderRequest{SourceAsset: "SOL", DestAsset: "USDC", Amount: decimal.Zero})
	assert.ErrorIs(t, err, domain.ErrInvalidPayload)
	assert.Empty(t, sched.enqueued())
}

func TestSubmitOrder_AdmissionPolicy(t *testing.T) {
	svc, sched, repo := newService(t, `amount <= 100.0 && dest_asset != "SCAM"`)
	ctx := context.Background()

	_, err := svc.SubmitOrder(ctx, CreateOrderRequest{SourceAsset: "SOL", DestAsset: "USDC", Amount: d("150")})
	assert.ErrorIs(t, err, domain.ErrRejectedByPolicy)
	_, err = svc.SubmitOrder(ctx, CreateOrderRequest{SourceAsset: "SOL", DestAsset: "SCAM", Amount: d("1")})
	assert.ErrorIs(t, err, domain.ErrRejectedByPolicy)
	assert.Empty(t, sched.enqueued())

	recent, err := repo.ListRecent(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, recent, "rejected orders are never stored")
}

func TestSubmitOrder_BeforeEnqueueHook(t *testing.T) {
	svc, sched, _ := newService(t, "")
	var hooked string
	var enqueuedAtHook int
	resp, err := svc.SubmitOrder(context.Background(),
		CreateOrderRequest{SourceAsset: "SOL", DestAsset: "USDC", Amount: d("1")},
		WithBeforeEnqueue(func(id string) {
			hooked = id
			enqueuedAtHook = len(sched.enqueued())
		}))
	require.NoError(t, err)
	assert.Equal(t, resp.OrderID, hooked)
	assert.Equal(t, 0, enqueuedAtHook)
	assert.Len(t, sched.enqueued(), 1)
}

func TestGetOrder_IncludesExecutions(t *testing.T) {
	h := newHarness(t)
	svc := NewOrderApplicationService(h.repo, h.sched, nil, testTracer)
	o := h.seed(t)
	for i := 0; i < 3; i++ {
		h.step(t, o.ID)
	}

	view, err := svc.GetOrder(context.Background(), o.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StateConfirmed, view.Status)
	require.Len(t, view.Executions, 1)
	assert.Equal(t, domain.VenueRaydium, view.Executions[0].ChosenVenue)
	assert.NotNil(t, view.Executions[0].Routing)
	assert.NotEmpty(t, view.Executions[0].TxHash)

	_, err = svc.GetOrder(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrOrderNotFound)
}

func TestListOrders(t *testing.T) {
	svc, _, _ := newService(t, "")
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := svc.SubmitOrder(ctx, CreateOrderRequest{SourceAsset: "SOL", DestAsset: "USDC", Amount: d("1")})
		require.NoError(t, err)
	}

	all, err := svc.ListOrders(ctx, "", 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	limited, err := svc.ListOrders(ctx, "", 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)

	pending, err := svc.ListOrders(ctx, "pending", 10)
	require.NoError(t, err)
	assert.Len(t, pending, 3)

	confirmed, err := svc.ListOrders(ctx, "confirmed", 10)
	require.NoError(t, err)
	assert.Empty(t, confirmed)

	_, err = svc.ListOrders(ctx, "done", 10)
	assert.ErrorIs(t, err, domain.ErrUnknownState)

	require.NoError(t, svc.Ready(ctx))
}
