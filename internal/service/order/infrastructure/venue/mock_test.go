package venue

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"swapflow/internal/service/order/domain"
	"swapflow/internal/service/order/domain/port"
)

func instantConfig() MockConfig {
	cfg := RaydiumConfig()
	cfg.QuoteLatency = 0
	cfg.SwapLatencyMin = 0
	cfg.SwapLatencyMax = 0
	cfg.FailureRate = 0
	cfg.Seed = 42
	return cfg
}

func swapRequest(key string) port.SwapRequest {
	return port.SwapRequest{
		IdempotencyKey: key,
		SourceAsset:    "SOL",
		DestAsset:      "USDC",
		Amount:         decimal.NewFromInt(1),
		Slippage:       decimal.RequireFromString("0.01"),
	}
}

func TestMockVenue_QuoteWithinVariance(t *testing.T) {
	v := NewMockVenue(instantConfig())
	for i := 0; i < 50; i++ {
		q, err := v.Quote(context.Background(), port.QuoteRequest{SourceAsset: "SOL", DestAsset: "USDC", Amount: decimal.NewFromInt(1)})
		require.NoError(t, err)
		assert.True(t, q.Price.GreaterThanOrEqual(decimal.NewFromInt(98)), q.Price.String())
		assert.True(t, q.Price.LessThanOrEqual(decimal.NewFromInt(102)), q.Price.String())
		assert.True(t, q.FeeRate.Equal(decimal.RequireFromString("0.003")))
	}
}

func TestMockVenue_QuoteHonoursCancellation(t *testing.T) {
	cfg := instantConfig()
	cfg.QuoteLatency = time.Minute
	v := NewMockVenue(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := v.Quote(ctx, port.QuoteRequest{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMockVenue_SwapSucceeds(t *testing.T) {
	cfg := instantConfig()
	cfg.ExecVarianceMin, cfg.ExecVarianceMax = 1, 1
	v := NewMockVenue(cfg)
	v.now = func() time.Time { return time.UnixMilli(1700000000000) }

	res, err := v.ExecuteSwap(context.Background(), swapRequest(""))
	require.NoError(t, err)
	assert.True(t, res.ExecutedPrice.Equal(decimal.NewFromInt(100)))
	assert.True(t, strings.HasPrefix(res.TxHash, "mock_raydium_1700000000000_"), res.TxHash)
	assert.Len(t, res.TxHash, len("mock_raydium_1700000000000_")+9)
}

func TestMockVenue_SlippageIsFatal(t *testing.T) {
	cfg := instantConfig()
	cfg.ExecVarianceMin, cfg.ExecVarianceMax = 0.97, 0.97
	v := NewMockVenue(cfg)

	_, err := v.ExecuteSwap(context.Background(), swapRequest("attempt-1"))
	require.Error(t, err)
	assert.True(t, domain.IsFatal(err))
	assert.Equal(t, "Slippage exceeded: executed price 97.0000 below minimum 99.0000", err.Error())
}

func TestMockVenue_NetworkFailureIsRetriable(t *testing.T) {
	cfg := instantConfig()
	cfg.FailureRate = 1
	v := NewMockVenue(cfg)

	_, err := v.ExecuteSwap(context.Background(), swapRequest("attempt-1"))
	require.Error(t, err)
	assert.False(t, domain.IsFatal(err))
	assert.Equal(t, "Network timeout on Raydium", err.Error())
}

func TestMockVenue_ReplaysByIdempotencyKey(t *testing.T) {
	cfg := instantConfig()
	v := NewMockVenue(cfg)

	first, err := v.ExecuteSwap(context.Background(), swapRequest("attempt-1"))
	require.NoError(t, err)

	// 即便之后场所开始报错, 同一个幂等键也只返回第一次的结果
	v.cfg.FailureRate = 1
	again, err := v.ExecuteSwap(context.Background(), swapRequest("attempt-1"))
	require.NoError(t, err)
	assert.Equal(t, first.TxHash, again.TxHash)
	assert.True(t, first.ExecutedPrice.Equal(again.ExecutedPrice))

	_, err = v.ExecuteSwap(context.Background(), swapRequest("attempt-2"))
	assert.Error(t, err)
}

func TestMockVenue_SwapLatencyWithinBounds(t *testing.T) {
	cfg := instantConfig()
	cfg.SwapLatencyMin = 2 * time.Second
	cfg.SwapLatencyMax = 3 * time.Second
	v := NewMockVenue(cfg)
	var slept time.Duration
	v.sleep = func(d time.Duration) { slept = d }

	_, err := v.ExecuteSwap(context.Background(), swapRequest(""))
	require.NoError(t, err)
	assert.GreaterOrEqual(t, slept, 2*time.Second)
	assert.LessOrEqual(t, slept, 3*time.Second)
}
