// internal/service/order/infrastructure/venue/mock.go
package venue

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"swapflow/internal/service/order/domain"
	"swapflow/internal/service/order/domain/port"
)

// MockConfig 描述一个模拟流动性场所的价格与延迟特征
type MockConfig struct {
	ID        domain.VenueID
	BasePrice decimal.Decimal
	FeeRate   decimal.Decimal

	// 报价相对基准价的浮动区间, 例如 0.98 ~ 1.02
	QuoteVarianceMin float64
	QuoteVarianceMax float64
	// 成交价相对基准价的浮动区间
	ExecVarianceMin float64
	ExecVarianceMax float64

	QuoteLatency   time.Duration
	SwapLatencyMin time.Duration
	SwapLatencyMax time.Duration

	// 模拟网络抖动的可重试失败概率
	FailureRate float64
	Seed        uint64
}

// RaydiumConfig: 手续费 0.3%, 报价浮动 98%~102%
func RaydiumConfig() MockConfig {
	return MockConfig{
		ID:               domain.VenueRaydium,
		BasePrice:        decimal.NewFromInt(100),
		FeeRate:          decimal.RequireFromString("0.003"),
		QuoteVarianceMin: 0.98,
		QuoteVarianceMax: 1.02,
		ExecVarianceMin:  0.99,
		ExecVarianceMax:  1.01,
		QuoteLatency:     200 * time.Millisecond,
		SwapLatencyMin:   2 * time.Second,
		SwapLatencyMax:   3 * time.Second,
		FailureRate:      0.05,
	}
}

// MeteoraConfig: 手续费 0.2%, 报价浮动 97%~102%
func MeteoraConfig() MockConfig {
	cfg := RaydiumConfig()
	cfg.ID = domain.VenueMeteora
	cfg.FeeRate = decimal.RequireFromString("0.002")
	cfg.QuoteVarianceMin = 0.97
	return cfg
}

// MockVenue 是 port.Venue 的模拟实现
type MockVenue struct {
	cfg MockConfig

	mu       sync.Mutex
	rnd      *rand.Rand
	executed map[string]port.SwapResult
	sleep    func(time.Duration)
	now      func() time.Time
}

var _ port.Venue = (*MockVenue)(nil)

func NewMockVenue(cfg MockConfig) *MockVenue {
	seed := cfg.Seed
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	return &MockVenue{
		cfg:      cfg,
		rnd:      rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		executed: make(map[string]port.SwapResult),
		sleep:    time.Sleep,
		now:      time.Now,
	}
}

func (v *MockVenue) ID() domain.VenueID {
	return v.cfg.ID
}

// Quote 返回带随机浮动的报价
func (v *MockVenue) Quote(ctx context.Context, req port.QuoteRequest) (port.Quote, error) {
	if v.cfg.QuoteLatency > 0 {
		select {
		case <-ctx.Done():
			return port.Quote{}, ctx.Err()
		case <-time.After(v.cfg.QuoteLatency):
		}
	}
	factor := v.between(v.cfg.QuoteVarianceMin, v.cfg.QuoteVarianceMax)
	return port.Quote{
		Price:   v.cfg.BasePrice.Mul(decimal.NewFromFloat(factor)).Round(8),
		FeeRate: v.cfg.FeeRate,
	}, nil
}

// ExecuteSwap 模拟链上兑换。
// 调用一旦开始就不可取消; 同一个幂等键的成功结果会被直接重放。
func (v *MockVenue) ExecuteSwap(_ context.Context, req port.SwapRequest) (port.SwapResult, error) {
	if req.IdempotencyKey != "" {
		v.mu.Lock()
		prev, ok := v.executed[req.IdempotencyKey]
		v.mu.Unlock()
		if ok {
			return prev, nil
		}
	}

	if v.cfg.SwapLatencyMax > 0 {
		span := v.cfg.SwapLatencyMax - v.cfg.SwapLatencyMin
		delay := v.cfg.SwapLatencyMin
		if span > 0 {
			delay += time.Duration(v.between(0, float64(span)))
		}
		v.sleep(delay)
	}

	if v.roll() < v.cfg.FailureRate {
		return port.SwapResult{}, domain.Retriablef("Network timeout on %s", v.displayName())
	}

	executed := v.cfg.BasePrice.Mul(decimal.NewFromFloat(v.between(v.cfg.ExecVarianceMin, v.cfg.ExecVarianceMax))).Round(8)
	floor := v.cfg.BasePrice.Mul(decimal.NewFromInt(1).Sub(req.Slippage))
	if executed.LessThan(floor) {
		return port.SwapResult{}, domain.Fatalf("Slippage exceeded: executed price %s below minimum %s",
			executed.StringFixed(4), floor.StringFixed(4))
	}

	result := port.SwapResult{TxHash: v.txHash(), ExecutedPrice: executed}
	if req.IdempotencyKey != "" {
		v.mu.Lock()
		if prev, ok := v.executed[req.IdempotencyKey]; ok {
			v.mu.Unlock()
			return prev, nil
		}
		v.executed[req.IdempotencyKey] = result
		v.mu.Unlock()
	}
	return result, nil
}

func (v *MockVenue) txHash() string {
	const alphabet = "abcdefghijklmnopqrstuvwxyz0123456789"
	v.mu.Lock()
	defer v.mu.Unlock()
	var sb strings.Builder
	for i := 0; i < 9; i++ {
		sb.WriteByte(alphabet[v.rnd.IntN(len(alphabet))])
	}
	return fmt.Sprintf("mock_%s_%d_%s", v.cfg.ID, v.now().UnixMilli(), sb.String())
}

func (v *MockVenue) displayName() string {
	id := string(v.cfg.ID)
	if id == "" {
		return id
	}
	return strings.ToUpper(id[:1]) + id[1:]
}

func (v *MockVenue) between(lo, hi float64) float64 {
	if hi <= lo {
		return lo
	}
	return lo + v.roll()*(hi-lo)
}

func (v *MockVenue) roll() float64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.rnd.Float64()
}
