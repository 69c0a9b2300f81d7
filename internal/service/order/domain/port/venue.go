package port

import (
	"context"

	"github.com/shopspring/decimal"

	"swapflow/internal/service/order/domain"
)

// QuoteRequest 是询价参数
type QuoteRequest struct {
	SourceAsset string
	DestAsset   string
	Amount      decimal.Decimal
}

// Quote 是场所返回的报价
type Quote struct {
	Price   decimal.Decimal
	FeeRate decimal.Decimal
}

// SwapRequest 是兑换执行参数。
// IdempotencyKey 相同的请求只会在场所侧执行一次。
type SwapRequest struct {
	IdempotencyKey string
	SourceAsset    string
	DestAsset      string
	Amount         decimal.Decimal
	Slippage       decimal.Decimal
}

// SwapResult 是兑换成功的结果
type SwapResult struct {
	TxHash        string
	ExecutedPrice decimal.Decimal
}

// Venue 是流动性场所的出站端口。
// ExecuteSwap 在滑点超限时返回 domain.KindFatal 错误, 其他失败为可重试错误。
type Venue interface {
	ID() domain.VenueID
	Quote(ctx context.Context, req QuoteRequest) (Quote, error)
	ExecuteSwap(ctx context.Context, req SwapRequest) (SwapResult, error)
}

// VenueDirectory 是启动时构建好的静态场所查找表
type VenueDirectory interface {
	// Preferred 按偏好顺序返回所有场所
	Preferred() []Venue
	Lookup(id domain.VenueID) (Venue, error)
}
