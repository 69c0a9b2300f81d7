// internal/service/order/domain/routing.go
package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// VenueID 是流动性场所的标识
type VenueID string

const (
	VenueRaydium VenueID = "raydium"
	VenueMeteora VenueID = "meteora"
)

// VenueQuote 是单个场所的报价及其扣费后的净价
type VenueQuote struct {
	Venue    VenueID         `json:"venue"`
	Price    decimal.Decimal `json:"price"`
	FeeRate  decimal.Decimal `json:"fee"`
	NetPrice decimal.Decimal `json:"netPrice"`
}

// RoutingDecision 是路由结果值对象, 记录后不可变
type RoutingDecision struct {
	Chosen VenueID      `json:"chosenVenue"`
	Quotes []VenueQuote `json:"quotes"`
	Reason string       `json:"reason"`
}

// Quote 返回指定场所的报价
func (d *RoutingDecision) Quote(id VenueID) (VenueQuote, bool) {
	for _, q := range d.Quotes {
		if q.Venue == id {
			return q, true
		}
	}
	return VenueQuote{}, false
}

// NetPrice = price × (1 − fee)
func NetPrice(price, fee decimal.Decimal) decimal.Decimal {
	return price.Mul(decimal.NewFromInt(1).Sub(fee))
}

// NewVenueQuote 构造报价并计算净价
func NewVenueQuote(venue VenueID, price, fee decimal.Decimal) VenueQuote {
	return VenueQuote{Venue: venue, Price: price, FeeRate: fee, NetPrice: NetPrice(price, fee)}
}

// SelectVenue 选出净价严格最高的场所。
// quotes 按偏好顺序排列, 净价相同时靠前者胜出。
func SelectVenue(quotes []VenueQuote) (RoutingDecision, error) {
	if len(quotes) == 0 {
		return RoutingDecision{}, Fatal(ErrNoQuotes)
	}
	recorded := make([]VenueQuote, len(quotes))
	for i, q := range quotes {
		recorded[i] = NewVenueQuote(q.Venue, q.Price, q.FeeRate)
	}

	best := 0
	for i := 1; i < len(recorded); i++ {
		if recorded[i].NetPrice.GreaterThan(recorded[best].NetPrice) {
			best = i
		}
	}
	winner := recorded[best]

	decision := RoutingDecision{Chosen: winner.Venue, Quotes: recorded}
	runnerUp, tied := bestOther(recorded, best)
	switch {
	case !runnerUp.Venue.isSet():
		decision.Reason = fmt.Sprintf("%s is the only quoted venue (net %s)", winner.Venue, winner.NetPrice.String())
	case tied:
		decision.Reason = fmt.Sprintf("net prices tied at %s, %s preferred", winner.NetPrice.String(), winner.Venue)
	default:
		decision.Reason = fmt.Sprintf("%s offers better net price after fees (%s vs %s)",
			winner.Venue, winner.NetPrice.String(), runnerUp.NetPrice.String())
	}
	return decision, nil
}

func bestOther(quotes []VenueQuote, skip int) (VenueQuote, bool) {
	var other VenueQuote
	for i, q := range quotes {
		if i == skip {
			continue
		}
		if !other.Venue.isSet() || q.NetPrice.GreaterThan(other.NetPrice) {
			other = q
		}
	}
	return other, other.Venue.isSet() && other.NetPrice.Equal(quotes[skip].NetPrice)
}

func (id VenueID) isSet() bool { return id != "" }
