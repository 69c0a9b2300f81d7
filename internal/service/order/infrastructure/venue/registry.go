// internal/service/order/infrastructure/venue/registry.go
package venue

import (
	"fmt"

	"swapflow/internal/service/order/domain"
	"swapflow/internal/service/order/domain/port"
)

// DefaultPreference 净价相同时靠前的场所胜出
var DefaultPreference = []domain.VenueID{domain.VenueMeteora, domain.VenueRaydium}

// Registry 是启动时构建的静态场所查找表
type Registry struct {
	byID      map[domain.VenueID]port.Venue
	preferred []port.Venue
}

var _ port.VenueDirectory = (*Registry)(nil)

// NewRegistry 按 preference 顺序登记场所; preference 为空时按 venues 的传入顺序。
// 未出现在 preference 中的场所追加在末尾。
func NewRegistry(preference []domain.VenueID, venues ...port.Venue) (*Registry, error) {
	r := &Registry{byID: make(map[domain.VenueID]port.Venue, len(venues))}
	for _, v := range venues {
		if _, dup := r.byID[v.ID()]; dup {
			return nil, fmt.Errorf("venue %q registered twice", v.ID())
		}
		r.byID[v.ID()] = v
	}
	if len(r.byID) == 0 {
		return nil, fmt.Errorf("at least one venue is required")
	}

	seen := make(map[domain.VenueID]bool, len(venues))
	for _, id := range preference {
		v, ok := r.byID[id]
		if !ok || seen[id] {
			continue
		}
		seen[id] = true
		r.preferred = append(r.preferred, v)
	}
	for _, v := range venues {
		if !seen[v.ID()] {
			seen[v.ID()] = true
			r.preferred = append(r.preferred, v)
		}
	}
	return r, nil
}

func (r *Registry) Preferred() []port.Venue {
	out := make([]port.Venue, len(r.preferred))
	copy(out, r.preferred)
	return out
}

func (r *Registry) Lookup(id domain.VenueID) (port.Venue, error) {
	v, ok := r.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnknownVenue, id)
	}
	return v, nil
}
