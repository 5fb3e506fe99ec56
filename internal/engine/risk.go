package engine

import (
	"kestrel/internal/domain"
)

// RiskManager enforces pre-trade risk rules. Violations are ValidationErrors:
// they reject the order locally, before it reaches the broker.
type RiskManager struct {
	maxPositionPct float64 // max fraction of equity in a single position, 0 = unlimited
	maxNotional    float64 // max notional per order, 0 = unlimited
}

// NewRiskManager creates a RiskManager with the given limits. A zero limit
// disables that check.
func NewRiskManager(maxPositionPct, maxNotional float64) *RiskManager {
	return &RiskManager{
		maxPositionPct: maxPositionPct,
		maxNotional:    maxNotional,
	}
}

// CheckOrder evaluates a proposed order against the configured limits.
// currentQty is the signed quantity already held in the order's symbol;
// price is the reference price used for sizing.
func (rm *RiskManager) CheckOrder(order *domain.Order, price, equity, currentQty float64) error {
	notional := order.Qty * price
	if rm.maxNotional > 0 && notional > rm.maxNotional {
		return domain.Validationf("order notional %.2f exceeds limit %.2f", notional, rm.maxNotional)
	}
	if rm.maxPositionPct > 0 && equity > 0 && order.Side == domain.SideBuy {
		resulting := (currentQty + order.Qty) * price
		if resulting > equity*rm.maxPositionPct {
			return domain.Validationf("position in %s would be %.2f, above %.0f%% of equity",
				order.Symbol, resulting, rm.maxPositionPct*100)
		}
	}
	return nil
}
