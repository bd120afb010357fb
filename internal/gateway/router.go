package gateway

import (
	"fmt"

	"donation-payments/internal/core/ports"
)

// Router maps currencies to gateways through a static table. Routing is
// deterministic: there is no fallback between gateways.
type Router struct {
	byCurrency map[string]ports.GatewayAdapter
	byID       map[string]ports.GatewayAdapter
}

// NewRouter builds a router from a currency -> adapter table.
func NewRouter(routes map[string]ports.GatewayAdapter) *Router {
	r := &Router{
		byCurrency: make(map[string]ports.GatewayAdapter, len(routes)),
		byID:       make(map[string]ports.GatewayAdapter),
	}
	for currency, adapter := range routes {
		r.byCurrency[currency] = adapter
		r.byID[adapter.ID()] = adapter
	}
	return r
}

// Select returns the gateway responsible for the currency.
func (r *Router) Select(currency string) (ports.GatewayAdapter, error) {
	adapter, ok := r.byCurrency[currency]
	if !ok {
		return nil, fmt.Errorf("no gateway route for currency %q", currency)
	}
	return adapter, nil
}

// ByID returns the gateway with the given identifier. Used when a
// transaction already carries its bound gateway (refunds, status checks).
func (r *Router) ByID(id string) (ports.GatewayAdapter, error) {
	adapter, ok := r.byID[id]
	if !ok {
		return nil, fmt.Errorf("unknown gateway %q", id)
	}
	return adapter, nil
}
