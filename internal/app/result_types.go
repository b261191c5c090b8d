package app

import "commodity-desk/internal/core"

// ExchangeRateResult is returned by AddExchangeRate.
type ExchangeRateResult struct {
	Rate   core.ExchangeRate   `json:"rate"`
	Fanout *core.FanoutSummary `json:"fanout,omitempty"`
}

// ProductResult is returned by product writes.
type ProductResult struct {
	Product     *core.Product            `json:"product"`
	Propagation *core.PropagationSummary `json:"propagation,omitempty"`
}

// ProductSummary is one row of ListProducts.
type ProductSummary struct {
	core.Product
	Destinations []core.Destination `json:"destinations"`
}

// ProductListResult is returned by ListProducts.
type ProductListResult struct {
	Products []ProductSummary `json:"products"`
}
