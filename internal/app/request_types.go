package app

import "github.com/shopspring/decimal"

// OverrideRequest carries the operator's replacement values keyed by field name.
// Values are written verbatim; derived prices are not recomputed.
type OverrideRequest struct {
	Overrides map[string]decimal.Decimal `json:"overrides" jsonschema:"description=Replacement values keyed by stored field name"`
	Reason    string                     `json:"reason,omitempty" jsonschema:"maxLength=500"`
}
