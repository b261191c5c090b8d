package core

import (
	"fmt"
	"maps"
	"slices"

	"github.com/shopspring/decimal"
)

// overridableFields maps the JSON name of every stored value an operator may override
// to its location on a record. Identity fields (product, destination, flags) are not
// overridable.
var overridableFields = map[string]func(*CalculationRecord) *decimal.Decimal{
	"cost_per_unit":      func(r *CalculationRecord) *decimal.Decimal { return &r.CostPerUnit },
	"waste_percentage":   func(r *CalculationRecord) *decimal.Decimal { return &r.WastePercentage },
	"cleaning_cost":      func(r *CalculationRecord) *decimal.Decimal { return &r.CleaningCost },
	"empty_bags_cost":    func(r *CalculationRecord) *decimal.Decimal { return &r.EmptyBagsCost },
	"printing_cost":      func(r *CalculationRecord) *decimal.Decimal { return &r.PrintingCost },
	"handling_cost":      func(r *CalculationRecord) *decimal.Decimal { return &r.HandlingCost },
	"paperwork_cost":     func(r *CalculationRecord) *decimal.Decimal { return &r.PaperworkCost },
	"customs_duty":       func(r *CalculationRecord) *decimal.Decimal { return &r.CustomsDuty },
	"clearance_cost":     func(r *CalculationRecord) *decimal.Decimal { return &r.ClearanceCost },
	"transport_to_port":  func(r *CalculationRecord) *decimal.Decimal { return &r.TransportToPort },
	"freight_cost_usd":   func(r *CalculationRecord) *decimal.Decimal { return &r.FreightCostUSD },
	"exchange_rate_used": func(r *CalculationRecord) *decimal.Decimal { return &r.ExchangeRate },
	"freight_cost_local": func(r *CalculationRecord) *decimal.Decimal { return &r.FreightCostLocal },
	"total_cost_local":   func(r *CalculationRecord) *decimal.Decimal { return &r.TotalCostLocal },
	"total_cost_usd":     func(r *CalculationRecord) *decimal.Decimal { return &r.TotalCostUSD },
	"fob_price_usd":      func(r *CalculationRecord) *decimal.Decimal { return &r.FOBPriceUSD },
	"cnf_price_usd":      func(r *CalculationRecord) *decimal.Decimal { return &r.CNFPriceUSD },
}

// OverridableFields lists the field names accepted by ApplyOverrides, sorted.
func OverridableFields() []string {
	return slices.Sorted(maps.Keys(overridableFields))
}

// ApplyOverrides derives a manual-override record from parent: every stored value is
// copied, then each override is written verbatim. Derived prices are not recomputed;
// the operator's figures are the record. The result is current, flagged as a manual
// override and points at parent.
func ApplyOverrides(parent CalculationRecord, overrides map[string]decimal.Decimal) (CalculationRecord, error) {
	if len(overrides) == 0 {
		return CalculationRecord{}, fmt.Errorf("%w: at least one field override is required", ErrValidation)
	}
	child := parent
	child.ID = 0
	child.IsCurrent = true
	child.IsManualOverride = true
	parentID := parent.ID
	child.ParentID = &parentID

	for _, name := range slices.Sorted(maps.Keys(overrides)) {
		v := overrides[name]
		loc, ok := overridableFields[name]
		if !ok {
			return CalculationRecord{}, fmt.Errorf("%w: field %q cannot be overridden", ErrValidation, name)
		}
		if v.IsNegative() {
			return CalculationRecord{}, fmt.Errorf("%w: %s must not be negative, got %s", ErrValidation, name, v)
		}
		if name == "exchange_rate_used" && !v.IsPositive() {
			return CalculationRecord{}, fmt.Errorf("%w: exchange rate must be > 0, got %s", ErrValidation, v)
		}
		*loc(&child) = v
	}
	return child, nil
}
