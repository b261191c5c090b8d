package core

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func currentRecord() CalculationRecord {
	return CalculationRecord{
		ID:          41,
		ProductID:   7,
		Destination: DestinationChina,
		CalculationInputs: CalculationInputs{
			CostPerUnit: d("1000"), WastePercentage: d("10"), CleaningCost: d("20"),
			FreightCostUSD: d("5"), ExchangeRate: d("600"),
		},
		CalculationOutputs: CalculationOutputs{
			FreightCostLocal: d("3000"), TotalCostLocal: d("4200"), TotalCostUSD: d("7"),
			FOBPriceUSD: d("2"), CNFPriceUSD: d("7"),
		},
		IsCurrent:   true,
		TriggeredBy: "system",
	}
}

func TestApplyOverrides_CopiesAndOverrides(t *testing.T) {
	parent := currentRecord()

	child, err := ApplyOverrides(parent, map[string]decimal.Decimal{
		"cnf_price_usd": d("7.50"),
		"cleaning_cost": d("25"),
	})
	require.NoError(t, err)

	require.Zero(t, child.ID)
	require.True(t, child.IsCurrent)
	require.True(t, child.IsManualOverride)
	require.NotNil(t, child.ParentID)
	require.Equal(t, 41, *child.ParentID)
	require.Equal(t, RecordCurrent, child.State())

	require.True(t, child.CNFPriceUSD.Equal(d("7.50")))
	require.True(t, child.CleaningCost.Equal(d("25")))
	require.True(t, child.TotalCostUSD.Equal(d("7")), "derived values are not recomputed")
	require.True(t, child.FreightCostUSD.Equal(d("5")))
	require.Equal(t, parent.ProductID, child.ProductID)
	require.Equal(t, parent.Destination, child.Destination)

	require.True(t, parent.CNFPriceUSD.Equal(d("7")), "parent is untouched")
}

func TestApplyOverrides_Rejects(t *testing.T) {
	tests := map[string]map[string]decimal.Decimal{
		"empty":          {},
		"unknown field":  {"destination": d("1")},
		"negative value": {"fob_price_usd": d("-1")},
		"zero rate":      {"exchange_rate_used": decimal.Zero},
	}
	for name, overrides := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ApplyOverrides(currentRecord(), overrides)
			require.ErrorIs(t, err, ErrValidation)
		})
	}
}

func TestOverridableFields_Sorted(t *testing.T) {
	fields := OverridableFields()
	require.Contains(t, fields, "cnf_price_usd")
	require.Contains(t, fields, "exchange_rate_used")
	require.NotContains(t, fields, "product_id")
	require.IsIncreasing(t, fields)
}
