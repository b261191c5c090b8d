package core

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// sesameComponents is the worked example: cost 1000 with 10% waste, operation 50,
// government 30, local transport 20 and 5 USD freight to China.
func sesameComponents() CostComponents {
	return CostComponents{
		Product: Product{ID: 7, Name: "Sesame", CostPerUnit: d("1000"), WastePercentage: d("10")},
		Operation: &OperationCost{
			Cleaning: d("20"), EmptyBags: d("15"), Printing: d("5"), Handling: d("10"),
		},
		Government: &GovernmentCost{Paperwork: d("10"), CustomsDuty: d("15"), Clearance: d("5")},
		Local:      &LocalTransport{TransportToPort: d("20")},
		Freight: map[Destination]InternationalTransport{
			DestinationChina: {Destination: DestinationChina, FreightCost: d("5")},
		},
	}
}

func rate(s string) *ExchangeRate {
	return &ExchangeRate{ID: 1, Rate: d(s)}
}

func TestCalculateCNF_WorkedExampleChina(t *testing.T) {
	res, err := CalculateCNF(sesameComponents(), rate("600"), DestinationChina)
	require.NoError(t, err)

	require.True(t, res.WasteAmount.Equal(d("100")), "waste %s", res.WasteAmount)
	require.True(t, res.BaseCostWithWaste.Equal(d("1100")))
	require.True(t, res.Outputs.FreightCostLocal.Equal(d("3000")))
	require.True(t, res.Outputs.TotalCostLocal.Equal(d("4200")), "total local %s", res.Outputs.TotalCostLocal)
	require.True(t, res.Outputs.TotalCostUSD.Equal(d("7")), "total usd %s", res.Outputs.TotalCostUSD)
	require.True(t, res.Outputs.FOBPriceUSD.Equal(d("2")), "fob %s", res.Outputs.FOBPriceUSD)
	require.True(t, res.Outputs.CNFPriceUSD.Equal(d("7")))

	require.Equal(t, 7, res.ProductID)
	require.True(t, res.Inputs.FreightCostUSD.Equal(d("5")))
	require.True(t, res.Inputs.ExchangeRate.Equal(d("600")))
	require.True(t, res.Inputs.TransportToPort.Equal(d("20")))
}

func TestCalculateCNF_PortSudanNeedsNoFreight(t *testing.T) {
	c := sesameComponents()
	c.Freight = nil

	res, err := CalculateCNF(c, rate("600"), DestinationPortSudan)
	require.NoError(t, err)
	require.True(t, res.Outputs.FreightCostLocal.IsZero())
	require.True(t, res.Outputs.TotalCostLocal.Equal(d("1200")))
	require.True(t, res.Outputs.CNFPriceUSD.Equal(res.Outputs.FOBPriceUSD))
	require.True(t, res.Outputs.CNFPriceUSD.Equal(res.Outputs.TotalCostUSD))
	require.True(t, res.SnapshotPrice().Equal(d("1200")), "port price is the local total")
}

func TestCalculateCNF_PortSudanIgnoresFreightRow(t *testing.T) {
	c := sesameComponents()
	c.Freight[DestinationPortSudan] = InternationalTransport{Destination: DestinationPortSudan, FreightCost: d("9")}

	res, err := CalculateCNF(c, rate("600"), DestinationPortSudan)
	require.NoError(t, err)
	require.True(t, res.Outputs.FreightCostLocal.IsZero())
	require.True(t, res.Inputs.FreightCostUSD.IsZero())
}

func TestCalculateCNF_Errors(t *testing.T) {
	tests := []struct {
		name string
		rate *ExchangeRate
		dest Destination
		want error
	}{
		{"no exchange rate", nil, DestinationChina, ErrMissingExchangeRate},
		{"no freight row", rate("600"), DestinationUAE, ErrMissingFreight},
		{"zero rate", rate("0"), DestinationChina, ErrValidation},
		{"negative rate", rate("-1"), DestinationPortSudan, ErrValidation},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := CalculateCNF(sesameComponents(), tc.rate, tc.dest)
			require.ErrorIs(t, err, tc.want)
		})
	}
}

func TestCalculateCNF_MissingExchangeRateNamesTheDependency(t *testing.T) {
	_, err := CalculateCNF(sesameComponents(), nil, DestinationChina)
	require.EqualError(t, err, "no exchange rate available")
}

func TestCalculateCNF_AbsentComponentsCountAsZero(t *testing.T) {
	c := CostComponents{Product: Product{CostPerUnit: d("300"), WastePercentage: d("0")}}

	res, err := CalculateCNF(c, rate("150"), DestinationPortSudan)
	require.NoError(t, err)
	require.True(t, res.Outputs.TotalCostLocal.Equal(d("300")))
	require.True(t, res.Outputs.TotalCostUSD.Equal(d("2")))
	require.True(t, res.Inputs.CleaningCost.IsZero())
	require.True(t, res.Inputs.PaperworkCost.IsZero())
}

func TestCalculateCNF_ZeroWasteKeepsBaseCost(t *testing.T) {
	for _, cost := range []string{"0", "1", "999.99", "123456.78", "0.01"} {
		c := CostComponents{Product: Product{CostPerUnit: d(cost), WastePercentage: decimal.Zero}}
		res, err := CalculateCNF(c, rate("600"), DestinationPortSudan)
		require.NoError(t, err)
		require.True(t, res.BaseCostWithWaste.Equal(d(cost)), "cost %s", cost)
	}
}

func TestCalculateCNF_CNFIsFOBPlusFreight(t *testing.T) {
	rates := []string{"600", "2.7", "1", "0.35", "1234.5678"}
	freights := []string{"0", "5", "12.34", "1999.99"}
	for _, r := range rates {
		for _, f := range freights {
			c := sesameComponents()
			c.Freight[DestinationIndia] = InternationalTransport{Destination: DestinationIndia, FreightCost: d(f)}

			res, err := CalculateCNF(c, rate(r), DestinationIndia)
			require.NoError(t, err)

			out := res.Rounded()
			diff := out.CNFPriceUSD.Sub(out.FOBPriceUSD.Add(d(f))).Abs()
			require.True(t, diff.LessThanOrEqual(d("0.01")), "rate %s freight %s: cnf %s fob %s", r, f, out.CNFPriceUSD, out.FOBPriceUSD)
		}
	}
}

func TestCalculateCNF_Deterministic(t *testing.T) {
	c := sesameComponents()
	first, err := CalculateCNF(c, rate("601.37"), DestinationChina)
	require.NoError(t, err)
	for range 50 {
		again, err := CalculateCNF(c, rate("601.37"), DestinationChina)
		require.NoError(t, err)
		require.Equal(t, first.Rounded(), again.Rounded())
	}
}

func TestCNFResult_Rounded(t *testing.T) {
	c := CostComponents{Product: Product{CostPerUnit: d("100"), WastePercentage: decimal.Zero}}
	res, err := CalculateCNF(c, rate("3"), DestinationPortSudan)
	require.NoError(t, err)

	require.Equal(t, "33.3333333333333333", res.Outputs.TotalCostUSD.String())
	require.Equal(t, "33.33", res.Rounded().TotalCostUSD.String())
}
