package core

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseDestination(t *testing.T) {
	tests := map[string]Destination{
		"China":      DestinationChina,
		"uae":        DestinationUAE,
		"port-sudan": DestinationPortSudan,
		"Port Sudan": DestinationPortSudan,
		" MERSING ":  DestinationMersing,
		"other":      DestinationOther,
	}
	for in, want := range tests {
		got, err := ParseDestination(in)
		require.NoError(t, err, in)
		require.Equal(t, want, got, in)
	}

	_, err := ParseDestination("Atlantis")
	require.ErrorIs(t, err, ErrValidation)
}

func TestCostComponents_DestinationsSortedWithPort(t *testing.T) {
	c := CostComponents{Freight: map[Destination]InternationalTransport{
		DestinationUAE:       {},
		DestinationChina:     {},
		DestinationOther:     {},
		DestinationPortSudan: {},
	}}
	require.Equal(t, []Destination{
		DestinationChina, DestinationOther, DestinationPortSudan, DestinationUAE,
	}, c.Destinations())

	require.Equal(t, []Destination{DestinationPortSudan}, CostComponents{}.Destinations())
}

func TestCalculationRecord_SnapshotPrice(t *testing.T) {
	rec := CalculationRecord{Destination: DestinationPortSudan}
	rec.TotalCostLocal = d("1200")
	rec.CNFPriceUSD = d("2")
	require.True(t, rec.SnapshotPrice().Equal(d("1200")))

	rec.Destination = DestinationIndia
	require.True(t, rec.SnapshotPrice().Equal(d("2")))
	require.Equal(t, RecordRetired, rec.State())
}

func TestMarketSnapshot_SetPrice(t *testing.T) {
	snap := &MarketSnapshot{DmtMersing: d("3.10")}

	require.False(t, snap.SetPrice(DestinationMersing, d("3.1")))
	require.True(t, snap.SetPrice(DestinationMersing, d("3.456")))
	got, ok := snap.Price(DestinationMersing)
	require.True(t, ok)
	require.Equal(t, "3.46", got.String())

	require.False(t, snap.SetPrice(DestinationOther, d("9")))
	_, ok = snap.Price(DestinationOther)
	require.False(t, ok)
}
