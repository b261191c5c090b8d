package core

import "github.com/shopspring/decimal"

// PriceMove is the percent change of one snapshot column.
type PriceMove struct {
	Destination Destination
	Percent     decimal.Decimal
}

// Trend is the whole-number part of the percent change, truncated toward zero.
func (m PriceMove) Trend() int {
	return int(m.Percent.IntPart())
}

func (m PriceMove) Forecast() Forecast {
	return ForecastFromChange(m.Percent)
}

func ForecastFromChange(pct decimal.Decimal) Forecast {
	switch pct.Sign() {
	case 1:
		return ForecastRising
	case -1:
		return ForecastFalling
	}
	return ForecastStable
}

// PercentChange is (next - prev) / prev * 100. ok is false when prev is not positive,
// in which case no trend can be derived.
func PercentChange(prev, next decimal.Decimal) (decimal.Decimal, bool) {
	if !prev.IsPositive() {
		return decimal.Zero, false
	}
	return next.Sub(prev).Mul(hundred).DivRound(prev, divisionScale), true
}

// ApplyPrices writes each destination's new price onto snap in the given order and
// recomputes trend and forecast. Only a destination whose price moved from a positive
// previous value sets the trend, so the last such destination in order decides it. When
// baseline supplies a previous value for a destination, the trend is measured against it
// even if the stored column is unchanged. Destinations without a snapshot column are
// ignored. The returned map holds only columns whose stored value changed.
func ApplyPrices(snap *MarketSnapshot, order []Destination, prices, baseline map[Destination]decimal.Decimal) (map[Destination]PriceChange, *PriceMove) {
	changed := make(map[Destination]PriceChange)
	var last *PriceMove
	for _, d := range order {
		next, ok := prices[d]
		if !ok {
			continue
		}
		prev, ok := snap.Price(d)
		if !ok {
			continue
		}
		next = next.Round(2)
		moved := snap.SetPrice(d, next)
		if moved {
			changed[d] = PriceChange{Old: prev, New: next}
		}
		if b, ok := baseline[d]; ok {
			prev = b
		} else if !moved {
			continue
		}
		if pct, ok := PercentChange(prev, next); ok {
			last = &PriceMove{Destination: d, Percent: pct}
		}
	}
	if last != nil {
		snap.Trend = last.Trend()
		snap.Forecast = last.Forecast()
	}
	return changed, last
}
