package core

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// divisionScale is the number of decimal places kept by intermediate divisions.
// Outputs are rounded to cents only when they are stored.
const divisionScale = 16

var hundred = decimal.NewFromInt(100)

// CNFResult is the engine output for one (product, destination).
type CNFResult struct {
	ProductID         int
	Destination       Destination
	WasteAmount       decimal.Decimal
	BaseCostWithWaste decimal.Decimal
	Inputs            CalculationInputs
	Outputs           CalculationOutputs
}

// CalculateCNF derives the landed prices of a product at dest. It has no side effects.
//
// A nil rate fails with ErrMissingExchangeRate; a destination other than the originating
// port without a freight row fails with ErrMissingFreight. Absent cost component rows
// count as zero.
func CalculateCNF(c CostComponents, rate *ExchangeRate, dest Destination) (CNFResult, error) {
	if rate == nil {
		return CNFResult{}, ErrMissingExchangeRate
	}
	if !rate.Rate.IsPositive() {
		return CNFResult{}, fmt.Errorf("%w: exchange rate must be > 0, got %s", ErrValidation, rate.Rate)
	}
	p := c.Product
	if p.CostPerUnit.IsNegative() || p.WastePercentage.IsNegative() {
		return CNFResult{}, fmt.Errorf("%w: product %q has a negative cost or waste percentage", ErrValidation, p.Name)
	}

	freightUSD := decimal.Zero
	if dest.CarriesFreight() {
		leg, ok := c.Freight[dest]
		if !ok {
			return CNFResult{}, fmt.Errorf("%w: %s has no freight cost for %s", ErrMissingFreight, p.Name, dest)
		}
		freightUSD = leg.FreightCost
	}

	wasteAmount := p.CostPerUnit.Mul(p.WastePercentage).Div(hundred)
	baseWithWaste := p.CostPerUnit.Add(wasteAmount)
	freightLocal := freightUSD.Mul(rate.Rate)

	totalLocal := baseWithWaste.
		Add(c.Operation.Total()).
		Add(c.Government.Total()).
		Add(c.Local.Total()).
		Add(freightLocal)
	totalUSD := totalLocal.DivRound(rate.Rate, divisionScale)
	fobUSD := totalLocal.Sub(freightLocal).DivRound(rate.Rate, divisionScale)

	res := CNFResult{
		ProductID:         p.ID,
		Destination:       dest,
		WasteAmount:       wasteAmount,
		BaseCostWithWaste: baseWithWaste,
		Inputs:            inputsOf(c, freightUSD, rate.Rate),
		Outputs: CalculationOutputs{
			FreightCostLocal: freightLocal,
			TotalCostLocal:   totalLocal,
			TotalCostUSD:     totalUSD,
			FOBPriceUSD:      fobUSD,
			CNFPriceUSD:      totalUSD,
		},
	}
	return res, nil
}

func inputsOf(c CostComponents, freightUSD, rate decimal.Decimal) CalculationInputs {
	in := CalculationInputs{
		CostPerUnit:     c.Product.CostPerUnit,
		WastePercentage: c.Product.WastePercentage,
		FreightCostUSD:  freightUSD,
		ExchangeRate:    rate,
	}
	if op := c.Operation; op != nil {
		in.CleaningCost = op.Cleaning
		in.EmptyBagsCost = op.EmptyBags
		in.PrintingCost = op.Printing
		in.HandlingCost = op.Handling
	}
	if gov := c.Government; gov != nil {
		in.PaperworkCost = gov.Paperwork
		in.CustomsDuty = gov.CustomsDuty
		in.ClearanceCost = gov.Clearance
	}
	in.TransportToPort = c.Local.Total()
	return in
}

// Rounded returns the outputs rounded to cents, the precision they are stored at.
func (r CNFResult) Rounded() CalculationOutputs {
	o := r.Outputs
	return CalculationOutputs{
		FreightCostLocal: o.FreightCostLocal.Round(2),
		TotalCostLocal:   o.TotalCostLocal.Round(2),
		TotalCostUSD:     o.TotalCostUSD.Round(2),
		FOBPriceUSD:      o.FOBPriceUSD.Round(2),
		CNFPriceUSD:      o.CNFPriceUSD.Round(2),
	}
}

// SnapshotPrice mirrors CalculationRecord.SnapshotPrice for an unsaved result.
func (r CNFResult) SnapshotPrice() decimal.Decimal {
	if r.Destination == DestinationPortSudan {
		return r.Outputs.TotalCostLocal
	}
	return r.Outputs.CNFPriceUSD
}
