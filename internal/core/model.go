package core

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type Destination string

const (
	DestinationChina     Destination = "China"
	DestinationUAE       Destination = "UAE"
	DestinationMersing   Destination = "Mersing"
	DestinationIndia     Destination = "India"
	DestinationPortSudan Destination = "Port Sudan"
	DestinationOther     Destination = "Other"
)

// KnownDestinations is the closed set of shipping targets a freight row may name.
var KnownDestinations = []Destination{
	DestinationChina,
	DestinationUAE,
	DestinationMersing,
	DestinationIndia,
	DestinationPortSudan,
	DestinationOther,
}

// ParseDestination resolves a destination name case-insensitively.
// URL-friendly spellings such as "port-sudan" are accepted.
func ParseDestination(s string) (Destination, error) {
	norm := strings.ToLower(strings.TrimSpace(strings.NewReplacer("-", " ", "_", " ").Replace(s)))
	for _, d := range KnownDestinations {
		if strings.ToLower(string(d)) == norm {
			return d, nil
		}
	}
	return "", fmt.Errorf("%w: unknown destination %q", ErrValidation, s)
}

// CarriesFreight is false for the originating port, which is priced FOB.
func (d Destination) CarriesFreight() bool {
	return d != DestinationPortSudan
}

// SnapshotColumn returns the market snapshot column holding this destination's price.
// "Other" has no column.
func (d Destination) SnapshotColumn() (string, bool) {
	switch d {
	case DestinationChina:
		return "dmt_china", true
	case DestinationUAE:
		return "dmt_uae", true
	case DestinationMersing:
		return "dmt_mersing", true
	case DestinationIndia:
		return "dmt_india", true
	case DestinationPortSudan:
		return "port_sudan", true
	}
	return "", false
}

type ExchangeRate struct {
	ID        int             `json:"id"`
	Date      time.Time       `json:"date"`
	Rate      decimal.Decimal `json:"rate"`
	CreatedAt time.Time       `json:"created_at"`
}

type Product struct {
	ID               int             `json:"id"`
	Name             string          `json:"name"`
	CostPerUnit      decimal.Decimal `json:"cost_per_unit"`
	WastePercentage  decimal.Decimal `json:"waste_percentage"`
	MarketSnapshotID *int            `json:"market_snapshot_id,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

type OperationCost struct {
	ProductID int             `json:"product_id"`
	Cleaning  decimal.Decimal `json:"cleaning"`
	EmptyBags decimal.Decimal `json:"empty_bags"`
	Printing  decimal.Decimal `json:"printing"`
	Handling  decimal.Decimal `json:"handling"`
}

// Total is zero for a product without an operation cost row.
func (c *OperationCost) Total() decimal.Decimal {
	if c == nil {
		return decimal.Zero
	}
	return c.Cleaning.Add(c.EmptyBags).Add(c.Printing).Add(c.Handling)
}

type GovernmentCost struct {
	ProductID   int             `json:"product_id"`
	Paperwork   decimal.Decimal `json:"paperwork"`
	CustomsDuty decimal.Decimal `json:"customs_duty"`
	Clearance   decimal.Decimal `json:"clearance"`
}

func (c *GovernmentCost) Total() decimal.Decimal {
	if c == nil {
		return decimal.Zero
	}
	return c.Paperwork.Add(c.CustomsDuty).Add(c.Clearance)
}

type LocalTransport struct {
	ProductID       int             `json:"product_id"`
	TransportToPort decimal.Decimal `json:"transport_to_port"`
}

func (c *LocalTransport) Total() decimal.Decimal {
	if c == nil {
		return decimal.Zero
	}
	return c.TransportToPort
}

// InternationalTransport is the freight leg to one destination, in USD.
type InternationalTransport struct {
	ID          int             `json:"id"`
	ProductID   int             `json:"product_id"`
	Destination Destination     `json:"destination"`
	FreightCost decimal.Decimal `json:"freight_cost_usd"`
}

// CostComponents is everything the engine reads for one product.
type CostComponents struct {
	Product    Product
	Operation  *OperationCost
	Government *GovernmentCost
	Local      *LocalTransport
	Freight    map[Destination]InternationalTransport
}

// Destinations lists every destination the product can be priced for: each freight row
// plus the originating port. Sorted by name so a propagation pass is deterministic.
func (c CostComponents) Destinations() []Destination {
	out := []Destination{DestinationPortSudan}
	for d := range c.Freight {
		if d != DestinationPortSudan {
			out = append(out, d)
		}
	}
	slices.Sort(out)
	return out
}

// CalculationInputs is the copy of every cost value a calculation was derived from.
type CalculationInputs struct {
	CostPerUnit     decimal.Decimal `json:"cost_per_unit"`
	WastePercentage decimal.Decimal `json:"waste_percentage"`
	CleaningCost    decimal.Decimal `json:"cleaning_cost"`
	EmptyBagsCost   decimal.Decimal `json:"empty_bags_cost"`
	PrintingCost    decimal.Decimal `json:"printing_cost"`
	HandlingCost    decimal.Decimal `json:"handling_cost"`
	PaperworkCost   decimal.Decimal `json:"paperwork_cost"`
	CustomsDuty     decimal.Decimal `json:"customs_duty"`
	ClearanceCost   decimal.Decimal `json:"clearance_cost"`
	TransportToPort decimal.Decimal `json:"transport_to_port"`
	FreightCostUSD  decimal.Decimal `json:"freight_cost_usd"`
	ExchangeRate    decimal.Decimal `json:"exchange_rate_used"`
}

// CalculationOutputs are the engine's derived prices.
type CalculationOutputs struct {
	FreightCostLocal decimal.Decimal `json:"freight_cost_local"`
	TotalCostLocal   decimal.Decimal `json:"total_cost_local"`
	TotalCostUSD     decimal.Decimal `json:"total_cost_usd"`
	FOBPriceUSD      decimal.Decimal `json:"fob_price_usd"`
	CNFPriceUSD      decimal.Decimal `json:"cnf_price_usd"`
}

type RecordState string

const (
	RecordCurrent RecordState = "current"
	RecordRetired RecordState = "retired"
)

// CalculationRecord is one immutable ledger row. Only IsCurrent ever changes, and only
// from true to false.
type CalculationRecord struct {
	ID          int         `json:"id"`
	ProductID   int         `json:"product_id"`
	Destination Destination `json:"destination"`
	CalculationInputs
	CalculationOutputs
	CalculatedAt     time.Time `json:"calculated_at"`
	IsCurrent        bool      `json:"is_current"`
	IsManualOverride bool      `json:"is_manual_override"`
	ParentID         *int      `json:"parent_id,omitempty"`
	TriggeredBy      string    `json:"triggered_by,omitempty"`
}

func (r CalculationRecord) State() RecordState {
	if r.IsCurrent {
		return RecordCurrent
	}
	return RecordRetired
}

// SnapshotPrice is the value shown on the market snapshot: the local-currency total at
// the originating port, the USD CNF price everywhere else.
func (r CalculationRecord) SnapshotPrice() decimal.Decimal {
	if r.Destination == DestinationPortSudan {
		return r.TotalCostLocal
	}
	return r.CNFPriceUSD
}

type SnapshotStatus string

const (
	StatusActive   SnapshotStatus = "Active"
	StatusLimited  SnapshotStatus = "Limited"
	StatusInactive SnapshotStatus = "Inactive"
)

func ParseSnapshotStatus(s string) (SnapshotStatus, error) {
	for _, st := range []SnapshotStatus{StatusActive, StatusLimited, StatusInactive} {
		if strings.EqualFold(string(st), strings.TrimSpace(s)) {
			return st, nil
		}
	}
	return "", fmt.Errorf("%w: unknown status %q", ErrValidation, s)
}

type Forecast string

const (
	ForecastRising  Forecast = "Rising"
	ForecastStable  Forecast = "Stable"
	ForecastFalling Forecast = "Falling"
)

// MarketSnapshot is the display record for one product's current prices.
type MarketSnapshot struct {
	ID         int             `json:"id"`
	Name       string          `json:"name"`
	Value      decimal.Decimal `json:"value"`
	DmtChina   decimal.Decimal `json:"dmt_china"`
	DmtUAE     decimal.Decimal `json:"dmt_uae"`
	DmtMersing decimal.Decimal `json:"dmt_mersing"`
	DmtIndia   decimal.Decimal `json:"dmt_india"`
	PortSudan  decimal.Decimal `json:"port_sudan"`
	Status     SnapshotStatus  `json:"status"`
	Forecast   Forecast        `json:"forecast"`
	Trend      int             `json:"trend"`
	ImageURL   string          `json:"image_url,omitempty"`
	LastUpdate time.Time       `json:"last_update"`
	CreatedAt  time.Time       `json:"created_at"`
}

func (s *MarketSnapshot) field(d Destination) *decimal.Decimal {
	switch d {
	case DestinationChina:
		return &s.DmtChina
	case DestinationUAE:
		return &s.DmtUAE
	case DestinationMersing:
		return &s.DmtMersing
	case DestinationIndia:
		return &s.DmtIndia
	case DestinationPortSudan:
		return &s.PortSudan
	}
	return nil
}

// Price returns the snapshot value for d, or false when d has no snapshot column.
func (s *MarketSnapshot) Price(d Destination) (decimal.Decimal, bool) {
	f := s.field(d)
	if f == nil {
		return decimal.Zero, false
	}
	return *f, true
}

// SetPrice stores v (rounded to cents) for d and reports whether the stored value changed.
func (s *MarketSnapshot) SetPrice(d Destination, v decimal.Decimal) bool {
	f := s.field(d)
	if f == nil {
		return false
	}
	v = v.Round(2)
	if f.Equal(v) {
		return false
	}
	*f = v
	return true
}

// MarketSnapshotArchive is a frozen copy of a snapshot taken before it was mutated.
type MarketSnapshotArchive struct {
	ID         int            `json:"id"`
	OriginalID int            `json:"original_id"`
	ArchivedAt time.Time      `json:"archived_at"`
	Snapshot   MarketSnapshot `json:"snapshot"`
}

// ProductDetail is a product with all of its cost components and snapshot link.
type ProductDetail struct {
	Product      Product                  `json:"product"`
	Operation    *OperationCost           `json:"operation_cost,omitempty"`
	Government   *GovernmentCost          `json:"government_cost,omitempty"`
	Local        *LocalTransport          `json:"local_transport,omitempty"`
	Freight      []InternationalTransport `json:"freight"`
	Destinations []Destination            `json:"destinations"`
}

// PropagationSummary describes one propagation pass over a product.
type PropagationSummary struct {
	ProductID  int                         `json:"product_id"`
	Recorded   []CalculationRecord         `json:"recorded"`
	Skipped    map[Destination]string      `json:"skipped,omitempty"`
	SnapshotID *int                        `json:"snapshot_id,omitempty"`
	ArchiveID  *int                        `json:"archive_id,omitempty"`
	Trend      *int                        `json:"trend,omitempty"`
	Forecast   Forecast                    `json:"forecast,omitempty"`
	Changed    map[Destination]PriceChange `json:"changed,omitempty"`
}

// PriceChange is one snapshot column moving from Old to New.
type PriceChange struct {
	Old decimal.Decimal `json:"old"`
	New decimal.Decimal `json:"new"`
}

// FanoutSummary is the result of re-pricing every linked product after a rate change.
type FanoutSummary struct {
	Rate      ExchangeRate         `json:"rate"`
	Products  int                  `json:"products"`
	Recorded  int                  `json:"recorded"`
	Failed    map[int]string       `json:"failed,omitempty"`
	Summaries []PropagationSummary `json:"-"`
}
