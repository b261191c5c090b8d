package core

import (
	"errors"
	"fmt"
	"maps"
	"reflect"
	"slices"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

type ProductInput struct {
	Name            string          `json:"name" validate:"required,max=255"`
	CostPerUnit     decimal.Decimal `json:"cost_per_unit" validate:"gte=0"`
	WastePercentage decimal.Decimal `json:"waste_percentage" validate:"gte=0,lte=100"`
}

type OperationCostInput struct {
	Cleaning  decimal.Decimal `json:"cleaning" validate:"gte=0"`
	EmptyBags decimal.Decimal `json:"empty_bags" validate:"gte=0"`
	Printing  decimal.Decimal `json:"printing" validate:"gte=0"`
	Handling  decimal.Decimal `json:"handling" validate:"gte=0"`
}

type GovernmentCostInput struct {
	Paperwork   decimal.Decimal `json:"paperwork" validate:"gte=0"`
	CustomsDuty decimal.Decimal `json:"customs_duty" validate:"gte=0"`
	Clearance   decimal.Decimal `json:"clearance" validate:"gte=0"`
}

type LocalTransportInput struct {
	TransportToPort decimal.Decimal `json:"transport_to_port" validate:"gte=0"`
}

type FreightInput struct {
	FreightCost decimal.Decimal `json:"freight_cost_usd" validate:"gte=0"`
}

type ExchangeRateInput struct {
	Date time.Time       `json:"date" validate:"required"`
	Rate decimal.Decimal `json:"rate" validate:"gt=0"`
}

type SnapshotInput struct {
	Name     string          `json:"name" validate:"required,max=100"`
	Value    decimal.Decimal `json:"value" validate:"gte=0"`
	Status   SnapshotStatus  `json:"status" validate:"omitempty,oneof=Active Limited Inactive"`
	ImageURL string          `json:"image_url" validate:"omitempty,url,max=255"`
}

// rateScale is the number of decimal places an exchange rate is stored with.
const rateScale = 4

// Normalize rounds the rate to its stored precision and dates an undated rate today (UTC),
// so validation sees the value that will actually be saved.
func (in ExchangeRateInput) Normalize() ExchangeRateInput {
	in.Rate = in.Rate.Round(rateScale)
	if in.Date.IsZero() {
		in.Date = time.Now().UTC().Truncate(24 * time.Hour)
	}
	return in
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterCustomTypeFunc(func(field reflect.Value) any {
		if d, ok := field.Interface().(decimal.Decimal); ok {
			return d.InexactFloat64()
		}
		return nil
	}, decimal.Decimal{})
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
	return v
}

// Validate checks an input struct and returns an ErrValidation naming every bad field.
func Validate(input any) error {
	err := validate.Struct(input)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	fields := ProcessValidationErrors(verrs)
	parts := make([]string, 0, len(fields))
	for _, name := range slices.Sorted(maps.Keys(fields)) {
		parts = append(parts, fmt.Sprintf("%s failed %s", name, fields[name]))
	}
	return fmt.Errorf("%w: %s", ErrValidation, strings.Join(parts, "; "))
}

// ProcessValidationErrors maps each failing field to the rule it broke.
func ProcessValidationErrors(verrs validator.ValidationErrors) map[string]string {
	out := make(map[string]string, len(verrs))
	for _, ve := range verrs {
		out[ve.Field()] = ve.Tag()
	}
	return out
}
