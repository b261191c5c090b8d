package core

import "errors"

var (
	ErrProductNotFound       = errors.New("product not found")
	ErrMissingExchangeRate   = errors.New("no exchange rate available")
	ErrMissingFreight        = errors.New("no international freight cost for destination")
	ErrNotCurrent            = errors.New("calculation is no longer current")
	ErrCalculationNotFound   = errors.New("calculation not found")
	ErrConcurrencyConflict   = errors.New("concurrent update of the current calculation")
	ErrValidation            = errors.New("validation failed")
	ErrSnapshotNotFound      = errors.New("market snapshot not found")
	ErrSnapshotAlreadyLinked = errors.New("market snapshot already linked to another product")
)
