package service

import (
	"fmt"

	"obar/backend/internal/store"
)

type LineReason string

const (
	ReasonUnknownProduct    LineReason = "unknown product"
	ReasonUnavailable       LineReason = "unavailable"
	ReasonOutOfStock        LineReason = "out of stock"
	ReasonInsufficientStock LineReason = "insufficient stock"
)

// LineError rejects a single purchase line. It unwraps to store.ErrNotFound
// for unknown products and to store.ErrConflict otherwise.
type LineError struct {
	ProductCode string
	Reason      LineReason
	Requested   int
	Available   int
}

func (e *LineError) Error() string {
	if e.Reason == ReasonInsufficientStock {
		return fmt.Sprintf("product %s: %s (requested %d, available %d)", e.ProductCode, e.Reason, e.Requested, e.Available)
	}
	return fmt.Sprintf("product %s: %s", e.ProductCode, e.Reason)
}

func (e *LineError) Unwrap() error {
	if e.Reason == ReasonUnknownProduct {
		return store.ErrNotFound
	}
	return store.ErrConflict
}

// internal passes taxonomy errors through and files everything else under
// store.ErrInternal.
func internal(err error) error {
	if err == nil || store.IsTaxonomy(err) {
		return err
	}
	return fmt.Errorf("%w: %w", store.ErrInternal, err)
}
