// Package stockerr defines the closed set of failures returned by the ledger
// and query services.
package stockerr

import (
	"errors"
	"fmt"
)

// Kind classifies every failure the ledger surfaces to its callers.
type Kind string

const (
	KindInvalidArgument   Kind = "InvalidArgument"
	KindConflict          Kind = "Conflict"
	KindNotFound          Kind = "NotFound"
	KindInsufficientStock Kind = "InsufficientStock"
	KindStoreFailure      Kind = "StoreFailure"
)

// Error is implemented only by the five error types of this package.
type Error interface {
	error
	Kind() Kind
	stockError()
}

// InvalidArgumentError reports a missing or out-of-range input.
type InvalidArgumentError struct {
	Field  string
	Reason string
}

func (e *InvalidArgumentError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *InvalidArgumentError) Kind() Kind { return KindInvalidArgument }
func (*InvalidArgumentError) stockError() {}

// ConflictError reports that the normalized sku is already taken.
type ConflictError struct {
	SKU string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("product with sku %s already exists", e.SKU)
}

func (e *ConflictError) Kind() Kind { return KindConflict }
func (*ConflictError) stockError() {}

// NotFoundError reports an unknown product id.
type NotFoundError struct {
	ProductID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("product %s not found", e.ProductID)
}

func (e *NotFoundError) Kind() Kind { return KindNotFound }
func (*NotFoundError) stockError() {}

// InsufficientStockError reports a decrease that would drive stock below zero.
type InsufficientStockError struct {
	ProductID string
	Current   int64
	Requested int64
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock. Current stock: %d, requested: %d", e.Current, e.Requested)
}

func (e *InsufficientStockError) Kind() Kind { return KindInsufficientStock }
func (*InsufficientStockError) stockError() {}

// StoreFailureError reports that the backing store could not complete an
// operation. Ambiguous is set when the write may or may not have committed;
// callers should re-read state before retrying.
type StoreFailureError struct {
	Op        string
	Ambiguous bool
	Err       error
}

func (e *StoreFailureError) Error() string {
	if e.Ambiguous {
		return fmt.Sprintf("%s: outcome unknown: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *StoreFailureError) Unwrap() error { return e.Err }
func (e *StoreFailureError) Kind() Kind { return KindStoreFailure }
func (*StoreFailureError) stockError() {}

// KindOf returns the kind of err, or an empty Kind when err is not a ledger error.
func KindOf(err error) Kind {
	var lerr Error
	if errors.As(err, &lerr) {
		return lerr.Kind()
	}
	return ""
}

// InvalidArgument builds an InvalidArgumentError.
func InvalidArgument(field, reason string) error {
	return &InvalidArgumentError{Field: field, Reason: reason}
}
