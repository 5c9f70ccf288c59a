package entity

import (
	"errors"
	"fmt"
)

// Error classes. Use errors.Is against these; the typed errors below carry the details.
// ErrVersionConflict is an event stream append that lost to another writer.
var (
	ErrNotFound        = errors.New("not found")
	ErrInvalidInput    = errors.New("invalid input")
	ErrOutOfStock      = errors.New("out of stock")
	ErrVersionConflict = errors.New("version conflict")
)

// NotFoundError reports an id that did not resolve.
type NotFoundError struct {
	Entity string
	ID     int64
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %d not found", e.Entity, e.ID)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

func ItemNotFound(id int64) error { return &NotFoundError{Entity: "item", ID: id} }

func UserNotFound(id int64) error { return &NotFoundError{Entity: "user", ID: id} }

func OrderNotFound(id int64) error { return &NotFoundError{Entity: "order", ID: id} }

// InvalidInputError reports a malformed request field.
type InvalidInputError struct {
	Field  string
	Reason string
}

func (e *InvalidInputError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *InvalidInputError) Is(target error) bool { return target == ErrInvalidInput }

// ValidateQuantity rejects non-positive order quantities.
func ValidateQuantity(quantity int) error {
	if quantity <= 0 {
		return &InvalidInputError{Field: "quantity", Reason: fmt.Sprintf("must be positive, got %d", quantity)}
	}
	return nil
}

// OutOfStockError reports a reservation larger than the available stock.
type OutOfStockError struct {
	ItemID    int64
	Requested int
	Available int
}

func (e *OutOfStockError) Error() string {
	return fmt.Sprintf("insufficient stock for item %d (requested: %d, available: %d)", e.ItemID, e.Requested, e.Available)
}

func (e *OutOfStockError) Is(target error) bool { return target == ErrOutOfStock }

// PartialOrderError is returned when a bulk order fails after some lines were
// already committed. Created lists the committed lines; Err is the failure.
type PartialOrderError struct {
	Created []OrderLineResult
	Err     error
}

func (e *PartialOrderError) Error() string {
	return fmt.Sprintf("order partially placed (%d line(s) committed): %v", len(e.Created), e.Err)
}

func (e *PartialOrderError) Unwrap() error { return e.Err }

// VersionConflictError reports an append to an event stream that was not at Expected.
type VersionConflictError struct {
	StreamID string
	Expected int
}

func (e *VersionConflictError) Error() string {
	return fmt.Sprintf("concurrency exception: stream %s is not at version %d", e.StreamID, e.Expected)
}

func (e *VersionConflictError) Is(target error) bool { return target == ErrVersionConflict }
