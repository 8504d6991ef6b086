package store

import (
	"errors"
	"fmt"
)

var (
	ErrValidation         = errors.New("validation failed")
	ErrNotFound           = errors.New("not found")
	ErrInsufficientStock  = errors.New("insufficient stock")
	ErrConflict           = errors.New("conflict")
	ErrTransactionAborted = errors.New("transaction aborted")
	ErrUserExists         = errors.New("user already exists")

	// ErrWriteConflict reports that a concurrent commit invalidated what a
	// transaction read. RunInTransaction retries on it; callers never see it.
	ErrWriteConflict = errors.New("write conflict")
)

type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}

func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

type InsufficientStockError struct {
	ProductID   string
	ProductName string
	Available   int
	Requested   int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %s. Available: %d, Requested: %d", e.ProductName, e.Available, e.Requested)
}

func (e *InsufficientStockError) Is(target error) bool {
	return target == ErrInsufficientStock
}

type ConflictError struct {
	Entity         string
	ID             string
	Name           string
	DependentSales int
}

func (e *ConflictError) Error() string {
	label := e.ID
	if e.Name != "" {
		label = fmt.Sprintf("%q", e.Name)
	}
	return fmt.Sprintf("%s %s has existing sales records (%d)", e.Entity, label, e.DependentSales)
}

func (e *ConflictError) Is(target error) bool {
	return target == ErrConflict
}

type AbortedError struct {
	Attempts int
	Cause    error
}

func (e *AbortedError) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("transaction aborted after %d attempts", e.Attempts)
	}
	return fmt.Sprintf("transaction aborted after %d attempts: %v", e.Attempts, e.Cause)
}

func (e *AbortedError) Is(target error) bool {
	return target == ErrTransactionAborted
}

func StallNotFound(id string) error {
	return &NotFoundError{Entity: "stall", ID: id}
}

func ProductNotFound(id string) error {
	return &NotFoundError{Entity: "product", ID: id}
}
