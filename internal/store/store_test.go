package store

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stallmanager/backend/internal/domain"
)

func TestRetryConflictsRetriesUntilSuccess(t *testing.T) {
	calls := 0
	err := RetryConflicts(context.Background(), 4, func(ctx context.Context, n int) error {
		calls++
		assert.Equal(t, calls, n)
		if n < 3 {
			return fmt.Errorf("attempt %d: %w", n, ErrWriteConflict)
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetryConflictsReturnsOtherErrorsUnchanged(t *testing.T) {
	want := &InsufficientStockError{ProductName: "Brownie", Available: 2, Requested: 5}
	calls := 0
	err := RetryConflicts(context.Background(), 4, func(ctx context.Context, n int) error {
		calls++
		return want
	})
	assert.Same(t, want, err)
	assert.Equal(t, 1, calls)
}

func TestRetryConflictsExhaustion(t *testing.T) {
	err := RetryConflicts(context.Background(), 2, func(ctx context.Context, n int) error {
		return ErrWriteConflict
	})
	require.ErrorIs(t, err, ErrTransactionAborted)
	assert.NotErrorIs(t, err, ErrWriteConflict)
	assert.Contains(t, err.Error(), "after 2 attempts")
}

func TestRetryConflictsStopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := RetryConflicts(ctx, 3, func(ctx context.Context, n int) error {
		calls++
		return nil
	})
	require.ErrorIs(t, err, ErrTransactionAborted)
	assert.Zero(t, calls)
}

func TestTypedErrorsMatchSentinels(t *testing.T) {
	cases := []struct {
		err      error
		sentinel error
		message  string
	}{
		{&ValidationError{Field: "price", Reason: "must be >= 0"}, ErrValidation, "invalid price: must be >= 0"},
		{StallNotFound("stall_1"), ErrNotFound, "stall stall_1 not found"},
		{ProductNotFound("prd_1"), ErrNotFound, "product prd_1 not found"},
		{&InsufficientStockError{ProductName: "Brownie", Available: 2, Requested: 5}, ErrInsufficientStock, "insufficient stock for product Brownie. Available: 2, Requested: 5"},
		{&ConflictError{Entity: "product", Name: "Brownie", DependentSales: 1}, ErrConflict, `product "Brownie" has existing sales records (1)`},
		{&AbortedError{Attempts: 5}, ErrTransactionAborted, "transaction aborted after 5 attempts"},
	}
	for _, tc := range cases {
		wrapped := fmt.Errorf("service: %w", tc.err)
		assert.ErrorIs(t, wrapped, tc.sentinel)
		assert.Equal(t, tc.message, tc.err.Error())
	}

	var stock *InsufficientStockError
	require.True(t, errors.As(fmt.Errorf("wrap: %w", cases[3].err), &stock))
	assert.Equal(t, 2, stock.Available)
}

func TestSaleFilterMatches(t *testing.T) {
	sale := domain.Sale{StallID: "stall_1", ProductID: "prd_1"}
	assert.True(t, SaleFilter{}.Matches(sale))
	assert.True(t, SaleFilter{StallID: "stall_1"}.Matches(sale))
	assert.True(t, SaleFilter{StallID: "stall_1", ProductID: "prd_1"}.Matches(sale))
	assert.False(t, SaleFilter{StallID: "stall_2"}.Matches(sale))
	assert.False(t, SaleFilter{StallID: "stall_1", ProductID: "prd_2"}.Matches(sale))
}
