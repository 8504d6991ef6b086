package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stallmanager/backend/internal/domain"
	"stallmanager/backend/internal/store"
	"stallmanager/backend/internal/store/storetest"
)

func TestConformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Repository {
		return New()
	})
}

func TestCommitDetectsInterleavedWrite(t *testing.T) {
	ctx := context.Background()
	s := New()
	stall, err := s.CreateStall(ctx, domain.Stall{Name: "Cake Stall"})
	require.NoError(t, err)

	attempts := 0
	err = s.RunInTransaction(ctx, func(ctx context.Context, tx store.Tx) error {
		attempts++
		current, err := tx.GetStall(ctx, stall.ID)
		if err != nil {
			return err
		}
		if attempts == 1 {
			require.NoError(t, s.SetStallName(ctx, stall.ID, "Renamed mid-flight"))
		}
		current.Name = current.Name + " (checked)"
		return tx.PutStall(ctx, current)
	})
	require.NoError(t, err)
	assert.Equal(t, 2, attempts)

	got, err := s.GetStall(ctx, stall.ID)
	require.NoError(t, err)
	assert.Equal(t, "Renamed mid-flight (checked)", got.Name)
}

func TestRetryBudgetExhaustion(t *testing.T) {
	ctx := context.Background()
	s := New(WithMaxAttempts(3))
	stall, err := s.CreateStall(ctx, domain.Stall{Name: "Busy Stall"})
	require.NoError(t, err)

	attempts := 0
	err = s.RunInTransaction(ctx, func(ctx context.Context, tx store.Tx) error {
		attempts++
		current, err := tx.GetStall(ctx, stall.ID)
		if err != nil {
			return err
		}
		require.NoError(t, s.SetSellerPIN(ctx, stall.ID, "9999"))
		return tx.PutStall(ctx, current)
	})
	require.ErrorIs(t, err, store.ErrTransactionAborted)
	assert.Equal(t, 3, attempts)

	var aborted *store.AbortedError
	require.True(t, errors.As(err, &aborted))
	assert.Equal(t, 3, aborted.Attempts)
}

func TestWritesToOtherStallDoNotConflict(t *testing.T) {
	ctx := context.Background()
	s := New()
	a, err := s.CreateStall(ctx, domain.Stall{Name: "A"})
	require.NoError(t, err)
	b, err := s.CreateStall(ctx, domain.Stall{Name: "B"})
	require.NoError(t, err)

	attempts := 0
	err = s.RunInTransaction(ctx, func(ctx context.Context, tx store.Tx) error {
		attempts++
		if _, err := tx.GetStall(ctx, a.ID); err != nil {
			return err
		}
		if attempts == 1 {
			require.NoError(t, s.SetStallName(ctx, b.ID, "B2"))
		}
		_, err := tx.CountSales(ctx, store.SaleFilter{StallID: a.ID})
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, 1, attempts)
}

func TestTransactionUsesClock(t *testing.T) {
	ctx := context.Background()
	fixed := time.Date(2026, 6, 13, 10, 30, 0, 0, time.UTC)
	s := New(WithClock(func() time.Time { return fixed }))

	err := s.RunInTransaction(ctx, func(ctx context.Context, tx store.Tx) error {
		assert.Equal(t, fixed, tx.Now())
		return nil
	})
	require.NoError(t, err)
}

func TestPutWithoutReadIsRejected(t *testing.T) {
	ctx := context.Background()
	s := New()
	stall, err := s.CreateStall(ctx, domain.Stall{Name: "Cake Stall"})
	require.NoError(t, err)

	err = s.RunInTransaction(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.PutStall(ctx, *stall)
	})
	require.Error(t, err)
	assert.NotErrorIs(t, err, store.ErrTransactionAborted)
}

func TestNewSeededHasDemoStall(t *testing.T) {
	t.Setenv("SEED_SELLER_PIN", "2468")
	s := NewSeeded()

	stall, err := s.FindStallByPIN(context.Background(), "2468")
	require.NoError(t, err)
	assert.Equal(t, "Cake Stall", stall.Name)
	require.Len(t, stall.Products, 2)
	assert.True(t, stall.Products[0].TracksStock())
	assert.False(t, stall.Products[1].TracksStock())
}

func TestFindStallByPINPrefersEarliestStall(t *testing.T) {
	ctx := context.Background()
	s := New()

	first, err := s.CreateStall(ctx, domain.Stall{Name: "Zebra Tombola"})
	require.NoError(t, err)
	second, err := s.CreateStall(ctx, domain.Stall{Name: "Apple Bobbing"})
	require.NoError(t, err)
	require.NoError(t, s.SetSellerPIN(ctx, second.ID, "1111"))
	require.NoError(t, s.SetSellerPIN(ctx, first.ID, "1111"))

	found, err := s.FindStallByPIN(ctx, "1111")
	require.NoError(t, err)
	assert.Equal(t, first.ID, found.ID, "earliest-created stall wins, not the first by name")

	err = s.RunInTransaction(ctx, func(ctx context.Context, tx store.Tx) error {
		if _, err := tx.GetStall(ctx, first.ID); err != nil {
			return err
		}
		return tx.DeleteStall(ctx, first.ID)
	})
	require.NoError(t, err)

	found, err = s.FindStallByPIN(ctx, "1111")
	require.NoError(t, err)
	assert.Equal(t, second.ID, found.ID)
}

func TestReturnedStallsAreCopies(t *testing.T) {
	ctx := context.Background()
	s := NewSeeded()
	stalls, err := s.ListStalls(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, stalls)

	*stalls[0].Products[0].StockCount = -100

	fresh, err := s.GetStall(ctx, stalls[0].ID)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, *fresh.Products[0].StockCount, 0)
}
