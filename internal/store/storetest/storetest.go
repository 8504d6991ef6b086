// Package storetest holds a conformance suite run against every store.Repository
// implementation.
package storetest

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stallmanager/backend/internal/domain"
	"stallmanager/backend/internal/store"
	"stallmanager/backend/internal/xid"
)

// Factory returns an empty repository. It is called once per subtest.
type Factory func(t *testing.T) store.Repository

func Run(t *testing.T, newRepo Factory) {
	t.Helper()

	t.Run("CreateAndGetStall", func(t *testing.T) { testCreateAndGetStall(t, newRepo(t)) })
	t.Run("AppendProductKeepsOrder", func(t *testing.T) { testAppendProduct(t, newRepo(t)) })
	t.Run("PlainWritesAndPINLookup", func(t *testing.T) { testPlainWrites(t, newRepo(t)) })
	t.Run("TransactionCommitsStallAndSales", func(t *testing.T) { testTransactionCommit(t, newRepo(t)) })
	t.Run("TransactionErrorRollsBack", func(t *testing.T) { testTransactionRollback(t, newRepo(t)) })
	t.Run("TransactionDeleteStall", func(t *testing.T) { testTransactionDelete(t, newRepo(t)) })
	t.Run("ConcurrentIncrementsSerialize", func(t *testing.T) { testConcurrentIncrements(t, newRepo(t)) })
	t.Run("Users", func(t *testing.T) { testUsers(t, newRepo(t)) })
}

func seedStall(t *testing.T, repo store.Repository, stock int) (*domain.Stall, domain.Product) {
	t.Helper()
	ctx := context.Background()

	stall, err := repo.CreateStall(ctx, domain.Stall{Name: "Cake Stall " + xid.New("")[:6]})
	require.NoError(t, err)

	product := domain.Product{
		ID:         xid.New("prd"),
		Name:       "Brownie",
		Price:      decimal.RequireFromString("2.00"),
		StockCount: &stock,
	}
	require.NoError(t, repo.AppendProduct(ctx, stall.ID, product))
	return stall, product
}

func testCreateAndGetStall(t *testing.T, repo store.Repository) {
	ctx := context.Background()

	created, err := repo.CreateStall(ctx, domain.Stall{Name: "Book Stall"})
	require.NoError(t, err)
	require.NotEmpty(t, created.ID)
	assert.Nil(t, created.SellerPIN)
	assert.Empty(t, created.Products)

	got, err := repo.GetStall(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "Book Stall", got.Name)

	_, err = repo.GetStall(ctx, "stall_missing")
	assert.ErrorIs(t, err, store.ErrNotFound)

	stalls, err := repo.ListStalls(ctx)
	require.NoError(t, err)
	require.Len(t, stalls, 1)
	assert.Equal(t, created.ID, stalls[0].ID)
}

func testAppendProduct(t *testing.T, repo store.Repository) {
	ctx := context.Background()
	stall, first := seedStall(t, repo, 5)

	tea := domain.Product{ID: xid.New("prd"), Name: "Tea", Price: decimal.RequireFromString("1.25")}
	require.NoError(t, repo.AppendProduct(ctx, stall.ID, tea))

	got, err := repo.GetStall(ctx, stall.ID)
	require.NoError(t, err)
	require.Len(t, got.Products, 2)
	assert.Equal(t, first.ID, got.Products[0].ID)
	assert.Equal(t, 5, *got.Products[0].StockCount)
	assert.True(t, got.Products[0].Price.Equal(decimal.RequireFromString("2")))
	assert.Equal(t, "Tea", got.Products[1].Name)
	assert.Nil(t, got.Products[1].StockCount)

	err = repo.AppendProduct(ctx, "stall_missing", tea)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func testPlainWrites(t *testing.T, repo store.Repository) {
	ctx := context.Background()
	stall, _ := seedStall(t, repo, 1)

	require.NoError(t, repo.SetStallName(ctx, stall.ID, "Renamed"))
	require.NoError(t, repo.SetSellerPIN(ctx, stall.ID, "4321"))

	found, err := repo.FindStallByPIN(ctx, "4321")
	require.NoError(t, err)
	assert.Equal(t, stall.ID, found.ID)
	assert.Equal(t, "Renamed", found.Name)

	require.NoError(t, repo.SetSellerPIN(ctx, stall.ID, ""))
	_, err = repo.FindStallByPIN(ctx, "4321")
	assert.ErrorIs(t, err, store.ErrNotFound)

	got, err := repo.GetStall(ctx, stall.ID)
	require.NoError(t, err)
	assert.Nil(t, got.SellerPIN)
	assert.Len(t, got.Products, 1)
}

func testTransactionCommit(t *testing.T, repo store.Repository) {
	ctx := context.Background()
	stall, product := seedStall(t, repo, 5)
	txID := xid.New("txn")

	var inserted []domain.Sale
	err := repo.RunInTransaction(ctx, func(ctx context.Context, tx store.Tx) error {
		current, err := tx.GetStall(ctx, stall.ID)
		if err != nil {
			return err
		}
		stock := *current.Products[0].StockCount - 3
		current.Products[0].StockCount = &stock
		if err := tx.PutStall(ctx, current); err != nil {
			return err
		}
		price := current.Products[0].Price
		inserted, err = tx.InsertSales(ctx, []domain.Sale{{
			StallID:       stall.ID,
			ProductID:     product.ID,
			TransactionID: txID,
			Quantity:      3,
			PricePerItem:  price,
			TotalPrice:    price.Mul(decimal.NewFromInt(3)),
			PaymentMethod: "Cash",
			Timestamp:     tx.Now(),
		}})
		return err
	})
	require.NoError(t, err)
	require.Len(t, inserted, 1)
	assert.NotEmpty(t, inserted[0].ID)

	got, err := repo.GetStall(ctx, stall.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, *got.Products[0].StockCount)

	sales, err := repo.ListSales(ctx, store.SaleFilter{StallID: stall.ID})
	require.NoError(t, err)
	require.Len(t, sales, 1)
	assert.Equal(t, txID, sales[0].TransactionID)
	assert.Equal(t, "Cash", sales[0].PaymentMethod)
	assert.True(t, sales[0].TotalPrice.Equal(decimal.RequireFromString("6.00")))
	assert.False(t, sales[0].Timestamp.IsZero())

	count, err := repo.CountSales(ctx, store.SaleFilter{StallID: stall.ID, ProductID: product.ID})
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func testTransactionRollback(t *testing.T, repo store.Repository) {
	ctx := context.Background()
	stall, product := seedStall(t, repo, 5)
	boom := errors.New("boom")

	err := repo.RunInTransaction(ctx, func(ctx context.Context, tx store.Tx) error {
		current, err := tx.GetStall(ctx, stall.ID)
		if err != nil {
			return err
		}
		zero := 0
		current.Products[0].StockCount = &zero
		if err := tx.PutStall(ctx, current); err != nil {
			return err
		}
		if _, err := tx.InsertSales(ctx, []domain.Sale{{
			StallID: stall.ID, ProductID: product.ID, TransactionID: "txn_x", Quantity: 5,
			PricePerItem: product.Price, TotalPrice: product.Price.Mul(decimal.NewFromInt(5)), Timestamp: tx.Now(),
		}}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	got, err := repo.GetStall(ctx, stall.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, *got.Products[0].StockCount)

	count, err := repo.CountSales(ctx, store.SaleFilter{StallID: stall.ID})
	require.NoError(t, err)
	assert.Zero(t, count)
}

func testTransactionDelete(t *testing.T, repo store.Repository) {
	ctx := context.Background()
	stall, _ := seedStall(t, repo, 1)

	err := repo.RunInTransaction(ctx, func(ctx context.Context, tx store.Tx) error {
		if _, err := tx.GetStall(ctx, stall.ID); err != nil {
			return err
		}
		n, err := tx.CountSales(ctx, store.SaleFilter{StallID: stall.ID})
		if err != nil {
			return err
		}
		require.Zero(t, n)
		return tx.DeleteStall(ctx, stall.ID)
	})
	require.NoError(t, err)

	_, err = repo.GetStall(ctx, stall.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)

	err = repo.RunInTransaction(ctx, func(ctx context.Context, tx store.Tx) error {
		_, err := tx.GetStall(ctx, stall.ID)
		return err
	})
	assert.ErrorIs(t, err, store.ErrNotFound)
}

// testConcurrentIncrements runs read-modify-write transactions in parallel and
// expects none of them to be lost.
func testConcurrentIncrements(t *testing.T, repo store.Repository) {
	ctx := context.Background()
	stall, _ := seedStall(t, repo, 0)

	const workers = 8
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- retryAborted(func() error {
				return repo.RunInTransaction(ctx, func(ctx context.Context, tx store.Tx) error {
					current, err := tx.GetStall(ctx, stall.ID)
					if err != nil {
						return err
					}
					next := *current.Products[0].StockCount + 1
					current.Products[0].StockCount = &next
					return tx.PutStall(ctx, current)
				})
			})
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	got, err := repo.GetStall(ctx, stall.ID)
	require.NoError(t, err)
	assert.Equal(t, workers, *got.Products[0].StockCount)
}

// retryAborted re-issues a whole operation the way a client would after
// ErrTransactionAborted, so heavy contention does not make the suite flaky.
func retryAborted(op func() error) error {
	var err error
	for i := 0; i < 20; i++ {
		if err = op(); !errors.Is(err, store.ErrTransactionAborted) {
			return err
		}
	}
	return err
}

func testUsers(t *testing.T, repo store.Repository) {
	ctx := context.Background()

	require.NoError(t, repo.CreateUser(ctx, domain.UserAccount{
		Email: "Admin@Example.org", Password: "hash-1", Role: domain.RoleAdmin, Active: true,
	}))
	err := repo.CreateUser(ctx, domain.UserAccount{Email: "admin@example.org", Password: "x", Role: domain.RoleAdmin})
	assert.ErrorIs(t, err, store.ErrUserExists)

	require.NoError(t, repo.UpdateUserPassword(ctx, "admin@example.org", "hash-2"))
	users, err := repo.ListUsers(ctx)
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, "admin@example.org", users[0].Email)
	assert.Equal(t, "hash-2", users[0].Password)
	assert.True(t, users[0].Active)

	err = repo.UpdateUserPassword(ctx, "nobody@example.org", "x")
	assert.ErrorIs(t, err, store.ErrNotFound)
}
