package mongodb

import (
	"context"
	"os"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"

	"stallmanager/backend/internal/domain"
	"stallmanager/backend/internal/store"
	"stallmanager/backend/internal/store/storetest"
	"stallmanager/backend/internal/xid"
)

func TestConformance(t *testing.T) {
	uri := os.Getenv("STALLS_TEST_MONGO_URI")
	if uri == "" {
		t.Skip("set STALLS_TEST_MONGO_URI (replica set) to run mongo integration test")
	}

	ctx := context.Background()
	s, err := New(ctx, uri, "stalls_it_"+xid.New("")[:8], 20)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = s.db.Drop(context.Background())
		_ = s.Close()
	})
	require.NoError(t, s.Migrate(ctx))

	storetest.Run(t, func(t *testing.T) store.Repository {
		for _, name := range []string{stallsCollection, salesCollection, usersCollection} {
			_, err := s.db.Collection(name).DeleteMany(ctx, bson.M{})
			require.NoError(t, err)
		}
		return s
	})
}

func TestDocumentConversion(t *testing.T) {
	stock := 3
	doc, err := newProductDocument(domain.Product{
		ID: "prd_1", Name: "Brownie", Price: decimal.RequireFromString("2.50"), StockCount: &stock,
	})
	require.NoError(t, err)

	stall, err := stallDocument{ID: "stall_1", Name: "Cake Stall", Products: []productDocument{doc}, Version: 4}.toDomain()
	require.NoError(t, err)
	require.Len(t, stall.Products, 1)
	assert.True(t, stall.Products[0].Price.Equal(decimal.RequireFromString("2.5")))
	assert.Equal(t, 3, *stall.Products[0].StockCount)
	assert.Equal(t, int64(4), stall.Version)

	sale, err := newSaleDocument(domain.Sale{
		ID: "sale_1", StallID: "stall_1", ProductID: "prd_1", Quantity: 2,
		PricePerItem: decimal.RequireFromString("2.50"), TotalPrice: decimal.RequireFromString("5.00"),
	})
	require.NoError(t, err)
	back, err := sale.toDomain()
	require.NoError(t, err)
	assert.True(t, back.TotalPrice.Equal(decimal.RequireFromString("5")))
	assert.Empty(t, back.PaymentMethod)
}

func TestSaleFilter(t *testing.T) {
	assert.Empty(t, saleFilter(store.SaleFilter{}))
	assert.Equal(t, bson.M{"stallId": "s", "productId": "p"}, saleFilter(store.SaleFilter{StallID: "s", ProductID: "p"}))
}
