package postgres

import (
	"context"
	"os"
	"testing"

	"stallmanager/backend/internal/store"
	"stallmanager/backend/internal/store/storetest"
)

func TestConformance(t *testing.T) {
	databaseURL := os.Getenv("STALLS_TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("set STALLS_TEST_DATABASE_URL to run postgres integration test")
	}

	ctx := context.Background()
	s, err := New(ctx, databaseURL, 20)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() {
		_ = s.Close()
	})
	if err := s.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	storetest.Run(t, func(t *testing.T) store.Repository {
		if _, err := s.db.ExecContext(ctx, `TRUNCATE sales, stalls, admin_users`); err != nil {
			t.Fatalf("truncate: %v", err)
		}
		return s
	})
}

func TestSaleWhere(t *testing.T) {
	where, args := saleWhere(store.SaleFilter{})
	if where != "" || len(args) != 0 {
		t.Fatalf("expected empty filter, got %q %v", where, args)
	}

	where, args = saleWhere(store.SaleFilter{StallID: "stall_1", ProductID: "prd_1"})
	if where != " WHERE stall_id = $1 AND product_id = $2" {
		t.Fatalf("unexpected where clause %q", where)
	}
	if len(args) != 2 || args[0] != "stall_1" || args[1] != "prd_1" {
		t.Fatalf("unexpected args %v", args)
	}

	where, _ = saleWhere(store.SaleFilter{ProductID: "prd_1"})
	if where != " WHERE product_id = $1" {
		t.Fatalf("unexpected where clause %q", where)
	}
}
