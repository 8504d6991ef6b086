package cache

import (
	"context"
	"testing"
	"time"
)

func TestNoopCacheNeverHits(t *testing.T) {
	var c PINLookupCache = NoopPINLookupCache{}
	ctx := context.Background()

	if err := c.Set(ctx, "1234", "stall_1", time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}
	if _, ok, err := c.Get(ctx, "1234"); ok || err != nil {
		t.Fatalf("expected miss, got ok=%v err=%v", ok, err)
	}
	if err := c.Delete(ctx, "1234"); err != nil {
		t.Fatalf("delete: %v", err)
	}
}

func TestPINKey(t *testing.T) {
	if got := pinKey("0042"); got != "stalls:pin:0042" {
		t.Fatalf("unexpected key %q", got)
	}
}

func TestRedisCacheSkipsEmptyInput(t *testing.T) {
	c := NewRedisPINLookupCache("127.0.0.1:1", "", 0)
	t.Cleanup(func() { _ = c.Close() })

	if err := c.Set(context.Background(), "", "stall_1", time.Minute); err != nil {
		t.Fatalf("empty pin should be ignored: %v", err)
	}
	if err := c.Delete(context.Background(), "", ""); err != nil {
		t.Fatalf("empty delete should be ignored: %v", err)
	}
}
