package backend

import (
	"context"
	"testing"

	"stallmanager/backend/internal/cache"
	"stallmanager/backend/internal/config"
	"stallmanager/backend/internal/store/memory"
)

func TestOpenRepositoryDefaultsToSeededMemory(t *testing.T) {
	repo, closeFn, err := OpenRepository(context.Background(), config.Config{TxMaxAttempts: 3})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = closeFn() })

	if _, ok := repo.(*memory.Store); !ok {
		t.Fatalf("expected memory store, got %T", repo)
	}
	stalls, err := repo.ListStalls(context.Background())
	if err != nil || len(stalls) != 1 {
		t.Fatalf("expected one demo stall, got %d (err=%v)", len(stalls), err)
	}
}

func TestOpenRepositoryFailsWhenPostgresUnreachable(t *testing.T) {
	_, _, err := OpenRepository(context.Background(), config.Config{DatabaseURL: "postgres://nobody@127.0.0.1:1/none?connect_timeout=1"})
	if err == nil {
		t.Fatalf("expected unreachable postgres to fail")
	}
}

func TestOpenPINCacheFallsBackToNoop(t *testing.T) {
	c, closeFn := OpenPINCache(context.Background(), config.Config{})
	t.Cleanup(func() { _ = closeFn() })
	if _, ok := c.(cache.NoopPINLookupCache); !ok {
		t.Fatalf("expected noop cache, got %T", c)
	}

	c, closeFn2 := OpenPINCache(context.Background(), config.Config{RedisAddr: "127.0.0.1:1"})
	t.Cleanup(func() { _ = closeFn2() })
	if _, ok := c.(cache.NoopPINLookupCache); !ok {
		t.Fatalf("expected noop cache for unreachable redis, got %T", c)
	}
}

func TestServiceSettingsResolvesTimezone(t *testing.T) {
	settings, err := ServiceSettings(config.Config{
		CurrencySymbol:      "€",
		ExportTimezone:      "UTC",
		PINLookupTTLSeconds: 30,
		TxTimeoutSeconds:    4,
	})
	if err != nil {
		t.Fatalf("settings: %v", err)
	}
	if settings.CurrencySymbol != "€" || settings.ExportLocation.String() != "UTC" {
		t.Fatalf("unexpected settings %+v", settings)
	}
	if settings.PINCacheTTL.Seconds() != 30 || settings.TxTimeout.Seconds() != 4 {
		t.Fatalf("unexpected durations %+v", settings)
	}

	if _, err := ServiceSettings(config.Config{ExportTimezone: "Mars/Olympus"}); err == nil {
		t.Fatalf("expected unknown timezone to fail")
	}
}
