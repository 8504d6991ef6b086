package config

import (
	"testing"
	"time"
)

func TestLoadDoesNotInjectWeakAuthDefaults(t *testing.T) {
	t.Setenv("AUTH_SECRET", "")
	t.Setenv("ADMIN_EMAIL", "")
	t.Setenv("ADMIN_PASSWORD", "")

	cfg := Load()
	if cfg.AuthSecret != "" {
		t.Fatalf("expected empty AUTH_SECRET when unset, got %q", cfg.AuthSecret)
	}
	if cfg.AdminEmail != "" || cfg.AdminPassword != "" {
		t.Fatalf("expected no default admin credentials, got %q/%q", cfg.AdminEmail, cfg.AdminPassword)
	}
}

func TestLoadDefaultsAndOverrides(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("TX_MAX_ATTEMPTS", "0")
	t.Setenv("TX_TIMEOUT_SECONDS", "abc")
	t.Setenv("PIN_LOOKUP_TTL_SECONDS", "30")
	t.Setenv("CURRENCY_SYMBOL", "")
	t.Setenv("ADMIN_EMAIL", "  Admin@Church.org ")

	cfg := Load()
	if cfg.Address() != ":8080" {
		t.Fatalf("unexpected address %s", cfg.Address())
	}
	if cfg.TxMaxAttempts != 5 {
		t.Fatalf("invalid TX_MAX_ATTEMPTS should fall back to 5, got %d", cfg.TxMaxAttempts)
	}
	if cfg.TxTimeout() != 10*time.Second {
		t.Fatalf("unexpected tx timeout %s", cfg.TxTimeout())
	}
	if cfg.PINLookupTTL() != 30*time.Second {
		t.Fatalf("unexpected pin ttl %s", cfg.PINLookupTTL())
	}
	if cfg.CurrencySymbol != "£" {
		t.Fatalf("unexpected currency symbol %q", cfg.CurrencySymbol)
	}
	if cfg.AdminEmail != "admin@church.org" {
		t.Fatalf("expected normalized admin email, got %q", cfg.AdminEmail)
	}
}

func TestBackendSelection(t *testing.T) {
	cases := []struct {
		cfg  Config
		want string
	}{
		{Config{}, BackendMemory},
		{Config{MongoURI: "mongodb://localhost"}, BackendMongo},
		{Config{DatabaseURL: "postgres://localhost/stalls", MongoURI: "mongodb://localhost"}, BackendPostgres},
	}
	for _, tc := range cases {
		if got := tc.cfg.Backend(); got != tc.want {
			t.Fatalf("expected %s, got %s", tc.want, got)
		}
	}
}

func TestExportLocation(t *testing.T) {
	if _, err := (Config{ExportTimezone: "Mars/Olympus"}).ExportLocation(); err == nil {
		t.Fatalf("expected unknown timezone to fail")
	}
	loc, err := Config{ExportTimezone: "UTC"}.ExportLocation()
	if err != nil || loc != time.UTC {
		t.Fatalf("unexpected location %v err=%v", loc, err)
	}
}
