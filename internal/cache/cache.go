package cache

import (
	"context"
	"time"
)

// PINLookupCache maps a seller PIN to the stall it opens. Entries are hints:
// callers re-check the stall before trusting a hit.
type PINLookupCache interface {
	Get(ctx context.Context, pin string) (string, bool, error)
	Set(ctx context.Context, pin string, stallID string, ttl time.Duration) error
	Delete(ctx context.Context, pins ...string) error
}

type NoopPINLookupCache struct{}

func (NoopPINLookupCache) Get(_ context.Context, _ string) (string, bool, error) {
	return "", false, nil
}

func (NoopPINLookupCache) Set(_ context.Context, _ string, _ string, _ time.Duration) error {
	return nil
}

func (NoopPINLookupCache) Delete(_ context.Context, _ ...string) error {
	return nil
}
