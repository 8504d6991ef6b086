package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"stallmanager/backend/internal/cache"
	"stallmanager/backend/internal/domain"
	"stallmanager/backend/internal/store"
)

var ErrForbidden = errors.New("forbidden")

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

type Settings struct {
	CurrencySymbol string
	ExportLocation *time.Location
	PINCacheTTL    time.Duration
	// TxTimeout bounds one sale or stall edit including its retries. Zero disables it.
	TxTimeout time.Duration
}

type Service struct {
	repo     store.Repository
	pins     cache.PINLookupCache
	settings Settings
}

func New(repo store.Repository, pins cache.PINLookupCache, settings Settings) *Service {
	if pins == nil {
		pins = cache.NoopPINLookupCache{}
	}
	if settings.CurrencySymbol == "" {
		settings.CurrencySymbol = "£"
	}
	if settings.ExportLocation == nil {
		settings.ExportLocation = time.UTC
	}
	if settings.PINCacheTTL <= 0 {
		settings.PINCacheTTL = time.Minute
	}

	return &Service{
		repo:     repo,
		pins:     pins,
		settings: settings,
	}
}

// runInTransaction applies the configured timeout around repo.RunInTransaction.
func (s *Service) runInTransaction(ctx context.Context, fn store.TxFunc) error {
	if s.settings.TxTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.settings.TxTimeout)
		defer cancel()
	}
	return s.repo.RunInTransaction(ctx, fn)
}

func requireAdmin(ctx context.Context) error {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != domain.RoleAdmin {
		return fmt.Errorf("%w: admin role required", ErrForbidden)
	}
	return nil
}

// authorizeStall admits admins and the seller signed in to stallID.
func authorizeStall(ctx context.Context, stallID string) error {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return fmt.Errorf("%w: sign-in required", ErrForbidden)
	}
	switch actor.Role {
	case domain.RoleAdmin:
		return nil
	case domain.RoleSeller:
		if actor.StallID == stallID {
			return nil
		}
		return fmt.Errorf("%w: seller is not assigned to stall %s", ErrForbidden, stallID)
	default:
		return fmt.Errorf("%w: unknown role %q", ErrForbidden, actor.Role)
	}
}
