// Package backend wires the configured store and cache for the server and the CLI.
package backend

import (
	"context"
	"fmt"
	"log"

	"stallmanager/backend/internal/cache"
	"stallmanager/backend/internal/config"
	"stallmanager/backend/internal/service"
	"stallmanager/backend/internal/store"
	"stallmanager/backend/internal/store/memory"
	"stallmanager/backend/internal/store/mongodb"
	pgstore "stallmanager/backend/internal/store/postgres"
)

// OpenRepository connects to the backend named by cfg.Backend. A configured
// database that cannot be reached is an error; there is no silent fallback to
// memory.
func OpenRepository(ctx context.Context, cfg config.Config) (store.Repository, func() error, error) {
	switch cfg.Backend() {
	case config.BackendPostgres:
		pg, err := pgstore.New(ctx, cfg.DatabaseURL, cfg.TxMaxAttempts)
		if err != nil {
			return nil, nil, fmt.Errorf("postgres unavailable and DATABASE_URL is set: %w", err)
		}
		if err := pg.Migrate(ctx); err != nil {
			_ = pg.Close()
			return nil, nil, err
		}
		log.Println("repository: postgres")
		return pg, pg.Close, nil

	case config.BackendMongo:
		mg, err := mongodb.New(ctx, cfg.MongoURI, cfg.MongoDatabase, cfg.TxMaxAttempts)
		if err != nil {
			return nil, nil, fmt.Errorf("mongo unavailable and MONGO_URI is set: %w", err)
		}
		if err := mg.Migrate(ctx); err != nil {
			_ = mg.Close()
			return nil, nil, err
		}
		log.Println("repository: mongo")
		return mg, mg.Close, nil

	default:
		mem := memory.NewSeeded(memory.WithMaxAttempts(cfg.TxMaxAttempts))
		log.Println("repository: in-memory")
		return mem, mem.Close, nil
	}
}

// OpenPINCache returns the redis PIN cache when REDIS_ADDR is set and
// reachable, and the noop cache otherwise.
func OpenPINCache(ctx context.Context, cfg config.Config) (cache.PINLookupCache, func() error) {
	noop := func() error { return nil }
	if cfg.RedisAddr == "" {
		log.Println("cache: noop")
		return cache.NoopPINLookupCache{}, noop
	}

	redisCache := cache.NewRedisPINLookupCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err := redisCache.Ping(ctx); err != nil {
		log.Printf("redis unavailable (%v), using noop cache", err)
		_ = redisCache.Close()
		return cache.NoopPINLookupCache{}, noop
	}
	log.Println("cache: redis")
	return redisCache, redisCache.Close
}

// ServiceSettings translates cfg into service settings. An unknown export
// timezone is an error.
func ServiceSettings(cfg config.Config) (service.Settings, error) {
	loc, err := cfg.ExportLocation()
	if err != nil {
		return service.Settings{}, err
	}
	return service.Settings{
		CurrencySymbol: cfg.CurrencySymbol,
		ExportLocation: loc,
		PINCacheTTL:    cfg.PINLookupTTL(),
		TxTimeout:      cfg.TxTimeout(),
	}, nil
}
