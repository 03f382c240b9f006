// Package bootstrap wires the store, cache, importer and query service from configuration.
package bootstrap

import (
	"context"
	"fmt"
	"log"

	"github.com/passbi/timetable_core/internal/cache"
	"github.com/passbi/timetable_core/internal/config"
	"github.com/passbi/timetable_core/internal/db"
	"github.com/passbi/timetable_core/internal/importer"
	"github.com/passbi/timetable_core/internal/schedule"
	"github.com/passbi/timetable_core/internal/store"
)

// Services are the long-lived components shared by the commands
type Services struct {
	Store    store.Store
	Redis    *cache.Client
	Importer *importer.Importer
	Schedule *schedule.Service
}

// Open connects the configured store and, when enabled, Redis
func Open(ctx context.Context, cfg *config.Config) (*Services, error) {
	st, err := OpenStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	s := &Services{Store: st}

	var importerOpts []importer.Option
	var scheduleOpts []schedule.Option

	if cfg.Redis.Enabled {
		client, err := cache.Connect(ctx, &cfg.Redis)
		if err != nil {
			st.Close()
			return nil, err
		}
		log.Println("✓ Redis connection established")

		s.Redis = client
		importerOpts = append(importerOpts,
			importer.WithDistributedLock(client),
			importer.WithInvalidator(client),
		)
		scheduleOpts = append(scheduleOpts, schedule.WithCache(client, cache.DeparturesKey))
	}

	s.Importer = importer.New(st, importerOpts...)
	s.Schedule = schedule.NewService(st, scheduleOpts...)
	return s, nil
}

// OpenStore opens the store selected by cfg.Store.Driver
func OpenStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	switch cfg.Store.Driver {
	case config.StoreMemory:
		log.Println("✓ Using in-memory store")
		return store.NewMemoryStore(), nil

	case config.StoreSQLite:
		st, err := store.OpenSQLiteStore(ctx, cfg.Store.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("failed to open SQLite store: %w", err)
		}
		log.Printf("✓ SQLite store opened at %s", cfg.Store.SQLitePath)
		return st, nil

	case config.StorePostgres:
		pool, err := db.InitPoolWithConfig(&cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		st, err := store.NewPostgresStore(ctx, pool)
		if err != nil {
			db.Close()
			return nil, err
		}
		log.Println("✓ Database connection established")
		return st, nil

	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}

// Close releases every connection
func (s *Services) Close() {
	if s.Redis != nil {
		if err := s.Redis.Close(); err != nil {
			log.Printf("Warning: failed to close Redis: %v", err)
		}
	}
	if err := s.Store.Close(); err != nil {
		log.Printf("Warning: failed to close store: %v", err)
	}
	db.Close()
}
