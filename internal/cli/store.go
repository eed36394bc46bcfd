package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tOgg1/courier/internal/config"
	"github.com/tOgg1/courier/internal/directory"
	"github.com/tOgg1/courier/internal/docstore"
	"github.com/tOgg1/courier/internal/events"
	"github.com/tOgg1/courier/internal/logging"
)

// backend is an opened store plus whatever it needs closed with it.
type backend struct {
	Store     docstore.Store
	Directory *directory.Resolver
	closers   []func() error
}

// Close closes the store and then the change feed.
func (b *backend) Close() error {
	var errs []error
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// openBackend opens the configured change feed and store.
func openBackend(ctx context.Context, cfg *config.Config) (*backend, error) {
	b := &backend{}
	opts := []docstore.Option{
		docstore.WithRetry(cfg.Store.RetryAttempts, cfg.Store.RetryBackoff),
		docstore.WithBusyTimeout(cfg.Store.BusyTimeoutMs),
		docstore.WithMaxConnections(cfg.Store.MaxConnections),
	}

	if cfg.Feed.Backend == config.BackendRedis {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Feed.RedisAddr,
			Password: cfg.Feed.RedisPassword,
			DB:       cfg.Feed.RedisDB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := client.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Feed.RedisAddr, err)
		}
		publisher, err := events.NewRedisPublisher(ctx, client, cfg.Feed.Channel)
		if err != nil {
			_ = client.Close()
			return nil, err
		}
		b.closers = append(b.closers, client.Close, publisher.Close)
		opts = append(opts, docstore.WithPublisher(publisher))
		logging.Logger.Info().Str("addr", cfg.Feed.RedisAddr).Str("channel", cfg.Feed.Channel).Msg("using redis change feed")
	}

	var (
		store docstore.Store
		err   error
	)
	switch cfg.Store.Backend {
	case config.BackendMemory:
		if cfg.Store.StrictIndexes {
			opts = append(opts, docstore.WithStrictIndexes(cfg.Store.Indexes...))
		}
		store = docstore.NewMemoryStore(opts...)
	case config.BackendPostgres:
		store, err = docstore.OpenPostgres(ctx, cfg.Store.DSN, opts...)
	default:
		if err := cfg.EnsureDirectories(); err != nil {
			_ = b.Close()
			return nil, err
		}
		store, err = docstore.OpenSQLite(ctx, cfg.DatabasePath(), opts...)
	}
	if err != nil {
		_ = b.Close()
		return nil, fmt.Errorf("failed to open %s store: %w", cfg.Store.Backend, err)
	}
	b.closers = append(b.closers, store.Close)
	b.Store = store

	source := directory.NewStoreSource(store)
	b.Directory = directory.NewResolver(source, source)
	return b, nil
}
