// Package storage opens the docstore driver named by the store URL scheme.
package storage

import (
	"context"
	"fmt"
	"io/fs"
	"net/url"
	"os"

	"github.com/rs/zerolog"

	"textrpg-server/internal/platform/config"
	"textrpg-server/internal/platform/db"
	"textrpg-server/internal/platform/docstore"
	"textrpg-server/internal/platform/docstore/memstore"
	"textrpg-server/internal/platform/docstore/mongostore"
	"textrpg-server/internal/platform/docstore/pgstore"
	"textrpg-server/internal/platform/migrate"
)

func Open(ctx context.Context, cfg config.Config, logger zerolog.Logger) (docstore.Driver, error) {
	u, err := url.Parse(cfg.StoreURL)
	if err != nil {
		return nil, fmt.Errorf("parse STORE_URL: %w", err)
	}
	switch u.Scheme {
	case "mongodb", "mongodb+srv":
		return mongostore.Open(ctx, cfg.StoreURL, cfg.StoreDatabase)
	case "postgres", "postgresql":
		pool, err := db.Connect(ctx, cfg.StoreURL, db.PoolSettings{MaxConns: cfg.PGMaxConns, MinConns: cfg.PGMinConns})
		if err != nil {
			return nil, err
		}
		var files fs.FS = pgstore.Migrations()
		if cfg.MigrationDir != "" {
			files = os.DirFS(cfg.MigrationDir)
		}
		applied, err := migrate.Up(ctx, pool, files)
		if err != nil {
			pool.Close()
			return nil, err
		}
		if len(applied) > 0 {
			logger.Info().Strs("migrations", applied).Msg("migrations applied")
		}
		return pgstore.New(pool), nil
	case "memory":
		logger.Warn().Msg("using in-memory store; data is lost on restart")
		return memstore.New(), nil
	}
	return nil, fmt.Errorf("unsupported store scheme %q", u.Scheme)
}
