package main

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/arbor-commodities/sugarwire/internal/model"
	"github.com/arbor-commodities/sugarwire/internal/source"
	"github.com/arbor-commodities/sugarwire/internal/store"
)

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "sugarwire.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		poolCfg := &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		}
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, poolCfg)
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// loadSources reads the source catalog, preferring an explicit path over
// the embedded default.
func loadSources() ([]model.Source, error) {
	if cfg.Ingest.CatalogPath != "" {
		return source.LoadFile(cfg.Ingest.CatalogPath)
	}
	return source.LoadDefault()
}
