package main

import (
	"context"
	"fmt"

	"github.com/ethpandaops/resultsdb/pkg/config"
	"github.com/ethpandaops/resultsdb/pkg/store"
)

// openStoreForReading opens the configured store without clearing it.
func openStoreForReading(ctx context.Context, cfg *config.Config) (store.Store, error) {
	if err := requireDatabase(cfg); err != nil {
		return nil, err
	}

	dbCfg := cfg.Database
	dbCfg.Stack = true

	st := store.NewStore(log, &dbCfg)
	if err := st.Start(ctx); err != nil {
		return nil, fmt.Errorf("starting store: %w", err)
	}

	return st, nil
}
