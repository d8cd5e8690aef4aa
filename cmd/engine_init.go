package main

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/propscope/comp-engine/internal/etl"
	"github.com/propscope/comp-engine/internal/meshblock"
	"github.com/propscope/comp-engine/internal/provider"
	"github.com/propscope/comp-engine/internal/ranker"
	"github.com/propscope/comp-engine/internal/retrieval"
	"github.com/propscope/comp-engine/internal/store"
)

// engineEnv holds the initialized store, dataset and orchestrator shared
// by the run and batch commands.
type engineEnv struct {
	Store        store.Store
	Dataset      *meshblock.Dataset
	Orchestrator *etl.Orchestrator
}

// Close releases resources held by the engine environment.
func (e *engineEnv) Close() {
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// initStore opens and migrates the artifact store.
func initStore(ctx context.Context) (store.Store, error) {
	st, err := store.NewSQLite(cfg.Store.DSN)
	if err != nil {
		return nil, eris.Wrap(err, "open store")
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}
	return st, nil
}

// buildSearcher selects the provider implementation from configuration.
func buildSearcher() (provider.Searcher, error) {
	switch cfg.Provider.Name {
	case "http":
		return provider.NewHTTPProvider(cfg.Provider), nil
	case "mock":
		zap.L().Info("using mock provider")
		return provider.NewMockProvider(0, cfg.Provider.PageSize), nil
	default:
		return nil, eris.Errorf("unknown provider %q", cfg.Provider.Name)
	}
}

// initEngine sets up the store, boundary dataset, provider and pipeline.
// Callers should defer env.Close().
func initEngine(ctx context.Context) (*engineEnv, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}

	searcher, err := buildSearcher()
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	if cfg.MeshBlocks.Path == "" {
		_ = st.Close()
		return nil, eris.New("meshblocks.path not configured")
	}
	dataset, err := meshblock.Load(cfg.MeshBlocks.Path, meshblock.FieldNames{
		ID:       cfg.MeshBlocks.IDField,
		Category: cfg.MeshBlocks.CategoryField,
		Suburb:   cfg.MeshBlocks.SuburbField,
	})
	if err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "load mesh blocks")
	}

	batcher := retrieval.NewBatcher(searcher, retrieval.NewCache(cfg.Cache.TTL()), cfg.Provider)
	classifier := meshblock.NewClassifier(dataset, cfg.Classifier.TopK)
	rk := ranker.New(cfg.Ranker)

	return &engineEnv{
		Store:        st,
		Dataset:      dataset,
		Orchestrator: etl.NewOrchestrator(batcher, classifier, rk, st, cfg.Classifier),
	}, nil
}
