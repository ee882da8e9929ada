package main

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/ky13/synm/internal/assemble"
	"github.com/ky13/synm/internal/audit"
	"github.com/ky13/synm/internal/config"
	"github.com/ky13/synm/internal/logging"
	"github.com/ky13/synm/internal/policy"
	"github.com/ky13/synm/internal/redact"
	"github.com/ky13/synm/internal/retrieval"
)

// dependencies holds the infrastructure the mediator is wired onto.
type dependencies struct {
	policies  *policy.Store
	watcher   *policy.Watcher
	router    *retrieval.Router
	chromem   *retrieval.ChromemStore
	qdrant    *retrieval.QdrantStore
	engine    *redact.Engine
	counter   assemble.TokenCounter
	auditor   *audit.Logger
	publisher audit.Publisher
}

// Close releases infrastructure resources in reverse wiring order.
func (d *dependencies) Close(ctx context.Context) {
	if d.watcher != nil {
		d.watcher.Stop()
	}
	if d.publisher != nil {
		d.publisher.Close()
	}
	if d.auditor != nil {
		_ = d.auditor.Close()
	}
	if d.chromem != nil {
		_ = d.chromem.Close()
	}
	if d.qdrant != nil {
		_ = d.qdrant.Close()
	}
}

func initDependencies(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*dependencies, error) {
	deps := &dependencies{}

	// Policy catalogue, with optional hot reload.
	source := policy.NewFileSource(cfg.Policy.Path)
	snapshot, err := source.LoadSnapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading policy catalogue: %w", err)
	}
	deps.policies = policy.NewStore(snapshot)

	if cfg.Policy.Watch {
		watcher, err := policy.NewWatcher(deps.policies, source, logger)
		if err != nil {
			return nil, fmt.Errorf("creating policy watcher: %w", err)
		}
		if err := watcher.Start(ctx); err != nil {
			return nil, fmt.Errorf("starting policy watcher: %w", err)
		}
		deps.watcher = watcher
	}

	// Retrieval backends behind one router.
	embedder := retrieval.NewLocalEmbedder(retrieval.DefaultVectorSize)
	structured := retrieval.NewStructuredStore()

	var semantic retrieval.Retriever
	var indexer retrieval.VectorIndexer

	switch cfg.Retrieval.Provider {
	case "qdrant":
		store, err := retrieval.NewQdrantStore(ctx, retrieval.QdrantConfig{
			Host:       cfg.Retrieval.Qdrant.Host,
			Port:       cfg.Retrieval.Qdrant.Port,
			UseTLS:     cfg.Retrieval.Qdrant.UseTLS,
			APIKey:     cfg.Retrieval.Qdrant.APIKey.Value(),
			Collection: cfg.Retrieval.Qdrant.Collection,
			VectorSize: cfg.Retrieval.Qdrant.VectorSize,
		}, embedder, logger)
		if err != nil {
			return nil, fmt.Errorf("connecting to qdrant: %w", err)
		}
		deps.qdrant = store
		semantic, indexer = store, store
	case "chromem", "":
		store, err := retrieval.NewChromemStore(retrieval.ChromemConfig{
			Path:       cfg.Retrieval.Chromem.Path,
			Collection: cfg.Retrieval.Chromem.Collection,
			Compress:   cfg.Retrieval.Chromem.Compress,
		}, embedder, logger)
		if err != nil {
			return nil, fmt.Errorf("opening chromem store: %w", err)
		}
		deps.chromem = store
		semantic, indexer = store, store
	default:
		return nil, fmt.Errorf("unknown retrieval provider %q", cfg.Retrieval.Provider)
	}

	deps.router = retrieval.NewRouter(map[string]retrieval.Retriever{
		retrieval.KindVector:     semantic,
		retrieval.KindQdrant:     semantic,
		retrieval.KindStructured: structured,
	})

	if cfg.Retrieval.SeedPath != "" {
		n, err := retrieval.Seed(ctx, cfg.Retrieval.SeedPath, indexer, structured, logger)
		if err != nil {
			return nil, fmt.Errorf("seeding stores: %w", err)
		}
		logger.Info(ctx, "stores seeded", zap.Int("documents", n))
	}

	// Redaction and token counting.
	deps.engine, err = redact.NewEngine()
	if err != nil {
		return nil, fmt.Errorf("compiling redaction rules: %w", err)
	}
	deps.counter = assemble.NewTokenCounter()

	// Audit log with export signing key.
	signingKey, err := loadOrCreateSigningKey(cfg.Audit.SigningKeyPath)
	if err != nil {
		return nil, fmt.Errorf("loading signing key: %w", err)
	}

	deps.auditor, err = audit.NewLogger(cfg.Audit.Path, logger, audit.WithSigningKey(signingKey))
	if err != nil {
		return nil, fmt.Errorf("opening audit log: %w", err)
	}

	if cfg.Audit.NATSURL != "" {
		pub, err := audit.NewNATSPublisher(cfg.Audit.NATSURL, cfg.Audit.Subject, logger)
		if err != nil {
			return nil, fmt.Errorf("connecting audit publisher: %w", err)
		}
		deps.publisher = pub
	} else {
		deps.publisher = audit.NoopPublisher{}
	}

	return deps, nil
}

// loadOrCreateSigningKey reads the ed25519 key at path, generating and
// persisting one if the file does not exist yet.
func loadOrCreateSigningKey(path string) (ed25519.PrivateKey, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		kp, err := audit.GenerateKeyPair()
		if err != nil {
			return nil, err
		}
		if err := audit.SavePrivateKeyBase64(path, kp.Private); err != nil {
			return nil, err
		}
		return kp.Private, nil
	}
	return audit.LoadPrivateKeyBase64(path)
}
