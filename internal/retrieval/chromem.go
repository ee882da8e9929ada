package retrieval

import (
	"context"
	"fmt"
	"os"
	"strings"

	chromem "github.com/philippgille/chromem-go"
	"go.uber.org/zap"

	"github.com/ky13/synm/internal/logging"
)

// ChromemConfig holds configuration for the embedded chromem-go vault.
type ChromemConfig struct {
	// Path is the directory for persistent storage. Empty means in-memory.
	Path string

	// Collection is the collection documents are stored in.
	Collection string

	// Compress enables gzip compression for stored data.
	Compress bool
}

// ApplyDefaults sets default values for unset fields.
func (c *ChromemConfig) ApplyDefaults() {
	if c.Collection == "" {
		c.Collection = "synm_vault"
	}
}

// ChromemStore is the embedded vector vault.
//
// chromem-go keeps everything in process with optional gob persistence, so
// the private knowledge store never leaves the machine unless the operator
// explicitly configures a remote backend.
type ChromemStore struct {
	db       *chromem.DB
	embedder Embedder
	config   ChromemConfig
	logger   *logging.Logger
}

// NewChromemStore opens (or creates) the vault at the configured path.
func NewChromemStore(config ChromemConfig, embedder Embedder, logger *logging.Logger) (*ChromemStore, error) {
	if embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	config.ApplyDefaults()

	var db *chromem.DB
	if config.Path == "" {
		db = chromem.NewDB()
	} else {
		if err := os.MkdirAll(config.Path, 0o700); err != nil {
			return nil, fmt.Errorf("creating vault directory %s: %w", config.Path, err)
		}
		var err error
		db, err = chromem.NewPersistentDB(config.Path, config.Compress)
		if err != nil {
			return nil, fmt.Errorf("opening chromem vault: %w", err)
		}
	}

	return &ChromemStore{
		db:       db,
		embedder: embedder,
		config:   config,
		logger:   logger,
	}, nil
}

func (s *ChromemStore) embeddingFunc() chromem.EmbeddingFunc {
	return func(ctx context.Context, text string) ([]float32, error) {
		return s.embedder.EmbedQuery(ctx, text)
	}
}

// Add indexes documents into the vault.
func (s *ChromemStore) Add(ctx context.Context, docs []Document) error {
	if len(docs) == 0 {
		return nil
	}

	collection, err := s.db.GetOrCreateCollection(s.config.Collection, nil, s.embeddingFunc())
	if err != nil {
		return fmt.Errorf("opening collection %s: %w", s.config.Collection, err)
	}

	texts := make([]string, len(docs))
	for i, d := range docs {
		texts[i] = d.Text
	}
	embeddings, err := s.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return fmt.Errorf("embedding documents: %w", err)
	}

	chromemDocs := make([]chromem.Document, len(docs))
	for i, d := range docs {
		id := d.ID
		if id == "" {
			return fmt.Errorf("document at index %d has no id", i)
		}
		meta := map[string]string{"source": d.Source}
		for k, v := range d.Metadata {
			meta[k] = v
		}
		chromemDocs[i] = chromem.Document{
			ID:        id,
			Content:   d.Text,
			Metadata:  meta,
			Embedding: embeddings[i],
		}
	}

	if err := collection.AddDocuments(ctx, chromemDocs, 1); err != nil {
		return fmt.Errorf("adding documents: %w", err)
	}

	s.logger.Debug(ctx, "indexed documents into vault",
		zap.String("collection", s.config.Collection),
		zap.Int("count", len(docs)),
	)
	return nil
}

// Query runs a similarity search filtered by the descriptor's selector.
func (s *ChromemStore) Query(ctx context.Context, desc Descriptor, prompt string, topK int) ([]Fragment, error) {
	if topK <= 0 {
		return nil, fmt.Errorf("topK must be positive, got %d", topK)
	}
	if prompt == "" {
		return []Fragment{}, nil
	}

	collection := s.db.GetCollection(s.config.Collection, s.embeddingFunc())
	if collection == nil {
		return []Fragment{}, nil
	}

	where := parseSelector(desc.Query)

	// chromem requires nResults <= doc count.
	count := collection.Count()
	if count == 0 {
		return []Fragment{}, nil
	}
	if topK > count {
		topK = count
	}

	results, err := collection.Query(ctx, prompt, topK, where, nil)
	if err != nil {
		return nil, fmt.Errorf("querying vault: %w", err)
	}

	fragments := make([]Fragment, 0, len(results))
	for _, r := range results {
		fragments = append(fragments, Fragment{
			Text:  r.Content,
			Score: r.Similarity,
			Citation: Citation{
				Source: r.Metadata["source"],
				Ref:    r.ID,
				Score:  r.Similarity,
			},
		})
	}
	return fragments, nil
}

// Close is a no-op; chromem persists on write.
func (s *ChromemStore) Close() error {
	return nil
}

// parseSelector turns a "key:value key2:value2" selector into a metadata
// filter. Terms without a colon are ignored; the prompt carries free text.
func parseSelector(query string) map[string]string {
	where := make(map[string]string)
	for _, term := range strings.Fields(query) {
		if k, v, ok := strings.Cut(term, ":"); ok && k != "" && v != "" {
			where[k] = v
		}
	}
	if len(where) == 0 {
		return nil
	}
	return where
}
