package retrieval

import (
	"context"
	"fmt"
	"os"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
	"go.uber.org/zap"

	"github.com/ky13/synm/internal/logging"
)

// VectorIndexer is any store documents can be embedded into.
type VectorIndexer interface {
	Add(ctx context.Context, docs []Document) error
}

type seedDocument struct {
	ID       string            `koanf:"id"`
	Kind     string            `koanf:"kind"`
	Table    string            `koanf:"table"`
	Text     string            `koanf:"text"`
	Source   string            `koanf:"source"`
	Metadata map[string]string `koanf:"metadata"`
}

type seedFile struct {
	Documents []seedDocument `koanf:"documents"`
}

// Seed loads a YAML seed file into the stores: vector documents are
// embedded into the indexer, structured documents land in their table.
// Returns the number of documents loaded.
func Seed(ctx context.Context, path string, vector VectorIndexer, structured *StructuredStore, logger *logging.Logger) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("reading seed file %s: %w", path, err)
	}

	k := koanf.New(".")
	if err := k.Load(rawbytes.Provider(data), yaml.Parser()); err != nil {
		return 0, fmt.Errorf("parsing seed file %s: %w", path, err)
	}

	var sf seedFile
	if err := k.Unmarshal("", &sf); err != nil {
		return 0, fmt.Errorf("unmarshaling seed file: %w", err)
	}

	var vectorDocs []Document
	loaded := 0
	for i, sd := range sf.Documents {
		if sd.ID == "" {
			return loaded, fmt.Errorf("seed document at index %d has no id", i)
		}
		doc := Document{
			ID:       sd.ID,
			Text:     sd.Text,
			Source:   sd.Source,
			Metadata: sd.Metadata,
		}

		switch sd.Kind {
		case KindVector, "":
			vectorDocs = append(vectorDocs, doc)
		case KindStructured:
			if sd.Table == "" {
				return loaded, fmt.Errorf("structured seed document %q has no table", sd.ID)
			}
			structured.Put(sd.Table, doc)
		default:
			return loaded, fmt.Errorf("seed document %q: %w: %q", sd.ID, ErrUnknownKind, sd.Kind)
		}
		loaded++
	}

	if len(vectorDocs) > 0 && vector != nil {
		if err := vector.Add(ctx, vectorDocs); err != nil {
			return 0, fmt.Errorf("indexing seed documents: %w", err)
		}
	}

	logger.Info(ctx, "seed data loaded",
		zap.String("path", path),
		zap.Int("documents", loaded),
		zap.Int("vector", len(vectorDocs)),
	)
	return loaded, nil
}
