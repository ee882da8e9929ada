// Package retrieval provides the data-source collaborators the mediator
// queries for context fragments: an embedded chromem-go vector store, a
// remote qdrant store, and a structured note store, routed by source kind.
package retrieval

import (
	"context"
	"errors"
)

// Source kinds understood by the router.
const (
	KindVector     = "vector"
	KindStructured = "structured"
	KindQdrant     = "qdrant"
)

var (
	// ErrUnknownKind indicates a source descriptor kind with no registered store.
	ErrUnknownKind = errors.New("unknown source kind")

	// ErrStoreUnavailable indicates the backing store could not be reached.
	ErrStoreUnavailable = errors.New("retrieval store unavailable")
)

// Descriptor identifies what a scope selects from which store.
// Kind routes to a store; Query is an opaque selector that store understands
// (a tag filter, a collection name, a structured query string).
type Descriptor struct {
	Kind  string `koanf:"kind" json:"kind" yaml:"kind"`
	Query string `koanf:"query" json:"query" yaml:"query"`
}

// Citation points back at the document a fragment came from. Score is the
// retrieval relevance for ranked sources; structured lookups leave it zero.
type Citation struct {
	Source string  `json:"source"`
	Ref    string  `json:"ref,omitempty"`
	Score  float32 `json:"score,omitempty"`
}

// Fragment is a scored piece of candidate context returned by a store.
type Fragment struct {
	Text     string
	Score    float32
	Citation Citation
}

// Document is a unit of content loaded into a store.
type Document struct {
	ID       string            `json:"id"`
	Text     string            `json:"text"`
	Source   string            `json:"source"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Retriever answers scope queries with ranked fragments.
type Retriever interface {
	Query(ctx context.Context, desc Descriptor, prompt string, topK int) ([]Fragment, error)
}
