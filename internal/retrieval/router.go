package retrieval

import (
	"context"
	"fmt"
)

// Router dispatches scope queries to the store registered for the
// descriptor's kind.
type Router struct {
	stores map[string]Retriever
}

// NewRouter creates a router over the given kind→store mapping.
func NewRouter(stores map[string]Retriever) *Router {
	if stores == nil {
		stores = make(map[string]Retriever)
	}
	return &Router{stores: stores}
}

// Register adds or replaces the store for a kind.
func (r *Router) Register(kind string, store Retriever) {
	r.stores[kind] = store
}

// Query routes to the store for desc.Kind.
func (r *Router) Query(ctx context.Context, desc Descriptor, prompt string, topK int) ([]Fragment, error) {
	store, ok := r.stores[desc.Kind]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, desc.Kind)
	}
	return store.Query(ctx, desc, prompt, topK)
}
