package retrieval

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// StructuredStore serves non-semantic scopes: calendars, contact cards,
// structured notes. Records live in named tables; a descriptor's query
// names the table. Ranking is keyword overlap with the prompt, which keeps
// results deterministic for golden-test verification.
type StructuredStore struct {
	mu     sync.RWMutex
	tables map[string][]Document
}

// NewStructuredStore creates an empty store.
func NewStructuredStore() *StructuredStore {
	return &StructuredStore{
		tables: make(map[string][]Document),
	}
}

// Put stores documents under a table name, replacing nothing; documents
// with a duplicate id within the table are updated in place.
func (s *StructuredStore) Put(table string, docs ...Document) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing := s.tables[table]
	for _, doc := range docs {
		replaced := false
		for i := range existing {
			if existing[i].ID == doc.ID && doc.ID != "" {
				existing[i] = doc
				replaced = true
				break
			}
		}
		if !replaced {
			existing = append(existing, doc)
		}
	}
	s.tables[table] = existing
}

// Tables lists the known table names, sorted.
func (s *StructuredStore) Tables() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.tables))
	for name := range s.tables {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Query returns the topK records from the named table ranked by keyword
// overlap with the prompt. An unknown table yields no fragments, not an
// error; a scope pointing at absent data is an empty disclosure.
func (s *StructuredStore) Query(ctx context.Context, desc Descriptor, prompt string, topK int) ([]Fragment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	docs := s.tables[desc.Query]
	s.mu.RUnlock()

	if len(docs) == 0 || topK <= 0 {
		return []Fragment{}, nil
	}

	promptTokens := make(map[string]bool)
	for _, t := range tokenize(prompt) {
		promptTokens[t] = true
	}

	type scored struct {
		doc   Document
		score float32
		index int
	}
	candidates := make([]scored, 0, len(docs))
	for i, doc := range docs {
		candidates = append(candidates, scored{
			doc:   doc,
			score: overlapScore(promptTokens, doc.Text),
			index: i,
		})
	}

	// Stable order: score descending, insertion order as tie-break.
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		return candidates[i].index < candidates[j].index
	})

	if topK > len(candidates) {
		topK = len(candidates)
	}

	fragments := make([]Fragment, 0, topK)
	for _, c := range candidates[:topK] {
		fragments = append(fragments, Fragment{
			Text:  c.doc.Text,
			Score: c.score,
			Citation: Citation{
				Source: c.doc.Source,
				Ref:    c.doc.ID,
			},
		})
	}
	return fragments, nil
}

func overlapScore(promptTokens map[string]bool, text string) float32 {
	if len(promptTokens) == 0 {
		return 0
	}
	tokens := tokenize(strings.ToLower(text))
	if len(tokens) == 0 {
		return 0
	}

	matched := 0
	seen := make(map[string]bool)
	for _, t := range tokens {
		if promptTokens[t] && !seen[t] {
			matched++
			seen[t] = true
		}
	}
	return float32(matched) / float32(len(promptTokens))
}
