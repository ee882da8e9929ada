package retrieval

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ky13/synm/internal/logging"
)

func TestLocalEmbedder_Deterministic(t *testing.T) {
	e := NewLocalEmbedder(DefaultVectorSize)
	ctx := context.Background()

	a, err := e.EmbedQuery(ctx, "quarterly report for the platform team")
	require.NoError(t, err)
	b, err := e.EmbedQuery(ctx, "quarterly report for the platform team")
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.Len(t, a, DefaultVectorSize)
}

func TestLocalEmbedder_Normalized(t *testing.T) {
	e := NewLocalEmbedder(64)

	vec, err := e.EmbedQuery(context.Background(), "some text to embed")
	require.NoError(t, err)

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	assert.InDelta(t, 1.0, norm, 1e-5)
}

func TestLocalEmbedder_EmptyText(t *testing.T) {
	e := NewLocalEmbedder(64)

	vec, err := e.EmbedQuery(context.Background(), "")
	require.NoError(t, err)
	assert.Len(t, vec, 64)
}

func newTestChromem(t *testing.T) *ChromemStore {
	t.Helper()
	store, err := NewChromemStore(
		ChromemConfig{Collection: "test_vault"},
		NewLocalEmbedder(64),
		logging.NewTestLogger().Logger,
	)
	require.NoError(t, err)
	return store
}

func TestChromemStore_AddAndQuery(t *testing.T) {
	ctx := context.Background()
	store := newTestChromem(t)

	require.NoError(t, store.Add(ctx, []Document{
		{ID: "n1", Text: "weekly sync notes about the billing migration", Source: "notes/work.md", Metadata: map[string]string{"tag": "work"}},
		{ID: "n2", Text: "grocery list apples bananas", Source: "notes/home.md", Metadata: map[string]string{"tag": "personal"}},
		{ID: "n3", Text: "billing migration rollout plan and owners", Source: "notes/plan.md", Metadata: map[string]string{"tag": "work"}},
	}))

	frags, err := store.Query(ctx, Descriptor{Kind: KindVector, Query: "tag:work"}, "billing migration status", 2)
	require.NoError(t, err)
	require.Len(t, frags, 2)

	for _, f := range frags {
		assert.NotEqual(t, "notes/home.md", f.Citation.Source, "filter must exclude personal notes")
		assert.NotEmpty(t, f.Citation.Ref)
	}
}

func TestChromemStore_EmptyCollection(t *testing.T) {
	store := newTestChromem(t)

	frags, err := store.Query(context.Background(), Descriptor{Kind: KindVector}, "anything", 5)
	require.NoError(t, err)
	assert.Empty(t, frags)
}

func TestChromemStore_EmptyPrompt(t *testing.T) {
	store := newTestChromem(t)

	frags, err := store.Query(context.Background(), Descriptor{Kind: KindVector}, "", 5)
	require.NoError(t, err)
	assert.Empty(t, frags)
}

func TestChromemStore_PersistsToDisk(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	store, err := NewChromemStore(
		ChromemConfig{Path: dir, Collection: "persist_vault"},
		NewLocalEmbedder(64),
		logging.NewTestLogger().Logger,
	)
	require.NoError(t, err)
	require.NoError(t, store.Add(ctx, []Document{
		{ID: "p1", Text: "persisted note", Source: "notes/p.md"},
	}))

	reopened, err := NewChromemStore(
		ChromemConfig{Path: dir, Collection: "persist_vault"},
		NewLocalEmbedder(64),
		logging.NewTestLogger().Logger,
	)
	require.NoError(t, err)

	frags, err := reopened.Query(ctx, Descriptor{Kind: KindVector}, "persisted note", 1)
	require.NoError(t, err)
	require.Len(t, frags, 1)
	assert.Equal(t, "persisted note", frags[0].Text)
}

func TestStructuredStore_QueryRanksByOverlap(t *testing.T) {
	s := NewStructuredStore()
	s.Put("calendar",
		Document{ID: "c1", Text: "dentist appointment tuesday morning", Source: "calendar"},
		Document{ID: "c2", Text: "platform team standup wednesday", Source: "calendar"},
		Document{ID: "c3", Text: "platform team retro friday standup", Source: "calendar"},
	)

	frags, err := s.Query(context.Background(), Descriptor{Kind: KindStructured, Query: "calendar"}, "platform team standup", 2)
	require.NoError(t, err)
	require.Len(t, frags, 2)

	assert.Equal(t, "c2", frags[0].Citation.Ref)
	assert.True(t, frags[0].Score >= frags[1].Score)
}

func TestStructuredStore_UnknownTable(t *testing.T) {
	s := NewStructuredStore()

	frags, err := s.Query(context.Background(), Descriptor{Kind: KindStructured, Query: "nope"}, "x", 3)
	require.NoError(t, err)
	assert.Empty(t, frags)
}

func TestStructuredStore_PutUpdatesInPlace(t *testing.T) {
	s := NewStructuredStore()
	s.Put("contacts", Document{ID: "a", Text: "old"})
	s.Put("contacts", Document{ID: "a", Text: "new contact entry"})

	frags, err := s.Query(context.Background(), Descriptor{Query: "contacts"}, "contact", 5)
	require.NoError(t, err)
	require.Len(t, frags, 1)
	assert.Equal(t, "new contact entry", frags[0].Text)
}

func TestRouter_DispatchesByKind(t *testing.T) {
	s := NewStructuredStore()
	s.Put("calendar", Document{ID: "c1", Text: "standup monday", Source: "calendar"})

	r := NewRouter(map[string]Retriever{KindStructured: s})

	frags, err := r.Query(context.Background(), Descriptor{Kind: KindStructured, Query: "calendar"}, "standup", 1)
	require.NoError(t, err)
	assert.Len(t, frags, 1)

	_, err = r.Query(context.Background(), Descriptor{Kind: "bogus"}, "x", 1)
	assert.ErrorIs(t, err, ErrUnknownKind)
}

func TestSeed_LoadsBothStores(t *testing.T) {
	dir := t.TempDir()
	seedPath := filepath.Join(dir, "seed.yaml")
	require.NoError(t, os.WriteFile(seedPath, []byte(`
documents:
  - id: bio-1
    kind: vector
    text: "Cloud engineer with five years of infrastructure experience"
    source: notes/bio.md
    metadata:
      tag: work
  - id: cal-1
    kind: structured
    table: calendar
    text: "team offsite thursday"
    source: calendar
`), 0o600))

	chromem := newTestChromem(t)
	structured := NewStructuredStore()

	n, err := Seed(context.Background(), seedPath, chromem, structured, logging.NewTestLogger().Logger)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	frags, err := chromem.Query(context.Background(), Descriptor{Kind: KindVector}, "infrastructure experience", 1)
	require.NoError(t, err)
	require.Len(t, frags, 1)

	frags, err = structured.Query(context.Background(), Descriptor{Query: "calendar"}, "offsite", 1)
	require.NoError(t, err)
	require.Len(t, frags, 1)
}

func TestSeed_RejectsUnknownKind(t *testing.T) {
	dir := t.TempDir()
	seedPath := filepath.Join(dir, "seed.yaml")
	require.NoError(t, os.WriteFile(seedPath, []byte(`
documents:
  - id: x1
    kind: graph
    text: "whatever"
`), 0o600))

	_, err := Seed(context.Background(), seedPath, newTestChromem(t), NewStructuredStore(), logging.NewTestLogger().Logger)
	assert.ErrorIs(t, err, ErrUnknownKind)
}

func TestParseSelector(t *testing.T) {
	assert.Equal(t, map[string]string{"tag": "work"}, parseSelector("tag:work"))
	assert.Equal(t, map[string]string{"tag": "work", "type": "note"}, parseSelector("tag:work type:note"))
	assert.Nil(t, parseSelector("free text query"))
	assert.Nil(t, parseSelector(""))
}

func TestOverlapScore_Bounds(t *testing.T) {
	tokens := map[string]bool{"alpha": true, "beta": true}

	assert.Equal(t, float32(1), overlapScore(tokens, "alpha beta gamma"))
	assert.Equal(t, float32(0.5), overlapScore(tokens, "alpha only"))
	assert.Equal(t, float32(0), overlapScore(tokens, "nothing matches"))
	assert.True(t, math.Abs(float64(overlapScore(nil, "x"))) < 1e-9)
}
