package assemble

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ky13/synm/internal/logging"
	"github.com/ky13/synm/internal/redact"
	"github.com/ky13/synm/internal/retrieval"
)

// wordCounter makes budget math readable in tests: one token per word.
type wordCounter struct{}

func (wordCounter) Count(text string) int {
	return len(strings.Fields(text))
}

type fakeRetriever struct {
	byQuery map[string][]retrieval.Fragment
	err     error
}

func (f *fakeRetriever) Query(ctx context.Context, desc retrieval.Descriptor, prompt string, topK int) ([]retrieval.Fragment, error) {
	if f.err != nil {
		return nil, f.err
	}
	frags := f.byQuery[desc.Query]
	if len(frags) > topK {
		frags = frags[:topK]
	}
	return frags, nil
}

func newAssembler(t *testing.T, r retrieval.Retriever) *Assembler {
	t.Helper()
	return New(r, redact.MustNewEngine(), wordCounter{}, Config{TopK: 5}, logging.NewTestLogger().Logger)
}

func frag(text string, score float32, source string) retrieval.Fragment {
	return retrieval.Fragment{
		Text:     text,
		Score:    score,
		Citation: retrieval.Citation{Source: source},
	}
}

func TestAssemble_OrdersByScoreThenScopeOrder(t *testing.T) {
	r := &fakeRetriever{byQuery: map[string][]retrieval.Fragment{
		"a": {frag("medium from a", 0.5, "a1"), frag("low from a", 0.2, "a2")},
		"b": {frag("high from b", 0.9, "b1"), frag("medium from b", 0.5, "b2")},
	}}
	a := newAssembler(t, r)

	res, err := a.Assemble(context.Background(), Request{
		Prompt: "anything",
		Scopes: []ScopeQuery{
			{ID: "scope_a", Source: retrieval.Descriptor{Query: "a"}},
			{ID: "scope_b", Source: retrieval.Descriptor{Query: "b"}},
		},
		MaxTokens: 100,
	})
	require.NoError(t, err)
	require.Len(t, res.Fragments, 4)

	assert.Equal(t, "high from b", res.Fragments[0].Text)
	// Equal scores tie-break on scope request order: scope_a before scope_b.
	assert.Equal(t, "medium from a", res.Fragments[1].Text)
	assert.Equal(t, "medium from b", res.Fragments[2].Text)
	assert.Equal(t, "low from a", res.Fragments[3].Text)
}

func TestAssemble_BudgetSkipsWholeFragments(t *testing.T) {
	r := &fakeRetriever{byQuery: map[string][]retrieval.Fragment{
		"a": {
			frag("one two three four five", 0.9, "big"),
			frag("one two", 0.8, "small"),
		},
	}}
	a := newAssembler(t, r)

	res, err := a.Assemble(context.Background(), Request{
		Prompt:    "x",
		Scopes:    []ScopeQuery{{ID: "s", Source: retrieval.Descriptor{Query: "a"}}},
		MaxTokens: 3,
	})
	require.NoError(t, err)

	// The five-word fragment overflows and is skipped whole; the two-word
	// one still fits.
	require.Len(t, res.Fragments, 1)
	assert.Equal(t, "one two", res.Fragments[0].Text)
	assert.Equal(t, 2, res.TokensUsed)
	assert.Equal(t, 1, res.Skipped)
}

func TestAssemble_TinyBudgetYieldsEmptyContext(t *testing.T) {
	r := &fakeRetriever{byQuery: map[string][]retrieval.Fragment{
		"a": {frag("several words in here", 0.9, "s")},
	}}
	a := newAssembler(t, r)

	res, err := a.Assemble(context.Background(), Request{
		Prompt:    "x",
		Scopes:    []ScopeQuery{{ID: "s", Source: retrieval.Descriptor{Query: "a"}}},
		MaxTokens: 1,
	})
	require.NoError(t, err)

	assert.Empty(t, res.Fragments)
	assert.Empty(t, res.Context)
	assert.Zero(t, res.TokensUsed)
	assert.Equal(t, 1, res.Skipped)
}

func TestAssemble_RedactsFragments(t *testing.T) {
	r := &fakeRetriever{byQuery: map[string][]retrieval.Fragment{
		"a": {frag("email jane@example.com for details", 0.9, "notes")},
	}}
	a := newAssembler(t, r)

	res, err := a.Assemble(context.Background(), Request{
		Prompt:    "x",
		Scopes:    []ScopeQuery{{ID: "s", Source: retrieval.Descriptor{Query: "a"}}},
		RuleIDs:   []string{"mask_emails", "drop_phone"},
		MaxTokens: 100,
	})
	require.NoError(t, err)

	require.Len(t, res.Fragments, 1)
	assert.NotContains(t, res.Context, "jane@example.com")
	assert.Contains(t, res.Context, "[EMAIL]")
	assert.Equal(t, []string{"mask_emails"}, res.RulesApplied)
}

func TestAssemble_UnknownRuleDropsEveryFragment(t *testing.T) {
	r := &fakeRetriever{byQuery: map[string][]retrieval.Fragment{
		"a": {frag("sensitive payload", 0.9, "s1"), frag("another payload", 0.5, "s2")},
	}}
	a := newAssembler(t, r)

	res, err := a.Assemble(context.Background(), Request{
		Prompt:    "x",
		Scopes:    []ScopeQuery{{ID: "s", Source: retrieval.Descriptor{Query: "a"}}},
		RuleIDs:   []string{"mask_emails", "rule_from_the_future"},
		MaxTokens: 100,
	})
	require.NoError(t, err)

	assert.Empty(t, res.Fragments, "unresolvable rules must never disclose raw text")
	assert.Empty(t, res.Context)
	assert.Equal(t, 2, res.Dropped)
}

func TestAssemble_DeduplicatesSanitizedText(t *testing.T) {
	r := &fakeRetriever{byQuery: map[string][]retrieval.Fragment{
		"a": {frag("same text", 0.9, "s1")},
		"b": {frag("same text", 0.8, "s2")},
	}}
	a := newAssembler(t, r)

	res, err := a.Assemble(context.Background(), Request{
		Prompt: "x",
		Scopes: []ScopeQuery{
			{ID: "sa", Source: retrieval.Descriptor{Query: "a"}},
			{ID: "sb", Source: retrieval.Descriptor{Query: "b"}},
		},
		MaxTokens: 100,
	})
	require.NoError(t, err)

	require.Len(t, res.Fragments, 1)
	assert.Equal(t, "sa", res.Fragments[0].ScopeID)
}

func TestAssemble_RetrievalFailureDegradesScope(t *testing.T) {
	a := newAssembler(t, &fakeRetriever{err: errors.New("store down")})

	res, err := a.Assemble(context.Background(), Request{
		Prompt: "x",
		Scopes: []ScopeQuery{
			{ID: "s1", Source: retrieval.Descriptor{Query: "a"}},
			{ID: "s2", Source: retrieval.Descriptor{Query: "b"}},
		},
		MaxTokens: 100,
	})
	require.NoError(t, err)

	assert.Empty(t, res.Fragments)
	assert.Equal(t, []string{"s1", "s2"}, res.FailedScopes)
}

func TestAssemble_PartialRetrievalFailure(t *testing.T) {
	working := &fakeRetriever{byQuery: map[string][]retrieval.Fragment{
		"a": {frag("usable fragment", 0.9, "src")},
	}}
	r := &routingRetriever{working: working, failQuery: "b"}
	a := newAssembler(t, r)

	res, err := a.Assemble(context.Background(), Request{
		Prompt: "x",
		Scopes: []ScopeQuery{
			{ID: "good", Source: retrieval.Descriptor{Query: "a"}},
			{ID: "bad", Source: retrieval.Descriptor{Query: "b"}},
		},
		MaxTokens: 100,
	})
	require.NoError(t, err)

	require.Len(t, res.Fragments, 1)
	assert.Equal(t, "good", res.Fragments[0].ScopeID)
	assert.Equal(t, []string{"bad"}, res.FailedScopes)
}

type routingRetriever struct {
	working   *fakeRetriever
	failQuery string
}

func (r *routingRetriever) Query(ctx context.Context, desc retrieval.Descriptor, prompt string, topK int) ([]retrieval.Fragment, error) {
	if desc.Query == r.failQuery {
		return nil, errors.New("store down")
	}
	return r.working.Query(ctx, desc, prompt, topK)
}

func TestAssemble_NoScopes(t *testing.T) {
	a := newAssembler(t, &fakeRetriever{})

	res, err := a.Assemble(context.Background(), Request{Prompt: "x", MaxTokens: 100})
	require.NoError(t, err)

	assert.Empty(t, res.Fragments)
	assert.Empty(t, res.Context)
	assert.Zero(t, res.ByteSize)
}

func TestAssemble_CitationsFollowInclusionOrder(t *testing.T) {
	r := &fakeRetriever{byQuery: map[string][]retrieval.Fragment{
		"a": {frag("first fragment", 0.9, "src1"), frag("second fragment", 0.5, "src2")},
	}}
	a := newAssembler(t, r)

	res, err := a.Assemble(context.Background(), Request{
		Prompt:    "x",
		Scopes:    []ScopeQuery{{ID: "s", Source: retrieval.Descriptor{Query: "a"}}},
		MaxTokens: 100,
	})
	require.NoError(t, err)

	require.Len(t, res.Citations, 2)
	assert.Equal(t, "src1", res.Citations[0].Source)
	assert.Equal(t, "src2", res.Citations[1].Source)
}

func TestAssemble_Deterministic(t *testing.T) {
	r := &fakeRetriever{byQuery: map[string][]retrieval.Fragment{
		"a": {frag("alpha notes jane@example.com", 0.7, "a1"), frag("beta notes", 0.7, "a2")},
		"b": {frag("gamma notes", 0.7, "b1")},
	}}
	a := newAssembler(t, r)

	req := Request{
		Prompt: "notes",
		Scopes: []ScopeQuery{
			{ID: "sa", Source: retrieval.Descriptor{Query: "a"}},
			{ID: "sb", Source: retrieval.Descriptor{Query: "b"}},
		},
		RuleIDs:   []string{"mask_emails"},
		MaxTokens: 100,
	}

	first, err := a.Assemble(context.Background(), req)
	require.NoError(t, err)

	for i := 0; i < 20; i++ {
		res, err := a.Assemble(context.Background(), req)
		require.NoError(t, err)
		assert.Equal(t, first.Context, res.Context)
	}
}

func TestByteCounter(t *testing.T) {
	c := ByteCounter{}
	assert.Equal(t, 0, c.Count(""))
	assert.Equal(t, 1, c.Count("abc"))
	assert.Equal(t, 1, c.Count("abcd"))
	assert.Equal(t, 2, c.Count("abcde"))
}
