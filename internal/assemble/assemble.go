// Package assemble turns a resolved policy decision plus a prompt into the
// final bounded disclosure: it queries each granted scope, redacts every
// fragment, enforces the token budget, and collects citations.
package assemble

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ky13/synm/internal/logging"
	"github.com/ky13/synm/internal/redact"
	"github.com/ky13/synm/internal/retrieval"
)

// ScopeQuery names one granted scope and where its data lives.
type ScopeQuery struct {
	ID     string
	Source retrieval.Descriptor
}

// Request is one assembly job.
type Request struct {
	Prompt    string
	Scopes    []ScopeQuery
	RuleIDs   []string
	MaxTokens int
}

// FragmentOut is one disclosed fragment after redaction.
type FragmentOut struct {
	ScopeID  string
	Text     string
	Tokens   int
	Score    float32
	Citation retrieval.Citation
}

// Result is the assembled disclosure.
type Result struct {
	Context      string
	Fragments    []FragmentOut
	Citations    []retrieval.Citation
	RulesApplied []string
	TokensUsed   int
	ByteSize     int
	Skipped      int
	Dropped      int

	// FailedScopes lists scopes whose retrieval failed. They degrade to
	// denied rather than failing the request.
	FailedScopes []string
}

// Config tunes the assembler.
type Config struct {
	// TopK fragments requested per scope. Default: 5.
	TopK int
}

// Assembler is stateless per request and safe for concurrent use.
type Assembler struct {
	retriever retrieval.Retriever
	engine    *redact.Engine
	counter   TokenCounter
	topK      int
	logger    *logging.Logger
}

// New creates an assembler.
func New(retriever retrieval.Retriever, engine *redact.Engine, counter TokenCounter, cfg Config, logger *logging.Logger) *Assembler {
	topK := cfg.TopK
	if topK <= 0 {
		topK = 5
	}
	return &Assembler{
		retriever: retriever,
		engine:    engine,
		counter:   counter,
		topK:      topK,
		logger:    logger,
	}
}

type candidate struct {
	scopeOrder int
	rank       int
	scopeID    string
	fragment   retrieval.Fragment
}

// Assemble retrieves, redacts, budgets, and joins the disclosure.
//
// Scopes are queried concurrently; ordering of the result is deterministic:
// score descending, then scope request order, then retrieval rank. A
// fragment that would overflow the remaining budget is skipped whole and
// assembly continues with the next candidate. Fragments whose redaction
// rules cannot be resolved are dropped, never disclosed raw.
func (a *Assembler) Assemble(ctx context.Context, req Request) (*Result, error) {
	candidates, failed, err := a.retrieve(ctx, req)
	if err != nil {
		return nil, err
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].fragment.Score != candidates[j].fragment.Score {
			return candidates[i].fragment.Score > candidates[j].fragment.Score
		}
		if candidates[i].scopeOrder != candidates[j].scopeOrder {
			return candidates[i].scopeOrder < candidates[j].scopeOrder
		}
		return candidates[i].rank < candidates[j].rank
	})

	res := &Result{FailedScopes: failed}
	var parts []string
	seenText := make(map[string]bool)
	seenRule := make(map[string]bool)
	budget := req.MaxTokens

	for _, c := range candidates {
		sanitized, applied, err := a.engine.Apply(c.fragment.Text, req.RuleIDs)
		if err != nil {
			if errors.Is(err, redact.ErrUnknownRule) {
				a.logger.Warn(ctx, "dropping fragment with unresolvable redaction rule",
					zap.String("scope", c.scopeID),
					zap.Error(err),
				)
				res.Dropped++
				continue
			}
			return nil, err
		}

		if sanitized == "" || seenText[sanitized] {
			continue
		}

		tokens := a.counter.Count(sanitized)
		if budget >= 0 && res.TokensUsed+tokens > budget {
			res.Skipped++
			continue
		}

		seenText[sanitized] = true
		res.TokensUsed += tokens
		res.Fragments = append(res.Fragments, FragmentOut{
			ScopeID:  c.scopeID,
			Text:     sanitized,
			Tokens:   tokens,
			Score:    c.fragment.Score,
			Citation: c.fragment.Citation,
		})
		res.Citations = append(res.Citations, c.fragment.Citation)
		parts = append(parts, sanitized)

		for _, rule := range applied {
			if !seenRule[rule] {
				seenRule[rule] = true
				res.RulesApplied = append(res.RulesApplied, rule)
			}
		}
	}

	res.Context = strings.Join(parts, "\n\n")
	res.ByteSize = len(res.Context)
	return res, nil
}

// retrieve queries every scope concurrently, preserving request order.
// A scope whose store fails is degraded, not fatal; only context
// cancellation aborts the whole retrieval.
func (a *Assembler) retrieve(ctx context.Context, req Request) ([]candidate, []string, error) {
	perScope := make([][]retrieval.Fragment, len(req.Scopes))
	scopeErrs := make([]error, len(req.Scopes))

	g, gctx := errgroup.WithContext(ctx)
	var mu sync.Mutex

	for i, scope := range req.Scopes {
		g.Go(func() error {
			frags, err := a.retriever.Query(gctx, scope.Source, req.Prompt, a.topK)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				scopeErrs[i] = err
				return nil
			}
			perScope[i] = frags
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	var failed []string
	var candidates []candidate
	for i, frags := range perScope {
		if scopeErrs[i] != nil {
			a.logger.Warn(ctx, "scope retrieval failed, degrading to denied",
				zap.String("scope", req.Scopes[i].ID),
				zap.Error(scopeErrs[i]),
			)
			failed = append(failed, req.Scopes[i].ID)
			continue
		}
		for rank, f := range frags {
			candidates = append(candidates, candidate{
				scopeOrder: i,
				rank:       rank,
				scopeID:    req.Scopes[i].ID,
				fragment:   f,
			})
		}
	}
	return candidates, failed, nil
}
