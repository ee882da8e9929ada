// Package policy holds the profile catalogue the mediator resolves
// disclosure decisions against. Snapshots are immutable; reload swaps the
// whole catalogue atomically so readers never see a half-loaded state.
package policy

import (
	"sort"
	"sync/atomic"
	"time"

	"github.com/ky13/synm/internal/retrieval"
)

// Profile is a named bundle of scope grants and redaction rules.
// Immutable once loaded; replaced wholesale on policy reload.
type Profile struct {
	ID               string
	AllowedScopes    map[string]bool
	RedactionRuleIDs []string
	DefaultTTL       time.Duration
}

// Allows reports whether the profile whitelists the given scope.
func (p *Profile) Allows(scopeID string) bool {
	return p.AllowedScopes[scopeID]
}

// Scope is a profile-independent data selector.
type Scope struct {
	ID     string
	Source retrieval.Descriptor
}

// Defaults apply where a profile leaves a value unspecified.
type Defaults struct {
	TTL       time.Duration
	MaxTokens int
}

// Snapshot is an immutable view of the full policy catalogue.
type Snapshot struct {
	Profiles map[string]*Profile
	Scopes   map[string]*Scope
	Defaults Defaults
	LoadedAt time.Time
}

// Decision is the resolved outcome for a (profile, scopes) request.
//
// Resolution is pure and total: unknown profiles and unknown scopes produce
// denials inside the decision, never errors, so every request stays auditable.
type Decision struct {
	GrantedScopes    []string
	DeniedScopes     []string
	RedactionRuleIDs []string
	TTL              time.Duration
	UnknownProfile   bool
}

// Allow reports whether the decision grants anything at all.
func (d Decision) Allow() bool {
	return !d.UnknownProfile && len(d.GrantedScopes) > 0
}

// Store publishes the current snapshot and answers Resolve queries.
// The snapshot pointer is swapped atomically on reload.
type Store struct {
	snapshot atomic.Pointer[Snapshot]
}

// NewStore creates a store holding the given initial snapshot.
func NewStore(snap *Snapshot) *Store {
	s := &Store{}
	if snap == nil {
		snap = &Snapshot{
			Profiles: map[string]*Profile{},
			Scopes:   map[string]*Scope{},
		}
	}
	s.snapshot.Store(snap)
	return s
}

// Snapshot returns the current immutable catalogue.
func (s *Store) Snapshot() *Snapshot {
	return s.snapshot.Load()
}

// Swap atomically replaces the catalogue. In-flight requests keep the
// snapshot they started with.
func (s *Store) Swap(snap *Snapshot) {
	s.snapshot.Store(snap)
}

// Resolve computes the policy decision for a profile and requested scopes.
//
// Granted scopes are the intersection of the request, the profile's
// whitelist, and the scope catalogue. Everything else lands in DeniedScopes.
// Partial grants are a normal outcome, not a failure.
func (s *Store) Resolve(profileID string, requestedScopes []string) Decision {
	snap := s.snapshot.Load()

	profile, ok := snap.Profiles[profileID]
	if !ok {
		return Decision{
			DeniedScopes:   dedupe(requestedScopes),
			UnknownProfile: true,
		}
	}

	var granted, denied []string
	seen := make(map[string]bool, len(requestedScopes))
	for _, scopeID := range requestedScopes {
		if seen[scopeID] {
			continue
		}
		seen[scopeID] = true

		if _, exists := snap.Scopes[scopeID]; exists && profile.Allows(scopeID) {
			granted = append(granted, scopeID)
		} else {
			denied = append(denied, scopeID)
		}
	}

	ttl := profile.DefaultTTL
	if ttl <= 0 {
		ttl = snap.Defaults.TTL
	}

	return Decision{
		GrantedScopes:    granted,
		DeniedScopes:     denied,
		RedactionRuleIDs: profile.RedactionRuleIDs,
		TTL:              ttl,
	}
}

// ScopeSource returns the retrieval descriptor for a scope id from the
// current snapshot, and whether the scope exists.
func (s *Store) ScopeSource(scopeID string) (retrieval.Descriptor, bool) {
	snap := s.snapshot.Load()
	scope, ok := snap.Scopes[scopeID]
	if !ok {
		return retrieval.Descriptor{}, false
	}
	return scope.Source, true
}

// ProfileIDs lists the configured profiles, sorted.
func (s *Store) ProfileIDs() []string {
	snap := s.snapshot.Load()
	ids := make([]string, 0, len(snap.Profiles))
	for id := range snap.Profiles {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func dedupe(in []string) []string {
	seen := make(map[string]bool, len(in))
	var out []string
	for _, v := range in {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	return out
}
