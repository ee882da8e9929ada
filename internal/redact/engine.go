// Package redact applies policy-referenced redaction rules to context
// fragments before disclosure. Rules are pure regexp transforms: the same
// fragment and rule sequence always produce byte-identical output.
package redact

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
)

// ErrUnknownRule indicates a policy referenced a rule id the engine cannot
// resolve. The caller must drop the fragment rather than pass it through
// unredacted.
var ErrUnknownRule = errors.New("unknown redaction rule")

type compiledPattern struct {
	re          *regexp.Regexp
	replacement string
}

type compiledRule struct {
	id       string
	patterns []compiledPattern
}

// Engine resolves rule ids and applies them in order. Stateless after
// construction and safe for concurrent use without synchronization.
type Engine struct {
	rules map[string]*compiledRule
}

// NewEngine compiles the default rule set.
func NewEngine() (*Engine, error) {
	return NewEngineWithRules(DefaultRules())
}

// NewEngineWithRules compiles a custom rule set.
func NewEngineWithRules(rules []Rule) (*Engine, error) {
	compiled := make(map[string]*compiledRule, len(rules))
	for _, rule := range rules {
		cr := &compiledRule{id: rule.ID}
		for _, p := range rule.Patterns {
			re, err := regexp.Compile(p.Regexp)
			if err != nil {
				return nil, fmt.Errorf("compiling rule %q pattern: %w", rule.ID, err)
			}
			cr.patterns = append(cr.patterns, compiledPattern{re: re, replacement: p.Replacement})
		}
		compiled[rule.ID] = cr
	}
	return &Engine{rules: compiled}, nil
}

// MustNewEngine compiles the default rule set, panicking on error.
func MustNewEngine() *Engine {
	e, err := NewEngine()
	if err != nil {
		panic(err)
	}
	return e
}

// Apply runs the referenced rules over the fragment in listed order.
//
// Returns the sanitized text and the ids of rules that matched at least
// once. An unresolvable rule id returns ErrUnknownRule: policy the engine
// does not understand must never let text through unredacted.
func (e *Engine) Apply(fragment string, ruleIDs []string) (string, []string, error) {
	// Resolve everything up front so a bad rule id can't leak a
	// partially redacted fragment.
	resolved := make([]*compiledRule, 0, len(ruleIDs))
	for _, id := range ruleIDs {
		rule, ok := e.rules[id]
		if !ok {
			return "", nil, fmt.Errorf("%w: %q", ErrUnknownRule, id)
		}
		resolved = append(resolved, rule)
	}

	sanitized := fragment
	var applied []string
	for _, rule := range resolved {
		matched := false
		for _, p := range rule.patterns {
			if p.re.MatchString(sanitized) {
				matched = true
				sanitized = p.re.ReplaceAllString(sanitized, p.replacement)
			}
		}
		if matched {
			applied = append(applied, rule.id)
		}
	}

	return sanitized, applied, nil
}

// Has reports whether the engine resolves the given rule id.
func (e *Engine) Has(ruleID string) bool {
	_, ok := e.rules[ruleID]
	return ok
}

// RuleIDs lists all resolvable rule ids, sorted.
func (e *Engine) RuleIDs() []string {
	ids := make([]string, 0, len(e.rules))
	for id := range e.rules {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
