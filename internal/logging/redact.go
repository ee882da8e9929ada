package logging

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/ky13/synm/internal/config"
)

// maxPatternLen bounds redaction pattern size. Redaction patterns run
// against every string field of every log line; an unbounded pattern is
// an invitation to catastrophic backtracking on the hot path.
const maxPatternLen = 200

const (
	redactedMarker = "[REDACTED]"
	patternMarker  = "[REDACTED:pattern]"
)

// Secret creates a Zap field for a config.Secret that logs only the
// value's length.
func Secret(key string, val config.Secret) zap.Field {
	return zap.Object(key, &secretMarshaler{key: key, val: val})
}

type secretMarshaler struct {
	key string
	val config.Secret
}

func (s *secretMarshaler) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddString(s.key, fmt.Sprintf("[REDACTED:%d]", len(s.val.Value())))
	return nil
}

// RedactedString creates a Zap field carrying only the value's length.
func RedactedString(key, val string) zap.Field {
	return zap.String(key, "[REDACTED:"+strconv.Itoa(len(val))+"]")
}

// redactionRules is the compiled form of a RedactionConfig: a lowered
// field-name set and the value patterns to scan string fields with.
type redactionRules struct {
	fields   map[string]bool
	patterns []*regexp.Regexp
}

func compileRules(cfg RedactionConfig) (*redactionRules, error) {
	r := &redactionRules{fields: make(map[string]bool, len(cfg.Fields))}
	for _, f := range cfg.Fields {
		r.fields[strings.ToLower(f)] = true
	}
	for _, p := range cfg.Patterns {
		if len(p) > maxPatternLen {
			return nil, fmt.Errorf("redaction pattern too long (max %d chars): %q", maxPatternLen, p)
		}
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("invalid redaction pattern %q: %w", p, err)
		}
		r.patterns = append(r.patterns, re)
	}
	return r, nil
}

func (r *redactionRules) blockedKey(key string) bool {
	return r != nil && r.fields[strings.ToLower(key)]
}

func (r *redactionRules) matchValue(val string) bool {
	if r == nil {
		return false
	}
	for _, re := range r.patterns {
		if re.MatchString(val) {
			return true
		}
	}
	return false
}

// RedactingEncoder wraps a zapcore.Encoder and masks sensitive fields
// before they reach any sink. The gateway's own log stream is itself a
// disclosure channel: a bearer token or a stray email address written
// to stdout escapes every policy check the mediator enforces.
type RedactingEncoder struct {
	zapcore.Encoder
	rules *redactionRules
}

// NewRedactingEncoder compiles the redaction rules over a base encoder.
func NewRedactingEncoder(base zapcore.Encoder, cfg RedactionConfig) (*RedactingEncoder, error) {
	if !cfg.Enabled {
		return &RedactingEncoder{Encoder: base}, nil
	}
	rules, err := compileRules(cfg)
	if err != nil {
		return nil, err
	}
	return &RedactingEncoder{Encoder: base, rules: rules}, nil
}

// AddString masks blocked field names and values matching a pattern.
func (e *RedactingEncoder) AddString(key, val string) {
	switch {
	case e.rules.blockedKey(key):
		e.Encoder.AddString(key, redactedMarker)
	case e.rules.matchValue(val):
		e.Encoder.AddString(key, patternMarker)
	default:
		e.Encoder.AddString(key, val)
	}
}

// AddByteString applies the same key and value rules as AddString.
func (e *RedactingEncoder) AddByteString(key string, val []byte) {
	switch {
	case e.rules.blockedKey(key):
		e.Encoder.AddByteString(key, []byte(redactedMarker))
	case e.rules.matchValue(string(val)):
		e.Encoder.AddByteString(key, []byte(patternMarker))
	default:
		e.Encoder.AddByteString(key, val)
	}
}

// AddBinary masks blocked field names.
func (e *RedactingEncoder) AddBinary(key string, val []byte) {
	if e.rules.blockedKey(key) {
		e.Encoder.AddBinary(key, []byte(redactedMarker))
		return
	}
	e.Encoder.AddBinary(key, val)
}

// AddReflected masks blocked field names. The reflected value is
// replaced wholesale; pattern scanning does not descend into it.
func (e *RedactingEncoder) AddReflected(key string, val interface{}) error {
	if e.rules.blockedKey(key) {
		e.Encoder.AddString(key, redactedMarker)
		return nil
	}
	return e.Encoder.AddReflected(key, val)
}

// AddArray masks blocked field names.
func (e *RedactingEncoder) AddArray(key string, arr zapcore.ArrayMarshaler) error {
	if e.rules.blockedKey(key) {
		e.Encoder.AddString(key, redactedMarker)
		return nil
	}
	return e.Encoder.AddArray(key, arr)
}

// AddObject masks blocked field names.
func (e *RedactingEncoder) AddObject(key string, obj zapcore.ObjectMarshaler) error {
	if e.rules.blockedKey(key) {
		e.Encoder.AddString(key, redactedMarker)
		return nil
	}
	return e.Encoder.AddObject(key, obj)
}

// Clone copies the encoder; the compiled rules are shared.
func (e *RedactingEncoder) Clone() zapcore.Encoder {
	return &RedactingEncoder{
		Encoder: e.Encoder.Clone(),
		rules:   e.rules,
	}
}
