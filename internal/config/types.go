package config

import (
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"time"
)

// Duration parses "90s" / "5m" style strings from YAML and env vars.
type Duration time.Duration

// Duration returns the underlying time.Duration.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// UnmarshalText implements encoding.TextUnmarshaler. Negative durations
// are rejected; no timeout in synmd is meaningfully negative.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	if parsed < 0 {
		return fmt.Errorf("duration cannot be negative: %s", text)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration().String()), nil
}

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.Duration().String())
}

// Secret holds the bearer tokens and other credentials the gateway is
// configured with. Every serialization path emits a redaction marker:
// a config dump, a %v in a log line, or a JSON response must never be
// the place a token leaks. Compare with Equals, read with Value.
type Secret string

// IsSet reports whether the secret has a value.
func (s Secret) IsSet() bool {
	return s != ""
}

// Value returns the raw secret. Callers own keeping it out of output.
func (s Secret) Value() string {
	return string(s)
}

// Equals compares the secret against a presented credential in constant
// time. An unset secret matches nothing, including the empty string.
func (s Secret) Equals(presented string) bool {
	if !s.IsSet() {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(s), []byte(presented)) == 1
}

// String implements fmt.Stringer.
func (s Secret) String() string {
	if s == "" {
		return ""
	}
	return "[REDACTED]"
}

// GoString implements fmt.GoStringer, covering %#v formatting.
func (s Secret) GoString() string {
	return "Secret([REDACTED])"
}

// MarshalJSON implements json.Marshaler.
func (s Secret) MarshalJSON() ([]byte, error) {
	if s == "" {
		return json.Marshal("")
	}
	return json.Marshal("[REDACTED]")
}

// MarshalText implements encoding.TextMarshaler.
func (s Secret) MarshalText() ([]byte, error) {
	if s == "" {
		return []byte(""), nil
	}
	return []byte("[REDACTED]"), nil
}

// UnmarshalText implements encoding.TextUnmarshaler, accepting the raw
// value from config files and environment variables.
func (s *Secret) UnmarshalText(text []byte) error {
	*s = Secret(text)
	return nil
}
