package logging

import (
	"fmt"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

// TestLogger wraps Logger with an observer core so tests can assert on
// emitted entries.
type TestLogger struct {
	*Logger
	observed *observer.ObservedLogs
}

// NewTestLogger creates an observing logger at trace level.
func NewTestLogger() *TestLogger {
	core, observed := observer.New(TraceLevel)
	return &TestLogger{
		Logger: &Logger{
			zap:    zap.New(core),
			config: NewDefaultConfig(),
		},
		observed: observed,
	}
}

// All returns all logged entries.
func (t *TestLogger) All() []observer.LoggedEntry {
	return t.observed.All()
}

// FilterMessage returns entries matching a message substring.
func (t *TestLogger) FilterMessage(msg string) *observer.ObservedLogs {
	return t.observed.FilterMessage(msg)
}

// AssertNoValue fails if the raw value appears anywhere in the logged
// output: messages, string fields, or stringified field values. Tests
// use it to prove tokens and mediated personal data never reach a log
// sink in the clear.
func (t *TestLogger) AssertNoValue(tb testing.TB, raw string) {
	tb.Helper()
	for _, entry := range t.observed.All() {
		if strings.Contains(entry.Message, raw) {
			tb.Errorf("value %q leaked in log message %q", raw, entry.Message)
		}
		for _, field := range entry.Context {
			if strings.Contains(field.String, raw) {
				tb.Errorf("value %q leaked in field %q of %q", raw, field.Key, entry.Message)
			}
			if field.Interface != nil && strings.Contains(fmt.Sprint(field.Interface), raw) {
				tb.Errorf("value %q leaked in field %q of %q", raw, field.Key, entry.Message)
			}
		}
	}
}
