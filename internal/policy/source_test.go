package policy

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ky13/synm/internal/logging"
	"github.com/ky13/synm/internal/retrieval"
)

const basePolicy = `
defaults:
  ttl_minutes: 15
  max_tokens: 1200

scopes:
  notes_work:
    kind: vector
    query: "tag:work"
  calendar:
    kind: structured
    query: "calendar"

profiles:
  work:
    allowed_scopes: [notes_work, calendar]
    redactions: [mask_emails, drop_phone]
    ttl_minutes: 30
`

func writePolicy(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o600))
}

func TestFileSource_LoadSnapshot(t *testing.T) {
	dir := t.TempDir()
	writePolicy(t, dir, "base.yaml", basePolicy)

	snap, err := NewFileSource(dir).LoadSnapshot(context.Background())
	require.NoError(t, err)

	require.Contains(t, snap.Profiles, "work")
	work := snap.Profiles["work"]
	assert.True(t, work.Allows("notes_work"))
	assert.True(t, work.Allows("calendar"))
	assert.False(t, work.Allows("notes_personal"))
	assert.Equal(t, []string{"mask_emails", "drop_phone"}, work.RedactionRuleIDs)
	assert.Equal(t, 30*time.Minute, work.DefaultTTL)

	require.Contains(t, snap.Scopes, "notes_work")
	assert.Equal(t, retrieval.KindVector, snap.Scopes["notes_work"].Source.Kind)

	assert.Equal(t, 15*time.Minute, snap.Defaults.TTL)
	assert.Equal(t, 1200, snap.Defaults.MaxTokens)
}

func TestFileSource_MergesFilesInLexicalOrder(t *testing.T) {
	dir := t.TempDir()
	writePolicy(t, dir, "10-base.yaml", basePolicy)
	writePolicy(t, dir, "20-extra.yaml", `
profiles:
  personal:
    allowed_scopes: [notes_personal]
scopes:
  notes_personal:
    kind: vector
    query: "tag:personal"
`)

	snap, err := NewFileSource(dir).LoadSnapshot(context.Background())
	require.NoError(t, err)

	assert.Contains(t, snap.Profiles, "work")
	assert.Contains(t, snap.Profiles, "personal")
	assert.Contains(t, snap.Scopes, "notes_personal")
}

func TestFileSource_MissingDirYieldsEmptySnapshot(t *testing.T) {
	snap, err := NewFileSource(filepath.Join(t.TempDir(), "nope")).LoadSnapshot(context.Background())
	require.NoError(t, err)

	assert.Empty(t, snap.Profiles)
	assert.Equal(t, 20*time.Minute, snap.Defaults.TTL)
}

func TestFileSource_ParseErrorFailsLoad(t *testing.T) {
	dir := t.TempDir()
	writePolicy(t, dir, "bad.yaml", "profiles: [not: a: map")

	_, err := NewFileSource(dir).LoadSnapshot(context.Background())
	require.Error(t, err)
}

func TestFileSource_ScopeWithoutKindRejected(t *testing.T) {
	dir := t.TempDir()
	writePolicy(t, dir, "bad.yaml", `
scopes:
  broken:
    query: "whatever"
`)

	_, err := NewFileSource(dir).LoadSnapshot(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "kind is required")
}

func TestWatcher_ReloadsOnChange(t *testing.T) {
	dir := t.TempDir()
	writePolicy(t, dir, "base.yaml", basePolicy)

	source := NewFileSource(dir)
	snap, err := source.LoadSnapshot(context.Background())
	require.NoError(t, err)
	store := NewStore(snap)

	w, err := NewWatcher(store, source, logging.NewTestLogger().Logger)
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background()))
	defer w.Stop()

	writePolicy(t, dir, "extra.yaml", `
profiles:
  personal:
    allowed_scopes: [notes_personal]
scopes:
  notes_personal:
    kind: vector
    query: "tag:personal"
`)

	require.Eventually(t, func() bool {
		_, ok := store.Snapshot().Profiles["personal"]
		return ok
	}, 3*time.Second, 50*time.Millisecond)
}

func TestWatcher_KeepsSnapshotOnParseError(t *testing.T) {
	dir := t.TempDir()
	writePolicy(t, dir, "base.yaml", basePolicy)

	source := NewFileSource(dir)
	snap, err := source.LoadSnapshot(context.Background())
	require.NoError(t, err)
	store := NewStore(snap)

	tl := logging.NewTestLogger()
	w, err := NewWatcher(store, source, tl.Logger)
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background()))
	defer w.Stop()

	writePolicy(t, dir, "broken.yaml", "profiles: [not: a: map")

	require.Eventually(t, func() bool {
		return len(tl.FilterMessage("policy reload failed, keeping previous snapshot").All()) > 0
	}, 3*time.Second, 50*time.Millisecond)

	_, ok := store.Snapshot().Profiles["work"]
	assert.True(t, ok)
}
