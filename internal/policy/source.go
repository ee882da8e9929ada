package policy

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"

	"github.com/ky13/synm/internal/retrieval"
)

// Source loads a full policy snapshot from wherever policy lives.
type Source interface {
	LoadSnapshot(ctx context.Context) (*Snapshot, error)
}

// rawProfile mirrors the on-disk profile document.
type rawProfile struct {
	AllowedScopes []string `koanf:"allowed_scopes"`
	Redactions    []string `koanf:"redactions"`
	TTLMinutes    int      `koanf:"ttl_minutes"`
}

type rawScope struct {
	Kind  string `koanf:"kind"`
	Query string `koanf:"query"`
}

type rawDefaults struct {
	TTLMinutes int `koanf:"ttl_minutes"`
	MaxTokens  int `koanf:"max_tokens"`
}

type rawCatalogue struct {
	Profiles map[string]rawProfile `koanf:"profiles"`
	Scopes   map[string]rawScope   `koanf:"scopes"`
	Defaults rawDefaults           `koanf:"defaults"`
}

// FileSource loads policy from every *.yaml file in a directory.
// Documents are merged in lexical filename order; later files override
// earlier ones key by key.
type FileSource struct {
	dir string
}

// NewFileSource creates a policy source rooted at dir.
func NewFileSource(dir string) *FileSource {
	return &FileSource{dir: dir}
}

// Dir returns the watched policy directory.
func (f *FileSource) Dir() string {
	return f.dir
}

// LoadSnapshot reads and merges all policy files into one snapshot.
//
// A missing directory yields an empty snapshot, not an error; a file that
// fails to parse fails the whole load so a watcher can keep the previous
// snapshot in place.
func (f *FileSource) LoadSnapshot(ctx context.Context) (*Snapshot, error) {
	k := koanf.New(".")

	entries, err := os.ReadDir(f.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return emptySnapshot(), nil
		}
		return nil, fmt.Errorf("reading policy dir %s: %w", f.dir, err)
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if ext := filepath.Ext(e.Name()); ext == ".yaml" || ext == ".yml" {
			files = append(files, filepath.Join(f.dir, e.Name()))
		}
	}
	sort.Strings(files)

	for _, path := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading policy file %s: %w", path, err)
		}
		if err := k.Load(rawbytes.Provider(data), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("parsing policy file %s: %w", path, err)
		}
	}

	var raw rawCatalogue
	if err := k.Unmarshal("", &raw); err != nil {
		return nil, fmt.Errorf("unmarshaling policy: %w", err)
	}

	return buildSnapshot(raw)
}

func emptySnapshot() *Snapshot {
	return &Snapshot{
		Profiles: map[string]*Profile{},
		Scopes:   map[string]*Scope{},
		Defaults: Defaults{TTL: 20 * time.Minute},
		LoadedAt: time.Now(),
	}
}

func buildSnapshot(raw rawCatalogue) (*Snapshot, error) {
	snap := &Snapshot{
		Profiles: make(map[string]*Profile, len(raw.Profiles)),
		Scopes:   make(map[string]*Scope, len(raw.Scopes)),
		Defaults: Defaults{
			TTL:       time.Duration(raw.Defaults.TTLMinutes) * time.Minute,
			MaxTokens: raw.Defaults.MaxTokens,
		},
		LoadedAt: time.Now(),
	}
	if snap.Defaults.TTL <= 0 {
		snap.Defaults.TTL = 20 * time.Minute
	}

	for id, rs := range raw.Scopes {
		if rs.Kind == "" {
			return nil, fmt.Errorf("scope %q: kind is required", id)
		}
		snap.Scopes[id] = &Scope{
			ID: id,
			Source: retrieval.Descriptor{
				Kind:  rs.Kind,
				Query: rs.Query,
			},
		}
	}

	for id, rp := range raw.Profiles {
		allowed := make(map[string]bool, len(rp.AllowedScopes))
		for _, s := range rp.AllowedScopes {
			allowed[s] = true
		}
		snap.Profiles[id] = &Profile{
			ID:               id,
			AllowedScopes:    allowed,
			RedactionRuleIDs: append([]string(nil), rp.Redactions...),
			DefaultTTL:       time.Duration(rp.TTLMinutes) * time.Minute,
		}
	}

	return snap, nil
}
