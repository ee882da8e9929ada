package audit

import (
	"bufio"
	"context"
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gowebpki/jcs"
	"go.uber.org/zap"

	"github.com/ky13/synm/internal/logging"
)

// ErrWriteFailed indicates an append could not be made durable. The caller
// must fail the request: a disclosure that cannot be audited must not be
// returned.
var ErrWriteFailed = errors.New("audit write failed")

// Logger appends hash-chained records to a JSONL file. Append is the
// serialization point: records interleave in commit order and each append
// is fsynced before it returns.
type Logger struct {
	mu       sync.Mutex
	file     *os.File
	path     string
	lastHash string
	signer   ed25519.PrivateKey
	log      *logging.Logger
	now      func() time.Time
}

// Option configures the logger.
type Option func(*Logger)

// WithSigningKey enables export signing.
func WithSigningKey(priv ed25519.PrivateKey) Option {
	return func(l *Logger) { l.signer = priv }
}

// WithClock injects a clock for tests.
func WithClock(now func() time.Time) Option {
	return func(l *Logger) { l.now = now }
}

// NewLogger opens (or creates) the audit log at path and recovers the
// chain tip from the existing contents.
func NewLogger(path string, log *logging.Logger, opts ...Option) (*Logger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("creating audit directory: %w", err)
	}

	l := &Logger{
		path:     path,
		lastHash: genesisHash,
		log:      log,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}

	records, err := readRecords(path)
	if err != nil {
		return nil, err
	}
	if err := VerifyChain(records); err != nil {
		return nil, fmt.Errorf("existing audit log fails verification: %w", err)
	}
	if len(records) > 0 {
		l.lastHash = records[len(records)-1].Hash
	}

	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("opening audit log: %w", err)
	}
	l.file = file

	log.Info(context.Background(), "audit log opened",
		zap.String("path", path),
		zap.Int("records", len(records)),
	)
	return l, nil
}

// Append chains, writes, and fsyncs the record, returning its id.
//
// The record becomes durable before Append returns; on any failure the
// record is not part of the chain and ErrWriteFailed is returned.
func (l *Logger) Append(ctx context.Context, r *Record) (string, error) {
	if err := ctx.Err(); err != nil {
		// Cancellation does not excuse the append: the caller decides
		// what to record, the log always commits what it is given.
		l.log.Debug(ctx, "audit append on cancelled context", zap.String("event", r.EventType))
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.Timestamp.IsZero() {
		r.Timestamp = l.now().UTC()
	}
	r.PrevHash = l.lastHash

	hash, err := computeHash(r)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrWriteFailed, err)
	}
	r.Hash = hash

	line, err := json.Marshal(r)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrWriteFailed, err)
	}
	line = append(line, '\n')

	if _, err := l.file.Write(line); err != nil {
		return "", fmt.Errorf("%w: %v", ErrWriteFailed, err)
	}
	if err := l.file.Sync(); err != nil {
		return "", fmt.Errorf("%w: %v", ErrWriteFailed, err)
	}

	l.lastHash = r.Hash
	return r.ID, nil
}

// ExportBundle is a signed slice of the audit log.
type ExportBundle struct {
	Records    []Record   `json:"records"`
	Count      int        `json:"count"`
	Since      time.Time  `json:"since"`
	Until      time.Time  `json:"until"`
	ExportedAt time.Time  `json:"exported_at"`
	Digest     string     `json:"digest"`
	Signature  *Signature `json:"signature,omitempty"`
}

// Export returns all records with Timestamp in [since, until), in commit
// order, with a digest over the canonical record set and, when a signing
// key is configured, an ed25519 signature over that digest.
func (l *Logger) Export(ctx context.Context, since, until time.Time) (*ExportBundle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	all, err := readRecords(l.path)
	if err != nil {
		return nil, err
	}

	var selected []Record
	for _, r := range all {
		if !until.IsZero() && !r.Timestamp.Before(until) {
			continue
		}
		if !since.IsZero() && r.Timestamp.Before(since) {
			continue
		}
		selected = append(selected, r)
	}

	digest, err := digestRecords(selected)
	if err != nil {
		return nil, err
	}

	bundle := &ExportBundle{
		Records:    selected,
		Count:      len(selected),
		Since:      since,
		Until:      until,
		ExportedAt: l.now().UTC(),
		Digest:     digest,
	}

	if l.signer != nil {
		sig, err := SignDigestHex(l.signer, digest)
		if err != nil {
			return nil, fmt.Errorf("signing export: %w", err)
		}
		bundle.Signature = &sig
	}

	return bundle, nil
}

// Verify re-reads the log from disk and checks the whole chain.
func (l *Logger) Verify(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	records, err := readRecords(l.path)
	if err != nil {
		return 0, err
	}
	return len(records), VerifyChain(records)
}

// Close closes the underlying file.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.file.Close()
}

// VerifyExport checks a bundle's digest and signature.
func VerifyExport(bundle *ExportBundle, pub ed25519.PublicKey) error {
	digest, err := digestRecords(bundle.Records)
	if err != nil {
		return err
	}
	if digest != bundle.Digest {
		return fmt.Errorf("export digest mismatch")
	}
	if bundle.Signature != nil {
		// The signature must cover this bundle's digest, not a digest
		// lifted from some other legitimate export.
		if bundle.Signature.SignedDigest != digest {
			return fmt.Errorf("export signature covers a different digest")
		}
		ok, err := VerifyDigestHex(pub, *bundle.Signature)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("export signature invalid")
		}
	}
	return nil
}

func digestRecords(records []Record) (string, error) {
	if records == nil {
		records = []Record{}
	}
	raw, err := json.Marshal(records)
	if err != nil {
		return "", fmt.Errorf("marshaling export: %w", err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return "", fmt.Errorf("canonicalizing export: %w", err)
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

func readRecords(path string) ([]Record, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("opening audit log: %w", err)
	}
	defer file.Close()

	var records []Record
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var r Record
		if err := json.Unmarshal(line, &r); err != nil {
			return nil, fmt.Errorf("corrupt audit record: %w", err)
		}
		records = append(records, r)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading audit log: %w", err)
	}
	return records, nil
}
