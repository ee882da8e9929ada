// Package audit provides the append-only, hash-chained disclosure log.
// Every record links to its predecessor by digest; exports are signed so
// tampering after the fact is detectable.
package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gowebpki/jcs"
)

// Event types recorded by the mediator.
const (
	EventSessionCreated = "session_created"
	EventDisclosure     = "disclosure"
	EventSessionRevoked = "session_revoked"
	EventAuditExport    = "audit_export"
)

// Decision values for disclosure records.
const (
	DecisionAllow = "allow"
	DecisionDeny  = "deny"
)

// Record is one immutable audit entry. Never updated or deleted after
// append; revocation and expiry do not rewrite prior records.
type Record struct {
	ID              string    `json:"id"`
	Timestamp       time.Time `json:"timestamp"`
	EventType       string    `json:"event_type"`
	SessionID       string    `json:"session_id,omitempty"`
	ProfileID       string    `json:"profile_id,omitempty"`
	ScopesRequested []string  `json:"scopes_requested,omitempty"`
	ScopesGranted   []string  `json:"scopes_granted,omitempty"`
	ScopesDenied    []string  `json:"scopes_denied,omitempty"`
	RulesApplied    []string  `json:"redaction_rules_applied,omitempty"`
	ByteSize        int       `json:"byte_size,omitempty"`
	Decision        string    `json:"decision,omitempty"`
	DenialReason    string    `json:"denial_reason,omitempty"`

	// PrevHash chains this record to its predecessor; Hash covers the
	// whole record including PrevHash.
	PrevHash string `json:"previous_hash"`
	Hash     string `json:"hash"`
}

// genesisHash anchors the first record in a fresh log.
const genesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

// computeHash returns the sha256 hex digest of the record's RFC 8785
// canonical JSON with the Hash field zeroed.
func computeHash(r *Record) (string, error) {
	clone := *r
	clone.Hash = ""

	raw, err := json.Marshal(&clone)
	if err != nil {
		return "", fmt.Errorf("marshaling record: %w", err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return "", fmt.Errorf("canonicalizing record: %w", err)
	}

	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

// VerifyChain walks records in commit order and checks every link.
func VerifyChain(records []Record) error {
	prev := genesisHash
	for i := range records {
		r := &records[i]
		if r.PrevHash != prev {
			return fmt.Errorf("record %s: chain break: previous_hash %s, expected %s", r.ID, r.PrevHash, prev)
		}
		want, err := computeHash(r)
		if err != nil {
			return err
		}
		if r.Hash != want {
			return fmt.Errorf("record %s: hash mismatch", r.ID)
		}
		prev = r.Hash
	}
	return nil
}
