// Package mediator wires sessions, policy, assembly, and audit into the
// disclosure operations exposed over the CPI. Its core guarantee: every
// externally observable call leaves exactly one audit record, and no
// disclosure is returned before that record is durable.
package mediator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ky13/synm/internal/assemble"
	"github.com/ky13/synm/internal/audit"
	"github.com/ky13/synm/internal/logging"
	"github.com/ky13/synm/internal/policy"
	"github.com/ky13/synm/internal/retrieval"
	"github.com/ky13/synm/internal/session"
)

// ContextAssembler builds redacted context from granted scopes.
type ContextAssembler interface {
	Assemble(ctx context.Context, req assemble.Request) (*assemble.Result, error)
}

// AuditSink accepts records for durable append and export.
type AuditSink interface {
	Append(ctx context.Context, r *audit.Record) (string, error)
	Export(ctx context.Context, since, until time.Time) (*audit.ExportBundle, error)
}

// Config tunes facade-level limits.
type Config struct {
	// DefaultMaxTokens applies when a context request omits max_tokens.
	DefaultMaxTokens int
	// MaxTokensCap rejects requests asking for more than this many
	// tokens. Zero disables the ceiling.
	MaxTokensCap int
}

// Mediator is the disclosure facade.
type Mediator struct {
	sessions  *session.Manager
	policies  *policy.Store
	assembler ContextAssembler
	auditor   AuditSink
	publisher audit.Publisher
	cfg       Config
	log       *logging.Logger
	now       func() time.Time
}

// New constructs the facade.
func New(sessions *session.Manager, policies *policy.Store, assembler ContextAssembler, auditor AuditSink, publisher audit.Publisher, cfg Config, log *logging.Logger) *Mediator {
	if publisher == nil {
		publisher = audit.NoopPublisher{}
	}
	return &Mediator{
		sessions:  sessions,
		policies:  policies,
		assembler: assembler,
		auditor:   auditor,
		publisher: publisher,
		cfg:       cfg,
		log:       log,
		now:       time.Now,
	}
}

// ContextRequest is one /v1/context call.
type ContextRequest struct {
	SessionID string
	Profile   string
	Scopes    []string
	Prompt    string
	MaxTokens int
}

// ContextResponse is the disclosed context plus its provenance.
type ContextResponse struct {
	Context       string
	Citations     []retrieval.Citation
	ExpiresAt     time.Time
	GrantedScopes []string
	DeniedScopes  []string
	RulesApplied  []string
	TokensUsed    int
	Warning       string
}

// CreateSession mints a session for a known profile. The session TTL is
// the profile's default, shortened to the requested ttl when one is given.
// One session_created record is appended whether the call succeeds or the
// profile is unknown.
func (m *Mediator) CreateSession(ctx context.Context, profileID string, ttl time.Duration) (*session.Session, error) {
	decision := m.policies.Resolve(profileID, nil)
	if decision.UnknownProfile {
		if err := m.append(ctx, &audit.Record{
			EventType:    audit.EventSessionCreated,
			ProfileID:    profileID,
			Decision:     audit.DecisionDeny,
			DenialReason: ReasonUnknownProfile,
		}); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %s", ErrUnknownProfile, profileID)
	}

	effective := decision.TTL
	if ttl > 0 && ttl < effective {
		effective = ttl
	}

	sess, err := m.sessions.Create(ctx, profileID, effective)
	if err != nil {
		return nil, err
	}

	if err := m.append(ctx, &audit.Record{
		EventType: audit.EventSessionCreated,
		SessionID: sess.ID,
		ProfileID: profileID,
		Decision:  audit.DecisionAllow,
	}); err != nil {
		return nil, err
	}

	m.log.Info(ctx, "session created",
		zap.String("session_id", sess.ID),
		zap.String("profile", profileID),
		zap.Time("expires_at", sess.ExpiresAt),
	)
	return sess, nil
}

// GetContext resolves policy, assembles redacted context, and appends the
// disclosure record before returning. Session validation failures are
// rejections and leave no record; every accepted call — allowed, partial,
// denied, or cancelled mid-flight — leaves exactly one.
func (m *Mediator) GetContext(ctx context.Context, req ContextRequest) (*ContextResponse, error) {
	sess, err := m.sessions.Validate(ctx, req.SessionID)
	if err != nil {
		return nil, err
	}

	if req.Profile != "" && req.Profile != sess.ProfileID {
		return nil, m.deny(ctx, sess, req, nil, ReasonProfileMismatch,
			Denied(ReasonProfileMismatch))
	}

	decision := m.policies.Resolve(sess.ProfileID, req.Scopes)
	if decision.UnknownProfile {
		// Profile removed from the catalogue after the session was
		// minted. Nothing can be granted against it.
		return nil, m.deny(ctx, sess, req, nil, ReasonUnknownProfile,
			fmt.Errorf("%w: %s", ErrUnknownProfile, sess.ProfileID))
	}
	if len(decision.GrantedScopes) == 0 {
		return nil, m.deny(ctx, sess, req, decision.DeniedScopes, ReasonNoScopesGranted,
			Denied(ReasonNoScopesGranted))
	}

	maxTokens := req.MaxTokens
	if req.MaxTokens <= 0 {
		maxTokens = m.cfg.DefaultMaxTokens
	}
	if m.cfg.MaxTokensCap > 0 && maxTokens > m.cfg.MaxTokensCap {
		return nil, m.deny(ctx, sess, req, decision.DeniedScopes, ReasonBudgetExceeded,
			fmt.Errorf("%w: requested %d, ceiling %d", ErrBudgetExceeded, maxTokens, m.cfg.MaxTokensCap))
	}

	areq := assemble.Request{
		Prompt:    req.Prompt,
		RuleIDs:   decision.RedactionRuleIDs,
		MaxTokens: maxTokens,
	}
	for _, scopeID := range decision.GrantedScopes {
		source, ok := m.policies.ScopeSource(scopeID)
		if !ok {
			continue
		}
		areq.Scopes = append(areq.Scopes, assemble.ScopeQuery{ID: scopeID, Source: source})
	}

	result, err := m.assembler.Assemble(ctx, areq)
	if err != nil {
		// Assembly aborts only on cancellation. Data may already have
		// left the stores, so the record is written regardless.
		return nil, m.deny(ctx, sess, req, decision.DeniedScopes, ReasonCancelled,
			fmt.Errorf("assembling context: %w", err))
	}

	granted, denied := splitFailedScopes(decision, result.FailedScopes)
	if len(granted) == 0 {
		return nil, m.deny(ctx, sess, req, denied, ReasonNoScopesGranted,
			&DeniedError{Reason: ReasonNoScopesGranted, Err: ErrRetrievalUnavailable})
	}

	// Revocation cutover: a revoke that committed while assembly ran
	// wins. The disclosure is withheld and recorded as denied.
	if _, err := m.sessions.Validate(ctx, req.SessionID); err != nil {
		reason := ReasonSessionRevoked
		switch {
		case errors.Is(err, session.ErrExpired):
			reason = ReasonSessionExpired
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			reason = ReasonCancelled
		}
		if aerr := m.appendDisclosure(ctx, sess, req, nil, denied, nil, 0, reason); aerr != nil {
			return nil, aerr
		}
		return nil, err
	}

	if err := m.appendDisclosure(ctx, sess, req, granted, denied, result.RulesApplied, result.ByteSize, ""); err != nil {
		return nil, err
	}

	resp := &ContextResponse{
		Context:       result.Context,
		Citations:     result.Citations,
		ExpiresAt:     minTime(sess.ExpiresAt, m.now().Add(decision.TTL)),
		GrantedScopes: granted,
		DeniedScopes:  denied,
		RulesApplied:  result.RulesApplied,
		TokensUsed:    result.TokensUsed,
	}
	if len(denied) > 0 {
		resp.Warning = fmt.Sprintf("scopes denied: %v", denied)
	}

	m.log.Info(ctx, "context disclosed",
		zap.String("session_id", sess.ID),
		zap.String("profile", sess.ProfileID),
		zap.Strings("granted", granted),
		zap.Strings("denied", denied),
		zap.Int("tokens", result.TokensUsed),
		zap.Int("bytes", result.ByteSize),
	)
	return resp, nil
}

// Revoke terminates the session. Idempotent for issued sessions; one
// session_revoked record per accepted call.
func (m *Mediator) Revoke(ctx context.Context, sessionID string) error {
	if err := m.sessions.Revoke(ctx, sessionID); err != nil {
		return err
	}

	if err := m.append(ctx, &audit.Record{
		EventType: audit.EventSessionRevoked,
		SessionID: sessionID,
		Decision:  audit.DecisionAllow,
	}); err != nil {
		return err
	}

	m.log.Info(ctx, "session revoked", zap.String("session_id", sessionID))
	return nil
}

// ExportAudit returns the signed record window and records the export
// itself. The export record is appended after the window is read, so an
// export never contains its own entry.
func (m *Mediator) ExportAudit(ctx context.Context, since, until time.Time) (*audit.ExportBundle, error) {
	bundle, err := m.auditor.Export(ctx, since, until)
	if err != nil {
		return nil, fmt.Errorf("exporting audit log: %w", err)
	}

	if err := m.append(ctx, &audit.Record{
		EventType: audit.EventAuditExport,
		Decision:  audit.DecisionAllow,
	}); err != nil {
		return nil, err
	}
	return bundle, nil
}

// deny appends a deny disclosure record, then returns cause. An audit
// write failure outranks the denial itself.
func (m *Mediator) deny(ctx context.Context, sess *session.Session, req ContextRequest, denied []string, reason string, cause error) error {
	if len(denied) == 0 {
		denied = req.Scopes
	}
	if err := m.appendDisclosure(ctx, sess, req, nil, denied, nil, 0, reason); err != nil {
		return err
	}
	return cause
}

func (m *Mediator) appendDisclosure(ctx context.Context, sess *session.Session, req ContextRequest, granted, denied, rules []string, byteSize int, denialReason string) error {
	rec := &audit.Record{
		EventType:       audit.EventDisclosure,
		SessionID:       sess.ID,
		ProfileID:       sess.ProfileID,
		ScopesRequested: req.Scopes,
		ScopesGranted:   granted,
		ScopesDenied:    denied,
		RulesApplied:    rules,
		ByteSize:        byteSize,
		Decision:        audit.DecisionAllow,
	}
	if denialReason != "" {
		rec.Decision = audit.DecisionDeny
		rec.DenialReason = denialReason
	}
	return m.append(ctx, rec)
}

// append commits the record and fans it out. Append failures wrap
// audit.ErrWriteFailed so the HTTP layer returns 5xx.
func (m *Mediator) append(ctx context.Context, rec *audit.Record) error {
	if _, err := m.auditor.Append(ctx, rec); err != nil {
		m.log.Error(ctx, "audit append failed, failing request",
			zap.String("event", rec.EventType),
			zap.Error(err),
		)
		return err
	}
	// Best-effort fan-out; the durable append above is the guarantee.
	_ = m.publisher.Publish(ctx, rec)
	return nil
}

// splitFailedScopes moves scopes whose retrieval degraded from the grant
// into the denial set, preserving order.
func splitFailedScopes(decision policy.Decision, failed []string) (granted, denied []string) {
	failedSet := make(map[string]bool, len(failed))
	for _, id := range failed {
		failedSet[id] = true
	}
	for _, id := range decision.GrantedScopes {
		if failedSet[id] {
			denied = append(denied, id)
		} else {
			granted = append(granted, id)
		}
	}
	denied = append(denied, decision.DeniedScopes...)
	return granted, denied
}

func minTime(a, b time.Time) time.Time {
	if a.Before(b) {
		return a
	}
	return b
}
