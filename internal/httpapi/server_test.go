package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ky13/synm/internal/audit"
	"github.com/ky13/synm/internal/config"
	"github.com/ky13/synm/internal/logging"
	"github.com/ky13/synm/internal/mediator"
	"github.com/ky13/synm/internal/retrieval"
	"github.com/ky13/synm/internal/session"
)

// fakeService scripts facade responses per test.
type fakeService struct {
	createSession func(ctx context.Context, profileID string, ttl time.Duration) (*session.Session, error)
	getContext    func(ctx context.Context, req mediator.ContextRequest) (*mediator.ContextResponse, error)
	revoke        func(ctx context.Context, sessionID string) error
	exportAudit   func(ctx context.Context, since, until time.Time) (*audit.ExportBundle, error)
}

func (f *fakeService) CreateSession(ctx context.Context, profileID string, ttl time.Duration) (*session.Session, error) {
	return f.createSession(ctx, profileID, ttl)
}

func (f *fakeService) GetContext(ctx context.Context, req mediator.ContextRequest) (*mediator.ContextResponse, error) {
	return f.getContext(ctx, req)
}

func (f *fakeService) Revoke(ctx context.Context, sessionID string) error {
	return f.revoke(ctx, sessionID)
}

func (f *fakeService) ExportAudit(ctx context.Context, since, until time.Time) (*audit.ExportBundle, error) {
	return f.exportAudit(ctx, since, until)
}

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{Host: "localhost", Port: 8787},
		Auth: config.AuthConfig{
			Token:      config.Secret("client-token"),
			AdminToken: config.Secret("admin-token"),
		},
		Observability: config.ObservabilityConfig{ServiceName: "synmd"},
	}
}

func newTestServer(t *testing.T, service Service) *Server {
	t.Helper()
	srv, err := NewServer(testConfig(), service, logging.NewTestLogger().Logger, nil)
	require.NoError(t, err)
	return srv
}

func doRequest(srv *Server, method, path, token, body string) *httptest.ResponseRecorder {
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set(echoHeaderContentType, "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	srv.Echo().ServeHTTP(rec, req)
	return rec
}

const echoHeaderContentType = "Content-Type"

func TestHealthOpen(t *testing.T) {
	srv := newTestServer(t, &fakeService{})

	rec := doRequest(srv, http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "synmd", resp.Service)
}

func TestAuthRequired(t *testing.T) {
	srv := newTestServer(t, &fakeService{})

	tests := []struct {
		name  string
		token string
	}{
		{"missing token", ""},
		{"wrong token", "not-the-token"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doRequest(srv, http.MethodPost, "/v1/session", tt.token, `{"profile":"work"}`)
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
		})
	}
}

func TestAuthUnconfiguredRejectsAll(t *testing.T) {
	cfg := testConfig()
	cfg.Auth.Token = ""
	srv, err := NewServer(cfg, &fakeService{}, logging.NewTestLogger().Logger, nil)
	require.NoError(t, err)

	rec := doRequest(srv, http.MethodPost, "/v1/session", "anything", `{"profile":"work"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCreateSession(t *testing.T) {
	expires := time.Date(2026, 8, 1, 12, 20, 0, 0, time.UTC)
	svc := &fakeService{
		createSession: func(ctx context.Context, profileID string, ttl time.Duration) (*session.Session, error) {
			assert.Equal(t, "work", profileID)
			assert.Equal(t, 5*time.Minute, ttl)
			return &session.Session{ID: "sess-1", ProfileID: profileID, ExpiresAt: expires}, nil
		},
	}
	srv := newTestServer(t, svc)

	rec := doRequest(srv, http.MethodPost, "/v1/session", "client-token",
		`{"profile":"work","ttl_minutes":5}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	var resp createSessionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "sess-1", resp.SessionID)
	assert.Equal(t, "work", resp.Profile)
	assert.True(t, resp.ExpiresAt.Equal(expires))
}

func TestCreateSession_Validation(t *testing.T) {
	srv := newTestServer(t, &fakeService{})

	tests := []struct {
		name string
		body string
	}{
		{"missing profile", `{}`},
		{"negative ttl", `{"profile":"work","ttl_minutes":-1}`},
		{"malformed json", `{`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doRequest(srv, http.MethodPost, "/v1/session", "client-token", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestCreateSession_UnknownProfile(t *testing.T) {
	svc := &fakeService{
		createSession: func(ctx context.Context, profileID string, ttl time.Duration) (*session.Session, error) {
			return nil, mediator.ErrUnknownProfile
		},
	}
	srv := newTestServer(t, svc)

	rec := doRequest(srv, http.MethodPost, "/v1/session", "client-token", `{"profile":"ghost"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetContext(t *testing.T) {
	expires := time.Date(2026, 8, 1, 12, 20, 0, 0, time.UTC)
	svc := &fakeService{
		getContext: func(ctx context.Context, req mediator.ContextRequest) (*mediator.ContextResponse, error) {
			assert.Equal(t, "sess-1", req.SessionID)
			assert.Equal(t, []string{"bio.basic", "wow.anecdotes"}, req.Scopes)
			return &mediator.ContextResponse{
				Context:   "Grew up in Lisbon",
				Citations: []retrieval.Citation{
					{Source: "vector", Ref: "bio-1", Score: 0.87},
					{Source: "structured", Ref: "contacts-3"},
				},
				ExpiresAt: expires,
				Warning:   "scopes denied: [wow.anecdotes]",
			}, nil
		},
	}
	srv := newTestServer(t, svc)

	rec := doRequest(srv, http.MethodPost, "/v1/context", "client-token",
		`{"session_id":"sess-1","scopes":["bio.basic","wow.anecdotes"],"prompt":"background"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp contextResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "Grew up in Lisbon", resp.Context)
	require.Len(t, resp.Citations, 2)
	assert.Equal(t, "vector", resp.Citations[0].Type)
	assert.Equal(t, "bio-1", resp.Citations[0].Ref)
	assert.InDelta(t, 0.87, resp.Citations[0].Score, 1e-6)
	assert.Contains(t, resp.Warning, "wow.anecdotes")

	// Ranked hits expose their relevance score; structured lookups omit it.
	assert.Contains(t, rec.Body.String(), `"score":0.87`)
	assert.NotContains(t, rec.Body.String(), `"contacts-3","score"`)
}

func TestGetContext_TotalDenial(t *testing.T) {
	svc := &fakeService{
		getContext: func(ctx context.Context, req mediator.ContextRequest) (*mediator.ContextResponse, error) {
			return nil, mediator.Denied(mediator.ReasonNoScopesGranted)
		},
	}
	srv := newTestServer(t, svc)

	rec := doRequest(srv, http.MethodPost, "/v1/context", "client-token",
		`{"session_id":"sess-1","scopes":["wow.anecdotes"],"prompt":"background"}`)
	require.Equal(t, http.StatusForbidden, rec.Code)

	var resp errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "denied", resp.Error)
	assert.Equal(t, mediator.ReasonNoScopesGranted, resp.Reason)
}

func TestGetContext_ErrorStatuses(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"not found", session.ErrNotFound, http.StatusNotFound},
		{"expired", session.ErrExpired, http.StatusGone},
		{"revoked", session.ErrRevoked, http.StatusForbidden},
		{"unknown profile", mediator.ErrUnknownProfile, http.StatusNotFound},
		{"budget exceeded", mediator.ErrBudgetExceeded, http.StatusBadRequest},
		{"retrieval unavailable", mediator.ErrRetrievalUnavailable, http.StatusServiceUnavailable},
		{"audit write failed", audit.ErrWriteFailed, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &fakeService{
				getContext: func(ctx context.Context, req mediator.ContextRequest) (*mediator.ContextResponse, error) {
					return nil, tt.err
				},
			}
			srv := newTestServer(t, svc)

			rec := doRequest(srv, http.MethodPost, "/v1/context", "client-token",
				`{"session_id":"sess-1","scopes":["bio.basic"],"prompt":"background"}`)
			assert.Equal(t, tt.status, rec.Code)
		})
	}
}

func TestGetContext_AuditFailureOutranksDenial(t *testing.T) {
	// An unauditable denial still fails 5xx: write-before-respond holds
	// for deny records too.
	svc := &fakeService{
		getContext: func(ctx context.Context, req mediator.ContextRequest) (*mediator.ContextResponse, error) {
			return nil, audit.ErrWriteFailed
		},
	}
	srv := newTestServer(t, svc)

	rec := doRequest(srv, http.MethodPost, "/v1/context", "client-token",
		`{"session_id":"sess-1","scopes":["wow.anecdotes"],"prompt":"background"}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestGetContext_Validation(t *testing.T) {
	srv := newTestServer(t, &fakeService{})

	tests := []struct {
		name string
		body string
	}{
		{"missing session_id", `{"prompt":"background"}`},
		{"missing prompt", `{"session_id":"sess-1"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doRequest(srv, http.MethodPost, "/v1/context", "client-token", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestRevoke(t *testing.T) {
	revoked := ""
	svc := &fakeService{
		revoke: func(ctx context.Context, sessionID string) error {
			revoked = sessionID
			return nil
		},
	}
	srv := newTestServer(t, svc)

	rec := doRequest(srv, http.MethodPost, "/v1/revoke", "client-token", `{"session_id":"sess-1"}`)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "sess-1", revoked)
}

func TestRevoke_NotFound(t *testing.T) {
	svc := &fakeService{
		revoke: func(ctx context.Context, sessionID string) error {
			return session.ErrNotFound
		},
	}
	srv := newTestServer(t, svc)

	rec := doRequest(srv, http.MethodPost, "/v1/revoke", "client-token", `{"session_id":"ghost"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAuditExport_RequiresAdminToken(t *testing.T) {
	svc := &fakeService{
		exportAudit: func(ctx context.Context, since, until time.Time) (*audit.ExportBundle, error) {
			return &audit.ExportBundle{Count: 0, Digest: "d"}, nil
		},
	}
	srv := newTestServer(t, svc)

	// Client token alone is not enough for the admin surface.
	rec := doRequest(srv, http.MethodPost, "/v1/audit/export", "client-token", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuditExport(t *testing.T) {
	var gotSince, gotUntil time.Time
	svc := &fakeService{
		exportAudit: func(ctx context.Context, since, until time.Time) (*audit.ExportBundle, error) {
			gotSince, gotUntil = since, until
			return &audit.ExportBundle{Count: 2, Digest: "abc123"}, nil
		},
	}
	srv := newTestServer(t, svc)

	rec := doRequest(srv, http.MethodPost,
		"/v1/audit/export?since=2026-08-01T00:00:00Z&until=2026-08-02T00:00:00Z",
		"admin-token", "")
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC), gotSince)
	assert.Equal(t, time.Date(2026, 8, 2, 0, 0, 0, 0, time.UTC), gotUntil)

	var bundle audit.ExportBundle
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &bundle))
	assert.Equal(t, 2, bundle.Count)
	assert.Equal(t, "abc123", bundle.Digest)
}

func TestAuditExport_BadTimeParam(t *testing.T) {
	srv := newTestServer(t, &fakeService{})

	rec := doRequest(srv, http.MethodPost, "/v1/audit/export?since=yesterday", "admin-token", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
