package httpapi

import (
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/ky13/synm/internal/audit"
	"github.com/ky13/synm/internal/mediator"
	"github.com/ky13/synm/internal/retrieval"
	"github.com/ky13/synm/internal/session"
)

type createSessionRequest struct {
	Profile    string `json:"profile"`
	TTLMinutes int    `json:"ttl_minutes,omitempty"`
}

type createSessionResponse struct {
	SessionID string    `json:"session_id"`
	Profile   string    `json:"profile"`
	ExpiresAt time.Time `json:"expires_at"`
}

type contextRequest struct {
	SessionID string   `json:"session_id"`
	Profile   string   `json:"profile,omitempty"`
	Scopes    []string `json:"scopes"`
	Prompt    string   `json:"prompt"`
	MaxTokens int      `json:"max_tokens,omitempty"`
}

type citationOut struct {
	Type  string  `json:"type"`
	Ref   string  `json:"ref"`
	Score float32 `json:"score,omitempty"`
}

type contextResponse struct {
	Context   string        `json:"context"`
	Citations []citationOut `json:"citations"`
	ExpiresAt time.Time     `json:"expires_at"`
	Warning   string        `json:"warning,omitempty"`
}

type revokeRequest struct {
	SessionID string `json:"session_id"`
}

type errorResponse struct {
	Error  string `json:"error"`
	Reason string `json:"reason,omitempty"`
}

func (s *Server) handleCreateSession(c echo.Context) error {
	var req createSessionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Profile == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "profile is required")
	}
	if req.TTLMinutes < 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "ttl_minutes must not be negative")
	}

	sess, err := s.service.CreateSession(c.Request().Context(), req.Profile,
		time.Duration(req.TTLMinutes)*time.Minute)
	if err != nil {
		return s.mapError(c, err)
	}

	return c.JSON(http.StatusCreated, createSessionResponse{
		SessionID: sess.ID,
		Profile:   sess.ProfileID,
		ExpiresAt: sess.ExpiresAt,
	})
}

func (s *Server) handleGetContext(c echo.Context) error {
	var req contextRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.SessionID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "session_id is required")
	}
	if req.Prompt == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "prompt is required")
	}

	ctx := c.Request().Context()
	resp, err := s.service.GetContext(ctx, mediator.ContextRequest{
		SessionID: req.SessionID,
		Profile:   req.Profile,
		Scopes:    req.Scopes,
		Prompt:    req.Prompt,
		MaxTokens: req.MaxTokens,
	})
	if err != nil {
		return s.mapError(c, err)
	}

	s.metrics.recordDisclosure(ctx, len(resp.Context))

	return c.JSON(http.StatusOK, contextResponse{
		Context:   resp.Context,
		Citations: citationsOut(resp.Citations),
		ExpiresAt: resp.ExpiresAt,
		Warning:   resp.Warning,
	})
}

func (s *Server) handleRevoke(c echo.Context) error {
	var req revokeRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.SessionID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "session_id is required")
	}

	if err := s.service.Revoke(c.Request().Context(), req.SessionID); err != nil {
		return s.mapError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleAuditExport(c echo.Context) error {
	since, err := parseTimeParam(c.QueryParam("since"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid since parameter")
	}
	until, err := parseTimeParam(c.QueryParam("until"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid until parameter")
	}

	bundle, err := s.service.ExportAudit(c.Request().Context(), since, until)
	if err != nil {
		return s.mapError(c, err)
	}
	return c.JSON(http.StatusOK, bundle)
}

// mapError translates the facade's error taxonomy onto HTTP statuses.
// Audit write failures are the one case where a 5xx outranks everything:
// a disclosure that cannot be audited is never returned.
func (s *Server) mapError(c echo.Context, err error) error {
	ctx := c.Request().Context()

	if reason, ok := mediator.IsDenied(err); ok {
		s.metrics.recordDenial(ctx, reason)
		return c.JSON(http.StatusForbidden, errorResponse{Error: "denied", Reason: reason})
	}

	switch {
	case errors.Is(err, audit.ErrWriteFailed):
		return echo.NewHTTPError(http.StatusInternalServerError, "audit write failed")
	case errors.Is(err, session.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "session not found")
	case errors.Is(err, session.ErrExpired):
		return echo.NewHTTPError(http.StatusGone, "session expired")
	case errors.Is(err, session.ErrRevoked):
		s.metrics.recordDenial(ctx, mediator.ReasonSessionRevoked)
		return echo.NewHTTPError(http.StatusForbidden, "session revoked")
	case errors.Is(err, mediator.ErrUnknownProfile):
		return echo.NewHTTPError(http.StatusNotFound, "unknown profile")
	case errors.Is(err, mediator.ErrBudgetExceeded):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, mediator.ErrRetrievalUnavailable):
		return echo.NewHTTPError(http.StatusServiceUnavailable, "retrieval unavailable")
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
	}
}

func citationsOut(citations []retrieval.Citation) []citationOut {
	out := make([]citationOut, 0, len(citations))
	for _, c := range citations {
		out = append(out, citationOut{Type: c.Source, Ref: c.Ref, Score: c.Score})
	}
	return out
}

func parseTimeParam(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, value)
}
