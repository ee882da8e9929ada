package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

// postJSON sends an authenticated POST and decodes the JSON response
// into out. A nil out discards the body.
func postJSON(path string, body, out any, bearer string) (int, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("marshaling request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequest(http.MethodPost, serverURL+path, reader)
	if err != nil {
		return 0, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("sending request to %s: %w", serverURL+path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		raw, readErr := io.ReadAll(resp.Body)
		if readErr != nil {
			return resp.StatusCode, fmt.Errorf("server returned status %d", resp.StatusCode)
		}
		return resp.StatusCode, fmt.Errorf("server returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	if out != nil && resp.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("decoding response: %w", err)
		}
	}
	return resp.StatusCode, nil
}

// healthCmd checks server health.
var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check synmd server health",
	RunE: func(cmd *cobra.Command, args []string) error {
		client := &http.Client{Timeout: 5 * time.Second}
		resp, err := client.Get(serverURL + "/health")
		if err != nil {
			return fmt.Errorf("connecting to %s: %w", serverURL, err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("server returned status %d", resp.StatusCode)
		}

		var health struct {
			Status  string `json:"status"`
			Service string `json:"service"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
		fmt.Printf("Server Status: %s (%s)\n", health.Status, health.Service)
		return nil
	},
}

var sessionTTLMinutes int

// sessionCmd mints a session for a profile.
var sessionCmd = &cobra.Command{
	Use:   "session <profile>",
	Short: "Create a scoped session for a profile",
	Long: `Create a session bound to a disclosure profile.

Examples:
  synm session work
  synm session work --ttl 5`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var resp struct {
			SessionID string    `json:"session_id"`
			Profile   string    `json:"profile"`
			ExpiresAt time.Time `json:"expires_at"`
		}
		body := map[string]any{"profile": args[0]}
		if sessionTTLMinutes > 0 {
			body["ttl_minutes"] = sessionTTLMinutes
		}
		if _, err := postJSON("/v1/session", body, &resp, token); err != nil {
			return err
		}
		fmt.Printf("Session:    %s\nProfile:    %s\nExpires At: %s\n",
			resp.SessionID, resp.Profile, resp.ExpiresAt.Format(time.RFC3339))
		return nil
	},
}

var (
	contextSessionID string
	contextScopes    []string
	contextMaxTokens int
)

// contextCmd requests mediated context for a prompt.
var contextCmd = &cobra.Command{
	Use:   "context <prompt>",
	Short: "Request redacted context for a prompt",
	Long: `Request policy-checked, redacted context for a prompt through an
existing session.

Examples:
  synm context "tell me about my background" --session <id> --scope bio.basic
  synm context "recent work" --session <id> --scope resume.public --scope projects.recent`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if contextSessionID == "" {
			return fmt.Errorf("--session is required")
		}

		var resp struct {
			Context   string `json:"context"`
			Citations []struct {
				Type string `json:"type"`
				Ref  string `json:"ref"`
			} `json:"citations"`
			ExpiresAt time.Time `json:"expires_at"`
			Warning   string    `json:"warning"`
		}
		_, err := postJSON("/v1/context", map[string]any{
			"session_id": contextSessionID,
			"scopes":     contextScopes,
			"prompt":     args[0],
			"max_tokens": contextMaxTokens,
		}, &resp, token)
		if err != nil {
			return err
		}

		fmt.Println(resp.Context)
		if len(resp.Citations) > 0 {
			fmt.Fprintln(os.Stderr, "\nCitations:")
			for _, c := range resp.Citations {
				fmt.Fprintf(os.Stderr, "  [%s] %s\n", c.Type, c.Ref)
			}
		}
		if resp.Warning != "" {
			fmt.Fprintf(os.Stderr, "\nWarning: %s\n", resp.Warning)
		}
		return nil
	},
}

// revokeCmd terminates a session.
var revokeCmd = &cobra.Command{
	Use:   "revoke <session-id>",
	Short: "Revoke a session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		status, err := postJSON("/v1/revoke", map[string]any{"session_id": args[0]}, nil, token)
		if err != nil {
			return err
		}
		if status == http.StatusNoContent {
			fmt.Println("Session revoked")
		}
		return nil
	},
}

func init() {
	sessionCmd.Flags().IntVar(&sessionTTLMinutes, "ttl", 0, "session TTL in minutes (0 uses the profile default)")

	contextCmd.Flags().StringVar(&contextSessionID, "session", "", "session id")
	contextCmd.Flags().StringSliceVar(&contextScopes, "scope", nil, "scope to request (repeatable)")
	contextCmd.Flags().IntVar(&contextMaxTokens, "max-tokens", 0, "token budget (0 uses the server default)")
}
