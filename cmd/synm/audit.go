package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap/zapcore"

	"github.com/ky13/synm/internal/audit"
	"github.com/ky13/synm/internal/logging"
)

// quietLogger builds a console logger at error level for local file
// operations, keeping command output clean.
func quietLogger() (*logging.Logger, error) {
	cfg := logging.NewDefaultConfig()
	cfg.Level = zapcore.ErrorLevel
	cfg.Format = "console"
	return logging.NewLogger(cfg, nil)
}

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Audit log operations",
}

var auditVerifyCmd = &cobra.Command{
	Use:   "verify <audit-file>",
	Short: "Verify the hash chain of a local audit log",
	Long: `Verify the integrity of an append-only audit log file: every record's
hash is recomputed and every previous_hash link is checked.

Examples:
  synm audit verify /var/lib/synm/audit.jsonl`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		log, err := quietLogger()
		if err != nil {
			return err
		}
		l, err := audit.NewLogger(args[0], log)
		if err != nil {
			return fmt.Errorf("audit log verification failed: %w", err)
		}
		defer l.Close()

		n, err := l.Verify(cmd.Context())
		if err != nil {
			return fmt.Errorf("audit log verification failed: %w", err)
		}
		fmt.Printf("OK: %d records, chain intact\n", n)
		return nil
	},
}

var (
	exportSince      string
	exportUntil      string
	exportAdminToken string
	exportOut        string
)

var auditExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export a signed audit window from the server",
	Long: `Export the signed audit record window [since, until) from a running
synmd instance. Requires the admin token.

Examples:
  synm audit export --admin-token $SYNM_ADMIN_TOKEN
  synm audit export --since 2026-08-01T00:00:00Z --until 2026-08-02T00:00:00Z --out bundle.json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		params := url.Values{}
		if exportSince != "" {
			params.Set("since", exportSince)
		}
		if exportUntil != "" {
			params.Set("until", exportUntil)
		}
		path := "/v1/audit/export"
		if len(params) > 0 {
			path += "?" + params.Encode()
		}

		var bundle audit.ExportBundle
		if _, err := postJSON(path, nil, &bundle, exportAdminToken); err != nil {
			return err
		}

		payload, err := json.MarshalIndent(bundle, "", "  ")
		if err != nil {
			return fmt.Errorf("encoding bundle: %w", err)
		}

		if exportOut == "" {
			fmt.Println(string(payload))
		} else {
			if err := os.WriteFile(exportOut, payload, 0o600); err != nil {
				return fmt.Errorf("writing bundle: %w", err)
			}
			fmt.Fprintf(os.Stderr, "Exported %d records to %s\n", bundle.Count, exportOut)
		}
		return nil
	},
}

var auditInspectCmd = &cobra.Command{
	Use:   "inspect <audit-file>",
	Short: "Print a summary of a local audit log",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		log, err := quietLogger()
		if err != nil {
			return err
		}
		l, err := audit.NewLogger(args[0], log)
		if err != nil {
			return err
		}
		defer l.Close()

		bundle, err := l.Export(context.Background(), time.Time{}, time.Time{})
		if err != nil {
			return err
		}

		byEvent := map[string]int{}
		for _, r := range bundle.Records {
			byEvent[r.EventType]++
		}
		fmt.Printf("Records: %d\n", bundle.Count)
		for event, n := range byEvent {
			fmt.Printf("  %-18s %d\n", event, n)
		}
		fmt.Printf("Digest:  %s\n", bundle.Digest)
		return nil
	},
}

func init() {
	auditExportCmd.Flags().StringVar(&exportSince, "since", "", "window start (RFC3339)")
	auditExportCmd.Flags().StringVar(&exportUntil, "until", "", "window end (RFC3339, exclusive)")
	auditExportCmd.Flags().StringVar(&exportAdminToken, "admin-token", os.Getenv("SYNM_ADMIN_TOKEN"), "admin bearer token (or SYNM_ADMIN_TOKEN)")
	auditExportCmd.Flags().StringVar(&exportOut, "out", "", "write bundle to file instead of stdout")

	auditCmd.AddCommand(auditVerifyCmd)
	auditCmd.AddCommand(auditExportCmd)
	auditCmd.AddCommand(auditInspectCmd)
}
