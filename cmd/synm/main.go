// Package main implements the synm CLI for operating a synmd instance.
package main

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	// serverURL is the base URL of the synmd HTTP server.
	serverURL string
	// token is the bearer token for the CPI surface.
	token string
	// version information
	version = "dev"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "synm",
	Short: "CLI for synmd mediation gateway operations",
	Long: `synm is a command-line interface for operating a synmd instance.
It talks to the HTTP surface for sessions, context, and revocation, and
works directly on local files for policy checks, audit verification,
seeding, and key generation.`,
	Version: version,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:8787", "synmd server URL")
	rootCmd.PersistentFlags().StringVar(&token, "token", os.Getenv("SYNM_TOKEN"), "bearer token (or SYNM_TOKEN)")

	rootCmd.AddCommand(healthCmd)
	rootCmd.AddCommand(sessionCmd)
	rootCmd.AddCommand(contextCmd)
	rootCmd.AddCommand(revokeCmd)
	rootCmd.AddCommand(auditCmd)
	rootCmd.AddCommand(policyCmd)
	rootCmd.AddCommand(seedCmd)
	rootCmd.AddCommand(keygenCmd)
}
