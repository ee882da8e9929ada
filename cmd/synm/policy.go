package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ky13/synm/internal/policy"
)

var policyCmd = &cobra.Command{
	Use:   "policy",
	Short: "Policy catalogue operations",
}

var policyCheckCmd = &cobra.Command{
	Use:   "check <policy-path>",
	Short: "Parse a policy file or directory and print the catalogue",
	Long: `Load the policy YAML at the given path exactly the way synmd does and
print the resulting profiles, scopes, and defaults. Fails with the parse
error that would keep synmd on its previous snapshot.

Examples:
  synm policy check ./policies
  synm policy check /etc/synm/policies/work.yaml`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		source := policy.NewFileSource(args[0])
		snapshot, err := source.LoadSnapshot(cmd.Context())
		if err != nil {
			return fmt.Errorf("policy check failed: %w", err)
		}

		fmt.Printf("Defaults: ttl=%s max_tokens=%d\n\n", snapshot.Defaults.TTL, snapshot.Defaults.MaxTokens)

		profileIDs := make([]string, 0, len(snapshot.Profiles))
		for id := range snapshot.Profiles {
			profileIDs = append(profileIDs, id)
		}
		sort.Strings(profileIDs)

		fmt.Printf("Profiles (%d):\n", len(profileIDs))
		for _, id := range profileIDs {
			p := snapshot.Profiles[id]
			scopes := make([]string, 0, len(p.AllowedScopes))
			for s := range p.AllowedScopes {
				scopes = append(scopes, s)
			}
			sort.Strings(scopes)
			fmt.Printf("  %s\n    scopes: %s\n    rules:  %s\n    ttl:    %s\n",
				id, strings.Join(scopes, ", "), strings.Join(p.RedactionRuleIDs, ", "), p.DefaultTTL)
		}

		scopeIDs := make([]string, 0, len(snapshot.Scopes))
		for id := range snapshot.Scopes {
			scopeIDs = append(scopeIDs, id)
		}
		sort.Strings(scopeIDs)

		fmt.Printf("\nScopes (%d):\n", len(scopeIDs))
		for _, id := range scopeIDs {
			s := snapshot.Scopes[id]
			fmt.Printf("  %-20s %s %q\n", id, s.Source.Kind, s.Source.Query)
		}
		return nil
	},
}

func init() {
	policyCmd.AddCommand(policyCheckCmd)
}
