package main

import (
	"encoding/base64"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ky13/synm/internal/audit"
)

var keygenOut string

// keygenCmd generates an export signing keypair.
var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generate an ed25519 audit export signing key",
	Long: `Generate an ed25519 keypair for signing audit exports. The private key
is written base64-encoded with 0600 permissions; the public key and key
id are printed for distribution to verifiers.

Examples:
  synm keygen --out /etc/synm/signing.key`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := os.Stat(keygenOut); err == nil {
			return fmt.Errorf("refusing to overwrite existing key at %s", keygenOut)
		}

		kp, err := audit.GenerateKeyPair()
		if err != nil {
			return fmt.Errorf("generating keypair: %w", err)
		}
		if err := audit.SavePrivateKeyBase64(keygenOut, kp.Private); err != nil {
			return fmt.Errorf("writing private key: %w", err)
		}

		fmt.Printf("Private key: %s\n", keygenOut)
		fmt.Printf("Public key:  %s\n", base64.StdEncoding.EncodeToString(kp.Public))
		fmt.Printf("Key ID:      %s\n", audit.KeyID(kp.Public))
		return nil
	},
}

func init() {
	keygenCmd.Flags().StringVar(&keygenOut, "out", "./signing.key", "private key output path")
}
