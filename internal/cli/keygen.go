package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"shipit/internal/security"
)

// NewKeygenCommand creates the keygen command
func NewKeygenCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate an ed25519 key pair for signing ledger records",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			dir, _ := cmd.Flags().GetString("out")
			pub, priv, err := security.GenerateKeyPair()
			if err != nil {
				return err
			}
			pubPath, privPath, err := security.SaveKeyPair(pub, priv, dir)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "private key:", privPath)
			fmt.Fprintln(out, "public key: ", pubPath)
			fmt.Fprintln(out, "set ledger.key in release.yaml to sign records")
			return nil
		},
	}
	cmd.Flags().String("out", "keys", "directory to write the key pair to")
	return cmd
}
