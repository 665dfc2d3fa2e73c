package app

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/trenner1/bazel-auth-broker/pkg/broker/keys"
)

func newJWKSCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "jwks",
		Short: "Print the broker's current JWKS document",
		Long: `Load the signing key referenced by BROKER_SIGNING_KEY_PATH and print the
JSON Web Key Set document /.well-known/jwks.json would serve, for
operational inspection without standing up the HTTP server.`,
		RunE: runJWKS,
	}
}

func runJWKS(cmd *cobra.Command, _ []string) error {
	path := os.Getenv("BROKER_SIGNING_KEY_PATH")
	if path == "" {
		return NewConfigError(fmt.Errorf("BROKER_SIGNING_KEY_PATH is required"))
	}

	keyManager, err := keys.NewFileProvider(keys.Config{SigningKeyFile: path})
	if err != nil {
		return NewConfigError(fmt.Errorf("loading signing key: %w", err))
	}

	set, err := keyManager.JWKS(context.Background())
	if err != nil {
		return NewRuntimeError(fmt.Errorf("building jwks document: %w", err))
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(set); err != nil {
		return NewRuntimeError(fmt.Errorf("encoding jwks document: %w", err))
	}
	return nil
}
