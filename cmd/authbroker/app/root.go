// Package app wires the broker's cobra/viper CLI surface: a "serve"
// subcommand running the HTTP server and a "jwks" subcommand for
// operational inspection of the current signing key.
package app

import (
	"errors"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/trenner1/bazel-auth-broker/pkg/logger"
)

// configError marks a failure that should exit the process with code 1
// (configuration error).
type configError struct{ cause error }

func (e *configError) Error() string { return e.cause.Error() }
func (e *configError) Unwrap() error { return e.cause }

// NewConfigError wraps err as a configuration failure.
func NewConfigError(err error) error {
	if err == nil {
		return nil
	}
	return &configError{cause: err}
}

// runtimeError marks a failure that should exit the process with code 2
// (fatal runtime error: address in use, unrecoverable panic).
type runtimeError struct{ cause error }

func (e *runtimeError) Error() string { return e.cause.Error() }
func (e *runtimeError) Unwrap() error { return e.cause }

// NewRuntimeError wraps err as a fatal runtime failure.
func NewRuntimeError(err error) error {
	if err == nil {
		return nil
	}
	return &runtimeError{cause: err}
}

// ExitCodeFor maps a RunE error returned from the root command to the
// process exit code: 1 for configuration errors, 2 for fatal runtime
// errors, 1 for anything else cobra itself reports (flag parsing,
// unknown command).
func ExitCodeFor(err error) int {
	if err == nil {
		return 0
	}
	var rerr *runtimeError
	if errors.As(err, &rerr) {
		return 2
	}
	return 1
}

// NewRootCmd builds the broker's root cobra command.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:               "authbroker",
		DisableAutoGenTag: true,
		Short:             "bazel-auth-broker brokers OIDC logins into team-scoped Vault tokens",
		Long: `authbroker is the authentication broker that sits between developer/CI
clients, an OIDC identity provider, and HashiCorp Vault. It turns a
successful interactive end-user login into a short-lived, narrowly-scoped
Vault token whose permissions reflect the user's team rather than the
user's individual identity.`,
		Run: func(cmd *cobra.Command, _ []string) {
			if err := cmd.Help(); err != nil {
				logger.Errorf("error displaying help: %v", err)
			}
		},
		PersistentPreRun: func(_ *cobra.Command, _ []string) {
			logger.Initialize()
		},
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().String("config", "", "path to a BrokerConfig YAML file (optional; environment variables take precedence)")
	if err := viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config")); err != nil {
		logger.Errorf("error binding config flag: %v", err)
	}

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newJWKSCmd())

	return rootCmd
}
