package main

import (
	"errors"
	"os"

	"github.com/spf13/cobra"

	identity "github.com/giantswarm/identity-adapter"
)

// Exit codes for CLI commands.
const (
	// ExitCodeSuccess indicates successful execution.
	ExitCodeSuccess = 0
	// ExitCodeError indicates a general error (command failed, invalid arguments).
	ExitCodeError = 1
	// ExitCodeConfig indicates the configuration is invalid.
	ExitCodeConfig = 2
)

// envFiles lists the dotenv files loaded before the environment is parsed.
var envFiles []string

// rootCmd is the entry point when the binary is called without subcommands.
var rootCmd = &cobra.Command{
	Use:   "identity-adapter",
	Short: "OAuth login and entitlement API for broiler.dev",
	Long: `identity-adapter signs users in with GitHub, resolves their group and
scope entitlements and issues short-lived access tokens backed by
rotating refresh tokens.`,
	SilenceUsage: true,
}

// SetVersion sets the version for the root command.
func SetVersion(v string) {
	rootCmd.Version = v
}

// GetVersion returns the current version of the application.
func GetVersion() string {
	return rootCmd.Version
}

// Execute runs the root command and exits with a semantic exit code on error.
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "identity-adapter version %s\n" .Version}}`)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(getExitCode(err))
	}
}

// configError marks failures to load or validate the configuration.
type configError struct {
	err error
}

func (e *configError) Error() string { return e.err.Error() }
func (e *configError) Unwrap() error { return e.err }

func getExitCode(err error) int {
	var cfgErr *configError
	if errors.As(err, &cfgErr) {
		return ExitCodeConfig
	}
	return ExitCodeError
}

// loadConfig loads and validates the configuration from envFiles and the
// process environment.
func loadConfig() (*identity.Config, error) {
	cfg, err := identity.LoadConfig(envFiles...)
	if err != nil {
		return nil, &configError{err: err}
	}
	if err := cfg.Validate(newLogger(cfg.Observability)); err != nil {
		return nil, &configError{err: err}
	}
	return cfg, nil
}

func init() {
	rootCmd.PersistentFlags().StringSliceVar(&envFiles, "env-file", nil, "dotenv files to load (default .env)")

	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newMigrateCmd())
	rootCmd.AddCommand(newGroupsCmd())
}
