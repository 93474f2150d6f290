// Package cmd implements the dagster-cloud CLI.
package cmd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/aksestok/dagster-cloud/internal/config"
	"github.com/aksestok/dagster-cloud/internal/observability"
	"github.com/aksestok/dagster-cloud/pkg/client"
	"github.com/aksestok/dagster-cloud/pkg/instance"
	"github.com/aksestok/dagster-cloud/pkg/runstore"
)

var rootCmd = &cobra.Command{
	Use:   "dagster-cloud",
	Short: "Dagster Cloud client and agent utilities",
	Long: `Client for the Dagster Cloud API: workspace and deployment
administration, insights cost uploads, and local process-based run
management.

Configuration is read from --config, DAGSTER_CLOUD_* environment
variables, or both (flags and env override the file).`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var (
	rootConfigPath string
	rootURL        string
	rootAPIToken   string
	rootDeployment string
)

func init() {
	rootCmd.PersistentFlags().StringVar(&rootConfigPath, "config", "", "Path to a cloud API config file (yaml)")
	rootCmd.PersistentFlags().StringVar(&rootURL, "url", "", "Cloud base URL, e.g. https://org.dagster.cloud/prod")
	rootCmd.PersistentFlags().StringVar(&rootAPIToken, "api-token", "", "Agent or user API token")
	rootCmd.PersistentFlags().StringVar(&rootDeployment, "deployment", "", "Deployment name")
}

// cliError carries a foundry exit code alongside the failure.
type cliError struct {
	code int
	msg  string
	err  error
}

func (e *cliError) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %v", e.msg, e.err)
	}
	return e.msg
}

func (e *cliError) Unwrap() error {
	return e.err
}

// exitError wraps a CLI failure with its foundry exit code. Generic over
// the code's underlying int type so the foundry constants pass through
// unconverted.
func exitError[C ~int](code C, msg string, err error) error {
	return &cliError{code: int(code), msg: msg, err: err}
}

// Execute runs the CLI and exits the process with the failure's foundry
// code when one is attached.
func Execute() {
	defer observability.Sync()

	if err := rootCmd.Execute(); err != nil {
		observability.CLILogger.Error(err.Error())
		var ce *cliError
		if errors.As(err, &ce) {
			observability.Sync()
			os.Exit(ce.code)
		}
		observability.Sync()
		os.Exit(1)
	}
}

// loadAPIConfig merges the config file with root flag overrides.
func loadAPIConfig() (instance.Config, error) {
	cfg, err := config.Load(rootConfigPath)
	if err != nil {
		return instance.Config{}, err
	}
	if rootURL != "" {
		cfg.URL = rootURL
	}
	if rootAPIToken != "" {
		cfg.AgentToken = rootAPIToken
	}
	if rootDeployment != "" {
		cfg.Deployment = rootDeployment
	}
	return cfg, nil
}

// newGraphQLClient builds the shim client for the configured deployment.
func newGraphQLClient() (*client.Client, error) {
	cfg, err := loadAPIConfig()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	agent, err := newAgentInstance(cfg)
	if err != nil {
		return nil, err
	}
	return agent.GraphQLClient()
}

// newAgentInstance builds the cloud-agent instance over the local run store.
func newAgentInstance(cfg instance.Config) (*instance.AgentInstance, error) {
	return instance.NewAgentInstance(cfg, runstore.NewFileStore(runsRootDir()))
}

// runsRootDir resolves where run records live. DAGSTER_CLOUD_HOME wins;
// otherwise ~/.dagster-cloud.
func runsRootDir() string {
	if home := os.Getenv("DAGSTER_CLOUD_HOME"); home != "" {
		return filepath.Join(home, "runs")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "dagster-cloud", "runs")
	}
	return filepath.Join(home, ".dagster-cloud", "runs")
}
