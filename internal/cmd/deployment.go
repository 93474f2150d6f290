package cmd

import (
	"fmt"
	"os"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/aksestok/dagster-cloud/internal/observability"
)

var deploymentCmd = &cobra.Command{
	Use:   "deployment",
	Short: "Manage deployments",
}

var deploymentListCmd = &cobra.Command{
	Use:   "list",
	Short: "List deployments in the organization",
	RunE:  runDeploymentList,
}

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Read or replace deployment settings",
}

var settingsGetCmd = &cobra.Command{
	Use:   "get",
	Short: "Print the deployment settings document as yaml",
	RunE:  runSettingsGet,
}

var settingsSetFile string

var settingsSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Replace the deployment settings document",
	RunE:  runSettingsSet,
}

func init() {
	rootCmd.AddCommand(deploymentCmd)
	deploymentCmd.AddCommand(deploymentListCmd)
	deploymentCmd.AddCommand(settingsCmd)
	settingsCmd.AddCommand(settingsGetCmd)
	settingsCmd.AddCommand(settingsSetCmd)

	settingsSetCmd.Flags().StringVarP(&settingsSetFile, "file", "f", "", "Path to settings yaml (required)")
	_ = settingsSetCmd.MarkFlagRequired("file")
}

func runDeploymentList(cmd *cobra.Command, args []string) error {
	gql, err := newGraphQLClient()
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid cloud API configuration", err)
	}

	deployments, err := gql.Deployments(cmd.Context())
	if err != nil {
		return exitError(foundry.ExitExternalServiceUnavailable, "Unable to list deployments", err)
	}
	for _, d := range deployments {
		fmt.Printf("%s\t%d\n", d.Name, d.ID)
	}
	return nil
}

func runSettingsGet(cmd *cobra.Command, args []string) error {
	gql, err := newGraphQLClient()
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid cloud API configuration", err)
	}

	settings, err := gql.DeploymentSettings(cmd.Context())
	if err != nil {
		return exitError(foundry.ExitExternalServiceUnavailable, "Unable to get deployment settings", err)
	}

	out, err := yaml.Marshal(settings)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Unable to render settings", err)
	}
	fmt.Print(string(out))
	return nil
}

func runSettingsSet(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(settingsSetFile)
	if err != nil {
		observability.CLILogger.Error("Failed to read settings file", zap.String("path", settingsSetFile), zap.Error(err))
		return exitError(foundry.ExitFileNotFound, "Failed to read settings file", err)
	}

	var settings map[string]any
	if err := yaml.Unmarshal(data, &settings); err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid settings file", err)
	}

	gql, err := newGraphQLClient()
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid cloud API configuration", err)
	}

	if err := gql.SetDeploymentSettings(cmd.Context(), settings); err != nil {
		return exitError(foundry.ExitExternalServiceUnavailable, "Unable to set deployment settings", err)
	}
	observability.CLILogger.Info("Updated deployment settings")
	return nil
}
