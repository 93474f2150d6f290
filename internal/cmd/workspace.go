package cmd

import (
	"fmt"
	"os"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/aksestok/dagster-cloud/internal/observability"
	"github.com/aksestok/dagster-cloud/pkg/workspace"
)

var workspaceCmd = &cobra.Command{
	Use:   "workspace",
	Short: "Manage code locations in the cloud workspace",
}

var workspaceListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered code locations",
	RunE:  runWorkspaceList,
}

var (
	workspaceAddLocation workspace.Location
	workspaceSyncFile    string
)

var workspaceAddCmd = &cobra.Command{
	Use:   "add-location",
	Short: "Add or update a code location",
	RunE:  runWorkspaceAdd,
}

var workspaceDeleteCmd = &cobra.Command{
	Use:   "delete-location NAME",
	Short: "Remove a code location",
	Args:  cobra.ExactArgs(1),
	RunE:  runWorkspaceDelete,
}

var workspaceSyncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Apply every location from a workspace file",
	RunE:  runWorkspaceSync,
}

func init() {
	rootCmd.AddCommand(workspaceCmd)
	workspaceCmd.AddCommand(workspaceListCmd)
	workspaceCmd.AddCommand(workspaceAddCmd)
	workspaceCmd.AddCommand(workspaceDeleteCmd)
	workspaceCmd.AddCommand(workspaceSyncCmd)

	f := workspaceAddCmd.Flags()
	f.StringVar(&workspaceAddLocation.Name, "location", "", "Location name (required)")
	f.StringVar(&workspaceAddLocation.PythonFile, "python-file", "", "Python file code target")
	f.StringVar(&workspaceAddLocation.PackageName, "package-name", "", "Package code target")
	f.StringVar(&workspaceAddLocation.ModuleName, "module-name", "", "Module code target")
	f.StringVar(&workspaceAddLocation.Image, "image", "", "Container image")
	f.StringVar(&workspaceAddLocation.WorkingDirectory, "working-directory", "", "Working directory")
	f.StringVar(&workspaceAddLocation.ExecutablePath, "executable-path", "", "Interpreter path")
	f.StringVar(&workspaceAddLocation.Attribute, "attribute", "", "Repository attribute")
	f.StringVar(&workspaceAddLocation.CommitHash, "commit-hash", "", "Deployed commit hash")
	f.StringVar(&workspaceAddLocation.URL, "git-url", "", "Source browser URL")
	_ = workspaceAddCmd.MarkFlagRequired("location")

	workspaceSyncCmd.Flags().StringVarP(&workspaceSyncFile, "workspace", "w", "", "Path to workspace yaml (required)")
	_ = workspaceSyncCmd.MarkFlagRequired("workspace")
}

func runWorkspaceList(cmd *cobra.Command, args []string) error {
	gql, err := newGraphQLClient()
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid cloud API configuration", err)
	}

	entries, err := gql.WorkspaceEntries(cmd.Context())
	if err != nil {
		return exitError(foundry.ExitExternalServiceUnavailable, "Unable to list workspace entries", err)
	}
	for _, e := range entries {
		fmt.Println(e.LocationName)
	}
	return nil
}

func runWorkspaceAdd(cmd *cobra.Command, args []string) error {
	doc, err := workspaceAddLocation.Document()
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid location", err)
	}

	gql, err := newGraphQLClient()
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid cloud API configuration", err)
	}

	if err := gql.AddOrUpdateCodeLocation(cmd.Context(), doc); err != nil {
		return exitError(foundry.ExitExternalServiceUnavailable, "Unable to add/update code location", err)
	}
	observability.CLILogger.Info("Updated code location", zap.String("location", workspaceAddLocation.Name))
	return nil
}

func runWorkspaceDelete(cmd *cobra.Command, args []string) error {
	gql, err := newGraphQLClient()
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid cloud API configuration", err)
	}

	if err := gql.DeleteCodeLocation(cmd.Context(), args[0]); err != nil {
		return exitError(foundry.ExitExternalServiceUnavailable, "Unable to delete code location", err)
	}
	observability.CLILogger.Info("Deleted code location", zap.String("location", args[0]))
	return nil
}

// workspaceFile is the on-disk shape of a workspace document.
type workspaceFile struct {
	Locations []workspace.Location `yaml:"locations"`
}

func runWorkspaceSync(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(workspaceSyncFile)
	if err != nil {
		observability.CLILogger.Error("Failed to read workspace file", zap.String("path", workspaceSyncFile), zap.Error(err))
		return exitError(foundry.ExitFileNotFound, "Failed to read workspace file", err)
	}

	var wf workspaceFile
	if err := yaml.Unmarshal(data, &wf); err != nil {
		observability.CLILogger.Error("Invalid workspace file", zap.String("path", workspaceSyncFile), zap.Error(err))
		return exitError(foundry.ExitInvalidArgument, "Invalid workspace file", err)
	}
	if len(wf.Locations) == 0 {
		return exitError(foundry.ExitInvalidArgument, "Workspace file has no locations", nil)
	}

	gql, err := newGraphQLClient()
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid cloud API configuration", err)
	}

	for _, loc := range wf.Locations {
		doc, err := loc.Document()
		if err != nil {
			return exitError(foundry.ExitInvalidArgument, "Invalid location "+loc.Name, err)
		}
		if err := gql.AddOrUpdateCodeLocation(cmd.Context(), doc); err != nil {
			return exitError(foundry.ExitExternalServiceUnavailable, "Unable to sync location "+loc.Name, err)
		}
		observability.CLILogger.Info("Synced code location", zap.String("location", loc.Name))
	}
	return nil
}
