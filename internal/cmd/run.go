package cmd

import (
	"fmt"
	"strconv"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/aksestok/dagster-cloud/internal/observability"
	"github.com/aksestok/dagster-cloud/pkg/launcher"
	"github.com/aksestok/dagster-cloud/pkg/runstore"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Manage local process-based runs",
}

var (
	runLaunchJob      string
	runLaunchLocation string
	runLaunchModule   string
	runLaunchPackage  string
	runLaunchFile     string
	runLaunchExe      string
	runLaunchWorkdir  string
)

var runLaunchCmd = &cobra.Command{
	Use:   "launch",
	Short: "Launch a run as a local OS process",
	RunE:  runRunLaunch,
}

var runStatusCmd = &cobra.Command{
	Use:   "status RUN_ID",
	Short: "Show a run record and its process liveness",
	Args:  cobra.ExactArgs(1),
	RunE:  runRunStatus,
}

var runTerminateCmd = &cobra.Command{
	Use:   "terminate RUN_ID",
	Short: "Signal a run's process to terminate",
	Args:  cobra.ExactArgs(1),
	RunE:  runRunTerminate,
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.AddCommand(runLaunchCmd)
	runCmd.AddCommand(runStatusCmd)
	runCmd.AddCommand(runTerminateCmd)

	f := runLaunchCmd.Flags()
	f.StringVar(&runLaunchJob, "job", "", "Job name (required)")
	f.StringVar(&runLaunchLocation, "location", "", "Code location name (required)")
	f.StringVar(&runLaunchModule, "module-name", "", "Module code target")
	f.StringVar(&runLaunchPackage, "package-name", "", "Package code target")
	f.StringVar(&runLaunchFile, "python-file", "", "Python file code target")
	f.StringVar(&runLaunchExe, "executable-path", "", "Interpreter path for the run process")
	f.StringVar(&runLaunchWorkdir, "working-directory", "", "Working directory")
	_ = runLaunchCmd.MarkFlagRequired("job")
	_ = runLaunchCmd.MarkFlagRequired("location")
}

func runRunLaunch(cmd *cobra.Command, args []string) error {
	cfg, err := loadAPIConfig()
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid cloud API configuration", err)
	}
	agent, err := newAgentInstance(cfg)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid cloud API configuration", err)
	}

	now := time.Now().UTC()
	record := &runstore.Record{
		RunID:     uuid.New().String(),
		JobName:   runLaunchJob,
		Status:    runstore.StatusStarted,
		CreatedAt: now,
		StartedAt: &now,
	}
	if err := agent.RunStore().Write(record); err != nil {
		return exitError(foundry.ExitFileWriteError, "Failed to persist run record", err)
	}

	origin := &launcher.CodeOrigin{
		LocationName:   runLaunchLocation,
		ModuleName:     runLaunchModule,
		PackageName:    runLaunchPackage,
		PythonFile:     runLaunchFile,
		ExecutablePath: runLaunchExe,
		WorkingDir:     runLaunchWorkdir,
	}

	l := launcher.New(agent, observability.CLILogger)
	if err := l.LaunchRun(launcher.LaunchRunContext{Run: record, CodeOrigin: origin}); err != nil {
		return exitError(foundry.ExitExternalServiceUnavailable, "Failed to launch run", err)
	}

	fmt.Println(record.RunID)
	return nil
}

func runRunStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadAPIConfig()
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid cloud API configuration", err)
	}
	agent, err := newAgentInstance(cfg)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid cloud API configuration", err)
	}

	record, err := agent.RunStore().GetRun(args[0])
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Unknown run", err)
	}

	fmt.Printf("run_id=%s job=%s status=%s\n", record.RunID, record.JobName, record.Status)
	if raw, ok := record.Tag(launcher.PIDTag); ok {
		pid, err := strconv.Atoi(raw)
		if err != nil {
			fmt.Printf("pid=%s (malformed)\n", raw)
			return nil
		}
		fmt.Printf("pid=%d process=%s\n", pid, launcher.CheckOnProcess(pid))
	}
	return nil
}

func runRunTerminate(cmd *cobra.Command, args []string) error {
	cfg, err := loadAPIConfig()
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid cloud API configuration", err)
	}
	agent, err := newAgentInstance(cfg)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid cloud API configuration", err)
	}

	l := launcher.New(agent, observability.CLILogger)
	if !l.CanTerminate(args[0]) {
		return exitError(foundry.ExitInvalidArgument, "Run has no live process to terminate", nil)
	}
	if !l.Terminate(args[0]) {
		return exitError(foundry.ExitInvalidArgument, "Run could not be terminated", nil)
	}
	observability.CLILogger.Info("Sent termination signal", zap.String("run_id", args[0]))
	return nil
}
