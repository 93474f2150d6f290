// Package launcher starts, polls, and terminates local OS processes that
// execute runs on behalf of the orchestration framework. All run-state
// bookkeeping beyond the pid tag belongs to the framework's run store.
package launcher

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"go.uber.org/zap"

	"github.com/aksestok/dagster-cloud/pkg/instance"
	"github.com/aksestok/dagster-cloud/pkg/runstore"
)

// PIDTag is the run tag key holding the stringified process id.
const PIDTag = "process/pid"

// CodeOrigin identifies the code location a run executes against.
type CodeOrigin struct {
	LocationName   string `json:"location_name"`
	ExecutablePath string `json:"executable_path,omitempty"`
	ModuleName     string `json:"module_name,omitempty"`
	PackageName    string `json:"package_name,omitempty"`
	PythonFile     string `json:"python_file,omitempty"`
	WorkingDir     string `json:"working_directory,omitempty"`
	Attribute      string `json:"attribute,omitempty"`
}

// LaunchRunContext carries everything needed to start one run.
type LaunchRunContext struct {
	Run        *runstore.Record
	CodeOrigin *CodeOrigin
}

// ExecuteRunArgs is the serialized bundle handed to the spawned process.
type ExecuteRunArgs struct {
	Origin      *CodeOrigin  `json:"pipeline_origin"`
	RunID       string       `json:"pipeline_run_id"`
	InstanceRef instance.Ref `json:"instance_ref"`
}

// CommandArgs builds the argument vector for the run process:
// the origin's executable (or this binary when unset) invoking the
// execute-run entry point with the serialized bundle.
func (a ExecuteRunArgs) CommandArgs() ([]string, error) {
	blob, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("serialize run args: %w", err)
	}

	exe := a.Origin.ExecutablePath
	if exe == "" {
		self, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("resolve executable: %w", err)
		}
		exe = self
	}
	return []string{exe, "api", "execute-run", string(blob)}, nil
}

// ProcessRunLauncher launches runs as local OS processes, recording each
// pid as a run tag so later liveness checks and termination can find it.
type ProcessRunLauncher struct {
	inst   instance.Instance
	logger *zap.Logger
}

// New creates a launcher over the given instance.
func New(inst instance.Instance, logger *zap.Logger) *ProcessRunLauncher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ProcessRunLauncher{inst: inst, logger: logger}
}

// LaunchRun spawns the run process and tags the run with its pid.
//
// The code origin is a hard precondition: without it there is nothing to
// execute, so the launch fails before any side effect.
func (l *ProcessRunLauncher) LaunchRun(ctx LaunchRunContext) error {
	agent, err := instance.RequireAgentInstance(l.inst)
	if err != nil {
		return err
	}
	if ctx.Run == nil {
		return fmt.Errorf("run is required")
	}
	if ctx.CodeOrigin == nil {
		return fmt.Errorf("run %s has no code origin", ctx.Run.RunID)
	}

	runArgs := ExecuteRunArgs{
		Origin:      ctx.CodeOrigin,
		RunID:       ctx.Run.RunID,
		InstanceRef: agent.GetRef(),
	}
	args, err := runArgs.CommandArgs()
	if err != nil {
		return err
	}

	stdout, stderr, closeLogs, err := l.runLogFiles(ctx.Run.RunID)
	if err != nil {
		return err
	}
	defer closeLogs()

	pid, err := LaunchProcess(args, stdout, stderr)
	if err != nil {
		return err
	}

	l.logger.Info("launched run process",
		zap.String("run_id", ctx.Run.RunID),
		zap.Int("pid", pid))

	return l.inst.RunStore().AddRunTags(ctx.Run.RunID, map[string]string{PIDTag: strconv.Itoa(pid)})
}

// runLogFiles opens per-run stdout/stderr destinations when the store is
// file-backed; otherwise output is discarded.
func (l *ProcessRunLauncher) runLogFiles(runID string) (*os.File, *os.File, func(), error) {
	fs, ok := l.inst.RunStore().(*runstore.FileStore)
	if !ok {
		return nil, nil, func() {}, nil
	}
	if err := os.MkdirAll(fs.RunDir(runID), 0755); err != nil {
		return nil, nil, nil, fmt.Errorf("create run dir: %w", err)
	}
	stdout, err := os.Create(fs.StdoutPath(runID))
	if err != nil {
		return nil, nil, nil, fmt.Errorf("create stdout log: %w", err)
	}
	stderr, err := os.Create(fs.StderrPath(runID))
	if err != nil {
		_ = stdout.Close()
		return nil, nil, nil, fmt.Errorf("create stderr log: %w", err)
	}
	return stdout, stderr, func() {
		_ = stdout.Close()
		_ = stderr.Close()
	}, nil
}

// pidForRun resolves the tagged pid for a run, or 0 when the run is
// missing, finished, or untagged.
func (l *ProcessRunLauncher) pidForRun(runID string) int {
	if _, err := instance.RequireAgentInstance(l.inst); err != nil {
		return 0
	}
	run, err := l.inst.RunStore().GetRun(runID)
	if err != nil || run == nil {
		return 0
	}
	if run.IsFinished() {
		return 0
	}
	raw, ok := run.Tag(PIDTag)
	if !ok {
		return 0
	}
	pid, err := strconv.Atoi(raw)
	if err != nil || pid <= 0 {
		return 0
	}
	return pid
}

// CanTerminate reports whether the run has a live process to terminate.
func (l *ProcessRunLauncher) CanTerminate(runID string) bool {
	pid := l.pidForRun(runID)
	if pid == 0 {
		return false
	}
	return CheckOnProcess(pid) == TaskRunning
}

// Terminate notifies the run store that cancellation is in progress, then
// signals the run process. It returns true once the signal is sent,
// without waiting for the process to exit. A signal to an already-dead
// pid is benign and does not fail the termination.
func (l *ProcessRunLauncher) Terminate(runID string) bool {
	pid := l.pidForRun(runID)
	if pid == 0 {
		return false
	}

	if err := l.inst.RunStore().ReportRunCanceling(runID); err != nil {
		l.logger.Warn("failed to report run canceling",
			zap.String("run_id", runID), zap.Error(err))
	}

	if err := KillProcess(pid); err != nil {
		l.logger.Debug("signal to run process failed",
			zap.String("run_id", runID), zap.Int("pid", pid), zap.Error(err))
	}
	return true
}
