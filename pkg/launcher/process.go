package launcher

import (
	"fmt"
	"os"
	"os/exec"
	"syscall"
)

// TaskStatus is the observed liveness of an OS process.
type TaskStatus string

const (
	// TaskRunning means the pid exists and accepts signals.
	TaskRunning TaskStatus = "RUNNING"

	// TaskNotRunning means the pid is gone or unreachable.
	TaskNotRunning TaskStatus = "NOT_RUNNING"
)

// LaunchProcess spawns a detached process with the given argument vector
// and returns its pid. The first element is the executable path. Stdout
// and stderr files may be nil to discard output.
//
// The return is fire-and-forget: the child is released so it is never
// reaped by this process, and no exit status is collected.
func LaunchProcess(args []string, stdout, stderr *os.File) (int, error) {
	if len(args) == 0 {
		return 0, fmt.Errorf("argument vector is empty")
	}

	cmd := exec.Command(args[0], args[1:]...)
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.Env = os.Environ()

	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("start run process: %w", err)
	}

	pid := cmd.Process.Pid
	_ = cmd.Process.Release()
	return pid, nil
}

// CheckOnProcess classifies the liveness of a pid.
func CheckOnProcess(pid int) TaskStatus {
	if isProcessAlive(pid) {
		return TaskRunning
	}
	return TaskNotRunning
}

// KillProcess sends SIGTERM to the pid. Signaling a pid that has already
// exited returns an error from the OS; callers treat that as benign.
func KillProcess(pid int) error {
	if pid <= 0 {
		return fmt.Errorf("invalid pid %d", pid)
	}
	p, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("find process: %w", err)
	}
	if err := p.Signal(syscall.SIGTERM); err != nil {
		return fmt.Errorf("signal term: %w", err)
	}
	return nil
}

func isProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	p, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	// signal 0 is supported on unix; it checks for existence without sending a signal.
	if err := p.Signal(syscall.Signal(0)); err != nil {
		return false
	}
	return true
}
