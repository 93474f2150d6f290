package launcher

import (
	"errors"
	"os/exec"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/aksestok/dagster-cloud/pkg/instance"
	"github.com/aksestok/dagster-cloud/pkg/runstore"
)

// localInstance is a non-cloud-agent instance variant.
type localInstance struct {
	runs runstore.Store
}

func (l *localInstance) DagitURL() string { return "http://localhost:3000/" }
func (l *localInstance) RunStore() runstore.Store { return l.runs }

func newTestAgent(t *testing.T) (*instance.AgentInstance, *runstore.FileStore) {
	t.Helper()
	store := runstore.NewFileStore(t.TempDir())
	agent, err := instance.NewAgentInstance(instance.Config{
		URL:        "https://hooli.dagster.cloud/prod",
		AgentToken: "agent:hooli:token",
		Deployment: "prod",
	}, store)
	if err != nil {
		t.Fatalf("NewAgentInstance: %v", err)
	}
	return agent, store
}

func writeStartedRun(t *testing.T, store *runstore.FileStore, runID string, tags map[string]string) {
	t.Helper()
	now := time.Now().UTC()
	err := store.Write(&runstore.Record{
		RunID:     runID,
		Status:    runstore.StatusStarted,
		Tags:      tags,
		CreatedAt: now,
		StartedAt: &now,
	})
	if err != nil {
		t.Fatalf("write run: %v", err)
	}
}

func TestLaunchRun_RequiresAgentInstance(t *testing.T) {
	store := runstore.NewFileStore(t.TempDir())
	l := New(&localInstance{runs: store}, nil)

	now := time.Now().UTC()
	run := &runstore.Record{RunID: "run-1", Status: runstore.StatusStarted, CreatedAt: now}
	err := l.LaunchRun(LaunchRunContext{Run: run, CodeOrigin: &CodeOrigin{LocationName: "loc"}})
	if !errors.Is(err, instance.ErrNotCloudAgent) {
		t.Fatalf("expected ErrNotCloudAgent, got %v", err)
	}
}

func TestLaunchRun_RequiresCodeOrigin(t *testing.T) {
	agent, store := newTestAgent(t)
	writeStartedRun(t, store, "run-1", nil)
	l := New(agent, nil)

	run, err := store.GetRun("run-1")
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if err := l.LaunchRun(LaunchRunContext{Run: run}); err == nil || !strings.Contains(err.Error(), "code origin") {
		t.Fatalf("expected code origin precondition error, got %v", err)
	}
}

func TestLaunchRun_RecordsPidTag(t *testing.T) {
	echoPath, err := exec.LookPath("echo")
	if err != nil {
		t.Skip("echo not available")
	}

	agent, store := newTestAgent(t)
	writeStartedRun(t, store, "run-1", nil)
	l := New(agent, nil)

	run, err := store.GetRun("run-1")
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}

	origin := &CodeOrigin{LocationName: "loc", ExecutablePath: echoPath}
	if err := l.LaunchRun(LaunchRunContext{Run: run, CodeOrigin: origin}); err != nil {
		t.Fatalf("LaunchRun: %v", err)
	}

	got, err := store.GetRun("run-1")
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	raw, ok := got.Tag(PIDTag)
	if !ok {
		t.Fatal("pid tag not recorded")
	}
	if pid, err := strconv.Atoi(raw); err != nil || pid <= 0 {
		t.Fatalf("malformed pid tag %q", raw)
	}
}

func TestCanTerminate_Preconditions(t *testing.T) {
	agent, store := newTestAgent(t)
	l := New(agent, nil)

	// Unknown run.
	if l.CanTerminate("missing") {
		t.Fatal("unknown run should not be terminable")
	}

	// Finished run with a stale pid tag.
	now := time.Now().UTC()
	err := store.Write(&runstore.Record{
		RunID:     "finished",
		Status:    runstore.StatusSuccess,
		Tags:      map[string]string{PIDTag: "12345"},
		CreatedAt: now,
	})
	if err != nil {
		t.Fatalf("write run: %v", err)
	}
	if l.CanTerminate("finished") {
		t.Fatal("finished run should not be terminable")
	}

	// Run without a pid tag.
	writeStartedRun(t, store, "untagged", nil)
	if l.CanTerminate("untagged") {
		t.Fatal("untagged run should not be terminable")
	}

	// Run with a malformed pid tag.
	writeStartedRun(t, store, "malformed", map[string]string{PIDTag: "not-a-pid"})
	if l.CanTerminate("malformed") {
		t.Fatal("malformed pid tag should not be terminable")
	}

	// Run whose pid is not running.
	writeStartedRun(t, store, "dead", map[string]string{PIDTag: "999999"})
	if l.CanTerminate("dead") {
		t.Fatal("dead pid should not be terminable")
	}
}

func TestCanTerminate_NonAgentInstance(t *testing.T) {
	store := runstore.NewFileStore(t.TempDir())
	writeStartedRun(t, store, "run-1", map[string]string{PIDTag: "1"})

	l := New(&localInstance{runs: store}, nil)
	if l.CanTerminate("run-1") {
		t.Fatal("non-agent instance should never report terminable")
	}
	if l.Terminate("run-1") {
		t.Fatal("non-agent instance should never terminate")
	}
}

func TestTerminate_Preconditions(t *testing.T) {
	agent, store := newTestAgent(t)
	l := New(agent, nil)

	if l.Terminate("missing") {
		t.Fatal("unknown run should not terminate")
	}

	writeStartedRun(t, store, "untagged", nil)
	if l.Terminate("untagged") {
		t.Fatal("untagged run should not terminate")
	}
}

func TestTerminate_SignalsAndReportsCanceling(t *testing.T) {
	sleepPath, err := exec.LookPath("sleep")
	if err != nil {
		t.Skip("sleep not available")
	}

	agent, store := newTestAgent(t)
	l := New(agent, nil)

	pid, err := LaunchProcess([]string{sleepPath, "30"}, nil, nil)
	if err != nil {
		t.Fatalf("LaunchProcess: %v", err)
	}
	writeStartedRun(t, store, "run-1", map[string]string{PIDTag: strconv.Itoa(pid)})

	if !l.CanTerminate("run-1") {
		t.Fatal("live run should be terminable")
	}
	if !l.Terminate("run-1") {
		t.Fatal("Terminate should report true after signaling")
	}

	got, err := store.GetRun("run-1")
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got.Status != runstore.StatusCanceling {
		t.Fatalf("expected CANCELING after terminate, got %q", got.Status)
	}
}

func TestExecuteRunArgs_CommandArgs(t *testing.T) {
	args := ExecuteRunArgs{
		Origin: &CodeOrigin{LocationName: "loc", ExecutablePath: "/usr/bin/dagster"},
		RunID:  "run-1",
		InstanceRef: instance.Ref{
			URL:        "https://hooli.dagster.cloud/prod",
			Deployment: "prod",
		},
	}

	argv, err := args.CommandArgs()
	if err != nil {
		t.Fatalf("CommandArgs: %v", err)
	}
	if argv[0] != "/usr/bin/dagster" {
		t.Fatalf("expected origin executable first, got %q", argv[0])
	}
	if argv[1] != "api" || argv[2] != "execute-run" {
		t.Fatalf("unexpected entry point: %v", argv[1:3])
	}
	blob := argv[3]
	for _, want := range []string{`"pipeline_run_id":"run-1"`, `"location_name":"loc"`, `"deployment":"prod"`} {
		if !strings.Contains(blob, want) {
			t.Fatalf("serialized bundle missing %s: %s", want, blob)
		}
	}
}
