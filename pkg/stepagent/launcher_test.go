package stepagent

import (
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/cuemby/taskd/pkg/types"
)

// TestHelperFakeStepd is not a real test: it is re-exec'd as a child
// process by TestLauncherSpawnHandshake to stand in for the stepd binary,
// the same "helper process" technique os/exec's own tests use to drive a
// real child process without depending on an external binary.
func TestHelperFakeStepd(t *testing.T) {
	if os.Getenv("TASKD_FAKE_STEPD") != "1" {
		t.Skip("not running as the fake stepd helper")
	}
	toStepdR := os.NewFile(3, "to_stepd")
	toSlurmdW := os.NewFile(4, "to_slurmd")

	if _, err := ReadInitFrame(toStepdR); err != nil {
		os.Exit(1)
	}
	if err := WriteReadyStatus(toSlurmdW, ReadyOK); err != nil {
		os.Exit(1)
	}
	os.Exit(0)
}

func TestLauncherSpawnHandshake(t *testing.T) {
	self, err := os.Executable()
	if err != nil {
		t.Fatalf("os.Executable: %v", err)
	}

	orig := newStepdCmd
	newStepdCmd = func(string) *exec.Cmd {
		cmd := exec.Command(self, "-test.run=TestHelperFakeStepd")
		cmd.Env = append(os.Environ(), "TASKD_FAKE_STEPD=1")
		return cmd
	}
	defer func() { newStepdCmd = orig }()

	runDir := t.TempDir()
	l := NewLauncher(self, runDir)

	cfg := InitConfig{
		NodeID: "node01",
		Step:   types.StepImmutable{JobID: 1, StepID: 0},
	}

	spawned, err := l.Spawn(cfg)
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	if spawned.Ready != ReadyOK {
		t.Fatalf("got ready status %d, want ReadyOK", spawned.Ready)
	}
	wantSocket := filepath.Join(runDir, "step-1.0.sock")
	if spawned.SocketPath != wantSocket {
		t.Fatalf("got socket path %s, want %s", spawned.SocketPath, wantSocket)
	}
}

func TestWaitForSocketTimesOutWhenAbsent(t *testing.T) {
	if err := WaitForSocket(filepath.Join(t.TempDir(), "never.sock"), 30*time.Millisecond); err == nil {
		t.Fatal("expected a timeout error for a socket that never appears")
	}
}

func TestWaitForSocketSucceedsWhenPresent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "present.sock")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	f.Close()

	if err := WaitForSocket(path, time.Second); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
