package stepagent

import (
	"fmt"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/cuemby/taskd/pkg/dispatcher"
)

// Launcher is the node-agent side of the step-agent lifecycle (§4.5): it
// spawns a detached stepd process per step, hands it an InitConfig over
// the to_stepd pipe, and blocks on the to_slurmd pipe until the
// step-agent reports ready (or failed) — at which point the node-agent
// answers the controller's launch_tasks RPC.
type Launcher struct {
	stepdPath string
	runDir    string
}

// NewLauncher builds a Launcher. stepdPath is the path to the stepd
// binary; runDir is where each step-agent's control socket is created.
func NewLauncher(stepdPath, runDir string) *Launcher {
	return &Launcher{stepdPath: stepdPath, runDir: runDir}
}

// newStepdCmd builds the *exec.Cmd that launches a step-agent: stepd's
// default root command (no args) is the step-agent server itself, unlike
// its hidden __task-init subcommand (pkg/supervisor). A package variable
// so tests can substitute a stand-in binary for the real stepd without
// needing one built.
var newStepdCmd = func(stepdPath string) *exec.Cmd {
	return exec.Command(stepdPath)
}

// Spawned is a running step-agent: its pid, control socket path, and the
// ready status it reported.
type Spawned struct {
	PID        int
	SocketPath string
	Ready      int32
}

// Spawn forks a detached stepd process (SysProcAttr.Setsid so it survives
// this node-agent's own exit, per §1: "an exited node-agent does not
// carry zombies" — an orphaned stepd is reparented to pid 1, not killed),
// writes cfg over its inherited to_stepd pipe, and blocks reading its
// to_slurmd ready status before returning.
func (l *Launcher) Spawn(cfg InitConfig) (*Spawned, error) {
	toStepdR, toStepdW, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("stepagent: to_stepd pipe: %w", err)
	}
	toSlurmdR, toSlurmdW, err := os.Pipe()
	if err != nil {
		toStepdR.Close()
		toStepdW.Close()
		return nil, fmt.Errorf("stepagent: to_slurmd pipe: %w", err)
	}

	cmd := newStepdCmd(l.stepdPath)
	cmd.ExtraFiles = []*os.File{toStepdR, toSlurmdW}
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		toStepdR.Close()
		toStepdW.Close()
		toSlurmdR.Close()
		toSlurmdW.Close()
		return nil, fmt.Errorf("stepagent: start stepd: %w", err)
	}
	toStepdR.Close()
	toSlurmdW.Close()
	defer toStepdW.Close()
	defer toSlurmdR.Close()

	if err := WriteInitFrame(toStepdW, cfg); err != nil {
		return nil, fmt.Errorf("stepagent: write init frame: %w", err)
	}

	status, err := ReadReadyStatus(toSlurmdR)
	if err != nil {
		return nil, fmt.Errorf("stepagent: read ready status: %w", err)
	}

	socketPath := dispatcher.StepAgentSocketPath(l.runDir, cfg.Step.JobID, cfg.Step.StepID)
	return &Spawned{PID: cmd.Process.Pid, SocketPath: socketPath, Ready: status}, nil
}

// WaitForSocket polls for the step-agent's control socket to appear,
// since the ready-status handshake completes before the step-agent's own
// gRPC listener is necessarily accepting connections yet.
func WaitForSocket(path string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if _, err := os.Stat(path); err == nil {
			return nil
		}
		time.Sleep(10 * time.Millisecond)
	}
	return fmt.Errorf("stepagent: control socket %s did not appear within %s", path, timeout)
}
