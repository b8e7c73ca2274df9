// Package prolog implements the prolog/epilog runner (§4.7, C9): a
// single run_script contract reused for every site script a step's
// lifecycle invokes (prolog, epilog, task-prolog, task-epilog), executed
// under the target user's identity with a minimal environment and a
// wait timeout backed by a delayed SIGKILL.
package prolog

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"syscall"
	"time"

	"github.com/cuemby/taskd/pkg/identity"
)

// Kind names which script a Runner is invoking, carried through only for
// logging; run_script's behavior does not otherwise depend on it.
type Kind string

const (
	KindProlog     Kind = "prolog"
	KindEpilog     Kind = "epilog"
	KindTaskProlog Kind = "task_prolog"
	KindTaskEpilog Kind = "task_epilog"
)

// Request is run_script's argument list.
type Request struct {
	Kind      Kind
	Path      string
	JobID     uint32
	UID       uint32
	GID       uint32
	Groups    []uint32
	Env       []string
	MaxWait   time.Duration
	Partition string // optional site resource tag, added to the child's environment
}

// Result is run_script's return value: whether the script ran at all,
// and its termination status if it did.
type Result struct {
	Ran      bool
	ExitCode int
	Signaled bool
	Signal   int
	TimedOut bool
}

// ErrScriptNotExecutable means the target path exists but is a directory
// or has no execute bit set for anyone. Run checks only the mode bits; it
// does not check whether the target uid in particular may read and
// execute the file.
var ErrScriptNotExecutable = errors.New("prolog: script is a directory or has no execute permission")

// Runner executes prolog/epilog scripts. Stateless; one Runner is shared
// across every step on a node-agent.
type Runner struct {
	groups *identity.GroupCache
}

// NewRunner builds a Runner, resolving supplementary groups through cache.
func NewRunner(cache *identity.GroupCache) *Runner {
	return &Runner{groups: cache}
}

// Run executes req.Path as req.UID and waits up to req.MaxWait before
// escalating to SIGKILL against the child's process group. An empty
// req.Path is success with Ran == false, matching run_script's "if path
// is empty, return immediately with success" rule.
func (r *Runner) Run(ctx context.Context, req Request) (Result, error) {
	if req.Path == "" {
		return Result{Ran: false}, nil
	}

	info, err := os.Stat(req.Path)
	if err != nil {
		return Result{}, fmt.Errorf("prolog: stat %s: %w", req.Path, err)
	}
	if info.IsDir() || info.Mode()&0111 == 0 {
		return Result{}, ErrScriptNotExecutable
	}

	groups := req.Groups
	if groups == nil && r.groups != nil {
		groups, err = r.groups.Lookup(req.UID, req.GID)
		if err != nil {
			return Result{}, fmt.Errorf("prolog: resolve groups for uid %d: %w", req.UID, err)
		}
	}

	env := append([]string{}, req.Env...)
	env = append(env,
		"TASKD_JOB_ID="+strconv.FormatUint(uint64(req.JobID), 10),
		"TASKD_UID="+strconv.FormatUint(uint64(req.UID), 10),
	)
	if req.Partition != "" {
		env = append(env, "TASKD_PARTITION="+req.Partition)
	}

	cmd := exec.Command(req.Path)
	cmd.Env = env
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid:    true,
		Credential: &syscall.Credential{Uid: req.UID, Gid: req.GID, Groups: groups},
	}

	if err := cmd.Start(); err != nil {
		return Result{}, fmt.Errorf("prolog: start %s: %w", req.Path, err)
	}

	waitDone := make(chan error, 1)
	go func() { waitDone <- cmd.Wait() }()

	maxWait := req.MaxWait
	if maxWait <= 0 {
		maxWait = 60 * time.Second
	}

	select {
	case err := <-waitDone:
		return resultFromWait(cmd, err), nil
	case <-time.After(maxWait):
		_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
		<-waitDone // still reap the child once the kill lands, per run_script's "continue to wait"
		res := resultFromWait(cmd, errors.New("timed out"))
		res.TimedOut = true
		return res, nil
	case <-ctx.Done():
		_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
		<-waitDone
		return Result{}, ctx.Err()
	}
}

func resultFromWait(cmd *exec.Cmd, waitErr error) Result {
	res := Result{Ran: true}
	state := cmd.ProcessState
	if state == nil {
		return res
	}
	if ws, ok := state.Sys().(syscall.WaitStatus); ok {
		if ws.Signaled() {
			res.Signaled = true
			res.Signal = int(ws.Signal())
		} else {
			res.ExitCode = ws.ExitStatus()
		}
	}
	return res
}
