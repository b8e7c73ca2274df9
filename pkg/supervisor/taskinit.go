package supervisor

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"syscall"

	"github.com/cuemby/taskd/pkg/identity"
)

// Reserved exit codes for a task that fails before reaching exec (§6):
// stable values controllers may act on.
const (
	ExitSetupFailed        = 1
	ExitIdentitySwitchFailed = 2
	ExitContainerFailed     = 3
	ExitExecFailed          = 127
)

// ErrIdentitySwitchFailed marks a failure in identity.Become, mapped to
// ExitIdentitySwitchFailed by the caller.
var ErrIdentitySwitchFailed = errors.New("stepagent: identity switch failed")

// ErrExecFailed marks a failure in the final syscall.Exec, mapped to
// ExitExecFailed by the caller.
var ErrExecFailed = errors.New("stepagent: exec failed")

// TaskInitEnv is the environment variable carrying the JSON-encoded
// TaskInitSpec for the __task-init subcommand (cmd/stepd). Real user
// environment variables are passed separately in Argv/Env so they never
// collide with this one.
const TaskInitEnv = "TASKD_TASK_INIT"

// TaskInitSpec is everything a forked task child needs before it can
// become the user and exec the user's program (§4.4 step 6). It travels
// from the parent step-agent to the child task-init process via
// TaskInitEnv, since the release pipe fd is reserved for the one-byte
// synchronization read.
type TaskInitSpec struct {
	UID       uint32
	GID       uint32
	Groups    []uint32
	WorkDir   string
	Argv      []string
	Env       []string
	ReleaseFD int
}

// RunTaskInit is the entire body of the __task-init subcommand: reclaim
// nothing (this process never had more privilege than root-via-inherited-
// fork), become the user irrevocably, block on the release pipe, then
// exec the user program. It never returns on success — syscall.Exec
// replaces the process image. A returned error comes from decoding the
// spec, the identity switch, or the exec itself; ExitCodeFor maps it to
// the matching reserved exit code.
func RunTaskInit() error {
	raw := os.Getenv(TaskInitEnv)
	if raw == "" {
		return fmt.Errorf("stepagent: %s not set", TaskInitEnv)
	}
	var spec TaskInitSpec
	if err := json.Unmarshal([]byte(raw), &spec); err != nil {
		return fmt.Errorf("stepagent: decode task-init spec: %w", err)
	}

	if err := identity.Become(identity.Credential{UID: spec.UID, GID: spec.GID, Groups: spec.Groups}); err != nil {
		return fmt.Errorf("%w: %v", ErrIdentitySwitchFailed, err)
	}

	if spec.WorkDir != "" {
		if err := os.Chdir(spec.WorkDir); err != nil {
			_ = os.Chdir("/tmp")
		}
	}

	releaseFile := os.NewFile(uintptr(spec.ReleaseFD), "release-pipe")
	if releaseFile != nil {
		var b [1]byte
		_, _ = releaseFile.Read(b[:])
		releaseFile.Close()
	}

	if len(spec.Argv) == 0 {
		return fmt.Errorf("stepagent: empty argv")
	}
	argv0, err := lookPathFallback(spec.Argv[0])
	if err != nil {
		return fmt.Errorf("%w: resolve %s: %v", ErrExecFailed, spec.Argv[0], err)
	}
	if err := syscall.Exec(argv0, spec.Argv, spec.Env); err != nil {
		return fmt.Errorf("%w: %v", ErrExecFailed, err)
	}
	return nil
}

// ExitCodeFor maps a RunTaskInit error to the reserved exit code a
// controller can act on (§6).
func ExitCodeFor(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, ErrIdentitySwitchFailed):
		return ExitIdentitySwitchFailed
	case errors.Is(err, ErrExecFailed):
		return ExitExecFailed
	default:
		return ExitSetupFailed
	}
}

func lookPathFallback(path string) (string, error) {
	if len(path) > 0 && path[0] == '/' {
		return path, nil
	}
	return execLookPath(path)
}
