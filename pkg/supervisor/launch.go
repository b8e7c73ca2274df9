package supervisor

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"syscall"

	"github.com/cuemby/taskd/pkg/capability"
	"github.com/cuemby/taskd/pkg/log"
	"github.com/cuemby/taskd/pkg/runtime"
	"github.com/cuemby/taskd/pkg/types"
)

// anchorImage and anchorArgv describe the placeholder process that anchors
// a step's containerd container. The real task processes are not run as
// this container's task (see Launch) — the container exists only to give
// the step a cgroup containerd will apply device/CPU/memory limits to, and
// a single handle collective signaling and teardown can target.
const (
	anchorImage = "docker.io/library/pause:3.9"
)

var anchorArgv = []string{"/pause"}

// TaskStdio gives the fds a forked task should inherit as its own
// stdin/stdout/stderr. The io plane is responsible for creating these
// (pipes, PTYs, or /dev/null) before Launch is called.
type TaskStdio struct {
	Stdin, Stdout, Stderr *os.File
}

// Handle is what Launch hands back: everything later supervisor and
// node-agent operations need to signal, wait on, or tear down a step's
// tasks.
type Handle struct {
	ContainerID string
	Pgid        int
	Tasks       []*types.Task
	devices     []capability.DeviceHandle
}

// Runner creates containers and forks tasks for the steps assigned to one
// step-agent. One Runner per stepd process.
type Runner struct {
	rt        *runtime.ContainerdRuntime
	allocator *capability.Allocator
	selfPath  string
}

// NewRunner builds a Runner. selfPath is the path to the stepd binary
// re-exec'd as each task's __task-init shim; pass "" to use the running
// binary's own path (os.Executable).
func NewRunner(rt *runtime.ContainerdRuntime, allocator *capability.Allocator, selfPath string) (*Runner, error) {
	if selfPath == "" {
		p, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("supervisor: resolve self path: %w", err)
		}
		selfPath = p
	}
	return &Runner{rt: rt, allocator: allocator, selfPath: selfPath}, nil
}

// Launch runs the §4.4 launch sequence for one step: create the step's
// anchor container, fork one __task-init child per local task behind a
// release pipe, join every child to the container's cgroup and to a
// shared process group, then release them all together.
//
// stdio must have one entry per local task (len(stdio) == step.LocalTaskCount).
// devices are capability handles already allocated by the caller for this
// step; Launch binds them to the anchor container's cgroup.
func (r *Runner) Launch(ctx context.Context, step *types.StepImmutable, resources *types.Resources, devices []capability.DeviceHandle, stdio []TaskStdio) (*Handle, error) {
	if len(stdio) != step.LocalTaskCount {
		return nil, fmt.Errorf("supervisor: %d stdio entries for %d local tasks", len(stdio), step.LocalTaskCount)
	}

	containerID := fmt.Sprintf("step-%d.%d", step.JobID, step.StepID)
	container := &types.Container{
		ID:        containerID,
		Image:     anchorImage,
		Argv:      anchorArgv,
		WorkDir:   "/",
		Resources: resources,
	}
	if _, err := r.rt.CreateContainer(ctx, container, devices); err != nil {
		r.allocator.Release(devices)
		return nil, fmt.Errorf("supervisor: create container: %w", err)
	}
	if err := r.rt.StartContainer(ctx, containerID); err != nil {
		r.allocator.Release(devices)
		_ = r.rt.DeleteContainer(ctx, containerID)
		return nil, fmt.Errorf("supervisor: start container: %w", err)
	}

	anchorPID, err := r.rt.Pid(ctx, containerID)
	if err != nil {
		return nil, fmt.Errorf("supervisor: anchor pid: %w", err)
	}
	cgroupDir, err := cgroupPathForPID(int(anchorPID))
	if err != nil {
		return nil, fmt.Errorf("supervisor: locate cgroup: %w", err)
	}

	handle := &Handle{ContainerID: containerID, devices: devices}
	releases := make([]*os.File, 0, step.LocalTaskCount)

	for i := 0; i < step.LocalTaskCount; i++ {
		releaseR, releaseW, err := os.Pipe()
		if err != nil {
			return handle, fmt.Errorf("supervisor: release pipe: %w", err)
		}

		spec := TaskInitSpec{
			UID:       step.UID,
			GID:       step.GID,
			Groups:    step.SupplementalGIDs,
			WorkDir:   step.WorkDir,
			Argv:      step.Argv,
			Env:       step.Env,
			ReleaseFD: 3,
		}
		payload, err := json.Marshal(spec)
		if err != nil {
			releaseR.Close()
			releaseW.Close()
			return handle, fmt.Errorf("supervisor: encode task-init spec: %w", err)
		}

		cmd := exec.Command(r.selfPath, "__task-init")
		cmd.Env = append(os.Environ(), TaskInitEnv+"="+string(payload))
		cmd.ExtraFiles = []*os.File{releaseR}
		cmd.Stdin = stdio[i].Stdin
		cmd.Stdout = stdio[i].Stdout
		cmd.Stderr = stdio[i].Stderr
		cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true, Pgid: handle.Pgid}

		if err := cmd.Start(); err != nil {
			releaseR.Close()
			releaseW.Close()
			return handle, fmt.Errorf("supervisor: fork task %d: %w", i, err)
		}
		releaseR.Close() // the child holds its own copy via ExtraFiles

		if handle.Pgid == 0 {
			handle.Pgid = cmd.Process.Pid
		}

		if err := addPIDToCgroup(cgroupDir, cmd.Process.Pid); err != nil {
			// resource limits won't apply to this task, but it is already
			// running; surface the failure without aborting the launch.
			log.WithComponent("supervisor").Warn().Err(err).Int("pid", cmd.Process.Pid).Str("container", containerID).Msg("could not add task to step cgroup")
		}

		handle.Tasks = append(handle.Tasks, &types.Task{
			LocalID:   i,
			GlobalID:  step.GlobalTaskIDs[i],
			PID:       cmd.Process.Pid,
			ParentPID: os.Getpid(),
			State:     types.TaskForked,
		})
		releases = append(releases, releaseW)
	}

	// Release every task only after all of them have been forked and
	// joined to the process group and cgroup (§4.4 step 6).
	for i, w := range releases {
		if _, err := w.Write([]byte{0}); err != nil {
			handle.Tasks[i].State = types.TaskForked
		} else {
			handle.Tasks[i].State = types.TaskRunning
		}
		w.Close()
	}

	return handle, nil
}

// Kill delivers sig to every task in the step's process group.
func (h *Handle) Kill(sig syscall.Signal) error {
	if h.Pgid == 0 {
		return nil
	}
	if err := syscall.Kill(-h.Pgid, sig); err != nil && err != syscall.ESRCH {
		return fmt.Errorf("supervisor: kill process group %d: %w", h.Pgid, err)
	}
	return nil
}

// Alive reports whether any process remains in the step's process group.
// Used by terminate_job's destroy-retry loop to decide whether to keep
// escalating.
func (h *Handle) Alive() bool {
	if h.Pgid == 0 {
		return false
	}
	return syscall.Kill(-h.Pgid, 0) == nil
}

// Teardown deletes the step's anchor container and releases its device
// handles. Safe to call once the step's tasks have all been reaped.
func (r *Runner) Teardown(ctx context.Context, h *Handle) error {
	r.allocator.Release(h.devices)
	return r.rt.DeleteContainer(ctx, h.ContainerID)
}

// cgroupPathForPID reads /proc/<pid>/cgroup and returns the absolute
// cgroup-v2 directory the pid belongs to, the same technique kubelet and
// cadvisor use to discover a container's cgroup without trusting a
// runtime-specific naming convention.
func cgroupPathForPID(pid int) (string, error) {
	f, err := os.Open("/proc/" + strconv.Itoa(pid) + "/cgroup")
	if err != nil {
		return "", err
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return "", err
	}
	path, ok := parseCgroupV2Path(lines)
	if !ok {
		return "", fmt.Errorf("supervisor: no cgroup v2 entry for pid %d", pid)
	}
	return path, nil
}

// parseCgroupV2Path finds the unified-hierarchy entry ("0::/path") among
// the lines of a /proc/<pid>/cgroup file and returns its absolute mount
// path.
func parseCgroupV2Path(lines []string) (string, bool) {
	for _, line := range lines {
		parts := strings.SplitN(line, ":", 3)
		if len(parts) == 3 && parts[0] == "0" && parts[1] == "" {
			return "/sys/fs/cgroup" + parts[2], true
		}
	}
	return "", false
}

// addPIDToCgroup moves pid into the cgroup at dir by writing to its
// cgroup.procs control file.
func addPIDToCgroup(dir string, pid int) error {
	f, err := os.OpenFile(dir+"/cgroup.procs", os.O_WRONLY, 0)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.WriteString(strconv.Itoa(pid))
	return err
}
