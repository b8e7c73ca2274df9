package runtime

import (
	"context"
	"fmt"
	"syscall"
	"time"

	"github.com/containerd/containerd"
	"github.com/containerd/containerd/cio"
	"github.com/containerd/containerd/namespaces"
	"github.com/containerd/containerd/oci"
	"github.com/cuemby/taskd/pkg/capability"
	"github.com/cuemby/taskd/pkg/types"
)

const (
	sigterm = syscall.SIGTERM
	sigkill = syscall.SIGKILL
)

const (
	// DefaultNamespace is the containerd namespace taskd's task containers
	// live in, isolated from any other containerd tenant on the node.
	DefaultNamespace = "taskd"

	// DefaultSocketPath is the default containerd socket.
	DefaultSocketPath = "/run/containerd/containerd.sock"
)

// ContainerdRuntime implements the task container runtime using containerd.
// One instance is shared by a node-agent's supervisors; it is safe for
// concurrent use across steps.
type ContainerdRuntime struct {
	client    *containerd.Client
	namespace string
}

// NewContainerdRuntime creates a new containerd runtime client.
func NewContainerdRuntime(socketPath string) (*ContainerdRuntime, error) {
	if socketPath == "" {
		socketPath = DefaultSocketPath
	}

	client, err := containerd.New(socketPath)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to containerd: %w", err)
	}

	return &ContainerdRuntime{
		client:    client,
		namespace: DefaultNamespace,
	}, nil
}

// Close closes the containerd client connection.
func (r *ContainerdRuntime) Close() error {
	if r.client != nil {
		return r.client.Close()
	}
	return nil
}

// PullImage pulls a container image from a registry.
func (r *ContainerdRuntime) PullImage(ctx context.Context, imageRef string) error {
	ctx = namespaces.WithNamespace(ctx, r.namespace)

	if _, err := r.client.Pull(ctx, imageRef, containerd.WithPullUnpack); err != nil {
		return fmt.Errorf("failed to pull image %s: %w", imageRef, err)
	}
	return nil
}

// CreateContainer creates a task's container from a container
// specification, binding any devices the capability allocator handed out
// for it as OCI device cgroup entries.
func (r *ContainerdRuntime) CreateContainer(ctx context.Context, container *types.Container, devices []capability.DeviceHandle) (string, error) {
	ctx = namespaces.WithNamespace(ctx, r.namespace)

	image, err := r.client.GetImage(ctx, container.Image)
	if err != nil {
		return "", fmt.Errorf("failed to get image %s: %w", container.Image, err)
	}

	opts := []oci.SpecOpts{
		oci.WithImageConfig(image),
		oci.WithEnv(container.Env),
	}
	if len(container.Argv) > 0 {
		opts = append(opts, oci.WithProcessArgs(container.Argv...))
	}
	if container.WorkDir != "" {
		opts = append(opts, oci.WithProcessCwd(container.WorkDir))
	}

	if container.Resources != nil {
		if container.Resources.CPULimit > 0 {
			// CPU shares: relative weight (1024 = 1 core).
			// CPU quota: period=100000us (100ms), quota=CPULimit*100000.
			shares := uint64(container.Resources.CPULimit * 1024)
			quota := int64(container.Resources.CPULimit * 100000)
			period := uint64(100000)

			opts = append(opts, oci.WithCPUShares(shares))
			opts = append(opts, oci.WithCPUCFS(quota, period))
		}
		if container.Resources.MemoryLimit > 0 {
			opts = append(opts, oci.WithMemoryLimit(uint64(container.Resources.MemoryLimit)))
		}
	}

	for _, d := range devices {
		opts = append(opts, oci.WithLinuxDevice(d.BindingHint, "rwm"))
	}

	ctrdContainer, err := r.client.NewContainer(
		ctx,
		container.ID,
		containerd.WithImage(image),
		containerd.WithNewSnapshot(container.ID+"-snapshot", image),
		containerd.WithNewSpec(opts...),
	)
	if err != nil {
		return "", fmt.Errorf("failed to create container: %w", err)
	}

	return ctrdContainer.ID(), nil
}

// StartContainer starts a container's task (its running instance).
func (r *ContainerdRuntime) StartContainer(ctx context.Context, containerID string) error {
	ctx = namespaces.WithNamespace(ctx, r.namespace)

	c, err := r.client.LoadContainer(ctx, containerID)
	if err != nil {
		return fmt.Errorf("failed to load container %s: %w", containerID, err)
	}

	task, err := c.NewTask(ctx, cio.NullIO)
	if err != nil {
		return fmt.Errorf("failed to create task: %w", err)
	}

	if err := task.Start(ctx); err != nil {
		return fmt.Errorf("failed to start task: %w", err)
	}
	return nil
}

// StopContainer stops a running container, escalating SIGTERM to SIGKILL
// if it doesn't exit within timeout. Mirrors the supervisor's own
// SIGCONT/SIGTERM/SIGKILL escalation (SPEC_FULL.md §4.4) for the case
// where the container, not a bare process group, is the kill target.
func (r *ContainerdRuntime) StopContainer(ctx context.Context, containerID string, timeout time.Duration) error {
	ctx = namespaces.WithNamespace(ctx, r.namespace)

	c, err := r.client.LoadContainer(ctx, containerID)
	if err != nil {
		return fmt.Errorf("failed to load container %s: %w", containerID, err)
	}

	task, err := c.Task(ctx, nil)
	if err != nil {
		// no task means the container never started, nothing to stop
		return nil
	}

	stopCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := task.Kill(stopCtx, sigterm); err != nil {
		return fmt.Errorf("failed to signal task: %w", err)
	}

	statusC, err := task.Wait(stopCtx)
	if err != nil {
		return fmt.Errorf("failed to wait for task: %w", err)
	}

	select {
	case <-statusC:
	case <-stopCtx.Done():
		if err := task.Kill(ctx, sigkill); err != nil {
			return fmt.Errorf("failed to force kill task: %w", err)
		}
	}

	if _, err := task.Delete(ctx); err != nil {
		return fmt.Errorf("failed to delete task: %w", err)
	}
	return nil
}

// DeleteContainer removes a container and its snapshot, stopping it first
// if still running. Idempotent: a missing container is not an error.
func (r *ContainerdRuntime) DeleteContainer(ctx context.Context, containerID string) error {
	ctx = namespaces.WithNamespace(ctx, r.namespace)

	c, err := r.client.LoadContainer(ctx, containerID)
	if err != nil {
		return nil
	}

	if err := r.StopContainer(ctx, containerID, 10*time.Second); err != nil {
		// proceed with deletion regardless; the snapshot must still be reclaimed
		_ = err
	}

	if err := c.Delete(ctx, containerd.WithSnapshotCleanup); err != nil {
		return fmt.Errorf("failed to delete container: %w", err)
	}
	return nil
}

// GetContainerStatus returns the status of a container's task.
func (r *ContainerdRuntime) GetContainerStatus(ctx context.Context, containerID string) (types.ContainerState, error) {
	ctx = namespaces.WithNamespace(ctx, r.namespace)

	c, err := r.client.LoadContainer(ctx, containerID)
	if err != nil {
		return types.ContainerStateFailed, fmt.Errorf("failed to load container %s: %w", containerID, err)
	}

	task, err := c.Task(ctx, nil)
	if err != nil {
		return types.ContainerStatePending, nil
	}

	status, err := task.Status(ctx)
	if err != nil {
		return types.ContainerStateFailed, fmt.Errorf("failed to get task status: %w", err)
	}

	switch status.Status {
	case containerd.Running, containerd.Paused:
		return types.ContainerStateRunning, nil
	case containerd.Stopped:
		if status.ExitStatus == 0 {
			return types.ContainerStateComplete, nil
		}
		return types.ContainerStateFailed, nil
	default:
		return types.ContainerStatePending, nil
	}
}

// Pid returns the task's host PID, used by supervisor.Runner.Launch to
// locate the anchor container's cgroup that the step's tasks then join.
func (r *ContainerdRuntime) Pid(ctx context.Context, containerID string) (uint32, error) {
	ctx = namespaces.WithNamespace(ctx, r.namespace)

	c, err := r.client.LoadContainer(ctx, containerID)
	if err != nil {
		return 0, fmt.Errorf("failed to load container %s: %w", containerID, err)
	}
	task, err := c.Task(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to get task: %w", err)
	}
	return task.Pid(), nil
}

// IsRunning checks if a container is currently running.
func (r *ContainerdRuntime) IsRunning(ctx context.Context, containerID string) bool {
	status, err := r.GetContainerStatus(ctx, containerID)
	if err != nil {
		return false
	}
	return status == types.ContainerStateRunning
}

// ListContainers returns all containers in taskd's namespace. Nothing in
// cmd/taskd or cmd/stepd calls it; no orphan-cleanup pass exists.
func (r *ContainerdRuntime) ListContainers(ctx context.Context) ([]string, error) {
	ctx = namespaces.WithNamespace(ctx, r.namespace)

	containers, err := r.client.Containers(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list containers: %w", err)
	}

	ids := make([]string, 0, len(containers))
	for _, c := range containers {
		ids = append(ids, c.ID())
	}
	return ids, nil
}
