/*
Package runtime provides containerd integration for taskd's task
container lifecycle.

Each step gets one anchor container that all of its local tasks join
(pkg/supervisor): this package wraps containerd's client API to create,
start, stop, and tear down those containers, including translating a
step's device allocations
(pkg/capability) into OCI device cgroup entries.

# Architecture

	┌─────────────────── CONTAINERD RUNTIME ────────────────────┐
	│                                                             │
	│  ┌──────────────────────────────────────────────┐         │
	│  │        ContainerdRuntime Client               │         │
	│  │  - Socket: /run/containerd/containerd.sock    │         │
	│  │  - Namespace: taskd                           │         │
	│  └──────────────────┬───────────────────────────┘         │
	│                     │                                       │
	│  ┌──────────────────▼───────────────────────────┐         │
	│  │        Container Lifecycle                    │         │
	│  │  - Create: Generate OCI spec per step          │         │
	│  │  - Start: Launch the step's anchor process     │         │
	│  │  - Stop: SIGTERM, escalate to SIGKILL          │         │
	│  │  - Delete: Cleanup container and snapshot      │         │
	│  └──────────────────┬───────────────────────────┘         │
	│                     │                                       │
	│  ┌──────────────────▼───────────────────────────┐         │
	│  │         Resource Management                   │         │
	│  │  - CPU: Shares (1024 = 1 core) + CFS quota    │         │
	│  │  - Memory: Hard limits in bytes                │         │
	│  │  - Devices: cgroup device rules per allocation │         │
	│  └────────────────────────────────────────────────┘        │
	└─────────────────────────────────────────────────────────┘

# Container Lifecycle

Create: validate the image, generate an OCI spec from the step's
types.Container plus any capability.DeviceHandle allocations, create the
container and its snapshot, return the container ID. Start: load the
container, create and start its containerd task. Stop: SIGTERM the task,
wait with a timeout, SIGKILL on expiry, delete the task. Delete: stop if
running, then delete the container and its snapshot.

# Usage

	rt, err := runtime.NewContainerdRuntime("")
	if err != nil {
		log.Fatal(err)
	}
	defer rt.Close()

	devices, _ := allocator.Allocate("gpu", 1)
	containerID, err := rt.CreateContainer(ctx, &types.Container{
		ID:    fmt.Sprintf("%d.%d-%d", jobID, stepID, localRank),
		Image: taskImage,
		Argv:  step.Argv,
		Env:   step.Env,
	}, devices)
	if err != nil {
		log.Fatal(err)
	}

	if err := rt.StartContainer(ctx, containerID); err != nil {
		log.Fatal(err)
	}

# Integration Points

This package is driven by pkg/supervisor (the task supervisor, §4.4) and
consumes pkg/capability for device binding and pkg/types for the
container and resource shapes. The step-agent never calls it directly.

# Namespace Isolation

All of taskd's containers run in the "taskd" containerd namespace,
isolated from any other tenant sharing the same containerd daemon;
ListContainers is scoped to that namespace.
*/
package runtime
