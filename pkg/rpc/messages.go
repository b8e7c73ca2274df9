// Package rpc defines the wire messages exchanged between the
// controller, node-agent, and step-agent (§6), and the plumbing that
// carries them: a JSON-over-gRPC codec (jsoncodec.go), a typed status
// result (status.go), and a retry/backoff helper (backoff.go).
package rpc

import (
	"time"

	"github.com/cuemby/taskd/pkg/types"
)

// FeatureBatchAckEarly is the version bit a controller sets to request
// the early-ack batch_job behavior. This repository's dispatcher always
// runs the prolog synchronously before acknowledging (§REDESIGN FLAGS
// option (b) default), so this bit exists for wire compatibility but the
// node-agent never reads it today.
const FeatureBatchAckEarly = 1 << 0

// LaunchTasksRequest is launch_tasks: controller -> node-agent.
type LaunchTasksRequest struct {
	JobID          uint32
	StepID         uint32
	UID            uint32
	GID            uint32
	NodeIndex      int
	LocalTaskCount int
	GlobalTaskIDs  []uint32
	Credential     types.Credential
	Env            []string
	Argv           []string
	WorkDir        string
	IOAddress      string
	ResourceTag    string
}

// LaunchedTask is one (local pid, global task id) pair returned on a
// successful launch.
type LaunchedTask struct {
	LocalPID int
	GlobalID uint32
}

// LaunchTasksResponse is the node-agent's reply to launch_tasks.
type LaunchTasksResponse struct {
	Status Status
	Tasks  []LaunchedTask
}

// SpawnTaskRequest is spawn_task: like LaunchTasksRequest but without
// per-host task count validation.
type SpawnTaskRequest struct {
	LaunchTasksRequest
	Spawn bool
}

// BatchJobRequest is batch_job: controller -> node-agent.
type BatchJobRequest struct {
	JobID       uint32
	UID         uint32
	GID         uint32
	Env         []string
	Script      string
	WorkDir     string
	StdoutPath  string
	StderrPath  string
	ResourceTag string
	Features    uint32 // bitset of Feature* constants
}

// BatchJobResponse is the node-agent's reply to batch_job.
type BatchJobResponse struct {
	Status Status
}

// SignalTasksRequest is signal_tasks / terminate_tasks: controller ->
// node-agent -> step-agent.
type SignalTasksRequest struct {
	JobID  uint32
	StepID uint32
	Signal int
}

// SignalTasksResponse is the reply to signal_tasks / terminate_tasks.
type SignalTasksResponse struct {
	Status Status
}

// TerminateJobRequest is terminate_job: controller -> node-agent.
type TerminateJobRequest struct {
	JobID       uint32
	UID         uint32
	ResourceTag string
}

// TerminateJobResponse is the reply to terminate_job.
type TerminateJobResponse struct {
	Status Status
}

// ReattachTasksRequest is reattach_tasks: controller -> node-agent ->
// step-agent.
type ReattachTasksRequest struct {
	JobID      uint32
	StepID     uint32
	IOAddress  string
	RespAddr   string
	Credential types.Credential
}

// ReattachedTask is one task's global id and pid as reported by reattach_tasks.
type ReattachedTask struct {
	GlobalID uint32
	PID      int
}

// ReattachTasksResponse is the reply to reattach_tasks.
type ReattachTasksResponse struct {
	Status Status
	Tasks  []ReattachedTask
}

// StepCompleteRequest is step_complete: step-agent -> parent step-agent
// or controller.
type StepCompleteRequest struct {
	JobID  uint32
	StepID uint32
	First  int
	Last   int
	StepRC int
	// Accounting is an opaque, already-serialized accounting payload; the
	// accounting plugin owns its shape (pkg/plugin).
	Accounting []byte
}

// StepCompleteResponse is the reply to step_complete.
type StepCompleteResponse struct {
	Status Status
}

// TaskExitRequest is task_exit: step-agent -> client. No reply is
// expected (§6), modeled here as a request with an empty response for
// symmetry with the gRPC dispatch table.
type TaskExitRequest struct {
	JobID         uint32
	StepID        uint32
	GlobalTaskIDs []uint32
	Status        types.ExitStatus
}

// TaskExitResponse is the (empty) reply to task_exit.
type TaskExitResponse struct{}

// EpilogCompleteRequest is epilog_complete: node-agent -> controller.
type EpilogCompleteRequest struct {
	// RequestID correlates this delivery across node-agent and controller
	// logs; it does not participate in any retry or dedup logic.
	RequestID  string
	JobID      uint32
	ReturnCode int
	SwitchInfo []byte
}

// EpilogCompleteResponse is the (empty) reply to epilog_complete.
type EpilogCompleteResponse struct{}

// AbortJobRequest is abort_job: node-agent -> controller, sent when a
// prolog failure means the job cannot run on this node (§4.7, §9).
type AbortJobRequest struct {
	RequestID string
	JobID     uint32
	NodeID    string
	Reason    string
}

// AbortJobResponse is the (empty) reply to abort_job.
type AbortJobResponse struct{}

// FileBcastRequest is file_bcast: controller -> node-agent.
type FileBcastRequest struct {
	TargetPath string
	BlockNum   int
	LastBlock  bool
	Force      bool
	Mode       uint32
	ATime      time.Time
	MTime      time.Time
	UID        uint32
	GID        uint32
	Block      []byte
}

// FileBcastResponse is the reply to file_bcast.
type FileBcastResponse struct {
	Status Status
}

// Pid2JidRequest is pid2jid: client -> node-agent.
type Pid2JidRequest struct {
	PID int
}

// Pid2JidResponse is the reply to pid2jid; Found is false when no
// step-agent on this node has a container containing PID.
type Pid2JidResponse struct {
	JobID uint32
	Found bool
}

// PingRequest is ping: controller -> node-agent.
type PingRequest struct{}

// PingResponse is the reply to ping.
type PingResponse struct {
	Status Status
}

// ReconfigureRequest is reconfigure: controller -> node-agent.
type ReconfigureRequest struct{}

// ReconfigureResponse is the reply to reconfigure.
type ReconfigureResponse struct {
	Status Status
}

// ShutdownRequest is shutdown: controller -> node-agent.
type ShutdownRequest struct{}

// ShutdownResponse is the reply to shutdown.
type ShutdownResponse struct {
	Status Status
}
