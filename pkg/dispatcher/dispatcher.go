// Package dispatcher implements the node-agent's RPC front end (§4.6):
// one mTLS-secured gRPC listener for controller RPCs, and one
// Unix-domain listener per step-agent for node-agent -> step-agent
// control. It mirrors the teacher's pkg/api server shape — gRPC server,
// TLS credentials, interceptor chain — wired to job-execution handlers
// instead of cluster CRUD.
package dispatcher

import (
	"context"

	"github.com/cuemby/taskd/pkg/rpc"
)

// NodeAgent is the set of operations the dispatcher delegates every
// inbound RPC to. pkg/stepagent's Agent implements it; the interface
// lives here (not imported from pkg/stepagent) so dispatcher and
// stepagent can be developed and tested independently.
type NodeAgent interface {
	LaunchTasks(ctx context.Context, req *rpc.LaunchTasksRequest) (*rpc.LaunchTasksResponse, error)
	SpawnTask(ctx context.Context, req *rpc.SpawnTaskRequest) (*rpc.LaunchTasksResponse, error)
	BatchJob(ctx context.Context, req *rpc.BatchJobRequest) (*rpc.BatchJobResponse, error)
	SignalTasks(ctx context.Context, req *rpc.SignalTasksRequest) (*rpc.SignalTasksResponse, error)
	TerminateJob(ctx context.Context, req *rpc.TerminateJobRequest) (*rpc.TerminateJobResponse, error)
	ReattachTasks(ctx context.Context, req *rpc.ReattachTasksRequest) (*rpc.ReattachTasksResponse, error)
	Pid2Jid(ctx context.Context, req *rpc.Pid2JidRequest) (*rpc.Pid2JidResponse, error)
	FileBcast(ctx context.Context, req *rpc.FileBcastRequest) (*rpc.FileBcastResponse, error)
	StepComplete(ctx context.Context, req *rpc.StepCompleteRequest) (*rpc.StepCompleteResponse, error)
	Ping(ctx context.Context, req *rpc.PingRequest) (*rpc.PingResponse, error)
	Reconfigure(ctx context.Context, req *rpc.ReconfigureRequest) (*rpc.ReconfigureResponse, error)
	Shutdown(ctx context.Context, req *rpc.ShutdownRequest) (*rpc.ShutdownResponse, error)
}
