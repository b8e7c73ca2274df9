package dispatcher

import (
	"context"
	"testing"

	"github.com/cuemby/taskd/pkg/rpc"
)

// fakeAgent implements NodeAgent for exercising the hand-written gRPC
// handlers without a real network connection.
type fakeAgent struct {
	lastPing *rpc.PingRequest
}

func (f *fakeAgent) LaunchTasks(ctx context.Context, req *rpc.LaunchTasksRequest) (*rpc.LaunchTasksResponse, error) {
	return &rpc.LaunchTasksResponse{Status: rpc.Ok}, nil
}
func (f *fakeAgent) SpawnTask(ctx context.Context, req *rpc.SpawnTaskRequest) (*rpc.LaunchTasksResponse, error) {
	return &rpc.LaunchTasksResponse{Status: rpc.Ok}, nil
}
func (f *fakeAgent) BatchJob(ctx context.Context, req *rpc.BatchJobRequest) (*rpc.BatchJobResponse, error) {
	return &rpc.BatchJobResponse{Status: rpc.Ok}, nil
}
func (f *fakeAgent) SignalTasks(ctx context.Context, req *rpc.SignalTasksRequest) (*rpc.SignalTasksResponse, error) {
	return &rpc.SignalTasksResponse{Status: rpc.Ok}, nil
}
func (f *fakeAgent) TerminateJob(ctx context.Context, req *rpc.TerminateJobRequest) (*rpc.TerminateJobResponse, error) {
	return &rpc.TerminateJobResponse{Status: rpc.Ok}, nil
}
func (f *fakeAgent) ReattachTasks(ctx context.Context, req *rpc.ReattachTasksRequest) (*rpc.ReattachTasksResponse, error) {
	return &rpc.ReattachTasksResponse{Status: rpc.Ok}, nil
}
func (f *fakeAgent) Pid2Jid(ctx context.Context, req *rpc.Pid2JidRequest) (*rpc.Pid2JidResponse, error) {
	return &rpc.Pid2JidResponse{Status: rpc.Ok}, nil
}
func (f *fakeAgent) FileBcast(ctx context.Context, req *rpc.FileBcastRequest) (*rpc.FileBcastResponse, error) {
	return &rpc.FileBcastResponse{Status: rpc.Ok}, nil
}
func (f *fakeAgent) StepComplete(ctx context.Context, req *rpc.StepCompleteRequest) (*rpc.StepCompleteResponse, error) {
	return &rpc.StepCompleteResponse{Status: rpc.Ok}, nil
}
func (f *fakeAgent) Ping(ctx context.Context, req *rpc.PingRequest) (*rpc.PingResponse, error) {
	f.lastPing = req
	return &rpc.PingResponse{Status: rpc.Ok}, nil
}
func (f *fakeAgent) Reconfigure(ctx context.Context, req *rpc.ReconfigureRequest) (*rpc.ReconfigureResponse, error) {
	return &rpc.ReconfigureResponse{Status: rpc.Ok}, nil
}
func (f *fakeAgent) Shutdown(ctx context.Context, req *rpc.ShutdownRequest) (*rpc.ShutdownResponse, error) {
	return &rpc.ShutdownResponse{Status: rpc.Ok}, nil
}

func noopDecode(interface{}) error { return nil }

func TestDispatcherHandlersDispatchWithoutInterceptor(t *testing.T) {
	agent := &fakeAgent{}

	resp, err := _Dispatcher_Ping_Handler(agent, context.Background(), noopDecode, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	pingResp, ok := resp.(*rpc.PingResponse)
	if !ok {
		t.Fatalf("resp has wrong type: %T", resp)
	}
	if !pingResp.Status.IsOK() {
		t.Fatalf("expected OK status, got %+v", pingResp.Status)
	}

	if _, err := _Dispatcher_LaunchTasks_Handler(agent, context.Background(), noopDecode, nil); err != nil {
		t.Fatalf("LaunchTasks: %v", err)
	}
	if _, err := _Dispatcher_TerminateJob_Handler(agent, context.Background(), noopDecode, nil); err != nil {
		t.Fatalf("TerminateJob: %v", err)
	}
}

func TestDispatcherHandlersRunThroughInterceptorChain(t *testing.T) {
	agent := &fakeAgent{}
	interceptor := AuthorizedUserInterceptor(0, 1000)
	ctx := WithAuthenticatedUID(context.Background(), 1000)

	resp, err := _Dispatcher_Shutdown_Handler(agent, ctx, noopDecode, interceptor)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := resp.(*rpc.ShutdownResponse); !ok {
		t.Fatalf("resp has wrong type: %T", resp)
	}
}

func TestDispatcherHandlersRejectUnauthorizedThroughInterceptorChain(t *testing.T) {
	agent := &fakeAgent{}
	interceptor := AuthorizedUserInterceptor(0, 1000)
	ctx := WithAuthenticatedUID(context.Background(), 42)

	if _, err := _Dispatcher_Shutdown_Handler(agent, ctx, noopDecode, interceptor); err == nil {
		t.Fatal("expected an authorization error")
	}
}

func TestRegisterNodeAgentServerWiresServiceDesc(t *testing.T) {
	if serviceDesc.ServiceName != "taskd.Dispatcher" {
		t.Fatalf("unexpected service name: %s", serviceDesc.ServiceName)
	}
	if len(serviceDesc.Methods) != 12 {
		t.Fatalf("expected 12 registered methods, got %d", len(serviceDesc.Methods))
	}
}
