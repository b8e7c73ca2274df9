package dispatcher

import (
	"context"

	"github.com/cuemby/taskd/pkg/rpc"
	"google.golang.org/grpc"
)

// This file is the hand-written equivalent of what protoc-gen-go-grpc
// would emit from a .proto service definition. There is no .proto here
// (§6 EXPANSION): NodeAgent's Go methods are the service contract, and
// this ServiceDesc wires them into grpc.Server the same way generated
// code does, using rpc's JSON codec instead of protobuf wire types.

const serviceName = "taskd.Dispatcher"

func fullMethod(name string) string { return "/" + serviceName + "/" + name }

func _Dispatcher_LaunchTasks_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(rpc.LaunchTasksRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(NodeAgent).LaunchTasks(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod("LaunchTasks")}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(NodeAgent).LaunchTasks(ctx, req.(*rpc.LaunchTasksRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _Dispatcher_SpawnTask_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(rpc.SpawnTaskRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(NodeAgent).SpawnTask(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod("SpawnTask")}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(NodeAgent).SpawnTask(ctx, req.(*rpc.SpawnTaskRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _Dispatcher_BatchJob_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(rpc.BatchJobRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(NodeAgent).BatchJob(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod("BatchJob")}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(NodeAgent).BatchJob(ctx, req.(*rpc.BatchJobRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _Dispatcher_SignalTasks_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(rpc.SignalTasksRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(NodeAgent).SignalTasks(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod("SignalTasks")}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(NodeAgent).SignalTasks(ctx, req.(*rpc.SignalTasksRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _Dispatcher_TerminateJob_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(rpc.TerminateJobRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(NodeAgent).TerminateJob(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod("TerminateJob")}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(NodeAgent).TerminateJob(ctx, req.(*rpc.TerminateJobRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _Dispatcher_ReattachTasks_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(rpc.ReattachTasksRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(NodeAgent).ReattachTasks(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod("ReattachTasks")}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(NodeAgent).ReattachTasks(ctx, req.(*rpc.ReattachTasksRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _Dispatcher_Pid2Jid_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(rpc.Pid2JidRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(NodeAgent).Pid2Jid(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod("Pid2Jid")}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(NodeAgent).Pid2Jid(ctx, req.(*rpc.Pid2JidRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _Dispatcher_FileBcast_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(rpc.FileBcastRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(NodeAgent).FileBcast(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod("FileBcast")}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(NodeAgent).FileBcast(ctx, req.(*rpc.FileBcastRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _Dispatcher_StepComplete_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(rpc.StepCompleteRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(NodeAgent).StepComplete(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod("StepComplete")}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(NodeAgent).StepComplete(ctx, req.(*rpc.StepCompleteRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _Dispatcher_Ping_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(rpc.PingRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(NodeAgent).Ping(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod("Ping")}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(NodeAgent).Ping(ctx, req.(*rpc.PingRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _Dispatcher_Reconfigure_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(rpc.ReconfigureRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(NodeAgent).Reconfigure(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod("Reconfigure")}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(NodeAgent).Reconfigure(ctx, req.(*rpc.ReconfigureRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _Dispatcher_Shutdown_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(rpc.ShutdownRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(NodeAgent).Shutdown(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod("Shutdown")}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(NodeAgent).Shutdown(ctx, req.(*rpc.ShutdownRequest))
	}
	return interceptor(ctx, in, info, handler)
}

// serviceDesc is handed to grpc.Server.RegisterService, exactly as
// generated code would register a service implementation.
var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*NodeAgent)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "LaunchTasks", Handler: _Dispatcher_LaunchTasks_Handler},
		{MethodName: "SpawnTask", Handler: _Dispatcher_SpawnTask_Handler},
		{MethodName: "BatchJob", Handler: _Dispatcher_BatchJob_Handler},
		{MethodName: "SignalTasks", Handler: _Dispatcher_SignalTasks_Handler},
		{MethodName: "TerminateJob", Handler: _Dispatcher_TerminateJob_Handler},
		{MethodName: "ReattachTasks", Handler: _Dispatcher_ReattachTasks_Handler},
		{MethodName: "Pid2Jid", Handler: _Dispatcher_Pid2Jid_Handler},
		{MethodName: "FileBcast", Handler: _Dispatcher_FileBcast_Handler},
		{MethodName: "StepComplete", Handler: _Dispatcher_StepComplete_Handler},
		{MethodName: "Ping", Handler: _Dispatcher_Ping_Handler},
		{MethodName: "Reconfigure", Handler: _Dispatcher_Reconfigure_Handler},
		{MethodName: "Shutdown", Handler: _Dispatcher_Shutdown_Handler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "pkg/dispatcher/grpc_service.go",
}

// RegisterNodeAgentServer registers agent as the handler for every
// dispatcher RPC on s.
func RegisterNodeAgentServer(s *grpc.Server, agent NodeAgent) {
	s.RegisterService(&serviceDesc, agent)
}
