// Hand-maintained client and server stubs for the FlowAgent service,
// kept in the shape protoc-gen-go-grpc emits for flowagent.proto so a
// future regeneration is a drop-in replacement.

package proto

import (
	context "context"

	grpc "google.golang.org/grpc"
	codes "google.golang.org/grpc/codes"
	status "google.golang.org/grpc/status"
)

// Requires gRPC-Go v1.64.0 or later.
const _ = grpc.SupportPackageIsVersion9

const (
	FlowAgent_ReportFlows_FullMethodName = "/ztcore.flowagent.FlowAgent/ReportFlows"
)

// FlowAgentClient is the client API for FlowAgent service.
//
// For semantics around ctx use and closing/ending streaming RPCs, please refer to https://pkg.go.dev/google.golang.org/grpc/?tab=doc#ClientConn.NewStream.
type FlowAgentClient interface {
	ReportFlows(ctx context.Context, opts ...grpc.CallOption) (grpc.ClientStreamingClient[FlowReport, ReportSummary], error)
}

type flowAgentClient struct {
	cc grpc.ClientConnInterface
}

func NewFlowAgentClient(cc grpc.ClientConnInterface) FlowAgentClient {
	return &flowAgentClient{cc}
}

func (c *flowAgentClient) ReportFlows(ctx context.Context, opts ...grpc.CallOption) (grpc.ClientStreamingClient[FlowReport, ReportSummary], error) {
	cOpts := append([]grpc.CallOption{grpc.StaticMethod()}, opts...)
	stream, err := c.cc.NewStream(ctx, &FlowAgent_ServiceDesc.Streams[0], FlowAgent_ReportFlows_FullMethodName, cOpts...)
	if err != nil {
		return nil, err
	}
	x := &grpc.GenericClientStream[FlowReport, ReportSummary]{ClientStream: stream}
	return x, nil
}

// This type alias is provided for backwards compatibility with existing code that references the prior non-generic stream type by name.
type FlowAgent_ReportFlowsClient = grpc.ClientStreamingClient[FlowReport, ReportSummary]

// FlowAgentServer is the server API for FlowAgent service.
// All implementations must embed UnimplementedFlowAgentServer
// for forward compatibility.
type FlowAgentServer interface {
	ReportFlows(grpc.ClientStreamingServer[FlowReport, ReportSummary]) error
	mustEmbedUnimplementedFlowAgentServer()
}

// UnimplementedFlowAgentServer must be embedded to have
// forward compatible implementations.
//
// NOTE: this should be embedded by value instead of pointer to avoid a nil
// pointer dereference when methods are called.
type UnimplementedFlowAgentServer struct{}

func (UnimplementedFlowAgentServer) ReportFlows(grpc.ClientStreamingServer[FlowReport, ReportSummary]) error {
	return status.Errorf(codes.Unimplemented, "method ReportFlows not implemented")
}
func (UnimplementedFlowAgentServer) mustEmbedUnimplementedFlowAgentServer() {}
func (UnimplementedFlowAgentServer) testEmbeddedByValue()                   {}

// UnsafeFlowAgentServer may be embedded to opt out of forward compatibility for this service.
// Use of this interface is not recommended, as added methods to FlowAgentServer will
// result in compilation errors.
type UnsafeFlowAgentServer interface {
	mustEmbedUnimplementedFlowAgentServer()
}

func RegisterFlowAgentServer(s grpc.ServiceRegistrar, srv FlowAgentServer) {
	// If the following call panics, it indicates UnimplementedFlowAgentServer was
	// embedded by pointer and is nil.  This check prevents panics.
	if t, ok := srv.(interface{ testEmbeddedByValue() }); ok {
		t.testEmbeddedByValue()
	}
	s.RegisterService(&FlowAgent_ServiceDesc, srv)
}

func _FlowAgent_ReportFlows_Handler(srv interface{}, stream grpc.ServerStream) error {
	return srv.(FlowAgentServer).ReportFlows(&grpc.GenericServerStream[FlowReport, ReportSummary]{ServerStream: stream})
}

// This type alias is provided for backwards compatibility with existing code that references the prior non-generic stream type by name.
type FlowAgent_ReportFlowsServer = grpc.ClientStreamingServer[FlowReport, ReportSummary]

// FlowAgent_ServiceDesc is the grpc.ServiceDesc for FlowAgent service.
// It's only intended for direct use with grpc.RegisterService,
// and not to be introspected or modified (even as a copy)
var FlowAgent_ServiceDesc = grpc.ServiceDesc{
	ServiceName: "ztcore.flowagent.FlowAgent",
	HandlerType: (*FlowAgentServer)(nil),
	Methods:     []grpc.MethodDesc{},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "ReportFlows",
			Handler:       _FlowAgent_ReportFlows_Handler,
			ClientStreams: true,
		},
	},
	Metadata: "api/proto/flowagent.proto",
}
