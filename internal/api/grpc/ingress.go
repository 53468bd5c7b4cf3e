// Package grpcapi exposes the audio ingest over gRPC.
//
// The service uses well-known protobuf types for its messages, so it is
// registered from a hand-written descriptor instead of generated code:
//
//	service AudioIngress {
//	  rpc StreamAudio(stream google.protobuf.BytesValue) returns (google.protobuf.Empty);
//	}
package grpcapi

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "avatar.v1.AudioIngress"

const streamAudioMethod = "/" + ServiceName + "/StreamAudio"

// AudioIngressServer is implemented by the ingest server.
type AudioIngressServer interface {
	StreamAudio(AudioIngress_StreamAudioServer) error
}

// AudioIngress_StreamAudioServer is the server side of StreamAudio.
type AudioIngress_StreamAudioServer interface {
	SendAndClose(*emptypb.Empty) error
	Recv() (*wrapperspb.BytesValue, error)
	grpc.ServerStream
}

type streamAudioServer struct {
	grpc.ServerStream
}

func (x *streamAudioServer) SendAndClose(m *emptypb.Empty) error {
	return x.ServerStream.SendMsg(m)
}

func (x *streamAudioServer) Recv() (*wrapperspb.BytesValue, error) {
	m := new(wrapperspb.BytesValue)
	if err := x.ServerStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

func streamAudioHandler(srv interface{}, stream grpc.ServerStream) error {
	return srv.(AudioIngressServer).StreamAudio(&streamAudioServer{stream})
}

// ServiceDesc describes AudioIngress for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*AudioIngressServer)(nil),
	Methods:     []grpc.MethodDesc{},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "StreamAudio",
			Handler:       streamAudioHandler,
			ClientStreams: true,
		},
	},
	Metadata: "avatar/v1/ingress.proto",
}

// AudioIngressClient is the client API for AudioIngress.
type AudioIngressClient interface {
	StreamAudio(ctx context.Context, opts ...grpc.CallOption) (AudioIngress_StreamAudioClient, error)
}

// AudioIngress_StreamAudioClient is the client side of StreamAudio.
type AudioIngress_StreamAudioClient interface {
	Send(*wrapperspb.BytesValue) error
	CloseAndRecv() (*emptypb.Empty, error)
	grpc.ClientStream
}

type audioIngressClient struct {
	cc grpc.ClientConnInterface
}

// NewAudioIngressClient creates a client on cc.
func NewAudioIngressClient(cc grpc.ClientConnInterface) AudioIngressClient {
	return &audioIngressClient{cc: cc}
}

func (c *audioIngressClient) StreamAudio(ctx context.Context, opts ...grpc.CallOption) (AudioIngress_StreamAudioClient, error) {
	stream, err := c.cc.NewStream(ctx, &ServiceDesc.Streams[0], streamAudioMethod, opts...)
	if err != nil {
		return nil, err
	}
	return &streamAudioClient{stream}, nil
}

type streamAudioClient struct {
	grpc.ClientStream
}

func (x *streamAudioClient) Send(m *wrapperspb.BytesValue) error {
	return x.ClientStream.SendMsg(m)
}

func (x *streamAudioClient) CloseAndRecv() (*emptypb.Empty, error) {
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	m := new(emptypb.Empty)
	if err := x.ClientStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}
