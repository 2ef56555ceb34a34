package rpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	FileTransfer_RequestUpdate_FullMethodName   = "/" + ServiceName + "/RequestUpdate"
	FileTransfer_StartTransfer_FullMethodName   = "/" + ServiceName + "/StartTransfer"
	FileTransfer_SubscribeChunks_FullMethodName = "/" + ServiceName + "/SubscribeChunks"
)

// FileTransferClient is the client API for the file transfer service.
type FileTransferClient interface {
	RequestUpdate(ctx context.Context, in *UpdateRequest, opts ...grpc.CallOption) (*UpdateInfo, error)
	StartTransfer(ctx context.Context, in *StartTransferRequest, opts ...grpc.CallOption) (*StartTransferResponse, error)
	SubscribeChunks(ctx context.Context, in *SubscribeRequest, opts ...grpc.CallOption) (FileTransfer_SubscribeChunksClient, error)
}

type fileTransferClient struct {
	cc grpc.ClientConnInterface
}

// NewFileTransferClient wraps cc. Every call is sent with the CBOR content-subtype.
func NewFileTransferClient(cc grpc.ClientConnInterface) FileTransferClient {
	return &fileTransferClient{cc}
}

func (c *fileTransferClient) RequestUpdate(ctx context.Context, in *UpdateRequest, opts ...grpc.CallOption) (*UpdateInfo, error) {
	out := new(UpdateInfo)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	if err := c.cc.Invoke(ctx, FileTransfer_RequestUpdate_FullMethodName, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *fileTransferClient) StartTransfer(ctx context.Context, in *StartTransferRequest, opts ...grpc.CallOption) (*StartTransferResponse, error) {
	out := new(StartTransferResponse)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	if err := c.cc.Invoke(ctx, FileTransfer_StartTransfer_FullMethodName, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *fileTransferClient) SubscribeChunks(ctx context.Context, in *SubscribeRequest, opts ...grpc.CallOption) (FileTransfer_SubscribeChunksClient, error) {
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	stream, err := c.cc.NewStream(ctx, &FileTransfer_ServiceDesc.Streams[0], FileTransfer_SubscribeChunks_FullMethodName, opts...)
	if err != nil {
		return nil, err
	}
	x := &fileTransferSubscribeChunksClient{stream}
	if err := x.ClientStream.SendMsg(in); err != nil {
		return nil, err
	}
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	return x, nil
}

type FileTransfer_SubscribeChunksClient interface {
	Recv() (*FileChunk, error)
	grpc.ClientStream
}

type fileTransferSubscribeChunksClient struct {
	grpc.ClientStream
}

func (x *fileTransferSubscribeChunksClient) Recv() (*FileChunk, error) {
	m := new(FileChunk)
	if err := x.ClientStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

// FileTransferServer is the server API for the file transfer service.
type FileTransferServer interface {
	RequestUpdate(context.Context, *UpdateRequest) (*UpdateInfo, error)
	StartTransfer(context.Context, *StartTransferRequest) (*StartTransferResponse, error)
	SubscribeChunks(*SubscribeRequest, FileTransfer_SubscribeChunksServer) error
}

// UnimplementedFileTransferServer can be embedded to have forward compatible implementations.
type UnimplementedFileTransferServer struct{}

func (UnimplementedFileTransferServer) RequestUpdate(context.Context, *UpdateRequest) (*UpdateInfo, error) {
	return nil, status.Errorf(codes.Unimplemented, "method RequestUpdate not implemented")
}

func (UnimplementedFileTransferServer) StartTransfer(context.Context, *StartTransferRequest) (*StartTransferResponse, error) {
	return nil, status.Errorf(codes.Unimplemented, "method StartTransfer not implemented")
}

func (UnimplementedFileTransferServer) SubscribeChunks(*SubscribeRequest, FileTransfer_SubscribeChunksServer) error {
	return status.Errorf(codes.Unimplemented, "method SubscribeChunks not implemented")
}

func RegisterFileTransferServer(s grpc.ServiceRegistrar, srv FileTransferServer) {
	s.RegisterService(&FileTransfer_ServiceDesc, srv)
}

func _FileTransfer_RequestUpdate_Handler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(UpdateRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(FileTransferServer).RequestUpdate(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: FileTransfer_RequestUpdate_FullMethodName,
	}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(FileTransferServer).RequestUpdate(ctx, req.(*UpdateRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _FileTransfer_StartTransfer_Handler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(StartTransferRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(FileTransferServer).StartTransfer(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: FileTransfer_StartTransfer_FullMethodName,
	}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(FileTransferServer).StartTransfer(ctx, req.(*StartTransferRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _FileTransfer_SubscribeChunks_Handler(srv any, stream grpc.ServerStream) error {
	m := new(SubscribeRequest)
	if err := stream.RecvMsg(m); err != nil {
		return err
	}
	return srv.(FileTransferServer).SubscribeChunks(m, &fileTransferSubscribeChunksServer{stream})
}

type FileTransfer_SubscribeChunksServer interface {
	Send(*FileChunk) error
	grpc.ServerStream
}

type fileTransferSubscribeChunksServer struct {
	grpc.ServerStream
}

func (x *fileTransferSubscribeChunksServer) Send(m *FileChunk) error {
	return x.ServerStream.SendMsg(m)
}

// FileTransfer_ServiceDesc is the grpc.ServiceDesc for the file transfer service.
var FileTransfer_ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*FileTransferServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "RequestUpdate",
			Handler:    _FileTransfer_RequestUpdate_Handler,
		},
		{
			MethodName: "StartTransfer",
			Handler:    _FileTransfer_StartTransfer_Handler,
		},
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "SubscribeChunks",
			Handler:       _FileTransfer_SubscribeChunks_Handler,
			ServerStreams: true,
		},
	},
	Metadata: "filetransfer.cbor",
}
