// Package devv1 defines DevService, registered only when dev OTP mode is on outside production.
package devv1

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"authgate/api/codec"
)

const ServiceName = "authgate.dev.v1.DevService"

const DevService_GetOTP_FullMethod = "/" + ServiceName + "/GetOTP"

type GetOTPRequest struct {
	UserID  string `json:"user_id"`
	Factor  string `json:"factor"`
	Context string `json:"context"`
}

type GetOTPResponse struct {
	Otp  string `json:"otp"`
	Note string `json:"note"`
}

type DevServiceServer interface {
	GetOTP(context.Context, *GetOTPRequest) (*GetOTPResponse, error)
}

type UnimplementedDevServiceServer struct{}

func (UnimplementedDevServiceServer) GetOTP(context.Context, *GetOTPRequest) (*GetOTPResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method GetOTP not implemented")
}

var DevService_ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*DevServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "GetOTP", Handler: codec.Unary(DevService_GetOTP_FullMethod, DevServiceServer.GetOTP)},
	},
	Metadata: "authgate/dev/v1/dev",
}

func RegisterDevServiceServer(s grpc.ServiceRegistrar, srv DevServiceServer) {
	s.RegisterService(&DevService_ServiceDesc, srv)
}

type DevServiceClient struct {
	cc grpc.ClientConnInterface
}

func NewDevServiceClient(cc grpc.ClientConnInterface) *DevServiceClient {
	return &DevServiceClient{cc: cc}
}

func (c *DevServiceClient) GetOTP(ctx context.Context, in *GetOTPRequest, opts ...grpc.CallOption) (*GetOTPResponse, error) {
	return codec.Invoke[GetOTPResponse](ctx, c.cc, DevService_GetOTP_FullMethod, in, opts...)
}
