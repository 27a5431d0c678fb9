// Package handler implements the dev-only gRPC DevService (GetOTP).
package handler

import (
	"context"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	devv1 "authgate/api/dev/v1"
	"authgate/internal/devotp"
	vdomain "authgate/internal/verification/domain"
)

const devOTPNote = "DEV MODE ONLY"

// Server implements DevService. Only registered when dev OTP is enabled and not production.
type Server struct {
	devv1.UnimplementedDevServiceServer
	store devotp.Store
}

// NewServer returns a DevService server that reads OTP from the given store.
func NewServer(store devotp.Store) *Server {
	return &Server{store: store}
}

// GetOTP returns the plain OTP of the outstanding challenge for (user_id, factor, context).
// Returns NotFound if missing or expired.
func (s *Server) GetOTP(ctx context.Context, req *devv1.GetOTPRequest) (*devv1.GetOTPResponse, error) {
	if req.UserID == "" {
		return nil, status.Error(codes.InvalidArgument, "user_id is required")
	}
	f, err := vdomain.ParseFactor(req.Factor)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	c, err := vdomain.ParseContext(req.Context)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	otp, ok := s.store.Get(ctx, devotp.Key{UserID: req.UserID, Factor: string(f), Context: string(c)})
	if !ok {
		return nil, status.Error(codes.NotFound, "OTP not found or expired")
	}
	return &devv1.GetOTPResponse{
		Otp:  otp,
		Note: devOTPNote,
	}, nil
}
