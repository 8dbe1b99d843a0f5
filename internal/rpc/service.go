// Package rpc is the gRPC boundary with the reasoning session. Messages are
// google.protobuf.Struct documents carrying the same JSON shapes the HTTP
// API uses, so the service needs no generated code.
package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/Freshair129/agentic-agent/internal/fault"
	"github.com/Freshair129/agentic-agent/internal/memory"
	"github.com/Freshair129/agentic-agent/internal/turn"
)

// #region service-desc
const ServiceName = "resonance.v1.ReasoningSession"

// ReasoningSessionServer is the server side of the reasoning session.
type ReasoningSessionServer interface {
	RequestStateSync(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ProposeMemoryCommit(context.Context, *structpb.Struct) (*structpb.Struct, error)
	EndTurn(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

// ServiceDesc describes the reasoning-session service.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ReasoningSessionServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "RequestStateSync", Handler: unary("RequestStateSync", ReasoningSessionServer.RequestStateSync)},
		{MethodName: "ProposeMemoryCommit", Handler: unary("ProposeMemoryCommit", ReasoningSessionServer.ProposeMemoryCommit)},
		{MethodName: "EndTurn", Handler: unary("EndTurn", ReasoningSessionServer.EndTurn)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "resonance/v1/session.proto",
}

type method func(ReasoningSessionServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unary(name string, call method) func(any, context.Context, func(any) error, grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		s := srv.(ReasoningSessionServer)
		if interceptor == nil {
			return call(s, ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/" + name}
		return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
			return call(s, ctx, req.(*structpb.Struct))
		})
	}
}

// #endregion service-desc

// #region server
// Server adapts the Synchronizer to the gRPC service.
type Server struct {
	sync   *turn.Synchronizer
	logger *slog.Logger
}

// Register installs the reasoning-session service on reg.
func Register(reg grpc.ServiceRegistrar, sync *turn.Synchronizer, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	reg.RegisterService(&ServiceDesc, &Server{sync: sync, logger: logger})
}

// commitRequest is the wire form of a proposal: its kind selects the
// variant the body decodes into.
type commitRequest struct {
	SessionID string          `json:"session_id"`
	Kind      memory.Kind     `json:"kind"`
	Proposal  json.RawMessage `json:"proposal"`
}

type endTurnRequest struct {
	SessionID string `json:"session_id"`
}

func (s *Server) RequestStateSync(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req turn.SyncRequest
	if err := fromStruct(in, &req); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	res, err := s.sync.RequestStateSync(ctx, req)
	if err != nil {
		return nil, toStatus(err)
	}
	return toStruct(res)
}

func (s *Server) ProposeMemoryCommit(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req commitRequest
	if err := fromStruct(in, &req); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	p, err := memory.DecodeProposal(req.Kind, req.Proposal)
	if err != nil {
		return nil, toStatus(err)
	}
	res, err := s.sync.ProposeMemoryCommit(ctx, req.SessionID, p)
	if err != nil {
		return nil, toStatus(err)
	}
	return toStruct(res)
}

func (s *Server) EndTurn(_ context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req endTurnRequest
	if err := fromStruct(in, &req); err != nil || req.SessionID == "" {
		return nil, status.Error(codes.InvalidArgument, "session_id is required")
	}
	s.sync.EndTurn(req.SessionID)
	return toStruct(map[string]any{"phase": s.sync.Phase(req.SessionID)})
}

// #endregion server

// #region conversion
func toStruct(v any) (*structpb.Struct, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, status.Errorf(codes.Internal, "encode: %v", err)
	}
	out, err := structpb.NewStruct(m)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode: %v", err)
	}
	return out, nil
}

func fromStruct(in *structpb.Struct, v any) error {
	raw, err := in.MarshalJSON()
	if err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	return nil
}

// toStatus maps the fault taxonomy onto gRPC codes.
func toStatus(err error) error {
	switch {
	case errors.Is(err, fault.ErrValidation):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, fault.ErrTransactionAbort):
		return status.Error(codes.Aborted, err.Error())
	case errors.Is(err, fault.ErrConfiguration):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	}
	return status.Error(codes.Internal, err.Error())
}

// fromStatus turns a gRPC status back into the fault taxonomy.
func fromStatus(op string, err error) error {
	st, ok := status.FromError(err)
	if !ok {
		return fmt.Errorf("%s: %w", op, err)
	}
	switch st.Code() {
	case codes.InvalidArgument:
		return fault.Validation(op, "%s", st.Message())
	case codes.Aborted:
		return fault.Abort(op, errors.New(st.Message()))
	case codes.FailedPrecondition:
		return fault.Configuration(op, errors.New(st.Message()))
	case codes.DeadlineExceeded:
		return fmt.Errorf("%s: %w", op, context.DeadlineExceeded)
	case codes.Canceled:
		return fmt.Errorf("%s: %w", op, context.Canceled)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// #endregion conversion
