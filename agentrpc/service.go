// Package agentrpc is a concrete gRPC-backed Agent, grounded in the
// teacher's transport_grpc.go (lazy per-peer dialing, reconnect on
// failure), but speaking the msgpack wire.Codec instead of protobuf,
// since chronicle.Agent's wire format is explicitly out of scope and
// hand-authoring fake protobuf-generated descriptors would be worse
// than using a real, if less common, gRPC codec.
package agentrpc

import (
	"context"

	"github.com/dave-finlay/chronicle"
	"github.com/dave-finlay/chronicle/wire"
	"google.golang.org/grpc"
)

const serviceName = "chronicle.Agent"

// agentServer is the interface grpc dispatches incoming calls to. It is
// implemented by Server.
type agentServer interface {
	EstablishTerm(context.Context, *wire.EstablishTermRequest) (*wire.MetadataResponse, error)
	EnsureTerm(context.Context, *wire.EnsureTermRequest) (*wire.MetadataResponse, error)
	Append(context.Context, *wire.AppendRequest) (*wire.AppendResponse, error)
	LocalMarkCommitted(context.Context, *wire.LocalMarkCommittedRequest) (*wire.AckResponse, error)
	GetLog(context.Context, *wire.GetLogRequest) (*wire.GetLogResponse, error)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*agentServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "EstablishTerm", Handler: establishTermHandler},
		{MethodName: "EnsureTerm", Handler: ensureTermHandler},
		{MethodName: "Append", Handler: appendHandler},
		{MethodName: "LocalMarkCommitted", Handler: localMarkCommittedHandler},
		{MethodName: "GetLog", Handler: getLogHandler},
	},
	Metadata: "chronicle/agentrpc",
}

func establishTermHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(wire.EstablishTermRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(agentServer).EstablishTerm(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/EstablishTerm"}
	return interceptor(ctx, in, info, func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(agentServer).EstablishTerm(ctx, req.(*wire.EstablishTermRequest))
	})
}

func ensureTermHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(wire.EnsureTermRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(agentServer).EnsureTerm(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/EnsureTerm"}
	return interceptor(ctx, in, info, func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(agentServer).EnsureTerm(ctx, req.(*wire.EnsureTermRequest))
	})
}

func appendHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(wire.AppendRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(agentServer).Append(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/Append"}
	return interceptor(ctx, in, info, func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(agentServer).Append(ctx, req.(*wire.AppendRequest))
	})
}

func localMarkCommittedHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(wire.LocalMarkCommittedRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(agentServer).LocalMarkCommitted(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/LocalMarkCommitted"}
	return interceptor(ctx, in, info, func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(agentServer).LocalMarkCommitted(ctx, req.(*wire.LocalMarkCommittedRequest))
	})
}

func getLogHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(wire.GetLogRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(agentServer).GetLog(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/GetLog"}
	return interceptor(ctx, in, info, func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(agentServer).GetLog(ctx, req.(*wire.GetLogRequest))
	})
}

// Server adapts a local chronicle.Agent to agentServer, translating
// domain errors into wire.ErrorTag so classifiable AgentErrors survive
// the round trip instead of collapsing into an opaque transport error.
type Server struct {
	Agent chronicle.Agent
}

// Register attaches Server to gs under the chronicle.Agent service
// name and installs wire.Codec if it has not already been registered.
func Register(gs *grpc.Server, srv *Server) {
	ensureCodecRegistered()
	gs.RegisterService(&serviceDesc, srv)
}

func (s *Server) EstablishTerm(ctx context.Context, in *wire.EstablishTermRequest) (*wire.MetadataResponse, error) {
	meta, err := s.Agent.EstablishTerm(ctx, in.HistoryId, in.Term, in.Position)
	return &wire.MetadataResponse{Metadata: meta, ErrorTag: wire.TagError(err)}, nil
}

func (s *Server) EnsureTerm(ctx context.Context, in *wire.EnsureTermRequest) (*wire.MetadataResponse, error) {
	meta, err := s.Agent.EnsureTerm(ctx, in.HistoryId, in.Term)
	return &wire.MetadataResponse{Metadata: meta, ErrorTag: wire.TagError(err)}, nil
}

func (s *Server) Append(ctx context.Context, in *wire.AppendRequest) (*wire.AppendResponse, error) {
	high, committed, err := s.Agent.Append(ctx, in.HistoryId, in.Term, in.CommittedSeqno, in.PrevSeqno, in.Entries)
	return &wire.AppendResponse{HighSeqno: high, CommittedSeqno: committed, ErrorTag: wire.TagError(err)}, nil
}

func (s *Server) LocalMarkCommitted(ctx context.Context, in *wire.LocalMarkCommittedRequest) (*wire.AckResponse, error) {
	err := s.Agent.LocalMarkCommitted(ctx, in.HistoryId, in.Term, in.Seqno)
	return &wire.AckResponse{ErrorTag: wire.TagError(err)}, nil
}

func (s *Server) GetLog(ctx context.Context, in *wire.GetLogRequest) (*wire.GetLogResponse, error) {
	entries, err := s.Agent.GetLog(ctx, in.HistoryId, in.Term, in.Lo, in.Hi)
	return &wire.GetLogResponse{Entries: entries, ErrorTag: wire.TagError(err)}, nil
}
