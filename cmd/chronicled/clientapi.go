package main

import (
	"context"
	"time"

	"github.com/dave-finlay/chronicle"
	"github.com/dave-finlay/chronicle/kvrsm"
	"github.com/dave-finlay/chronicle/wire"
	"google.golang.org/grpc"
)

// clientAPI is the client-facing counterpart to agentrpc's peer-to-peer
// Agent service, grounded in the teacher's pb.APIService (Apply /
// ApplyCommand): where agentrpc carries replication traffic between
// nodes, clientAPI is what an operator or application dials to submit a
// command and read it back, closing the loop from AppendCommands
// through to RSM.Apply that the rest of this command only plumbs
// internally.
const clientAPIServiceName = "chronicle.ClientAPI"

// ApplyCommandRequest is the wire form of a kvrsm.Command submission.
type ApplyCommandRequest struct {
	Type  kvrsm.CommandType
	Key   string
	Value []byte
}

// ApplyCommandResponse reports the seqno the command was assigned, or
// an error classifying why it was rejected.
type ApplyCommandResponse struct {
	Seqno    chronicle.Seqno
	ErrorTag wire.ErrorTag
}

// GetValueRequest looks up a single key in the local kv machine.
type GetValueRequest struct {
	Key string
}

// GetValueResponse is the wire form of kvrsm.KV.Value's return values.
// It reflects only locally applied state, which may lag the leader's
// committed seqno for a follower; chronicled has no read-index or
// lease-read path, so callers wanting linearizable reads must target
// the leader.
type GetValueResponse struct {
	Value []byte
	Found bool
}

type clientAPIServer interface {
	ApplyCommand(context.Context, *ApplyCommandRequest) (*ApplyCommandResponse, error)
	GetValue(context.Context, *GetValueRequest) (*GetValueResponse, error)
}

var clientAPIServiceDesc = grpc.ServiceDesc{
	ServiceName: clientAPIServiceName,
	HandlerType: (*clientAPIServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "ApplyCommand", Handler: applyCommandHandler},
		{MethodName: "GetValue", Handler: getValueHandler},
	},
	Metadata: "chronicled/clientapi",
}

func applyCommandHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(ApplyCommandRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(clientAPIServer).ApplyCommand(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + clientAPIServiceName + "/ApplyCommand"}
	return interceptor(ctx, in, info, func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(clientAPIServer).ApplyCommand(ctx, req.(*ApplyCommandRequest))
	})
}

func getValueHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(GetValueRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(clientAPIServer).GetValue(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + clientAPIServiceName + "/GetValue"}
	return interceptor(ctx, in, info, func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(clientAPIServer).GetValue(ctx, req.(*GetValueRequest))
	})
}

// clientAPIImpl adapts a Proposer and its local kv state to
// clientAPIServer. ApplyCommand blocks until the command is admitted or
// rejected; it does not wait for the command to commit, matching
// AppendCommands' own admission-only contract.
type clientAPIImpl struct {
	proposer *chronicle.Proposer
	agent    *inMemoryAgent
	timeout  time.Duration
}

func (c *clientAPIImpl) ApplyCommand(ctx context.Context, in *ApplyCommandRequest) (*ApplyCommandResponse, error) {
	payload, err := kvrsm.EncodeCommand(kvrsm.Command{Type: in.Type, Key: in.Key, Value: in.Value})
	if err != nil {
		return &ApplyCommandResponse{ErrorTag: wire.TagError(err)}, nil
	}

	replyTo := make(chan chronicle.AppendResult, 1)
	c.proposer.AppendCommands([]chronicle.CommandRequest{{ReplyTo: replyTo, RsmName: "kv", Payload: payload}})

	select {
	case res := <-replyTo:
		return &ApplyCommandResponse{Seqno: res.Seqno, ErrorTag: wire.TagError(res.Err)}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(c.timeout):
		return &ApplyCommandResponse{ErrorTag: wire.TagError(chronicle.ErrProposerClosed)}, nil
	}
}

func (c *clientAPIImpl) GetValue(ctx context.Context, in *GetValueRequest) (*GetValueResponse, error) {
	value, found := c.agent.Value(in.Key)
	return &GetValueResponse{Value: value, Found: found}, nil
}

// registerClientAPI installs clientAPIImpl on gs. Like agentrpc.Register,
// it must run before gs.Serve starts.
func registerClientAPI(gs *grpc.Server, proposer *chronicle.Proposer, agent *inMemoryAgent) {
	gs.RegisterService(&clientAPIServiceDesc, &clientAPIImpl{proposer: proposer, agent: agent, timeout: 5 * time.Second})
}
