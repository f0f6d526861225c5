package agentrpc

import (
	"context"
	"sync"

	"github.com/dave-finlay/chronicle"
	"github.com/dave-finlay/chronicle/wire"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

var registerCodecOnce sync.Once

func ensureCodecRegistered() {
	registerCodecOnce.Do(func() {
		wire.NewCodec()
	})
}

// RemoteAgent implements chronicle.Agent against a peer reachable at
// addr, dialing lazily and redialing on the next call after any RPC
// failure — the same lazy-connect, disconnect-on-error shape as the
// teacher's grpcTransClient/tryClient in transport_grpc.go, simplified
// to a single connection per peer since chronicle.Agent has no
// streaming RPCs.
type RemoteAgent struct {
	addr string

	mu   sync.Mutex
	conn *grpc.ClientConn
}

// NewRemoteAgent constructs a RemoteAgent targeting addr. No network
// I/O happens until the first call.
func NewRemoteAgent(addr string) *RemoteAgent {
	ensureCodecRegistered()
	return &RemoteAgent{addr: addr}
}

// Close tears down the underlying connection, if any.
func (r *RemoteAgent) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conn == nil {
		return nil
	}
	err := r.conn.Close()
	r.conn = nil
	return err
}

func (r *RemoteAgent) getConn() (*grpc.ClientConn, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conn != nil {
		return r.conn, nil
	}
	conn, err := grpc.Dial(r.addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(wire.Name)),
	)
	if err != nil {
		return nil, err
	}
	r.conn = conn
	return conn, nil
}

func (r *RemoteAgent) invoke(ctx context.Context, method string, in, out interface{}) error {
	conn, err := r.getConn()
	if err != nil {
		return err
	}
	if err := conn.Invoke(ctx, "/"+serviceName+"/"+method, in, out); err != nil {
		r.mu.Lock()
		if r.conn == conn {
			r.conn = nil
		}
		r.mu.Unlock()
		return err
	}
	return nil
}

func (r *RemoteAgent) EstablishTerm(ctx context.Context, history chronicle.HistoryId, term chronicle.Term, position chronicle.TermPosition) (chronicle.PeerMetadata, error) {
	resp := &wire.MetadataResponse{}
	if err := r.invoke(ctx, "EstablishTerm", &wire.EstablishTermRequest{HistoryId: history, Term: term, Position: position}, resp); err != nil {
		return chronicle.PeerMetadata{}, err
	}
	if err := resp.ErrorTag.ToError(); err != nil {
		return chronicle.PeerMetadata{}, err
	}
	return resp.Metadata, nil
}

func (r *RemoteAgent) EnsureTerm(ctx context.Context, history chronicle.HistoryId, term chronicle.Term) (chronicle.PeerMetadata, error) {
	resp := &wire.MetadataResponse{}
	if err := r.invoke(ctx, "EnsureTerm", &wire.EnsureTermRequest{HistoryId: history, Term: term}, resp); err != nil {
		return chronicle.PeerMetadata{}, err
	}
	if err := resp.ErrorTag.ToError(); err != nil {
		return chronicle.PeerMetadata{}, err
	}
	return resp.Metadata, nil
}

func (r *RemoteAgent) Append(ctx context.Context, history chronicle.HistoryId, term chronicle.Term, committed chronicle.Seqno, prevSeqno chronicle.Seqno, entries []chronicle.LogEntry) (chronicle.Seqno, chronicle.Seqno, error) {
	resp := &wire.AppendResponse{}
	req := &wire.AppendRequest{HistoryId: history, Term: term, CommittedSeqno: committed, PrevSeqno: prevSeqno, Entries: entries}
	if err := r.invoke(ctx, "Append", req, resp); err != nil {
		return 0, 0, err
	}
	if err := resp.ErrorTag.ToError(); err != nil {
		return 0, 0, err
	}
	return resp.HighSeqno, resp.CommittedSeqno, nil
}

func (r *RemoteAgent) LocalMarkCommitted(ctx context.Context, history chronicle.HistoryId, term chronicle.Term, seqno chronicle.Seqno) error {
	resp := &wire.AckResponse{}
	if err := r.invoke(ctx, "LocalMarkCommitted", &wire.LocalMarkCommittedRequest{HistoryId: history, Term: term, Seqno: seqno}, resp); err != nil {
		return err
	}
	return resp.ErrorTag.ToError()
}

func (r *RemoteAgent) GetLog(ctx context.Context, history chronicle.HistoryId, term chronicle.Term, lo, hi chronicle.Seqno) ([]chronicle.LogEntry, error) {
	resp := &wire.GetLogResponse{}
	if err := r.invoke(ctx, "GetLog", &wire.GetLogRequest{HistoryId: history, Term: term, Lo: lo, Hi: hi}, resp); err != nil {
		return nil, err
	}
	if err := resp.ErrorTag.ToError(); err != nil {
		return nil, err
	}
	return resp.Entries, nil
}
