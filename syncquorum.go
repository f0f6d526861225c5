package chronicle

// SyncQuorumResult is delivered to the caller of sync_quorum.
type SyncQuorumResult struct {
	Err error // nil (ok), ErrNoQuorum, ErrNotLeader, or ErrProposerClosed
}

// syncRequest is an in-flight read barrier: a quorum of ensure_term
// acks proves the proposer is still leader at this instant. Its
// lifetime ends when quorum is achieved or becomes infeasible.
type syncRequest struct {
	ref         uint64
	replyTo     chan<- SyncQuorumResult
	votes       map[Peer]struct{}
	failedVotes map[Peer]struct{}
	// asked records every peer an ensure_term probe has been sent to
	// for this request, so a configuration change extending the
	// request to new peers never double-dispatches to one already
	// asked.
	asked map[Peer]struct{}
}

func newSyncRequest(ref uint64, replyTo chan<- SyncQuorumResult, deadPeers map[Peer]struct{}) *syncRequest {
	failed := make(map[Peer]struct{}, len(deadPeers))
	for p := range deadPeers {
		failed[p] = struct{}{}
	}
	return &syncRequest{
		ref:         ref,
		replyTo:     replyTo,
		votes:       map[Peer]struct{}{},
		failedVotes: failed,
		asked:       map[Peer]struct{}{},
	}
}

func (r *syncRequest) addVote(p Peer) {
	delete(r.failedVotes, p)
	r.votes[p] = struct{}{}
}

func (r *syncRequest) addFailedVote(p Peer) {
	if _, voted := r.votes[p]; voted {
		return
	}
	r.failedVotes[p] = struct{}{}
}

func (r *syncRequest) reply(err error) {
	if r.replyTo == nil {
		return
	}
	r.replyTo <- SyncQuorumResult{Err: err}
}
