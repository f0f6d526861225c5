package chronicle

// BranchRecord is persisted by agents when an operator declares quorum
// failover. The proposer consumes (and clears) a pending branch once,
// on entry to proposing.
type BranchRecord struct {
	HistoryId   HistoryId
	Coordinator Peer
	Peers       map[Peer]struct{}
}

// resolveBranch implements §4.3's branch-resolution algorithm: truncate
// the uncommitted pending tail, clamp high_seqno back to committed_seqno,
// and propose a fresh Config over the branch's surviving peers.
//
// The new config may be based on an uncommitted config entry that is
// itself about to be discarded by the truncation above; that is
// accepted (DESIGN.md, Open Question (c)) — downstream consumers must
// tolerate a configuration whose predecessor never appears in the
// committed history.
func (p *Proposer) resolveBranch(branch BranchRecord) {
	p.pending.TruncateAfter(p.committedSeqno)
	p.highSeqno = p.committedSeqno
	p.logger.Infow("resolving branch",
		p.logFields("coordinator", branch.Coordinator, "new_voters", peerSetSlice(branch.Peers))...)
	p.proposeConfig(Config{Voters: branch.Peers, StateMachines: p.currentConfig().StateMachines})
}

func peerSetSlice(peers map[Peer]struct{}) []Peer {
	out := make([]Peer, 0, len(peers))
	for p := range peers {
		out = append(out, p)
	}
	return out
}
