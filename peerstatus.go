package chronicle

import "go.uber.org/zap/zapcore"

// PeerStatus is the proposer's per-peer replication bookkeeping. It is
// created on first successful contact and destroyed on monitor-down or
// on the peer's removal from the committed configuration.
type PeerStatus struct {
	// NeedsSync is set when an unreplicated advance must be sent even
	// though there may be no new entries, because the peer's tail
	// diverges from ours and must be truncated by a future append.
	NeedsSync bool

	SentSeqno        Seqno
	SentCommitSeqno  Seqno
	AckedSeqno       Seqno
	AckedCommitSeqno Seqno

	CatchupInProgress bool

	// MonRef tags the most recent outbound request to this peer. A
	// response whose tag does not match the current MonRef is stale
	// and must be dropped without mutating any field below.
	MonRef uint64

	// requested marks a placeholder row inserted by MarkRequested to
	// suppress duplicate probes while a check_peers round-trip to this
	// peer is outstanding.
	requested bool
}

func (s *PeerStatus) MarshalLogObject(e zapcore.ObjectEncoder) error {
	e.AddBool("needs_sync", s.NeedsSync)
	e.AddUint64("sent_seqno", uint64(s.SentSeqno))
	e.AddUint64("sent_commit_seqno", uint64(s.SentCommitSeqno))
	e.AddUint64("acked_seqno", uint64(s.AckedSeqno))
	e.AddUint64("acked_commit_seqno", uint64(s.AckedCommitSeqno))
	e.AddBool("catchup_in_progress", s.CatchupInProgress)
	return nil
}

// PeerStatusTable is the proposer-owned map of live peers to their
// replication state, plus the monitor-ref generator used for ref-tagged
// RPC demultiplexing (§5, §9).
type PeerStatusTable struct {
	byPeer  map[Peer]*PeerStatus
	nextRef uint64
}

func NewPeerStatusTable() *PeerStatusTable {
	return &PeerStatusTable{byPeer: map[Peer]*PeerStatus{}}
}

// NextMonRef allocates a new monitor reference for an outbound request
// to peer, overwriting the peer's current reference so any response
// tagged with a stale one is rejected on arrival.
func (t *PeerStatusTable) NextMonRef(p Peer) uint64 {
	t.nextRef++
	ref := t.nextRef
	if st, ok := t.byPeer[p]; ok {
		st.MonRef = ref
	}
	return ref
}

// IsCurrentRef reports whether ref is still the live monitor reference
// for p. Used to discard stale agent/catchup responses (P6).
func (t *PeerStatusTable) IsCurrentRef(p Peer, ref uint64) bool {
	st, ok := t.byPeer[p]
	return ok && st.MonRef == ref
}

// MarkRequested inserts a placeholder row for p, if one does not already
// exist, so that concurrent check_peers rounds do not probe the same
// peer twice.
func (t *PeerStatusTable) MarkRequested(p Peer) (ref uint64, alreadyRequested bool) {
	if st, ok := t.byPeer[p]; ok {
		return st.MonRef, true
	}
	t.nextRef++
	t.byPeer[p] = &PeerStatus{requested: true, MonRef: t.nextRef}
	return t.nextRef, false
}

// Init is called exactly once, after a successful establish_term or
// ensure_term response, to compute the peer's initial replication
// anchor per the rule in §4.2.
func (t *PeerStatusTable) Init(p Peer, ourTerm Term, meta PeerMetadata) *PeerStatus {
	st := &PeerStatus{}
	if existing, ok := t.byPeer[p]; ok {
		st.MonRef = existing.MonRef
	}
	if meta.TermVoted.Equal(ourTerm) {
		// The peer shares our history: trust its reported positions.
		st.SentSeqno = meta.HighSeqno
		st.AckedSeqno = meta.HighSeqno
		st.SentCommitSeqno = meta.CommittedSeqno
		st.AckedCommitSeqno = meta.CommittedSeqno
		st.NeedsSync = false
	} else {
		// The peer may carry a divergent uncommitted tail; anchor
		// replication back to what it has committed and force a sync
		// if it has anything uncommitted past that point.
		st.SentSeqno = meta.CommittedSeqno
		st.AckedSeqno = meta.CommittedSeqno
		st.SentCommitSeqno = meta.CommittedSeqno
		st.AckedCommitSeqno = meta.CommittedSeqno
		st.NeedsSync = meta.HighSeqno > meta.CommittedSeqno
	}
	t.byPeer[p] = st
	return st
}

// Get returns the status for p, if any.
func (t *PeerStatusTable) Get(p Peer) (*PeerStatus, bool) {
	st, ok := t.byPeer[p]
	return st, ok
}

// Remove drops p's status row, e.g. on monitor-down or configuration
// removal.
func (t *PeerStatusTable) Remove(p Peer) {
	delete(t.byPeer, p)
}

// SetSent records that entries up to high (and commit index commit)
// have been dispatched to p. Called optimistically before the RPC
// completes.
func (t *PeerStatusTable) SetSent(p Peer, high, commit Seqno) {
	st, ok := t.byPeer[p]
	if !ok {
		return
	}
	st.SentSeqno = high
	st.SentCommitSeqno = commit
}

// SetAcked records a peer's acknowledgement, asserting the invariants of
// §4.2: acks never regress and never exceed what was sent.
func (t *PeerStatusTable) SetAcked(p Peer, high, commit Seqno) {
	st, ok := t.byPeer[p]
	if !ok {
		return
	}
	if high < st.AckedSeqno {
		panic("chronicle: acked_seqno must not regress")
	}
	if commit < st.AckedCommitSeqno {
		panic("chronicle: acked_commit_seqno must not regress")
	}
	if high > st.SentSeqno {
		panic("chronicle: acked_seqno must not exceed sent_seqno")
	}
	if commit > st.SentCommitSeqno {
		panic("chronicle: acked_commit_seqno must not exceed sent_commit_seqno")
	}
	st.AckedSeqno = high
	st.AckedCommitSeqno = commit
	st.requested = false
	st.CatchupInProgress = false
	st.NeedsSync = false
}

// Peers returns the set of peers currently tracked, including
// placeholder (requested-but-not-yet-initialized) rows.
func (t *PeerStatusTable) Peers() map[Peer]struct{} {
	out := make(map[Peer]struct{}, len(t.byPeer))
	for p := range t.byPeer {
		out[p] = struct{}{}
	}
	return out
}

// AckedSeqnos returns the set of peers paired with their acked_seqno,
// for the commit-derivation walk in §4.3.
func (t *PeerStatusTable) AckedSeqnos() map[Peer]Seqno {
	out := make(map[Peer]Seqno, len(t.byPeer))
	for p, st := range t.byPeer {
		if st.requested {
			continue
		}
		out[p] = st.AckedSeqno
	}
	return out
}
