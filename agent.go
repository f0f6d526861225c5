package chronicle

import "context"

// PeerMetadata is the full metadata record of §6, returned by a
// successful EstablishTerm or EnsureTerm call.
type PeerMetadata struct {
	Peer           Peer
	HistoryId      HistoryId
	Term           Term
	TermVoted      Term
	HighSeqno      Seqno
	CommittedSeqno Seqno

	// ConfigKind discriminates Config from Transition below, mirroring
	// LogEntry's own discriminated union.
	ConfigKind     EntryKind
	Config         Config
	Transition     Transition
	ConfigRevision Seqno

	// PendingBranch is non-nil when the agent has a branch record
	// awaiting resolution by the next proposer to enter proposing.
	PendingBranch *BranchRecord
}

// EffectiveConfig returns the stable Config governing m, or the Current
// leg of a Transition if m is mid-transition.
func (m PeerMetadata) EffectiveConfig() Config {
	if m.ConfigKind == EntryTransition {
		return m.Transition.Current
	}
	return m.Config
}

// Agent is the per-peer RPC surface the proposer drives to establish
// terms, replicate entries, and learn a peer's position. One Agent
// value addresses exactly one peer; the proposer holds one per live
// peer plus one for SELF. Agent implementations, their durability
// format, and their wire transport are out of scope for this module —
// see agentrpc for a concrete gRPC-backed implementation and
// fakeagent_test.go for the in-memory double used by the test suite.
type Agent interface {
	// EstablishTerm asks the peer to durably record (history, term) as
	// its current term, using position to break ties against any term
	// the peer may already have recorded for a higher-numbered local
	// log position. It returns the peer's metadata on success.
	EstablishTerm(ctx context.Context, history HistoryId, term Term, position TermPosition) (PeerMetadata, error)

	// EnsureTerm asks the peer to confirm it still recognizes (history,
	// term) as current, without altering any state. Used for the
	// sync-quorum read barrier and for check_peers probes.
	EnsureTerm(ctx context.Context, history HistoryId, term Term) (PeerMetadata, error)

	// Append replicates entries to the peer, informing it of the
	// proposer's committed seqno and the seqno immediately preceding
	// entries (for gap detection). It returns the peer's resulting
	// (high_seqno, committed_seqno) on success.
	Append(ctx context.Context, history HistoryId, term Term, committed Seqno, prevSeqno Seqno, entries []LogEntry) (high Seqno, peerCommitted Seqno, err error)

	// LocalMarkCommitted notifies the peer's agent that seqno is now
	// committed, so a downstream state machine may apply it. Only ever
	// called against the SELF agent by this module; remote peers learn
	// the committed seqno via Append.
	LocalMarkCommitted(ctx context.Context, history HistoryId, term Term, seqno Seqno) error

	// GetLog retrieves entries [lo, hi] from the peer's local log.
	// Used to preload the pending queue from the local agent on entry
	// to proposing.
	GetLog(ctx context.Context, history HistoryId, term Term, lo, hi Seqno) ([]LogEntry, error)
}

// Catchup is the bulk-transfer subsystem used when a peer has fallen
// further behind than the live log's retention can serve
// incrementally. It is scoped to a single (history, term) and owned
// exclusively by the proposer that started it.
type Catchup interface {
	// CatchupPeer starts (or restarts) a bulk transfer to peer
	// beginning at fromSeqno. opaque is echoed back on the event the
	// proposer receives when the transfer concludes, so the proposer
	// can demultiplex it the same way it demultiplexes agent
	// responses.
	CatchupPeer(ctx context.Context, opaque uint64, peer Peer, fromSeqno Seqno) error

	// CancelCatchup aborts an in-flight transfer to peer, e.g. because
	// its monitor went down or it was removed from the configuration.
	CancelCatchup(peer Peer) error

	// Stop tears down the engine. Called once, when the proposer
	// leaves proposing (by termination).
	Stop()
}

// CatchupStarter constructs a Catchup engine scoped to (history, term).
// Kept separate from Catchup itself so tests can substitute a
// lightweight starter without threading engine state through the
// Agent's lifecycle.
type CatchupStarter interface {
	Start(ctx context.Context, history HistoryId, term Term) (Catchup, error)
}

// CatchupResult is delivered to the proposer's mailbox when a bulk
// transfer started via Catchup.CatchupPeer concludes.
type CatchupResult struct {
	Opaque uint64
	Peer   Peer
	Err    error
	// NewSentSeqno is the seqno the peer has now been brought up to;
	// replication resumes from NewSentSeqno+1 on success.
	NewSentSeqno Seqno
}
