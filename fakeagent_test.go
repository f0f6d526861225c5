package chronicle

import (
	"context"
	"sync"
)

// fakeAgent is a deterministic, in-memory Agent used by the test
// suite. Unlike a real agent it never loses its log, which the tests
// rely on to drive catchup deterministically.
type fakeAgent struct {
	mu sync.Mutex

	term      Term
	termVoted Term

	log            []LogEntry
	committedSeqno Seqno

	cfg            Config
	configKind     EntryKind
	transition     Transition
	configRevision Seqno
	pendingBranch  *BranchRecord
}

func newFakeAgent(cfg Config) *fakeAgent {
	return &fakeAgent{cfg: cfg}
}

func (a *fakeAgent) snapshotLocked() PeerMetadata {
	var high Seqno
	if n := len(a.log); n > 0 {
		high = a.log[n-1].Seqno
	}
	return PeerMetadata{
		Term:           a.term,
		TermVoted:      a.termVoted,
		HighSeqno:      high,
		CommittedSeqno: a.committedSeqno,
		ConfigKind:     a.configKind,
		Config:         a.cfg,
		Transition:     a.transition,
		ConfigRevision: a.configRevision,
		PendingBranch:  a.pendingBranch,
	}
}

func (a *fakeAgent) EstablishTerm(ctx context.Context, history HistoryId, term Term, position TermPosition) (PeerMetadata, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.term.Number != 0 && term.Less(a.term) {
		return PeerMetadata{}, ConflictingTermError(a.term)
	}
	a.term = term
	a.termVoted = term
	return a.snapshotLocked(), nil
}

func (a *fakeAgent) EnsureTerm(ctx context.Context, history HistoryId, term Term) (PeerMetadata, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.term.Equal(term) {
		return PeerMetadata{}, ConflictingTermError(a.term)
	}
	return a.snapshotLocked(), nil
}

func (a *fakeAgent) Append(ctx context.Context, history HistoryId, term Term, committed Seqno, prevSeqno Seqno, entries []LogEntry) (Seqno, Seqno, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.term.Equal(term) {
		return 0, 0, ConflictingTermError(a.term)
	}
	i := 0
	for i < len(a.log) && a.log[i].Seqno <= prevSeqno {
		i++
	}
	a.log = append(a.log[:i:i], entries...)
	if committed > a.committedSeqno {
		a.committedSeqno = committed
		a.applyCommittedLocked()
	}
	var high Seqno
	if n := len(a.log); n > 0 {
		high = a.log[n-1].Seqno
	}
	return high, a.committedSeqno, nil
}

func (a *fakeAgent) applyCommittedLocked() {
	for _, e := range a.log {
		if e.Seqno > a.committedSeqno {
			break
		}
		switch e.Kind {
		case EntryConfig:
			a.cfg = e.Config
			a.configKind = EntryConfig
			a.configRevision = e.Seqno
		case EntryTransition:
			a.transition = e.Transition
			a.configKind = EntryTransition
			a.configRevision = e.Seqno
		}
	}
}

func (a *fakeAgent) LocalMarkCommitted(ctx context.Context, history HistoryId, term Term, seqno Seqno) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if seqno > a.committedSeqno {
		a.committedSeqno = seqno
		a.applyCommittedLocked()
	}
	return nil
}

func (a *fakeAgent) GetLog(ctx context.Context, history HistoryId, term Term, lo, hi Seqno) ([]LogEntry, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]LogEntry, 0, len(a.log))
	for _, e := range a.log {
		if e.Seqno >= lo && e.Seqno <= hi {
			out = append(out, e)
		}
	}
	return out, nil
}

func (a *fakeAgent) committed() Seqno {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.committedSeqno
}

// fakeCatchupStarter hands a peer's target agent every entry the
// source (local) agent holds past the requested seqno, simulating a
// bulk transfer without a real snapshot/streaming transport.
type fakeCatchupStarter struct {
	source *fakeAgent
	peers  map[Peer]*fakeAgent

	mu       sync.Mutex
	proposer *Proposer
}

func (s *fakeCatchupStarter) Start(ctx context.Context, history HistoryId, term Term) (Catchup, error) {
	return &fakeCatchup{starter: s}, nil
}

type fakeCatchup struct {
	starter *fakeCatchupStarter
}

func (c *fakeCatchup) CatchupPeer(ctx context.Context, opaque uint64, peer Peer, fromSeqno Seqno) error {
	target, ok := c.starter.peers[peer]
	if !ok {
		return ErrUnknownRsm // any error causes the proposer to retry later
	}
	go func() {
		entries, _ := c.starter.source.GetLog(context.Background(), "", Term{}, fromSeqno, ^Seqno(0))
		committed := c.starter.source.committed()
		_, _, _ = target.Append(context.Background(), "", target.term, committed, fromSeqno-1, entries)
		var newHigh Seqno
		if n := len(entries); n > 0 {
			newHigh = entries[n-1].Seqno
		} else {
			newHigh = fromSeqno - 1
		}
		c.starter.mu.Lock()
		p := c.starter.proposer
		c.starter.mu.Unlock()
		if p != nil {
			p.CatchupDone(CatchupResult{Opaque: opaque, Peer: peer, NewSentSeqno: newHigh})
		}
	}()
	return nil
}

func (c *fakeCatchup) CancelCatchup(peer Peer) error { return nil }
func (c *fakeCatchup) Stop()                         {}

func anyRsmFactory(cfg RsmConfig) (RSM, bool) {
	return &fakeRsm{name: cfg.Name}, true
}

type fakeRsm struct{ name string }

func (r *fakeRsm) Name() string { return r.name }
