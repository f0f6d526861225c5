package main

import (
	"context"
	"sync"

	"github.com/dave-finlay/chronicle"
	"github.com/dave-finlay/chronicle/kvrsm"
)

// inMemoryAgent is a minimal, non-durable chronicle.Agent: state lives
// only in the process's memory and is lost on restart. It exists so
// this command has something to point a Proposer at without pulling in
// a real storage engine, which is out of scope for this module.
type inMemoryAgent struct {
	mu sync.Mutex

	history   chronicle.HistoryId
	term      chronicle.Term
	termVoted chronicle.Term

	log            []chronicle.LogEntry
	committedSeqno chronicle.Seqno

	cfg            chronicle.Config
	configKind     chronicle.EntryKind
	transition     chronicle.Transition
	configRevision chronicle.Seqno

	kv *kvrsm.KV
}

func newInMemoryAgent(initial chronicle.Config) *inMemoryAgent {
	return &inMemoryAgent{
		history: "chronicled",
		cfg:     initial,
		kv:      kvrsm.New("kv"),
	}
}

func (a *inMemoryAgent) metadataLocked() chronicle.PeerMetadata {
	var high chronicle.Seqno
	if n := len(a.log); n > 0 {
		high = a.log[n-1].Seqno
	}
	return chronicle.PeerMetadata{
		Term:           a.term,
		TermVoted:      a.termVoted,
		HighSeqno:      high,
		CommittedSeqno: a.committedSeqno,
		ConfigKind:     a.configKind,
		Config:         a.cfg,
		Transition:     a.transition,
		ConfigRevision: a.configRevision,
	}
}

func (a *inMemoryAgent) EstablishTerm(ctx context.Context, history chronicle.HistoryId, term chronicle.Term, position chronicle.TermPosition) (chronicle.PeerMetadata, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.term.Number != 0 && term.Less(a.term) {
		return chronicle.PeerMetadata{}, chronicle.ConflictingTermError(a.term)
	}
	a.term = term
	a.termVoted = term
	return a.metadataLocked(), nil
}

func (a *inMemoryAgent) EnsureTerm(ctx context.Context, history chronicle.HistoryId, term chronicle.Term) (chronicle.PeerMetadata, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.term.Equal(term) {
		return chronicle.PeerMetadata{}, chronicle.ConflictingTermError(a.term)
	}
	return a.metadataLocked(), nil
}

func (a *inMemoryAgent) Append(ctx context.Context, history chronicle.HistoryId, term chronicle.Term, committed chronicle.Seqno, prevSeqno chronicle.Seqno, entries []chronicle.LogEntry) (chronicle.Seqno, chronicle.Seqno, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.term.Equal(term) {
		return 0, 0, chronicle.ConflictingTermError(a.term)
	}
	i := 0
	for i < len(a.log) && a.log[i].Seqno <= prevSeqno {
		i++
	}
	a.log = a.log[:i]
	a.log = append(a.log, entries...)
	if committed > a.committedSeqno {
		a.committedSeqno = committed
		a.applyCommittedLocked()
	}
	var high chronicle.Seqno
	if n := len(a.log); n > 0 {
		high = a.log[n-1].Seqno
	}
	return high, a.committedSeqno, nil
}

func (a *inMemoryAgent) applyCommittedLocked() {
	for _, e := range a.log {
		if e.Seqno > a.committedSeqno {
			break
		}
		switch e.Kind {
		case chronicle.EntryRsmCommand:
			if e.Command.RsmName == "kv" {
				a.kv.Apply(e.Command.Payload)
			}
		case chronicle.EntryConfig:
			a.cfg = e.Config
			a.configKind = chronicle.EntryConfig
			a.configRevision = e.Seqno
		case chronicle.EntryTransition:
			a.transition = e.Transition
			a.configKind = chronicle.EntryTransition
			a.configRevision = e.Seqno
		}
	}
}

func (a *inMemoryAgent) LocalMarkCommitted(ctx context.Context, history chronicle.HistoryId, term chronicle.Term, seqno chronicle.Seqno) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if seqno > a.committedSeqno {
		a.committedSeqno = seqno
		a.applyCommittedLocked()
	}
	return nil
}

// Value reads a key from the local kv machine, reflecting whatever this
// agent has applied through applyCommittedLocked so far.
func (a *inMemoryAgent) Value(key string) ([]byte, bool) {
	return a.kv.Value(key)
}

func (a *inMemoryAgent) GetLog(ctx context.Context, history chronicle.HistoryId, term chronicle.Term, lo, hi chronicle.Seqno) ([]chronicle.LogEntry, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]chronicle.LogEntry, 0, len(a.log))
	for _, e := range a.log {
		if e.Seqno >= lo && e.Seqno <= hi {
			out = append(out, e)
		}
	}
	return out, nil
}
