package chronicle

import "go.uber.org/zap/zapcore"

// Peer identifies a voting member of the cluster. SELF is a distinguished
// alias standing in for the local node wherever a quorum expression or
// peer set is translated for local evaluation.
type Peer string

// SELF never appears on the wire; it is substituted for the local peer
// id by Translate so quorum expressions and peer-status lookups do not
// need to special-case the local node's real identity.
const SELF Peer = "$self"

// HistoryId identifies a lineage of committed log entries. It changes
// only when a branch is resolved.
type HistoryId string

// Seqno is a monotonic log position within a history, starting at 1.
type Seqno uint64

// NoSeqno is the sentinel "no position" value.
const NoSeqno Seqno = 0

// Term is a totally ordered leadership epoch, compared by Number then
// Tiebreaker.
type Term struct {
	Number     uint64
	Tiebreaker string
}

// Less reports whether t sorts strictly before other.
func (t Term) Less(other Term) bool {
	if t.Number != other.Number {
		return t.Number < other.Number
	}
	return t.Tiebreaker < other.Tiebreaker
}

// Equal reports whether t and other are the same term.
func (t Term) Equal(other Term) bool {
	return t.Number == other.Number && t.Tiebreaker == other.Tiebreaker
}

// MarshalLogObject lets zap log a Term without allocating a format string
// on every call, matching the teacher's pb.Peer.MarshalLogObject idiom.
func (t Term) MarshalLogObject(e zapcore.ObjectEncoder) error {
	e.AddUint64("number", t.Number)
	e.AddString("tiebreaker", t.Tiebreaker)
	return nil
}

// TermPosition is the {term_voted, high_seqno} pair a peer reports (or
// a caller asserts) when establishing a term, letting the receiving
// agent detect a divergent or stale position without needing the full
// history id (already implied by the call's scope).
type TermPosition struct {
	TermVoted Term
	HighSeqno Seqno
}

// Revision uniquely identifies a log entry.
type Revision struct {
	HistoryId HistoryId
	Term      Term
	Seqno     Seqno
}

func (r Revision) MarshalLogObject(e zapcore.ObjectEncoder) error {
	e.AddString("history_id", string(r.HistoryId))
	e.AddUint64("term_number", r.Term.Number)
	e.AddString("term_tiebreaker", r.Term.Tiebreaker)
	e.AddUint64("seqno", uint64(r.Seqno))
	return nil
}
