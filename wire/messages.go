package wire

import "github.com/dave-finlay/chronicle"

// EstablishTermRequest is the wire form of Agent.EstablishTerm's
// arguments.
type EstablishTermRequest struct {
	HistoryId chronicle.HistoryId
	Term      chronicle.Term
	Position  chronicle.TermPosition
}

// EnsureTermRequest is the wire form of Agent.EnsureTerm's arguments.
type EnsureTermRequest struct {
	HistoryId chronicle.HistoryId
	Term      chronicle.Term
}

// MetadataResponse is the wire form of a successful EstablishTerm or
// EnsureTerm response: the full PeerMetadata record of §6.
type MetadataResponse struct {
	Metadata chronicle.PeerMetadata
	ErrorTag ErrorTag
}

// AppendRequest is the wire form of Agent.Append's arguments.
type AppendRequest struct {
	HistoryId      chronicle.HistoryId
	Term           chronicle.Term
	CommittedSeqno chronicle.Seqno
	PrevSeqno      chronicle.Seqno
	Entries        []chronicle.LogEntry
}

// AppendResponse is the wire form of Agent.Append's return values.
type AppendResponse struct {
	HighSeqno      chronicle.Seqno
	CommittedSeqno chronicle.Seqno
	ErrorTag       ErrorTag
}

// LocalMarkCommittedRequest is the wire form of
// Agent.LocalMarkCommitted's arguments.
type LocalMarkCommittedRequest struct {
	HistoryId chronicle.HistoryId
	Term      chronicle.Term
	Seqno     chronicle.Seqno
}

// GetLogRequest is the wire form of Agent.GetLog's arguments.
type GetLogRequest struct {
	HistoryId chronicle.HistoryId
	Term      chronicle.Term
	Lo, Hi    chronicle.Seqno
}

// GetLogResponse is the wire form of Agent.GetLog's return values.
type GetLogResponse struct {
	Entries  []chronicle.LogEntry
	ErrorTag ErrorTag
}

// AckResponse is the wire form of a call with no payload besides a
// possible error, e.g. LocalMarkCommitted.
type AckResponse struct {
	ErrorTag ErrorTag
}

// CatchupRequest is the wire form of Catchup.CatchupPeer's arguments.
type CatchupRequest struct {
	Opaque    uint64
	Peer      chronicle.Peer
	FromSeqno chronicle.Seqno
}

// ErrorTag classifies an error for transmission, since chronicle's
// AgentError cannot cross the wire directly. The zero value means no
// error.
type ErrorTag struct {
	Kind    string // "", "conflicting_term", "history_mismatch", "behind", "other"
	Other   chronicle.Term
	Message string
}

// ToError converts a received ErrorTag back into an error suitable for
// handleCommonError/classify on the calling side.
func (t ErrorTag) ToError() error {
	switch t.Kind {
	case "":
		return nil
	case "conflicting_term":
		return chronicle.ConflictingTermError(t.Other)
	case "history_mismatch":
		return chronicle.HistoryMismatchError()
	case "behind":
		return chronicle.BehindError()
	default:
		if t.Message == "" {
			t.Message = "remote agent error"
		}
		return errString(t.Message)
	}
}

// TagError converts a local error into an ErrorTag for transmission,
// preserving the classifiable AgentError kinds and flattening anything
// else to "other" (which the caller's handleCommonError treats as
// fatal, matching how an unclassified error is treated locally).
func TagError(err error) ErrorTag {
	if err == nil {
		return ErrorTag{}
	}
	if ae, ok := chronicle.ClassifyAgentError(err); ok {
		switch {
		case ae.Kind == chronicle.AgentErrorConflictingTerm:
			return ErrorTag{Kind: "conflicting_term", Other: ae.Other}
		case ae.Kind == chronicle.AgentErrorHistoryMismatch:
			return ErrorTag{Kind: "history_mismatch"}
		case ae.Kind == chronicle.AgentErrorBehind:
			return ErrorTag{Kind: "behind"}
		}
	}
	return ErrorTag{Kind: "other", Message: err.Error()}
}

type errString string

func (e errString) Error() string { return string(e) }
