package chronicle

import (
	"github.com/pkg/errors"
)

// Sentinel errors returned to callers of the proposer's client-facing
// operations (§6), matching the teacher's ErrNonLeader/
// ErrDeadlineExceeded idiom of comparable sentinel values rather than a
// typed error hierarchy.
var (
	ErrNotLeader      = errors.New("chronicle: not leader")
	ErrUnknownRsm     = errors.New("chronicle: unknown rsm")
	ErrNoQuorum       = errors.New("chronicle: no quorum")
	ErrCasFailed      = errors.New("chronicle: cas_config: revision mismatch")
	ErrLeaderLost     = errors.New("chronicle: leader lost")
	ErrProposerClosed = errors.New("chronicle: proposer stopped")
)

// AgentErrorKind classifies the errors an Agent may return from
// EstablishTerm/EnsureTerm/Append, per the taxonomy in §7. Exported so
// out-of-package Agent implementations (e.g. agentrpc, wire) can
// construct and recognize classifiable errors across a wire boundary.
type AgentErrorKind int

const (
	AgentErrorOther AgentErrorKind = iota
	AgentErrorConflictingTerm
	AgentErrorHistoryMismatch
	AgentErrorBehind
)

// unexported aliases kept so the rest of this file reads the way it
// did before the kind was exported.
const (
	errOther           = AgentErrorOther
	errConflictingTerm = AgentErrorConflictingTerm
	errHistoryMismatch = AgentErrorHistoryMismatch
	errBehind          = AgentErrorBehind
)

// AgentError is the error type Agent implementations should return (or
// wrap) for the classifiable error kinds of §7. Anything else is
// treated as errOther and is fatal to the proposer.
type AgentError struct {
	Kind    AgentErrorKind
	Other   Term // populated for Kind == AgentErrorConflictingTerm
	Message string
}

func (e *AgentError) Error() string {
	return e.Message
}

// ConflictingTermError reports that the peer has already recorded a
// higher-or-equal term than the one the caller asked it to establish.
func ConflictingTermError(other Term) error {
	return &AgentError{Kind: errConflictingTerm, Other: other, Message: "conflicting_term"}
}

// HistoryMismatchError reports that the peer's history id does not
// match the caller's — a branch happened that the caller has not yet
// ingested.
func HistoryMismatchError() error {
	return &AgentError{Kind: errHistoryMismatch, Message: "history_mismatch"}
}

// BehindError reports that the caller's claimed position is behind what
// the peer already has, encountered only during establish_term.
func BehindError() error {
	return &AgentError{Kind: errBehind, Message: "behind"}
}

func classify(err error) (*AgentError, bool) {
	return ClassifyAgentError(err)
}

// ClassifyAgentError extracts the *AgentError wrapped in err, if any,
// for use by Agent implementations on the far side of a wire boundary
// (see wire.TagError) that need to recognize the classifiable kinds
// without access to this package's unexported classify helper.
func ClassifyAgentError(err error) (*AgentError, bool) {
	var ae *AgentError
	if errors.As(err, &ae) {
		return ae, true
	}
	return nil, false
}

// TerminationReason names why a proposer actor exited its run loop, for
// logging and for the caller (server shell) deciding whether to
// respawn a proposer in a new term.
type TerminationReason string

const (
	ReasonStopped             TerminationReason = "stopped"
	ReasonConflictingTerm     TerminationReason = "conflicting_term"
	ReasonHistoryMismatch     TerminationReason = "history_mismatch"
	ReasonNotVoter            TerminationReason = "not_voter"
	ReasonNoQuorum            TerminationReason = "no_quorum"
	ReasonUnexpectedError     TerminationReason = "unexpected_error"
	ReasonEstablishTermFailed TerminationReason = "establish_term_failed"
	ReasonEstablishTimeout    TerminationReason = "establish_term_timeout"
	ReasonCatchupFailed       TerminationReason = "catchup_failed"
	ReasonLeaderRemoved       TerminationReason = "leader_removed"
	ReasonLocalAgentDied      TerminationReason = "local_agent_died"
)

// commonErrorOutcome is the result of classifying an Agent error per
// handle_common_error in §4.3.
type commonErrorOutcome int

const (
	outcomeFailedVote commonErrorOutcome = iota
	outcomeFatal
)

// handleCommonError classifies err against our own term ourTerm,
// returning whether it should be treated as a failed vote/probe or as
// fatal to the proposer, plus the termination reason to use if fatal.
func handleCommonError(err error, ourTerm Term) (commonErrorOutcome, TerminationReason) {
	ae, ok := classify(err)
	if !ok {
		return outcomeFatal, ReasonUnexpectedError
	}
	switch ae.Kind {
	case errConflictingTerm:
		if ourTerm.Number < ae.Other.Number {
			return outcomeFatal, ReasonConflictingTerm
		}
		// Equal term number, different candidate: tolerated, see Open
		// Question (a) in DESIGN.md.
		return outcomeFailedVote, ""
	case errHistoryMismatch:
		return outcomeFatal, ReasonHistoryMismatch
	case errBehind:
		return outcomeFailedVote, ""
	default:
		return outcomeFatal, ReasonUnexpectedError
	}
}
