package chronicle

// configState tracks the proposer's view of the current configuration:
// the latest Config/Transition entry it knows of (committed or not),
// its revision (seqno), and whether it has committed yet. Only one
// config-bearing entry may be outstanding at a time — cas_config is
// postponed while committed is false.
type configState struct {
	entry     LogEntry
	revision  Seqno
	committed bool
}

// CasResult is the outcome of a cas_config call.
type CasResult struct {
	Revision Seqno
	Err      error // nil, ErrCasFailed, or ErrLeaderLost/ErrNotLeader/ErrProposerClosed
}

// GetConfigResult is the outcome of a get_config call.
type GetConfigResult struct {
	Config   Config
	Revision Seqno
	Err      error
}

// casRequest is an in-flight cas_config call, postponed if the current
// config is mid-transition and replayed (or satisfied) once it settles.
type casRequest struct {
	replyTo          chan<- CasResult
	newConfig        Config
	expectedRevision Seqno
}

// getConfigRequest is an in-flight get_config call, postponed the same
// way as casRequest while the configuration is mid-transition.
type getConfigRequest struct {
	replyTo chan<- GetConfigResult
}

// postponedConfigRequest is a unified FIFO entry so get_config and
// cas_config interleave in arrival order when replayed, per the design
// note in §9 ("never drop them silently").
type postponedConfigRequest struct {
	cas *casRequest
	get *getConfigRequest
}
