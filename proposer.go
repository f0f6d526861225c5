package chronicle

import (
	"context"
	"time"
)

// proposerState is one of the three states of §4.3: establish_term,
// proposing, or the single terminal stopped.
type proposerState int32

const (
	stateEstablishTerm proposerState = iota
	stateProposing
	stateStopped
)

func (s proposerState) String() string {
	switch s {
	case stateEstablishTerm:
		return "establish_term"
	case stateProposing:
		return "proposing"
	case stateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// agentEventPurpose tags an agentEvent with which outbound request it
// answers, since EstablishTerm/EnsureTerm are reused for several
// distinct purposes (electing, probing, and the read barrier).
type agentEventPurpose int

const (
	purposeVote agentEventPurpose = iota
	purposeCheckPeers
	purposeSync
	purposeAppend
)

// agentEvent is the single envelope type every background agent call
// delivers into the proposer's mailbox, carrying enough of a tag
// (ref/syncRef) for the actor to demultiplex and discard stale
// responses (P6).
type agentEvent struct {
	purpose agentEventPurpose
	peer    Peer
	ref     uint64
	syncRef uint64

	meta        PeerMetadata
	ackedHigh   Seqno
	ackedCommit Seqno
	err         error
}

// CommandRequest is one element of an append_commands batch: the
// command to admit, and the channel its outcome is delivered to.
type CommandRequest struct {
	ReplyTo chan<- AppendResult
	RsmName string
	Payload []byte
}

// AppendResult is delivered to a CommandRequest's ReplyTo: either the
// assigned Seqno, or one of ErrNotLeader/ErrUnknownRsm/ErrProposerClosed.
type AppendResult struct {
	Seqno Seqno
	Err   error
}

type appendCommandsMsg struct{ cmds []CommandRequest }
type syncQuorumMsg struct{ replyTo chan<- SyncQuorumResult }
type getConfigMsg struct{ replyTo chan<- GetConfigResult }
type casConfigMsg struct {
	replyTo          chan<- CasResult
	newConfig        Config
	expectedRevision Seqno
}
type stopMsg struct{ done chan<- struct{} }
type monitorDownMsg struct{ peer Peer }

// ProposerConfig is the one-shot construction input for a Proposer.
// A Proposer owns exactly one term for its lifetime (§3); the caller
// (the server shell, out of scope here) is responsible for choosing
// Term and for respawning a fresh Proposer in a new term after this
// one terminates.
type ProposerConfig struct {
	// Self is this node's concrete peer id. Internally the proposer
	// rewrites every occurrence of Self to the SELF alias.
	Self    Peer
	History HistoryId
	Term    Term

	// LocalPosition is this node's last known (term_voted, high_seqno)
	// before this election, as read from its own log by the caller.
	LocalPosition TermPosition

	// Agents maps every peer this node currently knows about,
	// including Self, to its Agent client. The set is fixed at
	// construction; peers absent from Agents can never be contacted.
	Agents map[Peer]Agent

	CatchupStarter CatchupStarter
	RsmFactory     RsmFactory

	// DeadPeers seeds the set of peers already known to be down,
	// contributing to failed_votes/failed sync-quorum votes from the
	// start rather than waiting out a full RPC timeout against them.
	DeadPeers map[Peer]struct{}

	// OnReady is invoked once, from the actor goroutine, when the
	// proposer enters proposing (§4.3 step 5: "notify the enclosing
	// server that the proposer is ready").
	OnReady func()
}

// Proposer is the leader state machine of §4.3. All exported methods
// are non-blocking mailbox sends (or, for Stop, a blocking round trip);
// every field below is owned exclusively by the goroutine running loop()
// and must never be touched from any other goroutine.
type Proposer struct {
	localID Peer
	history HistoryId
	term    Term

	localPosition TermPosition
	agents        map[Peer]Agent
	localAgent    Agent

	catchupStarter CatchupStarter
	catchup        Catchup
	rsmFactory     RsmFactory
	onReady        func()

	opts   *proposerOptions
	logger *Logger

	state             proposerState
	terminationReason TerminationReason
	reachedProposing  bool

	peerStatus     *PeerStatusTable
	pending        *pendingQueue
	committedSeqno Seqno
	highSeqno      Seqno

	cfg           configState
	rsmRegistry   *RsmRegistry
	quorum        Quorum
	peers         map[Peer]struct{}
	deadPeers     map[Peer]struct{}
	beingRemoved  bool
	pendingBranch *BranchRecord

	// establish_term phase bookkeeping.
	votes       map[Peer]struct{}
	failedVotes map[Peer]struct{}

	syncRequests map[uint64]*syncRequest
	nextSyncRef  uint64

	postponedConfig []postponedConfigRequest
	pendingCas      *casRequest

	bgCancel context.CancelFunc

	appendCh      chan appendCommandsMsg
	syncQuorumCh  chan syncQuorumMsg
	getConfigCh   chan getConfigMsg
	casConfigCh   chan casConfigMsg
	stopCh        chan stopMsg
	agentEventCh  chan agentEvent
	catchupCh     chan CatchupResult
	monitorDownCh chan monitorDownMsg

	doneCh   chan TerminationReason
	closedCh chan struct{}
}

// NewProposer constructs a Proposer. Call Run to start its actor
// goroutine.
func NewProposer(cfg ProposerConfig, opts ...ProposerOption) *Proposer {
	o := applyProposerOpts(opts...)
	mbox := o.mailboxSize
	p := &Proposer{
		localID:        cfg.Self,
		history:        cfg.History,
		term:           cfg.Term,
		localPosition:  cfg.LocalPosition,
		catchupStarter: cfg.CatchupStarter,
		rsmFactory:     cfg.RsmFactory,
		onReady:        cfg.OnReady,
		opts:           o,
		state:          stateEstablishTerm,
		peerStatus:     NewPeerStatusTable(),
		pending:        newPendingQueue(),
		agents:         map[Peer]Agent{},
		deadPeers:      map[Peer]struct{}{},
		syncRequests:   map[uint64]*syncRequest{},

		appendCh:      make(chan appendCommandsMsg, mbox),
		syncQuorumCh:  make(chan syncQuorumMsg, mbox),
		getConfigCh:   make(chan getConfigMsg, mbox),
		casConfigCh:   make(chan casConfigMsg, mbox),
		stopCh:        make(chan stopMsg, 1),
		agentEventCh:  make(chan agentEvent, mbox),
		catchupCh:     make(chan CatchupResult, mbox),
		monitorDownCh: make(chan monitorDownMsg, mbox),

		doneCh:   make(chan TerminationReason, 1),
		closedCh: make(chan struct{}),
	}
	p.logger = p.opts.logger
	for id, agent := range cfg.Agents {
		if id == cfg.Self {
			p.agents[SELF] = agent
		} else {
			p.agents[id] = agent
		}
	}
	p.localAgent = p.agents[SELF]
	for dp := range cfg.DeadPeers {
		if dp == cfg.Self {
			continue
		}
		p.deadPeers[dp] = struct{}{}
	}
	return p
}

func (p *Proposer) agentFor(peer Peer) Agent {
	return p.agents[peer]
}

// Run starts the proposer's actor goroutine and returns a channel that
// receives exactly once, with the reason the proposer terminated.
func (p *Proposer) Run() <-chan TerminationReason {
	go p.loop()
	return p.doneCh
}

func (p *Proposer) loop() {
	defer p.shutdown()
	if p.enterEstablishTerm() {
		for p.state != stateStopped {
			switch p.state {
			case stateEstablishTerm:
				p.runEstablishTerm()
			case stateProposing:
				p.runProposing()
			}
		}
	}
	close(p.closedCh)
	p.doneCh <- p.terminationReason
	close(p.doneCh)
}

// enterEstablishTerm performs §4.3's establish_term entry steps 1-4;
// runEstablishTerm arms the timeout of step 5. It runs before the
// actor's select loop starts, so its blocking local agent call holds up
// no mailbox event. (The actor also calls the local agent synchronously
// later: GetLog on entry to proposing, and LocalMarkCommitted on every
// commit advance and at shutdown.)
func (p *Proposer) enterEstablishTerm() bool {
	ctx, cancel := context.WithTimeout(context.Background(), p.opts.establishTermTimeout)
	defer cancel()
	meta, err := p.localAgent.EstablishTerm(ctx, p.history, p.term, p.localPosition)
	if err != nil {
		p.logger.Warnw("failed to establish local term", p.logFields("error", err)...)
		p.terminate(ReasonEstablishTermFailed)
		return false
	}

	p.applyConfigFromMetadata(meta)
	p.quorum = EntryQuorum(p.cfg.entry, p.localID)
	p.peers = QuorumPeers(p.quorum)

	if _, ok := p.peers[SELF]; !ok {
		p.logger.Warnw("local peer is not a voter in the election quorum", p.logFields()...)
		p.terminate(ReasonNotVoter)
		return false
	}

	p.committedSeqno = meta.CommittedSeqno
	p.highSeqno = meta.HighSeqno

	p.votes = map[Peer]struct{}{}
	p.failedVotes = map[Peer]struct{}{}
	for dp := range p.deadPeers {
		p.failedVotes[dp] = struct{}{}
	}
	p.votes[SELF] = struct{}{}
	p.peerStatus.Init(SELF, p.term, meta)

	position := TermPosition{TermVoted: meta.TermVoted, HighSeqno: meta.HighSeqno}
	for peer := range p.peers {
		if peer == SELF {
			continue
		}
		if _, known := p.agents[peer]; !known {
			p.failedVotes[peer] = struct{}{}
			continue
		}
		p.dispatchEstablishTerm(peer, position)
	}

	p.logger.Infow("entered establish_term", p.logFields("quorum_peers", peerSetSlice(p.peers))...)
	return p.checkEstablishTransition()
}

func (p *Proposer) dispatchEstablishTerm(peer Peer, position TermPosition) {
	ref, _ := p.peerStatus.MarkRequested(peer)
	agent := p.agentFor(peer)
	history, term := p.history, p.term
	timeout := p.opts.establishTermTimeout
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		meta, err := agent.EstablishTerm(ctx, history, term, position)
		p.agentEventCh <- agentEvent{purpose: purposeVote, peer: peer, ref: ref, meta: meta, err: err}
	}()
}

func (p *Proposer) runEstablishTerm() {
	timer := time.NewTimer(p.opts.establishTermTimeout)
	defer timer.Stop()
	for p.state == stateEstablishTerm {
		select {
		case msg := <-p.appendCh:
			p.replyAllNotLeader(msg.cmds)
		case msg := <-p.syncQuorumCh:
			msg.replyTo <- SyncQuorumResult{Err: ErrNotLeader}
		case msg := <-p.getConfigCh:
			msg.replyTo <- GetConfigResult{Err: ErrNotLeader}
		case msg := <-p.casConfigCh:
			msg.replyTo <- CasResult{Err: ErrNotLeader}
		case msg := <-p.stopCh:
			p.terminate(ReasonStopped)
			close(msg.done)
			return
		case ev := <-p.agentEventCh:
			p.handleEstablishTermEvent(ev)
		case md := <-p.monitorDownCh:
			p.handleEstablishTermMonitorDown(md.peer)
		case <-timer.C:
			p.logger.Warnw("establish_term timed out", p.logFields()...)
			p.terminate(ReasonEstablishTimeout)
			return
		}
	}
}

func (p *Proposer) handleEstablishTermEvent(ev agentEvent) {
	if ev.peer != SELF && !p.peerStatus.IsCurrentRef(ev.peer, ev.ref) {
		return
	}
	if ev.err != nil {
		outcome, reason := handleCommonError(ev.err, p.term)
		if outcome == outcomeFatal {
			p.terminate(reason)
			return
		}
		p.failedVotes[ev.peer] = struct{}{}
		p.checkEstablishTransition()
		return
	}
	p.votes[ev.peer] = struct{}{}
	delete(p.failedVotes, ev.peer)
	if p.committedSeqno < ev.meta.CommittedSeqno {
		p.committedSeqno = ev.meta.CommittedSeqno
	}
	p.peerStatus.Init(ev.peer, p.term, ev.meta)
	p.checkEstablishTransition()
}

func (p *Proposer) handleEstablishTermMonitorDown(peer Peer) {
	if peer == SELF {
		p.terminate(ReasonLocalAgentDied)
		return
	}
	if _, voted := p.votes[peer]; voted {
		return
	}
	p.peerStatus.Remove(peer)
	p.failedVotes[peer] = struct{}{}
	p.checkEstablishTransition()
}

// checkEstablishTransition implements the transition rule evaluated on
// every vote: win, keep waiting, or fail. Returns false if the proposer
// has stopped, true if it is still running (waiting for votes, or
// proposing after a win).
func (p *Proposer) checkEstablishTransition() bool {
	if HaveQuorum(p.votes, p.quorum) {
		p.enterProposing()
		return p.state != stateStopped
	}
	if !IsFeasible(p.peers, p.failedVotes, p.quorum) {
		p.logger.Warnw("election quorum infeasible", p.logFields("failed_votes", peerSetSlice(p.failedVotes))...)
		p.terminate(ReasonNoQuorum)
		return false
	}
	return true
}

func (p *Proposer) replyAllNotLeader(cmds []CommandRequest) {
	for _, c := range cmds {
		c.ReplyTo <- AppendResult{Err: ErrNotLeader}
	}
}

func (p *Proposer) applyConfigFromMetadata(meta PeerMetadata) {
	entry := LogEntry{
		HistoryId:  p.history,
		Term:       meta.TermVoted,
		Seqno:      meta.ConfigRevision,
		Kind:       meta.ConfigKind,
		Config:     meta.Config,
		Transition: meta.Transition,
	}
	p.cfg = configState{
		entry:     entry,
		revision:  meta.ConfigRevision,
		committed: meta.ConfigRevision <= meta.CommittedSeqno,
	}
	p.rsmRegistry = BuildRsmRegistry(entry.EffectiveConfig(), p.rsmFactory)
	p.pendingBranch = meta.PendingBranch
}

func (p *Proposer) terminate(reason TerminationReason) {
	if p.state == stateStopped {
		return
	}
	p.state = stateStopped
	p.terminationReason = reason
}

// shutdown implements the shutdown sequence of §5: it always runs,
// exactly once, as loop's deferred cleanup.
func (p *Proposer) shutdown() {
	p.logger.Infow("proposer shutting down", p.logFields("reason", p.terminationReason)...)

	for ref, req := range p.syncRequests {
		req.reply(ErrNotLeader)
		delete(p.syncRequests, ref)
	}
	if p.pendingCas != nil {
		p.pendingCas.replyTo <- CasResult{Err: ErrLeaderLost}
		p.pendingCas = nil
	}
	for _, pr := range p.postponedConfig {
		if pr.cas != nil {
			pr.cas.replyTo <- CasResult{Err: ErrLeaderLost}
		}
		if pr.get != nil {
			pr.get.replyTo <- GetConfigResult{Err: ErrLeaderLost}
		}
	}
	p.postponedConfig = nil

	if p.reachedProposing && p.localAgent != nil {
		ctx, cancel := context.WithTimeout(context.Background(), p.opts.stopTimeout)
		if err := p.localAgent.LocalMarkCommitted(ctx, p.history, p.term, p.committedSeqno); err != nil {
			p.logger.Warnw("best-effort local_mark_committed failed during shutdown", p.logFields("error", err)...)
		}
		cancel()
	}
	if p.catchup != nil {
		p.catchup.Stop()
	}
	if p.bgCancel != nil {
		p.bgCancel()
	}
}
