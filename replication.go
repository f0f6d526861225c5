package chronicle

import (
	"context"
	"sort"
	"time"
)

// enterProposing implements §4.3's proposing entry steps: start the
// catchup engine, preload the pending queue, resolve any pending
// branch, re-propose a stalled transition's future leg, notify the
// caller, and begin replicating.
func (p *Proposer) enterProposing() {
	ctx, cancel := context.WithCancel(context.Background())
	p.bgCancel = cancel

	catchup, err := p.catchupStarter.Start(ctx, p.history, p.term)
	if err != nil {
		p.logger.Warnw("failed to start catchup engine", p.logFields("error", err)...)
		p.terminate(ReasonCatchupFailed)
		return
	}
	p.catchup = catchup

	entries, err := p.localAgent.GetLog(ctx, p.history, p.term, p.committedSeqno+1, p.highSeqno)
	if err != nil {
		p.logger.Warnw("failed to preload pending entries", p.logFields("error", err)...)
		p.terminate(ReasonCatchupFailed)
		return
	}
	for _, e := range entries {
		p.pending.Push(e)
	}

	p.state = stateProposing
	p.reachedProposing = true

	if p.pendingBranch != nil {
		branch := *p.pendingBranch
		p.pendingBranch = nil
		p.resolveBranch(branch)
	}

	if p.cfg.entry.Kind == EntryTransition && p.cfg.committed {
		p.proposeConfig(p.cfg.entry.Transition.Future)
	}

	p.logger.Infow("entered proposing", p.logFields("committed_seqno", p.committedSeqno, "high_seqno", p.highSeqno)...)

	if p.onReady != nil {
		p.onReady()
	}
	p.replicate()
}

func (p *Proposer) runProposing() {
	ticker := time.NewTicker(p.opts.checkPeersInterval)
	defer ticker.Stop()
	for p.state == stateProposing {
		select {
		case msg := <-p.appendCh:
			p.handleAppendCommands(msg.cmds)
		case msg := <-p.syncQuorumCh:
			p.handleSyncQuorum(msg.replyTo)
		case msg := <-p.getConfigCh:
			p.handleGetConfig(msg.replyTo)
		case msg := <-p.casConfigCh:
			p.handleCasConfigRequest(msg.replyTo, msg.newConfig, msg.expectedRevision)
		case msg := <-p.stopCh:
			p.terminate(ReasonStopped)
			close(msg.done)
			return
		case ev := <-p.agentEventCh:
			p.handleProposingEvent(ev)
		case res := <-p.catchupCh:
			p.handleCatchupResult(res)
		case md := <-p.monitorDownCh:
			p.handleProposingMonitorDown(md.peer)
		case <-ticker.C:
			p.checkPeers()
		}
	}
}

func (p *Proposer) handleProposingEvent(ev agentEvent) {
	switch ev.purpose {
	case purposeCheckPeers:
		p.handleCheckPeersEvent(ev)
	case purposeSync:
		p.handleSyncQuorumEvent(ev)
	case purposeAppend:
		p.handleAppendAck(ev)
	}
}

func (p *Proposer) handleProposingMonitorDown(peer Peer) {
	if peer == SELF {
		p.terminate(ReasonLocalAgentDied)
		return
	}
	p.peerStatus.Remove(peer)
	if p.catchup != nil {
		p.catchup.CancelCatchup(peer)
	}
}

// --- command admission --------------------------------------------------

func (p *Proposer) handleAppendCommands(cmds []CommandRequest) {
	if len(cmds) == 0 {
		return
	}
	for _, c := range cmds {
		if p.beingRemoved {
			c.ReplyTo <- AppendResult{Err: ErrNotLeader}
			continue
		}
		if _, ok := p.rsmRegistry.Lookup(c.RsmName); !ok {
			c.ReplyTo <- AppendResult{Err: ErrUnknownRsm}
			continue
		}
		p.highSeqno++
		entry := LogEntry{
			HistoryId: p.history,
			Term:      p.term,
			Seqno:     p.highSeqno,
			Kind:      EntryRsmCommand,
			Command:   RsmCommand{RsmName: c.RsmName, Payload: c.Payload},
		}
		p.pending.Push(entry)
		c.ReplyTo <- AppendResult{Seqno: p.highSeqno}
	}
	p.replicate()
}

// --- configuration proposing --------------------------------------------

func (p *Proposer) currentConfig() Config {
	return p.cfg.entry.EffectiveConfig()
}

func (p *Proposer) proposeConfig(cfg Config) {
	p.highSeqno++
	entry := LogEntry{HistoryId: p.history, Term: p.term, Seqno: p.highSeqno, Kind: EntryConfig, Config: cfg}
	p.pending.Push(entry)
	p.applyConfigEntry(entry)
	p.replicate()
}

func (p *Proposer) proposeTransition(t Transition) {
	p.highSeqno++
	entry := LogEntry{HistoryId: p.history, Term: p.term, Seqno: p.highSeqno, Kind: EntryTransition, Transition: t}
	p.pending.Push(entry)
	p.applyConfigEntry(entry)
	p.replicate()
}

// applyConfigEntry installs entry as the proposer's effective (possibly
// uncommitted) configuration: the replication quorum takes effect
// immediately on append, matching standard joint-consensus semantics;
// the rsm registry, being_removed and peer-status cleanup are updated
// later, only once the entry actually commits (postAppendConfigHandler).
func (p *Proposer) applyConfigEntry(entry LogEntry) {
	p.cfg = configState{entry: entry, revision: entry.Seqno, committed: false}
	p.quorum = EntryQuorum(entry, p.localID)
	p.peers = QuorumPeers(p.quorum)
	p.onConfigChanged()
}

// onConfigChanged probes any newly-visible peer and extends every
// outstanding sync-quorum request to cover it, per §4.3's rule that a
// configuration change adding voters must not strand a read barrier
// that started before they existed.
func (p *Proposer) onConfigChanged() {
	if p.state != stateProposing {
		return
	}
	for peer := range p.peers {
		if peer == SELF {
			continue
		}
		if _, known := p.agents[peer]; !known {
			continue
		}
		if _, ok := p.peerStatus.Get(peer); !ok {
			p.probePeer(peer)
		}
	}
	for _, req := range p.syncRequests {
		for peer := range p.peers {
			if peer == SELF {
				continue
			}
			p.dispatchSyncQuorum(req, peer)
		}
		p.evaluateSyncRequest(req)
	}
}

// --- check_peers / replication dispatch ----------------------------------

func (p *Proposer) checkPeers() {
	for peer := range p.peers {
		if peer == SELF {
			continue
		}
		if _, known := p.agents[peer]; !known {
			continue
		}
		if _, ok := p.peerStatus.Get(peer); ok {
			continue
		}
		p.probePeer(peer)
	}
}

func (p *Proposer) probePeer(peer Peer) {
	ref, already := p.peerStatus.MarkRequested(peer)
	if already {
		return
	}
	agent := p.agentFor(peer)
	history, term := p.history, p.term
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), DefaultEstablishTermTimeout)
		defer cancel()
		meta, err := agent.EnsureTerm(ctx, history, term)
		p.agentEventCh <- agentEvent{purpose: purposeCheckPeers, peer: peer, ref: ref, meta: meta, err: err}
	}()
}

func (p *Proposer) handleCheckPeersEvent(ev agentEvent) {
	if !p.peerStatus.IsCurrentRef(ev.peer, ev.ref) {
		return
	}
	if ev.err != nil {
		outcome, reason := handleCommonError(ev.err, p.term)
		if outcome == outcomeFatal {
			p.terminate(reason)
			return
		}
		p.peerStatus.Remove(ev.peer)
		return
	}
	p.peerStatus.Init(ev.peer, p.term, ev.meta)
	p.replicate()
}

// replicate scans every live peer and dispatches a replication round
// to any that need one, per the condition in §4.3: needs_sync, or new
// entries past what was sent, or a committed advance past what was
// sent.
func (p *Proposer) replicate() {
	for peer := range p.peers {
		st, ok := p.peerStatus.Get(peer)
		if !ok {
			continue
		}
		if st.CatchupInProgress {
			continue
		}
		if !(st.NeedsSync || p.highSeqno > st.SentSeqno || p.committedSeqno > st.SentCommitSeqno) {
			continue
		}
		p.replicateToPeer(peer, st)
	}
}

func (p *Proposer) replicateToPeer(peer Peer, st *PeerStatus) {
	from := st.SentSeqno + 1
	if from <= p.committedSeqno {
		// The entries this peer still needs have already been dropped
		// from the in-memory pending queue; it must be bulk-caught-up.
		p.startCatchup(peer, st)
		return
	}
	entries := p.pending.From(from)

	newHigh := p.highSeqno
	newCommit := p.committedSeqno
	p.peerStatus.SetSent(peer, newHigh, newCommit)
	ref := p.peerStatus.NextMonRef(peer)

	agent := p.agentFor(peer)
	history, term := p.history, p.term
	prevSeqno := from - 1
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), p.opts.checkPeersInterval*4)
		defer cancel()
		high, committed, err := agent.Append(ctx, history, term, newCommit, prevSeqno, entries)
		p.agentEventCh <- agentEvent{purpose: purposeAppend, peer: peer, ref: ref, ackedHigh: high, ackedCommit: committed, err: err}
	}()
}

func (p *Proposer) startCatchup(peer Peer, st *PeerStatus) {
	if p.catchup == nil {
		return
	}
	st.CatchupInProgress = true
	ref := p.peerStatus.NextMonRef(peer)
	from := st.SentSeqno + 1
	if err := p.catchup.CatchupPeer(context.Background(), ref, peer, from); err != nil {
		p.logger.Warnw("failed to start catchup", p.logFields("peer", peer, "error", err)...)
		st.CatchupInProgress = false
		// Retried the next time replicate() runs; no backoff
		// (DESIGN.md, Open Question (b)).
	}
}

func (p *Proposer) handleCatchupResult(res CatchupResult) {
	st, ok := p.peerStatus.Get(res.Peer)
	if !ok || !p.peerStatus.IsCurrentRef(res.Peer, res.Opaque) {
		return
	}
	st.CatchupInProgress = false
	if res.Err != nil {
		p.logger.Warnw("catchup failed", p.logFields("peer", res.Peer, "error", res.Err)...)
		return
	}
	st.SentSeqno = res.NewSentSeqno
	st.AckedSeqno = res.NewSentSeqno
	st.SentCommitSeqno = res.NewSentSeqno
	st.AckedCommitSeqno = res.NewSentSeqno
	st.NeedsSync = false
	p.replicate()
}

// --- append acks and commit derivation ------------------------------------

func (p *Proposer) handleAppendAck(ev agentEvent) {
	if !p.peerStatus.IsCurrentRef(ev.peer, ev.ref) {
		return
	}
	if ev.err != nil {
		outcome, reason := handleCommonError(ev.err, p.term)
		if outcome == outcomeFatal {
			p.terminate(reason)
			return
		}
		// Per-peer failure: drop the status row and let check_peers
		// re-probe on its next tick.
		p.peerStatus.Remove(ev.peer)
		return
	}
	p.peerStatus.SetAcked(ev.peer, ev.ackedHigh, ev.ackedCommit)
	if ev.peer == SELF {
		p.pending.DropCommitted(ev.ackedCommit)
	}
	p.recomputeCommit()
}

// recomputeCommit walks acked seqnos from highest to lowest, looking
// for the largest value whose set of "acked at least this far" peers
// satisfies the current quorum, per §4.3's commit-derivation rule.
func (p *Proposer) recomputeCommit() {
	acked := p.peerStatus.AckedSeqnos()
	vals := make([]Seqno, 0, len(acked))
	for _, s := range acked {
		vals = append(vals, s)
	}
	sort.Slice(vals, func(i, j int) bool { return vals[i] > vals[j] })

	newCommitted := p.committedSeqno
	for _, s := range vals {
		if s <= newCommitted {
			break
		}
		votes := map[Peer]struct{}{}
		for peer, as := range acked {
			if as >= s {
				votes[peer] = struct{}{}
			}
		}
		if HaveQuorum(votes, p.quorum) {
			newCommitted = s
			break
		}
	}
	if newCommitted > p.committedSeqno {
		p.advanceCommit(newCommitted)
	}
}

func (p *Proposer) advanceCommit(newCommitted Seqno) {
	old := p.committedSeqno
	p.committedSeqno = newCommitted
	p.logger.Infow("commit advanced", p.logFields("old_committed", old, "new_committed", newCommitted)...)

	ctx, cancel := context.WithTimeout(context.Background(), p.opts.checkPeersInterval)
	err := p.localAgent.LocalMarkCommitted(ctx, p.history, p.term, newCommitted)
	cancel()
	if err != nil {
		p.logger.Warnw("local_mark_committed failed", p.logFields("error", err)...)
	}

	if p.cfg.entry.Seqno != 0 && !p.cfg.committed && p.cfg.revision <= newCommitted {
		p.cfg.committed = true
		p.postAppendConfigHandler()
	}
	p.replicate()
}

// postAppendConfigHandler implements §4.3's post-commit config handler:
// drop stale peer-status rows, rebuild the rsm registry from the
// committed entry, satisfy an awaited cas_config reply
// (only once the *stable* config following a transition commits —
// never the transition leg itself), chain a committed transition into
// its future leg, check for self-removal, and replay postponed
// requests.
func (p *Proposer) postAppendConfigHandler() {
	entry := p.cfg.entry

	newPeers := QuorumPeers(p.quorum)
	for peer := range p.peerStatus.Peers() {
		if peer == SELF {
			continue
		}
		if _, stillIn := newPeers[peer]; !stillIn {
			p.peerStatus.Remove(peer)
			if p.catchup != nil {
				p.catchup.CancelCatchup(peer)
			}
		}
	}
	p.peers = newPeers
	p.rsmRegistry = BuildRsmRegistry(entry.EffectiveConfig(), p.rsmFactory)

	if entry.Kind != EntryTransition && p.pendingCas != nil {
		p.pendingCas.replyTo <- CasResult{Revision: entry.Seqno}
		p.pendingCas = nil
	}

	if entry.Kind == EntryTransition {
		p.proposeConfig(entry.Transition.Future)
	}

	if !p.selfStillVoter(entry) {
		p.beingRemoved = true
		p.terminate(ReasonLeaderRemoved)
		return
	}

	p.replayPostponedConfig()
}

// selfStillVoter reports whether the local peer is still a voter under
// entry's effective configuration. p.peers always contains SELF (every
// quorum is wrapped by WithSelfMandatory), so membership in p.peers
// cannot be used to detect self-removal; this instead translates the
// entry's own voter set the same way EntryQuorum does and asks whether
// SELF shows up in the translated result.
func (p *Proposer) selfStillVoter(entry LogEntry) bool {
	translated := Translate(MajorityOf(entry.EffectiveConfig().Voters), p.localID)
	_, ok := QuorumPeers(translated)[SELF]
	return ok
}

func (p *Proposer) replayPostponedConfig() {
	postponed := p.postponedConfig
	p.postponedConfig = nil
	for _, pr := range postponed {
		if pr.get != nil {
			p.handleGetConfig(pr.get.replyTo)
		}
		if pr.cas != nil {
			p.handleCasConfigRequest(pr.cas.replyTo, pr.cas.newConfig, pr.cas.expectedRevision)
		}
	}
}
