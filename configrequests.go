package chronicle

import "context"

// handleSyncQuorum starts a fresh read barrier: an ensure_term round
// against every live peer, replying once a quorum of acks (or a
// provable infeasibility) is reached.
func (p *Proposer) handleSyncQuorum(replyTo chan<- SyncQuorumResult) {
	p.nextSyncRef++
	ref := p.nextSyncRef
	req := newSyncRequest(ref, replyTo, p.deadPeers)
	p.syncRequests[ref] = req

	req.addVote(SELF)
	for peer := range p.peers {
		if peer == SELF {
			continue
		}
		p.dispatchSyncQuorum(req, peer)
	}
	p.evaluateSyncRequest(req)
}

func (p *Proposer) dispatchSyncQuorum(req *syncRequest, peer Peer) {
	if _, asked := req.asked[peer]; asked {
		return
	}
	if _, known := p.agents[peer]; !known {
		req.addFailedVote(peer)
		return
	}
	req.asked[peer] = struct{}{}
	agent := p.agentFor(peer)
	history, term, ref := p.history, p.term, req.ref
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), DefaultEstablishTermTimeout)
		defer cancel()
		meta, err := agent.EnsureTerm(ctx, history, term)
		p.agentEventCh <- agentEvent{purpose: purposeSync, peer: peer, syncRef: ref, meta: meta, err: err}
	}()
}

func (p *Proposer) handleSyncQuorumEvent(ev agentEvent) {
	req, ok := p.syncRequests[ev.syncRef]
	if !ok {
		return
	}
	if ev.err != nil {
		outcome, reason := handleCommonError(ev.err, p.term)
		if outcome == outcomeFatal {
			p.terminate(reason)
			return
		}
		req.addFailedVote(ev.peer)
	} else {
		req.addVote(ev.peer)
	}
	p.evaluateSyncRequest(req)
}

func (p *Proposer) evaluateSyncRequest(req *syncRequest) {
	if HaveQuorum(req.votes, p.quorum) {
		req.reply(nil)
		delete(p.syncRequests, req.ref)
		return
	}
	if !IsFeasible(p.peers, req.failedVotes, p.quorum) {
		req.reply(ErrNoQuorum)
		delete(p.syncRequests, req.ref)
	}
}

// handleGetConfig replies immediately with the effective committed
// config, or postpones the request until the configuration settles if
// a transition is currently in flight.
func (p *Proposer) handleGetConfig(replyTo chan<- GetConfigResult) {
	if !p.cfg.committed {
		p.postponedConfig = append(p.postponedConfig, postponedConfigRequest{get: &getConfigRequest{replyTo: replyTo}})
		return
	}
	replyTo <- GetConfigResult{Config: p.cfg.entry.EffectiveConfig(), Revision: p.cfg.revision}
}

// handleCasConfigRequest implements cas_config: postponed while a
// transition is in flight, rejected on revision mismatch, otherwise
// proposed as a Transition whose reply is deferred until the
// subsequent stable config commits (postAppendConfigHandler).
func (p *Proposer) handleCasConfigRequest(replyTo chan<- CasResult, newConfig Config, expectedRevision Seqno) {
	if !p.cfg.committed {
		p.postponedConfig = append(p.postponedConfig, postponedConfigRequest{
			cas: &casRequest{replyTo: replyTo, newConfig: newConfig, expectedRevision: expectedRevision},
		})
		return
	}
	if expectedRevision != p.cfg.revision {
		replyTo <- CasResult{Revision: p.cfg.revision, Err: ErrCasFailed}
		return
	}
	current := p.cfg.entry.EffectiveConfig()
	p.pendingCas = &casRequest{replyTo: replyTo, newConfig: newConfig, expectedRevision: expectedRevision}
	p.proposeTransition(Transition{Current: current, Future: newConfig})
}
