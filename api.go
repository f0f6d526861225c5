package chronicle

// AppendCommands submits a batch of commands for admission. Each
// CommandRequest's ReplyTo receives exactly one AppendResult. Safe to
// call from any goroutine.
func (p *Proposer) AppendCommands(cmds []CommandRequest) {
	select {
	case <-p.closedCh:
	default:
		select {
		case p.appendCh <- appendCommandsMsg{cmds: cmds}:
			return
		case <-p.closedCh:
		}
	}
	for _, c := range cmds {
		c.ReplyTo <- AppendResult{Err: ErrProposerClosed}
	}
}

// SyncQuorum requests a linearizable read barrier. replyTo receives
// exactly one SyncQuorumResult.
func (p *Proposer) SyncQuorum(replyTo chan<- SyncQuorumResult) {
	select {
	case <-p.closedCh:
	default:
		select {
		case p.syncQuorumCh <- syncQuorumMsg{replyTo: replyTo}:
			return
		case <-p.closedCh:
		}
	}
	replyTo <- SyncQuorumResult{Err: ErrProposerClosed}
}

// GetConfig requests the currently committed configuration. replyTo
// receives exactly one GetConfigResult.
func (p *Proposer) GetConfig(replyTo chan<- GetConfigResult) {
	select {
	case <-p.closedCh:
	default:
		select {
		case p.getConfigCh <- getConfigMsg{replyTo: replyTo}:
			return
		case <-p.closedCh:
		}
	}
	replyTo <- GetConfigResult{Err: ErrProposerClosed}
}

// CasConfig requests a compare-and-swap configuration change. replyTo
// receives exactly one CasResult. A successful change is proposed as a
// Transition followed by the stable Config it leads to, and the reply
// is delivered only once that stable Config has committed.
func (p *Proposer) CasConfig(replyTo chan<- CasResult, newConfig Config, expectedRevision Seqno) {
	select {
	case <-p.closedCh:
	default:
		select {
		case p.casConfigCh <- casConfigMsg{replyTo: replyTo, newConfig: newConfig, expectedRevision: expectedRevision}:
			return
		case <-p.closedCh:
		}
	}
	replyTo <- CasResult{Err: ErrProposerClosed}
}

// MonitorDown notifies the proposer that peer's agent connection (or,
// for SELF, the local agent process) has gone down.
func (p *Proposer) MonitorDown(peer Peer) {
	select {
	case p.monitorDownCh <- monitorDownMsg{peer: peer}:
	case <-p.closedCh:
	}
}

// CatchupDone delivers the outcome of a bulk transfer started via
// Catchup.CatchupPeer. Called by the Catchup implementation, not by
// application code.
func (p *Proposer) CatchupDone(res CatchupResult) {
	select {
	case p.catchupCh <- res:
	case <-p.closedCh:
	}
}

// Stop requests an orderly shutdown and blocks until it completes.
func (p *Proposer) Stop() {
	done := make(chan struct{})
	select {
	case p.stopCh <- stopMsg{done: done}:
		select {
		case <-done:
		case <-p.closedCh:
		}
	case <-p.closedCh:
	}
}
