package chronicle

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func threeNodeConfig() Config {
	return Config{
		Voters:        map[Peer]struct{}{"node1": {}, "node2": {}, "node3": {}},
		StateMachines: map[string]RsmConfig{"kv": {Name: "kv"}},
	}
}

// startProposer wires a 3-voter cluster of fakeAgents, runs a Proposer
// for node1, and blocks (via ready) until it reaches proposing.
func startProposer(t *testing.T) (*Proposer, map[Peer]*fakeAgent, <-chan TerminationReason) {
	t.Helper()
	cfg := threeNodeConfig()

	a1 := newFakeAgent(cfg)
	a2 := newFakeAgent(cfg)
	a3 := newFakeAgent(cfg)
	agents := map[Peer]*fakeAgent{"node1": a1, "node2": a2, "node3": a3}

	starter := &fakeCatchupStarter{source: a1, peers: map[Peer]*fakeAgent{"node2": a2, "node3": a3}}

	ready := make(chan struct{})
	p := NewProposer(ProposerConfig{
		Self:    "node1",
		History: "h1",
		Term:    Term{Number: 1, Tiebreaker: "node1"},
		Agents: map[Peer]Agent{
			"node1": a1,
			"node2": a2,
			"node3": a3,
		},
		CatchupStarter: starter,
		RsmFactory:     anyRsmFactory,
		OnReady:        func() { close(ready) },
	}, WithEstablishTermTimeout(2*time.Second), WithCheckPeersInterval(50*time.Millisecond))

	starter.mu.Lock()
	starter.proposer = p
	starter.mu.Unlock()

	done := p.Run()

	select {
	case <-ready:
	case <-time.After(2 * time.Second):
		t.Fatal("proposer never became ready")
	}

	return p, agents, done
}

func TestProposerElectsAndCommits(t *testing.T) {
	p, agents, _ := startProposer(t)
	defer p.Stop()

	replyTo := make(chan AppendResult, 1)
	p.AppendCommands([]CommandRequest{{ReplyTo: replyTo, RsmName: "kv", Payload: []byte("set:a:1")}})

	var res AppendResult
	select {
	case res = <-replyTo:
	case <-time.After(2 * time.Second):
		t.Fatal("append_commands never replied")
	}
	require.NoError(t, res.Err)
	require.Equal(t, Seqno(1), res.Seqno)

	require.Eventually(t, func() bool {
		return agents["node2"].committed() >= 1 && agents["node3"].committed() >= 1
	}, 2*time.Second, 10*time.Millisecond, "entry should replicate and commit across the quorum")
}

func TestProposerRejectsUnknownRsm(t *testing.T) {
	p, _, _ := startProposer(t)
	defer p.Stop()

	replyTo := make(chan AppendResult, 1)
	p.AppendCommands([]CommandRequest{{ReplyTo: replyTo, RsmName: "nope", Payload: nil}})

	res := <-replyTo
	require.ErrorIs(t, res.Err, ErrUnknownRsm)
}

func TestProposerSyncQuorum(t *testing.T) {
	p, _, _ := startProposer(t)
	defer p.Stop()

	replyTo := make(chan SyncQuorumResult, 1)
	p.SyncQuorum(replyTo)

	select {
	case res := <-replyTo:
		require.NoError(t, res.Err)
	case <-time.After(2 * time.Second):
		t.Fatal("sync_quorum never replied")
	}
}

func TestProposerGetConfig(t *testing.T) {
	p, _, _ := startProposer(t)
	defer p.Stop()

	replyTo := make(chan GetConfigResult, 1)
	p.GetConfig(replyTo)

	select {
	case res := <-replyTo:
		require.NoError(t, res.Err)
		require.Contains(t, res.Config.Voters, Peer("node1"))
		require.Contains(t, res.Config.Voters, Peer("node2"))
		require.Contains(t, res.Config.Voters, Peer("node3"))
	case <-time.After(2 * time.Second):
		t.Fatal("get_config never replied")
	}
}

func TestProposerNoQuorumWhenPeersDead(t *testing.T) {
	cfg := threeNodeConfig()
	a1 := newFakeAgent(cfg)
	a2 := newFakeAgent(cfg)
	a3 := newFakeAgent(cfg)

	starter := &fakeCatchupStarter{source: a1, peers: map[Peer]*fakeAgent{"node2": a2, "node3": a3}}

	p := NewProposer(ProposerConfig{
		Self:    "node1",
		History: "h1",
		Term:    Term{Number: 1, Tiebreaker: "node1"},
		Agents: map[Peer]Agent{
			"node1": a1,
			"node2": a2,
			"node3": a3,
		},
		CatchupStarter: starter,
		RsmFactory:     anyRsmFactory,
		DeadPeers:      map[Peer]struct{}{"node2": {}, "node3": {}},
	}, WithEstablishTermTimeout(500*time.Millisecond))

	starter.mu.Lock()
	starter.proposer = p
	starter.mu.Unlock()

	done := p.Run()
	select {
	case reason := <-done:
		require.Equal(t, ReasonNoQuorum, reason)
	case <-time.After(2 * time.Second):
		t.Fatal("proposer should have terminated with no_quorum")
	}
}

func TestProposerStopIsIdempotentWithTermination(t *testing.T) {
	p, _, done := startProposer(t)
	p.Stop()
	select {
	case reason := <-done:
		require.Equal(t, ReasonStopped, reason)
	case <-time.After(2 * time.Second):
		t.Fatal("proposer never terminated after Stop")
	}
	// A second Stop after termination must not block.
	p.Stop()
}

func TestProposerCasConfigRemovesLocalLeader(t *testing.T) {
	p, _, done := startProposer(t)
	defer p.Stop()

	newCfg := threeNodeConfig()
	newCfg.Voters = map[Peer]struct{}{"node2": {}, "node3": {}}

	replyTo := make(chan CasResult, 1)
	p.CasConfig(replyTo, newCfg, 0)

	select {
	case res := <-replyTo:
		require.NoError(t, res.Err)
	case <-time.After(3 * time.Second):
		t.Fatal("cas_config never replied")
	}

	select {
	case reason := <-done:
		require.Equal(t, ReasonLeaderRemoved, reason, "self-removal must terminate the proposer, not leave it running as a non-voter")
	case <-time.After(2 * time.Second):
		t.Fatal("proposer should have terminated after removing itself from the voter set")
	}

	// Once removed, neither in-flight nor new commands are admitted.
	replyTo2 := make(chan AppendResult, 1)
	p.AppendCommands([]CommandRequest{{ReplyTo: replyTo2, RsmName: "kv", Payload: nil}})
	select {
	case res := <-replyTo2:
		require.Error(t, res.Err)
	case <-time.After(2 * time.Second):
		t.Fatal("append_commands after leader removal never replied")
	}
}

func TestProposerCasConfigCommitsNewVoterSet(t *testing.T) {
	p, agents, _ := startProposer(t)
	defer p.Stop()

	newCfg := threeNodeConfig()
	newCfg.Voters = map[Peer]struct{}{"node1": {}, "node2": {}}

	replyTo := make(chan CasResult, 1)
	p.CasConfig(replyTo, newCfg, 0)

	select {
	case res := <-replyTo:
		require.NoError(t, res.Err)
	case <-time.After(3 * time.Second):
		t.Fatal("cas_config never replied")
	}

	getReply := make(chan GetConfigResult, 1)
	p.GetConfig(getReply)
	got := <-getReply
	require.NoError(t, got.Err)
	require.NotContains(t, got.Config.Voters, Peer("node3"))
	_ = agents
}
