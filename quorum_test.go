package chronicle

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func peers(ids ...Peer) map[Peer]struct{} {
	out := make(map[Peer]struct{}, len(ids))
	for _, id := range ids {
		out[id] = struct{}{}
	}
	return out
}

func TestHaveQuorumMajority(t *testing.T) {
	q := MajorityOf(peers("a", "b", "c"))
	require.False(t, HaveQuorum(peers("a"), q))
	require.True(t, HaveQuorum(peers("a", "b"), q))
	require.True(t, HaveQuorum(peers("a", "b", "c"), q))
}

func TestHaveQuorumJointRequiresBoth(t *testing.T) {
	q := JointOf(MajorityOf(peers("a", "b", "c")), MajorityOf(peers("c", "d", "e")))
	require.False(t, HaveQuorum(peers("a", "b"), q))
	require.False(t, HaveQuorum(peers("d", "e"), q))
	require.True(t, HaveQuorum(peers("a", "b", "d", "e"), q))
	require.False(t, HaveQuorum(peers("c"), q))
}

func TestWithSelfMandatory(t *testing.T) {
	q := WithSelfMandatory(MajorityOf(peers("a", "b", "c")))
	require.False(t, HaveQuorum(peers("a", "b", "c"), q), "SELF missing must fail even with full majority")
	require.True(t, HaveQuorum(peers(SELF, "a", "b"), q))
}

func TestIsFeasible(t *testing.T) {
	q := MajorityOf(peers("a", "b", "c"))
	all := peers("a", "b", "c")
	require.True(t, IsFeasible(all, peers("a"), q))
	require.False(t, IsFeasible(all, peers("a", "b"), q))
}

func TestTranslateRewritesSelf(t *testing.T) {
	q := MajorityOf(peers("node1", "node2", "node3"))
	translated := Translate(q, "node1")
	require.True(t, HaveQuorum(peers(SELF, "node2"), translated))
	require.False(t, HaveQuorum(peers("node1", "node2"), translated), "concrete self id must no longer satisfy the translated expression")
}

func TestConfigQuorumAlwaysRequiresSelf(t *testing.T) {
	cfg := Config{Voters: peers("node1", "node2", "node3")}
	q := ConfigQuorum(cfg, "node1")
	require.False(t, HaveQuorum(peers("node2", "node3"), q))
	require.True(t, HaveQuorum(peers(SELF, "node2"), q))
}

func TestTransitionQuorumRequiresBothLegs(t *testing.T) {
	tr := Transition{
		Current: Config{Voters: peers("node1", "node2", "node3")},
		Future:  Config{Voters: peers("node1", "node4", "node5")},
	}
	q := TransitionQuorum(tr, "node1")
	// node2's vote alone only satisfies Current, not Future.
	require.False(t, HaveQuorum(peers(SELF, "node2"), q))
	require.True(t, HaveQuorum(peers(SELF, "node2", "node4"), q))
}

func TestQuorumPeersUnionsJoint(t *testing.T) {
	tr := Transition{
		Current: Config{Voters: peers("a", "b")},
		Future:  Config{Voters: peers("b", "c")},
	}
	q := TransitionQuorum(tr, "a")
	got := QuorumPeers(q)
	require.Contains(t, got, SELF)
	require.Contains(t, got, Peer("b"))
	require.Contains(t, got, Peer("c"))
}
