package chronicle

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPeerStatusInitSameTermTrustsReportedPositions(t *testing.T) {
	table := NewPeerStatusTable()
	ourTerm := Term{Number: 5, Tiebreaker: "self"}
	meta := PeerMetadata{TermVoted: ourTerm, HighSeqno: 10, CommittedSeqno: 7}
	st := table.Init("peer-a", ourTerm, meta)
	require.Equal(t, Seqno(10), st.SentSeqno)
	require.Equal(t, Seqno(10), st.AckedSeqno)
	require.Equal(t, Seqno(7), st.SentCommitSeqno)
	require.False(t, st.NeedsSync)
}

func TestPeerStatusInitDifferentTermAnchorsToCommitted(t *testing.T) {
	table := NewPeerStatusTable()
	ourTerm := Term{Number: 5, Tiebreaker: "self"}
	meta := PeerMetadata{TermVoted: Term{Number: 4, Tiebreaker: "other"}, HighSeqno: 10, CommittedSeqno: 7}
	st := table.Init("peer-a", ourTerm, meta)
	require.Equal(t, Seqno(7), st.SentSeqno)
	require.Equal(t, Seqno(7), st.AckedSeqno)
	require.True(t, st.NeedsSync, "peer has an uncommitted tail past its committed_seqno")
}

func TestPeerStatusInitDifferentTermNoUncommittedTail(t *testing.T) {
	table := NewPeerStatusTable()
	ourTerm := Term{Number: 5, Tiebreaker: "self"}
	meta := PeerMetadata{TermVoted: Term{Number: 4, Tiebreaker: "other"}, HighSeqno: 7, CommittedSeqno: 7}
	st := table.Init("peer-a", ourTerm, meta)
	require.False(t, st.NeedsSync)
}

func TestPeerStatusSetAckedRejectsRegression(t *testing.T) {
	table := NewPeerStatusTable()
	table.Init("peer-a", Term{Number: 1}, PeerMetadata{})
	table.SetSent("peer-a", 10, 5)
	table.SetAcked("peer-a", 10, 5)
	require.Panics(t, func() { table.SetAcked("peer-a", 9, 5) })
}

func TestPeerStatusSetAckedRejectsExceedingSent(t *testing.T) {
	table := NewPeerStatusTable()
	table.Init("peer-a", Term{Number: 1}, PeerMetadata{})
	table.SetSent("peer-a", 10, 5)
	require.Panics(t, func() { table.SetAcked("peer-a", 11, 5) })
}

func TestPeerStatusMarkRequestedSuppressesDuplicates(t *testing.T) {
	table := NewPeerStatusTable()
	ref1, already1 := table.MarkRequested("peer-a")
	require.False(t, already1)
	ref2, already2 := table.MarkRequested("peer-a")
	require.True(t, already2)
	require.Equal(t, ref1, ref2)
}

func TestPeerStatusIsCurrentRefRejectsStale(t *testing.T) {
	table := NewPeerStatusTable()
	table.Init("peer-a", Term{Number: 1}, PeerMetadata{})
	ref := table.NextMonRef("peer-a")
	require.True(t, table.IsCurrentRef("peer-a", ref))
	_ = table.NextMonRef("peer-a")
	require.False(t, table.IsCurrentRef("peer-a", ref))
}

func TestPeerStatusAckedSeqnosSkipsPlaceholders(t *testing.T) {
	table := NewPeerStatusTable()
	table.MarkRequested("peer-a")
	table.Init("peer-b", Term{Number: 1}, PeerMetadata{HighSeqno: 3, TermVoted: Term{Number: 1}})
	acked := table.AckedSeqnos()
	require.NotContains(t, acked, Peer("peer-a"))
	require.Contains(t, acked, Peer("peer-b"))
}
