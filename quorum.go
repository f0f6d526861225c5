package chronicle

// Quorum is a boolean expression over sets of peers. The zero value is
// not a valid expression; construct one of AllOf, MajorityOf, or
// JointOf.
//
// A proposer always wraps its effective quorum as JointOf(AllOf(SELF),
// inner) so local durability is mandatory even while the local peer is
// being removed from the voter set.
type Quorum struct {
	all      map[Peer]struct{}
	majority map[Peer]struct{}
	joint    [2]*Quorum
	isJoint  bool
}

// AllOf builds a quorum requiring every peer in peers to vote.
func AllOf(peers ...Peer) Quorum {
	set := make(map[Peer]struct{}, len(peers))
	for _, p := range peers {
		set[p] = struct{}{}
	}
	return Quorum{all: set}
}

// MajorityOf builds a quorum requiring a strict majority of peers.
func MajorityOf(peers map[Peer]struct{}) Quorum {
	set := make(map[Peer]struct{}, len(peers))
	for p := range peers {
		set[p] = struct{}{}
	}
	return Quorum{majority: set}
}

// JointOf builds a quorum requiring both q1 and q2 to hold.
func JointOf(q1, q2 Quorum) Quorum {
	return Quorum{isJoint: true, joint: [2]*Quorum{&q1, &q2}}
}

// WithSelfMandatory wraps q so that SELF's vote is always required,
// regardless of whether SELF appears in q's own peer sets. This is the
// "ALWAYS wraps" rule of §3: local durability is non-negotiable.
func WithSelfMandatory(q Quorum) Quorum {
	return JointOf(AllOf(SELF), q)
}

// HaveQuorum reports whether votes satisfies q.
func HaveQuorum(votes map[Peer]struct{}, q Quorum) bool {
	switch {
	case q.isJoint:
		return HaveQuorum(votes, *q.joint[0]) && HaveQuorum(votes, *q.joint[1])
	case q.majority != nil:
		n := 0
		for p := range q.majority {
			if _, ok := votes[p]; ok {
				n++
			}
		}
		return n*2 > len(q.majority)
	default:
		for p := range q.all {
			if _, ok := votes[p]; !ok {
				return false
			}
		}
		return true
	}
}

// IsFeasible reports whether, after removing failed, some subset of the
// remaining peers can still satisfy q. peers is the universe of peers
// currently known to the caller (normally QuorumPeers(q)).
func IsFeasible(peers map[Peer]struct{}, failed map[Peer]struct{}, q Quorum) bool {
	remaining := make(map[Peer]struct{}, len(peers))
	for p := range peers {
		if _, isFailed := failed[p]; !isFailed {
			remaining[p] = struct{}{}
		}
	}
	return haveQuorumOverUniverse(remaining, q)
}

// haveQuorumOverUniverse reports whether the full remaining set could,
// in the best case, satisfy q (i.e. HaveQuorum(remaining, q)). Because
// All/Majority are monotone in their vote set, feasibility against the
// remaining universe reduces to evaluating HaveQuorum directly against
// it.
func haveQuorumOverUniverse(remaining map[Peer]struct{}, q Quorum) bool {
	return HaveQuorum(remaining, q)
}

// QuorumPeers returns the union of every peer set appearing in q.
func QuorumPeers(q Quorum) map[Peer]struct{} {
	out := map[Peer]struct{}{}
	collectQuorumPeers(q, out)
	return out
}

func collectQuorumPeers(q Quorum, out map[Peer]struct{}) {
	if q.isJoint {
		collectQuorumPeers(*q.joint[0], out)
		collectQuorumPeers(*q.joint[1], out)
		return
	}
	set := q.all
	if set == nil {
		set = q.majority
	}
	for p := range set {
		out[p] = struct{}{}
	}
}

// Translate rewrites every occurrence of self within q to SELF, so the
// rest of the proposer never needs to compare against the concrete
// local peer id.
func Translate(q Quorum, self Peer) Quorum {
	switch {
	case q.isJoint:
		a := Translate(*q.joint[0], self)
		b := Translate(*q.joint[1], self)
		return JointOf(a, b)
	case q.majority != nil:
		return MajorityOf(translatePeerSet(q.majority, self))
	default:
		translated := translatePeerSet(q.all, self)
		return Quorum{all: translated}
	}
}

func translatePeerSet(set map[Peer]struct{}, self Peer) map[Peer]struct{} {
	out := make(map[Peer]struct{}, len(set))
	for p := range set {
		if p == self {
			out[SELF] = struct{}{}
		} else {
			out[p] = struct{}{}
		}
	}
	return out
}

// ConfigQuorum derives the election/replication quorum expression for a
// Config: a simple majority of its voters, wrapped so SELF is always
// required.
func ConfigQuorum(c Config, self Peer) Quorum {
	return WithSelfMandatory(Translate(MajorityOf(c.Voters), self))
}

// TransitionQuorum derives the joint quorum of a Transition: majority of
// Current AND majority of Future, both wrapped so SELF is required.
func TransitionQuorum(t Transition, self Peer) Quorum {
	return WithSelfMandatory(Translate(JointOf(MajorityOf(t.Current.Voters), MajorityOf(t.Future.Voters)), self))
}

// QuorumFromMetadata derives the quorum in force for a peer metadata
// record, dispatching on whether it reports a stable Config or a joint
// Transition. It gives the same quorum as EntryQuorum applied to the
// entry applyConfigFromMetadata builds from m; enterEstablishTerm uses
// the EntryQuorum form.
func QuorumFromMetadata(m PeerMetadata, self Peer) Quorum {
	if m.ConfigKind == EntryTransition {
		return TransitionQuorum(m.Transition, self)
	}
	return ConfigQuorum(m.Config, self)
}

// EntryQuorum derives the quorum in force for a config-bearing entry,
// dispatching on whether it is a stable Config or a joint Transition.
func EntryQuorum(e LogEntry, self Peer) Quorum {
	if e.Kind == EntryTransition {
		return TransitionQuorum(e.Transition, self)
	}
	return ConfigQuorum(e.Config, self)
}
