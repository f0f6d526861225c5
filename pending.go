package chronicle

// pendingQueue is the FIFO of log entries the proposer has assembled
// (or preloaded from the local agent) but not yet observed committed
// locally. It is a plain slice: DropCommitted removes entries from the
// front and TruncateAfter removes them from the back, each in a single
// O(n) pass, so no real deque is needed.
type pendingQueue struct {
	entries []LogEntry
}

func newPendingQueue() *pendingQueue {
	return &pendingQueue{}
}

// Push appends e to the back of the queue. Callers are responsible for
// maintaining seqno contiguity; the queue itself does not validate it.
func (q *pendingQueue) Push(e LogEntry) {
	q.entries = append(q.entries, e)
}

// DropCommitted removes every entry with Seqno <= committed, the
// operation performed once the local agent's committed seqno catches
// up to them.
func (q *pendingQueue) DropCommitted(committed Seqno) {
	i := 0
	for i < len(q.entries) && q.entries[i].Seqno <= committed {
		i++
	}
	q.entries = q.entries[i:]
}

// TruncateAfter keeps only entries with Seqno <= boundary, discarding
// any uncommitted tail. Used by branch resolution.
func (q *pendingQueue) TruncateAfter(boundary Seqno) {
	i := 0
	for i < len(q.entries) && q.entries[i].Seqno <= boundary {
		i++
	}
	q.entries = q.entries[:i]
}

// Entries returns the queue contents in seqno order. The returned slice
// must not be retained past the next mutating call.
func (q *pendingQueue) Entries() []LogEntry {
	return q.entries
}

// From returns the suffix of entries with Seqno >= from.
func (q *pendingQueue) From(from Seqno) []LogEntry {
	i := 0
	for i < len(q.entries) && q.entries[i].Seqno < from {
		i++
	}
	return q.entries[i:]
}

func (q *pendingQueue) Len() int {
	return len(q.entries)
}
