package triage

import "container/heap"

// entry is the engine's in-memory handle for one live patient. rec is the
// last committed record; inflight marks a staged mutation whose durable
// write has not committed yet. heapIndex is -1 while the entry is out of
// the wait queue (in service, terminal, or claimed in flight).
type entry struct {
	rec       *Record
	heapIndex int
	inflight  bool
}

// waitQueue is an indexed min-heap over claimable entries, ordered by
// rankLess. heap.Fix keeps rekeys (ETA refinement) O(log n) instead of a
// full resort.
type waitQueue []*entry

func (q waitQueue) Len() int { return len(q) }

func (q waitQueue) Less(i, j int) bool { return rankLess(q[i].rec, q[j].rec) }

func (q waitQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].heapIndex = i
	q[j].heapIndex = j
}

func (q *waitQueue) Push(x interface{}) {
	e := x.(*entry)
	e.heapIndex = len(*q)
	*q = append(*q, e)
}

func (q *waitQueue) Pop() interface{} {
	old := *q
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.heapIndex = -1
	*q = old[:n-1]
	return e
}

func (q *waitQueue) push(e *entry) { heap.Push(q, e) }

// peek returns the highest-priority entry without removing it.
func (q waitQueue) peek() *entry {
	if len(q) == 0 {
		return nil
	}
	return q[0]
}

// popMin removes and returns the highest-priority entry, or nil when empty.
func (q *waitQueue) popMin() *entry {
	if q.Len() == 0 {
		return nil
	}
	return heap.Pop(q).(*entry)
}

// remove takes a specific entry out of the queue (targeted claim, cancel).
func (q *waitQueue) remove(e *entry) {
	if e.heapIndex >= 0 {
		heap.Remove(q, e.heapIndex)
	}
}

// fix restores heap order after an entry's rank inputs changed.
func (q *waitQueue) fix(e *entry) {
	if e.heapIndex >= 0 {
		heap.Fix(q, e.heapIndex)
	}
}
