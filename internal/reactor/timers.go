package reactor

import (
	"container/heap"
	"time"
)

// timer is a pending CallLater entry. Entries with equal deadlines fire in
// scheduling order.
type timer struct {
	when  time.Time
	seq   uint64
	fn    func()
	index int // position in the heap, -1 once fired or cancelled
	heap  *timerHeap
}

func (t *timer) Cancel() {
	if t.index < 0 {
		return
	}
	heap.Remove(t.heap, t.index)
}

type timerHeap []*timer

func (h timerHeap) Len() int { return len(h) }

func (h timerHeap) Less(i, j int) bool {
	if h[i].when.Equal(h[j].when) {
		return h[i].seq < h[j].seq
	}
	return h[i].when.Before(h[j].when)
}

func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *timerHeap) Push(x any) {
	t := x.(*timer)
	t.index = len(*h)
	*h = append(*h, t)
}

func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.index = -1
	*h = old[:n-1]
	return t
}

// schedule adds a timer firing at when.
func (h *timerHeap) schedule(when time.Time, seq uint64, fn func()) *timer {
	t := &timer{when: when, seq: seq, fn: fn, heap: h}
	heap.Push(h, t)
	return t
}

// popDue removes and returns the earliest timer if it is due at now.
func (h *timerHeap) popDue(now time.Time) *timer {
	if h.Len() == 0 || (*h)[0].when.After(now) {
		return nil
	}
	return heap.Pop(h).(*timer)
}

// next returns the earliest deadline.
func (h timerHeap) next() (time.Time, bool) {
	if len(h) == 0 {
		return time.Time{}, false
	}
	return h[0].when, true
}
