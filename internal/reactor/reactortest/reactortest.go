// Package reactortest provides a deterministic Reactor for tests. Nothing
// runs until the test advances it.
package reactortest

import (
	"errors"
	"sort"
	"time"

	"github.com/wiremaps/snmpbridge/internal/reactor"
)

// Reactor records registrations and holds timers on a virtual clock.
type Reactor struct {
	Readers map[int]reactor.Reader

	// Adds and Removes count AddReader and RemoveReader calls per
	// descriptor.
	Adds    map[int]int
	Removes map[int]int

	// FailAdd makes AddReader fail for the listed descriptors.
	FailAdd map[int]bool

	now    time.Duration
	seq    uint64
	timers []*Timer
}

// New returns an empty reactor at virtual time zero.
func New() *Reactor {
	return &Reactor{
		Readers: make(map[int]reactor.Reader),
		Adds:    make(map[int]int),
		Removes: make(map[int]int),
		FailAdd: make(map[int]bool),
	}
}

// AddReader implements reactor.Reactor.
func (r *Reactor) AddReader(rd reactor.Reader) error {
	fd := rd.Fd()
	if r.FailAdd[fd] {
		return errors.New("reactortest: add refused")
	}
	if _, ok := r.Readers[fd]; ok {
		return reactor.ErrDuplicateReader
	}
	r.Readers[fd] = rd
	r.Adds[fd]++
	return nil
}

// RemoveReader implements reactor.Reactor.
func (r *Reactor) RemoveReader(rd reactor.Reader) {
	fd := rd.Fd()
	if cur, ok := r.Readers[fd]; ok && cur == rd {
		delete(r.Readers, fd)
		r.Removes[fd]++
	}
}

// Timer is a scheduled call on the virtual clock.
type Timer struct {
	When      time.Duration
	Delay     time.Duration
	Cancelled bool
	Fired     bool

	seq uint64
	fn  func()
}

// Cancel implements reactor.Timer.
func (t *Timer) Cancel() {
	t.Cancelled = true
}

// CallLater implements reactor.Reactor.
func (r *Reactor) CallLater(d time.Duration, fn func()) reactor.Timer {
	if d < 0 {
		d = 0
	}
	r.seq++
	t := &Timer{When: r.now + d, Delay: d, seq: r.seq, fn: fn}
	r.timers = append(r.timers, t)
	return t
}

// Now returns the virtual time.
func (r *Reactor) Now() time.Duration {
	return r.now
}

// Active returns the timers that have neither fired nor been cancelled,
// earliest first.
func (r *Reactor) Active() []*Timer {
	var out []*Timer
	for _, t := range r.timers {
		if !t.Cancelled && !t.Fired {
			out = append(out, t)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].When == out[j].When {
			return out[i].seq < out[j].seq
		}
		return out[i].When < out[j].When
	})
	return out
}

// RunPending fires every active timer due at the current virtual time,
// including ones scheduled by the timers it fires. It returns the number
// fired.
func (r *Reactor) RunPending() int {
	fired := 0
	for {
		active := r.Active()
		if len(active) == 0 || active[0].When > r.now {
			return fired
		}
		t := active[0]
		t.Fired = true
		t.fn()
		fired++
	}
}

// Advance moves the virtual clock forward by d, firing timers in deadline
// order as their time comes.
func (r *Reactor) Advance(d time.Duration) int {
	target := r.now + d
	fired := 0
	for {
		active := r.Active()
		if len(active) == 0 || active[0].When > target {
			break
		}
		if active[0].When > r.now {
			r.now = active[0].When
		}
		fired += r.RunPending()
	}
	r.now = target
	return fired
}

// FireNext advances to the earliest active timer that has a delay and
// fires everything due then. It reports whether a timer fired.
func (r *Reactor) FireNext() bool {
	active := r.Active()
	if len(active) == 0 {
		return false
	}
	if active[0].When > r.now {
		r.now = active[0].When
	}
	return r.RunPending() > 0
}

// Readable invokes DoRead on the reader registered for fd. It reports
// whether one was registered.
func (r *Reactor) Readable(fd int) bool {
	rd, ok := r.Readers[fd]
	if !ok {
		return false
	}
	rd.DoRead()
	return true
}

// Registered returns the watched descriptors in ascending order.
func (r *Reactor) Registered() []int {
	out := make([]int, 0, len(r.Readers))
	for fd := range r.Readers {
		out = append(out, fd)
	}
	sort.Ints(out)
	return out
}
