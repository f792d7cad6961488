package reactor

import (
	"log/slog"
	"sync"
	"time"

	"github.com/eapache/queue"

	"github.com/wiremaps/snmpbridge/internal/logging"
	"github.com/wiremaps/snmpbridge/internal/recovery"
)

// Loop is a poll(2) driven Reactor. Register readers and timers from the
// loop goroutine (inside a callback or a submitted function); use Submit
// from anywhere else.
type Loop struct {
	logger *slog.Logger

	mu     sync.Mutex
	tasks  *queue.Queue // of func(), guarded by mu
	closed bool

	waker waker

	readers map[int]Reader
	timers  timerHeap
	seq     uint64
}

// NewLoop creates a loop. Call Run to start it and Close when done.
func NewLoop(logger *slog.Logger) (*Loop, error) {
	w, err := newWaker()
	if err != nil {
		return nil, err
	}
	return &Loop{
		logger:  logging.Component(logger, "reactor"),
		tasks:   queue.New(),
		waker:   w,
		readers: make(map[int]Reader),
	}, nil
}

// AddReader implements Reactor.
func (l *Loop) AddReader(r Reader) error {
	fd := r.Fd()
	if _, ok := l.readers[fd]; ok {
		return ErrDuplicateReader
	}
	l.readers[fd] = r
	return nil
}

// RemoveReader implements Reactor.
func (l *Loop) RemoveReader(r Reader) {
	fd := r.Fd()
	if cur, ok := l.readers[fd]; ok && cur == r {
		delete(l.readers, fd)
	}
}

// CallLater implements Reactor.
func (l *Loop) CallLater(d time.Duration, fn func()) Timer {
	if d < 0 {
		d = 0
	}
	l.seq++
	return l.timers.schedule(time.Now().Add(d), l.seq, fn)
}

// Readers returns the number of registered readers.
func (l *Loop) Readers() int {
	return len(l.readers)
}

// Submit queues fn to run on the loop goroutine. Safe for concurrent use.
func (l *Loop) Submit(fn func()) error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return ErrLoopClosed
	}
	l.tasks.Add(fn)
	l.mu.Unlock()

	l.waker.wake()
	return nil
}

// runTasks runs everything submitted so far. Tasks submitted while
// running wait for the next iteration.
func (l *Loop) runTasks() {
	l.mu.Lock()
	n := l.tasks.Length()
	batch := make([]func(), 0, n)
	for i := 0; i < n; i++ {
		batch = append(batch, l.tasks.Remove().(func()))
	}
	l.mu.Unlock()

	for _, fn := range batch {
		recovery.Call(l.logger, "task", fn)
	}
}

// runTimers fires every timer due at the start of the pass.
func (l *Loop) runTimers() {
	now := time.Now()
	for {
		t := l.timers.popDue(now)
		if t == nil {
			return
		}
		recovery.Call(l.logger, "timer", t.fn)
	}
}

// pollTimeout returns the poll(2) timeout in milliseconds, -1 for none.
func (l *Loop) pollTimeout() int {
	l.mu.Lock()
	pending := l.tasks.Length()
	l.mu.Unlock()
	if pending > 0 {
		return 0
	}

	when, ok := l.timers.next()
	if !ok {
		return -1
	}
	d := time.Until(when)
	if d <= 0 {
		return 0
	}
	// Round up so a timer is never polled for early.
	return int((d + time.Millisecond - 1) / time.Millisecond)
}

func (l *Loop) dispatchRead(fd int) {
	r, ok := l.readers[fd]
	if !ok {
		return
	}
	recovery.Call(l.logger, "reader", r.DoRead)
}

func (l *Loop) dropReader(fd int, err error) {
	r, ok := l.readers[fd]
	if !ok {
		return
	}
	delete(l.readers, fd)
	l.logger.Warn("reader dropped", logging.KeyFD, fd, logging.KeyError, err)
	recovery.Call(l.logger, "connection-lost", func() { r.ConnectionLost(err) })
}

// Close stops accepting work and tells every remaining reader the
// connection is lost. Call it after Run returns.
func (l *Loop) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	l.mu.Unlock()

	for fd, r := range l.readers {
		delete(l.readers, fd)
		recovery.Call(l.logger, "connection-lost", func() { r.ConnectionLost(ErrLoopClosed) })
	}
	for l.timers.Len() > 0 {
		l.timers.Pop()
	}
	return l.waker.close()
}
