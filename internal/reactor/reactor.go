// Package reactor defines the single-threaded event loop contract the
// SNMP bridge is driven by, and a poll(2) based implementation of it.
//
// Every method of Reactor is called from the loop goroutine only. Code
// running elsewhere hands work to the loop with Loop.Submit.
package reactor

import (
	"errors"
	"time"
)

// Reader is a readable descriptor registered with a Reactor.
type Reader interface {
	// Fd returns the descriptor to watch.
	Fd() int
	// DoRead is called when the descriptor is readable.
	DoRead()
	// ConnectionLost is called when the reactor drops the reader on its
	// own, because the descriptor became invalid or the loop shut down.
	ConnectionLost(err error)
}

// Timer is a scheduled one-shot call.
type Timer interface {
	// Cancel prevents the call from running. Cancelling a timer that
	// already fired or was cancelled does nothing.
	Cancel()
}

// Reactor is the event loop contract.
type Reactor interface {
	// AddReader starts watching r. Adding a reader whose descriptor is
	// already watched fails.
	AddReader(r Reader) error
	// RemoveReader stops watching r. Unknown readers are ignored.
	RemoveReader(r Reader)
	// CallLater runs fn on the loop after d. A zero delay runs fn on the
	// next loop iteration, after the current callback returns.
	CallLater(d time.Duration, fn func()) Timer
}

var (
	// ErrLoopClosed is returned by Submit after Close and passed to
	// ConnectionLost for readers still registered at Close.
	ErrLoopClosed = errors.New("reactor: loop closed")

	// ErrBadDescriptor is passed to ConnectionLost when the kernel
	// reports a watched descriptor as invalid.
	ErrBadDescriptor = errors.New("reactor: invalid descriptor")

	// ErrDuplicateReader is returned by AddReader for a descriptor that
	// is already watched.
	ErrDuplicateReader = errors.New("reactor: descriptor already registered")
)
