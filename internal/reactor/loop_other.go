//go:build !(linux || darwin || freebsd || netbsd || openbsd || dragonfly)

package reactor

import (
	"context"
	"errors"
)

var errUnsupported = errors.New("reactor: poll loop is not supported on this platform")

// Run always fails on platforms without poll(2).
func (l *Loop) Run(ctx context.Context) error {
	return errUnsupported
}

type waker struct{}

func newWaker() (waker, error) { return waker{}, errUnsupported }

func (waker) wake()        {}
func (waker) close() error { return nil }
