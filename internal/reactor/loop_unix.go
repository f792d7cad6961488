//go:build linux || darwin || freebsd || netbsd || openbsd || dragonfly

package reactor

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

// Run drives the loop until ctx is cancelled.
func (l *Loop) Run(ctx context.Context) error {
	stop := context.AfterFunc(ctx, l.waker.wake)
	defer stop()

	l.logger.Debug("reactor loop started")
	defer l.logger.Debug("reactor loop stopped")

	fds := make([]unix.PollFd, 0, 8)
	for {
		if ctx.Err() != nil {
			return nil
		}

		l.runTasks()
		l.runTimers()

		fds = fds[:0]
		fds = append(fds, unix.PollFd{Fd: int32(l.waker.r), Events: unix.POLLIN})
		for fd := range l.readers {
			fds = append(fds, unix.PollFd{Fd: int32(fd), Events: unix.POLLIN})
		}

		n, err := unix.Poll(fds, l.pollTimeout())
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			return fmt.Errorf("poll: %w", err)
		}
		if n == 0 {
			continue
		}

		if fds[0].Revents != 0 {
			l.waker.drain()
		}
		for _, pfd := range fds[1:] {
			switch {
			case pfd.Revents&unix.POLLNVAL != 0:
				l.dropReader(int(pfd.Fd), ErrBadDescriptor)
			case pfd.Revents&(unix.POLLIN|unix.POLLERR|unix.POLLHUP) != 0:
				// A reader removed by an earlier callback in this
				// pass is skipped by dispatchRead.
				l.dispatchRead(int(pfd.Fd))
			}
		}
	}
}

// waker interrupts poll(2) from another goroutine through a pipe.
type waker struct {
	r, w int
}

func newWaker() (waker, error) {
	var p [2]int
	if err := unix.Pipe(p[:]); err != nil {
		return waker{}, fmt.Errorf("wake pipe: %w", err)
	}
	for _, fd := range p {
		unix.CloseOnExec(fd)
		if err := unix.SetNonblock(fd, true); err != nil {
			unix.Close(p[0])
			unix.Close(p[1])
			return waker{}, fmt.Errorf("wake pipe: %w", err)
		}
	}
	return waker{r: p[0], w: p[1]}, nil
}

func (w waker) wake() {
	// A full pipe already guarantees a wakeup.
	_, _ = unix.Write(w.w, []byte{1})
}

func (w waker) drain() {
	var buf [64]byte
	for {
		n, err := unix.Read(w.r, buf[:])
		if n <= 0 || err != nil {
			return
		}
	}
}

func (w waker) close() error {
	errR := unix.Close(w.r)
	errW := unix.Close(w.w)
	return errors.Join(errR, errW)
}
