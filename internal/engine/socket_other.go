//go:build !(linux || darwin || freebsd || netbsd || openbsd || dragonfly)

package engine

import (
	"errors"
	"net/netip"
)

var errUnsupported = errors.New("engine: raw UDP sockets are not supported on this platform")

func dial(netip.AddrPort) (int, error) { return -1, errUnsupported }
func write(int, []byte) error           { return errUnsupported }
func read(int, []byte) (int, error)     { return 0, errUnsupported }
func closeFD(int) error                 { return nil }
func isWouldBlock(error) bool           { return false }
