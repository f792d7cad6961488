package snmptest

import (
	"math/rand"
	"sync"
	"time"

	"github.com/gosnmp/gosnmp"
)

// Fault is a kind of misbehaviour injected into an agent.
type Fault int

const (
	// FaultDrop swallows the request.
	FaultDrop Fault = iota
	// FaultDelay stalls the agent before it answers.
	FaultDelay
	// FaultStaleID answers with a request-id nobody is waiting for.
	FaultStaleID
)

// FaultConfig configures one fault.
type FaultConfig struct {
	// Probability is the chance of injection per request (0.0 to 1.0).
	Probability float64

	Type Fault

	// MinDelay and MaxDelay bound the stall of FaultDelay.
	MinDelay time.Duration
	MaxDelay time.Duration
}

// Faults injects faults into a handler. The first matching config wins.
type Faults struct {
	mu        sync.Mutex
	rng       *rand.Rand
	configs   []FaultConfig
	dropFirst int
	hits      map[Fault]int64
}

// NewFaults creates an injector. A fixed seed makes runs repeatable.
func NewFaults(seed int64, configs ...FaultConfig) *Faults {
	return &Faults{
		rng:     rand.New(rand.NewSource(seed)),
		configs: configs,
		hits:    make(map[Fault]int64),
	}
}

// DropFirst drops the next n requests unconditionally.
func (f *Faults) DropFirst(n int) *Faults {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dropFirst = n
	return f
}

// Hits returns how often each fault fired.
func (f *Faults) Hits() map[Fault]int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[Fault]int64, len(f.hits))
	for k, v := range f.hits {
		out[k] = v
	}
	return out
}

// Wrap returns h with faults applied.
func (f *Faults) Wrap(h Handler) Handler {
	return func(req *gosnmp.SnmpPacket) *gosnmp.SnmpPacket {
		fault, delay, ok := f.pick()
		if !ok {
			return h(req)
		}
		switch fault {
		case FaultDrop:
			return nil
		case FaultDelay:
			time.Sleep(delay)
			return h(req)
		case FaultStaleID:
			resp := h(req)
			if resp != nil {
				resp.RequestID++
			}
			return resp
		}
		return h(req)
	}
}

func (f *Faults) pick() (Fault, time.Duration, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.dropFirst > 0 {
		f.dropFirst--
		f.hits[FaultDrop]++
		return FaultDrop, 0, true
	}
	for _, c := range f.configs {
		if f.rng.Float64() >= c.Probability {
			continue
		}
		f.hits[c.Type]++
		var delay time.Duration
		if c.Type == FaultDelay {
			delay = c.MinDelay
			if c.MaxDelay > c.MinDelay {
				delay += time.Duration(f.rng.Int63n(int64(c.MaxDelay - c.MinDelay)))
			}
		}
		return c.Type, delay, true
	}
	return 0, 0, false
}
