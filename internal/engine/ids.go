package engine

import (
	"math/rand/v2"
	"sync"
)

// idPool hands out request-ids. An id stays reserved from Send until its
// request is answered, expires or is dropped with its connection.
type idPool struct {
	mu   sync.Mutex
	next uint32
	busy map[uint32]struct{}
}

// requestIDs is shared by every engine in the process, so outstanding
// requests never share an id even across engines.
var requestIDs = newIDPool(rand.Uint32())

func newIDPool(seed uint32) *idPool {
	return &idPool{next: seed & 0x7fffffff, busy: make(map[uint32]struct{})}
}

// claim reserves a 31-bit id that is neither zero nor in use.
func (p *idPool) claim() uint32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	for {
		p.next = (p.next + 1) & 0x7fffffff
		if p.next == 0 {
			continue
		}
		if _, busy := p.busy[p.next]; !busy {
			p.busy[p.next] = struct{}{}
			return p.next
		}
	}
}

func (p *idPool) release(id uint32) {
	p.mu.Lock()
	delete(p.busy, id)
	p.mu.Unlock()
}
