// Package randpool draws integers from a fixed range without replacement,
// refilling with a fresh shuffle once the pool is exhausted.
package randpool

import (
	"math/rand"
	"sync"
)

// Pool returns values in [0, Size) with flat counts over every complete
// drain cycle and a spread of at most one between cycles.
type Pool struct {
	size int
	mu   sync.Mutex
	pool []int
}

// New creates a pool drawing from [0, size).
func New(size int) *Pool {
	return &Pool{size: size}
}

// Get returns the next value, refilling and reshuffling the pool if empty.
func (p *Pool) Get() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.pool) == 0 {
		p.pool = make([]int, p.size)
		for i := range p.pool {
			p.pool[i] = i
		}
		rand.Shuffle(len(p.pool), func(i, j int) {
			p.pool[i], p.pool[j] = p.pool[j], p.pool[i]
		})
	}
	last := len(p.pool) - 1
	v := p.pool[last]
	p.pool = p.pool[:last]
	return v
}
