package provider

import (
	"errors"
	"sync/atomic"
)

// ErrEmptyPool is returned when a pool is built without providers
var ErrEmptyPool = errors.New("provider pool is empty")

// Pool hands out shared providers in round-robin order
type Pool struct {
	providers []Provider
	next      atomic.Uint64
}

// NewPool creates a pool over the given providers
func NewPool(providers ...Provider) (*Pool, error) {
	if len(providers) == 0 {
		return nil, ErrEmptyPool
	}
	return &Pool{providers: append([]Provider(nil), providers...)}, nil
}

// Next returns the next provider in rotation
func (p *Pool) Next() Provider {
	n := p.next.Add(1) - 1
	return p.providers[n%uint64(len(p.providers))]
}

// Len returns the number of providers in the pool
func (p *Pool) Len() int {
	return len(p.providers)
}
