// Package keylock serializes work per key with a fixed set of striped mutexes.
//
// Memory-backed stores use it so that updates to one verification session or
// one user's history never interleave, while unrelated keys proceed in parallel.
package keylock

import (
	"hash/maphash"
	"sync"
)

const defaultStripes = 64

// Striped maps keys onto a fixed pool of mutexes. Two keys may share a stripe;
// that only costs parallelism, never correctness.
type Striped struct {
	seed  maphash.Seed
	locks []sync.Mutex
}

// New returns a Striped with n stripes, or a default when n <= 0.
func New(n int) *Striped {
	if n <= 0 {
		n = defaultStripes
	}
	return &Striped{seed: maphash.MakeSeed(), locks: make([]sync.Mutex, n)}
}

func (s *Striped) stripe(key string) *sync.Mutex {
	return &s.locks[maphash.String(s.seed, key)%uint64(len(s.locks))]
}

// Lock acquires the stripe for key and returns its unlock function.
func (s *Striped) Lock(key string) func() {
	m := s.stripe(key)
	m.Lock()
	return m.Unlock
}

// Do runs fn while holding key's stripe.
func (s *Striped) Do(key string, fn func() error) error {
	unlock := s.Lock(key)
	defer unlock()
	return fn()
}
