package tracker

import (
	"context"
	"hash/maphash"
	"sync"
	"time"
)

const memoryShards = 32

type shard struct {
	mu    sync.Mutex
	users map[string][]Attempt
}

// MemoryStore keeps history in process, sharded by user.
type MemoryStore struct {
	seed   maphash.Seed
	shards [memoryShards]shard
}

// NewMemoryStore returns an in-process attempt store.
func NewMemoryStore() *MemoryStore {
	s := &MemoryStore{seed: maphash.MakeSeed()}
	for i := range s.shards {
		s.shards[i].users = make(map[string][]Attempt)
	}
	return s
}

func (s *MemoryStore) shardFor(userID string) *shard {
	return &s.shards[maphash.String(s.seed, userID)%memoryShards]
}

func (s *MemoryStore) Append(ctx context.Context, a Attempt, cutoff time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	sh := s.shardFor(a.UserID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	kept := sh.users[a.UserID][:0]
	for _, prev := range sh.users[a.UserID] {
		if !prev.Timestamp.Before(cutoff) {
			kept = append(kept, prev)
		}
	}
	sh.users[a.UserID] = append(kept, a)
	return nil
}

func (s *MemoryStore) Since(ctx context.Context, userID string, since time.Time) ([]Attempt, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sh := s.shardFor(userID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	var out []Attempt
	for _, a := range sh.users[userID] {
		if !a.Timestamp.Before(since) {
			out = append(out, a)
		}
	}
	return out, nil
}

// Len reports how many attempts are retained for userID.
func (s *MemoryStore) Len(userID string) int {
	sh := s.shardFor(userID)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	return len(sh.users[userID])
}
