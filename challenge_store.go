package stepup

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/MrEthical07/stepup/challenge"
	"github.com/redis/go-redis/v9"
)

const (
	challengeRecordVersion1 = 1
	// challengeKeyGrace keeps Redis from evicting a record before the lazy
	// expiry check has seen it. Expiry is strict: the challenge is still valid
	// at exactly ExpiresAt.
	challengeKeyGrace = time.Second
)

// challengeRecord is the authoritative copy of an issued challenge.
type challengeRecord struct {
	Challenge *challenge.Challenge
	Attempts  uint16
}

// challengeStore is the single-use ledger of issued challenges, keyed by the
// hashed nonce.
type challengeStore interface {
	Save(ctx context.Context, key string, ch *challenge.Challenge) error
	// Get returns ErrChallengeNotFound or ErrChallengeExpired; expired records
	// are removed.
	Get(ctx context.Context, key string) (*challengeRecord, error)
	// Consume deletes the record and reports whether this call removed it.
	Consume(ctx context.Context, key string) (bool, error)
	// RecordFailure counts a failed response. Reaching maxAttempts deletes the
	// record and reports exceeded.
	RecordFailure(ctx context.Context, key string, maxAttempts int) (attempts int, exceeded bool, err error)
	Sweep(ctx context.Context) (int, error)
}

/*
====================================
MEMORY
====================================
*/

type memoryChallengeStore struct {
	mu      sync.Mutex
	now     func() time.Time
	records map[string]*challengeRecord
}

func newMemoryChallengeStore(now func() time.Time) *memoryChallengeStore {
	return &memoryChallengeStore{now: now, records: make(map[string]*challengeRecord)}
}

func (s *memoryChallengeStore) Save(_ context.Context, key string, ch *challenge.Challenge) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[key]; ok {
		return fmt.Errorf("%w: duplicate challenge nonce", ErrBackend)
	}
	s.records[key] = &challengeRecord{Challenge: ch.Clone()}
	return nil
}

func (s *memoryChallengeStore) Get(_ context.Context, key string) (*challengeRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[key]
	if !ok {
		return nil, ErrChallengeNotFound
	}
	if rec.Challenge.Expired(s.now()) {
		delete(s.records, key)
		return nil, ErrChallengeExpired
	}
	return &challengeRecord{Challenge: rec.Challenge.Clone(), Attempts: rec.Attempts}, nil
}

func (s *memoryChallengeStore) Consume(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[key]; !ok {
		return false, nil
	}
	delete(s.records, key)
	return true, nil
}

func (s *memoryChallengeStore) RecordFailure(_ context.Context, key string, maxAttempts int) (int, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[key]
	if !ok {
		return 0, false, ErrChallengeNotFound
	}
	if rec.Challenge.Expired(s.now()) {
		delete(s.records, key)
		return int(rec.Attempts), false, ErrChallengeExpired
	}
	rec.Attempts++
	if int(rec.Attempts) >= maxAttempts {
		delete(s.records, key)
		return int(rec.Attempts), true, nil
	}
	return int(rec.Attempts), false, nil
}

func (s *memoryChallengeStore) Sweep(context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	removed := 0
	for key, rec := range s.records {
		if rec.Challenge.Expired(now) {
			delete(s.records, key)
			removed++
		}
	}
	return removed, nil
}

/*
====================================
REDIS
====================================
*/

type redisChallengeStore struct {
	redis  redis.UniversalClient
	prefix string
	now    func() time.Time
}

func newRedisChallengeStore(client redis.UniversalClient, prefix string, now func() time.Time) *redisChallengeStore {
	return &redisChallengeStore{redis: client, prefix: prefix, now: now}
}

func (s *redisChallengeStore) key(k string) string {
	return s.prefix + ":" + k
}

func (s *redisChallengeStore) ttl(ch *challenge.Challenge) time.Duration {
	return ch.ExpiresAt.Sub(s.now()) + challengeKeyGrace
}

func (s *redisChallengeStore) Save(ctx context.Context, key string, ch *challenge.Challenge) error {
	encoded, err := encodeChallengeRecord(&challengeRecord{Challenge: ch})
	if err != nil {
		return err
	}
	ok, err := s.redis.SetNX(ctx, s.key(key), encoded, s.ttl(ch)).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBackend, err)
	}
	if !ok {
		return fmt.Errorf("%w: duplicate challenge nonce", ErrBackend)
	}
	return nil
}

func (s *redisChallengeStore) Get(ctx context.Context, key string) (*challengeRecord, error) {
	data, err := s.redis.Get(ctx, s.key(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrChallengeNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrBackend, err)
	}

	rec, err := decodeChallengeRecord(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackend, err)
	}
	if rec.Challenge.Expired(s.now()) {
		_, _ = s.redis.Del(ctx, s.key(key)).Result()
		return nil, ErrChallengeExpired
	}
	return rec, nil
}

func (s *redisChallengeStore) Consume(ctx context.Context, key string) (bool, error) {
	n, err := s.redis.Del(ctx, s.key(key)).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrBackend, err)
	}
	return n > 0, nil
}

func (s *redisChallengeStore) RecordFailure(ctx context.Context, key string, maxAttempts int) (int, bool, error) {
	const maxRetries = 4
	rkey := s.key(key)

	for i := 0; i < maxRetries; i++ {
		var (
			attempts int
			exceeded bool
		)
		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, rkey).Bytes()
			if err != nil {
				return err
			}
			rec, err := decodeChallengeRecord(data)
			if err != nil {
				return err
			}
			if rec.Challenge.Expired(s.now()) {
				_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Del(ctx, rkey)
					return nil
				})
				if err != nil {
					return err
				}
				return ErrChallengeExpired
			}

			rec.Attempts++
			attempts = int(rec.Attempts)
			if attempts >= maxAttempts {
				exceeded = true
				_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Del(ctx, rkey)
					return nil
				})
				return err
			}

			updated, err := encodeChallengeRecord(rec)
			if err != nil {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, rkey, updated, s.ttl(rec.Challenge))
				return nil
			})
			return err
		}, rkey)

		if err == redis.TxFailedErr {
			continue
		}
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return 0, false, ErrChallengeNotFound
			}
			if errors.Is(err, ErrChallengeExpired) {
				return 0, false, err
			}
			return 0, false, fmt.Errorf("%w: %v", ErrBackend, err)
		}
		return attempts, exceeded, nil
	}

	return 0, false, fmt.Errorf("%w: too much contention on challenge", ErrBackend)
}

// Sweep is a no-op for Redis: key TTLs reclaim expired challenges.
func (s *redisChallengeStore) Sweep(context.Context) (int, error) {
	return 0, nil
}

func encodeChallengeRecord(rec *challengeRecord) ([]byte, error) {
	body, err := json.Marshal(rec.Challenge)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	buf.WriteByte(challengeRecordVersion1)
	if err := binary.Write(&buf, binary.BigEndian, rec.Attempts); err != nil {
		return nil, err
	}
	buf.Write(body)
	return buf.Bytes(), nil
}

func decodeChallengeRecord(data []byte) (*challengeRecord, error) {
	if len(data) < 3 {
		return nil, errors.New("challenge record truncated")
	}
	if data[0] != challengeRecordVersion1 {
		return nil, errors.New("invalid challenge record version")
	}
	rec := &challengeRecord{
		Attempts:  binary.BigEndian.Uint16(data[1:3]),
		Challenge: &challenge.Challenge{},
	}
	if err := json.Unmarshal(data[3:], rec.Challenge); err != nil {
		return nil, err
	}
	return rec, nil
}
