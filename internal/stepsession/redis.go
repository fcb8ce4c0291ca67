package stepsession

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/MrEthical07/stepup/factor"
	"github.com/MrEthical07/stepup/risk"
	"github.com/redis/go-redis/v9"
)

const sessionRecordVersion1 = 1

// RedisStore keeps each session under its own key with a TTL matching the
// session's remaining lifetime. Updates use WATCH/MULTI so concurrent
// submissions from different replicas serialize.
type RedisStore struct {
	redis  redis.UniversalClient
	prefix string
	now    func() time.Time
}

// NewRedisStore keeps sessions under prefix with a TTL per key.
func NewRedisStore(client redis.UniversalClient, prefix string, now func() time.Time) *RedisStore {
	if prefix == "" {
		prefix = "svs"
	}
	if now == nil {
		now = time.Now
	}
	return &RedisStore{redis: client, prefix: prefix, now: now}
}

func (r *RedisStore) key(id string) string {
	return r.prefix + ":" + id
}

func (r *RedisStore) ttl(s *Session) time.Duration {
	return s.ExpiresAt().Sub(r.now())
}

func (r *RedisStore) Create(ctx context.Context, s *Session) error {
	encoded, err := encodeSession(s)
	if err != nil {
		return err
	}
	ttl := r.ttl(s)
	if ttl <= 0 {
		return fmt.Errorf("%w: session already expired", ErrBackend)
	}
	ok, err := r.redis.SetNX(ctx, r.key(s.ID), encoded, ttl).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBackend, err)
	}
	if !ok {
		return ErrExists
	}
	return nil
}

func (r *RedisStore) Get(ctx context.Context, id string) (*Session, error) {
	data, err := r.redis.Get(ctx, r.key(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrBackend, err)
	}
	s, err := decodeSession(id, data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackend, err)
	}
	return s, nil
}

func (r *RedisStore) Update(ctx context.Context, id string, fn func(*Session) (Action, error)) error {
	const maxRetries = 4
	key := r.key(id)

	for i := 0; i < maxRetries; i++ {
		err := r.redis.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				return err
			}
			s, err := decodeSession(id, data)
			if err != nil {
				return err
			}

			action, err := fn(s)
			if err != nil {
				return callbackError{err: err}
			}

			switch action {
			case ActionSave:
				encoded, err := encodeSession(s)
				if err != nil {
					return err
				}
				ttl := r.ttl(s)
				_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					if ttl <= 0 {
						pipe.Del(ctx, key)
						return nil
					}
					pipe.Set(ctx, key, encoded, ttl)
					return nil
				})
				return err
			case ActionDelete:
				_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Del(ctx, key)
					return nil
				})
				return err
			default:
				return nil
			}
		}, key)

		if err == redis.TxFailedErr {
			continue
		}
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return ErrNotFound
			}
			var domainErr callbackError
			if errors.As(err, &domainErr) {
				return domainErr.err
			}
			return fmt.Errorf("%w: %v", ErrBackend, err)
		}
		return nil
	}
	return fmt.Errorf("%w: too much contention on session", ErrBackend)
}

// callbackError marks errors produced by an Update callback so they surface unwrapped.
type callbackError struct{ err error }

func (e callbackError) Error() string { return e.err.Error() }
func (e callbackError) Unwrap() error { return e.err }

// Sweep scans the prefix and deletes sessions that started before cutoff. Key
// TTLs already evict expired sessions; this catches clock skew between replicas.
func (r *RedisStore) Sweep(ctx context.Context, cutoff time.Time) (int, error) {
	removed := 0
	iter := r.redis.Scan(ctx, 0, r.prefix+":*", 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		data, err := r.redis.Get(ctx, key).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			return removed, fmt.Errorf("%w: %v", ErrBackend, err)
		}
		s, err := decodeSession("", data)
		if err != nil || s.StartTime.Before(cutoff) {
			n, err := r.redis.Del(ctx, key).Result()
			if err != nil {
				return removed, fmt.Errorf("%w: %v", ErrBackend, err)
			}
			removed += int(n)
		}
	}
	if err := iter.Err(); err != nil {
		return removed, fmt.Errorf("%w: %v", ErrBackend, err)
	}
	return removed, nil
}

func writeString(buf *bytes.Buffer, s string) error {
	if len(s) > 65535 {
		return errors.New("session field length exceeded")
	}
	if err := binary.Write(buf, binary.BigEndian, uint16(len(s))); err != nil {
		return err
	}
	buf.WriteString(s)
	return nil
}

func readString(r *bytes.Reader) (string, error) {
	var n uint16
	if err := binary.Read(r, binary.BigEndian, &n); err != nil {
		return "", err
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return "", err
	}
	return string(b), nil
}

func encodeSession(s *Session) ([]byte, error) {
	if len(s.Steps) > 255 || len(s.Completed) > 255 || len(s.Context) > 65535 {
		return nil, errors.New("session record too large")
	}

	var buf bytes.Buffer
	buf.WriteByte(sessionRecordVersion1)
	buf.WriteByte(byte(s.RiskLevel))
	if s.IsComplete {
		buf.WriteByte(1)
	} else {
		buf.WriteByte(0)
	}
	for _, v := range []any{uint16(s.CurrentIndex), uint16(s.Invalid), s.StartTime.UnixNano()} {
		if err := binary.Write(&buf, binary.BigEndian, v); err != nil {
			return nil, err
		}
	}
	if err := writeString(&buf, s.UserID); err != nil {
		return nil, err
	}

	buf.WriteByte(byte(len(s.Steps)))
	for _, t := range s.Steps {
		buf.WriteByte(byte(t))
	}

	buf.WriteByte(byte(len(s.Completed)))
	for _, c := range s.Completed {
		buf.WriteByte(byte(c.Type))
		if err := binary.Write(&buf, binary.BigEndian, c.CompletedAt.UnixNano()); err != nil {
			return nil, err
		}
	}

	if err := binary.Write(&buf, binary.BigEndian, uint16(len(s.Context))); err != nil {
		return nil, err
	}
	for k, v := range s.Context {
		if err := writeString(&buf, k); err != nil {
			return nil, err
		}
		if err := writeString(&buf, v); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

func decodeSession(id string, data []byte) (*Session, error) {
	r := bytes.NewReader(data)
	version, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != sessionRecordVersion1 {
		return nil, errors.New("invalid session record version")
	}

	s := &Session{ID: id}
	level, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	s.RiskLevel = risk.Level(level)
	complete, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	s.IsComplete = complete == 1

	var idx, invalid uint16
	var started int64
	for _, v := range []any{&idx, &invalid, &started} {
		if err := binary.Read(r, binary.BigEndian, v); err != nil {
			return nil, err
		}
	}
	s.CurrentIndex, s.Invalid, s.StartTime = int(idx), int(invalid), time.Unix(0, started)

	if s.UserID, err = readString(r); err != nil {
		return nil, err
	}

	n, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	s.Steps = make([]factor.Type, 0, n)
	for i := 0; i < int(n); i++ {
		b, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		s.Steps = append(s.Steps, factor.Type(b))
	}

	n, err = r.ReadByte()
	if err != nil {
		return nil, err
	}
	for i := 0; i < int(n); i++ {
		b, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		var at int64
		if err := binary.Read(r, binary.BigEndian, &at); err != nil {
			return nil, err
		}
		s.Completed = append(s.Completed, CompletedStep{Type: factor.Type(b), CompletedAt: time.Unix(0, at)})
	}

	var ctxLen uint16
	if err := binary.Read(r, binary.BigEndian, &ctxLen); err != nil {
		return nil, err
	}
	if ctxLen > 0 {
		s.Context = make(map[string]string, ctxLen)
	}
	for i := 0; i < int(ctxLen); i++ {
		k, err := readString(r)
		if err != nil {
			return nil, err
		}
		v, err := readString(r)
		if err != nil {
			return nil, err
		}
		s.Context[k] = v
	}
	return s, nil
}
