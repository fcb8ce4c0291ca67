package tracker

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/MrEthical07/stepup/risk"
	"github.com/redis/go-redis/v9"
)

const attemptRecordVersion1 = 1

// RedisStore keeps one sorted set per user, scored by attempt time in
// milliseconds. Keys expire after HistoryWindow of inactivity.
type RedisStore struct {
	redis  redis.UniversalClient
	prefix string
}

// NewRedisStore keeps attempts in one sorted set per user.
func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "svh"
	}
	return &RedisStore{redis: client, prefix: prefix}
}

func (s *RedisStore) key(userID string) string {
	return s.prefix + ":" + userID
}

func (s *RedisStore) Append(ctx context.Context, a Attempt, cutoff time.Time) error {
	encoded, err := encodeAttempt(a)
	if err != nil {
		return err
	}
	key := s.key(a.UserID)
	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZAdd(ctx, key, redis.Z{Score: float64(a.Timestamp.UnixMilli()), Member: encoded})
		pipe.ZRemRangeByScore(ctx, key, "-inf", "("+strconv.FormatInt(cutoff.UnixMilli(), 10))
		pipe.Expire(ctx, key, HistoryWindow)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBackend, err)
	}
	return nil
}

func (s *RedisStore) Since(ctx context.Context, userID string, since time.Time) ([]Attempt, error) {
	members, err := s.redis.ZRangeByScore(ctx, s.key(userID), &redis.ZRangeBy{
		Min: strconv.FormatInt(since.UnixMilli(), 10),
		Max: "+inf",
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrBackend, err)
	}

	out := make([]Attempt, 0, len(members))
	for _, m := range members {
		a, err := decodeAttempt(userID, []byte(m))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBackend, err)
		}
		out = append(out, a)
	}
	return out, nil
}

func encodeAttempt(a Attempt) ([]byte, error) {
	if len(a.ID) > 255 {
		return nil, errors.New("attempt id length exceeded")
	}
	var buf bytes.Buffer
	buf.WriteByte(attemptRecordVersion1)
	buf.WriteByte(byte(a.Level))
	if a.Success {
		buf.WriteByte(1)
	} else {
		buf.WriteByte(0)
	}
	if err := binary.Write(&buf, binary.BigEndian, a.Timestamp.UnixNano()); err != nil {
		return nil, err
	}
	buf.WriteByte(byte(len(a.ID)))
	buf.WriteString(a.ID)
	return buf.Bytes(), nil
}

func decodeAttempt(userID string, data []byte) (Attempt, error) {
	r := bytes.NewReader(data)
	version, err := r.ReadByte()
	if err != nil {
		return Attempt{}, err
	}
	if version != attemptRecordVersion1 {
		return Attempt{}, errors.New("invalid attempt record version")
	}

	a := Attempt{UserID: userID}
	level, err := r.ReadByte()
	if err != nil {
		return Attempt{}, err
	}
	a.Level = risk.Level(level)
	success, err := r.ReadByte()
	if err != nil {
		return Attempt{}, err
	}
	a.Success = success == 1

	var nanos int64
	if err := binary.Read(r, binary.BigEndian, &nanos); err != nil {
		return Attempt{}, err
	}
	a.Timestamp = time.Unix(0, nanos)

	idLen, err := r.ReadByte()
	if err != nil {
		return Attempt{}, err
	}
	id := make([]byte, idLen)
	if _, err := io.ReadFull(r, id); err != nil {
		return Attempt{}, err
	}
	a.ID = string(id)
	return a, nil
}
