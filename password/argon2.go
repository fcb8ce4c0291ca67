package password

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/argon2"
)

const (
	algorithmID = "argon2id"

	// MinLength is the shortest password accepted for hashing and for the
	// password verification step.
	MinLength = 6

	minMemoryKB   uint32 = 8 * 1024
	minSaltLength        = 16
	minKeyLength         = 16
)

var (
	ErrTooShort      = errors.New("password: too short")
	ErrInvalidHash   = errors.New("password: invalid encoded hash")
	ErrIncompatible  = errors.New("password: incompatible argon2 version")
	ErrInvalidConfig = errors.New("password: invalid argon2 parameters")
)

// Config holds Argon2id cost parameters.
type Config struct {
	Memory      uint32 `json:"memory" yaml:"memory" toml:"memory"`
	Time        uint32 `json:"time" yaml:"time" toml:"time"`
	Parallelism uint8  `json:"parallelism" yaml:"parallelism" toml:"parallelism"`
	SaltLength  uint32 `json:"saltLength" yaml:"saltLength" toml:"salt_length"`
	KeyLength   uint32 `json:"keyLength" yaml:"keyLength" toml:"key_length"`
}

// DefaultConfig returns interactive-login cost parameters.
func DefaultConfig() Config {
	return Config{Memory: 64 * 1024, Time: 3, Parallelism: 2, SaltLength: 16, KeyLength: 32}
}

// Validate rejects parameters below the accepted floor.
func (c Config) Validate() error {
	switch {
	case c.Memory < minMemoryKB:
		return fmt.Errorf("%w: memory must be >= %d KB", ErrInvalidConfig, minMemoryKB)
	case c.Time < 1:
		return fmt.Errorf("%w: time must be >= 1", ErrInvalidConfig)
	case c.Parallelism < 1:
		return fmt.Errorf("%w: parallelism must be >= 1", ErrInvalidConfig)
	case c.SaltLength < minSaltLength:
		return fmt.Errorf("%w: salt length must be >= %d", ErrInvalidConfig, minSaltLength)
	case c.KeyLength < minKeyLength:
		return fmt.Errorf("%w: key length must be >= %d", ErrInvalidConfig, minKeyLength)
	}
	return nil
}

// Verifier checks a plaintext password against a stored encoded hash.
type Verifier interface {
	Verify(ctx context.Context, plaintext, encoded string) (bool, error)
}

// Argon2 hashes and verifies passwords. It is safe for concurrent use.
type Argon2 struct {
	cfg Config
}

// NewArgon2 validates cfg and returns a hasher.
func NewArgon2(cfg Config) (*Argon2, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Argon2{cfg: cfg}, nil
}

// Hash derives a PHC-encoded Argon2id hash with a fresh random salt.
// Bytes are used exactly as given; no Unicode normalization is applied.
func (a *Argon2) Hash(plaintext string) (string, error) {
	if len(plaintext) < MinLength {
		return "", ErrTooShort
	}
	salt := make([]byte, a.cfg.SaltLength)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", err
	}
	key := argon2.IDKey([]byte(plaintext), salt, a.cfg.Time, a.cfg.Memory, a.cfg.Parallelism, a.cfg.KeyLength)

	enc := base64.RawStdEncoding
	return fmt.Sprintf("$%s$v=%d$m=%d,t=%d,p=%d$%s$%s",
		algorithmID, argon2.Version, a.cfg.Memory, a.cfg.Time, a.cfg.Parallelism,
		enc.EncodeToString(salt), enc.EncodeToString(key)), nil
}

// Verify compares plaintext against encoded in constant time. A malformed hash
// is an error; a mismatch is (false, nil).
func (a *Argon2) Verify(ctx context.Context, plaintext, encoded string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	p, err := decode(encoded)
	if err != nil {
		return false, err
	}
	got := argon2.IDKey([]byte(plaintext), p.salt, p.cfg.Time, p.cfg.Memory, p.cfg.Parallelism, p.cfg.KeyLength)
	return subtle.ConstantTimeCompare(got, p.key) == 1, nil
}

// NeedsUpgrade reports whether encoded was produced with weaker parameters than
// the hasher's current configuration.
func (a *Argon2) NeedsUpgrade(encoded string) (bool, error) {
	p, err := decode(encoded)
	if err != nil {
		return false, err
	}
	return a.cfg.Memory > p.cfg.Memory ||
		a.cfg.Time > p.cfg.Time ||
		a.cfg.Parallelism > p.cfg.Parallelism ||
		a.cfg.KeyLength != p.cfg.KeyLength, nil
}

type decoded struct {
	cfg  Config
	salt []byte
	key  []byte
}

func decode(encoded string) (*decoded, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[0] != "" || parts[1] != algorithmID {
		return nil, ErrInvalidHash
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil {
		return nil, ErrInvalidHash
	}
	if version != argon2.Version {
		return nil, ErrIncompatible
	}

	var d decoded
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &d.cfg.Memory, &d.cfg.Time, &d.cfg.Parallelism); err != nil {
		return nil, ErrInvalidHash
	}
	if d.cfg.Memory < minMemoryKB || d.cfg.Time < 1 || d.cfg.Parallelism < 1 {
		return nil, ErrInvalidHash
	}

	var err error
	if d.salt, err = decodeB64(parts[4]); err != nil || len(d.salt) < minSaltLength {
		return nil, ErrInvalidHash
	}
	if d.key, err = decodeB64(parts[5]); err != nil || len(d.key) == 0 {
		return nil, ErrInvalidHash
	}
	d.cfg.SaltLength = uint32(len(d.salt))
	d.cfg.KeyLength = uint32(len(d.key))
	return &d, nil
}

// decodeB64 accepts both padded and unpadded standard base64.
func decodeB64(s string) ([]byte, error) {
	return base64.RawStdEncoding.DecodeString(strings.TrimRight(s, "="))
}
