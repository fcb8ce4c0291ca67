package stepup

import (
	"fmt"
	"maps"
	"time"

	"github.com/MrEthical07/stepup/password"
	"github.com/MrEthical07/stepup/risk"
)

// Config is the complete engine configuration. The time windows that make up
// the verification contract (challenge 15m, session 10m, history 24h, failure
// window 1h) are fixed and deliberately absent here.
type Config struct {
	Risk      risk.Config     `json:"risk" yaml:"risk" toml:"risk"`
	Challenge ChallengeConfig `json:"challenge" yaml:"challenge" toml:"challenge"`
	Session   SessionConfig   `json:"session" yaml:"session" toml:"session"`
	History   HistoryConfig   `json:"history" yaml:"history" toml:"history"`
	Token     TokenConfig     `json:"token" yaml:"token" toml:"token"`
	Password  password.Config `json:"password" yaml:"password" toml:"password"`
	Audit     AuditConfig     `json:"audit" yaml:"audit" toml:"audit"`
	Metrics   MetricsConfig   `json:"metrics" yaml:"metrics" toml:"metrics"`
}

/*
====================================
CHALLENGE CONFIG
====================================
*/

// ChallengeConfig controls the single-round challenge ledger.
type ChallengeConfig struct {
	// MaxAttempts failed responses end the challenge.
	MaxAttempts int    `json:"maxAttempts" yaml:"maxAttempts" toml:"max_attempts"`
	RedisPrefix string `json:"redisPrefix" yaml:"redisPrefix" toml:"redis_prefix"`
}

/*
====================================
SESSION CONFIG
====================================
*/

// SessionConfig controls multi-step verification sessions.
type SessionConfig struct {
	RedisPrefix string `json:"redisPrefix" yaml:"redisPrefix" toml:"redis_prefix"`
	// SweepInterval is how often expired sessions are reclaimed. Zero disables
	// the background sweeper; expiry is still enforced lazily.
	SweepInterval time.Duration `json:"sweepInterval" yaml:"sweepInterval" toml:"sweep_interval"`
}

/*
====================================
HISTORY CONFIG
====================================
*/

// HistoryConfig selects where verification attempts are kept.
type HistoryConfig struct {
	RedisPrefix string `json:"redisPrefix" yaml:"redisPrefix" toml:"redis_prefix"`
}

/*
====================================
TOKEN CONFIG
====================================
*/

// TokenConfig enables step-up assurance tokens. When Enabled is false no token
// is issued and VerifyStepUpToken returns ErrTokenDisabled.
type TokenConfig struct {
	Enabled       bool          `json:"enabled" yaml:"enabled" toml:"enabled"`
	TTL           time.Duration `json:"ttl" yaml:"ttl" toml:"ttl"`
	SigningMethod string        `json:"signingMethod" yaml:"signingMethod" toml:"signing_method"`
	Issuer        string        `json:"issuer" yaml:"issuer" toml:"issuer"`
	Audience      string        `json:"audience" yaml:"audience" toml:"audience"`
	Leeway        time.Duration `json:"leeway" yaml:"leeway" toml:"leeway"`
	KeyID         string        `json:"keyId" yaml:"keyId" toml:"key_id"`

	// PrivateKeyFile and PublicKeyFile are read by LoadConfigFile into the
	// key fields below.
	PrivateKeyFile string `json:"privateKeyFile" yaml:"privateKeyFile" toml:"private_key_file"`
	PublicKeyFile  string `json:"publicKeyFile" yaml:"publicKeyFile" toml:"public_key_file"`

	PrivateKey []byte `json:"-" yaml:"-" toml:"-"`
	PublicKey  []byte `json:"-" yaml:"-" toml:"-"`
}

/*
====================================
AUDIT CONFIG
====================================
*/

// AuditConfig controls the asynchronous audit dispatcher.
type AuditConfig struct {
	Enabled    bool `json:"enabled" yaml:"enabled" toml:"enabled"`
	BufferSize int  `json:"bufferSize" yaml:"bufferSize" toml:"buffer_size"`
	DropIfFull bool `json:"dropIfFull" yaml:"dropIfFull" toml:"drop_if_full"`
}

/*
====================================
METRICS CONFIG
====================================
*/

// MetricsConfig toggles in-process metrics.
type MetricsConfig struct {
	Enabled                 bool `json:"enabled" yaml:"enabled" toml:"enabled"`
	EnableLatencyHistograms bool `json:"enableLatencyHistograms" yaml:"enableLatencyHistograms" toml:"enable_latency_histograms"`
}

/*
====================================
DEFAULTS
====================================
*/

func defaultConfig() Config {
	return Config{
		Risk: risk.DefaultConfig(),
		Challenge: ChallengeConfig{
			MaxAttempts: 3,
			RedisPrefix: "svc",
		},
		Session: SessionConfig{
			RedisPrefix:   "svs",
			SweepInterval: time.Minute,
		},
		History: HistoryConfig{
			RedisPrefix: "svh",
		},
		Token: TokenConfig{
			Enabled:       false,
			TTL:           5 * time.Minute,
			SigningMethod: "ed25519",
			Issuer:        "stepup",
		},
		Password: password.DefaultConfig(),
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 true,
			EnableLatencyHistograms: false,
		},
	}
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return defaultConfig()
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.Risk.ActionRisk = maps.Clone(cfg.Risk.ActionRisk)
	out.Token.PrivateKey = cloneBytes(cfg.Token.PrivateKey)
	out.Token.PublicKey = cloneBytes(cfg.Token.PublicKey)
	return out
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

/*
====================================
VALIDATION
====================================
*/

// Validate rejects inconsistent configuration. Errors wrap ErrConfig.
func (c *Config) Validate() error {
	if err := c.Risk.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrConfig, err)
	}

	if c.Challenge.MaxAttempts < 1 || c.Challenge.MaxAttempts > 100 {
		return fmt.Errorf("%w: challenge MaxAttempts must be in [1,100]", ErrConfig)
	}
	if c.Challenge.RedisPrefix == "" || c.Session.RedisPrefix == "" || c.History.RedisPrefix == "" {
		return fmt.Errorf("%w: redis prefixes must not be empty", ErrConfig)
	}
	if c.Challenge.RedisPrefix == c.Session.RedisPrefix ||
		c.Challenge.RedisPrefix == c.History.RedisPrefix ||
		c.Session.RedisPrefix == c.History.RedisPrefix {
		return fmt.Errorf("%w: redis prefixes must be distinct", ErrConfig)
	}
	if c.Session.SweepInterval < 0 {
		return fmt.Errorf("%w: session SweepInterval must be >= 0", ErrConfig)
	}
	if c.Session.SweepInterval > 0 && c.Session.SweepInterval < time.Second {
		return fmt.Errorf("%w: session SweepInterval must be >= 1s", ErrConfig)
	}

	if c.Token.Enabled {
		if c.Token.TTL <= 0 || c.Token.TTL > time.Hour {
			return fmt.Errorf("%w: token TTL must be in (0,1h]", ErrConfig)
		}
		switch c.Token.SigningMethod {
		case "ed25519":
			if len(c.Token.PrivateKey) == 0 || len(c.Token.PublicKey) == 0 {
				return fmt.Errorf("%w: ed25519 requires PrivateKey and PublicKey", ErrConfig)
			}
		case "hs256":
			if len(c.Token.PrivateKey) < 32 {
				return fmt.Errorf("%w: hs256 requires a PrivateKey of at least 32 bytes", ErrConfig)
			}
		default:
			return fmt.Errorf("%w: unsupported token signing method %q", ErrConfig, c.Token.SigningMethod)
		}
		if c.Token.Leeway < 0 || c.Token.Leeway > 2*time.Minute {
			return fmt.Errorf("%w: token Leeway must be in [0,2m]", ErrConfig)
		}
	}

	if err := c.Password.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrConfig, err)
	}

	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return fmt.Errorf("%w: audit BufferSize must be > 0", ErrConfig)
	}
	if c.Metrics.EnableLatencyHistograms && !c.Metrics.Enabled {
		return fmt.Errorf("%w: latency histograms require metrics", ErrConfig)
	}
	return nil
}
