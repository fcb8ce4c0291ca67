package stepup

import (
	crand "crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/MrEthical07/stepup/challenge"
	internalaudit "github.com/MrEthical07/stepup/internal/audit"
	"github.com/MrEthical07/stepup/internal/stepsession"
	"github.com/MrEthical07/stepup/internal/tracker"
	"github.com/MrEthical07/stepup/jwt"
	"github.com/MrEthical07/stepup/password"
	"github.com/MrEthical07/stepup/risk"
	"github.com/redis/go-redis/v9"
)

// Builder assembles an Engine. Configure it during initialization, call Build
// once, and discard it.
type Builder struct {
	config Config
	redis  redis.UniversalClient

	baselines risk.BaselineStore
	profiles  challenge.ProfileStore
	passwords password.Verifier

	auditSink AuditSink
	rng       *rand.Rand
	now       func() time.Time
	logger    *slog.Logger

	built bool
}

// New returns a Builder holding the default configuration.
func New() *Builder {
	return &Builder{
		config: defaultConfig(),
	}
}

// WithConfig replaces the whole configuration. It is validated in Build.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis moves the attempt history, verification sessions and the
// challenge ledger into Redis. Without it all three live in process memory.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithBaselineStore is required.
func (b *Builder) WithBaselineStore(store risk.BaselineStore) *Builder {
	b.baselines = store
	return b
}

// WithProfileStore is required.
func (b *Builder) WithProfileStore(store challenge.ProfileStore) *Builder {
	b.profiles = store
	return b
}

// WithPasswordVerifier replaces the Argon2id verifier built from
// Config.Password.
func (b *Builder) WithPasswordVerifier(v password.Verifier) *Builder {
	b.passwords = v
	return b
}

// WithAuditSink sets where audit events go when Config.Audit.Enabled is set.
// The default sink writes them to the engine logger.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithRandSource seeds gesture and activity-pattern selection. Nonces always
// come from crypto/rand.
func (b *Builder) WithRandSource(rng *rand.Rand) *Builder {
	b.rng = rng
	return b
}

// WithClock overrides time.Now for every component.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

// WithLogger sets the engine logger. Nil keeps slog.Default().
func (b *Builder) WithLogger(logger *slog.Logger) *Builder {
	b.logger = logger
	return b
}

// WithMetricsEnabled toggles the in-process counters.
func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// WithLatencyHistograms toggles the assess and verify latency histograms.
func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration and wires every component. A Builder
// can be built only once.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if b.baselines == nil {
		return nil, fmt.Errorf("%w: baseline store required", ErrEngineNotReady)
	}
	if b.profiles == nil {
		return nil, fmt.Errorf("%w: profile store required", ErrEngineNotReady)
	}

	now := b.now
	if now == nil {
		now = time.Now
	}
	logger := b.logger
	if logger == nil {
		logger = slog.Default()
	}
	rng := b.rng
	if rng == nil {
		var err error
		rng, err = seededRand()
		if err != nil {
			return nil, err
		}
	}

	riskEngine, err := risk.NewEngine(b.baselines, cfg.Risk, risk.WithClock(now))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfig, err)
	}

	passwords := b.passwords
	if passwords == nil {
		argon, err := password.NewArgon2(cfg.Password)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrConfig, err)
		}
		passwords = argon
	}

	factory, err := challenge.NewFactory(b.profiles, rng, challenge.WithFactoryClock(now))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEngineNotReady, err)
	}
	verifier := challenge.NewVerifier(b.profiles,
		challenge.WithVerifierClock(now),
		challenge.WithPasswordVerifier(passwords),
		challenge.WithLogger(logger),
	)

	var (
		historyStore tracker.Store
		sessionStore stepsession.Store
		challenges   challengeStore
	)
	if b.redis != nil {
		historyStore = tracker.NewRedisStore(b.redis, cfg.History.RedisPrefix)
		sessionStore = stepsession.NewRedisStore(b.redis, cfg.Session.RedisPrefix, now)
		challenges = newRedisChallengeStore(b.redis, cfg.Challenge.RedisPrefix, now)
	} else {
		historyStore = tracker.NewMemoryStore()
		sessionStore = stepsession.NewMemoryStore()
		challenges = newMemoryChallengeStore(now)
	}

	var tokens *jwt.Manager
	if cfg.Token.Enabled {
		tokens, err = jwt.NewManager(jwt.Config{
			TTL:           cfg.Token.TTL,
			SigningMethod: jwt.SigningMethod(cfg.Token.SigningMethod),
			PrivateKey:    cfg.Token.PrivateKey,
			PublicKey:     cfg.Token.PublicKey,
			Issuer:        cfg.Token.Issuer,
			Audience:      cfg.Token.Audience,
			Leeway:        cfg.Token.Leeway,
			KeyID:         cfg.Token.KeyID,
			Now:           now,
		})
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrConfig, err)
		}
	}

	sink := b.auditSink
	if sink == nil {
		sink = NewSlogSink(logger)
	}

	e := &Engine{
		config:     cfg,
		now:        now,
		logger:     logger,
		risk:       riskEngine,
		tracker:    tracker.New(historyStore, now),
		factory:    factory,
		verifier:   verifier,
		sessions:   stepsession.NewManager(sessionStore, now, logger),
		challenges: challenges,
		tokens:     tokens,
		audit: internalaudit.NewDispatcher(internalaudit.Config{
			Enabled:    cfg.Audit.Enabled,
			BufferSize: cfg.Audit.BufferSize,
			DropIfFull: cfg.Audit.DropIfFull,
			Now:        now,
		}, sink),
		metrics: NewMetrics(cfg.Metrics),
	}

	if cfg.Session.SweepInterval > 0 {
		e.startSweeper(cfg.Session.SweepInterval)
	}

	b.built = true
	return e, nil
}

func seededRand() (*rand.Rand, error) {
	var seed [16]byte
	if _, err := crand.Read(seed[:]); err != nil {
		return nil, fmt.Errorf("seed random source: %w", err)
	}
	return rand.New(rand.NewPCG(
		binary.LittleEndian.Uint64(seed[:8]),
		binary.LittleEndian.Uint64(seed[8:]),
	)), nil
}
