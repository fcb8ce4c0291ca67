package stepup

import (
	"context"
	"math/rand/v2"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/stepup/challenge"
	"github.com/MrEthical07/stepup/factor"
	"github.com/MrEthical07/stepup/risk"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

var engineEpoch = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock { return &testClock{now: engineEpoch} }

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// plainPasswords accepts "plain:<pw>" hashes so tests skip Argon2 cost.
type plainPasswords struct{}

func (plainPasswords) Verify(_ context.Context, plaintext, encoded string) (bool, error) {
	return encoded == "plain:"+plaintext, nil
}

// panickingProfiles panics on GetProfile once armed.
type panickingProfiles struct {
	*challenge.MemoryProfileStore
	mu    sync.Mutex
	armed bool
}

func (p *panickingProfiles) arm() {
	p.mu.Lock()
	p.armed = true
	p.mu.Unlock()
}

func (p *panickingProfiles) GetProfile(ctx context.Context, userID string) (*challenge.Profile, error) {
	p.mu.Lock()
	armed := p.armed
	p.mu.Unlock()
	if armed {
		panic("profile backend exploded")
	}
	return p.MemoryProfileStore.GetProfile(ctx, userID)
}

const testPassword = "correct-horse"

func testBaseline(userID string) risk.Baseline {
	return risk.Baseline{
		UserID:         userID,
		TypingSpeed:    "medium",
		ClickInterval:  "medium",
		NavigationHash: risk.NavigationHash([]string{"home", "account"}),
		TypicalHours:   []int{9, 10, 14},
		Device: risk.DeviceProfile{
			Resolution: "1920x1080", BrowserFamily: "chrome", Timezone: "Europe/Berlin", Language: "de-DE",
		},
		Location:      risk.LocationProfile{Timezone: "Europe/Berlin", Country: "DE"},
		StrengthScore: 40,
	}
}

func testProfile(userID string) challenge.Profile {
	return challenge.Profile{
		UserID:        userID,
		StrengthScore: 40,
		Biometric:     &challenge.BiometricEnrollment{TemplateRef: "tpl-" + userID},
		Devices: []challenge.DeviceRecord{
			{ID: "dev-phone", Name: "Phone", Model: "Pixel 9", Attested: true},
		},
		PasswordHash: "plain:" + testPassword,
	}
}

func newTestProfileStore() *challenge.MemoryProfileStore {
	s := challenge.NewMemoryProfileStore()
	s.Put(testProfile("u1"))
	return s
}

// matchingAction reproduces the baseline exactly, so it scores NONE.
func matchingAction(action string) ActionContext {
	return ActionContext{
		Action: action,
		Device: &risk.DeviceProfile{
			Resolution: "1920x1080", BrowserFamily: "chrome", Timezone: "Europe/Berlin", Language: "de-DE",
		},
		Patterns: &risk.Patterns{
			TypingSpeed:        45,
			ClickInterval:      400 * time.Millisecond,
			NavigationSequence: []string{"home", "account"},
		},
		Location: &risk.LocationProfile{Timezone: "Europe/Berlin", Country: "DE"},
	}
}

// lightAction differs in screen and browser and is a first-time high-value
// transfer: 0.7*0.35 + 0.5*0.15 = 0.32, which is LIGHT.
func lightAction() ActionContext {
	ac := matchingAction("transfer")
	ac.Device.Resolution = "1280x720"
	ac.Device.BrowserFamily = ""
	ac.UserAgent = "Mozilla/5.0 (X11; Linux x86_64; rv:128.0) Gecko/20100101 Firefox/128.0"
	ac.FirstTimeAction = true
	ac.HighValue = true
	return ac
}

type engineFixture struct {
	engine    *Engine
	clock     *testClock
	baselines *risk.MemoryBaselineStore
	profiles  *panickingProfiles
	redis     *miniredis.Miniredis
}

type fixtureOption func(*Config)

func withTokens() fixtureOption {
	return func(cfg *Config) {
		cfg.Token.Enabled = true
		cfg.Token.SigningMethod = "hs256"
		cfg.Token.PrivateKey = []byte(strings.Repeat("k", 32))
	}
}

func withAudit() fixtureOption {
	return func(cfg *Config) {
		cfg.Audit.Enabled = true
		cfg.Audit.DropIfFull = false
	}
}

func newEngineFixture(t *testing.T, useRedis bool, sink AuditSink, opts ...fixtureOption) *engineFixture {
	t.Helper()

	cfg := DefaultConfig()
	cfg.Session.SweepInterval = 0
	cfg.Metrics.EnableLatencyHistograms = true
	for _, opt := range opts {
		opt(&cfg)
	}

	clock := newTestClock()
	baselines := risk.NewMemoryBaselineStore()
	baselines.Put(testBaseline("u1"))
	profiles := &panickingProfiles{MemoryProfileStore: challenge.NewMemoryProfileStore()}
	profiles.Put(testProfile("u1"))

	b := New().
		WithConfig(cfg).
		WithBaselineStore(baselines).
		WithProfileStore(profiles).
		WithPasswordVerifier(plainPasswords{}).
		WithRandSource(rand.New(rand.NewPCG(7, 11))).
		WithClock(clock.Now)
	if sink != nil {
		b = b.WithAuditSink(sink)
	}

	fx := &engineFixture{clock: clock, baselines: baselines, profiles: profiles}
	if useRedis {
		mr, err := miniredis.Run()
		if err != nil {
			t.Fatalf("miniredis start: %v", err)
		}
		rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		t.Cleanup(func() {
			rdb.Close()
			mr.Close()
		})
		b = b.WithRedis(rdb)
		fx.redis = mr
	}

	engine, err := b.Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	t.Cleanup(engine.Close)
	fx.engine = engine
	return fx
}

// forEachBackend runs fn against the in-memory and Redis-backed engines.
func forEachBackend(t *testing.T, fn func(t *testing.T, useRedis bool)) {
	t.Run("memory", func(t *testing.T) { fn(t, false) })
	t.Run("redis", func(t *testing.T) { fn(t, true) })
}

// answer satisfies every factor of ch.
func answer(ch *challenge.Challenge) challenge.Response {
	resp := challenge.Response{Nonce: ch.Nonce, Factors: make(map[factor.Type]challenge.FactorResponse)}
	for _, ft := range ch.Factors() {
		switch ft {
		case factor.Biometric:
			spec := ch.PerFactor[ft].(challenge.BiometricSpec)
			resp.Factors[ft] = challenge.FactorResponse{
				Gestures:      append([]string(nil), spec.Gestures...),
				BiometricHash: "bio-hash",
			}
		case factor.Device:
			resp.Factors[ft] = challenge.FactorResponse{
				DeviceID: "dev-phone", DeviceName: "Phone", DeviceModel: "Pixel 9",
				Attestation: &challenge.Attestation{Verified: true},
			}
		case factor.Location:
			lat, lng := 52.52, 13.40
			resp.Factors[ft] = challenge.FactorResponse{Latitude: &lat, Longitude: &lng}
		case factor.Activity:
			resp.Factors[ft] = challenge.FactorResponse{PatternType: "typing", PatternData: "bucketed"}
		case factor.Password:
			resp.Factors[ft] = challenge.FactorResponse{Password: testPassword}
		}
	}
	return resp
}

// wrongAnswer fails every factor while keeping the nonce valid.
func wrongAnswer(ch *challenge.Challenge) challenge.Response {
	resp := challenge.Response{Nonce: ch.Nonce, Factors: make(map[factor.Type]challenge.FactorResponse)}
	for _, ft := range ch.Factors() {
		resp.Factors[ft] = challenge.FactorResponse{Password: "wrong-password"}
	}
	return resp
}

func issueChallenge(t *testing.T, e *Engine, userID string, level risk.Level) *challenge.Challenge {
	t.Helper()
	payload, err := e.GenerateVerificationChallenge(context.Background(), userID, &TriggerResult{Required: true, Level: level})
	if err != nil {
		t.Fatalf("GenerateVerificationChallenge: %v", err)
	}
	if !payload.Required || payload.Challenge == nil {
		t.Fatalf("expected a challenge, got %+v", payload)
	}
	return payload.Challenge
}

func validStepInput(step factor.Type) StepInput {
	pattern := "circle"
	timing, pressure := 420.0, 0.6
	switch step {
	case factor.Password:
		return StepInput{Password: testPassword}
	case factor.Gesture:
		return StepInput{Gestures: []GestureSample{{Pattern: &pattern, Timing: &timing, Pressure: &pressure}}}
	case factor.Typing:
		return StepInput{Accuracy: 95, Speed: 42}
	default:
		return StepInput{Verified: true}
	}
}
