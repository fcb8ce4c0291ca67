package challenge

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/MrEthical07/stepup/factor"
	"github.com/MrEthical07/stepup/internal"
	"github.com/MrEthical07/stepup/risk"
)

// GestureTokens is the pool biometric prompts draw from.
var GestureTokens = []string{"swipe_left", "tap_twice", "draw_circle"}

const gesturesPerPrompt = 2

var activityPatterns = []string{"typing", "scrolling"}

var (
	basicFactors   = []factor.Type{factor.Biometric, factor.Device}
	optionFactors  = []factor.Type{factor.Biometric, factor.Password}
	mediumRequired = []factor.Type{factor.Device}
)

// FactoryOption customizes a Factory.
type FactoryOption func(*Factory)

// WithFactoryClock overrides the issue-time source.
func WithFactoryClock(now func() time.Time) FactoryOption {
	return func(f *Factory) {
		if now != nil {
			f.now = now
		}
	}
}

// WithNonceSource overrides nonce generation.
func WithNonceSource(next func() (string, error)) FactoryOption {
	return func(f *Factory) {
		if next != nil {
			f.nonce = next
		}
	}
}

// Factory builds challenges. It is safe for concurrent use; draws from the
// injected random source are serialized.
type Factory struct {
	profiles ProfileStore

	mu  sync.Mutex
	rng *rand.Rand

	now   func() time.Time
	nonce func() (string, error)
}

// NewFactory binds a profile store and a random source. rng drives gesture and
// activity-pattern selection; seed it to make challenge content reproducible.
func NewFactory(profiles ProfileStore, rng *rand.Rand, opts ...FactoryOption) (*Factory, error) {
	if profiles == nil {
		return nil, errors.New("challenge: profile store is required")
	}
	if rng == nil {
		return nil, errors.New("challenge: random source is required")
	}
	f := &Factory{profiles: profiles, rng: rng, now: time.Now, nonce: internal.NewNonce}
	for _, opt := range opts {
		opt(f)
	}
	return f, nil
}

// SelectFactors trims available by identity strength: below 30 every factor,
// 30 to 59 the first two, 60 and above the first one.
func SelectFactors(available []factor.Type, strength int) []factor.Type {
	n := len(available)
	switch {
	case strength >= 60:
		n = min(n, 1)
	case strength >= 30:
		n = min(n, 2)
	}
	return append([]factor.Type(nil), available[:n]...)
}

// Build creates the profile-driven base challenge. Users without a profile, or
// with nothing enrolled, get the basic biometric plus device challenge.
func (f *Factory) Build(ctx context.Context, userID string) (*Challenge, error) {
	profile, err := f.profile(ctx, userID)
	if err != nil {
		return nil, err
	}
	required := basicFactors
	if avail := profile.Available(); len(avail) > 0 {
		required = SelectFactors(avail, profile.StrengthScore)
	}
	return f.assemble(ctx, userID, profile, ShapeBasic, risk.LevelNone, required, nil, 0)
}

// BuildLeveled shapes a challenge for level. LIGHT asks for one of biometric or
// password; MEDIUM adds a mandatory device check; STRONG and CRITICAL require
// the full enrolled factor set. NONE falls back to Build.
func (f *Factory) BuildLeveled(ctx context.Context, userID string, level risk.Level) (*Challenge, error) {
	switch level {
	case risk.LevelNone:
		return f.Build(ctx, userID)
	case risk.LevelLight, risk.LevelMedium, risk.LevelStrong, risk.LevelCritical:
	default:
		return nil, fmt.Errorf("%w: %d", risk.ErrUnknownLevel, uint8(level))
	}

	profile, err := f.profile(ctx, userID)
	if err != nil {
		return nil, err
	}

	switch level {
	case risk.LevelLight:
		return f.assemble(ctx, userID, profile, ShapeLight, level, nil, optionFactors, 1)
	case risk.LevelMedium:
		return f.assemble(ctx, userID, profile, ShapeMedium, level, mediumRequired, optionFactors, 1)
	default:
		required := basicFactors
		if avail := profile.Available(); len(avail) > 0 {
			required = avail
		}
		return f.assemble(ctx, userID, profile, ShapeStrong, level, required, nil, 0)
	}
}

func (f *Factory) profile(ctx context.Context, userID string) (*Profile, error) {
	p, err := f.profiles.GetProfile(ctx, userID)
	if errors.Is(err, ErrProfileNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("challenge: load profile: %w", err)
	}
	return p, nil
}

func (f *Factory) assemble(
	ctx context.Context,
	userID string,
	profile *Profile,
	shape Shape,
	level risk.Level,
	required, options []factor.Type,
	count int,
) (*Challenge, error) {
	nonce, err := f.nonce()
	if err != nil {
		return nil, fmt.Errorf("challenge: nonce: %w", err)
	}

	now := f.now()
	ch := &Challenge{
		Nonce:           nonce,
		SubjectID:       userID,
		Shape:           shape,
		Level:           level,
		RequiredFactors: append([]factor.Type(nil), required...),
		Options:         append([]factor.Type(nil), options...),
		RequiredCount:   count,
		PerFactor:       make(map[factor.Type]Spec, len(required)+len(options)),
		IssuedAt:        now,
		ExpiresAt:       now.Add(TTL),
	}
	for _, t := range ch.Factors() {
		spec, err := f.prompt(ctx, userID, profile, t)
		if err != nil {
			return nil, err
		}
		ch.PerFactor[t] = spec
	}
	return ch, nil
}

func (f *Factory) prompt(ctx context.Context, userID string, profile *Profile, t factor.Type) (Spec, error) {
	switch t {
	case factor.Biometric:
		return BiometricSpec{Gestures: f.pickGestures()}, nil
	case factor.Device:
		devices, err := f.profiles.GetKnownDevices(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("challenge: load known devices: %w", err)
		}
		names := make([]string, 0, len(devices))
		for _, d := range devices {
			names = append(names, d.ID)
		}
		return DeviceSpec{KnownDevices: names}, nil
	case factor.Location:
		var labels []string
		if profile != nil {
			for _, l := range profile.Locations {
				labels = append(labels, l.Label)
			}
		}
		return LocationSpec{KnownLocations: labels}, nil
	case factor.Activity:
		return ActivitySpec{PatternType: f.pickActivity()}, nil
	case factor.Password:
		return PasswordSpec{}, nil
	case factor.Gesture, factor.Typing:
		return nil, fmt.Errorf("challenge: %s is a session step, not a challenge factor", t)
	default:
		return nil, fmt.Errorf("%w: %d", factor.ErrUnknownType, uint8(t))
	}
}

func (f *Factory) pickGestures() []string {
	f.mu.Lock()
	perm := f.rng.Perm(len(GestureTokens))
	f.mu.Unlock()

	out := make([]string, 0, gesturesPerPrompt)
	for _, i := range perm[:gesturesPerPrompt] {
		out = append(out, GestureTokens[i])
	}
	return out
}

func (f *Factory) pickActivity() string {
	f.mu.Lock()
	i := f.rng.IntN(len(activityPatterns))
	f.mu.Unlock()
	return activityPatterns[i]
}

// Describe renders a short instruction for the challenge's factor layout.
func Describe(ch *Challenge) string {
	switch {
	case len(ch.Options) > 0 && len(ch.RequiredFactors) > 0:
		return fmt.Sprintf("Verify %s and %d of: %s", joinTypes(ch.RequiredFactors), ch.RequiredCount, joinTypes(ch.Options))
	case len(ch.Options) > 0:
		return fmt.Sprintf("Verify with %d of: %s", ch.RequiredCount, joinTypes(ch.Options))
	default:
		return "Verify " + joinTypes(ch.RequiredFactors)
	}
}

func joinTypes(ts []factor.Type) string {
	var out string
	for i, t := range ts {
		if i > 0 {
			out += ", "
		}
		out += t.String()
	}
	return out
}
