package challenge

import (
	"context"
	"log/slog"
	"slices"
	"time"

	"github.com/MrEthical07/stepup/factor"
	"github.com/MrEthical07/stepup/internal"
	"github.com/MrEthical07/stepup/password"
)

// Failure reasons reported by Verify.
const (
	ReasonExpired          = "Challenge expired"
	ReasonInvalidNonce     = "Invalid challenge nonce"
	ReasonMissingResponse  = "Factor response missing"
	ReasonFactorFailed     = "Factor verification failed"
	ReasonUnsupported      = "Factor not supported for challenges"
	ReasonPasswordMissing  = "Password factor not enrolled"
	ReasonPasswordMismatch = "Password incorrect"
	ReasonBackend          = "Factor check unavailable"
	ReasonOptionsShort     = "Not enough optional factors verified"
)

// FactorResult is the outcome of one factor rule.
type FactorResult struct {
	Verified bool   `json:"verified"`
	Reason   string `json:"reason,omitempty"`
}

// Result is the outcome of verifying a response against a challenge.
type Result struct {
	Verified          bool                         `json:"verified"`
	Factors           map[factor.Type]FactorResult `json:"factors"`
	StrengthIncreased bool                         `json:"strengthIncreased"`
	DegradedFactors   []factor.Type                `json:"degradedFactors,omitempty"`
	Reason            string                       `json:"reason,omitempty"`
}

// VerifierOption customizes a Verifier.
type VerifierOption func(*Verifier)

// WithVerifierClock overrides the expiry clock.
func WithVerifierClock(now func() time.Time) VerifierOption {
	return func(v *Verifier) {
		if now != nil {
			v.now = now
		}
	}
}

// WithPasswordVerifier enables the password factor.
func WithPasswordVerifier(p password.Verifier) VerifierOption {
	return func(v *Verifier) { v.passwords = p }
}

// WithLogger sets the logger used for write-back failures.
func WithLogger(l *slog.Logger) VerifierOption {
	return func(v *Verifier) {
		if l != nil {
			v.logger = l
		}
	}
}

// Verifier checks responses. It holds no per-challenge state.
type Verifier struct {
	profiles  ProfileStore
	passwords password.Verifier
	now       func() time.Time
	logger    *slog.Logger
}

// NewVerifier returns a Verifier reading and updating profiles. The password
// factor stays disabled until WithPasswordVerifier is given.
func NewVerifier(profiles ProfileStore, opts ...VerifierOption) *Verifier {
	v := &Verifier{profiles: profiles, now: time.Now, logger: slog.Default()}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Verify checks expiry, then the nonce, then every factor. On success the
// verified factor data is written back to the profile; write-back failures are
// logged and listed in DegradedFactors without changing the outcome.
func (v *Verifier) Verify(ctx context.Context, ch *Challenge, resp Response) Result {
	if ch.Expired(v.now()) {
		return Result{Reason: ReasonExpired}
	}
	if !internal.EqualNonce(resp.Nonce, ch.Nonce) {
		return Result{Reason: ReasonInvalidNonce}
	}

	res := Result{Factors: make(map[factor.Type]FactorResult, len(ch.RequiredFactors)+len(ch.Options))}
	ok := true

	for _, t := range ch.RequiredFactors {
		fr := v.check(ctx, ch, t, resp)
		res.Factors[t] = fr
		if !fr.Verified {
			ok = false
			if res.Reason == "" {
				res.Reason = fr.Reason
			}
		}
	}

	if len(ch.Options) > 0 {
		passed, answered := 0, 0
		for _, t := range ch.Options {
			if _, present := resp.Factors[t]; !present {
				continue
			}
			answered++
			fr := v.check(ctx, ch, t, resp)
			res.Factors[t] = fr
			if fr.Verified {
				passed++
			}
		}
		if answered == 0 {
			for _, t := range ch.Options {
				res.Factors[t] = FactorResult{Reason: ReasonMissingResponse}
			}
		}
		if passed < ch.RequiredCount {
			ok = false
			if res.Reason == "" {
				res.Reason = ReasonOptionsShort
			}
		}
	}

	if !ok {
		return res
	}

	res.Verified = true
	res.StrengthIncreased = true
	res.Reason = ""
	res.DegradedFactors = v.writeBack(ctx, ch.SubjectID, res.Factors, resp)
	return res
}

func (v *Verifier) check(ctx context.Context, ch *Challenge, t factor.Type, resp Response) FactorResult {
	r, present := resp.Factors[t]
	if !present {
		return FactorResult{Reason: ReasonMissingResponse}
	}

	switch t {
	case factor.Biometric:
		var want []string
		if spec, ok := ch.PerFactor[t].(BiometricSpec); ok {
			want = spec.Gestures
		}
		return pass(r.Gestures != nil && r.BiometricHash != "" && containsAll(r.Gestures, want))
	case factor.Device:
		if r.DeviceID == "" || r.Attestation == nil {
			return pass(false)
		}
		var known []string
		if spec, ok := ch.PerFactor[t].(DeviceSpec); ok {
			known = spec.KnownDevices
		}
		return pass(slices.Contains(known, r.DeviceID) || r.Attestation.Verified)
	case factor.Location:
		return pass(r.Latitude != nil && r.Longitude != nil)
	case factor.Activity:
		return pass(r.PatternType != "" && r.PatternData != "")
	case factor.Password:
		return v.checkPassword(ctx, ch.SubjectID, r.Password)
	case factor.Gesture, factor.Typing:
		return FactorResult{Reason: ReasonUnsupported}
	default:
		return FactorResult{Reason: ReasonUnsupported}
	}
}

// containsAll reports whether every entry of want appears in got.
func containsAll(got, want []string) bool {
	for _, w := range want {
		if !slices.Contains(got, w) {
			return false
		}
	}
	return true
}

func pass(ok bool) FactorResult {
	if ok {
		return FactorResult{Verified: true}
	}
	return FactorResult{Reason: ReasonFactorFailed}
}

func (v *Verifier) checkPassword(ctx context.Context, userID, plaintext string) FactorResult {
	if v.passwords == nil || v.profiles == nil {
		return FactorResult{Reason: ReasonPasswordMissing}
	}
	if len(plaintext) < password.MinLength {
		return FactorResult{Reason: ReasonPasswordMismatch}
	}
	profile, err := v.profiles.GetProfile(ctx, userID)
	if err != nil {
		return FactorResult{Reason: ReasonBackend}
	}
	if profile == nil || profile.PasswordHash == "" {
		return FactorResult{Reason: ReasonPasswordMissing}
	}
	ok, err := v.passwords.Verify(ctx, plaintext, profile.PasswordHash)
	if err != nil {
		return FactorResult{Reason: ReasonBackend}
	}
	if !ok {
		return FactorResult{Reason: ReasonPasswordMismatch}
	}
	return FactorResult{Verified: true}
}

func (v *Verifier) writeBack(ctx context.Context, userID string, results map[factor.Type]FactorResult, resp Response) []factor.Type {
	if v.profiles == nil {
		return nil
	}
	now := v.now()
	var degraded []factor.Type
	for _, t := range factor.All() {
		fr, ok := results[t]
		if !ok || !fr.Verified {
			continue
		}
		data, ok := extract(t, resp.Factors[t], now)
		if !ok {
			continue
		}
		if err := v.profiles.AddIdentityFactor(ctx, userID, data); err != nil {
			v.logger.WarnContext(ctx, "identity factor write-back failed",
				slog.String("user_id", userID),
				slog.String("factor", t.String()),
				slog.Any("error", err),
			)
			degraded = append(degraded, t)
		}
	}
	return degraded
}

// extract pulls persistable data out of a verified response. Passwords are never extracted.
func extract(t factor.Type, r FactorResponse, now time.Time) (FactorData, bool) {
	data := FactorData{Type: t, VerifiedAt: now}
	switch t {
	case factor.Biometric:
		data.Biometric = r.BiometricHash
	case factor.Device:
		data.Device = &DeviceRecord{
			ID: r.DeviceID, Name: r.DeviceName, Model: r.DeviceModel,
			Attested: r.Attestation != nil && r.Attestation.Verified, AddedAt: now,
		}
	case factor.Location:
		data.Location = &LocationRecord{Latitude: *r.Latitude, Longitude: *r.Longitude}
	case factor.Activity:
		data.Activity = r.PatternType
	case factor.Password, factor.Gesture, factor.Typing:
		return FactorData{}, false
	default:
		return FactorData{}, false
	}
	return data, true
}
