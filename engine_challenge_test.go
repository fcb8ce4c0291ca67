package stepup

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MrEthical07/stepup/challenge"
	"github.com/MrEthical07/stepup/factor"
	"github.com/MrEthical07/stepup/internal"
	"github.com/MrEthical07/stepup/risk"
)

func TestGenerateChallengeNotRequired(t *testing.T) {
	fx := newEngineFixture(t, false, nil)

	payload, err := fx.engine.GenerateVerificationChallenge(context.Background(), "u1", &TriggerResult{Required: false})
	if err != nil {
		t.Fatalf("GenerateVerificationChallenge: %v", err)
	}
	if payload.Required || payload.Challenge != nil {
		t.Fatalf("expected empty payload, got %+v", payload)
	}
}

func TestGenerateChallengeDecoratesByLevel(t *testing.T) {
	fx := newEngineFixture(t, false, nil)

	cases := []struct {
		level   risk.Level
		seconds int
		shape   challenge.Shape
	}{
		{risk.LevelLight, 30, challenge.ShapeLight},
		{risk.LevelMedium, 120, challenge.ShapeMedium},
		{risk.LevelStrong, 300, challenge.ShapeStrong},
	}
	for _, tc := range cases {
		payload, err := fx.engine.GenerateVerificationChallenge(context.Background(), "u1", &TriggerResult{Required: true, Level: tc.level})
		if err != nil {
			t.Fatalf("%s: GenerateVerificationChallenge: %v", tc.level, err)
		}
		if payload.EstimatedSeconds != tc.seconds {
			t.Fatalf("%s: expected %ds, got %d", tc.level, tc.seconds, payload.EstimatedSeconds)
		}
		if payload.Challenge.Shape != tc.shape || payload.Challenge.Level != tc.level {
			t.Fatalf("%s: unexpected challenge %+v", tc.level, payload.Challenge)
		}
		if payload.Description == "" {
			t.Fatalf("%s: expected a description", tc.level)
		}
	}

	if got := fx.engine.MetricsSnapshot().Counters[MetricChallengeIssued]; got != 3 {
		t.Fatalf("expected 3 issued challenges, got %d", got)
	}
}

func TestGenerateChallengeRejectsNilTrigger(t *testing.T) {
	fx := newEngineFixture(t, false, nil)

	_, err := fx.engine.GenerateVerificationChallenge(context.Background(), "u1", nil)
	if !errors.Is(err, ErrInvalidChallenge) || KindOf(err) != KindValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestProcessRoundTripAndMissingFactor(t *testing.T) {
	forEachBackend(t, func(t *testing.T, useRedis bool) {
		fx := newEngineFixture(t, useRedis, nil)
		ctx := context.Background()

		ch := issueChallenge(t, fx.engine, "u1", risk.LevelStrong)
		res, err := fx.engine.ProcessVerificationResponse(ctx, "u1", ch, answer(ch))
		if err != nil {
			t.Fatalf("ProcessVerificationResponse: %v", err)
		}
		if !res.Verified || !res.StrengthIncreased || res.RetryAllowed {
			t.Fatalf("expected consumed verified result, got %+v", res)
		}

		ch = issueChallenge(t, fx.engine, "u1", risk.LevelStrong)
		missing := ch.RequiredFactors[0]
		resp := answer(ch)
		delete(resp.Factors, missing)

		res, err = fx.engine.ProcessVerificationResponse(ctx, "u1", ch, resp)
		if err != nil {
			t.Fatalf("ProcessVerificationResponse: %v", err)
		}
		if res.Verified {
			t.Fatal("expected missing factor to fail")
		}
		if got := res.Factors[missing].Reason; got != challenge.ReasonMissingResponse {
			t.Fatalf("expected %q for %s, got %q", challenge.ReasonMissingResponse, missing, got)
		}
		if !res.RetryAllowed || res.AttemptsRemaining != 2 {
			t.Fatalf("expected a retry with 2 attempts left, got %+v", res)
		}
	})
}

func TestProcessExpiryBoundary(t *testing.T) {
	forEachBackend(t, func(t *testing.T, useRedis bool) {
		fx := newEngineFixture(t, useRedis, nil)
		ctx := context.Background()

		ch := issueChallenge(t, fx.engine, "u1", risk.LevelLight)
		fx.clock.Set(ch.ExpiresAt)
		res, err := fx.engine.ProcessVerificationResponse(ctx, "u1", ch, answer(ch))
		if err != nil {
			t.Fatalf("ProcessVerificationResponse: %v", err)
		}
		if !res.Verified {
			t.Fatalf("expected a challenge answered at expiresAt to verify, got %+v", res)
		}

		fx.clock.Set(engineEpoch)
		ch = issueChallenge(t, fx.engine, "u1", risk.LevelLight)
		fx.clock.Set(ch.ExpiresAt.Add(time.Nanosecond))
		res, err = fx.engine.ProcessVerificationResponse(ctx, "u1", ch, answer(ch))
		if err != nil {
			t.Fatalf("ProcessVerificationResponse: %v", err)
		}
		if res.Verified || res.Reason != challenge.ReasonExpired || !res.RetryAllowed {
			t.Fatalf("expected recoverable expiry, got %+v", res)
		}
	})
}

func TestProcessRejectsReplay(t *testing.T) {
	forEachBackend(t, func(t *testing.T, useRedis bool) {
		fx := newEngineFixture(t, useRedis, nil)
		ctx := context.Background()

		ch := issueChallenge(t, fx.engine, "u1", risk.LevelMedium)
		resp := answer(ch)
		if res, err := fx.engine.ProcessVerificationResponse(ctx, "u1", ch, resp); err != nil || !res.Verified {
			t.Fatalf("first response: res=%+v err=%v", res, err)
		}

		res, err := fx.engine.ProcessVerificationResponse(ctx, "u1", ch, resp)
		if err != nil {
			t.Fatalf("ProcessVerificationResponse: %v", err)
		}
		if res.Verified || res.Reason != ReasonUnknownChallenge {
			t.Fatalf("expected replay to be rejected, got %+v", res)
		}
		if got := fx.engine.MetricsSnapshot().Counters[MetricChallengeUnknown]; got != 1 {
			t.Fatalf("expected 1 unknown challenge, got %d", got)
		}
	})
}

func TestProcessAttemptCeilingIsTerminal(t *testing.T) {
	forEachBackend(t, func(t *testing.T, useRedis bool) {
		fx := newEngineFixture(t, useRedis, nil)
		ctx := context.Background()

		ch := issueChallenge(t, fx.engine, "u1", risk.LevelLight)
		for want := 2; want >= 1; want-- {
			res, err := fx.engine.ProcessVerificationResponse(ctx, "u1", ch, wrongAnswer(ch))
			if err != nil {
				t.Fatalf("ProcessVerificationResponse: %v", err)
			}
			if !res.RetryAllowed || res.AttemptsRemaining != want {
				t.Fatalf("expected %d attempts left, got %+v", want, res)
			}
		}

		res, err := fx.engine.ProcessVerificationResponse(ctx, "u1", ch, wrongAnswer(ch))
		if err != nil {
			t.Fatalf("ProcessVerificationResponse: %v", err)
		}
		if res.RetryAllowed || res.Reason != ReasonAttemptsExceeded {
			t.Fatalf("expected terminal result, got %+v", res)
		}

		// Even a correct answer cannot revive an exhausted challenge.
		res, err = fx.engine.ProcessVerificationResponse(ctx, "u1", ch, answer(ch))
		if err != nil {
			t.Fatalf("ProcessVerificationResponse: %v", err)
		}
		if res.Verified {
			t.Fatal("expected exhausted challenge to stay dead")
		}
	})
}

func TestProcessUsesStoredChallenge(t *testing.T) {
	fx := newEngineFixture(t, false, nil)
	ctx := context.Background()

	ch := issueChallenge(t, fx.engine, "u1", risk.LevelStrong)
	forged := *ch
	forged.Level = risk.LevelCritical
	forged.RequiredFactors = []factor.Type{factor.Device}
	forged.Options = nil

	resp := answer(&forged)
	res, err := fx.engine.ProcessVerificationResponse(ctx, "u1", &forged, resp)
	if err != nil {
		t.Fatalf("ProcessVerificationResponse: %v", err)
	}
	if res.Verified {
		t.Fatalf("expected the issued factor set to be enforced, got %+v", res)
	}
}

func TestProcessSubjectMismatch(t *testing.T) {
	fx := newEngineFixture(t, false, nil)
	ctx := context.Background()

	ch := issueChallenge(t, fx.engine, "u1", risk.LevelLight)
	_, err := fx.engine.ProcessVerificationResponse(ctx, "u2", ch, answer(ch))
	if !errors.Is(err, ErrChallengeSubject) || KindOf(err) != KindValidation {
		t.Fatalf("expected subject validation error, got %v", err)
	}

	n, err := fx.engine.tracker.RecentFailures(ctx, "u2")
	if err != nil {
		t.Fatalf("RecentFailures: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected the rejected response to be recorded, got %d", n)
	}
}

func TestProcessRecordsFailureOnPanic(t *testing.T) {
	fx := newEngineFixture(t, false, nil)
	ctx := context.Background()

	ch := issueChallenge(t, fx.engine, "u1", risk.LevelLight)
	fx.profiles.arm()

	res, err := fx.engine.ProcessVerificationResponse(ctx, "u1", ch, answer(ch))
	if err == nil || res != nil {
		t.Fatalf("expected an internal error, got res=%+v err=%v", res, err)
	}
	if !errors.Is(err, &Error{Kind: KindInternal}) {
		t.Fatalf("expected KindInternal, got %v", err)
	}

	n, err := fx.engine.tracker.RecentFailures(ctx, "u1")
	if err != nil {
		t.Fatalf("RecentFailures: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 recorded failure, got %d", n)
	}
}

func TestProcessRejectsMissingNonce(t *testing.T) {
	fx := newEngineFixture(t, false, nil)

	_, err := fx.engine.ProcessVerificationResponse(context.Background(), "u1", &challenge.Challenge{}, challenge.Response{})
	if !errors.Is(err, ErrInvalidChallenge) {
		t.Fatalf("expected ErrInvalidChallenge, got %v", err)
	}
}

func TestProcessIssuesToken(t *testing.T) {
	fx := newEngineFixture(t, false, nil, withTokens())
	ctx := context.Background()

	ch := issueChallenge(t, fx.engine, "u1", risk.LevelMedium)
	res, err := fx.engine.ProcessVerificationResponse(ctx, "u1", ch, answer(ch))
	if err != nil {
		t.Fatalf("ProcessVerificationResponse: %v", err)
	}
	if res.Token == nil || res.Token.Level != risk.LevelMedium {
		t.Fatalf("expected a MEDIUM token, got %+v", res.Token)
	}

	claims, err := fx.engine.VerifyStepUpToken(ctx, res.Token.Token, risk.LevelLight)
	if err != nil {
		t.Fatalf("VerifyStepUpToken: %v", err)
	}
	if claims.UID != "u1" || claims.Ref != internal.NonceKey(ch.Nonce) {
		t.Fatalf("unexpected claims %+v", claims)
	}
	if !factor.Contains(claims.Factors, factor.Device) {
		t.Fatalf("expected device in amr, got %v", claims.Factors)
	}
}

func TestProcessDegradedWriteBackStaysVerified(t *testing.T) {
	sink := NewChannelSink(64)
	fx := newEngineFixture(t, false, sink, withAudit())
	ctx := context.Background()

	ch := issueChallenge(t, fx.engine, "u1", risk.LevelStrong)
	fx.engine.verifier = challenge.NewVerifier(failingWrites{fx.profiles},
		challenge.WithVerifierClock(fx.clock.Now),
		challenge.WithPasswordVerifier(plainPasswords{}),
	)

	res, err := fx.engine.ProcessVerificationResponse(ctx, "u1", ch, answer(ch))
	if err != nil {
		t.Fatalf("ProcessVerificationResponse: %v", err)
	}
	if !res.Verified || len(res.DegradedFactors) == 0 {
		t.Fatalf("expected degraded success, got %+v", res)
	}
	if got := fx.engine.MetricsSnapshot().Counters[MetricWriteBackDegraded]; got != 1 {
		t.Fatalf("expected degraded metric 1, got %d", got)
	}

	fx.engine.Close()
	seen := map[string]bool{}
	for len(sink.Events()) > 0 {
		seen[(<-sink.Events()).EventType] = true
	}
	for _, want := range []string{auditEventChallengeIssued, auditEventWriteBackDegraded, auditEventChallengeVerified} {
		if !seen[want] {
			t.Fatalf("expected audit event %q, saw %v", want, seen)
		}
	}
}

type failingWrites struct {
	challenge.ProfileStore
}

func (failingWrites) AddIdentityFactor(context.Context, string, challenge.FactorData) error {
	return errors.New("identity store read-only")
}
