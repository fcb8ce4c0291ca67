package stepup

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/MrEthical07/stepup/challenge"
	"github.com/MrEthical07/stepup/risk"
)

func TestTriggerMatchingBehaviorNotRequired(t *testing.T) {
	fx := newEngineFixture(t, false, nil)

	res, err := fx.engine.CheckVerificationTrigger(context.Background(), "u1", matchingAction("login"))
	if err != nil {
		t.Fatalf("CheckVerificationTrigger: %v", err)
	}
	if res.Required || res.Level != risk.LevelNone {
		t.Fatalf("expected NONE and not required, got %+v", res)
	}
	if res.RiskScore != 0 {
		t.Fatalf("expected zero score, got %v", res.RiskScore)
	}
}

func TestTriggerUsesUserAgentForBrowserFamily(t *testing.T) {
	fx := newEngineFixture(t, false, nil)

	res, err := fx.engine.CheckVerificationTrigger(context.Background(), "u1", lightAction())
	if err != nil {
		t.Fatalf("CheckVerificationTrigger: %v", err)
	}
	if !res.Required || res.Level != risk.LevelLight {
		t.Fatalf("expected LIGHT, got %+v", res)
	}
	if !slices.Contains(res.Factors, risk.TagNewDevice) {
		t.Fatalf("expected new_device tag, got %v", res.Factors)
	}

	// The same device reported through the request context matches the baseline browser.
	ac := lightAction()
	ac.UserAgent = ""
	ctx := WithUserAgent(context.Background(), "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 Chrome/126.0 Safari/537.36")
	res, err = fx.engine.CheckVerificationTrigger(ctx, "u1", ac)
	if err != nil {
		t.Fatalf("CheckVerificationTrigger: %v", err)
	}
	if res.Required || res.Level != risk.LevelNone {
		t.Fatalf("expected context user agent to match the baseline browser, got %+v", res)
	}
}

func TestTriggerNoBaselineIsMedium(t *testing.T) {
	fx := newEngineFixture(t, false, nil)

	res, err := fx.engine.CheckVerificationTrigger(context.Background(), "ghost", ActionContext{Action: "login"})
	if err != nil {
		t.Fatalf("CheckVerificationTrigger: %v", err)
	}
	if !res.Required || res.Level != risk.LevelMedium || res.RiskScore != 0.4 {
		t.Fatalf("expected 0.4/MEDIUM, got %+v", res)
	}
	if len(res.Factors) != 1 || res.Factors[0] != risk.TagNoBaseline {
		t.Fatalf("expected no_baseline tag, got %v", res.Factors)
	}
}

type brokenBaselines struct{}

func (brokenBaselines) GetBaseline(context.Context, string) (*risk.Baseline, error) {
	return nil, errors.New("baseline db down")
}

func TestTriggerFailsClosedOnBaselineError(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Session.SweepInterval = 0
	clock := newTestClock()
	engine, err := New().
		WithConfig(cfg).
		WithBaselineStore(brokenBaselines{}).
		WithProfileStore(challenge.NewMemoryProfileStore()).
		WithPasswordVerifier(plainPasswords{}).
		WithClock(clock.Now).
		Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	defer engine.Close()

	res, err := engine.CheckVerificationTrigger(context.Background(), "u1", matchingAction("login"))
	if err != nil {
		t.Fatalf("CheckVerificationTrigger: %v", err)
	}
	if res.Level != risk.LevelMedium || res.RiskScore != 0.5 || !res.Required {
		t.Fatalf("expected fail-closed MEDIUM, got %+v", res)
	}
	if got := engine.MetricsSnapshot().Counters[MetricRiskFailClosed]; got != 1 {
		t.Fatalf("expected fail-closed metric 1, got %d", got)
	}
}

func TestTriggerRequiresUser(t *testing.T) {
	fx := newEngineFixture(t, false, nil)

	_, err := fx.engine.CheckVerificationTrigger(context.Background(), "", matchingAction("login"))
	if !errors.Is(err, ErrInvalidUser) || KindOf(err) != KindValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestTriggerIdempotentAfterRecordedSuccess(t *testing.T) {
	forEachBackend(t, func(t *testing.T, useRedis bool) {
		fx := newEngineFixture(t, useRedis, nil)
		ctx := context.Background()

		first, err := fx.engine.CheckVerificationTrigger(ctx, "u1", lightAction())
		if err != nil {
			t.Fatalf("CheckVerificationTrigger: %v", err)
		}
		if !first.Required {
			t.Fatalf("expected verification to be required, got %+v", first)
		}

		payload, err := fx.engine.GenerateVerificationChallenge(ctx, "u1", first)
		if err != nil {
			t.Fatalf("GenerateVerificationChallenge: %v", err)
		}
		res, err := fx.engine.ProcessVerificationResponse(ctx, "u1", payload.Challenge, answer(payload.Challenge))
		if err != nil {
			t.Fatalf("ProcessVerificationResponse: %v", err)
		}
		if !res.Verified {
			t.Fatalf("expected verified, got %+v", res)
		}

		second, err := fx.engine.CheckVerificationTrigger(ctx, "u1", lightAction())
		if err != nil {
			t.Fatalf("CheckVerificationTrigger: %v", err)
		}
		if second.Required || !second.RecentlyVerified || second.Level != first.Level {
			t.Fatalf("expected cooldown to waive verification, got %+v", second)
		}
	})
}

func TestTriggerCooldownExpires(t *testing.T) {
	fx := newEngineFixture(t, false, nil)
	ctx := context.Background()

	ch := issueChallenge(t, fx.engine, "u1", risk.LevelLight)
	if _, err := fx.engine.ProcessVerificationResponse(ctx, "u1", ch, answer(ch)); err != nil {
		t.Fatalf("ProcessVerificationResponse: %v", err)
	}

	fx.clock.Advance(61 * time.Minute)
	ac := lightAction()
	ac.At = engineEpoch
	res, err := fx.engine.CheckVerificationTrigger(ctx, "u1", ac)
	if err != nil {
		t.Fatalf("CheckVerificationTrigger: %v", err)
	}
	if !res.Required || res.RecentlyVerified {
		t.Fatalf("expected LIGHT cooldown to have lapsed, got %+v", res)
	}
}

func TestTriggerEscalatesAfterThreeFailures(t *testing.T) {
	forEachBackend(t, func(t *testing.T, useRedis bool) {
		fx := newEngineFixture(t, useRedis, nil)
		ctx := context.Background()

		for i := 0; i < 3; i++ {
			ch := issueChallenge(t, fx.engine, "u1", risk.LevelLight)
			res, err := fx.engine.ProcessVerificationResponse(ctx, "u1", ch, wrongAnswer(ch))
			if err != nil {
				t.Fatalf("ProcessVerificationResponse: %v", err)
			}
			if res.Verified {
				t.Fatal("expected wrong answer to fail")
			}
		}

		res, err := fx.engine.CheckVerificationTrigger(ctx, "u1", matchingAction("login"))
		if err != nil {
			t.Fatalf("CheckVerificationTrigger: %v", err)
		}
		if !res.Required || res.Level != risk.LevelStrong || !res.RateLimited {
			t.Fatalf("expected STRONG rate-limited escalation, got %+v", res)
		}
		if !slices.Contains(res.Factors, risk.TagRepeatedFailures) {
			t.Fatalf("expected repeated_failures tag, got %v", res.Factors)
		}
		if res.RiskScore != 0 {
			t.Fatalf("expected the computed score to be kept, got %v", res.RiskScore)
		}

		payload, err := fx.engine.GenerateVerificationChallenge(ctx, "u1", res)
		if err != nil {
			t.Fatalf("GenerateVerificationChallenge: %v", err)
		}
		if !payload.RateLimited || payload.EstimatedSeconds != 300 {
			t.Fatalf("expected rate-limited STRONG payload, got %+v", payload)
		}
	})
}

func TestTriggerEscalationWindowIsOneHour(t *testing.T) {
	fx := newEngineFixture(t, false, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ch := issueChallenge(t, fx.engine, "u1", risk.LevelLight)
		if _, err := fx.engine.ProcessVerificationResponse(ctx, "u1", ch, wrongAnswer(ch)); err != nil {
			t.Fatalf("ProcessVerificationResponse: %v", err)
		}
	}

	fx.clock.Advance(61 * time.Minute)
	ac := matchingAction("login")
	ac.At = engineEpoch
	res, err := fx.engine.CheckVerificationTrigger(ctx, "u1", ac)
	if err != nil {
		t.Fatalf("CheckVerificationTrigger: %v", err)
	}
	if res.RateLimited || res.Required {
		t.Fatalf("expected failures outside the window to be ignored, got %+v", res)
	}
}
