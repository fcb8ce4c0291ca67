package stepup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/MrEthical07/stepup/challenge"
	"github.com/MrEthical07/stepup/factor"
	"github.com/MrEthical07/stepup/internal"
	"github.com/MrEthical07/stepup/risk"
)

// Rejection reasons added on top of the verifier's.
const (
	ReasonUnknownChallenge = "Unknown or already used challenge"
	ReasonAttemptsExceeded = "Maximum attempts exceeded"
)

// GenerateVerificationChallenge builds the challenge for a trigger result and
// registers it in the single-use ledger. A trigger that does not require
// verification yields {Required: false} and no challenge.
func (e *Engine) GenerateVerificationChallenge(ctx context.Context, userID string, trigger *TriggerResult) (*ChallengePayload, error) {
	const op = "generate_verification_challenge"
	if userID == "" {
		return nil, wrapErr(op, KindValidation, ErrInvalidUser)
	}
	if trigger == nil {
		return nil, wrapErr(op, KindValidation, fmt.Errorf("%w: trigger result is required", ErrInvalidChallenge))
	}
	if !trigger.Required {
		return &ChallengePayload{Required: false}, nil
	}
	if !trigger.Level.Valid() {
		return nil, wrapErr(op, KindValidation, ErrInvalidLevel)
	}

	ch, err := e.factory.BuildLeveled(ctx, userID, trigger.Level)
	if err != nil {
		return nil, opErr(op, err)
	}
	if err := e.challenges.Save(ctx, internal.NonceKey(ch.Nonce), ch); err != nil {
		return nil, opErr(op, err)
	}

	e.metricInc(MetricChallengeIssued)
	e.emitAudit(ctx, auditRecord{
		eventType: auditEventChallengeIssued,
		success:   true,
		userID:    userID,
		challenge: string(ch.Shape),
		level:     ch.Level,
		hasLevel:  true,
		metadata: func() map[string]string {
			return map[string]string{"factors": factorList(ch.Factors())}
		},
	})

	return &ChallengePayload{
		Required:         true,
		Challenge:        ch,
		EstimatedSeconds: int(EstimatedTime(trigger.Level) / time.Second),
		Description:      challenge.Describe(ch),
		RateLimited:      trigger.RateLimited,
	}, nil
}

// ProcessVerificationResponse checks resp against the challenge issued under
// ch.Nonce. The stored copy of the challenge is authoritative; ch only names
// it. A verified challenge is consumed. Each failure counts against the
// challenge and the last permitted one ends it.
//
// The outcome is always appended to the user's verification history, including
// when this method returns an error or panics.
func (e *Engine) ProcessVerificationResponse(ctx context.Context, userID string, ch *challenge.Challenge, resp challenge.Response) (result *ProcessResult, err error) {
	const op = "process_verification_response"
	if userID == "" {
		return nil, wrapErr(op, KindValidation, ErrInvalidUser)
	}

	level := risk.LevelNone
	if ch != nil && ch.Level.Valid() {
		level = ch.Level
	}
	start := e.now()
	defer func() {
		if r := recover(); r != nil {
			e.logger.ErrorContext(ctx, "verification panicked",
				slog.String("user_id", userID),
				slog.Any("panic", r),
			)
			result = nil
			err = &Error{Kind: KindInternal, Op: op, Err: fmt.Errorf("panic: %v", r)}
		}
		e.recordAttempt(ctx, userID, level, result != nil && result.Verified)
		e.observeSince(MetricVerifyLatency, start)
	}()

	if ch == nil || ch.Nonce == "" {
		return nil, wrapErr(op, KindValidation, fmt.Errorf("%w: nonce is required", ErrInvalidChallenge))
	}

	key := internal.NonceKey(ch.Nonce)
	rec, err := e.challenges.Get(ctx, key)
	switch {
	case errors.Is(err, ErrChallengeNotFound):
		return e.unknownChallenge(ctx, userID, level), nil
	case errors.Is(err, ErrChallengeExpired):
		return e.expiredChallenge(ctx, userID, level), nil
	case err != nil:
		return nil, opErr(op, err)
	}

	stored := rec.Challenge
	level = stored.Level
	if stored.SubjectID != userID {
		return nil, wrapErr(op, KindValidation, ErrChallengeSubject)
	}

	verdict := e.verifier.Verify(ctx, stored, resp)
	if verdict.Verified {
		return e.acceptChallenge(ctx, userID, key, stored, verdict)
	}
	if verdict.Reason == challenge.ReasonExpired {
		_, _ = e.challenges.Consume(ctx, key)
		return e.expiredChallenge(ctx, userID, level), nil
	}

	maxAttempts := e.config.Challenge.MaxAttempts
	attempts, exceeded, err := e.challenges.RecordFailure(ctx, key, maxAttempts)
	switch {
	case errors.Is(err, ErrChallengeNotFound):
		return e.unknownChallenge(ctx, userID, level), nil
	case errors.Is(err, ErrChallengeExpired):
		return e.expiredChallenge(ctx, userID, level), nil
	case err != nil:
		return nil, opErr(op, err)
	}

	out := &ProcessResult{Result: verdict}
	if exceeded {
		out.Reason = ReasonAttemptsExceeded
		e.metricInc(MetricChallengeAttemptsExceeded)
		e.emitAudit(ctx, auditRecord{
			eventType: auditEventChallengeExhausted,
			userID:    userID,
			challenge: string(stored.Shape),
			level:     level,
			hasLevel:  true,
			reason:    verdict.Reason,
		})
		return out, nil
	}

	out.RetryAllowed = true
	out.AttemptsRemaining = maxAttempts - attempts
	e.metricInc(MetricChallengeFailed)
	e.emitAudit(ctx, auditRecord{
		eventType: auditEventChallengeFailed,
		userID:    userID,
		challenge: string(stored.Shape),
		level:     level,
		hasLevel:  true,
		reason:    verdict.Reason,
		metadata: func() map[string]string {
			return map[string]string{"attempt": strconv.Itoa(attempts)}
		},
	})
	return out, nil
}

func (e *Engine) acceptChallenge(ctx context.Context, userID, key string, stored *challenge.Challenge, verdict challenge.Result) (*ProcessResult, error) {
	consumed, err := e.challenges.Consume(ctx, key)
	if err != nil {
		return nil, opErr("process_verification_response", err)
	}
	if !consumed {
		// Another response verified the same challenge first.
		return e.unknownChallenge(ctx, userID, stored.Level), nil
	}

	e.metricInc(MetricChallengeVerified)
	if len(verdict.DegradedFactors) > 0 {
		e.metricInc(MetricWriteBackDegraded)
		e.emitAudit(ctx, auditRecord{
			eventType: auditEventWriteBackDegraded,
			success:   true,
			userID:    userID,
			challenge: string(stored.Shape),
			metadata: func() map[string]string {
				return map[string]string{"factors": factorList(verdict.DegradedFactors)}
			},
		})
	}
	e.emitAudit(ctx, auditRecord{
		eventType: auditEventChallengeVerified,
		success:   true,
		userID:    userID,
		challenge: string(stored.Shape),
		level:     stored.Level,
		hasLevel:  true,
	})

	return &ProcessResult{
		Result: verdict,
		Token:  e.issueToken(ctx, userID, stored.Level, verifiedFactors(verdict), key),
	}, nil
}

func (e *Engine) unknownChallenge(ctx context.Context, userID string, level risk.Level) *ProcessResult {
	e.metricInc(MetricChallengeUnknown)
	e.emitAudit(ctx, auditRecord{
		eventType: auditEventChallengeUnknown,
		userID:    userID,
		level:     level,
		hasLevel:  true,
		reason:    ReasonUnknownChallenge,
	})
	return &ProcessResult{
		Result:       challenge.Result{Reason: ReasonUnknownChallenge},
		RetryAllowed: true,
	}
}

func (e *Engine) expiredChallenge(ctx context.Context, userID string, level risk.Level) *ProcessResult {
	e.metricInc(MetricChallengeExpired)
	e.emitAudit(ctx, auditRecord{
		eventType: auditEventChallengeFailed,
		userID:    userID,
		level:     level,
		hasLevel:  true,
		reason:    challenge.ReasonExpired,
	})
	return &ProcessResult{
		Result:       challenge.Result{Reason: challenge.ReasonExpired},
		RetryAllowed: true,
	}
}

func verifiedFactors(r challenge.Result) []factor.Type {
	out := make([]factor.Type, 0, len(r.Factors))
	for _, t := range factor.All() {
		if fr, ok := r.Factors[t]; ok && fr.Verified {
			out = append(out, t)
		}
	}
	return out
}

func factorList(ts []factor.Type) string {
	var out string
	for i, t := range ts {
		if i > 0 {
			out += ","
		}
		out += t.String()
	}
	return out
}
