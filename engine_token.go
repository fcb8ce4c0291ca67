package stepup

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/MrEthical07/stepup/factor"
	"github.com/MrEthical07/stepup/jwt"
	"github.com/MrEthical07/stepup/risk"
)

// StepUpClaims are the verified contents of a step-up token.
type StepUpClaims = jwt.StepUpClaims

// issueToken returns nil when tokens are disabled or signing fails; the
// verification outcome stands either way.
func (e *Engine) issueToken(ctx context.Context, userID string, level risk.Level, factors []factor.Type, ref string) *StepUpToken {
	if e.tokens == nil {
		return nil
	}
	signed, exp, err := e.tokens.CreateStepUp(userID, level, factors, ref)
	if err != nil {
		e.logger.ErrorContext(ctx, "step-up token not issued",
			slog.String("user_id", userID),
			slog.Any("error", err),
		)
		return nil
	}
	e.metricInc(MetricTokenIssued)
	return &StepUpToken{Token: signed, Level: level, ExpiresAt: exp}
}

// VerifyStepUpToken parses token and checks that it asserts at least minLevel.
func (e *Engine) VerifyStepUpToken(ctx context.Context, token string, minLevel risk.Level) (*StepUpClaims, error) {
	const op = "verify_step_up_token"
	if e.tokens == nil {
		return nil, wrapErr(op, KindInternal, ErrTokenDisabled)
	}

	claims, err := e.tokens.ParseStepUp(token)
	if err != nil {
		e.rejectToken(ctx, "", err.Error())
		return nil, wrapErr(op, KindValidation, fmt.Errorf("%w: %v", ErrTokenInvalid, err))
	}
	if !claims.Level.AtLeast(minLevel) {
		e.rejectToken(ctx, claims.UID, fmt.Sprintf("level %s below %s", claims.Level, minLevel))
		return nil, wrapErr(op, KindValidation, ErrTokenLevel)
	}
	return claims, nil
}

func (e *Engine) rejectToken(ctx context.Context, userID, reason string) {
	e.metricInc(MetricTokenRejected)
	e.emitAudit(ctx, auditRecord{
		eventType: auditEventStepUpTokenRejected,
		userID:    userID,
		reason:    reason,
	})
}
