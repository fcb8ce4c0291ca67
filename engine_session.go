package stepup

import (
	"context"
	"strconv"

	"github.com/MrEthical07/stepup/factor"
	"github.com/MrEthical07/stepup/internal/stepsession"
	"github.com/MrEthical07/stepup/risk"
)

// InitializeVerification opens a multi-step verification session for level.
// The step list is fixed per level; meta is stored with the session as-is.
func (e *Engine) InitializeVerification(ctx context.Context, userID string, level risk.Level, meta map[string]string) (*VerificationStarted, error) {
	const op = "initialize_verification"
	if userID == "" {
		return nil, wrapErr(op, KindValidation, ErrInvalidUser)
	}
	if !level.Valid() {
		return nil, wrapErr(op, KindValidation, ErrInvalidLevel)
	}

	started, err := e.sessions.Initialize(ctx, userID, level, meta)
	if err != nil {
		return nil, opErr(op, err)
	}

	e.metricInc(MetricSessionStarted)
	e.emitAudit(ctx, auditRecord{
		eventType: auditEventSessionStarted,
		success:   true,
		userID:    userID,
		sessionID: started.SessionID,
		level:     level,
		hasLevel:  true,
		metadata: func() map[string]string {
			return map[string]string{"steps": factorList(started.Challenges)}
		},
	})
	return started, nil
}

// SubmitChallenge answers the current step of a session. Unknown, expired and
// rejected submissions come back as an unsuccessful StepResult, not an error.
// Session steps are self-asserted by the client, so neither completion nor
// termination touches the verification history, and no step-up token is
// minted. Only ProcessVerificationResponse grants assurance.
func (e *Engine) SubmitChallenge(ctx context.Context, sessionID string, step factor.Type, in StepInput) (*StepResult, error) {
	if sessionID == "" {
		e.metricInc(MetricSessionStepRejected)
		return &StepResult{StepOutcome: &StepOutcome{
			Reason:       stepsession.ReasonInvalidSession,
			RetryAllowed: true,
		}}, nil
	}

	out, err := e.sessions.Submit(ctx, sessionID, step, in)
	if err != nil {
		return nil, opErr("submit_challenge", err)
	}
	res := &StepResult{StepOutcome: out}

	switch {
	case out.Complete:
		e.metricInc(MetricSessionCompleted)
		e.emitAudit(ctx, e.sessionRecord(auditEventSessionCompleted, sessionID, step, out))

	case out.Success:
		e.metricInc(MetricSessionStepAccepted)
		e.emitAudit(ctx, e.sessionRecord(auditEventSessionStepAccepted, sessionID, step, out))

	case out.Reason == stepsession.ReasonTooManyAttempts:
		e.metricInc(MetricSessionStepRejected)
		e.emitAudit(ctx, e.sessionRecord(auditEventSessionTerminated, sessionID, step, out))

	case out.Reason == stepsession.ReasonExpired:
		e.metricInc(MetricSessionExpired)
		e.emitAudit(ctx, e.sessionRecord(auditEventSessionStepRejected, sessionID, step, out))

	default:
		e.metricInc(MetricSessionStepRejected)
		e.emitAudit(ctx, e.sessionRecord(auditEventSessionStepRejected, sessionID, step, out))
	}
	return res, nil
}

func (e *Engine) sessionRecord(eventType, sessionID string, step factor.Type, out *StepOutcome) auditRecord {
	return auditRecord{
		eventType: eventType,
		success:   out.Success,
		userID:    out.UserID,
		sessionID: sessionID,
		challenge: step.String(),
		level:     out.Level,
		hasLevel:  out.UserID != "",
		reason:    out.Reason,
		metadata: func() map[string]string {
			if out.Progress == nil {
				return nil
			}
			return map[string]string{
				"completed": strconv.Itoa(out.Progress.Completed),
				"total":     strconv.Itoa(out.Progress.Total),
			}
		},
	}
}
