package stepup

import (
	"context"

	"github.com/MrEthical07/stepup/risk"
)

const (
	auditEventTriggerEvaluated    = "trigger_evaluated"
	auditEventTriggerWaived       = "trigger_waived_recent_verification"
	auditEventEscalation          = "verification_escalated"
	auditEventChallengeIssued     = "challenge_issued"
	auditEventChallengeVerified   = "challenge_verified"
	auditEventChallengeFailed     = "challenge_failed"
	auditEventChallengeExhausted  = "challenge_attempts_exceeded"
	auditEventChallengeUnknown    = "challenge_unknown"
	auditEventWriteBackDegraded   = "identity_write_back_degraded"
	auditEventSessionStarted      = "verification_session_started"
	auditEventSessionStepAccepted = "verification_step_accepted"
	auditEventSessionStepRejected = "verification_step_rejected"
	auditEventSessionCompleted    = "verification_session_completed"
	auditEventSessionTerminated   = "verification_session_terminated"
	auditEventStepUpTokenRejected = "step_up_token_rejected"
)

// auditRecord carries the optional fields of one event.
type auditRecord struct {
	eventType string
	success   bool
	userID    string
	sessionID string
	challenge string
	level     risk.Level
	hasLevel  bool
	reason    string
	metadata  func() map[string]string
}

func (e *Engine) emitAudit(ctx context.Context, r auditRecord) {
	if e == nil || e.audit == nil {
		return
	}

	var metadata map[string]string
	if r.metadata != nil {
		metadata = r.metadata()
	}

	event := AuditEvent{
		Timestamp: e.now().UTC(),
		EventType: r.eventType,
		UserID:    r.userID,
		SessionID: r.sessionID,
		Challenge: r.challenge,
		IP:        clientIPFromContext(ctx),
		Success:   r.success,
		Reason:    r.reason,
		Metadata:  metadata,
	}
	if r.hasLevel {
		event.Level = r.level.String()
	}

	e.audit.Emit(ctx, event)
}
