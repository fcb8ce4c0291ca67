package stepup

import (
	"context"
	"log/slog"
	"slices"
	"strconv"

	"github.com/MrEthical07/stepup/risk"
)

const (
	messageRecentlyVerified = "Recently verified at this level; no additional verification required"
	messageEscalated        = "Multiple failed verification attempts; strong verification required"
)

// CheckVerificationTrigger scores the action against the user's baseline and
// decides whether it needs step-up verification.
//
// A successful verification at the computed level inside that level's
// cooldown waives the requirement. Otherwise three or more failures in the
// trailing hour force STRONG with RateLimited set, whatever the score. History
// read errors never waive verification.
func (e *Engine) CheckVerificationTrigger(ctx context.Context, userID string, action ActionContext) (*TriggerResult, error) {
	if userID == "" {
		return nil, wrapErr("check_verification_trigger", KindValidation, ErrInvalidUser)
	}
	start := e.now()
	defer e.observeSince(MetricAssessLatency, start)
	e.metricInc(MetricTriggerChecked)

	assessment := e.risk.Assess(ctx, userID, e.snapshot(ctx, action))
	if slices.Contains(assessment.Factors, risk.TagCalculationError) {
		e.metricInc(MetricRiskFailClosed)
	}

	result := &TriggerResult{
		Required:  assessment.Level != risk.LevelNone,
		Level:     assessment.Level,
		RiskScore: assessment.RiskScore,
		Factors:   append([]string(nil), assessment.Factors...),
		Message:   assessment.Message,
		Timestamp: assessment.Timestamp,
	}

	recent, err := e.tracker.HasRecentVerification(ctx, userID, assessment.Level)
	if err != nil {
		e.logger.WarnContext(ctx, "verification history unavailable; cooldown not applied",
			slog.String("user_id", userID),
			slog.Any("error", err),
		)
	}
	if recent {
		e.metricInc(MetricTriggerRecentSkip)
		result.Required = false
		result.RecentlyVerified = true
		result.Message = messageRecentlyVerified
		e.emitAudit(ctx, auditRecord{
			eventType: auditEventTriggerWaived,
			success:   true,
			userID:    userID,
			level:     assessment.Level,
			hasLevel:  true,
		})
		return result, nil
	}

	escalation, err := e.tracker.Escalation(ctx, userID)
	if err != nil {
		e.logger.WarnContext(ctx, "verification history unavailable; escalation not evaluated",
			slog.String("user_id", userID),
			slog.Any("error", err),
		)
	}
	if escalation.Escalate {
		e.metricInc(MetricEscalation)
		result.Required = true
		result.Level = escalation.Level
		result.RateLimited = escalation.RateLimited
		result.Factors = append(result.Factors, risk.TagRepeatedFailures)
		result.Message = messageEscalated
		e.emitAudit(ctx, auditRecord{
			eventType: auditEventEscalation,
			userID:    userID,
			level:     escalation.Level,
			hasLevel:  true,
			reason:    risk.TagRepeatedFailures,
			metadata: func() map[string]string {
				return map[string]string{
					"failures":      strconv.Itoa(escalation.Failures),
					"assessedLevel": assessment.Level.String(),
				}
			},
		})
	}

	if result.Required {
		e.metricInc(MetricTriggerRequired)
	}
	e.emitAudit(ctx, auditRecord{
		eventType: auditEventTriggerEvaluated,
		success:   !result.Required,
		userID:    userID,
		level:     result.Level,
		hasLevel:  true,
		metadata: func() map[string]string {
			return map[string]string{
				"action":    action.Action,
				"riskScore": strconv.FormatFloat(result.RiskScore, 'f', 3, 64),
			}
		},
	})
	return result, nil
}

func (e *Engine) snapshot(ctx context.Context, action ActionContext) risk.Snapshot {
	at := action.At
	if at.IsZero() {
		at = e.now()
	}

	var device *risk.DeviceProfile
	if action.Device != nil {
		d := *action.Device
		if d.BrowserFamily == "" {
			ua := action.UserAgent
			if ua == "" {
				ua = userAgentFromContext(ctx)
			}
			d.BrowserFamily = risk.BrowserFamily(ua)
		}
		device = &d
	}

	return risk.Snapshot{
		LoginTime: at,
		Device:    device,
		Patterns:  action.Patterns,
		Action:    action.Action,
		Context: risk.ActionFlags{
			FirstTime:       action.FirstTimeAction,
			HighValue:       action.HighValue,
			AdminPrivileges: action.AdminPrivileges,
		},
		Location: action.Location,
	}
}
