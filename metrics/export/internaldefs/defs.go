package internaldefs

import (
	"github.com/MrEthical07/stepup"
)

// CounterDef binds an engine counter to its exported name.
type CounterDef struct {
	ID   stepup.MetricID
	Name string
	Help string
}

// HistogramDef binds an engine latency histogram to its exported name.
type HistogramDef struct {
	ID   stepup.MetricID
	Name string
	Help string
}

// CounterDefs lists every exported engine counter.
var CounterDefs = []CounterDef{
	{ID: stepup.MetricTriggerChecked, Name: "stepup_trigger_checked_total", Help: "Verification trigger evaluations."},
	{ID: stepup.MetricTriggerRequired, Name: "stepup_trigger_required_total", Help: "Trigger evaluations that required verification."},
	{ID: stepup.MetricTriggerRecentSkip, Name: "stepup_trigger_recent_skip_total", Help: "Verifications waived by a recent success."},
	{ID: stepup.MetricEscalation, Name: "stepup_escalation_total", Help: "Escalations to STRONG after repeated failures."},
	{ID: stepup.MetricRiskFailClosed, Name: "stepup_risk_fail_closed_total", Help: "Risk assessments that failed closed."},
	{ID: stepup.MetricChallengeIssued, Name: "stepup_challenge_issued_total", Help: "Issued challenges."},
	{ID: stepup.MetricChallengeVerified, Name: "stepup_challenge_verified_total", Help: "Successfully answered challenges."},
	{ID: stepup.MetricChallengeFailed, Name: "stepup_challenge_failed_total", Help: "Failed challenge responses."},
	{ID: stepup.MetricChallengeExpired, Name: "stepup_challenge_expired_total", Help: "Responses to expired challenges."},
	{ID: stepup.MetricChallengeAttemptsExceeded, Name: "stepup_challenge_attempts_exceeded_total", Help: "Challenges invalidated by the attempt ceiling."},
	{ID: stepup.MetricChallengeUnknown, Name: "stepup_challenge_unknown_total", Help: "Responses to unknown or consumed challenges."},
	{ID: stepup.MetricWriteBackDegraded, Name: "stepup_write_back_degraded_total", Help: "Verified challenges whose profile write-back failed."},
	{ID: stepup.MetricSessionStarted, Name: "stepup_session_started_total", Help: "Started multi-step sessions."},
	{ID: stepup.MetricSessionStepAccepted, Name: "stepup_session_step_accepted_total", Help: "Accepted session steps."},
	{ID: stepup.MetricSessionStepRejected, Name: "stepup_session_step_rejected_total", Help: "Rejected session steps."},
	{ID: stepup.MetricSessionCompleted, Name: "stepup_session_completed_total", Help: "Completed multi-step sessions."},
	{ID: stepup.MetricSessionExpired, Name: "stepup_session_expired_total", Help: "Submissions to expired sessions."},
	{ID: stepup.MetricSessionSwept, Name: "stepup_session_swept_total", Help: "Expired sessions removed by the sweeper."},
	{ID: stepup.MetricTokenIssued, Name: "stepup_token_issued_total", Help: "Issued step-up tokens."},
	{ID: stepup.MetricTokenRejected, Name: "stepup_token_rejected_total", Help: "Rejected step-up tokens."},
	{ID: stepup.MetricHistoryWriteFailure, Name: "stepup_history_write_failure_total", Help: "Verification history writes that failed."},
}

// HistogramDefs lists the exported latency histograms.
var HistogramDefs = []HistogramDef{
	{ID: stepup.MetricAssessLatency, Name: "stepup_assess_latency_seconds", Help: "CheckVerificationTrigger latency."},
	{ID: stepup.MetricVerifyLatency, Name: "stepup_verify_latency_seconds", Help: "ProcessVerificationResponse latency."},
}

// HistogramUpperBounds are the finite bucket bounds in seconds. The engine
// keeps one extra +Inf bucket after them.
var HistogramUpperBounds = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5}

// NormalizeBuckets pads or truncates raw to the engine bucket count.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets turns per-bucket counts into the running totals exporters expect.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
