package stepup

import (
	"io"
	"time"

	"github.com/MrEthical07/stepup/challenge"
	internalaudit "github.com/MrEthical07/stepup/internal/audit"
	"github.com/MrEthical07/stepup/internal/stepsession"
	"github.com/MrEthical07/stepup/risk"
)

// ActionContext describes the action a user is attempting and what the
// client observed about the session. Nil sections are treated as missing data
// and scored with the conservative defaults.
type ActionContext struct {
	Action          string                `json:"action"`
	FirstTimeAction bool                  `json:"firstTimeAction,omitempty"`
	HighValue       bool                  `json:"highValue,omitempty"`
	AdminPrivileges bool                  `json:"adminPrivileges,omitempty"`
	Device          *risk.DeviceProfile   `json:"device,omitempty"`
	Patterns        *risk.Patterns        `json:"patterns,omitempty"`
	Location        *risk.LocationProfile `json:"location,omitempty"`
	// UserAgent fills Device.BrowserFamily when the client did not report one.
	// WithUserAgent on the request context is used when this is empty.
	UserAgent string `json:"userAgent,omitempty"`
	// At is the action time. Zero means now.
	At time.Time `json:"at,omitempty"`
}

// TriggerResult says whether an action needs verification and at what level.
type TriggerResult struct {
	Required    bool       `json:"required"`
	Level       risk.Level `json:"level"`
	RiskScore   float64    `json:"riskScore"`
	Factors     []string   `json:"factors"`
	Message     string     `json:"message"`
	RateLimited bool       `json:"rateLimited,omitempty"`
	// RecentlyVerified is set when a cooldown from an earlier success waived
	// verification.
	RecentlyVerified bool      `json:"recentlyVerified,omitempty"`
	Timestamp        time.Time `json:"timestamp"`
}

// ChallengePayload is what a client needs to answer a single-round challenge.
type ChallengePayload struct {
	Required         bool                 `json:"required"`
	Challenge        *challenge.Challenge `json:"challenge,omitempty"`
	EstimatedSeconds int                  `json:"estimatedTime,omitempty"`
	Description      string               `json:"description,omitempty"`
	RateLimited      bool                 `json:"rateLimited,omitempty"`
}

// StepUpToken is a signed assertion of a completed verification.
type StepUpToken struct {
	Token     string     `json:"token"`
	Level     risk.Level `json:"level"`
	ExpiresAt time.Time  `json:"expiresAt"`
}

// ProcessResult is the outcome of answering a challenge.
type ProcessResult struct {
	challenge.Result
	// RetryAllowed is false once the challenge is consumed, expired, or has
	// absorbed its maximum failed attempts.
	RetryAllowed      bool         `json:"retryAllowed"`
	AttemptsRemaining int          `json:"attemptsRemaining"`
	Token             *StepUpToken `json:"stepUpToken,omitempty"`
}

// VerificationStarted describes a new multi-step session.
type VerificationStarted = stepsession.Started

// StepOutcome is the result of one step submission.
type StepOutcome = stepsession.Outcome

// StepInput is a client's answer to one session step.
type StepInput = stepsession.StepInput

// GestureSample is one recorded gesture within a StepInput.
type GestureSample = stepsession.GestureSample

// SessionProgress counts completed steps.
type SessionProgress = stepsession.Progress

// StepResult wraps a StepOutcome. Session completion carries no token.
type StepResult struct {
	*StepOutcome
}

// AuditEvent is one emitted audit record.
type AuditEvent = internalaudit.Event

// AuditSink receives audit events from the dispatcher goroutine.
type AuditSink = internalaudit.Sink

// NoOpSink discards events.
type NoOpSink = internalaudit.NoOpSink

// ChannelSink buffers events on a channel.
type ChannelSink = internalaudit.ChannelSink

// JSONWriterSink writes one JSON object per event.
type JSONWriterSink = internalaudit.JSONWriterSink

// SlogSink logs events through slog.
type SlogSink = internalaudit.SlogSink

// NewChannelSink returns a ChannelSink with the given buffer.
func NewChannelSink(buffer int) *ChannelSink {
	return internalaudit.NewChannelSink(buffer)
}

// NewJSONWriterSink returns a sink writing JSON lines to w.
func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return internalaudit.NewJSONWriterSink(w)
}

var NewSlogSink = internalaudit.NewSlogSink

// EstimatedTime is the expected time to answer a challenge at level.
func EstimatedTime(level risk.Level) time.Duration {
	switch level {
	case risk.LevelNone:
		return 0
	case risk.LevelLight:
		return 30 * time.Second
	case risk.LevelMedium:
		return 2 * time.Minute
	default:
		return 5 * time.Minute
	}
}
