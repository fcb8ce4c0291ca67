package stepsession

import (
	"errors"
	"time"

	"github.com/MrEthical07/stepup/factor"
	"github.com/MrEthical07/stepup/password"
	"github.com/MrEthical07/stepup/risk"
)

const (
	// TTL is the fixed lifetime of a verification session.
	TTL = 10 * time.Minute
	// MaxInvalidSubmissions ends a session after this many rejected submissions.
	MaxInvalidSubmissions = 5

	minTypingAccuracy = 80
	minTypingSpeed    = 10
)

var (
	ErrNotFound = errors.New("verification session not found")
	ErrExists   = errors.New("verification session already exists")
	ErrBackend  = errors.New("verification session backend unavailable")
)

// State is the lifecycle position of a session.
type State uint8

const (
	StateCreated State = iota
	StateInProgress
	StateComplete
	StateExpired
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "CREATED"
	case StateInProgress:
		return "IN_PROGRESS"
	case StateComplete:
		return "COMPLETE"
	case StateExpired:
		return "EXPIRED"
	default:
		return "UNKNOWN"
	}
}

// CompletedStep records that a step passed. Submitted material is not kept.
type CompletedStep struct {
	Type        factor.Type `json:"type"`
	CompletedAt time.Time   `json:"completedAt"`
}

// Session is an ordered multi-step verification in progress.
type Session struct {
	ID           string            `json:"sessionId"`
	UserID       string            `json:"userId"`
	RiskLevel    risk.Level        `json:"riskLevel"`
	Steps        []factor.Type     `json:"challenges"`
	CurrentIndex int               `json:"currentIndex"`
	Completed    []CompletedStep   `json:"completed"`
	StartTime    time.Time         `json:"startTime"`
	IsComplete   bool              `json:"isComplete"`
	Invalid      int               `json:"invalidSubmissions"`
	Context      map[string]string `json:"context,omitempty"`
}

// ExpiresAt is StartTime plus TTL.
func (s *Session) ExpiresAt() time.Time {
	return s.StartTime.Add(TTL)
}

// Expired reports whether the session outlived TTL at now.
func (s *Session) Expired(now time.Time) bool {
	return now.Sub(s.StartTime) > TTL
}

// State derives the lifecycle state at now.
func (s *Session) State(now time.Time) State {
	switch {
	case s.IsComplete:
		return StateComplete
	case s.Expired(now):
		return StateExpired
	case s.CurrentIndex == 0 && s.Invalid == 0:
		return StateCreated
	default:
		return StateInProgress
	}
}

// Current returns the step awaiting submission.
func (s *Session) Current() (factor.Type, bool) {
	if s.CurrentIndex >= len(s.Steps) {
		return 0, false
	}
	return s.Steps[s.CurrentIndex], true
}

func (s *Session) clone() *Session {
	out := *s
	out.Steps = append([]factor.Type(nil), s.Steps...)
	out.Completed = append([]CompletedStep(nil), s.Completed...)
	if s.Context != nil {
		out.Context = make(map[string]string, len(s.Context))
		for k, v := range s.Context {
			out.Context[k] = v
		}
	}
	return &out
}

// StepsFor returns the ordered step list for a risk level.
func StepsFor(level risk.Level) []factor.Type {
	switch level {
	case risk.LevelLight:
		return []factor.Type{factor.Password, factor.Device}
	case risk.LevelMedium:
		return []factor.Type{factor.Password, factor.Biometric, factor.Device}
	case risk.LevelStrong, risk.LevelCritical:
		return []factor.Type{factor.Password, factor.Biometric, factor.Gesture, factor.Typing, factor.Device}
	default:
		return []factor.Type{factor.Password}
	}
}

// GestureSample is one recorded gesture. All three fields must be present for
// the sample to count.
type GestureSample struct {
	Pattern  *string  `json:"pattern,omitempty"`
	Timing   *float64 `json:"timing,omitempty"`
	Pressure *float64 `json:"pressure,omitempty"`
}

func (g GestureSample) complete() bool {
	return g.Pattern != nil && *g.Pattern != "" && g.Timing != nil && g.Pressure != nil
}

// StepInput is the client's submission for one step. Only the fields relevant
// to the step type are read.
type StepInput struct {
	Password string          `json:"password,omitempty"`
	Verified bool            `json:"verified,omitempty"`
	Gestures []GestureSample `json:"gestures,omitempty"`
	Accuracy float64         `json:"accuracy,omitempty"`
	Speed    float64         `json:"speed,omitempty"`
}

// ValidateStep applies the per-step acceptance rule.
func ValidateStep(t factor.Type, in StepInput) bool {
	switch t {
	case factor.Password:
		return len(in.Password) >= password.MinLength
	case factor.Biometric, factor.Device:
		return in.Verified
	case factor.Gesture:
		for _, g := range in.Gestures {
			if g.complete() {
				return true
			}
		}
		return false
	case factor.Typing:
		return in.Accuracy >= minTypingAccuracy && in.Speed > minTypingSpeed
	case factor.Location, factor.Activity:
		return false
	default:
		return false
	}
}
