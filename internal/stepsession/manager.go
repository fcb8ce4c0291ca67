package stepsession

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/MrEthical07/stepup/factor"
	"github.com/MrEthical07/stepup/internal"
	"github.com/MrEthical07/stepup/risk"
)

// Submission failure reasons.
const (
	ReasonInvalidSession  = "Invalid verification session"
	ReasonExpired         = "Verification session expired"
	ReasonUnexpectedStep  = "Unexpected challenge step"
	ReasonInvalidResponse = "Challenge response invalid"
	ReasonTooManyAttempts = "Maximum attempts exceeded"
)

// Progress counts completed steps out of the total.
type Progress struct {
	Completed int `json:"completed"`
	Total     int `json:"total"`
}

// Started describes a freshly created session.
type Started struct {
	SessionID     string        `json:"sessionId"`
	Challenges    []factor.Type `json:"challenges"`
	NextChallenge factor.Type   `json:"nextChallenge"`
	Progress      Progress      `json:"progress"`
	ExpiresAt     time.Time     `json:"expiresAt"`
}

// Summary is returned once every step has passed.
type Summary struct {
	SessionID      string          `json:"sessionId"`
	UserID         string          `json:"userId"`
	Level          risk.Level      `json:"level"`
	CompletedSteps []CompletedStep `json:"completedSteps"`
	Duration       time.Duration   `json:"duration"`
	CompletedAt    time.Time       `json:"completedAt"`
}

// Outcome is the result of one submission. Structural problems such as an
// unknown session are reported here rather than as errors.
type Outcome struct {
	Success       bool        `json:"success"`
	Reason        string      `json:"reason,omitempty"`
	RetryAllowed  bool        `json:"retryAllowed"`
	Complete      bool        `json:"complete"`
	NextChallenge factor.Type `json:"nextChallenge,omitempty"`
	Progress      *Progress   `json:"progress,omitempty"`
	Summary       *Summary    `json:"summary,omitempty"`

	// UserID and Level identify the session owner when the session was found.
	UserID string     `json:"-"`
	Level  risk.Level `json:"-"`
}

// Manager drives sessions through their steps.
type Manager struct {
	store  Store
	now    func() time.Time
	logger *slog.Logger
}

// NewManager returns a Manager over store.
func NewManager(store Store, now func() time.Time, logger *slog.Logger) *Manager {
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{store: store, now: now, logger: logger}
}

// Initialize creates a session for level and returns its first step.
func (m *Manager) Initialize(ctx context.Context, userID string, level risk.Level, meta map[string]string) (*Started, error) {
	if userID == "" {
		return nil, errors.New("stepsession: user id is required")
	}
	s := &Session{
		ID:        internal.NewSessionID(),
		UserID:    userID,
		RiskLevel: level,
		Steps:     StepsFor(level),
		StartTime: m.now(),
		Context:   meta,
	}
	if err := m.store.Create(ctx, s); err != nil {
		return nil, fmt.Errorf("stepsession: create: %w", err)
	}
	return &Started{
		SessionID:     s.ID,
		Challenges:    append([]factor.Type(nil), s.Steps...),
		NextChallenge: s.Steps[0],
		Progress:      Progress{Completed: 0, Total: len(s.Steps)},
		ExpiresAt:     s.ExpiresAt(),
	}, nil
}

// Submit validates one step. Invalid input leaves the session where it was;
// the last valid step completes and deletes the session.
func (m *Manager) Submit(ctx context.Context, sessionID string, step factor.Type, in StepInput) (*Outcome, error) {
	var out Outcome
	var owner string
	var level risk.Level
	err := m.store.Update(ctx, sessionID, func(s *Session) (Action, error) {
		owner, level = s.UserID, s.RiskLevel
		now := m.now()
		if s.Expired(now) {
			out = Outcome{Reason: ReasonExpired, RetryAllowed: true}
			return ActionDelete, nil
		}

		expected, ok := s.Current()
		if !ok {
			out = Outcome{Reason: ReasonInvalidSession, RetryAllowed: true}
			return ActionDelete, nil
		}

		if step != expected || !ValidateStep(step, in) {
			s.Invalid++
			reason := ReasonInvalidResponse
			if step != expected {
				reason = ReasonUnexpectedStep
			}
			if s.Invalid >= MaxInvalidSubmissions {
				out = Outcome{Reason: ReasonTooManyAttempts}
				return ActionDelete, nil
			}
			out = Outcome{
				Reason:        reason,
				RetryAllowed:  true,
				NextChallenge: expected,
				Progress:      &Progress{Completed: s.CurrentIndex, Total: len(s.Steps)},
			}
			return ActionSave, nil
		}

		s.Completed = append(s.Completed, CompletedStep{Type: step, CompletedAt: now})
		s.CurrentIndex++

		if s.CurrentIndex == len(s.Steps) {
			s.IsComplete = true
			out = Outcome{
				Success:  true,
				Complete: true,
				Progress: &Progress{Completed: s.CurrentIndex, Total: len(s.Steps)},
				Summary: &Summary{
					SessionID:      s.ID,
					UserID:         s.UserID,
					Level:          s.RiskLevel,
					CompletedSteps: append([]CompletedStep(nil), s.Completed...),
					Duration:       now.Sub(s.StartTime),
					CompletedAt:    now,
				},
			}
			return ActionDelete, nil
		}

		out = Outcome{
			Success:       true,
			RetryAllowed:  true,
			NextChallenge: s.Steps[s.CurrentIndex],
			Progress:      &Progress{Completed: s.CurrentIndex, Total: len(s.Steps)},
		}
		return ActionSave, nil
	})

	if errors.Is(err, ErrNotFound) {
		return &Outcome{Reason: ReasonInvalidSession, RetryAllowed: true}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("stepsession: submit: %w", err)
	}
	out.UserID, out.Level = owner, level
	if out.Reason == ReasonTooManyAttempts {
		m.logger.InfoContext(ctx, "verification session terminated",
			slog.String("session_id", sessionID),
			slog.String("user_id", owner),
			slog.String("level", level.String()),
		)
	}
	return &out, nil
}

// Get returns a live session, treating expired ones as missing.
func (m *Manager) Get(ctx context.Context, sessionID string) (*Session, error) {
	s, err := m.store.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if s.Expired(m.now()) {
		return nil, ErrNotFound
	}
	return s, nil
}

// Sweep removes sessions older than TTL.
func (m *Manager) Sweep(ctx context.Context) (int, error) {
	return m.store.Sweep(ctx, m.now().Add(-TTL))
}
