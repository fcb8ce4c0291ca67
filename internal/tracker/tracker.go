package tracker

import (
	"context"
	"errors"
	"time"

	"github.com/MrEthical07/stepup/internal"
	"github.com/MrEthical07/stepup/risk"
)

const (
	// HistoryWindow bounds how long any attempt is retained.
	HistoryWindow = 24 * time.Hour
	// FailureWindow is the trailing window failures are counted over.
	FailureWindow = time.Hour
	// EscalationThreshold is the failure count that forces STRONG verification.
	EscalationThreshold = 3
)

// ErrBackend wraps storage failures.
var ErrBackend = errors.New("verification history backend unavailable")

// Attempt is one recorded verification outcome.
type Attempt struct {
	ID        string     `json:"id"`
	UserID    string     `json:"userId"`
	Level     risk.Level `json:"level"`
	Success   bool       `json:"success"`
	Timestamp time.Time  `json:"timestamp"`
}

// Cooldown is how long a successful verification at level suppresses another
// challenge at the same level. NONE and CRITICAL never cool down.
func Cooldown(level risk.Level) time.Duration {
	switch level {
	case risk.LevelLight:
		return time.Hour
	case risk.LevelMedium:
		return 4 * time.Hour
	case risk.LevelStrong:
		return 24 * time.Hour
	default:
		return 0
	}
}

// Store persists attempts per user.
type Store interface {
	// Append stores a and drops the user's attempts older than cutoff.
	Append(ctx context.Context, a Attempt, cutoff time.Time) error
	// Since returns the user's attempts with Timestamp >= since, oldest first.
	Since(ctx context.Context, userID string, since time.Time) ([]Attempt, error)
}

// Escalation is the outcome of the repeated-failure rule.
type Escalation struct {
	Escalate    bool       `json:"escalate"`
	Level       risk.Level `json:"level"`
	RateLimited bool       `json:"rateLimited"`
	Failures    int        `json:"failures"`
}

// Tracker is the verification history service.
type Tracker struct {
	store Store
	now   func() time.Time
}

// New returns a Tracker over store. A nil clock uses time.Now.
func New(store Store, now func() time.Time) *Tracker {
	if now == nil {
		now = time.Now
	}
	return &Tracker{store: store, now: now}
}

// Record appends an outcome and prunes history older than 24 hours.
func (t *Tracker) Record(ctx context.Context, userID string, level risk.Level, success bool) (Attempt, error) {
	now := t.now()
	a := Attempt{
		ID:        internal.NewSessionID(),
		UserID:    userID,
		Level:     level,
		Success:   success,
		Timestamp: now,
	}
	if err := t.store.Append(ctx, a, now.Add(-HistoryWindow)); err != nil {
		return Attempt{}, err
	}
	return a, nil
}

// HasRecentVerification reports a successful attempt at exactly level inside
// that level's cooldown.
func (t *Tracker) HasRecentVerification(ctx context.Context, userID string, level risk.Level) (bool, error) {
	cd := Cooldown(level)
	if cd == 0 {
		return false, nil
	}
	now := t.now()
	attempts, err := t.store.Since(ctx, userID, now.Add(-cd))
	if err != nil {
		return false, err
	}
	for _, a := range attempts {
		if a.Success && a.Level == level {
			return true, nil
		}
	}
	return false, nil
}

// RecentFailures counts failed attempts in the trailing hour.
func (t *Tracker) RecentFailures(ctx context.Context, userID string) (int, error) {
	attempts, err := t.store.Since(ctx, userID, t.now().Add(-FailureWindow))
	if err != nil {
		return 0, err
	}
	n := 0
	for _, a := range attempts {
		if !a.Success {
			n++
		}
	}
	return n, nil
}

// Escalation applies the repeated-failure rule.
func (t *Tracker) Escalation(ctx context.Context, userID string) (Escalation, error) {
	n, err := t.RecentFailures(ctx, userID)
	if err != nil {
		return Escalation{}, err
	}
	if n >= EscalationThreshold {
		return Escalation{Escalate: true, Level: risk.LevelStrong, RateLimited: true, Failures: n}, nil
	}
	return Escalation{Failures: n}, nil
}

// History returns the retained attempts for userID.
func (t *Tracker) History(ctx context.Context, userID string) ([]Attempt, error) {
	return t.store.Since(ctx, userID, t.now().Add(-HistoryWindow))
}
