package stepup

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/MrEthical07/stepup/challenge"
	internalaudit "github.com/MrEthical07/stepup/internal/audit"
	"github.com/MrEthical07/stepup/internal/stepsession"
	"github.com/MrEthical07/stepup/internal/tracker"
	"github.com/MrEthical07/stepup/jwt"
	"github.com/MrEthical07/stepup/risk"
)

// Engine composes risk scoring, challenge issuance and verification, step
// sessions, and the attempt history. Build one with [New].
type Engine struct {
	config Config
	now    func() time.Time
	logger *slog.Logger

	risk       *risk.Engine
	tracker    *tracker.Tracker
	factory    *challenge.Factory
	verifier   *challenge.Verifier
	sessions   *stepsession.Manager
	challenges challengeStore
	tokens     *jwt.Manager
	audit      *internalaudit.Dispatcher
	metrics    *Metrics

	sweepCancel context.CancelFunc
	sweepDone   chan struct{}
	closeOnce   sync.Once
}

// Close stops the background sweeper and flushes pending audit events.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	e.closeOnce.Do(func() {
		if e.sweepCancel != nil {
			e.sweepCancel()
			<-e.sweepDone
		}
		if e.audit != nil {
			e.audit.Close()
		}
	})
}

// AuditDropped returns how many audit events were dropped on a full buffer.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

// MetricsSnapshot returns a copy of the engine counters.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

func (e *Engine) observeSince(id MetricID, start time.Time) {
	if e == nil || !e.metrics.LatencyEnabled() {
		return
	}
	e.metrics.Observe(id, e.now().Sub(start))
}

// Sweep removes expired verification sessions and challenges. It runs on the
// configured interval in the background; call it directly when the sweeper
// is disabled.
func (e *Engine) Sweep(ctx context.Context) (int, error) {
	sessions, err := e.sessions.Sweep(ctx)
	for i := 0; i < sessions; i++ {
		e.metricInc(MetricSessionSwept)
	}
	if err != nil {
		return sessions, opErr("sweep", err)
	}
	challenges, err := e.challenges.Sweep(ctx)
	if err != nil {
		return sessions + challenges, opErr("sweep", err)
	}
	return sessions + challenges, nil
}

func (e *Engine) startSweeper(interval time.Duration) {
	ctx, cancel := context.WithCancel(context.Background())
	e.sweepCancel = cancel
	e.sweepDone = make(chan struct{})

	go func() {
		defer close(e.sweepDone)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				n, err := e.Sweep(ctx)
				if err != nil {
					e.logger.WarnContext(ctx, "verification sweep failed", slog.Any("error", err))
					continue
				}
				if n > 0 {
					e.logger.DebugContext(ctx, "expired verification state removed", slog.Int("count", n))
				}
			}
		}
	}()
}

// recordAttempt appends to the history. Failures are logged, never returned:
// a history outage must not turn a verification outcome into an error.
func (e *Engine) recordAttempt(ctx context.Context, userID string, level risk.Level, success bool) {
	if userID == "" {
		return
	}
	if _, err := e.tracker.Record(context.WithoutCancel(ctx), userID, level, success); err != nil {
		e.metricInc(MetricHistoryWriteFailure)
		e.logger.ErrorContext(ctx, "verification attempt not recorded",
			slog.String("user_id", userID),
			slog.String("level", level.String()),
			slog.Bool("success", success),
			slog.Any("error", err),
		)
	}
}
