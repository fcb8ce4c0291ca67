package tracker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MrEthical07/stepup/risk"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTrackerStoreTest(t *testing.T) (*RedisStore, func()) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewRedisStore(rdb, "svh"), func() {
		rdb.Close()
		mr.Close()
	}
}

// forEachStore runs fn against the memory and redis stores with a shared clock.
func forEachStore(t *testing.T, fn func(t *testing.T, tr *Tracker, clock *fakeClock)) {
	t.Run("memory", func(t *testing.T) {
		clock := &fakeClock{now: time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)}
		fn(t, New(NewMemoryStore(), clock.Now), clock)
	})
	t.Run("redis", func(t *testing.T) {
		store, done := newTrackerStoreTest(t)
		defer done()
		clock := &fakeClock{now: time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)}
		fn(t, New(store, clock.Now), clock)
	})
}

func TestCooldownTable(t *testing.T) {
	cases := map[risk.Level]time.Duration{
		risk.LevelNone:     0,
		risk.LevelLight:    time.Hour,
		risk.LevelMedium:   4 * time.Hour,
		risk.LevelStrong:   24 * time.Hour,
		risk.LevelCritical: 0,
	}
	for level, want := range cases {
		if got := Cooldown(level); got != want {
			t.Fatalf("%s: got %v want %v", level, got, want)
		}
	}
}

func TestHasRecentVerificationRespectsCooldown(t *testing.T) {
	forEachStore(t, func(t *testing.T, tr *Tracker, clock *fakeClock) {
		ctx := context.Background()
		if _, err := tr.Record(ctx, "u1", risk.LevelLight, true); err != nil {
			t.Fatalf("Record: %v", err)
		}

		clock.Advance(59 * time.Minute)
		ok, err := tr.HasRecentVerification(ctx, "u1", risk.LevelLight)
		if err != nil || !ok {
			t.Fatalf("expected recent LIGHT verification, ok=%v err=%v", ok, err)
		}

		ok, _ = tr.HasRecentVerification(ctx, "u1", risk.LevelMedium)
		if ok {
			t.Fatal("a LIGHT success must not satisfy MEDIUM")
		}

		clock.Advance(2 * time.Minute)
		ok, _ = tr.HasRecentVerification(ctx, "u1", risk.LevelLight)
		if ok {
			t.Fatal("LIGHT cooldown should have elapsed")
		}
	})
}

func TestFailedAttemptsDoNotCountAsRecent(t *testing.T) {
	forEachStore(t, func(t *testing.T, tr *Tracker, _ *fakeClock) {
		ctx := context.Background()
		_, _ = tr.Record(ctx, "u1", risk.LevelStrong, false)
		ok, err := tr.HasRecentVerification(ctx, "u1", risk.LevelStrong)
		if err != nil || ok {
			t.Fatalf("failure must not satisfy cooldown, ok=%v err=%v", ok, err)
		}
	})
}

func TestEscalationAfterThreeFailures(t *testing.T) {
	forEachStore(t, func(t *testing.T, tr *Tracker, clock *fakeClock) {
		ctx := context.Background()
		for i := 0; i < 2; i++ {
			_, _ = tr.Record(ctx, "u1", risk.LevelLight, false)
			clock.Advance(time.Minute)
		}
		esc, err := tr.Escalation(ctx, "u1")
		if err != nil || esc.Escalate || esc.Failures != 2 {
			t.Fatalf("unexpected escalation after two failures: %+v err=%v", esc, err)
		}

		_, _ = tr.Record(ctx, "u1", risk.LevelLight, false)
		esc, err = tr.Escalation(ctx, "u1")
		if err != nil {
			t.Fatalf("Escalation: %v", err)
		}
		if !esc.Escalate || !esc.RateLimited || esc.Level != risk.LevelStrong || esc.Failures != 3 {
			t.Fatalf("expected STRONG escalation, got %+v", esc)
		}

		clock.Advance(61 * time.Minute)
		esc, _ = tr.Escalation(ctx, "u1")
		if esc.Escalate || esc.Failures != 0 {
			t.Fatalf("failures older than an hour must not count: %+v", esc)
		}
	})
}

func TestHistoryIsPrunedToOneDay(t *testing.T) {
	forEachStore(t, func(t *testing.T, tr *Tracker, clock *fakeClock) {
		ctx := context.Background()
		_, _ = tr.Record(ctx, "u1", risk.LevelMedium, true)
		clock.Advance(25 * time.Hour)
		_, _ = tr.Record(ctx, "u1", risk.LevelLight, false)

		history, err := tr.History(ctx, "u1")
		if err != nil {
			t.Fatalf("History: %v", err)
		}
		if len(history) != 1 || history[0].Level != risk.LevelLight || history[0].Success {
			t.Fatalf("unexpected history %+v", history)
		}
	})
}

func TestMemoryStorePrunesOnWrite(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)}
	store := NewMemoryStore()
	tr := New(store, clock.Now)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, _ = tr.Record(ctx, "u1", risk.LevelLight, true)
		clock.Advance(7 * time.Hour)
	}
	if n := store.Len("u1"); n != 4 {
		t.Fatalf("expected 4 retained attempts, got %d", n)
	}
}

func TestRedisAttemptRoundTrip(t *testing.T) {
	store, done := newTrackerStoreTest(t)
	defer done()
	ctx := context.Background()
	ts := time.Date(2026, 6, 1, 8, 30, 0, 123, time.UTC)

	in := Attempt{ID: "a-1", UserID: "u9", Level: risk.LevelStrong, Success: true, Timestamp: ts}
	if err := store.Append(ctx, in, ts.Add(-HistoryWindow)); err != nil {
		t.Fatalf("Append: %v", err)
	}
	got, err := store.Since(ctx, "u9", ts.Add(-time.Second))
	if err != nil {
		t.Fatalf("Since: %v", err)
	}
	if len(got) != 1 || got[0].ID != "a-1" || got[0].Level != risk.LevelStrong || !got[0].Success || !got[0].Timestamp.Equal(ts) {
		t.Fatalf("unexpected attempts %+v", got)
	}
}

func TestRedisBackendErrorIsWrapped(t *testing.T) {
	store, done := newTrackerStoreTest(t)
	done()

	_, err := store.Since(context.Background(), "u1", time.Now())
	if !errors.Is(err, ErrBackend) {
		t.Fatalf("expected ErrBackend, got %v", err)
	}
}
