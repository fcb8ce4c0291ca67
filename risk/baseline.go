package risk

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"
)

// ErrBaselineNotFound may be returned by a BaselineStore instead of (nil, nil).
// Both are treated as "no baseline".
var ErrBaselineNotFound = errors.New("risk: baseline not found")

// Category is a coarse bucket label. Baselines store categories, never raw timings.
type Category string

// Ordered bucket ladders. Distance between two categories is their index
// distance normalized to [0,1].
var (
	TypingLadder   = []Category{"very_slow", "slow", "medium", "fast", "very_fast"}
	ClickLadder    = []Category{"very_fast", "fast", "medium", "slow", "very_slow"}
	GestureLadder  = []Category{"instant", "quick", "steady", "deliberate"}
	typingCutoffs  = []float64{20, 35, 55, 80}
	clickCutoffs   = []time.Duration{150 * time.Millisecond, 300 * time.Millisecond, 600 * time.Millisecond, 1200 * time.Millisecond}
	gestureCutoffs = []time.Duration{250 * time.Millisecond, 600 * time.Millisecond, 1500 * time.Millisecond}
)

// TypingCategory buckets a typing speed in words per minute.
func TypingCategory(wpm float64) Category {
	for i, cut := range typingCutoffs {
		if wpm < cut {
			return TypingLadder[i]
		}
	}
	return TypingLadder[len(TypingLadder)-1]
}

// ClickCategory buckets the mean interval between clicks.
func ClickCategory(interval time.Duration) Category {
	for i, cut := range clickCutoffs {
		if interval < cut {
			return ClickLadder[i]
		}
	}
	return ClickLadder[len(ClickLadder)-1]
}

// GestureCategory buckets a gesture response time.
func GestureCategory(d time.Duration) Category {
	for i, cut := range gestureCutoffs {
		if d < cut {
			return GestureLadder[i]
		}
	}
	return GestureLadder[len(GestureLadder)-1]
}

// CategoryDistance returns |idx(a)-idx(b)| / (len(ladder)-1). Categories outside
// the ladder are treated as maximally distant.
func CategoryDistance(ladder []Category, a, b Category) float64 {
	if len(ladder) < 2 {
		return 0
	}
	ia, ib := indexOf(ladder, a), indexOf(ladder, b)
	if ia < 0 || ib < 0 {
		return 1
	}
	d := ia - ib
	if d < 0 {
		d = -d
	}
	return float64(d) / float64(len(ladder)-1)
}

func indexOf(ladder []Category, c Category) int {
	for i, v := range ladder {
		if v == c {
			return i
		}
	}
	return -1
}

// NavigationHash fingerprints an ordered navigation sequence. Empty input yields "".
func NavigationHash(seq []string) string {
	if len(seq) == 0 {
		return ""
	}
	sum := sha256.Sum256([]byte(strings.Join(seq, "\x1f")))
	return hex.EncodeToString(sum[:16])
}

// DeviceProfile holds the preferred device attributes of a baseline or snapshot.
type DeviceProfile struct {
	Resolution    string `json:"resolution,omitempty" yaml:"resolution,omitempty"`
	BrowserFamily string `json:"browserFamily,omitempty" yaml:"browserFamily,omitempty"`
	Timezone      string `json:"timezone,omitempty" yaml:"timezone,omitempty"`
	Language      string `json:"language,omitempty" yaml:"language,omitempty"`
}

func (d DeviceProfile) empty() bool {
	return d.Resolution == "" && d.BrowserFamily == "" && d.Timezone == "" && d.Language == ""
}

// LocationProfile is a coarse location: timezone and country only.
type LocationProfile struct {
	Timezone string `json:"timezone,omitempty" yaml:"timezone,omitempty"`
	Country  string `json:"country,omitempty" yaml:"country,omitempty"`
}

func (l LocationProfile) empty() bool {
	return l.Timezone == "" && l.Country == ""
}

// Baseline is the categorized behavioral profile of one user.
type Baseline struct {
	UserID          string          `json:"userId" yaml:"userId"`
	TypingSpeed     Category        `json:"typingSpeed,omitempty" yaml:"typingSpeed,omitempty"`
	ClickInterval   Category        `json:"clickInterval,omitempty" yaml:"clickInterval,omitempty"`
	GestureResponse Category        `json:"gestureResponse,omitempty" yaml:"gestureResponse,omitempty"`
	NavigationHash  string          `json:"navigationHash,omitempty" yaml:"navigationHash,omitempty"`
	TypicalHours    []int           `json:"typicalHours,omitempty" yaml:"typicalHours,omitempty"`
	Device          DeviceProfile   `json:"device" yaml:"device"`
	Location        LocationProfile `json:"location" yaml:"location"`
	StrengthScore   int             `json:"strengthScore" yaml:"strengthScore"`
}

// Enrollment carries the raw measurements collected while enrolling a user.
// Only BuildBaseline reads it; it is never stored.
type Enrollment struct {
	UserID             string
	TypingSpeeds       []float64
	ClickIntervals     []time.Duration
	GestureResponses   []time.Duration
	NavigationSequence []string
	LoginTimes         []time.Time
	Device             DeviceProfile
	Location           LocationProfile
	StrengthScore      int
}

// BuildBaseline reduces raw enrollment measurements to categories using the
// median of each series.
func BuildBaseline(in Enrollment) Baseline {
	b := Baseline{
		UserID:         in.UserID,
		NavigationHash: NavigationHash(in.NavigationSequence),
		Device:         in.Device,
		Location:       in.Location,
		StrengthScore:  clampInt(in.StrengthScore, 0, 100),
	}
	if len(in.TypingSpeeds) > 0 {
		b.TypingSpeed = TypingCategory(medianFloat(in.TypingSpeeds))
	}
	if len(in.ClickIntervals) > 0 {
		b.ClickInterval = ClickCategory(medianDuration(in.ClickIntervals))
	}
	if len(in.GestureResponses) > 0 {
		b.GestureResponse = GestureCategory(medianDuration(in.GestureResponses))
	}

	seen := make(map[int]struct{}, len(in.LoginTimes))
	for _, ts := range in.LoginTimes {
		h := ts.Hour()
		if _, ok := seen[h]; ok {
			continue
		}
		seen[h] = struct{}{}
		b.TypicalHours = append(b.TypicalHours, h)
	}
	sort.Ints(b.TypicalHours)
	return b
}

func medianFloat(v []float64) float64 {
	s := append([]float64(nil), v...)
	sort.Float64s(s)
	return s[len(s)/2]
}

func medianDuration(v []time.Duration) time.Duration {
	s := append([]time.Duration(nil), v...)
	sort.Slice(s, func(i, j int) bool { return s[i] < s[j] })
	return s[len(s)/2]
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// BaselineStore loads a user's baseline. A nil baseline with a nil error, or
// ErrBaselineNotFound, means the user has none.
type BaselineStore interface {
	GetBaseline(ctx context.Context, userID string) (*Baseline, error)
}

// MemoryBaselineStore is a mutex-guarded in-process BaselineStore.
type MemoryBaselineStore struct {
	mu        sync.RWMutex
	baselines map[string]Baseline
}

// NewMemoryBaselineStore creates an empty store.
func NewMemoryBaselineStore() *MemoryBaselineStore {
	return &MemoryBaselineStore{baselines: make(map[string]Baseline)}
}

// Put stores or replaces the baseline for b.UserID.
func (m *MemoryBaselineStore) Put(b Baseline) {
	b.TypicalHours = append([]int(nil), b.TypicalHours...)
	m.mu.Lock()
	m.baselines[b.UserID] = b
	m.mu.Unlock()
}

// GetBaseline returns a copy of the stored baseline, or nil when none exists.
func (m *MemoryBaselineStore) GetBaseline(ctx context.Context, userID string) (*Baseline, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	b, ok := m.baselines[userID]
	m.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	b.TypicalHours = append([]int(nil), b.TypicalHours...)
	return &b, nil
}
