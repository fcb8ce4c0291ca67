package risk

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

// Factor tags reported on an Assessment.
const (
	TagUnusualTime      = "unusual_time"
	TagNewDevice        = "new_device"
	TagBehaviorAnomaly  = "behavior_anomaly"
	TagSensitiveAction  = "sensitive_action"
	TagLocationChange   = "location_change"
	TagNoBaseline       = "no_baseline"
	TagCalculationError = "calculation_error"
	TagRepeatedFailures = "repeated_failures"
)

const (
	noBaselineScore = 0.4
	failClosedScore = 0.5

	missingDeviceRisk   = 0.4
	missingBehaviorRisk = 0.3
	missingLocationRisk = 0.1
)

// Weights are the per-sub-score multipliers. They must sum to 1.
type Weights struct {
	Device   float64 `json:"device" yaml:"device" toml:"device"`
	Behavior float64 `json:"behavior" yaml:"behavior" toml:"behavior"`
	Time     float64 `json:"time" yaml:"time" toml:"time"`
	Action   float64 `json:"action" yaml:"action" toml:"action"`
	Location float64 `json:"location" yaml:"location" toml:"location"`
}

func (w Weights) sum() float64 {
	return w.Device + w.Behavior + w.Time + w.Action + w.Location
}

// Config tunes the scorer. Thresholds are fixed; weights and the action table are not.
type Config struct {
	Weights           Weights            `json:"weights" yaml:"weights" toml:"weights"`
	ActionRisk        map[string]float64 `json:"actionRisk" yaml:"actionRisk" toml:"action_risk"`
	UnknownActionRisk float64            `json:"unknownActionRisk" yaml:"unknownActionRisk" toml:"unknown_action_risk"`
}

// DefaultConfig returns the standard weights and action table.
func DefaultConfig() Config {
	return Config{
		Weights: Weights{Device: 0.35, Behavior: 0.25, Time: 0.15, Action: 0.15, Location: 0.10},
		ActionRisk: map[string]float64{
			"login":                  0,
			"browse":                 0,
			"view_profile":           0.05,
			"update_profile":         0.1,
			"add_device":             0.2,
			"change_password":        0.2,
			"transfer":               0.25,
			"high_value_transaction": 0.25,
			"admin_action":           0.3,
		},
		UnknownActionRisk: 0.1,
	}
}

// Validate checks weight bounds and that weights sum to 1.
func (c Config) Validate() error {
	for name, w := range map[string]float64{
		"device": c.Weights.Device, "behavior": c.Weights.Behavior, "time": c.Weights.Time,
		"action": c.Weights.Action, "location": c.Weights.Location,
	} {
		if w < 0 || w > 1 || math.IsNaN(w) {
			return fmt.Errorf("risk: weight %s out of range: %v", name, w)
		}
	}
	if math.Abs(c.Weights.sum()-1) > 1e-9 {
		return fmt.Errorf("risk: weights must sum to 1, got %v", c.Weights.sum())
	}
	for action, v := range c.ActionRisk {
		if v < 0 || v > 1 {
			return fmt.Errorf("risk: action risk for %q out of range: %v", action, v)
		}
	}
	if c.UnknownActionRisk < 0 || c.UnknownActionRisk > 1 {
		return fmt.Errorf("risk: unknown action risk out of range: %v", c.UnknownActionRisk)
	}
	return nil
}

// ActionFlags are the contextual bonuses applied on top of the action table.
type ActionFlags struct {
	FirstTime       bool `json:"firstTime,omitempty"`
	HighValue       bool `json:"highValue,omitempty"`
	AdminPrivileges bool `json:"adminPrivileges,omitempty"`
}

// Patterns are the raw interaction measurements of the current session. They are
// categorized on the fly and never retained.
type Patterns struct {
	TypingSpeed        float64       `json:"typingSpeed,omitempty"`
	ClickInterval      time.Duration `json:"clickInterval,omitempty"`
	NavigationSequence []string      `json:"navigationSequence,omitempty"`
}

func (p *Patterns) empty() bool {
	return p == nil || (p.TypingSpeed <= 0 && p.ClickInterval <= 0 && len(p.NavigationSequence) == 0)
}

// Snapshot is the observed state of one action.
type Snapshot struct {
	LoginTime time.Time        `json:"loginTime"`
	Device    *DeviceProfile   `json:"device,omitempty"`
	Patterns  *Patterns        `json:"patterns,omitempty"`
	Action    string           `json:"action"`
	Context   ActionFlags      `json:"context"`
	Location  *LocationProfile `json:"location,omitempty"`
}

// SubScores exposes each weighted component for explainability.
type SubScores struct {
	Time     float64 `json:"time"`
	Device   float64 `json:"device"`
	Behavior float64 `json:"behavior"`
	Action   float64 `json:"action"`
	Location float64 `json:"location"`
}

// Assessment is the result of scoring one snapshot. It is never persisted.
type Assessment struct {
	RiskScore float64    `json:"riskScore"`
	Level     Level      `json:"level"`
	Factors   []string   `json:"factors"`
	Message   string     `json:"message"`
	Timestamp time.Time  `json:"timestamp"`
	SubScores *SubScores `json:"subScores,omitempty"`
}

// Option customizes an Engine.
type Option func(*Engine)

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// Engine is the risk assessment engine. It is safe for concurrent use.
type Engine struct {
	baselines BaselineStore
	cfg       Config
	now       func() time.Time
}

// NewEngine validates cfg and binds the baseline store.
func NewEngine(store BaselineStore, cfg Config, opts ...Option) (*Engine, error) {
	if store == nil {
		return nil, errors.New("risk: baseline store is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	e := &Engine{baselines: store, cfg: cfg, now: time.Now}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Assess scores snap against the user's baseline. It never fails: a missing
// baseline yields 0.4/MEDIUM tagged no_baseline, and any internal failure
// yields 0.5/MEDIUM tagged calculation_error.
func (e *Engine) Assess(ctx context.Context, userID string, snap Snapshot) (out Assessment) {
	ts := e.now()
	defer func() {
		if r := recover(); r != nil {
			out = failClosed(ts)
		}
	}()

	baseline, err := e.baselines.GetBaseline(ctx, userID)
	if err != nil && !errors.Is(err, ErrBaselineNotFound) {
		return failClosed(ts)
	}
	if baseline == nil {
		return Assessment{
			RiskScore: noBaselineScore,
			Level:     LevelMedium,
			Factors:   []string{TagNoBaseline},
			Message:   "No behavioral baseline on record; verification required",
			Timestamp: ts,
		}
	}

	subs := e.score(baseline, snap, ts)
	w := e.cfg.Weights
	total := subs.Time*w.Time + subs.Device*w.Device + subs.Behavior*w.Behavior +
		subs.Action*w.Action + subs.Location*w.Location
	if math.IsNaN(total) {
		return failClosed(ts)
	}
	total = clamp01(total)
	level := LevelForScore(total)

	return Assessment{
		RiskScore: total,
		Level:     level,
		Factors:   tagsFor(subs),
		Message:   messageFor(level),
		Timestamp: ts,
		SubScores: &subs,
	}
}

func failClosed(ts time.Time) Assessment {
	return Assessment{
		RiskScore: failClosedScore,
		Level:     LevelMedium,
		Factors:   []string{TagCalculationError},
		Message:   "Risk could not be calculated; verification required",
		Timestamp: ts,
	}
}

func (e *Engine) score(b *Baseline, snap Snapshot, now time.Time) SubScores {
	login := snap.LoginTime
	if login.IsZero() {
		login = now
	}
	return SubScores{
		Time:     TimeRisk(b.TypicalHours, login.Hour()),
		Device:   DeviceRisk(b.Device, snap.Device),
		Behavior: BehaviorRisk(b, snap.Patterns),
		Action:   e.ActionRisk(snap.Action, snap.Context),
		Location: LocationRisk(b.Location, snap.Location),
	}
}

// TimeRisk is 0 when hour is within two hours (circularly) of any typical hour,
// otherwise min(0.8, distance/12). No typical hours contributes nothing.
func TimeRisk(typical []int, hour int) float64 {
	if len(typical) == 0 {
		return 0
	}
	best := 24
	for _, h := range typical {
		d := circularHourDistance(h, hour)
		if d < best {
			best = d
		}
	}
	if best <= 2 {
		return 0
	}
	return math.Min(0.8, float64(best)/12)
}

func circularHourDistance(a, b int) int {
	d := ((a-b)%24 + 24) % 24
	if d > 12 {
		d = 24 - d
	}
	return d
}

// DeviceRisk compares the current device against the baseline preferences.
func DeviceRisk(base DeviceProfile, cur *DeviceProfile) float64 {
	if cur == nil || cur.empty() {
		return missingDeviceRisk
	}
	var r float64
	if base.Resolution != "" && base.Resolution != cur.Resolution {
		r += 0.3
	}
	if base.BrowserFamily != "" && base.BrowserFamily != cur.BrowserFamily {
		r += 0.4
	}
	if base.Timezone != "" && base.Timezone != cur.Timezone {
		r += 0.2
	}
	if base.Language != "" && base.Language != cur.Language {
		r += 0.1
	}
	return math.Min(1, r)
}

// BehaviorRisk compares categorized interaction patterns. Components the
// baseline has no category for are skipped.
func BehaviorRisk(b *Baseline, p *Patterns) float64 {
	if p.empty() {
		return missingBehaviorRisk
	}
	var r float64
	if b.TypingSpeed != "" && p.TypingSpeed > 0 {
		r += CategoryDistance(TypingLadder, b.TypingSpeed, TypingCategory(p.TypingSpeed)) * 0.4
	}
	if b.ClickInterval != "" && p.ClickInterval > 0 {
		r += CategoryDistance(ClickLadder, b.ClickInterval, ClickCategory(p.ClickInterval)) * 0.3
	}
	if b.NavigationHash != "" && len(p.NavigationSequence) > 0 &&
		NavigationHash(p.NavigationSequence) != b.NavigationHash {
		r += 0.3
	}
	return math.Min(1, r)
}

// ActionRisk looks up the action table and applies contextual bonuses.
func (e *Engine) ActionRisk(action string, flags ActionFlags) float64 {
	r, ok := e.cfg.ActionRisk[action]
	if !ok {
		r = e.cfg.UnknownActionRisk
	}
	if flags.FirstTime {
		r += 0.1
	}
	if flags.HighValue {
		r += 0.15
	}
	if flags.AdminPrivileges {
		r += 0.2
	}
	return math.Min(1, r)
}

// LocationRisk compares coarse location only.
func LocationRisk(base LocationProfile, cur *LocationProfile) float64 {
	if cur == nil || cur.empty() {
		return missingLocationRisk
	}
	var r float64
	if base.Timezone != "" && base.Timezone != cur.Timezone {
		r += 0.3
	}
	if base.Country != "" && base.Country != cur.Country {
		r += 0.4
	}
	return math.Min(1, r)
}

func tagsFor(s SubScores) []string {
	tags := make([]string, 0, 5)
	if s.Time > 0.3 {
		tags = append(tags, TagUnusualTime)
	}
	if s.Device > 0.3 {
		tags = append(tags, TagNewDevice)
	}
	if s.Behavior > 0.3 {
		tags = append(tags, TagBehaviorAnomaly)
	}
	if s.Action > 0.2 {
		tags = append(tags, TagSensitiveAction)
	}
	if s.Location > 0.2 {
		tags = append(tags, TagLocationChange)
	}
	return tags
}

func messageFor(l Level) string {
	switch l {
	case LevelNone:
		return "Activity matches usual behavior"
	case LevelLight:
		return "Slightly unusual activity; light verification requested"
	case LevelMedium:
		return "Unusual activity detected; additional verification required"
	default:
		return "Highly unusual activity; strong verification required"
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// BrowserFamily reduces a user agent string to a coarse browser family.
func BrowserFamily(userAgent string) string {
	ua := strings.ToLower(userAgent)
	switch {
	case ua == "":
		return ""
	case strings.Contains(ua, "edg/"):
		return "edge"
	case strings.Contains(ua, "firefox/"):
		return "firefox"
	case strings.Contains(ua, "chrome/") || strings.Contains(ua, "crios/"):
		return "chrome"
	case strings.Contains(ua, "safari/"):
		return "safari"
	default:
		return "other"
	}
}
