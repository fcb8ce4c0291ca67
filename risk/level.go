package risk

import (
	"errors"
	"fmt"
)

// Level is the ordered verification requirement derived from a risk score.
type Level uint8

const (
	LevelNone Level = iota
	LevelLight
	LevelMedium
	LevelStrong
	LevelCritical
)

// ErrUnknownLevel is returned by ParseLevel for unrecognized names.
var ErrUnknownLevel = errors.New("risk: unknown level")

var levelNames = [...]string{
	LevelNone:     "NONE",
	LevelLight:    "LIGHT",
	LevelMedium:   "MEDIUM",
	LevelStrong:   "STRONG",
	LevelCritical: "CRITICAL",
}

// String returns the upper-case level name.
func (l Level) String() string {
	if int(l) < len(levelNames) {
		return levelNames[l]
	}
	return fmt.Sprintf("LEVEL(%d)", uint8(l))
}

// Valid reports whether l is one of the declared levels.
func (l Level) Valid() bool {
	return int(l) < len(levelNames)
}

// AtLeast reports whether l is as strict as other.
func (l Level) AtLeast(other Level) bool {
	return l >= other
}

// ParseLevel accepts the upper-case names used on the wire.
func ParseLevel(s string) (Level, error) {
	for i, name := range levelNames {
		if name == s {
			return Level(i), nil
		}
	}
	return LevelNone, fmt.Errorf("%w: %q", ErrUnknownLevel, s)
}

func (l Level) MarshalText() ([]byte, error) {
	if !l.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownLevel, uint8(l))
	}
	return []byte(levelNames[l]), nil
}

func (l *Level) UnmarshalText(b []byte) error {
	v, err := ParseLevel(string(b))
	if err != nil {
		return err
	}
	*l = v
	return nil
}

// LevelForScore applies the fixed thresholds: <0.3 NONE, <0.6 LIGHT, <0.8 MEDIUM,
// otherwise STRONG. CRITICAL is never produced by scoring.
func LevelForScore(score float64) Level {
	switch {
	case score < 0.3:
		return LevelNone
	case score < 0.6:
		return LevelLight
	case score < 0.8:
		return LevelMedium
	default:
		return LevelStrong
	}
}
