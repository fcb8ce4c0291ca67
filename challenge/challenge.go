package challenge

import (
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"github.com/MrEthical07/stepup/factor"
	"github.com/MrEthical07/stepup/risk"
)

// TTL is the fixed lifetime of every issued challenge.
const TTL = 15 * time.Minute

// Shape names the construction path of a challenge.
type Shape string

const (
	ShapeBasic  Shape = "basic"
	ShapeLight  Shape = "light"
	ShapeMedium Shape = "medium"
	ShapeStrong Shape = "strong"
)

// Spec is the per-factor prompt. The concrete type always matches Factor().
type Spec interface {
	Factor() factor.Type
	isSpec()
}

// BiometricSpec asks for a biometric sample plus the listed gestures in order.
type BiometricSpec struct {
	Gestures []string `json:"gestures"`
}

// DeviceSpec lists the devices the user may confirm from.
type DeviceSpec struct {
	KnownDevices []string `json:"knownDevices"`
}

// LocationSpec lists labels of previously verified locations.
type LocationSpec struct {
	KnownLocations []string `json:"knownLocations"`
}

// ActivitySpec asks for one interaction pattern sample.
type ActivitySpec struct {
	PatternType string `json:"patternType"`
}

// PasswordSpec carries no prompt data.
type PasswordSpec struct{}

func (BiometricSpec) Factor() factor.Type { return factor.Biometric }
func (DeviceSpec) Factor() factor.Type    { return factor.Device }
func (LocationSpec) Factor() factor.Type  { return factor.Location }
func (ActivitySpec) Factor() factor.Type  { return factor.Activity }
func (PasswordSpec) Factor() factor.Type  { return factor.Password }

func (BiometricSpec) isSpec() {}
func (DeviceSpec) isSpec()    {}
func (LocationSpec) isSpec()  {}
func (ActivitySpec) isSpec()  {}
func (PasswordSpec) isSpec()  {}

// Challenge is a single-use request for factor proofs. RequiredFactors must all
// pass; when Options is non-empty at least RequiredCount of them must pass too.
type Challenge struct {
	Nonce           string               `json:"nonce"`
	SubjectID       string               `json:"subjectId"`
	Shape           Shape                `json:"shape"`
	Level           risk.Level           `json:"level"`
	RequiredFactors []factor.Type        `json:"requiredFactors"`
	Options         []factor.Type        `json:"options,omitempty"`
	RequiredCount   int                  `json:"requiredCount,omitempty"`
	PerFactor       map[factor.Type]Spec `json:"-"`
	IssuedAt        time.Time            `json:"issuedAt"`
	ExpiresAt       time.Time            `json:"expiresAt"`
}

// Factors returns required factors followed by optional ones.
func (c *Challenge) Factors() []factor.Type {
	out := make([]factor.Type, 0, len(c.RequiredFactors)+len(c.Options))
	out = append(out, c.RequiredFactors...)
	return append(out, c.Options...)
}

// Expired reports whether now is strictly past ExpiresAt.
func (c *Challenge) Expired(now time.Time) bool {
	return now.After(c.ExpiresAt)
}

// Clone returns a deep copy of c. Prompt slices are not shared.
func (c *Challenge) Clone() *Challenge {
	if c == nil {
		return nil
	}
	cp := *c
	cp.RequiredFactors = slices.Clone(c.RequiredFactors)
	cp.Options = slices.Clone(c.Options)
	if c.PerFactor != nil {
		cp.PerFactor = make(map[factor.Type]Spec, len(c.PerFactor))
		for t, spec := range c.PerFactor {
			cp.PerFactor[t] = cloneSpec(spec)
		}
	}
	return &cp
}

func cloneSpec(spec Spec) Spec {
	switch v := spec.(type) {
	case BiometricSpec:
		return BiometricSpec{Gestures: slices.Clone(v.Gestures)}
	case DeviceSpec:
		return DeviceSpec{KnownDevices: slices.Clone(v.KnownDevices)}
	case LocationSpec:
		return LocationSpec{KnownLocations: slices.Clone(v.KnownLocations)}
	default:
		return spec
	}
}

type challengeAlias Challenge

type challengeWire struct {
	*challengeAlias
	PerFactor map[factor.Type]json.RawMessage `json:"perFactor"`
}

func (c Challenge) MarshalJSON() ([]byte, error) {
	w := challengeWire{challengeAlias: (*challengeAlias)(&c), PerFactor: make(map[factor.Type]json.RawMessage, len(c.PerFactor))}
	for t, spec := range c.PerFactor {
		raw, err := json.Marshal(spec)
		if err != nil {
			return nil, err
		}
		w.PerFactor[t] = raw
	}
	return json.Marshal(w)
}

func (c *Challenge) UnmarshalJSON(b []byte) error {
	w := challengeWire{challengeAlias: (*challengeAlias)(c)}
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	c.PerFactor = make(map[factor.Type]Spec, len(w.PerFactor))
	for t, raw := range w.PerFactor {
		spec, err := decodeSpec(t, raw)
		if err != nil {
			return err
		}
		c.PerFactor[t] = spec
	}
	return nil
}

func decodeSpec(t factor.Type, raw json.RawMessage) (Spec, error) {
	switch t {
	case factor.Biometric:
		return decodeAs[BiometricSpec](raw)
	case factor.Device:
		return decodeAs[DeviceSpec](raw)
	case factor.Location:
		return decodeAs[LocationSpec](raw)
	case factor.Activity:
		return decodeAs[ActivitySpec](raw)
	case factor.Password:
		return PasswordSpec{}, nil
	case factor.Gesture, factor.Typing:
		return nil, fmt.Errorf("challenge: %s is not a challenge factor", t)
	default:
		return nil, fmt.Errorf("%w: %d", factor.ErrUnknownType, uint8(t))
	}
}

func decodeAs[T Spec](raw json.RawMessage) (Spec, error) {
	var s T
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, err
	}
	return s, nil
}

// Attestation is the platform's statement about the responding device.
type Attestation struct {
	Verified bool   `json:"verified"`
	Format   string `json:"format,omitempty"`
}

// FactorResponse carries the proof for one factor. Only the fields for that
// factor's type are read.
type FactorResponse struct {
	Gestures      []string     `json:"gestures,omitempty"`
	BiometricHash string       `json:"biometricHash,omitempty"`
	DeviceID      string       `json:"deviceId,omitempty"`
	DeviceName    string       `json:"deviceName,omitempty"`
	DeviceModel   string       `json:"deviceModel,omitempty"`
	Attestation   *Attestation `json:"attestation,omitempty"`
	Latitude      *float64     `json:"latitude,omitempty"`
	Longitude     *float64     `json:"longitude,omitempty"`
	PatternType   string       `json:"patternType,omitempty"`
	PatternData   string       `json:"patternData,omitempty"`
	Password      string       `json:"password,omitempty"`
}

// Response answers a challenge.
type Response struct {
	Nonce   string                         `json:"nonce"`
	Factors map[factor.Type]FactorResponse `json:"factors"`
}
