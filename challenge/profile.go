package challenge

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/MrEthical07/stepup/factor"
)

// ErrProfileNotFound may be returned by a ProfileStore instead of (nil, nil).
var ErrProfileNotFound = errors.New("challenge: profile not found")

// DeviceRecord is a device bound to an identity.
type DeviceRecord struct {
	ID       string    `json:"id" yaml:"id"`
	Name     string    `json:"name" yaml:"name"`
	Model    string    `json:"model" yaml:"model"`
	Attested bool      `json:"attested" yaml:"attested"`
	AddedAt  time.Time `json:"addedAt" yaml:"addedAt"`
}

// LocationRecord is a labeled coordinate the user has verified from before.
type LocationRecord struct {
	Label     string  `json:"label" yaml:"label"`
	Latitude  float64 `json:"latitude" yaml:"latitude"`
	Longitude float64 `json:"longitude" yaml:"longitude"`
}

// BiometricEnrollment references an encrypted template held elsewhere.
type BiometricEnrollment struct {
	TemplateRef string `json:"templateRef" yaml:"templateRef"`
}

// ActivityEnrollment lists the interaction patterns a user has enrolled.
type ActivityEnrollment struct {
	PatternTypes []string `json:"patternTypes" yaml:"patternTypes"`
}

// Profile is the enrolled identity of a user.
type Profile struct {
	UserID        string               `json:"userId" yaml:"userId"`
	StrengthScore int                  `json:"strengthScore" yaml:"strengthScore"`
	Biometric     *BiometricEnrollment `json:"biometric,omitempty" yaml:"biometric,omitempty"`
	Devices       []DeviceRecord       `json:"devices,omitempty" yaml:"devices,omitempty"`
	Locations     []LocationRecord     `json:"locations,omitempty" yaml:"locations,omitempty"`
	Activity      *ActivityEnrollment  `json:"activity,omitempty" yaml:"activity,omitempty"`
	PasswordHash  string               `json:"-" yaml:"passwordHash,omitempty"`
}

// Available lists enrolled challenge factors in fixed order: biometric, device,
// location, activity.
func (p *Profile) Available() []factor.Type {
	if p == nil {
		return nil
	}
	out := make([]factor.Type, 0, 4)
	if p.Biometric != nil {
		out = append(out, factor.Biometric)
	}
	if len(p.Devices) > 0 {
		out = append(out, factor.Device)
	}
	if len(p.Locations) > 0 {
		out = append(out, factor.Location)
	}
	if p.Activity != nil && len(p.Activity.PatternTypes) > 0 {
		out = append(out, factor.Activity)
	}
	return out
}

// FactorData is verified factor material written back to a profile.
type FactorData struct {
	Type       factor.Type     `json:"type"`
	VerifiedAt time.Time       `json:"verifiedAt"`
	Biometric  string          `json:"biometricHash,omitempty"`
	Device     *DeviceRecord   `json:"device,omitempty"`
	Location   *LocationRecord `json:"location,omitempty"`
	Activity   string          `json:"activityPatternType,omitempty"`
}

// ProfileStore is the identity-profile collaborator.
type ProfileStore interface {
	GetProfile(ctx context.Context, userID string) (*Profile, error)
	GetKnownDevices(ctx context.Context, userID string) ([]DeviceRecord, error)
	AddIdentityFactor(ctx context.Context, userID string, data FactorData) error
}

// MemoryProfileStore is an in-process ProfileStore for tests and local development.
type MemoryProfileStore struct {
	mu       sync.RWMutex
	profiles map[string]*Profile
}

// NewMemoryProfileStore returns an empty in-process ProfileStore.
func NewMemoryProfileStore() *MemoryProfileStore {
	return &MemoryProfileStore{profiles: make(map[string]*Profile)}
}

// Put stores a copy of p.
func (m *MemoryProfileStore) Put(p Profile) {
	m.mu.Lock()
	m.profiles[p.UserID] = cloneProfile(&p)
	m.mu.Unlock()
}

// GetProfile returns a copy of the stored profile, or nil when none exists.
func (m *MemoryProfileStore) GetProfile(ctx context.Context, userID string) (*Profile, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.profiles[userID]
	if !ok {
		return nil, nil
	}
	return cloneProfile(p), nil
}

// GetKnownDevices lists the devices enrolled for userID.
func (m *MemoryProfileStore) GetKnownDevices(ctx context.Context, userID string) ([]DeviceRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.profiles[userID]
	if !ok {
		return nil, nil
	}
	return append([]DeviceRecord(nil), p.Devices...), nil
}

// AddIdentityFactor merges verified data into the profile, creating it if needed.
func (m *MemoryProfileStore) AddIdentityFactor(ctx context.Context, userID string, data FactorData) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.profiles[userID]
	if !ok {
		p = &Profile{UserID: userID}
		m.profiles[userID] = p
	}

	switch data.Type {
	case factor.Biometric:
		if p.Biometric == nil {
			p.Biometric = &BiometricEnrollment{}
		}
		p.Biometric.TemplateRef = data.Biometric
	case factor.Device:
		if data.Device != nil && !hasDevice(p.Devices, data.Device.ID) {
			p.Devices = append(p.Devices, *data.Device)
		}
	case factor.Location:
		if data.Location != nil {
			p.Locations = append(p.Locations, *data.Location)
		}
	case factor.Activity:
		if p.Activity == nil {
			p.Activity = &ActivityEnrollment{}
		}
		if !containsString(p.Activity.PatternTypes, data.Activity) {
			p.Activity.PatternTypes = append(p.Activity.PatternTypes, data.Activity)
		}
	}
	return nil
}

func hasDevice(devices []DeviceRecord, id string) bool {
	for _, d := range devices {
		if d.ID == id {
			return true
		}
	}
	return false
}

func containsString(set []string, s string) bool {
	for _, v := range set {
		if v == s {
			return true
		}
	}
	return false
}

func cloneProfile(p *Profile) *Profile {
	out := *p
	if p.Biometric != nil {
		b := *p.Biometric
		out.Biometric = &b
	}
	if p.Activity != nil {
		a := ActivityEnrollment{PatternTypes: append([]string(nil), p.Activity.PatternTypes...)}
		out.Activity = &a
	}
	out.Devices = append([]DeviceRecord(nil), p.Devices...)
	out.Locations = append([]LocationRecord(nil), p.Locations...)
	return &out
}
