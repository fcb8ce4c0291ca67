package factor

import (
	"errors"
	"fmt"
)

// Type identifies a verification factor. The zero value is invalid.
type Type uint8

const (
	Biometric Type = iota + 1
	Device
	Location
	Activity
	Password
	Gesture
	Typing

	typeEnd
)

// ErrUnknownType is returned when a factor name does not match any known Type.
var ErrUnknownType = errors.New("factor: unknown type")

var names = [...]string{
	Biometric: "biometric",
	Device:    "device",
	Location:  "location",
	Activity:  "activity",
	Password:  "password",
	Gesture:   "gesture",
	Typing:    "typing",
}

// All returns every valid factor type in declaration order.
func All() []Type {
	out := make([]Type, 0, int(typeEnd)-1)
	for t := Biometric; t < typeEnd; t++ {
		out = append(out, t)
	}
	return out
}

// Valid reports whether t is one of the declared factor types.
func (t Type) Valid() bool {
	return t >= Biometric && t < typeEnd
}

func (t Type) String() string {
	if !t.Valid() {
		return fmt.Sprintf("factor(%d)", uint8(t))
	}
	return names[t]
}

// Parse maps a wire name such as "biometric" to its Type.
func Parse(s string) (Type, error) {
	for t := Biometric; t < typeEnd; t++ {
		if names[t] == s {
			return t, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownType, s)
}

// MarshalText encodes t by name so factor types read naturally in JSON and as map keys.
func (t Type) MarshalText() ([]byte, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownType, uint8(t))
	}
	return []byte(names[t]), nil
}

func (t *Type) UnmarshalText(b []byte) error {
	v, err := Parse(string(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// Contains reports whether want appears in set.
func Contains(set []Type, want Type) bool {
	for _, t := range set {
		if t == want {
			return true
		}
	}
	return false
}
