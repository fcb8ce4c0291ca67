package jwt

import (
	"crypto/ed25519"
	"crypto/rand"
	"testing"
	"time"

	"github.com/MrEthical07/stepup/factor"
	"github.com/MrEthical07/stepup/risk"
	gjwt "github.com/golang-jwt/jwt/v5"
)

func newEdKeys(t testing.TB) (ed25519.PublicKey, ed25519.PrivateKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate ed25519 key: %v", err)
	}
	return pub, priv
}

func TestStepUpRoundTrip(t *testing.T) {
	pub, priv := newEdKeys(t)
	now := time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)
	m, err := NewManager(Config{
		TTL:           5 * time.Minute,
		SigningMethod: MethodEd25519,
		PrivateKey:    priv,
		PublicKey:     pub,
		Issuer:        "stepup",
		Audience:      "api",
		Now:           func() time.Time { return now },
	})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	tok, exp, err := m.CreateStepUp("u1", risk.LevelStrong, []factor.Type{factor.Biometric, factor.Device}, "nk-7f3a")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if !exp.Equal(now.Add(5 * time.Minute)) {
		t.Fatalf("unexpected expiry %v", exp)
	}

	claims, err := m.ParseStepUp(tok)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if claims.UID != "u1" || claims.Level != risk.LevelStrong || claims.Ref != "nk-7f3a" {
		t.Fatalf("unexpected claims %+v", claims)
	}
	if len(claims.Factors) != 2 || claims.Factors[0] != factor.Biometric || claims.ID == "" {
		t.Fatalf("unexpected factor claims %+v", claims)
	}
}

func TestStepUpExpiresWithClock(t *testing.T) {
	pub, priv := newEdKeys(t)
	now := time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)
	m, err := NewManager(Config{
		TTL:           time.Minute,
		SigningMethod: MethodEd25519,
		PrivateKey:    priv,
		PublicKey:     pub,
		Now:           func() time.Time { return now },
	})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	tok, _, err := m.CreateStepUp("u1", risk.LevelLight, nil, "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	now = now.Add(2 * time.Minute)
	if _, err := m.ParseStepUp(tok); err == nil {
		t.Fatal("expected expired token to be rejected")
	}
}

func TestParseStepUpRejectsWrongAlgorithm(t *testing.T) {
	pub, _ := newEdKeys(t)
	m, err := NewManager(Config{TTL: time.Minute, SigningMethod: MethodEd25519, PublicKey: pub})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	claims := StepUpClaims{UID: "u1", RegisteredClaims: gjwt.RegisteredClaims{
		Subject:   "u1",
		IssuedAt:  gjwt.NewNumericDate(time.Now()),
		ExpiresAt: gjwt.NewNumericDate(time.Now().Add(time.Minute)),
	}}
	token, err := gjwt.NewWithClaims(gjwt.SigningMethodHS256, claims).SignedString([]byte("secret-secret-secret-secret-secret"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	if _, err := m.ParseStepUp(token); err == nil {
		t.Fatal("expected wrong algorithm to be rejected")
	}
}

func TestParseStepUpRejectsMismatchedSubject(t *testing.T) {
	key := []byte("0123456789abcdef0123456789abcdef")
	m, err := NewManager(Config{TTL: time.Minute, SigningMethod: MethodHS256, PrivateKey: key})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	claims := StepUpClaims{UID: "u1", Level: risk.LevelStrong, RegisteredClaims: gjwt.RegisteredClaims{
		Subject:   "u2",
		IssuedAt:  gjwt.NewNumericDate(time.Now()),
		ExpiresAt: gjwt.NewNumericDate(time.Now().Add(time.Minute)),
	}}
	token, _ := gjwt.NewWithClaims(gjwt.SigningMethodHS256, claims).SignedString(key)
	if _, err := m.ParseStepUp(token); err == nil {
		t.Fatal("expected subject mismatch to be rejected")
	}
}

func TestKeyIDRotation(t *testing.T) {
	pubOld, _ := newEdKeys(t)
	pubNew, privNew := newEdKeys(t)
	m, err := NewManager(Config{
		TTL:           time.Minute,
		SigningMethod: MethodEd25519,
		PrivateKey:    privNew,
		KeyID:         "k2",
		VerifyKeys:    map[string][]byte{"k1": pubOld, "k2": pubNew},
	})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	tok, _, err := m.CreateStepUp("u1", risk.LevelMedium, nil, "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := m.ParseStepUp(tok); err != nil {
		t.Fatalf("parse with rotated keys: %v", err)
	}

	if _, err := NewManager(Config{TTL: time.Minute, SigningMethod: MethodEd25519, KeyID: "k9", VerifyKeys: map[string][]byte{"k1": pubOld}}); err == nil {
		t.Fatal("expected missing KeyID to be rejected")
	}
}

func TestNewManagerValidation(t *testing.T) {
	pub, _ := newEdKeys(t)
	cases := []Config{
		{TTL: 0, SigningMethod: MethodEd25519, PublicKey: pub},
		{TTL: time.Minute, SigningMethod: MethodEd25519},
		{TTL: time.Minute, SigningMethod: MethodHS256, PrivateKey: []byte("short")},
		{TTL: time.Minute, SigningMethod: "rs256", PublicKey: pub},
		{TTL: time.Minute, SigningMethod: MethodEd25519, PublicKey: pub, Leeway: time.Hour},
	}
	for i, cfg := range cases {
		if _, err := NewManager(cfg); err == nil {
			t.Fatalf("case %d: expected error", i)
		}
	}
}

func FuzzParseStepUp(f *testing.F) {
	pub, priv := newEdKeys(f)
	mgr, err := NewManager(Config{
		TTL:           5 * time.Minute,
		SigningMethod: MethodEd25519,
		PrivateKey:    priv,
		PublicKey:     pub,
		Issuer:        "fuzz-test",
		KeyID:         "k1",
		VerifyKeys:    map[string][]byte{"k1": pub},
	})
	if err != nil {
		f.Fatal(err)
	}
	valid, _, err := mgr.CreateStepUp("uid1", risk.LevelStrong, []factor.Type{factor.Device}, "ref")
	if err != nil {
		f.Fatal(err)
	}

	f.Add(valid)
	f.Add("")
	f.Add("not.a.jwt")
	f.Add("eyJhbGciOiJub25lIn0.eyJ1aWQiOiJ0ZXN0In0.")

	f.Fuzz(func(t *testing.T, input string) {
		claims, err := mgr.ParseStepUp(input)
		if err != nil {
			return
		}
		if claims == nil {
			t.Fatal("ParseStepUp returned nil claims without error")
		}
	})
}
