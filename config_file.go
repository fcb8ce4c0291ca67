package stepup

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// LoadConfigFile reads a YAML, TOML or JSON file over the defaults, applies
// STEPUP_* environment overrides, resolves key files, and validates. A missing
// file yields the defaults.
func LoadConfigFile(path string) (Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := decodeConfig(path, data, &cfg); err != nil {
			return Config{}, err
		}
	case os.IsNotExist(err):
	default:
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	if err := cfg.ApplyEnvOverrides(os.Getenv); err != nil {
		return Config{}, err
	}
	if err := cfg.loadKeyFiles(filepath.Dir(path)); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func decodeConfig(path string, data []byte, cfg *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return fmt.Errorf("decode TOML: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("decode JSON: %w", err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("decode YAML: %w", err)
		}
	default:
		return fmt.Errorf("unsupported config extension %q", filepath.Ext(path))
	}
	return nil
}

// ApplyEnvOverrides overlays STEPUP_* variables read through getenv.
func (c *Config) ApplyEnvOverrides(getenv func(string) string) error {
	str := func(key string, dst *string) {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}
	boolean := func(key string, dst *bool) error {
		v := getenv(key)
		if v == "" {
			return nil
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%w: %s: %v", ErrConfig, key, err)
		}
		*dst = b
		return nil
	}
	duration := func(key string, dst *time.Duration) error {
		v := getenv(key)
		if v == "" {
			return nil
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%w: %s: %v", ErrConfig, key, err)
		}
		*dst = d
		return nil
	}

	str("STEPUP_TOKEN_SIGNING_METHOD", &c.Token.SigningMethod)
	str("STEPUP_TOKEN_ISSUER", &c.Token.Issuer)
	str("STEPUP_TOKEN_AUDIENCE", &c.Token.Audience)
	str("STEPUP_TOKEN_KEY_ID", &c.Token.KeyID)
	str("STEPUP_TOKEN_PRIVATE_KEY_FILE", &c.Token.PrivateKeyFile)
	str("STEPUP_TOKEN_PUBLIC_KEY_FILE", &c.Token.PublicKeyFile)
	str("STEPUP_CHALLENGE_REDIS_PREFIX", &c.Challenge.RedisPrefix)
	str("STEPUP_SESSION_REDIS_PREFIX", &c.Session.RedisPrefix)
	str("STEPUP_HISTORY_REDIS_PREFIX", &c.History.RedisPrefix)

	for key, dst := range map[string]*bool{
		"STEPUP_TOKEN_ENABLED":   &c.Token.Enabled,
		"STEPUP_AUDIT_ENABLED":   &c.Audit.Enabled,
		"STEPUP_METRICS_ENABLED": &c.Metrics.Enabled,
	} {
		if err := boolean(key, dst); err != nil {
			return err
		}
	}
	for key, dst := range map[string]*time.Duration{
		"STEPUP_TOKEN_TTL":              &c.Token.TTL,
		"STEPUP_SESSION_SWEEP_INTERVAL": &c.Session.SweepInterval,
	} {
		if err := duration(key, dst); err != nil {
			return err
		}
	}

	if v := getenv("STEPUP_CHALLENGE_MAX_ATTEMPTS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: STEPUP_CHALLENGE_MAX_ATTEMPTS: %v", ErrConfig, err)
		}
		c.Challenge.MaxAttempts = n
	}
	return nil
}

// loadKeyFiles reads token keys named by path. Relative paths resolve against dir.
func (c *Config) loadKeyFiles(dir string) error {
	read := func(name string) ([]byte, error) {
		if !filepath.IsAbs(name) {
			name = filepath.Join(dir, name)
		}
		b, err := os.ReadFile(name)
		if err != nil {
			return nil, fmt.Errorf("%w: read key file: %v", ErrConfig, err)
		}
		return b, nil
	}
	if c.Token.PrivateKeyFile != "" && len(c.Token.PrivateKey) == 0 {
		b, err := read(c.Token.PrivateKeyFile)
		if err != nil {
			return err
		}
		c.Token.PrivateKey = b
	}
	if c.Token.PublicKeyFile != "" && len(c.Token.PublicKey) == 0 {
		b, err := read(c.Token.PublicKeyFile)
		if err != nil {
			return err
		}
		c.Token.PublicKey = b
	}
	return nil
}
