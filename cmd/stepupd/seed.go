package main

import (
	"fmt"
	"os"

	"github.com/MrEthical07/stepup/challenge"
	"github.com/MrEthical07/stepup/password"
	"github.com/MrEthical07/stepup/risk"
	"gopkg.in/yaml.v3"
)

// seedProfile is a profile fixture. Password, when set, is hashed at load time
// and replaces PasswordHash.
type seedProfile struct {
	challenge.Profile `yaml:",inline"`
	Password          string `yaml:"password,omitempty"`
}

type seedFile struct {
	Baselines []risk.Baseline `yaml:"baselines"`
	Profiles  []seedProfile   `yaml:"profiles"`
}

type seedStores struct {
	baselines *risk.MemoryBaselineStore
	profiles  *challenge.MemoryProfileStore
}

// loadSeeds reads baseline and profile fixtures from a YAML file. An empty path
// yields empty stores.
func loadSeeds(path string, hasher *password.Argon2) (seedStores, error) {
	stores := seedStores{
		baselines: risk.NewMemoryBaselineStore(),
		profiles:  challenge.NewMemoryProfileStore(),
	}
	if path == "" {
		return stores, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return seedStores{}, fmt.Errorf("read seeds: %w", err)
	}
	var file seedFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return seedStores{}, fmt.Errorf("decode seeds: %w", err)
	}

	for _, b := range file.Baselines {
		if b.UserID == "" {
			return seedStores{}, fmt.Errorf("seed baseline without userId")
		}
		stores.baselines.Put(b)
	}
	for _, p := range file.Profiles {
		if p.UserID == "" {
			return seedStores{}, fmt.Errorf("seed profile without userId")
		}
		if p.Password != "" {
			hash, err := hasher.Hash(p.Password)
			if err != nil {
				return seedStores{}, fmt.Errorf("hash seed password for %s: %w", p.UserID, err)
			}
			p.PasswordHash = hash
		}
		stores.profiles.Put(p.Profile)
	}
	return stores, nil
}
