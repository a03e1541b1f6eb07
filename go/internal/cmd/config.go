package main

import (
	"fmt"

	"github.com/mcdev12/gavel/go/internal/config"
)

// serverConfig is the authority's process configuration. Auction rules live
// in the policy file.
type serverConfig struct {
	Port       int
	Token      string
	PolicyFile string
	SeedFile   string
	Policy     config.Policy
}

func loadServerConfig() (*serverConfig, error) {
	cfg := &serverConfig{
		Port:       config.GetEnvAsInt("PORT", 8080),
		Token:      config.GetEnv("AUTHORITY_TOKEN", ""),
		PolicyFile: config.GetEnv("POLICY_FILE", ""),
		SeedFile:   config.GetEnv("SEED_FILE", ""),
	}

	policy, err := config.Load(cfg.PolicyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load policy: %w", err)
	}
	cfg.Policy = policy
	return cfg, nil
}
