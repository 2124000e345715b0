package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/MarkoPoloResearchLab/stakeledger/internal/httpapi"
)

type runtimeConfig struct {
	DatabaseURL    string
	GRPCListenAddr string
	LockTimeout    time.Duration
	RedisAddr      string
	KafkaBrokers   []string
	KafkaTopic     string
	HTTP           httpapi.Config
}

// Validate fills defaults and rejects missing required values.
func (cfg *runtimeConfig) Validate() error {
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		cfg.DatabaseURL = defaultDatabaseURL
	}
	if cfg.LockTimeout <= 0 {
		cfg.LockTimeout = defaultLockTimeout
	}
	if len(cfg.KafkaBrokers) > 0 && strings.TrimSpace(cfg.KafkaTopic) == "" {
		return fmt.Errorf("%s is required when %s is set", flagKafkaTopic, flagKafkaBrokers)
	}
	if err := cfg.HTTP.Validate(); err != nil {
		return err
	}
	return nil
}

func splitList(raw string) []string {
	values := []string{}
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			values = append(values, trimmed)
		}
	}
	return values
}
