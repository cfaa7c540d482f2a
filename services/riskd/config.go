package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Config captures the runtime settings for riskd.
type Config struct {
	Listen          string
	Environment     string
	ParamsPath      string
	NodeRPCURL      string
	NodeRPCToken    string
	RateLimitPerMin int
	RateLimitBurst  int
}

const (
	envListen          = "RISK_LISTEN"
	envEnvironment     = "RISK_ENV"
	envParamsPath      = "RISK_PARAMS_FILE"
	envNodeRPCURL      = "RISK_NODE_RPC_URL"
	envNodeRPCToken    = "RISK_NODE_RPC_TOKEN"
	envRateLimitPerMin = "RISK_RATE_PER_MIN"
	envRateLimitBurst  = "RISK_RATE_BURST"

	defaultListen          = "0.0.0.0:9555"
	defaultEnvironment     = "dev"
	defaultNodeRPCURL      = "http://127.0.0.1:8081"
	defaultRateLimitPerMin = 120
	defaultRateLimitBurst  = 20
)

// LoadConfigFromEnv constructs a Config using environment variables and defaults.
func LoadConfigFromEnv() Config {
	return Config{
		Listen:          stringFromEnv(envListen, defaultListen),
		Environment:     stringFromEnv(envEnvironment, defaultEnvironment),
		ParamsPath:      strings.TrimSpace(os.Getenv(envParamsPath)),
		NodeRPCURL:      stringFromEnv(envNodeRPCURL, defaultNodeRPCURL),
		NodeRPCToken:    strings.TrimSpace(os.Getenv(envNodeRPCToken)),
		RateLimitPerMin: intFromEnv(envRateLimitPerMin, defaultRateLimitPerMin),
		RateLimitBurst:  intFromEnv(envRateLimitBurst, defaultRateLimitBurst),
	}
}

// Sanitized returns a copy of the Config with secrets masked for logging.
func (cfg Config) Sanitized() Config {
	clone := cfg
	if clone.NodeRPCToken != "" {
		clone.NodeRPCToken = "***"
	}
	return clone
}

// Validate ensures the configuration is internally consistent.
func (cfg Config) Validate() error {
	if strings.TrimSpace(cfg.Listen) == "" {
		return fmt.Errorf("listen address must not be empty")
	}
	if strings.TrimSpace(cfg.ParamsPath) == "" {
		return fmt.Errorf("%s must point at a risk parameter file", envParamsPath)
	}
	if strings.TrimSpace(cfg.NodeRPCURL) == "" {
		return fmt.Errorf("node rpc url must not be empty")
	}
	if cfg.RateLimitPerMin < 0 {
		return fmt.Errorf("rate limit per minute must be non-negative")
	}
	if cfg.RateLimitBurst < 0 {
		return fmt.Errorf("rate limit burst must be non-negative")
	}
	return nil
}

func stringFromEnv(key, fallback string) string {
	trimmed := strings.TrimSpace(os.Getenv(key))
	if trimmed == "" {
		return fallback
	}
	return trimmed
}

func intFromEnv(key string, fallback int) int {
	trimmed := strings.TrimSpace(os.Getenv(key))
	if trimmed == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(trimmed)
	if err != nil {
		return fallback
	}
	return parsed
}
