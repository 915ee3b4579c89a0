package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Environment variables recognised by ApplyEnv.
const (
	EnvHost             = "BLENDER_MCP_HOST"
	EnvPort             = "BLENDER_MCP_PORT"
	EnvUseCSM           = "BLENDER_MCP_USE_CSM"
	EnvCSMAPIKey        = "CSM_API_KEY"
	EnvUsePrivateAssets = "CSM_USE_PRIVATE_ASSETS"
	EnvRedisURL         = "REDIS_URL"
	EnvDebug            = "BLENDER_MCP_DEBUG"
)

// LoadEnvFiles loads the given .env files into the process environment.
// Missing files are skipped and variables already set are never overwritten.
func LoadEnvFiles(files ...string) error {
	var existing []string
	for _, f := range files {
		if _, err := os.Stat(f); err == nil {
			existing = append(existing, f)
		}
	}
	if len(existing) == 0 {
		return nil
	}
	if err := godotenv.Load(existing...); err != nil {
		return fmt.Errorf("failed to load env files: %w", err)
	}
	return nil
}

// ApplyEnv overrides settings from environment variables read through getenv.
func (c *Config) ApplyEnv(getenv func(string) string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if v := getenv(EnvHost); v != "" {
		c.Host = v
	}
	if v := getenv(EnvPort); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", EnvPort, v, err)
		}
		c.Port = port
	}
	if v := getenv(EnvCSMAPIKey); v != "" {
		c.CSMAPIKey = v
		c.UseCSM = true
	}
	if v := getenv(EnvUseCSM); v != "" {
		b, err := parseBool(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvUseCSM, err)
		}
		c.UseCSM = b
	}
	if v := getenv(EnvUsePrivateAssets); v != "" {
		b, err := parseBool(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvUsePrivateAssets, err)
		}
		c.CSMUsePrivateAssets = b
	}
	if v := getenv(EnvRedisURL); v != "" {
		c.RedisURL = v
	}
	if v := getenv(EnvDebug); v != "" {
		b, err := parseBool(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvDebug, err)
		}
		c.Debug = b
	}
	return nil
}

func parseBool(v string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true, nil
	case "0", "false", "no", "off":
		return false, nil
	}
	return false, fmt.Errorf("not a boolean: %q", v)
}
