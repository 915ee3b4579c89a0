// Package cli provides the environment checks behind the doctor command.
package cli

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/CommonSenseMachines/blender-mcp/config"
	"github.com/CommonSenseMachines/blender-mcp/connection"
	"github.com/CommonSenseMachines/blender-mcp/csm"
)

// ProbeTimeout bounds each network probe.
const ProbeTimeout = 3 * time.Second

// Probe checks one prerequisite and returns a short detail on success.
type Probe func(ctx context.Context) (detail string, err error)

// Prerequisite is one thing the MCP server or addon host depends on
type Prerequisite struct {
	Name        string // Short identifier (e.g., "addon", "redis")
	Required    bool   // Whether the tool cannot work without it
	Description string // Human-readable description
	Hint        string // How to fix a failure
	Probe       Probe
}

// DefaultPrerequisites returns the checks for cfg
func DefaultPrerequisites(cfg *config.Config) []Prerequisite {
	prereqs := []Prerequisite{
		{
			Name:        "settings",
			Required:    true,
			Description: "Settings file and environment",
			Hint:        "Fix settings.yaml or the BLENDER_MCP_* variables",
			Probe: func(context.Context) (string, error) {
				if err := cfg.Validate(); err != nil {
					return "", err
				}
				return cfg.Address(), nil
			},
		},
		{
			Name:        "addon",
			Required:    true,
			Description: "Addon host socket",
			Hint:        "Start the host with `blender-mcp addon` or enable the Blender addon",
			Probe:       AddonProbe(cfg.Address()),
		},
		{
			Name:        "blender",
			Required:    false,
			Description: "Blender executable (optional, for the real addon)",
			Hint:        "https://www.blender.org/download/",
			Probe:       LookPathProbe("blender"),
		},
		{
			Name:        "csm",
			Required:    false,
			Description: "CSM.ai API key (optional, for search and animation)",
			Hint:        "Set CSM_API_KEY or csm_api_key in settings.yaml",
			Probe: func(context.Context) (string, error) {
				s := cfg.CSM()
				if !s.Enabled {
					return "", csm.ErrDisabled
				}
				if s.APIKey == "" {
					return "", csm.ErrNoAPIKey
				}
				return "key " + config.MaskKey(s.APIKey), nil
			},
		},
	}
	if cfg.RedisURL != "" {
		prereqs = append(prereqs, Prerequisite{
			Name:        "redis",
			Required:    false,
			Description: "Redis search cache (optional)",
			Hint:        "Check REDIS_URL or unset it to use the in-memory cache",
			Probe:       RedisProbe(cfg.RedisURL),
		})
	}
	return prereqs
}

// AddonProbe dials the addon host at addr and asks for its status.
func AddonProbe(addr string) Probe {
	return func(ctx context.Context) (string, error) {
		m := connection.NewManager(addr, connection.WithDialTimeout(ProbeTimeout))
		defer m.Close()
		if err := m.GetConnection(ctx); err != nil {
			return "", err
		}
		state := "disabled"
		if m.CSMEnabled() {
			state = "enabled"
		}
		return fmt.Sprintf("%s, CSM.ai %s", addr, state), nil
	}
}

// RedisProbe pings the Redis server at redisURL.
func RedisProbe(redisURL string) Probe {
	return func(ctx context.Context) (string, error) {
		cache, err := csm.NewRedisCache(ctx, redisURL)
		if err != nil {
			return "", err
		}
		cache.Close()
		return "reachable", nil
	}
}

// LookPathProbe verifies that a CLI tool is available in PATH.
func LookPathProbe(name string) Probe {
	return func(context.Context) (string, error) {
		path, err := exec.LookPath(name)
		if err != nil {
			return "", fmt.Errorf("%s not found in PATH", name)
		}
		if version := getVersion(name); version != "" {
			return version, nil
		}
		return path, nil
	}
}

// CheckResult contains the result of checking a prerequisite
type CheckResult struct {
	Prerequisite Prerequisite
	Found        bool
	Detail       string
	Error        error
}

// Check runs one prerequisite probe under ProbeTimeout.
func Check(ctx context.Context, prereq Prerequisite) CheckResult {
	result := CheckResult{Prerequisite: prereq}
	if prereq.Probe == nil {
		result.Error = errors.New("no probe")
		return result
	}

	ctx, cancel := context.WithTimeout(ctx, ProbeTimeout)
	defer cancel()
	detail, err := prereq.Probe(ctx)
	if err != nil {
		result.Error = err
		return result
	}
	result.Found = true
	result.Detail = detail
	return result
}

// CheckAll verifies all prerequisites and returns results
func CheckAll(ctx context.Context, prereqs []Prerequisite) []CheckResult {
	results := make([]CheckResult, len(prereqs))
	for i, prereq := range prereqs {
		results[i] = Check(ctx, prereq)
	}
	return results
}

// ValidateRequired returns an error describing every failed required check
func ValidateRequired(results []CheckResult) error {
	var missing []string
	for _, r := range results {
		if r.Found || !r.Prerequisite.Required {
			continue
		}
		missing = append(missing, fmt.Sprintf("  - %s (%s): %v\n    Fix: %s",
			r.Prerequisite.Name, r.Prerequisite.Description, r.Error, r.Prerequisite.Hint))
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing prerequisites:\n%s", strings.Join(missing, "\n"))
	}
	return nil
}

// getVersion attempts to get the version of a CLI tool
func getVersion(name string) string {
	for _, flag := range []string{"--version", "-v", "version"} {
		output, err := exec.Command(name, flag).Output()
		if err != nil {
			continue
		}
		version := strings.TrimSpace(strings.SplitN(string(output), "\n", 2)[0])
		if len(version) > 100 {
			version = version[:100] + "..."
		}
		return version
	}
	return ""
}

// FormatCheckResults formats check results for display
func FormatCheckResults(results []CheckResult) string {
	var sb strings.Builder

	sb.WriteString("Prerequisites:\n")
	for _, r := range results {
		status := "✓"
		if !r.Found {
			if r.Prerequisite.Required {
				status = "✗"
			} else {
				status = "○"
			}
		}

		fmt.Fprintf(&sb, "  %s %s", status, r.Prerequisite.Name)
		switch {
		case r.Found && r.Detail != "":
			fmt.Fprintf(&sb, " (%s)", r.Detail)
		case !r.Found && r.Prerequisite.Required:
			fmt.Fprintf(&sb, " [REQUIRED] %v", r.Error)
		case !r.Found:
			fmt.Fprintf(&sb, " [optional] %v", r.Error)
		}
		sb.WriteString("\n")
	}

	return sb.String()
}
