package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/CommonSenseMachines/blender-mcp/paths"
)

const (
	DefaultHost             = "localhost"
	DefaultPort             = 9876
	MinPort                 = 1024
	MaxPort                 = 65535
	DefaultCSMAPIBase       = "https://api.csm.ai"
	DefaultAnimationAPIBase = "https://animation.csm.ai"
	DefaultSearchCacheTTL   = 10 * time.Minute
)

// Config holds the settings shared by the MCP server and the addon host
type Config struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	UseCSM              bool   `yaml:"use_csm"`
	CSMAPIKey           string `yaml:"csm_api_key,omitempty"`
	CSMUsePrivateAssets bool   `yaml:"csm_use_private_assets"`
	CSMAPIBase          string `yaml:"csm_api_base,omitempty"`
	AnimationAPIBase    string `yaml:"animation_api_base,omitempty"`

	SceneStore     string        `yaml:"scene_store,omitempty"` // bbolt file; empty uses the data dir default
	RedisURL       string        `yaml:"redis_url,omitempty"`   // enables the search cache when set
	SearchCacheTTL time.Duration `yaml:"search_cache_ttl,omitempty"`
	Debug          bool          `yaml:"debug,omitempty"`

	mu       sync.RWMutex
	filePath string
}

// Default returns a Config populated with default values
func Default() *Config {
	return &Config{
		Host:                DefaultHost,
		Port:                DefaultPort,
		CSMUsePrivateAssets: true,
		CSMAPIBase:          DefaultCSMAPIBase,
		AnimationAPIBase:    DefaultAnimationAPIBase,
		SearchCacheTTL:      DefaultSearchCacheTTL,
	}
}

// Load reads settings.yaml from the config directory, then applies the
// optional .env file and environment overrides.
func Load() (*Config, error) {
	path, err := paths.SettingsFilePath()
	if err != nil {
		return nil, err
	}
	cfg, err := LoadFile(path)
	if err != nil {
		return nil, err
	}

	envPath, err := paths.EnvFilePath()
	if err != nil {
		return nil, err
	}
	if err := LoadEnvFiles(envPath, ".env"); err != nil {
		return nil, err
	}
	if err := cfg.ApplyEnv(os.Getenv); err != nil {
		return nil, err
	}
	return cfg, cfg.Validate()
}

// LoadFile reads the settings file at path. A missing file yields defaults.
func LoadFile(path string) (*Config, error) {
	cfg := Default()
	cfg.filePath = path

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read settings %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse settings %s: %w", path, err)
	}

	cfg.ensureInitialized()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ensureInitialized fills zero values left by a sparse settings file.
// Only called from LoadFile before the Config is shared.
func (c *Config) ensureInitialized() {
	if c.Host == "" {
		c.Host = DefaultHost
	}
	if c.Port == 0 {
		c.Port = DefaultPort
	}
	if c.CSMAPIBase == "" {
		c.CSMAPIBase = DefaultCSMAPIBase
	}
	if c.AnimationAPIBase == "" {
		c.AnimationAPIBase = DefaultAnimationAPIBase
	}
	if c.SearchCacheTTL == 0 {
		c.SearchCacheTTL = DefaultSearchCacheTTL
	}
}

// ErrInvalidPort is returned when the port is outside the unprivileged range.
var ErrInvalidPort = errors.New("port out of range")

// Validate checks that the config is internally consistent.
func (c *Config) Validate() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.Port < MinPort || c.Port > MaxPort {
		return fmt.Errorf("%w: %d (must be %d-%d)", ErrInvalidPort, c.Port, MinPort, MaxPort)
	}
	if c.Host == "" {
		return fmt.Errorf("host must not be empty")
	}
	if c.SearchCacheTTL < 0 {
		return fmt.Errorf("search_cache_ttl must not be negative")
	}
	return nil
}

// Save writes the config to disk
func (c *Config) Save() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.filePath == "" {
		path, err := paths.SettingsFilePath()
		if err != nil {
			return err
		}
		c.filePath = path
	}

	if err := os.MkdirAll(filepath.Dir(c.filePath), 0755); err != nil {
		return err
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}

	tmp := c.filePath + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return err
	}
	return os.Rename(tmp, c.filePath)
}

// SetFilePath sets the config file path (for testing).
func (c *Config) SetFilePath(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.filePath = path
}

// Address returns host:port for the addon socket.
func (c *Config) Address() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// SetPort updates the addon port after validating it
func (c *Config) SetPort(port int) error {
	if port < MinPort || port > MaxPort {
		return fmt.Errorf("%w: %d (must be %d-%d)", ErrInvalidPort, port, MinPort, MaxPort)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Port = port
	return nil
}

// CSMSettings is a snapshot of the generation service settings.
type CSMSettings struct {
	Enabled          bool
	APIKey           string
	UsePrivateAssets bool
	APIBase          string
	AnimationAPIBase string
}

// CSM returns a copy of the generation service settings
func (c *Config) CSM() CSMSettings {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return CSMSettings{
		Enabled:          c.UseCSM,
		APIKey:           c.CSMAPIKey,
		UsePrivateAssets: c.CSMUsePrivateAssets,
		APIBase:          c.CSMAPIBase,
		AnimationAPIBase: c.AnimationAPIBase,
	}
}

// SetCSM enables the generation service with the given API key
func (c *Config) SetCSM(enabled bool, apiKey string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.UseCSM = enabled
	c.CSMAPIKey = apiKey
}

// SceneStorePath returns the configured scene store, falling back to the data dir.
func (c *Config) SceneStorePath() (string, error) {
	c.mu.RLock()
	store := c.SceneStore
	c.mu.RUnlock()
	if store != "" {
		return store, nil
	}
	return paths.SceneStorePath()
}

// MaskKey shortens an API key for log output.
func MaskKey(key string) string {
	if len(key) <= 5 {
		return "*****"
	}
	return key[:5] + "..."
}
