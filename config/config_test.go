package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CommonSenseMachines/blender-mcp/paths"
)

func envMap(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func TestLoadFile_Missing(t *testing.T) {
	cfg, err := LoadFile(filepath.Join(t.TempDir(), "settings.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultPort, cfg.Port)
	assert.Equal(t, DefaultHost, cfg.Host)
	assert.True(t, cfg.CSMUsePrivateAssets, "private assets default on")
	assert.False(t, cfg.UseCSM, "integration defaults off")
}

func TestLoadFile_Sparse(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yaml")
	writeFile(t, path, "port: 9999\nuse_csm: true\nsearch_cache_ttl: 30s\n")

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 9999, cfg.Port)
	assert.True(t, cfg.UseCSM)
	assert.Equal(t, 30*time.Second, cfg.SearchCacheTTL)
	assert.Equal(t, DefaultCSMAPIBase, cfg.CSMAPIBase)
	assert.True(t, cfg.CSMUsePrivateAssets, "unset csm_use_private_assets keeps the default")
}

func TestLoadFile_InvalidPort(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yaml")
	writeFile(t, path, "port: 80\n")

	_, err := LoadFile(path)
	assert.ErrorIs(t, err, ErrInvalidPort)
}

func TestLoadFile_Malformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yaml")
	writeFile(t, path, "port: [unterminated\n")

	_, err := LoadFile(path)
	assert.Error(t, err)
}

func TestValidate_PortRange(t *testing.T) {
	tests := []struct {
		port    int
		wantErr bool
	}{
		{1023, true},
		{1024, false},
		{9876, false},
		{65535, false},
		{65536, true},
	}
	for _, tt := range tests {
		cfg := Default()
		cfg.Port = tt.port
		err := cfg.Validate()
		if tt.wantErr {
			assert.ErrorIs(t, err, ErrInvalidPort, "port %d", tt.port)
		} else {
			assert.NoError(t, err, "port %d", tt.port)
		}
	}
}

func TestSetPort(t *testing.T) {
	cfg := Default()
	assert.ErrorIs(t, cfg.SetPort(70000), ErrInvalidPort)
	require.NoError(t, cfg.SetPort(12345))
	assert.Equal(t, "localhost:12345", cfg.Address())
}

func TestApplyEnv(t *testing.T) {
	cfg := Default()
	err := cfg.ApplyEnv(envMap(map[string]string{
		EnvPort:             "10001",
		EnvCSMAPIKey:        "sk-abcdef",
		EnvUsePrivateAssets: "false",
		EnvRedisURL:         "redis://localhost:6379/0",
	}))
	require.NoError(t, err)

	csm := cfg.CSM()
	assert.True(t, csm.Enabled, "an API key enables the integration")
	assert.Equal(t, "sk-abcdef", csm.APIKey)
	assert.False(t, csm.UsePrivateAssets)
	assert.Equal(t, 10001, cfg.Port)
	assert.Equal(t, "redis://localhost:6379/0", cfg.RedisURL)
}

func TestApplyEnv_ExplicitDisableWins(t *testing.T) {
	cfg := Default()
	err := cfg.ApplyEnv(envMap(map[string]string{
		EnvCSMAPIKey: "sk-abcdef",
		EnvUseCSM:    "off",
	}))
	require.NoError(t, err)
	assert.False(t, cfg.CSM().Enabled)
}

func TestApplyEnv_Invalid(t *testing.T) {
	tests := map[string]string{
		EnvPort:   "ninety",
		EnvUseCSM: "maybe",
		EnvDebug:  "sometimes",
	}
	for key, value := range tests {
		cfg := Default()
		assert.Error(t, cfg.ApplyEnv(envMap(map[string]string{key: value})), "%s=%q", key, value)
	}
}

func TestLoadEnvFiles(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	writeFile(t, envFile, "BLENDER_MCP_TEST_VALUE=from-file\n")
	t.Setenv("BLENDER_MCP_TEST_VALUE", "")
	os.Unsetenv("BLENDER_MCP_TEST_VALUE")

	require.NoError(t, LoadEnvFiles(filepath.Join(dir, "missing.env"), envFile))
	assert.Equal(t, "from-file", os.Getenv("BLENDER_MCP_TEST_VALUE"))
}

func TestLoadEnvFiles_DoesNotOverride(t *testing.T) {
	envFile := filepath.Join(t.TempDir(), ".env")
	writeFile(t, envFile, "BLENDER_MCP_TEST_KEEP=from-file\n")
	t.Setenv("BLENDER_MCP_TEST_KEEP", "from-process")

	require.NoError(t, LoadEnvFiles(envFile))
	assert.Equal(t, "from-process", os.Getenv("BLENDER_MCP_TEST_KEEP"))
}

func TestSaveAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "settings.yaml")
	cfg := Default()
	cfg.SetFilePath(path)
	cfg.SetCSM(true, "sk-saved")
	require.NoError(t, cfg.SetPort(9001))
	require.NoError(t, cfg.Save())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "port: 9001")

	loaded, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 9001, loaded.Port)
	csm := loaded.CSM()
	assert.True(t, csm.Enabled)
	assert.Equal(t, "sk-saved", csm.APIKey)
}

func TestLoad_UsesPathsAndEnv(t *testing.T) {
	home := t.TempDir()
	t.Setenv("BLENDER_MCP_HOME", home)
	t.Setenv(EnvPort, "9100")
	t.Setenv(EnvCSMAPIKey, "")
	t.Setenv(EnvUseCSM, "")
	paths.Reset()
	t.Cleanup(paths.Reset)

	writeFile(t, filepath.Join(home, "settings.yaml"), "port: 9200\n")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 9100, cfg.Port, "environment overrides the file")

	store, err := cfg.SceneStorePath()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "scene.db"), store)
}

func TestMaskKey(t *testing.T) {
	assert.Equal(t, "*****", MaskKey("abc"))
	assert.Equal(t, "sk-12...", MaskKey("sk-1234567890"))
}
