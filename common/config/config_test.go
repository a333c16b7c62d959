package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const testYAML = `
server:
  port: 9090
  shutdown-timeout: 15s

dispatcher:
  connection-timeout: 3s
  timeout: 90s

providers:
  openai:
    base-url: https://api.openai.com
    models: [gpt-4o, gpt-4o-mini]
  anthropic:
    base-url: https://api.anthropic.com
    models: [claude-3-5-haiku]
    version: "2023-06-01"

routers:
  default:
    request-style: openai
    load-balance:
      chat:
        strategy: weighted
        targets:
          - provider: openai
            weight: 0.25
          - provider: anthropic
            weight: 0.75

default-model-mapping:
  gpt-4o-mini: [anthropic/claude-3-5-haiku]
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad(t *testing.T) {
	cfg, err := Load(writeConfig(t, testYAML))
	require.NoError(t, err)

	require.Equal(t, DeploymentSelfHosted, cfg.DeploymentTarget)
	require.Equal(t, 9090, cfg.Server.Port)
	require.Equal(t, 15*time.Second, cfg.Server.ShutdownTimeout)
	require.Equal(t, 3*time.Second, cfg.Dispatcher.ConnectionTimeout)

	router, ok := cfg.Routers["default"]
	require.True(t, ok)
	require.Len(t, router.LoadBalance["chat"].Targets, 2)
	require.Equal(t, []string{"anthropic/claude-3-5-haiku"}, cfg.DefaultModelMapping["gpt-4o-mini"])

	// Monitor defaults apply when the section is absent.
	require.Equal(t, int64(20), cfg.Monitor.MinRequests)
	require.InDelta(t, 0.15, cfg.Monitor.ErrorThreshold, 1e-9)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("AI_GATEWAY__SERVER__PORT", "9191")
	t.Setenv("AI_GATEWAY__PROVIDERS__OPENAI__API-KEY", "sk-from-env")

	cfg, err := Load(writeConfig(t, testYAML))
	require.NoError(t, err)
	require.Equal(t, 9191, cfg.Server.Port)
	require.Equal(t, "sk-from-env", cfg.Providers["openai"].APIKey)
}

func TestLoadRejectsCloudTarget(t *testing.T) {
	_, err := Load(writeConfig(t, testYAML+"\ndeployment-target: cloud\n"))
	require.Error(t, err)
	require.Contains(t, err.Error(), "cloud")
}

func TestValidateBalanceConfig(t *testing.T) {
	bad := `
providers:
  openai:
    base-url: https://api.openai.com
routers:
  default:
    load-balance:
      chat:
        strategy: weighted
        targets:
          - provider: openai
            weight: 1.5
`
	_, err := Load(writeConfig(t, bad))
	require.Error(t, err)
	require.Contains(t, err.Error(), "weight")

	unknown := `
providers:
  openai:
    base-url: https://api.openai.com
routers:
  default:
    load-balance:
      chat:
        strategy: latency
        providers: [mystery]
`
	_, err = Load(writeConfig(t, unknown))
	require.Error(t, err)
	require.Contains(t, err.Error(), "mystery")
}

func TestValidRouterId(t *testing.T) {
	require.True(t, ValidRouterId("default"))
	require.True(t, ValidRouterId("prod-1"))
	require.True(t, ValidRouterId("A_b-3"))
	require.False(t, ValidRouterId(""))
	require.False(t, ValidRouterId("thirteen-char!"))
	require.False(t, ValidRouterId("way-too-long-name"))
}
