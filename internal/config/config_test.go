package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "dagster-cloud.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	require.Equal(t, DefaultTimeout, cfg.Timeout)
	require.Equal(t, DefaultRetries, cfg.Retries)
	require.NotNil(t, cfg.Verify)
	require.True(t, *cfg.Verify)
	require.Empty(t, cfg.URL)
	require.Empty(t, cfg.AgentToken)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("DAGSTER_CLOUD_URL", "https://hooli.dagster.cloud/prod")
	t.Setenv("DAGSTER_CLOUD_AGENT_TOKEN", "agent:hooli:token")
	t.Setenv("DAGSTER_CLOUD_DEPLOYMENT", "staging")
	t.Setenv("DAGSTER_CLOUD_AGENT_LABEL", "east-1")

	cfg, err := Load("")
	require.NoError(t, err)

	require.Equal(t, "https://hooli.dagster.cloud/prod", cfg.URL)
	require.Equal(t, "agent:hooli:token", cfg.AgentToken)
	require.Equal(t, "staging", cfg.Deployment)
	require.Equal(t, "east-1", cfg.AgentLabel)
}

func TestLoad_FromFile(t *testing.T) {
	path := writeConfigFile(t, `
url: https://hooli.dagster.cloud/prod
agent_token: agent:hooli:token
deployment: prod
timeout: 30s
verify: false
retries: 3
headers:
  X-Custom: "yes"
cookies:
  session_affinity: node-7
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, "https://hooli.dagster.cloud/prod", cfg.URL)
	require.Equal(t, "agent:hooli:token", cfg.AgentToken)
	require.Equal(t, "prod", cfg.Deployment)
	require.Equal(t, 30*time.Second, cfg.Timeout)
	require.NotNil(t, cfg.Verify)
	require.False(t, *cfg.Verify)
	require.Equal(t, 3, cfg.Retries)
	require.Equal(t, "yes", cfg.Headers["X-Custom"])
	require.Equal(t, "node-7", cfg.Cookies["session_affinity"])
}

func TestLoad_EnvBeatsFile(t *testing.T) {
	path := writeConfigFile(t, `
url: https://hooli.dagster.cloud/prod
agent_token: from-file
`)
	t.Setenv("DAGSTER_CLOUD_AGENT_TOKEN", "from-env")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "from-env", cfg.AgentToken)
	require.Equal(t, "https://hooli.dagster.cloud/prod", cfg.URL)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}
