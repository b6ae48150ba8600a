package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envFrom(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func requiredEnv() map[string]string {
	return map[string]string{
		EnvEndpoint:   "https://gateway.example.com/v1",
		EnvProjectID:  "proj",
		EnvPlatform:   "com.example.habits",
		EnvDatabaseID: "main",
		EnvTableID:    "habits",
		EnvConfig:     "",
	}
}

func TestLoad_FromEnv(t *testing.T) {
	env := requiredEnv()
	env[EnvRefreshDebounce] = "250ms"
	env[EnvDebugAddr] = "127.0.0.1:9090"

	opts, err := Load(nil, envFrom(env))
	require.NoError(t, err)

	assert.Equal(t, "https://gateway.example.com/v1", opts.Endpoint)
	assert.Equal(t, "proj", opts.ProjectID)
	assert.Equal(t, "com.example.habits", opts.Platform)
	assert.Equal(t, "main", opts.DatabaseID)
	assert.Equal(t, "habits", opts.TableID)
	assert.Equal(t, 250*time.Millisecond, opts.RefreshDebounce)
	assert.Equal(t, "127.0.0.1:9090", opts.DebugAddr)
	assert.Equal(t, "session.json", opts.SessionFile)
	assert.Equal(t, 10*time.Second, opts.RequestTimeout)
}

func TestLoad_MissingRequired(t *testing.T) {
	env := requiredEnv()
	delete(env, EnvProjectID)
	delete(env, EnvTableID)

	_, err := Load(nil, envFrom(env))
	require.Error(t, err)
	assert.Contains(t, err.Error(), EnvProjectID)
	assert.Contains(t, err.Error(), EnvTableID)
	assert.NotContains(t, err.Error(), EnvEndpoint)
}

func TestLoad_InvalidEndpoint(t *testing.T) {
	env := requiredEnv()
	env[EnvEndpoint] = "gateway.example.com"

	_, err := Load(nil, envFrom(env))
	assert.Error(t, err)
}

func TestLoad_InvalidDuration(t *testing.T) {
	env := requiredEnv()
	env[EnvRequestTimeout] = "soon"

	_, err := Load(nil, envFrom(env))
	assert.Error(t, err)
}

func TestLoad_FlagsOverrideEnv(t *testing.T) {
	env := requiredEnv()
	env[EnvLogLevel] = "warn"

	opts, err := Load([]string{"--project", "flagproj", "--log-level", "debug"}, envFrom(env))
	require.NoError(t, err)

	assert.Equal(t, "flagproj", opts.ProjectID)
	assert.Equal(t, "debug", opts.LogLevel)
}

func TestLoad_FileThenEnvThenFlags(t *testing.T) {
	path := filepath.Join(t.TempDir(), "habits.yaml")
	content := `
endpoint: https://file.example.com/v1
project_id: fileproj
platform: com.example.file
database_id: filedb
table_id: filetable
refresh_debounce: 1s
log_level: error
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	env := map[string]string{
		EnvDatabaseID: "envdb",
	}

	opts, err := Load([]string{"-c", path, "--table", "flagtable"}, envFrom(env))
	require.NoError(t, err)

	assert.Equal(t, "https://file.example.com/v1", opts.Endpoint)
	assert.Equal(t, "fileproj", opts.ProjectID)
	assert.Equal(t, "envdb", opts.DatabaseID)
	assert.Equal(t, "flagtable", opts.TableID)
	assert.Equal(t, time.Second, opts.RefreshDebounce)
	assert.Equal(t, "error", opts.LogLevel)
	assert.Equal(t, path, opts.Config)
}

func TestLoad_ExplicitMissingFile(t *testing.T) {
	_, err := Load([]string{"--config", filepath.Join(t.TempDir(), "nope.yaml")}, envFrom(requiredEnv()))
	assert.Error(t, err)
}

func TestLoad_VersionSkipsValidation(t *testing.T) {
	opts, err := Load([]string{"--version"}, envFrom(map[string]string{}))
	require.NoError(t, err)
	assert.True(t, opts.ShowVersion)
}

func TestLoad_UnknownFlag(t *testing.T) {
	_, err := Load([]string{"--bogus"}, envFrom(requiredEnv()))
	assert.Error(t, err)
}
