// ABOUTME: Tests for configuration loading and validation
// ABOUTME: Covers env expansion, durations, defaults and validation failures

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

const validConfig = `
server:
  http_addr: ":9090"

database:
  path: "data/daybreak.db"

auth:
  jwt_secret: "test-secret"

chat:
  history_limit: 25
  upstream_timeout: "45s"

logging:
  level: "debug"
  format: "json"
`

func TestLoadValidConfig(t *testing.T) {
	cfg, err := Load(writeConfig(t, validConfig))
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Server.HTTPAddr)
	assert.Equal(t, "data/daybreak.db", cfg.Database.Path)
	assert.Equal(t, "test-secret", cfg.Auth.JWTSecret)
	assert.Equal(t, 25, cfg.Chat.HistoryLimit)
	assert.Equal(t, 45*time.Second, cfg.Chat.UpstreamTimeout)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
database:
  path: "data/daybreak.db"
auth:
  jwt_secret: "test-secret"
`))
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.HTTPAddr)
	assert.Equal(t, 50, cfg.Chat.HistoryLimit)
	assert.Equal(t, 30*time.Second, cfg.Chat.UpstreamTimeout)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "text", cfg.Logging.Format)
}

func TestLoadExpandsEnvVars(t *testing.T) {
	t.Setenv("DAYBREAK_TEST_SECRET", "from-env")

	cfg, err := Load(writeConfig(t, `
database:
  path: "data/daybreak.db"
auth:
  jwt_secret: "${DAYBREAK_TEST_SECRET}"
`))
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Auth.JWTSecret)
}

func TestLoadUnsetEnvVarBecomesEmpty(t *testing.T) {
	_, err := Load(writeConfig(t, `
database:
  path: "data/daybreak.db"
auth:
  jwt_secret: "${DAYBREAK_DEFINITELY_UNSET_VAR}"
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "jwt_secret")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoadInvalidYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "server: [unclosed"))
	assert.Error(t, err)
}

func TestLoadInvalidDuration(t *testing.T) {
	_, err := Load(writeConfig(t, `
database:
  path: "data/daybreak.db"
auth:
  jwt_secret: "s"
chat:
  upstream_timeout: "soon"
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "upstream_timeout")
}

func TestValidateSealingKey(t *testing.T) {
	goodKey := strings.Repeat("ab", 32)

	cfg, err := Load(writeConfig(t, `
database:
  path: "data/daybreak.db"
  sealing_key: "`+goodKey+`"
auth:
  jwt_secret: "s"
`))
	require.NoError(t, err)
	assert.Len(t, cfg.SealingKeyBytes(), 32)

	_, err = Load(writeConfig(t, `
database:
  path: "data/daybreak.db"
  sealing_key: "not-hex!!"
auth:
  jwt_secret: "s"
`))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, `
database:
  path: "data/daybreak.db"
  sealing_key: "abcd"
auth:
  jwt_secret: "s"
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "32 bytes")
}

func TestValidateLoggingLevel(t *testing.T) {
	_, err := Load(writeConfig(t, `
database:
  path: "data/daybreak.db"
auth:
  jwt_secret: "s"
logging:
  level: "verbose"
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "logging.level")
}

func TestValidateMissingDatabasePath(t *testing.T) {
	_, err := Load(writeConfig(t, `
auth:
  jwt_secret: "s"
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database.path")
}

func TestSealingKeyBytesUnset(t *testing.T) {
	cfg := &Config{}
	assert.Nil(t, cfg.SealingKeyBytes())
}
