package internal_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koopa0/letterduel/internal"
)

// TestLoadConfig 測試配置載入
func TestLoadConfig(t *testing.T) {
	writeConfig := func(t *testing.T, content string) string {
		t.Helper()
		path := filepath.Join(t.TempDir(), "config.yaml")
		require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
		return path
	}

	t.Run("full config", func(t *testing.T) {
		path := writeConfig(t, `
server:
  port: 9090
  read_timeout: 15s
game:
  countdown_delay: 3s
  disconnect_bonus: 500
ratelimit:
  window: 30s
auth:
  jwt_secret: "from-file"
log:
  level: "debug"
  format: "json"
`)

		cfg, err := internal.LoadConfig(path)
		require.NoError(t, err)

		assert.Equal(t, 9090, cfg.Server.Port)
		assert.Equal(t, 15*time.Second, cfg.Server.ReadTimeout)
		assert.Equal(t, 3*time.Second, cfg.Game.CountdownDelay)
		assert.Equal(t, 500, cfg.Game.DisconnectBonus)
		assert.Equal(t, 30*time.Second, cfg.RateLimit.Window)
		assert.Equal(t, "from-file", cfg.Auth.JWTSecret)
	})

	t.Run("defaults fill the gaps", func(t *testing.T) {
		path := writeConfig(t, `
log:
  level: "info"
`)

		cfg, err := internal.LoadConfig(path)
		require.NoError(t, err)

		assert.Equal(t, 8080, cfg.Server.Port)
		assert.Equal(t, 5*time.Second, cfg.Game.CountdownDelay)
		assert.Equal(t, 1000, cfg.Game.DisconnectBonus)
		assert.Equal(t, 3*time.Second, cfg.Game.StoreTimeout)
		assert.Equal(t, 10*time.Second, cfg.RateLimit.Window)
	})

	t.Run("environment overrides the secret", func(t *testing.T) {
		t.Setenv("JWT_SECRET", "from-env")
		path := writeConfig(t, `
auth:
  jwt_secret: "from-file"
`)

		cfg, err := internal.LoadConfig(path)
		require.NoError(t, err)
		assert.Equal(t, "from-env", cfg.Auth.JWTSecret)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := internal.LoadConfig("/nonexistent/config.yaml")
		require.Error(t, err)
	})

	t.Run("malformed yaml", func(t *testing.T) {
		path := writeConfig(t, "server: [not a map")
		_, err := internal.LoadConfig(path)
		require.Error(t, err)
	})
}

// TestConfig_PostgresDSN 測試連線字串生成
func TestConfig_PostgresDSN(t *testing.T) {
	cfg := &internal.Config{}
	cfg.Postgres.Host = "db.local"
	cfg.Postgres.Port = 5433
	cfg.Postgres.User = "letterduel"
	cfg.Postgres.Password = "secret"
	cfg.Postgres.DBName = "letterduel"

	assert.Equal(t,
		"host=db.local port=5433 user=letterduel password=secret dbname=letterduel sslmode=disable",
		cfg.PostgresDSN())

	t.Run("DATABASE_URL wins", func(t *testing.T) {
		t.Setenv("DATABASE_URL", "postgres://u:p@elsewhere:5432/db")
		assert.Equal(t, "postgres://u:p@elsewhere:5432/db", cfg.PostgresDSN())
	})
}
