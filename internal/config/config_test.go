package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// isolate уводит Load от .env и config/api.yaml рабочей копии.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })
	for _, k := range []string{
		"APP_ENV", "CONFIG_PATH", "SERVER_ADDR", "DATABASE_URL", "REDIS_URL", "JWT_SECRET",
		"GEMINI_API_KEY", "GOOGLE_API_KEY", "CALL_ICE_SERVERS", "AI_THINK_DELAY_MS", "RATE_LIMIT_RPS",
		"MAX_UPLOAD_SIZE_MB", "PUBLIC_BASE_URL", "CORS_ALLOWED_ORIGINS",
	} {
		t.Setenv(k, "")
	}
	return dir
}

func TestLoad_Defaults(t *testing.T) {
	isolate(t)
	cfg := Load()

	assert.Equal(t, ":8000", cfg.ServerAddr)
	assert.Equal(t, devDatabaseURL, cfg.DatabaseURL())
	assert.Equal(t, 20, cfg.DBMaxConnections())
	assert.Equal(t, int64(20<<20), cfg.MaxUploadSize)
	assert.Equal(t, "ys-dev-secret", cfg.JWTSecret)
	assert.Equal(t, time.Second, cfg.AI.ThinkDelay)
	assert.Equal(t, 1500*time.Millisecond, cfg.AI.TypingDelay)
	assert.False(t, cfg.AIEnabled())
	assert.Empty(t, cfg.RedisURL)
	require.Len(t, cfg.CallICEServers, 1)
	assert.Equal(t, []string{"stun:stun.l.google.com:19302"}, cfg.CallICEServers[0].URLs)
	assert.Equal(t, []string{"*"}, cfg.AllowedOrigins())
}

func TestLoad_YAMLThenEnv(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "api.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server_addr: ":9000"
max_upload_size_mb: 5
ai_think_delay_ms: 10
call_ice_servers:
  - urls: ["turn:turn.yshr.com:3478"]
    username: ys
    credential: secret
`), 0o600))
	t.Setenv("CONFIG_PATH", path)
	t.Setenv("SERVER_ADDR", ":7000")
	t.Setenv("GOOGLE_API_KEY", "g-key")
	t.Setenv("RATE_LIMIT_RPS", "2.5")
	t.Setenv("PUBLIC_BASE_URL", "https://hr.yshr.com/")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.com, https://b.com,")

	cfg := Load()
	assert.Equal(t, ":7000", cfg.ServerAddr)
	assert.Equal(t, int64(5<<20), cfg.MaxUploadSize)
	assert.Equal(t, 10*time.Millisecond, cfg.AI.ThinkDelay)
	assert.Equal(t, "g-key", cfg.AI.APIKey)
	assert.Equal(t, 2.5, cfg.RateLimitRPS)
	assert.Equal(t, "https://hr.yshr.com", cfg.PublicBaseURL)
	assert.Equal(t, []string{"https://a.com", "https://b.com"}, cfg.AllowedOrigins())
	require.Len(t, cfg.CallICEServers, 1)
	assert.Equal(t, "ys", cfg.CallICEServers[0].Username)

	t.Setenv("GEMINI_API_KEY", "gem-key")
	t.Setenv("CALL_ICE_SERVERS", `[{"urls":["stun:a"]},{"urls":["stun:b"]}]`)
	cfg = Load()
	assert.Equal(t, "gem-key", cfg.AI.APIKey)
	assert.Len(t, cfg.CallICEServers, 2)
}

func TestLoad_DotEnv(t *testing.T) {
	dir := isolate(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("JWT_SECRET=from-dotenv\n"), 0o600))
	os.Unsetenv("JWT_SECRET")

	cfg := Load()
	assert.Equal(t, "from-dotenv", cfg.JWTSecret)
}
