package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	for _, key := range []string{
		"SPECSYNC_CONFIG", "API_ADDR", "DATABASE_URL", "S3_ENDPOINT", "S3_BUCKET",
		"SPECSYNC_STORE_TIMEOUT_MS", "SPECSYNC_PUSH_LIMIT", "SPECSYNC_SYNC_LIMIT", "SPECSYNC_AUTO_MERGE_ON_PUSH",
	} {
		t.Setenv(key, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":8787", cfg.Addr)
	assert.Equal(t, 5*time.Second, cfg.Sync.StoreTimeout())
	assert.Equal(t, 10, cfg.Sync.PushLimit)
	assert.Equal(t, 30, cfg.Sync.SyncLimit)
	assert.False(t, cfg.Sync.AutoMergeOnPush)
	assert.False(t, cfg.S3.Enabled())
}

func TestLoadFileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "specsync.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
addr: ":9000"
database_url: "sqlite:///tmp/specsync.db"
s3:
  endpoint: "localhost:9000"
  bucket: "snapshots"
sync:
  push_limit: 3
  auto_merge_on_push: true
`), 0o600))
	clearEnv(t)
	t.Setenv("SPECSYNC_CONFIG", path)
	t.Setenv("API_ADDR", ":9100")
	t.Setenv("SPECSYNC_STORE_TIMEOUT_MS", "250")
	t.Setenv("SPECSYNC_SYNC_LIMIT", "not-a-number")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":9100", cfg.Addr)
	assert.Equal(t, "sqlite:///tmp/specsync.db", cfg.DatabaseURL)
	assert.True(t, cfg.S3.Enabled())
	assert.Equal(t, 3, cfg.Sync.PushLimit)
	assert.Equal(t, 30, cfg.Sync.SyncLimit)
	assert.True(t, cfg.Sync.AutoMergeOnPush)
	assert.Equal(t, 250*time.Millisecond, cfg.Sync.StoreTimeout())
}

func TestLoadRejectsBadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.yaml")
	require.NoError(t, os.WriteFile(path, []byte("addr: [unclosed"), 0o600))
	clearEnv(t)
	t.Setenv("SPECSYNC_CONFIG", path)
	_, err := Load()
	assert.Error(t, err)
}

func TestLoadRejectsNonPositiveTimeout(t *testing.T) {
	clearEnv(t)
	t.Setenv("SPECSYNC_STORE_TIMEOUT_MS", "0")
	_, err := Load()
	assert.Error(t, err)
}
