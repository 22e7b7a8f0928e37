package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 3*time.Second, cfg.Client.TypingWindow)
	assert.Equal(t, 3, cfg.Client.MaxSuggestions)
	assert.Equal(t, "chat", cfg.Scylla.Keyspace)
}

func TestLoad_FileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "groupchat.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
kafka:
  brokers: [k1:9092]
  topic: events
client:
  typing_window: 5s
  max_suggestions: 2
media:
  bucket: chat-media
  url_expiry: 10m
`), 0o600))

	t.Setenv("REDIS_ADDR", "redis:6380")
	t.Setenv("SCYLLA_HOSTS", "s1:9042, s2:9042")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"k1:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, "events", cfg.Kafka.Topic)
	assert.Equal(t, 5*time.Second, cfg.Client.TypingWindow)
	assert.Equal(t, 2, cfg.Client.MaxSuggestions)
	assert.Equal(t, 10*time.Minute, cfg.Media.URLExpiry)
	assert.Equal(t, "redis:6380", cfg.Redis.Addr)
	assert.Equal(t, []string{"s1:9042", "s2:9042"}, cfg.Scylla.Hosts)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoad_BadEnv(t *testing.T) {
	t.Setenv("GROUPCHAT_NODE_ID", "abc")
	_, err := Load("")
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cfg := Default()
	assert.Error(t, cfg.ValidateServer())
	assert.Error(t, cfg.ValidateClient())

	cfg.Auth.JWTKey = "k"
	cfg.Codec.Key = "00"
	assert.NoError(t, cfg.ValidateServer())
	assert.NoError(t, cfg.ValidateClient())

	cfg.Client.SessionStore = "sqlite"
	assert.Error(t, cfg.ValidateClient())
}
