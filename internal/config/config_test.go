package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.True(t, cfg.AutoLock())
	assert.Equal(t, 64, cfg.Notifications.QueueSize)
	assert.Equal(t, []string{"ceo", "hr_manager"}, cfg.Notifications.LockRecipients)
	assert.Equal(t, "/v1", cfg.Server.BasePath)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestFromYAMLOverlaysDefaults(t *testing.T) {
	cfg, err := FromYAML([]byte(`
workflow:
  auto_lock_on_ceo_approval: false
notifications:
  webhooks:
    - url: https://hooks.example.com/pf
      events: [project.locked]
logging:
  format: json
`))
	require.NoError(t, err)
	assert.False(t, cfg.AutoLock())
	require.Len(t, cfg.Notifications.Webhooks, 1)
	assert.Equal(t, []string{"project.locked"}, cfg.Notifications.Webhooks[0].Events)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, "127.0.0.1:8080", cfg.Server.Addr)
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := map[string]string{
		"role":      "notifications:\n  lock_recipients: [janitor]\n",
		"url":       "notifications:\n  webhooks:\n    - url: ftp://x\n",
		"empty url": "notifications:\n  webhooks:\n    - events: [a]\n",
		"level":     "logging:\n  level: loud\n",
		"format":    "logging:\n  format: xml\n",
		"base":      "server:\n  base_path: v1\n",
		"queue":     "notifications:\n  queue_size: -1\n",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := FromYAML([]byte(doc))
			assert.Error(t, err)
		})
	}
	_, err := FromYAML([]byte("workflow: ["))
	assert.ErrorContains(t, err, "invalid config yaml")
}

func TestLoadOptional(t *testing.T) {
	dir := t.TempDir()
	cfg, err := LoadOptional(dir)
	require.NoError(t, err)
	assert.True(t, cfg.AutoLock())

	_, err = Load(dir)
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "pf config init"))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "pathfinder.yml"), []byte("server:\n  addr: 0.0.0.0:9000\n"), 0o644))
	cfg, err = Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:9000", cfg.Server.Addr)
}

func TestAutoLockNilConfig(t *testing.T) {
	var cfg *Config
	assert.True(t, cfg.AutoLock())
}
