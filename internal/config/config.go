package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"pathfinder/internal/workflow"
)

// Config models pathfinder.yml.
type Config struct {
	Workflow struct {
		AutoLockOnCeoApproval *bool `yaml:"auto_lock_on_ceo_approval"`
	} `yaml:"workflow"`
	Notifications struct {
		QueueSize      int             `yaml:"queue_size"`
		RatePerSecond  float64         `yaml:"rate_per_second"`
		Burst          int             `yaml:"burst"`
		LockRecipients []string        `yaml:"lock_recipients"`
		Log            bool            `yaml:"log"`
		Webhooks       []WebhookConfig `yaml:"webhooks"`
	} `yaml:"notifications"`
	Server struct {
		Addr     string `yaml:"addr"`
		BasePath string `yaml:"base_path"`
	} `yaml:"server"`
	Auth struct {
		AllowLegacyActorHeader bool `yaml:"allow_legacy_actor_header"`
		TokenTTLMinutes        int  `yaml:"token_ttl_minutes"`
	} `yaml:"auth"`
	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`
}

type WebhookConfig struct {
	URL            string   `yaml:"url"`
	Events         []string `yaml:"events"`
	Secret         string   `yaml:"secret"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
	Enabled        *bool    `yaml:"enabled"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with pf config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns the default config if the file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// AutoLock reports whether a CEO approval locks the project in the same transaction.
func (c *Config) AutoLock() bool {
	if c == nil || c.Workflow.AutoLockOnCeoApproval == nil {
		return true
	}
	return *c.Workflow.AutoLockOnCeoApproval
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Notifications.QueueSize < 0 {
		return fmt.Errorf("notifications.queue_size must be >= 0")
	}
	if c.Notifications.RatePerSecond < 0 {
		return fmt.Errorf("notifications.rate_per_second must be >= 0")
	}
	for _, role := range c.Notifications.LockRecipients {
		if !workflow.Role(role).Valid() {
			return fmt.Errorf("notifications.lock_recipients has unknown role %s", role)
		}
	}
	for i, hook := range c.Notifications.Webhooks {
		if strings.TrimSpace(hook.URL) == "" {
			return fmt.Errorf("notifications.webhooks[%d].url is required", i)
		}
		if !strings.HasPrefix(hook.URL, "http://") && !strings.HasPrefix(hook.URL, "https://") {
			return fmt.Errorf("notifications.webhooks[%d].url must be http(s)", i)
		}
		if hook.TimeoutSeconds < 0 {
			return fmt.Errorf("notifications.webhooks[%d].timeout_seconds must be >= 0", i)
		}
		for _, evt := range hook.Events {
			if strings.TrimSpace(evt) == "" {
				return fmt.Errorf("notifications.webhooks[%d] has empty event name", i)
			}
		}
	}
	if c.Server.BasePath != "" && !strings.HasPrefix(c.Server.BasePath, "/") {
		return fmt.Errorf("server.base_path must start with /")
	}
	if c.Auth.TokenTTLMinutes < 0 {
		return fmt.Errorf("auth.token_ttl_minutes must be >= 0")
	}
	switch strings.ToLower(c.Logging.Level) {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be one of debug, info, warn, error")
	}
	switch strings.ToLower(c.Logging.Format) {
	case "", "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json")
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "pathfinder.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// Default returns the default Config struct.
func Default() *Config {
	var cfg Config
	if err := yaml.Unmarshal([]byte(defaultTemplate), &cfg); err != nil {
		panic(fmt.Sprintf("config: default template: %v", err))
	}
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `workflow:
  auto_lock_on_ceo_approval: true

notifications:
  queue_size: 64
  rate_per_second: 5
  burst: 5
  log: true
  lock_recipients: [ceo, hr_manager]
  webhooks: []

server:
  addr: 127.0.0.1:8080
  base_path: /v1

auth:
  allow_legacy_actor_header: false
  token_ttl_minutes: 60

logging:
  level: info
  format: text
`
