package config

import (
	"bytes"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config models missionline.yml.
type Config struct {
	Server struct {
		Addr                   string `yaml:"addr"`
		BasePath               string `yaml:"base_path"`
		AllowLegacyActorHeader bool   `yaml:"allow_legacy_actor_header"`
	} `yaml:"server"`
	Database struct {
		Driver string `yaml:"driver"`
		DSN    string `yaml:"dsn"`
	} `yaml:"database"`
	Auth struct {
		JWTSecret       string `yaml:"jwt_secret"`
		APIKeyCacheSize int    `yaml:"api_key_cache_size"`
		DevLogin        bool   `yaml:"dev_login"`
	} `yaml:"auth"`
	LLM struct {
		Model          string       `yaml:"model"`
		BaseURL        string       `yaml:"base_url"`
		APIKey         string       `yaml:"api_key"`
		TimeoutSeconds int          `yaml:"timeout_seconds"`
		Temperatures   Temperatures `yaml:"temperatures"`
	} `yaml:"llm"`
	Quota struct {
		RefreshCeiling int    `yaml:"refresh_ceiling"`
		Incrementer    string `yaml:"incrementer"`
	} `yaml:"quota"`
	History struct {
		WindowDays int `yaml:"window_days"`
	} `yaml:"history"`
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
	Webhooks []WebhookConfig `yaml:"webhooks"`
}

// WebhookConfig delivers events to an external collaborator, such as the
// service that stores generated missions.
type WebhookConfig struct {
	URL            string   `yaml:"url"`
	Events         []string `yaml:"events,omitempty"`
	Secret         string   `yaml:"secret,omitempty"`
	TimeoutSeconds int      `yaml:"timeout_seconds,omitempty"`
	Enabled        *bool    `yaml:"enabled,omitempty"`
}

// Temperatures are sampling temperatures per task type.
type Temperatures struct {
	DailyMissions float64 `yaml:"daily_missions"`
	Funplay       float64 `yaml:"funplay"`
	Coaching      float64 `yaml:"coaching"`
}

// Incrementer backings accepted in quota.incrementer.
const (
	IncrementerAtomic     = "atomic"
	IncrementerReadUpsert = "read_upsert"
	IncrementerFallback   = "fallback"
)

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with missionline config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite", "pgx":
	default:
		return fmt.Errorf("database.driver must be sqlite or pgx, got %q", c.Database.Driver)
	}
	if c.Database.Driver == "pgx" && strings.TrimSpace(c.Database.DSN) == "" {
		return fmt.Errorf("database.dsn is required for driver pgx")
	}
	if c.LLM.Model == "" {
		return fmt.Errorf("llm.model is required")
	}
	if c.LLM.TimeoutSeconds < 0 {
		return fmt.Errorf("llm.timeout_seconds must be >= 0")
	}
	for name, t := range map[string]float64{
		"daily_missions": c.LLM.Temperatures.DailyMissions,
		"funplay":        c.LLM.Temperatures.Funplay,
		"coaching":       c.LLM.Temperatures.Coaching,
	} {
		// go-openai omits a zero temperature, which falls back to the provider default.
		if t <= 0 || t > 2 {
			return fmt.Errorf("llm.temperatures.%s must be within (0,2]", name)
		}
	}
	if c.LLM.Temperatures.Funplay < c.LLM.Temperatures.Coaching {
		return fmt.Errorf("llm.temperatures.funplay must not be lower than coaching")
	}
	if c.Quota.RefreshCeiling <= 0 {
		return fmt.Errorf("quota.refresh_ceiling must be > 0")
	}
	switch c.Quota.Incrementer {
	case IncrementerAtomic, IncrementerReadUpsert, IncrementerFallback:
	default:
		return fmt.Errorf("quota.incrementer must be one of atomic, read_upsert, fallback")
	}
	if c.History.WindowDays <= 0 {
		return fmt.Errorf("history.window_days must be > 0")
	}
	if c.Auth.APIKeyCacheSize < 0 {
		return fmt.Errorf("auth.api_key_cache_size must be >= 0")
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be one of debug, info, warn, error")
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json")
	}
	for i, hook := range c.Webhooks {
		u, err := url.Parse(strings.TrimSpace(hook.URL))
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("webhooks[%d].url must be an http(s) URL", i)
		}
		if hook.TimeoutSeconds < 0 {
			return fmt.Errorf("webhooks[%d].timeout_seconds must be >= 0", i)
		}
	}
	return nil
}

// LLMTimeout returns the outbound generation timeout; zero disables it.
func (c *Config) LLMTimeout() time.Duration {
	return time.Duration(c.LLM.TimeoutSeconds) * time.Second
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "missionline.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
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

// Default returns the default Config.
func Default() *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(defaultTemplate)).Decode(&cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes. Keys missing from
// data keep their default values.
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

const defaultTemplate = `server:
  addr: 127.0.0.1:8080
  base_path: /v0
  allow_legacy_actor_header: false

database:
  driver: sqlite
  dsn: ""

auth:
  jwt_secret: ""
  api_key_cache_size: 256
  dev_login: false

llm:
  model: gpt-4o-mini
  base_url: ""
  api_key: ""
  timeout_seconds: 60
  temperatures:
    daily_missions: 0.8
    funplay: 1.0
    coaching: 0.4

quota:
  refresh_ceiling: 3
  incrementer: fallback

history:
  window_days: 7

log:
  level: info
  format: text

webhooks: []
`
