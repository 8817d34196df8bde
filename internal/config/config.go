package config

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type ModelConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Name    string        `mapstructure:"name"`
	APIKey  string        `mapstructure:"api_key"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type GitHubConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Token   string        `mapstructure:"token"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type RolesConfig struct {
	Dir   string `mapstructure:"dir"`
	Watch bool   `mapstructure:"watch"`
}

type StoreConfig struct {
	Path string `mapstructure:"path"`
}

// NATSConfig selects the turn event bus. URL connects to an external
// server; Embedded starts one in-process instead. Neither disables it.
type NATSConfig struct {
	URL      string `mapstructure:"url"`
	Embedded bool   `mapstructure:"embedded"`
	Port     int    `mapstructure:"port"`
}

func (c NATSConfig) Enabled() bool {
	return c.URL != "" || c.Embedded
}

type ServerConfig struct {
	Port  int    `mapstructure:"port"`
	Token string `mapstructure:"token"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Config holds runtime configuration populated from .aichat.yaml,
// AICHAT_* env vars, and CLI flags bound by the command layer.
type Config struct {
	Model  ModelConfig  `mapstructure:"model"`
	GitHub GitHubConfig `mapstructure:"github"`
	Roles  RolesConfig  `mapstructure:"roles"`
	Store  StoreConfig  `mapstructure:"store"`
	NATS   NATSConfig   `mapstructure:"nats"`
	Server ServerConfig `mapstructure:"server"`
	Log    LogConfig    `mapstructure:"log"`
}

func SetDefaults(v *viper.Viper) {
	v.SetDefault("model.base_url", "https://api.openai.com/v1")
	v.SetDefault("model.name", "gpt-3.5-turbo")
	v.SetDefault("model.api_key", "")
	v.SetDefault("model.timeout", 60*time.Second)
	v.SetDefault("github.base_url", "https://api.github.com")
	v.SetDefault("github.token", "")
	v.SetDefault("github.timeout", 30*time.Second)
	v.SetDefault("roles.dir", "")
	v.SetDefault("roles.watch", false)
	v.SetDefault("store.path", "")
	v.SetDefault("nats.url", "")
	v.SetDefault("nats.embedded", false)
	v.SetDefault("nats.port", -1)
	v.SetDefault("server.port", 8765)
	v.SetDefault("server.token", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// Load reads configuration from the global viper instance.
func Load() (*Config, error) {
	return LoadFrom(viper.GetViper())
}

func LoadFrom(v *viper.Viper) (*Config, error) {
	SetDefaults(v)
	v.SetEnvPrefix("AICHAT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	cfg.Model.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.Model.BaseURL), "/")
	cfg.GitHub.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.GitHub.BaseURL), "/")
	cfg.Log.Level = strings.ToLower(strings.TrimSpace(cfg.Log.Level))
	cfg.Log.Format = strings.ToLower(strings.TrimSpace(cfg.Log.Format))
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port %d: must be between 1 and 65535", c.Server.Port)
	}
	if c.NATS.Embedded && c.NATS.Port != -1 && (c.NATS.Port < 1 || c.NATS.Port > 65535) {
		return fmt.Errorf("invalid nats port %d: must be -1 or between 1 and 65535", c.NATS.Port)
	}
	if c.Model.Timeout <= 0 {
		return fmt.Errorf("model timeout must be positive, got %s", c.Model.Timeout)
	}
	if c.GitHub.Timeout <= 0 {
		return fmt.Errorf("github timeout must be positive, got %s", c.GitHub.Timeout)
	}
	if strings.TrimSpace(c.Model.Name) == "" {
		return fmt.Errorf("model name is required")
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level %q", c.Log.Level)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log format %q", c.Log.Format)
	}
	return nil
}

// EnsureServerToken fills Server.Token with a random token when unset and
// reports whether it generated one.
func (c *Config) EnsureServerToken() (bool, error) {
	if c.Server.Token != "" {
		return false, nil
	}
	token, err := generateToken()
	if err != nil {
		return false, fmt.Errorf("failed to generate token: %w", err)
	}
	c.Server.Token = token
	return true, nil
}

func generateToken() (string, error) {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return hex.EncodeToString(bytes), nil
}
