package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := LoadFrom(viper.New())
	if err != nil {
		t.Fatalf("LoadFrom() error = %v", err)
	}

	tests := []struct {
		name string
		got  any
		want any
	}{
		{"Model.BaseURL", cfg.Model.BaseURL, "https://api.openai.com/v1"},
		{"Model.Name", cfg.Model.Name, "gpt-3.5-turbo"},
		{"Model.Timeout", cfg.Model.Timeout, 60 * time.Second},
		{"GitHub.BaseURL", cfg.GitHub.BaseURL, "https://api.github.com"},
		{"GitHub.Timeout", cfg.GitHub.Timeout, 30 * time.Second},
		{"Roles.Watch", cfg.Roles.Watch, false},
		{"Store.Path", cfg.Store.Path, ""},
		{"NATS.Enabled", cfg.NATS.Enabled(), false},
		{"Server.Port", cfg.Server.Port, 8765},
		{"Log.Level", cfg.Log.Level, "info"},
		{"Log.Format", cfg.Log.Format, "text"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("%s = %v, want %v", tt.name, tt.got, tt.want)
			}
		})
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("AICHAT_MODEL_API_KEY", "sk-test")
	t.Setenv("AICHAT_GITHUB_TOKEN", "ghp-test")
	t.Setenv("AICHAT_SERVER_PORT", "9999")
	t.Setenv("AICHAT_MODEL_TIMEOUT", "5s")
	t.Setenv("AICHAT_MODEL_BASE_URL", "http://localhost:1234/v1/")

	cfg, err := LoadFrom(viper.New())
	if err != nil {
		t.Fatalf("LoadFrom() error = %v", err)
	}
	if cfg.Model.APIKey != "sk-test" || cfg.GitHub.Token != "ghp-test" {
		t.Fatalf("credentials = %q/%q", cfg.Model.APIKey, cfg.GitHub.Token)
	}
	if cfg.Server.Port != 9999 {
		t.Fatalf("Server.Port = %d, want 9999", cfg.Server.Port)
	}
	if cfg.Model.Timeout != 5*time.Second {
		t.Fatalf("Model.Timeout = %s, want 5s", cfg.Model.Timeout)
	}
	if cfg.Model.BaseURL != "http://localhost:1234/v1" {
		t.Fatalf("Model.BaseURL = %q", cfg.Model.BaseURL)
	}
}

func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".aichat.yaml")
	content := "model:\n  name: local-model\nroles:\n  dir: /etc/aichat/roles\n  watch: true\nstore:\n  path: /tmp/aichat.db\nnats:\n  embedded: true\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		t.Fatalf("ReadInConfig() error = %v", err)
	}

	cfg, err := LoadFrom(v)
	if err != nil {
		t.Fatalf("LoadFrom() error = %v", err)
	}
	if cfg.Model.Name != "local-model" || cfg.Roles.Dir != "/etc/aichat/roles" || !cfg.Roles.Watch {
		t.Fatalf("cfg = %+v", cfg)
	}
	if cfg.Store.Path != "/tmp/aichat.db" || !cfg.NATS.Enabled() || cfg.NATS.Port != -1 {
		t.Fatalf("cfg = %+v", cfg)
	}
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"port zero", func(c *Config) { c.Server.Port = 0 }, "invalid port"},
		{"port high", func(c *Config) { c.Server.Port = 70000 }, "invalid port"},
		{"nats port", func(c *Config) { c.NATS.Embedded = true; c.NATS.Port = 0 }, "invalid nats port"},
		{"model timeout", func(c *Config) { c.Model.Timeout = 0 }, "model timeout"},
		{"github timeout", func(c *Config) { c.GitHub.Timeout = -time.Second }, "github timeout"},
		{"model name", func(c *Config) { c.Model.Name = " " }, "model name"},
		{"log level", func(c *Config) { c.Log.Level = "loud" }, "log level"},
		{"log format", func(c *Config) { c.Log.Format = "xml" }, "log format"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := LoadFrom(viper.New())
			if err != nil {
				t.Fatalf("LoadFrom() error = %v", err)
			}
			tt.mutate(cfg)
			err = cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("Validate() error = %v, want containing %q", err, tt.want)
			}
		})
	}
}

func TestEnsureServerToken(t *testing.T) {
	cfg := &Config{}
	generated, err := cfg.EnsureServerToken()
	if err != nil || !generated || len(cfg.Server.Token) != 32 {
		t.Fatalf("generated=%v token=%q err=%v", generated, cfg.Server.Token, err)
	}
	token := cfg.Server.Token
	generated, err = cfg.EnsureServerToken()
	if err != nil || generated || cfg.Server.Token != token {
		t.Fatalf("second call generated=%v token=%q err=%v", generated, cfg.Server.Token, err)
	}
}
