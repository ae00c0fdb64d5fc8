// Package config loads provider credentials and the cascade configuration.
//
// Credentials come from the environment first and then from
// <dir>/config.yaml, where <dir> is $TOOLCASCADE_HOME or ~/.toolcascade.
// The cascade file is the explicit path, then $TOOLCASCADE_CONFIG, then
// <dir>/cascade.yaml, then the built-in defaults.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Environment variables read by Load.
const (
	EnvHome        = "TOOLCASCADE_HOME"
	EnvCascadeFile = "TOOLCASCADE_CONFIG"
)

// Config is the resolved runtime configuration.
type Config struct {
	AnthropicAPIKey string
	OpenAIAPIKey    string
	GoogleAPIKey    string
	DeepSeekAPIKey  string
	TavilyAPIKey    string

	Cascade *CascadeConfig
	// CascadeFile is the file Cascade was read from, empty for defaults.
	CascadeFile string
	ConfigDir   string
}

// credentialsFile is the layout of <dir>/config.yaml.
type credentialsFile struct {
	APIKeys map[string]string `yaml:"api_keys"`
}

// Load resolves configuration without an explicit cascade file.
func Load() (*Config, error) {
	return LoadWithCascadeFile("")
}

// LoadWithCascadeFile resolves configuration, reading cascade settings from
// cascadePath when it is not empty.
func LoadWithCascadeFile(cascadePath string) (*Config, error) {
	dir, err := configDir()
	if err != nil {
		return nil, fmt.Errorf("config directory: %w", err)
	}
	creds, err := readCredentials(filepath.Join(dir, "config.yaml"))
	if err != nil {
		return nil, err
	}

	cfg := &Config{ConfigDir: dir}
	for _, c := range []struct {
		env, key string
		dst      *string
	}{
		{"ANTHROPIC_API_KEY", "anthropic", &cfg.AnthropicAPIKey},
		{"OPENAI_API_KEY", "openai", &cfg.OpenAIAPIKey},
		{"GOOGLE_API_KEY", "google", &cfg.GoogleAPIKey},
		{"DEEPSEEK_API_KEY", "deepseek", &cfg.DeepSeekAPIKey},
		{"TAVILY_API_KEY", "tavily", &cfg.TavilyAPIKey},
	} {
		*c.dst = firstNonEmpty(os.Getenv(c.env), creds.APIKeys[c.key])
	}

	cfg.CascadeFile = firstNonEmpty(cascadePath, os.Getenv(EnvCascadeFile))
	if cfg.CascadeFile == "" {
		candidate := filepath.Join(dir, "cascade.yaml")
		if _, err := os.Stat(candidate); err == nil {
			cfg.CascadeFile = candidate
		}
	}
	if cfg.CascadeFile == "" {
		cfg.Cascade = DefaultCascadeConfig()
		return cfg, nil
	}

	cfg.Cascade, err = LoadCascadeConfig(cfg.CascadeFile)
	if err != nil {
		return nil, fmt.Errorf("cascade config %s: %w", cfg.CascadeFile, err)
	}
	return cfg, nil
}

// HasAdapter reports whether the named provider has credentials. The mock
// provider always does.
func (c *Config) HasAdapter(name string) bool {
	switch name {
	case "anthropic":
		return c.AnthropicAPIKey != ""
	case "openai":
		return c.OpenAIAPIKey != ""
	case "google":
		return c.GoogleAPIKey != ""
	case "deepseek":
		return c.DeepSeekAPIKey != ""
	case "mock":
		return true
	}
	return false
}

// readCredentials treats a missing file as empty and a malformed one as an
// error.
func readCredentials(path string) (credentialsFile, error) {
	var out credentialsFile
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return out, nil
	}
	if err != nil {
		return out, err
	}
	if err := yaml.Unmarshal(data, &out); err != nil {
		return out, fmt.Errorf("parse %s: %w", path, err)
	}
	return out, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func configDir() (string, error) {
	dir := os.Getenv(EnvHome)
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		dir = filepath.Join(home, ".toolcascade")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", err
	}
	return dir, nil
}
