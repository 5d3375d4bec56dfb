package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DefaultFileName is looked up in the working directory and next to the binary.
const DefaultFileName = "secuflow.yml"

// Config is the root configuration.
type Config struct {
	SecuFlow SecuFlowConfig `yaml:"secuflow"`
}

// SecuFlowConfig is the project configuration.
type SecuFlowConfig struct {
	Server    ServerConfig    `yaml:"server"`
	Logs      LogsConfig      `yaml:"logs"`
	Templates TemplatesConfig `yaml:"templates"`
	Analysis  AnalysisConfig  `yaml:"analysis"`
	Explainer ExplainerConfig `yaml:"explainer"`
	Rules     RulesConfig     `yaml:"rules"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig controls the HTTP API.
type ServerConfig struct {
	ListenAddress string        `yaml:"listen_address"`
	ReadTimeout   time.Duration `yaml:"read_timeout"`
	WriteTimeout  time.Duration `yaml:"write_timeout"`
	IdleTimeout   time.Duration `yaml:"idle_timeout"`
	Auth          AuthConfig    `yaml:"auth"`
}

// AuthConfig holds bcrypt hashes of accepted bearer tokens. Empty disables auth.
type AuthConfig struct {
	TokenHashes []string `yaml:"token_hashes"`
}

// LogsConfig selects the log store.
type LogsConfig struct {
	Source string      `yaml:"source"` // file|redis
	Path   string      `yaml:"path"`
	Redis  RedisConfig `yaml:"redis"`
}

// RedisConfig controls the Redis list log store.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Key      string `yaml:"key"`
}

// TemplatesConfig points at the event template CSV.
type TemplatesConfig struct {
	Path string `yaml:"path"`
}

// AnalysisConfig controls the recent-window summary.
type AnalysisConfig struct {
	Window int `yaml:"window"`
}

// ExplainerConfig controls the optional text-generation call.
type ExplainerConfig struct {
	APIKey    string        `yaml:"api_key"`
	APIKeyEnv string        `yaml:"api_key_env"`
	BaseURL   string        `yaml:"base_url"`
	Model     string        `yaml:"model"`
	Timeout   time.Duration `yaml:"timeout"`
}

// RulesConfig controls Sigma rule matching.
type RulesConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// LoggingConfig controls logging output.
type LoggingConfig struct {
	Enabled bool   `yaml:"enabled"`
	Level   string `yaml:"level"`
	File    string `yaml:"file"`
	Console bool   `yaml:"console"`
}

// LoadConfig reads and parses a YAML config file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	return &cfg, nil
}

// Load resolves the config file, parses it when present and applies defaults and
// environment overrides. An explicitly requested file must exist.
func Load(configArg string) (*Config, string, error) {
	path := FindConfigFile(configArg)

	var cfg *Config
	if _, err := os.Stat(path); err == nil {
		cfg, err = LoadConfig(path)
		if err != nil {
			return nil, path, err
		}
	} else if configArg != "" {
		return nil, path, fmt.Errorf("config file not found: %s", configArg)
	} else {
		cfg = &Config{}
		path = ""
	}

	ApplyDefaults(cfg)
	ApplyEnv(cfg)
	return cfg, path, nil
}

// FindConfigFile returns the first existing config location.
func FindConfigFile(configArg string) string {
	if configArg != "" {
		if _, err := os.Stat(configArg); err == nil {
			return configArg
		}
		log.Printf("Warning: config file not found at %s", configArg)
		return configArg
	}

	if _, err := os.Stat(DefaultFileName); err == nil {
		return DefaultFileName
	}

	exePath, err := os.Executable()
	if err == nil {
		path := filepath.Join(filepath.Dir(exePath), DefaultFileName)
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return DefaultFileName
}

// ApplyDefaults fills in unset values.
func ApplyDefaults(cfg *Config) {
	c := &cfg.SecuFlow

	if c.Server.ListenAddress == "" {
		c.Server.ListenAddress = ":8000"
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 10 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 90 * time.Second
	}
	if c.Server.IdleTimeout == 0 {
		c.Server.IdleTimeout = 60 * time.Second
	}

	if c.Logs.Source == "" {
		c.Logs.Source = "file"
	}
	if c.Logs.Path == "" {
		c.Logs.Path = "logs/windows_logs.json"
	}
	if c.Logs.Redis.Addr == "" {
		c.Logs.Redis.Addr = "127.0.0.1:6379"
	}
	if c.Logs.Redis.Key == "" {
		c.Logs.Redis.Key = "secuflow:windows_logs"
	}

	if c.Templates.Path == "" {
		c.Templates.Path = "data/Windows_2k.log_templates.csv"
	}

	if c.Analysis.Window <= 0 {
		c.Analysis.Window = 200
	}

	if c.Explainer.APIKeyEnv == "" {
		c.Explainer.APIKeyEnv = "OPENAI_API_KEY"
	}
	if c.Explainer.BaseURL == "" {
		c.Explainer.BaseURL = "https://api.openai.com/v1"
	}
	if c.Explainer.Model == "" {
		c.Explainer.Model = "gpt-4.1-mini"
	}
	if c.Explainer.Timeout <= 0 {
		c.Explainer.Timeout = 60 * time.Second
	}

	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

// ApplyEnv loads a .env file when present and lets the API key variable override the file.
func ApplyEnv(cfg *Config) {
	_ = godotenv.Load()
	if v := strings.TrimSpace(os.Getenv(cfg.SecuFlow.Explainer.APIKeyEnv)); v != "" {
		cfg.SecuFlow.Explainer.APIKey = v
	}
}
