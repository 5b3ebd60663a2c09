package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// FileName is the project config file looked up in the workspace.
const FileName = "codereview.yml"

// Config models codereview.yml.
type Config struct {
	Model    ModelConfig    `yaml:"model"`
	Extract  ExtractConfig  `yaml:"extract"`
	Pricing  PricingConfig  `yaml:"pricing"`
	Payments PaymentsConfig `yaml:"payments"`
	Server   ServerConfig   `yaml:"server"`
	Webhooks WebhookConfig  `yaml:"webhooks"`
}

type ModelConfig struct {
	Provider    string        `yaml:"provider"`
	Name        string        `yaml:"name"`
	Temperature float64       `yaml:"temperature"`
	JSONMode    bool          `yaml:"json_mode"`
	BaseURL     string        `yaml:"base_url"`
	Timeout     time.Duration `yaml:"timeout"`
}

type ExtractConfig struct {
	Repair bool `yaml:"repair"`
}

// PricingConfig is the one-time unlock price, in minor currency units.
type PricingConfig struct {
	Amount      int64  `yaml:"amount"`
	Currency    string `yaml:"currency"`
	DisplayName string `yaml:"display_name"`
}

type PaymentsConfig struct {
	Provider        string `yaml:"provider"`
	APIBase         string `yaml:"api_base"`
	VerifySignature bool   `yaml:"verify_signature"`
}

type ServerConfig struct {
	BasePath  string          `yaml:"base_path"`
	DevLogin  bool            `yaml:"dev_login"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

// RateLimitConfig bounds evaluate calls per user. Zero RequestsPerMinute
// disables limiting.
type RateLimitConfig struct {
	RequestsPerMinute int `yaml:"requests_per_minute"`
	Burst             int `yaml:"burst"`
}

type WebhookConfig struct {
	Enabled  bool          `yaml:"enabled"`
	URL      string        `yaml:"url"`
	Events   []string      `yaml:"events"`
	Interval time.Duration `yaml:"interval"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with crv config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Model.Provider != "gemini" {
		return fmt.Errorf("config.model.provider must be 'gemini'")
	}
	if c.Model.Name == "" {
		return fmt.Errorf("config.model.name is required")
	}
	if c.Model.Temperature < 0 || c.Model.Temperature > 2 {
		return fmt.Errorf("config.model.temperature must be between 0 and 2")
	}
	if c.Model.Timeout < 0 {
		return fmt.Errorf("config.model.timeout must not be negative")
	}
	if c.Pricing.Amount <= 0 {
		return fmt.Errorf("config.pricing.amount must be positive")
	}
	if len(c.Pricing.Currency) != 3 || strings.ToUpper(c.Pricing.Currency) != c.Pricing.Currency {
		return fmt.Errorf("config.pricing.currency must be a 3-letter upper-case code")
	}
	if c.Payments.Provider != "razorpay" {
		return fmt.Errorf("config.payments.provider must be 'razorpay'")
	}
	if c.Server.BasePath != "" && !strings.HasPrefix(c.Server.BasePath, "/") {
		return fmt.Errorf("config.server.base_path must start with /")
	}
	if c.Server.RateLimit.RequestsPerMinute < 0 || c.Server.RateLimit.Burst < 0 {
		return fmt.Errorf("config.server.rate_limit values must not be negative")
	}
	if c.Webhooks.Enabled {
		if c.Webhooks.URL == "" {
			return fmt.Errorf("config.webhooks.url is required when webhooks are enabled")
		}
		for _, evt := range c.Webhooks.Events {
			if evt == "" {
				return fmt.Errorf("config.webhooks.events contains empty event type")
			}
		}
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, FileName)
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

// Default returns the built-in configuration.
func Default() *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(defaultTemplate)).Decode(&cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes. Keys missing
// from data keep their default values.
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

const defaultTemplate = `model:
  provider: gemini
  name: gemini-2.5-flash
  temperature: 0.2
  json_mode: true
  base_url: https://generativelanguage.googleapis.com/v1beta
  timeout: 60s

extract:
  repair: false

pricing:
  amount: 9900
  currency: INR
  display_name: Code Review Report

payments:
  provider: razorpay
  api_base: https://api.razorpay.com/v1
  verify_signature: false

server:
  base_path: /v1
  dev_login: false
  rate_limit:
    requests_per_minute: 10
    burst: 3

webhooks:
  enabled: false
  url: ""
  events: [task.evaluated, report.unlocked]
  interval: 2s
`
