package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.Model.Name != "gemini-2.5-flash" || cfg.Model.Temperature != 0.2 || !cfg.Model.JSONMode {
		t.Fatalf("unexpected model defaults: %+v", cfg.Model)
	}
	if cfg.Model.Timeout != 60*time.Second {
		t.Fatalf("expected 60s timeout, got %s", cfg.Model.Timeout)
	}
	if cfg.Pricing.Amount != 9900 || cfg.Pricing.Currency != "INR" {
		t.Fatalf("unexpected pricing defaults: %+v", cfg.Pricing)
	}
	if cfg.Payments.VerifySignature {
		t.Fatalf("signature verification should be off by default")
	}
	if cfg.Extract.Repair {
		t.Fatalf("repair should be off by default")
	}
}

func TestFromYAMLOverridesDefaults(t *testing.T) {
	cfg, err := FromYAML([]byte("extract:\n  repair: true\npricing:\n  amount: 19900\n"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !cfg.Extract.Repair || cfg.Pricing.Amount != 19900 {
		t.Fatalf("overrides not applied: %+v", cfg)
	}
	if cfg.Pricing.Currency != "INR" || cfg.Model.Name != "gemini-2.5-flash" {
		t.Fatalf("defaults lost: %+v", cfg)
	}
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]string{
		"provider":  "model:\n  provider: openai\n",
		"price":     "pricing:\n  amount: 0\n",
		"currency":  "pricing:\n  currency: inr\n",
		"base_path": "server:\n  base_path: v1\n",
		"webhook":   "webhooks:\n  enabled: true\n  url: \"\"\n",
	}
	for name, doc := range cases {
		if _, err := FromYAML([]byte(doc)); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}
	if _, err := FromYAML([]byte("model: [")); err == nil || !strings.Contains(err.Error(), "invalid config yaml") {
		t.Fatalf("expected yaml error, got %v", err)
	}
}

func TestLoadOptional(t *testing.T) {
	dir := t.TempDir()
	cfg, err := LoadOptional(dir)
	if err != nil || cfg == nil {
		t.Fatalf("missing file should yield defaults: %v", err)
	}
	if _, err := Load(dir); err == nil {
		t.Fatalf("Load should fail without a config file")
	}
	if err := os.WriteFile(filepath.Join(dir, FileName), []byte(GenerateDefault()), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := Load(dir); err != nil {
		t.Fatalf("load generated default: %v", err)
	}
}

func TestLoadSecrets(t *testing.T) {
	t.Setenv(EnvGeminiKey, " gk ")
	t.Setenv(EnvRazorpayKeyID, "rk")
	t.Setenv(EnvRazorpayKeySecret, "")
	s := LoadSecrets(viper.New())
	if s.GeminiAPIKey != "gk" {
		t.Fatalf("expected trimmed gemini key, got %q", s.GeminiAPIKey)
	}
	if s.HasRazorpay() {
		t.Fatalf("razorpay should be incomplete without the secret")
	}
}
