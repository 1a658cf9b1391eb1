package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rafaelminatto1/Fisioflow-2.0-sub002/pkg/apperr"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
	if cfg.Cache.HighEvidenceTTL != 30*24*time.Hour {
		t.Errorf("unexpected high evidence TTL %s", cfg.Cache.HighEvidenceTTL)
	}
	if cfg.Usage.WarningThreshold != 0.8 || cfg.Usage.CriticalThreshold != 0.95 {
		t.Errorf("unexpected thresholds %+v", cfg.Usage)
	}
	if len(cfg.LoadBalancing.Preferences["diagnosis_help"]) == 0 {
		t.Error("expected default preferences for diagnosis_help")
	}
}

func TestLoadFromFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := `
knowledge:
  minConfidence: 0.6
cache:
  defaultTTL: 48h
providers:
  - name: chatgpt
    model: gpt-4o
    enabled: true
    weight: 2
    limits:
      hourly: 10
      daily: 50
      monthly: 100
loadBalancing:
  strategy: weighted
  preferences:
    general_question: [chatgpt]
`
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("FISIOFLOW_AI_SERVER_PORT", "9090")

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("env override not applied, port=%d", cfg.Server.Port)
	}
	if cfg.Knowledge.MinConfidence != 0.6 || cfg.Cache.DefaultTTL != 48*time.Hour {
		t.Errorf("file values not applied: %+v %+v", cfg.Knowledge, cfg.Cache)
	}
	if len(cfg.Providers) != 1 || cfg.Providers[0].Limits.Monthly != 100 {
		t.Fatalf("unexpected providers %+v", cfg.Providers)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestValidateNamesFailedCheck(t *testing.T) {
	cases := map[string]func(*Config){
		"thresholds": func(c *Config) { c.Usage.CriticalThreshold = 0.5 },
		"strategy":   func(c *Config) { c.LoadBalancing.Strategy = "random" },
		"limits":     func(c *Config) { c.Providers[0].Limits.Monthly = 0 },
		"duplicate":  func(c *Config) { c.Providers = append(c.Providers, c.Providers[0]) },
		"preference": func(c *Config) { c.LoadBalancing.Preferences["scheduling"] = []string{"nobody"} },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			mutate(cfg)
			err := cfg.Validate()
			if !errors.Is(err, apperr.ErrConfigurationInvalid) {
				t.Fatalf("expected ErrConfigurationInvalid, got %v", err)
			}
			var cerr *apperr.ConfigError
			if !errors.As(err, &cerr) || cerr.Check == "" {
				t.Fatalf("expected a named check, got %v", err)
			}
		})
	}
}
