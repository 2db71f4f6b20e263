package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"gopkg.in/yaml.v3"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaultsAndOverrides(t *testing.T) {
	path := writeConfig(t, `
topic: Should remote work be the default?
debate:
  mode: sequential
  time_limit: 10m
  max_message_length: 2000
bots:
  - name: Ada
    model: scripted
    provider: dummy
    personality: analytical
    stance: pro
  - name: Grace
    model: scripted
    provider: dummy
    personality: critical
    stance: con
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Debate.Mode != "sequential" {
		t.Errorf("mode = %q, want sequential", cfg.Debate.Mode)
	}
	if cfg.Debate.TimeLimit.Std() != 10*time.Minute {
		t.Errorf("time_limit = %v, want 10m", cfg.Debate.TimeLimit.Std())
	}
	// Untouched keys keep their defaults.
	if cfg.Debate.OpeningTime.Std() != 120*time.Second {
		t.Errorf("opening_statement_time = %v, want 2m default", cfg.Debate.OpeningTime.Std())
	}
	if cfg.Chat.HistoryLimit != 1000 {
		t.Errorf("history_limit = %d, want 1000 default", cfg.Chat.HistoryLimit)
	}
	if cfg.Moderator.Name != "Moderator" {
		t.Errorf("moderator name = %q, want Moderator default", cfg.Moderator.Name)
	}
	if len(cfg.Bots) != 2 || cfg.Bots[1].Stance != "con" {
		t.Errorf("bots = %+v", cfg.Bots)
	}
}

func TestLoadSubstitutesEnvVars(t *testing.T) {
	t.Setenv("PALAVER_TEST_KEY", "sk-test-123")
	// Explicit overrides would win over substitution; keep them unset.
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("ANTHROPIC_API_KEY", "")

	path := writeConfig(t, `
api_keys:
  anthropic: ${PALAVER_TEST_KEY}
bots:
  - name: Ada
    model: scripted
    provider: dummy
    personality: analytical
    stance: pro
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.APIKeys.Anthropic != "sk-test-123" {
		t.Errorf("anthropic key = %q, want substituted value", cfg.APIKeys.Anthropic)
	}
	if got := cfg.APIKeys.For("anthropic"); got != "sk-test-123" {
		t.Errorf("For(anthropic) = %q", got)
	}
	if got := cfg.APIKeys.For("mystery"); got != "" {
		t.Errorf("For(mystery) = %q, want empty", got)
	}
}

func TestLoadUnsetEnvVarLeftAsWritten(t *testing.T) {
	os.Unsetenv("PALAVER_DEFINITELY_UNSET")
	path := writeConfig(t, `
api_keys:
  openai: ${PALAVER_DEFINITELY_UNSET}
bots:
  - name: Ada
    model: scripted
    provider: dummy
    personality: analytical
    stance: pro
`)
	t.Setenv("OPENAI_API_KEY", "")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.APIKeys.OpenAI != "${PALAVER_DEFINITELY_UNSET}" {
		t.Errorf("openai key = %q, want placeholder preserved", cfg.APIKeys.OpenAI)
	}
}

func TestLoadEnvOverridesWin(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "sk-from-env")
	path := writeConfig(t, `
api_keys:
  anthropic: sk-from-file
bots:
  - name: Ada
    model: scripted
    provider: dummy
    personality: analytical
    stance: pro
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.APIKeys.Anthropic != "sk-from-env" {
		t.Errorf("anthropic key = %q, want env override", cfg.APIKeys.Anthropic)
	}
}

func TestValidateRejectsBadConfigs(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad mode", func(c *Config) { c.Debate.Mode = "chaotic" }},
		{"no bots", func(c *Config) { c.Bots = nil }},
		{"bad stance", func(c *Config) { c.Bots[0].Stance = "maybe" }},
		{"bad provider", func(c *Config) { c.Bots[0].Provider = "cohere" }},
		{"missing model", func(c *Config) { c.Bots[0].Model = "" }},
		{"duplicate names", func(c *Config) { c.Bots[1].Name = c.Bots[0].Name }},
		{"moderator collision", func(c *Config) { c.Moderator.Name = c.Bots[0].Name }},
		{"live without secret", func(c *Config) { c.Live.Enabled = true; c.Live.JWTSecret = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Errorf("Validate accepted config with %s", tt.name)
			}
		})
	}
}

func TestDefaultIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestDurationUnmarshalForms(t *testing.T) {
	var out struct {
		A Duration `yaml:"a"`
		B Duration `yaml:"b"`
	}
	if err := yaml.Unmarshal([]byte("a: 90\nb: 2m\n"), &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out.A.Std() != 90*time.Second {
		t.Errorf("a = %v, want 90s", out.A.Std())
	}
	if out.B.Std() != 2*time.Minute {
		t.Errorf("b = %v, want 2m", out.B.Std())
	}
	if err := yaml.Unmarshal([]byte("a: soon\n"), &out); err == nil {
		t.Error("unmarshal accepted junk duration")
	}
}
