package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ehrlich-b/palaver/internal/logger"
)

// Config represents the application configuration
type Config struct {
	Topic      string         `yaml:"topic"`
	Topics     []string       `yaml:"topics"`
	TopicsFile string         `yaml:"topics_file"`
	Debate     DebateConfig   `yaml:"debate"`
	Moderator  BotConfig      `yaml:"moderator"`
	Bots       []BotConfig    `yaml:"bots"`
	Humans     []HumanConfig  `yaml:"humans"`
	APIKeys    APIKeyConfig   `yaml:"api_keys"`
	Voting     VotingConfig   `yaml:"voting"`
	Chat       ChatConfig     `yaml:"chat"`
	Database   DatabaseConfig `yaml:"database"`
	Live       LiveConfig     `yaml:"live"`
	Logging    LoggingConfig  `yaml:"logging"`
}

// DebateConfig sets the phase timing and mode for a session.
type DebateConfig struct {
	Mode             string   `yaml:"mode"` // "autonomous" or "sequential"
	OpeningTime      Duration `yaml:"opening_statement_time"`
	TimeLimit        Duration `yaml:"time_limit"`
	ClosingTime      Duration `yaml:"closing_statement_time"`
	VotingDuration   Duration `yaml:"voting_duration"`
	MaxResponseTime  Duration `yaml:"max_response_time"`
	WarningTime      Duration `yaml:"warning_time"`
	ResponseTime     Duration `yaml:"response_time"` // sequential turn window
	SilenceTimeout   Duration `yaml:"silence_timeout"`
	MaxMessageLength int      `yaml:"max_message_length"`
}

// BotConfig describes one AI participant. The moderator reuses the
// same shape with its own defaults.
type BotConfig struct {
	Name        string  `yaml:"name"`
	Model       string  `yaml:"model"`
	Provider    string  `yaml:"provider"`
	Personality string  `yaml:"personality"`
	Stance      string  `yaml:"stance"` // "pro", "con", or "neutral"
	Temperature float32 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`

	// Monitoring cadence during autonomous discussion.
	CheckInterval Duration `yaml:"check_interval"`
	MinCooldown   Duration `yaml:"min_cooldown"`
	MaxCooldown   Duration `yaml:"max_cooldown"`
}

// HumanConfig describes one console participant.
type HumanConfig struct {
	Name             string   `yaml:"name"`
	InputTimeout     Duration `yaml:"input_timeout"`
	MaxMessageLength int      `yaml:"max_message_length"`
}

type APIKeyConfig struct {
	OpenAI    string `yaml:"openai"`
	Anthropic string `yaml:"anthropic"`
}

// For returns the key for a provider name, empty when unknown.
func (a APIKeyConfig) For(provider string) string {
	switch provider {
	case "openai":
		return a.OpenAI
	case "anthropic":
		return a.Anthropic
	}
	return ""
}

type VotingConfig struct {
	Enabled                bool `yaml:"enabled"`
	AllowParticipantVoting bool `yaml:"allow_participant_voting"`
	RequireJustification   bool `yaml:"require_justification"`
	AnonymousVotes         bool `yaml:"anonymous_votes"`
}

type ChatConfig struct {
	HistoryLimit    int    `yaml:"history_limit"`
	SaveTranscripts bool   `yaml:"save_transcripts"`
	TranscriptDir   string `yaml:"transcript_dir"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// LiveConfig controls the websocket viewer endpoint.
type LiveConfig struct {
	Enabled        bool     `yaml:"enabled"`
	Host           string   `yaml:"host"`
	Port           int      `yaml:"port"`
	MaxConnections int      `yaml:"max_connections"`
	BroadcastVotes bool     `yaml:"broadcast_votes"`
	JWTSecret      string   `yaml:"jwt_secret"`
	TokenTTL       Duration `yaml:"token_ttl"`
}

// Addr returns the host:port listen address.
func (l LiveConfig) Addr() string {
	return fmt.Sprintf("%s:%d", l.Host, l.Port)
}

type LoggingConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

// Duration decodes yaml values that are either Go duration strings
// ("90s", "2m") or bare integers meaning seconds.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var secs int
	if err := value.Decode(&secs); err == nil {
		*d = Duration(time.Duration(secs) * time.Second)
		return nil
	}
	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("invalid duration value: %w", err)
	}
	dur, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(dur)
	return nil
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// substituteEnvVars replaces ${VAR} references with environment
// values. Unset variables are left as written and logged.
func substituteEnvVars(data []byte) []byte {
	return envVarPattern.ReplaceAllFunc(data, func(match []byte) []byte {
		name := string(envVarPattern.FindSubmatch(match)[1])
		if val, ok := os.LookupEnv(name); ok {
			return []byte(val)
		}
		logger.Warn("environment variable not found", "name", name)
		return match
	})
}

// Default returns a configuration that runs a full session offline
// with scripted providers. Loading a file overlays it.
func Default() *Config {
	return &Config{
		Debate: DebateConfig{
			Mode:             "autonomous",
			OpeningTime:      Duration(120 * time.Second),
			TimeLimit:        Duration(30 * time.Minute),
			ClosingTime:      Duration(90 * time.Second),
			VotingDuration:   Duration(300 * time.Second),
			MaxResponseTime:  Duration(120 * time.Second),
			WarningTime:      Duration(90 * time.Second),
			ResponseTime:     Duration(60 * time.Second),
			SilenceTimeout:   Duration(60 * time.Second),
			MaxMessageLength: 5000,
		},
		Moderator: BotConfig{
			Name:        "Moderator",
			Model:       "gpt-3.5-turbo",
			Provider:    "openai",
			Personality: "Professional debate facilitator",
			Stance:      "neutral",
		},
		Bots: []BotConfig{
			{Name: "Ada", Model: "scripted", Provider: "dummy", Personality: "analytical and data-driven", Stance: "pro"},
			{Name: "Grace", Model: "scripted", Provider: "dummy", Personality: "critical and skeptical", Stance: "con"},
		},
		Voting: VotingConfig{
			Enabled:                true,
			AllowParticipantVoting: true,
			RequireJustification:   true,
		},
		Chat: ChatConfig{
			HistoryLimit:    1000,
			SaveTranscripts: true,
			TranscriptDir:   "transcripts",
		},
		Database: DatabaseConfig{
			Path: "palaver.db",
		},
		Live: LiveConfig{
			Host:           "localhost",
			Port:           8080,
			MaxConnections: 100,
			BroadcastVotes: true,
			TokenTTL:       Duration(24 * time.Hour),
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from a file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	data = substituteEnvVars(data)

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Override with environment variables if present
	if apiKey := os.Getenv("OPENAI_API_KEY"); apiKey != "" {
		cfg.APIKeys.OpenAI = apiKey
	}
	if apiKey := os.Getenv("ANTHROPIC_API_KEY"); apiKey != "" {
		cfg.APIKeys.Anthropic = apiKey
	}
	if secret := os.Getenv("PALAVER_JWT_SECRET"); secret != "" {
		cfg.Live.JWTSecret = secret
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Debate.Mode != "autonomous" && c.Debate.Mode != "sequential" {
		return fmt.Errorf("debate.mode must be 'autonomous' or 'sequential'")
	}
	if c.Debate.MaxMessageLength <= 0 {
		return fmt.Errorf("debate.max_message_length must be positive")
	}
	if len(c.Bots) == 0 {
		return fmt.Errorf("at least one bot is required")
	}
	seen := make(map[string]bool)
	for i, bot := range c.Bots {
		if err := validateBot(fmt.Sprintf("bots[%d]", i), bot); err != nil {
			return err
		}
		if seen[bot.Name] {
			return fmt.Errorf("duplicate participant name: %s", bot.Name)
		}
		seen[bot.Name] = true
	}
	for _, human := range c.Humans {
		if human.Name == "" {
			return fmt.Errorf("humans[].name is required")
		}
		if seen[human.Name] {
			return fmt.Errorf("duplicate participant name: %s", human.Name)
		}
		seen[human.Name] = true
	}
	if err := validateBot("moderator", c.Moderator); err != nil {
		return err
	}
	if seen[c.Moderator.Name] {
		return fmt.Errorf("moderator name %s collides with a participant", c.Moderator.Name)
	}
	if c.Chat.HistoryLimit <= 0 {
		return fmt.Errorf("chat.history_limit must be positive")
	}
	if c.Live.Enabled && c.Live.JWTSecret == "" {
		return fmt.Errorf("live.jwt_secret is required when live.enabled is true")
	}
	return nil
}

func validateBot(field string, bot BotConfig) error {
	if bot.Name == "" {
		return fmt.Errorf("%s.name is required", field)
	}
	switch bot.Provider {
	case "openai", "anthropic", "dummy":
	case "":
		return fmt.Errorf("%s.provider is required", field)
	default:
		return fmt.Errorf("%s.provider must be 'anthropic', 'openai', or 'dummy'", field)
	}
	if bot.Model == "" {
		return fmt.Errorf("%s.model is required", field)
	}
	switch bot.Stance {
	case "pro", "con", "neutral":
	default:
		return fmt.Errorf("%s.stance must be 'pro', 'con', or 'neutral'", field)
	}
	if bot.MinCooldown > 0 && bot.MaxCooldown > 0 && bot.MaxCooldown < bot.MinCooldown {
		return fmt.Errorf("%s.max_cooldown must not be less than min_cooldown", field)
	}
	return nil
}
