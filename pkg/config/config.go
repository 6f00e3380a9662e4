package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/adhocore/gronx"
	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// FlexibleStringSlice is a []string that also accepts JSON numbers,
// so allow_from can contain both "123" and 123.
type FlexibleStringSlice []string

func (f *FlexibleStringSlice) UnmarshalJSON(data []byte) error {
	// Try []string first
	var ss []string
	if err := json.Unmarshal(data, &ss); err == nil {
		*f = ss
		return nil
	}

	var raw []any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	result := make([]string, 0, len(raw))
	for _, v := range raw {
		switch val := v.(type) {
		case string:
			result = append(result, val)
		case float64:
			result = append(result, fmt.Sprintf("%.0f", val))
		default:
			result = append(result, fmt.Sprintf("%v", val))
		}
	}
	*f = result
	return nil
}

func (f *FlexibleStringSlice) UnmarshalYAML(node *yaml.Node) error {
	var raw []any
	if err := node.Decode(&raw); err != nil {
		return err
	}
	result := make([]string, 0, len(raw))
	for _, v := range raw {
		result = append(result, fmt.Sprintf("%v", v))
	}
	*f = result
	return nil
}

type Config struct {
	Channels    ChannelsConfig    `json:"channels"    yaml:"channels"`
	Matchmaking MatchmakingConfig `json:"matchmaking" yaml:"matchmaking"`
	AI          AIConfig          `json:"ai"          yaml:"ai"`
	Gateway     GatewayConfig     `json:"gateway"     yaml:"gateway"`
	Log         LogConfig         `json:"log"         yaml:"log"`
}

type ChannelsConfig struct {
	Slack   SlackConfig   `json:"slack"   yaml:"slack"`
	Discord DiscordConfig `json:"discord" yaml:"discord"`
}

type SlackConfig struct {
	Enabled         bool                `env:"CRAIG_CHANNELS_SLACK_ENABLED"          json:"enabled"          yaml:"enabled"`
	BotToken        string              `env:"CRAIG_CHANNELS_SLACK_BOT_TOKEN"        json:"bot_token"        yaml:"bot_token"`
	AppToken        string              `env:"CRAIG_CHANNELS_SLACK_APP_TOKEN"        json:"app_token"        yaml:"app_token"`
	AllowFrom       FlexibleStringSlice `env:"CRAIG_CHANNELS_SLACK_ALLOW_FROM"       json:"allow_from"       yaml:"allow_from"`
	JoinReaction    string              `env:"CRAIG_CHANNELS_SLACK_JOIN_REACTION"    json:"join_reaction"    yaml:"join_reaction"`
	GuideReaction   string              `env:"CRAIG_CHANNELS_SLACK_GUIDE_REACTION"   json:"guide_reaction"   yaml:"guide_reaction"`
	GreetingEnabled bool                `env:"CRAIG_CHANNELS_SLACK_GREETING_ENABLED" json:"greeting_enabled" yaml:"greeting_enabled"`
}

type DiscordConfig struct {
	Enabled         bool                `env:"CRAIG_CHANNELS_DISCORD_ENABLED"          json:"enabled"          yaml:"enabled"`
	Token           string              `env:"CRAIG_CHANNELS_DISCORD_TOKEN"            json:"token"            yaml:"token"`
	AppID           string              `env:"CRAIG_CHANNELS_DISCORD_APP_ID"           json:"app_id"           yaml:"app_id"`
	GuildID         string              `env:"CRAIG_CHANNELS_DISCORD_GUILD_ID"         json:"guild_id"         yaml:"guild_id"`
	AllowFrom       FlexibleStringSlice `env:"CRAIG_CHANNELS_DISCORD_ALLOW_FROM"       json:"allow_from"       yaml:"allow_from"`
	JoinReaction    string              `env:"CRAIG_CHANNELS_DISCORD_JOIN_REACTION"    json:"join_reaction"    yaml:"join_reaction"`
	GuideReaction   string              `env:"CRAIG_CHANNELS_DISCORD_GUIDE_REACTION"   json:"guide_reaction"   yaml:"guide_reaction"`
	GreetingEnabled bool                `env:"CRAIG_CHANNELS_DISCORD_GREETING_ENABLED" json:"greeting_enabled" yaml:"greeting_enabled"`
}

// CommandTemplate describes a fixed matchmaking request started by a slash
// command, e.g. /mario => "<@user> needs 4 racers for Mario Kart".
type CommandTemplate struct {
	Name          string `json:"name"           yaml:"name"`
	RequiredCount int    `json:"required_count" yaml:"required_count"`
	Role          string `json:"role"           yaml:"role"`
	Activity      string `json:"activity"       yaml:"activity"`
}

type MatchmakingConfig struct {
	Enabled           bool              `env:"CRAIG_MATCHMAKING_ENABLED"             json:"enabled"             yaml:"enabled"`
	MaxRequiredCount  int               `env:"CRAIG_MATCHMAKING_MAX_REQUIRED_COUNT"  json:"max_required_count"  yaml:"max_required_count"`
	MaxSessions       int               `env:"CRAIG_MATCHMAKING_MAX_SESSIONS"        json:"max_sessions"        yaml:"max_sessions"`
	SessionTTLMinutes int               `env:"CRAIG_MATCHMAKING_SESSION_TTL_MINUTES" json:"session_ttl_minutes" yaml:"session_ttl_minutes"` // 0 disables expiry
	SweepSchedule     string            `env:"CRAIG_MATCHMAKING_SWEEP_SCHEDULE"      json:"sweep_schedule"      yaml:"sweep_schedule"`      // cron expression
	Commands          []CommandTemplate `                                            json:"commands"            yaml:"commands"`            //nolint:tagalign // golines conflict
}

type AIConfig struct {
	Enabled      bool     `env:"CRAIG_AI_ENABLED"       json:"enabled"                yaml:"enabled"`
	Provider     string   `env:"CRAIG_AI_PROVIDER"      json:"provider"               yaml:"provider"` // anthropic | openai
	Model        string   `env:"CRAIG_AI_MODEL"         json:"model"                  yaml:"model"`
	APIKey       string   `env:"CRAIG_AI_API_KEY"       json:"api_key"                yaml:"api_key"`
	APIBase      string   `env:"CRAIG_AI_API_BASE"      json:"api_base,omitempty"     yaml:"api_base,omitempty"`
	MaxTokens    int      `env:"CRAIG_AI_MAX_TOKENS"    json:"max_tokens"             yaml:"max_tokens"`
	Temperature  *float64 `env:"CRAIG_AI_TEMPERATURE"   json:"temperature,omitempty"  yaml:"temperature,omitempty"`
	HistoryLimit int      `env:"CRAIG_AI_HISTORY_LIMIT" json:"history_limit"          yaml:"history_limit"`
	BotName      string   `env:"CRAIG_AI_BOT_NAME"      json:"bot_name"               yaml:"bot_name"`
}

type GatewayConfig struct {
	Host               string   `env:"CRAIG_GATEWAY_HOST"                 json:"host"                 yaml:"host"`
	Port               int      `env:"CRAIG_GATEWAY_PORT"                 json:"port"                 yaml:"port"`
	CORSAllowedOrigins []string `env:"CRAIG_GATEWAY_CORS_ALLOWED_ORIGINS" json:"cors_allowed_origins" yaml:"cors_allowed_origins"`
}

type LogConfig struct {
	Level  string `env:"CRAIG_LOG_LEVEL"  json:"level"  yaml:"level"`
	Format string `env:"CRAIG_LOG_FORMAT" json:"format" yaml:"format"` // console | json
}

func DefaultConfig() *Config {
	temperature := 0.7
	return &Config{
		Channels: ChannelsConfig{
			Slack: SlackConfig{
				JoinReaction:    "hand",
				GuideReaction:   "arrow_right",
				GreetingEnabled: true,
			},
			Discord: DiscordConfig{
				JoinReaction:    "✋",
				GuideReaction:   "➡️",
				GreetingEnabled: true,
			},
		},
		Matchmaking: MatchmakingConfig{
			Enabled:           true,
			MaxRequiredCount:  50,
			MaxSessions:       1000,
			SessionTTLMinutes: 24 * 60,
			SweepSchedule:     "*/5 * * * *",
			Commands: []CommandTemplate{
				{Name: "mario", RequiredCount: 4, Role: "racers", Activity: "Mario Kart"},
			},
		},
		AI: AIConfig{
			Enabled:      true,
			Provider:     "anthropic",
			Model:        "claude-3-haiku-20240307",
			MaxTokens:    1000,
			Temperature:  &temperature,
			HistoryLimit: 5,
			BotName:      "Craig",
		},
		Gateway: GatewayConfig{
			Host: "127.0.0.1",
			Port: 3000,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// LoadConfig reads the config file at path on top of DefaultConfig and then
// applies CRAIG_* environment overrides. A missing file yields the defaults.
// Files ending in .yaml or .yml are decoded as YAML, everything else as JSON.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, err
	}

	if err == nil {
		if err := decode(path, data, cfg); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func decode(path string, data []byte, cfg *Config) error {
	// A user-provided command list replaces the defaults instead of being
	// merged into them element by element.
	var probe struct {
		Matchmaking struct {
			Commands []CommandTemplate `json:"commands" yaml:"commands"`
		} `json:"matchmaking" yaml:"matchmaking"`
	}

	if isYAML(path) {
		if err := yaml.Unmarshal(data, &probe); err != nil {
			return err
		}
		if len(probe.Matchmaking.Commands) > 0 {
			cfg.Matchmaking.Commands = nil
		}
		return yaml.Unmarshal(data, cfg)
	}

	if err := json.Unmarshal(data, &probe); err != nil {
		return err
	}
	if len(probe.Matchmaking.Commands) > 0 {
		cfg.Matchmaking.Commands = nil
	}
	return json.Unmarshal(data, cfg)
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

func SaveConfig(path string, cfg *Config) error {
	var (
		data []byte
		err  error
	)
	if isYAML(path) {
		data, err = yaml.Marshal(cfg)
	} else {
		data, err = json.MarshalIndent(cfg, "", "  ")
	}
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	return os.WriteFile(path, data, 0o600)
}

// Validate checks the settings that would otherwise fail at runtime.
func (c *Config) Validate() error {
	if c.Channels.Slack.Enabled {
		if c.Channels.Slack.BotToken == "" {
			return errors.New("channels.slack.bot_token is required when slack is enabled")
		}
		if c.Channels.Slack.AppToken == "" {
			return errors.New("channels.slack.app_token is required when slack is enabled")
		}
	}
	if c.Channels.Discord.Enabled && c.Channels.Discord.Token == "" {
		return errors.New("channels.discord.token is required when discord is enabled")
	}

	m := c.Matchmaking
	if m.MaxRequiredCount < 1 {
		return errors.New("matchmaking.max_required_count must be at least 1")
	}
	if m.MaxSessions < 0 {
		return errors.New("matchmaking.max_sessions must not be negative")
	}
	if m.SessionTTLMinutes < 0 {
		return errors.New("matchmaking.session_ttl_minutes must not be negative")
	}
	if m.SweepSchedule != "" && !gronx.New().IsValid(m.SweepSchedule) {
		return fmt.Errorf("matchmaking.sweep_schedule %q is not a valid cron expression", m.SweepSchedule)
	}
	seen := make(map[string]bool, len(m.Commands))
	for i, cmd := range m.Commands {
		if err := cmd.Validate(); err != nil {
			return fmt.Errorf("matchmaking.commands[%d]: %w", i, err)
		}
		name := cmd.CommandName()
		if seen[name] {
			return fmt.Errorf("matchmaking.commands[%d]: duplicate command %q", i, name)
		}
		seen[name] = true
	}

	switch c.AI.Provider {
	case "", "anthropic", "openai":
	default:
		return fmt.Errorf("ai.provider %q is not supported", c.AI.Provider)
	}
	return nil
}

// Validate checks if the CommandTemplate has all required fields.
func (t *CommandTemplate) Validate() error {
	if t.CommandName() == "" {
		return errors.New("name is required")
	}
	if t.RequiredCount < 1 {
		return errors.New("required_count must be at least 1")
	}
	if t.Role == "" {
		return errors.New("role is required")
	}
	if t.Activity == "" {
		return errors.New("activity is required")
	}
	return nil
}

// CommandName returns the command name without a leading slash.
func (t *CommandTemplate) CommandName() string {
	return strings.TrimPrefix(strings.TrimSpace(t.Name), "/")
}

// FindCommand looks up a command template by name, with or without the
// leading slash.
func (m *MatchmakingConfig) FindCommand(name string) (CommandTemplate, bool) {
	name = strings.TrimPrefix(strings.TrimSpace(name), "/")
	for _, cmd := range m.Commands {
		if cmd.CommandName() == name {
			return cmd, true
		}
	}
	return CommandTemplate{}, false
}

// Addr returns the host:port the gateway health server listens on.
func (g GatewayConfig) Addr() string {
	return fmt.Sprintf("%s:%d", g.Host, g.Port)
}

func ExpandHome(path string) string {
	if path == "" {
		return path
	}
	if path[0] == '~' {
		home, _ := os.UserHomeDir()
		if len(path) > 1 && path[1] == '/' {
			return home + path[1:]
		}
		return home
	}
	return path
}
