package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration for Jarvis. It is read once at startup.
type Config struct {
	General    GeneralConfig    `json:"general" yaml:"general"`
	Generation GenerationConfig `json:"generation" yaml:"generation"`
	Prompt     PromptConfig     `json:"prompt" yaml:"prompt"`
	Channels   ChannelsConfig   `json:"channels" yaml:"channels"`
	Commands   CommandsConfig   `json:"commands" yaml:"commands"`
	Metrics    MetricsConfig    `json:"metrics" yaml:"metrics"`
}

type GeneralConfig struct {
	LogLevel  string `json:"logLevel" yaml:"logLevel"`                   // debug | info | warn | error
	LogFormat string `json:"logFormat" yaml:"logFormat"`                 // text | json
	LogFile   string `json:"logFile,omitempty" yaml:"logFile,omitempty"` // optional log file path
	EnvFile   string `json:"envFile,omitempty" yaml:"envFile,omitempty"` // dotenv file with secrets
}

// GenerationConfig points at the Ollama-compatible text generation endpoint.
type GenerationConfig struct {
	APIBase        string `json:"apiBase" yaml:"apiBase"`
	Model          string `json:"model" yaml:"model"`
	TimeoutSeconds int    `json:"timeoutSeconds" yaml:"timeoutSeconds"`
}

type PromptConfig struct {
	Persona        string `json:"persona" yaml:"persona"`
	SummaryWordCap int    `json:"summaryWordCap" yaml:"summaryWordCap"`
}

type ChannelsConfig struct {
	Discord  DiscordConfig  `json:"discord" yaml:"discord"`
	Telegram TelegramConfig `json:"telegram" yaml:"telegram"`
}

type DiscordConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Token   string `json:"token" yaml:"token"`
	GuildID string `json:"guildId,omitempty" yaml:"guildId,omitempty"` // optional: restrict to one guild
}

type TelegramConfig struct {
	Enabled   bool           `json:"enabled" yaml:"enabled"`
	Token     string         `json:"token" yaml:"token"`
	AllowFrom FlexStringList `json:"allowFrom,omitempty" yaml:"allowFrom,omitempty"`
}

// CommandsConfig configures the auxiliary "!ping"-style commands.
type CommandsConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Prefix  string `json:"prefix" yaml:"prefix"`
}

// MetricsConfig configures the Prometheus text endpoint.
type MetricsConfig struct {
	Enabled  bool   `json:"enabled" yaml:"enabled"`
	Addr     string `json:"addr" yaml:"addr"`
	Endpoint string `json:"endpoint" yaml:"endpoint"`
}

// FlexStringList is a []string that can unmarshal from JSON arrays containing
// both strings and numbers (e.g. ["123", 456] both become "123", "456").
type FlexStringList []string

func (f *FlexStringList) UnmarshalJSON(data []byte) error {
	var ss []string
	if err := json.Unmarshal(data, &ss); err == nil {
		*f = ss
		return nil
	}
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	result := make([]string, 0, len(raw))
	for _, item := range raw {
		var s string
		if err := json.Unmarshal(item, &s); err == nil {
			result = append(result, s)
			continue
		}
		var n float64
		if err := json.Unmarshal(item, &n); err == nil {
			result = append(result, strconv.FormatInt(int64(n), 10))
			continue
		}
		result = append(result, string(item))
	}
	*f = result
	return nil
}

// DefaultConfigDir returns the default config directory (~/.jarvis).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".jarvis"
	}
	return filepath.Join(home, ".jarvis")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}

// Load reads a YAML (.yaml/.yml) or JSON config file, expands ${VAR} references,
// applies environment overrides and validates the result.
// A missing file yields an error that matches fs.ErrNotExist.
func Load(path string) (*Config, error) {
	path = ExpandPath(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	data = []byte(ExpandEnvVars(string(data)))

	cfg := Defaults()
	if isYAML(path) {
		err = yaml.Unmarshal(data, cfg)
	} else {
		err = json.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}

	return finish(cfg)
}

// LoadOrDefaults behaves like Load but falls back to Defaults (plus environment
// overrides) when the file does not exist. The bool reports whether the file was read.
func LoadOrDefaults(path string) (*Config, bool, error) {
	cfg, err := Load(path)
	if err == nil {
		return cfg, true, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, false, err
	}
	cfg, err = finish(Defaults())
	return cfg, false, err
}

func finish(cfg *Config) (*Config, error) {
	cfg.General.LogFile = ExpandPath(cfg.General.LogFile)
	cfg.General.EnvFile = ExpandPath(cfg.General.EnvFile)
	ApplyEnv(cfg)
	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

// LoadDotEnv loads KEY=VALUE pairs from path into the process environment
// without overriding variables that are already set. A missing file is not an error.
func LoadDotEnv(path string) error {
	if path == "" {
		path = ".env"
	}
	path = ExpandPath(path)
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load env file %s: %w", path, err)
	}
	return nil
}

// ApplyEnv overlays the well-known environment variables on cfg.
func ApplyEnv(cfg *Config) {
	if v := os.Getenv("DISCORD_TOKEN"); v != "" {
		cfg.Channels.Discord.Token = v
	}
	if v := os.Getenv("TELEGRAM_TOKEN"); v != "" {
		cfg.Channels.Telegram.Token = v
	}
	if v := os.Getenv("OLLAMA_MODEL"); v != "" {
		cfg.Generation.Model = v
	}
	if v := os.Getenv("OLLAMA_URL"); v != "" {
		cfg.Generation.APIBase = v
	}
	if v := os.Getenv("JARVIS_LOG_LEVEL"); v != "" {
		cfg.General.LogLevel = v
	}
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// ${VAR:-default} uses "default" when VAR is unset or empty; an unset
// ${VAR} without default is left untouched.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		hasDefault := len(groups) >= 3 && groups[2] != ""

		val, exists := os.LookupEnv(groups[1])
		if !exists || val == "" {
			if hasDefault {
				return groups[2]
			}
			return match
		}
		return val
	})
}

// Save writes cfg as YAML or JSON depending on the file extension.
func Save(path string, cfg *Config) error {
	path = ExpandPath(path)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

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
		return fmt.Errorf("cannot marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0o600)
}

// Validate checks that the config has valid values. Gateway tokens are
// checked when a gateway starts, not here.
func Validate(cfg *Config) error {
	var errs []string

	switch cfg.General.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, "general.logLevel must be one of: debug, info, warn, error")
	}
	switch cfg.General.LogFormat {
	case "text", "json":
	default:
		errs = append(errs, "general.logFormat must be one of: text, json")
	}

	if u, err := url.Parse(cfg.Generation.APIBase); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, "generation.apiBase must be an absolute http(s) URL")
	}
	if strings.TrimSpace(cfg.Generation.Model) == "" {
		errs = append(errs, "generation.model is required")
	}
	if cfg.Generation.TimeoutSeconds < 1 || cfg.Generation.TimeoutSeconds > 600 {
		errs = append(errs, "generation.timeoutSeconds must be between 1 and 600")
	}

	if cfg.Prompt.SummaryWordCap < 1 {
		errs = append(errs, "prompt.summaryWordCap must be >= 1")
	}

	if cfg.Commands.Enabled && strings.TrimSpace(cfg.Commands.Prefix) == "" {
		errs = append(errs, "commands.prefix is required when commands are enabled")
	}

	if cfg.Metrics.Enabled {
		if cfg.Metrics.Addr == "" {
			errs = append(errs, "metrics.addr is required when metrics are enabled")
		}
		if !strings.HasPrefix(cfg.Metrics.Endpoint, "/") {
			errs = append(errs, "metrics.endpoint must start with /")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

// ExpandPath resolves ~/ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
