// Package config provides YAML-based configuration loading for callsheet.
package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/go-sql-driver/mysql"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the top-level callsheet configuration, loaded from callsheet.yaml.
type Config struct {
	Platform string         `yaml:"platform" validate:"required,oneof=telegram slack discord"`
	Telegram TelegramConfig `yaml:"telegram"`
	Slack    SlackConfig    `yaml:"slack"`
	Discord  DiscordConfig  `yaml:"discord"`
	Access   AccessConfig   `yaml:"access"`
	Store    StoreConfig    `yaml:"store"`
	AI       AIConfig       `yaml:"ai"`
	Media    MediaConfig    `yaml:"media"`
	Prompts  PromptsConfig  `yaml:"prompts"`
	Timeouts TimeoutsConfig `yaml:"timeouts"`
	HTTP     HTTPConfig     `yaml:"http"`
	Events   EventsConfig   `yaml:"events"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// TelegramConfig holds Telegram Bot API settings. When WebhookURL is empty
// the adapter uses long polling.
type TelegramConfig struct {
	Token       string `yaml:"token"`
	WebhookURL  string `yaml:"webhook_url" validate:"omitempty,url"`
	WebhookPath string `yaml:"webhook_path"`
	Debug       bool   `yaml:"debug"`
}

// SlackConfig holds Slack Socket Mode credentials.
type SlackConfig struct {
	AppToken string `yaml:"app_token"`
	BotToken string `yaml:"bot_token"`
}

// DiscordConfig holds Discord gateway credentials.
type DiscordConfig struct {
	BotToken string `yaml:"bot_token"`
}

// AccessConfig lists the platform user IDs allowed to use the bot. Admins
// are implicitly operators.
type AccessConfig struct {
	Operators []string `yaml:"operators"`
	Admins    []string `yaml:"admins"`
}

// StoreConfig selects and configures the driver record store.
type StoreConfig struct {
	Driver string       `yaml:"driver" validate:"oneof=notion sql"`
	Notion NotionConfig `yaml:"notion"`
	SQL    SQLConfig    `yaml:"sql"`
}

// NotionConfig holds Notion API settings.
type NotionConfig struct {
	APIKey     string `yaml:"api_key"`
	DatabaseID string `yaml:"database_id"`
	BaseURL    string `yaml:"base_url" validate:"omitempty,url"`
}

// SQLConfig holds the gorm connection settings for the sql store.
type SQLConfig struct {
	Driver string `yaml:"driver" validate:"oneof=mysql sqlite"`
	DSN    string `yaml:"dsn"`
}

// AIConfig holds transcription and generation provider settings.
type AIConfig struct {
	OpenAIAPIKey      string `yaml:"openai_api_key"`
	OpenAIBaseURL     string `yaml:"openai_base_url" validate:"omitempty,url"`
	TranscribeModel   string `yaml:"transcribe_model"`
	AnalysisModel     string `yaml:"analysis_model"`
	AnalysisMaxTokens int    `yaml:"analysis_max_tokens" validate:"min=0"`
	SpeakersModel     string `yaml:"speakers_model"`
	SpeakersMaxTokens int    `yaml:"speakers_max_tokens" validate:"min=0"`
	Generator         string `yaml:"generator" validate:"oneof=openai anthropic"`
	AnthropicAPIKey   string `yaml:"anthropic_api_key"`
	AnthropicModel    string `yaml:"anthropic_model"`
}

// MediaConfig controls the scratch directory used for downloaded audio.
type MediaConfig struct {
	ScratchDir      string        `yaml:"scratch_dir"`
	MaxAttachmentMB int64         `yaml:"max_attachment_mb" validate:"min=1"`
	Retention       time.Duration `yaml:"retention"`
	SweepCron       string        `yaml:"sweep_cron"`
}

// MaxAttachmentBytes returns the attachment ceiling in bytes.
func (m MediaConfig) MaxAttachmentBytes() int64 {
	return m.MaxAttachmentMB * 1024 * 1024
}

// PromptsConfig locates the prompt profile directory.
type PromptsConfig struct {
	Dir   string `yaml:"dir"`
	Watch bool   `yaml:"watch"`
}

// TimeoutsConfig bounds remote calls.
type TimeoutsConfig struct {
	AI    time.Duration `yaml:"ai"`
	Store time.Duration `yaml:"store"`
}

// HTTPConfig configures the health/admin HTTP server. Port 0 disables it
// unless the Telegram webhook needs it.
type HTTPConfig struct {
	Port int `yaml:"port" validate:"min=0,max=65535"`
}

// EventsConfig configures optional NATS publishing of comment events.
type EventsConfig struct {
	NATSURL string `yaml:"nats_url"`
	Token   string `yaml:"token"`
	Subject string `yaml:"subject"`
}

// LoggingConfig configures the zerolog output.
type LoggingConfig struct {
	Level  string `yaml:"level" validate:"oneof=trace debug info warn error"`
	Format string `yaml:"format" validate:"oneof=console json"`
}

// LoadEnvFile loads KEY=VALUE pairs from a dotenv file into the process
// environment. Existing variables win. A missing file is not an error.
func LoadEnvFile(path string) error {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("config: load env %s: %w", path, err)
	}
	return nil
}

// Load reads a YAML config file from path and returns a validated Config.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse unmarshals YAML bytes into a validated Config.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.resolveEnv()
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// resolveEnv replaces ${VAR} references in secret fields with the value of
// the named environment variable.
func (c *Config) resolveEnv() {
	for _, p := range []*string{
		&c.Telegram.Token,
		&c.Telegram.WebhookURL,
		&c.Slack.AppToken,
		&c.Slack.BotToken,
		&c.Discord.BotToken,
		&c.Store.Notion.APIKey,
		&c.Store.Notion.DatabaseID,
		&c.Store.SQL.DSN,
		&c.AI.OpenAIAPIKey,
		&c.AI.AnthropicAPIKey,
		&c.Events.NATSURL,
		&c.Events.Token,
	} {
		*p = resolveEnvRef(*p)
	}
}

// resolveEnvRef returns the environment value for "${VAR}" and the input
// unchanged otherwise.
func resolveEnvRef(v string) string {
	if strings.HasPrefix(v, "${") && strings.HasSuffix(v, "}") {
		return os.Getenv(v[2 : len(v)-1])
	}
	return v
}

// applyDefaults fills in derived and default values.
func (c *Config) applyDefaults() {
	if c.Telegram.WebhookPath == "" {
		c.Telegram.WebhookPath = "/webhook"
	}
	if c.Store.Driver == "" {
		c.Store.Driver = "notion"
	}
	if c.Store.Notion.BaseURL == "" {
		c.Store.Notion.BaseURL = "https://api.notion.com"
	}
	if c.Store.SQL.Driver == "" {
		c.Store.SQL.Driver = "sqlite"
	}
	if c.Store.SQL.Driver == "sqlite" && c.Store.SQL.DSN == "" {
		c.Store.SQL.DSN = "callsheet.db"
	}
	if c.AI.TranscribeModel == "" {
		c.AI.TranscribeModel = "whisper-1"
	}
	if c.AI.AnalysisModel == "" {
		c.AI.AnalysisModel = "gpt-4o-mini"
	}
	if c.AI.AnalysisMaxTokens == 0 {
		c.AI.AnalysisMaxTokens = 2000
	}
	if c.AI.SpeakersModel == "" {
		c.AI.SpeakersModel = "gpt-4o"
	}
	if c.AI.SpeakersMaxTokens == 0 {
		c.AI.SpeakersMaxTokens = 3000
	}
	if c.AI.Generator == "" {
		c.AI.Generator = "openai"
	}
	if c.AI.AnthropicModel == "" {
		c.AI.AnthropicModel = "claude-sonnet-4-5"
	}
	if c.Media.ScratchDir == "" {
		c.Media.ScratchDir = "temp"
	}
	if c.Media.MaxAttachmentMB == 0 {
		c.Media.MaxAttachmentMB = 300
	}
	if c.Media.Retention == 0 {
		c.Media.Retention = 60 * time.Minute
	}
	if c.Media.SweepCron == "" {
		c.Media.SweepCron = "*/15 * * * *"
	}
	if c.Prompts.Dir == "" {
		c.Prompts.Dir = "prompts"
	}
	if c.Timeouts.AI == 0 {
		c.Timeouts.AI = 120 * time.Second
	}
	if c.Timeouts.Store == 0 {
		c.Timeouts.Store = 60 * time.Second
	}
	if c.Events.Subject == "" {
		c.Events.Subject = "callsheet.comment.appended"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "console"
	}
}

// structValidator checks the validate tags. Field names are reported by
// their yaml keys so messages match the config file.
var structValidator = func() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("yaml"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}()

// validate checks that all required fields are present and consistent.
func (c *Config) validate() error {
	var errs []string

	if err := structValidator.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			for _, fe := range verrs {
				errs = append(errs, describeFieldError(fe))
			}
		} else {
			errs = append(errs, err.Error())
		}
	}

	switch c.Platform {
	case "telegram":
		if c.Telegram.Token == "" {
			errs = append(errs, "telegram.token is required")
		}
		if c.Telegram.WebhookURL != "" && c.HTTP.Port == 0 {
			errs = append(errs, "http.port is required for telegram webhook mode")
		}
	case "slack":
		if c.Slack.AppToken == "" {
			errs = append(errs, "slack.app_token is required")
		}
		if c.Slack.BotToken == "" {
			errs = append(errs, "slack.bot_token is required")
		}
	case "discord":
		if c.Discord.BotToken == "" {
			errs = append(errs, "discord.bot_token is required")
		}
	}

	if len(c.Access.Operators) == 0 && len(c.Access.Admins) == 0 {
		errs = append(errs, "access: at least one operator or admin is required")
	}

	switch c.Store.Driver {
	case "notion":
		if c.Store.Notion.APIKey == "" {
			errs = append(errs, "store.notion.api_key is required")
		}
		if c.Store.Notion.DatabaseID == "" {
			errs = append(errs, "store.notion.database_id is required")
		}
	case "sql":
		if c.Store.SQL.Driver == "mysql" {
			if c.Store.SQL.DSN == "" {
				errs = append(errs, "store.sql.dsn is required for mysql")
			} else if _, err := mysql.ParseDSN(c.Store.SQL.DSN); err != nil {
				errs = append(errs, fmt.Sprintf("store.sql.dsn is invalid: %v", err))
			}
		}
	}

	if c.AI.OpenAIAPIKey == "" {
		errs = append(errs, "ai.openai_api_key is required")
	}
	if c.AI.Generator == "anthropic" && c.AI.AnthropicAPIKey == "" {
		errs = append(errs, "ai.anthropic_api_key is required when ai.generator is anthropic")
	}
	if c.Media.Retention < 0 {
		errs = append(errs, "media.retention must be positive")
	}
	if c.Timeouts.AI < 0 || c.Timeouts.Store < 0 {
		errs = append(errs, "timeouts must be positive")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

// describeFieldError renders a validator error as "path rule" using the
// yaml key path without the root struct name.
func describeFieldError(fe validator.FieldError) string {
	path := fe.Namespace()
	if i := strings.Index(path, "."); i >= 0 {
		path = path[i+1:]
	}
	switch fe.Tag() {
	case "required":
		return path + " is required"
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s] (got %q)", path, fe.Param(), fmt.Sprint(fe.Value()))
	case "url":
		return path + " must be a valid URL"
	case "min":
		return fmt.Sprintf("%s must be at least %s", path, fe.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s", path, fe.Param())
	default:
		return fmt.Sprintf("%s failed %s", path, fe.Tag())
	}
}
