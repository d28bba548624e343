// Package config handles configuration loading from environment variables and optional YAML files.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Run modes for the production pipeline.
const (
	ModeCopilot   = "copilot"
	ModeAutopilot = "autopilot"
	ModeDryRun    = "dry-run"
)

// Drift policies for manual-edit reconciliation.
const (
	DriftRespectManual = "respect_manual"
	DriftFlagConflict  = "flag_conflict"
)

// Config holds all application configuration.
type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	Google     GoogleConfig
	Thresholds ThresholdsConfig
	Pipeline   PipelineConfig
	Approval   ApprovalConfig
	Classifier ClassifierConfig
	Telegram   TelegramConfig
	Scheduler  SchedulerConfig
	Logging    LoggingConfig
	Retention  RetentionConfig
	PacksFile  string
	Family     []FamilyMember
}

// ServerConfig holds HTTP server settings for the approval surface.
type ServerConfig struct {
	Host    string
	Port    int
	BaseURL string
}

// DatabaseConfig holds SQLite settings. EncryptionKey protects stored
// OAuth refresh tokens; either a base64 256-bit key or a passphrase to
// derive one from.
type DatabaseConfig struct {
	Path          string
	BusyTimeoutMs int
	EncryptionKey string
}

// GoogleConfig holds Google OAuth settings shared by Gmail and Calendar.
type GoogleConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURI  string
	Scopes       []string
	CalendarID   string
}

// ThresholdsConfig holds the confidence thresholds driving the state machine.
type ThresholdsConfig struct {
	AutoCreate         float64
	AutoUpdate         float64
	RequireReviewBelow float64
}

// PipelineConfig holds production-pipeline settings.
type PipelineConfig struct {
	Mode            string
	DedupWindowDays int
	LookbackDays    int
	MaxCandidates   int
	ItemTimeout     time.Duration
	DriftPolicy     string
}

// ApprovalConfig holds approval-token settings.
type ApprovalConfig struct {
	TokenTTL time.Duration
}

// ClassifierConfig holds AI classifier collaborator settings.
type ClassifierConfig struct {
	Endpoint        string
	APIKey          string
	Model           string
	MaxPromptTokens int
	Timeout         time.Duration
}

// TelegramConfig holds approval-notification settings.
type TelegramConfig struct {
	Enabled  bool
	BotToken string
	ChatID   int64
}

// SchedulerConfig holds cron schedules for background runs.
type SchedulerConfig struct {
	ProcessSchedule string
	ScanSchedule    string
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string
	Format string
}

// RetentionConfig holds data retention settings.
type RetentionConfig struct {
	Enabled                bool
	SessionDays            int
	AuditLogDays           int
	ResolvedExceptionsDays int
}

// FamilyMember is a person that queue items can be assigned to.
// Aliases are matched as whole tokens, never as substrings.
type FamilyMember struct {
	Name    string   `yaml:"name"`
	Aliases []string `yaml:"aliases"`
}

// Load reads configuration: defaults, then the optional YAML file named by
// HEARTH_CONFIG_FILE, then environment overrides.
func Load() (*Config, error) {
	cfg := defaults()

	if path := getEnv("HEARTH_CONFIG_FILE", ""); path != "" {
		if err := applyFile(cfg, path); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Host:    DefaultHost,
			Port:    DefaultPort,
			BaseURL: DefaultBaseURL,
		},
		Database: DatabaseConfig{
			Path:          DefaultDataDir + "/hearth.db",
			BusyTimeoutMs: DefaultBusyTimeoutMs,
		},
		Google: GoogleConfig{
			Scopes: []string{
				"https://www.googleapis.com/auth/calendar.events",
				"https://www.googleapis.com/auth/gmail.readonly",
			},
			CalendarID: "primary",
		},
		Thresholds: ThresholdsConfig{
			AutoCreate:         DefaultAutoCreate,
			AutoUpdate:         DefaultAutoUpdate,
			RequireReviewBelow: DefaultRequireReviewBelow,
		},
		Pipeline: PipelineConfig{
			Mode:            DefaultMode,
			DedupWindowDays: DefaultDedupWindowDays,
			LookbackDays:    DefaultLookbackDays,
			MaxCandidates:   DefaultMaxCandidates,
			ItemTimeout:     DefaultItemTimeout,
			DriftPolicy:     DriftRespectManual,
		},
		Approval: ApprovalConfig{
			TokenTTL: DefaultTokenTTL,
		},
		Classifier: ClassifierConfig{
			Endpoint:        "https://api.anthropic.com/v1/messages",
			Model:           DefaultClassifierModel,
			MaxPromptTokens: DefaultMaxPromptTokens,
			Timeout:         DefaultClassifierTimeout,
		},
		Scheduler: SchedulerConfig{
			ProcessSchedule: DefaultProcessSchedule,
			ScanSchedule:    DefaultScanSchedule,
		},
		Logging: LoggingConfig{
			Level:  DefaultLogLevel,
			Format: DefaultLogFormat,
		},
		Retention: RetentionConfig{
			Enabled:                true,
			SessionDays:            DefaultSessionRetentionDays,
			AuditLogDays:           DefaultAuditLogDays,
			ResolvedExceptionsDays: DefaultResolvedExceptionsDays,
		},
		PacksFile: "packs.yaml",
	}
}

func applyEnv(cfg *Config) {
	cfg.Server.Host = getEnv("HEARTH_HOST", cfg.Server.Host)
	cfg.Server.Port = getEnvInt("HEARTH_PORT", cfg.Server.Port)
	cfg.Server.BaseURL = getEnv("HEARTH_BASE_URL", cfg.Server.BaseURL)

	cfg.Database.Path = getEnv("HEARTH_DB_PATH", cfg.Database.Path)
	cfg.Database.EncryptionKey = getEnv("HEARTH_ENCRYPTION_KEY", cfg.Database.EncryptionKey)

	cfg.Google.ClientID = getEnv("HEARTH_GOOGLE_CLIENT_ID", cfg.Google.ClientID)
	cfg.Google.ClientSecret = getEnv("HEARTH_GOOGLE_CLIENT_SECRET", cfg.Google.ClientSecret)
	cfg.Google.CalendarID = getEnv("HEARTH_CALENDAR_ID", cfg.Google.CalendarID)
	if cfg.Google.RedirectURI == "" {
		cfg.Google.RedirectURI = cfg.Server.BaseURL + "/oauth/callback"
	}

	cfg.Pipeline.Mode = getEnv("HEARTH_MODE", cfg.Pipeline.Mode)
	cfg.Pipeline.DedupWindowDays = getEnvInt("HEARTH_DEDUP_WINDOW_DAYS", cfg.Pipeline.DedupWindowDays)
	cfg.Pipeline.LookbackDays = getEnvInt("HEARTH_LOOKBACK_DAYS", cfg.Pipeline.LookbackDays)
	cfg.Pipeline.ItemTimeout = getEnvDuration("HEARTH_ITEM_TIMEOUT", cfg.Pipeline.ItemTimeout)

	cfg.Approval.TokenTTL = getEnvDuration("HEARTH_TOKEN_TTL", cfg.Approval.TokenTTL)

	cfg.Classifier.APIKey = getEnv("HEARTH_CLASSIFIER_API_KEY", cfg.Classifier.APIKey)
	cfg.Classifier.Endpoint = getEnv("HEARTH_CLASSIFIER_ENDPOINT", cfg.Classifier.Endpoint)

	cfg.Telegram.BotToken = getEnv("HEARTH_TELEGRAM_BOT_TOKEN", cfg.Telegram.BotToken)
	if cfg.Telegram.BotToken != "" {
		cfg.Telegram.Enabled = true
	}
	cfg.Telegram.ChatID = int64(getEnvInt("HEARTH_TELEGRAM_CHAT_ID", int(cfg.Telegram.ChatID)))

	cfg.Retention.Enabled = getEnvBool("HEARTH_RETENTION_ENABLED", cfg.Retention.Enabled)

	cfg.Logging.Level = getEnv("HEARTH_LOG_LEVEL", cfg.Logging.Level)
	cfg.Logging.Format = getEnv("HEARTH_LOG_FORMAT", cfg.Logging.Format)

	cfg.PacksFile = getEnv("HEARTH_PACKS_FILE", cfg.PacksFile)
}

// Validate checks that required configuration fields are coherent.
func (c *Config) Validate() error {
	switch c.Pipeline.Mode {
	case ModeCopilot, ModeAutopilot, ModeDryRun:
	default:
		return fmt.Errorf("invalid run mode %q (want copilot, autopilot, or dry-run)", c.Pipeline.Mode)
	}

	switch c.Pipeline.DriftPolicy {
	case DriftRespectManual, DriftFlagConflict:
	default:
		return fmt.Errorf("invalid drift policy %q", c.Pipeline.DriftPolicy)
	}

	for name, v := range map[string]float64{
		"auto_create":          c.Thresholds.AutoCreate,
		"auto_update":          c.Thresholds.AutoUpdate,
		"require_review_below": c.Thresholds.RequireReviewBelow,
	} {
		if v < 0 || v > 1 {
			return fmt.Errorf("threshold %s out of range: %v", name, v)
		}
	}

	if c.Pipeline.DedupWindowDays < 0 {
		return fmt.Errorf("dedup window must not be negative")
	}

	return nil
}

// Helper functions for environment variable parsing

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		lower := strings.ToLower(value)
		return lower == "true" || lower == "1" || lower == "yes"
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
