package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type fileDuration time.Duration

func (d *fileDuration) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return nil
	}
	switch value.Kind {
	case yaml.ScalarNode:
		if value.Tag == "!!int" {
			var seconds int64
			if err := value.Decode(&seconds); err != nil {
				return err
			}
			*d = fileDuration(time.Duration(seconds) * time.Second)
			return nil
		}
		var raw string
		if err := value.Decode(&raw); err != nil {
			return err
		}
		parsed, err := time.ParseDuration(raw)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", raw, err)
		}
		*d = fileDuration(parsed)
		return nil
	default:
		return fmt.Errorf("invalid duration type")
	}
}

// configFile mirrors Config with pointer fields so absent keys leave
// defaults untouched.
type configFile struct {
	Server     *serverFile     `yaml:"server"`
	Database   *databaseFile   `yaml:"database"`
	Google     *googleFile     `yaml:"google"`
	Thresholds *thresholdsFile `yaml:"thresholds"`
	Pipeline   *pipelineFile   `yaml:"pipeline"`
	Approval   *approvalFile   `yaml:"approval"`
	Classifier *classifierFile `yaml:"classifier"`
	Telegram   *telegramFile   `yaml:"telegram"`
	Scheduler  *schedulerFile  `yaml:"scheduler"`
	Logging    *loggingFile    `yaml:"logging"`
	Retention  *retentionFile  `yaml:"retention"`
	PacksFile  *string         `yaml:"packs_file"`
	Family     []FamilyMember  `yaml:"family"`
}

type serverFile struct {
	Host    *string `yaml:"host"`
	Port    *int    `yaml:"port"`
	BaseURL *string `yaml:"base_url"`
}

type databaseFile struct {
	Path          *string `yaml:"path"`
	BusyTimeoutMs *int    `yaml:"busy_timeout_ms"`
	EncryptionKey *string `yaml:"encryption_key"`
}

type googleFile struct {
	ClientID     *string   `yaml:"client_id"`
	ClientSecret *string   `yaml:"client_secret"`
	RedirectURI  *string   `yaml:"redirect_uri"`
	Scopes       *[]string `yaml:"scopes"`
	CalendarID   *string   `yaml:"calendar_id"`
}

type thresholdsFile struct {
	AutoCreate         *float64 `yaml:"auto_create"`
	AutoUpdate         *float64 `yaml:"auto_update"`
	RequireReviewBelow *float64 `yaml:"require_review_below"`
}

type pipelineFile struct {
	Mode            *string       `yaml:"mode"`
	DedupWindowDays *int          `yaml:"dedup_window_days"`
	LookbackDays    *int          `yaml:"lookback_days"`
	MaxCandidates   *int          `yaml:"max_candidates"`
	ItemTimeout     *fileDuration `yaml:"item_timeout"`
	DriftPolicy     *string       `yaml:"drift_policy"`
}

type approvalFile struct {
	TokenTTL *fileDuration `yaml:"token_ttl"`
}

type classifierFile struct {
	Endpoint        *string       `yaml:"endpoint"`
	APIKey          *string       `yaml:"api_key"`
	Model           *string       `yaml:"model"`
	MaxPromptTokens *int          `yaml:"max_prompt_tokens"`
	Timeout         *fileDuration `yaml:"timeout"`
}

type telegramFile struct {
	Enabled  *bool   `yaml:"enabled"`
	BotToken *string `yaml:"bot_token"`
	ChatID   *int64  `yaml:"chat_id"`
}

type schedulerFile struct {
	ProcessSchedule *string `yaml:"process_schedule"`
	ScanSchedule    *string `yaml:"scan_schedule"`
}

type loggingFile struct {
	Level  *string `yaml:"level"`
	Format *string `yaml:"format"`
}

type retentionFile struct {
	Enabled                *bool `yaml:"enabled"`
	SessionDays            *int  `yaml:"session_days"`
	AuditLogDays           *int  `yaml:"audit_log_days"`
	ResolvedExceptionsDays *int  `yaml:"resolved_exceptions_days"`
}

func applyFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var file configFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("invalid YAML in %s: %w", path, err)
	}

	if f := file.Server; f != nil {
		setString(&cfg.Server.Host, f.Host)
		setInt(&cfg.Server.Port, f.Port)
		setString(&cfg.Server.BaseURL, f.BaseURL)
	}
	if f := file.Database; f != nil {
		setString(&cfg.Database.Path, f.Path)
		setInt(&cfg.Database.BusyTimeoutMs, f.BusyTimeoutMs)
		setString(&cfg.Database.EncryptionKey, f.EncryptionKey)
	}
	if f := file.Google; f != nil {
		setString(&cfg.Google.ClientID, f.ClientID)
		setString(&cfg.Google.ClientSecret, f.ClientSecret)
		setString(&cfg.Google.RedirectURI, f.RedirectURI)
		setString(&cfg.Google.CalendarID, f.CalendarID)
		if f.Scopes != nil {
			cfg.Google.Scopes = *f.Scopes
		}
	}
	if f := file.Thresholds; f != nil {
		setFloat(&cfg.Thresholds.AutoCreate, f.AutoCreate)
		setFloat(&cfg.Thresholds.AutoUpdate, f.AutoUpdate)
		setFloat(&cfg.Thresholds.RequireReviewBelow, f.RequireReviewBelow)
	}
	if f := file.Pipeline; f != nil {
		setString(&cfg.Pipeline.Mode, f.Mode)
		setInt(&cfg.Pipeline.DedupWindowDays, f.DedupWindowDays)
		setInt(&cfg.Pipeline.LookbackDays, f.LookbackDays)
		setInt(&cfg.Pipeline.MaxCandidates, f.MaxCandidates)
		setDuration(&cfg.Pipeline.ItemTimeout, f.ItemTimeout)
		setString(&cfg.Pipeline.DriftPolicy, f.DriftPolicy)
	}
	if f := file.Approval; f != nil {
		setDuration(&cfg.Approval.TokenTTL, f.TokenTTL)
	}
	if f := file.Classifier; f != nil {
		setString(&cfg.Classifier.Endpoint, f.Endpoint)
		setString(&cfg.Classifier.APIKey, f.APIKey)
		setString(&cfg.Classifier.Model, f.Model)
		setInt(&cfg.Classifier.MaxPromptTokens, f.MaxPromptTokens)
		setDuration(&cfg.Classifier.Timeout, f.Timeout)
	}
	if f := file.Telegram; f != nil {
		setBool(&cfg.Telegram.Enabled, f.Enabled)
		setString(&cfg.Telegram.BotToken, f.BotToken)
		if f.ChatID != nil {
			cfg.Telegram.ChatID = *f.ChatID
		}
	}
	if f := file.Scheduler; f != nil {
		setString(&cfg.Scheduler.ProcessSchedule, f.ProcessSchedule)
		setString(&cfg.Scheduler.ScanSchedule, f.ScanSchedule)
	}
	if f := file.Logging; f != nil {
		setString(&cfg.Logging.Level, f.Level)
		setString(&cfg.Logging.Format, f.Format)
	}
	if f := file.Retention; f != nil {
		setBool(&cfg.Retention.Enabled, f.Enabled)
		setInt(&cfg.Retention.SessionDays, f.SessionDays)
		setInt(&cfg.Retention.AuditLogDays, f.AuditLogDays)
		setInt(&cfg.Retention.ResolvedExceptionsDays, f.ResolvedExceptionsDays)
	}
	setString(&cfg.PacksFile, file.PacksFile)
	if len(file.Family) > 0 {
		cfg.Family = file.Family
	}

	return nil
}

func setString(dst *string, src *string) {
	if src != nil {
		*dst = *src
	}
}

func setInt(dst *int, src *int) {
	if src != nil {
		*dst = *src
	}
}

func setFloat(dst *float64, src *float64) {
	if src != nil {
		*dst = *src
	}
}

func setBool(dst *bool, src *bool) {
	if src != nil {
		*dst = *src
	}
}

func setDuration(dst *time.Duration, src *fileDuration) {
	if src != nil {
		*dst = time.Duration(*src)
	}
}
