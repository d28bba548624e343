// Package config provides default values for configuration.
package config

import "time"

// Server defaults
const (
	DefaultHost    = "0.0.0.0"
	DefaultPort    = 8080
	DefaultBaseURL = "http://localhost:8080"
)

// Database defaults
const (
	DefaultDataDir       = "/data"
	DefaultBusyTimeoutMs = 5000
)

// Threshold defaults (confidence is always in [0,1])
const (
	DefaultAutoCreate         = 0.85
	DefaultAutoUpdate         = 0.9
	DefaultRequireReviewBelow = 0.7
)

// Pipeline defaults
const (
	DefaultMode            = ModeCopilot
	DefaultDedupWindowDays = 7
	DefaultLookbackDays    = 30
	DefaultMaxCandidates   = 100
	DefaultItemTimeout     = 15 * time.Second
)

// Approval defaults
const (
	DefaultTokenTTL = 2 * time.Hour
)

// Classifier defaults
const (
	DefaultClassifierTimeout   = 20 * time.Second
	DefaultMaxPromptTokens     = 2000
	DefaultClassifierModel     = "claude-3-5-haiku-20241022"
)

// Scheduler defaults (cron expressions)
const (
	DefaultProcessSchedule = "*/15 * * * *"
	DefaultScanSchedule    = "0 6 * * *"
)

// Logging defaults
const (
	DefaultLogLevel  = "info"
	DefaultLogFormat = "json"
)

// Retention defaults
const (
	DefaultSessionRetentionDays   = 180
	DefaultAuditLogDays           = 365
	DefaultResolvedExceptionsDays = 30
)
