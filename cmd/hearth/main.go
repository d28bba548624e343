package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/seanmckay/hearth/internal/classify"
	"github.com/seanmckay/hearth/internal/config"
	"github.com/seanmckay/hearth/internal/crypto"
	"github.com/seanmckay/hearth/internal/database"
	"github.com/seanmckay/hearth/internal/discovery"
	"github.com/seanmckay/hearth/internal/engine"
	"github.com/seanmckay/hearth/internal/events"
	"github.com/seanmckay/hearth/internal/exceptions"
	"github.com/seanmckay/hearth/internal/google"
	"github.com/seanmckay/hearth/internal/mail"
	"github.com/seanmckay/hearth/internal/notify"
	"github.com/seanmckay/hearth/internal/tokens"
	"github.com/seanmckay/hearth/internal/util"
)

var rootCmd = &cobra.Command{
	Use:           "hearth",
	Short:         "Watch family mail and keep the calendar up to date",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// app holds every wired component. Commands construct it, use what they
// need, and close it.
type app struct {
	cfg        *config.Config
	db         *database.DB
	packs      []config.Pack
	events     *events.Repository
	tokens     *tokens.Repository
	exceptions *exceptions.Repository
	discovery  *discovery.Repository
	audit      *engine.AuditLogger
	oauth      *google.OAuthManager
	source     *mail.GmailSource
	classifier classify.Classifier
	engine     *engine.Engine
}

func newApp() (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	util.SetDefaultLogger(util.NewLogger(cfg.Logging.Level, cfg.Logging.Format))

	if cfg.Database.EncryptionKey == "" {
		return nil, fmt.Errorf("HEARTH_ENCRYPTION_KEY is required")
	}
	encryptor, err := crypto.NewEncryptor(cfg.Database.EncryptionKey)
	if err != nil {
		return nil, err
	}

	db, err := database.OpenTimeout(cfg.Database.Path, cfg.Database.BusyTimeoutMs)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	packs, err := config.LoadPacks(cfg.PacksFile)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			db.Close()
			return nil, fmt.Errorf("failed to load packs: %w", err)
		}
		util.Warn("packs file not found, no packs configured", "path", cfg.PacksFile)
	}

	a := &app{
		cfg:        cfg,
		db:         db,
		packs:      packs,
		events:     events.NewRepository(db),
		tokens:     tokens.NewRepository(db, cfg.Approval.TokenTTL),
		exceptions: exceptions.NewRepository(db),
		discovery:  discovery.NewRepository(db),
		audit:      engine.NewAuditLogger(db),
	}
	a.oauth = google.NewOAuthManager(cfg, db, encryptor)
	a.source = mail.NewGmailSource(a.oauth)

	if cfg.Classifier.APIKey != "" {
		classifier, err := classify.NewAnthropicClassifier(cfg.Classifier)
		if err != nil {
			db.Close()
			return nil, err
		}
		a.classifier = classifier
	} else {
		util.Warn("classifier not configured, items will score neutral")
	}

	var notifier engine.Notifier
	if cfg.Telegram.Enabled {
		tg, err := notify.NewTelegramNotifier(cfg.Telegram, cfg.Server.BaseURL)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to connect telegram: %w", err)
		}
		notifier = tg
	}

	calendar := google.NewCalendarClient(a.oauth, cfg.Google.CalendarID)
	a.engine = engine.New(a.events, a.tokens, a.exceptions, calendar, notifier, a.audit, cfg)
	return a, nil
}

func (a *app) Close() {
	if err := a.db.Close(); err != nil {
		util.Error("failed to close database", "error", err)
	}
}
