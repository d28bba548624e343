package workers

import (
	"context"
	"time"

	"github.com/seanmckay/hearth/internal/config"
	"github.com/seanmckay/hearth/internal/database"
	"github.com/seanmckay/hearth/internal/discovery"
	"github.com/seanmckay/hearth/internal/engine"
	"github.com/seanmckay/hearth/internal/exceptions"
	"github.com/seanmckay/hearth/internal/tokens"
	"github.com/seanmckay/hearth/internal/util"
)

// CleanupWorker enforces data retention.
type CleanupWorker struct {
	db         *database.DB
	tokens     *tokens.Repository
	exceptions *exceptions.Repository
	discovery  *discovery.Repository
	audit      *engine.AuditLogger
	cfg        *config.RetentionConfig
	interval   time.Duration
	lastVacuum time.Time
}

func NewCleanupWorker(db *database.DB, tok *tokens.Repository, exc *exceptions.Repository, disc *discovery.Repository, audit *engine.AuditLogger, cfg *config.RetentionConfig) *CleanupWorker {
	return &CleanupWorker{
		db:         db,
		tokens:     tok,
		exceptions: exc,
		discovery:  disc,
		audit:      audit,
		cfg:        cfg,
		interval:   1 * time.Hour,
	}
}

// Start runs the retention loop until ctx is cancelled.
func (w *CleanupWorker) Start(ctx context.Context) {
	if !w.cfg.Enabled {
		util.Info("retention disabled, cleanup worker idle")
		<-ctx.Done()
		return
	}

	util.Info("starting cleanup worker",
		"interval", w.interval,
		"session_days", w.cfg.SessionDays,
		"audit_days", w.cfg.AuditLogDays)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.RunOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			util.Info("cleanup worker stopping")
			return
		case <-ticker.C:
			w.RunOnce(ctx)
		}
	}
}

// RunOnce performs a single retention pass. Each task fails
// independently.
func (w *CleanupWorker) RunOnce(ctx context.Context) {
	util.Debug("running cleanup tasks")

	if n, err := w.tokens.DeleteExpired(); err != nil {
		util.Error("failed to cleanup expired tokens", "error", err)
	} else if n > 0 {
		util.Info("cleaned up expired approval tokens", "count", n)
	}

	cutoff := util.SQLiteTimestamp(time.Now().AddDate(0, 0, -w.cfg.ResolvedExceptionsDays))
	if n, err := w.exceptions.DeleteResolvedBefore(cutoff); err != nil {
		util.Error("failed to cleanup resolved exceptions", "error", err)
	} else if n > 0 {
		util.Info("cleaned up resolved exceptions", "count", n)
	}

	cutoff = util.SQLiteTimestamp(time.Now().AddDate(0, 0, -w.cfg.SessionDays))
	if n, err := w.discovery.DeleteSessionDataBefore(cutoff); err != nil {
		util.Error("failed to cleanup discovery sessions", "error", err)
	} else if n > 0 {
		util.Info("cleaned up old discovery sessions", "count", n)
	}

	cutoff = util.SQLiteTimestamp(time.Now().AddDate(0, 0, -w.cfg.AuditLogDays))
	if n, err := w.audit.DeleteBefore(cutoff); err != nil {
		util.Error("failed to cleanup audit log", "error", err)
	} else if n > 0 {
		util.Info("cleaned up old audit entries", "count", n)
	}

	w.maybeVacuum()
}

// maybeVacuum reclaims space at most once a day.
func (w *CleanupWorker) maybeVacuum() {
	if time.Since(w.lastVacuum) < 24*time.Hour {
		return
	}
	util.Info("running database vacuum")
	if err := w.db.Vacuum(); err != nil {
		util.Error("vacuum failed", "error", err)
		return
	}
	w.lastVacuum = time.Now()
}
