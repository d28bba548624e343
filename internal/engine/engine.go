// Package engine is the production pipeline: extract calendar intents
// from a relevant message, gate them through fingerprint dedup, persist
// event and operation rows, and either execute the calendar write or
// park it behind an approval token depending on mode and confidence.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/seanmckay/hearth/internal/config"
	"github.com/seanmckay/hearth/internal/database"
	"github.com/seanmckay/hearth/internal/events"
	"github.com/seanmckay/hearth/internal/exceptions"
	"github.com/seanmckay/hearth/internal/extract"
	"github.com/seanmckay/hearth/internal/fingerprint"
	"github.com/seanmckay/hearth/internal/google"
	"github.com/seanmckay/hearth/internal/mail"
	"github.com/seanmckay/hearth/internal/tokens"
	"github.com/seanmckay/hearth/internal/util"
)

// CalendarSink is the calendar-write collaborator. GetEvent returns nil
// for an event that no longer exists remotely.
type CalendarSink interface {
	CreateEvent(ctx context.Context, intent *database.EventIntent) (string, error)
	UpdateEvent(ctx context.Context, eventID string, intent *database.EventIntent) error
	GetEvent(ctx context.Context, eventID string) (*google.CalendarEvent, error)
}

// Notifier delivers approval requests out of band. Nil disables it.
type Notifier interface {
	NotifyApproval(ctx context.Context, event *database.PersistedEvent, op *database.CalendarOperation, token string) error
}

// Result is the structured outcome of an approval-flow call. Failures
// come back in Message/Err rather than as a bare error, so API and CLI
// surfaces render them instead of stack-dumping.
type Result struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Err     error  `json:"-"`
}

type Engine struct {
	repo       *events.Repository
	tokens     *tokens.Repository
	exceptions *exceptions.Repository
	calendar   CalendarSink
	notifier   Notifier
	audit      *AuditLogger
	cfg        *config.Config
}

func New(repo *events.Repository, tok *tokens.Repository, exc *exceptions.Repository, cal CalendarSink, notifier Notifier, audit *AuditLogger, cfg *config.Config) *Engine {
	return &Engine{
		repo:       repo,
		tokens:     tok,
		exceptions: exc,
		calendar:   cal,
		notifier:   notifier,
		audit:      audit,
		cfg:        cfg,
	}
}

// ProcessMessage runs one relevant message through extraction, dedup,
// and the operation state machine. Returns how many events it created.
// Per-intent failures are recorded and skipped, and the message is left
// unprocessed when any intent failed so a later run can retry it.
func (e *Engine) ProcessMessage(ctx context.Context, packID string, msg *mail.Message, confidence float64) (int, error) {
	processed, err := e.repo.IsMessageProcessed(msg.ID)
	if err != nil {
		return 0, err
	}
	if processed {
		return 0, nil
	}

	intents := e.extractIntents(msg)
	if len(intents) == 0 {
		if recErr := e.exceptions.Record(database.ExcExtractionError, database.SeverityWarning,
			"no calendar intent could be extracted", map[string]string{
				"message_id": msg.ID,
				"pack_id":    packID,
				"subject":    msg.Subject,
			}); recErr != nil {
			util.Error("failed to record exception", "error", recErr)
		}
		if err := e.repo.MarkMessageProcessed(msg.ID, packID, 0); err != nil {
			return 0, err
		}
		return 0, nil
	}

	created := 0
	failed := 0
	for i := range intents {
		ok, err := e.admitIntent(ctx, packID, msg, &intents[i], confidence)
		if err != nil {
			util.Warn("intent processing failed", "message_id", msg.ID, "error", err)
			failed++
			continue
		}
		if ok {
			created++
		}
	}

	if failed > 0 {
		util.Info("message left unprocessed for retry",
			"message_id", msg.ID, "failed_intents", failed, "events_created", created)
		return created, nil
	}

	if err := e.repo.MarkMessageProcessed(msg.ID, packID, created); err != nil {
		return created, err
	}
	e.audit.Record(database.AuditMessageProcessed, msg.ID, "pipeline", map[string]any{
		"pack_id":        packID,
		"events_created": created,
	})
	return created, nil
}

// extractIntents prefers ICS attachments; without one it falls back to
// structured date patterns in the subject and body.
func (e *Engine) extractIntents(msg *mail.Message) []database.EventIntent {
	var intents []database.EventIntent
	for _, att := range msg.Attachments {
		if att.IsICS() {
			intents = append(intents, extract.ParseICS(att.Data)...)
		}
	}
	if len(intents) > 0 {
		return intents
	}

	start, hasTime, ok := extract.FindDate(msg.Subject+"\n"+msg.Body, time.Now())
	if !ok {
		return nil
	}
	intent := database.EventIntent{
		Title:  msg.Subject,
		Start:  start,
		AllDay: !hasTime,
	}
	if hasTime {
		intent.End = start.Add(time.Hour)
	} else {
		intent.End = start.Add(24 * time.Hour)
	}
	return []database.EventIntent{intent}
}

// admitIntent runs the dedup gate and, when it passes, creates the
// event/operation pair and decides its fate per mode and thresholds.
func (e *Engine) admitIntent(ctx context.Context, packID string, msg *mail.Message, intent *database.EventIntent, confidence float64) (bool, error) {
	fp := fingerprint.Compute(msg.ID, *intent)
	titleKey := fingerprint.NormalizeTitle(intent.Title)
	dateKey := fingerprint.DateKey(*intent)

	// The dedup gate: an existing fingerprint, or any event with the
	// same normalized title inside the window, blocks creation and
	// records exactly one duplicate_detected exception. A failed event
	// that never reached the calendar does not block; an exact match
	// on one reopens it instead.
	existing, err := e.repo.FindByFingerprint(fp)
	if err != nil {
		return false, err
	}
	if existing != nil && retryable(existing) {
		return e.retryFailedEvent(ctx, existing, confidence)
	}
	if existing == nil {
		window := time.Duration(e.cfg.Pipeline.DedupWindowDays) * 24 * time.Hour
		similar, err := e.repo.FindSimilarInWindow(titleKey, dateKey, window)
		if err != nil {
			return false, err
		}
		for _, cand := range similar {
			if !retryable(cand) {
				existing = cand
				break
			}
		}
	}
	if existing != nil {
		return false, e.recordDuplicate(msg.ID, packID, fp, existing)
	}

	event := &database.PersistedEvent{
		Fingerprint: fp,
		MessageID:   msg.ID,
		PackID:      packID,
		Intent:      *intent,
		TitleKey:    titleKey,
		DateKey:     dateKey,
		Confidence:  confidence,
	}
	err = e.repo.CreateEvent(event)
	if errors.Is(err, events.ErrDuplicateFingerprint) {
		// A concurrent run won the insert; the database is the arbiter.
		return false, e.recordDuplicate(msg.ID, packID, fp, nil)
	}
	if err != nil {
		return false, err
	}
	e.audit.Record(database.AuditEventCreated, event.ID, "pipeline", map[string]string{
		"fingerprint": fp,
		"message_id":  msg.ID,
	})

	op := &database.CalendarOperation{
		Type:             database.OpTypeCreate,
		EventFingerprint: fp,
		Intent:           *intent,
		RequiresApproval: e.requiresApproval(confidence),
	}
	if op.RequiresApproval {
		op.Reason = fmt.Sprintf("confidence %.2f, mode %s", confidence, e.cfg.Pipeline.Mode)
	}
	if err := e.repo.CreateOperation(op); err != nil {
		if markErr := e.repo.MarkEventFailed(event.ID, err.Error()); markErr != nil {
			util.Error("failed to mark event failed", "event_id", event.ID, "error", markErr)
		}
		return false, err
	}
	e.audit.Record(database.AuditOperationQueued, op.ID, "pipeline", map[string]any{
		"type":              op.Type,
		"requires_approval": op.RequiresApproval,
	})

	return true, e.decide(ctx, event, op, confidence)
}

// retryable reports whether an existing event should not block admission:
// a failed event without a calendar id never made it out, so a re-run is
// free to try again.
func retryable(event *database.PersistedEvent) bool {
	return event.Status == database.EventFailed && !event.CalendarEventID.Valid
}

// retryFailedEvent reopens a failed event that never reached the calendar
// and queues a fresh operation for it.
func (e *Engine) retryFailedEvent(ctx context.Context, event *database.PersistedEvent, confidence float64) (bool, error) {
	if err := e.repo.TransitionEvent(event.ID, database.EventFailed, database.EventPendingApproval); err != nil {
		return false, err
	}
	event.Status = database.EventPendingApproval

	op := &database.CalendarOperation{
		Type:             database.OpTypeCreate,
		EventFingerprint: event.Fingerprint,
		Intent:           event.Intent,
		RequiresApproval: e.requiresApproval(confidence),
	}
	if op.RequiresApproval {
		op.Reason = fmt.Sprintf("confidence %.2f, mode %s", confidence, e.cfg.Pipeline.Mode)
	}
	if err := e.repo.CreateOperation(op); err != nil {
		if markErr := e.repo.MarkEventFailed(event.ID, err.Error()); markErr != nil {
			util.Error("failed to mark event failed", "event_id", event.ID, "error", markErr)
		}
		return false, err
	}
	e.audit.Record(database.AuditOperationQueued, op.ID, "pipeline", map[string]any{
		"type":              op.Type,
		"requires_approval": op.RequiresApproval,
		"retry":             true,
	})

	return false, e.decide(ctx, event, op, confidence)
}

func (e *Engine) requiresApproval(confidence float64) bool {
	return confidence < e.cfg.Thresholds.RequireReviewBelow ||
		e.cfg.Pipeline.Mode == config.ModeCopilot
}

// decide routes a fresh operation: dry-run persists and stops before any
// external write; autopilot executes straight away above the auto-create
// threshold; everything else waits on a token.
func (e *Engine) decide(ctx context.Context, event *database.PersistedEvent, op *database.CalendarOperation, confidence float64) error {
	if e.cfg.Pipeline.Mode == config.ModeDryRun {
		util.Info("dry-run: operation persisted, not executed", "operation_id", op.ID)
		return nil
	}

	if !op.RequiresApproval && confidence >= e.cfg.Thresholds.AutoCreate {
		if err := e.repo.DecideOperation(op.ID, database.OpApproved); err != nil {
			return err
		}
		op.Status = database.OpApproved
		return e.ExecuteOperation(ctx, op)
	}

	return e.requestApproval(ctx, event, op)
}

func (e *Engine) requestApproval(ctx context.Context, event *database.PersistedEvent, op *database.CalendarOperation) error {
	raw, err := e.tokens.Issue(op.ID)
	if err != nil {
		return err
	}
	e.audit.Record(database.AuditTokenIssued, op.ID, "pipeline", nil)

	if e.notifier != nil {
		if err := e.notifier.NotifyApproval(ctx, event, op, raw); err != nil {
			util.Warn("approval notification failed", "operation_id", op.ID, "error", err)
			if recErr := e.exceptions.Record(database.ExcForwardingError, database.SeverityWarning,
				err.Error(), map[string]string{"operation_id": op.ID}); recErr != nil {
				util.Error("failed to record exception", "error", recErr)
			}
		}
	}
	return nil
}

func (e *Engine) recordDuplicate(messageID, packID, fp string, existing *database.PersistedEvent) error {
	ctx := map[string]string{
		"message_id":  messageID,
		"pack_id":     packID,
		"fingerprint": fp,
	}
	if existing != nil {
		ctx["existing_event_id"] = existing.ID
	}
	return e.exceptions.Record(database.ExcDuplicateDetected, database.SeverityWarning,
		"dedup gate blocked event creation", ctx)
}

// ExecuteOperation performs the calendar write for an approved (or
// auto-approved) operation. Failure moves both rows to failed and is
// never retried automatically.
func (e *Engine) ExecuteOperation(ctx context.Context, op *database.CalendarOperation) error {
	event, err := e.repo.FindByFingerprint(op.EventFingerprint)
	if err != nil {
		return err
	}
	if event == nil {
		return fmt.Errorf("operation %s has no paired event", op.ID)
	}

	var calendarID string
	var eventStatus string
	switch op.Type {
	case database.OpTypeCreate:
		calendarID, err = e.calendar.CreateEvent(ctx, &op.Intent)
		eventStatus = database.EventCreated
	case database.OpTypeUpdate:
		if !event.CalendarEventID.Valid {
			err = fmt.Errorf("update operation %s has no calendar event id", op.ID)
		} else {
			calendarID = event.CalendarEventID.String
			err = e.calendar.UpdateEvent(ctx, calendarID, &op.Intent)
			eventStatus = database.EventUpdated
		}
	default:
		return fmt.Errorf("operation type %q is not executable", op.Type)
	}

	if err != nil {
		return e.failOperation(op, event, err)
	}

	if dbErr := e.repo.MarkOperationExecuted(op.ID, calendarID); dbErr != nil {
		return dbErr
	}
	if dbErr := e.repo.SetCalendarEventID(event.ID, calendarID, eventStatus); dbErr != nil {
		return dbErr
	}
	e.audit.Record(database.AuditOperationExecuted, op.ID, "pipeline", map[string]string{
		"calendar_event_id": calendarID,
	})
	util.Info("calendar operation executed", "operation_id", op.ID, "calendar_event_id", calendarID)
	return nil
}

func (e *Engine) failOperation(op *database.CalendarOperation, event *database.PersistedEvent, cause error) error {
	if err := e.repo.MarkOperationFailed(op.ID, cause.Error()); err != nil {
		util.Error("failed to mark operation failed", "operation_id", op.ID, "error", err)
	}
	if err := e.repo.MarkEventFailed(event.ID, cause.Error()); err != nil {
		util.Error("failed to mark event failed", "event_id", event.ID, "error", err)
	}
	if recErr := e.exceptions.Record(database.ExcCalendarError, database.SeverityError,
		cause.Error(), map[string]string{
			"operation_id": op.ID,
			"event_id":     event.ID,
		}); recErr != nil {
		util.Error("failed to record exception", "error", recErr)
	}
	e.audit.Record(database.AuditOperationFailed, op.ID, "pipeline", map[string]string{
		"error": cause.Error(),
	})
	return fmt.Errorf("calendar write failed: %w", cause)
}

// ApproveAndExecute redeems a token as an approval and performs the
// gated calendar write. All failures come back as a structured Result.
func (e *Engine) ApproveAndExecute(ctx context.Context, rawToken string) Result {
	token, err := e.tokens.Consume(rawToken, true)
	if res, bad := tokenFailure(err); bad {
		return res
	}
	e.audit.Record(database.AuditTokenConsumed, token.OperationID, "approver", map[string]bool{"approved": true})

	op, err := e.repo.GetOperation(token.OperationID)
	if err != nil {
		return Result{Message: "failed to load operation", Err: err}
	}
	if op == nil {
		return Result{Message: "operation no longer exists"}
	}
	if op.Status != database.OpPending {
		return Result{Message: fmt.Sprintf("operation is already %s", op.Status)}
	}

	if err := e.repo.DecideOperation(op.ID, database.OpApproved); err != nil {
		return Result{Message: "operation was decided concurrently", Err: err}
	}
	op.Status = database.OpApproved
	e.audit.Record(database.AuditOperationApproved, op.ID, "approver", nil)

	if err := e.ExecuteOperation(ctx, op); err != nil {
		return Result{Message: "approved, but the calendar write failed", Err: err}
	}
	return Result{Success: true, Message: "event added to the calendar"}
}

// Reject redeems a token as a rejection: the operation closes as
// rejected and the paired event is flagged with the reason.
func (e *Engine) Reject(ctx context.Context, rawToken, reason string) Result {
	token, err := e.tokens.Consume(rawToken, false)
	if res, bad := tokenFailure(err); bad {
		return res
	}
	e.audit.Record(database.AuditTokenConsumed, token.OperationID, "approver", map[string]bool{"approved": false})

	op, err := e.repo.GetOperation(token.OperationID)
	if err != nil {
		return Result{Message: "failed to load operation", Err: err}
	}
	if op == nil {
		return Result{Message: "operation no longer exists"}
	}

	if reason == "" {
		reason = "rejected by approver"
	}
	if err := e.repo.RejectOperation(op.ID, reason); err != nil {
		return Result{Message: fmt.Sprintf("operation is already %s", op.Status), Err: err}
	}
	e.audit.Record(database.AuditOperationRejected, op.ID, "approver", map[string]string{"reason": reason})

	event, err := e.repo.FindByFingerprint(op.EventFingerprint)
	if err == nil && event != nil {
		if flagErr := e.repo.FlagEvent(event.ID, reason); flagErr != nil {
			util.Error("failed to flag event", "event_id", event.ID, "error", flagErr)
		}
	}
	return Result{Success: true, Message: "operation rejected"}
}

func tokenFailure(err error) (Result, bool) {
	switch {
	case err == nil:
		return Result{}, false
	case errors.Is(err, tokens.ErrNotFound):
		return Result{Message: "this approval link is not recognized", Err: err}, true
	case errors.Is(err, tokens.ErrAlreadyUsed):
		return Result{Message: "this approval link has already been used", Err: err}, true
	case errors.Is(err, tokens.ErrExpired):
		return Result{Message: "this approval link has expired", Err: err}, true
	default:
		return Result{Message: "token validation failed", Err: err}, true
	}
}
