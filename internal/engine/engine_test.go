package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/seanmckay/hearth/internal/config"
	"github.com/seanmckay/hearth/internal/database"
	"github.com/seanmckay/hearth/internal/events"
	"github.com/seanmckay/hearth/internal/exceptions"
	"github.com/seanmckay/hearth/internal/google"
	"github.com/seanmckay/hearth/internal/mail"
	"github.com/seanmckay/hearth/internal/tokens"
)

type fakeCalendar struct {
	createCalls int
	updateCalls int
	failWrites  bool
	remote      map[string]*google.CalendarEvent
}

func (f *fakeCalendar) CreateEvent(ctx context.Context, intent *database.EventIntent) (string, error) {
	f.createCalls++
	if f.failWrites {
		return "", errors.New("calendar api 500")
	}
	return fmt.Sprintf("gcal-%d", f.createCalls), nil
}

func (f *fakeCalendar) UpdateEvent(ctx context.Context, eventID string, intent *database.EventIntent) error {
	f.updateCalls++
	if f.failWrites {
		return errors.New("calendar api 500")
	}
	return nil
}

func (f *fakeCalendar) GetEvent(ctx context.Context, eventID string) (*google.CalendarEvent, error) {
	return f.remote[eventID], nil
}

type fakeNotifier struct {
	tokens []string
}

func (f *fakeNotifier) NotifyApproval(ctx context.Context, event *database.PersistedEvent, op *database.CalendarOperation, token string) error {
	f.tokens = append(f.tokens, token)
	return nil
}

type fixture struct {
	engine   *Engine
	db       *database.DB
	repo     *events.Repository
	exc      *exceptions.Repository
	calendar *fakeCalendar
	notifier *fakeNotifier
	cfg      *config.Config
}

func setup(t *testing.T, mode string) *fixture {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	cfg := &config.Config{
		Thresholds: config.ThresholdsConfig{
			AutoCreate:         0.85,
			AutoUpdate:         0.9,
			RequireReviewBelow: 0.7,
		},
		Pipeline: config.PipelineConfig{
			Mode:            mode,
			DedupWindowDays: 7,
			DriftPolicy:     config.DriftRespectManual,
		},
	}

	f := &fixture{
		db:       db,
		repo:     events.NewRepository(db),
		exc:      exceptions.NewRepository(db),
		calendar: &fakeCalendar{remote: make(map[string]*google.CalendarEvent)},
		notifier: &fakeNotifier{},
		cfg:      cfg,
	}
	f.engine = New(f.repo, tokens.NewRepository(db, 2*time.Hour),
		f.exc, f.calendar, f.notifier, NewAuditLogger(db), cfg)
	return f
}

func concertMessage(id string) *mail.Message {
	return &mail.Message{
		ID:      id,
		Sender:  "office@waterford.org",
		Subject: "Winter Concert",
		Body:    "The concert is on 2026-12-18 at 6:00pm in the auditorium.",
	}
}

func TestProcessMessageCopilotQueuesApproval(t *testing.T) {
	f := setup(t, config.ModeCopilot)

	created, err := f.engine.ProcessMessage(context.Background(), "school", concertMessage("m1"), 0.95)
	if err != nil {
		t.Fatalf("process failed: %v", err)
	}
	if created != 1 {
		t.Fatalf("created = %d, want 1", created)
	}

	// Copilot requires approval regardless of confidence.
	pending, err := f.repo.ListPendingOperations(10)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(pending) != 1 || !pending[0].RequiresApproval {
		t.Fatalf("pending = %+v", pending)
	}
	if f.calendar.createCalls != 0 {
		t.Error("copilot must not write the calendar unattended")
	}
	if len(f.notifier.tokens) != 1 {
		t.Fatalf("expected one approval notification, got %d", len(f.notifier.tokens))
	}
}

func TestProcessMessageAutopilotExecutes(t *testing.T) {
	f := setup(t, config.ModeAutopilot)

	if _, err := f.engine.ProcessMessage(context.Background(), "school", concertMessage("m1"), 0.95); err != nil {
		t.Fatalf("process failed: %v", err)
	}

	if f.calendar.createCalls != 1 {
		t.Fatalf("calendar writes = %d, want 1", f.calendar.createCalls)
	}
	evs, err := f.repo.ListByStatus(database.EventCreated, 10)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(evs) != 1 || evs[0].CalendarEventID.String != "gcal-1" {
		t.Fatalf("events = %+v", evs)
	}

	op, err := f.repo.GetOperation(mustOnlyOperation(t, f.repo).ID)
	if err != nil {
		t.Fatalf("get operation failed: %v", err)
	}
	if op.Status != database.OpExecuted {
		t.Errorf("operation status = %s", op.Status)
	}
}

func TestProcessMessageAutopilotMidConfidenceWaits(t *testing.T) {
	f := setup(t, config.ModeAutopilot)

	// Above review floor, below auto-create: persists and waits.
	if _, err := f.engine.ProcessMessage(context.Background(), "school", concertMessage("m1"), 0.8); err != nil {
		t.Fatalf("process failed: %v", err)
	}
	if f.calendar.createCalls != 0 {
		t.Error("below-threshold confidence must not auto-execute")
	}
	if len(f.notifier.tokens) != 1 {
		t.Error("mid-confidence operation should request approval")
	}
}

func TestProcessMessageDryRunNeverWrites(t *testing.T) {
	f := setup(t, config.ModeDryRun)

	if _, err := f.engine.ProcessMessage(context.Background(), "school", concertMessage("m1"), 0.99); err != nil {
		t.Fatalf("process failed: %v", err)
	}

	// Rows persist for observability; no external write, no token.
	if f.calendar.createCalls != 0 {
		t.Error("dry-run performed a calendar write")
	}
	if len(f.notifier.tokens) != 0 {
		t.Error("dry-run sent a notification")
	}
	pending, err := f.repo.ListPendingOperations(10)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("operation not persisted in dry-run: %+v", pending)
	}
}

func TestProcessMessageIdempotentPerMessage(t *testing.T) {
	f := setup(t, config.ModeCopilot)
	ctx := context.Background()

	if _, err := f.engine.ProcessMessage(ctx, "school", concertMessage("m1"), 0.9); err != nil {
		t.Fatalf("process failed: %v", err)
	}
	created, err := f.engine.ProcessMessage(ctx, "school", concertMessage("m1"), 0.9)
	if err != nil {
		t.Fatalf("re-process failed: %v", err)
	}
	if created != 0 {
		t.Error("re-processing a handled message created events")
	}
}

func TestDedupGateBlocksSecondExtraction(t *testing.T) {
	f := setup(t, config.ModeCopilot)
	ctx := context.Background()

	if _, err := f.engine.ProcessMessage(ctx, "school", concertMessage("m1"), 0.9); err != nil {
		t.Fatalf("process failed: %v", err)
	}

	// Different message, same human event: title normalizes identically,
	// same date, inside the window.
	msg2 := concertMessage("m2")
	msg2.Subject = "WINTER   CONCERT!!"
	created, err := f.engine.ProcessMessage(ctx, "school", msg2, 0.9)
	if err != nil {
		t.Fatalf("process failed: %v", err)
	}
	if created != 0 {
		t.Fatal("dedup gate failed to block a near-duplicate")
	}

	counts, err := f.exc.CountByType()
	if err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if counts[database.ExcDuplicateDetected] != 1 {
		t.Errorf("duplicate_detected exceptions = %d, want exactly 1",
			counts[database.ExcDuplicateDetected])
	}
}

func TestApproveAndExecute(t *testing.T) {
	f := setup(t, config.ModeCopilot)
	ctx := context.Background()

	if _, err := f.engine.ProcessMessage(ctx, "school", concertMessage("m1"), 0.9); err != nil {
		t.Fatalf("process failed: %v", err)
	}
	token := f.notifier.tokens[0]

	res := f.engine.ApproveAndExecute(ctx, token)
	if !res.Success {
		t.Fatalf("approve failed: %s (%v)", res.Message, res.Err)
	}
	if f.calendar.createCalls != 1 {
		t.Fatalf("calendar writes = %d, want 1", f.calendar.createCalls)
	}

	// State coupling: operation executed iff event created.
	op := mustOnlyOperation(t, f.repo)
	if op.Status != database.OpExecuted {
		t.Errorf("operation status = %s", op.Status)
	}
	evs, _ := f.repo.ListByStatus(database.EventCreated, 10)
	if len(evs) != 1 {
		t.Errorf("paired event not created: %+v", evs)
	}

	// Single use: a second redemption must not re-execute.
	res2 := f.engine.ApproveAndExecute(ctx, token)
	if res2.Success {
		t.Fatal("second approval succeeded")
	}
	if !strings.Contains(res2.Message, "already been used") {
		t.Errorf("message = %q", res2.Message)
	}
	if f.calendar.createCalls != 1 {
		t.Error("second approval re-executed the calendar write")
	}
}

func TestRejectFlagsEvent(t *testing.T) {
	f := setup(t, config.ModeCopilot)
	ctx := context.Background()

	if _, err := f.engine.ProcessMessage(ctx, "school", concertMessage("m1"), 0.9); err != nil {
		t.Fatalf("process failed: %v", err)
	}

	res := f.engine.Reject(ctx, f.notifier.tokens[0], "wrong date")
	if !res.Success {
		t.Fatalf("reject failed: %s (%v)", res.Message, res.Err)
	}

	op := mustOnlyOperation(t, f.repo)
	if op.Status != database.OpRejected || op.Error.String != "wrong date" {
		t.Errorf("operation = %+v", op)
	}
	flagged, _ := f.repo.ListByStatus(database.EventFlagged, 10)
	if len(flagged) != 1 || flagged[0].Error.String != "wrong date" {
		t.Errorf("flagged events = %+v", flagged)
	}
	if f.calendar.createCalls != 0 {
		t.Error("rejection wrote to the calendar")
	}
}

func TestApproveWithBadToken(t *testing.T) {
	f := setup(t, config.ModeCopilot)

	res := f.engine.ApproveAndExecute(context.Background(), "atok_bogus00000000000000")
	if res.Success {
		t.Fatal("bogus token approved")
	}
	if !strings.Contains(res.Message, "not recognized") {
		t.Errorf("message = %q", res.Message)
	}
}

func TestCalendarFailureMarksBothRows(t *testing.T) {
	f := setup(t, config.ModeCopilot)
	ctx := context.Background()

	if _, err := f.engine.ProcessMessage(ctx, "school", concertMessage("m1"), 0.9); err != nil {
		t.Fatalf("process failed: %v", err)
	}
	f.calendar.failWrites = true

	res := f.engine.ApproveAndExecute(ctx, f.notifier.tokens[0])
	if res.Success {
		t.Fatal("failed write reported success")
	}
	if res.Err == nil {
		t.Fatal("error not carried in result")
	}

	op := mustOnlyOperation(t, f.repo)
	if op.Status != database.OpFailed || !op.Error.Valid {
		t.Errorf("operation = %+v", op)
	}
	failed, _ := f.repo.ListByStatus(database.EventFailed, 10)
	if len(failed) != 1 || !failed[0].Error.Valid {
		t.Errorf("failed events = %+v", failed)
	}
	counts, _ := f.exc.CountByType()
	if counts[database.ExcCalendarError] != 1 {
		t.Errorf("calendar_error exceptions = %d", counts[database.ExcCalendarError])
	}
}

func TestFailedWriteIsRetriedOnRerun(t *testing.T) {
	f := setup(t, config.ModeAutopilot)
	ctx := context.Background()

	// First pass: the calendar write fails, so the event lands in
	// failed with no calendar id and the message stays unprocessed.
	f.calendar.failWrites = true
	created, err := f.engine.ProcessMessage(ctx, "school", concertMessage("m1"), 0.95)
	if err != nil {
		t.Fatalf("process failed: %v", err)
	}
	if created != 0 {
		t.Fatalf("created = %d, want 0", created)
	}
	if f.calendar.createCalls != 1 {
		t.Fatalf("calendar writes = %d, want 1", f.calendar.createCalls)
	}
	failed, _ := f.repo.ListByStatus(database.EventFailed, 10)
	if len(failed) != 1 || failed[0].CalendarEventID.Valid {
		t.Fatalf("failed events = %+v", failed)
	}
	if done, _ := f.repo.IsMessageProcessed("m1"); done {
		t.Fatal("message marked processed despite failed write")
	}

	// Second pass with a healthy calendar: the failed event is reopened
	// and the write retried.
	f.calendar.failWrites = false
	if _, err := f.engine.ProcessMessage(ctx, "school", concertMessage("m1"), 0.95); err != nil {
		t.Fatalf("re-process failed: %v", err)
	}
	if f.calendar.createCalls != 2 {
		t.Fatalf("calendar writes = %d, want 2", f.calendar.createCalls)
	}
	evs, _ := f.repo.ListByStatus(database.EventCreated, 10)
	if len(evs) != 1 || evs[0].CalendarEventID.String != "gcal-2" {
		t.Fatalf("events = %+v", evs)
	}
	if done, _ := f.repo.IsMessageProcessed("m1"); !done {
		t.Fatal("message not marked processed after successful retry")
	}

	// Third pass is a no-op: the processed ledger short-circuits.
	if _, err := f.engine.ProcessMessage(ctx, "school", concertMessage("m1"), 0.95); err != nil {
		t.Fatalf("third process failed: %v", err)
	}
	if f.calendar.createCalls != 2 {
		t.Error("processed message triggered another calendar write")
	}
}

func TestOperationInsertFailureMarksEventFailed(t *testing.T) {
	f := setup(t, config.ModeCopilot)
	ctx := context.Background()

	// Breaking the operations table makes CreateOperation fail after
	// the event row already exists.
	if _, err := f.db.Exec("DROP TABLE operations"); err != nil {
		t.Fatalf("drop failed: %v", err)
	}

	created, err := f.engine.ProcessMessage(ctx, "school", concertMessage("m1"), 0.9)
	if err != nil {
		t.Fatalf("process failed: %v", err)
	}
	if created != 0 {
		t.Fatalf("created = %d, want 0: event has no operation", created)
	}

	// The stranded event is failed with no calendar id, so a later run
	// can reopen it rather than leaving an orphan.
	failed, listErr := f.repo.ListByStatus(database.EventFailed, 10)
	if listErr != nil {
		t.Fatalf("list failed: %v", listErr)
	}
	if len(failed) != 1 || failed[0].CalendarEventID.Valid || !failed[0].Error.Valid {
		t.Fatalf("failed events = %+v", failed)
	}
	if done, _ := f.repo.IsMessageProcessed("m1"); done {
		t.Error("message marked processed despite failed intent")
	}
}

func TestExtractionFailureRecordsException(t *testing.T) {
	f := setup(t, config.ModeCopilot)

	msg := &mail.Message{ID: "m1", Subject: "No dates here", Body: "Just a newsletter."}
	created, err := f.engine.ProcessMessage(context.Background(), "school", msg, 0.9)
	if err != nil {
		t.Fatalf("process failed: %v", err)
	}
	if created != 0 {
		t.Error("dateless message created an event")
	}
	counts, _ := f.exc.CountByType()
	if counts[database.ExcExtractionError] != 1 {
		t.Errorf("extraction_error exceptions = %d", counts[database.ExcExtractionError])
	}

	// Still marked processed so the scheduler does not spin on it.
	done, _ := f.repo.IsMessageProcessed("m1")
	if !done {
		t.Error("message not marked processed after extraction failure")
	}
}

func TestReconcileEventRespectManual(t *testing.T) {
	f := setup(t, config.ModeAutopilot)
	ctx := context.Background()

	if _, err := f.engine.ProcessMessage(ctx, "school", concertMessage("m1"), 0.95); err != nil {
		t.Fatalf("process failed: %v", err)
	}
	evs, _ := f.repo.ListByStatus(database.EventCreated, 10)
	event := evs[0]

	// Remote copy matches the intent: no drift.
	f.calendar.remote["gcal-1"] = &google.CalendarEvent{
		ID:    "gcal-1",
		Title: event.Intent.Title,
		Start: event.Intent.Start,
		End:   event.Intent.End,
	}
	report, err := f.engine.ReconcileEvent(ctx, event)
	if err != nil {
		t.Fatalf("reconcile failed: %v", err)
	}
	if report != nil {
		t.Fatalf("unexpected drift: %+v", report)
	}

	// A human moved it: drift detected, event marked manually edited,
	// nothing else changes.
	f.calendar.remote["gcal-1"].Start = event.Intent.Start.Add(time.Hour)
	report, err = f.engine.ReconcileEvent(ctx, event)
	if err != nil {
		t.Fatalf("reconcile failed: %v", err)
	}
	if report == nil || len(report.Diffs) == 0 {
		t.Fatal("drift not detected")
	}

	fresh, _ := f.repo.FindByID(event.ID)
	if !fresh.ManuallyEdited {
		t.Error("respect_manual did not mark the event manually edited")
	}
	if counts, _ := f.exc.CountByType(); counts[database.ExcOther] != 0 {
		t.Error("respect_manual raised an exception")
	}
}

func TestReconcileEventFlagConflict(t *testing.T) {
	f := setup(t, config.ModeAutopilot)
	f.cfg.Pipeline.DriftPolicy = config.DriftFlagConflict
	ctx := context.Background()

	if _, err := f.engine.ProcessMessage(ctx, "school", concertMessage("m1"), 0.95); err != nil {
		t.Fatalf("process failed: %v", err)
	}
	evs, _ := f.repo.ListByStatus(database.EventCreated, 10)
	event := evs[0]

	// Remote deleted entirely.
	report, err := f.engine.ReconcileEvent(ctx, event)
	if err != nil {
		t.Fatalf("reconcile failed: %v", err)
	}
	if report == nil || !report.Deleted {
		t.Fatalf("deletion not reported: %+v", report)
	}
	counts, _ := f.exc.CountByType()
	if counts[database.ExcOther] != 1 {
		t.Errorf("flag_conflict exceptions = %d, want 1", counts[database.ExcOther])
	}
}

func mustOnlyOperation(t *testing.T, repo *events.Repository) *database.CalendarOperation {
	t.Helper()
	op, err := repo.FindLatestOperation()
	if err != nil {
		t.Fatalf("find operation failed: %v", err)
	}
	if op == nil {
		t.Fatal("no operation found")
	}
	return op
}
