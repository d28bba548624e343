package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/seanmckay/hearth/internal/config"
	"github.com/seanmckay/hearth/internal/database"
	"github.com/seanmckay/hearth/internal/discovery"
	"github.com/seanmckay/hearth/internal/engine"
	"github.com/seanmckay/hearth/internal/events"
	"github.com/seanmckay/hearth/internal/exceptions"
	"github.com/seanmckay/hearth/internal/google"
	"github.com/seanmckay/hearth/internal/mail"
	"github.com/seanmckay/hearth/internal/tokens"
)

type fakeCalendar struct {
	createCalls int
	failWrites  bool
}

func (f *fakeCalendar) CreateEvent(ctx context.Context, intent *database.EventIntent) (string, error) {
	f.createCalls++
	if f.failWrites {
		return "", errors.New("calendar api 500")
	}
	return fmt.Sprintf("gcal-%d", f.createCalls), nil
}

func (f *fakeCalendar) UpdateEvent(ctx context.Context, eventID string, intent *database.EventIntent) error {
	return nil
}

func (f *fakeCalendar) GetEvent(ctx context.Context, eventID string) (*google.CalendarEvent, error) {
	return nil, nil
}

type fakeNotifier struct {
	tokens []string
}

func (f *fakeNotifier) NotifyApproval(ctx context.Context, event *database.PersistedEvent, op *database.CalendarOperation, token string) error {
	f.tokens = append(f.tokens, token)
	return nil
}

type fixture struct {
	router   http.Handler
	repo     *events.Repository
	disc     *discovery.Repository
	exc      *exceptions.Repository
	notifier *fakeNotifier
	calendar *fakeCalendar
	engine   *engine.Engine
}

func setup(t *testing.T) *fixture {
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
			Mode:            config.ModeCopilot,
			DedupWindowDays: 7,
			DriftPolicy:     config.DriftRespectManual,
		},
	}

	f := &fixture{
		repo:     events.NewRepository(db),
		disc:     discovery.NewRepository(db),
		exc:      exceptions.NewRepository(db),
		notifier: &fakeNotifier{},
		calendar: &fakeCalendar{},
	}
	audit := engine.NewAuditLogger(db)
	f.engine = engine.New(f.repo, tokens.NewRepository(db, 2*time.Hour),
		f.exc, f.calendar, f.notifier, audit, cfg)
	oauth := google.NewOAuthManager(cfg, db, nil)
	f.router = New(cfg, f.engine, f.repo, f.disc, f.exc, audit, oauth).Router()
	return f
}

// queueApproval pushes one message through the pipeline in copilot mode
// and returns the raw approval token the notifier captured.
func (f *fixture) queueApproval(t *testing.T) string {
	t.Helper()
	msg := &mail.Message{
		ID:      "m1",
		Sender:  "office@waterford.org",
		Subject: "Winter Concert",
		Body:    "The concert is on 2026-12-18 at 6:00pm in the auditorium.",
	}
	if _, err := f.engine.ProcessMessage(context.Background(), "school", msg, 0.95); err != nil {
		t.Fatalf("process failed: %v", err)
	}
	if len(f.notifier.tokens) != 1 {
		t.Fatalf("expected one approval token, got %d", len(f.notifier.tokens))
	}
	return f.notifier.tokens[0]
}

func (f *fixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func TestHealthz(t *testing.T) {
	f := setup(t)
	w := f.do(t, http.MethodGet, "/healthz", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
}

func TestApproveLinkFlow(t *testing.T) {
	f := setup(t)
	token := f.queueApproval(t)

	w := f.do(t, http.MethodGet, "/approve/"+token, "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), "added to the calendar") {
		t.Errorf("unexpected body: %s", w.Body.String())
	}
	if f.calendar.createCalls != 1 {
		t.Fatalf("createCalls = %d, want 1", f.calendar.createCalls)
	}

	// A second tap is answered politely, not re-executed.
	w = f.do(t, http.MethodGet, "/approve/"+token, "")
	if w.Code != http.StatusOK {
		t.Fatalf("second tap status = %d, want 200", w.Code)
	}
	if !strings.Contains(w.Body.String(), "already been used") {
		t.Errorf("unexpected body: %s", w.Body.String())
	}
	if f.calendar.createCalls != 1 {
		t.Error("second tap must not write the calendar again")
	}
}

func TestApproveLinkUnknownToken(t *testing.T) {
	f := setup(t)
	w := f.do(t, http.MethodGet, "/approve/atok_bogus", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
}

func TestRejectAPI(t *testing.T) {
	f := setup(t)
	token := f.queueApproval(t)

	w := f.do(t, http.MethodPost, "/api/approvals/"+token+"/reject", `{"reason":"wrong date"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", w.Code, w.Body.String())
	}
	var resp struct {
		Success bool   `json:"success"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("bad json: %v", err)
	}
	if !resp.Success || resp.Message != "operation rejected" {
		t.Fatalf("resp = %+v", resp)
	}
	if f.calendar.createCalls != 0 {
		t.Error("rejected operation must not reach the calendar")
	}

	// Reusing the same token conflicts.
	w = f.do(t, http.MethodPost, "/api/approvals/"+token+"/approve", "")
	if w.Code != http.StatusConflict {
		t.Fatalf("reuse status = %d, want 409", w.Code)
	}
}

func TestPendingOperationsList(t *testing.T) {
	f := setup(t)
	f.queueApproval(t)

	w := f.do(t, http.MethodGet, "/api/operations/pending", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var resp struct {
		Operations []json.RawMessage `json:"operations"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("bad json: %v", err)
	}
	if len(resp.Operations) != 1 {
		t.Fatalf("operations = %d, want 1", len(resp.Operations))
	}
}

func TestSessionNotFound(t *testing.T) {
	f := setup(t)
	w := f.do(t, http.MethodGet, "/api/sessions/ses_missing", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
}

func TestQueueStatusValidation(t *testing.T) {
	f := setup(t)
	w := f.do(t, http.MethodPost, "/api/queue/qi_x/status", `{"status":"archived"}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestResolveExceptionBadID(t *testing.T) {
	f := setup(t)
	w := f.do(t, http.MethodPost, "/api/exceptions/notanumber/resolve", "")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}
