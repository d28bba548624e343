package discovery

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/seanmckay/hearth/internal/classify"
	"github.com/seanmckay/hearth/internal/config"
	"github.com/seanmckay/hearth/internal/database"
	"github.com/seanmckay/hearth/internal/exceptions"
	"github.com/seanmckay/hearth/internal/mail"
)

type fakeSource struct {
	messages map[string]*mail.Message
	order    []string
	listErr  error
	slow     map[string]bool
}

func (f *fakeSource) ListMessageIDs(ctx context.Context, query string, max int) ([]string, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.order, nil
}

func (f *fakeSource) GetMessage(ctx context.Context, id string) (*mail.Message, error) {
	if f.slow[id] {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return f.messages[id], nil
}

type fakeClassifier struct {
	results map[string]*classify.Result
	err     error
}

func (f *fakeClassifier) Classify(ctx context.Context, subject, sender, body string) (*classify.Result, error) {
	if f.err != nil {
		return nil, f.err
	}
	if r, ok := f.results[subject]; ok {
		return r, nil
	}
	return classify.Neutral(), nil
}

func testConfig() *config.Config {
	return &config.Config{
		Pipeline: config.PipelineConfig{
			LookbackDays:  30,
			MaxCandidates: 100,
			ItemTimeout:   100 * time.Millisecond,
		},
		Family: []config.FamilyMember{
			{Name: "Maya", Aliases: []string{"May"}},
			{Name: "Leo"},
		},
	}
}

func setup(t *testing.T, source mail.Source, classifier classify.Classifier) (*Orchestrator, *Repository) {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	repo := NewRepository(db)
	orch := NewOrchestrator(repo, source, classifier, exceptions.NewRepository(db), nil, testConfig())
	return orch, repo
}

func schoolPack() *config.Pack {
	return &config.Pack{
		ID:            "school",
		SourceDomains: []string{"*waterford*.org"},
		Rules: config.PackRules{
			EventKeywords: []string{"recital", "rehearsal", "concert"},
		},
	}
}

func TestRepositoryIDsArePrefixedUUIDs(t *testing.T) {
	_, repo := setup(t, &fakeSource{}, &fakeClassifier{})

	session, err := repo.CreateSession("school")
	if err != nil {
		t.Fatalf("create session: %v", err)
	}

	ev := &database.Evidence{
		SessionID: session.ID,
		MessageID: "m1",
		Subject:   "Winter Concert",
		Sender:    "events@mail3.waterford.org",
		Date:      time.Now(),
	}
	if err := repo.AddEvidence(ev); err != nil {
		t.Fatalf("add evidence: %v", err)
	}

	item := &database.QueueItem{SessionID: session.ID, MessageID: "m1", Category: "school"}
	if err := repo.AddQueueItem(item); err != nil {
		t.Fatalf("add queue item: %v", err)
	}

	for _, tc := range []struct {
		id     string
		prefix string
	}{
		{session.ID, "ses_"},
		{ev.ID, "evd_"},
		{item.ID, "qi_"},
	} {
		if !strings.HasPrefix(tc.id, tc.prefix) {
			t.Errorf("id %q does not carry prefix %q", tc.id, tc.prefix)
			continue
		}
		if _, err := uuid.Parse(strings.TrimPrefix(tc.id, tc.prefix)); err != nil {
			t.Errorf("id %q is not a UUID after prefix: %v", tc.id, err)
		}
	}
}

func TestRunCapturesEvidenceAndQueueItems(t *testing.T) {
	source := &fakeSource{
		order: []string{"m1", "m2", "m3"},
		messages: map[string]*mail.Message{
			"m1": {
				ID: "m1", Sender: "events@mail3.waterford.org",
				DisplayName: "Waterford Elementary",
				Subject:     "Winter Concert for Maya",
				Body:        "The concert and dress rehearsal schedule is attached.",
				Date:        "Mon, 14 Sep 2026 08:00:00 -0400",
			},
			"m2": {
				ID: "m2", Sender: "deals@retailer.com",
				Subject: "50% off", Body: "Shop now",
				Date: "Mon, 14 Sep 2026 09:00:00 -0400",
			},
			"m3": {
				ID: "m3", Sender: "news@mail7.waterford.org",
				Subject: "Recital reminder", Body: "Recital and rehearsal times inside.",
				Date: "Tue, 15 Sep 2026 09:00:00 -0400",
			},
		},
	}
	classifier := &fakeClassifier{results: map[string]*classify.Result{
		"Winter Concert for Maya": {
			ItemType:       database.ItemTypeObligation,
			Category:       "school",
			ObligationDate: "2026-12-18",
			Confidence:     0.9,
		},
	}}

	orch, repo := setup(t, source, classifier)
	session, err := orch.Run(context.Background(), schoolPack())
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if session.Status != database.SessionCompleted {
		t.Errorf("session status = %s", session.Status)
	}
	if session.EmailsScanned != 3 {
		t.Errorf("emails scanned = %d, want 3", session.EmailsScanned)
	}

	evidence, err := repo.ListEvidence(session.ID)
	if err != nil {
		t.Fatalf("list evidence failed: %v", err)
	}
	// m1 and m3 are relevant; the retailer mail is not.
	if len(evidence) != 2 {
		t.Fatalf("got %d evidence rows, want 2", len(evidence))
	}
	if evidence[0].MessageID != "m1" || evidence[1].MessageID != "m3" {
		t.Errorf("evidence order wrong: %s, %s", evidence[0].MessageID, evidence[1].MessageID)
	}
	if len(evidence[0].MatchedRules) == 0 {
		t.Error("matched rule ids not recorded")
	}

	items, err := repo.ListQueueItems(database.QueueItemPending, 10)
	if err != nil {
		t.Fatalf("list queue items failed: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("got %d queue items, want 2", len(items))
	}
	var concertItem *database.QueueItem
	for _, item := range items {
		if item.MessageID == "m1" {
			concertItem = item
		}
	}
	if concertItem == nil {
		t.Fatal("no queue item for m1")
	}
	if concertItem.Person.String != "Maya" {
		t.Errorf("person = %q, want Maya", concertItem.Person.String)
	}
	if concertItem.ObligationDate.String != "2026-12-18" {
		t.Errorf("obligation date = %q", concertItem.ObligationDate.String)
	}
	if concertItem.ItemType != database.ItemTypeObligation {
		t.Errorf("item type = %s", concertItem.ItemType)
	}
}

func TestRunClassifierCanFlagIrrelevantMail(t *testing.T) {
	// Relevance score 0, but the classifier marks it an obligation: the
	// union policy still surfaces it.
	source := &fakeSource{
		order: []string{"m1"},
		messages: map[string]*mail.Message{
			"m1": {
				ID: "m1", Sender: "frontdesk@smiledental.example",
				Subject: "Appointment confirmation",
				Body:    "Leo is due for a cleaning on October 2.",
				Date:    "Mon, 14 Sep 2026 08:00:00 -0400",
			},
		},
	}
	classifier := &fakeClassifier{results: map[string]*classify.Result{
		"Appointment confirmation": {
			ItemType:       database.ItemTypeObligation,
			Category:       "medical",
			ObligationDate: "2026-10-02",
			Confidence:     0.85,
		},
	}}

	orch, repo := setup(t, source, classifier)
	session, err := orch.Run(context.Background(), schoolPack())
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}

	items, err := repo.ListQueueItems(database.QueueItemPending, 10)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("got %d queue items, want 1", len(items))
	}
	if items[0].Person.String != "Leo" {
		t.Errorf("person = %q, want Leo", items[0].Person.String)
	}

	// Score-0 mail still leaves an evidence trail when flagged.
	evidence, err := repo.ListEvidence(session.ID)
	if err != nil {
		t.Fatalf("list evidence failed: %v", err)
	}
	if len(evidence) != 1 || evidence[0].Score != 0 {
		t.Errorf("evidence = %+v", evidence)
	}
}

func TestRunSurvivesPerItemFailures(t *testing.T) {
	source := &fakeSource{
		order: []string{"slow", "gone", "ok"},
		slow:  map[string]bool{"slow": true},
		messages: map[string]*mail.Message{
			// "gone" missing: GetMessage returns nil, nil.
			"ok": {
				ID: "ok", Sender: "office@waterford.org",
				Subject: "Recital and rehearsal", Body: "recital rehearsal",
				Date: "Mon, 14 Sep 2026 08:00:00 -0400",
			},
		},
	}

	orch, repo := setup(t, source, &fakeClassifier{})
	session, err := orch.Run(context.Background(), schoolPack())
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if session.Status != database.SessionCompleted {
		t.Errorf("session status = %s; per-item failures must not fail the run", session.Status)
	}

	evidence, err := repo.ListEvidence(session.ID)
	if err != nil {
		t.Fatalf("list evidence failed: %v", err)
	}
	if len(evidence) != 1 || evidence[0].MessageID != "ok" {
		t.Errorf("evidence = %+v", evidence)
	}
}

func TestRunListFailureFailsSession(t *testing.T) {
	source := &fakeSource{listErr: errors.New("upstream down")}

	orch, repo := setup(t, source, &fakeClassifier{})
	session, err := orch.Run(context.Background(), schoolPack())
	if err == nil {
		t.Fatal("listing failure should fail the run")
	}

	// The session row persists in the failed state.
	stored, err := repo.GetSession(session.ID)
	if err != nil {
		t.Fatalf("get session failed: %v", err)
	}
	if stored == nil || stored.Status != database.SessionFailed {
		t.Errorf("stored session = %+v", stored)
	}
}

func TestRunClassifierErrorFallsBackNeutral(t *testing.T) {
	source := &fakeSource{
		order: []string{"m1"},
		messages: map[string]*mail.Message{
			"m1": {
				ID: "m1", Sender: "office@waterford.org",
				Subject: "Recital and rehearsal", Body: "recital rehearsal",
				Date: "Mon, 14 Sep 2026 08:00:00 -0400",
			},
		},
	}

	orch, repo := setup(t, source, &fakeClassifier{err: errors.New("model overloaded")})
	if _, err := orch.Run(context.Background(), schoolPack()); err != nil {
		t.Fatalf("run failed: %v", err)
	}

	items, err := repo.ListQueueItems(database.QueueItemPending, 10)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("got %d items, want 1", len(items))
	}
	if items[0].ItemType != database.ItemTypeAnnouncement || items[0].Confidence != 0.5 {
		t.Errorf("neutral fallback not applied: %+v", items[0])
	}
}

func TestBuildQuery(t *testing.T) {
	targeted := BuildQuery(schoolPack(), 30)
	if targeted != `from:(waterford.org) newer_than:30d` {
		t.Errorf("targeted query = %q", targeted)
	}

	anchored := BuildQuery(&config.Pack{
		ID:    "activities",
		Rules: config.PackRules{EventKeywords: []string{"recital", "practice"}},
	}, 30)
	if anchored != `("recital" OR "practice") newer_than:30d` {
		t.Errorf("anchored query = %q", anchored)
	}
}

func TestAccumulatorProposals(t *testing.T) {
	acc := NewAccumulator()
	for i := 0; i < 5; i++ {
		acc.CountDomain("waterford.org")
	}
	for i := 0; i < 30; i++ {
		acc.CountKeyword("recital")
	}
	acc.CountKeyword("rehearsal")
	acc.CountPlatform("ParentSquare")

	acc.ObserveRelay("mail3.waterford.org")
	acc.ObserveRelay("mail7.waterford.org")
	acc.ObserveRelay("bounce.single.net")

	out := acc.BuildOutput()

	if len(out.Proposals.Sources) != 1 || out.Proposals.Sources[0].Confidence != 0.5 {
		t.Errorf("sources = %+v", out.Proposals.Sources)
	}
	if out.Proposals.Keywords[0].Value != "recital" || out.Proposals.Keywords[0].Confidence != 1.0 {
		t.Errorf("keywords = %+v", out.Proposals.Keywords)
	}
	if out.Proposals.Keywords[1].Confidence != 0.05 {
		t.Errorf("single-hit keyword confidence = %v", out.Proposals.Keywords[1].Confidence)
	}
	if out.Proposals.Platforms[0].Confidence != 0.1 {
		t.Errorf("platforms = %+v", out.Proposals.Platforms)
	}

	// Two waterford.org subdomains earn a wildcard; the lone single.net
	// relay does not.
	if len(out.Proposals.WildcardSources) != 1 {
		t.Fatalf("wildcards = %+v", out.Proposals.WildcardSources)
	}
	if out.Proposals.WildcardSources[0].Value != "*.waterford.org" {
		t.Errorf("wildcard = %q", out.Proposals.WildcardSources[0].Value)
	}
}

func TestAssignPersonWholeTokenOnly(t *testing.T) {
	family := []config.FamilyMember{
		{Name: "Sam", Aliases: []string{"Sammy"}},
		{Name: "Maya"},
	}

	if got := AssignPerson("Field trip forms for Sam due Friday", family); got != "Sam" {
		t.Errorf("got %q, want Sam", got)
	}
	if got := AssignPerson("Sammy's practice moved", family); got != "Sam" {
		t.Errorf("alias match failed: %q", got)
	}
	// "Samples" contains "sam" but is not a token match.
	if got := AssignPerson("Samples Night at the science fair", family); got != "" {
		t.Errorf("substring false positive: %q", got)
	}
	if got := AssignPerson("General announcement", family); got != "" {
		t.Errorf("got %q, want empty", got)
	}
}
