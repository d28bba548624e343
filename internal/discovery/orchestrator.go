package discovery

import (
	"context"
	"errors"
	"fmt"
	netmail "net/mail"
	"strings"
	"time"

	"github.com/seanmckay/hearth/internal/classify"
	"github.com/seanmckay/hearth/internal/config"
	"github.com/seanmckay/hearth/internal/database"
	"github.com/seanmckay/hearth/internal/exceptions"
	"github.com/seanmckay/hearth/internal/mail"
	"github.com/seanmckay/hearth/internal/relevance"
	"github.com/seanmckay/hearth/internal/util"
)

// Auditor receives scan lifecycle entries. Nil disables auditing.
type Auditor interface {
	Record(eventType, subjectID, actor string, details any)
}

// Orchestrator drives one discovery scan: list candidates, score each,
// classify each, capture evidence and review items, and distill the run
// into ranked config proposals. It reads mail and writes its own tables;
// calendar state is never touched from here.
type Orchestrator struct {
	repo       *Repository
	source     mail.Source
	classifier classify.Classifier // nil when not configured
	exceptions *exceptions.Repository
	audit      Auditor // nil when not configured
	cfg        *config.Config
}

func NewOrchestrator(repo *Repository, source mail.Source, classifier classify.Classifier, exc *exceptions.Repository, audit Auditor, cfg *config.Config) *Orchestrator {
	return &Orchestrator{
		repo:       repo,
		source:     source,
		classifier: classifier,
		exceptions: exc,
		audit:      audit,
		cfg:        cfg,
	}
}

// Run executes a full scan for one pack. Per-candidate failures are
// recorded and skipped; only a failure of the initial listing call fails
// the session, and even then the session row persists as failed.
func (o *Orchestrator) Run(ctx context.Context, pack *config.Pack) (*database.DiscoverySession, error) {
	session, err := o.repo.CreateSession(pack.ID)
	if err != nil {
		return nil, err
	}
	util.Info("discovery scan started", "session_id", session.ID, "pack_id", pack.ID)
	o.record(database.AuditScanStarted, session.ID, map[string]string{"pack_id": pack.ID})

	query := BuildQuery(pack, o.cfg.Pipeline.LookbackDays)
	ids, err := o.source.ListMessageIDs(ctx, query, o.cfg.Pipeline.MaxCandidates)
	if err != nil {
		if finErr := o.repo.FinalizeSession(session.ID, database.SessionFailed, 0, nil); finErr != nil {
			util.Error("failed to finalize failed session", "session_id", session.ID, "error", finErr)
		}
		o.record(database.AuditScanFailed, session.ID, map[string]string{"error": err.Error()})
		return session, fmt.Errorf("discovery listing failed: %w", err)
	}

	scorer := relevance.NewScorer(relevance.BuildRules(pack))
	acc := NewAccumulator()

	// Sequential, in listing order. One slow candidate costs its timeout
	// and nothing more.
	for _, id := range ids {
		o.processCandidate(ctx, session, pack, scorer, acc, id)
	}

	output := acc.BuildOutput()
	if err := o.repo.FinalizeSession(session.ID, database.SessionCompleted, acc.EmailsScanned, output); err != nil {
		return session, err
	}
	session.Status = database.SessionCompleted
	session.EmailsScanned = acc.EmailsScanned

	util.Info("discovery scan completed",
		"session_id", session.ID,
		"scanned", acc.EmailsScanned,
		"relevant", acc.Relevant,
		"flagged", acc.Flagged,
		"failures", acc.Failures)
	o.record(database.AuditScanCompleted, session.ID, map[string]int{
		"scanned": acc.EmailsScanned,
		"flagged": acc.Flagged,
	})
	return session, nil
}

func (o *Orchestrator) record(eventType, sessionID string, details any) {
	if o.audit != nil {
		o.audit.Record(eventType, sessionID, "discovery", details)
	}
}

func (o *Orchestrator) processCandidate(ctx context.Context, session *database.DiscoverySession, pack *config.Pack, scorer *relevance.Scorer, acc *Accumulator, messageID string) {
	itemCtx, cancel := context.WithTimeout(ctx, o.cfg.Pipeline.ItemTimeout)
	defer cancel()

	err := o.scanOne(itemCtx, session, pack, scorer, acc, messageID)
	if err == nil {
		return
	}

	acc.Failures++
	excType := database.ExcAPIError
	if errors.Is(err, context.DeadlineExceeded) {
		// Timeouts are logged apart from errors so a hung upstream is
		// distinguishable from a failing one.
		acc.Timeouts++
		util.Warn("discovery candidate timed out", "session_id", session.ID, "message_id", messageID)
	} else {
		util.Warn("discovery candidate failed", "session_id", session.ID, "message_id", messageID, "error", err)
	}
	if recErr := o.exceptions.Record(excType, database.SeverityWarning, err.Error(), map[string]string{
		"session_id": session.ID,
		"message_id": messageID,
		"pack_id":    pack.ID,
	}); recErr != nil {
		util.Error("failed to record exception", "error", recErr)
	}
}

func (o *Orchestrator) scanOne(ctx context.Context, session *database.DiscoverySession, pack *config.Pack, scorer *relevance.Scorer, acc *Accumulator, messageID string) error {
	msg, err := o.source.GetMessage(ctx, messageID)
	if err != nil {
		return err
	}
	if msg == nil {
		// Deleted between list and fetch.
		return nil
	}
	acc.EmailsScanned++

	result := scorer.Score(relevance.Email{
		Sender:      msg.Sender,
		DisplayName: msg.DisplayName,
		Subject:     msg.Subject,
		Body:        msg.Body,
		HasICS:      msg.HasICS(),
	})

	// The classifier runs independently of the relevance score: either
	// model can flag the message (union of the two).
	cls := o.classify(ctx, msg)

	if result.Relevant {
		acc.Relevant++
		acc.CountDomain(relevance.SenderDomain(msg.Sender))
		for _, m := range result.Matches {
			switch m.Kind {
			case relevance.KindKeyword:
				acc.CountKeyword(m.Value)
			case relevance.KindPlatform:
				acc.CountPlatform(m.Value)
			}
		}
		if result.RelayDomain != "" {
			acc.ObserveRelay(result.RelayDomain)
		}
	}

	if !result.Relevant && !worthSurfacing(cls) {
		return nil
	}
	acc.Flagged++

	ruleIDs := make([]string, 0, len(result.Matches))
	for _, m := range result.Matches {
		ruleIDs = append(ruleIDs, m.RuleID)
	}
	if err := o.repo.AddEvidence(&database.Evidence{
		SessionID:    session.ID,
		MessageID:    msg.ID,
		Subject:      msg.Subject,
		Sender:       msg.Sender,
		Date:         messageDate(msg),
		Snippet:      msg.Snippet,
		Score:        result.Score,
		MatchedRules: ruleIDs,
	}); err != nil {
		return err
	}

	item := &database.QueueItem{
		SessionID:  session.ID,
		MessageID:  msg.ID,
		Category:   cls.Category,
		ItemType:   cls.ItemType,
		Confidence: cls.Confidence,
	}
	if person := AssignPerson(msg.Subject+" "+msg.Body, o.cfg.Family); person != "" {
		item.Person.String, item.Person.Valid = person, true
	}
	if cls.ObligationDate != "" {
		item.ObligationDate.String, item.ObligationDate.Valid = cls.ObligationDate, true
	}
	if cls.Reasoning != "" {
		item.Reasoning.String, item.Reasoning.Valid = cls.Reasoning, true
	}
	return o.repo.AddQueueItem(item)
}

// classify wraps the AI collaborator with the neutral fallback: when it
// is absent, errors, or times out, the item proceeds as an announcement
// at confidence 0.5.
func (o *Orchestrator) classify(ctx context.Context, msg *mail.Message) *classify.Result {
	if o.classifier == nil {
		return classify.Neutral()
	}
	result, err := o.classifier.Classify(ctx, msg.Subject, msg.Sender, msg.Body)
	if err != nil {
		util.Warn("classifier failed, using neutral fallback", "message_id", msg.ID, "error", err)
		return classify.Neutral()
	}
	return result
}

// worthSurfacing is the classifier's should-save heuristic: obligations
// always surface, and a confident non-neutral categorization does too.
func worthSurfacing(cls *classify.Result) bool {
	if cls.ItemType == database.ItemTypeObligation {
		return true
	}
	return cls.Category != "" && cls.Confidence >= 0.75
}

// BuildQuery assembles the mail search. Targeted mode anchors on the
// configured source domains; with no sources yet, anchored mode falls
// back to the pack's keywords alone.
func BuildQuery(pack *config.Pack, lookbackDays int) string {
	var terms []string
	if len(pack.SourceDomains) > 0 {
		froms := make([]string, 0, len(pack.SourceDomains))
		for _, domain := range pack.SourceDomains {
			// Gmail search has no glob syntax; a cleaned base term still
			// narrows the candidate set, and the scorer re-checks anyway.
			cleaned := strings.Trim(strings.ReplaceAll(domain, "*", ""), ".")
			if cleaned != "" {
				froms = append(froms, cleaned)
			}
		}
		if len(froms) > 0 {
			terms = append(terms, "from:("+strings.Join(froms, " OR ")+")")
		}
	} else if kws := pack.AllKeywords(); len(kws) > 0 {
		quoted := make([]string, 0, len(kws))
		for _, kw := range kws {
			quoted = append(quoted, `"`+kw+`"`)
		}
		terms = append(terms, "("+strings.Join(quoted, " OR ")+")")
	}

	if lookbackDays > 0 {
		terms = append(terms, fmt.Sprintf("newer_than:%dd", lookbackDays))
	}
	return strings.Join(terms, " ")
}

func messageDate(msg *mail.Message) time.Time {
	if t, err := netmail.ParseDate(msg.Date); err == nil {
		return t
	}
	return time.Now()
}

// ObligationIntent converts an approved queue item into a calendar
// intent for the production pipeline: an all-day event on the obligation
// date.
func ObligationIntent(item *database.QueueItem, subject string) (*database.EventIntent, error) {
	if !item.ObligationDate.Valid {
		return nil, fmt.Errorf("queue item %s has no obligation date", item.ID)
	}
	day, err := time.Parse("2006-01-02", item.ObligationDate.String)
	if err != nil {
		return nil, fmt.Errorf("bad obligation date %q: %w", item.ObligationDate.String, err)
	}
	return &database.EventIntent{
		Title:  subject,
		Start:  day,
		End:    day.Add(24 * time.Hour),
		AllDay: true,
	}, nil
}
