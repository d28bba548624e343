// Package workers provides the background loops: the scheduled
// production pipeline, discovery scans, and data retention.
package workers

import (
	"context"
	"errors"

	"github.com/seanmckay/hearth/internal/config"
	"github.com/seanmckay/hearth/internal/discovery"
	"github.com/seanmckay/hearth/internal/engine"
	"github.com/seanmckay/hearth/internal/mail"
	"github.com/seanmckay/hearth/internal/relevance"
	"github.com/seanmckay/hearth/internal/util"
)

// Processor is the production pipeline driver: for each configured pack
// it lists recent mail, scores relevance, and feeds relevant messages to
// the engine. Already-processed messages are skipped inside the engine,
// so repeated runs over the same window are cheap.
type Processor struct {
	engine *engine.Engine
	source mail.Source
	packs  []config.Pack
	cfg    *config.Config
}

func NewProcessor(eng *engine.Engine, source mail.Source, packs []config.Pack, cfg *config.Config) *Processor {
	return &Processor{engine: eng, source: source, packs: packs, cfg: cfg}
}

// Run processes one pass over every pack. Per-pack and per-message
// failures are logged and skipped; Run only returns an error when the
// context is cancelled.
func (p *Processor) Run(ctx context.Context) error {
	for i := range p.packs {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		p.runPack(ctx, &p.packs[i])
	}
	return nil
}

func (p *Processor) runPack(ctx context.Context, pack *config.Pack) {
	query := discovery.BuildQuery(pack, p.cfg.Pipeline.LookbackDays)
	ids, err := p.source.ListMessageIDs(ctx, query, p.cfg.Pipeline.MaxCandidates)
	if err != nil {
		util.Error("pipeline listing failed", "pack_id", pack.ID, "error", err)
		return
	}

	scorer := relevance.NewScorer(relevance.BuildRules(pack))
	var processed, created int
	for _, id := range ids {
		if ctx.Err() != nil {
			return
		}
		n, err := p.processOne(ctx, pack, scorer, id)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			util.Warn("pipeline message failed", "pack_id", pack.ID, "message_id", id, "error", err)
			continue
		}
		processed++
		created += n
	}
	util.Info("pipeline pass finished",
		"pack_id", pack.ID,
		"candidates", len(ids),
		"processed", processed,
		"events_created", created)
}

func (p *Processor) processOne(ctx context.Context, pack *config.Pack, scorer *relevance.Scorer, messageID string) (int, error) {
	itemCtx, cancel := context.WithTimeout(ctx, p.cfg.Pipeline.ItemTimeout)
	defer cancel()

	msg, err := p.source.GetMessage(itemCtx, messageID)
	if err != nil {
		return 0, err
	}
	if msg == nil {
		return 0, nil
	}

	result := scorer.Score(relevance.Email{
		Sender:      msg.Sender,
		DisplayName: msg.DisplayName,
		Subject:     msg.Subject,
		Body:        msg.Body,
		HasICS:      msg.HasICS(),
	})
	if !result.Relevant {
		return 0, nil
	}
	return p.engine.ProcessMessage(itemCtx, pack.ID, msg, result.Score)
}
