package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/seanmckay/hearth/internal/api"
	"github.com/seanmckay/hearth/internal/discovery"
	"github.com/seanmckay/hearth/internal/util"
	"github.com/seanmckay/hearth/internal/workers"
)

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the daemon: HTTP surface, scheduled pipeline, discovery scans, retention",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	server := api.New(a.cfg, a.engine, a.events, a.discovery, a.exceptions, a.audit, a.oauth)
	processor := workers.NewProcessor(a.engine, a.source, a.packs, a.cfg)
	orchestrator := discovery.NewOrchestrator(a.discovery, a.source, a.classifier, a.exceptions, a.audit, a.cfg)
	cleanup := workers.NewCleanupWorker(a.db, a.tokens, a.exceptions, a.discovery, a.audit, &a.cfg.Retention)

	scheduler := workers.NewScheduler(&a.cfg.Scheduler)
	scanAll := func(ctx context.Context) error {
		for i := range a.packs {
			if _, err := orchestrator.Run(ctx, &a.packs[i]); err != nil {
				util.Error("discovery scan failed", "pack_id", a.packs[i].ID, "error", err)
			}
		}
		return nil
	}
	if err := scheduler.Register(ctx, processor.Run, scanAll); err != nil {
		return err
	}

	if !a.oauth.HasToken(ctx) {
		util.Warn("no google credentials yet, visit /oauth/start to connect")
	}
	util.Info("hearth starting",
		"mode", a.cfg.Pipeline.Mode,
		"packs", len(a.packs),
		"addr", a.cfg.Server.BaseURL)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return server.Run(ctx) })
	g.Go(func() error { return scheduler.Run(ctx) })
	g.Go(func() error {
		cleanup.Start(ctx)
		return nil
	})
	return g.Wait()
}
