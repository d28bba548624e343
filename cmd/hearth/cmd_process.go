package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/seanmckay/hearth/internal/database"
	"github.com/seanmckay/hearth/internal/workers"
)

func init() {
	rootCmd.AddCommand(processCmd)
	rootCmd.AddCommand(reconcileCmd)
}

var processCmd = &cobra.Command{
	Use:   "process",
	Short: "Run one production pipeline pass over all packs",
	RunE:  runProcess,
}

func runProcess(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	processor := workers.NewProcessor(a.engine, a.source, a.packs, a.cfg)
	return processor.Run(cmd.Context())
}

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Compare placed events against the calendar and handle drift",
	RunE:  runReconcile,
}

func runReconcile(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	var drifted, checked int
	for _, status := range []string{database.EventCreated, database.EventUpdated} {
		placed, err := a.events.ListByStatus(status, 1000)
		if err != nil {
			return err
		}
		for _, event := range placed {
			if !event.CalendarEventID.Valid {
				continue
			}
			report, err := a.engine.ReconcileEvent(cmd.Context(), event)
			if err != nil {
				return err
			}
			checked++
			if report == nil {
				continue
			}
			drifted++
			if report.Deleted {
				fmt.Printf("%s %q: deleted from the calendar\n", event.ID, event.Intent.Title)
				continue
			}
			for _, diff := range report.Diffs {
				fmt.Printf("%s %q: %s changed (%q -> %q)\n",
					event.ID, event.Intent.Title, diff.Field, diff.Stored, diff.Remote)
			}
		}
	}
	fmt.Printf("checked %d events, %d drifted\n", checked, drifted)
	return nil
}
