package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/seanmckay/hearth/internal/config"
	"github.com/seanmckay/hearth/internal/discovery"
)

func init() {
	rootCmd.AddCommand(scanCmd)
}

var scanCmd = &cobra.Command{
	Use:   "scan [pack-id]",
	Short: "Run one discovery scan and print the proposals",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runScan,
}

func runScan(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	packs := a.packs
	if len(args) == 1 {
		pack := config.FindPack(a.packs, args[0])
		if pack == nil {
			return fmt.Errorf("unknown pack %q", args[0])
		}
		packs = []config.Pack{*pack}
	}

	orchestrator := discovery.NewOrchestrator(a.discovery, a.source, a.classifier, a.exceptions, a.audit, a.cfg)
	for i := range packs {
		session, err := orchestrator.Run(cmd.Context(), &packs[i])
		if err != nil {
			return err
		}
		// Re-read for the distilled output column.
		session, err = a.discovery.GetSession(session.ID)
		if err != nil {
			return err
		}
		fmt.Printf("session %s (%s): scanned %d\n", session.ID, session.Status, session.EmailsScanned)
		if len(session.Output) > 0 {
			out, err := json.MarshalIndent(session.Output, "", "  ")
			if err == nil {
				fmt.Println(string(out))
			}
		}
	}
	return nil
}
