package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/seanmckay/hearth/internal/engine"
	"github.com/seanmckay/hearth/internal/util"
)

func init() {
	rootCmd.AddCommand(approveCmd)
	rootCmd.AddCommand(rejectCmd)
	rootCmd.AddCommand(pendingCmd)
}

var approveCmd = &cobra.Command{
	Use:   "approve <token>",
	Short: "Approve a queued calendar operation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()
		return printResult(a.engine.ApproveAndExecute(cmd.Context(), args[0]))
	},
}

var rejectCmd = &cobra.Command{
	Use:   "reject <token> [reason...]",
	Short: "Reject a queued calendar operation",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()
		reason := strings.Join(args[1:], " ")
		return printResult(a.engine.Reject(cmd.Context(), args[0], reason))
	},
}

func printResult(res engine.Result) error {
	fmt.Println(res.Message)
	if !res.Success {
		if res.Err != nil {
			util.Debug("approval flow failure", "error", res.Err)
		}
		return fmt.Errorf("operation not completed")
	}
	return nil
}

var pendingCmd = &cobra.Command{
	Use:   "pending",
	Short: "List operations waiting on approval",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		ops, err := a.events.ListPendingOperations(100)
		if err != nil {
			return err
		}
		if len(ops) == 0 {
			fmt.Println("nothing pending")
			return nil
		}
		for _, op := range ops {
			when := op.Intent.Start.Format("Mon Jan 2 15:04")
			if op.Intent.AllDay {
				when = op.Intent.Start.Format("Mon Jan 2")
			}
			fmt.Printf("%s  %-6s  %s  %q", op.ID, op.Type, when, op.Intent.Title)
			if op.Reason != "" {
				fmt.Printf("  (%s)", op.Reason)
			}
			fmt.Println()
		}
		return nil
	},
}
