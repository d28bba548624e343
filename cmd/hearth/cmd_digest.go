package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/seanmckay/hearth/internal/database"
	"github.com/seanmckay/hearth/internal/digest"
)

func init() {
	digestCmd.Flags().IntVar(&digestDays, "days", 7, "period to summarize")
	rootCmd.AddCommand(digestCmd)
}

var digestDays int

var digestCmd = &cobra.Command{
	Use:   "digest",
	Short: "Print a plain-text summary of recent activity",
	RunE:  runDigest,
}

func runDigest(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	from := time.Now().AddDate(0, 0, -digestDays)
	d := &digest.Digest{From: from, To: time.Now()}

	for _, status := range []string{database.EventCreated, database.EventUpdated} {
		placed, err := a.events.ListByStatus(status, 500)
		if err != nil {
			return err
		}
		for _, event := range placed {
			if event.CreatedAt.Before(from) {
				continue
			}
			op, err := a.events.FindOperationForEvent(event.Fingerprint)
			if err != nil {
				return err
			}
			d.Items = append(d.Items, digest.NewEventItem(digest.EventItem{
				Title:      event.Intent.Title,
				Start:      event.Intent.Start,
				AllDay:     event.Intent.AllDay,
				Location:   event.Intent.Location,
				AutoPlaced: op != nil && !op.RequiresApproval,
			}))
		}
	}

	pending, err := a.discovery.ListQueueItems(database.QueueItemPending, 500)
	if err != nil {
		return err
	}
	for _, item := range pending {
		d.Items = append(d.Items, digest.NewDeferredItem(digest.DeferredItem{
			Subject:    item.MessageID,
			Category:   item.Category,
			Confidence: item.Confidence,
		}))
	}

	dismissed, err := a.discovery.ListQueueItems(database.QueueItemDismissed, 500)
	if err != nil {
		return err
	}
	for _, item := range dismissed {
		if item.CreatedAt.Before(from) {
			continue
		}
		reason := "dismissed in review"
		if item.Reasoning.Valid {
			reason = item.Reasoning.String
		}
		d.Items = append(d.Items, digest.NewDismissedItem(digest.DismissedItem{
			Subject: item.MessageID,
			Reason:  reason,
		}))
	}

	fmt.Print(d.Render())
	return nil
}
