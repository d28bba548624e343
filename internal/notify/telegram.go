// Package notify delivers approval requests to the family. Telegram is
// the one production provider; the engine only sees the Notifier
// interface and runs fine with notifications disabled.
package notify

import (
	"context"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/seanmckay/hearth/internal/config"
	"github.com/seanmckay/hearth/internal/database"
	"github.com/seanmckay/hearth/internal/util"
)

// TelegramNotifier sends each pending operation to the configured chat
// with one-tap approve/reject links carrying the single-use token.
type TelegramNotifier struct {
	bot     *tgbotapi.BotAPI
	chatID  int64
	baseURL string
}

func NewTelegramNotifier(cfg config.TelegramConfig, baseURL string) (*TelegramNotifier, error) {
	bot, err := tgbotapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}
	return &TelegramNotifier{
		bot:     bot,
		chatID:  cfg.ChatID,
		baseURL: strings.TrimRight(baseURL, "/"),
	}, nil
}

func (n *TelegramNotifier) NotifyApproval(ctx context.Context, event *database.PersistedEvent, op *database.CalendarOperation, token string) error {
	msg := tgbotapi.NewMessage(n.chatID, n.renderApproval(event, op))
	msg.DisableWebPagePreview = true
	msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonURL("Approve",
				fmt.Sprintf("%s/approve/%s", n.baseURL, token)),
			tgbotapi.NewInlineKeyboardButtonURL("Reject",
				fmt.Sprintf("%s/reject/%s", n.baseURL, token)),
		),
	)

	if _, err := n.bot.Send(msg); err != nil {
		return fmt.Errorf("failed to send telegram notification: %w", err)
	}
	util.Debug("approval notification sent", "operation_id", op.ID)
	return nil
}

func (n *TelegramNotifier) renderApproval(event *database.PersistedEvent, op *database.CalendarOperation) string {
	var sb strings.Builder
	switch op.Type {
	case database.OpTypeUpdate:
		sb.WriteString("Calendar update pending approval\n\n")
	default:
		sb.WriteString("New calendar event pending approval\n\n")
	}

	intent := op.Intent
	sb.WriteString(intent.Title)
	sb.WriteString("\n")
	if intent.AllDay {
		sb.WriteString(intent.Start.Format("Mon Jan 2, 2006"))
		sb.WriteString(" (all day)\n")
	} else {
		sb.WriteString(intent.Start.Format("Mon Jan 2, 2006 3:04 PM"))
		sb.WriteString("\n")
	}
	if intent.Location != "" {
		sb.WriteString(intent.Location)
		sb.WriteString("\n")
	}
	fmt.Fprintf(&sb, "\nConfidence %.0f%%", event.Confidence*100)
	if op.Reason != "" {
		sb.WriteString("\n")
		sb.WriteString(op.Reason)
	}
	return sb.String()
}
