// Package telegram delivers heavy-rainfall warnings to a Telegram chat.
package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/couchcryptid/storm-nowcast-service/internal/domain"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Notifier implements warning.Notifier with the Telegram Bot API.
type Notifier struct {
	bot        *tgbotapi.BotAPI
	chatID     int64
	maxRetries int
	retryDelay time.Duration
	logger     *slog.Logger
}

// NewNotifier authenticates the bot token and returns a notifier for chatID.
func NewNotifier(token string, chatID int64, logger *slog.Logger) (*Notifier, error) {
	return newNotifier(token, tgbotapi.APIEndpoint, chatID, &http.Client{Timeout: 15 * time.Second}, logger)
}

func newNotifier(token, endpoint string, chatID int64, client tgbotapi.HTTPClient, logger *slog.Logger) (*Notifier, error) {
	bot, err := tgbotapi.NewBotAPIWithClient(token, endpoint, client)
	if err != nil {
		return nil, fmt.Errorf("failed to create Telegram bot: %w", err)
	}
	logger.Info("telegram notifier ready", "bot", bot.Self.UserName, "chat_id", chatID)
	return &Notifier{
		bot:        bot,
		chatID:     chatID,
		maxRetries: 3,
		retryDelay: time.Second,
		logger:     logger,
	}, nil
}

// Dispatch sends the warning text, retrying with a linear backoff until ctx
// expires or the attempts are used up.
func (n *Notifier) Dispatch(ctx context.Context, w domain.WarningRecord) error {
	msg := tgbotapi.NewMessage(n.chatID, formatMessage(w))

	var lastErr error
	for i := 0; i < n.maxRetries; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return fmt.Errorf("send warning %s: %w (last error: %v)", w.ID, ctx.Err(), lastErr)
			case <-time.After(n.retryDelay * time.Duration(i)):
			}
		}
		if _, err := n.send(ctx, msg); err != nil {
			lastErr = err
			n.logger.Debug("telegram send failed", "warning_id", w.ID, "attempt", i+1, "error", err)
			continue
		}
		return nil
	}
	return fmt.Errorf("send warning %s after %d attempts: %w", w.ID, n.maxRetries, lastErr)
}

// send runs the blocking bot call and returns early when ctx is done.
func (n *Notifier) send(ctx context.Context, msg tgbotapi.MessageConfig) (tgbotapi.Message, error) {
	type result struct {
		msg tgbotapi.Message
		err error
	}
	ch := make(chan result, 1)
	go func() {
		m, err := n.bot.Send(msg)
		ch <- result{msg: m, err: err}
	}()
	select {
	case <-ctx.Done():
		return tgbotapi.Message{}, ctx.Err()
	case r := <-ch:
		return r.msg, r.err
	}
}

func formatMessage(w domain.WarningRecord) string {
	var b strings.Builder
	b.WriteString("HEAVY RAINFALL WARNING\n\n")
	b.WriteString(w.Message)
	if w.PlaceName != "" {
		fmt.Fprintf(&b, "\nLocation: %s", w.PlaceName)
	}
	fmt.Fprintf(&b, "\nIssued: %s UTC", w.IssuedAt.UTC().Format(time.DateTime))
	return b.String()
}
