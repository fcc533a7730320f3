package bot

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"matrixvpn/entity"
	"matrixvpn/lib/clock"
	"matrixvpn/lib/sl"

	tgbotapi "github.com/PaulSonOfLars/gotgbot/v2"
)

func (t *TgBot) plainResponse(chatId int64, text string) {
	if text == "" {
		t.log.With("id", chatId).Debug("empty message")
		return
	}

	_, err := t.api.SendMessage(chatId, text, &tgbotapi.SendMessageOpts{
		ParseMode: "MarkdownV2",
	})
	if err != nil {
		t.log.With(slog.Int64("id", chatId)).Warn("sending message", sl.Err(err))
		_, err = t.api.SendMessage(chatId, text, &tgbotapi.SendMessageOpts{})
		if err != nil {
			t.log.With(slog.Int64("id", chatId)).Error("sending safe message", sl.Err(err))
		}
	}
}

func Sanitize(input string) string {
	reservedChars := "\\_{}#+-.!|()[]=*"
	sanitized := ""
	for _, char := range input {
		if strings.ContainsRune(reservedChars, char) {
			sanitized += "\\" + string(char)
		} else {
			sanitized += string(char)
		}
	}
	return sanitized
}

// sendWithKeyboard sends a message with an inline keyboard attached.
func (t *TgBot) sendWithKeyboard(chatId int64, text string, keyboard tgbotapi.InlineKeyboardMarkup) {
	if text == "" {
		return
	}
	_, err := t.api.SendMessage(chatId, text, &tgbotapi.SendMessageOpts{
		ParseMode:   "MarkdownV2",
		ReplyMarkup: keyboard,
	})
	if err != nil {
		t.log.With(slog.Int64("id", chatId)).Warn("sending message with keyboard", sl.Err(err))
		// Fallback: try without markdown
		_, err = t.api.SendMessage(chatId, text, &tgbotapi.SendMessageOpts{
			ReplyMarkup: keyboard,
		})
		if err != nil {
			t.log.With(slog.Int64("id", chatId)).Error("sending message with keyboard fallback", sl.Err(err))
		}
	}
}

// notifyUser replaces the user's previous bot-initiated notification with a
// new one: the old message is deleted, the new message id is stored. Keeps
// a user who ignored three reminders from scrolling a wall of stale ones.
func (t *TgBot) notifyUser(user *entity.User, text string) {
	ctx := context.Background()
	// re-read the record: the caller may hold a snapshot from before the
	// previous notification was sent
	if fresh, err := t.db.GetUser(ctx, user.Id); err == nil && fresh != nil {
		user = fresh
	}
	if user.LastNotificationId != 0 {
		_, err := t.api.DeleteMessage(user.Id, user.LastNotificationId, nil)
		if err != nil {
			// too old or already gone, nothing to clean up
			t.log.With(slog.Int64("id", user.Id)).Debug("deleting stale notification", sl.Err(err))
		}
	}

	msg, err := t.api.SendMessage(user.Id, text, &tgbotapi.SendMessageOpts{
		ParseMode: "MarkdownV2",
	})
	if err != nil {
		t.log.With(slog.Int64("id", user.Id)).Warn("sending notification", sl.Err(err))
		msg, err = t.api.SendMessage(user.Id, text, &tgbotapi.SendMessageOpts{})
		if err != nil {
			t.log.With(slog.Int64("id", user.Id)).Error("sending safe notification", sl.Err(err))
			return
		}
	}

	if err = t.db.SetLastNotification(ctx, user.Id, msg.MessageId); err != nil {
		t.log.With(slog.Int64("id", user.Id)).Warn("recording notification id", sl.Err(err))
	}
}

func (t *TgBot) AlertAdmins(msg string) {
	t.plainResponse(t.config.AdminId, msg)
}

// reportError logs the error, notifies the admin with details, and sends a
// neutral message to the user.
func (t *TgBot) reportError(chatId int64, command string, err error) {
	t.log.Error("bot command failed",
		slog.String("command", command),
		slog.Int64("user_id", chatId),
		sl.Err(err),
	)
	t.AlertAdmins(fmt.Sprintf(
		"Command `%s` failed\nUser: `%d`\nError: `%s`",
		Sanitize(command), chatId, Sanitize(err.Error()),
	))
	t.plainResponse(chatId, "Something went wrong\\. Please try again later\\.")
}

// ExpiryNotice tells the user their access has ended and offers the renewal
// paths. Part of the scheduler's Notifier surface.
func (t *TgBot) ExpiryNotice(user *entity.User) {
	text := "Your VPN access has expired\\.\nYou can request access again, redeem a promo code or buy a subscription\\."
	if user.LastNotificationId != 0 {
		_, _ = t.api.DeleteMessage(user.Id, user.LastNotificationId, nil)
		user.LastNotificationId = 0
	}
	msg, err := t.api.SendMessage(user.Id, text, &tgbotapi.SendMessageOpts{
		ParseMode:   "MarkdownV2",
		ReplyMarkup: renewalKeyboard(),
	})
	if err != nil {
		t.log.With(slog.Int64("id", user.Id)).Warn("sending expiry notice", sl.Err(err))
		return
	}
	if err = t.db.SetLastNotification(context.Background(), user.Id, msg.MessageId); err != nil {
		t.log.With(slog.Int64("id", user.Id)).Warn("recording notification id", sl.Err(err))
	}
}

func (t *TgBot) ExpiryAdminAlert(user *entity.User) {
	t.sendWithKeyboard(t.config.AdminId,
		fmt.Sprintf("Access expired: %s", Sanitize(user.DisplayName())),
		regrantKeyboard(user.Id, t.config.PaymentDays))
}

// Reminder warns the user about upcoming expiry. Replaces the previous
// reminder message so only the freshest countdown stays in the chat.
func (t *TgBot) Reminder(user *entity.User, remaining time.Duration) {
	t.notifyUser(user, fmt.Sprintf(
		"Your VPN access expires in %s\\.\nRenew in time to keep your configs working\\.",
		Sanitize(formatRemaining(remaining)),
	))
}

// DeliverBackup sends the snapshot file to the admin chat.
func (t *TgBot) DeliverBackup(path, caption string) {
	data, err := os.ReadFile(path)
	if err != nil {
		t.log.Error("reading backup file", sl.Err(err))
		t.AlertAdmins(fmt.Sprintf("Backup delivery failed: `%s`", Sanitize(err.Error())))
		return
	}
	_, err = t.api.SendDocument(t.config.AdminId,
		tgbotapi.InputFileByReader(filepath.Base(path), bytes.NewReader(data)),
		&tgbotapi.SendDocumentOpts{Caption: "Backup " + caption},
	)
	if err != nil {
		t.log.Error("sending backup", sl.Err(err))
		t.AlertAdmins(fmt.Sprintf("Backup delivery failed: `%s`", Sanitize(err.Error())))
	}
}

// sendDocument delivers an arbitrary file to a chat; used for config files
// and the user export.
func (t *TgBot) sendDocument(chatId int64, name string, data []byte, caption string) error {
	_, err := t.api.SendDocument(chatId,
		tgbotapi.InputFileByReader(name, bytes.NewReader(data)),
		&tgbotapi.SendDocumentOpts{Caption: caption},
	)
	return err
}

func formatRemaining(remaining time.Duration) string {
	days := clock.WholeDays(remaining)
	hours := clock.WholeHours(remaining)
	switch {
	case days > 0:
		return fmt.Sprintf("%dd %dh", days, hours)
	case hours > 0:
		return fmt.Sprintf("%dh", hours)
	default:
		return "less than an hour"
	}
}

func splitMessage(text string, maxLen int) []string {
	if len(text) <= maxLen {
		return []string{text}
	}
	var parts []string
	for len(text) > 0 {
		if len(text) <= maxLen {
			parts = append(parts, text)
			break
		}
		// Try to split at newline
		cutAt := maxLen
		nlIdx := strings.LastIndex(text[:maxLen], "\n")
		if nlIdx > 0 {
			cutAt = nlIdx + 1
		}
		parts = append(parts, text[:cutAt])
		text = text[cutAt:]
	}
	return parts
}
