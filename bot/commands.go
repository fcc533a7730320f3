package bot

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"matrixvpn/entity"
	"matrixvpn/lib/clock"

	tgbotapi "github.com/PaulSonOfLars/gotgbot/v2"
	"github.com/PaulSonOfLars/gotgbot/v2/ext"
)

func (t *TgBot) start(_ *tgbotapi.Bot, ctx *ext.Context) error {
	chatId := ctx.EffectiveUser.Id
	user, err := t.core.Status(context.Background(), chatId)
	if err != nil {
		t.reportError(chatId, "/start", err)
		return nil
	}

	// Known user: show their menu instead of re-requesting
	if user != nil {
		switch user.Status {
		case entity.StatusAccepted:
			t.sendWithKeyboard(chatId, t.statusText(user), activeKeyboard(t.configs.Protocols()))
			return nil
		case entity.StatusPending:
			t.plainResponse(chatId, "Your request is awaiting review\\. You will be notified once it is processed\\.")
			return nil
		case entity.StatusDenied, entity.StatusExpired:
			t.sendWithKeyboard(chatId, t.statusText(user), renewalKeyboard())
			return nil
		}
	}

	text := fmt.Sprintf(
		"Welcome to MatrixVPN\\!\n\nTap the button below to request access, or start a free %d\\-day trial right away\\.",
		t.config.TrialDays,
	)
	t.sendWithKeyboard(chatId, text, welcomeKeyboard())
	return nil
}

func (t *TgBot) status(_ *tgbotapi.Bot, ctx *ext.Context) error {
	chatId := ctx.EffectiveUser.Id
	user, err := t.core.Status(context.Background(), chatId)
	if err != nil {
		t.reportError(chatId, "/status", err)
		return nil
	}
	if user == nil {
		t.plainResponse(chatId, "You have no account yet\\. Use /start to request access\\.")
		return nil
	}

	switch user.Status {
	case entity.StatusAccepted:
		t.sendWithKeyboard(chatId, t.statusText(user), activeKeyboard(t.configs.Protocols()))
	case entity.StatusDenied, entity.StatusExpired:
		t.sendWithKeyboard(chatId, t.statusText(user), renewalKeyboard())
	default:
		t.plainResponse(chatId, t.statusText(user))
	}
	return nil
}

func (t *TgBot) statusText(user *entity.User) string {
	switch user.Status {
	case entity.StatusPending:
		return "Status: *pending*\nYour request is awaiting review\\."
	case entity.StatusDenied:
		return "Status: *denied*\nYour request was declined\\. You can submit a new one\\."
	case entity.StatusExpired:
		return "Status: *expired*\nYour access has ended\\. Renew to get your configs working again\\."
	case entity.StatusAccepted:
		end := "unknown"
		remaining := ""
		if user.EndAt != nil {
			end = clock.Format(*user.EndAt)
			remaining = fmt.Sprintf("\nRemaining: %s", Sanitize(formatRemaining(user.Remaining(time.Now()))))
		}
		return fmt.Sprintf("Status: *active*\nValid until: `%s`%s", Sanitize(end), remaining)
	default:
		return fmt.Sprintf("Status: %s", Sanitize(string(user.Status)))
	}
}

func (t *TgBot) trial(_ *tgbotapi.Bot, ctx *ext.Context) error {
	t.redeemTrial(ctx.EffectiveUser.Id, ctx.EffectiveUser.Username)
	return nil
}

// redeemTrial is shared by the /trial command and the trial callback button.
// An unknown user is registered first so the trial can attach to a record.
func (t *TgBot) redeemTrial(chatId int64, username string) {
	bg := context.Background()
	user, err := t.core.Status(bg, chatId)
	if err != nil {
		t.reportError(chatId, "/trial", err)
		return
	}
	if user == nil {
		if _, err = t.core.RequestAccess(bg, chatId, username); err != nil {
			t.reportError(chatId, "/trial", err)
			return
		}
	}

	err = t.core.RedeemTrial(bg, chatId)
	switch {
	case err == nil:
		t.sendWithKeyboard(chatId,
			fmt.Sprintf("Trial activated for %d days\\! Pick a protocol to download your config\\.", t.config.TrialDays),
			configKeyboard(t.configs.Protocols()))
		t.AlertAdmins(fmt.Sprintf("Trial activated: `%d`", chatId))
	case errors.Is(err, entity.ErrTrialUsed):
		t.plainResponse(chatId, "You have already used your free trial\\.")
	default:
		var vErr *entity.ValidationError
		if errors.As(err, &vErr) {
			t.plainResponse(chatId, Sanitize(vErr.Msg))
			return
		}
		t.reportError(chatId, "/trial", err)
	}
}

func (t *TgBot) promo(_ *tgbotapi.Bot, ctx *ext.Context) error {
	chatId := ctx.EffectiveUser.Id
	args := strings.Fields(ctx.EffectiveMessage.Text)
	if len(args) < 2 {
		t.plainResponse(chatId, "Usage: `/promo CODE`")
		return nil
	}
	code := args[1]

	bg := context.Background()
	user, err := t.core.Status(bg, chatId)
	if err != nil {
		t.reportError(chatId, "/promo", err)
		return nil
	}
	if user == nil {
		if _, err = t.core.RequestAccess(bg, chatId, ctx.EffectiveUser.Username); err != nil {
			t.reportError(chatId, "/promo", err)
			return nil
		}
	}

	err = t.core.RedeemPromo(bg, chatId, code)
	switch {
	case err == nil:
		t.sendWithKeyboard(chatId,
			"Promo code accepted\\! Pick a protocol to download your config\\.",
			configKeyboard(t.configs.Protocols()))
		t.AlertAdmins(fmt.Sprintf("Promo `%s` redeemed by `%d`", Sanitize(code), chatId))
	case errors.Is(err, entity.ErrPromoInvalid):
		t.plainResponse(chatId, "This promo code is invalid or has run out\\.")
	default:
		var vErr *entity.ValidationError
		if errors.As(err, &vErr) {
			t.plainResponse(chatId, Sanitize(vErr.Msg))
			return nil
		}
		t.reportError(chatId, "/promo", err)
	}
	return nil
}

func (t *TgBot) configsCmd(_ *tgbotapi.Bot, ctx *ext.Context) error {
	chatId := ctx.EffectiveUser.Id
	user, err := t.core.Status(context.Background(), chatId)
	if err != nil {
		t.reportError(chatId, "/configs", err)
		return nil
	}
	if user == nil || !user.IsAccepted() {
		t.plainResponse(chatId, "Config files are available with active access only\\. Use /status to check yours\\.")
		return nil
	}
	t.sendWithKeyboard(chatId, "Pick a protocol:", configKeyboard(t.configs.Protocols()))
	return nil
}

// deliverConfig finds the client's config file for the chosen protocol and
// sends it as a document.
func (t *TgBot) deliverConfig(chatId int64, protoCode string) {
	user, err := t.core.Status(context.Background(), chatId)
	if err != nil {
		t.reportError(chatId, "config delivery", err)
		return
	}
	if user == nil || !user.IsAccepted() {
		t.plainResponse(chatId, "Config files are available with active access only\\.")
		return
	}

	proto, ok := entity.ProtocolByCode(protoCode)
	if !ok {
		t.plainResponse(chatId, "Unknown protocol\\.")
		return
	}

	dir := t.configs.ClientDir(chatId)
	path := filepath.Join(dir, proto.Code+proto.FileExt)
	data, err := os.ReadFile(path)
	if err != nil {
		t.reportError(chatId, "config delivery", fmt.Errorf("reading %s: %w", path, err))
		return
	}

	name := fmt.Sprintf("%s-%s%s", proto.Code, clientFileStamp(), proto.FileExt)
	if err = t.sendDocument(chatId, name, data, proto.Name+" config"); err != nil {
		t.reportError(chatId, "config delivery", err)
	}
}

func clientFileStamp() string {
	return time.Now().UTC().Format("20060102")
}

func (t *TgBot) help(_ *tgbotapi.Bot, ctx *ext.Context) error {
	chatId := ctx.EffectiveUser.Id
	text := "Available commands:\n" +
		"/start \\- request access or show your menu\n" +
		"/status \\- show your subscription status\n" +
		"/trial \\- activate the free trial\n" +
		"/promo CODE \\- redeem a promo code\n" +
		"/configs \\- get your VPN config files\n" +
		"/buy \\- buy a subscription"
	if t.isAdmin(chatId) {
		text += "\n\nAdmin commands:\n" +
			"/requests \\- list pending requests\n" +
			"/approve ID DAYS \\- approve a request\n" +
			"/deny ID \\- deny a request\n" +
			"/renew ID \\[\\+\\]DAYS \\- renew access \\(\\+ extends from current end\\)\n" +
			"/delete ID \\- remove a user\n" +
			"/users \\- export the user list\n" +
			"/broadcast TEXT \\- message all active users\n" +
			"/addpromo \\[CODE\\] DAYS USES \\- create a promo code\n" +
			"/promos \\- list promo codes\n" +
			"/delpromo CODE \\- delete a promo code"
	}
	t.plainResponse(chatId, text)
	return nil
}
