package bot

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"matrixvpn/entity"

	tgbotapi "github.com/PaulSonOfLars/gotgbot/v2"
	"github.com/PaulSonOfLars/gotgbot/v2/ext"
)

// Callback data is a typed command: a short action tag plus colon-separated
// arguments. Handlers decode it with cbDecode instead of string-matching
// button labels, so button texts can change freely.
const (
	cbRequest = "rq"  // rq: user requests access
	cbTrial   = "tr"  // tr: user activates the trial
	cbBuy     = "buy" // buy: user opens the payment invoice
	cbApprove = "a"   // a:<id>:<days>, admin approves a pending request
	cbDeny    = "d"   // d:<id>, admin denies a pending request
	cbRegrant = "g"   // g:<id>:<days>, admin regrants an expired/denied user
	cbConfig  = "c"   // c:<proto>, user downloads a protocol config
)

type cbCommand struct {
	action string
	args   []string
}

func cbDecode(data string) cbCommand {
	parts := strings.Split(data, ":")
	return cbCommand{action: parts[0], args: parts[1:]}
}

func (c cbCommand) int64Arg(i int) (int64, bool) {
	if i >= len(c.args) {
		return 0, false
	}
	v, err := strconv.ParseInt(c.args[i], 10, 64)
	return v, err == nil
}

func (c cbCommand) intArg(i int) (int, bool) {
	if i >= len(c.args) {
		return 0, false
	}
	v, err := strconv.Atoi(c.args[i])
	return v, err == nil
}

func (t *TgBot) onCallback(b *tgbotapi.Bot, ctx *ext.Context) error {
	cb := ctx.CallbackQuery
	chatId := cb.From.Id
	cmd := cbDecode(cb.Data)

	// acknowledge immediately, the work below may take a provisioning round
	_, _ = cb.Answer(b, nil)

	switch cmd.action {
	case cbRequest:
		t.onRequestAccess(chatId, cb.From.Username)

	case cbTrial:
		t.redeemTrial(chatId, cb.From.Username)

	case cbBuy:
		t.sendInvoice(chatId)

	case cbApprove:
		if !t.isAdmin(chatId) {
			return nil
		}
		id, ok := cmd.int64Arg(0)
		days, ok2 := cmd.intArg(1)
		if !ok || !ok2 {
			t.plainResponse(chatId, "Malformed approve action\\.")
			return nil
		}
		t.approve(chatId, id, days)

	case cbDeny:
		if !t.isAdmin(chatId) {
			return nil
		}
		id, ok := cmd.int64Arg(0)
		if !ok {
			t.plainResponse(chatId, "Malformed deny action\\.")
			return nil
		}
		t.deny(chatId, id)

	case cbRegrant:
		if !t.isAdmin(chatId) {
			return nil
		}
		id, ok := cmd.int64Arg(0)
		days, ok2 := cmd.intArg(1)
		if !ok || !ok2 {
			t.plainResponse(chatId, "Malformed regrant action\\.")
			return nil
		}
		t.regrant(chatId, id, days)

	case cbConfig:
		if len(cmd.args) == 0 {
			return nil
		}
		t.deliverConfig(chatId, cmd.args[0])

	default:
		t.log.With("data", cb.Data).Warn("unknown callback action")
	}
	return nil
}

func (t *TgBot) onRequestAccess(chatId int64, username string) {
	status, err := t.core.RequestAccess(context.Background(), chatId, username)
	if err != nil {
		t.reportError(chatId, "request access", err)
		return
	}

	switch status {
	case entity.StatusPending:
		t.plainResponse(chatId, "Request received\\. You will be notified once it is reviewed\\.")
		t.sendWithKeyboard(t.config.AdminId,
			fmt.Sprintf("Access request from `%d` @%s", chatId, Sanitize(username)),
			reviewKeyboard(chatId, t.config.PaymentDays))
	case entity.StatusAccepted:
		t.plainResponse(chatId, "You already have active access\\. Use /configs to get your files\\.")
	default:
		t.plainResponse(chatId, "Request received\\.")
	}
}

// regrant re-runs the request/approve pair for a user whose access lapsed,
// so the admin can restore them with one tap.
func (t *TgBot) regrant(adminId, userId int64, days int) {
	bg := context.Background()
	user, err := t.core.Status(bg, userId)
	if err != nil {
		t.reportError(adminId, "regrant", err)
		return
	}
	if user == nil {
		t.plainResponse(adminId, fmt.Sprintf("User `%d` not found\\.", userId))
		return
	}
	if user.IsAccepted() {
		t.plainResponse(adminId, fmt.Sprintf("User `%d` already has active access, use /renew\\.", userId))
		return
	}

	// denied/expired reset to pending, then the normal approval applies
	if !user.IsPending() {
		if _, err = t.core.RequestAccess(bg, userId, user.Username); err != nil {
			t.reportError(adminId, "regrant", err)
			return
		}
	}
	t.approve(adminId, userId, days)
}
