package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"matrixvpn/entity"
	"matrixvpn/lib/clock"

	"github.com/google/uuid"

	tgbotapi "github.com/PaulSonOfLars/gotgbot/v2"
	"github.com/PaulSonOfLars/gotgbot/v2/ext"
)

const maxMessageLen = 4000

func (t *TgBot) requests(_ *tgbotapi.Bot, ctx *ext.Context) error {
	chatId := ctx.EffectiveUser.Id
	if !t.isAdmin(chatId) {
		return nil
	}

	users, err := t.core.ListByStatus(context.Background(), entity.StatusPending)
	if err != nil {
		t.reportError(chatId, "/requests", err)
		return nil
	}
	if len(users) == 0 {
		t.plainResponse(chatId, "No pending requests\\.")
		return nil
	}

	for _, user := range users {
		text := fmt.Sprintf("Access request from %s", Sanitize(user.DisplayName()))
		t.sendWithKeyboard(chatId, text, reviewKeyboard(user.Id, t.config.PaymentDays))
	}
	return nil
}

func (t *TgBot) approveCmd(_ *tgbotapi.Bot, ctx *ext.Context) error {
	chatId := ctx.EffectiveUser.Id
	if !t.isAdmin(chatId) {
		return nil
	}

	args := strings.Fields(ctx.EffectiveMessage.Text)
	if len(args) < 3 {
		t.plainResponse(chatId, "Usage: `/approve ID DAYS`")
		return nil
	}
	id, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil {
		t.plainResponse(chatId, "Malformed user id\\.")
		return nil
	}
	days, err := strconv.Atoi(args[2])
	if err != nil || days <= 0 {
		t.plainResponse(chatId, "Days must be a positive number\\.")
		return nil
	}

	t.approve(chatId, id, days)
	return nil
}

// approve drives the grant and reports the outcome to both sides. Shared by
// the /approve command and the review keyboard.
func (t *TgBot) approve(adminId, userId int64, days int) {
	err := t.core.Approve(context.Background(), userId, days)
	switch {
	case err == nil:
		t.plainResponse(adminId, fmt.Sprintf("Approved `%d` for %d days\\.", userId, days))
		t.sendWithKeyboard(userId,
			fmt.Sprintf("Your access request was approved for %d days\\! Pick a protocol to download your config\\.", days),
			configKeyboard(t.configs.Protocols()))
	case errors.Is(err, entity.ErrNotPending):
		t.plainResponse(adminId, fmt.Sprintf("User `%d` has no pending request\\.", userId))
	case errors.Is(err, entity.ErrNotFound):
		t.plainResponse(adminId, fmt.Sprintf("User `%d` not found\\.", userId))
	default:
		t.reportError(adminId, "/approve", err)
	}
}

func (t *TgBot) denyCmd(_ *tgbotapi.Bot, ctx *ext.Context) error {
	chatId := ctx.EffectiveUser.Id
	if !t.isAdmin(chatId) {
		return nil
	}

	args := strings.Fields(ctx.EffectiveMessage.Text)
	if len(args) < 2 {
		t.plainResponse(chatId, "Usage: `/deny ID`")
		return nil
	}
	id, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil {
		t.plainResponse(chatId, "Malformed user id\\.")
		return nil
	}

	t.deny(chatId, id)
	return nil
}

func (t *TgBot) deny(adminId, userId int64) {
	err := t.core.Deny(context.Background(), userId)
	switch {
	case err == nil:
		t.plainResponse(adminId, fmt.Sprintf("Denied `%d`\\.", userId))
		t.plainResponse(userId, "Your access request was declined\\. You can submit a new one with /start\\.")
	case errors.Is(err, entity.ErrNotPending):
		t.plainResponse(adminId, fmt.Sprintf("User `%d` has no pending request\\.", userId))
	case errors.Is(err, entity.ErrNotFound):
		t.plainResponse(adminId, fmt.Sprintf("User `%d` not found\\.", userId))
	default:
		t.reportError(adminId, "/deny", err)
	}
}

func (t *TgBot) renewCmd(_ *tgbotapi.Bot, ctx *ext.Context) error {
	chatId := ctx.EffectiveUser.Id
	if !t.isAdmin(chatId) {
		return nil
	}

	args := strings.Fields(ctx.EffectiveMessage.Text)
	if len(args) < 3 {
		t.plainResponse(chatId, "Usage: `/renew ID DAYS` \\(or `/renew ID +DAYS` to extend from the current end\\)")
		return nil
	}
	id, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil {
		t.plainResponse(chatId, "Malformed user id\\.")
		return nil
	}
	daysArg := args[2]
	extend := strings.HasPrefix(daysArg, "+")
	days, err := strconv.Atoi(strings.TrimPrefix(daysArg, "+"))
	if err != nil || days <= 0 {
		t.plainResponse(chatId, "Days must be a positive number\\.")
		return nil
	}

	err = t.core.Renew(context.Background(), id, days, extend)
	switch {
	case err == nil:
		t.plainResponse(chatId, fmt.Sprintf("Renewed `%d` for %d days\\.", id, days))
		t.plainResponse(id, fmt.Sprintf("Your access was renewed for %d days\\.", days))
	case errors.Is(err, entity.ErrNotAccepted):
		t.plainResponse(chatId, fmt.Sprintf("User `%d` has no active access, use /approve or the regrant button\\.", id))
	case errors.Is(err, entity.ErrNotFound):
		t.plainResponse(chatId, fmt.Sprintf("User `%d` not found\\.", id))
	default:
		t.reportError(chatId, "/renew", err)
	}
	return nil
}

func (t *TgBot) deleteCmd(_ *tgbotapi.Bot, ctx *ext.Context) error {
	chatId := ctx.EffectiveUser.Id
	if !t.isAdmin(chatId) {
		return nil
	}

	args := strings.Fields(ctx.EffectiveMessage.Text)
	if len(args) < 2 {
		t.plainResponse(chatId, "Usage: `/delete ID`")
		return nil
	}
	id, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil {
		t.plainResponse(chatId, "Malformed user id\\.")
		return nil
	}

	deleted, err := t.core.Delete(context.Background(), id)
	if err != nil {
		t.reportError(chatId, "/delete", err)
		return nil
	}
	if !deleted {
		t.plainResponse(chatId, fmt.Sprintf("User `%d` not found\\.", id))
		return nil
	}
	t.plainResponse(chatId, fmt.Sprintf("User `%d` removed, configs revoked\\.", id))
	return nil
}

func (t *TgBot) usersCmd(_ *tgbotapi.Bot, ctx *ext.Context) error {
	chatId := ctx.EffectiveUser.Id
	if !t.isAdmin(chatId) {
		return nil
	}

	export, err := t.core.ExportUsers(context.Background())
	if err != nil {
		t.reportError(chatId, "/users", err)
		return nil
	}

	name := fmt.Sprintf("users-%s.tsv", time.Now().UTC().Format("20060102"))
	if err = t.sendDocument(chatId, name, []byte(export), "User export "+clock.Now()); err != nil {
		t.reportError(chatId, "/users", err)
	}
	return nil
}

func (t *TgBot) broadcast(_ *tgbotapi.Bot, ctx *ext.Context) error {
	chatId := ctx.EffectiveUser.Id
	if !t.isAdmin(chatId) {
		return nil
	}

	text := strings.TrimSpace(strings.TrimPrefix(ctx.EffectiveMessage.Text, "/broadcast"))
	if text == "" {
		t.plainResponse(chatId, "Usage: `/broadcast TEXT`")
		return nil
	}

	users, err := t.core.ListByStatus(context.Background(), entity.StatusAccepted)
	if err != nil {
		t.reportError(chatId, "/broadcast", err)
		return nil
	}

	sent := 0
	for _, user := range users {
		if user.Id == chatId {
			continue
		}
		for _, part := range splitMessage(Sanitize(text), maxMessageLen) {
			t.plainResponse(user.Id, part)
		}
		sent++
	}
	t.plainResponse(chatId, fmt.Sprintf("Broadcast delivered to %d users\\.", sent))
	return nil
}

func (t *TgBot) addPromo(_ *tgbotapi.Bot, ctx *ext.Context) error {
	chatId := ctx.EffectiveUser.Id
	if !t.isAdmin(chatId) {
		return nil
	}

	// /addpromo DAYS USES generates a code, /addpromo CODE DAYS USES sets one
	args := strings.Fields(ctx.EffectiveMessage.Text)
	var code string
	var rest []string
	switch len(args) {
	case 3:
		code = strings.ToUpper(uuid.NewString()[:8])
		rest = args[1:]
	case 4:
		code = args[1]
		rest = args[2:]
	default:
		t.plainResponse(chatId, "Usage: `/addpromo [CODE] DAYS USES`")
		return nil
	}

	days, err := strconv.Atoi(rest[0])
	if err != nil {
		t.plainResponse(chatId, "Days must be a number\\.")
		return nil
	}
	uses, err := strconv.Atoi(rest[1])
	if err != nil {
		t.plainResponse(chatId, "Uses must be a number\\.")
		return nil
	}

	if err = t.core.AddPromo(context.Background(), code, days, uses); err != nil {
		var vErr *entity.ValidationError
		if errors.As(err, &vErr) {
			t.plainResponse(chatId, Sanitize(vErr.Msg))
			return nil
		}
		t.reportError(chatId, "/addpromo", err)
		return nil
	}
	t.plainResponse(chatId, fmt.Sprintf("Promo `%s` created: %d days, %d uses\\.", Sanitize(code), days, uses))
	return nil
}

func (t *TgBot) listPromos(_ *tgbotapi.Bot, ctx *ext.Context) error {
	chatId := ctx.EffectiveUser.Id
	if !t.isAdmin(chatId) {
		return nil
	}

	promos, err := t.core.ListPromos(context.Background())
	if err != nil {
		t.reportError(chatId, "/promos", err)
		return nil
	}
	if len(promos) == 0 {
		t.plainResponse(chatId, "No promo codes\\.")
		return nil
	}

	var sb strings.Builder
	sb.WriteString("Promo codes:\n")
	for _, p := range promos {
		state := "active"
		if !p.IsActive {
			state = "inactive"
		}
		sb.WriteString(fmt.Sprintf("`%s` \\- %d days, %d uses left, %s\n",
			Sanitize(p.Code), p.Days, p.UsesRemaining, state))
	}
	for _, part := range splitMessage(sb.String(), maxMessageLen) {
		t.plainResponse(chatId, part)
	}
	return nil
}

func (t *TgBot) delPromo(_ *tgbotapi.Bot, ctx *ext.Context) error {
	chatId := ctx.EffectiveUser.Id
	if !t.isAdmin(chatId) {
		return nil
	}

	args := strings.Fields(ctx.EffectiveMessage.Text)
	if len(args) < 2 {
		t.plainResponse(chatId, "Usage: `/delpromo CODE`")
		return nil
	}
	code := args[1]

	deleted, err := t.core.DeletePromo(context.Background(), code)
	if err != nil {
		t.reportError(chatId, "/delpromo", err)
		return nil
	}
	if !deleted {
		t.plainResponse(chatId, fmt.Sprintf("Promo `%s` not found\\.", Sanitize(code)))
		return nil
	}
	t.plainResponse(chatId, fmt.Sprintf("Promo `%s` deleted\\.", Sanitize(code)))
	return nil
}
