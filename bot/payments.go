package bot

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"matrixvpn/lib/sl"

	tgbotapi "github.com/PaulSonOfLars/gotgbot/v2"
	"github.com/PaulSonOfLars/gotgbot/v2/ext"
)

// Payload format for Stars invoices: "sub:<days>". The payload round-trips
// through Telegram and comes back in SuccessfulPayment, so the credited
// duration is fixed at invoice time.
const invoicePayloadPrefix = "sub:"

func (t *TgBot) buy(_ *tgbotapi.Bot, ctx *ext.Context) error {
	t.sendInvoice(ctx.EffectiveUser.Id)
	return nil
}

// sendInvoice issues a Telegram Stars invoice. Stars invoices use the XTR
// currency and need no provider token.
func (t *TgBot) sendInvoice(chatId int64) {
	days := t.config.PaymentDays
	price := t.config.PaymentPriceXTR

	_, err := t.api.SendInvoice(chatId,
		fmt.Sprintf("VPN access, %d days", days),
		fmt.Sprintf("Extends your VPN access by %d days. Unused time is kept.", days),
		fmt.Sprintf("%s%d", invoicePayloadPrefix, days),
		"XTR",
		[]tgbotapi.LabeledPrice{
			{Label: fmt.Sprintf("%d days", days), Amount: int64(price)},
		},
		nil,
	)
	if err != nil {
		t.log.With(slog.Int64("id", chatId)).Error("sending invoice", sl.Err(err))
		t.plainResponse(chatId, "Could not create the invoice\\. Please try again later\\.")
	}
}

// onPreCheckout validates the payload before Telegram charges the user.
// Everything the invoice encodes was produced by sendInvoice, so only a
// malformed payload (stale invoice, client tampering) is rejected.
func (t *TgBot) onPreCheckout(b *tgbotapi.Bot, ctx *ext.Context) error {
	pcq := ctx.PreCheckoutQuery
	ok := decodePayload(pcq.InvoicePayload) > 0

	opts := &tgbotapi.AnswerPreCheckoutQueryOpts{}
	if !ok {
		opts.ErrorMessage = "This invoice is no longer valid, request a new one with /buy."
		t.log.With(
			slog.Int64("user_id", pcq.From.Id),
			slog.String("payload", pcq.InvoicePayload),
		).Warn("rejecting pre-checkout with malformed payload")
	}
	_, err := b.AnswerPreCheckoutQuery(pcq.Id, ok, opts)
	return err
}

// onSuccessfulPayment credits the paid days. The charge already happened,
// so a failure here is escalated to the admin instead of silently dropped.
func (t *TgBot) onSuccessfulPayment(_ *tgbotapi.Bot, ctx *ext.Context) error {
	payment := ctx.EffectiveMessage.SuccessfulPayment
	chatId := ctx.EffectiveUser.Id
	days := decodePayload(payment.InvoicePayload)
	if days <= 0 {
		// pre-checkout should have caught this; credit the default to honor
		// the charge
		days = t.config.PaymentDays
	}

	bg := context.Background()
	if user, err := t.core.Status(bg, chatId); err == nil && user == nil {
		_, _ = t.core.RequestAccess(bg, chatId, ctx.EffectiveUser.Username)
	}

	if err := t.core.RecordPayment(bg, chatId, days); err != nil {
		t.log.With(slog.Int64("user_id", chatId), sl.Err(err)).Error("crediting payment failed")
		t.AlertAdmins(fmt.Sprintf(
			"PAYMENT NOT CREDITED\nUser: `%d`\nCharge: `%s`\nError: `%s`\nUse `/renew %d +%d` to credit manually\\.",
			chatId, Sanitize(payment.TelegramPaymentChargeId), Sanitize(err.Error()), chatId, days,
		))
		t.plainResponse(chatId, "Payment received, activation is delayed\\. The admin has been notified\\.")
		return nil
	}

	t.log.With(
		slog.Int64("user_id", chatId),
		slog.Int("days", days),
		slog.Int64("amount", payment.TotalAmount),
	).Info("stars payment credited")
	t.sendWithKeyboard(chatId,
		fmt.Sprintf("Payment received, access extended by %d days\\. Thank you\\!", days),
		configKeyboard(t.configs.Protocols()))
	t.AlertAdmins(fmt.Sprintf("Stars payment: `%d` paid %d XTR for %d days", chatId, payment.TotalAmount, days))
	return nil
}

// decodePayload extracts the purchased days, 0 for anything malformed.
func decodePayload(payload string) int {
	if !strings.HasPrefix(payload, invoicePayloadPrefix) {
		return 0
	}
	days, err := strconv.Atoi(strings.TrimPrefix(payload, invoicePayloadPrefix))
	if err != nil || days <= 0 {
		return 0
	}
	return days
}
