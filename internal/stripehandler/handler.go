// Package stripehandler receives Stripe webhooks and turns completed
// checkouts into access grants. The signature check is done by hand against
// the raw payload, the event body is only trusted afterwards.
package stripehandler

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
)

const eventCheckoutCompleted = "checkout.session.completed"

// Payments credits confirmed charges. Implemented by impl/core.Core.
type Payments interface {
	RecordPayment(ctx context.Context, id int64, days int) error
}

type Handler struct {
	sc            *client.API
	webhookSecret string
	core          Payments
	defaultDays   int
	log           *slog.Logger
}

func New(apiKey, whSecret string, core Payments, defaultDays int, logger *slog.Logger) *Handler {
	sc := &client.API{}
	sc.Init(apiKey, nil)
	return &Handler{
		sc:            sc,
		webhookSecret: whSecret,
		core:          core,
		defaultDays:   defaultDays,
		log:           logger.With(slog.String("pkg", "stripehandler")),
	}
}

func (h *Handler) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	const tolerance = 5 * time.Minute
	h.log.With(
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
	).Debug("received stripe webhook")

	payload, err := io.ReadAll(r.Body)
	if err != nil {
		h.log.With(
			slog.Any("error", err),
		).Error("failed to read request body")
		http.Error(w, "read", http.StatusBadRequest)
		return
	}

	sig := r.Header.Get("Stripe-Signature")
	if !h.verifySignature(payload, sig, tolerance) {
		h.log.Error("invalid webhook signature")
		http.Error(w, "signature", http.StatusBadRequest)
		return
	}

	var evt stripe.Event
	if err := json.Unmarshal(payload, &evt); err != nil {
		h.log.With(
			slog.Any("error", err),
		).Error("unmarshal event")
		http.Error(w, "json", http.StatusBadRequest)
		return
	}

	log := h.log.With(
		slog.String("event_id", evt.ID),
		slog.Any("type", evt.Type),
	)

	switch evt.Type {
	case eventCheckoutCompleted:
		log.Info("handling checkout")
		h.handleCheckoutCompleted(context.Background(), &evt)
	default:
		log.Info("ignored event")
	}

	// always 200 once the signature checked out: Stripe retries anything
	// else and the grant path has its own failure reporting
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) verifySignature(payload []byte, header string, tolerance time.Duration) bool {
	secret := h.webhookSecret
	parts := strings.Split(header, ",")
	var ts, sig string
	for _, p := range parts {
		if strings.HasPrefix(p, "t=") {
			ts = strings.TrimPrefix(p, "t=")
		}
		if strings.HasPrefix(p, "v1=") {
			sig = strings.TrimPrefix(p, "v1=")
		}
	}
	if ts == "" || sig == "" {
		h.log.Debug("missing timestamp or signature in header")
		return false
	}

	tsInt, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		h.log.With(
			slog.Any("error", err),
		).Debug("failed to parse timestamp")
		return false
	}

	eventTime := time.Unix(tsInt, 0)
	timeSince := time.Since(eventTime)
	if timeSince > tolerance {
		h.log.With(
			slog.Time("timestamp", eventTime),
			slog.Duration("age", timeSince),
			slog.Duration("tolerance", tolerance),
		).Debug("webhook timestamp too old")
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(ts))
	mac.Write([]byte("."))
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))

	isValid := hmac.Equal([]byte(expected), []byte(sig))
	if !isValid {
		h.log.Debug("signature mismatch")
	}
	return isValid
}

// handleCheckoutCompleted re-fetches the session from Stripe (the event
// body alone is not trusted for amounts) and credits the purchased days.
// The user id travels in client_reference_id, the duration in the
// session's "days" metadata set at checkout creation.
func (h *Handler) handleCheckoutCompleted(ctx context.Context, evt *stripe.Event) {
	sessID := evt.GetObjectValue("id")
	log := h.log.With(
		slog.String("session_id", sessID),
	)

	sess, err := h.sc.CheckoutSessions.Get(sessID, nil)
	if err != nil {
		log.With(
			slog.Any("error", err),
		).Error("get session from stripe")
		return
	}
	if sess.PaymentStatus != stripe.CheckoutSessionPaymentStatusPaid {
		log.With(
			slog.Any("payment_status", sess.PaymentStatus),
		).Warn("checkout completed but not paid, skipping")
		return
	}

	userId, err := strconv.ParseInt(sess.ClientReferenceID, 10, 64)
	if err != nil {
		log.With(
			slog.String("client_reference_id", sess.ClientReferenceID),
		).Error("session carries no usable user reference")
		return
	}

	days := h.defaultDays
	if v, ok := sess.Metadata["days"]; ok {
		if parsed, perr := strconv.Atoi(v); perr == nil && parsed > 0 {
			days = parsed
		}
	}

	log = log.With(
		slog.Int64("user_id", userId),
		slog.Int("days", days),
		slog.Int64("amount", sess.AmountTotal),
	)
	if err = h.core.RecordPayment(ctx, userId, days); err != nil {
		log.With(
			slog.Any("error", err),
		).Error("crediting checkout failed")
		return
	}
	log.Info("checkout credited")
}
