package logger

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// Alerter delivers a log record to the administrator chat.
// Implemented by bot.TgBot.
type Alerter interface {
	AlertAdmins(msg string)
}

// TelegramHandler is a slog.Handler that mirrors records at or above
// minLevel to the administrator via the bot, on top of the wrapped handler.
type TelegramHandler struct {
	handler  slog.Handler
	alerter  Alerter
	minLevel slog.Level
	mu       sync.Mutex
	attrs    []slog.Attr
	group    string
}

func NewTelegramHandler(handler slog.Handler, alerter Alerter, minLevel slog.Level) *TelegramHandler {
	return &TelegramHandler{
		handler:  handler,
		alerter:  alerter,
		minLevel: minLevel,
		attrs:    make([]slog.Attr, 0),
	}
}

// Enabled implements slog.Handler.Enabled
func (h *TelegramHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.handler.Enabled(ctx, level)
}

// Handle implements slog.Handler.Handle
func (h *TelegramHandler) Handle(ctx context.Context, record slog.Record) error {
	err := h.handler.Handle(ctx, record)
	if err != nil {
		return err
	}

	if record.Level < h.minLevel || h.alerter == nil {
		return nil
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	var msg string
	if h.group != "" {
		msg = fmt.Sprintf("%s %s.%s", record.Level.String(), h.group, record.Message)
	} else {
		msg = fmt.Sprintf("%s %s", record.Level.String(), record.Message)
	}

	for _, attr := range h.attrs {
		msg += fmt.Sprintf("\n%s: %v", attr.Key, attr.Value)
	}
	record.Attrs(func(attr slog.Attr) bool {
		msg += fmt.Sprintf("\n%s: %v", attr.Key, attr.Value)
		return true
	})

	h.alerter.AlertAdmins(msg)
	return nil
}

// WithAttrs implements slog.Handler.WithAttrs
func (h *TelegramHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	newAttrs := make([]slog.Attr, len(h.attrs)+len(attrs))
	copy(newAttrs, h.attrs)
	copy(newAttrs[len(h.attrs):], attrs)

	return &TelegramHandler{
		handler:  h.handler.WithAttrs(attrs),
		alerter:  h.alerter,
		minLevel: h.minLevel,
		attrs:    newAttrs,
		group:    h.group,
	}
}

// WithGroup implements slog.Handler.WithGroup
func (h *TelegramHandler) WithGroup(name string) slog.Handler {
	group := name
	if h.group != "" {
		group = h.group + "." + name
	}

	return &TelegramHandler{
		handler:  h.handler.WithGroup(name),
		alerter:  h.alerter,
		minLevel: h.minLevel,
		attrs:    h.attrs,
		group:    group,
	}
}
