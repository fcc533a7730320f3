// Package bot implements the Telegram front-end for VPN access management.
//
// Architecture overview:
//   - tgbot.go: TgBot struct, lifecycle (Start/Stop), Core/Database interfaces
//   - commands.go: user commands (/start, /status, /trial, /promo, /configs, /help)
//   - admin.go: admin commands (/requests, /approve, /deny, /renew, /delete,
//     /users, /broadcast, /addpromo, /promos, /delpromo)
//   - callbacks.go: typed callback command decoding, keyboards, handlers
//   - payments.go: Telegram Stars invoice flow (pre-checkout, successful payment)
//   - notify.go: de-duplicated notifications, admin alerts, document delivery
//
// The bot is presentation only: every state change goes through the Core
// interface (impl/core), which owns the lifecycle rules and serialization.
package bot

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"matrixvpn/entity"
	"matrixvpn/lib/sl"

	tgbotapi "github.com/PaulSonOfLars/gotgbot/v2"
	"github.com/PaulSonOfLars/gotgbot/v2/ext"
	"github.com/PaulSonOfLars/gotgbot/v2/ext/handlers"
	"github.com/PaulSonOfLars/gotgbot/v2/ext/handlers/filters/callbackquery"
)

// BotConfig holds the presentation-level settings.
type BotConfig struct {
	AdminId         int64
	TrialDays       int
	PaymentDays     int
	PaymentPriceXTR int
}

// Core is the access lifecycle surface the bot drives.
// Implemented by impl/core.Core.
type Core interface {
	RequestAccess(ctx context.Context, id int64, username string) (entity.AccessStatus, error)
	Approve(ctx context.Context, id int64, days int) error
	Deny(ctx context.Context, id int64) error
	Renew(ctx context.Context, id int64, days int, extend bool) error
	Delete(ctx context.Context, id int64) (bool, error)
	RedeemTrial(ctx context.Context, id int64) error
	RedeemPromo(ctx context.Context, id int64, code string) error
	RecordPayment(ctx context.Context, id int64, days int) error
	Status(ctx context.Context, id int64) (*entity.User, error)
	ListByStatus(ctx context.Context, status entity.AccessStatus) ([]*entity.User, error)
	ExportUsers(ctx context.Context) (string, error)
	AddPromo(ctx context.Context, code string, days, uses int) error
	ListPromos(ctx context.Context) ([]*entity.PromoCode, error)
	DeletePromo(ctx context.Context, code string) (bool, error)
}

// Database is the small storage slice the bot needs for notification
// de-duplication. Implemented by internal/database.Store.
type Database interface {
	GetUser(ctx context.Context, id int64) (*entity.User, error)
	SetLastNotification(ctx context.Context, id int64, messageId int64) error
}

// ConfigSource locates the per-client config files the provisioning
// scripts produce. Implemented by internal/provision.Gateway.
type ConfigSource interface {
	ClientDir(userId int64) string
	Protocols() []entity.Protocol
}

// TgBot is the central Telegram bot instance.
type TgBot struct {
	log     *slog.Logger
	api     *tgbotapi.Bot
	core    Core
	db      Database
	configs ConfigSource
	config  BotConfig
	updater *ext.Updater
}

func NewTgBot(apiKey string, core Core, db Database, configs ConfigSource, cfg BotConfig, log *slog.Logger) (*TgBot, error) {
	if cfg.PaymentDays == 0 {
		cfg.PaymentDays = 30
	}
	if cfg.TrialDays == 0 {
		cfg.TrialDays = 3
	}

	api, err := tgbotapi.NewBot(apiKey, nil)
	if err != nil {
		return nil, fmt.Errorf("creating api instance: %v", err)
	}

	return &TgBot{
		log:     log.With(sl.Module("tgbot")),
		api:     api,
		core:    core,
		db:      db,
		configs: configs,
		config:  cfg,
	}, nil
}

func (t *TgBot) Start() error {
	dispatcher := ext.NewDispatcher(&ext.DispatcherOpts{
		Error: func(b *tgbotapi.Bot, ctx *ext.Context, err error) ext.DispatcherAction {
			t.log.Error("handling update:", sl.Err(err))
			return ext.DispatcherActionNoop
		},
		MaxRoutines: ext.DefaultMaxRoutines,
	})
	t.updater = ext.NewUpdater(dispatcher, nil)

	// User commands
	dispatcher.AddHandler(handlers.NewCommand("start", t.start))
	dispatcher.AddHandler(handlers.NewCommand("status", t.status))
	dispatcher.AddHandler(handlers.NewCommand("trial", t.trial))
	dispatcher.AddHandler(handlers.NewCommand("promo", t.promo))
	dispatcher.AddHandler(handlers.NewCommand("configs", t.configsCmd))
	dispatcher.AddHandler(handlers.NewCommand("buy", t.buy))
	dispatcher.AddHandler(handlers.NewCommand("help", t.help))

	// Admin commands
	dispatcher.AddHandler(handlers.NewCommand("requests", t.requests))
	dispatcher.AddHandler(handlers.NewCommand("approve", t.approveCmd))
	dispatcher.AddHandler(handlers.NewCommand("deny", t.denyCmd))
	dispatcher.AddHandler(handlers.NewCommand("renew", t.renewCmd))
	dispatcher.AddHandler(handlers.NewCommand("delete", t.deleteCmd))
	dispatcher.AddHandler(handlers.NewCommand("users", t.usersCmd))
	dispatcher.AddHandler(handlers.NewCommand("broadcast", t.broadcast))
	dispatcher.AddHandler(handlers.NewCommand("addpromo", t.addPromo))
	dispatcher.AddHandler(handlers.NewCommand("promos", t.listPromos))
	dispatcher.AddHandler(handlers.NewCommand("delpromo", t.delPromo))

	// Callback query handlers, one per action prefix
	dispatcher.AddHandler(handlers.NewCallback(callbackquery.Prefix(cbRequest), t.onCallback))
	dispatcher.AddHandler(handlers.NewCallback(callbackquery.Prefix(cbApprove), t.onCallback))
	dispatcher.AddHandler(handlers.NewCallback(callbackquery.Prefix(cbDeny), t.onCallback))
	dispatcher.AddHandler(handlers.NewCallback(callbackquery.Prefix(cbRegrant), t.onCallback))
	dispatcher.AddHandler(handlers.NewCallback(callbackquery.Prefix(cbConfig), t.onCallback))
	dispatcher.AddHandler(handlers.NewCallback(callbackquery.Prefix(cbTrial), t.onCallback))
	dispatcher.AddHandler(handlers.NewCallback(callbackquery.Prefix(cbBuy), t.onCallback))

	// Telegram Stars payment flow
	dispatcher.AddHandler(handlers.NewPreCheckoutQuery(nil, t.onPreCheckout))
	dispatcher.AddHandler(handlers.NewMessage(func(msg *tgbotapi.Message) bool {
		return msg.SuccessfulPayment != nil
	}, t.onSuccessfulPayment))

	t.setDefaultCommands()

	err := t.updater.StartPolling(t.api, &ext.PollingOpts{
		DropPendingUpdates: true,
		GetUpdatesOpts: &tgbotapi.GetUpdatesOpts{
			Timeout: 9,
			RequestOpts: &tgbotapi.RequestOpts{
				Timeout: time.Second * 10,
			},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to start polling: %w", err)
	}

	t.updater.Idle()
	return nil
}

func (t *TgBot) Stop() {
	if t.updater != nil {
		t.log.Info("stopping telegram bot")
		t.updater.Stop()
	}
}

func (t *TgBot) isAdmin(chatId int64) bool {
	return chatId == t.config.AdminId
}

// Per-role command lists for Telegram's menu button.
var commandsUser = []tgbotapi.BotCommand{
	{Command: "start", Description: "Request access or show your menu"},
	{Command: "status", Description: "Show your subscription status"},
	{Command: "trial", Description: "Activate the free trial"},
	{Command: "promo", Description: "Redeem a promo code"},
	{Command: "configs", Description: "Get your VPN config files"},
	{Command: "buy", Description: "Buy a subscription"},
	{Command: "help", Description: "Show available commands"},
}

func (t *TgBot) setDefaultCommands() {
	_, err := t.api.SetMyCommands(commandsUser, &tgbotapi.SetMyCommandsOpts{
		Scope: tgbotapi.BotCommandScopeDefault{},
	})
	if err != nil {
		t.log.Warn("setting default commands", "error", err)
	}

	admin := append([]tgbotapi.BotCommand{}, commandsUser...)
	admin = append(admin,
		tgbotapi.BotCommand{Command: "requests", Description: "List pending requests"},
		tgbotapi.BotCommand{Command: "users", Description: "Export the user list"},
		tgbotapi.BotCommand{Command: "promos", Description: "List promo codes"},
	)
	_, err = t.api.SetMyCommands(admin, &tgbotapi.SetMyCommandsOpts{
		Scope: tgbotapi.BotCommandScopeChat{ChatId: t.config.AdminId},
	})
	if err != nil {
		t.log.Warn("setting admin commands", "error", err)
	}
}
