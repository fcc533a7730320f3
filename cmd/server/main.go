package main

import (
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"matrixvpn/bot"
	"matrixvpn/impl/core"
	"matrixvpn/internal/config"
	"matrixvpn/internal/database"
	"matrixvpn/internal/http-server/api"
	"matrixvpn/internal/provision"
	"matrixvpn/internal/scheduler"
	"matrixvpn/internal/stripehandler"
	"matrixvpn/lib/logger"
	"matrixvpn/lib/sl"
)

const logFileName = "matrixvpn.log"

func main() {
	configPath := flag.String("conf", "config.yml", "path to config file")
	logPath := flag.String("log", "/var/log/", "path to log file directory")
	flag.Parse()

	conf := config.MustLoad(*configPath)
	log := logger.SetupLogger(conf.Env, filepath.Join(*logPath, logFileName))
	log.Info("starting matrixvpn", slog.String("config", *configPath), slog.String("env", conf.Env))

	store, err := database.New(conf)
	if err != nil {
		log.Error("opening database", sl.Err(err))
		os.Exit(1)
	}
	defer store.Close()

	gateway, err := provision.New(conf.Provision, log)
	if err != nil {
		log.Error("initializing provision gateway", sl.Err(err))
		os.Exit(1)
	}

	lifecycle := core.New(store, gateway, conf.Access.TrialDays, log)

	tgBot, err := bot.NewTgBot(conf.Telegram.ApiKey, lifecycle, store, gateway, bot.BotConfig{
		AdminId:         conf.Telegram.AdminId,
		TrialDays:       conf.Access.TrialDays,
		PaymentDays:     conf.Access.PaymentDays,
		PaymentPriceXTR: conf.Access.PaymentPriceXTR,
	}, log)
	if err != nil {
		log.Error("initializing telegram bot", sl.Err(err))
		os.Exit(1)
	}

	// errors logged after this point are mirrored to the admin chat
	alertLog := slog.New(logger.NewTelegramHandler(log.Handler(), tgBot, slog.LevelError))

	jobs := scheduler.New(lifecycle, store, tgBot, conf.Access, alertLog)
	jobs.Start()
	defer jobs.Stop()

	var webhook api.Webhook
	if conf.Stripe.APIKey != "" && conf.Stripe.WebhookSecret != "" {
		webhook = stripehandler.New(conf.Stripe.APIKey, conf.Stripe.WebhookSecret,
			lifecycle, conf.Access.PaymentDays, alertLog)
	} else {
		log.Info("stripe not configured, webhook route disabled")
	}

	go func() {
		if err := api.New(conf, alertLog, lifecycle, webhook); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("api server stopped", sl.Err(err))
		}
	}()

	go func() {
		if err := tgBot.Start(); err != nil {
			log.Error("telegram bot stopped", sl.Err(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	log.Info("shutting down")
	tgBot.Stop()
}
