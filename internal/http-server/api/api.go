package api

import (
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"matrixvpn/internal/config"
	"matrixvpn/internal/http-server/handlers/errors"
	"matrixvpn/internal/http-server/handlers/promos"
	"matrixvpn/internal/http-server/handlers/users"
	"matrixvpn/internal/http-server/middleware/authenticate"
	"matrixvpn/internal/http-server/middleware/timeout"
	"matrixvpn/lib/sl"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
)

type Server struct {
	conf       *config.Config
	httpServer *http.Server
	log        *slog.Logger
}

// Handler is the core surface the REST routes need.
type Handler interface {
	users.Core
	promos.Core
}

// Webhook serves the payment provider callback; nil disables the route.
type Webhook interface {
	HandleWebhook(w http.ResponseWriter, r *http.Request)
}

func New(conf *config.Config, log *slog.Logger, handler Handler, webhook Webhook) error {

	server := Server{
		conf: conf,
		log:  log.With(sl.Module("api.server")),
	}

	router := chi.NewRouter()
	router.Use(timeout.Timeout(5))
	router.Use(middleware.RequestID)
	router.Use(middleware.Recoverer)
	router.Use(render.SetContentType(render.ContentTypeJSON))

	router.NotFound(errors.NotFound(log))
	router.MethodNotAllowed(errors.NotAllowed(log))

	router.Route("/v1", func(rootApi chi.Router) {
		rootApi.Use(authenticate.New(log, conf.Api.Token))
		rootApi.Route("/users", func(u chi.Router) {
			u.Get("/", users.List(log, handler))
			u.Post("/{id}/renew", users.Renew(log, handler))
		})
		rootApi.Route("/promos", func(p chi.Router) {
			p.Get("/", promos.List(log, handler))
			p.Post("/", promos.Create(log, handler))
			p.Delete("/{code}", promos.Delete(log, handler))
		})
	})
	if webhook != nil {
		router.Route("/webhook", func(rootWH chi.Router) {
			rootWH.Post("/stripe", webhook.HandleWebhook)
		})
	}

	httpLog := slog.NewLogLogger(log.Handler(), slog.LevelError)
	server.httpServer = &http.Server{
		Handler:      router,
		ErrorLog:     httpLog,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverAddress := fmt.Sprintf("%s:%s", conf.Listen.BindIp, conf.Listen.Port)
	listener, err := net.Listen("tcp", serverAddress)
	if err != nil {
		return err
	}

	server.log.Info("starting api server", slog.String("address", serverAddress))

	return server.httpServer.Serve(listener)
}
