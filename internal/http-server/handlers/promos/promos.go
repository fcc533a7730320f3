// Package promos exposes promo code management over the REST API.
package promos

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"matrixvpn/entity"
	"matrixvpn/lib/api/response"
	"matrixvpn/lib/sl"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
)

type Core interface {
	AddPromo(ctx context.Context, code string, days, uses int) error
	ListPromos(ctx context.Context) ([]*entity.PromoCode, error)
	DeletePromo(ctx context.Context, code string) (bool, error)
}

func List(log *slog.Logger, handler Core) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		mod := sl.Module("http.handlers.promos")

		logger := log.With(
			mod,
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)

		promos, err := handler.ListPromos(r.Context())
		if err != nil {
			logger.Error("list promos", sl.Err(err))
			render.Status(r, 500)
			render.JSON(w, r, response.Error(fmt.Sprintf("List promos: %v", err)))
			return
		}
		logger.With(slog.Int("count", len(promos))).Debug("promos listed")

		render.JSON(w, r, response.Ok(promos))
	}
}

func Create(log *slog.Logger, handler Core) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		mod := sl.Module("http.handlers.promos")

		logger := log.With(
			mod,
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)

		var promo entity.PromoCode
		if err := render.Bind(r, &promo); err != nil {
			logger.Error("bind request", sl.Err(err))
			render.Status(r, 400)
			render.JSON(w, r, response.Error(fmt.Sprintf("Invalid request: %v", err)))
			return
		}
		logger = logger.With(
			slog.String("code", promo.Code),
			slog.Int("days", promo.Days),
			slog.Int("uses", promo.UsesRemaining),
		)

		err := handler.AddPromo(r.Context(), promo.Code, promo.Days, promo.UsesRemaining)
		if err != nil {
			var vErr *entity.ValidationError
			if errors.As(err, &vErr) {
				render.Status(r, 400)
				render.JSON(w, r, response.Error(vErr.Msg))
				return
			}
			logger.Error("create promo", sl.Err(err))
			render.Status(r, 500)
			render.JSON(w, r, response.Error(fmt.Sprintf("Create promo: %v", err)))
			return
		}
		logger.Info("promo created")

		render.Status(r, http.StatusCreated)
		render.JSON(w, r, response.Ok(promo))
	}
}

func Delete(log *slog.Logger, handler Core) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		mod := sl.Module("http.handlers.promos")

		logger := log.With(
			mod,
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)

		code := chi.URLParam(r, "code")
		logger = logger.With(slog.String("code", code))

		deleted, err := handler.DeletePromo(r.Context(), code)
		if err != nil {
			logger.Error("delete promo", sl.Err(err))
			render.Status(r, 500)
			render.JSON(w, r, response.Error(fmt.Sprintf("Delete promo: %v", err)))
			return
		}
		if !deleted {
			render.Status(r, 404)
			render.JSON(w, r, response.Error("Promo code not found"))
			return
		}
		logger.Info("promo deleted")

		render.JSON(w, r, response.Ok(nil))
	}
}
