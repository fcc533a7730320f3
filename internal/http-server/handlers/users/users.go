// Package users exposes the user administration surface of the REST API.
package users

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"matrixvpn/entity"
	"matrixvpn/lib/api/response"
	"matrixvpn/lib/sl"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
)

type Core interface {
	ListUsers(ctx context.Context) ([]*entity.User, error)
	Renew(ctx context.Context, id int64, days int, extend bool) error
}

func List(log *slog.Logger, handler Core) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		mod := sl.Module("http.handlers.users")

		logger := log.With(
			mod,
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)

		users, err := handler.ListUsers(r.Context())
		if err != nil {
			logger.Error("list users", sl.Err(err))
			render.Status(r, 500)
			render.JSON(w, r, response.Error(fmt.Sprintf("List users: %v", err)))
			return
		}
		logger.With(slog.Int("count", len(users))).Debug("users listed")

		render.JSON(w, r, response.Ok(users))
	}
}

// RenewRequest is the body for POST /v1/users/{id}/renew. Extend keeps the
// unused remaining time, otherwise the grant restarts from now.
type RenewRequest struct {
	Days   int  `json:"days" validate:"required,gt=0"`
	Extend bool `json:"extend"`
}

func (rr *RenewRequest) Bind(_ *http.Request) error {
	if rr.Days <= 0 {
		return fmt.Errorf("days must be positive")
	}
	return nil
}

func Renew(log *slog.Logger, handler Core) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		mod := sl.Module("http.handlers.users")

		logger := log.With(
			mod,
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)

		id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
		if err != nil {
			logger.Error("parse user id", sl.Err(err))
			render.Status(r, 400)
			render.JSON(w, r, response.Error("Invalid user id"))
			return
		}

		var req RenewRequest
		if err = render.Bind(r, &req); err != nil {
			logger.Error("bind request", sl.Err(err))
			render.Status(r, 400)
			render.JSON(w, r, response.Error(fmt.Sprintf("Invalid request: %v", err)))
			return
		}
		logger = logger.With(
			slog.Int64("user_id", id),
			slog.Int("days", req.Days),
			slog.Bool("extend", req.Extend),
		)

		err = handler.Renew(r.Context(), id, req.Days, req.Extend)
		switch {
		case err == nil:
			logger.Info("user renewed")
			render.JSON(w, r, response.Ok(nil))
		case errors.Is(err, entity.ErrNotFound):
			render.Status(r, 404)
			render.JSON(w, r, response.Error("User not found"))
		case errors.Is(err, entity.ErrNotAccepted):
			render.Status(r, 409)
			render.JSON(w, r, response.Error("User has no active access"))
		default:
			logger.Error("renew user", sl.Err(err))
			render.Status(r, 500)
			render.JSON(w, r, response.Error(fmt.Sprintf("Renew: %v", err)))
		}
	}
}
