package core

import (
	"context"
	"fmt"
	"strings"

	"matrixvpn/entity"
	"matrixvpn/lib/clock"
)

// Status returns the user's record for presentation, nil when unknown.
func (c *Core) Status(ctx context.Context, id int64) (*entity.User, error) {
	return c.db.GetUser(ctx, id)
}

func (c *Core) ListUsers(ctx context.Context) ([]*entity.User, error) {
	return c.db.ListAll(ctx)
}

func (c *Core) ListByStatus(ctx context.Context, status entity.AccessStatus) ([]*entity.User, error) {
	return c.db.ListByStatus(ctx, status)
}

// ExportUsers renders the full user table as a tab-separated snapshot,
// ready to be sent as a document.
func (c *Core) ExportUsers(ctx context.Context) (string, error) {
	users, err := c.db.ListAll(ctx)
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	sb.WriteString("ID\tUsername\tStatus\tGranted\tDuration\tEnd\tTrialUsed\n")
	for _, u := range users {
		granted, end := "", ""
		if u.GrantedAt != nil {
			granted = clock.Format(*u.GrantedAt)
		}
		if u.EndAt != nil {
			end = clock.Format(*u.EndAt)
		}
		trial := "no"
		if u.HasUsedTrial {
			trial = "yes"
		}
		sb.WriteString(fmt.Sprintf("%d\t%s\t%s\t%s\t%d\t%s\t%s\n",
			u.Id, u.Username, u.Status, granted, u.DurationDays, end, trial))
	}
	return sb.String(), nil
}

// AddPromo validates and stores a new promo code.
func (c *Core) AddPromo(ctx context.Context, code string, days, uses int) error {
	if !promoCodePattern.MatchString(code) {
		return entity.Invalid("malformed promo code")
	}
	if days <= 0 {
		return entity.Invalid("promo duration must be positive, got %d", days)
	}
	if uses <= 0 {
		return entity.Invalid("promo uses must be positive, got %d", uses)
	}
	existing, err := c.db.GetPromo(ctx, code)
	if err != nil {
		return err
	}
	if existing != nil {
		return entity.Invalid("promo code %q already exists", code)
	}
	return c.db.AddPromo(ctx, &entity.PromoCode{
		Code:          code,
		Days:          days,
		IsActive:      true,
		UsesRemaining: uses,
	})
}

func (c *Core) ListPromos(ctx context.Context) ([]*entity.PromoCode, error) {
	return c.db.ListPromos(ctx)
}

func (c *Core) DeletePromo(ctx context.Context, code string) (bool, error) {
	return c.db.DeletePromo(ctx, code)
}
