package core

import (
	"context"
	"log/slog"
	"regexp"
	"time"

	"matrixvpn/entity"
	"matrixvpn/lib/sl"
)

var promoCodePattern = regexp.MustCompile(`^[A-Za-z0-9_-]{4,64}$`)

// RedeemTrial grants the one-time free trial. The store flips has_used_trial
// in the same conditional update as the grant, so even without the user
// lock two concurrent redemptions could not both pass; the lock additionally
// keeps the provisioning step from racing other transitions.
func (c *Core) RedeemTrial(ctx context.Context, id int64) error {
	lock := c.userLock(id)
	lock.Lock()
	defer lock.Unlock()

	user, err := c.db.GetUser(ctx, id)
	if err != nil {
		return err
	}
	if user == nil {
		return entity.ErrNotFound
	}
	if user.HasUsedTrial {
		return entity.ErrTrialUsed
	}
	if user.IsAccepted() {
		return entity.Invalid("trial is not available while access is active")
	}

	prevStatus := user.Status
	now := time.Now()
	newEnd := now.Add(time.Duration(c.trialDays) * 24 * time.Hour)

	if err = c.db.ExtendAccess(ctx, id, newEnd, true); err != nil {
		return err
	}

	results := c.gw.Provision(ctx, id, c.trialDays)
	if failed := entity.FailedResults(results); len(failed) > 0 {
		provErr := &entity.ProvisionError{UserId: id, Action: entity.ActionCreate, Results: failed}
		c.log.With(slog.Int64("user_id", id), sl.Err(provErr)).Error("trial provisioning failed, rolling back")
		_ = c.gw.Revoke(ctx, id)
		// the trial flag stays set: the attempt consumed it, the rollback
		// only prevents accepted-without-configs
		if rbErr := c.db.RevertGrant(ctx, id, prevStatus); rbErr != nil {
			c.log.With(slog.Int64("user_id", id), sl.Err(rbErr)).Error("trial rollback failed")
		}
		return provErr
	}

	c.log.With(
		slog.Int64("user_id", id),
		slog.Int("days", c.trialDays),
	).Info("trial granted")
	return nil
}

// RedeemPromo applies a promo code: the store atomically checks and
// decrements the code, then extends the user from the current end (unused
// remaining time is preserved). The user is entitled once the transaction
// commits, so a provisioning failure afterwards is reported, not rolled
// back.
func (c *Core) RedeemPromo(ctx context.Context, id int64, code string) error {
	if !promoCodePattern.MatchString(code) {
		return entity.Invalid("malformed promo code")
	}
	lock := c.userLock(id)
	lock.Lock()
	defer lock.Unlock()

	user, err := c.db.GetUser(ctx, id)
	if err != nil {
		return err
	}
	if user == nil {
		return entity.ErrNotFound
	}

	promo, err := c.db.GetPromo(ctx, code)
	if err != nil {
		return err
	}
	if promo == nil || !promo.Redeemable() {
		return entity.ErrPromoInvalid
	}

	now := time.Now()
	newEnd := user.ExtendedEnd(now, promo.Days)
	if err = c.db.RedeemPromoAndExtend(ctx, code, id, newEnd); err != nil {
		return err
	}

	c.log.With(
		slog.Int64("user_id", id),
		slog.String("code", code),
		slog.Int("days", promo.Days),
	).Info("promo redeemed")
	return c.reprovision(ctx, id, newEnd, now)
}

// RecordPayment credits paid days, extending from the current end like a
// promo. Called by the Stripe webhook handler and the Telegram payment
// flow after the provider confirms the charge.
func (c *Core) RecordPayment(ctx context.Context, id int64, days int) error {
	if days <= 0 {
		return entity.Invalid("paid duration must be positive, got %d", days)
	}
	lock := c.userLock(id)
	lock.Lock()
	defer lock.Unlock()

	user, err := c.db.GetUser(ctx, id)
	if err != nil {
		return err
	}
	if user == nil {
		return entity.ErrNotFound
	}

	now := time.Now()
	newEnd := user.ExtendedEnd(now, days)
	if err = c.db.ExtendAccess(ctx, id, newEnd, false); err != nil {
		return err
	}

	c.log.With(
		slog.Int64("user_id", id),
		slog.Int("days", days),
	).Info("payment recorded")
	return c.reprovision(ctx, id, newEnd, now)
}
