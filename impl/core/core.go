// Package core is the access lifecycle manager: the state machine over
// pending/accepted/denied/expired, composed from the entitlement store and
// the provisioning gateway. Every transition for one user runs under that
// user's lock, so approve/renew/trial cannot interleave for the same id.
package core

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"matrixvpn/entity"
	"matrixvpn/lib/sl"
)

// Store is the persistence surface the lifecycle manager needs.
// Implemented by internal/database.Store.
type Store interface {
	GetUser(ctx context.Context, id int64) (*entity.User, error)
	UpsertPendingUser(ctx context.Context, id int64, username string) error
	SetStatus(ctx context.Context, id int64, status entity.AccessStatus) error
	RevertGrant(ctx context.Context, id int64, status entity.AccessStatus) error
	SetExpired(ctx context.Context, id int64) error
	GrantAccess(ctx context.Context, id int64, days int) error
	ExtendAccess(ctx context.Context, id int64, newEnd time.Time, markTrialUsed bool) error
	RedeemPromoAndExtend(ctx context.Context, code string, id int64, newEnd time.Time) error
	DeleteUser(ctx context.Context, id int64) (bool, error)
	ListByStatus(ctx context.Context, status entity.AccessStatus) ([]*entity.User, error)
	ListAll(ctx context.Context) ([]*entity.User, error)
	AddPromo(ctx context.Context, promo *entity.PromoCode) error
	GetPromo(ctx context.Context, code string) (*entity.PromoCode, error)
	DeletePromo(ctx context.Context, code string) (bool, error)
	ListPromos(ctx context.Context) ([]*entity.PromoCode, error)
}

// Gateway realizes or revokes client configs. Implemented by
// internal/provision.Gateway.
type Gateway interface {
	Provision(ctx context.Context, userId int64, days int) []entity.ProtocolResult
	Revoke(ctx context.Context, userId int64) []entity.ProtocolResult
}

type Core struct {
	db        Store
	gw        Gateway
	log       *slog.Logger
	trialDays int

	mu    sync.Mutex
	locks map[int64]*sync.Mutex
}

func New(db Store, gw Gateway, trialDays int, log *slog.Logger) *Core {
	if trialDays <= 0 {
		trialDays = 3
	}
	return &Core{
		db:        db,
		gw:        gw,
		log:       log.With(sl.Module("core")),
		trialDays: trialDays,
		locks:     make(map[int64]*sync.Mutex),
	}
}

// userLock returns the mutex serializing all lifecycle transitions for one
// user id. Entries are never removed; the user population is small and the
// map grows with it, not with traffic.
func (c *Core) userLock(id int64) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	lock, ok := c.locks[id]
	if !ok {
		lock = &sync.Mutex{}
		c.locks[id] = lock
	}
	return lock
}

// RequestAccess records a user's access request: creates the record on
// first contact, resets denied/expired back to pending, leaves
// pending/accepted untouched. Returns the resulting status. Safe to call
// twice in a row: the second call is a no-op.
func (c *Core) RequestAccess(ctx context.Context, id int64, username string) (entity.AccessStatus, error) {
	lock := c.userLock(id)
	lock.Lock()
	defer lock.Unlock()

	if err := c.db.UpsertPendingUser(ctx, id, username); err != nil {
		return "", err
	}
	user, err := c.db.GetUser(ctx, id)
	if err != nil {
		return "", err
	}
	if user == nil {
		return "", entity.ErrNotFound
	}
	c.log.With(
		slog.Int64("user_id", id),
		slog.String("status", string(user.Status)),
	).Info("access requested")
	return user.Status, nil
}

// Approve grants days of access to a pending user and provisions configs.
// Valid only from pending: re-approving an accepted user reports
// ErrNotPending instead of double-provisioning. If any protocol fails to
// provision, the store is rolled back to pending and the failure surfaced:
// a user is never left accepted without working configs.
func (c *Core) Approve(ctx context.Context, id int64, days int) error {
	if days <= 0 {
		return entity.Invalid("duration must be positive, got %d", days)
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
	if !user.IsPending() {
		return entity.ErrNotPending
	}

	if err = c.db.GrantAccess(ctx, id, days); err != nil {
		return err
	}

	results := c.gw.Provision(ctx, id, days)
	if failed := entity.FailedResults(results); len(failed) > 0 {
		provErr := &entity.ProvisionError{UserId: id, Action: entity.ActionCreate, Results: failed}
		c.log.With(slog.Int64("user_id", id), sl.Err(provErr)).Error("approval provisioning failed, rolling back")
		// revert any partially created configs before dropping the grant
		_ = c.gw.Revoke(ctx, id)
		if rbErr := c.db.RevertGrant(ctx, id, entity.StatusPending); rbErr != nil {
			c.log.With(slog.Int64("user_id", id), sl.Err(rbErr)).Error("rollback to pending failed")
		}
		return provErr
	}

	c.log.With(
		slog.Int64("user_id", id),
		slog.Int("days", days),
	).Info("access approved")
	return nil
}

// Deny rejects a pending request.
func (c *Core) Deny(ctx context.Context, id int64) error {
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
	if !user.IsPending() {
		return entity.ErrNotPending
	}
	if err = c.db.SetStatus(ctx, id, entity.StatusDenied); err != nil {
		return err
	}
	c.log.With(slog.Int64("user_id", id)).Info("access denied")
	return nil
}

// Renew adjusts an accepted user's window and re-provisions with the new
// remaining duration. extend=true adds days on top of the current end
// (preserving unused time); extend=false replaces the window with now+days.
// The user is already entitled, so a provisioning failure here is reported
// for manual remediation but does not undo the store change.
func (c *Core) Renew(ctx context.Context, id int64, days int, extend bool) error {
	if days <= 0 {
		return entity.Invalid("duration must be positive, got %d", days)
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
	if !user.IsAccepted() {
		return entity.ErrNotAccepted
	}

	now := time.Now()
	var newEnd time.Time
	if extend {
		newEnd = user.ExtendedEnd(now, days)
	} else {
		newEnd = now.Add(time.Duration(days) * 24 * time.Hour)
	}

	if err = c.db.ExtendAccess(ctx, id, newEnd, false); err != nil {
		return err
	}
	return c.reprovision(ctx, id, newEnd, now)
}

// Expire transitions an accepted user whose window has closed. The status
// change is authoritative: a failed revoke is surfaced for manual cleanup
// but does not resurrect the entitlement.
func (c *Core) Expire(ctx context.Context, id int64) error {
	lock := c.userLock(id)
	lock.Lock()
	defer lock.Unlock()

	if err := c.db.SetExpired(ctx, id); err != nil {
		return err
	}
	c.log.With(slog.Int64("user_id", id)).Info("access expired")

	results := c.gw.Revoke(ctx, id)
	if failed := entity.FailedResults(results); len(failed) > 0 {
		return &entity.ProvisionError{UserId: id, Action: entity.ActionDelete, Results: failed}
	}
	return nil
}

// Delete removes the user entirely: configs revoked, record deleted.
// Returns false when the user was unknown.
func (c *Core) Delete(ctx context.Context, id int64) (bool, error) {
	lock := c.userLock(id)
	lock.Lock()
	defer lock.Unlock()

	results := c.gw.Revoke(ctx, id)
	if failed := entity.FailedResults(results); len(failed) > 0 {
		c.log.With(
			slog.Int64("user_id", id),
			sl.Err(&entity.ProvisionError{UserId: id, Action: entity.ActionDelete, Results: failed}),
		).Warn("revoke during delete failed")
	}
	return c.db.DeleteUser(ctx, id)
}

// reprovision re-runs revoke+create after a window change so the config
// files carry the new duration. days is the whole remaining days, at least 1.
func (c *Core) reprovision(ctx context.Context, id int64, newEnd, now time.Time) error {
	days := int(newEnd.Sub(now) / (24 * time.Hour))
	if days < 1 {
		days = 1
	}
	results := c.gw.Provision(ctx, id, days)
	if failed := entity.FailedResults(results); len(failed) > 0 {
		provErr := &entity.ProvisionError{UserId: id, Action: entity.ActionCreate, Results: failed}
		c.log.With(slog.Int64("user_id", id), sl.Err(provErr)).Error("re-provisioning failed")
		return provErr
	}
	return nil
}
