package core

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"matrixvpn/entity"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeStore is an in-memory Store with the same conditional-update semantics
// as the sql implementation.
type fakeStore struct {
	mu     sync.Mutex
	users  map[int64]*entity.User
	promos map[string]*entity.PromoCode
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		users:  make(map[int64]*entity.User),
		promos: make(map[string]*entity.PromoCode),
	}
}

func (f *fakeStore) GetUser(_ context.Context, id int64) (*entity.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return nil, nil
	}
	cp := *u
	return &cp, nil
}

func (f *fakeStore) UpsertPendingUser(_ context.Context, id int64, username string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		now := time.Now()
		f.users[id] = &entity.User{Id: id, Username: username, Status: entity.StatusPending, EndAt: &now}
		return nil
	}
	if u.Status == entity.StatusDenied || u.Status == entity.StatusExpired {
		u.Status = entity.StatusPending
		u.Username = username
	}
	return nil
}

func (f *fakeStore) SetStatus(_ context.Context, id int64, status entity.AccessStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return entity.ErrNotFound
	}
	u.Status = status
	return nil
}

func (f *fakeStore) RevertGrant(_ context.Context, id int64, status entity.AccessStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return entity.ErrNotFound
	}
	u.Status = status
	u.GrantedAt = nil
	u.DurationDays = 0
	return nil
}

func (f *fakeStore) SetExpired(_ context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok || u.Status != entity.StatusAccepted {
		return entity.ErrNotFound
	}
	u.Status = entity.StatusExpired
	u.GrantedAt = nil
	u.DurationDays = 0
	return nil
}

func (f *fakeStore) GrantAccess(_ context.Context, id int64, days int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return entity.ErrNotFound
	}
	now := time.Now()
	end := now.Add(time.Duration(days) * 24 * time.Hour)
	u.Status = entity.StatusAccepted
	u.GrantedAt = &now
	u.DurationDays = days
	u.EndAt = &end
	return nil
}

func (f *fakeStore) ExtendAccess(_ context.Context, id int64, newEnd time.Time, markTrialUsed bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return entity.ErrNotFound
	}
	if markTrialUsed {
		if u.HasUsedTrial {
			return entity.ErrTrialUsed
		}
		u.HasUsedTrial = true
	}
	u.Status = entity.StatusAccepted
	u.EndAt = &newEnd
	return nil
}

func (f *fakeStore) RedeemPromoAndExtend(_ context.Context, code string, id int64, newEnd time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.promos[code]
	if !ok || !p.IsActive || p.UsesRemaining <= 0 {
		return entity.ErrPromoInvalid
	}
	u, ok := f.users[id]
	if !ok {
		return entity.ErrNotFound
	}
	p.UsesRemaining--
	if p.UsesRemaining == 0 {
		p.IsActive = false
	}
	u.Status = entity.StatusAccepted
	u.EndAt = &newEnd
	return nil
}

func (f *fakeStore) DeleteUser(_ context.Context, id int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.users[id]
	delete(f.users, id)
	return ok, nil
}

func (f *fakeStore) ListByStatus(_ context.Context, status entity.AccessStatus) ([]*entity.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*entity.User
	for _, u := range f.users {
		if u.Status == status {
			cp := *u
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *fakeStore) ListAll(_ context.Context) ([]*entity.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*entity.User
	for _, u := range f.users {
		cp := *u
		out = append(out, &cp)
	}
	return out, nil
}

func (f *fakeStore) AddPromo(_ context.Context, promo *entity.PromoCode) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *promo
	f.promos[promo.Code] = &cp
	return nil
}

func (f *fakeStore) GetPromo(_ context.Context, code string) (*entity.PromoCode, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.promos[code]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (f *fakeStore) DeletePromo(_ context.Context, code string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.promos[code]
	delete(f.promos, code)
	return ok, nil
}

func (f *fakeStore) ListPromos(_ context.Context) ([]*entity.PromoCode, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*entity.PromoCode
	for _, p := range f.promos {
		cp := *p
		out = append(out, &cp)
	}
	return out, nil
}

// fakeGateway records calls and fails protocols on demand.
type fakeGateway struct {
	mu          sync.Mutex
	failCreate  bool
	provisioned map[int64]int
	revoked     map[int64]int
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		provisioned: make(map[int64]int),
		revoked:     make(map[int64]int),
	}
}

func (g *fakeGateway) Provision(_ context.Context, userId int64, _ int) []entity.ProtocolResult {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.provisioned[userId]++
	if g.failCreate {
		return []entity.ProtocolResult{
			{Protocol: "wg", Action: entity.ActionCreate, Ok: true},
			{Protocol: "ov", Action: entity.ActionCreate, ExitCode: 1, Stderr: "easyrsa: boom", Ok: false},
		}
	}
	return []entity.ProtocolResult{
		{Protocol: "wg", Action: entity.ActionCreate, Ok: true},
		{Protocol: "ov", Action: entity.ActionCreate, Ok: true},
	}
}

func (g *fakeGateway) Revoke(_ context.Context, userId int64) []entity.ProtocolResult {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.revoked[userId]++
	return []entity.ProtocolResult{
		{Protocol: "wg", Action: entity.ActionDelete, Ok: true},
		{Protocol: "ov", Action: entity.ActionDelete, Ok: true},
	}
}

func newTestCore(db Store, gw Gateway) *Core {
	return New(db, gw, 3, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestRequestAccess(t *testing.T) {
	db := newFakeStore()
	c := newTestCore(db, newFakeGateway())
	ctx := context.Background()

	status, err := c.RequestAccess(ctx, 1, "neo")
	require.NoError(t, err)
	assert.Equal(t, entity.StatusPending, status)

	// repeated request stays pending
	status, err = c.RequestAccess(ctx, 1, "neo")
	require.NoError(t, err)
	assert.Equal(t, entity.StatusPending, status)
}

func TestApprove(t *testing.T) {
	db := newFakeStore()
	gw := newFakeGateway()
	c := newTestCore(db, gw)
	ctx := context.Background()

	_, err := c.RequestAccess(ctx, 1, "neo")
	require.NoError(t, err)

	require.NoError(t, c.Approve(ctx, 1, 30))
	user, _ := db.GetUser(ctx, 1)
	assert.Equal(t, entity.StatusAccepted, user.Status)
	assert.Equal(t, 1, gw.provisioned[1])

	// approving twice reports, not double-provisions
	err = c.Approve(ctx, 1, 30)
	assert.ErrorIs(t, err, entity.ErrNotPending)
	assert.Equal(t, 1, gw.provisioned[1])

	assert.ErrorIs(t, c.Approve(ctx, 999, 30), entity.ErrNotFound)

	var vErr *entity.ValidationError
	assert.ErrorAs(t, c.Approve(ctx, 1, 0), &vErr)
}

func TestApproveRollbackOnProvisionFailure(t *testing.T) {
	db := newFakeStore()
	gw := newFakeGateway()
	gw.failCreate = true
	c := newTestCore(db, gw)
	ctx := context.Background()

	_, err := c.RequestAccess(ctx, 1, "neo")
	require.NoError(t, err)

	err = c.Approve(ctx, 1, 30)
	var provErr *entity.ProvisionError
	require.ErrorAs(t, err, &provErr)
	assert.Equal(t, entity.ActionCreate, provErr.Action)

	// never accepted without working configs
	user, _ := db.GetUser(ctx, 1)
	assert.Equal(t, entity.StatusPending, user.Status)
	// the aborted grant leaves no audit fields behind
	assert.Nil(t, user.GrantedAt)
	assert.Zero(t, user.DurationDays)
	// partial configs were cleaned up
	assert.Equal(t, 1, gw.revoked[1])
}

func TestDenyAndReRequest(t *testing.T) {
	db := newFakeStore()
	c := newTestCore(db, newFakeGateway())
	ctx := context.Background()

	_, err := c.RequestAccess(ctx, 1, "neo")
	require.NoError(t, err)
	require.NoError(t, c.Deny(ctx, 1))

	user, _ := db.GetUser(ctx, 1)
	assert.Equal(t, entity.StatusDenied, user.Status)

	// denial is not final
	status, err := c.RequestAccess(ctx, 1, "neo")
	require.NoError(t, err)
	assert.Equal(t, entity.StatusPending, status)

	assert.ErrorIs(t, c.Deny(ctx, 999), entity.ErrNotFound)
}

func TestRenewExtendKeepsRemaining(t *testing.T) {
	db := newFakeStore()
	c := newTestCore(db, newFakeGateway())
	ctx := context.Background()

	_, _ = c.RequestAccess(ctx, 1, "neo")
	require.NoError(t, c.Approve(ctx, 1, 10))
	before, _ := db.GetUser(ctx, 1)

	require.NoError(t, c.Renew(ctx, 1, 5, true))
	after, _ := db.GetUser(ctx, 1)
	assert.WithinDuration(t, before.EndAt.Add(5*24*time.Hour), *after.EndAt, time.Second)
}

func TestRenewReplaceRestartsWindow(t *testing.T) {
	db := newFakeStore()
	c := newTestCore(db, newFakeGateway())
	ctx := context.Background()

	_, _ = c.RequestAccess(ctx, 1, "neo")
	require.NoError(t, c.Approve(ctx, 1, 100))

	require.NoError(t, c.Renew(ctx, 1, 5, false))
	after, _ := db.GetUser(ctx, 1)
	assert.WithinDuration(t, time.Now().Add(5*24*time.Hour), *after.EndAt, 5*time.Second)
}

func TestRenewRequiresActiveAccess(t *testing.T) {
	db := newFakeStore()
	c := newTestCore(db, newFakeGateway())
	ctx := context.Background()

	_, _ = c.RequestAccess(ctx, 1, "neo")
	assert.ErrorIs(t, c.Renew(ctx, 1, 5, true), entity.ErrNotAccepted)
	assert.ErrorIs(t, c.Renew(ctx, 999, 5, true), entity.ErrNotFound)
}

func TestExpire(t *testing.T) {
	db := newFakeStore()
	gw := newFakeGateway()
	c := newTestCore(db, gw)
	ctx := context.Background()

	_, _ = c.RequestAccess(ctx, 1, "neo")
	require.NoError(t, c.Approve(ctx, 1, 1))
	require.NoError(t, c.Expire(ctx, 1))

	user, _ := db.GetUser(ctx, 1)
	assert.Equal(t, entity.StatusExpired, user.Status)
	assert.Equal(t, 1, gw.revoked[1])
}

func TestDelete(t *testing.T) {
	db := newFakeStore()
	gw := newFakeGateway()
	c := newTestCore(db, gw)
	ctx := context.Background()

	_, _ = c.RequestAccess(ctx, 1, "neo")
	deleted, err := c.Delete(ctx, 1)
	require.NoError(t, err)
	assert.True(t, deleted)
	assert.Equal(t, 1, gw.revoked[1])

	deleted, err = c.Delete(ctx, 1)
	require.NoError(t, err)
	assert.False(t, deleted)
}

func TestRedeemTrial(t *testing.T) {
	db := newFakeStore()
	c := newTestCore(db, newFakeGateway())
	ctx := context.Background()

	_, _ = c.RequestAccess(ctx, 1, "neo")
	require.NoError(t, c.RedeemTrial(ctx, 1))

	user, _ := db.GetUser(ctx, 1)
	assert.Equal(t, entity.StatusAccepted, user.Status)
	assert.True(t, user.HasUsedTrial)
	assert.WithinDuration(t, time.Now().Add(3*24*time.Hour), *user.EndAt, 5*time.Second)

	// one trial per user, ever
	assert.ErrorIs(t, c.RedeemTrial(ctx, 1), entity.ErrTrialUsed)

	assert.ErrorIs(t, c.RedeemTrial(ctx, 999), entity.ErrNotFound)
}

func TestRedeemTrialConcurrent(t *testing.T) {
	db := newFakeStore()
	c := newTestCore(db, newFakeGateway())
	ctx := context.Background()

	_, _ = c.RequestAccess(ctx, 1, "neo")

	var wg sync.WaitGroup
	errs := make([]error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = c.RedeemTrial(ctx, 1)
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
		} else {
			assert.ErrorIs(t, err, entity.ErrTrialUsed)
		}
	}
	assert.Equal(t, 1, succeeded)
}

func TestRedeemTrialRollbackKeepsFlagConsumed(t *testing.T) {
	db := newFakeStore()
	gw := newFakeGateway()
	gw.failCreate = true
	c := newTestCore(db, gw)
	ctx := context.Background()

	_, _ = c.RequestAccess(ctx, 1, "neo")
	err := c.RedeemTrial(ctx, 1)
	var provErr *entity.ProvisionError
	require.ErrorAs(t, err, &provErr)

	user, _ := db.GetUser(ctx, 1)
	assert.Equal(t, entity.StatusPending, user.Status)
	assert.True(t, user.HasUsedTrial)
	assert.Nil(t, user.GrantedAt)
}

func TestRedeemTrialRejectedWhileActive(t *testing.T) {
	db := newFakeStore()
	c := newTestCore(db, newFakeGateway())
	ctx := context.Background()

	_, _ = c.RequestAccess(ctx, 1, "neo")
	require.NoError(t, c.Approve(ctx, 1, 30))

	var vErr *entity.ValidationError
	assert.ErrorAs(t, c.RedeemTrial(ctx, 1), &vErr)
}

func TestRedeemPromo(t *testing.T) {
	db := newFakeStore()
	c := newTestCore(db, newFakeGateway())
	ctx := context.Background()

	_, _ = c.RequestAccess(ctx, 1, "neo")
	require.NoError(t, c.AddPromo(ctx, "FREE7", 7, 1))

	require.NoError(t, c.RedeemPromo(ctx, 1, "FREE7"))
	user, _ := db.GetUser(ctx, 1)
	assert.Equal(t, entity.StatusAccepted, user.Status)

	// exhausted
	assert.ErrorIs(t, c.RedeemPromo(ctx, 1, "FREE7"), entity.ErrPromoInvalid)
	assert.ErrorIs(t, c.RedeemPromo(ctx, 1, "NOSUCH"), entity.ErrPromoInvalid)

	var vErr *entity.ValidationError
	assert.ErrorAs(t, c.RedeemPromo(ctx, 1, "bad code!"), &vErr)
}

func TestRedeemPromoExtendsFromCurrentEnd(t *testing.T) {
	db := newFakeStore()
	c := newTestCore(db, newFakeGateway())
	ctx := context.Background()

	_, _ = c.RequestAccess(ctx, 1, "neo")
	require.NoError(t, c.Approve(ctx, 1, 10))
	before, _ := db.GetUser(ctx, 1)

	require.NoError(t, c.AddPromo(ctx, "PLUS7", 7, 1))
	require.NoError(t, c.RedeemPromo(ctx, 1, "PLUS7"))

	after, _ := db.GetUser(ctx, 1)
	assert.WithinDuration(t, before.EndAt.Add(7*24*time.Hour), *after.EndAt, time.Second)
}

func TestRecordPayment(t *testing.T) {
	db := newFakeStore()
	c := newTestCore(db, newFakeGateway())
	ctx := context.Background()

	_, _ = c.RequestAccess(ctx, 1, "neo")
	require.NoError(t, c.RecordPayment(ctx, 1, 30))

	user, _ := db.GetUser(ctx, 1)
	assert.Equal(t, entity.StatusAccepted, user.Status)
	assert.WithinDuration(t, time.Now().Add(30*24*time.Hour), *user.EndAt, 5*time.Second)

	// a second payment stacks on top
	require.NoError(t, c.RecordPayment(ctx, 1, 30))
	user, _ = db.GetUser(ctx, 1)
	assert.WithinDuration(t, time.Now().Add(60*24*time.Hour), *user.EndAt, 5*time.Second)

	var vErr *entity.ValidationError
	assert.ErrorAs(t, c.RecordPayment(ctx, 1, 0), &vErr)
	assert.ErrorIs(t, c.RecordPayment(ctx, 999, 30), entity.ErrNotFound)
}

func TestAddPromoValidation(t *testing.T) {
	db := newFakeStore()
	c := newTestCore(db, newFakeGateway())
	ctx := context.Background()

	var vErr *entity.ValidationError
	assert.ErrorAs(t, c.AddPromo(ctx, "x", 7, 1), &vErr)
	assert.ErrorAs(t, c.AddPromo(ctx, "GOOD", 0, 1), &vErr)
	assert.ErrorAs(t, c.AddPromo(ctx, "GOOD", 7, 0), &vErr)

	require.NoError(t, c.AddPromo(ctx, "GOOD", 7, 1))
	assert.ErrorAs(t, c.AddPromo(ctx, "GOOD", 7, 1), &vErr)
}

func TestExportUsers(t *testing.T) {
	db := newFakeStore()
	c := newTestCore(db, newFakeGateway())
	ctx := context.Background()

	_, _ = c.RequestAccess(ctx, 1, "neo")
	require.NoError(t, c.Approve(ctx, 1, 30))

	export, err := c.ExportUsers(ctx)
	require.NoError(t, err)
	assert.Contains(t, export, "ID\tUsername\tStatus")
	assert.Contains(t, export, "neo")
	assert.Contains(t, export, "accepted")
}
