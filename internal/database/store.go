// Package database implements the entitlement store on database/sql.
// The default backend is a single sqlite file (which the backup job can
// snapshot consistently with VACUUM INTO); a mysql DSN can be configured
// instead for a shared server. All statements use '?' placeholders, which
// both drivers accept.
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"matrixvpn/entity"
	"matrixvpn/internal/config"
	"matrixvpn/lib/clock"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/mattn/go-sqlite3"
)

const schemaUsers = `
CREATE TABLE IF NOT EXISTS users (
	id INTEGER PRIMARY KEY,
	username TEXT,
	status TEXT NOT NULL DEFAULT 'pending',
	access_granted_at TEXT,
	access_duration_days INTEGER,
	access_end_at TEXT,
	last_notification_id INTEGER,
	has_used_trial INTEGER NOT NULL DEFAULT 0
)`

const schemaPromoCodes = `
CREATE TABLE IF NOT EXISTS promo_codes (
	code VARCHAR(64) PRIMARY KEY,
	days_duration INTEGER NOT NULL,
	is_active INTEGER NOT NULL DEFAULT 1,
	uses_remaining INTEGER NOT NULL DEFAULT 1
)`

type Store struct {
	db     *sql.DB
	driver string
	path   string // sqlite file, empty for mysql
}

func New(conf *config.Config) (*Store, error) {
	driver := conf.Database.Driver
	var dsn string
	switch driver {
	case "sqlite3", "":
		driver = "sqlite3"
		dsn = fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL", conf.Database.Path)
	case "mysql":
		dsn = conf.Database.Dsn
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", conf.Database.Driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err = db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if driver == "sqlite3" {
		// a single writer connection avoids SQLITE_BUSY under concurrent
		// lifecycle transitions
		db.SetMaxOpenConns(1)
	}

	s := &Store{db: db, driver: driver, path: conf.Database.Path}
	if err = s.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) init() error {
	for _, stmt := range []string{schemaUsers, schemaPromoCodes} {
		if _, err := s.db.Exec(stmt); err != nil {
			return s.wrap("init schema", err)
		}
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) wrap(op string, err error) error {
	return &entity.StoreError{Op: op, Err: err}
}

const userColumns = `id, username, status, access_granted_at, access_duration_days,
	access_end_at, last_notification_id, has_used_trial`

func scanUser(row interface{ Scan(...interface{}) error }) (*entity.User, error) {
	var (
		u        entity.User
		username sql.NullString
		granted  sql.NullString
		duration sql.NullInt64
		endAt    sql.NullString
		notifId  sql.NullInt64
		trial    int
	)
	err := row.Scan(&u.Id, &username, &u.Status, &granted, &duration, &endAt, &notifId, &trial)
	if err != nil {
		return nil, err
	}
	u.Username = username.String
	u.DurationDays = int(duration.Int64)
	u.LastNotificationId = notifId.Int64
	u.HasUsedTrial = trial != 0
	if granted.Valid {
		if t, perr := clock.Parse(granted.String); perr == nil {
			u.GrantedAt = &t
		}
	}
	if endAt.Valid {
		if t, perr := clock.Parse(endAt.String); perr == nil {
			u.EndAt = &t
		}
	}
	return &u, nil
}

// GetUser returns nil without error when the user is unknown.
func (s *Store) GetUser(ctx context.Context, id int64) (*entity.User, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = ?`, id)
	user, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, s.wrap("get user", err)
	}
	return user, nil
}

// UpsertPendingUser creates the record on first contact or resets a
// denied/expired user back to pending. Pending and accepted users are left
// untouched. The whole read-decide-write runs in one transaction so two
// concurrent first requests produce exactly one row.
func (s *Store) UpsertPendingUser(ctx context.Context, id int64, username string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return s.wrap("upsert pending begin", err)
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx, `SELECT status FROM users WHERE id = ?`, id)
	var status entity.AccessStatus
	err = row.Scan(&status)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		now := clock.Now()
		// access_end_at starts at "now": a sentinel for "no access yet",
		// not a real expiry
		_, err = tx.ExecContext(ctx,
			`INSERT INTO users (id, username, status, access_granted_at, access_duration_days, access_end_at)
			 VALUES (?, ?, ?, ?, 0, ?)`,
			id, username, entity.StatusPending, now, now)
		if err != nil {
			return s.wrap("insert pending user", err)
		}
	case err != nil:
		return s.wrap("upsert pending select", err)
	case status == entity.StatusDenied || status == entity.StatusExpired:
		_, err = tx.ExecContext(ctx,
			`UPDATE users SET status = ?, username = ? WHERE id = ?`,
			entity.StatusPending, username, id)
		if err != nil {
			return s.wrap("reset to pending", err)
		}
	default:
		// pending or accepted: nothing to do
	}

	if err = tx.Commit(); err != nil {
		return s.wrap("upsert pending commit", err)
	}
	return nil
}

func (s *Store) SetStatus(ctx context.Context, id int64, status entity.AccessStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE users SET status = ? WHERE id = ?`, status, id)
	if err != nil {
		return s.wrap("set status", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return entity.ErrNotFound
	}
	return nil
}

// SetExpired moves an accepted user to expired and clears the grant audit
// fields, leaving access_end_at in place for the record.
func (s *Store) SetExpired(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE users SET status = ?, access_granted_at = NULL, access_duration_days = NULL
		 WHERE id = ? AND status = ?`,
		entity.StatusExpired, id, entity.StatusAccepted)
	if err != nil {
		return s.wrap("set expired", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return entity.ErrNotFound
	}
	return nil
}

// RevertGrant undoes an aborted grant: status back to the given value, the
// grant audit fields cleared the same way SetExpired clears them.
func (s *Store) RevertGrant(ctx context.Context, id int64, status entity.AccessStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE users SET status = ?, access_granted_at = NULL, access_duration_days = NULL
		 WHERE id = ?`,
		status, id)
	if err != nil {
		return s.wrap("revert grant", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return entity.ErrNotFound
	}
	return nil
}

// GrantAccess replaces the whole access window: status=accepted,
// granted=now, end=now+days. One statement, so there is no partial state.
func (s *Store) GrantAccess(ctx context.Context, id int64, days int) error {
	now := time.Now()
	end := now.Add(time.Duration(days) * 24 * time.Hour)
	res, err := s.db.ExecContext(ctx,
		`UPDATE users SET status = ?, access_granted_at = ?, access_duration_days = ?, access_end_at = ?
		 WHERE id = ?`,
		entity.StatusAccepted, clock.Format(now), days, clock.Format(end), id)
	if err != nil {
		return s.wrap("grant access", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return entity.ErrNotFound
	}
	return nil
}

// ExtendAccess sets status=accepted with the given end instant. With
// markTrialUsed the update is conditional on has_used_trial=0 and flips the
// flag in the same statement, so two concurrent trial redemptions cannot
// both succeed.
func (s *Store) ExtendAccess(ctx context.Context, id int64, newEnd time.Time, markTrialUsed bool) error {
	var (
		res sql.Result
		err error
	)
	if markTrialUsed {
		res, err = s.db.ExecContext(ctx,
			`UPDATE users SET status = ?, access_end_at = ?, access_granted_at = ?, has_used_trial = 1
			 WHERE id = ? AND has_used_trial = 0`,
			entity.StatusAccepted, clock.Format(newEnd), clock.Now(), id)
	} else {
		res, err = s.db.ExecContext(ctx,
			`UPDATE users SET status = ?, access_end_at = ? WHERE id = ?`,
			entity.StatusAccepted, clock.Format(newEnd), id)
	}
	if err != nil {
		return s.wrap("extend access", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		if markTrialUsed {
			user, gerr := s.GetUser(ctx, id)
			if gerr == nil && user != nil {
				return entity.ErrTrialUsed
			}
		}
		return entity.ErrNotFound
	}
	return nil
}

// RedeemPromoAndExtend runs the conditional promo decrement and the user
// extension in one transaction. Either both happen or neither: no credit
// without decrement, no double-credit on a concurrent redemption.
func (s *Store) RedeemPromoAndExtend(ctx context.Context, code string, id int64, newEnd time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return s.wrap("redeem promo begin", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx,
		`UPDATE promo_codes
		 SET uses_remaining = uses_remaining - 1,
		     is_active = CASE WHEN uses_remaining <= 1 THEN 0 ELSE is_active END
		 WHERE code = ? AND is_active = 1 AND uses_remaining > 0`,
		code)
	if err != nil {
		return s.wrap("redeem promo", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return entity.ErrPromoInvalid
	}

	res, err = tx.ExecContext(ctx,
		`UPDATE users SET status = ?, access_end_at = ? WHERE id = ?`,
		entity.StatusAccepted, clock.Format(newEnd), id)
	if err != nil {
		return s.wrap("redeem promo extend", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return entity.ErrNotFound
	}

	if err = tx.Commit(); err != nil {
		return s.wrap("redeem promo commit", err)
	}
	return nil
}

func (s *Store) DeleteUser(ctx context.Context, id int64) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM users WHERE id = ?`, id)
	if err != nil {
		return false, s.wrap("delete user", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (s *Store) SetLastNotification(ctx context.Context, id int64, messageId int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE users SET last_notification_id = ? WHERE id = ?`, messageId, id)
	if err != nil {
		return s.wrap("set last notification", err)
	}
	return nil
}

func (s *Store) ListByStatus(ctx context.Context, status entity.AccessStatus) ([]*entity.User, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE status = ? ORDER BY id`, status)
	if err != nil {
		return nil, s.wrap("list by status", err)
	}
	return collectUsers(rows, s)
}

func (s *Store) ListAll(ctx context.Context) ([]*entity.User, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+userColumns+` FROM users ORDER BY id`)
	if err != nil {
		return nil, s.wrap("list all", err)
	}
	return collectUsers(rows, s)
}

func collectUsers(rows *sql.Rows, s *Store) ([]*entity.User, error) {
	defer func() { _ = rows.Close() }()
	var users []*entity.User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, s.wrap("scan user", err)
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, s.wrap("iterate users", err)
	}
	return users, nil
}
