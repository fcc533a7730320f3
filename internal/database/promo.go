package database

import (
	"context"
	"database/sql"
	"errors"

	"matrixvpn/entity"
)

func (s *Store) AddPromo(ctx context.Context, promo *entity.PromoCode) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO promo_codes (code, days_duration, is_active, uses_remaining)
		 VALUES (?, ?, ?, ?)`,
		promo.Code, promo.Days, boolToInt(promo.IsActive), promo.UsesRemaining)
	if err != nil {
		return s.wrap("add promo", err)
	}
	return nil
}

// GetPromo returns nil without error when the code is unknown.
func (s *Store) GetPromo(ctx context.Context, code string) (*entity.PromoCode, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT code, days_duration, is_active, uses_remaining FROM promo_codes WHERE code = ?`,
		code)
	promo, err := scanPromo(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, s.wrap("get promo", err)
	}
	return promo, nil
}

func (s *Store) DeletePromo(ctx context.Context, code string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM promo_codes WHERE code = ?`, code)
	if err != nil {
		return false, s.wrap("delete promo", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (s *Store) ListPromos(ctx context.Context) ([]*entity.PromoCode, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT code, days_duration, is_active, uses_remaining FROM promo_codes ORDER BY code`)
	if err != nil {
		return nil, s.wrap("list promos", err)
	}
	defer func() { _ = rows.Close() }()

	var promos []*entity.PromoCode
	for rows.Next() {
		promo, serr := scanPromo(rows)
		if serr != nil {
			return nil, s.wrap("scan promo", serr)
		}
		promos = append(promos, promo)
	}
	if err = rows.Err(); err != nil {
		return nil, s.wrap("iterate promos", err)
	}
	return promos, nil
}

func scanPromo(row interface{ Scan(...interface{}) error }) (*entity.PromoCode, error) {
	var (
		p      entity.PromoCode
		active int
	)
	if err := row.Scan(&p.Code, &p.Days, &active, &p.UsesRemaining); err != nil {
		return nil, err
	}
	p.IsActive = active != 0
	return &p, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
