package database

import (
	"context"
	"fmt"
	"os"
	"strings"

	"matrixvpn/lib/clock"
)

// Backup writes a consistent snapshot of both tables to destPath.
//
// On sqlite this is VACUUM INTO, which takes its own read transaction and
// is safe against concurrent writers (unlike copying the live file, which
// can capture a half-applied WAL frame). On mysql there is no file to
// snapshot, so the backup is a tab-separated export of both tables read in
// a single transaction.
func (s *Store) Backup(ctx context.Context, destPath string) error {
	if err := os.Remove(destPath); err != nil && !os.IsNotExist(err) {
		return s.wrap("backup remove stale", err)
	}
	if s.driver == "sqlite3" {
		if _, err := s.db.ExecContext(ctx, `VACUUM INTO ?`, destPath); err != nil {
			return s.wrap("backup vacuum", err)
		}
		return nil
	}
	return s.exportTables(ctx, destPath)
}

func (s *Store) exportTables(ctx context.Context, destPath string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return s.wrap("backup begin", err)
	}
	defer func() { _ = tx.Rollback() }()

	var sb strings.Builder
	sb.WriteString("# matrixvpn backup " + clock.Now() + "\n")

	for _, table := range []string{"users", "promo_codes"} {
		rows, qerr := tx.QueryContext(ctx, `SELECT * FROM `+table)
		if qerr != nil {
			return s.wrap("backup query "+table, qerr)
		}
		cols, cerr := rows.Columns()
		if cerr != nil {
			_ = rows.Close()
			return s.wrap("backup columns "+table, cerr)
		}
		sb.WriteString("## " + table + "\n")
		sb.WriteString(strings.Join(cols, "\t") + "\n")

		values := make([]interface{}, len(cols))
		ptrs := make([]interface{}, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		for rows.Next() {
			if serr := rows.Scan(ptrs...); serr != nil {
				_ = rows.Close()
				return s.wrap("backup scan "+table, serr)
			}
			fields := make([]string, len(values))
			for i, v := range values {
				switch val := v.(type) {
				case nil:
					fields[i] = ""
				case []byte:
					fields[i] = string(val)
				default:
					fields[i] = fmt.Sprintf("%v", val)
				}
			}
			sb.WriteString(strings.Join(fields, "\t") + "\n")
		}
		ierr := rows.Err()
		_ = rows.Close()
		if ierr != nil {
			return s.wrap("backup iterate "+table, ierr)
		}
	}

	if err = os.WriteFile(destPath, []byte(sb.String()), 0600); err != nil {
		return s.wrap("backup write", err)
	}
	return nil
}
