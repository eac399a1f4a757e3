package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"

	logx "newsbot/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Backend, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	st := &sqliteStore{db: db, log: log}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Load(ctx context.Context) (Snapshot, bool, error) {
	if s == nil || s.db == nil {
		return Snapshot{}, false, ErrClosed
	}
	groups, err := s.column(ctx, `SELECT chat_id FROM destinations ORDER BY pos, chat_id`)
	if err != nil {
		return Snapshot{}, false, fmt.Errorf("load destinations: %w", err)
	}
	staff, err := s.column(ctx, `SELECT user_id FROM staff ORDER BY pos, user_id`)
	if err != nil {
		return Snapshot{}, false, fmt.Errorf("load staff: %w", err)
	}
	if len(groups) == 0 && len(staff) == 0 {
		return Snapshot{}, false, nil
	}
	return Snapshot{Groups: groups, Staff: staff}, true, nil
}

func (s *sqliteStore) column(ctx context.Context, query string) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []int64
	for rows.Next() {
		var v int64
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// Save replaces both tables in one transaction.
func (s *sqliteStore) Save(ctx context.Context, snap Snapshot) error {
	if s == nil || s.db == nil {
		return ErrClosed
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if err := replaceColumn(ctx, tx, "destinations", "chat_id", snap.Groups); err != nil {
		return err
	}
	if err := replaceColumn(ctx, tx, "staff", "user_id", snap.Staff); err != nil {
		return err
	}
	return tx.Commit()
}

func replaceColumn(ctx context.Context, tx *sql.Tx, table, col string, vals []int64) error {
	if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
		return fmt.Errorf("clear %s: %w", table, err)
	}
	stmt, err := tx.PrepareContext(ctx, "INSERT OR IGNORE INTO "+table+"("+col+", pos) VALUES(?, ?)")
	if err != nil {
		return err
	}
	defer stmt.Close()
	for i, v := range vals {
		if _, err := stmt.ExecContext(ctx, v, i); err != nil {
			return fmt.Errorf("insert %s: %w", table, err)
		}
	}
	return nil
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
