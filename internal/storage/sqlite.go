package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"planboard/internal/model"
	logx "planboard/pkg/logx"

	_ "modernc.org/sqlite"
)

//go:embed migrations.sql
var migrations string

// sqliteStore keeps sortable columns next to the JSON-encoded record.
type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for sqlite driver")
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

	if _, err := db.ExecContext(context.Background(), migrations); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite migrate: %w", err)
	}
	log.Debug("sqlite store opened", logx.String("path", path))
	return &sqliteStore{db: db, log: log}, nil
}

func (s *sqliteStore) Get(ctx context.Context, id string) (model.Record, bool, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT data FROM records WHERE id = ?`, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Record{}, false, nil
	}
	if err != nil {
		return model.Record{}, false, s.wrap(err)
	}
	var r model.Record
	if err := json.Unmarshal([]byte(data), &r); err != nil {
		return model.Record{}, false, fmt.Errorf("decode record %s: %w", id, err)
	}
	return r, true, nil
}

func (s *sqliteStore) Update(ctx context.Context, id string, rec model.Record) error {
	rec.ID = id
	b, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	var updated int64
	if !rec.UpdatedAt.IsZero() {
		updated = rec.UpdatedAt.UnixNano()
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO records(id, start_at, end_at, updated_at, data) VALUES(?,?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET start_at=excluded.start_at, end_at=excluded.end_at,
		   updated_at=excluded.updated_at, data=excluded.data`,
		id, rec.Start.UnixNano(), rec.End.UnixNano(), updated, string(b),
	)
	return s.wrap(err)
}

func (s *sqliteStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM records WHERE id = ?`, id)
	if err != nil {
		return s.wrap(err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *sqliteStore) List(ctx context.Context) ([]model.Record, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT data FROM records ORDER BY start_at, id`)
	if err != nil {
		return nil, s.wrap(err)
	}
	defer rows.Close()

	var out []model.Record
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var r model.Record
		if err := json.Unmarshal([]byte(data), &r); err != nil {
			s.log.Warn("skipping undecodable record", logx.Err(err))
			continue
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *sqliteStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) wrap(err error) error {
	if err != nil && strings.Contains(err.Error(), "database is closed") {
		return ErrClosed
	}
	return err
}
