package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"alertrelay/internal/domain"

	_ "modernc.org/sqlite"
)

// migrations are applied in order; index+1 is the schema version.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS alerts (
		fingerprint TEXT PRIMARY KEY,
		name        TEXT NOT NULL,
		status      TEXT NOT NULL,
		labels      TEXT NOT NULL,
		first_seen  INTEGER NOT NULL,
		last_seen   INTEGER NOT NULL,
		occurrences INTEGER NOT NULL DEFAULT 1
	)`,
	`CREATE INDEX IF NOT EXISTS idx_alerts_last_seen ON alerts(last_seen)`,
}

// SQLiteStore persists alert history in a local SQLite file.
// Params: database path; schema migrated on open.
// Returns: durable single-node history.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// OpenSQLite opens (or creates) database and runs migrations.
// Params: file path and clock function.
// Returns: store or open/migration error.
func OpenSQLite(path string, now func() time.Time) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create history dir %q: %w", dir, err)
		}
	}
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := migrate(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate history db: %w", err)
	}
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &SQLiteStore{db: db, now: now}, nil
}

// migrate applies pending migrations and records schema version.
func migrate(db *sql.DB) error {
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL)`); err != nil {
		return err
	}
	var current int
	err := db.QueryRow(`SELECT version FROM schema_version LIMIT 1`).Scan(&current)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if _, err := db.Exec(`INSERT INTO schema_version (version) VALUES (0)`); err != nil {
			return err
		}
	case err != nil:
		return err
	}

	for version := current + 1; version <= len(migrations); version++ {
		tx, err := db.Begin()
		if err != nil {
			return err
		}
		if _, err := tx.Exec(migrations[version-1]); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration %d: %w", version, err)
		}
		if _, err := tx.Exec(`UPDATE schema_version SET version = ?`, version); err != nil {
			_ = tx.Rollback()
			return err
		}
		if err := tx.Commit(); err != nil {
			return err
		}
	}
	return nil
}

// SchemaVersion returns applied migration count.
func (s *SQLiteStore) SchemaVersion(ctx context.Context) (int, error) {
	var version int
	err := s.db.QueryRowContext(ctx, `SELECT version FROM schema_version LIMIT 1`).Scan(&version)
	return version, err
}

// Store upserts alert by fingerprint and increments occurrences.
func (s *SQLiteStore) Store(ctx context.Context, alert domain.Alert) error {
	labels, err := json.Marshal(alert.Labels)
	if err != nil {
		return fmt.Errorf("encode labels: %w", err)
	}
	now := s.now().UnixMilli()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO alerts (fingerprint, name, status, labels, first_seen, last_seen, occurrences)
		VALUES (?, ?, ?, ?, ?, ?, 1)
		ON CONFLICT(fingerprint) DO UPDATE SET
			status = excluded.status,
			labels = excluded.labels,
			last_seen = excluded.last_seen,
			occurrences = alerts.occurrences + 1`,
		alert.Fingerprint, alert.Name(), string(alert.Status), string(labels), now, now)
	if err != nil {
		return fmt.Errorf("store alert %s: %w", alert.Fingerprint, err)
	}
	return nil
}

// Get loads one record by fingerprint.
func (s *SQLiteStore) Get(ctx context.Context, fingerprint string) (Record, bool, error) {
	var (
		record    Record
		labels    string
		firstSeen int64
		lastSeen  int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT fingerprint, name, status, labels, first_seen, last_seen, occurrences
		FROM alerts WHERE fingerprint = ?`, fingerprint).
		Scan(&record.Fingerprint, &record.Name, &record.Status, &labels, &firstSeen, &lastSeen, &record.Occurrences)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, fmt.Errorf("load alert %s: %w", fingerprint, err)
	}
	if err := json.Unmarshal([]byte(labels), &record.Labels); err != nil {
		return Record{}, false, fmt.Errorf("decode labels: %w", err)
	}
	record.FirstSeen = time.UnixMilli(firstSeen).UTC()
	record.LastSeen = time.UnixMilli(lastSeen).UTC()
	return record, true, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
