package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/semmidev/markavault/internal/domain"
)

var ErrClosed = errors.New("database is closed")

const schema = `
	CREATE TABLE IF NOT EXISTS settings (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at DATETIME NOT NULL
	);
	CREATE TABLE IF NOT EXISTS backups (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		filename TEXT NOT NULL,
		file_path TEXT,
		size_bytes INTEGER NOT NULL,
		type TEXT NOT NULL CHECK (type IN ('manual', 'automatic')),
		providers TEXT,
		created_at DATETIME NOT NULL
	);
	CREATE TABLE IF NOT EXISTS sync_history (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		artifact_name TEXT NOT NULL,
		size_bytes INTEGER NOT NULL,
		type TEXT NOT NULL CHECK (type IN ('push', 'pull')),
		providers TEXT,
		created_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_backups_created ON backups(created_at);
	CREATE INDEX IF NOT EXISTS idx_sync_history_created ON sync_history(created_at);
`

const pragmas = `
	PRAGMA journal_mode=WAL;
	PRAGMA synchronous=NORMAL;
	PRAGMA temp_store=MEMORY;
	PRAGMA foreign_keys=ON;
`

// SQLite owns the live data file. Close and Initialize may be called any
// number of times; a restore closes it for the swap and reopens it after.
type SQLite struct {
	path string

	mu sync.RWMutex
	db *sql.DB
}

func NewSQLite(path string) *SQLite {
	return &SQLite{path: path}
}

func (s *SQLite) Path() string {
	return s.path
}

// Initialize opens the file, applying the schema. It is a no-op when the
// database is already open.
func (s *SQLite) Initialize(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db != nil {
		return nil
	}

	db, err := sql.Open("sqlite3", s.path+"?_busy_timeout=5000")
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return fmt.Errorf("failed to open database: %w", err)
	}
	if _, err := db.ExecContext(ctx, pragmas); err != nil {
		db.Close()
		return fmt.Errorf("failed to apply pragmas: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return fmt.Errorf("failed to apply schema: %w", err)
	}

	s.db = db
	return nil
}

// Close folds the WAL back into the main file and closes the handle.
func (s *SQLite) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return nil
	}
	_, cpErr := s.db.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)")
	err := s.db.Close()
	s.db = nil
	if err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	if cpErr != nil {
		return fmt.Errorf("failed to checkpoint before close: %w", cpErr)
	}
	return nil
}

// Checkpoint copies committed WAL frames into the main file so a file level
// copy taken right after sees them.
func (s *SQLite) Checkpoint(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.db == nil {
		return nil
	}
	var busy, logFrames, checkpointed int
	if err := s.db.QueryRowContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)").Scan(&busy, &logFrames, &checkpointed); err != nil {
		return fmt.Errorf("failed to checkpoint: %w", err)
	}
	if busy != 0 {
		return fmt.Errorf("checkpoint blocked by a concurrent reader or writer")
	}
	return nil
}

func (s *SQLite) handle() (*sql.DB, func(), error) {
	s.mu.RLock()
	if s.db == nil {
		s.mu.RUnlock()
		return nil, nil, ErrClosed
	}
	return s.db, s.mu.RUnlock, nil
}

func (s *SQLite) Get(ctx context.Context, key string) (string, bool, error) {
	db, release, err := s.handle()
	if err != nil {
		return "", false, err
	}
	defer release()

	var value string
	err = db.QueryRowContext(ctx, "SELECT value FROM settings WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read setting %s: %w", key, err)
	}
	return value, true, nil
}

func (s *SQLite) Set(ctx context.Context, key, value string) error {
	db, release, err := s.handle()
	if err != nil {
		return err
	}
	defer release()

	_, err = db.ExecContext(ctx, `
		INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, key, value, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to write setting %s: %w", key, err)
	}
	return nil
}

// RecordTransfer appends one history row: backups for local snapshots,
// sync_history for push and pull.
func (s *SQLite) RecordTransfer(ctx context.Context, rec domain.TransferRecord) error {
	db, release, err := s.handle()
	if err != nil {
		return err
	}
	defer release()

	providers := strings.Join(rec.Providers, ",")
	switch rec.Type {
	case domain.TransferPush, domain.TransferPull:
		_, err = db.ExecContext(ctx, `
			INSERT INTO sync_history (artifact_name, size_bytes, type, providers, created_at)
			VALUES (?, ?, ?, ?, ?)
		`, rec.ArtifactName, rec.SizeBytes, string(rec.Type), providers, rec.CreatedAt.UTC())
	default:
		_, err = db.ExecContext(ctx, `
			INSERT INTO backups (filename, file_path, size_bytes, type, providers, created_at)
			VALUES (?, ?, ?, ?, ?, ?)
		`, rec.ArtifactName, rec.LocalPath, rec.SizeBytes, string(rec.Type), providers, rec.CreatedAt.UTC())
	}
	if err != nil {
		return fmt.Errorf("failed to record %s transfer: %w", rec.Type, err)
	}
	return nil
}

// History returns up to limit records from both tables, newest first.
func (s *SQLite) History(ctx context.Context, limit int) ([]domain.TransferRecord, error) {
	db, release, err := s.handle()
	if err != nil {
		return nil, err
	}
	defer release()

	var records []domain.TransferRecord
	queries := []string{
		`SELECT filename, COALESCE(file_path, ''), size_bytes, type, COALESCE(providers, ''), created_at
		 FROM backups ORDER BY created_at DESC LIMIT ?`,
		`SELECT artifact_name, '', size_bytes, type, COALESCE(providers, ''), created_at
		 FROM sync_history ORDER BY created_at DESC LIMIT ?`,
	}
	for _, q := range queries {
		rows, err := db.QueryContext(ctx, q, limit)
		if err != nil {
			return nil, fmt.Errorf("failed to query history: %w", err)
		}
		for rows.Next() {
			var (
				rec       domain.TransferRecord
				typ       string
				providers string
			)
			if err := rows.Scan(&rec.ArtifactName, &rec.LocalPath, &rec.SizeBytes, &typ, &providers, &rec.CreatedAt); err != nil {
				rows.Close()
				return nil, fmt.Errorf("failed to scan history: %w", err)
			}
			rec.Type = domain.TransferType(typ)
			if providers != "" {
				rec.Providers = strings.Split(providers, ",")
			}
			records = append(records, rec)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to read history: %w", err)
		}
		rows.Close()
	}

	sort.SliceStable(records, func(i, j int) bool {
		return records[i].CreatedAt.After(records[j].CreatedAt)
	})
	if len(records) > limit {
		records = records[:limit]
	}
	return records, nil
}

// IntegrityChecker runs SQLite's own consistency check on a file other than
// the live one.
type IntegrityChecker struct{}

func NewIntegrityChecker() *IntegrityChecker {
	return &IntegrityChecker{}
}

func (IntegrityChecker) CheckIntegrity(ctx context.Context, path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	dsn := (&url.URL{Scheme: "file", Path: abs, RawQuery: "mode=ro"}).String()

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer db.Close()

	rows, err := db.QueryContext(ctx, "PRAGMA integrity_check")
	if err != nil {
		return fmt.Errorf("integrity check could not run: %w", err)
	}
	defer rows.Close()

	var problems []string
	for rows.Next() {
		var line string
		if err := rows.Scan(&line); err != nil {
			return fmt.Errorf("integrity check could not run: %w", err)
		}
		if line != "ok" {
			problems = append(problems, line)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("integrity check could not run: %w", err)
	}
	if len(problems) > 0 {
		return fmt.Errorf("integrity check failed: %s", strings.Join(problems, "; "))
	}
	return nil
}
