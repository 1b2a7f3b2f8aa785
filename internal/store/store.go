// Package store persists the tracked-set: the durable set of torrent hashes
// this service submitted and still reports on, plus an in-memory cache of
// last-known descriptive metadata per hash. Membership survives restarts;
// the metadata cache does not and is best-effort only.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver, registers as "sqlite".

	"torrentbridge/internal/qbit"
)

// walJournalSizeLimit caps the WAL file at 64 MiB.
const walJournalSizeLimit = 67108864

// Metadata is the cached descriptive state for a tracked hash. Name and
// Category come from status snapshots; RequestID is only ever set at
// submission time because the download client has no concept of it.
type Metadata struct {
	RequestID string
	Name      string
	Category  string
}

// Tracked-set queries.
const (
	sqlAddHash = `INSERT INTO tracked_hashes (hash, added_at) VALUES (?, ?)
		ON CONFLICT(hash) DO NOTHING`

	sqlRemoveHash = `DELETE FROM tracked_hashes WHERE hash = ?`

	sqlListHashes = `SELECT hash FROM tracked_hashes ORDER BY added_at, hash`
)

// SQLiteStore implements the tracked-set on an embedded SQLite database with
// WAL mode. Membership operations are durable and idempotent; the metadata
// cache lives in memory behind its own lock.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger

	addStmt    *sql.Stmt
	removeStmt *sql.Stmt
	listStmt   *sql.Stmt

	metaMu sync.RWMutex
	meta   map[string]Metadata
}

// NewStore opens the database at dbPath, applies migrations, and prepares
// the membership statements. Use ":memory:" for tests.
func NewStore(dbPath string, logger *slog.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = slog.Default()
	}

	logger.Info("opening tracked-set database", slog.String("path", dbPath))

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("store: open sqlite: %w", err)
	}

	if err := setPragmas(context.Background(), db); err != nil {
		db.Close()
		return nil, err
	}

	if err := runMigrations(context.Background(), db, logger); err != nil {
		db.Close()
		return nil, err
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
		meta:   make(map[string]Metadata),
	}

	if err := s.prepareStatements(context.Background()); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

// setPragmas configures SQLite for WAL mode and safety.
func setPragmas(ctx context.Context, db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = FULL",
		fmt.Sprintf("PRAGMA journal_size_limit = %d", walJournalSizeLimit),
	}

	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			return fmt.Errorf("store: set pragma %q: %w", p, err)
		}
	}

	return nil
}

func (s *SQLiteStore) prepareStatements(ctx context.Context) error {
	defs := []struct {
		dest **sql.Stmt
		sql  string
		name string
	}{
		{&s.addStmt, sqlAddHash, "addHash"},
		{&s.removeStmt, sqlRemoveHash, "removeHash"},
		{&s.listStmt, sqlListHashes, "listHashes"},
	}

	for i := range defs {
		stmt, err := s.db.PrepareContext(ctx, defs[i].sql)
		if err != nil {
			return fmt.Errorf("store: prepare %s: %w", defs[i].name, err)
		}

		*defs[i].dest = stmt
	}

	return nil
}

// Add durably adds a hash to the tracked set and caches its metadata.
// Idempotent: adding an already-present hash is not an error and leaves a
// single member.
func (s *SQLiteStore) Add(ctx context.Context, hash string, meta Metadata) error {
	s.logger.Debug("tracking hash", slog.String("hash", hash), slog.String("request_id", meta.RequestID))

	if _, err := s.addStmt.ExecContext(ctx, hash, time.Now().UnixNano()); err != nil {
		return fmt.Errorf("store: add %s: %w", hash, err)
	}

	s.SetMetadata(hash, meta)

	return nil
}

// Remove durably removes a hash and evicts its cached metadata. Removal is
// final: re-adding requires a new submit command.
func (s *SQLiteStore) Remove(ctx context.Context, hash string) error {
	s.logger.Debug("untracking hash", slog.String("hash", hash))

	if _, err := s.removeStmt.ExecContext(ctx, hash); err != nil {
		return fmt.Errorf("store: remove %s: %w", hash, err)
	}

	s.metaMu.Lock()
	delete(s.meta, hash)
	s.metaMu.Unlock()

	return nil
}

// ListTracked returns the current durable membership. On process start this
// is the resume point; no separate load step exists.
func (s *SQLiteStore) ListTracked(ctx context.Context) ([]string, error) {
	rows, err := s.listStmt.QueryContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("store: list tracked: %w", err)
	}
	defer rows.Close()

	var hashes []string

	for rows.Next() {
		var hash string
		if err := rows.Scan(&hash); err != nil {
			return nil, fmt.Errorf("store: scan tracked row: %w", err)
		}

		hashes = append(hashes, hash)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate tracked rows: %w", err)
	}

	return hashes, nil
}

// GetMetadata returns the cached metadata for a hash. The second return
// value is false for an unknown hash; no placeholder is ever returned.
func (s *SQLiteStore) GetMetadata(hash string) (Metadata, bool) {
	s.metaMu.RLock()
	defer s.metaMu.RUnlock()

	meta, ok := s.meta[hash]

	return meta, ok
}

// SetMetadata caches metadata for a hash, replacing any previous entry.
func (s *SQLiteStore) SetMetadata(hash string, meta Metadata) {
	s.metaMu.Lock()
	defer s.metaMu.Unlock()

	s.meta[hash] = meta
}

// RefreshFromSnapshots updates cached name and category from a status query
// result. Any previously known request id is preserved: the download client
// does not know it and must never overwrite it.
func (s *SQLiteStore) RefreshFromSnapshots(snapshots []qbit.Snapshot) {
	s.metaMu.Lock()
	defer s.metaMu.Unlock()

	for _, snap := range snapshots {
		meta := s.meta[snap.Hash] // zero value keeps RequestID empty
		meta.Name = snap.Name
		meta.Category = snap.Category
		s.meta[snap.Hash] = meta
	}
}

// Close closes the prepared statements and the database connection.
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing tracked-set database")

	for _, stmt := range []*sql.Stmt{s.addStmt, s.removeStmt, s.listStmt} {
		if stmt != nil {
			if err := stmt.Close(); err != nil {
				s.logger.Error("error closing statement", slog.String("error", err.Error()))
			}
		}
	}

	if err := s.db.Close(); err != nil {
		return fmt.Errorf("store: close database: %w", err)
	}

	return nil
}
