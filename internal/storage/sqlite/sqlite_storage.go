// Package sqlite implements core.SnapshotStore, core.CompetitorStore and
// core.AlertStore on top of an embedded SQLite database. It backs the "lite"
// deployment profile (single-node, no external dependencies).
//
// Features:
//   - WAL mode enabled (concurrent reads during writes)
//   - Foreign keys enabled (cascading deletes of snapshot diffs)
//   - Secure file permissions (0600, owner read/write only)
//   - Schema shared in shape with the Postgres adapter
//
// Limitations:
//   - No horizontal scaling (single-node only)
//   - Limited concurrency (max 10 connections)
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	// Pure Go SQLite driver (no CGO, easier cross-compilation)
	_ "modernc.org/sqlite"

	"github.com/ramfiaogusto/watchtower/internal/core"
	"github.com/ramfiaogusto/watchtower/internal/storage"
)

func newID() string {
	return uuid.NewString()
}

// dbConn is the subset of *sql.DB / *sql.Tx this package needs, letting the
// same query methods run either against the pooled connection or a single
// transaction opened by WithTx.
type dbConn interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// SQLiteStorage implements core.SnapshotStore, core.CompetitorStore and
// core.AlertStore using SQLite. A zero-value db field means the instance is
// scoped to one transaction (see WithTx); only the root instance returned by
// NewSQLiteStorage owns the pool and may be closed.
type SQLiteStorage struct {
	db     *sql.DB      // non-nil only on the root instance; owns the connection pool
	conn   dbConn       // query target: db itself, or a *sql.Tx when transaction-scoped
	logger *slog.Logger
	path   string
}

// NewSQLiteStorage opens (creating if necessary) the SQLite database at path
// and initializes its schema. Path must be absolute or relative to the
// current working directory; the file is created with mode 0600 and its
// parent directory with mode 0700.
func NewSQLiteStorage(ctx context.Context, path string, logger *slog.Logger) (*SQLiteStorage, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if path == "" {
		return nil, &storage.ErrInvalidFilePath{Path: path, Reason: "path cannot be empty"}
	}
	if strings.Contains(path, "..") {
		return nil, &storage.ErrInvalidFilePath{Path: path, Reason: "contains '..'"}
	}
	forbiddenPrefixes := []string{"/etc", "/sys", "/proc", "/dev"}
	for _, prefix := range forbiddenPrefixes {
		if strings.HasPrefix(path, prefix) {
			return nil, &storage.ErrInvalidFilePath{Path: path, Reason: fmt.Sprintf("forbidden path prefix %s", prefix)}
		}
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, &storage.ErrStorageInitFailed{Backend: "sqlite", Cause: err}
	}

	// ?cache=shared: shared cache across connections in the pool.
	// ?mode=rwc: read-write-create.
	// _pragma=journal_mode(WAL): write-ahead logging for concurrent reads during writes.
	// _pragma=foreign_keys(1): foreign keys on every pooled connection.
	dsn := fmt.Sprintf("file:%s?cache=shared&mode=rwc&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)", path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, &storage.ErrConnectionFailed{Backend: "sqlite", Cause: err}
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)
	db.SetConnMaxIdleTime(10 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, &storage.ErrConnectionFailed{Backend: "sqlite", Cause: err}
	}

	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, &storage.ErrSchemaInitFailed{Backend: "sqlite", Cause: err}
	}

	s := &SQLiteStorage{db: db, conn: db, logger: logger, path: path}

	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}

	if err := os.Chmod(path, 0600); err != nil {
		logger.Warn("failed to set sqlite file permissions to 0600", "path", path, "error", err)
	}

	logger.Info("sqlite storage initialized", "path", path, "wal_mode", true, "max_open_conns", 10)
	return s, nil
}

// initSchema creates the competitors, snapshots, snapshot_diffs and alerts
// tables plus the indexes the Version Engine and Scheduler rely on.
func (s *SQLiteStorage) initSchema(ctx context.Context) error {
	schema := `
CREATE TABLE IF NOT EXISTS competitors (
    id TEXT PRIMARY KEY,
    url TEXT NOT NULL,
    monitoring_enabled INTEGER NOT NULL DEFAULT 1,
    check_interval_sec INTEGER NOT NULL,
    priority TEXT NOT NULL,
    total_versions INTEGER NOT NULL DEFAULT 0,
    last_checked_at INTEGER,
    last_change_at INTEGER
);

CREATE TABLE IF NOT EXISTS snapshots (
    id TEXT PRIMARY KEY,
    competitor_id TEXT NOT NULL,
    version_number INTEGER NOT NULL,
    captured_at INTEGER NOT NULL,
    is_full_version INTEGER NOT NULL DEFAULT 0,
    is_current INTEGER NOT NULL DEFAULT 0,
    full_html TEXT,
    change_count INTEGER NOT NULL DEFAULT 0,
    change_percentage REAL NOT NULL DEFAULT 0,
    severity TEXT NOT NULL DEFAULT '',
    change_type TEXT NOT NULL DEFAULT '',
    change_summary TEXT NOT NULL DEFAULT ''
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_snapshots_competitor_version
    ON snapshots(competitor_id, version_number);
CREATE UNIQUE INDEX IF NOT EXISTS idx_snapshots_competitor_current
    ON snapshots(competitor_id) WHERE is_current = 1;
CREATE INDEX IF NOT EXISTS idx_snapshots_competitor_captured_at
    ON snapshots(competitor_id, captured_at DESC);

CREATE TABLE IF NOT EXISTS snapshot_diffs (
    id TEXT PRIMARY KEY,
    from_snapshot_id TEXT NOT NULL REFERENCES snapshots(id) ON DELETE CASCADE,
    to_snapshot_id TEXT NOT NULL REFERENCES snapshots(id) ON DELETE CASCADE,
    diff_data TEXT NOT NULL,
    change_summary TEXT NOT NULL DEFAULT '',
    change_count INTEGER NOT NULL DEFAULT 0,
    change_percentage REAL NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_snapshot_diffs_to ON snapshot_diffs(to_snapshot_id);
CREATE INDEX IF NOT EXISTS idx_snapshot_diffs_from ON snapshot_diffs(from_snapshot_id);

CREATE TABLE IF NOT EXISTS alerts (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL DEFAULT '',
    competitor_id TEXT NOT NULL,
    snapshot_id TEXT NOT NULL,
    type TEXT NOT NULL,
    severity TEXT NOT NULL,
    status TEXT NOT NULL,
    title TEXT NOT NULL DEFAULT '',
    message TEXT NOT NULL DEFAULT '',
    change_count INTEGER NOT NULL DEFAULT 0,
    change_percentage REAL NOT NULL DEFAULT 0,
    version_number INTEGER NOT NULL DEFAULT 0,
    change_summary TEXT NOT NULL DEFAULT '',
    affected_sections TEXT NOT NULL DEFAULT '[]',
    created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_alerts_competitor_id ON alerts(competitor_id);
`

	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return &storage.ErrSchemaInitFailed{Backend: "sqlite", Cause: err}
	}
	s.logger.Debug("sqlite schema initialized", "tables", 4)
	return nil
}

// WithTx implements core.SnapshotStore.WithTx by running fn against a store
// instance scoped to a single transaction.
func (s *SQLiteStorage) WithTx(ctx context.Context, fn func(ctx context.Context, tx core.SnapshotStore) error) error {
	if s.db == nil {
		return fmt.Errorf("sqlite: WithTx called on a transaction-scoped store")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &storage.ErrConnectionFailed{Backend: "sqlite", Cause: err}
	}

	txStore := &SQLiteStorage{conn: tx, logger: s.logger, path: s.path}
	if err := fn(ctx, txStore); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			s.logger.Error("sqlite rollback failed", "error", rbErr)
		}
		return err
	}
	return tx.Commit()
}

// Close releases the underlying connection pool. Only valid on the root
// instance returned by NewSQLiteStorage.
func (s *SQLiteStorage) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Health reports whether the database is reachable.
func (s *SQLiteStorage) Health(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("sqlite: Health called on a transaction-scoped store")
	}
	return s.db.PingContext(ctx)
}

// GetFileSize returns the current size of the SQLite file in bytes, or 0 if
// it cannot be determined.
func (s *SQLiteStorage) GetFileSize() int64 {
	info, err := os.Stat(s.path)
	if err != nil {
		return 0
	}
	return info.Size()
}

// GetPath returns the configured SQLite file path.
func (s *SQLiteStorage) GetPath() string {
	return s.path
}

func isUniqueConstraintErr(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func scanSnapshot(row interface{ Scan(dest ...any) error }) (*core.Snapshot, error) {
	var snap core.Snapshot
	var capturedAtMS int64
	var isFull, isCurrent int
	var fullHTML sql.NullString

	if err := row.Scan(
		&snap.ID, &snap.CompetitorID, &snap.VersionNumber, &capturedAtMS,
		&isFull, &isCurrent, &fullHTML, &snap.ChangeCount, &snap.ChangePercentage,
		&snap.Severity, &snap.ChangeType, &snap.ChangeSummary,
	); err != nil {
		return nil, err
	}

	snap.CapturedAt = time.UnixMilli(capturedAtMS)
	snap.IsFullVersion = isFull != 0
	snap.IsCurrent = isCurrent != 0
	if fullHTML.Valid {
		html := fullHTML.String
		snap.FullHTML = &html
	}
	return &snap, nil
}

const snapshotColumns = `id, competitor_id, version_number, captured_at, is_full_version, is_current, full_html, change_count, change_percentage, severity, change_type, change_summary`

// GetCurrent implements core.SnapshotStore.GetCurrent.
func (s *SQLiteStorage) GetCurrent(ctx context.Context, competitorID string) (*core.Snapshot, error) {
	row := s.conn.QueryRowContext(ctx,
		`SELECT `+snapshotColumns+` FROM snapshots WHERE competitor_id = ? AND is_current = 1`,
		competitorID)
	snap, err := scanSnapshot(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		storage.RecordError("get_current", "sqlite", storage.ClassifyError(err))
		return nil, &storage.ErrConnectionFailed{Backend: "sqlite", Cause: err}
	}
	return snap, nil
}

// GetByVersion implements core.SnapshotStore.GetByVersion.
func (s *SQLiteStorage) GetByVersion(ctx context.Context, competitorID string, versionNumber int) (*core.Snapshot, error) {
	row := s.conn.QueryRowContext(ctx,
		`SELECT `+snapshotColumns+` FROM snapshots WHERE competitor_id = ? AND version_number = ?`,
		competitorID, versionNumber)
	snap, err := scanSnapshot(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		storage.RecordError("get_by_version", "sqlite", storage.ClassifyError(err))
		return nil, &storage.ErrConnectionFailed{Backend: "sqlite", Cause: err}
	}
	return snap, nil
}

// List implements core.SnapshotStore.List.
func (s *SQLiteStorage) List(ctx context.Context, competitorID string, order core.SnapshotOrder) ([]*core.Snapshot, error) {
	direction := "ASC"
	if order == core.OrderDescending {
		direction = "DESC"
	}
	rows, err := s.conn.QueryContext(ctx,
		`SELECT `+snapshotColumns+` FROM snapshots WHERE competitor_id = ? ORDER BY version_number `+direction,
		competitorID)
	if err != nil {
		storage.RecordError("list", "sqlite", storage.ClassifyError(err))
		return nil, &storage.ErrConnectionFailed{Backend: "sqlite", Cause: err}
	}
	defer rows.Close()

	var result []*core.Snapshot
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, snap)
	}
	return result, rows.Err()
}

// FindLastFullAtOrBefore implements core.SnapshotStore.FindLastFullAtOrBefore.
func (s *SQLiteStorage) FindLastFullAtOrBefore(ctx context.Context, competitorID string, versionNumber int) (*core.Snapshot, error) {
	row := s.conn.QueryRowContext(ctx,
		`SELECT `+snapshotColumns+` FROM snapshots
		 WHERE competitor_id = ? AND is_full_version = 1 AND version_number <= ?
		 ORDER BY version_number DESC LIMIT 1`,
		competitorID, versionNumber)
	snap, err := scanSnapshot(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, &storage.ErrConnectionFailed{Backend: "sqlite", Cause: err}
	}
	return snap, nil
}

// CreateSnapshot implements core.SnapshotStore.CreateSnapshot.
func (s *SQLiteStorage) CreateSnapshot(ctx context.Context, attrs core.NewSnapshotAttrs) (*core.Snapshot, error) {
	id := newID()
	_, err := s.conn.ExecContext(ctx,
		`INSERT INTO snapshots (`+snapshotColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, attrs.CompetitorID, attrs.VersionNumber, attrs.CapturedAt.UnixMilli(),
		boolToInt(attrs.IsFullVersion), boolToInt(attrs.IsCurrent), attrs.FullHTML,
		attrs.ChangeCount, attrs.ChangePercentage, string(attrs.Severity),
		string(attrs.ChangeType), attrs.ChangeSummary,
	)
	if isUniqueConstraintErr(err) {
		return nil, core.NewCaptureError(core.ErrKindVersionConflict, attrs.CompetitorID, err)
	}
	if err != nil {
		storage.RecordError("create_snapshot", "sqlite", storage.ClassifyError(err))
		return nil, &storage.ErrConnectionFailed{Backend: "sqlite", Cause: err}
	}

	return &core.Snapshot{
		ID:               id,
		CompetitorID:     attrs.CompetitorID,
		VersionNumber:    attrs.VersionNumber,
		CapturedAt:       attrs.CapturedAt,
		IsFullVersion:    attrs.IsFullVersion,
		IsCurrent:        attrs.IsCurrent,
		FullHTML:         attrs.FullHTML,
		ChangeCount:      attrs.ChangeCount,
		ChangePercentage: attrs.ChangePercentage,
		Severity:         attrs.Severity,
		ChangeType:       attrs.ChangeType,
		ChangeSummary:    attrs.ChangeSummary,
	}, nil
}

// MarkNotCurrent implements core.SnapshotStore.MarkNotCurrent.
func (s *SQLiteStorage) MarkNotCurrent(ctx context.Context, competitorID string, exceptID string) error {
	_, err := s.conn.ExecContext(ctx,
		`UPDATE snapshots SET is_current = 0 WHERE competitor_id = ? AND id != ?`,
		competitorID, exceptID)
	if err != nil {
		storage.RecordError("mark_not_current", "sqlite", storage.ClassifyError(err))
		return &storage.ErrConnectionFailed{Backend: "sqlite", Cause: err}
	}
	return nil
}

// Update implements core.SnapshotStore.Update.
func (s *SQLiteStorage) Update(ctx context.Context, snapshotID string, update core.SnapshotUpdate) error {
	sets := make([]string, 0, 3)
	args := make([]any, 0, 4)

	if update.FullHTML != nil {
		sets = append(sets, "full_html = ?")
		args = append(args, *update.FullHTML)
	}
	if update.IsFullVersion != nil {
		sets = append(sets, "is_full_version = ?")
		args = append(args, boolToInt(*update.IsFullVersion))
	}
	if update.IsCurrent != nil {
		sets = append(sets, "is_current = ?")
		args = append(args, boolToInt(*update.IsCurrent))
	}
	if len(sets) == 0 {
		return nil
	}
	args = append(args, snapshotID)

	_, err := s.conn.ExecContext(ctx,
		fmt.Sprintf(`UPDATE snapshots SET %s WHERE id = ?`, strings.Join(sets, ", ")),
		args...)
	if err != nil {
		storage.RecordError("update_snapshot", "sqlite", storage.ClassifyError(err))
		return &storage.ErrConnectionFailed{Backend: "sqlite", Cause: err}
	}
	return nil
}

// Delete implements core.SnapshotStore.Delete. Dependent snapshot_diffs rows
// cascade via the foreign key declared in initSchema.
func (s *SQLiteStorage) Delete(ctx context.Context, snapshotID string) error {
	_, err := s.conn.ExecContext(ctx, `DELETE FROM snapshots WHERE id = ?`, snapshotID)
	if err != nil {
		storage.RecordError("delete_snapshot", "sqlite", storage.ClassifyError(err))
		return &storage.ErrConnectionFailed{Backend: "sqlite", Cause: err}
	}
	return nil
}

// CountByCompetitor implements core.SnapshotStore.CountByCompetitor.
func (s *SQLiteStorage) CountByCompetitor(ctx context.Context, competitorID string) (int, error) {
	var count int
	err := s.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM snapshots WHERE competitor_id = ?`, competitorID).Scan(&count)
	if err != nil {
		return 0, &storage.ErrConnectionFailed{Backend: "sqlite", Cause: err}
	}
	return count, nil
}

// OldestSnapshot implements core.SnapshotStore.OldestSnapshot.
func (s *SQLiteStorage) OldestSnapshot(ctx context.Context, competitorID string) (*core.Snapshot, error) {
	row := s.conn.QueryRowContext(ctx,
		`SELECT `+snapshotColumns+` FROM snapshots WHERE competitor_id = ? ORDER BY version_number ASC LIMIT 1`,
		competitorID)
	snap, err := scanSnapshot(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, &storage.ErrConnectionFailed{Backend: "sqlite", Cause: err}
	}
	return snap, nil
}

// NextAfter implements core.SnapshotStore.NextAfter.
func (s *SQLiteStorage) NextAfter(ctx context.Context, competitorID string, versionNumber int) (*core.Snapshot, error) {
	row := s.conn.QueryRowContext(ctx,
		`SELECT `+snapshotColumns+` FROM snapshots WHERE competitor_id = ? AND version_number > ? ORDER BY version_number ASC LIMIT 1`,
		competitorID, versionNumber)
	snap, err := scanSnapshot(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, &storage.ErrConnectionFailed{Backend: "sqlite", Cause: err}
	}
	return snap, nil
}

// CreateDiff implements core.SnapshotStore.CreateDiff.
func (s *SQLiteStorage) CreateDiff(ctx context.Context, attrs core.NewSnapshotDiffAttrs) (*core.SnapshotDiff, error) {
	diffJSON, err := json.Marshal(attrs.DiffData)
	if err != nil {
		return nil, fmt.Errorf("marshal diff data: %w", err)
	}

	id := newID()
	_, err = s.conn.ExecContext(ctx,
		`INSERT INTO snapshot_diffs (id, from_snapshot_id, to_snapshot_id, diff_data, change_summary, change_count, change_percentage)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, attrs.FromSnapshotID, attrs.ToSnapshotID, string(diffJSON), attrs.ChangeSummary,
		attrs.ChangeCount, attrs.ChangePercentage)
	if err != nil {
		storage.RecordError("create_diff", "sqlite", storage.ClassifyError(err))
		return nil, &storage.ErrConnectionFailed{Backend: "sqlite", Cause: err}
	}

	return &core.SnapshotDiff{
		ID:               id,
		FromSnapshotID:   attrs.FromSnapshotID,
		ToSnapshotID:     attrs.ToSnapshotID,
		DiffData:         attrs.DiffData,
		ChangeSummary:    attrs.ChangeSummary,
		ChangeCount:      attrs.ChangeCount,
		ChangePercentage: attrs.ChangePercentage,
	}, nil
}

// DiffsBetween implements core.SnapshotStore.DiffsBetween: all diffs whose
// origin snapshot's version_number lies in [fromVersion, toVersion), ordered
// by that version ascending.
func (s *SQLiteStorage) DiffsBetween(ctx context.Context, competitorID string, fromVersion, toVersion int) ([]*core.SnapshotDiff, error) {
	rows, err := s.conn.QueryContext(ctx,
		`SELECT d.id, d.from_snapshot_id, d.to_snapshot_id, d.diff_data, d.change_summary, d.change_count, d.change_percentage
		 FROM snapshot_diffs d
		 JOIN snapshots s ON s.id = d.from_snapshot_id
		 WHERE s.competitor_id = ? AND s.version_number >= ? AND s.version_number < ?
		 ORDER BY s.version_number ASC`,
		competitorID, fromVersion, toVersion)
	if err != nil {
		storage.RecordError("diffs_between", "sqlite", storage.ClassifyError(err))
		return nil, &storage.ErrConnectionFailed{Backend: "sqlite", Cause: err}
	}
	defer rows.Close()

	var result []*core.SnapshotDiff
	for rows.Next() {
		var d core.SnapshotDiff
		var diffJSON string
		if err := rows.Scan(&d.ID, &d.FromSnapshotID, &d.ToSnapshotID, &diffJSON, &d.ChangeSummary, &d.ChangeCount, &d.ChangePercentage); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(diffJSON), &d.DiffData); err != nil {
			return nil, fmt.Errorf("unmarshal diff data: %w", err)
		}
		result = append(result, &d)
	}
	return result, rows.Err()
}
