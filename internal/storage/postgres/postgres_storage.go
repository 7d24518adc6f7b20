// Package postgres implements core.SnapshotStore, core.CompetitorStore and
// core.AlertStore on top of PostgreSQL via pgx. It backs the "standard"
// deployment profile, built on the connection pool in
// internal/database/postgres.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ramfiaogusto/watchtower/internal/core"
	"github.com/ramfiaogusto/watchtower/internal/storage"
)

// querier is the subset of *pgxpool.Pool / pgx.Tx this package needs, so the
// same methods run either pooled or inside a transaction opened by WithTx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

// Storage implements core.SnapshotStore, core.CompetitorStore and
// core.AlertStore against PostgreSQL. pool is non-nil only on the root
// instance; a transaction-scoped instance carries only conn.
type Storage struct {
	pool   *pgxpool.Pool
	conn   querier
	logger *slog.Logger
}

// New wraps an already-connected pool and ensures the schema exists.
func New(ctx context.Context, pool *pgxpool.Pool, logger *slog.Logger) (*Storage, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if pool == nil {
		return nil, fmt.Errorf("postgres: pool cannot be nil")
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, &storage.ErrConnectionFailed{Backend: "postgres", Cause: err}
	}

	s := &Storage{pool: pool, conn: pool, logger: logger}
	if err := s.initSchema(ctx); err != nil {
		return nil, err
	}
	logger.Info("postgres storage initialized")
	return s, nil
}

func (s *Storage) initSchema(ctx context.Context) error {
	schema := `
CREATE TABLE IF NOT EXISTS competitors (
    id TEXT PRIMARY KEY,
    url TEXT NOT NULL,
    monitoring_enabled BOOLEAN NOT NULL DEFAULT true,
    check_interval_sec INTEGER NOT NULL,
    priority TEXT NOT NULL,
    total_versions INTEGER NOT NULL DEFAULT 0,
    last_checked_at TIMESTAMPTZ,
    last_change_at TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS snapshots (
    id TEXT PRIMARY KEY,
    competitor_id TEXT NOT NULL,
    version_number INTEGER NOT NULL,
    captured_at TIMESTAMPTZ NOT NULL,
    is_full_version BOOLEAN NOT NULL DEFAULT false,
    is_current BOOLEAN NOT NULL DEFAULT false,
    full_html TEXT,
    change_count INTEGER NOT NULL DEFAULT 0,
    change_percentage DOUBLE PRECISION NOT NULL DEFAULT 0,
    severity TEXT NOT NULL DEFAULT '',
    change_type TEXT NOT NULL DEFAULT '',
    change_summary TEXT NOT NULL DEFAULT ''
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_snapshots_competitor_version
    ON snapshots(competitor_id, version_number);
CREATE UNIQUE INDEX IF NOT EXISTS idx_snapshots_competitor_current
    ON snapshots(competitor_id) WHERE is_current;
CREATE INDEX IF NOT EXISTS idx_snapshots_competitor_captured_at
    ON snapshots(competitor_id, captured_at DESC);

CREATE TABLE IF NOT EXISTS snapshot_diffs (
    id TEXT PRIMARY KEY,
    from_snapshot_id TEXT NOT NULL REFERENCES snapshots(id) ON DELETE CASCADE,
    to_snapshot_id TEXT NOT NULL REFERENCES snapshots(id) ON DELETE CASCADE,
    diff_data JSONB NOT NULL,
    change_summary TEXT NOT NULL DEFAULT '',
    change_count INTEGER NOT NULL DEFAULT 0,
    change_percentage DOUBLE PRECISION NOT NULL DEFAULT 0
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
    change_percentage DOUBLE PRECISION NOT NULL DEFAULT 0,
    version_number INTEGER NOT NULL DEFAULT 0,
    change_summary TEXT NOT NULL DEFAULT '',
    affected_sections JSONB NOT NULL DEFAULT '[]',
    created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_alerts_competitor_id ON alerts(competitor_id);
`
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return &storage.ErrSchemaInitFailed{Backend: "postgres", Cause: err}
	}
	return nil
}

// Close releases the connection pool. Only valid on the root instance.
func (s *Storage) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// Health reports whether the database is reachable.
func (s *Storage) Health(ctx context.Context) error {
	if s.pool == nil {
		return fmt.Errorf("postgres: Health called on a transaction-scoped store")
	}
	return s.pool.Ping(ctx)
}

// WithTx implements core.SnapshotStore.WithTx.
func (s *Storage) WithTx(ctx context.Context, fn func(ctx context.Context, tx core.SnapshotStore) error) error {
	if s.pool == nil {
		return fmt.Errorf("postgres: WithTx called on a transaction-scoped store")
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return &storage.ErrConnectionFailed{Backend: "postgres", Cause: err}
	}
	txStore := &Storage{conn: tx, logger: s.logger}
	if err := fn(ctx, txStore); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			s.logger.Error("postgres rollback failed", "error", rbErr)
		}
		return err
	}
	return tx.Commit(ctx)
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "duplicate key value violates unique constraint")
}

func newID() string { return uuid.NewString() }

const snapshotColumns = `id, competitor_id, version_number, captured_at, is_full_version, is_current, full_html, change_count, change_percentage, severity, change_type, change_summary`

func scanSnapshot(row pgx.Row) (*core.Snapshot, error) {
	var snap core.Snapshot
	var fullHTML *string
	if err := row.Scan(
		&snap.ID, &snap.CompetitorID, &snap.VersionNumber, &snap.CapturedAt,
		&snap.IsFullVersion, &snap.IsCurrent, &fullHTML, &snap.ChangeCount, &snap.ChangePercentage,
		&snap.Severity, &snap.ChangeType, &snap.ChangeSummary,
	); err != nil {
		return nil, err
	}
	snap.FullHTML = fullHTML
	return &snap, nil
}

// GetCurrent implements core.SnapshotStore.GetCurrent.
func (s *Storage) GetCurrent(ctx context.Context, competitorID string) (*core.Snapshot, error) {
	row := s.conn.QueryRow(ctx, `SELECT `+snapshotColumns+` FROM snapshots WHERE competitor_id = $1 AND is_current`, competitorID)
	snap, err := scanSnapshot(row)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		storage.RecordError("get_current", "postgres", storage.ClassifyError(err))
		return nil, &storage.ErrConnectionFailed{Backend: "postgres", Cause: err}
	}
	return snap, nil
}

// GetByVersion implements core.SnapshotStore.GetByVersion.
func (s *Storage) GetByVersion(ctx context.Context, competitorID string, versionNumber int) (*core.Snapshot, error) {
	row := s.conn.QueryRow(ctx, `SELECT `+snapshotColumns+` FROM snapshots WHERE competitor_id = $1 AND version_number = $2`, competitorID, versionNumber)
	snap, err := scanSnapshot(row)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, &storage.ErrConnectionFailed{Backend: "postgres", Cause: err}
	}
	return snap, nil
}

// List implements core.SnapshotStore.List.
func (s *Storage) List(ctx context.Context, competitorID string, order core.SnapshotOrder) ([]*core.Snapshot, error) {
	direction := "ASC"
	if order == core.OrderDescending {
		direction = "DESC"
	}
	rows, err := s.conn.Query(ctx, `SELECT `+snapshotColumns+` FROM snapshots WHERE competitor_id = $1 ORDER BY version_number `+direction, competitorID)
	if err != nil {
		return nil, &storage.ErrConnectionFailed{Backend: "postgres", Cause: err}
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
func (s *Storage) FindLastFullAtOrBefore(ctx context.Context, competitorID string, versionNumber int) (*core.Snapshot, error) {
	row := s.conn.QueryRow(ctx,
		`SELECT `+snapshotColumns+` FROM snapshots WHERE competitor_id = $1 AND is_full_version AND version_number <= $2 ORDER BY version_number DESC LIMIT 1`,
		competitorID, versionNumber)
	snap, err := scanSnapshot(row)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, &storage.ErrConnectionFailed{Backend: "postgres", Cause: err}
	}
	return snap, nil
}

// CreateSnapshot implements core.SnapshotStore.CreateSnapshot.
func (s *Storage) CreateSnapshot(ctx context.Context, attrs core.NewSnapshotAttrs) (*core.Snapshot, error) {
	id := newID()
	_, err := s.conn.Exec(ctx,
		`INSERT INTO snapshots (`+snapshotColumns+`) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		id, attrs.CompetitorID, attrs.VersionNumber, attrs.CapturedAt, attrs.IsFullVersion, attrs.IsCurrent,
		attrs.FullHTML, attrs.ChangeCount, attrs.ChangePercentage, string(attrs.Severity),
		string(attrs.ChangeType), attrs.ChangeSummary)
	if isUniqueViolation(err) {
		return nil, core.NewCaptureError(core.ErrKindVersionConflict, attrs.CompetitorID, err)
	}
	if err != nil {
		storage.RecordError("create_snapshot", "postgres", storage.ClassifyError(err))
		return nil, &storage.ErrConnectionFailed{Backend: "postgres", Cause: err}
	}

	return &core.Snapshot{
		ID: id, CompetitorID: attrs.CompetitorID, VersionNumber: attrs.VersionNumber,
		CapturedAt: attrs.CapturedAt, IsFullVersion: attrs.IsFullVersion, IsCurrent: attrs.IsCurrent,
		FullHTML: attrs.FullHTML, ChangeCount: attrs.ChangeCount, ChangePercentage: attrs.ChangePercentage,
		Severity: attrs.Severity, ChangeType: attrs.ChangeType, ChangeSummary: attrs.ChangeSummary,
	}, nil
}

// MarkNotCurrent implements core.SnapshotStore.MarkNotCurrent.
func (s *Storage) MarkNotCurrent(ctx context.Context, competitorID string, exceptID string) error {
	_, err := s.conn.Exec(ctx, `UPDATE snapshots SET is_current = false WHERE competitor_id = $1 AND id != $2`, competitorID, exceptID)
	if err != nil {
		return &storage.ErrConnectionFailed{Backend: "postgres", Cause: err}
	}
	return nil
}

// Update implements core.SnapshotStore.Update.
func (s *Storage) Update(ctx context.Context, snapshotID string, update core.SnapshotUpdate) error {
	sets := make([]string, 0, 3)
	args := make([]any, 0, 4)
	n := 1

	if update.FullHTML != nil {
		sets = append(sets, fmt.Sprintf("full_html = $%d", n))
		args = append(args, *update.FullHTML)
		n++
	}
	if update.IsFullVersion != nil {
		sets = append(sets, fmt.Sprintf("is_full_version = $%d", n))
		args = append(args, *update.IsFullVersion)
		n++
	}
	if update.IsCurrent != nil {
		sets = append(sets, fmt.Sprintf("is_current = $%d", n))
		args = append(args, *update.IsCurrent)
		n++
	}
	if len(sets) == 0 {
		return nil
	}
	args = append(args, snapshotID)

	_, err := s.conn.Exec(ctx, fmt.Sprintf(`UPDATE snapshots SET %s WHERE id = $%d`, strings.Join(sets, ", "), n), args...)
	if err != nil {
		return &storage.ErrConnectionFailed{Backend: "postgres", Cause: err}
	}
	return nil
}

// Delete implements core.SnapshotStore.Delete; dependent snapshot_diffs rows
// cascade via the foreign key declared in initSchema.
func (s *Storage) Delete(ctx context.Context, snapshotID string) error {
	_, err := s.conn.Exec(ctx, `DELETE FROM snapshots WHERE id = $1`, snapshotID)
	if err != nil {
		return &storage.ErrConnectionFailed{Backend: "postgres", Cause: err}
	}
	return nil
}

// CountByCompetitor implements core.SnapshotStore.CountByCompetitor.
func (s *Storage) CountByCompetitor(ctx context.Context, competitorID string) (int, error) {
	var count int
	if err := s.conn.QueryRow(ctx, `SELECT COUNT(*) FROM snapshots WHERE competitor_id = $1`, competitorID).Scan(&count); err != nil {
		return 0, &storage.ErrConnectionFailed{Backend: "postgres", Cause: err}
	}
	return count, nil
}

// OldestSnapshot implements core.SnapshotStore.OldestSnapshot.
func (s *Storage) OldestSnapshot(ctx context.Context, competitorID string) (*core.Snapshot, error) {
	row := s.conn.QueryRow(ctx, `SELECT `+snapshotColumns+` FROM snapshots WHERE competitor_id = $1 ORDER BY version_number ASC LIMIT 1`, competitorID)
	snap, err := scanSnapshot(row)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, &storage.ErrConnectionFailed{Backend: "postgres", Cause: err}
	}
	return snap, nil
}

// NextAfter implements core.SnapshotStore.NextAfter.
func (s *Storage) NextAfter(ctx context.Context, competitorID string, versionNumber int) (*core.Snapshot, error) {
	row := s.conn.QueryRow(ctx, `SELECT `+snapshotColumns+` FROM snapshots WHERE competitor_id = $1 AND version_number > $2 ORDER BY version_number ASC LIMIT 1`, competitorID, versionNumber)
	snap, err := scanSnapshot(row)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, &storage.ErrConnectionFailed{Backend: "postgres", Cause: err}
	}
	return snap, nil
}

// CreateDiff implements core.SnapshotStore.CreateDiff.
func (s *Storage) CreateDiff(ctx context.Context, attrs core.NewSnapshotDiffAttrs) (*core.SnapshotDiff, error) {
	diffJSON, err := json.Marshal(attrs.DiffData)
	if err != nil {
		return nil, fmt.Errorf("marshal diff data: %w", err)
	}
	id := newID()
	_, err = s.conn.Exec(ctx,
		`INSERT INTO snapshot_diffs (id, from_snapshot_id, to_snapshot_id, diff_data, change_summary, change_count, change_percentage)
		 VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		id, attrs.FromSnapshotID, attrs.ToSnapshotID, diffJSON, attrs.ChangeSummary, attrs.ChangeCount, attrs.ChangePercentage)
	if err != nil {
		return nil, &storage.ErrConnectionFailed{Backend: "postgres", Cause: err}
	}
	return &core.SnapshotDiff{
		ID: id, FromSnapshotID: attrs.FromSnapshotID, ToSnapshotID: attrs.ToSnapshotID,
		DiffData: attrs.DiffData, ChangeSummary: attrs.ChangeSummary,
		ChangeCount: attrs.ChangeCount, ChangePercentage: attrs.ChangePercentage,
	}, nil
}

// DiffsBetween implements core.SnapshotStore.DiffsBetween.
func (s *Storage) DiffsBetween(ctx context.Context, competitorID string, fromVersion, toVersion int) ([]*core.SnapshotDiff, error) {
	rows, err := s.conn.Query(ctx,
		`SELECT d.id, d.from_snapshot_id, d.to_snapshot_id, d.diff_data, d.change_summary, d.change_count, d.change_percentage
		 FROM snapshot_diffs d
		 JOIN snapshots s ON s.id = d.from_snapshot_id
		 WHERE s.competitor_id = $1 AND s.version_number >= $2 AND s.version_number < $3
		 ORDER BY s.version_number ASC`,
		competitorID, fromVersion, toVersion)
	if err != nil {
		return nil, &storage.ErrConnectionFailed{Backend: "postgres", Cause: err}
	}
	defer rows.Close()

	var result []*core.SnapshotDiff
	for rows.Next() {
		var d core.SnapshotDiff
		var diffJSON []byte
		if err := rows.Scan(&d.ID, &d.FromSnapshotID, &d.ToSnapshotID, &diffJSON, &d.ChangeSummary, &d.ChangeCount, &d.ChangePercentage); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(diffJSON, &d.DiffData); err != nil {
			return nil, fmt.Errorf("unmarshal diff data: %w", err)
		}
		result = append(result, &d)
	}
	return result, rows.Err()
}

// Get implements core.CompetitorStore.Get.
func (s *Storage) Get(ctx context.Context, competitorID string) (*core.Competitor, error) {
	row := s.conn.QueryRow(ctx,
		`SELECT id, url, monitoring_enabled, check_interval_sec, priority, total_versions, last_checked_at, last_change_at
		 FROM competitors WHERE id = $1`, competitorID)

	var comp core.Competitor
	var lastChecked, lastChange *time.Time
	if err := row.Scan(&comp.ID, &comp.URL, &comp.MonitoringEnabled, &comp.CheckIntervalSec, &comp.Priority,
		&comp.TotalVersions, &lastChecked, &lastChange); err != nil {
		if err == pgx.ErrNoRows {
			return nil, fmt.Errorf("competitor %s not found", competitorID)
		}
		return nil, &storage.ErrConnectionFailed{Backend: "postgres", Cause: err}
	}
	comp.LastCheckedAt = lastChecked
	comp.LastChangeAt = lastChange
	return &comp, nil
}

// UpdateCounters implements core.CompetitorStore.UpdateCounters.
func (s *Storage) UpdateCounters(ctx context.Context, competitorID string, lastCheckedAt, lastChangeAt *time.Time, totalVersions int) error {
	_, err := s.conn.Exec(ctx,
		`UPDATE competitors SET total_versions = $1,
		 last_checked_at = COALESCE($2, last_checked_at),
		 last_change_at = COALESCE($3, last_change_at)
		 WHERE id = $4`,
		totalVersions, lastCheckedAt, lastChangeAt, competitorID)
	if err != nil {
		return &storage.ErrConnectionFailed{Backend: "postgres", Cause: err}
	}
	return nil
}

// ListDue implements storage.CompetitorRepository.ListDue.
func (s *Storage) ListDue(ctx context.Context, now time.Time) ([]*core.Competitor, error) {
	rows, err := s.conn.Query(ctx,
		`SELECT id, url, monitoring_enabled, check_interval_sec, priority, total_versions, last_checked_at, last_change_at
		 FROM competitors
		 WHERE monitoring_enabled
		   AND (last_checked_at IS NULL OR $1 - last_checked_at >= make_interval(secs => check_interval_sec))`,
		now)
	if err != nil {
		return nil, &storage.ErrConnectionFailed{Backend: "postgres", Cause: err}
	}
	defer rows.Close()

	var result []*core.Competitor
	for rows.Next() {
		var comp core.Competitor
		var lastChecked, lastChange *time.Time
		if err := rows.Scan(&comp.ID, &comp.URL, &comp.MonitoringEnabled, &comp.CheckIntervalSec, &comp.Priority,
			&comp.TotalVersions, &lastChecked, &lastChange); err != nil {
			return nil, err
		}
		comp.LastCheckedAt = lastChecked
		comp.LastChangeAt = lastChange
		result = append(result, &comp)
	}
	return result, rows.Err()
}

// ListAllIDs implements storage.CompetitorRepository.ListAllIDs.
func (s *Storage) ListAllIDs(ctx context.Context) ([]string, error) {
	rows, err := s.conn.Query(ctx, `SELECT id FROM competitors ORDER BY id`)
	if err != nil {
		return nil, &storage.ErrConnectionFailed{Backend: "postgres", Cause: err}
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// SeedCompetitor inserts or replaces a competitor row, for cmd/capture and tests.
func (s *Storage) SeedCompetitor(ctx context.Context, comp *core.Competitor) error {
	_, err := s.conn.Exec(ctx,
		`INSERT INTO competitors (id, url, monitoring_enabled, check_interval_sec, priority, total_versions, last_checked_at, last_change_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		 ON CONFLICT (id) DO UPDATE SET
		   url = excluded.url, monitoring_enabled = excluded.monitoring_enabled,
		   check_interval_sec = excluded.check_interval_sec, priority = excluded.priority,
		   total_versions = excluded.total_versions, last_checked_at = excluded.last_checked_at,
		   last_change_at = excluded.last_change_at`,
		comp.ID, comp.URL, comp.MonitoringEnabled, comp.CheckIntervalSec, string(comp.Priority),
		comp.TotalVersions, comp.LastCheckedAt, comp.LastChangeAt)
	if err != nil {
		return &storage.ErrConnectionFailed{Backend: "postgres", Cause: err}
	}
	return nil
}

// Create implements core.AlertStore.Create.
func (s *Storage) Create(ctx context.Context, alert *core.Alert) error {
	if alert.ID == "" {
		alert.ID = newID()
	}
	if alert.CreatedAt.IsZero() {
		alert.CreatedAt = time.Now()
	}
	sectionsJSON, err := json.Marshal(alert.AffectedSections)
	if err != nil {
		return err
	}

	_, err = s.conn.Exec(ctx,
		`INSERT INTO alerts (
		    id, user_id, competitor_id, snapshot_id, type, severity, status, title, message,
		    change_count, change_percentage, version_number, change_summary, affected_sections, created_at
		 ) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)`,
		alert.ID, alert.UserID, alert.CompetitorID, alert.SnapshotID, string(alert.Type), string(alert.Severity),
		string(alert.Status), alert.Title, alert.Message, alert.ChangeCount, alert.ChangePercentage,
		alert.VersionNumber, alert.ChangeSummary, sectionsJSON, alert.CreatedAt)
	if err != nil {
		storage.RecordError("create_alert", "postgres", storage.ClassifyError(err))
		return &storage.ErrConnectionFailed{Backend: "postgres", Cause: err}
	}
	return nil
}
