// Package sqlite query methods for the Competitor and Alert repositories,
// split from sqlite_storage.go's connection setup and Snapshot repository.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ramfiaogusto/watchtower/internal/core"
	"github.com/ramfiaogusto/watchtower/internal/storage"
)

func nullableUnixMillis(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixMilli()
}

func nullableTimeFromMillis(ns sql.NullInt64) *time.Time {
	if !ns.Valid {
		return nil
	}
	t := time.UnixMilli(ns.Int64)
	return &t
}

// Get implements core.CompetitorStore.Get.
func (s *SQLiteStorage) Get(ctx context.Context, competitorID string) (*core.Competitor, error) {
	row := s.conn.QueryRowContext(ctx,
		`SELECT id, url, monitoring_enabled, check_interval_sec, priority, total_versions, last_checked_at, last_change_at
		 FROM competitors WHERE id = ?`,
		competitorID)

	var comp core.Competitor
	var enabled int
	var lastChecked, lastChange sql.NullInt64
	err := row.Scan(&comp.ID, &comp.URL, &enabled, &comp.CheckIntervalSec, &comp.Priority,
		&comp.TotalVersions, &lastChecked, &lastChange)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("competitor %s not found", competitorID)
	}
	if err != nil {
		storage.RecordError("get_competitor", "sqlite", storage.ClassifyError(err))
		return nil, &storage.ErrConnectionFailed{Backend: "sqlite", Cause: err}
	}

	comp.MonitoringEnabled = enabled != 0
	comp.LastCheckedAt = nullableTimeFromMillis(lastChecked)
	comp.LastChangeAt = nullableTimeFromMillis(lastChange)
	return &comp, nil
}

// UpdateCounters implements core.CompetitorStore.UpdateCounters.
func (s *SQLiteStorage) UpdateCounters(ctx context.Context, competitorID string, lastCheckedAt, lastChangeAt *time.Time, totalVersions int) error {
	_, err := s.conn.ExecContext(ctx,
		`UPDATE competitors SET total_versions = ?,
		 last_checked_at = COALESCE(?, last_checked_at),
		 last_change_at = COALESCE(?, last_change_at)
		 WHERE id = ?`,
		totalVersions, nullableUnixMillis(lastCheckedAt), nullableUnixMillis(lastChangeAt), competitorID)
	if err != nil {
		storage.RecordError("update_counters", "sqlite", storage.ClassifyError(err))
		return &storage.ErrConnectionFailed{Backend: "sqlite", Cause: err}
	}
	return nil
}

// ListDue implements storage.CompetitorRepository.ListDue (and, by structural
// typing, scheduler.CompetitorLister): competitors with monitoring enabled
// whose check interval has elapsed, or that have never been checked.
func (s *SQLiteStorage) ListDue(ctx context.Context, now time.Time) ([]*core.Competitor, error) {
	rows, err := s.conn.QueryContext(ctx,
		`SELECT id, url, monitoring_enabled, check_interval_sec, priority, total_versions, last_checked_at, last_change_at
		 FROM competitors
		 WHERE monitoring_enabled = 1
		   AND (last_checked_at IS NULL OR (? - last_checked_at) >= check_interval_sec * 1000)`,
		now.UnixMilli())
	if err != nil {
		storage.RecordError("list_due", "sqlite", storage.ClassifyError(err))
		return nil, &storage.ErrConnectionFailed{Backend: "sqlite", Cause: err}
	}
	defer rows.Close()

	var result []*core.Competitor
	for rows.Next() {
		var comp core.Competitor
		var enabled int
		var lastChecked, lastChange sql.NullInt64
		if err := rows.Scan(&comp.ID, &comp.URL, &enabled, &comp.CheckIntervalSec, &comp.Priority,
			&comp.TotalVersions, &lastChecked, &lastChange); err != nil {
			return nil, err
		}
		comp.MonitoringEnabled = enabled != 0
		comp.LastCheckedAt = nullableTimeFromMillis(lastChecked)
		comp.LastChangeAt = nullableTimeFromMillis(lastChange)
		result = append(result, &comp)
	}
	return result, rows.Err()
}

// ListAllIDs implements storage.CompetitorRepository.ListAllIDs.
func (s *SQLiteStorage) ListAllIDs(ctx context.Context) ([]string, error) {
	rows, err := s.conn.QueryContext(ctx, `SELECT id FROM competitors ORDER BY id`)
	if err != nil {
		storage.RecordError("list_all_ids", "sqlite", storage.ClassifyError(err))
		return nil, &storage.ErrConnectionFailed{Backend: "sqlite", Cause: err}
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

// SeedCompetitor inserts or replaces a competitor row. Competitor CRUD
// otherwise belongs to the outer system; this exists for cmd/capture and
// tests to populate a competitor directly against the lite-profile store.
func (s *SQLiteStorage) SeedCompetitor(ctx context.Context, comp *core.Competitor) error {
	_, err := s.conn.ExecContext(ctx,
		`INSERT INTO competitors (id, url, monitoring_enabled, check_interval_sec, priority, total_versions, last_checked_at, last_change_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   url = excluded.url,
		   monitoring_enabled = excluded.monitoring_enabled,
		   check_interval_sec = excluded.check_interval_sec,
		   priority = excluded.priority,
		   total_versions = excluded.total_versions,
		   last_checked_at = excluded.last_checked_at,
		   last_change_at = excluded.last_change_at`,
		comp.ID, comp.URL, boolToInt(comp.MonitoringEnabled), comp.CheckIntervalSec, string(comp.Priority),
		comp.TotalVersions, nullableUnixMillis(comp.LastCheckedAt), nullableUnixMillis(comp.LastChangeAt))
	if err != nil {
		return &storage.ErrConnectionFailed{Backend: "sqlite", Cause: err}
	}
	return nil
}

// Create implements core.AlertStore.Create.
func (s *SQLiteStorage) Create(ctx context.Context, alert *core.Alert) error {
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

	_, err = s.conn.ExecContext(ctx,
		`INSERT INTO alerts (
		    id, user_id, competitor_id, snapshot_id, type, severity, status, title, message,
		    change_count, change_percentage, version_number, change_summary, affected_sections, created_at
		 ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		alert.ID, alert.UserID, alert.CompetitorID, alert.SnapshotID, string(alert.Type), string(alert.Severity),
		string(alert.Status), alert.Title, alert.Message, alert.ChangeCount, alert.ChangePercentage,
		alert.VersionNumber, alert.ChangeSummary, string(sectionsJSON), alert.CreatedAt.UnixMilli())
	if err != nil {
		storage.RecordError("create_alert", "sqlite", storage.ClassifyError(err))
		return &storage.ErrConnectionFailed{Backend: "sqlite", Cause: err}
	}
	return nil
}
