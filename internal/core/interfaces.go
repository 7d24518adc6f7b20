package core

import (
	"context"
	"time"
)

// Priority represents how aggressively a competitor should be monitored.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// Severity is the four-level classification of a capture's aggregate change magnitude.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// rank returns a total order over severities, low being the smallest.
func (s Severity) rank() int {
	switch s {
	case SeverityCritical:
		return 3
	case SeverityHigh:
		return 2
	case SeverityMedium:
		return 1
	default:
		return 0
	}
}

// AtLeast reports whether s is at least as severe as other.
func (s Severity) AtLeast(other Severity) bool {
	return s.rank() >= other.rank()
}

// ChangeType classifies the dominant kind of content that changed.
type ChangeType string

const (
	ChangeTypePricing ChangeType = "pricing"
	ChangeTypeFeature ChangeType = "feature"
	ChangeTypeDesign  ChangeType = "design"
	ChangeTypeContent ChangeType = "content"
	ChangeTypeOther   ChangeType = "other"
)

// AlertType enumerates the kinds of alert the Alert Emitter or Orchestrator can raise.
type AlertType string

const (
	AlertTypeContentChange AlertType = "content_change"
	AlertTypePriceChange   AlertType = "price_change"
	AlertTypeNewPage       AlertType = "new_page"
	AlertTypePageRemoved   AlertType = "page_removed"
	AlertTypeError         AlertType = "error"
)

// AlertStatus is mutated only by the outer system (read/archive).
type AlertStatus string

const (
	AlertStatusUnread   AlertStatus = "unread"
	AlertStatusRead     AlertStatus = "read"
	AlertStatusArchived AlertStatus = "archived"
)

// Competitor is the identity of a tracked page. It is created by the outer
// system; the core reads it and updates the three counters on each capture.
type Competitor struct {
	ID                string    `json:"id" validate:"required"`
	URL               string    `json:"url" validate:"required,url"`
	MonitoringEnabled bool      `json:"monitoring_enabled"`
	CheckIntervalSec  int       `json:"check_interval" validate:"min=300"`
	Priority          Priority  `json:"priority" validate:"required,oneof=low medium high"`
	TotalVersions     int       `json:"total_versions"`
	LastCheckedAt     *time.Time `json:"last_checked_at,omitempty"`
	LastChangeAt      *time.Time `json:"last_change_at,omitempty"`
}

// Hunk is a contiguous segment of lines marked as added, removed or unchanged
// between two normalized HTML strings.
type HunkKind string

const (
	HunkAdded     HunkKind = "added"
	HunkRemoved   HunkKind = "removed"
	HunkUnchanged HunkKind = "unchanged"
)

type Hunk struct {
	Kind      HunkKind `json:"kind"`
	Text      string   `json:"text"`
	LineCount int      `json:"line_count"`
}

// Snapshot is one recorded version of a page.
type Snapshot struct {
	ID               string    `json:"id"`
	CompetitorID     string    `json:"competitor_id" validate:"required"`
	VersionNumber    int       `json:"version_number" validate:"min=1"`
	CapturedAt       time.Time `json:"captured_at"`
	IsFullVersion    bool      `json:"is_full_version"`
	IsCurrent        bool      `json:"is_current"`
	FullHTML         *string   `json:"full_html,omitempty"`
	ChangeCount      int       `json:"change_count"`
	ChangePercentage float64   `json:"change_percentage"`
	Severity         Severity  `json:"severity"`
	ChangeType       ChangeType `json:"change_type"`
	ChangeSummary    string    `json:"change_summary"`
}

// SnapshotDiff is the change payload between two consecutive snapshots of the
// same competitor (from.version_number + 1 == to.version_number).
type SnapshotDiff struct {
	ID               string  `json:"id"`
	FromSnapshotID   string  `json:"from_snapshot_id" validate:"required"`
	ToSnapshotID     string  `json:"to_snapshot_id" validate:"required"`
	DiffData         []Hunk  `json:"diff_data"`
	ChangeSummary    string  `json:"change_summary"`
	ChangeCount      int     `json:"change_count"`
	ChangePercentage float64 `json:"change_percentage"`
}

// SectionChange describes one attribute-level change localized to a page section.
type SectionChange struct {
	Attribute string `json:"attribute"`
	Before    string `json:"before,omitempty"`
	After     string `json:"after,omitempty"`
}

// AffectedSection is one hunk's mapping to a logical page region, per §4.4.
type AffectedSection struct {
	Selector       string          `json:"selector"`
	SectionType    string          `json:"section_type"`
	Confidence     float64         `json:"confidence"`
	BeforeSnippet  string          `json:"before_snippet,omitempty"`
	AfterSnippet   string          `json:"after_snippet,omitempty"`
	Changes        []SectionChange `json:"changes,omitempty"`
}

// Alert is one reported change, created by the Alert Emitter and mutated only
// by the outer system.
type Alert struct {
	ID               string             `json:"id"`
	UserID           string             `json:"user_id"`
	CompetitorID     string             `json:"competitor_id" validate:"required"`
	SnapshotID       string             `json:"snapshot_id" validate:"required"`
	Type             AlertType          `json:"type" validate:"required"`
	Severity         Severity           `json:"severity" validate:"required"`
	Status           AlertStatus        `json:"status" validate:"required"`
	Title            string             `json:"title"`
	Message          string             `json:"message"`
	ChangeCount      int                `json:"change_count"`
	ChangePercentage float64            `json:"change_percentage"`
	VersionNumber    int                `json:"version_number"`
	ChangeSummary    string             `json:"change_summary"`
	AffectedSections []AffectedSection  `json:"affected_sections,omitempty"`
	CreatedAt        time.Time          `json:"created_at"`
}

// SnapshotOrder controls the ordering returned by SnapshotStore.List.
type SnapshotOrder string

const (
	OrderAscending  SnapshotOrder = "asc"
	OrderDescending SnapshotOrder = "desc"
)

// NewSnapshotAttrs is the input to SnapshotStore.CreateSnapshot.
type NewSnapshotAttrs struct {
	CompetitorID     string
	VersionNumber    int
	CapturedAt       time.Time
	IsFullVersion    bool
	IsCurrent        bool
	FullHTML         *string
	ChangeCount      int
	ChangePercentage float64
	Severity         Severity
	ChangeType       ChangeType
	ChangeSummary    string
}

// NewSnapshotDiffAttrs is the input to SnapshotStore.CreateDiff.
type NewSnapshotDiffAttrs struct {
	FromSnapshotID   string
	ToSnapshotID     string
	DiffData         []Hunk
	ChangeSummary    string
	ChangeCount      int
	ChangePercentage float64
}

// SnapshotUpdate is a partial update to an existing snapshot, per §4.5. Exactly
// the fields that are non-nil are applied.
type SnapshotUpdate struct {
	FullHTML      *string
	IsFullVersion *bool
	IsCurrent     *bool
}

// SnapshotStore is the abstract repository of snapshots and diffs described in
// §4.5. Any implementation (relational, document, in-memory) satisfying these
// contracts is acceptable; the Version Engine is its main caller, and the
// Capture Orchestrator also reads the current snapshot through it.
type SnapshotStore interface {
	GetCurrent(ctx context.Context, competitorID string) (*Snapshot, error)
	GetByVersion(ctx context.Context, competitorID string, versionNumber int) (*Snapshot, error)
	List(ctx context.Context, competitorID string, order SnapshotOrder) ([]*Snapshot, error)
	FindLastFullAtOrBefore(ctx context.Context, competitorID string, versionNumber int) (*Snapshot, error)
	DiffsBetween(ctx context.Context, competitorID string, fromVersion, toVersion int) ([]*SnapshotDiff, error)

	// CreateSnapshot is atomic; it fails with a VersionConflict-kind error if
	// another snapshot with the same (competitor_id, version_number) exists.
	CreateSnapshot(ctx context.Context, attrs NewSnapshotAttrs) (*Snapshot, error)
	CreateDiff(ctx context.Context, attrs NewSnapshotDiffAttrs) (*SnapshotDiff, error)

	// MarkNotCurrent is transactional with the subsequent CreateSnapshot call
	// when writing a new current version; WithTx exposes that transaction.
	MarkNotCurrent(ctx context.Context, competitorID string, exceptID string) error
	Update(ctx context.Context, snapshotID string, update SnapshotUpdate) error
	Delete(ctx context.Context, snapshotID string) error

	// WithTx runs fn inside a single transaction, passing a store bound to
	// that transaction. Used by the Version Engine for mark-not-current +
	// create-snapshot and for the retention promote-and-delete step.
	WithTx(ctx context.Context, fn func(ctx context.Context, tx SnapshotStore) error) error

	CountByCompetitor(ctx context.Context, competitorID string) (int, error)
	OldestSnapshot(ctx context.Context, competitorID string) (*Snapshot, error)
	NextAfter(ctx context.Context, competitorID string, versionNumber int) (*Snapshot, error)
}

// CompetitorStore is the minimal repository surface the Orchestrator needs
// over the Competitor entity; CRUD of competitors otherwise belongs to the
// outer system (spec.md §1).
type CompetitorStore interface {
	Get(ctx context.Context, competitorID string) (*Competitor, error)
	UpdateCounters(ctx context.Context, competitorID string, lastCheckedAt, lastChangeAt *time.Time, totalVersions int) error
}

// AlertStore persists Alert records emitted by the Alert Emitter.
type AlertStore interface {
	Create(ctx context.Context, alert *Alert) error
}

// RenderOptions configures a single Renderer Gateway fetch, per §4.1.
type RenderOptions struct {
	WaitMS        int
	ViewportW     int
	ViewportH     int
	RemoveScripts bool
	TimeoutMS     int
	Simulate      bool
	SimulatedHTML string
}

// RenderResult is the successful outcome of a Renderer Gateway fetch.
type RenderResult struct {
	HTML        string
	Title       string
	RenderedURL string
	WasTimeout  bool
}

// RendererGateway fetches rendered HTML for a URL, per §4.1.
type RendererGateway interface {
	Fetch(ctx context.Context, url string, options RenderOptions) (*RenderResult, error)
}

// Normalizer reduces an HTML string to its canonical, diff-stable form, per §4.2.
type Normalizer interface {
	Normalize(html string) string
}

// DiffResult is the output of the Differ, per §4.3.
type DiffResult struct {
	// Hunks holds only the significant added/removed hunks (the §4.3 filter
	// applied): the set the Section Extractor enriches and the Alert Emitter
	// describes.
	Hunks []Hunk

	// AllHunks holds the complete, unfiltered LCS edit script (including
	// unchanged and sub-threshold hunks). This is what the Version Engine
	// persists as SnapshotDiff.DiffData and replays during reconstruction —
	// storing only the significant subset would make reconstruction lossy.
	AllHunks []Hunk

	ChangeCount      int
	ChangePercentage float64
	Severity         Severity
	ChangeType       ChangeType
	ChangeSummary    string
}

// Significant reports whether this diff should be considered a significant
// change under the given change_threshold (expressed as a percentage, e.g. 5.0).
func (d *DiffResult) Significant(changeThresholdPct float64) bool {
	return d.ChangeCount > 0 && d.ChangePercentage >= changeThresholdPct
}

// Differ computes the change set between two normalized HTML strings, per §4.3.
type Differ interface {
	Diff(normalizedOld, normalizedNew string) (*DiffResult, error)
}

// SectionExtractor enriches significant hunks with their logical page section, per §4.4.
type SectionExtractor interface {
	Extract(rawNewHTML string, hunks []Hunk) ([]AffectedSection, error)
}

// CaptureOptions is the input to the Orchestrator's single public entry point.
type CaptureOptions struct {
	WaitMS           int
	ViewportW        int
	ViewportH        int
	TimeoutMS        int
	Simulate         bool
	SimulatedHTML    string
	IsInitialCapture bool
	IsManualCheck    bool
}

// CaptureResult is the outcome of one orchestrator run, per §4.7.
type CaptureResult struct {
	ChangesDetected bool
	AlertCreated    bool
	SnapshotID      string
	VersionNumber   int
	ChangeCount     int
	ChangePercentage float64
	Severity        Severity
	ChangeType      ChangeType
	ChangeSummary   string
}

// Orchestrator is the top-level capture operation described in §4.7.
type Orchestrator interface {
	Capture(ctx context.Context, competitorID string, options CaptureOptions) (*CaptureResult, error)
}

// AlertEmitter converts a detected change into a structured Alert record, per §4.8.
type AlertEmitter interface {
	Emit(ctx context.Context, competitor *Competitor, snapshot *Snapshot, sections []AffectedSection) (*Alert, error)
	EmitError(ctx context.Context, competitor *Competitor, cause error) (*Alert, error)
}

// DistributedLock is a non-blocking per-competitor mutual-exclusion primitive, per §5.
// AcquireLock returns (false, nil) — not an error — when the lock is already held.
type DistributedLock interface {
	AcquireLock(ctx context.Context, key string) (bool, error)
	ReleaseLock(ctx context.Context, key string) error
}

// Cache is a generic get/set cache, used for the normalized-HTML/diff decision cache.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// VersionEngine implements the write policy, reconstruction and retention of §4.6.
type VersionEngine interface {
	// WriteVersion applies the write policy for a significant capture at
	// current version n, returning the newly created snapshot.
	WriteVersion(ctx context.Context, competitorID string, currentVersion int, renderedHTML string, diff *DiffResult) (*Snapshot, error)

	// Reconstruct returns the full HTML that was captured at versionNumber.
	Reconstruct(ctx context.Context, competitorID string, versionNumber int) (string, error)

	// EnforceRetention runs the retention policy for one competitor.
	EnforceRetention(ctx context.Context, competitorID string, maxVersions int) error
}
