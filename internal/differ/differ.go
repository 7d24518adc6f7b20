// Package differ computes a line-level change set between two normalized
// HTML strings, classifies its severity and dominant change type, and
// filters out hunks too small to matter.
package differ

import (
	"strings"

	"github.com/ramfiaogusto/watchtower/internal/core"
)

// Config holds the thresholds that govern what the Differ keeps and how it
// classifies severity, per §6.
type Config struct {
	SignificantChangeThreshold int // minimum trimmed hunk length, in characters, to keep (default 100)
}

// DefaultConfig returns the §6 defaults.
func DefaultConfig() Config {
	return Config{SignificantChangeThreshold: 100}
}

// Differ implements core.Differ using a line-level longest-common-subsequence algorithm.
type Differ struct {
	cfg Config
}

// New returns a Differ configured with cfg.
func New(cfg Config) *Differ {
	if cfg.SignificantChangeThreshold <= 0 {
		cfg.SignificantChangeThreshold = DefaultConfig().SignificantChangeThreshold
	}
	return &Differ{cfg: cfg}
}

var keywordLists = map[core.ChangeType][]string{
	core.ChangeTypePricing: {"price", "pricing", "$", "€", "£", "cost", "subscription", "plan", "tier", "billing", "discount"},
	core.ChangeTypeFeature: {"feature", "new", "introducing", "launch", "capability", "integration", "now supports", "release"},
	core.ChangeTypeDesign:  {"style", "color", "layout", "theme", "redesign", "font", "background", "class=", "css"},
	core.ChangeTypeContent: {"read more", "article", "blog", "announcement", "update", "news", "paragraph"},
}

// Diff implements core.Differ.
func (d *Differ) Diff(normalizedOld, normalizedNew string) (*core.DiffResult, error) {
	if normalizedOld == normalizedNew {
		return &core.DiffResult{
			Hunks:            nil,
			AllHunks:         nil,
			ChangeCount:      0,
			ChangePercentage: 0,
			Severity:         core.SeverityLow,
			ChangeType:       core.ChangeTypeOther,
			ChangeSummary:    "",
		}, nil
	}

	oldLines := splitLines(normalizedOld)
	newLines := splitLines(normalizedNew)

	rawHunks := lcsHunks(oldLines, newLines)

	var significant []core.Hunk
	changedLines := 0
	for _, h := range rawHunks {
		if h.Kind == core.HunkUnchanged {
			continue
		}
		if len(strings.TrimSpace(h.Text)) < d.cfg.SignificantChangeThreshold {
			continue
		}
		significant = append(significant, h)
		changedLines += h.LineCount
	}

	totalLines := len(newLines)
	if totalLines < 1 {
		totalLines = 1
	}

	changePercentage := 100 * float64(changedLines) / float64(totalLines)
	changeCount := len(significant)
	severity := classifySeverity(changePercentage, changeCount)
	changeType := classifyChangeType(significant)
	summary := buildSummary(changeCount, changeType)

	return &core.DiffResult{
		Hunks:            significant,
		AllHunks:         rawHunks,
		ChangeCount:      changeCount,
		ChangePercentage: changePercentage,
		Severity:         severity,
		ChangeType:       changeType,
		ChangeSummary:    summary,
	}, nil
}

func classifySeverity(changePercentage float64, changeCount int) core.Severity {
	switch {
	case changePercentage > 20 || changeCount > 50:
		return core.SeverityCritical
	case changePercentage > 10 || changeCount > 20:
		return core.SeverityHigh
	case changePercentage > 5 || changeCount > 10:
		return core.SeverityMedium
	default:
		return core.SeverityLow
	}
}

func classifyChangeType(hunks []core.Hunk) core.ChangeType {
	if len(hunks) == 0 {
		return core.ChangeTypeOther
	}

	var joined strings.Builder
	for _, h := range hunks {
		joined.WriteString(strings.ToLower(h.Text))
		joined.WriteByte(' ')
	}
	text := joined.String()

	best := core.ChangeTypeOther
	bestScore := 0
	for ct, keywords := range keywordLists {
		score := 0
		for _, kw := range keywords {
			score += strings.Count(text, strings.ToLower(kw))
		}
		if score > bestScore {
			bestScore = score
			best = ct
		}
	}
	return best
}

func buildSummary(changeCount int, changeType core.ChangeType) string {
	if changeCount == 0 {
		return ""
	}
	if changeCount == 1 {
		return string(changeType) + " change detected in 1 section"
	}
	return string(changeType) + " changes detected across multiple sections"
}

func splitLines(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, "\n")
}
