package alertemitter

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ramfiaogusto/watchtower/internal/core"
)

type fakeAlertStore struct {
	created []*core.Alert
	failErr error
}

func (f *fakeAlertStore) Create(ctx context.Context, alert *core.Alert) error {
	if f.failErr != nil {
		return f.failErr
	}
	f.created = append(f.created, alert)
	return nil
}

func TestEmit_DefaultsToContentChange(t *testing.T) {
	store := &fakeAlertStore{}
	e := New(store, nil, nil)

	competitor := &core.Competitor{ID: "c1", URL: "https://example.com"}
	snapshot := &core.Snapshot{ID: "s1", VersionNumber: 2, Severity: core.SeverityMedium, ChangeType: core.ChangeTypeContent, ChangeCount: 1}

	alert, err := e.Emit(context.Background(), competitor, snapshot, nil)
	require.NoError(t, err)
	assert.Equal(t, core.AlertTypeContentChange, alert.Type)
	assert.Equal(t, core.SeverityMedium, alert.Severity)
	assert.Equal(t, core.AlertStatusUnread, alert.Status)
	require.Len(t, store.created, 1)
}

func TestEmit_PricingChangeTypePromotesToPriceChange(t *testing.T) {
	store := &fakeAlertStore{}
	e := New(store, nil, nil)

	competitor := &core.Competitor{ID: "c1", URL: "https://example.com"}
	snapshot := &core.Snapshot{ID: "s1", VersionNumber: 2, Severity: core.SeverityHigh, ChangeType: core.ChangeTypePricing}

	alert, err := e.Emit(context.Background(), competitor, snapshot, nil)
	require.NoError(t, err)
	assert.Equal(t, core.AlertTypePriceChange, alert.Type)
}

func TestEmit_DominantPricingSectionAtMediumSeverityPromotes(t *testing.T) {
	store := &fakeAlertStore{}
	e := New(store, nil, nil)

	competitor := &core.Competitor{ID: "c1", URL: "https://example.com"}
	snapshot := &core.Snapshot{ID: "s1", VersionNumber: 2, Severity: core.SeverityMedium, ChangeType: core.ChangeTypeContent}
	sections := []core.AffectedSection{
		{SectionType: "pricing"},
		{SectionType: "pricing"},
		{SectionType: "content"},
	}

	alert, err := e.Emit(context.Background(), competitor, snapshot, sections)
	require.NoError(t, err)
	assert.Equal(t, core.AlertTypePriceChange, alert.Type)
}

func TestEmit_LowSeverityPricingSectionDoesNotPromote(t *testing.T) {
	store := &fakeAlertStore{}
	e := New(store, nil, nil)

	competitor := &core.Competitor{ID: "c1", URL: "https://example.com"}
	snapshot := &core.Snapshot{ID: "s1", VersionNumber: 2, Severity: core.SeverityLow, ChangeType: core.ChangeTypeContent}
	sections := []core.AffectedSection{{SectionType: "pricing"}}

	alert, err := e.Emit(context.Background(), competitor, snapshot, sections)
	require.NoError(t, err)
	assert.Equal(t, core.AlertTypeContentChange, alert.Type)
}

func TestEmitError_AlwaysHighSeverity(t *testing.T) {
	store := &fakeAlertStore{}
	e := New(store, nil, nil)

	competitor := &core.Competitor{ID: "c1", URL: "https://example.com"}
	alert, err := e.EmitError(context.Background(), competitor, errors.New("renderer down"))
	require.NoError(t, err)
	assert.Equal(t, core.AlertTypeError, alert.Type)
	assert.Equal(t, core.SeverityHigh, alert.Severity)
	assert.Contains(t, alert.Message, "renderer down")
}

func TestEmit_PropagatesStoreError(t *testing.T) {
	store := &fakeAlertStore{failErr: errors.New("db down")}
	e := New(store, nil, nil)

	competitor := &core.Competitor{ID: "c1", URL: "https://example.com"}
	snapshot := &core.Snapshot{ID: "s1", VersionNumber: 2, Severity: core.SeverityLow}

	_, err := e.Emit(context.Background(), competitor, snapshot, nil)
	assert.Error(t, err)
}
