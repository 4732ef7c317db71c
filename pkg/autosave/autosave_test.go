package autosave

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexdata/nexdata/pkg/config"
	"github.com/nexdata/nexdata/pkg/errors"
	"github.com/nexdata/nexdata/pkg/table"
)

func newTestSaver(t *testing.T) *Saver {
	t.Helper()
	return New(config.AutosaveConfig{
		Enabled:  true,
		Interval: time.Hour, // manual saves only
		Keep:     2,
	}, t.TempDir(), nil)
}

func snapshotTable(t *testing.T, rows int) *table.Table {
	t.Helper()
	tbl := table.New("work", []table.Column{
		{Name: "id", Type: table.FieldTypeInt},
		{Name: "label", Type: table.FieldTypeString},
	})
	for i := 0; i < rows; i++ {
		require.NoError(t, tbl.AppendRow(table.Row{int64(i + 1), "row"}))
	}
	return tbl
}

func TestSaveNowAndRecover(t *testing.T) {
	s := newTestSaver(t)
	s.Update(snapshotTable(t, 4), "Sales Data")

	snap, err := s.SaveNow()
	require.NoError(t, err)
	assert.Equal(t, "Sales Data", snap.Source)
	assert.Equal(t, 4, snap.Rows)
	assert.Equal(t, 2, snap.Columns)
	assert.Greater(t, snap.SizeBytes, int64(0))

	got, info, err := s.Recover()
	require.NoError(t, err)
	assert.Equal(t, snap.ID, info.ID)
	assert.Equal(t, "Sales Data", got.Name())
	require.Equal(t, 4, got.NumRows())
	assert.Equal(t, int64(1), got.Cell(0, 0))
}

func TestSaveNowNothingToSave(t *testing.T) {
	s := newTestSaver(t)

	_, err := s.SaveNow()
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeNotFound))

	// A second save without an Update in between is also a no-op.
	s.Update(snapshotTable(t, 1), "x")
	_, err = s.SaveNow()
	require.NoError(t, err)
	_, err = s.SaveNow()
	require.Error(t, err)
}

func TestSaveNowFailureKeepsPendingDataset(t *testing.T) {
	// A regular file where the autosave directory should be makes every
	// snapshot write fail.
	blocked := filepath.Join(t.TempDir(), "snapshots")
	require.NoError(t, os.WriteFile(blocked, []byte("x"), 0o644))

	s := New(config.AutosaveConfig{
		Enabled:  true,
		Interval: time.Hour,
		Keep:     2,
	}, blocked, nil)
	s.Update(snapshotTable(t, 1), "src")

	_, err := s.SaveNow()
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeFile))

	// The failed save did not consume the dataset; the next attempt
	// still tries to write instead of reporting nothing to save.
	_, err = s.SaveNow()
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeFile))
}

func TestUpdateIsDefensiveCopy(t *testing.T) {
	s := newTestSaver(t)
	tbl := snapshotTable(t, 2)
	s.Update(tbl, "src")
	tbl.SetCell(0, 1, "mutated")

	_, err := s.SaveNow()
	require.NoError(t, err)
	got, _, err := s.Recover()
	require.NoError(t, err)
	assert.Equal(t, "row", got.Cell(0, 1))
}

func TestRetentionKeepsNewest(t *testing.T) {
	s := newTestSaver(t)

	var last *Snapshot
	for i := 1; i <= 4; i++ {
		s.Update(snapshotTable(t, i), "src")
		snap, err := s.SaveNow()
		require.NoError(t, err)
		last = snap
		// SavedAt has full timestamp precision; keep saves ordered.
		time.Sleep(5 * time.Millisecond)
	}

	snaps, err := s.list()
	require.NoError(t, err)
	require.Len(t, snaps, 2, "only the newest snapshots are retained")
	assert.Equal(t, last.ID, snaps[0].ID)
	assert.Equal(t, 4, snaps[0].Rows)
	assert.Equal(t, 3, snaps[1].Rows)
}

func TestRecoveryInfoEmpty(t *testing.T) {
	s := newTestSaver(t)
	_, err := s.RecoveryInfo()
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeNotFound))
}

func TestClearRecovery(t *testing.T) {
	s := newTestSaver(t)
	s.Update(snapshotTable(t, 1), "src")
	_, err := s.SaveNow()
	require.NoError(t, err)

	require.NoError(t, s.ClearRecovery())
	_, err = s.RecoveryInfo()
	require.Error(t, err)

	// Clearing an empty directory is fine.
	require.NoError(t, s.ClearRecovery())
}

func TestStartStop(t *testing.T) {
	s := New(config.AutosaveConfig{
		Enabled:  true,
		Interval: 20 * time.Millisecond,
		Keep:     3,
	}, t.TempDir(), nil)

	s.Update(snapshotTable(t, 2), "bg")
	s.Start(context.Background())
	// Starting twice is a no-op.
	s.Start(context.Background())

	require.Eventually(t, func() bool {
		_, err := s.RecoveryInfo()
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)

	s.Stop()
	// Stopping twice is a no-op.
	s.Stop()
}
