// Package autosave periodically snapshots the working dataset to disk so
// a crashed session can be recovered. Snapshots are gzip-compressed CSV
// files with a JSON sidecar describing what was saved; only the N most
// recent snapshots are retained.
package autosave

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nexdata/nexdata/pkg/config"
	"github.com/nexdata/nexdata/pkg/errors"
	"github.com/nexdata/nexdata/pkg/formats"
	"github.com/nexdata/nexdata/pkg/table"
)

// Snapshot describes one saved snapshot.
type Snapshot struct {
	ID        string    `json:"id"`
	Source    string    `json:"source"`
	Rows      int       `json:"rows"`
	Columns   int       `json:"columns"`
	SavedAt   time.Time `json:"saved_at"`
	DataFile  string    `json:"data_file"`
	SizeBytes int64     `json:"size_bytes"`
}

// Saver snapshots the current dataset on a timer. Update hands it the
// dataset to protect; SaveNow forces an immediate snapshot. The zero
// value is not usable; construct with New.
type Saver struct {
	dir    string
	keep   int
	every  time.Duration
	logger *zap.Logger

	mu      sync.Mutex
	current *table.Table
	source  string
	dirty   bool

	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a Saver from autosave settings. A nil logger disables
// logging.
func New(cfg config.AutosaveConfig, dir string, logger *zap.Logger) *Saver {
	if logger == nil {
		logger = zap.NewNop()
	}
	keep := cfg.Keep
	if keep <= 0 {
		keep = 5
	}
	every := cfg.Interval
	if every <= 0 {
		every = 5 * time.Minute
	}
	return &Saver{
		dir:    dir,
		keep:   keep,
		every:  every,
		logger: logger.With(zap.String("component", "autosave")),
	}
}

// Start launches the snapshot loop. It is a no-op if already running.
func (s *Saver) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}

	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	go s.loop(ctx)
	s.logger.Info("autosave started", zap.Duration("interval", s.every))
}

// Stop halts the snapshot loop and waits for it to exit.
func (s *Saver) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
		s.logger.Info("autosave stopped")
	}
}

// Update replaces the dataset to snapshot. A nil table clears it. The
// table is cloned so later mutation by the caller cannot race the
// snapshot loop.
func (s *Saver) Update(t *table.Table, source string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t == nil {
		s.current, s.source, s.dirty = nil, "", false
		return
	}
	s.current = t.Clone()
	s.source = source
	s.dirty = true
}

func (s *Saver) loop(ctx context.Context) {
	defer close(s.done)
	ticker := time.NewTicker(s.every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.SaveNow(); err != nil && !errors.IsType(err, errors.ErrorTypeNotFound) {
				s.logger.Error("autosave failed", zap.Error(err))
			}
		}
	}
}

// SaveNow writes a snapshot immediately. It returns a not_found error
// when there is nothing new to save. The pending dataset stays marked
// until a snapshot succeeds, so a failed write is retried on the next
// tick.
func (s *Saver) SaveNow() (*Snapshot, error) {
	s.mu.Lock()
	t, source, dirty := s.current, s.source, s.dirty
	s.mu.Unlock()

	if t == nil || !dirty {
		return nil, errors.New(errors.ErrorTypeNotFound, "nothing to save")
	}

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeFile, "failed to create autosave directory")
	}

	id := uuid.NewString()
	dataFile := filepath.Join(s.dir, id+".csv.gz")
	if err := formats.ExportCSV(t, dataFile); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeFile, "failed to write snapshot data")
	}

	info, err := os.Stat(dataFile)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeFile, "failed to stat snapshot data")
	}

	snap := &Snapshot{
		ID:        id,
		Source:    source,
		Rows:      t.NumRows(),
		Columns:   t.NumCols(),
		SavedAt:   time.Now().UTC(),
		DataFile:  dataFile,
		SizeBytes: info.Size(),
	}

	meta, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeData, "failed to marshal snapshot metadata")
	}
	if err := os.WriteFile(filepath.Join(s.dir, id+".json"), meta, 0o644); err != nil { //nolint:gosec
		return nil, errors.Wrap(err, errors.ErrorTypeFile, "failed to write snapshot metadata")
	}

	s.mu.Lock()
	if s.current == t {
		// No newer Update arrived while writing; the saved state is current.
		s.dirty = false
	}
	s.mu.Unlock()

	s.logger.Info("snapshot saved",
		zap.String("id", id),
		zap.String("source", source),
		zap.Int("rows", snap.Rows),
		zap.Int64("bytes", snap.SizeBytes))

	s.prune()
	return snap, nil
}

// prune removes all but the most recent snapshots. Failures are logged
// and swallowed.
func (s *Saver) prune() {
	snaps, err := s.list()
	if err != nil {
		s.logger.Warn("failed to list snapshots for pruning", zap.Error(err))
		return
	}
	for _, old := range snaps[min(s.keep, len(snaps)):] {
		if err := s.remove(old); err != nil {
			s.logger.Warn("failed to prune snapshot", zap.String("id", old.ID), zap.Error(err))
		}
	}
}

// RecoveryInfo returns the most recent snapshot, or a not_found error
// when none exists.
func (s *Saver) RecoveryInfo() (*Snapshot, error) {
	snaps, err := s.list()
	if err != nil {
		return nil, err
	}
	if len(snaps) == 0 {
		return nil, errors.New(errors.ErrorTypeNotFound, "no snapshots available")
	}
	return &snaps[0], nil
}

// Recover loads the most recent snapshot's data.
func (s *Saver) Recover() (*table.Table, *Snapshot, error) {
	snap, err := s.RecoveryInfo()
	if err != nil {
		return nil, nil, err
	}
	t, err := formats.ImportCSV(snap.DataFile)
	if err != nil {
		return nil, nil, errors.Wrap(err, errors.ErrorTypeFile, "failed to read snapshot data")
	}
	t.SetName(snap.Source)
	return t, snap, nil
}

// ClearRecovery deletes every snapshot.
func (s *Saver) ClearRecovery() error {
	snaps, err := s.list()
	if err != nil {
		return err
	}
	for _, snap := range snaps {
		if err := s.remove(snap); err != nil {
			return err
		}
	}
	return nil
}

// list returns snapshots newest first.
func (s *Saver) list() ([]Snapshot, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrap(err, errors.ErrorTypeFile, "failed to read autosave directory")
	}

	var snaps []Snapshot
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		raw, err := os.ReadFile(filepath.Join(s.dir, entry.Name())) //nolint:gosec
		if err != nil {
			s.logger.Warn("failed to read snapshot metadata", zap.String("file", entry.Name()), zap.Error(err))
			continue
		}
		var snap Snapshot
		if err := json.Unmarshal(raw, &snap); err != nil {
			s.logger.Warn("skipping corrupt snapshot metadata", zap.String("file", entry.Name()), zap.Error(err))
			continue
		}
		snaps = append(snaps, snap)
	}

	sort.Slice(snaps, func(a, b int) bool {
		return snaps[a].SavedAt.After(snaps[b].SavedAt)
	})
	return snaps, nil
}

func (s *Saver) remove(snap Snapshot) error {
	if err := os.Remove(snap.DataFile); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, errors.ErrorTypeFile, "failed to remove snapshot data")
	}
	metaFile := filepath.Join(s.dir, snap.ID+".json")
	if err := os.Remove(metaFile); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, errors.ErrorTypeFile, "failed to remove snapshot metadata")
	}
	return nil
}
