// Package checkpoint persists run progress so interrupted backfills can
// resume without re-fetching committed windows.
package checkpoint

import (
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/arbor-commodities/sugarwire/internal/model"
)

const (
	snapshotPattern = "checkpoint-%06d.ckpt"
	latestPointer   = "LATEST"
)

// Snapshot is one durable checkpoint record: the accumulation set as it
// existed immediately after a window was merged, plus the index of the next
// window to process.
type Snapshot struct {
	RunID string
	// Horizon is the clock the window schedule was derived from. A resume
	// replans from it, so the next window index still covers the same
	// dates even after the weekly boundary has advanced.
	Horizon    time.Time
	NextWindow int
	Articles   []model.ClassifiedArticle
	SavedAt    time.Time
}

// Manager reads and writes versioned snapshot files under one directory.
// Writes are atomic: content goes to a temp file first and is renamed into
// place, so a crash mid-write never corrupts the latest valid checkpoint.
type Manager struct {
	dir string
}

// NewManager creates the checkpoint directory if needed.
func NewManager(dir string) (*Manager, error) {
	if dir == "" {
		return nil, eris.New("checkpoint: directory not configured")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, eris.Wrap(err, "checkpoint: create directory")
	}
	return &Manager{dir: dir}, nil
}

// Dir returns the checkpoint directory path.
func (m *Manager) Dir() string {
	return m.dir
}

// Save durably writes the snapshot and repoints LATEST at it.
func (m *Manager) Save(snap *Snapshot) error {
	snap.SavedAt = time.Now().UTC()
	name := fmt.Sprintf(snapshotPattern, snap.NextWindow)

	if err := m.writeAtomic(name, func(f *os.File) error {
		return gob.NewEncoder(f).Encode(snap)
	}); err != nil {
		return eris.Wrap(err, "checkpoint: write snapshot")
	}

	if err := m.writeAtomic(latestPointer, func(f *os.File) error {
		_, err := f.WriteString(name + "\n")
		return err
	}); err != nil {
		return eris.Wrap(err, "checkpoint: write latest pointer")
	}

	zap.L().Debug("checkpoint saved",
		zap.String("file", name),
		zap.Int("next_window", snap.NextWindow),
		zap.Int("articles", len(snap.Articles)),
	)
	return nil
}

// Latest loads the snapshot named by the LATEST pointer. Returns (nil, nil)
// when no checkpoint exists.
func (m *Manager) Latest() (*Snapshot, error) {
	data, err := os.ReadFile(filepath.Join(m.dir, latestPointer))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "checkpoint: read latest pointer")
	}

	name := strings.TrimSpace(string(data))
	if name == "" || strings.Contains(name, string(os.PathSeparator)) {
		return nil, eris.Errorf("checkpoint: invalid latest pointer %q", name)
	}

	f, err := os.Open(filepath.Join(m.dir, name))
	if err != nil {
		return nil, eris.Wrap(err, fmt.Sprintf("checkpoint: open %s", name))
	}
	defer f.Close() //nolint:errcheck

	var snap Snapshot
	if err := gob.NewDecoder(f).Decode(&snap); err != nil {
		return nil, eris.Wrap(err, fmt.Sprintf("checkpoint: decode %s", name))
	}
	return &snap, nil
}

// Clear removes every checkpoint artifact. Called after the final commit
// succeeds; a failed commit leaves the artifacts as the recovery point.
func (m *Manager) Clear() error {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return eris.Wrap(err, "checkpoint: read directory")
	}
	for _, e := range entries {
		name := e.Name()
		if name != latestPointer && !strings.HasSuffix(name, ".ckpt") {
			continue
		}
		if err := os.Remove(filepath.Join(m.dir, name)); err != nil {
			return eris.Wrap(err, fmt.Sprintf("checkpoint: remove %s", name))
		}
	}
	return nil
}

// writeAtomic writes via a temp file in the same directory then renames it
// over the target.
func (m *Manager) writeAtomic(name string, write func(f *os.File) error) error {
	tmp, err := os.CreateTemp(m.dir, name+".tmp-*")
	if err != nil {
		return eris.Wrap(err, "create temp file")
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) //nolint:errcheck

	if err := write(tmp); err != nil {
		tmp.Close() //nolint:errcheck
		return eris.Wrap(err, "write temp file")
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close() //nolint:errcheck
		return eris.Wrap(err, "sync temp file")
	}
	if err := tmp.Close(); err != nil {
		return eris.Wrap(err, "close temp file")
	}
	if err := os.Rename(tmpName, filepath.Join(m.dir, name)); err != nil {
		return eris.Wrap(err, "rename temp file")
	}
	return nil
}
