// Package storage persists the order book to disk: one canonical JSON
// snapshot written atomically, plus timestamped rotating backups.
package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/zulandar/pedidos/internal/orders"
)

// SnapshotFile is the canonical snapshot filename inside the data directory.
const SnapshotFile = "pedidos.json"

// backupPrefix marks rotating backup files.
const backupPrefix = "backup-"

// ErrNotFound is returned by Load when no snapshot exists yet. It is not a
// failure: the caller initializes an empty store and persists it immediately
// so disk and memory agree from the first tick.
var ErrNotFound = errors.New("storage: no snapshot found")

// Manager reads and writes order-book snapshots under a single data
// directory. It is safe for use from one goroutine at a time; callers
// serialize saves through the command path.
type Manager struct {
	dir       string
	retention int
	log       zerolog.Logger
	now       func() time.Time
}

// ManagerOpts holds parameters for creating a Manager.
type ManagerOpts struct {
	Dir       string         // data directory; created on first save
	Retention int            // backups to keep; defaults to 5
	Logger    zerolog.Logger // defaults to a disabled logger
	Now       func() time.Time
}

// NewManager creates a Manager.
func NewManager(opts ManagerOpts) (*Manager, error) {
	if opts.Dir == "" {
		return nil, fmt.Errorf("storage: data directory is required")
	}
	retention := opts.Retention
	if retention <= 0 {
		retention = 5
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Manager{
		dir:       opts.Dir,
		retention: retention,
		log:       opts.Logger,
		now:       now,
	}, nil
}

// Path returns the canonical snapshot path.
func (m *Manager) Path() string {
	return filepath.Join(m.dir, SnapshotFile)
}

// Load reads the canonical snapshot. Returns ErrNotFound when the file does
// not exist.
func (m *Manager) Load() (orders.Snapshot, error) {
	var snap orders.Snapshot

	data, err := os.ReadFile(m.Path())
	if err != nil {
		if os.IsNotExist(err) {
			return snap, ErrNotFound
		}
		return snap, fmt.Errorf("storage: read snapshot: %w", err)
	}
	if err := json.Unmarshal(data, &snap); err != nil {
		return snap, fmt.Errorf("storage: parse snapshot: %w", err)
	}
	return snap, nil
}

// Save writes the snapshot atomically: marshal to a temp file in the same
// directory, sync, then rename over the canonical path. A crash mid-write
// leaves the previous snapshot intact.
func (m *Manager) Save(snap orders.Snapshot) error {
	if err := os.MkdirAll(m.dir, 0o755); err != nil {
		return fmt.Errorf("storage: create data dir: %w", err)
	}

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("storage: marshal snapshot: %w", err)
	}

	tmp := m.Path() + ".tmp"
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("storage: open temp snapshot: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("storage: write temp snapshot: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("storage: sync temp snapshot: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("storage: close temp snapshot: %w", err)
	}
	if err := os.Rename(tmp, m.Path()); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("storage: replace snapshot: %w", err)
	}
	return nil
}

// RotateBackup writes a timestamped copy of the snapshot and prunes the
// backup set down to the configured retention, oldest first.
func (m *Manager) RotateBackup(snap orders.Snapshot) error {
	if err := os.MkdirAll(m.dir, 0o755); err != nil {
		return fmt.Errorf("storage: create data dir: %w", err)
	}

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("storage: marshal backup: %w", err)
	}

	name := fmt.Sprintf("%s%d.json", backupPrefix, m.now().UnixMilli())
	if err := os.WriteFile(filepath.Join(m.dir, name), data, 0o644); err != nil {
		return fmt.Errorf("storage: write backup: %w", err)
	}

	return m.pruneBackups()
}

// Backups returns the current backup filenames, oldest first.
func (m *Manager) Backups() ([]string, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("storage: read data dir: %w", err)
	}

	var backups []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasPrefix(e.Name(), backupPrefix) {
			backups = append(backups, e.Name())
		}
	}
	// Filenames embed a unix-millis timestamp of fixed magnitude, so the
	// lexicographic order is the chronological order.
	sort.Strings(backups)
	return backups, nil
}

// pruneBackups deletes the oldest backups beyond the retention count.
func (m *Manager) pruneBackups() error {
	backups, err := m.Backups()
	if err != nil {
		return err
	}
	if len(backups) <= m.retention {
		return nil
	}
	for _, old := range backups[:len(backups)-m.retention] {
		if err := os.Remove(filepath.Join(m.dir, old)); err != nil {
			m.log.Warn().Err(err).Str("backup", old).Msg("storage: prune backup")
		}
	}
	return nil
}
