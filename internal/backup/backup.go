// Package backup snapshots the roster document to timestamped JSON files
// and restores from them.
package backup

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/www-e/formnew/internal/roster"
)

// Manager writes and prunes backup snapshots.
type Manager struct {
	dir  string
	keep int
	log  zerolog.Logger
}

// Snapshot describes one stored backup.
type Snapshot struct {
	ID        string    `json:"id"`
	File      string    `json:"file"`
	CreatedAt time.Time `json:"createdAt"`
	Students  int       `json:"students"`
}

type envelope struct {
	ID        string           `json:"id"`
	CreatedAt time.Time        `json:"createdAt"`
	Document  *roster.Document `json:"document"`
}

// NewManager creates a manager writing into dir, keeping the newest keep
// snapshots.
func NewManager(dir string, keep int, log zerolog.Logger) *Manager {
	if keep <= 0 {
		keep = 10
	}
	return &Manager{dir: dir, keep: keep, log: log}
}

// Create writes a snapshot of the store's current document.
func (m *Manager) Create(store *roster.Store) (Snapshot, error) {
	doc := store.Snapshot()
	snap := Snapshot{
		ID:        uuid.NewString(),
		CreatedAt: time.Now(),
		Students:  len(doc.Students),
	}
	raw, err := json.MarshalIndent(envelope{ID: snap.ID, CreatedAt: snap.CreatedAt, Document: doc}, "", "  ")
	if err != nil {
		return Snapshot{}, err
	}
	if err := os.MkdirAll(m.dir, 0o755); err != nil {
		return Snapshot{}, err
	}
	snap.File = filepath.Join(m.dir, fmt.Sprintf("backup-%s.json", snap.CreatedAt.Format("20060102-150405")))
	if err := os.WriteFile(snap.File, raw, 0o644); err != nil {
		return Snapshot{}, err
	}
	m.log.Info().Str("file", snap.File).Int("students", snap.Students).Msg("backup written")
	m.prune()
	return snap, nil
}

// Restore replaces the store's document with the content of the named
// backup file.
func (m *Manager) Restore(ctx context.Context, store *roster.Store, file string) error {
	raw, err := os.ReadFile(filepath.Join(m.dir, filepath.Base(file)))
	if err != nil {
		return err
	}
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return err
	}
	if env.Document == nil {
		return fmt.Errorf("backup %s holds no document", file)
	}
	return store.Replace(ctx, env.Document)
}

// List returns the stored backups, newest first.
func (m *Manager) List() ([]Snapshot, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var snaps []Snapshot
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		path := filepath.Join(m.dir, e.Name())
		raw, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		var env envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			continue
		}
		students := 0
		if env.Document != nil {
			students = len(env.Document.Students)
		}
		snaps = append(snaps, Snapshot{ID: env.ID, File: path, CreatedAt: env.CreatedAt, Students: students})
	}
	sort.Slice(snaps, func(i, j int) bool { return snaps[i].CreatedAt.After(snaps[j].CreatedAt) })
	return snaps, nil
}

func (m *Manager) prune() {
	snaps, err := m.List()
	if err != nil || len(snaps) <= m.keep {
		return
	}
	for _, old := range snaps[m.keep:] {
		if err := os.Remove(old.File); err != nil {
			m.log.Warn().Err(err).Str("file", old.File).Msg("prune failed")
		}
	}
}
