package backup

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/www-e/formnew/internal/roster"
	"github.com/www-e/formnew/internal/store"
)

func newTestStore(t *testing.T) *roster.Store {
	t.Helper()
	rs := roster.NewStore(store.NewMemory(), zerolog.Nop())
	if err := rs.Load(context.Background()); err != nil {
		t.Fatal(err)
	}
	return rs
}

func TestCreateAndRestore(t *testing.T) {
	ctx := context.Background()
	rs := newTestStore(t)
	if _, err := rs.CreateStudent(ctx, roster.Student{Name: "A", StudentPhone: "0101", Grade: roster.GradeFirst}); err != nil {
		t.Fatal(err)
	}

	m := NewManager(t.TempDir(), 5, zerolog.Nop())
	snap, err := m.Create(rs)
	if err != nil {
		t.Fatal(err)
	}
	if snap.Students != 1 || snap.ID == "" {
		t.Fatalf("snapshot = %+v", snap)
	}

	// Wipe the roster, then restore.
	if err := rs.Replace(ctx, roster.NewDocument()); err != nil {
		t.Fatal(err)
	}
	if got := rs.ListStudents(); len(got) != 0 {
		t.Fatal("replace did not wipe")
	}
	if err := m.Restore(ctx, rs, filepath.Base(snap.File)); err != nil {
		t.Fatal(err)
	}
	got := rs.ListStudents()
	if len(got) != 1 || got[0].Name != "A" {
		t.Fatalf("restored roster = %+v", got)
	}
}

func TestRestoreRejectsEmptyEnvelope(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "bad.json"), []byte(`{"id":"x"}`), 0o644); err != nil {
		t.Fatal(err)
	}
	m := NewManager(dir, 5, zerolog.Nop())
	if err := m.Restore(context.Background(), newTestStore(t), "bad.json"); err == nil {
		t.Fatal("expected error for envelope without document")
	}
}

func TestListNewestFirstAndPrune(t *testing.T) {
	dir := t.TempDir()
	base := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
	for i := 0; i < 4; i++ {
		env := envelope{
			ID:        string(rune('a' + i)),
			CreatedAt: base.Add(time.Duration(i) * time.Hour),
			Document:  roster.NewDocument(),
		}
		raw, err := json.Marshal(env)
		if err != nil {
			t.Fatal(err)
		}
		name := filepath.Join(dir, "backup-"+env.CreatedAt.Format("20060102-150405")+".json")
		if err := os.WriteFile(name, raw, 0o644); err != nil {
			t.Fatal(err)
		}
	}

	m := NewManager(dir, 3, zerolog.Nop())
	snaps, err := m.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(snaps) != 4 {
		t.Fatalf("got %d snapshots", len(snaps))
	}
	for i := 1; i < len(snaps); i++ {
		if snaps[i].CreatedAt.After(snaps[i-1].CreatedAt) {
			t.Fatal("snapshots not newest first")
		}
	}

	// A fresh snapshot pushes the count past keep; the oldest two go.
	if _, err := m.Create(newTestStore(t)); err != nil {
		t.Fatal(err)
	}
	snaps, err = m.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(snaps) != 3 {
		t.Fatalf("after prune %d snapshots remain, want 3", len(snaps))
	}
	if snaps[len(snaps)-1].ID == "a" || snaps[len(snaps)-1].ID == "b" {
		t.Error("oldest snapshots survived the prune")
	}
}

func TestListMissingDir(t *testing.T) {
	m := NewManager(filepath.Join(t.TempDir(), "nope"), 3, zerolog.Nop())
	snaps, err := m.List()
	if err != nil || snaps != nil {
		t.Fatalf("snaps=%v err=%v, want nil/nil", snaps, err)
	}
}
