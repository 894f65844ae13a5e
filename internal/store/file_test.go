package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/www-e/formnew/internal/roster"
)

func TestFileMissingIsNoData(t *testing.T) {
	f := NewFile(filepath.Join(t.TempDir(), "data.json"))
	doc, err := f.LoadDocument(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if doc != nil {
		t.Fatalf("doc = %+v, want nil for a missing file", doc)
	}
}

func TestFileRoundTrip(t *testing.T) {
	ctx := context.Background()
	f := NewFile(filepath.Join(t.TempDir(), "nested", "data.json"))

	doc := roster.NewDocument()
	doc.Students = append(doc.Students, roster.Student{
		ID: "std-1042", Name: "A", StudentPhone: "0101", Grade: roster.GradeFirst,
	})
	doc.Settings.LastID = 42
	if err := f.SaveDocument(ctx, doc); err != nil {
		t.Fatal(err)
	}

	got, err := f.LoadDocument(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || len(got.Students) != 1 {
		t.Fatalf("loaded doc = %+v", got)
	}
	if got.Students[0].ID != "std-1042" || got.Settings.LastID != 42 {
		t.Errorf("loaded doc lost fields: %+v", got)
	}
}

func TestFileOverwriteKeepsLatest(t *testing.T) {
	ctx := context.Background()
	f := NewFile(filepath.Join(t.TempDir(), "data.json"))
	if err := f.SaveDocument(ctx, roster.NewDocument()); err != nil {
		t.Fatal(err)
	}

	doc := roster.NewDocument()
	doc.Students = append(doc.Students, roster.Student{ID: "std-1001", Name: "B", Grade: roster.GradeFirst})
	if err := f.SaveDocument(ctx, doc); err != nil {
		t.Fatal(err)
	}

	got, err := f.LoadDocument(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Students) != 1 || got.Students[0].Name != "B" {
		t.Fatalf("latest save not visible: %+v", got)
	}
}
