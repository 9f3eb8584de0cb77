package history

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/DrSkyle/codevet/pkg/artifact"
	"github.com/DrSkyle/codevet/pkg/storage"
	"github.com/google/go-cmp/cmp"
)

func run(id, repo string, status artifact.Status) artifact.IngestionProgress {
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return artifact.IngestionProgress{
		RunID:          id,
		Repository:     repo,
		Priority:       artifact.PriorityHigh,
		Status:         status,
		FilesProcessed: 1,
		FilesTotal:     1,
		Integrated:     1,
		Errors:         []string{},
		Files:          []artifact.FileOutcome{{Path: "a.go", Outcome: artifact.OutcomeIntegrated}},
		StartTime:      start,
		EndTime:        start.Add(time.Second),
	}
}

func backends(t *testing.T) map[string]Backend {
	t.Helper()
	db, err := OpenSQLite(context.Background(), ":memory:")
	if err != nil {
		t.Fatalf("OpenSQLite() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return map[string]Backend{
		"file":   NewLocalBackend(filepath.Join(t.TempDir(), "nested", "ledger.jsonl")),
		"blob":   NewBlobBackend(storage.NewLocalStore(t.TempDir()), ""),
		"sqlite": db,
	}
}

func runIDs(runs []artifact.IngestionProgress) []string {
	ids := []string{}
	for _, p := range runs {
		ids = append(ids, p.RunID)
	}
	return ids
}

func TestBackends(t *testing.T) {
	ctx := context.Background()
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			empty, err := b.Load(ctx, 10)
			if err != nil {
				t.Fatalf("Load() on empty ledger error = %v", err)
			}
			if empty == nil || len(empty) != 0 {
				t.Errorf("Load() on empty ledger = %#v, want an empty slice", empty)
			}

			want := []artifact.IngestionProgress{
				run("r1", "acme/a", artifact.StatusCompleted),
				run("r2", "acme/b", artifact.StatusFailed),
				run("r3", "acme/a", artifact.StatusCompleted),
			}
			for _, p := range want {
				if err := b.Append(ctx, p); err != nil {
					t.Fatalf("Append(%s) error = %v", p.RunID, err)
				}
			}

			all, err := b.Load(ctx, 0)
			if err != nil {
				t.Fatalf("Load(0) error = %v", err)
			}
			if diff := cmp.Diff(want, all); diff != "" {
				t.Errorf("Load(0) mismatch (-want +got):\n%s", diff)
			}

			last, err := b.Load(ctx, 2)
			if err != nil {
				t.Fatalf("Load(2) error = %v", err)
			}
			if diff := cmp.Diff([]string{"r2", "r3"}, runIDs(last)); diff != "" {
				t.Errorf("Load(2) mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestForRepository(t *testing.T) {
	ctx := context.Background()
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			for _, p := range []artifact.IngestionProgress{
				run("r1", "acme/a", artifact.StatusCompleted),
				run("r2", "acme/b", artifact.StatusCompleted),
				run("r3", "acme/a", artifact.StatusFailed),
				run("r4", "acme/a", artifact.StatusCompleted),
			} {
				if err := b.Append(ctx, p); err != nil {
					t.Fatalf("Append(%s) error = %v", p.RunID, err)
				}
			}

			tests := []struct {
				repo string
				n    int
				want []string
			}{
				{"acme/a", 0, []string{"r1", "r3", "r4"}},
				{"acme/a", 2, []string{"r3", "r4"}},
				{"acme/b", 5, []string{"r2"}},
				{"acme/none", 0, []string{}},
			}
			for _, tt := range tests {
				runs, err := ForRepository(ctx, b, tt.repo, tt.n)
				if err != nil {
					t.Fatalf("ForRepository(%s, %d) error = %v", tt.repo, tt.n, err)
				}
				if diff := cmp.Diff(tt.want, runIDs(runs)); diff != "" {
					t.Errorf("ForRepository(%s, %d) mismatch (-want +got):\n%s", tt.repo, tt.n, diff)
				}
			}
		})
	}
}

func TestFileBackendSkipsCorruptLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.jsonl")
	b := NewLocalBackend(path)
	ctx := context.Background()

	if err := b.Append(ctx, run("r1", "acme/a", artifact.StatusCompleted)); err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		t.Fatalf("OpenFile() error = %v", err)
	}
	if _, err := f.WriteString("{not json\n\n"); err != nil {
		t.Fatalf("WriteString() error = %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := b.Append(ctx, run("r2", "acme/a", artifact.StatusCompleted)); err != nil {
		t.Fatalf("Append() error = %v", err)
	}

	runs, err := b.Load(ctx, 0)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if diff := cmp.Diff([]string{"r1", "r2"}, runIDs(runs)); diff != "" {
		t.Errorf("Load() mismatch (-want +got):\n%s", diff)
	}
}

func TestOpen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	b, err := Open(ctx, filepath.Join(dir, "l.jsonl"))
	if err != nil {
		t.Fatalf("Open(path) error = %v", err)
	}
	if _, ok := b.(*FileBackend); !ok {
		t.Errorf("Open(path) = %T, want *FileBackend", b)
	}

	b, err = Open(ctx, "file://"+filepath.Join(dir, "l.jsonl"))
	if err != nil {
		t.Fatalf("Open(file://) error = %v", err)
	}
	if fb, ok := b.(*FileBackend); !ok || fb.Path != filepath.Join(dir, "l.jsonl") {
		t.Errorf("Open(file://) = %#v", b)
	}

	b, err = Open(ctx, "sqlite://"+filepath.Join(dir, "h.db"))
	if err != nil {
		t.Fatalf("Open(sqlite://) error = %v", err)
	}
	if _, ok := b.(*SQLiteBackend); !ok {
		t.Errorf("Open(sqlite://) = %T, want *SQLiteBackend", b)
	}
	if err := b.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}

	for _, bad := range []string{"ftp://x/y", "sqlite://", "s3://bucket"} {
		if _, err := Open(ctx, bad); err == nil {
			t.Errorf("Open(%q) succeeded", bad)
		}
	}
}
