package ingest

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/joseph-ayodele/ticket-tracker/internal/repository"
)

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestScanDirectory(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a.png"), "a")
	writeFile(t, filepath.Join(root, "sub", "b.HEIC"), "b")
	writeFile(t, filepath.Join(root, "notes.pdf"), "c")
	writeFile(t, filepath.Join(root, ".hidden", "d.jpg"), "d")
	writeFile(t, filepath.Join(root, ".e.jpg"), "e")

	paths, stats, err := ScanDirectory(root, true)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	want := []string{filepath.Join(root, "a.png"), filepath.Join(root, "sub", "b.HEIC")}
	if diff := cmp.Diff(want, paths); diff != "" {
		t.Fatalf("paths (-want +got):\n%s", diff)
	}
	if stats.Matched != 2 {
		t.Fatalf("matched = %d", stats.Matched)
	}

	all, _, err := ScanDirectory(root, false)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(all) != 4 {
		t.Fatalf("without skipHidden got %v", all)
	}
}

func TestScanDirectoryRequiresRoot(t *testing.T) {
	if _, _, err := ScanDirectory("  ", false); err == nil {
		t.Fatalf("expected error")
	}
	if _, _, err := ScanDirectory(filepath.Join(t.TempDir(), "missing"), false); err == nil {
		t.Fatalf("expected error for missing root")
	}
}

func TestIsHidden(t *testing.T) {
	for in, want := range map[string]bool{
		"/x/.git":     true,
		"/x/a.png":    false,
		".":           false,
		"/x/.a/b.png": false,
	} {
		if got := IsHidden(in); got != want {
			t.Fatalf("IsHidden(%q) = %v", in, got)
		}
	}
}

func newIngestor(t *testing.T) *FSIngestor {
	t.Helper()
	ctx := context.Background()
	st, err := repository.Open(ctx, repository.Config{DSN: "sqlite://:memory:"}, quietLogger())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(st.Close)
	if err := st.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return NewFSIngestor(repository.NewSourceFileRepository(st, quietLogger()), quietLogger())
}

func TestIngestDirectoryDeduplicates(t *testing.T) {
	ing := newIngestor(t)
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a.png"), "same bytes")
	writeFile(t, filepath.Join(root, "b.png"), "same bytes")
	writeFile(t, filepath.Join(root, "c.txt"), "发车时间:2026.02.19")

	results, stats, err := ing.IngestDirectory(context.Background(), root, true)
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if len(results) != 3 || stats.Succeeded != 3 || stats.Deduplicated != 1 {
		t.Fatalf("stats = %+v results = %+v", stats, results)
	}
	if results[0].FileID != results[1].FileID || !results[1].Deduplicated {
		t.Fatalf("identical files should share a row: %+v", results[:2])
	}
	if results[2].FileExt != "txt" || results[2].FileSize == 0 {
		t.Fatalf("text file result %+v", results[2])
	}
}

func TestIngestPathRejectsUnsupported(t *testing.T) {
	ing := newIngestor(t)
	p := filepath.Join(t.TempDir(), "x.pdf")
	writeFile(t, p, "pdf")
	if _, err := ing.IngestPath(context.Background(), p); err == nil {
		t.Fatalf("expected unsupported error")
	}
}

func TestWatcherEmitsNewScreenshots(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "old.png"), "old")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events, _, err := StartWatcher(ctx, WatchConfig{
		Roots:       []string{root},
		InitialScan: true,
		SkipHidden:  true,
		Debounce:    40 * time.Millisecond,
		Logger:      quietLogger(),
	})
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	expect := func(want string) {
		t.Helper()
		select {
		case got := <-events:
			if got != want {
				t.Fatalf("event = %q, want %q", got, want)
			}
		case <-time.After(3 * time.Second):
			t.Fatalf("timed out waiting for %s", want)
		}
	}
	expect(filepath.Join(root, "old.png"))

	writeFile(t, filepath.Join(root, "ignored.pdf"), "x")
	writeFile(t, filepath.Join(root, "new.jpg"), "new")
	expect(filepath.Join(root, "new.jpg"))

	cancel()
	for range events {
	}
}

func TestStartWatcherNeedsRoots(t *testing.T) {
	if _, _, err := StartWatcher(context.Background(), WatchConfig{}); err == nil {
		t.Fatalf("expected error")
	}
}
