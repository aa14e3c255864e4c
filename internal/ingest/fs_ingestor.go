package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/ticket-tracker/constants"
	"github.com/joseph-ayodele/ticket-tracker/internal/common"
	"github.com/joseph-ayodele/ticket-tracker/internal/entity"
	"github.com/joseph-ayodele/ticket-tracker/internal/repository"
)

// FSIngestor reads from the local filesystem.
type FSIngestor struct {
	Files  repository.SourceFileRepository
	Logger *slog.Logger
}

func NewFSIngestor(files repository.SourceFileRepository, logger *slog.Logger) *FSIngestor {
	if logger == nil {
		logger = slog.Default()
	}
	return &FSIngestor{Files: files, Logger: logger}
}

func (i *FSIngestor) IngestPath(ctx context.Context, path string) (IngestionResult, error) {
	var out IngestionResult

	abs, err := filepath.Abs(path)
	if err != nil {
		return out, fmt.Errorf("abs path: %w", err)
	}

	ext := constants.NormalizeExt(filepath.Ext(abs))
	if !AllowedExt(ext) {
		i.Logger.Warn("ingest.unsupported", "path", abs, "ext", ext)
		return out, common.NewAppError("UNSUPPORTED", fmt.Sprintf("unsupported or missing extension %q", ext), common.ErrUnsupported)
	}

	hexHash, size, err := hashFile(abs)
	if err != nil {
		i.Logger.Error("ingest.hash.failed", "path", abs, "error", err)
		return out, err
	}

	row, dedup, err := i.Files.UpsertByHash(ctx, &entity.SourceFile{
		ID:          uuid.New(),
		SourcePath:  abs,
		ContentHash: hexHash,
		Filename:    filepath.Base(abs),
		FileExt:     ext,
		FileSize:    size,
		UploadedAt:  time.Now().UTC(),
	})
	if err != nil {
		return out, err
	}

	i.Logger.Info("ingest.file", "path", abs, "file_id", row.ID, "dedup", dedup)
	return IngestionResult{
		SourcePath:   row.SourcePath,
		FileID:       row.ID,
		Deduplicated: dedup,
		HashHex:      hexHash,
		FileExt:      row.FileExt,
		FileSize:     row.FileSize,
		UploadedAt:   row.UploadedAt,
	}, nil
}

// IngestDirectory registers every supported file under root. Per-file
// failures are reported in the results and do not stop the walk.
func (i *FSIngestor) IngestDirectory(ctx context.Context, root string, skipHidden bool) ([]IngestionResult, DirStats, error) {
	paths, stats, err := ScanDirectory(root, skipHidden)
	if err != nil {
		return nil, stats, err
	}

	results := make([]IngestionResult, 0, len(paths))
	for _, p := range paths {
		if err := ctx.Err(); err != nil {
			return results, stats, err
		}
		r, err := i.IngestPath(ctx, p)
		if err != nil {
			results = append(results, IngestionResult{SourcePath: p, Err: err.Error()})
			stats.Failed++
			continue
		}
		results = append(results, r)
		stats.Succeeded++
		if r.Deduplicated {
			stats.Deduplicated++
		}
	}
	i.Logger.Info("ingest.directory.done", "root", root,
		"scanned", stats.Scanned, "matched", stats.Matched,
		"succeeded", stats.Succeeded, "dedup", stats.Deduplicated, "failed", stats.Failed)
	return results, stats, nil
}

func hashFile(path string) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, fmt.Errorf("open: %w", err)
	}
	defer f.Close()

	h := sha256.New()
	n, err := io.Copy(h, f)
	if err != nil {
		return "", 0, fmt.Errorf("hash: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}
