package ocr

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os/exec"
	"time"

	"github.com/joseph-ayodele/ticket-tracker/internal/common"
)

// Runner executes an external tool (tesseract, heif-convert, magick, sips).
// Tests replace it to avoid needing the binaries.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (stdout, stderr []byte, err error)
}

const maxStderrLog = 8 << 10

type execRunner struct {
	logger *slog.Logger
}

// Run starts name and waits for it. A binary that is not installed is
// reported as ErrUnavailable so callers can tell it apart from a bad image.
func (r execRunner) Run(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	start := time.Now()
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout, cmd.Stderr = &stdout, &stderr

	err := cmd.Run()
	took := time.Since(start)
	switch {
	case errors.Is(err, exec.ErrNotFound):
		r.logger.Error("ocr.tool.missing", "tool", name, "error", err)
		return nil, nil, common.NewAppError("OCR_TOOL_MISSING", name+" is not installed or not on PATH", common.ErrUnavailable)
	case ctx.Err() != nil:
		r.logger.Warn("ocr.tool.canceled", "tool", name, "took", took, "error", ctx.Err())
		return stdout.Bytes(), stderr.Bytes(), ctx.Err()
	case err != nil:
		r.logger.Error("ocr.tool.failed",
			"tool", name,
			"args", args,
			"took", took,
			"error", err,
			"stderr", truncate(stderr.String(), maxStderrLog),
		)
	default:
		r.logger.Debug("ocr.tool.ok", "tool", name, "took", took, "stdout_bytes", stdout.Len())
	}
	return stdout.Bytes(), stderr.Bytes(), err
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "...(truncated)"
}
