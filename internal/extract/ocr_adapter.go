package extract

import (
	"context"
	"log/slog"

	"github.com/joseph-ayodele/ticket-tracker/internal/ocr"
)

type OCRAdapter struct {
	e      *ocr.Extractor
	logger *slog.Logger
}

func NewOCRAdapter(e *ocr.Extractor, l *slog.Logger) *OCRAdapter {
	if l == nil {
		l = slog.Default()
	}
	return &OCRAdapter{e: e, logger: l}
}

func (a *OCRAdapter) Extract(ctx context.Context, path string, progress ProgressFunc) (TextExtractionResult, error) {
	r, err := a.e.Extract(ctx, path, progress)
	if err != nil {
		a.logger.Warn("extract.ocr.failed", "path", path, "error", err)
	}
	return TextExtractionResult{
		Text:       r.Text,
		SourceType: r.SourceType,
		Method:     r.Method,
		Language:   r.Language,
		Duration:   r.Duration,
		Warnings:   r.Warnings,
		Confidence: r.Confidence,
	}, err
}
