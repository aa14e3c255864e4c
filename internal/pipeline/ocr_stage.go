package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/ticket-tracker/constants"
	"github.com/joseph-ayodele/ticket-tracker/internal/common"
	"github.com/joseph-ayodele/ticket-tracker/internal/extract"
	"github.com/joseph-ayodele/ticket-tracker/internal/ocr"
	"github.com/joseph-ayodele/ticket-tracker/internal/repository"
)

type OCRStage struct {
	FilesRepo     repository.SourceFileRepository
	JobsRepo      repository.ExtractJobRepository
	TextExtractor extract.TextExtractor
	Logger        *slog.Logger
}

func NewOCRStage(files repository.SourceFileRepository, jobs repository.ExtractJobRepository, tx extract.TextExtractor, logger *slog.Logger) *OCRStage {
	if logger == nil {
		logger = slog.Default()
	}
	return &OCRStage{FilesRepo: files, JobsRepo: jobs, TextExtractor: tx, Logger: logger}
}

// Run moves a queued job through OCR and persists the recognized text.
// A recognition failure marks the job FAILED and is returned; the parse
// stage never sees it.
func (p *OCRStage) Run(ctx context.Context, jobID uuid.UUID, progress extract.ProgressFunc) (extract.TextExtractionResult, error) {
	var res extract.TextExtractionResult

	job, err := p.JobsRepo.Get(ctx, jobID)
	if err != nil {
		return res, fmt.Errorf("load job: %w", err)
	}
	if job.FileID == nil {
		return res, common.NewAppError("INVALID_JOB", "job has no source file", common.ErrInvalidInput)
	}
	row, err := p.FilesRepo.GetByID(ctx, *job.FileID)
	if err != nil {
		return res, fmt.Errorf("get file: %w", err)
	}
	if constants.MapExtToFormat(row.FileExt) == "" {
		msg := fmt.Sprintf("unsupported format: %s", row.FileExt)
		_ = p.JobsRepo.FinishFailure(ctx, job.ID, msg)
		return res, common.NewAppError("UNSUPPORTED", msg, common.ErrUnsupported)
	}

	if err := p.JobsRepo.MarkRunning(ctx, job.ID); err != nil {
		return res, err
	}

	ctx = ocr.WithContentHash(ctx, row.ContentHash)
	res, err = p.TextExtractor.Extract(ctx, row.SourcePath, progress)
	if err != nil {
		// the job row must still be closed when the caller's ctx is gone
		_ = p.JobsRepo.FinishFailure(context.WithoutCancel(ctx), job.ID, err.Error())
		p.Logger.Warn("pipeline.ocr.failed", "job_id", job.ID, "file_id", row.ID, "error", err)
		return res, err
	}

	if err := p.JobsRepo.FinishOCRSuccess(ctx, job.ID, res.Text, res.Method, res.Confidence); err != nil {
		return res, err
	}
	p.Logger.Info("pipeline.ocr.ok",
		"job_id", job.ID, "file_id", row.ID, "method", res.Method,
		"lang", res.Language, "chars", len([]rune(res.Text)),
		"confidence", res.Confidence, "duration", res.Duration,
	)
	return res, nil
}
