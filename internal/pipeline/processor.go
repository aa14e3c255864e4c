// Package pipeline runs a screenshot or a transcription through OCR and the
// ticket rules, recording each step on an extract_job row.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/ticket-tracker/constants"
	"github.com/joseph-ayodele/ticket-tracker/internal/common"
	"github.com/joseph-ayodele/ticket-tracker/internal/entity"
	"github.com/joseph-ayodele/ticket-tracker/internal/extract"
	"github.com/joseph-ayodele/ticket-tracker/internal/ingest"
	"github.com/joseph-ayodele/ticket-tracker/internal/repository"
)

// Processor coordinates ingest, OCR (text extract) and rule parse.
type Processor struct {
	Logger      *slog.Logger
	Ingestor    ingest.Ingestor
	JobsRepo    repository.ExtractJobRepository
	TicketsRepo repository.TicketRepository
	OCR         *OCRStage
	Parse       *ParseStage
}

func NewProcessor(
	logger *slog.Logger,
	ing ingest.Ingestor,
	jobs repository.ExtractJobRepository,
	tickets repository.TicketRepository,
	ocr *OCRStage,
	parse *ParseStage,
) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{Logger: logger, Ingestor: ing, JobsRepo: jobs, TicketsRepo: tickets, OCR: ocr, Parse: parse}
}

// FileRequest names a screenshot on disk to process.
type FileRequest struct {
	Path   string
	Source constants.JobSource
	// Force re-runs extraction for a file whose content was already parsed.
	Force bool
	// Policy is "conservative" or "loose"; empty uses the configured default.
	Policy string
}

// TextRequest is a transcription produced elsewhere.
type TextRequest struct {
	Text   string
	Source constants.JobSource
	Policy string
}

// Result describes a processed (or previously processed) input.
type Result struct {
	JobID        uuid.UUID
	FileID       *uuid.UUID
	Ticket       *entity.Ticket
	NeedsReview  bool
	Deduplicated bool
}

// Prepare registers the file and queues a job for it. When the same content
// was already parsed and req.Force is false, the earlier job and ticket are
// returned with Deduplicated set and no job is queued.
func (p *Processor) Prepare(ctx context.Context, req FileRequest) (Result, error) {
	in, err := p.Ingestor.IngestPath(ctx, req.Path)
	if err != nil {
		return Result{}, err
	}
	fileID := in.FileID

	if in.Deduplicated && !req.Force {
		if r, ok := p.previous(ctx, fileID); ok {
			p.Logger.Info("processor.dedup", "file_id", fileID, "job_id", r.JobID)
			return r, nil
		}
	}

	source := req.Source
	if source == "" {
		source = constants.SourceCLI
	}
	job, err := p.JobsRepo.Start(ctx, repository.StartJob{
		FileID: &fileID,
		Source: source,
		Format: constants.MapExtToFormat(in.FileExt),
		Status: constants.JobStatusQueued,
		Policy: req.Policy,
	})
	if err != nil {
		return Result{}, err
	}
	return Result{JobID: job.ID, FileID: &fileID}, nil
}

func (p *Processor) previous(ctx context.Context, fileID uuid.UUID) (Result, bool) {
	job, err := p.JobsRepo.LatestParsedForFile(ctx, fileID)
	if err != nil || job.TicketID == nil {
		if err != nil && !errors.Is(err, common.ErrNotFound) {
			p.Logger.Warn("processor.dedup.lookup_failed", "file_id", fileID, "error", err)
		}
		return Result{}, false
	}
	t, err := p.TicketsRepo.Get(ctx, *job.TicketID)
	if err != nil {
		// ticket deleted since; extract again
		return Result{}, false
	}
	return Result{JobID: job.ID, FileID: &fileID, Ticket: t, NeedsReview: job.NeedsReview, Deduplicated: true}, true
}

// RunJob runs OCR then the rule parse on a queued job.
func (p *Processor) RunJob(ctx context.Context, jobID uuid.UUID, progress extract.ProgressFunc) (Result, error) {
	ocrRes, err := p.OCR.Run(ctx, jobID, progress)
	if err != nil {
		p.Logger.Error("processor.ocr.failed", "job_id", jobID, "err", err)
		return Result{JobID: jobID}, err
	}
	p.Logger.Info("processor.ocr.ok", "job_id", jobID, "method", ocrRes.Method, "confidence", ocrRes.Confidence)

	out, err := p.Parse.Run(ctx, jobID)
	if err != nil {
		p.Logger.Error("processor.parse.failed", "job_id", jobID, "err", err)
		return Result{JobID: jobID}, err
	}
	p.Logger.Info("processor.parse.ok", "job_id", jobID, "ticket_id", out.Ticket.ID)
	return Result{JobID: jobID, Ticket: out.Ticket, NeedsReview: out.NeedsReview}, nil
}

// ProcessFile is Prepare followed by RunJob in the caller's goroutine.
func (p *Processor) ProcessFile(ctx context.Context, req FileRequest, progress extract.ProgressFunc) (Result, error) {
	prep, err := p.Prepare(ctx, req)
	if err != nil {
		return prep, err
	}
	if prep.Deduplicated {
		if progress != nil {
			progress(100, "done")
		}
		return prep, nil
	}
	res, err := p.RunJob(ctx, prep.JobID, progress)
	res.FileID = prep.FileID
	return res, err
}

// ProcessText parses an already-recognized transcription. The job skips OCR
// and records method "text".
func (p *Processor) ProcessText(ctx context.Context, req TextRequest) (Result, error) {
	source := req.Source
	if source == "" {
		source = constants.SourceText
	}
	job, err := p.JobsRepo.Start(ctx, repository.StartJob{
		Source: source,
		Format: constants.FormatText,
		Status: constants.JobStatusRunning,
		Policy: req.Policy,
	})
	if err != nil {
		return Result{}, err
	}
	if err := p.JobsRepo.FinishOCRSuccess(ctx, job.ID, req.Text, "text", 0); err != nil {
		return Result{JobID: job.ID}, fmt.Errorf("store text: %w", err)
	}
	out, err := p.Parse.Run(ctx, job.ID)
	if err != nil {
		p.Logger.Error("processor.parse.failed", "job_id", job.ID, "err", err)
		return Result{JobID: job.ID}, err
	}
	return Result{JobID: job.ID, Ticket: out.Ticket, NeedsReview: out.NeedsReview}, nil
}
