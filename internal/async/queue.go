// Package async runs queued extract jobs on a fixed pool of workers.
package async

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/ticket-tracker/internal/extract"
	"github.com/joseph-ayodele/ticket-tracker/internal/pipeline"
)

// Job is a queued extract_job awaiting OCR and parse.
type Job struct {
	JobID       uuid.UUID
	SubmittedAt time.Time
	RequestID   string
}

type Queue interface {
	Enqueue(ctx context.Context, job Job) error
	Shutdown(ctx context.Context)
}

// Runner executes one queued job; *pipeline.Processor satisfies it.
type Runner interface {
	RunJob(ctx context.Context, jobID uuid.UUID, progress extract.ProgressFunc) (pipeline.Result, error)
}
