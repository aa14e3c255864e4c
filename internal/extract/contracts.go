package extract

import (
	"context"
	"time"

	"github.com/joseph-ayodele/ticket-tracker/internal/ocr"
	"github.com/joseph-ayodele/ticket-tracker/internal/ticket"
)

// ProgressFunc receives 0..100 progress while Stage 1 runs.
type ProgressFunc = ocr.ProgressFunc

// TextExtractor is Stage 1: file -> text.
type TextExtractor interface {
	Extract(ctx context.Context, path string, progress ProgressFunc) (TextExtractionResult, error)
}

type TextExtractionResult struct {
	Text       string
	SourceType string // "IMAGE" | "TXT"
	Method     string // "image-ocr" | "text"
	Language   string
	Duration   time.Duration
	Warnings   []string
	Confidence float32
}

// FieldExtractor is Stage 2: text -> ticket fields.
type FieldExtractor interface {
	ExtractFields(ctx context.Context, text string) (FieldsResult, error)
}

type FieldsResult struct {
	Record     ticket.Record
	Missing    []string // JSON names of fields left empty
	Confidence float32  // share of fields filled
	Method     string
	Policy     string
}
