package extract

import (
	"context"

	"github.com/joseph-ayodele/ticket-tracker/internal/ticket"
)

// fieldCount is the number of Record fields used to score completeness.
const fieldCount = 7

// RulesExtractor fills ticket fields with the deterministic rule cascade.
type RulesExtractor struct {
	parser *ticket.Parser
}

func NewRulesExtractor(p *ticket.Parser) *RulesExtractor {
	if p == nil {
		p = ticket.NewParser()
	}
	return &RulesExtractor{parser: p}
}

// ExtractFields never fails on content; it only honors ctx cancellation.
func (r *RulesExtractor) ExtractFields(ctx context.Context, text string) (FieldsResult, error) {
	if err := ctx.Err(); err != nil {
		return FieldsResult{}, err
	}
	return r.Result(r.parser.Parse(text), "rules"), nil
}

// Result wraps an already-known record, e.g. one served from a cache.
func (r *RulesExtractor) Result(rec ticket.Record, method string) FieldsResult {
	return FieldsResult{
		Record:     rec,
		Missing:    rec.Missing(),
		Confidence: Completeness(rec),
		Method:     method,
		Policy:     r.parser.Policy().String(),
	}
}

// Completeness is the share of Record fields that are filled.
func Completeness(rec ticket.Record) float32 {
	return float32(fieldCount-len(rec.Missing())) / fieldCount
}

// Policy reports the train number policy results are produced under.
func (r *RulesExtractor) Policy() ticket.TrainNumberPolicy { return r.parser.Policy() }
