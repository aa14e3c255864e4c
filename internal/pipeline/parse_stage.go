package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/ticket-tracker/constants"
	"github.com/joseph-ayodele/ticket-tracker/internal/cache"
	"github.com/joseph-ayodele/ticket-tracker/internal/common"
	"github.com/joseph-ayodele/ticket-tracker/internal/entity"
	"github.com/joseph-ayodele/ticket-tracker/internal/events"
	"github.com/joseph-ayodele/ticket-tracker/internal/extract"
	"github.com/joseph-ayodele/ticket-tracker/internal/repository"
	"github.com/joseph-ayodele/ticket-tracker/internal/ticket"
)

// Config holds thresholds for the parse stage.
type Config struct {
	MinConfidence float32 // OCR confidence below this flags the ticket; default 0.60
}

type ParseStage struct {
	Logger      *slog.Logger
	Cfg         Config
	JobsRepo    repository.ExtractJobRepository
	TicketsRepo repository.TicketRepository
	Extractor   *extract.RulesExtractor
	Cache       cache.ParseCache
	Events      events.Publisher
}

func NewParseStage(
	logger *slog.Logger,
	cfg Config,
	jobs repository.ExtractJobRepository,
	tickets repository.TicketRepository,
	fe *extract.RulesExtractor,
	pc cache.ParseCache,
	pub events.Publisher,
) *ParseStage {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MinConfidence <= 0 {
		cfg.MinConfidence = 0.60
	}
	if fe == nil {
		fe = extract.NewRulesExtractor(nil)
	}
	if pc == nil {
		pc = cache.Nop{}
	}
	if pub == nil {
		pub = events.Nop{}
	}
	return &ParseStage{
		Logger:      logger,
		Cfg:         cfg,
		JobsRepo:    jobs,
		TicketsRepo: tickets,
		Extractor:   fe,
		Cache:       pc,
		Events:      pub,
	}
}

// Outcome is what the parse stage produced for a job.
type Outcome struct {
	Ticket      *entity.Ticket
	Fields      extract.FieldsResult
	NeedsReview bool
}

// Run extracts ticket fields from an OCR_OK job, stores the ticket and marks
// the job PARSED.
func (p *ParseStage) Run(ctx context.Context, jobID uuid.UUID) (Outcome, error) {
	var out Outcome

	job, err := p.JobsRepo.Get(ctx, jobID)
	if err != nil {
		return out, fmt.Errorf("load job: %w", err)
	}
	if job.Status != constants.JobStatusOCROK || job.OCRText == nil {
		return out, common.NewAppError("JOB_NOT_READY",
			fmt.Sprintf("job not ready for parse: status=%s", job.Status), common.ErrInvalidInput)
	}

	fe, err := p.extractorFor(job)
	if err != nil {
		_ = p.JobsRepo.FinishFailure(context.WithoutCancel(ctx), job.ID, err.Error())
		return out, err
	}
	fields, cached, err := p.extractFields(ctx, fe, *job.OCRText)
	if err != nil {
		_ = p.JobsRepo.FinishFailure(context.WithoutCancel(ctx), job.ID, err.Error())
		return out, fmt.Errorf("extract fields: %w", err)
	}

	needsReview := NeedsReview(fields.Record, job.OCRConfidence, p.Cfg.MinConfidence)

	raw, err := json.Marshal(fields.Record)
	if err != nil {
		_ = p.JobsRepo.FinishFailure(context.WithoutCancel(ctx), job.ID, err.Error())
		return out, fmt.Errorf("encode fields: %w", err)
	}

	t := &entity.Ticket{ID: uuid.New(), JobID: &job.ID, Record: fields.Record}
	if err := p.TicketsRepo.Create(ctx, t); err != nil {
		_ = p.JobsRepo.FinishFailure(context.WithoutCancel(ctx), job.ID, err.Error())
		return out, fmt.Errorf("create ticket: %w", err)
	}

	if err := p.JobsRepo.FinishParse(ctx, job.ID, repository.ParseOutcome{
		TicketID:      t.ID,
		Policy:        fields.Policy,
		NeedsReview:   needsReview,
		ExtractedJSON: raw,
	}); err != nil {
		// A ticket must never outlive a job that failed to reach PARSED.
		detached := context.WithoutCancel(ctx)
		if derr := p.TicketsRepo.Delete(detached, t.ID); derr != nil {
			p.Logger.Error("pipeline.ticket.orphaned", "job_id", job.ID, "ticket_id", t.ID, "error", derr)
		}
		_ = p.JobsRepo.FinishFailure(detached, job.ID, err.Error())
		return out, fmt.Errorf("finish parse: %w", err)
	}

	ev := events.TicketParsed{
		JobID:       job.ID.String(),
		TicketID:    t.ID.String(),
		Source:      string(job.Source),
		Policy:      fields.Policy,
		NeedsReview: needsReview,
		Ticket:      fields.Record,
	}
	if err := p.Events.PublishTicketParsed(ctx, ev); err != nil {
		p.Logger.Warn("pipeline.publish.failed", "job_id", job.ID, "error", err)
	}

	p.Logger.Info("pipeline.parse.ok",
		"job_id", job.ID, "ticket_id", t.ID,
		"policy", fields.Policy, "cached", cached,
		"missing", fields.Missing, "needs_review", needsReview,
	)
	return Outcome{Ticket: t, Fields: fields, NeedsReview: needsReview}, nil
}

// extractFields reads through the parse cache. Cache errors only cost a
// re-parse.
func (p *ParseStage) extractFields(ctx context.Context, fe *extract.RulesExtractor, text string) (extract.FieldsResult, bool, error) {
	policy := fe.Policy()
	rec, ok, err := p.Cache.Get(ctx, policy, text)
	if err != nil {
		p.Logger.Warn("pipeline.cache.get_failed", "error", err)
	} else if ok {
		return fe.Result(rec, "rules+cache"), true, nil
	}

	res, err := fe.ExtractFields(ctx, text)
	if err != nil {
		return res, false, err
	}
	if err := p.Cache.Set(ctx, policy, text, res.Record); err != nil {
		p.Logger.Warn("pipeline.cache.set_failed", "error", err)
	}
	return res, false, nil
}

// extractorFor honors a policy pinned on the job at submission.
func (p *ParseStage) extractorFor(job *entity.ExtractJob) (*extract.RulesExtractor, error) {
	if job.Policy == nil || *job.Policy == "" {
		return p.Extractor, nil
	}
	pol, err := ticket.ParsePolicy(*job.Policy)
	if err != nil {
		return nil, common.NewAppError("INVALID_POLICY", err.Error(), common.ErrInvalidInput)
	}
	if pol == p.Extractor.Policy() {
		return p.Extractor, nil
	}
	return extract.NewRulesExtractor(ticket.NewParser(ticket.WithTrainNumberPolicy(pol))), nil
}

// NeedsReview flags a record a person should look at: OCR confidence under
// min, or any of the fields a traveller needs at the station missing.
func NeedsReview(r ticket.Record, ocrConfidence *float32, min float32) bool {
	if ocrConfidence != nil && *ocrConfidence > 0 && *ocrConfidence < min {
		return true
	}
	return r.Date == "" || r.Time == "" || r.Seat == "" ||
		r.DepartureStation == "" || r.ArrivalStation == ""
}
