// Package server exposes ticket extraction over gRPC and HTTP. Both surfaces
// share Service and render the same JSON views.
package server

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/ticket-tracker/constants"
	"github.com/joseph-ayodele/ticket-tracker/internal/async"
	"github.com/joseph-ayodele/ticket-tracker/internal/common"
	"github.com/joseph-ayodele/ticket-tracker/internal/correction"
	"github.com/joseph-ayodele/ticket-tracker/internal/entity"
	"github.com/joseph-ayodele/ticket-tracker/internal/export"
	"github.com/joseph-ayodele/ticket-tracker/internal/ingest"
	"github.com/joseph-ayodele/ticket-tracker/internal/pipeline"
	"github.com/joseph-ayodele/ticket-tracker/internal/repository"
	"github.com/joseph-ayodele/ticket-tracker/internal/utils"
)

const (
	// MaxUploadBytes bounds a single screenshot upload.
	MaxUploadBytes = 20 << 20
	maxTextRunes   = 100_000
)

type ServiceDeps struct {
	Processor *pipeline.Processor
	Queue     async.Queue
	Tracker   *async.ProgressTracker
	Jobs      repository.ExtractJobRepository
	Tickets   repository.TicketRepository
	Export    *export.Service
	UploadDir string
	Logger    *slog.Logger
}

type Service struct {
	proc      *pipeline.Processor
	queue     async.Queue
	tracker   *async.ProgressTracker
	jobs      repository.ExtractJobRepository
	tickets   repository.TicketRepository
	export    *export.Service
	uploadDir string
	logger    *slog.Logger
}

func NewService(d ServiceDeps) *Service {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Tracker == nil {
		d.Tracker = async.NewProgressTracker(0)
	}
	if d.UploadDir == "" {
		d.UploadDir = filepath.Join(os.TempDir(), "ticket-uploads")
	}
	return &Service{
		proc:      d.Processor,
		queue:     d.Queue,
		tracker:   d.Tracker,
		jobs:      d.Jobs,
		tickets:   d.Tickets,
		export:    d.Export,
		uploadDir: d.UploadDir,
		logger:    d.Logger,
	}
}

// ResultView is the response to a parse or submission.
type ResultView struct {
	JobID        string         `json:"jobId"`
	Status       string         `json:"status"`
	Deduplicated bool           `json:"deduplicated,omitempty"`
	NeedsReview  bool           `json:"needsReview"`
	Missing      []string       `json:"missing,omitempty"`
	Ticket       *entity.Ticket `json:"ticket,omitempty"`
}

func resultView(r pipeline.Result, status constants.JobStatus) ResultView {
	v := ResultView{
		JobID:        r.JobID.String(),
		Status:       string(status),
		Deduplicated: r.Deduplicated,
		NeedsReview:  r.NeedsReview,
		Ticket:       r.Ticket,
	}
	if r.Ticket != nil {
		v.Missing = r.Ticket.Missing()
	}
	return v
}

// JobView is an extract job plus live progress from the queue.
type JobView struct {
	ID          string     `json:"id"`
	Status      string     `json:"status"`
	Source      string     `json:"source"`
	Format      string     `json:"format"`
	Policy      string     `json:"policy,omitempty"`
	Progress    float64    `json:"progress"`
	Stage       string     `json:"stage,omitempty"`
	NeedsReview bool       `json:"needsReview"`
	TicketID    string     `json:"ticketId,omitempty"`
	Error       string     `json:"error,omitempty"`
	StartedAt   time.Time  `json:"startedAt"`
	FinishedAt  *time.Time `json:"finishedAt,omitempty"`
}

func validPolicy(v *common.Validator, policy string) {
	v.Field("policy", policy, common.OneOf("conservative", "loose"))
}

// ParseText runs the rules on text synchronously.
func (s *Service) ParseText(ctx context.Context, text, policy string) (ResultView, error) {
	v := common.NewValidator()
	v.Field("text", text, common.Required, common.MaxLength(maxTextRunes))
	validPolicy(v, policy)
	if err := v.Error(); err != nil {
		return ResultView{}, err
	}
	res, err := s.proc.ProcessText(ctx, pipeline.TextRequest{Text: text, Source: constants.SourceText, Policy: strings.ToLower(policy)})
	if err != nil {
		return ResultView{}, err
	}
	return resultView(res, constants.JobStatusParsed), nil
}

// SubmitImage stores an uploaded screenshot and queues it. Content already
// parsed returns the earlier ticket without queueing.
func (s *Service) SubmitImage(ctx context.Context, filename string, r io.Reader, policy string) (ResultView, error) {
	v := common.NewValidator()
	v.Field("filename", filename, common.Required, common.MaxLength(255))
	validPolicy(v, policy)
	if err := v.Error(); err != nil {
		return ResultView{}, err
	}
	ext := constants.NormalizeExt(filepath.Ext(filename))
	if !constants.IsAllowedExt(ext) {
		return ResultView{}, common.NewAppError("UNSUPPORTED", fmt.Sprintf("unsupported file type %q", ext), common.ErrUnsupported)
	}

	path, err := s.saveUpload(ext, r)
	if err != nil {
		return ResultView{}, err
	}

	prep, err := s.proc.Prepare(ctx, pipeline.FileRequest{Path: path, Source: constants.SourceUpload, Policy: strings.ToLower(policy)})
	if err != nil {
		_ = os.Remove(path)
		return ResultView{}, err
	}
	if prep.Deduplicated {
		_ = os.Remove(path)
		return resultView(prep, constants.JobStatusParsed), nil
	}
	if err := s.enqueue(ctx, prep.JobID); err != nil {
		_ = os.Remove(path)
		return ResultView{}, err
	}
	s.logger.Info("server.upload.queued", append(common.LogAttrs(ctx), "job_id", prep.JobID, "filename", filename)...)
	return ResultView{JobID: prep.JobID.String(), Status: string(constants.JobStatusQueued)}, nil
}

// SubmitWatched queues a screenshot found by the directory watcher. The file
// belongs to the user and is never removed.
func (s *Service) SubmitWatched(ctx context.Context, path string) (ResultView, error) {
	prep, err := s.proc.Prepare(ctx, pipeline.FileRequest{Path: path, Source: constants.SourceWatch})
	if err != nil {
		return ResultView{}, err
	}
	if prep.Deduplicated {
		return resultView(prep, constants.JobStatusParsed), nil
	}
	if err := s.enqueue(ctx, prep.JobID); err != nil {
		return ResultView{JobID: prep.JobID.String(), Status: string(constants.JobStatusFailed)}, err
	}
	return ResultView{JobID: prep.JobID.String(), Status: string(constants.JobStatusQueued)}, nil
}

func (s *Service) enqueue(ctx context.Context, jobID uuid.UUID) error {
	err := s.queue.Enqueue(ctx, async.Job{JobID: jobID, SubmittedAt: time.Now(), RequestID: common.RequestIDFromContext(ctx)})
	if err != nil {
		_ = s.jobs.FinishFailure(context.WithoutCancel(ctx), jobID, err.Error())
	}
	return err
}

func (s *Service) saveUpload(ext string, r io.Reader) (string, error) {
	if err := os.MkdirAll(s.uploadDir, 0o755); err != nil {
		return "", fmt.Errorf("upload dir: %w", err)
	}
	path := filepath.Join(s.uploadDir, uuid.NewString()+"."+ext)
	f, err := os.Create(path)
	if err != nil {
		return "", err
	}
	n, err := io.Copy(f, io.LimitReader(r, MaxUploadBytes+1))
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err == nil && n > MaxUploadBytes {
		err = common.NewAppError("TOO_LARGE", fmt.Sprintf("upload exceeds %d bytes", MaxUploadBytes), common.ErrInvalidInput)
	}
	if err == nil && n == 0 {
		err = common.NewAppError("EMPTY_UPLOAD", "upload is empty", common.ErrInvalidInput)
	}
	if err != nil {
		_ = os.Remove(path)
		return "", err
	}
	return path, nil
}

// DirItem is the outcome for one file of a directory submission.
type DirItem struct {
	Path         string `json:"path"`
	JobID        string `json:"jobId,omitempty"`
	Deduplicated bool   `json:"deduplicated,omitempty"`
	Error        string `json:"error,omitempty"`
}

type DirReport struct {
	Scanned uint32    `json:"scanned"`
	Matched uint32    `json:"matched"`
	Queued  uint32    `json:"queued"`
	Dedup   uint32    `json:"deduplicated"`
	Failed  uint32    `json:"failed"`
	Items   []DirItem `json:"items"`
}

// IngestDirectory queues every screenshot under a server-side directory.
func (s *Service) IngestDirectory(ctx context.Context, root string, skipHidden bool, policy string) (DirReport, error) {
	v := common.NewValidator()
	v.Field("root", root, common.Required)
	validPolicy(v, policy)
	if err := v.Error(); err != nil {
		return DirReport{}, err
	}
	paths, stats, err := ingest.ScanDirectory(root, skipHidden)
	if err != nil {
		return DirReport{}, common.NewAppError("INVALID_ROOT", err.Error(), common.ErrInvalidInput)
	}
	rep := DirReport{Scanned: stats.Scanned, Matched: stats.Matched, Failed: stats.Failed}
	for _, p := range paths {
		item := DirItem{Path: p}
		prep, err := s.proc.Prepare(ctx, pipeline.FileRequest{Path: p, Source: constants.SourceCLI, Policy: strings.ToLower(policy)})
		switch {
		case err != nil:
			item.Error = err.Error()
			rep.Failed++
		case prep.Deduplicated:
			item.JobID, item.Deduplicated = prep.JobID.String(), true
			rep.Dedup++
		default:
			item.JobID = prep.JobID.String()
			if err := s.enqueue(ctx, prep.JobID); err != nil {
				item.Error = err.Error()
				rep.Failed++
			} else {
				rep.Queued++
			}
		}
		rep.Items = append(rep.Items, item)
	}
	s.logger.Info("server.ingest_dir.done", "root", root, "queued", rep.Queued, "dedup", rep.Dedup, "failed", rep.Failed)
	return rep, nil
}

func parseID(name, raw string) (uuid.UUID, error) {
	v := common.NewValidator().Field(name, strings.TrimSpace(raw), common.Required, common.UUID)
	if err := v.Error(); err != nil {
		return uuid.Nil, err
	}
	return uuid.Parse(strings.TrimSpace(raw))
}

func (s *Service) Job(ctx context.Context, rawID string) (JobView, error) {
	id, err := parseID("id", rawID)
	if err != nil {
		return JobView{}, err
	}
	job, err := s.jobs.Get(ctx, id)
	if err != nil {
		return JobView{}, err
	}
	view := JobView{
		ID:          job.ID.String(),
		Status:      string(job.Status),
		Source:      string(job.Source),
		Format:      job.Format,
		Policy:      utils.StrOrEmpty(job.Policy),
		NeedsReview: job.NeedsReview,
		Error:       utils.StrOrEmpty(job.ErrorMessage),
		StartedAt:   job.StartedAt,
		FinishedAt:  job.FinishedAt,
	}
	if job.TicketID != nil {
		view.TicketID = job.TicketID.String()
	}
	switch job.Status {
	case constants.JobStatusParsed:
		view.Progress = 1
	case constants.JobStatusOCROK:
		view.Progress = 1
		view.Stage = "parse"
	}
	if p, ok := s.tracker.Get(job.ID); ok && !job.Status.Terminal() {
		view.Progress, view.Stage = p.Fraction(), p.Stage
	}
	return view, nil
}

func (s *Service) Ticket(ctx context.Context, rawID string) (*entity.Ticket, error) {
	id, err := parseID("id", rawID)
	if err != nil {
		return nil, err
	}
	return s.tickets.Get(ctx, id)
}

func (s *Service) Tickets(ctx context.Context, f repository.TicketFilter) ([]*entity.Ticket, error) {
	return s.tickets.List(ctx, f)
}

// UpdateTicket applies a human correction. An unchanged ticket is returned as is.
func (s *Service) UpdateTicket(ctx context.Context, rawID string, p correction.Patch) (*entity.Ticket, error) {
	t, err := s.Ticket(ctx, rawID)
	if err != nil {
		return nil, err
	}
	if !correction.Apply(t, p) {
		return t, nil
	}
	if err := s.tickets.Update(ctx, t); err != nil {
		return nil, err
	}
	s.logger.Info("server.ticket.corrected", append(common.LogAttrs(ctx), "ticket_id", t.ID)...)
	return t, nil
}

func (s *Service) ExportXLSX(ctx context.Context, f repository.TicketFilter) ([]byte, error) {
	return s.export.ExportTicketsXLSX(ctx, f)
}

// FilterQuery is the string form of a ticket filter as it arrives from a
// query string or a request struct.
type FilterQuery struct {
	From        string `json:"from" form:"from"`
	To          string `json:"to" form:"to"`
	TrainNumber string `json:"trainNumber" form:"trainNumber"`
	Station     string `json:"station" form:"station"`
	Edited      string `json:"edited" form:"edited"`
	Limit       string `json:"limit" form:"limit"`
	Offset      string `json:"offset" form:"offset"`
}

// Filter validates q and converts it.
func (q FilterQuery) Filter() (repository.TicketFilter, error) {
	var f repository.TicketFilter
	v := common.NewValidator()
	day := func(field, raw string) string {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			return ""
		}
		d, err := utils.ParseYMD(raw)
		if err != nil {
			v.Field(field, raw, func(name string, value interface{}) *common.ValidationError {
				return &common.ValidationError{Field: name, Value: value, Message: "must be YYYY-MM-DD"}
			})
			return ""
		}
		return d.Format(time.DateOnly)
	}
	num := func(field, raw string, max int) int {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			return 0
		}
		n, err := strconv.Atoi(raw)
		if err != nil {
			v.Field(field, raw, func(name string, value interface{}) *common.ValidationError {
				return &common.ValidationError{Field: name, Value: value, Message: "must be an integer"}
			})
			return 0
		}
		v.Field(field, n, common.IntRange(0, max))
		return n
	}

	f.FromDay = day("from", q.From)
	f.ToDay = day("to", q.To)
	f.TrainNumber = strings.ToUpper(strings.TrimSpace(q.TrainNumber))
	f.Station = strings.TrimSpace(q.Station)
	f.Limit = num("limit", q.Limit, repository.MaxListLimit)
	f.Offset = num("offset", q.Offset, 1<<30)
	if e := strings.TrimSpace(q.Edited); e != "" {
		b, err := strconv.ParseBool(e)
		if err != nil {
			v.Field("edited", e, common.OneOf("true", "false"))
		} else {
			f.Edited = &b
		}
	}
	if f.FromDay != "" && f.ToDay != "" && f.FromDay > f.ToDay {
		v.Field("from", q.From, func(name string, value interface{}) *common.ValidationError {
			return &common.ValidationError{Field: name, Value: value, Message: "must not be after to"}
		})
	}
	if err := v.Error(); err != nil {
		return repository.TicketFilter{}, err
	}
	return f, nil
}
