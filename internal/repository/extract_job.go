package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"time"

	entsql "entgo.io/ent/dialect/sql"
	"github.com/google/uuid"

	"github.com/joseph-ayodele/ticket-tracker/constants"
	"github.com/joseph-ayodele/ticket-tracker/internal/common"
	"github.com/joseph-ayodele/ticket-tracker/internal/entity"
)

// StartJob describes a new extract_job row.
type StartJob struct {
	FileID *uuid.UUID
	Source constants.JobSource
	Format string
	Status constants.JobStatus
	// Policy pins the train number policy for this job; empty uses the
	// parser default.
	Policy string
}

// ParseOutcome is what stage 2 records on the job.
type ParseOutcome struct {
	TicketID      uuid.UUID
	Policy        string
	NeedsReview   bool
	ExtractedJSON json.RawMessage
}

type ExtractJobRepository interface {
	Start(ctx context.Context, in StartJob) (*entity.ExtractJob, error)
	MarkRunning(ctx context.Context, jobID uuid.UUID) error
	FinishOCRSuccess(ctx context.Context, jobID uuid.UUID, ocrText, method string, confidence float32) error
	FinishParse(ctx context.Context, jobID uuid.UUID, out ParseOutcome) error
	FinishFailure(ctx context.Context, jobID uuid.UUID, message string) error
	Get(ctx context.Context, jobID uuid.UUID) (*entity.ExtractJob, error)
	// LatestParsedForFile returns the newest PARSED job for a file, used to
	// skip re-processing identical screenshots.
	LatestParsedForFile(ctx context.Context, fileID uuid.UUID) (*entity.ExtractJob, error)
	List(ctx context.Context, status constants.JobStatus, limit int) ([]*entity.ExtractJob, error)
}

type extractJobRepo struct {
	st  *Store
	log *slog.Logger
}

func NewExtractJobRepository(st *Store, log *slog.Logger) ExtractJobRepository {
	if log == nil {
		log = slog.Default()
	}
	return &extractJobRepo{st: st, log: log}
}

var extractJobColumns = []string{
	"id", "file_id", "ticket_id", "source", "format", "status", "started_at", "finished_at",
	"error_message", "ocr_text", "ocr_method", "ocr_confidence", "policy", "needs_review", "extracted_json",
}

func (r *extractJobRepo) Start(ctx context.Context, in StartJob) (*entity.ExtractJob, error) {
	if in.Status == "" {
		in.Status = constants.JobStatusQueued
	}
	job := &entity.ExtractJob{
		ID:        uuid.New(),
		FileID:    in.FileID,
		Source:    in.Source,
		Format:    in.Format,
		Status:    in.Status,
		StartedAt: dbTime(time.Now()),
	}
	if in.Policy != "" {
		job.Policy = &in.Policy
	}
	q, args := r.st.builder().Insert("extract_job").
		Columns("id", "file_id", "source", "format", "status", "started_at", "policy", "needs_review").
		Values(job.ID.String(), uuidArg(job.FileID), string(job.Source), job.Format, string(job.Status), job.StartedAt, nullString(job.Policy), false).
		Query()
	if err := r.st.drv.Exec(ctx, q, args, nil); err != nil {
		r.log.Error("extract_job.start.failed", "file_id", job.FileID, "err", err)
		return nil, err
	}
	r.log.Info("extract_job.started", "job_id", job.ID, "source", job.Source, "format", job.Format)
	return job, nil
}

func (r *extractJobRepo) update(ctx context.Context, jobID uuid.UUID, set func(*entsql.UpdateBuilder)) error {
	u := r.st.builder().Update("extract_job")
	set(u)
	q, args := u.Where(entsql.EQ("id", jobID.String())).Query()
	var res sql.Result
	if err := r.st.drv.Exec(ctx, q, args, &res); err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return common.NewAppError("NOT_FOUND", "extract job not found", common.ErrNotFound)
	}
	return nil
}

func (r *extractJobRepo) MarkRunning(ctx context.Context, jobID uuid.UUID) error {
	return r.update(ctx, jobID, func(u *entsql.UpdateBuilder) {
		u.Set("status", string(constants.JobStatusRunning))
	})
}

func (r *extractJobRepo) FinishOCRSuccess(ctx context.Context, jobID uuid.UUID, ocrText, method string, confidence float32) error {
	err := r.update(ctx, jobID, func(u *entsql.UpdateBuilder) {
		u.Set("ocr_text", ocrText).
			Set("ocr_method", method).
			Set("ocr_confidence", float64(confidence)).
			Set("status", string(constants.JobStatusOCROK))
	})
	if err != nil {
		r.log.Error("extract_job.finish_ocr.failed", "job_id", jobID, "err", err)
		return err
	}
	r.log.Info("extract_job.ocr_ok", "job_id", jobID, "method", method)
	return nil
}

func (r *extractJobRepo) FinishParse(ctx context.Context, jobID uuid.UUID, out ParseOutcome) error {
	err := r.update(ctx, jobID, func(u *entsql.UpdateBuilder) {
		u.Set("ticket_id", out.TicketID.String()).
			Set("policy", out.Policy).
			Set("needs_review", out.NeedsReview).
			Set("extracted_json", string(out.ExtractedJSON)).
			Set("finished_at", dbTime(time.Now())).
			Set("status", string(constants.JobStatusParsed))
	})
	if err != nil {
		r.log.Error("extract_job.finish_parse.failed", "job_id", jobID, "err", err)
		return err
	}
	r.log.Info("extract_job.parsed", "job_id", jobID, "ticket_id", out.TicketID, "needs_review", out.NeedsReview)
	return nil
}

func (r *extractJobRepo) FinishFailure(ctx context.Context, jobID uuid.UUID, message string) error {
	err := r.update(ctx, jobID, func(u *entsql.UpdateBuilder) {
		u.Set("finished_at", dbTime(time.Now())).
			Set("status", string(constants.JobStatusFailed)).
			Set("error_message", message)
	})
	if err != nil {
		r.log.Error("extract_job.finish_failure.failed", "job_id", jobID, "err", err)
		return err
	}
	r.log.Warn("extract_job.failed", "job_id", jobID, "error", message)
	return nil
}

func (r *extractJobRepo) Get(ctx context.Context, jobID uuid.UUID) (*entity.ExtractJob, error) {
	jobs, err := r.query(ctx, func(s *entsql.Selector) {
		s.Where(entsql.EQ("id", jobID.String())).Limit(1)
	})
	if err != nil {
		return nil, err
	}
	if len(jobs) == 0 {
		return nil, common.NewAppError("NOT_FOUND", "extract job not found", common.ErrNotFound)
	}
	return jobs[0], nil
}

func (r *extractJobRepo) LatestParsedForFile(ctx context.Context, fileID uuid.UUID) (*entity.ExtractJob, error) {
	jobs, err := r.query(ctx, func(s *entsql.Selector) {
		s.Where(entsql.And(
			entsql.EQ("file_id", fileID.String()),
			entsql.EQ("status", string(constants.JobStatusParsed)),
		)).OrderBy(entsql.Desc("started_at")).Limit(1)
	})
	if err != nil {
		return nil, err
	}
	if len(jobs) == 0 {
		return nil, common.NewAppError("NOT_FOUND", "no parsed job for file", common.ErrNotFound)
	}
	return jobs[0], nil
}

func (r *extractJobRepo) List(ctx context.Context, status constants.JobStatus, limit int) ([]*entity.ExtractJob, error) {
	if limit <= 0 {
		limit = 50
	}
	return r.query(ctx, func(s *entsql.Selector) {
		if status != "" {
			s.Where(entsql.EQ("status", string(status)))
		}
		s.OrderBy(entsql.Desc("started_at")).Limit(limit)
	})
}

func (r *extractJobRepo) query(ctx context.Context, shape func(*entsql.Selector)) ([]*entity.ExtractJob, error) {
	b := r.st.builder()
	sel := b.Select(extractJobColumns...).From(b.Table("extract_job"))
	shape(sel)
	q, args := sel.Query()

	var rows entsql.Rows
	if err := r.st.drv.Query(ctx, q, args, &rows); err != nil {
		r.log.Error("extract_job.query.failed", "err", err)
		return nil, err
	}
	defer rows.Close()

	var out []*entity.ExtractJob
	for rows.Next() {
		var (
			j                                 entity.ExtractJob
			id, source, format, status        string
			fileID, ticketID, errMsg, ocrText sql.NullString
			method, policy, extracted         sql.NullString
			finished                          sql.NullTime
			conf                              sql.NullFloat64
		)
		if err := rows.Scan(&id, &fileID, &ticketID, &source, &format, &status, &j.StartedAt, &finished,
			&errMsg, &ocrText, &method, &conf, &policy, &j.NeedsReview, &extracted); err != nil {
			return nil, err
		}
		var err error
		if j.ID, err = uuid.Parse(id); err != nil {
			return nil, err
		}
		if j.FileID, err = uuidPtr(fileID); err != nil {
			return nil, err
		}
		if j.TicketID, err = uuidPtr(ticketID); err != nil {
			return nil, err
		}
		j.Source = constants.JobSource(source)
		j.Format = format
		j.Status = constants.JobStatus(status)
		if finished.Valid {
			t := finished.Time
			j.FinishedAt = &t
		}
		if conf.Valid {
			c := float32(conf.Float64)
			j.OCRConfidence = &c
		}
		j.ErrorMessage = strPtr(errMsg)
		j.OCRText = strPtr(ocrText)
		j.OCRMethod = strPtr(method)
		j.Policy = strPtr(policy)
		if extracted.Valid && extracted.String != "" {
			j.ExtractedJSON = json.RawMessage(extracted.String)
		}
		out = append(out, &j)
	}
	return out, rows.Err()
}
