package repository

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"

	entsql "entgo.io/ent/dialect/sql"
	"github.com/google/uuid"

	"github.com/joseph-ayodele/ticket-tracker/internal/common"
	"github.com/joseph-ayodele/ticket-tracker/internal/entity"
)

type SourceFileRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*entity.SourceFile, error)
	GetByHash(ctx context.Context, hash string) (*entity.SourceFile, error)
	Create(ctx context.Context, f *entity.SourceFile) error
	// UpsertByHash returns the existing row for f.ContentHash, or creates f.
	// The bool reports whether the row already existed.
	UpsertByHash(ctx context.Context, f *entity.SourceFile) (*entity.SourceFile, bool, error)
}

type sourceFileRepo struct {
	st     *Store
	logger *slog.Logger
}

func NewSourceFileRepository(st *Store, logger *slog.Logger) SourceFileRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &sourceFileRepo{st: st, logger: logger}
}

var sourceFileColumns = []string{"id", "source_path", "content_hash", "filename", "file_ext", "file_size", "uploaded_at"}

func (r *sourceFileRepo) GetByID(ctx context.Context, id uuid.UUID) (*entity.SourceFile, error) {
	return r.getOne(ctx, entsql.EQ("id", id.String()))
}

func (r *sourceFileRepo) GetByHash(ctx context.Context, hash string) (*entity.SourceFile, error) {
	return r.getOne(ctx, entsql.EQ("content_hash", hash))
}

func (r *sourceFileRepo) getOne(ctx context.Context, p *entsql.Predicate) (*entity.SourceFile, error) {
	b := r.st.builder()
	q, args := b.Select(sourceFileColumns...).From(b.Table("source_file")).Where(p).Limit(1).Query()

	var rows entsql.Rows
	if err := r.st.drv.Query(ctx, q, args, &rows); err != nil {
		return nil, err
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, common.NewAppError("NOT_FOUND", "source file not found", common.ErrNotFound)
	}
	var (
		f  entity.SourceFile
		id string
	)
	if err := rows.Scan(&id, &f.SourcePath, &f.ContentHash, &f.Filename, &f.FileExt, &f.FileSize, &f.UploadedAt); err != nil {
		return nil, err
	}
	var err error
	if f.ID, err = uuid.Parse(id); err != nil {
		return nil, err
	}
	return &f, nil
}

func (r *sourceFileRepo) Create(ctx context.Context, f *entity.SourceFile) error {
	if f.ID == uuid.Nil {
		f.ID = uuid.New()
	}
	if f.UploadedAt.IsZero() {
		f.UploadedAt = time.Now()
	}
	f.UploadedAt = dbTime(f.UploadedAt)
	q, args := r.st.builder().Insert("source_file").
		Columns(sourceFileColumns...).
		Values(f.ID.String(), f.SourcePath, f.ContentHash, f.Filename, f.FileExt, f.FileSize, f.UploadedAt).
		Query()
	if err := r.st.drv.Exec(ctx, q, args, nil); err != nil {
		r.logger.Error("source_file.create.failed", "path", f.SourcePath, "error", err)
		return err
	}
	return nil
}

func (r *sourceFileRepo) UpsertByHash(ctx context.Context, f *entity.SourceFile) (*entity.SourceFile, bool, error) {
	existing, err := r.GetByHash(ctx, f.ContentHash)
	if err == nil {
		return existing, true, nil
	}
	if !errors.Is(err, common.ErrNotFound) {
		return nil, false, err
	}
	if err := r.Create(ctx, f); err != nil {
		// lost a race with another ingester
		if existing, getErr := r.GetByHash(ctx, f.ContentHash); getErr == nil {
			return existing, true, nil
		}
		return nil, false, err
	}
	return f, false, nil
}

// dbTime normalizes timestamps to what every supported column type can hold.
func dbTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}

func nullString(p *string) sql.NullString {
	if p == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *p, Valid: true}
}

func strPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func uuidPtr(ns sql.NullString) (*uuid.UUID, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	id, err := uuid.Parse(ns.String)
	if err != nil {
		return nil, err
	}
	return &id, nil
}

func uuidArg(id *uuid.UUID) any {
	if id == nil {
		return nil
	}
	return id.String()
}
