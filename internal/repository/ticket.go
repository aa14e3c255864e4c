package repository

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	entsql "entgo.io/ent/dialect/sql"
	"github.com/google/uuid"

	"github.com/joseph-ayodele/ticket-tracker/internal/common"
	"github.com/joseph-ayodele/ticket-tracker/internal/entity"
)

// TicketFilter narrows List. Zero values do not filter.
type TicketFilter struct {
	FromDay     string // inclusive, YYYY-MM-DD
	ToDay       string // inclusive, YYYY-MM-DD
	TrainNumber string
	Station     string // matches departure or arrival
	Edited      *bool
	Limit       int
	Offset      int
}

const (
	DefaultListLimit = 50
	MaxListLimit     = 500
)

func (f TicketFilter) limit() int {
	switch {
	case f.Limit <= 0:
		return DefaultListLimit
	case f.Limit > MaxListLimit:
		return MaxListLimit
	default:
		return f.Limit
	}
}

type TicketRepository interface {
	Create(ctx context.Context, t *entity.Ticket) error
	Get(ctx context.Context, id uuid.UUID) (*entity.Ticket, error)
	GetByJob(ctx context.Context, jobID uuid.UUID) (*entity.Ticket, error)
	// List orders by travel day, newest first; tickets without a date come last.
	List(ctx context.Context, f TicketFilter) ([]*entity.Ticket, error)
	// Update replaces the fields of an existing ticket.
	Update(ctx context.Context, t *entity.Ticket) error
	Delete(ctx context.Context, id uuid.UUID) error
}

type ticketRepo struct {
	st     *Store
	logger *slog.Logger
}

func NewTicketRepository(st *Store, logger *slog.Logger) TicketRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &ticketRepo{st: st, logger: logger}
}

var ticketColumns = []string{
	"id", "job_id", "train_number", "travel_date", "travel_day", "departure_time", "seat",
	"departure_station", "arrival_station", "ticket_gate", "edited", "created_at", "updated_at",
}

func dayArg(t *entity.Ticket) any {
	if d := t.TravelDay(); d != "" {
		return d
	}
	return nil
}

func (r *ticketRepo) Create(ctx context.Context, t *entity.Ticket) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	now := dbTime(time.Now())
	t.CreatedAt, t.UpdatedAt = now, now
	q, args := r.st.builder().Insert("ticket").
		Columns(ticketColumns...).
		Values(t.ID.String(), uuidArg(t.JobID), t.TrainNumber, t.Date, dayArg(t), t.Time, t.Seat,
			t.DepartureStation, t.ArrivalStation, t.TicketGate, t.Edited, t.CreatedAt, t.UpdatedAt).
		Query()
	if err := r.st.drv.Exec(ctx, q, args, nil); err != nil {
		r.logger.Error("ticket.create.failed", "job_id", t.JobID, "error", err)
		return err
	}
	r.logger.Debug("ticket.created", "ticket_id", t.ID, "job_id", t.JobID)
	return nil
}

func (r *ticketRepo) Get(ctx context.Context, id uuid.UUID) (*entity.Ticket, error) {
	return r.one(ctx, entsql.EQ("id", id.String()))
}

func (r *ticketRepo) GetByJob(ctx context.Context, jobID uuid.UUID) (*entity.Ticket, error) {
	return r.one(ctx, entsql.EQ("job_id", jobID.String()))
}

func (r *ticketRepo) one(ctx context.Context, p *entsql.Predicate) (*entity.Ticket, error) {
	ts, err := r.query(ctx, func(s *entsql.Selector) { s.Where(p).Limit(1) })
	if err != nil {
		return nil, err
	}
	if len(ts) == 0 {
		return nil, common.NewAppError("NOT_FOUND", "ticket not found", common.ErrNotFound)
	}
	return ts[0], nil
}

func (r *ticketRepo) List(ctx context.Context, f TicketFilter) ([]*entity.Ticket, error) {
	return r.query(ctx, func(s *entsql.Selector) {
		var preds []*entsql.Predicate
		if f.FromDay != "" {
			preds = append(preds, entsql.GTE("travel_day", f.FromDay))
		}
		if f.ToDay != "" {
			preds = append(preds, entsql.LTE("travel_day", f.ToDay))
		}
		if f.TrainNumber != "" {
			preds = append(preds, entsql.EQ("train_number", f.TrainNumber))
		}
		if f.Station != "" {
			preds = append(preds, entsql.Or(
				entsql.EQ("departure_station", f.Station),
				entsql.EQ("arrival_station", f.Station),
			))
		}
		if f.Edited != nil {
			preds = append(preds, entsql.EQ("edited", *f.Edited))
		}
		if len(preds) > 0 {
			s.Where(entsql.And(preds...))
		}
		// NULL travel_day sorts last on every dialect via the IS NULL key
		s.OrderExpr(entsql.Expr("travel_day IS NULL")).
			OrderBy(entsql.Desc("travel_day"), entsql.Desc("created_at")).
			Limit(f.limit()).
			Offset(f.Offset)
	})
}

func (r *ticketRepo) Update(ctx context.Context, t *entity.Ticket) error {
	t.UpdatedAt = dbTime(time.Now())
	q, args := r.st.builder().Update("ticket").
		Set("train_number", t.TrainNumber).
		Set("travel_date", t.Date).
		Set("travel_day", dayArg(t)).
		Set("departure_time", t.Time).
		Set("seat", t.Seat).
		Set("departure_station", t.DepartureStation).
		Set("arrival_station", t.ArrivalStation).
		Set("ticket_gate", t.TicketGate).
		Set("edited", t.Edited).
		Set("updated_at", t.UpdatedAt).
		Where(entsql.EQ("id", t.ID.String())).
		Query()
	var res sql.Result
	if err := r.st.drv.Exec(ctx, q, args, &res); err != nil {
		r.logger.Error("ticket.update.failed", "ticket_id", t.ID, "error", err)
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return common.NewAppError("NOT_FOUND", "ticket not found", common.ErrNotFound)
	}
	return nil
}

func (r *ticketRepo) Delete(ctx context.Context, id uuid.UUID) error {
	q, args := r.st.builder().Delete("ticket").Where(entsql.EQ("id", id.String())).Query()
	var res sql.Result
	if err := r.st.drv.Exec(ctx, q, args, &res); err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return common.NewAppError("NOT_FOUND", "ticket not found", common.ErrNotFound)
	}
	return nil
}

func (r *ticketRepo) query(ctx context.Context, shape func(*entsql.Selector)) ([]*entity.Ticket, error) {
	b := r.st.builder()
	sel := b.Select(ticketColumns...).From(b.Table("ticket"))
	shape(sel)
	q, args := sel.Query()

	var rows entsql.Rows
	if err := r.st.drv.Query(ctx, q, args, &rows); err != nil {
		r.logger.Error("ticket.query.failed", "error", err)
		return nil, err
	}
	defer rows.Close()

	var out []*entity.Ticket
	for rows.Next() {
		var (
			t          entity.Ticket
			id         string
			jobID, day sql.NullString
		)
		if err := rows.Scan(&id, &jobID, &t.TrainNumber, &t.Date, &day, &t.Time, &t.Seat,
			&t.DepartureStation, &t.ArrivalStation, &t.TicketGate, &t.Edited, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, err
		}
		var err error
		if t.ID, err = uuid.Parse(id); err != nil {
			return nil, err
		}
		if t.JobID, err = uuidPtr(jobID); err != nil {
			return nil, err
		}
		out = append(out, &t)
	}
	return out, rows.Err()
}
