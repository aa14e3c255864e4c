package repository

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/joseph-ayodele/ticket-tracker/internal/common"
	"github.com/joseph-ayodele/ticket-tracker/internal/entity"
	"github.com/joseph-ayodele/ticket-tracker/internal/ticket"
)

// ConnectMongo dials and pings MongoDB.
func ConnectMongo(ctx context.Context, uri string, timeout time.Duration, logger *slog.Logger) (*mongo.Client, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		logger.Error("mongo.connect.failed", "error", err)
		return nil, err
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		logger.Error("mongo.ping.failed", "error", err)
		return nil, err
	}
	logger.Info("mongo.connect.ok")
	return client, nil
}

type ticketDoc struct {
	ID               string    `bson:"_id"`
	JobID            string    `bson:"job_id,omitempty"`
	TrainNumber      string    `bson:"train_number"`
	Date             string    `bson:"travel_date"`
	TravelDay        string    `bson:"travel_day,omitempty"`
	Time             string    `bson:"departure_time"`
	Seat             string    `bson:"seat"`
	DepartureStation string    `bson:"departure_station"`
	ArrivalStation   string    `bson:"arrival_station"`
	TicketGate       string    `bson:"ticket_gate"`
	Edited           bool      `bson:"edited"`
	CreatedAt        time.Time `bson:"created_at"`
	UpdatedAt        time.Time `bson:"updated_at"`
}

func toDoc(t *entity.Ticket) ticketDoc {
	d := ticketDoc{
		ID:               t.ID.String(),
		TrainNumber:      t.TrainNumber,
		Date:             t.Date,
		TravelDay:        t.TravelDay(),
		Time:             t.Time,
		Seat:             t.Seat,
		DepartureStation: t.DepartureStation,
		ArrivalStation:   t.ArrivalStation,
		TicketGate:       t.TicketGate,
		Edited:           t.Edited,
		CreatedAt:        t.CreatedAt,
		UpdatedAt:        t.UpdatedAt,
	}
	if t.JobID != nil {
		d.JobID = t.JobID.String()
	}
	return d
}

func (d ticketDoc) entity() (*entity.Ticket, error) {
	id, err := uuid.Parse(d.ID)
	if err != nil {
		return nil, err
	}
	t := &entity.Ticket{
		ID: id,
		Record: ticket.Record{
			TrainNumber:      d.TrainNumber,
			Date:             d.Date,
			Time:             d.Time,
			Seat:             d.Seat,
			DepartureStation: d.DepartureStation,
			ArrivalStation:   d.ArrivalStation,
			TicketGate:       d.TicketGate,
		},
		Edited:    d.Edited,
		CreatedAt: d.CreatedAt,
		UpdatedAt: d.UpdatedAt,
	}
	if d.JobID != "" {
		jid, err := uuid.Parse(d.JobID)
		if err != nil {
			return nil, err
		}
		t.JobID = &jid
	}
	return t, nil
}

type MongoTicketRepository struct {
	coll   *mongo.Collection
	logger *slog.Logger
}

// NewMongoTicketRepository stores tickets as documents in coll.
func NewMongoTicketRepository(coll *mongo.Collection, logger *slog.Logger) *MongoTicketRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &MongoTicketRepository{coll: coll, logger: logger}
}

// EnsureIndexes creates the lookup indexes used by GetByJob and List.
func (r *MongoTicketRepository) EnsureIndexes(ctx context.Context) error {
	_, err := r.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "job_id", Value: 1}}},
		{Keys: bson.D{{Key: "travel_day", Value: -1}, {Key: "created_at", Value: -1}}},
	})
	return err
}

func (r *MongoTicketRepository) Create(ctx context.Context, t *entity.Ticket) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	now := dbTime(time.Now())
	t.CreatedAt, t.UpdatedAt = now, now
	if _, err := r.coll.InsertOne(ctx, toDoc(t)); err != nil {
		r.logger.Error("ticket.create.failed", "store", "mongo", "error", err)
		return err
	}
	return nil
}

func (r *MongoTicketRepository) Get(ctx context.Context, id uuid.UUID) (*entity.Ticket, error) {
	return r.one(ctx, bson.M{"_id": id.String()})
}

func (r *MongoTicketRepository) GetByJob(ctx context.Context, jobID uuid.UUID) (*entity.Ticket, error) {
	return r.one(ctx, bson.M{"job_id": jobID.String()})
}

func (r *MongoTicketRepository) one(ctx context.Context, filter bson.M) (*entity.Ticket, error) {
	var d ticketDoc
	if err := r.coll.FindOne(ctx, filter).Decode(&d); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, common.NewAppError("NOT_FOUND", "ticket not found", common.ErrNotFound)
		}
		return nil, err
	}
	return d.entity()
}

// mongoFilter mirrors the SQL predicates of ticketRepo.List.
func mongoFilter(f TicketFilter) bson.M {
	filter := bson.M{}
	day := bson.M{}
	if f.FromDay != "" {
		day["$gte"] = f.FromDay
	}
	if f.ToDay != "" {
		day["$lte"] = f.ToDay
	}
	if len(day) > 0 {
		filter["travel_day"] = day
	}
	if f.TrainNumber != "" {
		filter["train_number"] = f.TrainNumber
	}
	if f.Station != "" {
		filter["$or"] = bson.A{
			bson.M{"departure_station": f.Station},
			bson.M{"arrival_station": f.Station},
		}
	}
	if f.Edited != nil {
		filter["edited"] = *f.Edited
	}
	return filter
}

func (r *MongoTicketRepository) List(ctx context.Context, f TicketFilter) ([]*entity.Ticket, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "travel_day", Value: -1}, {Key: "created_at", Value: -1}}).
		SetLimit(int64(f.limit())).
		SetSkip(int64(f.Offset))
	cur, err := r.coll.Find(ctx, mongoFilter(f), opts)
	if err != nil {
		r.logger.Error("ticket.query.failed", "store", "mongo", "error", err)
		return nil, err
	}
	defer cur.Close(ctx)

	var docs []ticketDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}
	out := make([]*entity.Ticket, 0, len(docs))
	for _, d := range docs {
		t, err := d.entity()
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

func (r *MongoTicketRepository) Update(ctx context.Context, t *entity.Ticket) error {
	t.UpdatedAt = dbTime(time.Now())
	d := toDoc(t)
	set := bson.M{
		"train_number":      d.TrainNumber,
		"travel_date":       d.Date,
		"travel_day":        d.TravelDay,
		"departure_time":    d.Time,
		"seat":              d.Seat,
		"departure_station": d.DepartureStation,
		"arrival_station":   d.ArrivalStation,
		"ticket_gate":       d.TicketGate,
		"edited":            d.Edited,
		"updated_at":        d.UpdatedAt,
	}
	res, err := r.coll.UpdateOne(ctx, bson.M{"_id": d.ID}, bson.M{"$set": set})
	if err != nil {
		r.logger.Error("ticket.update.failed", "store", "mongo", "ticket_id", t.ID, "error", err)
		return err
	}
	if res.MatchedCount == 0 {
		return common.NewAppError("NOT_FOUND", "ticket not found", common.ErrNotFound)
	}
	return nil
}

func (r *MongoTicketRepository) Delete(ctx context.Context, id uuid.UUID) error {
	res, err := r.coll.DeleteOne(ctx, bson.M{"_id": id.String()})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return common.NewAppError("NOT_FOUND", "ticket not found", common.ErrNotFound)
	}
	return nil
}
