package repository

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/joseph-ayodele/ticket-tracker/constants"
	"github.com/joseph-ayodele/ticket-tracker/internal/common"
	"github.com/joseph-ayodele/ticket-tracker/internal/entity"
	"github.com/joseph-ayodele/ticket-tracker/internal/ticket"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	st, err := Open(context.Background(), Config{DSN: "sqlite://:memory:"}, logger)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(st.Close)
	if err := st.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return st
}

func TestOpenRejectsUnknownScheme(t *testing.T) {
	if _, err := Open(context.Background(), Config{DSN: "oracle://x"}, nil); err == nil {
		t.Fatalf("expected error")
	}
	if _, err := Open(context.Background(), Config{DSN: "no-scheme"}, nil); err == nil {
		t.Fatalf("expected error")
	}
}

func TestRedact(t *testing.T) {
	got := redact("postgres://app:s3cret@db:5432/tickets")
	if got != "postgres://app:***@db:5432/tickets" {
		t.Fatalf("redact = %q", got)
	}
	if redact("sqlite://tickets.db") != "sqlite://tickets.db" {
		t.Fatalf("dsn without credentials should be unchanged")
	}
}

func TestMigrateIsIdempotent(t *testing.T) {
	st := openTestStore(t)
	if err := st.Migrate(context.Background()); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
	if err := st.HealthCheck(context.Background(), 0); err != nil {
		t.Fatalf("health: %v", err)
	}
}

func TestSourceFileUpsertByHash(t *testing.T) {
	ctx := context.Background()
	repo := NewSourceFileRepository(openTestStore(t), nil)

	f := &entity.SourceFile{SourcePath: "/in/a.png", ContentHash: "abc", Filename: "a.png", FileExt: "png", FileSize: 10}
	first, existed, err := repo.UpsertByHash(ctx, f)
	if err != nil || existed {
		t.Fatalf("first upsert: %v existed=%v", err, existed)
	}
	dup := &entity.SourceFile{SourcePath: "/in/copy.png", ContentHash: "abc", Filename: "copy.png", FileExt: "png", FileSize: 10}
	second, existed, err := repo.UpsertByHash(ctx, dup)
	if err != nil || !existed {
		t.Fatalf("second upsert: %v existed=%v", err, existed)
	}
	if second.ID != first.ID || second.SourcePath != "/in/a.png" {
		t.Fatalf("expected the original row, got %+v", second)
	}
	byID, err := repo.GetByID(ctx, first.ID)
	if err != nil || byID.ContentHash != "abc" {
		t.Fatalf("get by id: %v %+v", err, byID)
	}
	if _, err := repo.GetByHash(ctx, "missing"); !errors.Is(err, common.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestExtractJobLifecycle(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)
	files := NewSourceFileRepository(st, nil)
	jobs := NewExtractJobRepository(st, nil)

	f := &entity.SourceFile{SourcePath: "/in/a.png", ContentHash: "h1", Filename: "a.png", FileExt: "png"}
	if err := files.Create(ctx, f); err != nil {
		t.Fatalf("create file: %v", err)
	}
	job, err := jobs.Start(ctx, StartJob{FileID: &f.ID, Source: constants.SourceUpload, Format: constants.FormatImage})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if job.Status != constants.JobStatusQueued {
		t.Fatalf("status = %s", job.Status)
	}
	if err := jobs.MarkRunning(ctx, job.ID); err != nil {
		t.Fatalf("running: %v", err)
	}
	if err := jobs.FinishOCRSuccess(ctx, job.ID, "检票口1", "image-ocr", 0.75); err != nil {
		t.Fatalf("ocr: %v", err)
	}
	if _, err := jobs.LatestParsedForFile(ctx, f.ID); !errors.Is(err, common.ErrNotFound) {
		t.Fatalf("no parsed job yet, got %v", err)
	}

	ticketID := uuid.New()
	payload := json.RawMessage(`{"ticketGate":"1"}`)
	if err := jobs.FinishParse(ctx, job.ID, ParseOutcome{TicketID: ticketID, Policy: "conservative", NeedsReview: true, ExtractedJSON: payload}); err != nil {
		t.Fatalf("parse: %v", err)
	}

	got, err := jobs.Get(ctx, job.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != constants.JobStatusParsed || got.TicketID == nil || *got.TicketID != ticketID {
		t.Fatalf("unexpected job %+v", got)
	}
	if got.OCRText == nil || *got.OCRText != "检票口1" || got.OCRConfidence == nil || *got.OCRConfidence != 0.75 {
		t.Fatalf("ocr fields not stored: %+v", got)
	}
	if !got.NeedsReview || got.FinishedAt == nil || string(got.ExtractedJSON) != string(payload) {
		t.Fatalf("parse fields not stored: %+v", got)
	}
	if got.FileID == nil || *got.FileID != f.ID {
		t.Fatalf("file id = %v", got.FileID)
	}

	latest, err := jobs.LatestParsedForFile(ctx, f.ID)
	if err != nil || latest.ID != job.ID {
		t.Fatalf("latest parsed: %v %+v", err, latest)
	}

	parsed, err := jobs.List(ctx, constants.JobStatusParsed, 0)
	if err != nil || len(parsed) != 1 {
		t.Fatalf("list parsed: %v %d", err, len(parsed))
	}
}

func TestExtractJobFailureAndMissing(t *testing.T) {
	ctx := context.Background()
	jobs := NewExtractJobRepository(openTestStore(t), nil)

	job, err := jobs.Start(ctx, StartJob{Source: constants.SourceText, Format: constants.FormatText, Status: constants.JobStatusRunning})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := jobs.FinishFailure(ctx, job.ID, "tesseract: exit 1"); err != nil {
		t.Fatalf("fail: %v", err)
	}
	got, err := jobs.Get(ctx, job.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != constants.JobStatusFailed || got.ErrorMessage == nil || *got.ErrorMessage != "tesseract: exit 1" {
		t.Fatalf("unexpected job %+v", got)
	}
	if got.FileID != nil {
		t.Fatalf("text job has no file")
	}
	if err := jobs.MarkRunning(ctx, uuid.New()); !errors.Is(err, common.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := jobs.Get(ctx, uuid.New()); !errors.Is(err, common.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func seedTickets(t *testing.T, repo TicketRepository) []*entity.Ticket {
	t.Helper()
	jobID := uuid.New()
	tickets := []*entity.Ticket{
		{JobID: &jobID, Record: ticket.Record{TrainNumber: "G1234", Date: "2026-2-19", DepartureStation: "嵊州新昌", ArrivalStation: "杭州东"}},
		{Record: ticket.Record{TrainNumber: "D312", Date: "2026-03-01", DepartureStation: "杭州东", ArrivalStation: "上海虹桥"}},
		{Record: ticket.Record{TicketGate: "1"}},
	}
	for _, tk := range tickets {
		if err := repo.Create(context.Background(), tk); err != nil {
			t.Fatalf("create: %v", err)
		}
	}
	return tickets
}

func ids(ts []*entity.Ticket) []uuid.UUID {
	out := make([]uuid.UUID, len(ts))
	for i, t := range ts {
		out[i] = t.ID
	}
	return out
}

func TestTicketList(t *testing.T) {
	ctx := context.Background()
	repo := NewTicketRepository(openTestStore(t), nil)
	seeded := seedTickets(t, repo)

	all, err := repo.List(ctx, TicketFilter{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	// newest travel day first, undated last
	want := []uuid.UUID{seeded[1].ID, seeded[0].ID, seeded[2].ID}
	if diff := cmp.Diff(want, ids(all)); diff != "" {
		t.Fatalf("order (-want +got):\n%s", diff)
	}

	cases := []struct {
		name string
		f    TicketFilter
		want []uuid.UUID
	}{
		{"unpadded date in range", TicketFilter{FromDay: "2026-02-01", ToDay: "2026-02-28"}, []uuid.UUID{seeded[0].ID}},
		{"station either end", TicketFilter{Station: "杭州东"}, []uuid.UUID{seeded[1].ID, seeded[0].ID}},
		{"train number", TicketFilter{TrainNumber: "D312"}, []uuid.UUID{seeded[1].ID}},
		{"limit and offset", TicketFilter{Limit: 1, Offset: 1}, []uuid.UUID{seeded[0].ID}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := repo.List(ctx, tc.f)
			if err != nil {
				t.Fatalf("list: %v", err)
			}
			if diff := cmp.Diff(tc.want, ids(got)); diff != "" {
				t.Fatalf("(-want +got):\n%s", diff)
			}
		})
	}
}

func TestTicketGetUpdateDelete(t *testing.T) {
	ctx := context.Background()
	repo := NewTicketRepository(openTestStore(t), nil)
	seeded := seedTickets(t, repo)

	got, err := repo.GetByJob(ctx, *seeded[0].JobID)
	if err != nil {
		t.Fatalf("get by job: %v", err)
	}
	if diff := cmp.Diff(seeded[0].Record, got.Record); diff != "" {
		t.Fatalf("record (-want +got):\n%s", diff)
	}

	got.TrainNumber = "G1235"
	got.Edited = true
	if err := repo.Update(ctx, got); err != nil {
		t.Fatalf("update: %v", err)
	}
	again, err := repo.Get(ctx, got.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if again.TrainNumber != "G1235" || !again.Edited {
		t.Fatalf("update not persisted: %+v", again)
	}
	edited := true
	if list, _ := repo.List(ctx, TicketFilter{Edited: &edited}); len(list) != 1 {
		t.Fatalf("edited filter = %d", len(list))
	}

	if err := repo.Delete(ctx, got.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := repo.Get(ctx, got.ID); !errors.Is(err, common.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	missing := &entity.Ticket{ID: uuid.New()}
	if err := repo.Update(ctx, missing); !errors.Is(err, common.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestMongoFilter(t *testing.T) {
	edited := false
	got := mongoFilter(TicketFilter{FromDay: "2026-02-01", Station: "杭州东", Edited: &edited})
	want := bson.M{
		"travel_day": bson.M{"$gte": "2026-02-01"},
		"$or": bson.A{
			bson.M{"departure_station": "杭州东"},
			bson.M{"arrival_station": "杭州东"},
		},
		"edited": false,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("filter (-want +got):\n%s", diff)
	}
	if len(mongoFilter(TicketFilter{})) != 0 {
		t.Fatalf("empty filter should match everything")
	}
}

func TestTicketDocRoundTrip(t *testing.T) {
	jobID := uuid.New()
	in := &entity.Ticket{ID: uuid.New(), JobID: &jobID, Record: ticket.Record{Date: "2026-2-19", Seat: "10车08排B号"}}
	d := toDoc(in)
	if d.TravelDay != "2026-02-19" {
		t.Fatalf("travel day = %q", d.TravelDay)
	}
	out, err := d.entity()
	if err != nil {
		t.Fatalf("entity: %v", err)
	}
	if diff := cmp.Diff(in, out); diff != "" {
		t.Fatalf("(-want +got):\n%s", diff)
	}
}
