package export

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/xuri/excelize/v2"

	"github.com/joseph-ayodele/ticket-tracker/internal/entity"
	"github.com/joseph-ayodele/ticket-tracker/internal/repository"
	"github.com/joseph-ayodele/ticket-tracker/internal/ticket"
)

// sliceRepo serves List from memory so paging can be checked without a DB.
type sliceRepo struct {
	repository.TicketRepository
	all   []*entity.Ticket
	calls int
}

func (r *sliceRepo) List(_ context.Context, f repository.TicketFilter) ([]*entity.Ticket, error) {
	r.calls++
	if f.Offset >= len(r.all) {
		return nil, nil
	}
	end := f.Offset + f.Limit
	if end > len(r.all) {
		end = len(r.all)
	}
	return r.all[f.Offset:end], nil
}

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestExportTicketsXLSX(t *testing.T) {
	repo := &sliceRepo{all: []*entity.Ticket{
		{Record: ticket.Record{Date: "2026-02-19", Time: "09:10", TrainNumber: "G1234",
			DepartureStation: "嵊州新昌", ArrivalStation: "杭州东", Seat: "10车08排B号\n10车08排A号", TicketGate: "1"}, Edited: true},
		{Record: ticket.Record{Seat: "3车15号"}},
	}}
	b, err := NewService(repo, quietLogger()).ExportTicketsXLSX(context.Background(), repository.TicketFilter{})
	if err != nil {
		t.Fatalf("export: %v", err)
	}

	wb, err := excelize.OpenReader(bytes.NewReader(b))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer wb.Close()
	rows, err := wb.GetRows(sheet)
	if err != nil {
		t.Fatalf("rows: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("rows = %d, want header + 2", len(rows))
	}
	if rows[0][0] != "Travel Date" || rows[0][5] != "Seat" {
		t.Fatalf("header = %v", rows[0])
	}
	if rows[1][5] != "10车08排B号\n10车08排A号" || rows[1][7] != "yes" || rows[1][3] != "嵊州新昌" {
		t.Fatalf("first row = %q", rows[1])
	}
	if rows[2][0] != "" || rows[2][5] != "3车15号" {
		t.Fatalf("second row = %q", rows[2])
	}
}

func TestExportPagesThroughAllTickets(t *testing.T) {
	var all []*entity.Ticket
	for i := 0; i < repository.MaxListLimit+3; i++ {
		all = append(all, &entity.Ticket{Record: ticket.Record{TrainNumber: fmt.Sprintf("G%d", i)}})
	}
	repo := &sliceRepo{all: all}
	b, err := NewService(repo, nil).ExportTicketsXLSX(context.Background(), repository.TicketFilter{})
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if repo.calls != 2 {
		t.Fatalf("List called %d times", repo.calls)
	}
	wb, err := excelize.OpenReader(bytes.NewReader(b))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	rows, _ := wb.GetRows(sheet)
	if len(rows) != len(all)+1 {
		t.Fatalf("rows = %d", len(rows))
	}

	repo.calls = 0
	if _, err := NewService(repo, nil).ExportTicketsXLSX(context.Background(), repository.TicketFilter{Limit: 5}); err != nil {
		t.Fatalf("export: %v", err)
	}
	if repo.calls != 1 {
		t.Fatalf("explicit limit should fetch one page, got %d", repo.calls)
	}
}
