// Package export renders stored tickets as spreadsheets.
package export

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/joseph-ayodele/ticket-tracker/internal/entity"
	"github.com/joseph-ayodele/ticket-tracker/internal/repository"
)

const sheet = "Tickets"

var headers = []string{
	"Travel Date",
	"Departure Time",
	"Train",
	"From",
	"To",
	"Seat",
	"Gate",
	"Edited",
	"Ticket ID",
}

// Service produces XLSX bytes for ticket exports.
type Service struct {
	tickets repository.TicketRepository
	logger  *slog.Logger
}

func NewService(tickets repository.TicketRepository, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{tickets: tickets, logger: logger}
}

// ExportTicketsXLSX returns a workbook with one row per ticket matching f, in
// List order. Without an explicit f.Limit every matching ticket is exported.
func (s *Service) ExportTicketsXLSX(ctx context.Context, f repository.TicketFilter) ([]byte, error) {
	start := time.Now()

	tickets, err := s.collect(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("query tickets: %w", err)
	}

	wb := excelize.NewFile()
	defer wb.Close()
	if err := wb.SetSheetName("Sheet1", sheet); err != nil {
		return nil, err
	}

	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = wb.SetCellValue(sheet, cell, h)
	}
	bold, err := wb.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return nil, err
	}
	_ = wb.SetRowStyle(sheet, 1, 1, bold)

	// multi-passenger seats are newline separated; keep them on separate lines
	wrap, err := wb.NewStyle(&excelize.Style{Alignment: &excelize.Alignment{WrapText: true, Vertical: "top"}})
	if err != nil {
		return nil, err
	}

	for i, t := range tickets {
		row := i + 2
		write := func(col int, v any) {
			cell, _ := excelize.CoordinatesToCellName(col, row)
			_ = wb.SetCellValue(sheet, cell, v)
		}
		write(1, t.Date)
		write(2, t.Time)
		write(3, t.TrainNumber)
		write(4, t.DepartureStation)
		write(5, t.ArrivalStation)
		write(6, t.Seat)
		write(7, t.TicketGate)
		write(8, yesNo(t.Edited))
		write(9, t.ID.String())

		seatCell, _ := excelize.CoordinatesToCellName(6, row)
		_ = wb.SetCellStyle(sheet, seatCell, seatCell, wrap)
	}

	_ = wb.SetColWidth(sheet, "A", "B", 14)
	_ = wb.SetColWidth(sheet, "C", "C", 10)
	_ = wb.SetColWidth(sheet, "D", "E", 16)
	_ = wb.SetColWidth(sheet, "F", "F", 18)
	_ = wb.SetColWidth(sheet, "G", "H", 8)
	_ = wb.SetColWidth(sheet, "I", "I", 38)
	_ = wb.SetPanes(sheet, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"})

	buf, err := wb.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}

	s.logger.Info("export.xlsx.ok",
		"rows", len(tickets),
		"from", f.FromDay, "to", f.ToDay,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return buf.Bytes(), nil
}

func (s *Service) collect(ctx context.Context, f repository.TicketFilter) ([]*entity.Ticket, error) {
	if f.Limit > 0 {
		return s.tickets.List(ctx, f)
	}
	var out []*entity.Ticket
	f.Limit = repository.MaxListLimit
	for {
		page, err := s.tickets.List(ctx, f)
		if err != nil {
			return nil, err
		}
		out = append(out, page...)
		if len(page) < f.Limit {
			return out, nil
		}
		f.Offset += len(page)
	}
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return ""
}
