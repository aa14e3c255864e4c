package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"time"

	"github.com/joseph-ayodele/ticket-tracker/internal/common"
	"github.com/joseph-ayodele/ticket-tracker/internal/extract"
	"github.com/joseph-ayodele/ticket-tracker/internal/ocr"
	"github.com/joseph-ayodele/ticket-tracker/internal/ticket"
)

// runocr runs tesseract on one screenshot, prints the transcription, and
// optionally the extracted fields.
func main() {
	parse := flag.Bool("parse", false, "also run the rule extractor on the text")
	policy := flag.String("policy", "conservative", "train number policy for -parse")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if flag.NArg() != 1 {
		logger.Error("usage", "cmd", "runocr [-parse] [-policy loose] <screenshot>")
		os.Exit(2)
	}
	path := flag.Arg(0)

	cfg, err := common.LoadConfig()
	if err != nil {
		logger.Error("config", "error", err)
		os.Exit(1)
	}
	p, err := ticket.ParsePolicy(*policy)
	if err != nil {
		logger.Error("invalid policy", "error", err)
		os.Exit(2)
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.OCR.Timeout)
	defer cancel()

	ocrx := ocr.NewExtractor(ocr.Config{
		Tesseract:           cfg.OCR.Tesseract,
		TesseractLang:       cfg.OCR.Lang,
		TessdataDir:         cfg.OCR.TessdataDir,
		HeicConverter:       cfg.OCR.HeicConverter,
		EnableTSVConfidence: cfg.OCR.TSVConfidence,
		ArtifactCacheDir:    cfg.OCR.ArtifactCacheDir,
	}, logger)
	textExtractor := extract.NewOCRAdapter(ocrx, logger)

	start := time.Now()
	res, err := textExtractor.Extract(ctx, path, func(pct int, stage string) {
		logger.Debug("progress", "percent", pct, "stage", stage)
	})
	dur := time.Since(start)
	if err != nil {
		logger.Error("text extraction failed", "path", path, "error", err, "duration_ms", dur.Milliseconds())
		os.Exit(1)
	}
	logger.Info("text extraction OK",
		"method", res.Method,
		"confidence", res.Confidence,
		"bytes", len(res.Text),
		"duration_ms", dur.Milliseconds(),
	)
	os.Stdout.WriteString(res.Text)
	if !*parse {
		return
	}

	fields, err := extract.NewRulesExtractor(ticket.NewParser(ticket.WithTrainNumberPolicy(p))).ExtractFields(ctx, res.Text)
	if err != nil {
		logger.Error("field extraction failed", "error", err)
		os.Exit(1)
	}
	logger.Info("fields",
		"train_number", fields.Record.TrainNumber,
		"date", fields.Record.Date,
		"time", fields.Record.Time,
		"seat", fields.Record.Seat,
		"from", fields.Record.DepartureStation,
		"to", fields.Record.ArrivalStation,
		"gate", fields.Record.TicketGate,
		"confidence", fields.Confidence,
		"missing", fields.Missing,
	)
}
