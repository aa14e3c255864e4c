package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/joseph-ayodele/ticket-tracker/constants"
	"github.com/joseph-ayodele/ticket-tracker/internal/common"
	"github.com/joseph-ayodele/ticket-tracker/internal/export"
	"github.com/joseph-ayodele/ticket-tracker/internal/extract"
	"github.com/joseph-ayodele/ticket-tracker/internal/ingest"
	"github.com/joseph-ayodele/ticket-tracker/internal/ocr"
	"github.com/joseph-ayodele/ticket-tracker/internal/pipeline"
	repo "github.com/joseph-ayodele/ticket-tracker/internal/repository"
	"github.com/joseph-ayodele/ticket-tracker/internal/server"
	"github.com/joseph-ayodele/ticket-tracker/internal/ticket"
)

// printError prints an error message to stderr, falling back to stdout if stderr fails
func printError(format string, args ...interface{}) {
	if _, err := fmt.Fprintf(os.Stderr, format, args...); err != nil {
		fmt.Printf(format, args...)
	}
}

func main() {
	var (
		inmem   = flag.Bool("inmem", false, "use in-memory SQLite database")
		dir     = flag.String("dir", "", "directory of ticket screenshots (required)")
		out     = flag.String("out", "", "output XLSX file path (defaults to tickets.xlsx next to --dir)")
		fromStr = flag.String("from", "", "from travel date YYYY-MM-DD")
		toStr   = flag.String("to", "", "to travel date YYYY-MM-DD")
		policy  = flag.String("policy", "", "train number policy: conservative or loose")
		force   = flag.Bool("force", false, "re-run extraction for screenshots already parsed")
	)
	flag.Parse()

	if *dir == "" {
		printError("Error: --dir is required\n")
		os.Exit(1)
	}
	if *out == "" {
		*out = filepath.Join(filepath.Dir(filepath.Clean(*dir)), "tickets.xlsx")
	}
	filter, err := server.FilterQuery{From: *fromStr, To: *toStr}.Filter()
	if err != nil {
		printError("Error: %v\n", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	ctx := context.Background()

	cfg, err := common.LoadConfig()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if *policy == "" {
		*policy = cfg.Parse.TrainNumberPolicy
	}
	p, err := ticket.ParsePolicy(*policy)
	if err != nil {
		printError("Error: %v\n", err)
		os.Exit(1)
	}

	dsn := cfg.Database.DSN
	if *inmem {
		dsn = "sqlite://:memory:"
	}
	st, err := repo.Open(ctx, repo.Config{DSN: dsn, DialTimeout: cfg.Database.DialTimeout}, logger)
	if err != nil {
		logger.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer st.Close()
	if err := st.Migrate(ctx); err != nil {
		logger.Error("failed to migrate database", "error", err)
		os.Exit(1)
	}

	filesRepo := repo.NewSourceFileRepository(st, logger)
	jobsRepo := repo.NewExtractJobRepository(st, logger)
	ticketsRepo := repo.NewTicketRepository(st, logger)

	extractor := ocr.NewExtractor(ocr.Config{
		Tesseract:           cfg.OCR.Tesseract,
		TesseractLang:       cfg.OCR.Lang,
		HeicConverter:       cfg.OCR.HeicConverter,
		TessdataDir:         cfg.OCR.TessdataDir,
		ArtifactCacheDir:    cfg.OCR.ArtifactCacheDir,
		EnableTSVConfidence: cfg.OCR.TSVConfidence,
	}, logger)
	ocrStage := pipeline.NewOCRStage(filesRepo, jobsRepo, extract.NewOCRAdapter(extractor, logger), logger)
	parseStage := pipeline.NewParseStage(logger, pipeline.Config{MinConfidence: cfg.Parse.MinConfidence}, jobsRepo, ticketsRepo,
		extract.NewRulesExtractor(ticket.NewParser(ticket.WithTrainNumberPolicy(p))), nil, nil)
	processor := pipeline.NewProcessor(logger, ingest.NewFSIngestor(filesRepo, logger), jobsRepo, ticketsRepo, ocrStage, parseStage)

	paths, stats, err := ingest.ScanDirectory(*dir, true)
	if err != nil {
		logger.Error("failed to scan directory", "error", err)
		os.Exit(1)
	}
	logger.Info("scan complete", "scanned", stats.Scanned, "matched", stats.Matched, "failed", stats.Failed)

	var processed, review, dedup, failures int
	for _, path := range paths {
		res, err := processor.ProcessFile(ctx, pipeline.FileRequest{Path: path, Source: constants.SourceCLI, Force: *force}, nil)
		switch {
		case err != nil:
			logger.Error("failed to process file", "path", path, "error", err)
			failures++
			continue
		case res.Deduplicated:
			dedup++
		default:
			processed++
		}
		if res.NeedsReview && res.Ticket != nil {
			review++
			logger.Warn("ticket needs review", "path", path, "job_id", res.JobID, "missing", res.Ticket.Missing())
		}
	}

	logger.Info("exporting to XLSX", "output", *out)
	xlsxBytes, err := export.NewService(ticketsRepo, logger).ExportTicketsXLSX(ctx, filter)
	if err != nil {
		logger.Error("failed to export tickets", "error", err)
		os.Exit(1)
	}
	if err := os.WriteFile(*out, xlsxBytes, 0o644); err != nil {
		logger.Error("failed to write output file", "error", err)
		os.Exit(1)
	}

	fmt.Printf("Batch processing complete!\n")
	fmt.Printf("- Screenshots found: %d\n", len(paths))
	fmt.Printf("- Parsed: %d (already parsed: %d)\n", processed, dedup)
	fmt.Printf("- Needs review: %d\n", review)
	fmt.Printf("- Failures: %d\n", failures)
	fmt.Printf("- Output: %s\n", *out)
}
