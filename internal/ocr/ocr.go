package ocr

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/joseph-ayodele/ticket-tracker/constants"
	"github.com/joseph-ayodele/ticket-tracker/internal/common"
)

type Config struct {
	Tesseract string // binary name or absolute path; if empty -> "tesseract"

	TesseractLang string // default "chi_sim"; 12306 screenshots are simplified Chinese

	TessdataDir         string
	HeicConverter       string
	EnableTSVConfidence bool

	PSM int // e.g., 6 is good for uniform block of text
	OEM int // 1 = LSTM; leave 0 to use default

	ArtifactCacheDir string
}

type ExtractionResult struct {
	Text       string
	SourceType string // constants.FormatImage | constants.FormatText
	Method     string // "image-ocr" | "text"
	Language   string
	Duration   time.Duration
	Warnings   []string
	Confidence float32
}

// ProgressFunc receives coarse progress (0..100) while a file is processed.
// It may be nil.
type ProgressFunc func(percent int, stage string)

func (f ProgressFunc) report(percent int, stage string) {
	if f != nil {
		f(percent, stage)
	}
}

type Extractor struct {
	cfg    Config
	runner Runner
	logger *slog.Logger
}

type Option func(*Extractor)

// WithRunner replaces the process runner; tests use it to stub tesseract.
func WithRunner(r Runner) Option {
	return func(e *Extractor) { e.runner = r }
}

func NewExtractor(cfg Config, logger *slog.Logger, opts ...Option) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Tesseract == "" {
		cfg.Tesseract = "tesseract"
	}
	if cfg.TesseractLang == "" {
		cfg.TesseractLang = "chi_sim"
	}
	if cfg.ArtifactCacheDir == "" {
		cfg.ArtifactCacheDir = "./tmp"
	}
	e := &Extractor{cfg: cfg, logger: logger}
	e.runner = execRunner{logger: logger}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Extract picks a strategy based on file extension.
func (e *Extractor) Extract(ctx context.Context, path string, progress ProgressFunc) (ExtractionResult, error) {
	start := time.Now()
	ext := constants.NormalizeExt(filepath.Ext(path))
	e.logger.Debug("ocr.extract.start", "path", path, "ext", ext)
	progress.report(0, "start")

	var (
		res ExtractionResult
		err error
	)
	switch constants.MapExtToFormat(ext) {
	case constants.FormatText:
		res, err = e.extractText(path)
	case constants.FormatImage:
		var cleanup func()
		var warns []string
		if constants.IsHEICExt(ext) {
			progress.report(5, "convert")
			hashHex, _ := contentHashFromCtx(ctx)
			out, w, c, cerr := convertHEICtoPNG(ctx, e.runner, e.logger, e.cfg.HeicConverter, path, e.cfg.ArtifactCacheDir, hashHex)
			warns = append(warns, w...)
			if cerr != nil {
				e.logger.Error("ocr.heic.failed", "path", path, "error", cerr)
				return ExtractionResult{SourceType: constants.FormatImage, Warnings: warns}, cerr
			}
			cleanup = c
			path = out
		}
		if cleanup != nil {
			defer cleanup()
		}
		res, err = e.extractImage(ctx, path, progress)
		res.Warnings = append(res.Warnings, warns...)
	default:
		e.logger.Error("ocr.extract.unsupported", "extension", ext)
		return ExtractionResult{}, common.NewAppError("UNSUPPORTED", fmt.Sprintf("unsupported extension: %q", ext), common.ErrUnsupported)
	}
	res.Duration = time.Since(start)
	if err != nil {
		return res, err
	}
	progress.report(100, "done")
	e.logger.Debug("ocr.extract.ok", "path", path, "method", res.Method,
		"chars", len(res.Text), "confidence", res.Confidence, "duration_ms", res.Duration.Milliseconds())
	return res, nil
}

// extractText treats a .txt file as an existing transcription.
func (e *Extractor) extractText(path string) (ExtractionResult, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return ExtractionResult{SourceType: constants.FormatText}, fmt.Errorf("read text: %w", err)
	}
	txt := Normalize(string(b))
	return ExtractionResult{
		Text:       txt,
		SourceType: constants.FormatText,
		Method:     "text",
		Confidence: heuristicConfidence(txt),
	}, nil
}
