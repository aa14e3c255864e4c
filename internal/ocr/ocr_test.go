package ocr

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/joseph-ayodele/ticket-tracker/constants"
	"github.com/joseph-ayodele/ticket-tracker/internal/common"
)

// stubRunner records invocations and answers from a canned table keyed by
// binary name. When the binary is a HEIC converter it writes the output file.
type stubRunner struct {
	mu    sync.Mutex
	calls [][]string
	out   map[string]string
	fail  map[string]error
}

func (s *stubRunner) Run(_ context.Context, name string, args ...string) ([]byte, []byte, error) {
	s.mu.Lock()
	s.calls = append(s.calls, append([]string{name}, args...))
	s.mu.Unlock()
	if err := s.fail[name]; err != nil {
		return nil, []byte("boom"), err
	}
	switch name {
	case "magick", "heif-convert", "sips":
		if err := os.WriteFile(args[len(args)-1], []byte("png"), 0o644); err != nil {
			return nil, nil, err
		}
		return nil, nil, nil
	}
	if args[len(args)-1] == "tsv" {
		return []byte(s.out["tsv"]), nil, nil
	}
	return []byte(s.out[name]), nil, nil
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	return p
}

func TestExtractImageUsesChineseModel(t *testing.T) {
	r := &stubRunner{out: map[string]string{
		"tesseract": "发车时间：２０２６.02.19\r\n\r\n\r\n\r\n１０车08B号\t\t检票口1  \n-----\n",
	}}
	e := NewExtractor(Config{}, quietLogger(), WithRunner(r))
	img := writeFile(t, "order.png", "x")

	var stages []int
	res, err := e.Extract(context.Background(), img, func(p int, _ string) { stages = append(stages, p) })
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	want := "发车时间:2026.02.19\n\n10车08B号 检票口1"
	if diff := cmp.Diff(want, res.Text); diff != "" {
		t.Fatalf("text (-want +got):\n%s", diff)
	}
	if res.SourceType != constants.FormatImage || res.Method != "image-ocr" || res.Language != "chi_sim" {
		t.Fatalf("unexpected metadata %+v", res)
	}
	if got := r.calls[0]; got[0] != "tesseract" || strings.Join(got[2:5], " ") != "stdout -l chi_sim" {
		t.Fatalf("tesseract args = %v", got)
	}
	if stages[0] != 0 || stages[len(stages)-1] != 100 {
		t.Fatalf("progress = %v", stages)
	}
	for i := 1; i < len(stages); i++ {
		if stages[i] < stages[i-1] {
			t.Fatalf("progress went backwards: %v", stages)
		}
	}
	if res.Confidence <= 0.2 {
		t.Fatalf("expected ticket-like text to score above base, got %v", res.Confidence)
	}
}

func TestExtractBlendsTSVConfidence(t *testing.T) {
	tsv := "level\tpage_num\tblock_num\tpar_num\tline_num\tword_num\tleft\ttop\twidth\theight\tconf\ttext\n" +
		"1\t1\t0\t0\t0\t0\t0\t0\t100\t100\t-1\t\n" +
		"5\t1\t1\t1\t1\t1\t0\t0\t10\t10\t90\t检票口1\n" +
		"5\t1\t1\t1\t1\t2\t0\t0\t10\t10\t70\t09:10\n"

	if got := meanTSVConfidence(tsv); got < 0.79 || got > 0.81 {
		t.Fatalf("mean tsv = %v, want 0.8", got)
	}

	r := &stubRunner{out: map[string]string{"tesseract": "hello", "tsv": tsv}}
	e := NewExtractor(Config{EnableTSVConfidence: true}, quietLogger(), WithRunner(r))
	res, err := e.Extract(context.Background(), writeFile(t, "a.jpg", "x"), nil)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	want := float32(0.7*0.8 + 0.3*0.2)
	if d := res.Confidence - want; d > 0.001 || d < -0.001 {
		t.Fatalf("confidence = %v, want %v", res.Confidence, want)
	}
	if len(r.calls) != 2 {
		t.Fatalf("expected text and tsv passes, got %d", len(r.calls))
	}
}

func TestExtractTextPassthrough(t *testing.T) {
	r := &stubRunner{}
	e := NewExtractor(Config{}, quietLogger(), WithRunner(r))
	res, err := e.Extract(context.Background(), writeFile(t, "dump.TXT", "\ufeff检票口 A3\r\n"), nil)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if res.Text != "检票口 A3" || res.SourceType != constants.FormatText {
		t.Fatalf("unexpected result %+v", res)
	}
	if len(r.calls) != 0 {
		t.Fatalf("text input must not run tesseract")
	}
}

func TestExtractUnsupported(t *testing.T) {
	e := NewExtractor(Config{}, quietLogger(), WithRunner(&stubRunner{}))
	_, err := e.Extract(context.Background(), "/tmp/x.pdf", nil)
	if !errors.Is(err, common.ErrUnsupported) {
		t.Fatalf("expected ErrUnsupported, got %v", err)
	}
}

func TestExtractTesseractFailure(t *testing.T) {
	r := &stubRunner{fail: map[string]error{"tesseract": errors.New("exit 1")}}
	e := NewExtractor(Config{}, quietLogger(), WithRunner(r))
	res, err := e.Extract(context.Background(), writeFile(t, "a.png", "x"), nil)
	if err == nil {
		t.Fatalf("expected error")
	}
	if len(res.Warnings) != 1 || res.Warnings[0] != "boom" {
		t.Fatalf("stderr should surface as a warning: %v", res.Warnings)
	}
}

func TestHEICConversionIsCached(t *testing.T) {
	cache := t.TempDir()
	r := &stubRunner{out: map[string]string{"tesseract": "检票口2"}}
	e := NewExtractor(Config{HeicConverter: "magick", ArtifactCacheDir: cache}, quietLogger(), WithRunner(r))
	ctx := WithContentHash(context.Background(), "abc123")
	img := writeFile(t, "IMG_0001.HEIC", "x")

	for i := 0; i < 2; i++ {
		if _, err := e.Extract(ctx, img, nil); err != nil {
			t.Fatalf("extract %d: %v", i, err)
		}
	}
	var converts int
	for _, c := range r.calls {
		if c[0] == "magick" {
			converts++
		}
		if c[0] == "tesseract" && c[1] != filepath.Join(cache, "abc123.png") {
			t.Fatalf("tesseract should read the cached png, got %s", c[1])
		}
	}
	if converts != 1 {
		t.Fatalf("converter ran %d times, want 1", converts)
	}
}

func TestHEICWithoutConverter(t *testing.T) {
	e := NewExtractor(Config{}, quietLogger(), WithRunner(&stubRunner{}))
	if _, err := e.Extract(context.Background(), writeFile(t, "a.heic", "x"), nil); err == nil {
		t.Fatalf("expected error without a converter")
	}
}

func TestNormalizeKeepsDigitsAndLetters(t *testing.T) {
	in := "09:10 SS0 10:03\n08车 05号"
	if got := Normalize(in); got != in {
		t.Fatalf("Normalize changed %q to %q", in, got)
	}
	if Normalize("") != "" {
		t.Fatalf("empty stays empty")
	}
}

func TestExecRunnerMissingTool(t *testing.T) {
	r := execRunner{logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
	_, _, err := r.Run(context.Background(), "tesseract-not-installed-4c1d")
	if !errors.Is(err, common.ErrUnavailable) {
		t.Fatalf("err = %v, want ErrUnavailable", err)
	}
}
