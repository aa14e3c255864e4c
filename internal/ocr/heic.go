package ocr

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
)

type ctxKey string

const ctxKeyContentHash ctxKey = "ocr.content_hash_hex"

// WithContentHash stores the hex-encoded SHA256 of the input so converted
// artifacts can be cached under it.
func WithContentHash(ctx context.Context, hex string) context.Context {
	return context.WithValue(ctx, ctxKeyContentHash, hex)
}

func contentHashFromCtx(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(ctxKeyContentHash).(string)
	return v, ok && v != ""
}

// converterArgs returns the command line that turns in into a PNG at out.
func converterArgs(converter, in, out string) (string, []string, error) {
	switch converter {
	case "heif-convert":
		return "heif-convert", []string{in, out}, nil
	case "magick":
		return "magick", []string{in, out}, nil
	case "sips":
		return "sips", []string{"-s", "format", "png", in, "--out", out}, nil
	default:
		return "", nil, fmt.Errorf("HEIC not supported: set HEIC_CONVERTER to one of: heif-convert | magick | sips")
	}
}

// convertHEICtoPNG converts a HEIC/HEIF phone screenshot to PNG.
// With cacheDir and hashHex set, the PNG is kept at {cacheDir}/{hashHex}.png
// and reused on the next call; cleanup is nil in that case.
func convertHEICtoPNG(
	ctx context.Context,
	r Runner,
	logger *slog.Logger,
	converter string,
	in string,
	cacheDir string,
	hashHex string,
) (string, []string, func(), error) {
	name, _, err := converterArgs(converter, in, "")
	if err != nil {
		return "", nil, nil, err
	}

	var cached string
	if cacheDir != "" && hashHex != "" {
		cached = filepath.Join(cacheDir, hashHex+".png")
		if st, err := os.Stat(cached); err == nil && !st.IsDir() {
			logger.Debug("ocr.heic.cache_hit", "cache", cached)
			return cached, nil, nil, nil
		}
		if err := os.MkdirAll(cacheDir, 0o755); err != nil {
			return "", nil, nil, err
		}
	}

	tmpDir, err := os.MkdirTemp("", "tt-heic-*")
	if err != nil {
		return "", nil, nil, err
	}
	cleanup := func() { _ = os.RemoveAll(tmpDir) }
	out := filepath.Join(tmpDir, "page.png")

	_, args, _ := converterArgs(converter, in, out)
	if _, errb, err := r.Run(ctx, name, args...); err != nil {
		cleanup()
		return "", []string{string(errb)}, nil, fmt.Errorf("%s failed: %w", name, err)
	}
	if _, err := os.Stat(out); err != nil {
		cleanup()
		return "", nil, nil, fmt.Errorf("HEIC conversion produced no output: %w", err)
	}

	if cached == "" {
		return out, nil, cleanup, nil
	}
	defer cleanup()
	if err := persist(out, cached); err != nil {
		// another worker may have written it first
		if st, statErr := os.Stat(cached); statErr == nil && !st.IsDir() {
			return cached, nil, nil, nil
		}
		return "", nil, nil, err
	}
	logger.Debug("ocr.heic.cached", "cache", cached)
	return cached, nil, nil, nil
}

// persist moves src to dst, copying when rename crosses devices.
func persist(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	tmp := dst + ".part"
	out, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, dst)
}
