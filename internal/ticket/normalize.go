package ticket

import (
	"strings"
	"unicode"
)

// Views are the two normalized renderings of an OCR transcription that the
// rules match against.
type Views struct {
	// Lines holds the trimmed, non-empty lines in original order.
	Lines []string
	// Flat is the whole text with every whitespace rune removed.
	Flat string

	// compact mirrors Lines with inner whitespace removed as well.
	compact []string
}

// Normalize builds the views for raw. Any string is valid input.
func Normalize(raw string) Views {
	var v Views
	for _, ln := range strings.Split(raw, "\n") {
		ln = strings.TrimSpace(ln)
		if ln == "" {
			continue
		}
		v.Lines = append(v.Lines, ln)
		v.compact = append(v.compact, squeeze(ln))
	}
	v.Flat = squeeze(raw)
	return v
}

func squeeze(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) || r == '\ufeff' {
			return -1
		}
		return r
	}, s)
}
