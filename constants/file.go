package constants

import "strings"

// Input formats recorded on extract_job.format.
const (
	FormatImage = "IMAGE"
	FormatText  = "TXT"
)

// AllowedExtensions holds the file extensions accepted for ticket ingestion.
// Plain text is accepted so a transcription produced elsewhere can be parsed
// without running OCR.
var AllowedExtensions = map[string]struct{}{
	"png":  {},
	"jpg":  {},
	"jpeg": {},
	"heic": {},
	"heif": {},
	"webp": {},
	"bmp":  {},
	"txt":  {},
}

// NormalizeExt lowercases and trims the dot from a file extension.
func NormalizeExt(ext string) string {
	return strings.ToLower(strings.TrimPrefix(ext, "."))
}

// IsAllowedExt reports whether ext (with or without the dot) can be ingested.
func IsAllowedExt(ext string) bool {
	_, ok := AllowedExtensions[NormalizeExt(ext)]
	return ok
}

// MapExtToFormat maps an extension to its extract_job format, or "" when the
// extension is not accepted.
func MapExtToFormat(ext string) string {
	switch e := NormalizeExt(ext); {
	case e == "txt":
		return FormatText
	case IsAllowedExt(e):
		return FormatImage
	default:
		return ""
	}
}

// IsHEICExt reports whether the image must be converted before tesseract
// can read it.
func IsHEICExt(ext string) bool {
	e := NormalizeExt(ext)
	return e == "heic" || e == "heif"
}
