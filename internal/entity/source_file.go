package entity

import (
	"time"

	"github.com/google/uuid"
)

// SourceFile represents an ingested screenshot (or text dump) for data transfer between layers.
type SourceFile struct {
	ID          uuid.UUID `json:"id"`
	SourcePath  string    `json:"source_path"`
	ContentHash string    `json:"content_hash"` // hex sha256
	Filename    string    `json:"filename"`
	FileExt     string    `json:"file_ext"`
	FileSize    int64     `json:"file_size"`
	UploadedAt  time.Time `json:"uploaded_at"`
}
