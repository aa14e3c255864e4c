package constants

// JobStatus is the canonical status for rows in extract_job.
type JobStatus string

// Stable values (store these exact strings in DB).
const (
	JobStatusQueued  JobStatus = "QUEUED"  // accepted, waiting for a worker
	JobStatusRunning JobStatus = "RUNNING" // in progress
	JobStatusOCROK   JobStatus = "OCR_OK"  // stage 1 completed (text extracted)
	JobStatusParsed  JobStatus = "PARSED"  // stage 2 completed (ticket stored)
	JobStatusFailed  JobStatus = "FAILED"  // terminal failure
)

// Terminal reports whether no further transitions are expected.
func (s JobStatus) Terminal() bool {
	return s == JobStatusParsed || s == JobStatusFailed
}

// JobSource records how an input reached the pipeline.
type JobSource string

const (
	SourceUpload JobSource = "UPLOAD" // HTTP or gRPC upload
	SourceWatch  JobSource = "WATCH"  // directory watcher
	SourceText   JobSource = "TEXT"   // raw text submitted for parsing
	SourceCLI    JobSource = "CLI"    // batch run from the command line
)
