package async

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/ticket-tracker/constants"
	"github.com/joseph-ayodele/ticket-tracker/internal/entity"
)

// Progress is the in-memory view of a job the queue has seen.
type Progress struct {
	JobID     uuid.UUID
	Status    constants.JobStatus
	Percent   int
	Stage     string
	Error     string
	TicketID  *uuid.UUID
	UpdatedAt time.Time
}

// Fraction is Percent in [0,1].
func (p Progress) Fraction() float64 { return float64(p.Percent) / 100 }

// ProgressTracker keeps the latest progress per job. Finished entries are
// dropped after the retention period, the database row stays authoritative.
type ProgressTracker struct {
	mu        sync.RWMutex
	jobs      map[uuid.UUID]Progress
	retention time.Duration
	now       func() time.Time
}

func NewProgressTracker(retention time.Duration) *ProgressTracker {
	if retention <= 0 {
		retention = 15 * time.Minute
	}
	return &ProgressTracker{jobs: map[uuid.UUID]Progress{}, retention: retention, now: time.Now}
}

func (t *ProgressTracker) set(id uuid.UUID, fn func(*Progress)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.jobs[id]
	if !ok {
		p = Progress{JobID: id}
	}
	fn(&p)
	p.UpdatedAt = t.now()
	t.jobs[id] = p
	t.pruneLocked()
}

func (t *ProgressTracker) Queue(id uuid.UUID) {
	t.set(id, func(p *Progress) {
		p.Status = constants.JobStatusQueued
	})
}

// Update records OCR progress. Percent never moves backwards.
func (t *ProgressTracker) Update(id uuid.UUID, percent int, stage string) {
	t.set(id, func(p *Progress) {
		p.Status = constants.JobStatusRunning
		if percent > 100 {
			percent = 100
		}
		if percent > p.Percent {
			p.Percent = percent
		}
		p.Stage = stage
	})
}

func (t *ProgressTracker) Done(id uuid.UUID, tk *entity.Ticket) {
	t.set(id, func(p *Progress) {
		p.Status = constants.JobStatusParsed
		p.Percent = 100
		p.Stage = "done"
		if tk != nil {
			tid := tk.ID
			p.TicketID = &tid
		}
	})
}

func (t *ProgressTracker) Fail(id uuid.UUID, err error) {
	t.set(id, func(p *Progress) {
		p.Status = constants.JobStatusFailed
		p.Stage = "failed"
		if err != nil {
			p.Error = err.Error()
		}
	})
}

func (t *ProgressTracker) Get(id uuid.UUID) (Progress, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	p, ok := t.jobs[id]
	return p, ok
}

func (t *ProgressTracker) pruneLocked() {
	cutoff := t.now().Add(-t.retention)
	for id, p := range t.jobs {
		if p.Status.Terminal() && p.UpdatedAt.Before(cutoff) {
			delete(t.jobs, id)
		}
	}
}
