package entity

import (
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/ticket-tracker/internal/ticket"
)

// Ticket is a stored extraction result. The embedded Record serializes inline
// with the camelCase field names clients already use.
type Ticket struct {
	ID    uuid.UUID  `json:"id"`
	JobID *uuid.UUID `json:"jobId,omitempty"`
	ticket.Record
	// Edited is set once a person has corrected any field.
	Edited    bool      `json:"edited"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// TravelDay is the zero-padded YYYY-MM-DD form of Date, or "" when Date is
// empty or malformed. It is what date filters compare against.
func (t *Ticket) TravelDay() string {
	d, ok := t.Record.Day()
	if !ok {
		return ""
	}
	return d.Format(time.DateOnly)
}
