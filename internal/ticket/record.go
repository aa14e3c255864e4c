package ticket

import "time"

// Record is the structured travel information recovered from one OCR
// transcription. Every field is optional; the zero value means nothing was
// found.
type Record struct {
	TrainNumber      string `json:"trainNumber"`
	Date             string `json:"date"`
	Time             string `json:"time"`
	Seat             string `json:"seat"`
	DepartureStation string `json:"departureStation"`
	ArrivalStation   string `json:"arrivalStation"`
	TicketGate       string `json:"ticketGate"`
}

// field is a bit set naming Record fields a rule is responsible for.
type field uint8

const (
	fieldTrainNumber field = 1 << iota
	fieldDate
	fieldTime
	fieldSeat
	fieldDeparture
	fieldArrival
	fieldGate

	fieldStations = fieldDeparture | fieldArrival
)

// IsEmpty reports whether no field was recovered.
func (r Record) IsEmpty() bool {
	return r == Record{}
}

// Day parses Date, which may or may not be zero-padded (2026-2-19).
func (r Record) Day() (time.Time, bool) {
	if r.Date == "" {
		return time.Time{}, false
	}
	d, err := time.Parse("2006-1-2", r.Date)
	return d, err == nil
}

// Missing lists the JSON names of empty fields, in declaration order.
func (r Record) Missing() []string {
	var out []string
	for _, f := range []struct {
		name string
		v    string
	}{
		{"trainNumber", r.TrainNumber},
		{"date", r.Date},
		{"time", r.Time},
		{"seat", r.Seat},
		{"departureStation", r.DepartureStation},
		{"arrivalStation", r.ArrivalStation},
		{"ticketGate", r.TicketGate},
	} {
		if f.v == "" {
			out = append(out, f.name)
		}
	}
	return out
}

func (r Record) get(f field) string {
	switch f {
	case fieldTrainNumber:
		return r.TrainNumber
	case fieldDate:
		return r.Date
	case fieldTime:
		return r.Time
	case fieldSeat:
		return r.Seat
	case fieldDeparture:
		return r.DepartureStation
	case fieldArrival:
		return r.ArrivalStation
	case fieldGate:
		return r.TicketGate
	}
	return ""
}

// lacks reports whether any field in mask is still empty.
func (r Record) lacks(mask field) bool {
	for f := fieldTrainNumber; f <= fieldGate; f <<= 1 {
		if mask&f != 0 && r.get(f) == "" {
			return true
		}
	}
	return false
}

// fill returns r with its empty fields taken from src. Non-empty fields of r
// are never replaced.
func (r Record) fill(src Record) Record {
	if r.TrainNumber == "" {
		r.TrainNumber = src.TrainNumber
	}
	if r.Date == "" {
		r.Date = src.Date
	}
	if r.Time == "" {
		r.Time = src.Time
	}
	if r.Seat == "" {
		r.Seat = src.Seat
	}
	if r.DepartureStation == "" {
		r.DepartureStation = src.DepartureStation
	}
	if r.ArrivalStation == "" {
		r.ArrivalStation = src.ArrivalStation
	}
	if r.TicketGate == "" {
		r.TicketGate = src.TicketGate
	}
	return r
}
