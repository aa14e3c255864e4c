// Package correction validates and applies manual edits to stored tickets.
// Extraction output itself is never rejected; only what a person types in
// is held to the shapes below.
package correction

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/joseph-ayodele/ticket-tracker/internal/common"
	"github.com/joseph-ayodele/ticket-tracker/internal/entity"
	"github.com/joseph-ayodele/ticket-tracker/internal/ticket"
)

// Patch holds the fields a correction sets. Nil fields are left unchanged;
// an empty string clears the field.
type Patch struct {
	TrainNumber      *string `json:"trainNumber,omitempty"`
	Date             *string `json:"date,omitempty"`
	Time             *string `json:"time,omitempty"`
	Seat             *string `json:"seat,omitempty"`
	DepartureStation *string `json:"departureStation,omitempty"`
	ArrivalStation   *string `json:"arrivalStation,omitempty"`
	TicketGate       *string `json:"ticketGate,omitempty"`
}

// IsEmpty reports whether the patch sets nothing.
func (p Patch) IsEmpty() bool { return p == Patch{} }

// DecodePatch parses a JSON correction document, tidies it, and validates it.
// Unknown fields are rejected.
func DecodePatch(raw []byte) (Patch, error) {
	var p Patch
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&p); err != nil {
		return Patch{}, common.NewAppError("VALIDATION_ERROR", "correction must be a JSON object of ticket fields", common.ErrValidation)
	}
	p = p.tidy()
	if err := validate(p); err != nil {
		return Patch{}, err
	}
	return p, nil
}

// tidy trims whitespace and uppercases the fields people tend to type in
// lower case.
func (p Patch) tidy() Patch {
	clean := func(s *string, upper bool) *string {
		if s == nil {
			return nil
		}
		v := strings.TrimSpace(*s)
		if upper {
			v = strings.ToUpper(v)
		}
		return &v
	}
	return Patch{
		TrainNumber:      clean(p.TrainNumber, true),
		Date:             clean(p.Date, false),
		Time:             clean(p.Time, false),
		Seat:             clean(p.Seat, false),
		DepartureStation: clean(p.DepartureStation, false),
		ArrivalStation:   clean(p.ArrivalStation, false),
		TicketGate:       clean(p.TicketGate, true),
	}
}

// ValidateCorrection checks a full record typed in by a person.
func ValidateCorrection(rec ticket.Record) error {
	return validate(rec)
}

func validate(doc any) error {
	schema, err := correctionSchema()
	if err != nil {
		return fmt.Errorf("correction schema: %w", err)
	}
	b, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	err = schema.Validate(v)
	if err == nil {
		return nil
	}
	var ve *jsonschema.ValidationError
	if !errors.As(err, &ve) {
		return err
	}
	vr := common.NewValidator()
	for _, leaf := range leaves(ve) {
		field := strings.TrimPrefix(leaf.InstanceLocation, "/")
		vr.Field(field, fieldValue(v, field), func(name string, value interface{}) *common.ValidationError {
			return &common.ValidationError{Field: name, Value: value, Message: leaf.Message}
		})
	}
	if !vr.HasErrors() {
		return common.NewAppError("VALIDATION_ERROR", ve.Error(), common.ErrValidation)
	}
	return vr.Error()
}

func leaves(ve *jsonschema.ValidationError) []*jsonschema.ValidationError {
	if len(ve.Causes) == 0 {
		return []*jsonschema.ValidationError{ve}
	}
	var out []*jsonschema.ValidationError
	for _, c := range ve.Causes {
		out = append(out, leaves(c)...)
	}
	return out
}

func fieldValue(doc any, field string) any {
	if m, ok := doc.(map[string]any); ok {
		return m[field]
	}
	return nil
}

// Apply writes p onto t. It returns whether any value changed; a change marks
// the ticket as Edited.
func Apply(t *entity.Ticket, p Patch) bool {
	changed := false
	set := func(dst *string, v *string) {
		if v != nil && *dst != *v {
			*dst = *v
			changed = true
		}
	}
	set(&t.TrainNumber, p.TrainNumber)
	set(&t.Date, p.Date)
	set(&t.Time, p.Time)
	set(&t.Seat, p.Seat)
	set(&t.DepartureStation, p.DepartureStation)
	set(&t.ArrivalStation, p.ArrivalStation)
	set(&t.TicketGate, p.TicketGate)
	if changed {
		t.Edited = true
	}
	return changed
}
