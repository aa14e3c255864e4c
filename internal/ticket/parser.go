// Package ticket turns the OCR transcription of a railway order screenshot
// into a Record.
//
// Each field has an ordered list of rules, strongest anchor first. Rules are
// pure functions over the normalized Views; the first rule that proposes a
// value for a field decides it, and later rules for that field are not run.
// Parsing never fails: text that matches nothing yields an empty Record.
package ticket

import (
	"fmt"
	"strings"
)

// TrainNumberPolicy decides what happens when the token between the two
// times on the schedule line does not look like a train number.
type TrainNumberPolicy int

const (
	// Conservative leaves TrainNumber empty rather than guess.
	Conservative TrainNumberPolicy = iota
	// Loose adopts the raw token, uppercased, as a best-effort value for the
	// user to correct.
	Loose
)

func (p TrainNumberPolicy) String() string {
	switch p {
	case Conservative:
		return "conservative"
	case Loose:
		return "loose"
	default:
		return fmt.Sprintf("TrainNumberPolicy(%d)", int(p))
	}
}

// ParsePolicy accepts "conservative" or "loose" (case-insensitive). The empty
// string selects Conservative.
func ParsePolicy(s string) (TrainNumberPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "conservative":
		return Conservative, nil
	case "loose":
		return Loose, nil
	default:
		return Conservative, fmt.Errorf("unknown train number policy %q", s)
	}
}

// Parser runs the rule cascade. A Parser is immutable and safe for
// concurrent use.
type Parser struct {
	policy TrainNumberPolicy
	rules  []rule
}

type Option func(*Parser)

// WithTrainNumberPolicy selects the train number policy; the default is
// Conservative.
func WithTrainNumberPolicy(p TrainNumberPolicy) Option {
	return func(ps *Parser) {
		ps.policy = p
	}
}

func NewParser(opts ...Option) *Parser {
	p := &Parser{policy: Conservative}
	for _, o := range opts {
		o(p)
	}
	p.rules = cascade(p.policy)
	return p
}

// Policy reports the parser's train number policy.
func (p *Parser) Policy() TrainNumberPolicy { return p.policy }

var defaultParser = NewParser()

// Parse extracts a Record with the Conservative policy.
func Parse(text string) Record {
	return defaultParser.Parse(text)
}

// Parse extracts a Record from text.
func (p *Parser) Parse(text string) Record {
	v := Normalize(text)
	var out Record
	for _, r := range p.rules {
		if !out.lacks(r.fields) {
			continue
		}
		out = out.fill(r.eval(v))
	}
	return out
}

func cascade(policy TrainNumberPolicy) []rule {
	rules := []rule{
		{name: "date/departure-anchor", fields: fieldDate, eval: dateAnchoredRule},
		{name: "date/ordinal", fields: fieldDate, eval: dateOrdinalRule},
		{name: "seat", fields: fieldSeat, eval: seatRule},
		{name: "stations/duration", fields: fieldStations, eval: durationRule},
		{name: "schedule-line", fields: fieldTime | fieldTrainNumber, eval: scheduleLineRule},
	}
	if policy == Loose {
		rules = append(rules, rule{name: "train/raw-token", fields: fieldTrainNumber, eval: rawNoiseRule})
	}
	return append(rules,
		rule{name: "time/ordinal", fields: fieldTime, eval: clockRule},
		rule{name: "stations/dash", fields: fieldStations, eval: dashRule},
		rule{name: "gate", fields: fieldGate, eval: gateRule},
	)
}

// Rules lists the rule names in evaluation order, for diagnostics.
func (p *Parser) Rules() []string {
	names := make([]string, len(p.rules))
	for i, r := range p.rules {
		names[i] = r.name
	}
	return names
}
