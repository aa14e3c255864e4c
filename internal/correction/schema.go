package correction

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// BuildCorrectionSchema returns the JSON Schema a human correction must
// satisfy. Every field may be empty so a wrong value can be cleared.
func BuildCorrectionSchema() map[string]any {
	props := map[string]any{
		"trainNumber":      optionalPattern(`^[A-Z]?\d{1,5}$`, 6),
		"date":             optionalPattern(`^20\d{2}-\d{1,2}-\d{1,2}$`, 10),
		"time":             optionalPattern(`^([01]\d|2[0-3]):[0-5]\d$`, 5),
		"seat":             map[string]any{"type": "string", "maxLength": 200},
		"departureStation": map[string]any{"type": "string", "maxLength": 32},
		"arrivalStation":   map[string]any{"type": "string", "maxLength": 32},
		"ticketGate":       optionalPattern(`^[A-Z0-9]+$`, 8),
	}
	return map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties":           props,
	}
}

// optionalPattern matches pattern or the empty string.
func optionalPattern(pattern string, maxLen int) map[string]any {
	body := strings.TrimSuffix(strings.TrimPrefix(pattern, "^"), "$")
	return map[string]any{
		"type":      "string",
		"maxLength": maxLen,
		"pattern":   "^(" + body + ")?$",
	}
}

var (
	compileOnce sync.Once
	compiled    *jsonschema.Schema
	compileErr  error
)

func correctionSchema() (*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		b, err := json.Marshal(BuildCorrectionSchema())
		if err != nil {
			compileErr = fmt.Errorf("marshal schema: %w", err)
			return
		}
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("correction.json", bytes.NewReader(b)); err != nil {
			compileErr = fmt.Errorf("add schema: %w", err)
			return
		}
		compiled, compileErr = compiler.Compile("correction.json")
	})
	return compiled, compileErr
}
