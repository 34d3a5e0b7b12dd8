// Package synth invokes the completion service and parses its structured
// response into a candidate SQL statement plus rationale. It makes exactly
// one call per request and never judges SQL safety; that is the validator's
// job.
package synth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/sqlpilot/sqlpilot/internal/prompt"
)

// ErrMalformedResponse reports that the model output could not be parsed
// into the required {sql, reasoning} JSON object.
var ErrMalformedResponse = errors.New("synth: malformed model response")

type Result struct {
	SQL       string `json:"sql"`
	Reasoning string `json:"reasoning"`
}

type Synthesizer interface {
	Synthesize(ctx context.Context, payload prompt.Payload) (Result, error)
}

// parseResult treats model output as untrusted input: fences are stripped,
// the JSON is parsed strictly, and both required fields must be present.
func parseResult(raw string) (Result, error) {
	cleaned := stripMarkdownFences(raw)
	if cleaned == "" {
		return Result{}, fmt.Errorf("%w: empty completion", ErrMalformedResponse)
	}

	var result Result
	if err := json.Unmarshal([]byte(cleaned), &result); err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if strings.TrimSpace(result.SQL) == "" {
		return Result{}, fmt.Errorf("%w: missing sql field", ErrMalformedResponse)
	}
	if strings.TrimSpace(result.Reasoning) == "" {
		return Result{}, fmt.Errorf("%w: missing reasoning field", ErrMalformedResponse)
	}
	result.SQL = strings.TrimSpace(result.SQL)
	result.Reasoning = strings.TrimSpace(result.Reasoning)
	return result, nil
}

func stripMarkdownFences(value string) string {
	trimmed := strings.TrimSpace(value)
	if strings.HasPrefix(trimmed, "```") {
		trimmed = strings.TrimPrefix(trimmed, "```json")
		trimmed = strings.TrimPrefix(trimmed, "```")
		trimmed = strings.TrimSuffix(trimmed, "```")
		return strings.TrimSpace(trimmed)
	}
	return trimmed
}
