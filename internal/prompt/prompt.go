// Package prompt assembles the structured payload sent to the completion
// service: fixed instructions, serialized retrieval context, conversation
// history, and the user question.
package prompt

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/sqlpilot/sqlpilot/internal/retrieve"
	"github.com/sqlpilot/sqlpilot/internal/schema"
)

// ErrContextOverflow reports that the serialized retrieval context exceeds
// the configured token budget. The caller should retry with a smaller k.
var ErrContextOverflow = errors.New("prompt: retrieval context exceeds token budget")

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type Payload struct {
	System          string
	User            string
	History         []Message
	FragmentCount   int
	ExampleCount    int
	EstimatedTokens int
	Untranslated    bool
}

const systemTemplate = `You are an experienced data analyst and SQL expert.
Write only PostgreSQL-compatible SELECT statements.
DDL, DML, privilege changes, transaction control, and temporary tables are forbidden.
Always include a LIMIT clause; the default limit is %d.
Use only the tables and columns listed in the schema context below.
When a join is needed, prefer the listed foreign-key relationships; otherwise choose the most reasonable key.
Respond with a JSON object and nothing else, in exactly this form:
{"sql": "SELECT ... LIMIT %d;", "reasoning": "one or two sentences explaining the chosen tables, columns, and joins"}`

const untranslatedNote = "The question could not be translated to English; interpret it as written."

type Composer struct {
	// TokenBudget bounds the serialized retrieval context. Zero disables
	// the overflow check.
	TokenBudget int
	// MaxRows is the LIMIT the model is instructed to apply.
	MaxRows int
}

type contextEnvelope struct {
	Schema   []schema.Fragment `json:"schema"`
	Examples []examplePayload  `json:"examples,omitempty"`
	Question string            `json:"question"`
}

type examplePayload struct {
	Question string `json:"question"`
	SQL      string `json:"sql"`
}

func (c *Composer) Compose(question string, rc retrieve.Context, history []Message, untranslated bool) (Payload, error) {
	maxRows := c.MaxRows
	if maxRows <= 0 {
		maxRows = 200
	}

	envelope := contextEnvelope{
		Schema:   make([]schema.Fragment, 0, len(rc.Fragments)),
		Question: question,
	}
	for _, match := range rc.Fragments {
		if match.Document.Fragment != nil {
			envelope.Schema = append(envelope.Schema, *match.Document.Fragment)
		}
	}
	for _, match := range rc.Examples {
		if match.Document.Example != nil {
			envelope.Examples = append(envelope.Examples, examplePayload{
				Question: match.Document.Example.Question,
				SQL:      match.Document.Example.SQL,
			})
		}
	}

	serialized, err := json.Marshal(envelope)
	if err != nil {
		return Payload{}, fmt.Errorf("serialize retrieval context: %w", err)
	}

	estimated := retrieve.EstimateTokens(string(serialized))
	if c.TokenBudget > 0 && estimated > c.TokenBudget {
		return Payload{}, fmt.Errorf("%w: %d tokens estimated, budget %d", ErrContextOverflow, estimated, c.TokenBudget)
	}

	system := fmt.Sprintf(systemTemplate, maxRows, maxRows)
	if untranslated {
		system = system + "\n" + untranslatedNote
	}

	return Payload{
		System:          system,
		User:            string(serialized),
		History:         trimHistory(history),
		FragmentCount:   len(envelope.Schema),
		ExampleCount:    len(envelope.Examples),
		EstimatedTokens: estimated,
		Untranslated:    untranslated,
	}, nil
}

func trimHistory(history []Message) []Message {
	trimmed := make([]Message, 0, len(history))
	for _, message := range history {
		if strings.TrimSpace(message.Content) == "" {
			continue
		}
		trimmed = append(trimmed, message)
	}
	return trimmed
}
