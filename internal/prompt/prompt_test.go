package prompt

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/sqlpilot/sqlpilot/internal/index"
	"github.com/sqlpilot/sqlpilot/internal/retrieve"
	"github.com/sqlpilot/sqlpilot/internal/schema"
)

func retrievalContext() retrieve.Context {
	customers := schema.Fragment{
		Schema:  "public",
		Table:   "customers",
		Columns: []schema.Column{{Name: "id", Type: "bigint"}, {Name: "name", Type: "text"}},
	}
	example := schema.ExamplePair{
		ID:       "seed-001",
		Question: "How many customers are there?",
		SQL:      "SELECT COUNT(*) FROM customers LIMIT 200;",
	}
	return retrieve.Context{
		Fragments: []index.Match{{
			Document: schema.Document{ID: "fragment:public.customers", Kind: schema.KindFragment, Text: customers.Text(), Fragment: &customers},
			Score:    0.9,
		}},
		Examples: []index.Match{{
			Document: schema.Document{ID: "example:seed-001", Kind: schema.KindExample, Text: example.Question, Example: &example},
			Score:    0.8,
		}},
	}
}

func TestComposeBuildsEnvelope(t *testing.T) {
	composer := &Composer{MaxRows: 100}

	payload, err := composer.Compose("How many customers are there?", retrievalContext(), nil, false)
	if err != nil {
		t.Fatalf("Compose: %v", err)
	}
	if !strings.Contains(payload.System, "LIMIT clause; the default limit is 100") {
		t.Fatalf("system prompt missing limit: %s", payload.System)
	}
	if payload.FragmentCount != 1 || payload.ExampleCount != 1 {
		t.Fatalf("counts = %d fragments, %d examples", payload.FragmentCount, payload.ExampleCount)
	}

	var envelope struct {
		Schema []struct {
			Table string `json:"table"`
		} `json:"schema"`
		Examples []struct {
			SQL string `json:"sql"`
		} `json:"examples"`
		Question string `json:"question"`
	}
	if err := json.Unmarshal([]byte(payload.User), &envelope); err != nil {
		t.Fatalf("user payload not JSON: %v", err)
	}
	if len(envelope.Schema) != 1 || envelope.Schema[0].Table != "customers" {
		t.Fatalf("schema = %+v", envelope.Schema)
	}
	if len(envelope.Examples) != 1 || !strings.Contains(envelope.Examples[0].SQL, "COUNT(*)") {
		t.Fatalf("examples = %+v", envelope.Examples)
	}
	if envelope.Question != "How many customers are there?" {
		t.Fatalf("question = %q", envelope.Question)
	}
}

func TestComposeRejectsOverflowingContext(t *testing.T) {
	composer := &Composer{TokenBudget: 5}

	_, err := composer.Compose("How many customers are there?", retrievalContext(), nil, false)
	if !errors.Is(err, ErrContextOverflow) {
		t.Fatalf("err = %v, want ErrContextOverflow", err)
	}
}

func TestComposeAppendsUntranslatedNote(t *testing.T) {
	composer := &Composer{}

	payload, err := composer.Compose("고객이 몇 명인가요?", retrievalContext(), nil, true)
	if err != nil {
		t.Fatalf("Compose: %v", err)
	}
	if !strings.Contains(payload.System, untranslatedNote) {
		t.Fatal("untranslated note missing from system prompt")
	}
	if !payload.Untranslated {
		t.Fatal("untranslated flag not carried")
	}

	payload, err = composer.Compose("How many customers are there?", retrievalContext(), nil, false)
	if err != nil {
		t.Fatalf("Compose: %v", err)
	}
	if strings.Contains(payload.System, untranslatedNote) {
		t.Fatal("untranslated note present for a translated question")
	}
}

func TestComposeDropsBlankHistoryMessages(t *testing.T) {
	composer := &Composer{}
	history := []Message{
		{Role: "user", Content: "Top products?"},
		{Role: "assistant", Content: "   "},
		{Role: "assistant", Content: `{"sql": "SELECT 1;", "reasoning": "r"}`},
	}

	payload, err := composer.Compose("And by revenue?", retrievalContext(), history, false)
	if err != nil {
		t.Fatalf("Compose: %v", err)
	}
	if len(payload.History) != 2 {
		t.Fatalf("history = %d messages", len(payload.History))
	}
}

func TestComposeDefaultsMaxRows(t *testing.T) {
	composer := &Composer{}
	payload, err := composer.Compose("q", retrievalContext(), nil, false)
	if err != nil {
		t.Fatalf("Compose: %v", err)
	}
	if !strings.Contains(payload.System, "the default limit is 200") {
		t.Fatalf("system = %s", payload.System)
	}
}
