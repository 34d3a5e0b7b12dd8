package synth

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sqlpilot/sqlpilot/internal/prompt"
)

func TestParseResult(t *testing.T) {
	cases := []struct {
		name    string
		raw     string
		wantSQL string
		wantErr bool
	}{
		{
			name:    "plain json",
			raw:     `{"sql": "SELECT COUNT(*) FROM customers LIMIT 200;", "reasoning": "count rows"}`,
			wantSQL: "SELECT COUNT(*) FROM customers LIMIT 200;",
		},
		{
			name:    "json fenced",
			raw:     "```json\n{\"sql\": \"SELECT 1 LIMIT 1;\", \"reasoning\": \"r\"}\n```",
			wantSQL: "SELECT 1 LIMIT 1;",
		},
		{
			name:    "bare fence",
			raw:     "```\n{\"sql\": \"SELECT 2 LIMIT 1;\", \"reasoning\": \"r\"}\n```",
			wantSQL: "SELECT 2 LIMIT 1;",
		},
		{
			name:    "surrounding whitespace",
			raw:     "\n  {\"sql\": \" SELECT 3 LIMIT 1; \", \"reasoning\": \" r \"}  \n",
			wantSQL: "SELECT 3 LIMIT 1;",
		},
		{name: "empty", raw: "", wantErr: true},
		{name: "prose instead of json", raw: "Sure! Here is your query: SELECT 1;", wantErr: true},
		{name: "missing sql field", raw: `{"reasoning": "r"}`, wantErr: true},
		{name: "missing reasoning field", raw: `{"sql": "SELECT 1;"}`, wantErr: true},
		{name: "blank sql", raw: `{"sql": "  ", "reasoning": "r"}`, wantErr: true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			result, err := parseResult(tc.raw)
			if tc.wantErr {
				if !errors.Is(err, ErrMalformedResponse) {
					t.Fatalf("err = %v, want ErrMalformedResponse", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseResult: %v", err)
			}
			if result.SQL != tc.wantSQL {
				t.Fatalf("sql = %q, want %q", result.SQL, tc.wantSQL)
			}
			if result.Reasoning == "" {
				t.Fatal("reasoning empty")
			}
		})
	}
}

func TestOpenAISynthesizeSendsMessagesInOrder(t *testing.T) {
	var gotBody struct {
		Model          string `json:"model"`
		Messages       []map[string]string
		ResponseFormat map[string]string `json:"response_format"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &gotBody)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices": [{"message": {"content": "{\"sql\": \"SELECT COUNT(*) FROM customers LIMIT 200;\", \"reasoning\": \"count customers\"}"}}]}`))
	}))
	defer srv.Close()

	synthesizer, err := NewOpenAISynthesizer(OpenAIConfig{BaseURL: srv.URL, APIKey: "sk-test", Model: "gpt-4o-mini"})
	if err != nil {
		t.Fatal(err)
	}

	payload := prompt.Payload{
		System: "system instructions",
		User:   `{"question": "How many customers are there?"}`,
		History: []prompt.Message{
			{Role: "user", Content: "earlier question"},
			{Role: "assistant", Content: `{"sql": "SELECT 1;", "reasoning": "r"}`},
		},
	}
	result, err := synthesizer.Synthesize(context.Background(), payload)
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if result.SQL != "SELECT COUNT(*) FROM customers LIMIT 200;" {
		t.Fatalf("sql = %q", result.SQL)
	}

	if gotBody.ResponseFormat["type"] != "json_object" {
		t.Fatalf("response_format = %v", gotBody.ResponseFormat)
	}
	if len(gotBody.Messages) != 4 {
		t.Fatalf("messages = %d", len(gotBody.Messages))
	}
	roles := []string{"system", "user", "assistant", "user"}
	for i, want := range roles {
		if gotBody.Messages[i]["role"] != want {
			t.Fatalf("messages[%d].role = %q, want %q", i, gotBody.Messages[i]["role"], want)
		}
	}
}

func TestOpenAISynthesizeMalformedCompletion(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"choices": [{"message": {"content": "not json at all"}}]}`))
	}))
	defer srv.Close()

	synthesizer, err := NewOpenAISynthesizer(OpenAIConfig{BaseURL: srv.URL, APIKey: "sk-test"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := synthesizer.Synthesize(context.Background(), prompt.Payload{System: "s", User: "u"}); !errors.Is(err, ErrMalformedResponse) {
		t.Fatalf("err = %v, want ErrMalformedResponse", err)
	}
}

func TestOpenAISynthesizeSurfacesAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error": {"message": "overloaded"}}`))
	}))
	defer srv.Close()

	synthesizer, err := NewOpenAISynthesizer(OpenAIConfig{BaseURL: srv.URL, APIKey: "sk-test"})
	if err != nil {
		t.Fatal(err)
	}
	_, err = synthesizer.Synthesize(context.Background(), prompt.Payload{System: "s", User: "u"})
	if err == nil {
		t.Fatal("expected error")
	}
	if errors.Is(err, ErrMalformedResponse) {
		t.Fatalf("service failure misreported as malformed response: %v", err)
	}
}
