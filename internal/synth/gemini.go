package synth

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/sqlpilot/sqlpilot/internal/prompt"
)

type GeminiConfig struct {
	APIKey      string
	Model       string
	Temperature float64
}

// GeminiSynthesizer generates SQL with a Gemini chat model constrained to
// JSON output.
type GeminiSynthesizer struct {
	client      *genai.Client
	model       string
	temperature float32
}

func NewGeminiSynthesizer(ctx context.Context, cfg GeminiConfig) (*GeminiSynthesizer, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("api key is required")
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = "gemini-1.5-flash-latest"
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(strings.TrimSpace(cfg.APIKey)))
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return &GeminiSynthesizer{
		client:      client,
		model:       model,
		temperature: float32(cfg.Temperature),
	}, nil
}

func (s *GeminiSynthesizer) Close() error {
	return s.client.Close()
}

func (s *GeminiSynthesizer) Synthesize(ctx context.Context, payload prompt.Payload) (Result, error) {
	model := s.client.GenerativeModel(s.model)
	model.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(payload.System)},
	}
	temperature := s.temperature
	model.GenerationConfig = genai.GenerationConfig{
		Temperature:      &temperature,
		ResponseMIMEType: "application/json",
	}

	session := model.StartChat()
	for _, message := range payload.History {
		role := "user"
		if message.Role == "assistant" {
			role = "model"
		}
		session.History = append(session.History, &genai.Content{
			Role:  role,
			Parts: []genai.Part{genai.Text(message.Content)},
		})
	}

	resp, err := session.SendMessage(ctx, genai.Text(payload.User))
	if err != nil {
		return Result{}, fmt.Errorf("gemini completion failed: %w", err)
	}
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return Result{}, fmt.Errorf("%w: empty gemini response", ErrMalformedResponse)
	}

	var text strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if value, ok := part.(genai.Text); ok {
			text.WriteString(string(value))
		}
	}
	return parseResult(text.String())
}
