// Package pipeline orchestrates one question through normalization,
// retrieval, prompt composition, synthesis, validation, and execution.
// The pass is single-shot: no stage retries with a different prompt or a
// relaxed rule, and every outcome is terminal.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sqlpilot/sqlpilot/internal/execute"
	"github.com/sqlpilot/sqlpilot/internal/history"
	"github.com/sqlpilot/sqlpilot/internal/observability"
	"github.com/sqlpilot/sqlpilot/internal/prompt"
	"github.com/sqlpilot/sqlpilot/internal/retrieve"
	"github.com/sqlpilot/sqlpilot/internal/safety"
	"github.com/sqlpilot/sqlpilot/internal/synth"
	"github.com/sqlpilot/sqlpilot/internal/translate"
)

type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusRejected  Status = "rejected"
	StatusTimedOut  Status = "timed_out"
	StatusErrored   Status = "errored"
)

// Failure kinds for errored outcomes.
const (
	FailureRetrieval         = "RetrievalFailed"
	FailureContextOverflow   = "ContextOverflow"
	FailureSynthesis         = "SynthesisFailed"
	FailureMalformedResponse = "MalformedResponse"
	FailureDatabase          = "DatabaseError"
)

var ErrEmptyQuestion = errors.New("pipeline: question is empty")

type Request struct {
	Question       string
	Language       string
	ConversationID string
	MaxRows        int
	TopK           int
}

type Rejection struct {
	Rule   string `json:"rule"`
	Detail string `json:"detail"`
}

type Failure struct {
	Kind   string `json:"kind"`
	Detail string `json:"detail"`
}

type Outcome struct {
	Status       Status
	Question     string
	SQL          string
	Reasoning    string
	Columns      []string
	Rows         [][]any
	RowCount     int
	Truncated    bool
	Untranslated bool
	Rejection    *Rejection
	Failure      *Failure
	Duration     time.Duration
}

// Executor abstracts statement execution so the pipeline can be tested
// without a database.
type Executor interface {
	Execute(ctx context.Context, req execute.Request) (execute.Result, error)
}

type Service struct {
	Translator  translate.Translator
	Retriever   *retrieve.Retriever
	Composer    *prompt.Composer
	Synthesizer synth.Synthesizer
	Validator   *safety.Validator
	Executor    Executor
	History     history.Store
	// HistoryTurns bounds how many prior turns feed the prompt.
	HistoryTurns int
	MaxRows      int
	ExecTimeout  time.Duration
	Logger       *slog.Logger
}

func (s *Service) Ask(ctx context.Context, req Request) (Outcome, error) {
	question := strings.TrimSpace(req.Question)
	if question == "" {
		return Outcome{}, ErrEmptyQuestion
	}
	started := time.Now()

	normalized := s.Translator.Normalize(ctx, question, req.Language)
	if normalized.Degraded {
		observability.IncrementTranslationDegraded()
		s.logger().WarnContext(ctx, "translation_degraded",
			slog.String("conversation_id", req.ConversationID))
	}

	outcome := Outcome{
		Question:     normalized.Text,
		Untranslated: normalized.Degraded,
	}

	retrieved, err := s.Retriever.Retrieve(ctx, normalized.Text, req.TopK)
	if err != nil {
		return s.finish(ctx, req, erroredOutcome(outcome, FailureRetrieval, "retrieval failed"), started, err)
	}

	payload, err := s.Composer.Compose(normalized.Text, retrieved, s.promptHistory(ctx, req.ConversationID), normalized.Degraded)
	if err != nil {
		if errors.Is(err, prompt.ErrContextOverflow) {
			return s.finish(ctx, req, erroredOutcome(outcome, FailureContextOverflow, "retrieval context exceeds the prompt budget"), started, err)
		}
		return s.finish(ctx, req, erroredOutcome(outcome, FailureSynthesis, "prompt composition failed"), started, err)
	}

	synthStarted := time.Now()
	candidate, err := s.Synthesizer.Synthesize(ctx, payload)
	observability.ObserveSynthesisLatency(time.Since(synthStarted))
	if err != nil {
		if errors.Is(err, synth.ErrMalformedResponse) {
			return s.finish(ctx, req, erroredOutcome(outcome, FailureMalformedResponse, "model response was not the required JSON object"), started, err)
		}
		return s.finish(ctx, req, erroredOutcome(outcome, FailureSynthesis, "completion service call failed"), started, err)
	}
	outcome.SQL = candidate.SQL
	outcome.Reasoning = candidate.Reasoning

	if violation := s.Validator.Validate(candidate.SQL); violation != nil {
		observability.ObserveRejection(string(violation.Rule))
		outcome.Status = StatusRejected
		outcome.Rejection = &Rejection{Rule: string(violation.Rule), Detail: violation.Detail}
		return s.finish(ctx, req, outcome, started, nil)
	}

	execStarted := time.Now()
	result, err := s.Executor.Execute(ctx, execute.Request{
		SQL:     candidate.SQL,
		MaxRows: firstPositive(req.MaxRows, s.MaxRows),
		Timeout: s.ExecTimeout,
	})
	observability.ObserveExecutionLatency(time.Since(execStarted))
	if err != nil {
		if errors.Is(err, execute.ErrTimeout) {
			outcome.Status = StatusTimedOut
			return s.finish(ctx, req, outcome, started, nil)
		}
		detail := "query execution failed"
		var queryErr *execute.QueryError
		if errors.As(err, &queryErr) {
			detail = queryErr.Reason
		}
		return s.finish(ctx, req, erroredOutcome(outcome, FailureDatabase, detail), started, err)
	}

	outcome.Status = StatusSucceeded
	outcome.Columns = result.Columns
	outcome.Rows = result.Rows
	outcome.RowCount = len(result.Rows)
	outcome.Truncated = result.Truncated
	if result.Truncated {
		observability.IncrementResultTruncated()
	}
	return s.finish(ctx, req, outcome, started, nil)
}

// promptHistory loads prior turns and renders them as chat messages. A
// history failure degrades to an empty history, never a failed request.
func (s *Service) promptHistory(ctx context.Context, conversationID string) []prompt.Message {
	if s.History == nil || conversationID == "" {
		return nil
	}
	turns := s.HistoryTurns
	if turns <= 0 {
		turns = 10
	}
	entries, err := s.History.Recent(ctx, conversationID, turns)
	if err != nil {
		s.logger().WarnContext(ctx, "history_load_failed", slog.String("error", err.Error()))
		return nil
	}

	messages := make([]prompt.Message, 0, len(entries)*2)
	for _, entry := range entries {
		messages = append(messages, prompt.Message{Role: "user", Content: entry.Question})
		if entry.SQL != "" {
			messages = append(messages, prompt.Message{
				Role:    "assistant",
				Content: fmt.Sprintf(`{"sql": %q, "reasoning": %q}`, entry.SQL, entry.Reasoning),
			})
		}
	}
	return messages
}

func (s *Service) finish(ctx context.Context, req Request, outcome Outcome, started time.Time, cause error) (Outcome, error) {
	outcome.Duration = time.Since(started)
	observability.ObserveAskOutcome(string(outcome.Status))

	logger := s.logger()
	attrs := []any{
		slog.String("status", string(outcome.Status)),
		slog.String("conversation_id", req.ConversationID),
		slog.Int("rows", outcome.RowCount),
		slog.String("duration", outcome.Duration.String()),
	}
	if outcome.Rejection != nil {
		attrs = append(attrs, slog.String("rejection_rule", outcome.Rejection.Rule))
	}
	if cause != nil {
		attrs = append(attrs, slog.String("error", cause.Error()))
		logger.ErrorContext(ctx, "ask_finished", attrs...)
	} else {
		logger.InfoContext(ctx, "ask_finished", attrs...)
	}

	s.appendHistory(ctx, req, outcome)
	return outcome, nil
}

func (s *Service) appendHistory(ctx context.Context, req Request, outcome Outcome) {
	if s.History == nil || req.ConversationID == "" {
		return
	}
	err := s.History.Append(ctx, history.Entry{
		ConversationID: req.ConversationID,
		Question:       outcome.Question,
		SQL:            outcome.SQL,
		Reasoning:      outcome.Reasoning,
		Status:         string(outcome.Status),
	})
	if err != nil {
		s.logger().WarnContext(ctx, "history_append_failed", slog.String("error", err.Error()))
	}
}

func (s *Service) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

func erroredOutcome(outcome Outcome, kind, detail string) Outcome {
	outcome.Status = StatusErrored
	outcome.Failure = &Failure{Kind: kind, Detail: detail}
	return outcome
}

func firstPositive(values ...int) int {
	if len(values) == 0 {
		return 0
	}
	for _, value := range values {
		if value > 0 {
			return value
		}
	}
	return 0
}
