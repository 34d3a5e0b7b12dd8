package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/sqlpilot/sqlpilot/internal/pipeline"
)

type askRequest struct {
	Question       string `json:"question"`
	Language       string `json:"language"`
	ConversationID string `json:"conversation_id"`
	MaxRows        int    `json:"max_rows"`
	TopK           int    `json:"top_k"`
}

type askResponse struct {
	Status         string              `json:"status"`
	ConversationID string              `json:"conversation_id,omitempty"`
	Question       string              `json:"question"`
	SQL            string              `json:"sql,omitempty"`
	Reasoning      string              `json:"reasoning,omitempty"`
	Columns        []string            `json:"columns,omitempty"`
	Rows           [][]any             `json:"rows,omitempty"`
	RowCount       int                 `json:"row_count"`
	Truncated      bool                `json:"truncated"`
	Untranslated   bool                `json:"untranslated,omitempty"`
	Rejection      *pipeline.Rejection `json:"rejection,omitempty"`
	DurationMs     int64               `json:"duration_ms"`
}

func handleAsk(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Pipeline == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "ASK_NOT_CONFIGURED", "ask pipeline is not configured", false, nil)
		return
	}

	var request askRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&request); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid ask request body", false, map[string]any{"details": err.Error()})
		return
	}
	if strings.TrimSpace(request.Question) == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "QUESTION_REQUIRED", "question is required", false, nil)
		return
	}

	conversationID := strings.TrimSpace(request.ConversationID)
	if conversationID == "" {
		conversationID = uuid.NewString()
	}

	outcome, err := deps.Pipeline.Ask(r.Context(), pipeline.Request{
		Question:       request.Question,
		Language:       request.Language,
		ConversationID: conversationID,
		MaxRows:        request.MaxRows,
		TopK:           request.TopK,
	})
	if err != nil {
		if errors.Is(err, pipeline.ErrEmptyQuestion) {
			writeError(r.Context(), w, http.StatusBadRequest, "QUESTION_REQUIRED", "question is required", false, nil)
			return
		}
		writeError(r.Context(), w, http.StatusInternalServerError, "ASK_FAILED", "ask pipeline failed", true, nil)
		return
	}

	switch outcome.Status {
	case pipeline.StatusErrored:
		writeErroredOutcome(deps, w, r, outcome)
	case pipeline.StatusTimedOut:
		writeJSON(w, http.StatusGatewayTimeout, buildAskResponse(conversationID, outcome))
	case pipeline.StatusRejected:
		writeJSON(w, http.StatusUnprocessableEntity, buildAskResponse(conversationID, outcome))
	default:
		writeJSON(w, http.StatusOK, buildAskResponse(conversationID, outcome))
	}
}

func buildAskResponse(conversationID string, outcome pipeline.Outcome) askResponse {
	return askResponse{
		Status:         string(outcome.Status),
		ConversationID: conversationID,
		Question:       outcome.Question,
		SQL:            outcome.SQL,
		Reasoning:      outcome.Reasoning,
		Columns:        outcome.Columns,
		Rows:           outcome.Rows,
		RowCount:       outcome.RowCount,
		Truncated:      outcome.Truncated,
		Untranslated:   outcome.Untranslated,
		Rejection:      outcome.Rejection,
		DurationMs:     outcome.Duration.Milliseconds(),
	}
}

// writeErroredOutcome maps pipeline failure kinds onto the error envelope.
// Upstream service failures are retryable; everything else is not.
func writeErroredOutcome(_ Dependencies, w http.ResponseWriter, r *http.Request, outcome pipeline.Outcome) {
	kind, detail := "", ""
	if outcome.Failure != nil {
		kind, detail = outcome.Failure.Kind, outcome.Failure.Detail
	}
	switch kind {
	case pipeline.FailureContextOverflow:
		writeError(r.Context(), w, http.StatusUnprocessableEntity, "CONTEXT_OVERFLOW", detail, false, nil)
	case pipeline.FailureDatabase:
		writeError(r.Context(), w, http.StatusBadRequest, "DATABASE_ERROR", detail, false, nil)
	case pipeline.FailureMalformedResponse:
		writeError(r.Context(), w, http.StatusBadGateway, "MALFORMED_MODEL_RESPONSE", detail, true, nil)
	case pipeline.FailureRetrieval:
		writeError(r.Context(), w, http.StatusBadGateway, "RETRIEVAL_FAILED", detail, true, nil)
	default:
		writeError(r.Context(), w, http.StatusBadGateway, "SYNTHESIS_FAILED", detail, true, nil)
	}
}
