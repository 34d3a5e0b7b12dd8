package api

import (
	"net/http"
	"strings"
	"time"
)

type conversationTurn struct {
	ID        string    `json:"id"`
	Question  string    `json:"question"`
	SQL       string    `json:"sql,omitempty"`
	Reasoning string    `json:"reasoning,omitempty"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

func handleConversation(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.History == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "HISTORY_NOT_CONFIGURED", "conversation history is not configured", false, nil)
		return
	}
	conversationID := strings.TrimSpace(r.PathValue("id"))
	if conversationID == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "CONVERSATION_ID_REQUIRED", "conversation id is required", false, nil)
		return
	}

	entries, err := deps.History.Conversation(r.Context(), conversationID)
	if err != nil {
		writeError(r.Context(), w, http.StatusInternalServerError, "HISTORY_ERROR", "failed to load conversation", true, nil)
		return
	}
	if len(entries) == 0 {
		writeError(r.Context(), w, http.StatusNotFound, "CONVERSATION_NOT_FOUND", "conversation has no turns", false, nil)
		return
	}

	turns := make([]conversationTurn, 0, len(entries))
	for _, entry := range entries {
		turns = append(turns, conversationTurn{
			ID:        entry.ID,
			Question:  entry.Question,
			SQL:       entry.SQL,
			Reasoning: entry.Reasoning,
			Status:    entry.Status,
			CreatedAt: entry.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"conversation_id": conversationID,
		"turns":           turns,
	})
}
