package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/mealkit/internal/assistant"
)

type conversationView struct {
	ID           string             `json:"id"`
	Conversation *assistant.Manager `json:"conversation"`
}

type MessageRequest struct {
	Message string `json:"message"`
	// Wait holds the response until the reply arrives or the client goes
	// away.
	Wait bool `json:"wait"`
}

func handleCreateConversation(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, m := deps.Conversations.Create()
		writeJSON(w, http.StatusCreated, conversationView{ID: id, Conversation: m})
	}
}

func conversation(deps Deps, w http.ResponseWriter, r *http.Request) (string, *assistant.Manager, bool) {
	id := chi.URLParam(r, "id")
	m, ok := deps.Conversations.Get(id)
	if !ok {
		httpError(w, http.StatusNotFound, "not_found", "conversation not found")
	}
	return id, m, ok
}

func handleGetConversation(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, m, ok := conversation(deps, w, r)
		if !ok {
			return
		}
		writeJSON(w, http.StatusOK, conversationView{ID: id, Conversation: m})
	}
}

func handleDeleteConversation(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !deps.Conversations.Delete(chi.URLParam(r, "id")) {
			httpError(w, http.StatusNotFound, "not_found", "conversation not found")
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	}
}

func handleSendMessage(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, m, ok := conversation(deps, w, r)
		if !ok {
			return
		}

		var req MessageRequest
		if !decodeBody(w, r, maxRequestBodySize, &req) {
			return
		}

		err := m.SubmitErr(r.Context(), req.Message)
		if errors.Is(err, assistant.ErrBusy) {
			httpError(w, http.StatusConflict, "conflict_error", "A reply is already pending. Wait for it or cancel it first.")
			return
		}
		if err != nil {
			presentError(r.Context(), w, deps.Sanitizer, http.StatusBadRequest, err, "")
			return
		}

		if !req.Wait {
			writeJSON(w, http.StatusAccepted, conversationView{ID: id, Conversation: m})
			return
		}

		done := make(chan struct{})
		go func() {
			m.Wait()
			close(done)
		}()
		select {
		case <-done:
			writeJSON(w, http.StatusOK, conversationView{ID: id, Conversation: m})
		case <-r.Context().Done():
			// The reply still lands in the conversation.
		}
	}
}

func handleCancelConversation(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_, m, ok := conversation(deps, w, r)
		if !ok {
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"cancelled": m.Cancel()})
	}
}

func handleClearConversation(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_, m, ok := conversation(deps, w, r)
		if !ok {
			return
		}
		m.Clear()
		w.WriteHeader(http.StatusNoContent)
	}
}

// lastReply returns the newest settled assistant turn.
func lastReply(turns []assistant.Turn) (assistant.Turn, bool) {
	for i := len(turns) - 1; i >= 0; i-- {
		if turns[i].Role == assistant.RoleAssistant && !turns[i].Pending {
			return turns[i], true
		}
	}
	return assistant.Turn{}, false
}
