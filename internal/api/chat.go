package api

import (
	"errors"
	"net/http"

	"github.com/firebase/genkit/go/ai"
	"github.com/google/uuid"

	"github.com/joyhealth/joy/internal/chat"
	"github.com/joyhealth/joy/internal/log"
	"github.com/joyhealth/joy/internal/stream"
	"github.com/joyhealth/joy/internal/turn"
)

const maxTurnBodyBytes = 1 << 20 // 1 MB

// chatHandler serves the turn endpoint and conversation deletion.
type chatHandler struct {
	controller *turn.Controller
	store      *chat.Store
	logger     log.Logger
}

// wireMessage is one conversation entry as submitted by the client.
type wireMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// turnRequest is the body of POST /api/v1/chat.
type turnRequest struct {
	ID       string        `json:"id"`
	ModelID  string        `json:"modelId"`
	Messages []wireMessage `json:"messages"`
}

// send runs one conversation turn and streams its events.
func (h *chatHandler) send(w http.ResponseWriter, r *http.Request) {
	identity, ok := identityFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "identity required")
		return
	}

	var body turnRequest
	if err := decodeJSONBody(w, r, maxTurnBodyBytes, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "invalid request body")
		return
	}

	chatID, err := uuid.Parse(body.ID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_id", "invalid conversation id")
		return
	}

	sink, err := stream.NewSSESink(r.Context(), w)
	if err != nil {
		h.logger.Error("response writer does not support streaming")
		writeError(w, http.StatusInternalServerError, "streaming_unsupported", "streaming not supported")
		return
	}

	req := &turn.Request{
		ChatID:   chatID,
		ModelID:  body.ModelID,
		Messages: toModelMessages(body.Messages),
		Identity: identity,
	}

	if err := h.controller.Run(r.Context(), req, sink); err != nil {
		if sink.Started() {
			// Headers are gone; the stream just ends early.
			h.logger.Error("turn failed mid-stream", "chat_id", chatID, "error", err)
			return
		}
		h.writeTurnError(w, chatID, err)
	}
}

// writeTurnError maps pre-stream turn failures to HTTP statuses.
func (h *chatHandler) writeTurnError(w http.ResponseWriter, chatID uuid.UUID, err error) {
	switch {
	case errors.Is(err, turn.ErrModelNotFound):
		writeError(w, http.StatusNotFound, "model_not_found", "model not found")
	case errors.Is(err, turn.ErrNoUserMessage):
		writeError(w, http.StatusBadRequest, "no_user_message", "no user message found")
	case errors.Is(err, chat.ErrForbidden):
		writeError(w, http.StatusUnauthorized, "unauthorized", "conversation belongs to another user")
	default:
		h.logger.Error("turn failed", "chat_id", chatID, "error", err)
		writeError(w, http.StatusInternalServerError, "turn_failed", "an error occurred while processing your request")
	}
}

// remove deletes a conversation and everything hanging off it.
func (h *chatHandler) remove(w http.ResponseWriter, r *http.Request) {
	rawID := r.URL.Query().Get("id")
	if rawID == "" {
		writeError(w, http.StatusNotFound, "not_found", "conversation id required")
		return
	}

	identity, ok := identityFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "identity required")
		return
	}

	chatID, err := uuid.Parse(rawID)
	if err != nil {
		writeError(w, http.StatusNotFound, "not_found", "invalid conversation id")
		return
	}

	if err := h.store.DeleteOwned(r.Context(), chatID, identity.UserID); err != nil {
		switch {
		case errors.Is(err, chat.ErrForbidden):
			writeError(w, http.StatusUnauthorized, "unauthorized", "conversation belongs to another user")
		default:
			h.logger.Error("deleting conversation", "chat_id", chatID, "error", err)
			writeError(w, http.StatusInternalServerError, "delete_failed", "an error occurred while processing your request")
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// toModelMessages converts wire messages to the model-native form.
// Unknown roles pass through untouched so history round-trips.
func toModelMessages(wire []wireMessage) []*ai.Message {
	messages := make([]*ai.Message, 0, len(wire))
	for _, m := range wire {
		role := ai.Role(m.Role)
		if m.Role == "assistant" {
			role = ai.RoleModel
		}
		messages = append(messages, &ai.Message{
			Role:    role,
			Content: []*ai.Part{ai.NewTextPart(m.Content)},
		})
	}
	return messages
}
