package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/joyhealth/joy/internal/chat"
	"github.com/joyhealth/joy/internal/config"
	"github.com/joyhealth/joy/internal/log"
)

// historyHandler serves conversation listings, the model catalog, document
// versions, and suggestions.
type historyHandler struct {
	cfg    *config.Config
	store  *chat.Store
	logger log.Logger
}

// listChats returns the caller's conversations, newest first.
func (h *historyHandler) listChats(w http.ResponseWriter, r *http.Request) {
	identity, ok := identityFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "identity required")
		return
	}

	chats, err := h.store.ListChats(r.Context(), identity.UserID)
	if err != nil {
		h.logger.Error("listing conversations", "error", err)
		writeError(w, http.StatusInternalServerError, "list_failed", "failed to list conversations")
		return
	}

	type chatEntry struct {
		ID        string    `json:"id"`
		Title     string    `json:"title"`
		CreatedAt time.Time `json:"createdAt"`
	}
	out := make([]chatEntry, 0, len(chats))
	for _, c := range chats {
		out = append(out, chatEntry{ID: c.ID.String(), Title: c.Title, CreatedAt: c.CreatedAt})
	}
	writeJSON(w, http.StatusOK, out)
}

// listModels returns the public model catalog.
func (h *historyHandler) listModels(w http.ResponseWriter, _ *http.Request) {
	type modelEntry struct {
		ID    string `json:"id"`
		Label string `json:"label"`
	}
	out := make([]modelEntry, 0, len(h.cfg.Models))
	for _, m := range h.cfg.Models {
		out = append(out, modelEntry{ID: m.ID, Label: m.Label})
	}
	writeJSON(w, http.StatusOK, out)
}

// getDocument returns every version of a document the caller owns.
func (h *historyHandler) getDocument(w http.ResponseWriter, r *http.Request) {
	identity, ok := identityFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "identity required")
		return
	}

	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_id", "invalid document id")
		return
	}

	docs, err := h.store.GetDocumentContents(r.Context(), id)
	if err != nil {
		h.logger.Error("loading document versions", "document_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "get_failed", "failed to load document")
		return
	}
	if len(docs) == 0 {
		writeError(w, http.StatusNotFound, "not_found", "document not found")
		return
	}
	if docs[0].UserID != identity.UserID {
		writeError(w, http.StatusUnauthorized, "unauthorized", "document belongs to another user")
		return
	}

	type docEntry struct {
		ID        string    `json:"id"`
		CreatedAt time.Time `json:"createdAt"`
		Title     string    `json:"title"`
		Kind      string    `json:"kind"`
		Content   string    `json:"content"`
	}
	out := make([]docEntry, 0, len(docs))
	for _, d := range docs {
		out = append(out, docEntry{
			ID:        d.ID.String(),
			CreatedAt: d.CreatedAt,
			Title:     d.Title,
			Kind:      d.Kind,
			Content:   d.Content,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// listSuggestions returns the suggestions recorded for a document.
func (h *historyHandler) listSuggestions(w http.ResponseWriter, r *http.Request) {
	identity, ok := identityFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "identity required")
		return
	}

	id, err := uuid.Parse(r.URL.Query().Get("documentId"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_id", "invalid document id")
		return
	}

	suggestions, err := h.store.GetSuggestions(r.Context(), id)
	if err != nil {
		h.logger.Error("loading suggestions", "document_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "get_failed", "failed to load suggestions")
		return
	}
	if len(suggestions) > 0 && suggestions[0].UserID != identity.UserID {
		writeError(w, http.StatusUnauthorized, "unauthorized", "suggestions belong to another user")
		return
	}

	type suggestionEntry struct {
		ID            string `json:"id"`
		DocumentID    string `json:"documentId"`
		OriginalText  string `json:"originalText"`
		SuggestedText string `json:"suggestedText"`
		Description   string `json:"description"`
		IsResolved    bool   `json:"isResolved"`
	}
	out := make([]suggestionEntry, 0, len(suggestions))
	for _, s := range suggestions {
		out = append(out, suggestionEntry{
			ID:            s.ID.String(),
			DocumentID:    s.DocumentID.String(),
			OriginalText:  s.OriginalText,
			SuggestedText: s.SuggestedText,
			Description:   s.Description,
			IsResolved:    s.IsResolved,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// decodeJSONBody decodes a size-limited JSON request body.
func decodeJSONBody(w http.ResponseWriter, r *http.Request, limit int64, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return fmt.Errorf("request body exceeds %d bytes: %w", limit, err)
		}
		return fmt.Errorf("decoding request body: %w", err)
	}
	return nil
}
