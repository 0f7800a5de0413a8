package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joyhealth/joy/internal/chat"
	"github.com/joyhealth/joy/internal/log"
	"github.com/joyhealth/joy/internal/turn"
)

func authedRequest(method, target, body string) *http.Request {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	}
	identity := turn.Identity{UserID: uuid.New(), Email: "jane@example.com"}
	return req.WithContext(context.WithValue(req.Context(), ctxKeyIdentity, identity))
}

func TestChatSend_RequiresIdentity(t *testing.T) {
	t.Parallel()

	h := &chatHandler{logger: log.NewNop()}
	rec := httptest.NewRecorder()

	h.send(rec, httptest.NewRequest(http.MethodPost, "/api/v1/chat", strings.NewReader("{}")))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestChatSend_RejectsBadBody(t *testing.T) {
	t.Parallel()

	h := &chatHandler{logger: log.NewNop()}
	rec := httptest.NewRecorder()

	h.send(rec, authedRequest(http.MethodPost, "/api/v1/chat", "{not json"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestChatSend_RejectsBadConversationID(t *testing.T) {
	t.Parallel()

	h := &chatHandler{logger: log.NewNop()}
	rec := httptest.NewRecorder()

	body := `{"id": "not-a-uuid", "modelId": "m", "messages": []}`
	h.send(rec, authedRequest(http.MethodPost, "/api/v1/chat", body))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestWriteTurnError_StatusMapping(t *testing.T) {
	t.Parallel()

	h := &chatHandler{logger: log.NewNop()}

	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{"unknown model", turn.ErrModelNotFound, http.StatusNotFound},
		{"no user message", turn.ErrNoUserMessage, http.StatusBadRequest},
		{"foreign conversation", chat.ErrForbidden, http.StatusUnauthorized},
		{"anything else", errors.New("database exploded"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			rec := httptest.NewRecorder()
			h.writeTurnError(rec, uuid.New(), tt.err)
			assert.Equal(t, tt.wantStatus, rec.Code)

			var body ErrorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.NotEmpty(t, body.Error)
		})
	}
}

func TestChatRemove_RequiresID(t *testing.T) {
	t.Parallel()

	h := &chatHandler{logger: log.NewNop()}
	rec := httptest.NewRecorder()

	h.remove(rec, authedRequest(http.MethodDelete, "/api/v1/chat", ""))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestChatRemove_RequiresIdentity(t *testing.T) {
	t.Parallel()

	h := &chatHandler{logger: log.NewNop()}
	rec := httptest.NewRecorder()

	req := httptest.NewRequest(http.MethodDelete, "/api/v1/chat?id="+uuid.NewString(), nil)
	h.remove(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestChatRemove_RejectsBadID(t *testing.T) {
	t.Parallel()

	h := &chatHandler{logger: log.NewNop()}
	rec := httptest.NewRecorder()

	h.remove(rec, authedRequest(http.MethodDelete, "/api/v1/chat?id=nope", ""))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestToModelMessages(t *testing.T) {
	t.Parallel()

	out := toModelMessages([]wireMessage{
		{Role: "user", Content: "hello"},
		{Role: "assistant", Content: "hi"},
		{Role: "system", Content: "be nice"},
	})

	require.Len(t, out, 3)
	assert.Equal(t, "user", string(out[0].Role))
	assert.Equal(t, "model", string(out[1].Role))
	assert.Equal(t, "system", string(out[2].Role))
	assert.Equal(t, "hello", out[0].Content[0].Text)
}
