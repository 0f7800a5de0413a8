package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/firebase/genkit/go/ai"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joyhealth/joy/internal/chat"
	"github.com/joyhealth/joy/internal/config"
	"github.com/joyhealth/joy/internal/log"
	"github.com/joyhealth/joy/internal/stream"
	"github.com/joyhealth/joy/internal/testutil"
	"github.com/joyhealth/joy/internal/tool"
	"github.com/joyhealth/joy/internal/turn"
)

// stubStore keeps chats and saved messages in memory for handler tests.
type stubStore struct {
	chats map[uuid.UUID]*chat.Chat
	saved []*chat.Message
}

func newStubStore() *stubStore {
	return &stubStore{chats: make(map[uuid.UUID]*chat.Chat)}
}

func (s *stubStore) GetChat(_ context.Context, id uuid.UUID) (*chat.Chat, error) {
	c, ok := s.chats[id]
	if !ok {
		return nil, chat.ErrNotFound
	}
	return c, nil
}

func (s *stubStore) CreateChat(_ context.Context, c *chat.Chat) error {
	s.chats[c.ID] = c
	return nil
}

func (s *stubStore) SaveMessages(_ context.Context, messages []*chat.Message) error {
	s.saved = append(s.saved, messages...)
	return nil
}

func (s *stubStore) SaveDocument(context.Context, *chat.Document) error { return nil }

func (s *stubStore) GetDocument(context.Context, uuid.UUID) (*chat.Document, error) {
	return nil, chat.ErrNotFound
}

func (s *stubStore) SaveSuggestion(context.Context, *chat.Suggestion) error { return nil }

// stubModel answers every step with fixed text deltas and no tool requests.
type stubModel struct {
	deltas []string
}

func (m *stubModel) Complete(context.Context, string, string, string) (string, error) {
	return "Streamed Conversation", nil
}

func (m *stubModel) Step(_ context.Context, _, _ string, _ []*ai.Message, _ []*ai.ToolDefinition, onDelta func(delta string) error) (*ai.Message, error) {
	var full string
	for _, d := range m.deltas {
		if err := onDelta(d); err != nil {
			return nil, err
		}
		full += d
	}
	return &ai.Message{Role: ai.RoleModel, Content: []*ai.Part{ai.NewTextPart(full)}}, nil
}

func (m *stubModel) StreamText(context.Context, string, string, []*ai.Message, func(string) error) (string, error) {
	return "", nil
}

func (m *stubModel) StreamObject(context.Context, string, string, string, map[string]any, func(string) error) (string, error) {
	return "", nil
}

func (m *stubModel) StreamElements(context.Context, string, string, string, map[string]any, func(json.RawMessage) error) error {
	return nil
}

func TestChatSend_StreamsEvents(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{
		Models:   []config.Model{{ID: "m1", Label: "Model One", ProviderModel: "mock/m1"}},
		MaxSteps: 5,
	}
	store := newStubStore()
	model := &stubModel{deltas: []string{"Hello, ", "Jane."}}

	h := &chatHandler{
		controller: turn.NewController(cfg, store, store, model, model,
			tool.NewRegistry(log.NewNop()), nil, log.NewNop()),
		logger: log.NewNop(),
	}

	body := `{"id": "` + uuid.NewString() + `", "modelId": "m1", "messages": [{"role": "user", "content": "hello"}]}`
	rec := httptest.NewRecorder()
	h.send(rec, authedRequest(http.MethodPost, "/api/v1/chat", body))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))

	events := testutil.ParseEventStream(t, rec.Body.String())
	require.NotEmpty(t, events)
	assert.Equal(t, stream.TypeUserMessageID, events[0].Type)

	deltas := testutil.FindAllEvents(events, stream.TypeTextDelta)
	require.Len(t, deltas, 2)
	assert.Equal(t, "Hello, ", deltas[0].Content)
	assert.Equal(t, "Jane.", deltas[1].Content)

	annotation := testutil.FindEvent(events, stream.TypeMessageAnnotation)
	require.NotNil(t, annotation)

	// The user's message is durable and the assistant reply was persisted.
	require.Len(t, store.saved, 2)
	assert.Equal(t, "user", store.saved[0].Role)
	assert.Equal(t, string(ai.RoleModel), store.saved[1].Role)
}
