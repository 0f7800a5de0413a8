package turn

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"github.com/firebase/genkit/go/ai"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joyhealth/joy/internal/chat"
	"github.com/joyhealth/joy/internal/config"
	"github.com/joyhealth/joy/internal/log"
	"github.com/joyhealth/joy/internal/stream"
	"github.com/joyhealth/joy/internal/tool"
)

// fakeStore keeps chats and messages in memory.
type fakeStore struct {
	chats map[uuid.UUID]*chat.Chat
	saved []*chat.Message
}

func newFakeStore() *fakeStore {
	return &fakeStore{chats: make(map[uuid.UUID]*chat.Chat)}
}

func (s *fakeStore) GetChat(_ context.Context, id uuid.UUID) (*chat.Chat, error) {
	c, ok := s.chats[id]
	if !ok {
		return nil, fmt.Errorf("chat %s: %w", id, chat.ErrNotFound)
	}
	return c, nil
}

func (s *fakeStore) CreateChat(_ context.Context, c *chat.Chat) error {
	s.chats[c.ID] = c
	return nil
}

func (s *fakeStore) SaveMessages(_ context.Context, messages []*chat.Message) error {
	s.saved = append(s.saved, messages...)
	return nil
}

// fakeDocs keeps documents and suggestions in memory.
type fakeDocs struct {
	docs        map[uuid.UUID]*chat.Document
	suggestions []*chat.Suggestion
}

func newFakeDocs() *fakeDocs {
	return &fakeDocs{docs: make(map[uuid.UUID]*chat.Document)}
}

func (d *fakeDocs) SaveDocument(_ context.Context, doc *chat.Document) error {
	d.docs[doc.ID] = doc
	return nil
}

func (d *fakeDocs) GetDocument(_ context.Context, id uuid.UUID) (*chat.Document, error) {
	doc, ok := d.docs[id]
	if !ok {
		return nil, fmt.Errorf("document %s: %w", id, chat.ErrNotFound)
	}
	return doc, nil
}

func (d *fakeDocs) SaveSuggestion(_ context.Context, s *chat.Suggestion) error {
	d.suggestions = append(d.suggestions, s)
	return nil
}

// fakeStep is one scripted loop step: streamed deltas plus tool requests.
type fakeStep struct {
	deltas   []string
	requests []*ai.ToolRequest
}

// fakeModel replays scripted steps. When the script runs out, the last step
// repeats, which lets tests exercise budget exhaustion.
type fakeModel struct {
	steps      []fakeStep
	stepCalls  int
	completeFn func(system, prompt string) (string, error)
	onStep     func() // runs at the start of every Step call
}

func (m *fakeModel) Complete(_ context.Context, _, system, prompt string) (string, error) {
	if m.completeFn != nil {
		return m.completeFn(system, prompt)
	}
	return "Generated Title", nil
}

func (m *fakeModel) Step(ctx context.Context, _, _ string, _ []*ai.Message, _ []*ai.ToolDefinition, onDelta func(delta string) error) (*ai.Message, error) {
	if m.onStep != nil {
		m.onStep()
	}
	idx := m.stepCalls
	if idx >= len(m.steps) {
		idx = len(m.steps) - 1
	}
	m.stepCalls++

	if idx < 0 {
		return &ai.Message{Role: ai.RoleModel, Content: []*ai.Part{ai.NewTextPart("ok")}}, nil
	}

	st := m.steps[idx]
	for _, d := range st.deltas {
		if err := onDelta(d); err != nil {
			return nil, err
		}
	}

	var parts []*ai.Part
	for _, tr := range st.requests {
		parts = append(parts, &ai.Part{Kind: ai.PartToolRequest, ToolRequest: tr})
	}
	if text := strings.Join(st.deltas, ""); text != "" {
		parts = append(parts, ai.NewTextPart(text))
	}
	return &ai.Message{Role: ai.RoleModel, Content: parts}, nil
}

// fakeGen replays scripted streaming generations for tools.
type fakeGen struct {
	textChunks   []string
	objectChunks []string
	elements     []string
}

func (g *fakeGen) StreamText(_ context.Context, _, _ string, _ []*ai.Message, onDelta func(delta string) error) (string, error) {
	for _, c := range g.textChunks {
		if err := onDelta(c); err != nil {
			return "", err
		}
	}
	return strings.Join(g.textChunks, ""), nil
}

func (g *fakeGen) StreamObject(_ context.Context, _, _, _ string, _ map[string]any, onRaw func(raw string) error) (string, error) {
	var acc strings.Builder
	for _, c := range g.objectChunks {
		acc.WriteString(c)
		if err := onRaw(acc.String()); err != nil {
			return "", err
		}
	}
	return acc.String(), nil
}

func (g *fakeGen) StreamElements(_ context.Context, _, _, _ string, _ map[string]any, onElement func(elem json.RawMessage) error) error {
	for _, e := range g.elements {
		if err := onElement(json.RawMessage(e)); err != nil {
			return err
		}
	}
	return nil
}

// pingTool is a trivial tool for loop mechanics tests.
type pingTool struct{}

func (pingTool) Name() string { return "ping" }

func (pingTool) Definition() *ai.ToolDefinition {
	return &ai.ToolDefinition{
		Name:        "ping",
		Description: "respond with pong",
		InputSchema: map[string]any{"type": "object"},
	}
}

func (pingTool) Run(context.Context, *tool.Binding, json.RawMessage) (any, error) {
	return map[string]any{"pong": true}, nil
}

func testConfig() *config.Config {
	return &config.Config{
		Models: []config.Model{
			{ID: "test-model", Label: "Test", ProviderModel: "mock/test-model"},
		},
		MaxSteps:       config.DefaultMaxSteps,
		MaxSuggestions: config.DefaultMaxSuggestions,
		Prompts: config.Prompts{
			System:       "system",
			Title:        "title",
			TextDocument: "text document",
			CodeDocument: "code document",
			UpdateText:   "update text: %s",
			UpdateCode:   "update code: %s",
			Suggestions:  "suggestions",
			Extraction:   "extraction",
		},
	}
}

type fixture struct {
	cfg   *config.Config
	store *fakeStore
	docs  *fakeDocs
	model *fakeModel
	gen   *fakeGen
	sink  *stream.MemorySink
}

func newFixture(t *testing.T, model *fakeModel, gen *fakeGen, tools ...tool.Tool) (*Controller, *fixture) {
	t.Helper()
	f := &fixture{
		cfg:   testConfig(),
		store: newFakeStore(),
		docs:  newFakeDocs(),
		model: model,
		gen:   gen,
		sink:  stream.NewMemorySink(),
	}
	registry := tool.NewRegistry(log.NewNop(), tools...)
	c := NewController(f.cfg, f.store, f.docs, f.model, f.gen, registry, nil, log.NewNop())
	return c, f
}

func userRequest(text string) *Request {
	return &Request{
		ChatID:  uuid.New(),
		ModelID: "test-model",
		Messages: []*ai.Message{
			ai.NewUserMessage(ai.NewTextPart(text)),
		},
		Identity: Identity{UserID: uuid.New(), Email: "patient@example.com"},
	}
}

func TestControllerRun_UserMessageDurableBeforeGeneration(t *testing.T) {
	t.Parallel()

	model := &fakeModel{steps: []fakeStep{
		{deltas: []string{"ok"}},
	}}
	c, f := newFixture(t, model, &fakeGen{})

	// Observed at the moment the model is first invoked, not after the turn.
	var savedAtFirstStep []*chat.Message
	model.onStep = func() {
		if model.stepCalls == 0 {
			savedAtFirstStep = append([]*chat.Message{}, f.store.saved...)
		}
	}

	require.NoError(t, c.Run(context.Background(), userRequest("remember this"), f.sink))

	require.Len(t, savedAtFirstStep, 1)
	assert.Equal(t, string(ai.RoleUser), savedAtFirstStep[0].Role)
	assert.Equal(t, "remember this", savedAtFirstStep[0].Content[0].Text)
}

func TestControllerRun_PlainTextTurn(t *testing.T) {
	t.Parallel()

	model := &fakeModel{steps: []fakeStep{
		{deltas: []string{"Hel", "lo!"}},
	}}
	c, f := newFixture(t, model, &fakeGen{})

	req := userRequest("hi there")
	require.NoError(t, c.Run(context.Background(), req, f.sink))

	assert.Equal(t, []string{
		stream.TypeUserMessageID,
		stream.TypeTextDelta,
		stream.TypeTextDelta,
		stream.TypeMessageAnnotation,
	}, f.sink.Types())

	// User message first, then the assistant reply.
	require.Len(t, f.store.saved, 2)
	assert.Equal(t, string(ai.RoleUser), f.store.saved[0].Role)
	assert.Equal(t, string(ai.RoleModel), f.store.saved[1].Role)
	assert.Equal(t, "Hello!", f.store.saved[1].Content[0].Text)

	// A new conversation got a generated title.
	created, ok := f.store.chats[req.ChatID]
	require.True(t, ok)
	assert.Equal(t, "Generated Title", created.Title)
	assert.Equal(t, req.Identity.UserID, created.UserID)
}

func TestControllerRun_ExistingChatSkipsTitle(t *testing.T) {
	t.Parallel()

	completeCalls := 0
	model := &fakeModel{
		steps: []fakeStep{{deltas: []string{"ok"}}},
		completeFn: func(_, _ string) (string, error) {
			completeCalls++
			return "unused", nil
		},
	}
	c, f := newFixture(t, model, &fakeGen{})

	req := userRequest("hello again")
	f.store.chats[req.ChatID] = &chat.Chat{
		ID:     req.ChatID,
		UserID: req.Identity.UserID,
		Title:  "Existing",
	}

	require.NoError(t, c.Run(context.Background(), req, f.sink))
	assert.Zero(t, completeCalls)
	assert.Equal(t, "Existing", f.store.chats[req.ChatID].Title)
}

func TestControllerRun_ForbiddenForOtherOwner(t *testing.T) {
	t.Parallel()

	c, f := newFixture(t, &fakeModel{steps: []fakeStep{{deltas: []string{"x"}}}}, &fakeGen{})

	req := userRequest("hello")
	f.store.chats[req.ChatID] = &chat.Chat{
		ID:     req.ChatID,
		UserID: uuid.New(), // someone else
	}

	err := c.Run(context.Background(), req, f.sink)
	assert.ErrorIs(t, err, chat.ErrForbidden)
	assert.Empty(t, f.sink.Events())
	assert.Empty(t, f.store.saved)
}

func TestControllerRun_UnknownModel(t *testing.T) {
	t.Parallel()

	c, f := newFixture(t, &fakeModel{}, &fakeGen{})
	req := userRequest("hello")
	req.ModelID = "no-such-model"

	err := c.Run(context.Background(), req, f.sink)
	assert.ErrorIs(t, err, ErrModelNotFound)
}

func TestControllerRun_NoUserMessage(t *testing.T) {
	t.Parallel()

	c, f := newFixture(t, &fakeModel{}, &fakeGen{})
	req := userRequest("ignored")
	req.Messages = []*ai.Message{
		{Role: ai.RoleModel, Content: []*ai.Part{ai.NewTextPart("assistant only")}},
	}

	err := c.Run(context.Background(), req, f.sink)
	assert.ErrorIs(t, err, ErrNoUserMessage)
}

func TestControllerRun_CreateDocumentEventOrder(t *testing.T) {
	t.Parallel()

	createDoc, err := tool.NewCreateDocument()
	require.NoError(t, err)

	model := &fakeModel{steps: []fakeStep{
		{
			deltas: []string{"Sure."},
			requests: []*ai.ToolRequest{{
				Name:  "createDocument",
				Ref:   "call-1",
				Input: map[string]any{"title": "Trip Notes", "kind": "text"},
			}},
		},
		{deltas: []string{"Done!"}},
	}}
	gen := &fakeGen{textChunks: []string{"Once ", "upon ", "a time."}}

	c, f := newFixture(t, model, gen, createDoc)

	req := userRequest("write me a story")
	require.NoError(t, c.Run(context.Background(), req, f.sink))

	assert.Equal(t, []string{
		stream.TypeUserMessageID,
		stream.TypeTextDelta, // "Sure."
		stream.TypeID,
		stream.TypeTitle,
		stream.TypeKind,
		stream.TypeClear,
		stream.TypeTextDelta,
		stream.TypeTextDelta,
		stream.TypeTextDelta,
		stream.TypeFinish,
		stream.TypeTextDelta, // "Done!"
		stream.TypeMessageAnnotation,
		stream.TypeMessageAnnotation,
	}, f.sink.Types())

	// The streamed content is exactly what persisted.
	require.Len(t, f.docs.docs, 1)
	for _, doc := range f.docs.docs {
		assert.Equal(t, "Trip Notes", doc.Title)
		assert.Equal(t, chat.KindText, doc.Kind)
		assert.Equal(t, "Once upon a time.", doc.Content)
		assert.Equal(t, req.Identity.UserID, doc.UserID)
	}

	// user, first assistant step, tool results, second assistant step.
	require.Len(t, f.store.saved, 4)
	assert.Equal(t, string(ai.RoleUser), f.store.saved[0].Role)
	assert.Equal(t, string(ai.RoleModel), f.store.saved[1].Role)
	assert.Equal(t, string(ai.RoleTool), f.store.saved[2].Role)
	assert.Equal(t, string(ai.RoleModel), f.store.saved[3].Role)
}

func TestControllerRun_StepBudgetExhaustsSilently(t *testing.T) {
	t.Parallel()

	// The model requests a tool on every step and never settles.
	model := &fakeModel{steps: []fakeStep{
		{requests: []*ai.ToolRequest{{Name: "ping", Input: map[string]any{}}}},
	}}
	c, f := newFixture(t, model, &fakeGen{}, pingTool{})
	f.cfg.MaxSteps = 3

	req := userRequest("loop forever")
	require.NoError(t, c.Run(context.Background(), req, f.sink))

	assert.Equal(t, 3, model.stepCalls)
}

func TestControllerRun_UnknownToolBecomesErrorResult(t *testing.T) {
	t.Parallel()

	model := &fakeModel{steps: []fakeStep{
		{requests: []*ai.ToolRequest{{Name: "teleport", Input: map[string]any{}}}},
		{deltas: []string{"sorry, no teleporting"}},
	}}
	c, f := newFixture(t, model, &fakeGen{})

	req := userRequest("beam me up")
	require.NoError(t, c.Run(context.Background(), req, f.sink))

	// The turn survives; the error went back to the model as a result.
	require.Len(t, f.store.saved, 4)
	toolMsg := f.store.saved[2]
	require.Equal(t, string(ai.RoleTool), toolMsg.Role)
	out, ok := toolMsg.Content[0].ToolResponse.Output.(map[string]any)
	require.True(t, ok)
	assert.Contains(t, out["error"], "unknown tool")
}

func TestGenerateTitle_FallsBackToTruncation(t *testing.T) {
	t.Parallel()

	model := &fakeModel{
		steps: []fakeStep{{deltas: []string{"hi"}}},
		completeFn: func(_, _ string) (string, error) {
			return "", fmt.Errorf("model unavailable")
		},
	}
	c, f := newFixture(t, model, &fakeGen{})

	long := strings.Repeat("word ", 40)
	req := userRequest(long)
	require.NoError(t, c.Run(context.Background(), req, f.sink))

	title := f.store.chats[req.ChatID].Title
	assert.LessOrEqual(t, len([]rune(title)), 80)
	assert.True(t, strings.HasSuffix(title, "..."))
	assert.True(t, strings.HasPrefix(long, strings.TrimSuffix(title, "...")))
}
