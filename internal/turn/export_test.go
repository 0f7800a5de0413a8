package turn

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/firebase/genkit/go/ai"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joyhealth/joy/internal/config"
	"github.com/joyhealth/joy/internal/log"
	"github.com/joyhealth/joy/internal/stream"
	"github.com/joyhealth/joy/internal/tool"
)

func newFormServer(t *testing.T) (*httptest.Server, *[]map[string]any) {
	t.Helper()
	var received []map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		var payload map[string]any
		require.NoError(t, json.Unmarshal(body, &payload))
		received = append(received, payload)
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)
	return srv, &received
}

// runScreeningTurn drives a turn in which the model creates the screening
// document and the extraction step returns the given answer list. The export
// endpoint always points at a local capture server.
func runScreeningTurn(t *testing.T, allowedEmails []string, email, answersJSON string) (*fixture, *[]map[string]any) {
	t.Helper()

	srv, received := newFormServer(t)
	exportCfg := config.ExportConfig{
		Endpoint:      srv.URL,
		AllowedEmails: allowedEmails,
	}

	createDoc, err := tool.NewCreateDocument()
	require.NoError(t, err)

	model := &fakeModel{
		steps: []fakeStep{
			{
				requests: []*ai.ToolRequest{{
					Name:  "createDocument",
					Ref:   "call-1",
					Input: map[string]any{"title": "Patient Info", "kind": "text"},
				}},
			},
			{deltas: []string{"All done, thank you!"}},
		},
		completeFn: func(system, _ string) (string, error) {
			if system == "extraction" {
				return answersJSON, nil
			}
			return "Screening", nil
		},
	}
	gen := &fakeGen{textChunks: []string{"Q: CT scan before? A: No\n", "Q: Allergies? A: None\n"}}

	f := &fixture{
		cfg:   testConfig(),
		store: newFakeStore(),
		docs:  newFakeDocs(),
		model: model,
		gen:   gen,
	}
	f.cfg.Export = exportCfg
	f.sink = stream.NewMemorySink()

	registry := tool.NewRegistry(log.NewNop(), createDoc)
	exporter := NewExporter(exportCfg, log.NewNop())
	c := NewController(f.cfg, f.store, f.docs, f.model, f.gen, registry, exporter, log.NewNop())

	req := &Request{
		ChatID:  uuid.New(),
		ModelID: "test-model",
		Messages: []*ai.Message{
			ai.NewUserMessage(ai.NewTextPart("here are my answers")),
		},
		Identity: Identity{UserID: uuid.New(), Email: email},
	}
	require.NoError(t, c.Run(context.Background(), req, f.sink))

	return f, received
}

func TestExport_AllowListedEmailSubmits(t *testing.T) {
	t.Parallel()

	_, received := runScreeningTurn(t, []string{"jane@example.com"}, "jane@example.com", `["No", "None"]`)

	require.Len(t, *received, 1)
	payload := (*received)[0]
	assert.Equal(t, "jane@example.com", payload["email"])
	assert.Equal(t, []any{"No", "None"}, payload["answers"])
}

func TestExport_NonAllowListedEmailSkips(t *testing.T) {
	t.Parallel()

	_, received := runScreeningTurn(t, []string{"jane@example.com"}, "stranger@example.com", `["No", "None"]`)

	assert.Empty(t, *received)
}

func TestExport_MalformedAnswersSkip(t *testing.T) {
	t.Parallel()

	_, received := runScreeningTurn(t, []string{"jane@example.com"}, "jane@example.com", "not json at all")

	assert.Empty(t, *received)
}

func TestExport_OtherDocumentTitleDoesNotTrigger(t *testing.T) {
	t.Parallel()

	srv, received := newFormServer(t)

	createDoc, err := tool.NewCreateDocument()
	require.NoError(t, err)

	model := &fakeModel{steps: []fakeStep{
		{
			requests: []*ai.ToolRequest{{
				Name:  "createDocument",
				Ref:   "call-1",
				Input: map[string]any{"title": "Vacation Plans", "kind": "text"},
			}},
		},
		{deltas: []string{"done"}},
	}}
	gen := &fakeGen{textChunks: []string{"Pack sunscreen."}}

	f := &fixture{
		cfg:   testConfig(),
		store: newFakeStore(),
		docs:  newFakeDocs(),
		model: model,
		gen:   gen,
		sink:  stream.NewMemorySink(),
	}
	exportCfg := config.ExportConfig{Endpoint: srv.URL, AllowedEmails: []string{"jane@example.com"}}
	f.cfg.Export = exportCfg

	registry := tool.NewRegistry(log.NewNop(), createDoc)
	c := NewController(f.cfg, f.store, f.docs, f.model, f.gen, registry, NewExporter(exportCfg, log.NewNop()), log.NewNop())

	req := userRequest("plan my trip")
	req.Identity.Email = "jane@example.com"
	require.NoError(t, c.Run(context.Background(), req, f.sink))

	assert.Empty(t, *received)
}

func TestExport_NilExporterIsNoop(t *testing.T) {
	t.Parallel()

	model := &fakeModel{steps: []fakeStep{{deltas: []string{"ok"}}}}
	c, f := newFixture(t, model, &fakeGen{})

	require.NoError(t, c.Run(context.Background(), userRequest("hello"), f.sink))
}

func TestExporterSubmit_RejectsNon2xx(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	t.Cleanup(srv.Close)

	e := NewExporter(config.ExportConfig{Endpoint: srv.URL}, log.NewNop())
	err := e.Submit(context.Background(), []string{"yes"}, "jane@example.com")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

func TestExporterSubmit_SendsJSONPayload(t *testing.T) {
	t.Parallel()

	srv, received := newFormServer(t)

	e := NewExporter(config.ExportConfig{Endpoint: srv.URL}, log.NewNop())
	require.NoError(t, e.Submit(context.Background(), []string{"a", "b"}, "nurse@clinic.org"))

	require.Len(t, *received, 1)
	assert.Equal(t, "nurse@clinic.org", (*received)[0]["email"])
	assert.Equal(t, []any{"a", "b"}, (*received)[0]["answers"])
}
