// Package tool implements the model-invocable tools of a turn and the
// registry that declares and dispatches them.
//
// Tools are declared to the model as data; the turn controller owns the
// loop and dispatches requests here sequentially. A tool failure never
// fails the turn: dispatch converts errors into an error-shaped result the
// model can read and react to.
package tool

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/firebase/genkit/go/ai"
	"github.com/google/jsonschema-go/jsonschema"
	"github.com/google/uuid"

	"github.com/joyhealth/joy/internal/chat"
	"github.com/joyhealth/joy/internal/config"
	"github.com/joyhealth/joy/internal/log"
	"github.com/joyhealth/joy/internal/stream"
)

// DocumentStore is the persistence surface tools need.
type DocumentStore interface {
	SaveDocument(ctx context.Context, d *chat.Document) error
	GetDocument(ctx context.Context, id uuid.UUID) (*chat.Document, error)
	SaveSuggestion(ctx context.Context, s *chat.Suggestion) error
}

// Generator is the streaming generation surface tools need.
type Generator interface {
	StreamText(ctx context.Context, modelName, system string, messages []*ai.Message, onDelta func(delta string) error) (string, error)
	StreamObject(ctx context.Context, modelName, system, prompt string, schema map[string]any, onRaw func(raw string) error) (string, error)
	StreamElements(ctx context.Context, modelName, system, prompt string, schema map[string]any, onElement func(elem json.RawMessage) error) error
}

// Binding carries the per-turn collaborators a tool runs against.
// One Binding serves one turn; tools run sequentially, so it needs no lock.
type Binding struct {
	Sink           stream.Sink
	Docs           DocumentStore
	Model          Generator
	ModelName      string
	Prompts        config.Prompts
	UserID         uuid.UUID
	Messages       []*ai.Message
	MaxSuggestions int
	Logger         log.Logger

	created []*chat.Document
}

// recordCreated remembers a document created during this turn so the
// finalizer can inspect it.
func (b *Binding) recordCreated(d *chat.Document) {
	b.created = append(b.created, d)
}

// CreatedDocuments returns the documents created during this turn, in order.
func (b *Binding) CreatedDocuments() []*chat.Document {
	return b.created
}

// Tool is one model-invocable operation.
type Tool interface {
	Name() string
	Definition() *ai.ToolDefinition
	Run(ctx context.Context, b *Binding, raw json.RawMessage) (any, error)
}

// Registry declares tools to the model and dispatches their requests.
type Registry struct {
	order  []string
	tools  map[string]Tool
	logger log.Logger
}

// NewRegistry creates a registry over the given tools, preserving order.
func NewRegistry(logger log.Logger, tools ...Tool) *Registry {
	if logger == nil {
		logger = log.NewNop()
	}
	r := &Registry{tools: make(map[string]Tool, len(tools)), logger: logger}
	for _, t := range tools {
		r.order = append(r.order, t.Name())
		r.tools[t.Name()] = t
	}
	return r
}

// Definitions returns the tool declarations in registration order.
func (r *Registry) Definitions() []*ai.ToolDefinition {
	defs := make([]*ai.ToolDefinition, 0, len(r.order))
	for _, name := range r.order {
		defs = append(defs, r.tools[name].Definition())
	}
	return defs
}

// Dispatch runs one tool request and always returns a result the model can
// consume. Errors become {"error": ...} results rather than turn failures.
func (r *Registry) Dispatch(ctx context.Context, b *Binding, req *ai.ToolRequest) any {
	t, ok := r.tools[req.Name]
	if !ok {
		r.logger.Warn("unknown tool requested", "tool", req.Name)
		return errorResult(fmt.Sprintf("unknown tool: %s", req.Name))
	}

	raw, err := json.Marshal(req.Input)
	if err != nil {
		r.logger.Warn("tool input not serializable", "tool", req.Name, "error", err)
		return errorResult("invalid tool input")
	}

	out, err := t.Run(ctx, b, raw)
	if err != nil {
		r.logger.Warn("tool execution failed", "tool", req.Name, "error", err)
		return errorResult(err.Error())
	}
	return out
}

// errorResult is the error shape tools report back to the model.
func errorResult(msg string) map[string]any {
	return map[string]any{"error": msg}
}

// definition builds a tool declaration with a schema inferred from T.
func definition[T any](name, description string) (*ai.ToolDefinition, *jsonschema.Resolved, error) {
	schema, err := jsonschema.For[T](nil)
	if err != nil {
		return nil, nil, fmt.Errorf("schema for %s: %w", name, err)
	}
	resolved, err := schema.Resolve(nil)
	if err != nil {
		return nil, nil, fmt.Errorf("resolving schema for %s: %w", name, err)
	}

	m, err := schemaMap(schema)
	if err != nil {
		return nil, nil, fmt.Errorf("schema map for %s: %w", name, err)
	}

	return &ai.ToolDefinition{
		Name:        name,
		Description: description,
		InputSchema: m,
	}, resolved, nil
}

// schemaMap converts a schema to the map form tool declarations carry.
func schemaMap(s *jsonschema.Schema) (map[string]any, error) {
	b, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("marshaling schema: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("unmarshaling schema: %w", err)
	}
	return m, nil
}

// decodeInput validates raw against the tool's schema and unmarshals it.
func decodeInput[T any](resolved *jsonschema.Resolved, raw json.RawMessage) (T, error) {
	var input T
	if err := json.Unmarshal(raw, &input); err != nil {
		return input, fmt.Errorf("decoding tool input: %w", err)
	}
	if resolved != nil {
		var instance any
		if err := json.Unmarshal(raw, &instance); err != nil {
			return input, fmt.Errorf("decoding tool input: %w", err)
		}
		if err := resolved.Validate(instance); err != nil {
			return input, fmt.Errorf("validating tool input: %w", err)
		}
	}
	return input, nil
}
