// Package model adapts genkit generation to the streaming modes a turn
// needs: plain completion, delta text streaming, structured object streaming
// with snapshot semantics, element streaming, and single tool-loop steps.
package model

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"

	"github.com/joyhealth/joy/internal/log"
)

// Adapter wraps a genkit registry and exposes turn-oriented generation.
// It is stateless and safe for concurrent use.
type Adapter struct {
	g      *genkit.Genkit
	logger log.Logger
}

// New creates an Adapter over the given genkit instance.
func New(g *genkit.Genkit, logger log.Logger) *Adapter {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Adapter{g: g, logger: logger}
}

// generate resolves the provider model and runs one request.
func (a *Adapter) generate(ctx context.Context, modelName string, req *ai.ModelRequest, cb ai.ModelStreamCallback) (*ai.ModelResponse, error) {
	m := genkit.LookupModel(a.g, modelName)
	if m == nil {
		return nil, fmt.Errorf("%w: %s", ErrModelNotFound, modelName)
	}

	resp, err := m.Generate(ctx, req, cb)
	if err != nil {
		return nil, fmt.Errorf("generating with %s: %w", modelName, err)
	}
	if resp == nil || resp.Message == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoOutput, modelName)
	}
	return resp, nil
}

// systemMessage wraps prompt text as a system message.
func systemMessage(text string) *ai.Message {
	return &ai.Message{Role: ai.RoleSystem, Content: []*ai.Part{ai.NewTextPart(text)}}
}

// Complete runs a one-shot generation and returns the response text.
func (a *Adapter) Complete(ctx context.Context, modelName, system, prompt string) (string, error) {
	req := &ai.ModelRequest{
		Messages: []*ai.Message{
			systemMessage(system),
			ai.NewUserMessage(ai.NewTextPart(prompt)),
		},
	}
	resp, err := a.generate(ctx, modelName, req, nil)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(resp.Text()), nil
}

// StreamText generates from the given messages, invoking onDelta for every
// text fragment as it arrives. Returns the full accumulated text.
func (a *Adapter) StreamText(ctx context.Context, modelName, system string, messages []*ai.Message, onDelta func(delta string) error) (string, error) {
	req := &ai.ModelRequest{
		Messages: append([]*ai.Message{systemMessage(system)}, messages...),
	}

	var full strings.Builder
	cb := func(ctx context.Context, chunk *ai.ModelResponseChunk) error {
		delta := chunkText(chunk)
		if delta == "" {
			return nil
		}
		full.WriteString(delta)
		return onDelta(delta)
	}

	if _, err := a.generate(ctx, modelName, req, cb); err != nil {
		return "", err
	}
	return full.String(), nil
}

// StreamObject generates JSON constrained by schema, invoking onRaw with the
// accumulated raw JSON after every chunk. The caller interprets the partial
// document; see CodeSnapshot. Returns the complete raw JSON.
func (a *Adapter) StreamObject(ctx context.Context, modelName, system, prompt string, schema map[string]any, onRaw func(raw string) error) (string, error) {
	req := &ai.ModelRequest{
		Messages: []*ai.Message{
			systemMessage(system),
			ai.NewUserMessage(ai.NewTextPart(prompt)),
		},
		Output: &ai.ModelOutputConfig{
			Format: ai.OutputFormatJSON,
			Schema: schema,
		},
	}

	var raw strings.Builder
	cb := func(ctx context.Context, chunk *ai.ModelResponseChunk) error {
		delta := chunkText(chunk)
		if delta == "" {
			return nil
		}
		raw.WriteString(delta)
		return onRaw(raw.String())
	}

	if _, err := a.generate(ctx, modelName, req, cb); err != nil {
		return "", err
	}
	return raw.String(), nil
}

// StreamElements generates a JSON array constrained by schema and invokes
// onElement once per completed element, in order, as the stream progresses.
func (a *Adapter) StreamElements(ctx context.Context, modelName, system, prompt string, schema map[string]any, onElement func(elem json.RawMessage) error) error {
	req := &ai.ModelRequest{
		Messages: []*ai.Message{
			systemMessage(system),
			ai.NewUserMessage(ai.NewTextPart(prompt)),
		},
		Output: &ai.ModelOutputConfig{
			Format: ai.OutputFormatJSON,
			Schema: schema,
		},
	}

	decoder := NewArrayDecoder()
	cb := func(ctx context.Context, chunk *ai.ModelResponseChunk) error {
		delta := chunkText(chunk)
		if delta == "" {
			return nil
		}
		elems, err := decoder.Feed(delta)
		if err != nil {
			return err
		}
		for _, elem := range elems {
			if err := onElement(elem); err != nil {
				return err
			}
		}
		return nil
	}

	if _, err := a.generate(ctx, modelName, req, cb); err != nil {
		return err
	}
	return nil
}

// Step runs one tool-loop step: the model sees the conversation and the tool
// declarations, streams any text through onDelta, and the returned message
// carries both the text and any tool requests. Tool execution is the
// caller's responsibility.
func (a *Adapter) Step(ctx context.Context, modelName, system string, messages []*ai.Message, tools []*ai.ToolDefinition, onDelta func(delta string) error) (*ai.Message, error) {
	req := &ai.ModelRequest{
		Messages: append([]*ai.Message{systemMessage(system)}, messages...),
		Tools:    tools,
	}

	cb := func(ctx context.Context, chunk *ai.ModelResponseChunk) error {
		delta := chunkText(chunk)
		if delta == "" {
			return nil
		}
		return onDelta(delta)
	}

	resp, err := a.generate(ctx, modelName, req, cb)
	if err != nil {
		return nil, err
	}
	return resp.Message, nil
}

// chunkText concatenates the text parts of a streamed chunk.
func chunkText(chunk *ai.ModelResponseChunk) string {
	if chunk == nil {
		return ""
	}
	var b strings.Builder
	for _, part := range chunk.Content {
		if part != nil && part.IsText() {
			b.WriteString(part.Text)
		}
	}
	return b.String()
}
