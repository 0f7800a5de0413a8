package tool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/firebase/genkit/go/ai"
	"github.com/google/jsonschema-go/jsonschema"
	"github.com/google/uuid"

	"github.com/joyhealth/joy/internal/chat"
	"github.com/joyhealth/joy/internal/model"
	"github.com/joyhealth/joy/internal/stream"
)

// codeObjectSchema constrains code generation to a single string field so
// partial output can be re-materialized into snapshots mid-stream.
var codeObjectSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"code": map[string]any{
			"type":        "string",
			"description": "The complete code",
		},
	},
	"required":             []any{"code"},
	"additionalProperties": false,
}

// CreateDocumentInput names the document to generate.
type CreateDocumentInput struct {
	Title string `json:"title" jsonschema:"Title of the document"`
	Kind  string `json:"kind" jsonschema:"Kind of document: text or code"`
}

// CreateDocument generates a new document visible to the user beside the
// conversation. Metadata events announce it, content streams through the
// turn's sink, and the finished document persists under a fresh ID.
type CreateDocument struct {
	def      *ai.ToolDefinition
	resolved *jsonschema.Resolved
}

// NewCreateDocument creates the createDocument tool.
func NewCreateDocument() (*CreateDocument, error) {
	def, resolved, err := definition[CreateDocumentInput]("createDocument",
		"Create a document for a writing activity")
	if err != nil {
		return nil, err
	}
	return &CreateDocument{def: def, resolved: resolved}, nil
}

func (t *CreateDocument) Name() string { return "createDocument" }

func (t *CreateDocument) Definition() *ai.ToolDefinition { return t.def }

func (t *CreateDocument) Run(ctx context.Context, b *Binding, raw json.RawMessage) (any, error) {
	input, err := decodeInput[CreateDocumentInput](t.resolved, raw)
	if err != nil {
		return nil, err
	}
	if !chat.ValidKind(input.Kind) {
		return nil, fmt.Errorf("unsupported document kind: %s", input.Kind)
	}

	doc := &chat.Document{
		ID:     uuid.New(),
		UserID: b.UserID,
		Title:  input.Title,
		Kind:   input.Kind,
	}

	events := []stream.Event{
		{Type: stream.TypeID, Content: doc.ID.String()},
		{Type: stream.TypeTitle, Content: doc.Title},
		{Type: stream.TypeKind, Content: doc.Kind},
		{Type: stream.TypeClear, Content: ""},
	}
	for _, e := range events {
		if err := b.Sink.Write(e); err != nil {
			return nil, fmt.Errorf("writing document event: %w", err)
		}
	}

	if err := streamDocumentContent(ctx, b, doc, createSystemPrompt(b, doc.Kind), doc.Title); err != nil {
		return nil, err
	}

	if err := b.Sink.Write(stream.Event{Type: stream.TypeFinish, Content: ""}); err != nil {
		return nil, fmt.Errorf("writing finish event: %w", err)
	}

	if err := b.Docs.SaveDocument(ctx, doc); err != nil {
		return nil, err
	}
	b.recordCreated(doc)

	return map[string]any{
		"id":      doc.ID.String(),
		"title":   doc.Title,
		"kind":    doc.Kind,
		"content": "A document was created and is now visible to the user.",
	}, nil
}

// UpdateDocumentInput names the document and the requested change.
type UpdateDocumentInput struct {
	ID          string `json:"id" jsonschema:"ID of the document to update"`
	Description string `json:"description" jsonschema:"Description of the changes to make"`
}

// UpdateDocument regenerates an existing document against a change
// description. The new content persists as a fresh version under the same
// document ID.
type UpdateDocument struct {
	def      *ai.ToolDefinition
	resolved *jsonschema.Resolved
}

// NewUpdateDocument creates the updateDocument tool.
func NewUpdateDocument() (*UpdateDocument, error) {
	def, resolved, err := definition[UpdateDocumentInput]("updateDocument",
		"Update a document with the given description")
	if err != nil {
		return nil, err
	}
	return &UpdateDocument{def: def, resolved: resolved}, nil
}

func (t *UpdateDocument) Name() string { return "updateDocument" }

func (t *UpdateDocument) Definition() *ai.ToolDefinition { return t.def }

func (t *UpdateDocument) Run(ctx context.Context, b *Binding, raw json.RawMessage) (any, error) {
	input, err := decodeInput[UpdateDocumentInput](t.resolved, raw)
	if err != nil {
		return nil, err
	}

	id, err := uuid.Parse(input.ID)
	if err != nil {
		return nil, fmt.Errorf("invalid document id: %w", err)
	}

	current, err := b.Docs.GetDocument(ctx, id)
	if err != nil {
		if errorsIsNotFound(err) {
			return errorResult("Document not found"), nil
		}
		return nil, err
	}

	if err := b.Sink.Write(stream.Event{Type: stream.TypeClear, Content: current.Title}); err != nil {
		return nil, fmt.Errorf("writing clear event: %w", err)
	}

	next := &chat.Document{
		ID:     current.ID,
		UserID: current.UserID,
		Title:  current.Title,
		Kind:   current.Kind,
	}

	system := b.Prompts.UpdateDocumentPrompt(current.Content, current.Kind)
	if err := streamDocumentContent(ctx, b, next, system, input.Description); err != nil {
		return nil, err
	}

	if err := b.Sink.Write(stream.Event{Type: stream.TypeFinish, Content: ""}); err != nil {
		return nil, fmt.Errorf("writing finish event: %w", err)
	}

	if err := b.Docs.SaveDocument(ctx, next); err != nil {
		return nil, err
	}

	return map[string]any{
		"id":      next.ID.String(),
		"title":   next.Title,
		"kind":    next.Kind,
		"content": "The document has been updated successfully.",
	}, nil
}

// createSystemPrompt selects the generation prompt for a new document.
func createSystemPrompt(b *Binding, kind string) string {
	if kind == chat.KindCode {
		return b.Prompts.CodeDocument
	}
	return b.Prompts.TextDocument
}

// streamDocumentContent generates doc content by kind. Text streams as
// appended deltas; code streams as whole-body snapshots re-materialized
// from partial structured output. The finished content lands on doc.
func streamDocumentContent(ctx context.Context, b *Binding, doc *chat.Document, system, prompt string) error {
	switch doc.Kind {
	case chat.KindText:
		messages := append(append([]*ai.Message{}, b.Messages...),
			ai.NewUserMessage(ai.NewTextPart(prompt)))
		content, err := b.Model.StreamText(ctx, b.ModelName, system, messages, func(delta string) error {
			return b.Sink.Write(stream.Event{Type: stream.TypeTextDelta, Content: delta})
		})
		if err != nil {
			return err
		}
		doc.Content = content
		return nil

	case chat.KindCode:
		raw, err := b.Model.StreamObject(ctx, b.ModelName, system, prompt, codeObjectSchema, func(raw string) error {
			snapshot, ok := model.CodeSnapshot(raw)
			if !ok {
				return nil
			}
			return b.Sink.Write(stream.Event{Type: stream.TypeCodeDelta, Content: snapshot})
		})
		if err != nil {
			return err
		}
		code, _ := model.CodeSnapshot(raw)
		doc.Content = code
		return nil

	default:
		return fmt.Errorf("unsupported document kind: %s", doc.Kind)
	}
}

// errorsIsNotFound reports whether err is the store's missing-row error.
func errorsIsNotFound(err error) bool {
	return errors.Is(err, chat.ErrNotFound)
}
