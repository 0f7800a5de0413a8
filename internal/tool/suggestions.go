package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/google/jsonschema-go/jsonschema"
	"github.com/google/uuid"

	"github.com/joyhealth/joy/internal/chat"
	"github.com/joyhealth/joy/internal/stream"
)

// suggestionsArraySchema constrains the suggestions stream to an array of
// sentence-level edits so elements can be emitted as they complete.
var suggestionsArraySchema = map[string]any{
	"type": "array",
	"items": map[string]any{
		"type": "object",
		"properties": map[string]any{
			"originalSentence": map[string]any{
				"type":        "string",
				"description": "The original sentence",
			},
			"suggestedSentence": map[string]any{
				"type":        "string",
				"description": "The suggested sentence",
			},
			"description": map[string]any{
				"type":        "string",
				"description": "The description of the suggestion",
			},
		},
		"required":             []any{"originalSentence", "suggestedSentence", "description"},
		"additionalProperties": false,
	},
}

// suggestionElement mirrors one streamed array element.
type suggestionElement struct {
	OriginalSentence  string `json:"originalSentence"`
	SuggestedSentence string `json:"suggestedSentence"`
	Description       string `json:"description"`
}

// RequestSuggestionsInput names the document to improve.
type RequestSuggestionsInput struct {
	DocumentID string `json:"documentId" jsonschema:"ID of the document to request edits for"`
}

// RequestSuggestions streams writing suggestions against a document.
// Each suggestion is persisted as soon as it is emitted, so suggestions
// that arrived before an interruption survive it.
type RequestSuggestions struct {
	def      *ai.ToolDefinition
	resolved *jsonschema.Resolved
}

// NewRequestSuggestions creates the requestSuggestions tool.
func NewRequestSuggestions() (*RequestSuggestions, error) {
	def, resolved, err := definition[RequestSuggestionsInput]("requestSuggestions",
		"Request suggestions for a document")
	if err != nil {
		return nil, err
	}
	return &RequestSuggestions{def: def, resolved: resolved}, nil
}

func (t *RequestSuggestions) Name() string { return "requestSuggestions" }

func (t *RequestSuggestions) Definition() *ai.ToolDefinition { return t.def }

func (t *RequestSuggestions) Run(ctx context.Context, b *Binding, raw json.RawMessage) (any, error) {
	input, err := decodeInput[RequestSuggestionsInput](t.resolved, raw)
	if err != nil {
		return nil, err
	}

	id, err := uuid.Parse(input.DocumentID)
	if err != nil {
		return nil, fmt.Errorf("invalid document id: %w", err)
	}

	doc, err := b.Docs.GetDocument(ctx, id)
	if err != nil {
		if errorsIsNotFound(err) {
			return errorResult("Document not found"), nil
		}
		return nil, err
	}
	if doc.Content == "" {
		return errorResult("Document not found"), nil
	}

	maxSuggestions := b.MaxSuggestions
	if maxSuggestions <= 0 {
		maxSuggestions = 5
	}

	count := 0
	err = b.Model.StreamElements(ctx, b.ModelName, b.Prompts.Suggestions, doc.Content,
		suggestionsArraySchema, func(elem json.RawMessage) error {
			if count >= maxSuggestions {
				return nil
			}
			var se suggestionElement
			if err := json.Unmarshal(elem, &se); err != nil {
				b.Logger.Warn("skipping malformed suggestion element", "error", err)
				return nil
			}

			sg := &chat.Suggestion{
				ID:                uuid.New(),
				DocumentID:        doc.ID,
				DocumentCreatedAt: doc.CreatedAt,
				OriginalText:      se.OriginalSentence,
				SuggestedText:     se.SuggestedSentence,
				Description:       se.Description,
				UserID:            b.UserID,
			}

			payload := stream.SuggestionPayload{
				ID:                sg.ID.String(),
				DocumentID:        sg.DocumentID.String(),
				DocumentCreatedAt: doc.CreatedAt.Format(time.RFC3339Nano),
				OriginalText:      sg.OriginalText,
				SuggestedText:     sg.SuggestedText,
				Description:       sg.Description,
				IsResolved:        false,
			}
			if err := b.Sink.Write(stream.Event{Type: stream.TypeSuggestion, Content: payload}); err != nil {
				return fmt.Errorf("writing suggestion event: %w", err)
			}

			if err := b.Docs.SaveSuggestion(ctx, sg); err != nil {
				return err
			}
			count++
			return nil
		})
	if err != nil {
		return nil, err
	}

	return map[string]any{
		"id":      doc.ID.String(),
		"title":   doc.Title,
		"kind":    doc.Kind,
		"message": "Suggestions have been added to the document",
	}, nil
}
