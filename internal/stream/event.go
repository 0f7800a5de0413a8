// Package stream defines the turn event protocol and the sinks that carry it.
//
// A turn emits a single ordered sequence of typed events. Producers (the
// model stream, tool executions, the finalizer) all write through one Sink,
// which serializes them so the client observes events in emission order.
package stream

// Event types emitted during a turn.
const (
	// TypeUserMessageID announces the server-assigned ID of the user message.
	TypeUserMessageID = "user-message-id"

	// TypeID announces the ID of the document being streamed.
	TypeID = "id"

	// TypeTitle announces the document title.
	TypeTitle = "title"

	// TypeKind announces the document kind ("text" or "code").
	TypeKind = "kind"

	// TypeClear tells the client to reset the document body before new content.
	TypeClear = "clear"

	// TypeFinish marks the end of a document stream.
	TypeFinish = "finish"

	// TypeTextDelta appends a text fragment: assistant reply text or
	// text-kind document content, depending on the preceding control events.
	TypeTextDelta = "text-delta"

	// TypeCodeDelta replaces the code document body with a full snapshot.
	TypeCodeDelta = "code-delta"

	// TypeSuggestion carries one complete writing suggestion.
	TypeSuggestion = "suggestion"

	// TypeMessageAnnotation maps a finalized message to its stored identity.
	TypeMessageAnnotation = "message-annotation"
)

// Event is one entry in a turn's ordered event sequence.
type Event struct {
	Type    string `json:"type"`
	Content any    `json:"content"`
}

// SuggestionPayload is the content of a TypeSuggestion event.
type SuggestionPayload struct {
	ID                string `json:"id"`
	DocumentID        string `json:"documentId"`
	DocumentCreatedAt string `json:"documentCreatedAt"`
	OriginalText      string `json:"originalText"`
	SuggestedText     string `json:"suggestedText"`
	Description       string `json:"description"`
	IsResolved        bool   `json:"isResolved"`
}

// AnnotationPayload is the content of a TypeMessageAnnotation event.
type AnnotationPayload struct {
	MessageIDFromServer string `json:"messageIdFromServer"`
}
