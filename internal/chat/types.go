package chat

import (
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/google/uuid"
)

// Document kinds. Text documents accumulate streamed deltas; code documents
// are replaced wholesale on each streamed snapshot.
const (
	KindText = "text"
	KindCode = "code"
)

// ValidKind reports whether kind names a supported document kind.
func ValidKind(kind string) bool {
	return kind == KindText || kind == KindCode
}

// Chat is one conversation owned by a user.
type Chat struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	Title     string
	CreatedAt time.Time
}

// Message is one conversation entry. Content is the model-native part list,
// stored as JSONB, so tool requests and responses round-trip losslessly.
type Message struct {
	ID        uuid.UUID
	ChatID    uuid.UUID
	Role      string
	Content   []*ai.Part
	CreatedAt time.Time
}

// Document is one version of a generated artifact. Versions share an ID and
// are distinguished by CreatedAt; the newest row is the current content.
type Document struct {
	ID        uuid.UUID
	CreatedAt time.Time
	UserID    uuid.UUID
	Title     string
	Kind      string
	Content   string
}

// Suggestion is one writing suggestion pinned to a specific document version.
type Suggestion struct {
	ID                uuid.UUID
	DocumentID        uuid.UUID
	DocumentCreatedAt time.Time
	OriginalText      string
	SuggestedText     string
	Description       string
	IsResolved        bool
	UserID            uuid.UUID
	CreatedAt         time.Time
}
