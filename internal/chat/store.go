// Package chat persists conversations, messages, documents, and suggestions
// in PostgreSQL.
package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/firebase/genkit/go/ai"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/joyhealth/joy/internal/log"
)

// Store manages conversation persistence. It is safe for concurrent use.
type Store struct {
	pool   *pgxpool.Pool
	logger log.Logger
}

// NewStore creates a Store backed by the given pool.
func NewStore(pool *pgxpool.Pool, logger log.Logger) *Store {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Store{pool: pool, logger: logger}
}

// CreateChat inserts a new chat row.
func (s *Store) CreateChat(ctx context.Context, c *Chat) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO chats (id, user_id, title) VALUES ($1, $2, $3)`,
		uuidToPg(c.ID), uuidToPg(c.UserID), c.Title)
	if err != nil {
		return fmt.Errorf("creating chat %s: %w", c.ID, err)
	}
	s.logger.Debug("created chat", "id", c.ID, "title", c.Title)
	return nil
}

// GetChat retrieves a chat by ID. Returns ErrNotFound if no row exists.
func (s *Store) GetChat(ctx context.Context, id uuid.UUID) (*Chat, error) {
	var (
		c      Chat
		cid    pgtype.UUID
		userID pgtype.UUID
		ts     pgtype.Timestamptz
	)
	err := s.pool.QueryRow(ctx,
		`SELECT id, user_id, title, created_at FROM chats WHERE id = $1`,
		uuidToPg(id)).Scan(&cid, &userID, &c.Title, &ts)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("chat %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting chat %s: %w", id, err)
	}
	c.ID = pgToUUID(cid)
	c.UserID = pgToUUID(userID)
	c.CreatedAt = ts.Time
	return &c, nil
}

// ListChats returns the chats owned by a user, newest first.
func (s *Store) ListChats(ctx context.Context, userID uuid.UUID) ([]*Chat, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, title, created_at FROM chats
		 WHERE user_id = $1 ORDER BY created_at DESC`,
		uuidToPg(userID))
	if err != nil {
		return nil, fmt.Errorf("listing chats for user %s: %w", userID, err)
	}
	defer rows.Close()

	var chats []*Chat
	for rows.Next() {
		var (
			c      Chat
			cid    pgtype.UUID
			uid    pgtype.UUID
			ts     pgtype.Timestamptz
		)
		if err := rows.Scan(&cid, &uid, &c.Title, &ts); err != nil {
			return nil, fmt.Errorf("scanning chat row: %w", err)
		}
		c.ID = pgToUUID(cid)
		c.UserID = pgToUUID(uid)
		c.CreatedAt = ts.Time
		chats = append(chats, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating chat rows: %w", err)
	}
	return chats, nil
}

// DeleteChat removes a chat and, via cascade, its messages.
// Returns ErrNotFound if the chat does not exist.
func (s *Store) DeleteChat(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM chats WHERE id = $1`, uuidToPg(id))
	if err != nil {
		return fmt.Errorf("deleting chat %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("chat %s: %w", id, ErrNotFound)
	}
	s.logger.Debug("deleted chat", "id", id)
	return nil
}

// SaveMessages inserts messages atomically. All rows commit or none do.
func (s *Store) SaveMessages(ctx context.Context, messages []*Message) error {
	if len(messages) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() {
		if err := tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
			s.logger.Debug("transaction rollback", "error", err)
		}
	}()

	for i, msg := range messages {
		if len(msg.Content) == 0 {
			return fmt.Errorf("message %d: %w", i, ErrEmptyContent)
		}
		for j, part := range msg.Content {
			if part == nil {
				return fmt.Errorf("message %d has nil content at index %d", i, j)
			}
		}

		contentJSON, err := json.Marshal(msg.Content)
		if err != nil {
			return fmt.Errorf("marshaling message content at index %d: %w", i, err)
		}

		if _, err := tx.Exec(ctx,
			`INSERT INTO messages (id, chat_id, role, content) VALUES ($1, $2, $3, $4)`,
			uuidToPg(msg.ID), uuidToPg(msg.ChatID), msg.Role, contentJSON); err != nil {
			return fmt.Errorf("inserting message %d: %w", i, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}

	s.logger.Debug("saved messages", "chat_id", messages[0].ChatID, "count", len(messages))
	return nil
}

// GetMessages retrieves a chat's messages ordered oldest first.
// Rows whose content fails to unmarshal are skipped with a warning.
func (s *Store) GetMessages(ctx context.Context, chatID uuid.UUID) ([]*Message, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, chat_id, role, content, created_at FROM messages
		 WHERE chat_id = $1 ORDER BY created_at ASC`,
		uuidToPg(chatID))
	if err != nil {
		return nil, fmt.Errorf("getting messages for chat %s: %w", chatID, err)
	}
	defer rows.Close()

	var messages []*Message
	for rows.Next() {
		var (
			m           Message
			mid, cid    pgtype.UUID
			contentJSON []byte
			ts          pgtype.Timestamptz
		)
		if err := rows.Scan(&mid, &cid, &m.Role, &contentJSON, &ts); err != nil {
			return nil, fmt.Errorf("scanning message row: %w", err)
		}

		var content []*ai.Part
		if err := json.Unmarshal(contentJSON, &content); err != nil {
			s.logger.Warn("skipping message with malformed content",
				"message_id", pgToUUID(mid), "error", err)
			continue
		}

		m.ID = pgToUUID(mid)
		m.ChatID = pgToUUID(cid)
		m.Content = content
		m.CreatedAt = ts.Time
		messages = append(messages, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating message rows: %w", err)
	}
	return messages, nil
}

// SaveDocument inserts a new document version. The same ID with a newer
// created_at supersedes earlier rows.
func (s *Store) SaveDocument(ctx context.Context, d *Document) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO documents (id, user_id, title, kind, content)
		 VALUES ($1, $2, $3, $4, $5)`,
		uuidToPg(d.ID), uuidToPg(d.UserID), d.Title, d.Kind, d.Content)
	if err != nil {
		return fmt.Errorf("saving document %s: %w", d.ID, err)
	}
	s.logger.Debug("saved document", "id", d.ID, "kind", d.Kind, "title", d.Title)
	return nil
}

// GetDocument retrieves the newest version of a document.
// Returns ErrNotFound if no version exists.
func (s *Store) GetDocument(ctx context.Context, id uuid.UUID) (*Document, error) {
	var (
		d        Document
		did, uid pgtype.UUID
		ts       pgtype.Timestamptz
		content  *string
	)
	err := s.pool.QueryRow(ctx,
		`SELECT id, created_at, user_id, title, kind, content FROM documents
		 WHERE id = $1 ORDER BY created_at DESC LIMIT 1`,
		uuidToPg(id)).Scan(&did, &ts, &uid, &d.Title, &d.Kind, &content)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("document %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting document %s: %w", id, err)
	}
	d.ID = pgToUUID(did)
	d.UserID = pgToUUID(uid)
	d.CreatedAt = ts.Time
	if content != nil {
		d.Content = *content
	}
	return &d, nil
}

// GetDocumentContents retrieves every version of a document, oldest first.
func (s *Store) GetDocumentContents(ctx context.Context, id uuid.UUID) ([]*Document, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, created_at, user_id, title, kind, content FROM documents
		 WHERE id = $1 ORDER BY created_at ASC`,
		uuidToPg(id))
	if err != nil {
		return nil, fmt.Errorf("getting document versions %s: %w", id, err)
	}
	defer rows.Close()

	var docs []*Document
	for rows.Next() {
		var (
			d        Document
			did, uid pgtype.UUID
			ts       pgtype.Timestamptz
			content  *string
		)
		if err := rows.Scan(&did, &ts, &uid, &d.Title, &d.Kind, &content); err != nil {
			return nil, fmt.Errorf("scanning document row: %w", err)
		}
		d.ID = pgToUUID(did)
		d.UserID = pgToUUID(uid)
		d.CreatedAt = ts.Time
		if content != nil {
			d.Content = *content
		}
		docs = append(docs, &d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating document rows: %w", err)
	}
	return docs, nil
}

// SaveSuggestion inserts one suggestion pinned to a document version.
func (s *Store) SaveSuggestion(ctx context.Context, sg *Suggestion) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO suggestions
		 (id, document_id, document_created_at, original_text, suggested_text,
		  description, is_resolved, user_id)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		uuidToPg(sg.ID), uuidToPg(sg.DocumentID),
		pgtype.Timestamptz{Time: sg.DocumentCreatedAt, Valid: true},
		sg.OriginalText, sg.SuggestedText, sg.Description, sg.IsResolved,
		uuidToPg(sg.UserID))
	if err != nil {
		return fmt.Errorf("saving suggestion %s: %w", sg.ID, err)
	}
	return nil
}

// GetSuggestions retrieves the suggestions recorded for a document.
func (s *Store) GetSuggestions(ctx context.Context, documentID uuid.UUID) ([]*Suggestion, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, document_id, document_created_at, original_text, suggested_text,
		        description, is_resolved, user_id, created_at
		 FROM suggestions WHERE document_id = $1 ORDER BY created_at ASC`,
		uuidToPg(documentID))
	if err != nil {
		return nil, fmt.Errorf("getting suggestions for document %s: %w", documentID, err)
	}
	defer rows.Close()

	var suggestions []*Suggestion
	for rows.Next() {
		var (
			sg            Suggestion
			sid, did, uid pgtype.UUID
			docTS, ts     pgtype.Timestamptz
			description   *string
		)
		if err := rows.Scan(&sid, &did, &docTS, &sg.OriginalText, &sg.SuggestedText,
			&description, &sg.IsResolved, &uid, &ts); err != nil {
			return nil, fmt.Errorf("scanning suggestion row: %w", err)
		}
		sg.ID = pgToUUID(sid)
		sg.DocumentID = pgToUUID(did)
		sg.DocumentCreatedAt = docTS.Time
		sg.UserID = pgToUUID(uid)
		sg.CreatedAt = ts.Time
		if description != nil {
			sg.Description = *description
		}
		suggestions = append(suggestions, &sg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating suggestion rows: %w", err)
	}
	return suggestions, nil
}

// uuidToPg converts uuid.UUID to pgtype.UUID.
func uuidToPg(id uuid.UUID) pgtype.UUID {
	return pgtype.UUID{Bytes: id, Valid: true}
}

// pgToUUID converts pgtype.UUID to uuid.UUID.
func pgToUUID(id pgtype.UUID) uuid.UUID {
	if !id.Valid {
		return uuid.Nil
	}
	return id.Bytes
}
