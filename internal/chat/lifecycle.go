package chat

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// DeleteOwned deletes a chat after verifying ownership.
// Returns ErrNotFound if the chat does not exist and ErrForbidden if it
// belongs to a different user.
func (s *Store) DeleteOwned(ctx context.Context, id, userID uuid.UUID) error {
	c, err := s.GetChat(ctx, id)
	if err != nil {
		return err
	}
	if c.UserID != userID {
		return fmt.Errorf("chat %s owned by another user: %w", id, ErrForbidden)
	}
	return s.DeleteChat(ctx, id)
}
