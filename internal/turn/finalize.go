package turn

import (
	"context"
	"errors"

	"github.com/firebase/genkit/go/ai"
	"github.com/google/uuid"

	"github.com/joyhealth/joy/internal/chat"
	"github.com/joyhealth/joy/internal/config"
	"github.com/joyhealth/joy/internal/stream"
	"github.com/joyhealth/joy/internal/tool"
)

// finalize persists the messages the loop produced and triggers the export
// automation. Nothing here fails the turn: the client already has the
// streamed content, so persistence problems are logged and absorbed.
func (c *Controller) finalize(ctx context.Context, req *Request, m config.Model, produced []*ai.Message, binding *tool.Binding, sink stream.Sink) {
	sanitized := sanitizeMessages(produced)
	if dropped := len(produced) - len(sanitized); dropped > 0 {
		c.logger.Debug("dropped messages with unresolved tool calls",
			"chat_id", req.ChatID, "count", dropped)
	}

	for _, msg := range sanitized {
		id := uuid.New()

		if msg.Role == ai.RoleModel {
			if err := sink.Write(stream.Event{
				Type:    stream.TypeMessageAnnotation,
				Content: stream.AnnotationPayload{MessageIDFromServer: id.String()},
			}); err != nil {
				c.logger.Warn("writing message annotation", "error", err)
			}
		}

		if err := c.store.SaveMessages(ctx, []*chat.Message{{
			ID:      id,
			ChatID:  req.ChatID,
			Role:    string(msg.Role),
			Content: msg.Content,
		}}); err != nil {
			c.logger.Error("persisting assistant message", "chat_id", req.ChatID, "error", err)
		}
	}

	c.maybeExport(ctx, m.ProviderModel, sanitized, binding.CreatedDocuments(), req.Identity)
}

// sanitizeMessages drops assistant messages that consist solely of tool
// requests never matched by a result. Text parts and resolved requests
// survive; tool-result messages pass through unchanged.
func sanitizeMessages(messages []*ai.Message) []*ai.Message {
	resolved := make(map[string]bool)
	for _, msg := range messages {
		if msg.Role != ai.RoleTool {
			continue
		}
		for _, part := range msg.Content {
			if part != nil && part.ToolResponse != nil {
				resolved[toolKey(part.ToolResponse.Name, part.ToolResponse.Ref)] = true
			}
		}
	}

	var out []*ai.Message
	for _, msg := range messages {
		if msg.Role != ai.RoleModel {
			out = append(out, msg)
			continue
		}

		var kept []*ai.Part
		for _, part := range msg.Content {
			switch {
			case part == nil:
			case part.ToolRequest != nil:
				if resolved[toolKey(part.ToolRequest.Name, part.ToolRequest.Ref)] {
					kept = append(kept, part)
				}
			case part.IsText():
				if part.Text != "" {
					kept = append(kept, part)
				}
			default:
				kept = append(kept, part)
			}
		}
		if len(kept) == 0 {
			continue
		}
		out = append(out, &ai.Message{Role: msg.Role, Content: kept, Metadata: msg.Metadata})
	}
	return out
}

// toolKey identifies a tool invocation for request/result matching.
func toolKey(name, ref string) string {
	if ref != "" {
		return name + "#" + ref
	}
	return name
}

// errorsIsNotFound reports whether err is the store's missing-row error.
func errorsIsNotFound(err error) bool {
	return errors.Is(err, chat.ErrNotFound)
}
