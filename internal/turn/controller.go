// Package turn orchestrates one conversation turn: it persists the user's
// input, runs the bounded tool-calling loop against the model, streams every
// event in order through one sink, and finalizes produced messages.
package turn

import (
	"context"
	"fmt"

	"github.com/firebase/genkit/go/ai"
	"github.com/google/uuid"

	"github.com/joyhealth/joy/internal/chat"
	"github.com/joyhealth/joy/internal/config"
	"github.com/joyhealth/joy/internal/log"
	"github.com/joyhealth/joy/internal/stream"
	"github.com/joyhealth/joy/internal/tool"
)

// Identity is the authenticated caller of a turn.
type Identity struct {
	UserID uuid.UUID
	Email  string
}

// Store is the persistence surface the controller needs.
type Store interface {
	GetChat(ctx context.Context, id uuid.UUID) (*chat.Chat, error)
	CreateChat(ctx context.Context, c *chat.Chat) error
	SaveMessages(ctx context.Context, messages []*chat.Message) error
}

// Model is the generation surface the controller needs: one-shot completion
// for titles and extraction, and single tool-loop steps.
type Model interface {
	Complete(ctx context.Context, modelName, system, prompt string) (string, error)
	Step(ctx context.Context, modelName, system string, messages []*ai.Message, tools []*ai.ToolDefinition, onDelta func(delta string) error) (*ai.Message, error)
}

// Request is one turn submission.
type Request struct {
	ChatID   uuid.UUID
	ModelID  string
	Messages []*ai.Message
	Identity Identity
}

// Controller runs turns. It is stateless across turns and safe for
// concurrent use.
type Controller struct {
	cfg      *config.Config
	store    Store
	docs     tool.DocumentStore
	model    Model
	gen      tool.Generator
	tools    *tool.Registry
	exporter *Exporter
	logger   log.Logger
}

// NewController wires a turn controller.
func NewController(cfg *config.Config, store Store, docs tool.DocumentStore, m Model, gen tool.Generator, registry *tool.Registry, exporter *Exporter, logger log.Logger) *Controller {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Controller{
		cfg:      cfg,
		store:    store,
		docs:     docs,
		model:    m,
		gen:      gen,
		tools:    registry,
		exporter: exporter,
		logger:   logger,
	}
}

// Run executes one turn, writing every event to sink in emission order.
// Returned errors map to transport statuses; once streaming has begun,
// failures are logged and the stream simply ends.
func (c *Controller) Run(ctx context.Context, req *Request, sink stream.Sink) error {
	m, ok := c.cfg.LookupModel(req.ModelID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrModelNotFound, req.ModelID)
	}

	userMsg := lastUserMessage(req.Messages)
	if userMsg == nil {
		return ErrNoUserMessage
	}

	if err := c.ensureChat(ctx, req, m, userMsg); err != nil {
		return err
	}

	// The user's input is durable before any generation starts.
	userMessageID := uuid.New()
	if err := c.store.SaveMessages(ctx, []*chat.Message{{
		ID:      userMessageID,
		ChatID:  req.ChatID,
		Role:    string(ai.RoleUser),
		Content: userMsg.Content,
	}}); err != nil {
		return fmt.Errorf("persisting user message: %w", err)
	}

	if err := sink.Write(stream.Event{Type: stream.TypeUserMessageID, Content: userMessageID.String()}); err != nil {
		return fmt.Errorf("writing user message id: %w", err)
	}

	binding := &tool.Binding{
		Sink:           sink,
		Docs:           c.docs,
		Model:          c.gen,
		ModelName:      m.ProviderModel,
		Prompts:        c.cfg.Prompts,
		UserID:         req.Identity.UserID,
		Messages:       req.Messages,
		MaxSuggestions: c.cfg.MaxSuggestions,
		Logger:         c.logger,
	}

	produced, err := c.runLoop(ctx, m.ProviderModel, req.Messages, binding, sink)
	if err != nil {
		return err
	}

	c.finalize(ctx, req, m, produced, binding, sink)
	return nil
}

// runLoop executes the bounded tool-calling loop. Each step streams text
// deltas as they arrive; tool requests are dispatched sequentially and their
// results appended to the in-context history before the next step. The loop
// ends on a step with no tool requests or when the step budget runs out.
func (c *Controller) runLoop(ctx context.Context, modelName string, history []*ai.Message, binding *tool.Binding, sink stream.Sink) ([]*ai.Message, error) {
	messages := append([]*ai.Message{}, history...)
	var produced []*ai.Message

	for step := 0; step < c.cfg.MaxSteps; step++ {
		msg, err := c.model.Step(ctx, modelName, c.cfg.Prompts.System, messages, c.tools.Definitions(), func(delta string) error {
			return sink.Write(stream.Event{Type: stream.TypeTextDelta, Content: delta})
		})
		if err != nil {
			return nil, fmt.Errorf("step %d: %w", step, err)
		}

		messages = append(messages, msg)
		produced = append(produced, msg)

		requests := toolRequests(msg)
		if len(requests) == 0 {
			break
		}

		parts := make([]*ai.Part, 0, len(requests))
		for _, tr := range requests {
			out := c.tools.Dispatch(ctx, binding, tr)
			parts = append(parts, ai.NewToolResponsePart(&ai.ToolResponse{
				Name:   tr.Name,
				Ref:    tr.Ref,
				Output: out,
			}))
		}

		toolMsg := &ai.Message{Role: ai.RoleTool, Content: parts}
		messages = append(messages, toolMsg)
		produced = append(produced, toolMsg)
	}

	return produced, nil
}

// ensureChat loads the conversation or creates it, generating a title from
// the user's first message. Ownership of an existing chat must match.
func (c *Controller) ensureChat(ctx context.Context, req *Request, m config.Model, userMsg *ai.Message) error {
	existing, err := c.store.GetChat(ctx, req.ChatID)
	if err == nil {
		if existing.UserID != req.Identity.UserID {
			return fmt.Errorf("chat %s: %w", req.ChatID, chat.ErrForbidden)
		}
		return nil
	}
	if !errorsIsNotFound(err) {
		return fmt.Errorf("loading chat: %w", err)
	}

	title := c.generateTitle(ctx, m.ProviderModel, userMsg.Text())
	return c.store.CreateChat(ctx, &chat.Chat{
		ID:     req.ChatID,
		UserID: req.Identity.UserID,
		Title:  title,
	})
}

const titleMaxRunes = 80

// generateTitle produces a short conversation title. Best-effort: model
// failure falls back to truncating the user's message.
func (c *Controller) generateTitle(ctx context.Context, modelName, userText string) string {
	title, err := c.model.Complete(ctx, modelName, c.cfg.Prompts.Title, userText)
	if err != nil || title == "" {
		if err != nil {
			c.logger.Debug("title generation failed", "error", err)
		}
		title = userText
	}

	runes := []rune(title)
	if len(runes) > titleMaxRunes {
		title = string(runes[:titleMaxRunes-3]) + "..."
	}
	return title
}

// lastUserMessage returns the most recent user-authored message, or nil.
func lastUserMessage(messages []*ai.Message) *ai.Message {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i] != nil && messages[i].Role == ai.RoleUser {
			return messages[i]
		}
	}
	return nil
}

// toolRequests extracts the tool request parts of a message, in order.
func toolRequests(msg *ai.Message) []*ai.ToolRequest {
	var requests []*ai.ToolRequest
	for _, part := range msg.Content {
		if part != nil && part.ToolRequest != nil {
			requests = append(requests, part.ToolRequest)
		}
	}
	return requests
}
