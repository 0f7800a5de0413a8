package turn

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/firebase/genkit/go/ai"

	"github.com/joyhealth/joy/internal/chat"
	"github.com/joyhealth/joy/internal/config"
	"github.com/joyhealth/joy/internal/log"
	"github.com/joyhealth/joy/internal/model"
)

// exportTriggerTitle is the document title that triggers form export.
const exportTriggerTitle = "Patient Info"

const exportTimeout = 30 * time.Second

// Exporter forwards extracted screening answers to the external form
// service. Only allow-listed identities trigger a submission; every failure
// along the way is logged and absorbed.
type Exporter struct {
	cfg    config.ExportConfig
	client *http.Client
	logger log.Logger
}

// NewExporter creates an Exporter over the configured endpoint.
func NewExporter(cfg config.ExportConfig, logger log.Logger) *Exporter {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Exporter{
		cfg:    cfg,
		client: &http.Client{Timeout: exportTimeout},
		logger: logger,
	}
}

// maybeExport runs the export automation when the turn created the screening
// document. It never returns an error; the turn's outcome is already decided.
func (c *Controller) maybeExport(ctx context.Context, modelName string, sanitized []*ai.Message, created []*chat.Document, id Identity) {
	if c.exporter == nil || c.exporter.cfg.Endpoint == "" {
		return
	}
	if !screeningDocumentRequested(sanitized) {
		return
	}

	doc := createdDocumentByTitle(created, exportTriggerTitle)
	if doc == nil || doc.Content == "" {
		c.logger.Debug("screening document requested but no content captured")
		return
	}

	raw, err := c.model.Complete(ctx, modelName, c.cfg.Prompts.Extraction, doc.Content)
	if err != nil {
		c.logger.Warn("answer extraction failed", "error", err)
		return
	}

	answers, err := model.DecodeStringArray(raw)
	if err != nil {
		c.logger.Warn("extracted answers not a valid list", "error", err)
		return
	}

	if !c.exporter.cfg.Allowed(id.Email) {
		c.logger.Debug("export skipped, email not allow-listed")
		return
	}

	if err := c.exporter.Submit(ctx, answers, id.Email); err != nil {
		c.logger.Warn("form submission failed", "error", err)
	}
}

// Submit posts the answers and the submitting email to the form service.
func (e *Exporter) Submit(ctx context.Context, answers []string, email string) error {
	payload, err := json.Marshal(map[string]any{
		"answers": answers,
		"email":   email,
	})
	if err != nil {
		return fmt.Errorf("marshaling export payload: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, exportTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.cfg.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("building export request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("posting export: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("form service returned status %d", resp.StatusCode)
	}

	e.logger.Info("screening answers exported", "answer_count", len(answers))
	return nil
}

// screeningDocumentRequested reports whether the assistant invoked
// createDocument with the screening title during this turn.
func screeningDocumentRequested(messages []*ai.Message) bool {
	for _, msg := range messages {
		if msg.Role != ai.RoleModel {
			continue
		}
		for _, part := range msg.Content {
			if part == nil || part.ToolRequest == nil || part.ToolRequest.Name != "createDocument" {
				continue
			}
			if input, ok := part.ToolRequest.Input.(map[string]any); ok {
				if title, ok := input["title"].(string); ok && title == exportTriggerTitle {
					return true
				}
			}
		}
	}
	return false
}

// createdDocumentByTitle finds the last document created this turn with the
// given title.
func createdDocumentByTitle(docs []*chat.Document, title string) *chat.Document {
	for i := len(docs) - 1; i >= 0; i-- {
		if docs[i].Title == title {
			return docs[i]
		}
	}
	return nil
}
