package testutil

import (
	"context"
	"strings"
	"sync"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
)

// MockModelName is the name the mock registers under in Genkit.
const MockModelName = "mock/test-model"

// MockModel provides deterministic model responses for testing.
// It matches the last user message against registered patterns and
// replays the corresponding scripted response, streaming it chunk by
// chunk so callers exercise their delta handling.
//
// Thread-safe for concurrent use.
type MockModel struct {
	mu       sync.Mutex
	rules    []mockRule
	fallback string
	calls    []MockCall
}

type mockRule struct {
	pattern string            // substring match in last user message
	chunks  []string          // streamed one chunk per entry
	tools   []*ai.ToolRequest // tool calls to request (nil = text only)
}

// MockCall records a single call to the mock model.
type MockCall struct {
	UserMessage string // last user message text
	Response    string // full response text returned
}

// NewMockModel creates a mock model with the given fallback response.
// The fallback is returned as a single chunk when no pattern matches.
func NewMockModel(fallback string) *MockModel {
	return &MockModel{fallback: fallback}
}

// AddResponse registers a pattern that streams the given chunks.
// Matching is a case-insensitive substring check; first match wins.
func (m *MockModel) AddResponse(pattern string, chunks ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rules = append(m.rules, mockRule{
		pattern: strings.ToLower(pattern),
		chunks:  chunks,
	})
}

// AddToolResponse registers a pattern whose response requests tool calls
// alongside the streamed text.
func (m *MockModel) AddToolResponse(pattern string, tools []*ai.ToolRequest, chunks ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rules = append(m.rules, mockRule{
		pattern: strings.ToLower(pattern),
		chunks:  chunks,
		tools:   tools,
	})
}

// Calls returns a copy of all recorded calls.
func (m *MockModel) Calls() []MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]MockCall, len(m.calls))
	copy(cp, m.calls)
	return cp
}

// Reset clears all recorded calls (keeps registered responses).
func (m *MockModel) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
}

// Register registers the mock as a Genkit model under MockModelName.
func (m *MockModel) Register(g *genkit.Genkit) ai.Model {
	return genkit.DefineModel(g, MockModelName, &ai.ModelOptions{
		Label: "Mock Test Model",
		Supports: &ai.ModelSupports{
			Multiturn:  true,
			Tools:      true,
			SystemRole: true,
			Media:      false,
		},
	}, m.generate)
}

func (m *MockModel) generate(ctx context.Context, req *ai.ModelRequest, cb ai.ModelStreamCallback) (*ai.ModelResponse, error) {
	var userText string
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == ai.RoleUser {
			userText = req.Messages[i].Text()
			break
		}
	}

	m.mu.Lock()
	var matched *mockRule
	lower := strings.ToLower(userText)
	for i := range m.rules {
		if strings.Contains(lower, m.rules[i].pattern) {
			matched = &m.rules[i]
			break
		}
	}

	chunks := []string{m.fallback}
	if matched != nil {
		chunks = matched.chunks
	}
	full := strings.Join(chunks, "")

	m.calls = append(m.calls, MockCall{
		UserMessage: userText,
		Response:    full,
	})
	m.mu.Unlock()

	if cb != nil {
		for _, chunk := range chunks {
			if err := cb(ctx, &ai.ModelResponseChunk{
				Content: []*ai.Part{ai.NewTextPart(chunk)},
			}); err != nil {
				return nil, err
			}
		}
	}

	var parts []*ai.Part
	if matched != nil {
		for _, tr := range matched.tools {
			parts = append(parts, &ai.Part{
				Kind:        ai.PartToolRequest,
				ToolRequest: tr,
			})
		}
	}
	if full != "" {
		parts = append(parts, ai.NewTextPart(full))
	}
	if len(parts) == 0 {
		parts = append(parts, ai.NewTextPart(""))
	}

	return &ai.ModelResponse{
		Request: req,
		Message: &ai.Message{
			Role:    ai.RoleModel,
			Content: parts,
		},
	}, nil
}
