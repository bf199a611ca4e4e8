// Package model defines the minimal LLM abstraction the planner, the domain
// capabilities and the relevance judge generate against. Provider adapters
// live in the openai and anthropic subpackages; MockModel serves tests.
package model

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// Message is a single role-tagged chat message.
type Message struct {
	Role    string `json:"role"` // "system", "user" or "assistant"
	Content string `json:"content"`
}

// Request captures the normalized model input.
type Request struct {
	Instructions string    `json:"instructions"` // system prompt, may be empty
	Messages     []Message `json:"messages"`
	Temperature  float64   `json:"temperature,omitempty"`
	MaxTokens    int64     `json:"max_tokens,omitempty"`
}

// Response is the completed model output.
type Response struct {
	Text         string `json:"text"`
	FinishReason string `json:"finish_reason,omitempty"`
}

// Info contains metadata about a model implementation.
type Info struct {
	Name     string `json:"name"`
	Provider string `json:"provider"` // "openai", "anthropic", "mock", etc.
}

// Model is the minimal interface required to drive generation. Implementations
// must honor context cancellation since calls are the engine's suspension points.
type Model interface {
	Complete(ctx context.Context, req Request) (Response, error)

	// Info returns information about the model implementation.
	Info() Info
}

// UserMessage is a convenience constructor for a user-authored message.
func UserMessage(text string) Message { return Message{Role: "user", Content: text} }

// MockModel is a lightweight in-memory Model useful for tests. Canned
// responses are matched by substring against the last user message so fixtures
// stay short; unmatched prompts receive a generic echo.
type MockModel struct {
	info Info

	mu        sync.Mutex
	canned    []cannedResponse
	err       error
	callCount int
}

type cannedResponse struct {
	substr string
	text   string
}

// NewMockModel constructs a MockModel.
func NewMockModel(name string) *MockModel {
	return &MockModel{info: Info{Name: name, Provider: "mock"}}
}

// AddResponse registers a canned completion returned when the last user
// message contains substr. Registrations are matched in insertion order.
func (m *MockModel) AddResponse(substr, text string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.canned = append(m.canned, cannedResponse{substr: substr, text: text})
}

// FailWith makes every subsequent Complete call return err.
func (m *MockModel) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// CallCount reports how many Complete calls have been made.
func (m *MockModel) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.callCount
}

// Complete implements Model.
func (m *MockModel) Complete(ctx context.Context, req Request) (Response, error) {
	m.mu.Lock()
	m.callCount++
	err := m.err
	canned := m.canned
	m.mu.Unlock()

	if err != nil {
		return Response{}, err
	}
	if ctx.Err() != nil {
		return Response{}, ctx.Err()
	}

	var input string
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == "user" {
			input = req.Messages[i].Content
			break
		}
	}
	for _, c := range canned {
		if strings.Contains(input, c.substr) {
			return Response{Text: c.text, FinishReason: "stop"}, nil
		}
	}
	return Response{Text: fmt.Sprintf("Mock response to: %s", input), FinishReason: "stop"}, nil
}

// Info implements Model.
func (m *MockModel) Info() Info { return m.info }
