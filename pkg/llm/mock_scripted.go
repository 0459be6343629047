package llm

import (
	"context"
	"errors"
	"sync"
)

// ScriptedMockProvider returns a pre-defined sequence of responses.
// Use it to script tool-call plans for deterministic orchestration tests.
type ScriptedMockProvider struct {
	mu        sync.Mutex
	responses []*ChatResponse
	Err       error
	// CallCount tracks how many times Chat has been called
	CallCount int
}

// NewScriptedMockProvider creates a provider answering with the given contents in order.
func NewScriptedMockProvider(contents ...string) *ScriptedMockProvider {
	s := &ScriptedMockProvider{}
	for _, c := range contents {
		s.AddResponse(c)
	}
	return s
}

// Chat pops the next scripted response or returns the configured error.
func (s *ScriptedMockProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.CallCount++

	if s.Err != nil {
		return nil, s.Err
	}
	if len(s.responses) == 0 {
		return nil, errors.New("scripted mock: no more responses available")
	}

	resp := s.responses[0]
	s.responses = s.responses[1:]
	return resp, nil
}

// AddResponse appends a plain text response to the queue.
func (s *ScriptedMockProvider) AddResponse(content string) {
	s.Add(&ChatResponse{
		Content: content,
		Usage:   Usage{PromptTokens: 10, CompletionTokens: 10, TotalTokens: 20},
	})
}

// AddToolCalls appends a response asking for the given tool calls.
func (s *ScriptedMockProvider) AddToolCalls(content string, calls ...ToolCall) {
	s.Add(&ChatResponse{Content: content, ToolCalls: calls})
}

// Add appends a raw response to the queue.
func (s *ScriptedMockProvider) Add(resp *ChatResponse) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.responses = append(s.responses, resp)
}

// Remaining returns the number of queued responses.
func (s *ScriptedMockProvider) Remaining() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.responses)
}
