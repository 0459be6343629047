package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"google.golang.org/genai"

	"github.com/jllopis/techpulse/pkg/errors"
)

// GeminiProvider talks to the Gemini API.
type GeminiProvider struct {
	client *genai.Client
}

// NewGemini creates a provider. An empty apiKey falls back to GEMINI_API_KEY
// or GOOGLE_API_KEY; construction fails when neither is set. No request is
// made until Chat is called.
func NewGemini(ctx context.Context, apiKey, baseURL string, timeout time.Duration) (*GeminiProvider, error) {
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:      apiKey,
		Backend:     genai.BackendGeminiAPI,
		HTTPClient:  &http.Client{Timeout: timeout},
		HTTPOptions: genai.HTTPOptions{BaseURL: baseURL},
	})
	if err != nil {
		return nil, errors.New(errors.CodeConfiguration, "create gemini client", err)
	}
	return &GeminiProvider{client: client}, nil
}

// Chat sends one GenerateContent request and maps the first candidate.
func (p *GeminiProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	contents, system := geminiContents(req.Messages)

	cfg := &genai.GenerateContentConfig{}
	if system != "" {
		cfg.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: system}}}
	}
	if req.Temperature > 0 {
		temp := float32(req.Temperature)
		cfg.Temperature = &temp
	}
	if len(req.Tools) > 0 {
		decls := make([]*genai.FunctionDeclaration, 0, len(req.Tools))
		for _, t := range req.Tools {
			decls = append(decls, &genai.FunctionDeclaration{
				Name:        t.Function.Name,
				Description: t.Function.Description,
				Parameters:  geminiSchema(schemaMap(t.Function.Parameters)),
			})
		}
		cfg.Tools = []*genai.Tool{{FunctionDeclarations: decls}}
	}

	resp, err := p.client.Models.GenerateContent(ctx, req.Model, contents, cfg)
	if err != nil {
		return nil, errors.New(errors.CodeLLMError, "gemini generate content failed", err)
	}
	if len(resp.Candidates) == 0 {
		return nil, errors.New(errors.CodeLLMError, "no response from Gemini", nil)
	}

	out := &ChatResponse{}
	if u := resp.UsageMetadata; u != nil {
		out.Usage = Usage{
			PromptTokens:     int(u.PromptTokenCount),
			CompletionTokens: int(u.CandidatesTokenCount),
			TotalTokens:      int(u.TotalTokenCount),
		}
	}
	if c := resp.Candidates[0].Content; c != nil {
		var text strings.Builder
		for _, part := range c.Parts {
			text.WriteString(part.Text)
			if fc := part.FunctionCall; fc != nil {
				id := fc.ID
				if id == "" {
					id = fc.Name
				}
				out.ToolCalls = append(out.ToolCalls, NewToolCall(id, fc.Name, fc.Args))
			}
		}
		out.Content = text.String()
	}
	return out, nil
}

// geminiContents splits messages into contents and the system instruction.
// Tool results carry the call id as the function name, matching how Chat
// names calls that come back without an id.
func geminiContents(messages []Message) ([]*genai.Content, string) {
	var system []string
	contents := make([]*genai.Content, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case RoleSystem:
			system = append(system, m.Content)
		case RoleAssistant:
			c := &genai.Content{Role: "model"}
			if m.Content != "" {
				c.Parts = append(c.Parts, &genai.Part{Text: m.Content})
			}
			for _, tc := range m.ToolCalls {
				args, err := tc.Function.DecodeArguments()
				if err != nil {
					args = map[string]any{}
				}
				c.Parts = append(c.Parts, &genai.Part{FunctionCall: &genai.FunctionCall{Name: tc.Function.Name, Args: args}})
			}
			contents = append(contents, c)
		case RoleTool:
			var result map[string]any
			if err := json.Unmarshal([]byte(m.Content), &result); err != nil {
				result = map[string]any{"result": m.Content}
			}
			contents = append(contents, &genai.Content{
				Role:  "user",
				Parts: []*genai.Part{{FunctionResponse: &genai.FunctionResponse{Name: m.ToolCallID, Response: result}}},
			})
		default:
			contents = append(contents, &genai.Content{Role: "user", Parts: []*genai.Part{{Text: m.Content}}})
		}
	}
	return contents, strings.Join(system, "\n\n")
}

func schemaMap(v any) map[string]any {
	if m, ok := v.(map[string]any); ok {
		return m
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	var m map[string]any
	if json.Unmarshal(raw, &m) != nil {
		return nil
	}
	return m
}

// geminiSchema converts a JSON schema to the subset Gemini accepts.
func geminiSchema(schema map[string]any) *genai.Schema {
	if schema == nil {
		return nil
	}
	s := &genai.Schema{}
	if t, ok := schema["type"].(string); ok {
		s.Type = genai.Type(strings.ToUpper(t))
	}
	if d, ok := schema["description"].(string); ok {
		s.Description = d
	}
	if props, ok := schema["properties"].(map[string]any); ok {
		s.Properties = make(map[string]*genai.Schema, len(props))
		for name, prop := range props {
			if pm, ok := prop.(map[string]any); ok {
				s.Properties[name] = geminiSchema(pm)
			}
		}
	}
	s.Required = stringList(schema["required"])
	if items, ok := schema["items"].(map[string]any); ok {
		s.Items = geminiSchema(items)
	}
	s.Enum = stringList(schema["enum"])
	return s
}

func stringList(v any) []string {
	switch l := v.(type) {
	case []string:
		return l
	case []any:
		out := make([]string, 0, len(l))
		for _, e := range l {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

var _ Provider = (*GeminiProvider)(nil)
