package mcp

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/jllopis/techpulse/pkg/errors"
	"github.com/jllopis/techpulse/pkg/llm"
)

// ToolDefinition converts an MCP tool into an LLM function tool definition.
// The function name is qualified with the binding name so tools with the
// same name on different servers stay distinct.
func ToolDefinition(binding string, tool mcp.Tool) llm.Tool {
	var params any = tool.InputSchema
	if tool.RawInputSchema != nil {
		params = tool.RawInputSchema
	}
	return llm.NewFunctionTool(QualifiedName(binding, tool.Name), tool.Description, params)
}

// QualifiedName joins a binding and a tool name as the model sees it.
func QualifiedName(binding, tool string) string {
	return binding + "__" + tool
}

// SplitQualifiedName is the inverse of QualifiedName.
func SplitQualifiedName(name string) (binding, tool string, ok bool) {
	binding, tool, ok = strings.Cut(name, "__")
	if !ok || binding == "" || tool == "" {
		return "", "", false
	}
	return binding, tool, true
}

func validateRequiredArgs(tool mcp.Tool, args map[string]any) error {
	schema := tool.InputSchema
	if schema.Type != "" && schema.Type != "object" {
		return nil
	}
	for _, key := range schema.Required {
		if _, ok := args[key]; !ok {
			return errors.Newf(errors.CodeInvalidInput, "tool %s: missing required argument %q", tool.Name, key)
		}
	}
	return nil
}

// toolResultToOutput decodes a tool result. Structured content wins; text
// content is parsed as JSON when it is JSON, otherwise returned as a string.
func toolResultToOutput(result *mcp.CallToolResult) (any, error) {
	if result == nil {
		return nil, fmt.Errorf("mcp tool result is nil")
	}

	if result.IsError {
		return nil, fmt.Errorf("mcp tool returned error: %s", extractTextContent(result.Content))
	}

	if result.StructuredContent != nil {
		return result.StructuredContent, nil
	}

	text := extractTextContent(result.Content)
	if text == "" {
		return nil, nil
	}
	trimmed := strings.TrimSpace(text)
	if strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[") {
		var decoded any
		if err := json.Unmarshal([]byte(trimmed), &decoded); err == nil {
			return decoded, nil
		}
	}
	return text, nil
}

func extractTextContent(items []mcp.Content) string {
	if len(items) == 0 {
		return ""
	}
	var parts []string
	for _, item := range items {
		switch content := item.(type) {
		case mcp.TextContent:
			parts = append(parts, content.Text)
		case *mcp.TextContent:
			parts = append(parts, content.Text)
		}
	}
	return strings.Join(parts, "\n")
}
