package anthropic

import (
	"encoding/json"

	"llmgate/internal/core"
)

// Wire types for the Anthropic messages API.

type messagesRequest struct {
	Model       string             `json:"model"`
	Messages    []anthropicMessage `json:"messages"`
	MaxTokens   int                `json:"max_tokens"`
	Temperature *float64           `json:"temperature,omitempty"`
	System      string             `json:"system,omitempty"`
	Stream      bool               `json:"stream,omitempty"`
	Tools       []anthropicTool    `json:"tools,omitempty"`
}

type anthropicMessage struct {
	Role    string         `json:"role"`
	Content []contentBlock `json:"content"`
}

// contentBlock covers text, tool_use, and tool_result blocks.
type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`

	// tool_use fields
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`

	// tool_result fields
	ToolUseID string `json:"tool_use_id,omitempty"`
	Content   string `json:"content,omitempty"`
	IsError   bool   `json:"is_error,omitempty"`
}

type anthropicTool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema,omitempty"`
}

type messagesResponse struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"`
	Role       string         `json:"role"`
	Model      string         `json:"model"`
	Content    []contentBlock `json:"content"`
	StopReason string         `json:"stop_reason"`
	Usage      anthropicUsage `json:"usage"`
}

type anthropicUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// streamEvent is one SSE event from the messages stream.
type streamEvent struct {
	Type         string            `json:"type"`
	Index        int               `json:"index"`
	Message      *messagesResponse `json:"message,omitempty"`
	ContentBlock *contentBlock     `json:"content_block,omitempty"`
	Delta        *streamDelta      `json:"delta,omitempty"`
	Usage        *anthropicUsage   `json:"usage,omitempty"`
	Error        *streamError      `json:"error,omitempty"`
}

type streamDelta struct {
	Type        string `json:"type"`
	Text        string `json:"text,omitempty"`
	PartialJSON string `json:"partial_json,omitempty"`
	StopReason  string `json:"stop_reason,omitempty"`
}

type streamError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// defaultMaxTokens applies when the caller did not cap output; the messages
// API requires an explicit value.
const defaultMaxTokens = 4096

// toWireRequest converts the canonical request into the messages API shape.
// System messages are hoisted into the system field; tool-result turns become
// user messages carrying tool_result blocks.
func toWireRequest(req *core.ChatRequest) *messagesRequest {
	out := &messagesRequest{
		Model:       req.Model,
		MaxTokens:   defaultMaxTokens,
		Temperature: req.Temperature,
		Stream:      req.Stream,
	}
	if req.MaxTokens != nil {
		out.MaxTokens = *req.MaxTokens
	}

	for _, t := range req.Tools {
		out.Tools = append(out.Tools, anthropicTool{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: t.Parameters,
		})
	}

	for _, m := range req.Messages {
		switch m.Role {
		case core.RoleSystem:
			if out.System != "" {
				out.System += "\n\n"
			}
			out.System += m.Content

		case core.RoleTool:
			out.Messages = append(out.Messages, anthropicMessage{
				Role: "user",
				Content: []contentBlock{{
					Type:      "tool_result",
					ToolUseID: m.ToolCallID,
					Content:   m.Content,
				}},
			})

		case core.RoleAssistant:
			var blocks []contentBlock
			if m.Content != "" {
				blocks = append(blocks, contentBlock{Type: "text", Text: m.Content})
			}
			for _, tc := range m.ToolCalls {
				input := json.RawMessage(tc.Arguments)
				if len(input) == 0 {
					input = json.RawMessage("{}")
				}
				blocks = append(blocks, contentBlock{
					Type:  "tool_use",
					ID:    tc.ID,
					Name:  tc.Name,
					Input: input,
				})
			}
			if len(blocks) == 0 {
				blocks = []contentBlock{{Type: "text", Text: ""}}
			}
			out.Messages = append(out.Messages, anthropicMessage{Role: "assistant", Content: blocks})

		default:
			out.Messages = append(out.Messages, anthropicMessage{
				Role:    "user",
				Content: []contentBlock{{Type: "text", Text: m.Content}},
			})
		}
	}

	return out
}

// fromWireResponse converts a messages API response into canonical form.
func fromWireResponse(resp *messagesResponse) *core.ChatResult {
	out := &core.ChatResult{
		ID:           resp.ID,
		Model:        resp.Model,
		Provider:     "anthropic",
		FinishReason: mapStopReason(resp.StopReason),
		Usage: core.Usage{
			PromptTokens:     resp.Usage.InputTokens,
			CompletionTokens: resp.Usage.OutputTokens,
			TotalTokens:      resp.Usage.InputTokens + resp.Usage.OutputTokens,
		},
	}

	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			out.Content += block.Text
		case "tool_use":
			out.ToolCalls = append(out.ToolCalls, core.ToolCall{
				ID:        block.ID,
				Name:      block.Name,
				Arguments: string(block.Input),
			})
		}
	}

	return out
}

// mapStopReason translates Anthropic stop reasons into the canonical
// OpenAI-style vocabulary the rest of the gateway speaks.
func mapStopReason(reason string) string {
	switch reason {
	case "end_turn", "stop_sequence":
		return "stop"
	case "tool_use":
		return "tool_calls"
	case "max_tokens":
		return "length"
	default:
		return reason
	}
}
