package anthropic

import (
	"encoding/json"
	"io"
	"strings"

	"llmgate/internal/core"
	"llmgate/internal/pkg/llmclient"
)

// blockState tracks one in-flight content block during streaming.
type blockState struct {
	kind string // "text" or "tool_use"
	id   string
	name string
	args strings.Builder
}

// assembleStream consumes a messages-API SSE body, emitting canonical chunks
// and returning the assembled result.
func assembleStream(body io.Reader, model string, emit core.ChunkHandler) (*core.ChatResult, error) {
	result := &core.ChatResult{
		Model:    model,
		Provider: "anthropic",
	}
	var content strings.Builder
	blocks := make(map[int]*blockState)
	toolIndex := make(map[int]int) // block index -> canonical tool call index
	sawEvent := false

	scanner := llmclient.NewSSEScanner(body)
	for {
		sse, err := scanner.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, core.NewTransientError("anthropic", 0, "stream read failed: "+err.Error(), err)
		}
		if len(sse.Data) == 0 {
			continue
		}

		var ev streamEvent
		if err := json.Unmarshal(sse.Data, &ev); err != nil {
			return nil, core.NewMalformedUpstreamError("anthropic", "unparseable stream event", err)
		}
		sawEvent = true

		switch ev.Type {
		case "message_start":
			if ev.Message != nil {
				result.ID = ev.Message.ID
				if ev.Message.Model != "" {
					result.Model = ev.Message.Model
				}
				result.Usage.PromptTokens = ev.Message.Usage.InputTokens
			}

		case "content_block_start":
			if ev.ContentBlock == nil {
				continue
			}
			b := &blockState{kind: ev.ContentBlock.Type, id: ev.ContentBlock.ID, name: ev.ContentBlock.Name}
			blocks[ev.Index] = b
			if b.kind == "tool_use" {
				idx := len(toolIndex)
				toolIndex[ev.Index] = idx
				if err := emit(core.StreamChunk{ToolCallDelta: &core.ToolCallDelta{
					Index: idx,
					ID:    b.id,
					Name:  b.name,
				}}); err != nil {
					return nil, err
				}
			}

		case "content_block_delta":
			if ev.Delta == nil {
				continue
			}
			switch ev.Delta.Type {
			case "text_delta":
				content.WriteString(ev.Delta.Text)
				if err := emit(core.StreamChunk{ContentDelta: ev.Delta.Text}); err != nil {
					return nil, err
				}
			case "input_json_delta":
				if b, ok := blocks[ev.Index]; ok {
					b.args.WriteString(ev.Delta.PartialJSON)
				}
				if err := emit(core.StreamChunk{ToolCallDelta: &core.ToolCallDelta{
					Index:          toolIndex[ev.Index],
					ArgumentsDelta: ev.Delta.PartialJSON,
				}}); err != nil {
					return nil, err
				}
			}

		case "content_block_stop":
			if b, ok := blocks[ev.Index]; ok && b.kind == "tool_use" {
				args := b.args.String()
				if args == "" {
					args = "{}"
				}
				result.ToolCalls = append(result.ToolCalls, core.ToolCall{
					ID:        b.id,
					Name:      b.name,
					Arguments: args,
				})
			}

		case "message_delta":
			if ev.Delta != nil && ev.Delta.StopReason != "" {
				result.FinishReason = mapStopReason(ev.Delta.StopReason)
			}
			if ev.Usage != nil {
				result.Usage.CompletionTokens = ev.Usage.OutputTokens
			}

		case "error":
			msg := "upstream stream error"
			if ev.Error != nil {
				msg = ev.Error.Message
			}
			return nil, core.NewTransientError("anthropic", 0, msg, nil)
		}
	}

	if !sawEvent {
		return nil, core.NewMalformedUpstreamError("anthropic", "stream ended without any events", nil)
	}

	result.Content = content.String()
	result.Usage.TotalTokens = result.Usage.PromptTokens + result.Usage.CompletionTokens

	if result.Usage.TotalTokens > 0 {
		u := result.Usage
		if err := emit(core.StreamChunk{Usage: &u}); err != nil {
			return nil, err
		}
	}

	return result, nil
}
