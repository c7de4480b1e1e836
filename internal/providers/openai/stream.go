package openai

import (
	"bytes"
	"encoding/json"
	"io"
	"sort"
	"strings"

	"llmgate/internal/core"
	"llmgate/internal/pkg/llmclient"
)

// toolCallBuilder accumulates a tool call streamed in fragments keyed by index.
type toolCallBuilder struct {
	id   string
	name string
	args strings.Builder
}

// assembleStream consumes an OpenAI-format SSE body, emitting canonical
// chunks in generation order and returning the assembled result.
func assembleStream(body io.Reader, providerType, model string, emit core.ChunkHandler) (*core.ChatResult, error) {
	result := &core.ChatResult{
		Model:    model,
		Provider: providerType,
	}
	var content strings.Builder
	builders := make(map[int]*toolCallBuilder)
	sawData := false

	scanner := llmclient.NewSSEScanner(body)
	for {
		ev, err := scanner.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, core.NewTransientError(providerType, 0, "stream read failed: "+err.Error(), err)
		}
		if len(ev.Data) == 0 || bytes.Equal(ev.Data, []byte("[DONE]")) {
			continue
		}

		var chunk streamChunk
		if err := json.Unmarshal(ev.Data, &chunk); err != nil {
			return nil, core.NewMalformedUpstreamError(providerType, "unparseable stream chunk", err)
		}
		sawData = true

		if chunk.ID != "" {
			result.ID = chunk.ID
		}
		if chunk.Model != "" {
			result.Model = chunk.Model
		}
		if chunk.Created != 0 {
			result.Created = chunk.Created
		}
		if chunk.Usage != nil {
			u := core.Usage{
				PromptTokens:     chunk.Usage.PromptTokens,
				CompletionTokens: chunk.Usage.CompletionTokens,
				TotalTokens:      chunk.Usage.TotalTokens,
			}
			result.Usage = u
			if err := emit(core.StreamChunk{Usage: &u}); err != nil {
				return nil, err
			}
		}

		if len(chunk.Choices) == 0 {
			continue
		}
		choice := chunk.Choices[0]

		if choice.Delta.Content != "" {
			content.WriteString(choice.Delta.Content)
			if err := emit(core.StreamChunk{ContentDelta: choice.Delta.Content}); err != nil {
				return nil, err
			}
		}

		for _, tc := range choice.Delta.ToolCalls {
			b, ok := builders[tc.Index]
			if !ok {
				b = &toolCallBuilder{}
				builders[tc.Index] = b
			}
			if tc.ID != "" {
				b.id = tc.ID
			}
			if tc.Function.Name != "" {
				b.name = tc.Function.Name
			}
			b.args.WriteString(tc.Function.Arguments)

			if err := emit(core.StreamChunk{ToolCallDelta: &core.ToolCallDelta{
				Index:          tc.Index,
				ID:             tc.ID,
				Name:           tc.Function.Name,
				ArgumentsDelta: tc.Function.Arguments,
			}}); err != nil {
				return nil, err
			}
		}

		if choice.FinishReason != "" {
			result.FinishReason = choice.FinishReason
		}
	}

	if !sawData {
		return nil, core.NewMalformedUpstreamError(providerType, "stream ended without any data events", nil)
	}

	result.Content = content.String()

	// Tool calls in index order, matching generation order.
	indices := make([]int, 0, len(builders))
	for i := range builders {
		indices = append(indices, i)
	}
	sort.Ints(indices)
	for _, i := range indices {
		b := builders[i]
		result.ToolCalls = append(result.ToolCalls, core.ToolCall{
			ID:        b.id,
			Name:      b.name,
			Arguments: b.args.String(),
		})
	}

	return result, nil
}
