package orchestrator

import (
	"context"
	"time"

	"github.com/tidwall/gjson"
	"golang.org/x/sync/errgroup"

	"llmgate/internal/core"
	"llmgate/internal/stream"
)

// ToolExecutor runs one tool call on behalf of an exchange. Implementations
// are supplied by the embedding application; the gateway never interprets
// results, it only folds them back into the conversation.
//
// A returned error does not abort the exchange. The error text is recorded
// as the tool's result so the model can react to the failure.
type ToolExecutor interface {
	Execute(ctx context.Context, name string, arguments string) (string, error)
}

// ToolExecutorFunc adapts a function to the ToolExecutor interface.
type ToolExecutorFunc func(ctx context.Context, name string, arguments string) (string, error)

func (f ToolExecutorFunc) Execute(ctx context.Context, name string, arguments string) (string, error) {
	return f(ctx, name, arguments)
}

// NormalizeArguments canonicalizes a tool-call argument payload. Some models
// wrap the argument object in a single "input" envelope; executors see the
// flattened object either way. Invalid JSON becomes an empty object so
// executors can rely on parseable input.
func NormalizeArguments(args string) string {
	if args == "" || !gjson.Valid(args) {
		return "{}"
	}
	parsed := gjson.Parse(args)
	if !parsed.IsObject() {
		return "{}"
	}

	inner := parsed.Get("input")
	if inner.Exists() && inner.IsObject() {
		sole := true
		parsed.ForEach(func(key, _ gjson.Result) bool {
			if key.String() != "input" {
				sole = false
				return false
			}
			return true
		})
		if sole {
			return inner.Raw
		}
	}
	return args
}

// dispatchTools executes the iteration's tool calls concurrently and returns
// their results as conversation messages in the original call order. Started
// events are emitted before any execution begins and finished events after
// all complete, so the event stream stays deterministic regardless of which
// call returns first.
func (o *Orchestrator) dispatchTools(ctx context.Context, ex *exchange, em *stream.Emitter, iteration int, calls []core.ToolCall) ([]core.Message, error) {
	invocations := make([]ToolInvocation, len(calls))

	for _, call := range calls {
		payload := stream.ToolExecutionPayload{CallID: call.ID, Tool: call.Name, Status: "running"}
		if err := o.emit(ctx, em, stream.Event{
			Type:      stream.EventToolExecutionStarted,
			Iteration: iteration,
			Payload:   payload,
		}); err != nil {
			return nil, err
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.cfg.ToolConcurrency)
	for i, call := range calls {
		g.Go(func() error {
			inv := ToolInvocation{
				CallID:    call.ID,
				Tool:      call.Name,
				Arguments: NormalizeArguments(call.Arguments),
				StartedAt: o.now(),
			}
			result, err := o.executeOne(gctx, ex.executor, inv.Tool, inv.Arguments)
			inv.DurationMs = o.now().Sub(inv.StartedAt).Milliseconds()
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				inv.Error = err.Error()
				inv.Result = err.Error()
			} else {
				inv.Result = result
			}
			invocations[i] = inv
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	messages := make([]core.Message, 0, len(calls))
	for i, inv := range invocations {
		status := "completed"
		if inv.Error != "" {
			status = "error"
		}
		if err := o.emit(ctx, em, stream.Event{
			Type:      stream.EventToolExecutionFinished,
			Iteration: iteration,
			Payload: stream.ToolExecutionPayload{
				CallID:     inv.CallID,
				Tool:       inv.Tool,
				Status:     status,
				Error:      inv.Error,
				DurationMs: inv.DurationMs,
			},
		}); err != nil {
			return nil, err
		}

		messages = append(messages, core.Message{
			Role:       core.RoleTool,
			Name:       inv.Tool,
			ToolCallID: calls[i].ID,
			Content:    inv.Result,
		})
		ex.invocations = append(ex.invocations, inv)
	}
	return messages, nil
}

// executeOne runs a single tool call, converting executor panics into tool
// execution errors so a misbehaving tool cannot take down the exchange.
func (o *Orchestrator) executeOne(ctx context.Context, executor ToolExecutor, name, arguments string) (result string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = core.NewToolExecutionError(name, "tool executor panicked", nil)
		}
	}()

	start := o.now()
	result, err = executor.Execute(ctx, name, arguments)
	if err != nil {
		o.log.WarnContext(ctx, "tool execution failed",
			"tool", name,
			"duration", time.Since(start),
			"error", err,
		)
		return "", core.NewToolExecutionError(name, err.Error(), err)
	}
	return result, nil
}
