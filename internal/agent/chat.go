package agent

import (
	"context"
	"log/slog"
	"sync"

	"courier/internal/history"
	"courier/internal/llm"
	"courier/internal/trace"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/responses"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"
)

// chat drives one conversation: each prompt loops think/act turns against
// the LLM until the model stops asking for tools, persisting the finished
// turn so the next prompt in the session sees the full history.
type chat struct {
	sessionID string
	profile   *Profile
	provider  llm.Provider
	store     *history.Store
	registry  *Registry
	tools     []responses.ToolUnionParam
}

func newChat(sessionID string, profile *Profile, provider llm.Provider, store *history.Store, registry *Registry) *chat {
	c := &chat{
		sessionID: sessionID,
		profile:   profile,
		provider:  provider,
		store:     store,
		registry:  registry,
	}

	for _, t := range registry.All() {
		schema, _ := t.InputSchema().(map[string]any)
		c.tools = append(c.tools, responses.ToolUnionParam{
			OfFunction: &responses.FunctionToolParam{
				Name:        t.Name(),
				Description: openai.String(t.Description()),
				Parameters:  schema,
				Strict:      openai.Bool(true),
			},
		})
	}

	return c
}

func (c *chat) Send(ctx context.Context, message string) (string, error) {
	resp, err := c.run(ctx, message, func(Event) {})
	if err != nil {
		return "", err
	}
	return resp.OutputText(), nil
}

func (c *chat) Stream(ctx context.Context, message string, emit func(Event)) error {
	_, err := c.run(ctx, message, emit)
	return err
}

func (c *chat) run(ctx context.Context, message string, emit func(Event)) (*responses.Response, error) {
	ctx = ContextWithSessionID(ctx, c.sessionID)
	ctx = ContextWithEmit(ctx, emit)

	truncatedMsg := message
	if len(truncatedMsg) > 200 {
		truncatedMsg = truncatedMsg[:200]
	}
	ctx, span := trace.Tracer().Start(ctx, "agent.chat.run",
		oteltrace.WithAttributes(
			attribute.String("agent.name", c.profile.ID),
			attribute.String("session.id", c.sessionID),
			attribute.String("user.message", truncatedMsg),
		),
	)
	defer span.End()

	if err := c.store.EnsureSession(ctx, c.sessionID, c.profile.ID); err != nil {
		slog.Warn("failed to ensure session", "session_id", c.sessionID, "error", err)
	}

	input, err := c.store.LoadInputHistory(ctx, c.sessionID)
	if err != nil {
		slog.Warn("failed to load history", "session_id", c.sessionID, "error", err)
		input = nil
	}
	slog.Debug("chat: history loaded", "session_id", c.sessionID, "history_items", len(input))

	input = append(input,
		responses.ResponseInputItemParamOfMessage(c.profile.SystemPrompt, "developer"),
		responses.ResponseInputItemParamOfMessage(message, "user"),
	)

	resp, err := c.loop(ctx, input, emit)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	if err := c.store.SaveTurn(ctx, c.sessionID, message, resp); err != nil {
		slog.Warn("failed to save turn", "session_id", c.sessionID, "error", err)
	}

	return resp, nil
}

// loop is the think/act cycle. Each iteration is one LLM call; token deltas
// stream out as content events. Tool failures go back into context so the
// next iteration can reason about them. The loop exits when the model
// returns no tool calls or the context is cancelled.
func (c *chat) loop(ctx context.Context, input []responses.ResponseInputItemUnionParam, emit func(Event)) (*responses.Response, error) {
	var resp *responses.Response
	iteration := 0

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		llmCtx, llmSpan := trace.Tracer().Start(ctx, "llm.chat",
			oteltrace.WithAttributes(attribute.Int("llm.iteration", iteration)),
		)

		var err error
		resp, err = c.provider.ChatStream(llmCtx, input, c.tools, func(token string) {
			emit(Event{Type: EventContent, Content: token})
		})
		if err != nil {
			llmSpan.RecordError(err)
			llmSpan.SetStatus(codes.Error, err.Error())
			llmSpan.End()
			return nil, err
		}

		llmSpan.SetAttributes(
			attribute.String("llm.model", string(resp.Model)),
			attribute.Int64("llm.input_tokens", resp.Usage.InputTokens),
			attribute.Int64("llm.output_tokens", resp.Usage.OutputTokens),
		)
		llmSpan.End()
		iteration++

		// Feed the model's output back into context.
		input = append(input, history.OutputToInput(resp.Output)...)

		var calls []responses.ResponseOutputItemUnion
		for _, item := range resp.Output {
			if item.Type == "function_call" {
				calls = append(calls, item)
			}
		}

		// No tool calls: the model considers the turn done.
		if len(calls) == 0 {
			return resp, nil
		}

		results := c.act(ctx, calls, emit)
		input = append(input, results...)
	}
}

// act executes tool calls in parallel, emitting a tool_call event for each,
// and returns the results formatted as input items for the next LLM turn.
func (c *chat) act(ctx context.Context, calls []responses.ResponseOutputItemUnion, emit func(Event)) []responses.ResponseInputItemUnionParam {
	for _, call := range calls {
		fc := call.AsFunctionCall()
		emit(Event{Type: EventToolCall, Tool: fc.Name, Arguments: fc.Arguments})
	}

	var wg sync.WaitGroup
	results := make([]responses.ResponseInputItemUnionParam, len(calls))

	for i, call := range calls {
		wg.Add(1)
		go func(i int, call responses.ResponseOutputItemUnion) {
			defer wg.Done()
			fc := call.AsFunctionCall()

			tool, ok := c.registry.Get(fc.Name)
			if !ok {
				slog.Warn("unknown tool call", "name", fc.Name)
				results[i] = responses.ResponseInputItemParamOfFunctionCallOutput(fc.CallID, "error: unknown tool")
				return
			}

			result, err := withTrace(tool).Execute(ctx, fc.Arguments)
			if err != nil {
				slog.Warn("tool execution failed", "name", fc.Name, "error", err)
				results[i] = responses.ResponseInputItemParamOfFunctionCallOutput(fc.CallID, "error: "+err.Error())
				return
			}

			results[i] = responses.ResponseInputItemParamOfFunctionCallOutput(fc.CallID, result)
		}(i, call)
	}

	wg.Wait()
	return results
}
