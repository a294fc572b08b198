package bridge_test

import (
	"context"
	"errors"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/sammcj/toolloop/bridge"
	"github.com/sammcj/toolloop/config"
	"github.com/sammcj/toolloop/llm"
	"github.com/sammcj/toolloop/registry"
	"github.com/sammcj/toolloop/tools"
	"github.com/sammcj/toolloop/types"
	"github.com/stretchr/testify/require"
)

// scriptedModel replays canned responses, repeating the last one
type scriptedModel struct {
	mu        sync.Mutex
	responses []*types.LLMResponse
	err       error
	requests  []llm.ChatRequest
}

func (m *scriptedModel) Complete(ctx context.Context, req llm.ChatRequest) (*types.LLMResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.requests = append(m.requests, req)
	if m.err != nil {
		return nil, m.err
	}
	i := len(m.requests) - 1
	if i >= len(m.responses) {
		i = len(m.responses) - 1
	}
	return m.responses[i], nil
}

func quietLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func call(id, name, args string) types.ToolCall {
	return types.ToolCall{ID: id, Type: types.ToolCallTypeFunction, Function: types.FunctionCall{Name: name, Arguments: args}}
}

func toolTurn(calls ...types.ToolCall) *types.LLMResponse {
	return &types.LLMResponse{ToolCalls: calls, FinishReason: "tool_calls"}
}

func answer(text string) *types.LLMResponse {
	return &types.LLMResponse{Content: text, FinishReason: "stop"}
}

func dispatcher(t *testing.T, extra ...registry.Tool) *registry.Dispatcher {
	t.Helper()
	r := registry.New(registry.RejectDuplicates)
	r.MustRegister(tools.AddTool(), tools.WeatherTool())
	r.MustRegister(extra...)
	return registry.NewDispatcher(r, quietLogger())
}

func seed() []types.Message {
	return []types.Message{
		types.SystemMessage("You are a concise assistant."),
		types.UserMessage("What is 2 + 3?"),
	}
}

func TestRun_ExactTranscript(t *testing.T) {
	model := &scriptedModel{responses: []*types.LLMResponse{
		toolTurn(call("call_1", "add", `{"a": 2, "b": 3}`)),
		answer("2 + 3 = 5"),
	}}
	b := bridge.New(model, dispatcher(t), quietLogger())

	result, err := b.Run(context.Background(), seed())
	require.NoError(t, err)
	require.Equal(t, "2 + 3 = 5", result.Answer)
	require.Equal(t, 2, result.Rounds)
	require.False(t, result.Exhausted)
	require.NotEmpty(t, result.ID)

	want := append(seed(),
		types.AssistantMessage("", []types.ToolCall{call("call_1", "add", `{"a": 2, "b": 3}`)}),
		types.ToolMessage("call_1", "add", `{"sum":5}`),
		types.AssistantMessage("2 + 3 = 5", nil),
	)
	require.Equal(t, want, result.Messages)

	require.Len(t, model.requests, 2)
	require.Len(t, model.requests[0].Tools, 2)
	require.Equal(t, 0.2, model.requests[0].Temperature)
	require.Equal(t, 512, model.requests[0].MaxTokens)
	require.Equal(t, seed(), model.requests[0].Messages)
	require.Equal(t, want[:4], model.requests[1].Messages)
}

func TestRun_ExhaustsRoundBudget(t *testing.T) {
	model := &scriptedModel{responses: []*types.LLMResponse{
		toolTurn(call("call_1", "add", `{"a": 1, "b": 1}`)),
	}}
	b := bridge.New(model, dispatcher(t), quietLogger())

	got, err := b.ChatCompletion(context.Background(), nil, nil, []string{"loop forever"}, bridge.WithMaxRounds(1))
	require.NoError(t, err)
	require.Equal(t, bridge.ExhaustedAnswer, got)
	require.Len(t, model.requests, 1)

	result, err := b.Run(context.Background(), seed(), bridge.WithMaxRounds(3))
	require.NoError(t, err)
	require.True(t, result.Exhausted)
	require.Equal(t, 3, result.Rounds)
	require.Len(t, result.Messages, len(seed())+3*2)
}

func TestRun_MaxRoundsBelowOneMeansOne(t *testing.T) {
	model := &scriptedModel{responses: []*types.LLMResponse{answer("hi")}}
	b := bridge.New(model, dispatcher(t), quietLogger())

	got, err := b.ChatCompletion(context.Background(), nil, nil, []string{"hello"}, bridge.WithMaxRounds(0))
	require.NoError(t, err)
	require.Equal(t, "hi", got)
}

func TestRun_ParallelResultsKeepRequestOrder(t *testing.T) {
	fastDone := make(chan struct{})
	slow := registry.NewTool("slow", "Finishes last.", func(ctx context.Context, in struct{}) (interface{}, error) {
		select {
		case <-fastDone:
		case <-time.After(2 * time.Second):
			return nil, errors.New("fast tool never ran concurrently")
		}
		return "slow", nil
	})
	fast := registry.NewTool("fast", "Finishes first.", func(ctx context.Context, in struct{}) (interface{}, error) {
		close(fastDone)
		return "fast", nil
	})

	model := &scriptedModel{responses: []*types.LLMResponse{
		toolTurn(call("call_slow", "slow", ""), call("call_fast", "fast", "{}")),
		answer("done"),
	}}
	b := bridge.New(model, dispatcher(t, slow, fast), quietLogger(), bridge.WithParallelTools(true))

	result, err := b.Run(context.Background(), seed())
	require.NoError(t, err)

	tail := result.Messages[len(seed())+1 : len(seed())+3]
	require.Equal(t, []types.Message{
		types.ToolMessage("call_slow", "slow", `"slow"`),
		types.ToolMessage("call_fast", "fast", `"fast"`),
	}, tail)
}

func TestRun_ToolUseDisabledIgnoresCalls(t *testing.T) {
	var invoked bool
	spy := registry.NewTool("spy", "Records invocation.", func(ctx context.Context, in struct{}) (interface{}, error) {
		invoked = true
		return nil, nil
	})
	model := &scriptedModel{responses: []*types.LLMResponse{{
		Content:   "plain text",
		ToolCalls: []types.ToolCall{call("call_1", "spy", "{}")},
	}}}
	b := bridge.New(model, dispatcher(t, spy), quietLogger())

	result, err := b.Run(context.Background(), seed(), bridge.WithToolUse(false))
	require.NoError(t, err)
	require.Equal(t, "plain text", result.Answer)
	require.False(t, invoked)
	require.Nil(t, model.requests[0].Tools)
	require.Equal(t, types.AssistantMessage("plain text", nil), result.Messages[len(result.Messages)-1])
}

func TestRun_EmptyDescriptorSetDisablesTools(t *testing.T) {
	model := &scriptedModel{responses: []*types.LLMResponse{{
		Content:   "no tools here",
		ToolCalls: []types.ToolCall{call("call_1", "add", `{"a":1,"b":2}`)},
	}}}
	empty := registry.NewDispatcher(registry.New(registry.RejectDuplicates), quietLogger())
	b := bridge.New(model, empty, quietLogger())

	got, err := b.ChatCompletion(context.Background(), nil, nil, []string{"hi"})
	require.NoError(t, err)
	require.Equal(t, "no tools here", got)
	require.Empty(t, model.requests[0].Tools)
}

func TestRun_ToolFailuresBecomeErrorEnvelopes(t *testing.T) {
	fail := registry.NewTool("fail", "Always fails.", func(ctx context.Context, in struct{}) (interface{}, error) {
		return nil, errors.New("boom")
	})
	model := &scriptedModel{responses: []*types.LLMResponse{
		toolTurn(
			call("c1", "nope", "{}"),
			call("c2", "fail", "{}"),
			call("c3", "add", `{"a": 1,`),
			call("c4", "add", `{"a": 1}`),
			call("c5", "add", `{"a": 1, "b": 2}`),
		),
		answer("recovered"),
	}}
	b := bridge.New(model, dispatcher(t, fail), quietLogger())

	result, err := b.Run(context.Background(), seed())
	require.NoError(t, err)
	require.Equal(t, "recovered", result.Answer)

	toolMsgs := result.Messages[len(seed())+1 : len(seed())+6]
	require.Equal(t, `{"error":"Tool 'nope' not found."}`, toolMsgs[0].Content)
	require.Equal(t, `{"error":"Error executing tool 'fail': boom"}`, toolMsgs[1].Content)
	require.Contains(t, toolMsgs[2].Content, "malformed JSON arguments")
	require.Contains(t, toolMsgs[3].Content, "missing required field: b")
	require.Equal(t, `{"sum":3}`, toolMsgs[4].Content)
	for i, msg := range toolMsgs {
		require.Equal(t, types.RoleTool, msg.Role)
		require.Equal(t, model.responses[0].ToolCalls[i].ID, msg.ToolCallID)
	}
}

func TestRun_NonFunctionCalls(t *testing.T) {
	turn := toolTurn(
		types.ToolCall{ID: "c1", Type: "code_interpreter", Function: types.FunctionCall{Name: "python"}},
		call("c2", "add", `{"a": 1, "b": 2}`),
	)

	t.Run("skip", func(t *testing.T) {
		model := &scriptedModel{responses: []*types.LLMResponse{turn, answer("ok")}}
		b := bridge.New(model, dispatcher(t), quietLogger())

		result, err := b.Run(context.Background(), seed())
		require.NoError(t, err)
		require.Len(t, result.Messages, len(seed())+3)
		require.Equal(t, "c2", result.Messages[len(seed())+1].ToolCallID)
	})

	t.Run("reject", func(t *testing.T) {
		model := &scriptedModel{responses: []*types.LLMResponse{turn, answer("ok")}}
		b := bridge.New(model, dispatcher(t), quietLogger(), bridge.WithNonFunctionPolicy(bridge.RejectNonFunction))

		result, err := b.Run(context.Background(), seed())
		require.NoError(t, err)
		require.Len(t, result.Messages, len(seed())+4)
		rejected := result.Messages[len(seed())+1]
		require.Equal(t, "c1", rejected.ToolCallID)
		require.Equal(t, `{"error":"Unsupported tool call type 'code_interpreter'."}`, rejected.Content)
	})
}

func TestRun_SynthesizesMissingCallIDs(t *testing.T) {
	model := &scriptedModel{responses: []*types.LLMResponse{
		toolTurn(
			types.ToolCall{Function: types.FunctionCall{Name: "add", Arguments: `{"a": 1, "b": 2}`}},
			call("dup", "add", `{"a": 1, "b": 2}`),
			call("dup", "add", `{"a": 2, "b": 2}`),
		),
		answer("ok"),
	}}
	b := bridge.New(model, dispatcher(t), quietLogger())

	result, err := b.Run(context.Background(), seed())
	require.NoError(t, err)

	assistant := result.Messages[len(seed())]
	ids := map[string]bool{}
	for i, c := range assistant.ToolCalls {
		require.NotEmpty(t, c.ID)
		ids[c.ID] = true
		require.Equal(t, c.ID, result.Messages[len(seed())+1+i].ToolCallID)
	}
	require.Len(t, ids, 3)
	require.Regexp(t, `^call_`, assistant.ToolCalls[0].ID)
}

func TestRun_ModelFailurePropagates(t *testing.T) {
	t.Run("plain error is wrapped", func(t *testing.T) {
		model := &scriptedModel{err: errors.New("connection refused")}
		b := bridge.New(model, dispatcher(t), quietLogger())

		_, err := b.ChatCompletion(context.Background(), nil, nil, []string{"hi"})
		require.ErrorIs(t, err, types.ErrLLMResponse)
		require.ErrorContains(t, err, "connection refused")
	})

	t.Run("llm error is kept", func(t *testing.T) {
		orig := &types.LLMError{Operation: "response", Message: "unexpected status code: 500", StatusCode: 500}
		model := &scriptedModel{err: orig}
		b := bridge.New(model, dispatcher(t), quietLogger())

		_, err := b.Run(context.Background(), seed())
		var llmErr *types.LLMError
		require.ErrorAs(t, err, &llmErr)
		require.Same(t, orig, llmErr)
	})
}

// blockingModel waits for its context to end
type blockingModel struct{}

func (blockingModel) Complete(ctx context.Context, req llm.ChatRequest) (*types.LLMResponse, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestRun_RoundTimeout(t *testing.T) {
	b := bridge.New(blockingModel{}, dispatcher(t), quietLogger(), bridge.WithRoundTimeout(20*time.Millisecond))

	_, err := b.Run(context.Background(), seed())
	require.ErrorIs(t, err, types.ErrRoundTimeout)
	require.ErrorIs(t, err, types.ErrBridge)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRun_RoundTimeoutDuringTools(t *testing.T) {
	sleepy := registry.NewTool("sleepy", "Sleeps past the deadline.", func(ctx context.Context, in struct{}) (interface{}, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	model := &scriptedModel{responses: []*types.LLMResponse{toolTurn(call("c1", "sleepy", "{}"))}}
	b := bridge.New(model, dispatcher(t, sleepy), quietLogger(), bridge.WithRoundTimeout(20*time.Millisecond))

	_, err := b.Run(context.Background(), seed())
	require.ErrorIs(t, err, types.ErrRoundTimeout)
	require.Len(t, model.requests, 1)
}

func TestRun_RoundTimeoutAbandonsToolIgnoringContext(t *testing.T) {
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })

	stuck := registry.NewTool("stuck", "Ignores cancellation.", func(ctx context.Context, in struct{}) (interface{}, error) {
		<-release
		return "late", nil
	})
	model := &scriptedModel{responses: []*types.LLMResponse{toolTurn(call("c1", "stuck", "{}")), answer("never")}}
	b := bridge.New(model, dispatcher(t, stuck), quietLogger(), bridge.WithRoundTimeout(20*time.Millisecond))

	start := time.Now()
	res, err := b.Run(context.Background(), seed())
	require.Nil(t, res)
	require.ErrorIs(t, err, types.ErrRoundTimeout)
	require.Less(t, time.Since(start), time.Second)
	require.Len(t, model.requests, 1)
}

// stubbornModel blocks until released, whatever its context says
type stubbornModel struct {
	release chan struct{}
}

func (m stubbornModel) Complete(ctx context.Context, req llm.ChatRequest) (*types.LLMResponse, error) {
	<-m.release
	return answer("late"), nil
}

func TestRun_RoundTimeoutAbandonsModelIgnoringContext(t *testing.T) {
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })
	b := bridge.New(stubbornModel{release: release}, dispatcher(t), quietLogger(), bridge.WithRoundTimeout(20*time.Millisecond))

	start := time.Now()
	_, err := b.Run(context.Background(), seed())
	require.ErrorIs(t, err, types.ErrRoundTimeout)
	require.Less(t, time.Since(start), time.Second)
}

func TestRun_ParentCancellationAbandonsStuckModel(t *testing.T) {
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	b := bridge.New(stubbornModel{release: release}, dispatcher(t), quietLogger())

	_, err := b.Run(ctx, seed())
	require.ErrorIs(t, err, types.ErrLLMResponse)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.NotErrorIs(t, err, types.ErrRoundTimeout)
}

func TestRun_NilModelResponseIsAnLLMError(t *testing.T) {
	model := &scriptedModel{responses: []*types.LLMResponse{nil}}
	b := bridge.New(model, dispatcher(t), quietLogger())

	_, err := b.Run(context.Background(), seed())
	require.ErrorIs(t, err, types.ErrLLMResponse)
	require.ErrorContains(t, err, "empty response")
}

func TestRun_ParentCancellationIsNotATimeout(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	b := bridge.New(blockingModel{}, dispatcher(t), quietLogger(), bridge.WithRoundTimeout(time.Minute))

	_, err := b.Run(ctx, seed())
	require.ErrorIs(t, err, context.Canceled)
	require.ErrorIs(t, err, types.ErrLLMResponse)
	require.NotErrorIs(t, err, types.ErrRoundTimeout)
}

func TestRun_InvalidSeed(t *testing.T) {
	b := bridge.New(&scriptedModel{}, dispatcher(t), quietLogger())

	_, err := b.Run(context.Background(), []types.Message{types.ToolMessage("orphan", "add", "{}")})
	require.ErrorIs(t, err, types.ErrBridge)
}

func TestChatCompletion_SeedsBucketsInOrder(t *testing.T) {
	model := &scriptedModel{responses: []*types.LLMResponse{answer("ok")}}
	b := bridge.New(model, dispatcher(t), quietLogger(), bridge.WithSystemPrompt("default system"))

	_, err := b.ChatCompletion(context.Background(), []string{"sys"}, []string{"dev"}, []string{"u1", "u2"})
	require.NoError(t, err)
	require.Equal(t, []types.Message{
		types.SystemMessage("sys"),
		types.DeveloperMessage("dev"),
		types.UserMessage("u1"),
		types.UserMessage("u2"),
	}, model.requests[0].Messages)

	_, err = b.ChatCompletion(context.Background(), nil, nil, []string{"u"})
	require.NoError(t, err)
	require.Equal(t, types.SystemMessage("default system"), model.requests[1].Messages[0])
}

func TestWithTools_RestrictsAdvertisedSet(t *testing.T) {
	model := &scriptedModel{responses: []*types.LLMResponse{answer("ok")}}
	b := bridge.New(model, dispatcher(t), quietLogger(), bridge.WithTools(tools.AddTool().Spec))

	_, err := b.Run(context.Background(), seed())
	require.NoError(t, err)
	require.Len(t, model.requests[0].Tools, 1)
	require.Equal(t, "add", model.requests[0].Tools[0].Name)
}

type countingTracker struct {
	mu     sync.Mutex
	labels []string
	open   int
}

func (c *countingTracker) Track(label string) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.labels = append(c.labels, label)
	c.open++
	return uint64(len(c.labels))
}

func (c *countingTracker) Done(id uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.open--
}

func TestRun_TracksToolExecutions(t *testing.T) {
	tracker := &countingTracker{}
	model := &scriptedModel{responses: []*types.LLMResponse{
		toolTurn(call("c1", "add", `{"a":1,"b":1}`), call("c2", "get_weather", `{"city":"Calgary"}`)),
		answer("ok"),
	}}
	b := bridge.New(model, dispatcher(t), quietLogger(), bridge.WithTracker(tracker), bridge.WithParallelTools(true))

	_, err := b.Run(context.Background(), seed())
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"tool:add", "tool:get_weather"}, tracker.labels)
	require.Zero(t, tracker.open)
}

func TestFromConfig_DiscoversBuiltinTools(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Tools.Locations = []string{"builtin", "unknown"}

	b, err := bridge.FromConfig(context.Background(), cfg, quietLogger())
	require.NoError(t, err)
	defer b.Close()

	names := []string{}
	for _, spec := range b.Tools() {
		names = append(names, spec.Name)
	}
	require.Equal(t, []string{"add", "get_weather", "time"}, names)
	require.NoError(t, b.Rediscover())
	require.Contains(t, b.String(), "tools=3")
	require.Len(t, bridge.ChatOptions(cfg), 2)
}

func TestFromConfig_BadLocationFails(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Tools.Locations = []string{"database"}
	cfg.Database.Path = t.TempDir() + "/missing/dir/test.db"

	_, err := bridge.FromConfig(context.Background(), cfg, quietLogger())
	require.ErrorIs(t, err, types.ErrBridge)
}

func TestRediscover_WithoutCatalog(t *testing.T) {
	b := bridge.New(&scriptedModel{}, dispatcher(t), quietLogger())
	require.ErrorIs(t, b.Rediscover(), types.ErrBridge)
}
