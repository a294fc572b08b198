// Package bridge runs the conversation loop between a chat model and the
// tool dispatcher.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/sammcj/toolloop/llm"
	"github.com/sammcj/toolloop/registry"
	"github.com/sammcj/toolloop/types"
	"github.com/sourcegraph/conc/iter"
)

const (
	// ExhaustedAnswer is returned when the round budget runs out
	ExhaustedAnswer = "Hit max_rounds without a final answer."

	// DefaultMaxRounds bounds a chat when the caller does not
	DefaultMaxRounds = 3

	defaultTemperature = 0.2
	defaultMaxTokens   = 512
)

// Model is the remote chat completion call
type Model interface {
	Complete(ctx context.Context, req llm.ChatRequest) (*types.LLMResponse, error)
}

// Tracker observes tool executions while they run
type Tracker interface {
	Track(label string) uint64
	Done(id uint64)
}

// NonFunctionPolicy decides what happens to tool calls whose type is not "function"
type NonFunctionPolicy int

const (
	// SkipNonFunction drops the call without a tool message
	SkipNonFunction NonFunctionPolicy = iota
	// RejectNonFunction answers the call with an error envelope
	RejectNonFunction
)

// ParseNonFunctionPolicy maps the config spelling onto a policy
func ParseNonFunctionPolicy(s string) (NonFunctionPolicy, error) {
	switch s {
	case "", "skip":
		return SkipNonFunction, nil
	case "reject":
		return RejectNonFunction, nil
	default:
		return SkipNonFunction, fmt.Errorf("unknown non-function policy %q", s)
	}
}

// Bridge manages communication between the model and the tools
type Bridge struct {
	model        Model
	dispatcher   *registry.Dispatcher
	logger       *log.Logger
	tools        []mcp.Tool
	toolsSet     bool
	systemPrompt string
	temperature  float64
	maxTokens    int
	parallel     bool
	roundTimeout time.Duration
	nonFunction  NonFunctionPolicy
	tracker      Tracker
	closers      []io.Closer
	rediscover   func() error
}

// Option configures a Bridge
type Option func(*Bridge)

// WithTools advertises exactly these descriptors instead of the whole registry
func WithTools(tools ...mcp.Tool) Option {
	return func(b *Bridge) {
		b.tools = tools
		b.toolsSet = true
	}
}

// WithSampling sets the temperature and output bound sent with every call
func WithSampling(temperature float64, maxTokens int) Option {
	return func(b *Bridge) {
		b.temperature = temperature
		b.maxTokens = maxTokens
	}
}

// WithParallelTools runs the calls of one assistant turn concurrently
func WithParallelTools(enabled bool) Option {
	return func(b *Bridge) {
		b.parallel = enabled
	}
}

// WithRoundTimeout bounds each round; zero means no deadline
func WithRoundTimeout(d time.Duration) Option {
	return func(b *Bridge) {
		b.roundTimeout = d
	}
}

// WithNonFunctionPolicy sets how non-function tool calls are handled
func WithNonFunctionPolicy(p NonFunctionPolicy) Option {
	return func(b *Bridge) {
		b.nonFunction = p
	}
}

// WithTracker reports every tool execution to t
func WithTracker(t Tracker) Option {
	return func(b *Bridge) {
		b.tracker = t
	}
}

// WithSystemPrompt seeds ChatCompletion when the caller passes no system messages
func WithSystemPrompt(prompt string) Option {
	return func(b *Bridge) {
		b.systemPrompt = prompt
	}
}

// WithCloser registers a resource released by Close
func WithCloser(c io.Closer) Option {
	return func(b *Bridge) {
		b.closers = append(b.closers, c)
	}
}

// New creates a Bridge over model and dispatcher
func New(model Model, dispatcher *registry.Dispatcher, logger *log.Logger, opts ...Option) *Bridge {
	if logger == nil {
		logger = log.Default()
	}
	b := &Bridge{
		model:       model,
		dispatcher:  dispatcher,
		logger:      logger,
		temperature: defaultTemperature,
		maxTokens:   defaultMaxTokens,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Dispatcher returns the dispatcher used for tool calls
func (b *Bridge) Dispatcher() *registry.Dispatcher {
	return b.dispatcher
}

// Tools returns the descriptors advertised to the model
func (b *Bridge) Tools() []mcp.Tool {
	if b.toolsSet {
		return b.tools
	}
	if b.dispatcher == nil {
		return nil
	}
	return b.dispatcher.GetToolSchema()
}

// Rediscover reloads the tool registry when the bridge was built from config
func (b *Bridge) Rediscover() error {
	if b.rediscover == nil {
		return &types.BridgeError{Operation: "rediscover", Message: "bridge has no tool catalog"}
	}
	return b.rediscover()
}

// ChatOption configures a single chat
type ChatOption func(*chatSettings)

type chatSettings struct {
	maxRounds int
	useTools  bool
}

// WithMaxRounds bounds the number of model calls; values below 1 mean 1
func WithMaxRounds(n int) ChatOption {
	return func(s *chatSettings) {
		s.maxRounds = n
	}
}

// WithToolUse enables or disables tool calling for this chat
func WithToolUse(enabled bool) ChatOption {
	return func(s *chatSettings) {
		s.useTools = enabled
	}
}

// Result is the outcome of one chat
type Result struct {
	ID        string
	Answer    string
	Messages  []types.Message
	Rounds    int
	Exhausted bool
}

// ChatCompletion seeds a conversation from the three message buckets and
// returns the final answer, or ExhaustedAnswer
func (b *Bridge) ChatCompletion(ctx context.Context, system, developer, user []string, opts ...ChatOption) (string, error) {
	if len(system) == 0 && b.systemPrompt != "" {
		system = []string{b.systemPrompt}
	}

	seed := make([]types.Message, 0, len(system)+len(developer)+len(user))
	for _, s := range system {
		seed = append(seed, types.SystemMessage(s))
	}
	for _, d := range developer {
		seed = append(seed, types.DeveloperMessage(d))
	}
	for _, u := range user {
		seed = append(seed, types.UserMessage(u))
	}

	result, err := b.Run(ctx, seed, opts...)
	if err != nil {
		return "", err
	}
	return result.Answer, nil
}

// Run drives the round loop over a copy of seed
func (b *Bridge) Run(ctx context.Context, seed []types.Message, opts ...ChatOption) (*Result, error) {
	settings := chatSettings{maxRounds: DefaultMaxRounds, useTools: true}
	for _, opt := range opts {
		opt(&settings)
	}
	if settings.maxRounds < 1 {
		settings.maxRounds = 1
	}

	conv, err := NewConversation(seed)
	if err != nil {
		return nil, &types.BridgeError{Operation: "seed", Message: "invalid seed messages", Err: err}
	}

	var tools []mcp.Tool
	if settings.useTools {
		tools = b.Tools()
	}

	id := uuid.NewString()
	b.logger.Printf("[%s] Starting chat with %d seed messages, %d tools, max_rounds=%d", id, conv.Len(), len(tools), settings.maxRounds)

	for round := 1; round <= settings.maxRounds; round++ {
		b.logger.Printf("[%s] Round %d/%d", id, round, settings.maxRounds)

		answer, done, err := b.runRound(ctx, id, round, conv, tools)
		if err != nil {
			b.logger.Printf("[%s] Round %d failed: %v", id, round, err)
			return nil, err
		}
		if done {
			b.logger.Printf("[%s] Final answer after %d rounds", id, round)
			return &Result{ID: id, Answer: answer, Messages: conv.Messages(), Rounds: round}, nil
		}
	}

	b.logger.Printf("[%s] WARNING: hit max_rounds (%d) without a final answer", id, settings.maxRounds)
	return &Result{
		ID:        id,
		Answer:    ExhaustedAnswer,
		Messages:  conv.Messages(),
		Rounds:    settings.maxRounds,
		Exhausted: true,
	}, nil
}

// runRound performs one model call and resolves its tool calls. done is
// true when the model produced a final answer.
func (b *Bridge) runRound(ctx context.Context, id string, round int, conv *Conversation, tools []mcp.Tool) (string, bool, error) {
	roundCtx := ctx
	if b.roundTimeout > 0 {
		var cancel context.CancelFunc
		roundCtx, cancel = context.WithTimeout(ctx, b.roundTimeout)
		defer cancel()
	}

	req := llm.ChatRequest{
		Messages:    conv.Messages(),
		Tools:       tools,
		Temperature: b.temperature,
		MaxTokens:   b.maxTokens,
	}
	type completion struct {
		resp *types.LLMResponse
		err  error
	}
	out, finished := await(roundCtx, func() completion {
		resp, err := b.model.Complete(roundCtx, req)
		return completion{resp, err}
	})
	if !finished {
		if timeoutErr := b.roundTimedOut(ctx, roundCtx, round); timeoutErr != nil {
			return "", false, timeoutErr
		}
		return "", false, &types.LLMError{Operation: "chat_completion", Message: "model call abandoned", Err: roundCtx.Err()}
	}
	resp, err := out.resp, out.err
	if err != nil {
		if timeoutErr := b.roundTimedOut(ctx, roundCtx, round); timeoutErr != nil {
			return "", false, timeoutErr
		}
		var llmErr *types.LLMError
		if !errors.As(err, &llmErr) {
			err = &types.LLMError{Operation: "chat_completion", Message: "model call failed", Err: err}
		}
		return "", false, err
	}
	if resp == nil {
		return "", false, &types.LLMError{Operation: "chat_completion", Message: "empty response"}
	}

	// Without advertised tools any requested calls are ignored
	if len(tools) == 0 || len(resp.ToolCalls) == 0 {
		if err := conv.Append(types.AssistantMessage(resp.Content, nil)); err != nil {
			return "", false, &types.BridgeError{Operation: "append", Message: "failed to record answer", Err: err}
		}
		return resp.Content, true, nil
	}

	calls := make([]types.ToolCall, len(resp.ToolCalls))
	copy(calls, resp.ToolCalls)
	seen := make(map[string]bool, len(calls))
	for i := range calls {
		if calls[i].ID == "" || seen[calls[i].ID] {
			calls[i].ID = "call_" + uuid.NewString()
		}
		seen[calls[i].ID] = true
	}
	if err := conv.Append(types.AssistantMessage(resp.Content, calls)); err != nil {
		return "", false, &types.BridgeError{Operation: "append", Message: "failed to record tool calls", Err: err}
	}
	b.logger.Printf("[%s] Processing %d tool calls", id, len(calls))

	results, finished := await(roundCtx, func() []*types.Message {
		return b.executeCalls(roundCtx, id, calls)
	})
	if !finished {
		if timeoutErr := b.roundTimedOut(ctx, roundCtx, round); timeoutErr != nil {
			return "", false, timeoutErr
		}
		return "", false, &types.BridgeError{Operation: "round", Message: fmt.Sprintf("round %d cancelled", round), Err: roundCtx.Err()}
	}

	for _, msg := range results {
		if msg == nil {
			continue
		}
		if err := conv.Append(*msg); err != nil {
			return "", false, &types.BridgeError{Operation: "append", Message: "failed to record tool result", Err: err}
		}
	}

	if timeoutErr := b.roundTimedOut(ctx, roundCtx, round); timeoutErr != nil {
		return "", false, timeoutErr
	}
	return "", false, nil
}

// await runs fn and stops waiting once ctx is done. A late result is
// dropped.
func await[T any](ctx context.Context, fn func() T) (T, bool) {
	ch := make(chan T, 1)
	go func() { ch <- fn() }()

	select {
	case v := <-ch:
		return v, true
	case <-ctx.Done():
		// Prefer a result that raced the deadline
		select {
		case v := <-ch:
			return v, true
		default:
		}
		var zero T
		return zero, false
	}
}

// roundTimedOut reports a round deadline, but not a cancelled parent
func (b *Bridge) roundTimedOut(ctx, roundCtx context.Context, round int) error {
	if b.roundTimeout <= 0 || ctx.Err() != nil || !errors.Is(roundCtx.Err(), context.DeadlineExceeded) {
		return nil
	}
	return &types.BridgeError{
		Operation: "round",
		Message:   fmt.Sprintf("round %d exceeded %v", round, b.roundTimeout),
		Err:       fmt.Errorf("%w: %w", types.ErrRoundTimeout, context.DeadlineExceeded),
	}
}

// executeCalls resolves every call and returns the tool messages in request
// order; skipped calls leave a nil entry
func (b *Bridge) executeCalls(ctx context.Context, id string, calls []types.ToolCall) []*types.Message {
	if b.parallel && len(calls) > 1 {
		mapper := iter.Mapper[types.ToolCall, *types.Message]{MaxGoroutines: len(calls)}
		return mapper.Map(calls, func(call *types.ToolCall) *types.Message {
			return b.executeCall(ctx, id, *call)
		})
	}

	out := make([]*types.Message, len(calls))
	for i, call := range calls {
		out[i] = b.executeCall(ctx, id, call)
	}
	return out
}

func (b *Bridge) executeCall(ctx context.Context, id string, call types.ToolCall) *types.Message {
	if call.Type != "" && call.Type != types.ToolCallTypeFunction {
		if b.nonFunction == SkipNonFunction {
			b.logger.Printf("[%s] Skipping tool call %s of type %q", id, call.ID, call.Type)
			return nil
		}
		msg := types.ToolMessage(call.ID, call.Function.Name,
			errorEnvelope(fmt.Sprintf("Unsupported tool call type '%s'.", call.Type)))
		return &msg
	}

	if b.tracker != nil {
		trackID := b.tracker.Track("tool:" + call.Function.Name)
		defer b.tracker.Done(trackID)
	}

	var content string
	result, err := b.dispatcher.Invoke(ctx, call)
	if err != nil {
		content = errorEnvelope(err.Error())
	} else {
		data, err := json.Marshal(result)
		if err != nil {
			content = errorEnvelope(fmt.Sprintf("failed to encode result of '%s': %v", call.Function.Name, err))
		} else {
			content = string(data)
		}
	}

	msg := types.ToolMessage(call.ID, call.Function.Name, content)
	return &msg
}

// errorEnvelope is the tool message content reported for a failed call
func errorEnvelope(msg string) string {
	data, _ := json.Marshal(map[string]string{"error": msg})
	return string(data)
}

// Close releases the resources registered with the bridge
func (b *Bridge) Close() error {
	var errs []error
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	b.closers = nil
	return errors.Join(errs...)
}
