package bridge

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/sammcj/toolloop/config"
	"github.com/sammcj/toolloop/llm"
	"github.com/sammcj/toolloop/registry"
	"github.com/sammcj/toolloop/tools"
	"github.com/sammcj/toolloop/tools/leakdetector"
	"github.com/sammcj/toolloop/types"
)

const (
	leakThreshold     = 5 * time.Minute
	leakCheckInterval = time.Minute
)

// FromConfig builds the model client, discovers the configured tool
// locations and wires them into a Bridge
func FromConfig(ctx context.Context, cfg *config.Config, logger *log.Logger) (*Bridge, error) {
	if logger == nil {
		logger = log.Default()
	}
	logger.Println("Creating new bridge...")

	policy, err := registry.ParseDuplicatePolicy(cfg.Tools.OnDuplicate)
	if err != nil {
		return nil, &types.ConfigError{Field: "tools.on_duplicate", Message: err.Error()}
	}
	nonFunction, err := ParseNonFunctionPolicy(cfg.Chat.NonFunctionCalls)
	if err != nil {
		return nil, &types.ConfigError{Field: "chat.non_function_calls", Message: err.Error()}
	}

	logger.Printf("Creating LLM client with endpoint: %s", cfg.LLM.Endpoint)
	client := llm.New(cfg.LLM, logger)
	client.SetVerbose(cfg.Logging.Level == "debug")

	catalog := tools.NewCatalog(cfg, logger)
	reg, err := registry.Discover(catalog.Locations(ctx), cfg.Tools.Locations, policy, logger)
	if err != nil {
		catalog.Close()
		return nil, &types.BridgeError{Operation: "discover_tools", Message: "failed to discover tools", Err: err}
	}
	logger.Printf("Registered %d tools", reg.Len())

	detector := leakdetector.New(logger, leakThreshold, leakCheckInterval)

	b := New(client, registry.NewDispatcher(reg, logger), logger,
		WithSystemPrompt(cfg.LLM.SystemPrompt),
		WithSampling(cfg.LLM.Temperature, cfg.LLM.MaxTokens),
		WithParallelTools(cfg.Chat.ParallelTools),
		WithRoundTimeout(cfg.RoundTimeout()),
		WithNonFunctionPolicy(nonFunction),
		WithTracker(detector),
		WithCloser(catalog),
		WithCloser(detector),
	)
	b.rediscover = func() error {
		if err := reg.Discover(catalog.Locations(ctx), cfg.Tools.Locations, logger); err != nil {
			return &types.BridgeError{Operation: "rediscover", Message: "failed to rediscover tools", Err: err}
		}
		return nil
	}

	logger.Println("Bridge instance created successfully")
	return b, nil
}

// ChatOptions returns the per-chat options configured in cfg
func ChatOptions(cfg *config.Config) []ChatOption {
	return []ChatOption{
		WithMaxRounds(cfg.Chat.MaxRounds),
		WithToolUse(cfg.Chat.UseTools),
	}
}

// String describes the bridge for startup logs
func (b *Bridge) String() string {
	return fmt.Sprintf("bridge(tools=%d, parallel=%t, round_timeout=%v)", len(b.Tools()), b.parallel, b.roundTimeout)
}
