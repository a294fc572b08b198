// interactive/interactive.go
package interactive

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"

	"github.com/sammcj/toolloop/bridge"
	"github.com/sammcj/toolloop/config"
	"github.com/sammcj/toolloop/types"
)

// Interactive is a line-oriented chat REPL. Only user and assistant text
// is kept between turns; tool traffic stays inside each chat.
type Interactive struct {
	logger  *log.Logger
	scanner *bufio.Reader
	out     io.Writer
	cfg     *config.Config
	bridge  *bridge.Bridge
	debug   bool
	history []types.Message
}

// New creates a REPL reading from in and writing to out
func New(cfg *config.Config, b *bridge.Bridge, in io.Reader, out io.Writer, logger *log.Logger) *Interactive {
	if logger == nil {
		logger = log.Default()
	}
	return &Interactive{
		scanner: bufio.NewReader(in),
		out:     out,
		logger:  logger,
		cfg:     cfg,
		bridge:  b,
		debug:   strings.ToLower(cfg.Logging.Level) == "debug",
	}
}

// Start runs until quit, exit, end of input or ctx is done
func (i *Interactive) Start(ctx context.Context) error {
	fmt.Fprintln(i.out, "\n=== Chat Interface Ready ===")
	fmt.Fprintln(i.out, "Type 'quit' or press Ctrl+C to exit, 'reset' to clear history")
	fmt.Fprintln(i.out, "Connected to model:", i.cfg.LLM.Model)
	fmt.Fprintf(i.out, "Using endpoint: %s\n", i.cfg.LLM.Endpoint)
	fmt.Fprintf(i.out, "Tools: %d\n", len(i.bridge.Tools()))
	fmt.Fprintln(i.out, "============================")

	for {
		if err := ctx.Err(); err != nil {
			return nil
		}

		fmt.Fprint(i.out, "\nYou: ")
		input, err := i.scanner.ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("failed to read input: %w", err)
		}
		eof := errors.Is(err, io.EOF)

		input = strings.TrimSpace(input)
		switch input {
		case "":
			if eof {
				fmt.Fprintln(i.out, "\nGoodbye!")
				return nil
			}
			continue
		case "quit", "exit":
			fmt.Fprintln(i.out, "Goodbye!")
			return nil
		case "reset":
			i.history = nil
			fmt.Fprintln(i.out, "History cleared.")
			continue
		}

		i.chat(ctx, input)
		if eof {
			return nil
		}
	}
}

func (i *Interactive) chat(ctx context.Context, input string) {
	if i.debug {
		i.logger.Printf("Sending message to bridge: %s", input)
	}

	seed := make([]types.Message, 0, len(i.history)+2)
	if i.cfg.LLM.SystemPrompt != "" {
		seed = append(seed, types.SystemMessage(i.cfg.LLM.SystemPrompt))
	}
	seed = append(seed, i.history...)
	seed = append(seed, types.UserMessage(input))

	result, err := i.bridge.Run(ctx, seed, bridge.ChatOptions(i.cfg)...)
	if err != nil {
		if i.debug {
			i.logger.Printf("Error from bridge: %v", err)
		}
		fmt.Fprintf(i.out, "\nError: %v\n", err)
		return
	}

	if !result.Exhausted {
		i.history = append(i.history, types.UserMessage(input), types.AssistantMessage(result.Answer, nil))
	}

	if result.Answer == "" {
		fmt.Fprintln(i.out, "\nNo response received.")
		return
	}
	fmt.Fprintf(i.out, "\nAssistant: %s\n", result.Answer)
}

// History returns the text turns kept so far
func (i *Interactive) History() []types.Message {
	out := make([]types.Message, len(i.history))
	copy(out, i.history)
	return out
}
