package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/sammcj/toolloop/bridge"
	"github.com/sammcj/toolloop/config"
	"github.com/sammcj/toolloop/interactive"
	"github.com/sammcj/toolloop/mcpserver"
	"github.com/sammcj/toolloop/server"
)

const version = "0.1.0"

func main() {
	configPath := flag.String("config", "", "path to config file (default ~/.config/toolloop/config.yaml)")
	mode := flag.String("mode", "", "interactive, server or mcp (default: server if enabled in config, else interactive)")
	locations := flag.String("tools", "", "comma separated tool locations, overriding tools.locations")
	flag.Parse()

	if err := run(*configPath, *mode, *locations); err != nil {
		log.Fatalf("Error: %v", err)
	}
}

func run(configPath, mode, locations string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if locations != "" {
		cfg.Tools.Locations = strings.Split(locations, ",")
	}
	if mode == "" {
		mode = "interactive"
		if cfg.Server.Enable {
			mode = "server"
		}
	}

	logger := newLogger(cfg, mode)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	b, err := bridge.FromConfig(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to create bridge: %w", err)
	}
	logger.Printf("Bridge ready: %s", b)

	switch mode {
	case "interactive":
		defer b.Close()
		return interactive.New(cfg, b, os.Stdin, os.Stdout, logger).Start(ctx)

	case "server":
		srv := server.New(cfg, b, logger)
		sm := server.NewShutdownManager(srv.HTTPServer(), logger, b)
		errCh := make(chan error, 1)
		go func() { errCh <- srv.Start() }()

		select {
		case err := <-errCh:
			b.Close()
			return err
		case <-ctx.Done():
			stop()
			return sm.HandleGracefulShutdown(ctx)
		}

	case "mcp":
		defer b.Close()
		return mcpserver.NewMCPServer("toolloop", version, b.Dispatcher(), logger).Serve()

	default:
		b.Close()
		return fmt.Errorf("unknown mode %q", mode)
	}
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}
	cfg, created, err := config.LoadOrCreate()
	if err != nil {
		return nil, err
	}
	if created {
		p, _ := config.GetConfigPath()
		log.Printf("Created default config at %s", p)
	}
	return cfg, nil
}

// newLogger writes to stderr; stdout carries the MCP protocol in mcp mode
func newLogger(cfg *config.Config, mode string) *log.Logger {
	var out io.Writer = os.Stderr
	if mode == "interactive" && cfg.Logging.Level != "debug" {
		out = io.Discard
	}
	return log.New(out, "toolloop: ", log.LstdFlags)
}
